package main

import (
	"github.com/spf13/cobra"

	"github.com/vango-dev/mushroom/internal/config"
)

func configCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long: `Print the configuration runserver would use: the project's
mushroom.json or mushroom.yaml with environment overrides and defaults
applied.

Examples:
  mushroom config
  mushroom config --format=yaml
  MUSHROOM_PORT=9000 mushroom config`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOrDefault()
			if err != nil {
				return err
			}
			data, err := cfg.Marshal(format)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "json", "Output format (json or yaml)")
	return cmd
}
