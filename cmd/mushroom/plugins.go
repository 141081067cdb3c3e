package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vango-dev/mushroom/internal/config"
	"github.com/vango-dev/mushroom/internal/errors"
	"github.com/vango-dev/mushroom/pkg/dispatch"
	"github.com/vango-dev/mushroom/pkg/plugin"
)

func pluginsCmd() *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "plugins",
		Short: "List the discovered mushroom functions",
		Long: `Scan the installed plugins and print the dispatch table.

Every RPC function is listed with the method name clients call. Scheduled
functions are started once when runserver boots. Plugins that fail to load
are reported with the reason.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOrDefault()
			if err != nil {
				return err
			}
			return listPlugins(cmd.OutOrStdout(), cfg, plugin.Default, verbose)
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show skipped plugins")
	return cmd
}

func listPlugins(w io.Writer, cfg *config.Config, catalog *plugin.Catalog, verbose bool) error {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	table, scan, err := dispatch.Discover(catalog, cfg.Apps(catalog.IDs()),
		dispatch.WithCollisionPolicy(cfg.CollisionPolicy()),
		dispatch.WithLogger(logger))
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tROLE\tMETHOD")
	for _, e := range table.Entries() {
		method := "-"
		if e.Role == plugin.CapRPC {
			method = e.Method()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", e.QualifiedName, e.Role, method)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(w, "\n%d functions from %d apps", table.Len(), len(scan.Modules))
	if n := len(scan.Skipped); n > 0 {
		fmt.Fprintf(w, ", %d skipped", n)
	}
	fmt.Fprintln(w)

	if verbose {
		for _, skip := range scan.Skipped {
			fmt.Fprintf(w, "  %s\n", errors.PluginSkipped(skip.ID, skip.Err).FormatCompact())
		}
	}
	return nil
}

// printSummary is used by version to report the linked plugins.
func printSummary(catalog *plugin.Catalog) {
	ids := catalog.IDs()
	if len(ids) == 0 {
		warn("No plugins linked into this binary")
		return
	}
	success("%d plugins linked", len(ids))
	for _, id := range ids {
		info("%s", id)
	}
	fmt.Fprintln(os.Stdout)
}
