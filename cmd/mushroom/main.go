package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vango-dev/mushroom/internal/errors"

	// Plugins linked into the binary. Each registers itself in init.
	_ "github.com/vango-dev/mushroom/plugins/clock"
	_ "github.com/vango-dev/mushroom/plugins/echo"
	_ "github.com/vango-dev/mushroom/plugins/presence"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		errors.PrintError(err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "mushroom",
		Short: "Development server with a mushroom RPC companion",
		Long: `Mushroom runs a development server and, next to it, a mushroom
RPC server whose functions are discovered from the installed plugins.

Clients connect over WebSocket or long polling, call plugin functions
and receive notifications. Scheduled plugin functions start once at boot.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().Bool("no-color", false, "Disable colored output")
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		if noColor, _ := cmd.Flags().GetBool("no-color"); noColor || os.Getenv("NO_COLOR") != "" {
			errors.DisableColors()
			colors = false
		}
	}

	rootCmd.AddCommand(
		runserverCmd(),
		pluginsCmd(),
		configCmd(),
		versionCmd(),
	)
	return rootCmd
}

var colors = true

func paint(code, text string) string {
	if !colors {
		return text
	}
	return "\033[" + code + "m" + text + "\033[0m"
}

// success prints a success message.
func success(format string, args ...any) {
	fmt.Printf("%s %s\n", paint("32", "✓"), fmt.Sprintf(format, args...))
}

// info prints an info message.
func info(format string, args ...any) {
	fmt.Printf("  %s\n", fmt.Sprintf(format, args...))
}

// warn prints a warning message.
func warn(format string, args ...any) {
	fmt.Printf("%s %s\n", paint("33", "⚠"), fmt.Sprintf(format, args...))
}
