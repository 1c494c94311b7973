package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	stateFile   string
	stateDB     string
	logLevel    string
	verbose     bool
	jsonOutput  bool
	metricsAddr string
)

// Execute runs the root command.
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "terrane",
		Short: "Terrane - resource reconciliation against protocol providers",
		Long: `Terrane reconciles declared resources against a provider speaking the
resource-provider protocol.

A state file names a provider and the resources it should manage; terrane
plans the work (check and diff), applies it (create, update, replace,
delete), detects drift and tears resources down. Providers run as
subprocesses over stdio or in-process for the bundled memory provider.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.PersistentFlags().StringVarP(&stateFile, "file", "f", "terrane.yaml", "state file path")
	rootCmd.PersistentFlags().StringVar(&stateDB, "state-db", ".terrane/state.db", "snapshot database path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")

	rootCmd.AddCommand(newPreviewCommand())
	rootCmd.AddCommand(newApplyCommand())
	rootCmd.AddCommand(newRefreshCommand())
	rootCmd.AddCommand(newDestroyCommand())
	rootCmd.AddCommand(newInvokeCommand())
	rootCmd.AddCommand(newInfoCommand())
	rootCmd.AddCommand(newWatchCommand())

	return rootCmd
}
