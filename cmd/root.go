// Package cmd implements the scanci command line interface.
package cmd

import (
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   string

	// exitCode is set by subcommands that finish cleanly but need a
	// nonzero exit, so deferred cleanup still runs before the process
	// ends.
	exitCode int

	logger = log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
	})
)

var rootCmd = &cobra.Command{
	Use:           "scanci",
	Short:         "Change-gated security scan pipeline engine",
	Long:          "scanci runs external security scanners as a pipeline of jobs,\ngated by which files changed and by the trigger event.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		level, err := log.ParseLevel(logLevel)
		if err != nil {
			return err
		}
		logger.SetLevel(level)
		return nil
	},
}

// Execute runs the CLI and exits nonzero on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		logger.Error(err.Error())
		os.Exit(1)
	}
	if exitCode != 0 {
		os.Exit(exitCode)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "pipeline.yaml", "pipeline configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "logs-level", "info", "log level (debug, info, warn, error)")
}
