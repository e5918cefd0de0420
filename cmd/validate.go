package cmd

import (
	"github.com/spf13/cobra"

	"scanci/internal/core"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the pipeline configuration without running anything",
	RunE: func(_ *cobra.Command, _ []string) error {
		pipeline, err := core.LoadPipeline(configPath)
		if err != nil {
			return err
		}
		logger.Info("pipeline is valid",
			"jobs", len(pipeline.Jobs),
			"categories", len(pipeline.Categories),
			"policy", pipeline.Policy)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
