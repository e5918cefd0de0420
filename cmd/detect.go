package cmd

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"scanci/internal/core"
)

var detectFlags struct {
	changedFiles []string
	changedStdin bool
	baseRef      string
	repoDir      string
}

// detect is a debugging aid: it prints the category flags a change set
// would produce, without running any job.
var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Print the change categories a change set matches",
	RunE: func(cmd *cobra.Command, _ []string) error {
		pipeline, err := core.LoadPipeline(configPath)
		if err != nil {
			return err
		}

		changes, err := readChangeSet(cmd.Context(), detectFlags.changedFiles, detectFlags.changedStdin, detectFlags.repoDir, detectFlags.baseRef)
		if err != nil {
			return err
		}

		flags := core.DetectChanges(changes, pipeline.Rules())
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(flags)
	},
}

func init() {
	detectCmd.Flags().StringArrayVar(&detectFlags.changedFiles, "changed-file", nil, "changed file path (repeatable)")
	detectCmd.Flags().BoolVar(&detectFlags.changedStdin, "changed-files-stdin", false, "read the changed file list from stdin, one path per line")
	detectCmd.Flags().StringVar(&detectFlags.baseRef, "base-ref", "", "compute changed files by diffing HEAD against this ref")
	detectCmd.Flags().StringVar(&detectFlags.repoDir, "repo", ".", "repository to diff")
	rootCmd.AddCommand(detectCmd)
}
