package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"scanci/internal/audit"
	"scanci/internal/core"
	"scanci/internal/storage"
)

var runFlags struct {
	trigger      string
	branch       string
	changedFiles []string
	changedStdin bool
	baseRef      string
	repoDir      string
	dataDir      string
	reportPath   string
	journalPath  string
}

// readChangeSet resolves the change set from the flags: explicit
// --changed-file values, a newline list on stdin, or a git diff
// against --base-ref, in that order of precedence.
func readChangeSet(ctx context.Context, files []string, fromStdin bool, repoDir, baseRef string) (core.ChangeSet, error) {
	if len(files) > 0 {
		return core.ChangeSet(files), nil
	}
	if fromStdin {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("read change list from stdin: %w", err)
		}
		return core.ParseChangeList(string(data)), nil
	}
	if baseRef != "" {
		return core.GitChangedFiles(ctx, repoDir, baseRef)
	}
	return nil, nil
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute the pipeline for one trigger event",
	RunE: func(cmd *cobra.Command, _ []string) error {
		pipeline, err := core.LoadPipeline(configPath)
		if err != nil {
			return err
		}
		trigger, err := core.ParseTrigger(runFlags.trigger)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		changes, err := readChangeSet(ctx, runFlags.changedFiles, runFlags.changedStdin, runFlags.repoDir, runFlags.baseRef)
		if err != nil {
			return err
		}

		runID := uuid.NewString()
		store := storage.NewStore(filepath.Join(runFlags.dataDir, "runs", runID))
		tc := core.TriggerContext{Trigger: trigger, Branch: runFlags.branch}

		report := core.Execute(ctx, pipeline, changes, tc, core.RunOptions{
			RunID:   runID,
			RepoDir: runFlags.repoDir,
			Store:   store,
			Logger:  logger,
		})

		sinks := []core.ReportSink{core.ConsoleSink{Log: logger}}
		if runFlags.reportPath != "" {
			sinks = append(sinks, core.FileSink{Path: runFlags.reportPath})
		}
		if runFlags.journalPath != "" {
			sink, err := journalSink(runFlags.journalPath, runFlags.dataDir)
			if err != nil {
				return err
			}
			sinks = append(sinks, sink)
		}
		for _, sink := range sinks {
			if err := sink.Publish(report); err != nil {
				logger.Error("cannot publish report", "err", err)
			}
		}

		exitCode = report.ExitCode()
		return nil
	},
}

// journalSink opens the audit journal and makes sure signing keys
// exist under the data directory.
func journalSink(journalPath, dataDir string) (core.ReportSink, error) {
	journal, err := audit.Open(journalPath)
	if err != nil {
		return nil, err
	}
	keyDir := filepath.Join(dataDir, "keys")
	if err := os.MkdirAll(keyDir, 0o700); err != nil {
		return nil, fmt.Errorf("create key dir: %w", err)
	}
	pub, priv, err := audit.EnsureKeyPair(
		filepath.Join(keyDir, "scanci.pub"),
		filepath.Join(keyDir, "scanci.key"))
	if err != nil {
		return nil, err
	}
	return audit.Sink{Journal: journal, Priv: priv, Pub: pub}, nil
}

func init() {
	runCmd.Flags().StringVar(&runFlags.trigger, "trigger", "manual", "trigger event (push, pull_request, schedule, manual)")
	runCmd.Flags().StringVar(&runFlags.branch, "branch", "", "branch the event targets")
	runCmd.Flags().StringArrayVar(&runFlags.changedFiles, "changed-file", nil, "changed file path (repeatable)")
	runCmd.Flags().BoolVar(&runFlags.changedStdin, "changed-files-stdin", false, "read the changed file list from stdin, one path per line")
	runCmd.Flags().StringVar(&runFlags.baseRef, "base-ref", "", "compute changed files by diffing HEAD against this ref")
	runCmd.Flags().StringVar(&runFlags.repoDir, "repo", ".", "repository to scan; steps run here")
	runCmd.Flags().StringVar(&runFlags.dataDir, "data-dir", ".scanci", "directory for run artifacts and logs")
	runCmd.Flags().StringVar(&runFlags.reportPath, "report", "", "also write the run report to this file")
	runCmd.Flags().StringVar(&runFlags.journalPath, "journal", "", "append the signed run report to this audit journal")
	rootCmd.AddCommand(runCmd)
}
