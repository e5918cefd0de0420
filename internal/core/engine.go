package core

import (
	"context"

	"github.com/charmbracelet/log"

	"scanci/internal/storage"
)

// RunOptions carries everything one pipeline run needs beyond the
// pipeline itself.
type RunOptions struct {
	RunID   string
	RepoDir string         // repository under scan; steps run here
	Store   *storage.Store // per-run artifact and log store
	Logger  *log.Logger
}

// Execute drives one full run: detect change categories, schedule the
// job DAG, and aggregate every job's terminal state into a report.
// Aggregation always happens, even when every job failed or was
// skipped; it is the one unconditional stage of a run.
func Execute(ctx context.Context, p *Pipeline, changes ChangeSet, tc TriggerContext, opts RunOptions) *RunReport {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	flags := DetectChanges(changes, p.Rules())
	logger.Info("change categories detected",
		"trigger", tc.Trigger, "branch", tc.Branch, "files", len(changes))
	for _, name := range sortedKeys(flags) {
		logger.Debug("category", "name", name, "matched", flags[name])
	}

	runner := NewRunner(opts.RepoDir, opts.Store, logger)
	scheduler := NewScheduler(runner, p.Workers, logger)
	results := scheduler.Run(ctx, p, flags, tc)

	return Aggregate(opts.RunID, results, p.Policy)
}
