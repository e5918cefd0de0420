package core

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/charmbracelet/log"

	"scanci/internal/storage"
)

// Policy controls how per-job failures roll up into the overall
// verdict. Observe is the default: scanner findings are surfaced but
// never fail the run, so monitoring can ride along without blocking
// delivery. This is an explicit configuration choice, never implicit.
type Policy string

const (
	PolicyObserve Policy = "observe"
	PolicyStrict  Policy = "strict"
)

// JobState is the terminal state of one job.
type JobState string

const (
	StateSuccess   JobState = "success"
	StateFailure   JobState = "failure"
	StateSkipped   JobState = "skipped"
	StateCancelled JobState = "cancelled"
)

// JobResult is created once, when a job finishes or is ruled out, and
// is immutable afterwards.
type JobResult struct {
	Job       string        `json:"job"`
	State     JobState      `json:"state"`
	Reason    string        `json:"reason,omitempty"` // why a job was skipped or cancelled
	Steps     []StepResult  `json:"steps,omitempty"`
	Artifacts []storage.Ref `json:"artifacts,omitempty"`
}

// SkippedResult builds the result for a job that never executed steps.
func SkippedResult(job, reason string) *JobResult {
	return &JobResult{Job: job, State: StateSkipped, Reason: reason}
}

// CancelledResult builds the result for a job ruled out by run
// cancellation before it started.
func CancelledResult(job string) *JobResult {
	return &JobResult{Job: job, State: StateCancelled, Reason: "run cancelled"}
}

// Overall is the run-level verdict.
type Overall string

const (
	OverallSuccess   Overall = "success"
	OverallCompleted Overall = "completed" // observe policy: finished, failures visible per job
	OverallFailure   Overall = "failure"
)

// RunReport combines all job results into one report.
type RunReport struct {
	RunID     string                `json:"runId,omitempty"`
	Policy    Policy                `json:"policy"`
	Overall   Overall               `json:"overall"`
	AnyFailed bool                  `json:"anyFailed"`
	Jobs      map[string]*JobResult `json:"jobs"`
}

// Aggregate folds job results into a run report under the given
// policy. Skipped and cancelled jobs never count as failures. The fold
// is pure, so aggregating the same results twice yields byte-identical
// canonical output.
func Aggregate(runID string, results map[string]*JobResult, policy Policy) *RunReport {
	anyFailed := false
	for _, res := range results {
		if res.State == StateFailure {
			anyFailed = true
		}
	}

	overall := OverallSuccess
	switch {
	case policy == PolicyObserve:
		overall = OverallCompleted
	case anyFailed:
		overall = OverallFailure
	}

	return &RunReport{
		RunID:     runID,
		Policy:    policy,
		Overall:   overall,
		AnyFailed: anyFailed,
		Jobs:      results,
	}
}

// Canonical serializes the report deterministically (JSON with sorted
// keys). Journal hashing and re-publication both rely on this.
func (r *RunReport) Canonical() ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal report: %w", err)
	}
	return data, nil
}

// ExitCode maps the verdict to a process exit code. Only the strict
// policy may make the run fail.
func (r *RunReport) ExitCode() int {
	if r.Overall == OverallFailure {
		return 1
	}
	return 0
}

// ReportSink abstracts over wherever the aggregate status is surfaced.
type ReportSink interface {
	Publish(report *RunReport) error
}

// ConsoleSink logs per-job outcomes and the overall verdict.
type ConsoleSink struct {
	Log *log.Logger
}

func (s ConsoleSink) Publish(report *RunReport) error {
	for _, name := range sortedKeys(report.Jobs) {
		res := report.Jobs[name]
		kv := []any{"job", name, "state", res.State}
		if res.Reason != "" {
			kv = append(kv, "reason", res.Reason)
		}
		for _, ref := range res.Artifacts {
			kv = append(kv, "artifact", ref.Key)
		}
		if res.State == StateFailure {
			s.Log.Error("job finished", kv...)
		} else {
			s.Log.Info("job finished", kv...)
		}
	}
	s.Log.Info("run finished",
		"overall", report.Overall,
		"anyFailed", report.AnyFailed,
		"policy", report.Policy)
	return nil
}

// FileSink writes the canonical report to a file.
type FileSink struct {
	Path string
}

func (s FileSink) Publish(report *RunReport) error {
	data, err := report.Canonical()
	if err != nil {
		return err
	}
	if err := os.WriteFile(s.Path, data, 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}
