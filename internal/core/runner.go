package core

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"

	"scanci/internal/storage"
)

// Runner executes one job at a time: its steps strictly in declared
// order, folding step results into a JobResult, then collecting
// declared artifacts whatever the job's outcome.
type Runner struct {
	Exec  *Executor
	Store *storage.Store
	Log   *log.Logger
}

// NewRunner wires an executor for repoDir with the given store.
func NewRunner(repoDir string, store *storage.Store, logger *log.Logger) *Runner {
	return &Runner{Exec: NewExecutor(repoDir), Store: store, Log: logger}
}

// RunJob runs the job's steps in order. A step that escalates aborts
// the remaining steps and marks the job failed; if the run context was
// cancelled while the step ran, the job is cancelled instead. The
// scheduler has already settled conditions and dependencies by the
// time a job reaches here.
func (r *Runner) RunJob(ctx context.Context, job *JobSpec) *JobResult {
	res := &JobResult{Job: job.Name, State: StateSuccess}

	killed := false
	for _, step := range job.Steps {
		if ctx.Err() != nil {
			res.State = StateCancelled
			res.Reason = "run cancelled"
			break
		}

		r.Log.Debug("running step", "job", job.Name, "step", step.Name)
		sr := r.Exec.RunStep(ctx, step)

		if sr.Outcome != OutcomeSkipped {
			logPath, err := r.Store.SaveStepLog(job.Name, step.Name, sr.Output)
			if err != nil {
				r.Log.Warn("cannot save step log", "job", job.Name, "step", step.Name, "err", err)
			} else {
				sr.LogPath = logPath
			}
		}
		res.Steps = append(res.Steps, sr)

		if sr.Outcome == OutcomeSkipped {
			r.Log.Info("step skipped, required input missing",
				"job", job.Name, "step", step.Name, "required", step.RequiredFile)
			continue
		}
		if sr.Escalate {
			if ctx.Err() != nil {
				// The step was killed by run cancellation, not by the tool.
				res.State = StateCancelled
				res.Reason = "run cancelled"
				killed = true
			} else {
				res.State = StateFailure
			}
			break
		}
		if sr.Outcome != OutcomeOK {
			r.Log.Warn("step failed but continues",
				"job", job.Name, "step", step.Name, "outcome", sr.Outcome)
		}
	}

	r.collect(job, res, killed)
	return res
}

// collect persists declared artifacts for every step that actually
// ran, independent of job outcome: a failing scanner's report is
// exactly the output worth keeping. Output from a step killed by
// cancellation is not trusted and not collected. Collection is
// best-effort; a missing artifact only escalates when the step
// requires it.
func (r *Runner) collect(job *JobSpec, res *JobResult, killed bool) {
	executed := len(res.Steps)
	for i := 0; i < executed; i++ {
		sr := res.Steps[i]
		if killed && i == executed-1 {
			continue
		}
		step := job.Steps[i]
		if step.Artifact == "" || sr.Outcome == OutcomeSkipped {
			continue
		}

		src := filepath.Join(r.Exec.Dir, step.Artifact)
		if _, err := os.Stat(src); errors.Is(err, os.ErrNotExist) {
			if step.RequireArtifact {
				res.State = StateFailure
				res.Reason = fmt.Sprintf("required artifact %q missing after step %q", step.Artifact, step.Name)
				r.Log.Error("required artifact missing",
					"job", job.Name, "step", step.Name, "artifact", step.Artifact)
			} else {
				r.Log.Warn("expected artifact missing",
					"job", job.Name, "step", step.Name, "artifact", step.Artifact)
			}
			continue
		}

		ref, err := r.Store.Put(job.Name, filepath.Base(step.Artifact), src)
		if err != nil {
			r.Log.Warn("cannot collect artifact",
				"job", job.Name, "artifact", step.Artifact, "err", err)
			continue
		}
		res.Artifacts = append(res.Artifacts, ref)
		r.Log.Debug("artifact collected", "key", ref.Key, "sha256", ref.SHA256)
	}
}
