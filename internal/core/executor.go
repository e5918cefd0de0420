package core

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

// StepOutcome classifies how a single step ended. Timeout, start error
// and exit failure are distinct signals: reporting must be able to tell
// a scanner that found issues from a scanner that never ran.
type StepOutcome string

const (
	OutcomeOK         StepOutcome = "ok"
	OutcomeFailed     StepOutcome = "failed"      // tool ran and exited nonzero
	OutcomeTimeout    StepOutcome = "timeout"     // wall-clock limit exceeded
	OutcomeStartError StepOutcome = "start_error" // process could not be started
	OutcomeSkipped    StepOutcome = "skipped"     // required input missing, no-op
)

// StepResult is the outcome of one step together with an escalation
// flag, so the job runner's fold over steps is a plain reduction
// instead of error control flow.
type StepResult struct {
	Name     string        `json:"name"`
	Outcome  StepOutcome   `json:"outcome"`
	ExitCode int           `json:"exitCode"`
	Duration time.Duration `json:"durationNs"`
	LogPath  string        `json:"logPath,omitempty"`
	Error    string        `json:"error,omitempty"`
	Escalate bool          `json:"escalate"` // aborts the job when true

	// Output carries the captured stdout+stderr for log persistence.
	// It is not part of the serialized result.
	Output string `json:"-"`
}

// Executor runs single steps as external commands.
type Executor struct {
	// Dir is the working directory for every step, normally the repo
	// root of the code under scan.
	Dir string
}

// NewExecutor creates an executor rooted at dir.
func NewExecutor(dir string) *Executor {
	return &Executor{Dir: dir}
}

// RunStep executes one step under its timeout and classifies the
// outcome. A step whose required input file is absent is a no-op skip,
// not a failure. Escalate is set for failed, timed-out and unstartable
// steps unless the step declares continue_on_error.
func (e *Executor) RunStep(ctx context.Context, step Step) StepResult {
	res := StepResult{Name: step.Name, Outcome: OutcomeOK}

	if step.RequiredFile != "" {
		if _, err := os.Stat(filepath.Join(e.Dir, step.RequiredFile)); errors.Is(err, os.ErrNotExist) {
			res.Outcome = OutcomeSkipped
			return res
		}
	}

	stepCtx, cancel := context.WithTimeout(ctx, step.StepTimeout())
	defer cancel()

	cmd := exec.CommandContext(stepCtx, "sh", "-c", step.Run)
	cmd.Dir = e.Dir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	start := time.Now()
	err := cmd.Run()
	res.Duration = time.Since(start)
	res.Output = out.String()

	switch {
	case err == nil:
		// ok
	case errors.Is(stepCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		res.Outcome = OutcomeTimeout
		res.Error = "step exceeded timeout " + step.StepTimeout().String()
	default:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.Outcome = OutcomeFailed
			res.ExitCode = exitErr.ExitCode()
		} else {
			res.Outcome = OutcomeStartError
		}
		res.Error = err.Error()
	}

	if res.Outcome != OutcomeOK && !step.ContinueOnError {
		res.Escalate = true
	}
	return res
}
