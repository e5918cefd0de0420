package core

import (
	"context"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
)

// Scheduler runs the jobs of a pipeline as a dependency DAG: ready
// jobs are dispatched onto a bounded worker pool, steps inside a job
// stay strictly sequential. Completion order across independent jobs
// is unspecified; everything else is deterministic.
type Scheduler struct {
	Workers int
	Runner  *Runner
	Log     *log.Logger
}

// NewScheduler creates a scheduler over the given runner.
func NewScheduler(runner *Runner, workers int, logger *log.Logger) *Scheduler {
	if workers <= 0 {
		workers = defaultWorkers
	}
	return &Scheduler{Workers: workers, Runner: runner, Log: logger}
}

// Run executes the pipeline's jobs for one trigger and returns a
// result for every declared job. Jobs whose condition is false and
// jobs behind unmet dependencies end up skipped, never failed. When
// the context is cancelled, running steps are killed and jobs not yet
// started become cancelled.
func (s *Scheduler) Run(ctx context.Context, p *Pipeline, flags CategoryFlags, tc TriggerContext) map[string]*JobResult {
	results := make(map[string]*JobResult, len(p.Jobs))
	pending := make(map[string]*JobSpec, len(p.Jobs))
	running := make(map[string]bool)

	// Conditions are evaluated once, up front; they are pure, so
	// nothing can change their answer later in the run.
	for _, job := range p.Jobs {
		if !job.ShouldRun(flags, tc) {
			results[job.Name] = SkippedResult(job.Name, "condition not met")
			s.Log.Info("job skipped", "job", job.Name, "reason", "condition not met")
			continue
		}
		pending[job.Name] = job
	}

	done := make(chan *JobResult)
	var wg sync.WaitGroup

	for len(results) < len(p.Jobs) {
		if ctx.Err() != nil {
			// Rule out everything not yet dispatched.
			for _, name := range sortedKeys(pending) {
				results[name] = CancelledResult(name)
				delete(pending, name)
			}
			break
		}

		dispatched := 0
		for _, name := range sortedKeys(pending) {
			if len(running) >= s.Workers {
				break
			}
			job := pending[name]
			ready, blocked, reason := s.gate(job, results)
			if blocked {
				results[name] = SkippedResult(name, reason)
				delete(pending, name)
				s.Log.Info("job skipped", "job", name, "reason", reason)
				dispatched++ // progress was made; re-evaluate the gate set
				continue
			}
			if !ready {
				continue
			}

			delete(pending, name)
			running[name] = true
			wg.Add(1)
			go func(job *JobSpec) {
				defer wg.Done()
				s.Log.Info("job started", "job", job.Name)
				done <- s.Runner.RunJob(ctx, job)
			}(job)
			dispatched++
		}

		if dispatched > 0 && len(running) == 0 {
			// Only skips happened this pass; nothing to wait for.
			continue
		}
		if len(running) == 0 {
			// No runnable work and nothing in flight. Cannot happen on
			// a validated (acyclic) pipeline, but never deadlock on it.
			for _, name := range sortedKeys(pending) {
				results[name] = SkippedResult(name, "unreachable: dependencies never resolved")
				delete(pending, name)
			}
			break
		}

		res := <-done
		delete(running, res.Job)
		results[res.Job] = res
		s.Log.Info("job finished", "job", res.Job, "state", res.State)
	}

	// Drain any workers still finishing after cancellation.
	go func() {
		wg.Wait()
		close(done)
	}()
	for res := range done {
		results[res.Job] = res
		s.Log.Info("job finished", "job", res.Job, "state", res.State)
	}

	return results
}

// gate decides whether a job can start given the results so far.
// ready means all dependencies are settled and none rule the job out.
// blocked means a dependency settled in a state that skips this job:
// failure, cancellation, or its own skip. always_run jobs only wait
// for dependencies to settle and then run no matter how they ended.
func (s *Scheduler) gate(job *JobSpec, results map[string]*JobResult) (ready, blocked bool, reason string) {
	for _, need := range job.Needs {
		dep, settled := results[need]
		if !settled {
			return false, false, ""
		}
		if job.AlwaysRun {
			continue
		}
		switch dep.State {
		case StateFailure:
			return false, true, fmt.Sprintf("dependency %q failed", need)
		case StateSkipped:
			return false, true, fmt.Sprintf("dependency %q was skipped", need)
		case StateCancelled:
			return false, true, fmt.Sprintf("dependency %q was cancelled", need)
		}
	}
	return true, false, ""
}
