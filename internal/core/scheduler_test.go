package core

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scanci/internal/storage"
)

func newTestScheduler(t *testing.T, workers int) (*Scheduler, string) {
	t.Helper()
	repo := t.TempDir()
	logger := log.New(io.Discard)
	runner := NewRunner(repo, storage.NewStore(t.TempDir()), logger)
	return NewScheduler(runner, workers, logger), repo
}

func job(name string, steps ...Step) *JobSpec {
	return &JobSpec{Name: name, Steps: steps}
}

func step(run string) Step {
	return Step{Name: "step-1", Run: run}
}

func mustCompile(t *testing.T, p *Pipeline) *Pipeline {
	t.Helper()
	require.NoError(t, p.compile())
	return p
}

func TestSchedulerFalseConditionSkips(t *testing.T) {
	s, repo := newTestScheduler(t, 2)
	p := mustCompile(t, &Pipeline{Jobs: []*JobSpec{
		{Name: "gated", If: "changes.python", Steps: []Step{step("touch gated-ran")}},
		job("open", step("true")),
	}})

	results := s.Run(context.Background(), p, CategoryFlags{"python": false}, TriggerContext{Trigger: TriggerPush})

	require.Len(t, results, 2)
	assert.Equal(t, StateSkipped, results["gated"].State)
	assert.Equal(t, "condition not met", results["gated"].Reason)
	assert.Empty(t, results["gated"].Steps)
	assert.NoFileExists(t, filepath.Join(repo, "gated-ran"))
	assert.Equal(t, StateSuccess, results["open"].State)
}

func TestSchedulerDependencyOrder(t *testing.T) {
	s, repo := newTestScheduler(t, 4)
	p := mustCompile(t, &Pipeline{Jobs: []*JobSpec{
		{Name: "second", Needs: []string{"first"}, Steps: []Step{step("cat first.txt > second.txt")}},
		job("first", step("echo ok > first.txt")),
	}})

	results := s.Run(context.Background(), p, nil, TriggerContext{Trigger: TriggerManual})

	assert.Equal(t, StateSuccess, results["first"].State)
	// second could only succeed if first's output already existed.
	assert.Equal(t, StateSuccess, results["second"].State)
	data, err := readFile(filepath.Join(repo, "second.txt"))
	require.NoError(t, err)
	assert.Equal(t, "ok\n", data)
}

func TestSchedulerFailedDependencySkipsDependent(t *testing.T) {
	s, repo := newTestScheduler(t, 4)
	p := mustCompile(t, &Pipeline{Jobs: []*JobSpec{
		job("broken", step("exit 1")),
		{Name: "dependent", Needs: []string{"broken"}, Steps: []Step{step("touch dependent-ran")}},
	}})

	results := s.Run(context.Background(), p, nil, TriggerContext{Trigger: TriggerPush})

	assert.Equal(t, StateFailure, results["broken"].State)
	assert.Equal(t, StateSkipped, results["dependent"].State)
	assert.Contains(t, results["dependent"].Reason, `"broken" failed`)
	// Skipped means its steps never executed.
	assert.Empty(t, results["dependent"].Steps)
	assert.NoFileExists(t, filepath.Join(repo, "dependent-ran"))
}

func TestSchedulerSkipPropagatesTransitively(t *testing.T) {
	s, _ := newTestScheduler(t, 4)
	p := mustCompile(t, &Pipeline{Jobs: []*JobSpec{
		{Name: "root", If: "changes.never", Steps: []Step{step("true")}},
		{Name: "mid", Needs: []string{"root"}, Steps: []Step{step("true")}},
		{Name: "leaf", Needs: []string{"mid"}, Steps: []Step{step("true")}},
	}})

	results := s.Run(context.Background(), p, CategoryFlags{}, TriggerContext{Trigger: TriggerPush})

	assert.Equal(t, StateSkipped, results["root"].State)
	assert.Equal(t, StateSkipped, results["mid"].State)
	assert.Equal(t, StateSkipped, results["leaf"].State)
}

func TestSchedulerAlwaysRunIgnoresDependencyFailure(t *testing.T) {
	s, repo := newTestScheduler(t, 4)
	p := mustCompile(t, &Pipeline{Jobs: []*JobSpec{
		job("broken", step("exit 1")),
		{Name: "skipped-too", If: "changes.never", Steps: []Step{step("true")}},
		{
			Name:      "finalize",
			Needs:     []string{"broken", "skipped-too"},
			AlwaysRun: true,
			Steps:     []Step{step("touch finalize-ran")},
		},
	}})

	results := s.Run(context.Background(), p, CategoryFlags{}, TriggerContext{Trigger: TriggerPush})

	// The finalize job runs no matter how its dependencies ended.
	assert.Equal(t, StateSuccess, results["finalize"].State)
	assert.FileExists(t, filepath.Join(repo, "finalize-ran"))
}

func TestSchedulerIndependentJobsAllRun(t *testing.T) {
	s, repo := newTestScheduler(t, 2)
	p := mustCompile(t, &Pipeline{Jobs: []*JobSpec{
		job("a", step("touch a-ran")),
		job("b", step("touch b-ran")),
		job("c", step("touch c-ran")),
	}})

	results := s.Run(context.Background(), p, nil, TriggerContext{Trigger: TriggerManual})

	for _, name := range []string{"a", "b", "c"} {
		assert.Equal(t, StateSuccess, results[name].State, "job %s", name)
		assert.FileExists(t, filepath.Join(repo, name+"-ran"))
	}
}

func TestSchedulerCancelledRun(t *testing.T) {
	s, repo := newTestScheduler(t, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := mustCompile(t, &Pipeline{Jobs: []*JobSpec{
		job("x", step("touch x-ran")),
		job("y", step("touch y-ran")),
	}})

	results := s.Run(ctx, p, nil, TriggerContext{Trigger: TriggerPush})

	require.Len(t, results, 2)
	assert.Equal(t, StateCancelled, results["x"].State)
	assert.Equal(t, StateCancelled, results["y"].State)
	assert.NoFileExists(t, filepath.Join(repo, "x-ran"))
	assert.NoFileExists(t, filepath.Join(repo, "y-ran"))
}

func TestSchedulerDeterministicStepOrder(t *testing.T) {
	// Two runs of the same job produce the same step execution order.
	for i := 0; i < 2; i++ {
		s, repo := newTestScheduler(t, 4)
		p := mustCompile(t, &Pipeline{Jobs: []*JobSpec{
			{Name: "seq", Steps: []Step{
				{Name: "a", Run: "echo a >> order.txt"},
				{Name: "b", Run: "echo b >> order.txt"},
				{Name: "c", Run: "echo c >> order.txt"},
			}},
		}})

		results := s.Run(context.Background(), p, nil, TriggerContext{Trigger: TriggerManual})
		require.Equal(t, StateSuccess, results["seq"].State)
		data, err := readFile(filepath.Join(repo, "order.txt"))
		require.NoError(t, err)
		assert.Equal(t, "a\nb\nc\n", data)
	}
}

func TestExecuteEndToEnd(t *testing.T) {
	repo := t.TempDir()
	p, err := ParsePipeline([]byte(`
policy: observe
categories:
  python: ["**/*.py"]
  docs: ["**/*.md"]
jobs:
  - name: sast-scan
    if: changes.python || trigger == "schedule"
    steps:
      - name: scan
        run: echo '{"findings":[]}' > sast.json
        artifact: sast.json
  - name: docs-check
    if: changes.docs
    steps:
      - run: "true"
  - name: aggregate
    needs: [sast-scan, docs-check]
    always_run: true
    steps:
      - run: "true"
`))
	require.NoError(t, err)

	report := Execute(context.Background(),
		p,
		ChangeSet{"app.py"},
		TriggerContext{Trigger: TriggerPush, Branch: "main"},
		RunOptions{
			RunID:   "run-1",
			RepoDir: repo,
			Store:   storage.NewStore(t.TempDir()),
			Logger:  log.New(io.Discard),
		})

	assert.Equal(t, OverallCompleted, report.Overall)
	assert.False(t, report.AnyFailed)
	assert.Equal(t, StateSuccess, report.Jobs["sast-scan"].State)
	assert.Equal(t, StateSkipped, report.Jobs["docs-check"].State)
	assert.Equal(t, StateSuccess, report.Jobs["aggregate"].State)
	require.Len(t, report.Jobs["sast-scan"].Artifacts, 1)
	assert.Equal(t, "sast-scan/sast.json", report.Jobs["sast-scan"].Artifacts[0].Key)
}

func TestSchedulerTimeoutFailsJob(t *testing.T) {
	s, repo := newTestScheduler(t, 2)
	p := mustCompile(t, &Pipeline{Jobs: []*JobSpec{
		{Name: "slow", Steps: []Step{
			{Name: "hang", Run: "sleep 5", Timeout: "100ms"},
			{Name: "after", Run: "touch after-ran"},
		}},
	}})

	start := time.Now()
	results := s.Run(context.Background(), p, nil, TriggerContext{Trigger: TriggerPush})

	require.Equal(t, StateFailure, results["slow"].State)
	require.Len(t, results["slow"].Steps, 1)
	assert.Equal(t, OutcomeTimeout, results["slow"].Steps[0].Outcome)
	assert.NoFileExists(t, filepath.Join(repo, "after-ran"))
	assert.Less(t, time.Since(start), 3*time.Second)
}
