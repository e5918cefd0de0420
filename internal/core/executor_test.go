package core

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunStepSuccess(t *testing.T) {
	e := NewExecutor(t.TempDir())
	res := e.RunStep(context.Background(), Step{Name: "hello", Run: "echo hello"})

	assert.Equal(t, OutcomeOK, res.Outcome)
	assert.Equal(t, 0, res.ExitCode)
	assert.False(t, res.Escalate)
	assert.Contains(t, res.Output, "hello")
}

func TestRunStepExitFailure(t *testing.T) {
	e := NewExecutor(t.TempDir())
	res := e.RunStep(context.Background(), Step{Name: "fail", Run: "echo findings; exit 3"})

	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, 3, res.ExitCode)
	assert.True(t, res.Escalate)
	// Output is still captured for a failing tool.
	assert.Contains(t, res.Output, "findings")
}

func TestRunStepContinueOnErrorDoesNotEscalate(t *testing.T) {
	e := NewExecutor(t.TempDir())
	res := e.RunStep(context.Background(), Step{Name: "fail", Run: "exit 1", ContinueOnError: true})

	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.False(t, res.Escalate)
}

func TestRunStepTimeout(t *testing.T) {
	e := NewExecutor(t.TempDir())
	step := Step{Name: "slow", Run: "sleep 5", timeout: 100 * time.Millisecond}

	start := time.Now()
	res := e.RunStep(context.Background(), step)

	// Timeout is its own signal, distinct from an exit-code failure.
	assert.Equal(t, OutcomeTimeout, res.Outcome)
	assert.True(t, res.Escalate)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestRunStepStartError(t *testing.T) {
	e := NewExecutor(filepath.Join(t.TempDir(), "does-not-exist"))
	res := e.RunStep(context.Background(), Step{Name: "nodir", Run: "true"})

	assert.Equal(t, OutcomeStartError, res.Outcome)
	assert.True(t, res.Escalate)
	assert.NotEmpty(t, res.Error)
}

func TestRunStepMissingRequiredInputIsNoOp(t *testing.T) {
	dir := t.TempDir()
	e := NewExecutor(dir)
	step := Step{
		Name:         "pip-audit",
		Run:          "touch ran.txt",
		RequiredFile: "requirements.txt",
	}

	res := e.RunStep(context.Background(), step)
	assert.Equal(t, OutcomeSkipped, res.Outcome)
	assert.False(t, res.Escalate)
	assert.NoFileExists(t, filepath.Join(dir, "ran.txt"))

	// With the input present the step runs normally.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "requirements.txt"), []byte("requests\n"), 0o644))
	res = e.RunStep(context.Background(), step)
	assert.Equal(t, OutcomeOK, res.Outcome)
	assert.FileExists(t, filepath.Join(dir, "ran.txt"))
}
