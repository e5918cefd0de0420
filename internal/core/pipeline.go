package core

import (
	"fmt"
	"time"
)

// Trigger identifies the kind of event that started a run.
type Trigger string

const (
	TriggerPush        Trigger = "push"
	TriggerPullRequest Trigger = "pull_request"
	TriggerSchedule    Trigger = "schedule"
	TriggerManual      Trigger = "manual"
)

// ParseTrigger converts a string into a known Trigger.
func ParseTrigger(s string) (Trigger, error) {
	switch Trigger(s) {
	case TriggerPush, TriggerPullRequest, TriggerSchedule, TriggerManual:
		return Trigger(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownTrigger, s)
}

// TriggerContext is the immutable environment a run was started from.
// It is captured once and threaded through condition evaluation and
// job execution; nothing mutates it after that.
type TriggerContext struct {
	Trigger Trigger `json:"trigger"`
	Branch  string  `json:"branch,omitempty"`
}

// ChangeSet is the ordered list of paths modified by the triggering event.
type ChangeSet []string

// CategoryFlags maps a category name to whether the change set matched it.
// Derived once per run by DetectChanges and read-only afterwards.
type CategoryFlags map[string]bool

// Pipeline is the root of the parsed configuration.
type Pipeline struct {
	Version    int                 `yaml:"version"`    // config schema version, currently 1
	Policy     Policy              `yaml:"policy"`     // overall verdict policy, default observe
	Workers    int                 `yaml:"workers"`    // worker pool size, default 4
	Categories map[string][]string `yaml:"categories"` // category name -> glob patterns
	Jobs       []*JobSpec          `yaml:"jobs"`
}

// Rules returns the change categories as a deterministic ordered slice.
func (p *Pipeline) Rules() []CategoryRule {
	rules := make([]CategoryRule, 0, len(p.Categories))
	for _, name := range sortedKeys(p.Categories) {
		rules = append(rules, CategoryRule{Name: name, Patterns: p.Categories[name]})
	}
	return rules
}

// Job returns the job with the given name, or nil.
func (p *Pipeline) Job(name string) *JobSpec {
	for _, j := range p.Jobs {
		if j.Name == name {
			return j
		}
	}
	return nil
}

// JobSpec is one unit of ordered steps with a run condition and
// dependencies on other jobs.
type JobSpec struct {
	Name      string   `yaml:"name"`
	If        string   `yaml:"if"`         // condition expression, empty means always
	Needs     []string `yaml:"needs"`      // jobs that must complete first
	AlwaysRun bool     `yaml:"always_run"` // run even if a dependency failed or was skipped
	Steps     []Step   `yaml:"steps"`

	cond Expr // compiled from If at load time
}

// ShouldRun evaluates the job's condition against the detected flags
// and trigger context. A job with no condition always runs.
func (j *JobSpec) ShouldRun(flags CategoryFlags, ctx TriggerContext) bool {
	if j.cond == nil {
		return true
	}
	return j.cond.Eval(flags, ctx)
}

// Step is a single external-tool invocation inside a job.
type Step struct {
	Name            string `yaml:"name"`
	Run             string `yaml:"run"`               // shell command, executed with sh -c
	Timeout         string `yaml:"timeout"`           // duration string, default 5m
	ContinueOnError bool   `yaml:"continue_on_error"` // record failure but keep the job going
	RequiredFile    string `yaml:"required_file"`     // optional input; step no-ops when missing
	Artifact        string `yaml:"artifact"`          // report file the tool writes, repo-relative
	RequireArtifact bool   `yaml:"require_artifact"`  // missing artifact escalates to job failure

	timeout time.Duration // parsed from Timeout at load time
}

// StepTimeout returns the parsed per-step timeout.
func (s Step) StepTimeout() time.Duration {
	if s.timeout > 0 {
		return s.timeout
	}
	return DefaultStepTimeout
}
