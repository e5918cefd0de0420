package core

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"
)

// DefaultStepTimeout bounds steps that declare no timeout of their own.
const DefaultStepTimeout = 5 * time.Minute

const defaultWorkers = 4

// Configuration errors. All of them are fatal at load time: a pipeline
// that fails validation never runs any job.
var (
	ErrUnknownTrigger    = errors.New("unknown trigger")
	ErrInvalidPolicy     = errors.New("invalid policy")
	ErrInvalidPattern    = errors.New("invalid glob pattern")
	ErrInvalidCondition  = errors.New("invalid condition")
	ErrNoJobs            = errors.New("pipeline declares no jobs")
	ErrDuplicateJob      = errors.New("duplicate job name")
	ErrUnknownDependency = errors.New("unknown dependency")
	ErrDependencyCycle   = errors.New("dependency cycle")
)

// ParsePipeline parses and validates pipeline yaml. The returned
// Pipeline has all conditions compiled and defaults applied.
func ParsePipeline(data []byte) (*Pipeline, error) {
	var pipeline Pipeline
	if err := yaml.Unmarshal(data, &pipeline); err != nil {
		return nil, fmt.Errorf("parse pipeline: %w", err)
	}
	if err := pipeline.compile(); err != nil {
		return nil, err
	}
	return &pipeline, nil
}

// LoadPipeline reads a pipeline file and returns the validated Pipeline.
func LoadPipeline(path string) (*Pipeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pipeline: %w", err)
	}
	return ParsePipeline(data)
}

// compile applies defaults and validates everything that can be checked
// without running a job: policy, glob syntax, condition syntax, timeout
// syntax, dependency references and cycles.
func (p *Pipeline) compile() error {
	if p.Policy == "" {
		p.Policy = PolicyObserve
	}
	if p.Policy != PolicyObserve && p.Policy != PolicyStrict {
		return fmt.Errorf("%w: %q", ErrInvalidPolicy, p.Policy)
	}
	if p.Workers <= 0 {
		p.Workers = defaultWorkers
	}

	for _, name := range sortedKeys(p.Categories) {
		for _, pattern := range p.Categories[name] {
			if !doublestar.ValidatePattern(filepath.ToSlash(pattern)) {
				return fmt.Errorf("%w: category %q pattern %q", ErrInvalidPattern, name, pattern)
			}
		}
	}

	if len(p.Jobs) == 0 {
		return ErrNoJobs
	}
	byName := make(map[string]*JobSpec, len(p.Jobs))
	for _, job := range p.Jobs {
		if job.Name == "" {
			return fmt.Errorf("job with empty name")
		}
		if _, ok := byName[job.Name]; ok {
			return fmt.Errorf("%w: %q", ErrDuplicateJob, job.Name)
		}
		byName[job.Name] = job

		cond, err := ParseCondition(job.If)
		if err != nil {
			return fmt.Errorf("job %q: %w", job.Name, err)
		}
		job.cond = cond

		if len(job.Steps) == 0 {
			return fmt.Errorf("job %q declares no steps", job.Name)
		}
		for i := range job.Steps {
			step := &job.Steps[i]
			if step.Run == "" {
				return fmt.Errorf("job %q step %d has no run command", job.Name, i+1)
			}
			if step.Name == "" {
				step.Name = fmt.Sprintf("step-%d", i+1)
			}
			if step.Timeout != "" {
				d, err := time.ParseDuration(step.Timeout)
				if err != nil || d <= 0 {
					return fmt.Errorf("job %q step %q: invalid timeout %q", job.Name, step.Name, step.Timeout)
				}
				step.timeout = d
			}
		}
	}

	for _, job := range p.Jobs {
		for _, need := range job.Needs {
			if _, ok := byName[need]; !ok {
				return fmt.Errorf("%w: job %q needs %q", ErrUnknownDependency, job.Name, need)
			}
			if need == job.Name {
				return fmt.Errorf("%w: job %q needs itself", ErrDependencyCycle, job.Name)
			}
		}
	}
	return p.checkCycles(byName)
}

// checkCycles rejects cyclic dependency graphs with a three-color DFS.
func (p *Pipeline) checkCycles(byName map[string]*JobSpec) error {
	const (
		white = iota // unvisited
		gray         // on the current path
		black        // done
	)
	color := make(map[string]int, len(byName))

	var visit func(name string) error
	visit = func(name string) error {
		switch color[name] {
		case gray:
			return fmt.Errorf("%w: involving job %q", ErrDependencyCycle, name)
		case black:
			return nil
		}
		color[name] = gray
		for _, need := range byName[name].Needs {
			if err := visit(need); err != nil {
				return err
			}
		}
		color[name] = black
		return nil
	}

	for _, job := range p.Jobs {
		if err := visit(job.Name); err != nil {
			return err
		}
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
