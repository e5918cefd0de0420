package core

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// CategoryRule names a group of glob patterns. A change set carries the
// category when at least one of its paths matches at least one pattern.
type CategoryRule struct {
	Name     string
	Patterns []string
}

// Matches reports whether any path in the change set matches any of the
// rule's patterns. Matching is case-sensitive and supports the usual
// glob forms plus '**' for any number of path segments. Patterns are
// validated at load time, so a match error here is treated as no match.
func (r CategoryRule) Matches(changes ChangeSet) bool {
	for _, pattern := range r.Patterns {
		pattern = filepath.ToSlash(pattern)
		for _, path := range changes {
			ok, err := doublestar.Match(pattern, filepath.ToSlash(path))
			if err == nil && ok {
				return true
			}
		}
	}
	return false
}

// DetectChanges classifies a change set into category flags. A rule
// with no patterns never matches. No side effects.
func DetectChanges(changes ChangeSet, rules []CategoryRule) CategoryFlags {
	flags := make(CategoryFlags, len(rules))
	for _, rule := range rules {
		flags[rule.Name] = rule.Matches(changes)
	}
	return flags
}

// GitChangedFiles computes the change set by diffing HEAD against a
// base ref, for triggers that do not supply the file list directly.
func GitChangedFiles(ctx context.Context, repoDir, baseRef string) (ChangeSet, error) {
	cmd := exec.CommandContext(ctx, "git", "diff", "--name-only", baseRef+"...HEAD")
	cmd.Dir = repoDir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("git diff against %s: %w: %s", baseRef, err, strings.TrimSpace(out.String()))
	}
	return parseNameOnly(out.String()), nil
}

// ParseChangeList parses a newline-separated list of changed paths,
// ignoring blank lines.
func ParseChangeList(s string) ChangeSet {
	return parseNameOnly(s)
}

// parseNameOnly splits `git diff --name-only` output into a change set.
func parseNameOnly(out string) ChangeSet {
	var changes ChangeSet
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			changes = append(changes, line)
		}
	}
	return changes
}
