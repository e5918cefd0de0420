// Package storage persists run output on the local filesystem: step
// logs and the report files produced by scanning tools. Artifact keys
// are namespaced by job name and written once, so concurrent jobs never
// contend for the same file.
package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

var (
	ErrKeyExists   = errors.New("artifact key already exists")
	ErrNotFound    = errors.New("artifact not found")
	ErrInvalidName = errors.New("invalid artifact name")
)

// Ref points at a stored artifact and carries enough to verify it.
type Ref struct {
	Key    string `json:"key"`    // <job>/<artifact name>
	Path   string `json:"path"`   // location inside the store
	SHA256 string `json:"sha256"` // checksum of the stored bytes
	Size   int64  `json:"size"`
}

// Store is a filesystem artifact and log store rooted at one run's
// directory.
type Store struct {
	root string
}

// NewStore creates a store rooted at dir. The directory is created
// lazily on first write.
func NewStore(dir string) *Store {
	return &Store{root: dir}
}

// Root returns the store's base directory.
func (s *Store) Root() string { return s.root }

// Put copies the file at src into the store under <job>/<name>.
// Keys are write-once; a second Put for the same key fails.
func (s *Store) Put(job, name, src string) (Ref, error) {
	key, dst, err := s.keyPath(job, name)
	if err != nil {
		return Ref{}, err
	}
	if _, err := os.Stat(dst); err == nil {
		return Ref{}, fmt.Errorf("%w: %s", ErrKeyExists, key)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return Ref{}, fmt.Errorf("create artifact dir: %w", err)
	}

	in, err := os.Open(src)
	if err != nil {
		return Ref{}, fmt.Errorf("open artifact source: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return Ref{}, fmt.Errorf("create artifact: %w", err)
	}
	defer out.Close()

	h := sha256.New()
	size, err := io.Copy(io.MultiWriter(out, h), in)
	if err != nil {
		return Ref{}, fmt.Errorf("copy artifact: %w", err)
	}
	return Ref{
		Key:    key,
		Path:   dst,
		SHA256: hex.EncodeToString(h.Sum(nil)),
		Size:   size,
	}, nil
}

// Get resolves a previously stored artifact by job and name.
func (s *Store) Get(job, name string) (Ref, error) {
	key, path, err := s.keyPath(job, name)
	if err != nil {
		return Ref{}, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return Ref{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	sum, err := hashFile(path)
	if err != nil {
		return Ref{}, err
	}
	return Ref{Key: key, Path: path, SHA256: sum, Size: info.Size()}, nil
}

// List returns all artifacts stored for a job, sorted by name.
func (s *Store) List(job string) ([]Ref, error) {
	dir := filepath.Join(s.root, "artifacts", sanitize(job))
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	refs := make([]Ref, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ref, err := s.Get(job, e.Name())
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// SaveStepLog writes the captured output of one step and returns the
// log file path.
func (s *Store) SaveStepLog(job, step, output string) (string, error) {
	dir := filepath.Join(s.root, "logs", sanitize(job))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create log dir: %w", err)
	}
	path := filepath.Join(dir, sanitize(step)+".log")
	if err := os.WriteFile(path, []byte(output), 0o644); err != nil {
		return "", fmt.Errorf("write step log: %w", err)
	}
	return path, nil
}

func (s *Store) keyPath(job, name string) (string, string, error) {
	job = sanitize(job)
	name = filepath.Base(filepath.ToSlash(name))
	if job == "" || name == "" || name == "." || name == ".." {
		return "", "", ErrInvalidName
	}
	key := job + "/" + name
	return key, filepath.Join(s.root, "artifacts", job, name), nil
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open for hashing: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// sanitize keeps names safe to use as path components.
func sanitize(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z',
			r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := strings.Trim(b.String(), ".")
	if out == "" {
		return "item"
	}
	return out
}
