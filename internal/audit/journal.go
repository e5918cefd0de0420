package audit

import (
	"bytes"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
)

var (
	ErrPrevHashMismatch = errors.New("prevHash mismatch")
	ErrHashMismatch     = errors.New("entry hash mismatch")
	ErrBadSignature     = errors.New("entry signature invalid")
	ErrNoKey            = errors.New("signing key missing")
)

// Journal is the append-only run history. The file format is JSON
// lines, one entry per line, so appends never rewrite earlier history.
type Journal struct {
	mu      sync.Mutex
	entries []*Entry
	path    string
}

// Open loads an existing journal file or starts an empty one.
func Open(path string) (*Journal, error) {
	j := &Journal{path: path}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return j, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read journal: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	for dec.More() {
		var e Entry
		if err := dec.Decode(&e); err != nil {
			return nil, fmt.Errorf("decode journal entry: %w", err)
		}
		j.entries = append(j.entries, &e)
	}
	return j, nil
}

// AppendReport builds, signs and persists the next entry for a run
// report. Index and PrevHash are assigned under the lock, so concurrent
// publishers always chain onto the entry that actually precedes them.
func (j *Journal) AppendReport(runID, overall string, report []byte, priv ed25519.PrivateKey, pub ed25519.PublicKey) (*Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	prev := ""
	if len(j.entries) > 0 {
		prev = j.entries[len(j.entries)-1].Hash
	}
	e, err := NewEntry(len(j.entries), runID, overall, report, prev)
	if err != nil {
		return nil, err
	}
	if err := j.appendLocked(e, priv, pub); err != nil {
		return nil, err
	}
	return e, nil
}

// Append signs the entry, checks the chain link, persists the entry
// and keeps it in memory. The caller supplies Index and PrevHash; use
// AppendReport when publishing concurrently.
func (j *Journal) Append(e *Entry, priv ed25519.PrivateKey, pub ed25519.PublicKey) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.appendLocked(e, priv, pub)
}

func (j *Journal) appendLocked(e *Entry, priv ed25519.PrivateKey, pub ed25519.PublicKey) error {
	h, err := e.ComputeHash()
	if err != nil {
		return fmt.Errorf("recompute entry hash: %w", err)
	}
	e.Hash = h

	if len(j.entries) > 0 {
		last := j.entries[len(j.entries)-1]
		if e.PrevHash != last.Hash {
			return fmt.Errorf("%w: expected %s, got %s", ErrPrevHashMismatch, last.Hash, e.PrevHash)
		}
	} else if e.PrevHash != "" {
		return fmt.Errorf("%w: first entry must have empty prevHash", ErrPrevHashMismatch)
	}

	if len(priv) == 0 {
		return ErrNoKey
	}
	e.Signature = hex.EncodeToString(ed25519.Sign(priv, []byte(e.Hash)))
	e.PubKey = hex.EncodeToString(pub)

	f, err := os.OpenFile(j.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()
	if err := json.NewEncoder(f).Encode(e); err != nil {
		return fmt.Errorf("write journal: %w", err)
	}

	j.entries = append(j.entries, e)
	return nil
}

// Verify re-computes every entry hash, checks the chain links, the
// index sequence, and every signature.
func (j *Journal) Verify() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	for i, e := range j.entries {
		h, err := e.ComputeHash()
		if err != nil {
			return fmt.Errorf("compute hash for index %d: %w", e.Index, err)
		}
		if h != e.Hash {
			return fmt.Errorf("%w: at index %d", ErrHashMismatch, e.Index)
		}
		if i > 0 && e.PrevHash != j.entries[i-1].Hash {
			return fmt.Errorf("%w: at index %d", ErrPrevHashMismatch, e.Index)
		}
		if e.Index != i {
			return fmt.Errorf("entry index mismatch: expected %d, got %d", i, e.Index)
		}

		pub, err := hex.DecodeString(e.PubKey)
		if err != nil || len(pub) != ed25519.PublicKeySize {
			return fmt.Errorf("%w: bad public key at index %d", ErrBadSignature, e.Index)
		}
		sig, err := hex.DecodeString(e.Signature)
		if err != nil || !ed25519.Verify(ed25519.PublicKey(pub), []byte(e.Hash), sig) {
			return fmt.Errorf("%w: at index %d", ErrBadSignature, e.Index)
		}
	}
	return nil
}

// NextIndex returns the index the next entry should carry.
func (j *Journal) NextIndex() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.entries)
}

// LastHash returns the newest entry's hash, or empty for a fresh journal.
func (j *Journal) LastHash() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	if len(j.entries) == 0 {
		return ""
	}
	return j.entries[len(j.entries)-1].Hash
}

// Entries returns a copy of the journal's entries, oldest first.
func (j *Journal) Entries() []*Entry {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]*Entry, len(j.entries))
	copy(out, j.entries)
	return out
}
