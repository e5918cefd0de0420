// Package audit keeps a tamper-evident history of scan runs: an
// append-only JSONL journal where each entry hashes the canonical run
// report, links to the previous entry's hash, and is signed with the
// engine's ed25519 key. Verification re-walks the whole chain.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Entry is one journaled run.
type Entry struct {
	Index     int    `json:"index"`
	Timestamp string `json:"timestamp"`
	RunID     string `json:"runId"`
	Overall   string `json:"overall"`
	ReportSHA string `json:"reportSha"` // sha256 of the canonical run report
	PrevHash  string `json:"prevHash"`
	Hash      string `json:"hash"`
	Signature string `json:"signature"`
	PubKey    string `json:"pubKey"`
}

// canonicalData returns the bytes hashed into Entry.Hash. Hash,
// Signature and PubKey are excluded on purpose.
func (e *Entry) canonicalData() ([]byte, error) {
	view := struct {
		Index     int    `json:"index"`
		Timestamp string `json:"timestamp"`
		RunID     string `json:"runId"`
		Overall   string `json:"overall"`
		ReportSHA string `json:"reportSha"`
		PrevHash  string `json:"prevHash"`
	}{
		Index:     e.Index,
		Timestamp: e.Timestamp,
		RunID:     e.RunID,
		Overall:   e.Overall,
		ReportSHA: e.ReportSHA,
		PrevHash:  e.PrevHash,
	}
	return json.Marshal(view)
}

// ComputeHash calculates sha256 over the canonical entry data.
func (e *Entry) ComputeHash() (string, error) {
	data, err := e.canonicalData()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// NewEntry builds an entry for a run report and computes its hash.
// The signature is attached when the entry is appended to a journal.
func NewEntry(index int, runID, overall string, report []byte, prevHash string) (*Entry, error) {
	sum := sha256.Sum256(report)
	e := &Entry{
		Index:     index,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		RunID:     runID,
		Overall:   overall,
		ReportSHA: hex.EncodeToString(sum[:]),
		PrevHash:  prevHash,
	}
	h, err := e.ComputeHash()
	if err != nil {
		return nil, fmt.Errorf("compute entry hash: %w", err)
	}
	e.Hash = h
	return e, nil
}
