// Package server exposes the engine over HTTP: submit a trigger event,
// poll run status, fetch reports and artifacts, verify the audit
// journal. Runs execute asynchronously; submission returns a run id
// immediately.
package server

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"scanci/internal/audit"
	"scanci/internal/core"
	"scanci/internal/storage"
)

// Config wires a server instance.
type Config struct {
	Pipeline *core.Pipeline
	RepoDir  string // repository the steps run against
	DataDir  string // per-run stores live under <DataDir>/runs/<id>
	Journal  *audit.Journal
	Priv     ed25519.PrivateKey
	Pub      ed25519.PublicKey
	Logger   *log.Logger
}

type runState string

const (
	runPending   runState = "pending"
	runRunning   runState = "running"
	runCompleted runState = "completed"
)

type run struct {
	ID        string
	State     runState
	Trigger   core.TriggerContext
	Submitted time.Time
	Store     *storage.Store
	Report    *core.RunReport
}

// Server owns the run registry. All map access goes through the mutex;
// run execution itself shares nothing across runs.
type Server struct {
	mu   sync.Mutex
	cfg  Config
	runs map[string]*run
	log  *log.Logger
}

// New creates a server from the given config.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Server{cfg: cfg, runs: make(map[string]*run), log: logger}
}

// Router builds the chi route tree.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Post("/runs", s.handleSubmitRun)
	r.Get("/runs", s.handleListRuns)
	r.Get("/runs/{id}", s.handleRunStatus)
	r.Get("/runs/{id}/report", s.handleRunReport)
	r.Get("/runs/{id}/artifacts/{job}/{name}", s.handleArtifact)
	r.Get("/audit/verify", s.handleAuditVerify)
	return r
}

type submitRequest struct {
	Trigger      string   `json:"trigger"`
	Branch       string   `json:"branch"`
	ChangedFiles []string `json:"changedFiles"`
	BaseRef      string   `json:"baseRef"` // diffed against HEAD when changedFiles is absent
}

type submitResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// POST /runs -> accept a trigger event and start a run.
func (s *Server) handleSubmitRun(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "cannot decode request body", http.StatusBadRequest)
		return
	}
	trigger, err := core.ParseTrigger(req.Trigger)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	changes := core.ChangeSet(req.ChangedFiles)
	if len(changes) == 0 && req.BaseRef != "" {
		changes, err = core.GitChangedFiles(r.Context(), s.cfg.RepoDir, req.BaseRef)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	id := uuid.NewString()
	rn := &run{
		ID:        id,
		State:     runPending,
		Trigger:   core.TriggerContext{Trigger: trigger, Branch: req.Branch},
		Submitted: time.Now().UTC(),
		Store:     storage.NewStore(filepath.Join(s.cfg.DataDir, "runs", id)),
	}

	s.mu.Lock()
	s.runs[id] = rn
	s.mu.Unlock()

	go s.execute(rn, changes)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(submitResponse{ID: id, Status: string(runPending)})
}

// execute runs the pipeline for one submitted event and journals the
// outcome. It runs on its own goroutine per run.
func (s *Server) execute(rn *run, changes core.ChangeSet) {
	s.mu.Lock()
	rn.State = runRunning
	s.mu.Unlock()

	report := core.Execute(context.Background(), s.cfg.Pipeline, changes, rn.Trigger, core.RunOptions{
		RunID:   rn.ID,
		RepoDir: s.cfg.RepoDir,
		Store:   rn.Store,
		Logger:  s.log.With("run", rn.ID),
	})

	if s.cfg.Journal != nil {
		sink := audit.Sink{Journal: s.cfg.Journal, Priv: s.cfg.Priv, Pub: s.cfg.Pub}
		if err := sink.Publish(report); err != nil {
			s.log.Error("cannot journal run report", "run", rn.ID, "err", err)
		}
	}

	s.mu.Lock()
	rn.Report = report
	rn.State = runCompleted
	s.mu.Unlock()
	s.log.Info("run completed", "run", rn.ID, "overall", report.Overall)
}

type runStatus struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	Trigger   string    `json:"trigger"`
	Branch    string    `json:"branch,omitempty"`
	Submitted time.Time `json:"submitted"`
	Overall   string    `json:"overall,omitempty"`
}

func (s *Server) statusOf(rn *run) runStatus {
	st := runStatus{
		ID:        rn.ID,
		Status:    string(rn.State),
		Trigger:   string(rn.Trigger.Trigger),
		Branch:    rn.Trigger.Branch,
		Submitted: rn.Submitted,
	}
	if rn.Report != nil {
		st.Overall = string(rn.Report.Overall)
	}
	return st
}

// GET /runs -> list submitted runs.
func (s *Server) handleListRuns(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	out := make([]runStatus, 0, len(s.runs))
	for _, rn := range s.runs {
		out = append(out, s.statusOf(rn))
	}
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

func (s *Server) lookup(r *http.Request) (*run, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rn, ok := s.runs[chi.URLParam(r, "id")]
	return rn, ok
}

// GET /runs/{id} -> run status.
func (s *Server) handleRunStatus(w http.ResponseWriter, r *http.Request) {
	rn, ok := s.lookup(r)
	if !ok {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}
	s.mu.Lock()
	st := s.statusOf(rn)
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(st)
}

// GET /runs/{id}/report -> canonical run report.
func (s *Server) handleRunReport(w http.ResponseWriter, r *http.Request) {
	rn, ok := s.lookup(r)
	if !ok {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}
	s.mu.Lock()
	report := rn.Report
	s.mu.Unlock()
	if report == nil {
		http.Error(w, "run not completed yet", http.StatusConflict)
		return
	}
	data, err := report.Canonical()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(data)
}

// GET /runs/{id}/artifacts/{job}/{name} -> stored artifact bytes.
func (s *Server) handleArtifact(w http.ResponseWriter, r *http.Request) {
	rn, ok := s.lookup(r)
	if !ok {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}
	ref, err := rn.Store.Get(chi.URLParam(r, "job"), chi.URLParam(r, "name"))
	if errors.Is(err, storage.ErrNotFound) {
		http.Error(w, "artifact not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("X-Checksum-Sha256", ref.SHA256)
	http.ServeFile(w, r, ref.Path)
}

// GET /audit/verify -> walk the journal chain.
func (s *Server) handleAuditVerify(w http.ResponseWriter, _ *http.Request) {
	if s.cfg.Journal == nil {
		http.Error(w, "audit journal not configured", http.StatusNotFound)
		return
	}
	if err := s.cfg.Journal.Verify(); err != nil {
		http.Error(w, "journal verification failed: "+err.Error(), http.StatusConflict)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"ok":      true,
		"entries": len(s.cfg.Journal.Entries()),
	})
}
