package handler

import (
	"net/http"
	"sync"
	"time"
)

// RunTracker remembers the outcome of the latest run for the status
// endpoint. It is safe for concurrent use.
type RunTracker struct {
	mu      sync.Mutex
	runs    int
	stage   string
	runID   string
	lastErr string
	at      time.Time
}

// Observe stores the outcome of a finished run.
func (t *RunTracker) Observe(stage, runID string, err error, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.runs++
	t.stage, t.runID, t.at = stage, runID, at
	t.lastErr = ""
	if err != nil {
		t.lastErr = err.Error()
	}
}

type statusView struct {
	Mode      string `json:"mode"`
	Market    string `json:"market"`
	DryRun    bool   `json:"dry_run"`
	Runs      int    `json:"runs"`
	LastStage string `json:"last_stage,omitempty"`
	LastRunID string `json:"last_run_id,omitempty"`
	LastError string `json:"last_error,omitempty"`
	LastRunAt string `json:"last_run_at,omitempty"`
}

// StatusHandler serves the engine mode and the latest run outcome.
type StatusHandler struct {
	mode    string
	market  string
	dryRun  bool
	tracker *RunTracker
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(mode, market string, dryRun bool, tracker *RunTracker) *StatusHandler {
	return &StatusHandler{mode: mode, market: market, dryRun: dryRun, tracker: tracker}
}

// GetStatus responds with the engine mode and the latest run.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	v := statusView{Mode: h.mode, Market: h.market, DryRun: h.dryRun}
	if h.tracker != nil {
		h.tracker.mu.Lock()
		v.Runs = h.tracker.runs
		v.LastStage = h.tracker.stage
		v.LastRunID = h.tracker.runID
		v.LastError = h.tracker.lastErr
		if !h.tracker.at.IsZero() {
			v.LastRunAt = h.tracker.at.UTC().Format(time.RFC3339)
		}
		h.tracker.mu.Unlock()
	}
	writeJSON(w, http.StatusOK, v)
}
