package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/zcombinatorio/percent-sub003/internal/domain"
)

// RunReader is the read side of the run ledger.
type RunReader interface {
	GetRun(ctx context.Context, id string) (domain.RunRecord, []domain.LegResult, error)
	ListRecent(ctx context.Context, limit int) ([]domain.RunRecord, error)
}

type runView struct {
	ID                 string     `json:"id"`
	MarketID           string     `json:"market_id"`
	Signer             string     `json:"signer"`
	Direction          string     `json:"direction"`
	Status             string     `json:"status"`
	EstimatedProfitBps int64      `json:"estimated_profit_bps"`
	SizedAmount        string     `json:"sized_amount"`
	ExpectedProfit     string     `json:"expected_profit"`
	Spent              string     `json:"spent,omitempty"`
	Realized           string     `json:"realized,omitempty"`
	Error              string     `json:"error,omitempty"`
	StartedAt          time.Time  `json:"started_at"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
	Legs               []legView  `json:"legs,omitempty"`
}

type legView struct {
	Seq       int       `json:"seq"`
	Kind      string    `json:"kind"`
	Leg       int       `json:"leg"`
	TxHash    string    `json:"tx_hash,omitempty"`
	AmountIn  string    `json:"amount_in,omitempty"`
	AmountOut string    `json:"amount_out,omitempty"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

func toRunView(r domain.RunRecord) runView {
	return runView{
		ID:                 r.ID,
		MarketID:           r.MarketID,
		Signer:             r.Signer,
		Direction:          string(r.Direction),
		Status:             string(r.Status),
		EstimatedProfitBps: r.EstimatedProfitBps,
		SizedAmount:        amount(r.SizedAmount),
		ExpectedProfit:     amount(r.ExpectedProfit),
		Spent:              amount(r.Spent),
		Realized:           amount(r.Realized),
		Error:              r.Error,
		StartedAt:          r.StartedAt,
		CompletedAt:        r.CompletedAt,
	}
}

// RunsHandler serves the run ledger.
type RunsHandler struct {
	runs   RunReader
	logger *slog.Logger
}

// NewRunsHandler creates a RunsHandler.
func NewRunsHandler(runs RunReader, logger *slog.Logger) *RunsHandler {
	return &RunsHandler{runs: runs, logger: logger.With(slog.String("handler", "runs"))}
}

// ListRecent returns the latest runs.
// GET /api/runs/recent?limit=
func (h *RunsHandler) ListRecent(w http.ResponseWriter, r *http.Request) {
	runs, err := h.runs.ListRecent(r.Context(), parseLimit(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list runs failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	out := make([]runView, 0, len(runs))
	for _, run := range runs {
		out = append(out, toRunView(run))
	}
	writeJSON(w, http.StatusOK, out)
}

// GetRun returns one run with its legs.
// GET /api/runs/{id}
func (h *RunsHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	run, legs, err := h.runs.GetRun(r.Context(), id)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "get run failed", slog.String("id", id), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}
	v := toRunView(run)
	for _, l := range legs {
		v.Legs = append(v.Legs, legView{
			Seq:       l.Seq,
			Kind:      string(l.Kind),
			Leg:       l.Leg,
			TxHash:    l.TxHash,
			AmountIn:  amount(l.AmountIn),
			AmountOut: amount(l.AmountOut),
			Error:     l.Error,
			At:        l.At,
		})
	}
	writeJSON(w, http.StatusOK, v)
}
