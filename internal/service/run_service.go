// Package service composes the arbitrage components into a single run:
// lock, read, detect, size, execute and record.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/zcombinatorio/percent-sub003/internal/arbitrage"
	"github.com/zcombinatorio/percent-sub003/internal/domain"
	"github.com/zcombinatorio/percent-sub003/internal/executor"
	"github.com/zcombinatorio/percent-sub003/internal/metrics"
)

// ErrRunIncomplete is returned when an execution stopped before its last
// step. The completed legs are in the ledger for reconciliation.
var ErrRunIncomplete = errors.New("run incomplete")

// Stage is where a run ended.
type Stage string

const (
	StageNoOpportunity       Stage = "no_opportunity"
	StageBelowThreshold      Stage = "below_threshold"
	StageInsufficientCapital Stage = "insufficient_capital"
	StageUnprofitable        Stage = "unprofitable"
	StageDryRun              Stage = "dry_run"
	StageExecuted            Stage = "executed"
	StageSetupFailed         Stage = "setup_failed"
)

// MarketSource loads market configuration and TWAP context.
type MarketSource interface {
	GetMarket(ctx context.Context, id string) (domain.MarketConfiguration, error)
	GetTWAP(ctx context.Context, id string) ([]domain.TWAPObservation, error)
}

// BalanceReader is the signer-side view the run needs before execution.
type BalanceReader interface {
	Address() common.Address
	Balance(ctx context.Context, token common.Address) (*big.Int, error)
}

// Executor runs a sized plan.
type Executor interface {
	Execute(ctx context.Context, plan executor.Plan) domain.ExecutionResult
}

// RunConfig holds the run parameters. Capital amounts are in human units
// of the market's quote asset.
type RunConfig struct {
	MarketID              string
	MinProfitBps          int64
	MaxSlippageBps        uint32
	MaxCapital            decimal.Decimal
	CapitalSafetyFraction decimal.Decimal
	SizingIncrement       decimal.Decimal
	DryRun                bool
	LockTTL               time.Duration
	TxDeadline            time.Duration
}

// RunOutcome describes what one run did.
type RunOutcome struct {
	RunID       string
	Stage       Stage
	Opportunity domain.Opportunity
	Sizing      domain.Sizing
	Result      *domain.ExecutionResult
}

// RunDeps bundles the collaborators of a RunService. Runs, Bus and Reports
// are optional.
type RunDeps struct {
	Markets  MarketSource
	Prices   *PriceReader
	Detector *arbitrage.Detector
	Sizer    *arbitrage.Sizer
	Quoter   arbitrage.Quoter
	Wallet   BalanceReader
	Executor Executor
	Locks    domain.LockManager
	Runs     domain.RunStore
	Bus      domain.EventBus
	Reports  domain.ReportWriter
}

// RunService performs complete arbitrage runs for one market.
type RunService struct {
	deps   RunDeps
	cfg    RunConfig
	logger *slog.Logger
	now    func() time.Time
}

// NewRunService creates a RunService.
func NewRunService(deps RunDeps, cfg RunConfig, logger *slog.Logger) *RunService {
	return &RunService{
		deps:   deps,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "run_service")),
		now:    time.Now,
	}
}

// RunOnce performs one evaluation of the configured market. Only a fatal
// setup error or an incomplete execution is returned as an error; every
// other ending is reported through RunOutcome.Stage.
func (s *RunService) RunOnce(ctx context.Context) (out RunOutcome, err error) {
	out.Stage = StageSetupFailed
	defer func() { metrics.RunsTotal.WithLabelValues(string(out.Stage)).Inc() }()

	signer := s.deps.Wallet.Address()
	unlock, err := s.deps.Locks.Acquire(ctx, "signer:"+signer.Hex(), s.cfg.LockTTL)
	if err != nil {
		return out, fmt.Errorf("run_service: signer %s: %w", signer.Hex(), err)
	}
	defer unlock()

	market, err := s.deps.Markets.GetMarket(ctx, s.cfg.MarketID)
	if err != nil {
		return out, fmt.Errorf("run_service: load market %s: %w", s.cfg.MarketID, err)
	}
	if err := market.Validate(); err != nil {
		return out, fmt.Errorf("run_service: %w", err)
	}
	s.logTWAP(ctx, market.ID)

	snap, state, err := s.deps.Prices.Read(ctx, market)
	if err != nil {
		return out, fmt.Errorf("run_service: %w", err)
	}

	opp := s.deps.Detector.Detect(market, snap)
	out.Opportunity = opp
	metrics.OpportunityProfitBps.WithLabelValues(market.ID, string(opp.Direction)).Set(float64(opp.EstimatedProfitBps))
	s.logger.InfoContext(ctx, "opportunity detected",
		slog.String("market", market.ID),
		slog.String("direction", string(opp.Direction)),
		slog.String("spot", opp.Spot.String()),
		slog.Int("included_legs", opp.IncludedLegs),
		slog.Int64("total_fee_bps", opp.TotalFeeBps),
		slog.Int64("estimated_profit_bps", opp.EstimatedProfitBps),
	)
	if opp.Direction == domain.DirectionNone {
		out.Stage = StageNoOpportunity
		return out, nil
	}
	if !opp.Actionable(s.cfg.MinProfitBps) {
		out.Stage = StageBelowThreshold
		return out, nil
	}

	balance, err := s.deps.Wallet.Balance(ctx, market.Quote.Token)
	if err != nil {
		return out, fmt.Errorf("run_service: quote balance: %w", err)
	}
	bounds := arbitrage.Bounds{
		Increment: toUnits(s.cfg.SizingIncrement, market.Quote.Decimals),
		MaxUsable: arbitrage.MaxUsableCapital(balance, s.cfg.CapitalSafetyFraction, toUnits(s.cfg.MaxCapital, market.Quote.Decimals)),
	}
	if bounds.Increment.Sign() <= 0 || bounds.MaxUsable.Cmp(bounds.Increment) < 0 {
		s.logger.InfoContext(ctx, "not enough capital to size a trade",
			slog.String("balance", balance.String()),
			slog.String("max_usable", bounds.MaxUsable.String()),
			slog.String("increment", bounds.Increment.String()),
		)
		out.Stage = StageInsufficientCapital
		return out, nil
	}

	sim := arbitrage.PoolSimulator{
		Direction:   opp.Direction,
		Spot:        state.Spot,
		Legs:        state.ActiveStates(),
		Quoter:      s.deps.Quoter,
		SlippageBps: s.cfg.MaxSlippageBps,
		Clock:       state.Clock,
	}
	sizing, err := s.deps.Sizer.Search(ctx, sim, bounds)
	if err != nil {
		return out, fmt.Errorf("run_service: size: %w", err)
	}
	out.Sizing = sizing
	if !sizing.Profitable() {
		out.Stage = StageUnprofitable
		return out, nil
	}

	if s.cfg.DryRun {
		s.logger.InfoContext(ctx, "dry run: skipping execution",
			slog.String("market", market.ID),
			slog.String("direction", string(opp.Direction)),
			slog.String("amount", sizing.Optimal.Amount.String()),
			slog.String("expected_profit", sizing.Optimal.Profit.String()),
		)
		out.Stage = StageDryRun
		return out, nil
	}

	return s.execute(ctx, out, market, signer)
}

func (s *RunService) execute(ctx context.Context, out RunOutcome, market domain.MarketConfiguration, signer common.Address) (RunOutcome, error) {
	opp, sizing := out.Opportunity, out.Sizing
	out.RunID = uuid.NewString()
	rec := domain.RunRecord{
		ID:                 out.RunID,
		MarketID:           market.ID,
		Signer:             signer.Hex(),
		Direction:          opp.Direction,
		Status:             domain.RunPending,
		EstimatedProfitBps: opp.EstimatedProfitBps,
		SizedAmount:        sizing.Optimal.Amount,
		ExpectedProfit:     sizing.Optimal.Profit,
		StartedAt:          s.now(),
	}
	if s.deps.Runs != nil {
		// The run row must exist before legs are appended to it.
		if err := s.deps.Runs.CreateRun(ctx, rec); err != nil {
			return out, fmt.Errorf("run_service: create run: %w", err)
		}
	}

	res := s.deps.Executor.Execute(ctx, executor.Plan{
		RunID:       out.RunID,
		Market:      market,
		Direction:   opp.Direction,
		Amount:      sizing.Optimal.Amount,
		SlippageBps: s.cfg.MaxSlippageBps,
		Deadline:    s.cfg.TxDeadline,
	})
	out.Result = &res
	out.Stage = StageExecuted

	completed := s.now()
	rec.Status = res.Status
	rec.Spent = res.Spent
	rec.Realized = res.Realized
	rec.CompletedAt = &completed
	if res.Err != nil {
		rec.Error = res.Err.Error()
	}
	// Bookkeeping below must not be lost to a cancelled run context.
	bg := context.WithoutCancel(ctx)
	if s.deps.Runs != nil {
		if err := s.deps.Runs.CompleteRun(bg, rec); err != nil {
			s.logger.ErrorContext(ctx, "complete run failed", slog.String("run_id", rec.ID), slog.String("error", err.Error()))
		}
	}
	if res.Realized != nil {
		f, _ := new(big.Float).SetInt(res.Realized).Float64()
		metrics.RealizedProfit.WithLabelValues(market.ID).Set(f)
	}
	s.publish(bg, rec)
	s.archive(bg, rec, out)

	if !res.Success {
		return out, fmt.Errorf("run_service: run %s %s: %w: %w", rec.ID, res.Status, ErrRunIncomplete, res.Err)
	}
	return out, nil
}

func (s *RunService) logTWAP(ctx context.Context, marketID string) {
	obs, err := s.deps.Markets.GetTWAP(ctx, marketID)
	if err != nil {
		s.logger.DebugContext(ctx, "twap unavailable", slog.String("market", marketID), slog.String("error", err.Error()))
		return
	}
	for _, o := range obs {
		s.logger.DebugContext(ctx, "twap",
			slog.String("market", marketID),
			slog.Int("leg", o.Leg),
			slog.String("price", o.Price.String()),
		)
	}
}

func (s *RunService) publish(ctx context.Context, rec domain.RunRecord) {
	if s.deps.Bus == nil {
		return
	}
	evt, _ := json.Marshal(map[string]any{
		"event":     "run_completed",
		"run_id":    rec.ID,
		"market":    rec.MarketID,
		"direction": rec.Direction,
		"status":    rec.Status,
		"spent":     bigString(rec.Spent),
		"realized":  bigString(rec.Realized),
		"error":     rec.Error,
	})
	if err := s.deps.Bus.Publish(ctx, "runs", evt); err != nil {
		s.logger.WarnContext(ctx, "publish run event failed", slog.String("run_id", rec.ID), slog.String("error", err.Error()))
	}
}

// runReport is the archived JSON form of an executed run.
type runReport struct {
	Run                domain.RunRecord   `json:"run"`
	Spot               string             `json:"spot"`
	Premiums           []*decimal.Decimal `json:"premiums"`
	TotalFeeBps        int64              `json:"total_fee_bps"`
	CandidatesSized    int                `json:"candidates_sized"`
	CandidatesFailed   int                `json:"candidates_failed"`
	MaxUsable          string             `json:"max_usable"`
	Legs               []domain.LegResult `json:"legs"`
	EstimatedProfitBps int64              `json:"estimated_profit_bps"`
}

func (s *RunService) archive(ctx context.Context, rec domain.RunRecord, out RunOutcome) {
	if s.deps.Reports == nil {
		return
	}
	rep := runReport{
		Run:                rec,
		Spot:               out.Opportunity.Spot.String(),
		Premiums:           out.Opportunity.Premiums,
		TotalFeeBps:        out.Opportunity.TotalFeeBps,
		CandidatesSized:    out.Sizing.Evaluated,
		CandidatesFailed:   out.Sizing.Failed,
		MaxUsable:          bigString(out.Sizing.MaxUsable),
		EstimatedProfitBps: rec.EstimatedProfitBps,
	}
	if out.Result != nil {
		rep.Legs = out.Result.Legs
	}
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		s.logger.WarnContext(ctx, "encode run report failed", slog.String("run_id", rec.ID), slog.String("error", err.Error()))
		return
	}
	path := ReportPath(rec.MarketID, rec.StartedAt, rec.ID)
	if err := s.deps.Reports.Put(ctx, path, data, "application/json"); err != nil {
		s.logger.WarnContext(ctx, "archive run report failed", slog.String("path", path), slog.String("error", err.Error()))
	}
}

// ReportPath is the object path of a run report.
func ReportPath(marketID string, startedAt time.Time, runID string) string {
	return fmt.Sprintf("runs/%s/%s/%s.json", marketID, startedAt.UTC().Format("2006-01-02"), runID)
}

// LegRecorder appends executed legs to the run ledger.
type LegRecorder struct {
	Runs domain.RunStore
}

// RecordLeg implements executor.Recorder.
func (r LegRecorder) RecordLeg(ctx context.Context, runID string, leg domain.LegResult) error {
	if r.Runs == nil {
		return nil
	}
	return r.Runs.AppendLeg(ctx, runID, leg)
}

// toUnits converts a human amount to base units, rounding down.
func toUnits(v decimal.Decimal, decimals int32) *big.Int {
	if v.Sign() <= 0 {
		return new(big.Int)
	}
	return v.Shift(decimals).Floor().BigInt()
}

func bigString(v *big.Int) string {
	if v == nil {
		return ""
	}
	return v.String()
}
