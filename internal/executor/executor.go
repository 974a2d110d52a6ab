// Package executor runs a sized opportunity as an ordered series of
// on-chain legs.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/zcombinatorio/percent-sub003/internal/arbitrage"
	"github.com/zcombinatorio/percent-sub003/internal/domain"
	"github.com/zcombinatorio/percent-sub003/internal/metrics"
)

// SwapBuilder reads pools and builds swap instructions.
type SwapBuilder interface {
	FetchState(ctx context.Context, pool common.Address, base, quote domain.Asset) (domain.PoolState, error)
	Clock(ctx context.Context) (domain.ClockContext, error)
	Quote(state domain.PoolState, amountIn *big.Int, input domain.AssetClass, slippageBps uint32, clock domain.ClockContext) (domain.Quote, error)
	BuildSwap(state domain.PoolState, q domain.Quote, recipient common.Address, deadline time.Time) (domain.UnsignedInstruction, error)
}

// Vault splits and merges conditional tokens.
type Vault interface {
	Split(ctx context.Context, owner, vault common.Address, class domain.AssetClass, amount *big.Int) (domain.LegResult, error)
	Merge(ctx context.Context, owner, vault common.Address, class domain.AssetClass, amount *big.Int) (domain.LegResult, error)
}

// Wallet signs and submits instructions and reports balances.
type Wallet interface {
	Address() common.Address
	Balance(ctx context.Context, token common.Address) (*big.Int, error)
	Submit(ctx context.Context, inst domain.UnsignedInstruction) (domain.Receipt, error)
}

// Recorder persists each leg as soon as it confirms or fails.
type Recorder interface {
	RecordLeg(ctx context.Context, runID string, leg domain.LegResult) error
}

// Plan is a sized opportunity ready to execute.
type Plan struct {
	RunID       string
	Market      domain.MarketConfiguration
	Direction   domain.Direction
	Amount      *big.Int
	SlippageBps uint32
	Deadline    time.Duration
}

// PlannedLegs is the number of steps a plan takes: spot swap, split, one
// swap per active leg and merge.
func PlannedLegs(activeLegs int) int {
	return activeLegs + 3
}

// LegError identifies the step that stopped a run.
type LegError struct {
	Seq   int
	Kind  domain.LegKind
	Leg   int
	State RunState
	Err   error
}

func (e *LegError) Error() string {
	if e.Kind == domain.LegSwap {
		return fmt.Sprintf("executor: step %d (%s leg %d): %v", e.Seq, e.Kind, e.Leg, e.Err)
	}
	return fmt.Sprintf("executor: step %d (%s): %v", e.Seq, e.Kind, e.Err)
}

func (e *LegError) Unwrap() error { return e.Err }

// Orchestrator executes plans one step at a time. It never retries and
// never unwinds: on the first failure it stops and reports the steps that
// completed.
type Orchestrator struct {
	amm      SwapBuilder
	vault    Vault
	wallet   Wallet
	recorder Recorder
	logger   *slog.Logger
	now      func() time.Time
}

// OrchestratorConfig configures an Orchestrator. Recorder is optional.
type OrchestratorConfig struct {
	AMM      SwapBuilder
	Vault    Vault
	Wallet   Wallet
	Recorder Recorder
	Logger   *slog.Logger
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	return &Orchestrator{
		amm:      cfg.AMM,
		vault:    cfg.Vault,
		wallet:   cfg.Wallet,
		recorder: cfg.Recorder,
		logger:   cfg.Logger.With(slog.String("component", "executor")),
		now:      time.Now,
	}
}

type run struct {
	o      *Orchestrator
	plan   Plan
	owner  common.Address
	m      *machine
	res    domain.ExecutionResult
	logger *slog.Logger
}

// Execute runs plan to completion or to the first failed step.
func (o *Orchestrator) Execute(ctx context.Context, plan Plan) domain.ExecutionResult {
	r := &run{
		o:     o,
		plan:  plan,
		owner: o.wallet.Address(),
		m:     newMachine(),
		res: domain.ExecutionResult{
			RunID:     plan.RunID,
			Direction: plan.Direction,
			Status:    domain.RunPending,
			Spent:     new(big.Int).Set(plan.Amount),
		},
		logger: o.logger.With(
			slog.String("run_id", plan.RunID),
			slog.String("market", plan.Market.ID),
			slog.String("direction", string(plan.Direction)),
		),
	}
	r.logger.InfoContext(ctx, "execution started",
		slog.String("amount", plan.Amount.String()),
		slog.Int("planned_steps", PlannedLegs(len(plan.Market.ActiveLegs()))),
	)

	var received *big.Int
	var err error
	switch plan.Direction {
	case domain.DirectionAbove:
		received, err = r.above(ctx)
	case domain.DirectionBelow:
		received, err = r.below(ctx)
	default:
		err = fmt.Errorf("executor: nothing to execute for direction %q", plan.Direction)
	}
	if err != nil {
		return r.finish(ctx, err)
	}

	r.res.Received = received
	r.res.Realized = new(big.Int).Sub(received, plan.Amount)
	return r.finish(ctx, nil)
}

// above: buy spot base, split it, sell each conditional base, merge the
// smallest conditional quote amount.
func (r *run) above(ctx context.Context) (*big.Int, error) {
	mkt := r.plan.Market
	if err := r.precheck(ctx, mkt.Quote.Token); err != nil {
		return nil, err
	}

	bought, err := r.step(ctx, StateBuyingSpot, domain.LegBuySpot, -1, func() (domain.LegResult, error) {
		return r.swap(ctx, mkt.SpotPool, mkt.Base, mkt.Quote, domain.AssetQuote, r.plan.Amount)
	})
	if err != nil {
		return nil, err
	}
	split, err := r.step(ctx, StateSplitting, domain.LegSplit, -1, func() (domain.LegResult, error) {
		return r.o.vault.Split(ctx, r.owner, mkt.Vault, domain.AssetBase, bought.AmountOut)
	})
	if err != nil {
		return nil, err
	}
	outs, err := r.swapLegs(ctx, domain.AssetBase, split.AmountOut)
	if err != nil {
		return nil, err
	}
	merged, err := r.step(ctx, StateMerging, domain.LegMerge, -1, func() (domain.LegResult, error) {
		return r.o.vault.Merge(ctx, r.owner, mkt.Vault, domain.AssetQuote, arbitrage.Bottleneck(outs))
	})
	if err != nil {
		return nil, err
	}
	return merged.AmountOut, nil
}

// below: split quote, buy conditional base on each leg, merge the smallest
// base amount, sell the base on spot.
func (r *run) below(ctx context.Context) (*big.Int, error) {
	mkt := r.plan.Market
	if err := r.precheck(ctx, mkt.Quote.Token); err != nil {
		return nil, err
	}

	split, err := r.step(ctx, StateSplitting, domain.LegSplit, -1, func() (domain.LegResult, error) {
		return r.o.vault.Split(ctx, r.owner, mkt.Vault, domain.AssetQuote, r.plan.Amount)
	})
	if err != nil {
		return nil, err
	}
	outs, err := r.swapLegs(ctx, domain.AssetQuote, split.AmountOut)
	if err != nil {
		return nil, err
	}
	merged, err := r.step(ctx, StateMerging, domain.LegMerge, -1, func() (domain.LegResult, error) {
		return r.o.vault.Merge(ctx, r.owner, mkt.Vault, domain.AssetBase, arbitrage.Bottleneck(outs))
	})
	if err != nil {
		return nil, err
	}
	sold, err := r.step(ctx, StateSellingSpot, domain.LegSellSpot, -1, func() (domain.LegResult, error) {
		return r.swap(ctx, mkt.SpotPool, mkt.Base, mkt.Quote, domain.AssetBase, merged.AmountOut)
	})
	if err != nil {
		return nil, err
	}
	return sold.AmountOut, nil
}

func (r *run) swapLegs(ctx context.Context, input domain.AssetClass, amount *big.Int) ([]*big.Int, error) {
	var outs []*big.Int
	for _, leg := range r.plan.Market.Legs {
		if !leg.Active() {
			r.logger.InfoContext(ctx, "skipping leg",
				slog.Int("leg", leg.Index),
				slog.String("state", string(leg.State)),
			)
			continue
		}
		res, err := r.step(ctx, StateSwappingLegs, domain.LegSwap, leg.Index, func() (domain.LegResult, error) {
			return r.swap(ctx, leg.Pool, leg.Base, leg.Quote, input, amount)
		})
		if err != nil {
			return nil, err
		}
		outs = append(outs, res.AmountOut)
	}
	if len(outs) == 0 {
		return nil, r.fail(ctx, StateSwappingLegs, domain.LegSwap, -1, errors.New("no active legs"))
	}
	return outs, nil
}

func (r *run) precheck(ctx context.Context, token common.Address) error {
	bal, err := r.o.wallet.Balance(ctx, token)
	if err == nil && bal.Cmp(r.plan.Amount) < 0 {
		err = fmt.Errorf("have %s, need %s: %w", bal, r.plan.Amount, domain.ErrInsufficientBalance)
	}
	if err != nil {
		return &LegError{Seq: 0, Kind: domain.LegPrecheck, Leg: -1, State: StateIdle, Err: err}
	}
	return nil
}

// step moves the machine into state, runs fn and records the outcome.
func (r *run) step(ctx context.Context, state RunState, kind domain.LegKind, leg int, fn func() (domain.LegResult, error)) (domain.LegResult, error) {
	if err := r.m.advance(state); err != nil {
		return domain.LegResult{}, r.fail(ctx, state, kind, leg, err)
	}
	if err := ctx.Err(); err != nil {
		return domain.LegResult{}, r.fail(ctx, state, kind, leg, err)
	}

	start := time.Now()
	res, err := fn()
	if err != nil && res.TxHash != "" {
		metrics.LegDuration.WithLabelValues(string(kind), "unmeasured").Observe(time.Since(start).Seconds())
		return domain.LegResult{}, r.unmeasured(ctx, state, kind, leg, res, err)
	}
	if err != nil {
		metrics.LegDuration.WithLabelValues(string(kind), "failed").Observe(time.Since(start).Seconds())
		return domain.LegResult{}, r.fail(ctx, state, kind, leg, err)
	}
	metrics.LegDuration.WithLabelValues(string(kind), "ok").Observe(time.Since(start).Seconds())

	res.Seq = len(r.res.Legs) + 1
	res.Kind = kind
	res.Leg = leg
	if res.At.IsZero() {
		res.At = r.o.now()
	}
	r.res.Legs = append(r.res.Legs, res)
	r.record(ctx, res)
	r.logger.InfoContext(ctx, "step confirmed",
		slog.Int("seq", res.Seq),
		slog.String("kind", string(kind)),
		slog.Int("leg", leg),
		slog.String("tx", res.TxHash),
		slog.String("amount_in", res.AmountIn.String()),
		slog.String("amount_out", res.AmountOut.String()),
	)
	return res, nil
}

func (r *run) fail(ctx context.Context, state RunState, kind domain.LegKind, leg int, err error) error {
	le := &LegError{Seq: len(r.res.Legs) + 1, Kind: kind, Leg: leg, State: state, Err: err}
	r.record(ctx, domain.LegResult{
		Seq:    le.Seq,
		Kind:   kind,
		Leg:    leg,
		TxHash: domain.BroadcastHash(err),
		Error:  err.Error(),
		At:     r.o.now(),
	})
	return le
}

// unmeasured keeps a step whose transaction confirmed but whose result
// could not be read, then stops the run. The step counts as committed.
func (r *run) unmeasured(ctx context.Context, state RunState, kind domain.LegKind, leg int, res domain.LegResult, err error) error {
	res.Seq = len(r.res.Legs) + 1
	res.Kind = kind
	res.Leg = leg
	res.Error = err.Error()
	if res.At.IsZero() {
		res.At = r.o.now()
	}
	r.res.Legs = append(r.res.Legs, res)
	r.record(ctx, res)
	r.logger.ErrorContext(ctx, "step confirmed but not measured",
		slog.Int("seq", res.Seq),
		slog.String("kind", string(kind)),
		slog.Int("leg", leg),
		slog.String("tx", res.TxHash),
		slog.String("error", err.Error()),
	)
	return &LegError{Seq: res.Seq, Kind: kind, Leg: leg, State: state, Err: err}
}

func (r *run) record(ctx context.Context, leg domain.LegResult) {
	if r.o.recorder == nil {
		return
	}
	// The ledger must see the step even if the run context was cancelled.
	if err := r.o.recorder.RecordLeg(context.WithoutCancel(ctx), r.plan.RunID, leg); err != nil {
		r.logger.WarnContext(ctx, "record leg failed", slog.Int("seq", leg.Seq), slog.String("error", err.Error()))
	}
}

func (r *run) finish(ctx context.Context, err error) domain.ExecutionResult {
	switch {
	case err == nil:
		_ = r.m.advance(StateDone)
		r.res.Success = true
	case len(r.res.Legs) == 0:
		_ = r.m.advance(StateFailed)
		r.res.Err = err
	default:
		_ = r.m.advance(StatePartial)
		r.res.Err = err
	}
	r.res.Status = r.m.state.Status()
	metrics.ExecutionsTotal.WithLabelValues(string(r.plan.Direction), string(r.res.Status)).Inc()

	attrs := []any{
		slog.String("status", string(r.res.Status)),
		slog.Int("completed_steps", len(r.res.Legs)),
	}
	if r.res.Realized != nil {
		attrs = append(attrs, slog.String("realized", r.res.Realized.String()))
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
		r.logger.ErrorContext(ctx, "execution stopped", attrs...)
	} else {
		r.logger.InfoContext(ctx, "execution complete", attrs...)
	}
	return r.res
}

// swap executes one exact-input swap and measures the output as the
// wallet's balance change of the output token.
func (r *run) swap(ctx context.Context, pool common.Address, base, quote domain.Asset, input domain.AssetClass, amount *big.Int) (domain.LegResult, error) {
	if amount == nil || amount.Sign() <= 0 {
		return domain.LegResult{}, fmt.Errorf("swap of non-positive amount on %s", pool.Hex())
	}
	b := r.o.amm
	state, err := b.FetchState(ctx, pool, base, quote)
	if err != nil {
		return domain.LegResult{}, err
	}
	clock, err := b.Clock(ctx)
	if err != nil {
		return domain.LegResult{}, err
	}
	q, err := b.Quote(state, amount, input, r.plan.SlippageBps, clock)
	if err != nil {
		return domain.LegResult{}, err
	}
	inst, err := b.BuildSwap(state, q, r.owner, clock.Timestamp.Add(r.plan.Deadline))
	if err != nil {
		return domain.LegResult{}, err
	}

	outToken := state.Token(domain.AssetBase)
	if input == domain.AssetBase {
		outToken = state.Token(domain.AssetQuote)
	}
	before, err := r.o.wallet.Balance(ctx, outToken)
	if err != nil {
		return domain.LegResult{}, fmt.Errorf("balance before swap: %w", err)
	}
	rcpt, err := r.o.wallet.Submit(ctx, inst)
	if err != nil {
		return domain.LegResult{}, err
	}
	res := domain.LegResult{
		TxHash:   rcpt.TxHash.Hex(),
		AmountIn: new(big.Int).Set(amount),
		At:       r.o.now(),
	}
	after, err := r.o.wallet.Balance(ctx, outToken)
	if err != nil {
		return res, fmt.Errorf("balance after swap %s: %w", rcpt.TxHash.Hex(), err)
	}
	received := new(big.Int).Sub(after, before)
	if received.Sign() <= 0 {
		res.AmountOut = received
		return res, fmt.Errorf("swap %s returned nothing", rcpt.TxHash.Hex())
	}
	res.AmountOut = received
	return res, nil
}
