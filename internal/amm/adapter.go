package amm

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/zcombinatorio/percent-sub003/internal/chain"
	"github.com/zcombinatorio/percent-sub003/internal/domain"
)

// Reader is the chain access the adapter needs. *chain.Client satisfies it.
type Reader interface {
	HasCode(ctx context.Context, addr common.Address) (bool, error)
	Call(ctx context.Context, to common.Address, contract *abi.ABI, method string, args ...any) ([]any, error)
	Clock(ctx context.Context) (domain.ClockContext, error)
}

// Adapter reads pool state and builds router swaps.
type Adapter struct {
	reader Reader
	router common.Address
	logger *slog.Logger
}

// NewAdapter creates an Adapter that routes swaps through router.
func NewAdapter(reader Reader, router common.Address, logger *slog.Logger) *Adapter {
	return &Adapter{
		reader: reader,
		router: router,
		logger: logger.With(slog.String("component", "amm")),
	}
}

// Clock returns the current chain clock.
func (a *Adapter) Clock(ctx context.Context) (domain.ClockContext, error) {
	return a.reader.Clock(ctx)
}

// FetchState loads reserves, fee and optional fee schedule for pool and
// orients them to the given base/quote assets.
func (a *Adapter) FetchState(ctx context.Context, pool common.Address, base, quote domain.Asset) (domain.PoolState, error) {
	ok, err := a.reader.HasCode(ctx, pool)
	if err != nil {
		return domain.PoolState{}, fmt.Errorf("amm: %s: %w: %w", pool.Hex(), domain.ErrPoolUnavailable, err)
	}
	if !ok {
		return domain.PoolState{}, fmt.Errorf("amm: no contract at %s: %w", pool.Hex(), domain.ErrPoolUnavailable)
	}

	token0, err := a.address(ctx, pool, "token0")
	if err != nil {
		return domain.PoolState{}, err
	}
	token1, err := a.address(ctx, pool, "token1")
	if err != nil {
		return domain.PoolState{}, err
	}
	out, err := a.reader.Call(ctx, pool, chain.PoolABI, "getReserves")
	if err != nil || len(out) < 2 {
		return domain.PoolState{}, fmt.Errorf("amm: reserves of %s: %w: %v", pool.Hex(), domain.ErrPoolUnavailable, err)
	}
	r0, ok0 := out[0].(*big.Int)
	r1, ok1 := out[1].(*big.Int)
	if !ok0 || !ok1 {
		return domain.PoolState{}, fmt.Errorf("amm: reserves of %s: unexpected types: %w", pool.Hex(), domain.ErrPoolUnavailable)
	}

	state := domain.PoolState{Address: pool, Base: base, Quote: quote}
	switch {
	case token0 == base.Token && token1 == quote.Token:
		state.BaseReserve, state.QuoteReserve = r0, r1
	case token0 == quote.Token && token1 == base.Token:
		state.BaseReserve, state.QuoteReserve = r1, r0
	default:
		return domain.PoolState{}, fmt.Errorf("amm: pool %s trades %s/%s, not the market pair: %w",
			pool.Hex(), token0.Hex(), token1.Hex(), domain.ErrPoolUnavailable)
	}

	feeOut, err := a.reader.Call(ctx, pool, chain.PoolABI, "swapFeeBps")
	if err != nil || len(feeOut) == 0 {
		return domain.PoolState{}, fmt.Errorf("amm: fee of %s: %w: %v", pool.Hex(), domain.ErrPoolUnavailable, err)
	}
	if fee, ok := feeOut[0].(uint16); ok {
		state.FeeBps = uint32(fee)
	}

	// Pools without a schedule revert on feeSchedule; treat that as static.
	if sched, err := a.reader.Call(ctx, pool, chain.PoolABI, "feeSchedule"); err == nil {
		state.Schedule = parseSchedule(sched)
	} else {
		a.logger.DebugContext(ctx, "no fee schedule", slog.String("pool", pool.Hex()), slog.String("error", err.Error()))
	}
	return state, nil
}

func parseSchedule(out []any) *domain.FeeSchedule {
	if len(out) < 5 {
		return nil
	}
	cliff, _ := out[0].(uint16)
	reduction, _ := out[1].(uint16)
	period, _ := out[2].(uint32)
	periods, _ := out[3].(uint16)
	activated, _ := out[4].(uint64)
	if cliff == 0 {
		return nil
	}
	return &domain.FeeSchedule{
		CliffFeeBps:   uint32(cliff),
		ReductionBps:  uint32(reduction),
		PeriodSeconds: uint64(period),
		Periods:       uint32(periods),
		ActivatedAt:   time.Unix(int64(activated), 0).UTC(),
	}
}

func (a *Adapter) address(ctx context.Context, pool common.Address, method string) (common.Address, error) {
	out, err := a.reader.Call(ctx, pool, chain.PoolABI, method)
	if err != nil || len(out) == 0 {
		return common.Address{}, fmt.Errorf("amm: %s of %s: %w: %v", method, pool.Hex(), domain.ErrPoolUnavailable, err)
	}
	addr, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("amm: %s of %s is %T: %w", method, pool.Hex(), out[0], domain.ErrPoolUnavailable)
	}
	return addr, nil
}

// Quote quotes an exact-input swap against a fetched state.
func (a *Adapter) Quote(state domain.PoolState, amountIn *big.Int, input domain.AssetClass, slippageBps uint32, clock domain.ClockContext) (domain.Quote, error) {
	return QuoteExactIn(state, amountIn, input, slippageBps, clock)
}

// BuildSwap encodes a router swap for q, paying out to recipient.
func (a *Adapter) BuildSwap(state domain.PoolState, q domain.Quote, recipient common.Address, deadline time.Time) (domain.UnsignedInstruction, error) {
	tokenIn, tokenOut := state.Quote.Token, state.Base.Token
	if q.Input == domain.AssetBase {
		tokenIn, tokenOut = tokenOut, tokenIn
	}
	data, err := chain.RouterABI.Pack("swapExactTokensForTokens",
		q.AmountIn,
		q.MinAmountOut,
		[]common.Address{tokenIn, tokenOut},
		recipient,
		big.NewInt(deadline.Unix()),
	)
	if err != nil {
		return domain.UnsignedInstruction{}, fmt.Errorf("amm: pack swap: %w", err)
	}
	return domain.UnsignedInstruction{
		Label: fmt.Sprintf("swap %s->%s on %s", q.Input, opposite(q.Input), state.Address.Hex()),
		To:    a.router,
		Data:  data,
		Approval: &domain.Approval{
			Token:   tokenIn,
			Spender: a.router,
			Amount:  new(big.Int).Set(q.AmountIn),
		},
	}, nil
}

func opposite(c domain.AssetClass) domain.AssetClass {
	if c == domain.AssetBase {
		return domain.AssetQuote
	}
	return domain.AssetBase
}
