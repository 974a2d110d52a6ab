// Package amm quotes and builds swaps against constant-product pools.
package amm

import (
	"fmt"
	"math/big"
	"time"

	"github.com/zcombinatorio/percent-sub003/internal/domain"
)

// BpsDenominator is 100% in basis points.
const BpsDenominator = 10_000

var bpsDen = big.NewInt(BpsDenominator)

// AmountOut is the constant-product output for an exact input after the
// fee: in*(1e4-fee)*rOut / (rIn*1e4 + in*(1e4-fee)).
func AmountOut(amountIn, reserveIn, reserveOut *big.Int, feeBps uint32) *big.Int {
	if amountIn.Sign() <= 0 || reserveIn.Sign() <= 0 || reserveOut.Sign() <= 0 || feeBps >= BpsDenominator {
		return new(big.Int)
	}
	inWithFee := new(big.Int).Mul(amountIn, big.NewInt(int64(BpsDenominator-feeBps)))
	num := new(big.Int).Mul(inWithFee, reserveOut)
	den := new(big.Int).Mul(reserveIn, bpsDen)
	den.Add(den, inWithFee)
	return num.Quo(num, den)
}

// MinAmountOut applies the slippage tolerance to a quoted output.
func MinAmountOut(amountOut *big.Int, slippageBps uint32) *big.Int {
	if slippageBps >= BpsDenominator {
		return new(big.Int)
	}
	out := new(big.Int).Mul(amountOut, big.NewInt(int64(BpsDenominator-slippageBps)))
	return out.Quo(out, bpsDen)
}

// EffectiveFeeBps resolves the fee at time now. Without a schedule, or
// before activation, it is the static fee. Otherwise the cliff fee decays by
// ReductionBps per elapsed period and never drops below the static fee.
func EffectiveFeeBps(state domain.PoolState, now time.Time) uint32 {
	s := state.Schedule
	if s == nil || s.CliffFeeBps == 0 || s.PeriodSeconds == 0 || now.Before(s.ActivatedAt) {
		return state.FeeBps
	}
	periods := uint64(now.Sub(s.ActivatedAt)/time.Second) / s.PeriodSeconds
	if s.Periods > 0 && periods > uint64(s.Periods) {
		periods = uint64(s.Periods)
	}
	reduction := periods * uint64(s.ReductionBps)
	if reduction >= uint64(s.CliffFeeBps) {
		return state.FeeBps
	}
	fee := s.CliffFeeBps - uint32(reduction)
	if fee < state.FeeBps {
		return state.FeeBps
	}
	return fee
}

// QuoteExactIn quotes swapping amountIn of the input side through state.
func QuoteExactIn(state domain.PoolState, amountIn *big.Int, input domain.AssetClass, slippageBps uint32, clock domain.ClockContext) (domain.Quote, error) {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return domain.Quote{}, fmt.Errorf("amm: non-positive input: %w", domain.ErrQuoteFailed)
	}
	if state.BaseReserve == nil || state.QuoteReserve == nil || state.BaseReserve.Sign() <= 0 || state.QuoteReserve.Sign() <= 0 {
		return domain.Quote{}, fmt.Errorf("amm: pool %s has empty reserves: %w", state.Address.Hex(), domain.ErrQuoteFailed)
	}

	reserveIn, reserveOut := state.QuoteReserve, state.BaseReserve
	if input == domain.AssetBase {
		reserveIn, reserveOut = state.BaseReserve, state.QuoteReserve
	}
	fee := EffectiveFeeBps(state, clock.Timestamp)
	out := AmountOut(amountIn, reserveIn, reserveOut, fee)
	if out.Sign() <= 0 {
		return domain.Quote{}, fmt.Errorf("amm: zero output for %s in: %w", amountIn, domain.ErrQuoteFailed)
	}
	return domain.Quote{
		Pool:         state.Address,
		Input:        input,
		AmountIn:     new(big.Int).Set(amountIn),
		AmountOut:    out,
		MinAmountOut: MinAmountOut(out, slippageBps),
		FeeBps:       fee,
	}, nil
}
