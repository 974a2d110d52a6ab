package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/zcombinatorio/percent-sub003/internal/domain"
)

// StateReader reads pool state pinned to a chain clock.
type StateReader interface {
	Clock(ctx context.Context) (domain.ClockContext, error)
	FetchState(ctx context.Context, pool common.Address, base, quote domain.Asset) (domain.PoolState, error)
}

// MarketState is the pool state behind one PriceSnapshot. Legs is
// index-aligned with MarketConfiguration.Legs; inactive legs are nil.
type MarketState struct {
	Clock domain.ClockContext
	Spot  domain.PoolState
	Legs  []*domain.PoolState
}

// ActiveStates returns the states of the legs that were read, in leg order.
func (s MarketState) ActiveStates() []domain.PoolState {
	out := make([]domain.PoolState, 0, len(s.Legs))
	for _, l := range s.Legs {
		if l != nil {
			out = append(out, *l)
		}
	}
	return out
}

// PriceReader reads spot and conditional prices for a market in parallel.
type PriceReader struct {
	pools  StateReader
	logger *slog.Logger
}

// NewPriceReader creates a PriceReader.
func NewPriceReader(pools StateReader, logger *slog.Logger) *PriceReader {
	return &PriceReader{
		pools:  pools,
		logger: logger.With(slog.String("component", "price_reader")),
	}
}

// Read fetches the spot pool and every trading leg under one clock. A leg
// that is not trading gets no price. Any failed read of a trading leg
// fails the whole snapshot: detection never runs on partial coverage.
func (r *PriceReader) Read(ctx context.Context, market domain.MarketConfiguration) (domain.PriceSnapshot, MarketState, error) {
	clock, err := r.pools.Clock(ctx)
	if err != nil {
		return domain.PriceSnapshot{}, MarketState{}, fmt.Errorf("price_reader: clock: %w", err)
	}

	state := MarketState{Clock: clock, Legs: make([]*domain.PoolState, len(market.Legs))}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		spot, err := r.pools.FetchState(gctx, market.SpotPool, market.Base, market.Quote)
		if err != nil {
			return fmt.Errorf("price_reader: spot pool %s: %w", market.SpotPool.Hex(), err)
		}
		state.Spot = spot
		return nil
	})

	for i, leg := range market.Legs {
		if !leg.Active() {
			r.logger.DebugContext(ctx, "leg skipped",
				slog.Int("leg", leg.Index),
				slog.String("state", string(leg.State)),
			)
			continue
		}
		g.Go(func() error {
			ls, err := r.pools.FetchState(gctx, leg.Pool, leg.Base, leg.Quote)
			if err != nil {
				return fmt.Errorf("price_reader: leg %d pool %s: %w: %w",
					leg.Index, leg.Pool.Hex(), domain.ErrInsufficientPriceCoverage, err)
			}
			state.Legs[i] = &ls
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return domain.PriceSnapshot{}, MarketState{}, err
	}

	snap := domain.PriceSnapshot{
		Spot:  state.Spot.Price(),
		Legs:  make([]*decimal.Decimal, len(market.Legs)),
		Clock: clock,
	}
	for i, ls := range state.Legs {
		if ls == nil {
			continue
		}
		p := ls.Price()
		snap.Legs[i] = &p
	}
	return snap, state, nil
}
