package arbitrage

import (
	"context"
	"fmt"
	"math/big"

	"github.com/zcombinatorio/percent-sub003/internal/domain"
)

// Simulator returns the quote-asset output of a full round trip for a
// quote-asset input.
type Simulator interface {
	Simulate(ctx context.Context, amount *big.Int) (*big.Int, error)
}

// SimulatorFunc adapts a function to Simulator.
type SimulatorFunc func(ctx context.Context, amount *big.Int) (*big.Int, error)

func (f SimulatorFunc) Simulate(ctx context.Context, amount *big.Int) (*big.Int, error) {
	return f(ctx, amount)
}

// Quoter quotes exact-input swaps against a fixed pool state.
type Quoter interface {
	Quote(state domain.PoolState, amountIn *big.Int, input domain.AssetClass, slippageBps uint32, clock domain.ClockContext) (domain.Quote, error)
}

// PoolSimulator replays a trade against fixed pool states and one clock.
// Legs holds the state of every active leg.
type PoolSimulator struct {
	Direction   domain.Direction
	Spot        domain.PoolState
	Legs        []domain.PoolState
	Quoter      Quoter
	SlippageBps uint32
	Clock       domain.ClockContext
}

// Simulate walks the plan for Direction using expected quote outputs.
//
// Above: quote -> spot base, split base, sell every conditional base for
// conditional quote, merge the smallest.
// Below: split quote, buy conditional base on every leg, merge the
// smallest, sell base on spot.
func (s PoolSimulator) Simulate(ctx context.Context, amount *big.Int) (*big.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(s.Legs) == 0 {
		return nil, fmt.Errorf("arbitrage: no legs to simulate")
	}

	switch s.Direction {
	case domain.DirectionAbove:
		spot, err := s.Quoter.Quote(s.Spot, amount, domain.AssetQuote, s.SlippageBps, s.Clock)
		if err != nil {
			return nil, fmt.Errorf("spot buy: %w", err)
		}
		outs, err := s.quoteLegs(spot.AmountOut, domain.AssetBase)
		if err != nil {
			return nil, err
		}
		return Bottleneck(outs), nil

	case domain.DirectionBelow:
		outs, err := s.quoteLegs(amount, domain.AssetQuote)
		if err != nil {
			return nil, err
		}
		spot, err := s.Quoter.Quote(s.Spot, Bottleneck(outs), domain.AssetBase, s.SlippageBps, s.Clock)
		if err != nil {
			return nil, fmt.Errorf("spot sell: %w", err)
		}
		return spot.AmountOut, nil

	default:
		return nil, fmt.Errorf("arbitrage: cannot simulate direction %q", s.Direction)
	}
}

func (s PoolSimulator) quoteLegs(amount *big.Int, input domain.AssetClass) ([]*big.Int, error) {
	outs := make([]*big.Int, 0, len(s.Legs))
	for _, leg := range s.Legs {
		q, err := s.Quoter.Quote(leg, amount, input, s.SlippageBps, s.Clock)
		if err != nil {
			return nil, fmt.Errorf("leg %s: %w", leg.Address.Hex(), err)
		}
		outs = append(outs, q.AmountOut)
	}
	return outs, nil
}
