package arbitrage

import (
	"context"
	"log/slog"
	"math/big"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/zcombinatorio/percent-sub003/internal/domain"
)

// SizerConfig configures the sizing search.
type SizerConfig struct {
	// MaxCandidates caps how many sizes are simulated; the step widens in
	// whole increments to stay under it.
	MaxCandidates int
	// Concurrency bounds parallel simulations.
	Concurrency int
	Logger      *slog.Logger
}

// Bounds is the search range for one run.
type Bounds struct {
	Increment *big.Int
	MaxUsable *big.Int
}

// Sizer picks the trade size with the largest absolute profit.
type Sizer struct {
	maxCandidates int
	concurrency   int
	logger        *slog.Logger
}

// NewSizer creates a Sizer.
func NewSizer(cfg SizerConfig) *Sizer {
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = 200
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	return &Sizer{
		maxCandidates: cfg.MaxCandidates,
		concurrency:   cfg.Concurrency,
		logger:        cfg.Logger.With(slog.String("component", "arb_sizer")),
	}
}

// MaxUsableCapital is min(available * safetyFraction, hardCap). A nil or
// non-positive hardCap means no cap.
func MaxUsableCapital(available *big.Int, safetyFraction decimal.Decimal, hardCap *big.Int) *big.Int {
	if available == nil || available.Sign() <= 0 {
		return new(big.Int)
	}
	usable := decimal.NewFromBigInt(available, 0).Mul(safetyFraction).Floor().BigInt()
	if usable.Sign() < 0 {
		usable.SetInt64(0)
	}
	if hardCap != nil && hardCap.Sign() > 0 && hardCap.Cmp(usable) < 0 {
		return new(big.Int).Set(hardCap)
	}
	return usable
}

// Candidates enumerates sizes from increment up to maxUsable.
func Candidates(increment, maxUsable *big.Int, maxCandidates int) []*big.Int {
	if increment == nil || maxUsable == nil || increment.Sign() <= 0 || maxUsable.Cmp(increment) < 0 {
		return nil
	}
	step := new(big.Int).Set(increment)
	count := new(big.Int).Quo(maxUsable, increment)
	if maxCandidates > 0 && count.Cmp(big.NewInt(int64(maxCandidates))) > 0 {
		// ceil(count / maxCandidates) increments per step
		mult := new(big.Int).Add(count, big.NewInt(int64(maxCandidates-1)))
		mult.Quo(mult, big.NewInt(int64(maxCandidates)))
		step.Mul(increment, mult)
	}

	var out []*big.Int
	for amt := new(big.Int).Set(step); amt.Cmp(maxUsable) <= 0; amt = new(big.Int).Add(amt, step) {
		out = append(out, amt)
	}
	return out
}

// SelectOptimal returns the successful candidate with the largest profit,
// preferring the smaller amount on ties. The bool is false when every
// candidate failed.
func SelectOptimal(cands []domain.CandidateSize) (domain.CandidateSize, bool) {
	var best domain.CandidateSize
	found := false
	for _, c := range cands {
		if c.Err != nil || c.Profit == nil {
			continue
		}
		if !found {
			best, found = c, true
			continue
		}
		switch cmp := c.Profit.Cmp(best.Profit); {
		case cmp > 0:
			best = c
		case cmp == 0 && c.Amount.Cmp(best.Amount) < 0:
			best = c
		}
	}
	return best, found
}

// Search simulates every candidate size in parallel and selects the most
// profitable. Simulation failures drop the candidate; only cancellation of
// ctx fails the search.
func (s *Sizer) Search(ctx context.Context, sim Simulator, b Bounds) (domain.Sizing, error) {
	start := time.Now()
	amounts := Candidates(b.Increment, b.MaxUsable, s.maxCandidates)
	results := make([]domain.CandidateSize, len(amounts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, amt := range amounts {
		g.Go(func() error {
			out, err := sim.Simulate(gctx, amt)
			c := domain.CandidateSize{Amount: amt, Output: out, Err: err}
			if err == nil && out != nil {
				c.Profit = new(big.Int).Sub(out, amt)
			}
			results[i] = c
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return domain.Sizing{}, err
	}

	sizing := domain.Sizing{
		MaxUsable:  b.MaxUsable,
		Evaluated:  len(results),
		Candidates: results,
	}
	for _, c := range results {
		if c.Err != nil {
			sizing.Failed++
		}
	}
	sizing.Optimal, sizing.Found = SelectOptimal(results)

	attrs := []any{
		slog.Int("candidates", sizing.Evaluated),
		slog.Int("failed", sizing.Failed),
		slog.Duration("elapsed", time.Since(start)),
	}
	if sizing.Found {
		attrs = append(attrs,
			slog.String("amount", sizing.Optimal.Amount.String()),
			slog.String("profit", sizing.Optimal.Profit.String()),
		)
	}
	s.logger.DebugContext(ctx, "sizing complete", attrs...)
	return sizing, nil
}
