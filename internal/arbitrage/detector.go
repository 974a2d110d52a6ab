// Package arbitrage compares conditional prices with spot and sizes trades.
package arbitrage

import (
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zcombinatorio/percent-sub003/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// Detector classifies a price snapshot into an opportunity.
type Detector struct {
	perSwapFeeBps int64
	logger        *slog.Logger
	now           func() time.Time
}

// DetectorConfig configures the detector.
type DetectorConfig struct {
	PerSwapFeeBps int64
	Logger        *slog.Logger
}

// NewDetector creates a Detector.
func NewDetector(cfg DetectorConfig) *Detector {
	return &Detector{
		perSwapFeeBps: cfg.PerSwapFeeBps,
		logger:        cfg.Logger.With(slog.String("component", "arb_detector")),
		now:           time.Now,
	}
}

// Premium is (conditional - spot) / spot in percent.
func Premium(conditional, spot decimal.Decimal) decimal.Decimal {
	return conditional.Sub(spot).Div(spot).Mul(hundred)
}

// Classify returns Above when every premium is strictly positive, Below
// when every premium is strictly negative and None otherwise, including
// for an empty slice.
func Classify(premiums []decimal.Decimal) domain.Direction {
	if len(premiums) == 0 {
		return domain.DirectionNone
	}
	above, below := true, true
	for _, p := range premiums {
		if p.Sign() <= 0 {
			above = false
		}
		if p.Sign() >= 0 {
			below = false
		}
	}
	switch {
	case above:
		return domain.DirectionAbove
	case below:
		return domain.DirectionBelow
	default:
		return domain.DirectionNone
	}
}

// TotalFeeBps is the fee paid across one swap per included leg plus the
// spot swap.
func TotalFeeBps(perSwapFeeBps int64, includedLegs int) int64 {
	return perSwapFeeBps * int64(includedLegs+1)
}

// EstimateProfitBps is the gross edge minus fees: the smallest premium for
// Above, the magnitude of the largest (least negative) premium for Below.
func EstimateProfitBps(dir domain.Direction, minPremium, maxPremium decimal.Decimal, totalFeeBps int64) int64 {
	switch dir {
	case domain.DirectionAbove:
		return minPremium.Mul(hundred).Round(0).IntPart() - totalFeeBps
	case domain.DirectionBelow:
		return maxPremium.Abs().Mul(hundred).Round(0).IntPart() - totalFeeBps
	default:
		return 0
	}
}

// Detect compares every active leg that has a price with spot. Legs that
// are not trading, or whose price is missing, are excluded entirely.
func (d *Detector) Detect(market domain.MarketConfiguration, snap domain.PriceSnapshot) domain.Opportunity {
	opp := domain.Opportunity{
		MarketID:    market.ID,
		Direction:   domain.DirectionNone,
		Spot:        snap.Spot,
		Conditional: make([]*decimal.Decimal, len(market.Legs)),
		Premiums:    make([]*decimal.Decimal, len(market.Legs)),
		DetectedAt:  d.now(),
	}
	if snap.Spot.Sign() <= 0 {
		d.logger.Warn("non-positive spot price", slog.String("market", market.ID), slog.String("spot", snap.Spot.String()))
		return opp
	}

	premiums := make([]decimal.Decimal, 0, len(market.Legs))
	for i, leg := range market.Legs {
		if !leg.Active() || i >= len(snap.Legs) || snap.Legs[i] == nil {
			continue
		}
		price := *snap.Legs[i]
		p := Premium(price, snap.Spot)
		opp.Conditional[i] = &price
		opp.Premiums[i] = &p
		premiums = append(premiums, p)
	}
	opp.IncludedLegs = len(premiums)
	if len(premiums) == 0 {
		return opp
	}

	opp.MinPremium, opp.MaxPremium = premiums[0], premiums[0]
	for _, p := range premiums[1:] {
		opp.MinPremium = decimal.Min(opp.MinPremium, p)
		opp.MaxPremium = decimal.Max(opp.MaxPremium, p)
	}
	opp.Direction = Classify(premiums)
	opp.TotalFeeBps = TotalFeeBps(d.perSwapFeeBps, opp.IncludedLegs)
	opp.EstimatedProfitBps = EstimateProfitBps(opp.Direction, opp.MinPremium, opp.MaxPremium, opp.TotalFeeBps)

	d.logger.Debug("opportunity evaluated",
		slog.String("market", market.ID),
		slog.String("direction", string(opp.Direction)),
		slog.String("spot", snap.Spot.String()),
		slog.String("min_premium", opp.MinPremium.StringFixed(4)),
		slog.String("max_premium", opp.MaxPremium.StringFixed(4)),
		slog.Int("included_legs", opp.IncludedLegs),
		slog.Int64("estimated_profit_bps", opp.EstimatedProfitBps),
	)
	return opp
}
