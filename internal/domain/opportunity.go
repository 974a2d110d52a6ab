package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Direction is which side of spot the conditional prices sit on.
type Direction string

const (
	// DirectionAbove: every included leg trades above spot. Buy spot,
	// split, sell each conditional base, merge the quote.
	DirectionAbove Direction = "above"
	// DirectionBelow: every included leg trades below spot. Split quote,
	// buy each conditional base, merge, sell base on spot.
	DirectionBelow Direction = "below"
	DirectionNone  Direction = "none"
)

// Opportunity is the result of comparing conditional prices with spot.
type Opportunity struct {
	MarketID           string
	Direction          Direction
	Spot               decimal.Decimal
	Conditional        []*decimal.Decimal
	Premiums           []*decimal.Decimal
	MinPremium         decimal.Decimal
	MaxPremium         decimal.Decimal
	IncludedLegs       int
	TotalFeeBps        int64
	EstimatedProfitBps int64
	DetectedAt         time.Time
}

// Actionable reports whether the opportunity clears the profit threshold.
func (o Opportunity) Actionable(minProfitBps int64) bool {
	return o.Direction != DirectionNone && o.EstimatedProfitBps >= minProfitBps
}
