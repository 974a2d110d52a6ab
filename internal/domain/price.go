package domain

import "github.com/shopspring/decimal"

// PriceSnapshot holds the spot price and one optional price per configured
// leg, index-aligned with MarketConfiguration.Legs. A nil entry means the
// leg was not read and must be excluded, never treated as zero.
type PriceSnapshot struct {
	Spot  decimal.Decimal
	Legs  []*decimal.Decimal
	Clock ClockContext
}

// TWAPObservation is a time-weighted price reported by the market API.
type TWAPObservation struct {
	Leg   int
	Price decimal.Decimal
}
