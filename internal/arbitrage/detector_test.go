package arbitrage

import (
	"io"
	"log/slog"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/zcombinatorio/percent-sub003/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func decs(vals ...string) []decimal.Decimal {
	out := make([]decimal.Decimal, len(vals))
	for i, v := range vals {
		out[i] = decimal.RequireFromString(v)
	}
	return out
}

func decPtr(v string) *decimal.Decimal {
	d := decimal.RequireFromString(v)
	return &d
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		premiums []decimal.Decimal
		want     domain.Direction
	}{
		{name: "all positive", premiums: decs("5", "6", "7"), want: domain.DirectionAbove},
		{name: "all negative", premiums: decs("-1", "-0.5"), want: domain.DirectionBelow},
		{name: "mixed", premiums: decs("2", "-1"), want: domain.DirectionNone},
		{name: "zero counts as neither", premiums: decs("0", "3"), want: domain.DirectionNone},
		{name: "only zero", premiums: decs("0"), want: domain.DirectionNone},
		{name: "empty", premiums: nil, want: domain.DirectionNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.premiums); got != tt.want {
				t.Fatalf("Classify = %s, want %s", got, tt.want)
			}
		})
	}
}

func testMarket(states ...domain.TradingState) domain.MarketConfiguration {
	m := domain.MarketConfiguration{
		ID:       "mkt-1",
		SpotPool: common.HexToAddress("0x00000000000000000000000000000000000000a0"),
		Vault:    common.HexToAddress("0x00000000000000000000000000000000000000f0"),
	}
	for i, s := range states {
		m.Legs = append(m.Legs, domain.ConditionalLeg{
			Index: i,
			Pool:  common.BigToAddress(big.NewInt(int64(0xc0 + i))),
			State: s,
		})
	}
	return m
}

func TestDetectAboveWithFees(t *testing.T) {
	d := NewDetector(DetectorConfig{PerSwapFeeBps: 50, Logger: testLogger()})
	market := testMarket(domain.TradingStateTrading, domain.TradingStateTrading, domain.TradingStateTrading)
	snap := domain.PriceSnapshot{
		Spot: decimal.RequireFromString("1"),
		Legs: []*decimal.Decimal{decPtr("1.05"), decPtr("1.06"), decPtr("1.07")},
	}

	opp := d.Detect(market, snap)
	if opp.Direction != domain.DirectionAbove {
		t.Fatalf("direction = %s, want above", opp.Direction)
	}
	if opp.IncludedLegs != 3 {
		t.Fatalf("included = %d, want 3", opp.IncludedLegs)
	}
	// 3 legs + spot at 50 bps each.
	if opp.TotalFeeBps != 200 {
		t.Fatalf("total fee = %d, want 200", opp.TotalFeeBps)
	}
	// min premium 5% = 500 bps, minus 200.
	if opp.EstimatedProfitBps != 300 {
		t.Fatalf("estimated profit = %d bps, want 300", opp.EstimatedProfitBps)
	}
	if !opp.Actionable(300) || opp.Actionable(301) {
		t.Fatal("threshold should be inclusive at 300 bps")
	}
}

func TestDetectBelowUsesLeastNegativePremium(t *testing.T) {
	d := NewDetector(DetectorConfig{PerSwapFeeBps: 30, Logger: testLogger()})
	market := testMarket(domain.TradingStateTrading, domain.TradingStateTrading)
	snap := domain.PriceSnapshot{
		Spot: decimal.RequireFromString("2"),
		Legs: []*decimal.Decimal{decPtr("1.8"), decPtr("1.9")},
	}
	opp := d.Detect(market, snap)
	if opp.Direction != domain.DirectionBelow {
		t.Fatalf("direction = %s, want below", opp.Direction)
	}
	// premiums -10% and -5%: edge is 500 bps, fees 3*30.
	if opp.EstimatedProfitBps != 410 {
		t.Fatalf("estimated profit = %d, want 410", opp.EstimatedProfitBps)
	}
}

func TestDetectExcludesMissingAndInactiveLegs(t *testing.T) {
	d := NewDetector(DetectorConfig{PerSwapFeeBps: 10, Logger: testLogger()})
	market := testMarket(
		domain.TradingStateTrading,
		domain.TradingStateFinalized,
		domain.TradingStateTrading,
	)
	// Leg 1 is finalized with a price far below spot; leg 2 has no price.
	// Neither may drag the classification to None.
	snap := domain.PriceSnapshot{
		Spot: decimal.RequireFromString("1"),
		Legs: []*decimal.Decimal{decPtr("1.1"), decPtr("0.2"), nil},
	}
	opp := d.Detect(market, snap)
	if opp.Direction != domain.DirectionAbove {
		t.Fatalf("direction = %s, want above", opp.Direction)
	}
	if opp.IncludedLegs != 1 {
		t.Fatalf("included = %d, want 1", opp.IncludedLegs)
	}
	if opp.Premiums[1] != nil || opp.Premiums[2] != nil {
		t.Fatal("excluded legs must have no premium")
	}
	if opp.TotalFeeBps != 20 {
		t.Fatalf("total fee = %d, want 20", opp.TotalFeeBps)
	}
}

func TestDetectNoLegs(t *testing.T) {
	d := NewDetector(DetectorConfig{PerSwapFeeBps: 10, Logger: testLogger()})
	opp := d.Detect(testMarket(domain.TradingStateUninitialized), domain.PriceSnapshot{
		Spot: decimal.RequireFromString("1"),
		Legs: []*decimal.Decimal{decPtr("5")},
	})
	if opp.Direction != domain.DirectionNone || opp.IncludedLegs != 0 {
		t.Fatalf("opp = %+v", opp)
	}
}

func TestBottleneck(t *testing.T) {
	got := Bottleneck([]*big.Int{big.NewInt(100), big.NewInt(120), big.NewInt(110), big.NewInt(105)})
	if got.Int64() != 100 {
		t.Fatalf("Bottleneck = %s, want 100", got)
	}
	if Bottleneck([]*big.Int{nil, big.NewInt(7), nil}).Int64() != 7 {
		t.Fatal("nil entries must be skipped")
	}
	if Bottleneck(nil) != nil {
		t.Fatal("empty input must give nil")
	}
}
