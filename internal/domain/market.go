package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// TradingState is the lifecycle state of a conditional leg.
type TradingState string

const (
	TradingStateUninitialized TradingState = "uninitialized"
	TradingStateTrading       TradingState = "trading"
	TradingStatePaused        TradingState = "paused"
	TradingStateFinalized     TradingState = "finalized"
)

// ParseTradingState maps a wire value onto a TradingState. Unknown values
// are treated as uninitialized so the leg is skipped.
func ParseTradingState(s string) TradingState {
	switch TradingState(strings.ToLower(strings.TrimSpace(s))) {
	case TradingStateTrading:
		return TradingStateTrading
	case TradingStatePaused:
		return TradingStatePaused
	case TradingStateFinalized:
		return TradingStateFinalized
	default:
		return TradingStateUninitialized
	}
}

// AssetClass selects which side of a market a vault operation touches.
type AssetClass uint8

const (
	AssetBase  AssetClass = 0
	AssetQuote AssetClass = 1
)

func (c AssetClass) String() string {
	if c == AssetBase {
		return "base"
	}
	return "quote"
}

// Asset is an ERC-20 token and its decimals.
type Asset struct {
	Token    common.Address
	Decimals int32
}

// ConditionalLeg is one outcome of a market: a conditional pool trading the
// outcome's base token against its quote token.
type ConditionalLeg struct {
	Index int
	Label string
	Pool  common.Address
	Base  Asset
	Quote Asset
	State TradingState
}

// Active reports whether the leg participates in detection and execution.
func (l ConditionalLeg) Active() bool {
	return l.State == TradingStateTrading && l.Pool != (common.Address{})
}

// MarketConfiguration describes a decision market: a spot pool, the vault
// that splits and merges real assets, and one conditional pool per outcome.
type MarketConfiguration struct {
	ID          string
	Proposal    string
	SpotPool    common.Address
	Vault       common.Address
	Base        Asset
	Quote       Asset
	Legs        []ConditionalLeg
	CreatedAt   time.Time
	FinalizesAt time.Time
}

// Validate checks the parts of the configuration a run depends on.
func (m MarketConfiguration) Validate() error {
	if m.SpotPool == (common.Address{}) {
		return fmt.Errorf("market %s: %w", m.ID, ErrMissingSpotPool)
	}
	if m.Vault == (common.Address{}) {
		return fmt.Errorf("market %s: %w", m.ID, ErrVaultUnavailable)
	}
	return nil
}

// ActiveLegs returns the legs currently in the trading state.
func (m MarketConfiguration) ActiveLegs() []ConditionalLeg {
	out := make([]ConditionalLeg, 0, len(m.Legs))
	for _, l := range m.Legs {
		if l.Active() {
			out = append(out, l)
		}
	}
	return out
}
