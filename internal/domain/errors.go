package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrLockHeld            = errors.New("lock already held")
	ErrPoolUnavailable     = errors.New("pool unavailable")
	ErrVaultUnavailable    = errors.New("vault unavailable")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrQuoteFailed         = errors.New("quote failed")
	ErrMissingSigner       = errors.New("signer not configured")
	ErrTxReverted          = errors.New("transaction reverted")

	// Setup errors end a run before any price is compared.
	ErrMarketUnavailable         = errors.New("market configuration unavailable")
	ErrMissingSpotPool           = errors.New("market has no spot pool")
	ErrInsufficientPriceCoverage = errors.New("fewer leg prices than active legs")
)

// IsFatal reports whether err aborts the run as a configuration or
// infrastructure failure rather than a trading outcome.
func IsFatal(err error) bool {
	for _, target := range []error{
		ErrMarketUnavailable,
		ErrMissingSpotPool,
		ErrInsufficientPriceCoverage,
		ErrPoolUnavailable,
		ErrMissingSigner,
		ErrLockHeld,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
