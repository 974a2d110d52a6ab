package domain

import (
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// FeeSchedule is an optional time-decaying fee: the pool starts at the
// cliff fee and drops by ReductionBps each period until the base fee.
type FeeSchedule struct {
	CliffFeeBps   uint32
	ReductionBps  uint32
	PeriodSeconds uint64
	Periods       uint32
	ActivatedAt   time.Time
}

// PoolState is a snapshot of a constant-product pool, oriented so that
// Base/Quote match the market's assets regardless of token0/token1 order.
type PoolState struct {
	Address       common.Address
	Base          Asset
	Quote         Asset
	BaseReserve   *big.Int
	QuoteReserve  *big.Int
	FeeBps        uint32
	Schedule      *FeeSchedule
	ObservedBlock uint64
}

// Price returns the quote-per-base price in human units.
func (p PoolState) Price() decimal.Decimal {
	if p.BaseReserve == nil || p.BaseReserve.Sign() == 0 || p.QuoteReserve == nil {
		return decimal.Zero
	}
	q := decimal.NewFromBigInt(p.QuoteReserve, -p.Quote.Decimals)
	b := decimal.NewFromBigInt(p.BaseReserve, -p.Base.Decimals)
	return q.Div(b)
}

// Token returns the token address for the given side.
func (p PoolState) Token(c AssetClass) common.Address {
	if c == AssetBase {
		return p.Base.Token
	}
	return p.Quote.Token
}

// ClockContext pins time-dependent quoting to one chain observation.
type ClockContext struct {
	Timestamp   time.Time
	BlockNumber uint64
}

// Quote is an exact-input swap quote.
type Quote struct {
	Pool         common.Address
	Input        AssetClass
	AmountIn     *big.Int
	AmountOut    *big.Int
	MinAmountOut *big.Int
	FeeBps       uint32
}

// Approval is an allowance an instruction needs before it can execute.
type Approval struct {
	Token   common.Address
	Spender common.Address
	Amount  *big.Int
}

// UnsignedInstruction is a contract call ready for signing.
type UnsignedInstruction struct {
	Label    string
	To       common.Address
	Data     []byte
	Value    *big.Int
	Approval *Approval
}

// Receipt is the confirmed outcome of a submitted instruction.
type Receipt struct {
	TxHash      common.Hash
	BlockNumber uint64
	GasUsed     uint64
}

// TxError is a failure after a transaction was broadcast: a revert, a
// receipt lookup error or a confirmation timeout. The transaction may
// still land, so TxHash must reach the ledger.
type TxError struct {
	TxHash common.Hash
	Err    error
}

func (e *TxError) Error() string { return e.Err.Error() }

func (e *TxError) Unwrap() error { return e.Err }

// BroadcastHash returns the hash of the transaction err was raised for,
// or "" when nothing was broadcast.
func BroadcastHash(err error) string {
	var txErr *TxError
	if errors.As(err, &txErr) {
		return txErr.TxHash.Hex()
	}
	return ""
}
