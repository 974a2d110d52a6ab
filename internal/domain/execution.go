package domain

import (
	"math/big"
	"time"
)

// LegKind names one step of an execution plan.
type LegKind string

const (
	LegBuySpot  LegKind = "buy_spot"
	LegSplit    LegKind = "split"
	LegSwap     LegKind = "leg_swap"
	LegMerge    LegKind = "merge"
	LegSellSpot LegKind = "sell_spot"

	// LegPrecheck is the balance check before the first step. It never
	// appears in ExecutionResult.Legs.
	LegPrecheck LegKind = "precheck"
)

// LegResult is a completed step. Leg is the conditional leg index for
// LegSwap and -1 otherwise. A step whose transaction confirmed but whose
// output could not be measured carries TxHash, a nil AmountOut and Error.
type LegResult struct {
	Seq       int
	Kind      LegKind
	Leg       int
	TxHash    string
	AmountIn  *big.Int
	AmountOut *big.Int
	Error     string
	At        time.Time
}

// RunStatus is the terminal status of an execution.
type RunStatus string

const (
	RunPending RunStatus = "pending"
	RunDone    RunStatus = "done"
	RunPartial RunStatus = "partial"
	RunFailed  RunStatus = "failed"
)

// ExecutionResult is what the orchestrator returns. Legs holds every step
// that committed on-chain, including a final one that confirmed but could
// not be measured; Err carries the failure that stopped the plan.
type ExecutionResult struct {
	RunID     string
	Direction Direction
	Status    RunStatus
	Success   bool
	Legs      []LegResult
	Spent     *big.Int
	Received  *big.Int
	Realized  *big.Int
	Err       error
}

// CandidateSize is one simulated input amount during sizing.
type CandidateSize struct {
	Amount *big.Int
	Output *big.Int
	Profit *big.Int
	Err    error
}

// Sizing is the outcome of a sizing search.
type Sizing struct {
	Optimal    CandidateSize
	Found      bool
	MaxUsable  *big.Int
	Evaluated  int
	Failed     int
	Clock      ClockContext
	Candidates []CandidateSize
}

// Profitable reports whether the optimal candidate has positive profit.
func (s Sizing) Profitable() bool {
	return s.Found && s.Optimal.Profit != nil && s.Optimal.Profit.Sign() > 0
}
