package domain

import (
	"context"
	"math/big"
	"time"
)

// RunRecord is one executed run in the ledger.
type RunRecord struct {
	ID                 string
	MarketID           string
	Signer             string
	Direction          Direction
	Status             RunStatus
	EstimatedProfitBps int64
	SizedAmount        *big.Int
	ExpectedProfit     *big.Int
	Spent              *big.Int
	Realized           *big.Int
	Error              string
	StartedAt          time.Time
	CompletedAt        *time.Time
}

// RunStore persists runs and their legs as they confirm.
type RunStore interface {
	CreateRun(ctx context.Context, run RunRecord) error
	AppendLeg(ctx context.Context, runID string, leg LegResult) error
	CompleteRun(ctx context.Context, run RunRecord) error
	GetRun(ctx context.Context, id string) (RunRecord, []LegResult, error)
	ListRecent(ctx context.Context, limit int) ([]RunRecord, error)
}
