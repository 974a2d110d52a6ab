package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zcombinatorio/percent-sub003/internal/domain"
)

// RunStore implements domain.RunStore.
type RunStore struct {
	pool *pgxpool.Pool
}

// NewRunStore creates a RunStore.
func NewRunStore(pool *pgxpool.Pool) *RunStore {
	return &RunStore{pool: pool}
}

const runColumns = `id, market_id, signer, direction, status, estimated_profit_bps,
	sized_amount::text, expected_profit::text, spent::text, realized_profit::text,
	error, started_at, completed_at`

// CreateRun inserts a run before its first leg is submitted.
func (s *RunStore) CreateRun(ctx context.Context, run domain.RunRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO runs (id, market_id, signer, direction, status, estimated_profit_bps,
			sized_amount, expected_profit, spent, realized_profit, error, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8::numeric, $9::numeric, $10::numeric, $11, $12, $13)`,
		run.ID, run.MarketID, run.Signer, string(run.Direction), string(run.Status), run.EstimatedProfitBps,
		numeric(run.SizedAmount), numeric(run.ExpectedProfit), numeric(run.Spent), numeric(run.Realized),
		run.Error, run.StartedAt, run.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert run %s: %w", run.ID, err)
	}
	return nil
}

// AppendLeg records one confirmed or failed step.
func (s *RunStore) AppendLeg(ctx context.Context, runID string, leg domain.LegResult) error {
	recorded := leg.At
	if recorded.IsZero() {
		recorded = time.Now()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO run_legs (run_id, seq, kind, leg_index, tx_hash, amount_in, amount_out, error, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6::numeric, $7::numeric, $8, $9)`,
		runID, leg.Seq, string(leg.Kind), leg.Leg, leg.TxHash,
		numeric(leg.AmountIn), numeric(leg.AmountOut), leg.Error, recorded,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert run_leg %s/%d: %w", runID, leg.Seq, err)
	}
	return nil
}

// CompleteRun stores the terminal status and amounts.
func (s *RunStore) CompleteRun(ctx context.Context, run domain.RunRecord) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE runs SET status = $2, spent = $3::numeric, realized_profit = $4::numeric,
			error = $5, completed_at = $6
		WHERE id = $1`,
		run.ID, string(run.Status), numeric(run.Spent), numeric(run.Realized), run.Error, run.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: complete run %s: %w", run.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetRun returns a run with its legs in order.
func (s *RunStore) GetRun(ctx context.Context, id string) (domain.RunRecord, []domain.LegResult, error) {
	run, err := scanRun(s.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM runs WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.RunRecord{}, nil, domain.ErrNotFound
		}
		return domain.RunRecord{}, nil, fmt.Errorf("postgres: get run %s: %w", id, err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT seq, kind, leg_index, tx_hash, amount_in::text, amount_out::text, error, recorded_at
		FROM run_legs WHERE run_id = $1 ORDER BY seq, id`, id)
	if err != nil {
		return domain.RunRecord{}, nil, fmt.Errorf("postgres: get run_legs %s: %w", id, err)
	}
	defer rows.Close()

	var legs []domain.LegResult
	for rows.Next() {
		var leg domain.LegResult
		var kind string
		var in, out *string
		if err := rows.Scan(&leg.Seq, &kind, &leg.Leg, &leg.TxHash, &in, &out, &leg.Error, &leg.At); err != nil {
			return domain.RunRecord{}, nil, fmt.Errorf("postgres: scan run_leg: %w", err)
		}
		leg.Kind = domain.LegKind(kind)
		leg.AmountIn = parseNumeric(in)
		leg.AmountOut = parseNumeric(out)
		legs = append(legs, leg)
	}
	return run, legs, rows.Err()
}

// ListRecent returns the latest runs, newest first.
func (s *RunStore) ListRecent(ctx context.Context, limit int) ([]domain.RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `SELECT `+runColumns+` FROM runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list runs: %w", err)
	}
	defer rows.Close()

	var list []domain.RunRecord
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan run: %w", err)
		}
		list = append(list, run)
	}
	return list, rows.Err()
}

func scanRun(row pgx.Row) (domain.RunRecord, error) {
	var run domain.RunRecord
	var direction, status string
	var sized, expected, spent, realized *string
	err := row.Scan(&run.ID, &run.MarketID, &run.Signer, &direction, &status, &run.EstimatedProfitBps,
		&sized, &expected, &spent, &realized, &run.Error, &run.StartedAt, &run.CompletedAt)
	if err != nil {
		return domain.RunRecord{}, err
	}
	run.Direction = domain.Direction(direction)
	run.Status = domain.RunStatus(status)
	run.SizedAmount = parseNumeric(sized)
	run.ExpectedProfit = parseNumeric(expected)
	run.Spent = parseNumeric(spent)
	run.Realized = parseNumeric(realized)
	return run, nil
}

// numeric renders an amount for a ::numeric parameter; nil becomes NULL.
func numeric(v *big.Int) *string {
	if v == nil {
		return nil
	}
	s := v.String()
	return &s
}

func parseNumeric(s *string) *big.Int {
	if s == nil {
		return nil
	}
	v, ok := new(big.Int).SetString(*s, 10)
	if !ok {
		return nil
	}
	return v
}
