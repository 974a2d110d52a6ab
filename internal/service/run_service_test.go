package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/zcombinatorio/percent-sub003/internal/amm"
	"github.com/zcombinatorio/percent-sub003/internal/arbitrage"
	"github.com/zcombinatorio/percent-sub003/internal/cache/memory"
	"github.com/zcombinatorio/percent-sub003/internal/domain"
	"github.com/zcombinatorio/percent-sub003/internal/executor"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func addr(n int64) common.Address { return common.BigToAddress(big.NewInt(n)) }

var (
	baseAsset  = domain.Asset{Token: addr(0xb0), Decimals: 6}
	quoteAsset = domain.Asset{Token: addr(0xa0), Decimals: 6}
	signerAddr = addr(0xe0)
)

// e24 scaled by num/den, so pools are deep enough that a trade barely
// moves the price.
func reserve(num, den int64) *big.Int {
	r := new(big.Int).Exp(big.NewInt(10), big.NewInt(24), nil)
	r.Mul(r, big.NewInt(num))
	return r.Quo(r, big.NewInt(den))
}

func testMarket(states ...domain.TradingState) domain.MarketConfiguration {
	m := domain.MarketConfiguration{
		ID:       "mkt-1",
		SpotPool: addr(0x50),
		Vault:    addr(0xf0),
		Base:     baseAsset,
		Quote:    quoteAsset,
	}
	for i, s := range states {
		n := int64(i)
		m.Legs = append(m.Legs, domain.ConditionalLeg{
			Index: i,
			Pool:  addr(0xc0 + n),
			Base:  domain.Asset{Token: addr(0x1b0 + n), Decimals: 6},
			Quote: domain.Asset{Token: addr(0x1a0 + n), Decimals: 6},
			State: s,
		})
	}
	return m
}

type fakeMarkets struct {
	market domain.MarketConfiguration
	err    error
}

func (f fakeMarkets) GetMarket(context.Context, string) (domain.MarketConfiguration, error) {
	return f.market, f.err
}

func (f fakeMarkets) GetTWAP(context.Context, string) ([]domain.TWAPObservation, error) {
	return nil, domain.ErrNotFound
}

// fakePools serves pool states with quote reserves priceNum/priceDen times
// the base reserve.
type fakePools struct {
	mu     sync.Mutex
	states map[common.Address]domain.PoolState
	reads  int
}

func newFakePools() *fakePools {
	return &fakePools{states: make(map[common.Address]domain.PoolState)}
}

func (f *fakePools) set(pool common.Address, priceNum, priceDen int64) {
	f.states[pool] = domain.PoolState{
		Address:      pool,
		BaseReserve:  reserve(1, 1),
		QuoteReserve: reserve(priceNum, priceDen),
	}
}

func (f *fakePools) Clock(context.Context) (domain.ClockContext, error) {
	return domain.ClockContext{Timestamp: time.Unix(1_700_000_000, 0), BlockNumber: 42}, nil
}

func (f *fakePools) FetchState(_ context.Context, pool common.Address, base, quote domain.Asset) (domain.PoolState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	st, ok := f.states[pool]
	if !ok {
		return domain.PoolState{}, domain.ErrPoolUnavailable
	}
	st.Base, st.Quote = base, quote
	return st, nil
}

type fakeWallet struct {
	balance *big.Int
}

func (fakeWallet) Address() common.Address { return signerAddr }

func (w fakeWallet) Balance(context.Context, common.Address) (*big.Int, error) {
	return new(big.Int).Set(w.balance), nil
}

type fakeExecutor struct {
	plans []executor.Plan
	res   domain.ExecutionResult
}

func (f *fakeExecutor) Execute(_ context.Context, plan executor.Plan) domain.ExecutionResult {
	f.plans = append(f.plans, plan)
	res := f.res
	res.RunID = plan.RunID
	return res
}

type memRuns struct {
	created   []domain.RunRecord
	completed []domain.RunRecord
	legs      map[string][]domain.LegResult
}

func (m *memRuns) CreateRun(_ context.Context, r domain.RunRecord) error {
	m.created = append(m.created, r)
	return nil
}

func (m *memRuns) AppendLeg(_ context.Context, id string, l domain.LegResult) error {
	if m.legs == nil {
		m.legs = make(map[string][]domain.LegResult)
	}
	m.legs[id] = append(m.legs[id], l)
	return nil
}

func (m *memRuns) CompleteRun(_ context.Context, r domain.RunRecord) error {
	m.completed = append(m.completed, r)
	return nil
}

func (m *memRuns) GetRun(context.Context, string) (domain.RunRecord, []domain.LegResult, error) {
	return domain.RunRecord{}, nil, domain.ErrNotFound
}

func (m *memRuns) ListRecent(context.Context, int) ([]domain.RunRecord, error) {
	return m.completed, nil
}

type memBus struct{ msgs []string }

func (b *memBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.msgs = append(b.msgs, channel+":"+string(payload))
	return nil
}

type memReports struct{ paths []string }

func (r *memReports) Put(_ context.Context, path string, _ []byte, _ string) error {
	r.paths = append(r.paths, path)
	return nil
}

type harness struct {
	market  domain.MarketConfiguration
	pools   *fakePools
	wallet  fakeWallet
	exec    *fakeExecutor
	locks   *memory.LockManager
	runs    *memRuns
	bus     *memBus
	reports *memReports
	cfg     RunConfig
	mktErr  error
}

// newHarness sets up a two-leg market where both legs trade 10% above a
// spot price of 1.
func newHarness() *harness {
	h := &harness{
		market:  testMarket(domain.TradingStateTrading, domain.TradingStateTrading),
		pools:   newFakePools(),
		wallet:  fakeWallet{balance: big.NewInt(10_000_000_000)},
		exec:    &fakeExecutor{res: domain.ExecutionResult{Status: domain.RunDone, Success: true, Realized: big.NewInt(100)}},
		locks:   memory.NewLockManager(),
		runs:    &memRuns{},
		bus:     &memBus{},
		reports: &memReports{},
		cfg: RunConfig{
			MarketID:              "mkt-1",
			MinProfitBps:          100,
			MaxSlippageBps:        50,
			MaxCapital:            decimal.RequireFromString("1000"),
			CapitalSafetyFraction: decimal.RequireFromString("0.9"),
			SizingIncrement:       decimal.RequireFromString("100"),
			LockTTL:               time.Minute,
			TxDeadline:            time.Minute,
		},
	}
	h.pools.set(h.market.SpotPool, 1, 1)
	h.pools.set(h.market.Legs[0].Pool, 11, 10)
	h.pools.set(h.market.Legs[1].Pool, 12, 10)
	return h
}

func (h *harness) service() *RunService {
	logger := testLogger()
	return NewRunService(RunDeps{
		Markets:  fakeMarkets{market: h.market, err: h.mktErr},
		Prices:   NewPriceReader(h.pools, logger),
		Detector: arbitrage.NewDetector(arbitrage.DetectorConfig{PerSwapFeeBps: 30, Logger: logger}),
		Sizer:    arbitrage.NewSizer(arbitrage.SizerConfig{Concurrency: 4, Logger: logger}),
		Quoter:   amm.NewAdapter(nil, common.Address{}, logger),
		Wallet:   h.wallet,
		Executor: h.exec,
		Locks:    h.locks,
		Runs:     h.runs,
		Bus:      h.bus,
		Reports:  h.reports,
	}, h.cfg, logger)
}

func TestRunOnceDryRunNeverExecutes(t *testing.T) {
	h := newHarness()
	h.cfg.DryRun = true

	out, err := h.service().RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if out.Stage != StageDryRun {
		t.Fatalf("stage = %s, want %s", out.Stage, StageDryRun)
	}
	if len(h.exec.plans) != 0 {
		t.Fatalf("executor called %d times in dry run", len(h.exec.plans))
	}
	if len(h.runs.created) != 0 || len(h.bus.msgs) != 0 || len(h.reports.paths) != 0 {
		t.Fatal("dry run must not touch the ledger, bus or archive")
	}
	// max capital 1000 binds before 0.9 * 10000; the deep pools make the
	// largest size the most profitable.
	if got := out.Sizing.Optimal.Amount.Int64(); got != 1_000_000_000 {
		t.Fatalf("sized amount = %d, want 1000000000", got)
	}
	if out.Sizing.Evaluated != 10 {
		t.Fatalf("evaluated = %d, want 10", out.Sizing.Evaluated)
	}
}

func TestRunOnceExecutesAndRecords(t *testing.T) {
	h := newHarness()

	out, err := h.service().RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if out.Stage != StageExecuted || out.Result == nil || !out.Result.Success {
		t.Fatalf("outcome = %+v", out)
	}
	if len(h.exec.plans) != 1 {
		t.Fatalf("executor calls = %d, want 1", len(h.exec.plans))
	}
	plan := h.exec.plans[0]
	if plan.Direction != domain.DirectionAbove || plan.Amount.Int64() != 1_000_000_000 || plan.SlippageBps != 50 {
		t.Fatalf("plan = %+v", plan)
	}
	if plan.RunID == "" || plan.RunID != out.RunID {
		t.Fatalf("run id = %q, outcome %q", plan.RunID, out.RunID)
	}
	if len(h.runs.created) != 1 || len(h.runs.completed) != 1 {
		t.Fatalf("ledger created=%d completed=%d", len(h.runs.created), len(h.runs.completed))
	}
	done := h.runs.completed[0]
	if done.Status != domain.RunDone || done.Realized.Int64() != 100 || done.CompletedAt == nil {
		t.Fatalf("completed run = %+v", done)
	}
	if done.Signer != signerAddr.Hex() {
		t.Fatalf("signer = %s", done.Signer)
	}
	if len(h.bus.msgs) != 1 || !strings.HasPrefix(h.bus.msgs[0], "runs:") {
		t.Fatalf("bus = %v", h.bus.msgs)
	}
	if len(h.reports.paths) != 1 || !strings.HasPrefix(h.reports.paths[0], "runs/mkt-1/") {
		t.Fatalf("reports = %v", h.reports.paths)
	}
}

func TestRunOnceIncompleteExecution(t *testing.T) {
	h := newHarness()
	legErr := errors.New("leg 1 reverted")
	h.exec.res = domain.ExecutionResult{
		Status: domain.RunPartial,
		Legs:   []domain.LegResult{{Seq: 1, Kind: domain.LegBuySpot, Leg: -1}},
		Err:    legErr,
	}

	out, err := h.service().RunOnce(context.Background())
	if !errors.Is(err, ErrRunIncomplete) || !errors.Is(err, legErr) {
		t.Fatalf("err = %v, want ErrRunIncomplete wrapping the leg error", err)
	}
	if out.Stage != StageExecuted {
		t.Fatalf("stage = %s", out.Stage)
	}
	if got := h.runs.completed[0]; got.Status != domain.RunPartial || got.Error == "" {
		t.Fatalf("completed run = %+v", got)
	}
}

func TestRunOnceStopsBeforeExecution(t *testing.T) {
	tests := []struct {
		name  string
		setup func(h *harness)
		want  Stage
	}{
		{
			name:  "mixed premiums",
			setup: func(h *harness) { h.pools.set(h.market.Legs[1].Pool, 9, 10) },
			want:  StageNoOpportunity,
		},
		{
			name:  "below threshold",
			setup: func(h *harness) { h.cfg.MinProfitBps = 5_000 },
			want:  StageBelowThreshold,
		},
		{
			name:  "empty wallet",
			setup: func(h *harness) { h.wallet.balance = big.NewInt(0) },
			want:  StageInsufficientCapital,
		},
		{
			name:  "capital below one increment",
			setup: func(h *harness) { h.cfg.MaxCapital = decimal.RequireFromString("50") },
			want:  StageInsufficientCapital,
		},
		{
			name: "no trading legs",
			setup: func(h *harness) {
				for i := range h.market.Legs {
					h.market.Legs[i].State = domain.TradingStatePaused
				}
			},
			want: StageNoOpportunity,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			tt.setup(h)
			out, err := h.service().RunOnce(context.Background())
			if err != nil {
				t.Fatalf("RunOnce: %v", err)
			}
			if out.Stage != tt.want {
				t.Fatalf("stage = %s, want %s", out.Stage, tt.want)
			}
			if len(h.exec.plans) != 0 {
				t.Fatal("executor must not be called")
			}
		})
	}
}

func TestRunOnceSetupErrorsAreFatal(t *testing.T) {
	tests := []struct {
		name  string
		setup func(h *harness)
		want  error
	}{
		{
			name:  "market unavailable",
			setup: func(h *harness) { h.mktErr = domain.ErrMarketUnavailable },
			want:  domain.ErrMarketUnavailable,
		},
		{
			name:  "missing spot pool",
			setup: func(h *harness) { h.market.SpotPool = common.Address{} },
			want:  domain.ErrMissingSpotPool,
		},
		{
			name:  "leg pool unreadable",
			setup: func(h *harness) { delete(h.pools.states, h.market.Legs[1].Pool) },
			want:  domain.ErrInsufficientPriceCoverage,
		},
		{
			name:  "spot pool unreadable",
			setup: func(h *harness) { delete(h.pools.states, h.market.SpotPool) },
			want:  domain.ErrPoolUnavailable,
		},
		{
			name: "signer busy",
			setup: func(h *harness) {
				if _, err := h.locks.Acquire(context.Background(), "signer:"+signerAddr.Hex(), time.Minute); err != nil {
					panic(err)
				}
			},
			want: domain.ErrLockHeld,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			tt.setup(h)
			out, err := h.service().RunOnce(context.Background())
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if !domain.IsFatal(err) {
				t.Fatalf("err %v should be fatal", err)
			}
			if out.Stage != StageSetupFailed {
				t.Fatalf("stage = %s", out.Stage)
			}
		})
	}
}

func TestRunOnceReleasesLock(t *testing.T) {
	h := newHarness()
	h.cfg.DryRun = true
	svc := h.service()
	for i := 0; i < 2; i++ {
		if _, err := svc.RunOnce(context.Background()); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}
}

func TestPriceReaderSkipsInactiveLegs(t *testing.T) {
	pools := newFakePools()
	market := testMarket(domain.TradingStateTrading, domain.TradingStateFinalized, domain.TradingStateTrading)
	pools.set(market.SpotPool, 2, 1)
	pools.set(market.Legs[0].Pool, 21, 10)
	pools.set(market.Legs[2].Pool, 22, 10)

	snap, state, err := NewPriceReader(pools, testLogger()).Read(context.Background(), market)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !snap.Spot.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("spot = %s, want 2", snap.Spot)
	}
	if snap.Legs[1] != nil || state.Legs[1] != nil {
		t.Fatal("finalized leg must have no price")
	}
	if !snap.Legs[2].Equal(decimal.RequireFromString("2.2")) {
		t.Fatalf("leg 2 = %s, want 2.2", snap.Legs[2])
	}
	if len(state.ActiveStates()) != 2 || pools.reads != 3 {
		t.Fatalf("active states = %d, reads = %d", len(state.ActiveStates()), pools.reads)
	}
	if snap.Clock.BlockNumber != 42 {
		t.Fatalf("clock = %+v", snap.Clock)
	}
}

func TestReportPath(t *testing.T) {
	got := ReportPath("mkt-1", time.Date(2026, 10, 17, 23, 0, 0, 0, time.FixedZone("x", -3600)), "run-1")
	if got != "runs/mkt-1/2026-10-18/run-1.json" {
		t.Fatalf("ReportPath = %q", got)
	}
}

func TestLegRecorderAppends(t *testing.T) {
	runs := &memRuns{}
	rec := LegRecorder{Runs: runs}
	if err := rec.RecordLeg(context.Background(), "r1", domain.LegResult{Seq: 1}); err != nil {
		t.Fatal(err)
	}
	if len(runs.legs["r1"]) != 1 {
		t.Fatalf("legs = %v", runs.legs)
	}
	if err := (LegRecorder{}).RecordLeg(context.Background(), "r1", domain.LegResult{}); err != nil {
		t.Fatalf("nil store: %v", err)
	}
}
