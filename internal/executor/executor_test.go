package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/zcombinatorio/percent-sub003/internal/domain"
)

func addr(n int64) common.Address { return common.BigToAddress(big.NewInt(n)) }

var (
	baseToken  = domain.Asset{Token: addr(0xb0), Decimals: 6}
	quoteToken = domain.Asset{Token: addr(0xa0), Decimals: 6}
	spotPool   = addr(0x50)
	vaultAddr  = addr(0xf0)
	walletAddr = addr(0xe0)
)

func testMarket(states ...domain.TradingState) domain.MarketConfiguration {
	m := domain.MarketConfiguration{
		ID:       "mkt-1",
		SpotPool: spotPool,
		Vault:    vaultAddr,
		Base:     baseToken,
		Quote:    quoteToken,
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

// fakeChain plays the AMM, the vault and the wallet against one in-memory
// balance sheet. Pool prices are quote per base in percent.
type fakeChain struct {
	mu       sync.Mutex
	market   domain.MarketConfiguration
	bal      map[common.Address]*big.Int
	price    map[common.Address]int64
	failPool map[common.Address]error
	pending  map[string]func()
	calls    []string
	seq      int

	// failBalanceAt fails the nth Balance call (1-based); submitErr fails
	// every swap submission.
	failBalanceAt int
	balanceCalls  int
	submitErr     error
}

func newFakeChain(m domain.MarketConfiguration, quoteBalance int64) *fakeChain {
	return &fakeChain{
		market:   m,
		bal:      map[common.Address]*big.Int{quoteToken.Token: big.NewInt(quoteBalance)},
		price:    map[common.Address]int64{},
		failPool: map[common.Address]error{},
		pending:  map[string]func(){},
	}
}

func (f *fakeChain) add(token common.Address, delta *big.Int) {
	cur, ok := f.bal[token]
	if !ok {
		cur = new(big.Int)
	}
	f.bal[token] = new(big.Int).Add(cur, delta)
}

func (f *fakeChain) FetchState(_ context.Context, pool common.Address, base, quote domain.Asset) (domain.PoolState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "fetch "+pool.Hex())
	if err := f.failPool[pool]; err != nil {
		return domain.PoolState{}, err
	}
	return domain.PoolState{Address: pool, Base: base, Quote: quote}, nil
}

func (f *fakeChain) Clock(context.Context) (domain.ClockContext, error) {
	return domain.ClockContext{Timestamp: time.Unix(1_800_000_000, 0), BlockNumber: 1}, nil
}

func (f *fakeChain) Quote(state domain.PoolState, amountIn *big.Int, input domain.AssetClass, _ uint32, _ domain.ClockContext) (domain.Quote, error) {
	f.mu.Lock()
	p := f.price[state.Address]
	f.mu.Unlock()
	out := new(big.Int)
	if input == domain.AssetQuote {
		out.Mul(amountIn, big.NewInt(100)).Quo(out, big.NewInt(p))
	} else {
		out.Mul(amountIn, big.NewInt(p)).Quo(out, big.NewInt(100))
	}
	return domain.Quote{Pool: state.Address, Input: input, AmountIn: amountIn, AmountOut: out, MinAmountOut: out}, nil
}

func (f *fakeChain) BuildSwap(state domain.PoolState, q domain.Quote, _ common.Address, _ time.Time) (domain.UnsignedInstruction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	label := fmt.Sprintf("swap-%d", f.seq)
	in, out := state.Quote.Token, state.Base.Token
	if q.Input == domain.AssetBase {
		in, out = out, in
	}
	f.pending[label] = func() {
		f.add(in, new(big.Int).Neg(q.AmountIn))
		f.add(out, q.AmountOut)
	}
	return domain.UnsignedInstruction{Label: label, To: state.Address}, nil
}

func (f *fakeChain) Address() common.Address { return walletAddr }

func (f *fakeChain) Balance(_ context.Context, token common.Address) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balanceCalls++
	if f.balanceCalls == f.failBalanceAt {
		return nil, errors.New("rpc unavailable")
	}
	if b, ok := f.bal[token]; ok {
		return new(big.Int).Set(b), nil
	}
	return new(big.Int), nil
}

func (f *fakeChain) Submit(_ context.Context, inst domain.UnsignedInstruction) (domain.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "submit "+inst.Label)
	if f.submitErr != nil {
		return domain.Receipt{}, f.submitErr
	}
	apply, ok := f.pending[inst.Label]
	if !ok {
		return domain.Receipt{}, errors.New("unknown instruction")
	}
	apply()
	return domain.Receipt{TxHash: common.BytesToHash([]byte(inst.Label))}, nil
}

func (f *fakeChain) vaultOp(kind string, class domain.AssetClass, amount *big.Int, sign int64) domain.LegResult {
	underlying := f.market.Base.Token
	if class == domain.AssetQuote {
		underlying = f.market.Quote.Token
	}
	f.add(underlying, new(big.Int).Mul(amount, big.NewInt(-sign)))
	for _, l := range f.market.Legs {
		cond := l.Base.Token
		if class == domain.AssetQuote {
			cond = l.Quote.Token
		}
		f.add(cond, new(big.Int).Mul(amount, big.NewInt(sign)))
	}
	f.calls = append(f.calls, kind)
	return domain.LegResult{TxHash: kind, AmountIn: amount, AmountOut: amount}
}

func (f *fakeChain) Split(_ context.Context, _, _ common.Address, class domain.AssetClass, amount *big.Int) (domain.LegResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.vaultOp("split", class, amount, 1), nil
}

func (f *fakeChain) Merge(_ context.Context, _, _ common.Address, class domain.AssetClass, amount *big.Int) (domain.LegResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.vaultOp("merge", class, amount, -1), nil
}

func (f *fakeChain) called(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if c == name {
			return true
		}
	}
	return false
}

type memRecorder struct {
	mu   sync.Mutex
	legs []domain.LegResult
}

func (m *memRecorder) RecordLeg(_ context.Context, _ string, leg domain.LegResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.legs = append(m.legs, leg)
	return nil
}

func newTestOrchestrator(f *fakeChain, rec Recorder) *Orchestrator {
	return NewOrchestrator(OrchestratorConfig{
		AMM:      f,
		Vault:    f,
		Wallet:   f,
		Recorder: rec,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func kinds(legs []domain.LegResult) []domain.LegKind {
	out := make([]domain.LegKind, len(legs))
	for i, l := range legs {
		out[i] = l.Kind
	}
	return out
}

func TestExecuteAbove(t *testing.T) {
	m := testMarket(domain.TradingStateTrading, domain.TradingStateFinalized, domain.TradingStateTrading)
	f := newFakeChain(m, 10_000)
	f.price[spotPool] = 100
	f.price[m.Legs[0].Pool] = 110
	f.price[m.Legs[2].Pool] = 112

	res := newTestOrchestrator(f, nil).Execute(context.Background(), Plan{
		RunID: "run-1", Market: m, Direction: domain.DirectionAbove, Amount: big.NewInt(1_000),
	})
	if !res.Success || res.Status != domain.RunDone {
		t.Fatalf("status = %s err = %v", res.Status, res.Err)
	}
	want := []domain.LegKind{domain.LegBuySpot, domain.LegSplit, domain.LegSwap, domain.LegSwap, domain.LegMerge}
	if got := kinds(res.Legs); fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("steps = %v, want %v", got, want)
	}
	// Merge is limited by the 1.10 leg: 1100 quote back for 1000 spent.
	if res.Received.Int64() != 1_100 || res.Realized.Int64() != 100 {
		t.Fatalf("received=%s realized=%s", res.Received, res.Realized)
	}
	if res.Legs[2].Leg != 0 || res.Legs[3].Leg != 2 {
		t.Fatalf("leg indices = %d, %d", res.Legs[2].Leg, res.Legs[3].Leg)
	}
	if f.called("fetch " + m.Legs[1].Pool.Hex()) {
		t.Fatal("finalized leg must not be touched")
	}
}

func TestExecuteBelow(t *testing.T) {
	m := testMarket(domain.TradingStateTrading, domain.TradingStateTrading)
	f := newFakeChain(m, 10_000)
	f.price[spotPool] = 100
	f.price[m.Legs[0].Pool] = 90
	f.price[m.Legs[1].Pool] = 95

	res := newTestOrchestrator(f, nil).Execute(context.Background(), Plan{
		RunID: "run-2", Market: m, Direction: domain.DirectionBelow, Amount: big.NewInt(1_000),
	})
	if !res.Success {
		t.Fatalf("err = %v", res.Err)
	}
	want := []domain.LegKind{domain.LegSplit, domain.LegSwap, domain.LegSwap, domain.LegMerge, domain.LegSellSpot}
	if got := kinds(res.Legs); fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("steps = %v, want %v", got, want)
	}
	// 1000/0.90 = 1111 and 1000/0.95 = 1052 base; merge 1052.
	if res.Legs[3].AmountOut.Int64() != 1_052 {
		t.Fatalf("merged = %s, want 1052", res.Legs[3].AmountOut)
	}
	if res.Realized.Int64() != 52 {
		t.Fatalf("realized = %s, want 52", res.Realized)
	}
}

func TestExecuteStopsAtFailedLeg(t *testing.T) {
	m := testMarket(domain.TradingStateTrading)
	f := newFakeChain(m, 10_000)
	f.price[spotPool] = 100
	f.failPool[m.Legs[0].Pool] = domain.ErrPoolUnavailable
	rec := &memRecorder{}

	if PlannedLegs(len(m.ActiveLegs())) != 4 {
		t.Fatal("expected a four step plan")
	}
	res := newTestOrchestrator(f, rec).Execute(context.Background(), Plan{
		RunID: "run-3", Market: m, Direction: domain.DirectionAbove, Amount: big.NewInt(1_000),
	})
	if res.Success || res.Status != domain.RunPartial {
		t.Fatalf("status = %s, want partial", res.Status)
	}
	if len(res.Legs) != 2 {
		t.Fatalf("completed steps = %d, want 2", len(res.Legs))
	}
	var le *LegError
	if !errors.As(res.Err, &le) {
		t.Fatalf("err = %T, want *LegError", res.Err)
	}
	if le.Seq != 3 || le.Kind != domain.LegSwap || le.Leg != 0 {
		t.Fatalf("leg error = %+v", le)
	}
	if !errors.Is(res.Err, domain.ErrPoolUnavailable) {
		t.Fatalf("err = %v, want wrapped ErrPoolUnavailable", res.Err)
	}
	if f.called("merge") {
		t.Fatal("merge must never be attempted after a failed leg")
	}
	if len(rec.legs) != 3 || rec.legs[2].Error == "" {
		t.Fatalf("recorded %d legs, want two confirmed and one failed", len(rec.legs))
	}
}

func TestExecuteFailsOnFirstStep(t *testing.T) {
	m := testMarket(domain.TradingStateTrading)
	f := newFakeChain(m, 10_000)
	f.failPool[spotPool] = domain.ErrPoolUnavailable

	res := newTestOrchestrator(f, nil).Execute(context.Background(), Plan{
		RunID: "run-4", Market: m, Direction: domain.DirectionAbove, Amount: big.NewInt(1_000),
	})
	if res.Status != domain.RunFailed || len(res.Legs) != 0 {
		t.Fatalf("status = %s legs = %d", res.Status, len(res.Legs))
	}
}

func TestExecuteKeepsConfirmedSwapWhenBalanceReadFails(t *testing.T) {
	m := testMarket(domain.TradingStateTrading)
	f := newFakeChain(m, 10_000)
	f.price[spotPool] = 100
	// precheck, balance before the spot swap, balance after it
	f.failBalanceAt = 3
	rec := &memRecorder{}

	res := newTestOrchestrator(f, rec).Execute(context.Background(), Plan{
		RunID: "run-6", Market: m, Direction: domain.DirectionAbove, Amount: big.NewInt(1_000),
	})
	if !f.called("submit swap-1") {
		t.Fatal("spot swap was not submitted")
	}
	if res.Status != domain.RunPartial {
		t.Fatalf("status = %s, want partial once the swap confirmed", res.Status)
	}
	if len(res.Legs) != 1 {
		t.Fatalf("legs = %d, want the confirmed spot swap", len(res.Legs))
	}
	leg := res.Legs[0]
	if leg.Kind != domain.LegBuySpot || leg.TxHash == "" || leg.Error == "" {
		t.Fatalf("leg = %+v", leg)
	}
	if leg.AmountIn.Int64() != 1_000 || leg.AmountOut != nil {
		t.Fatalf("amount in = %s out = %s", leg.AmountIn, leg.AmountOut)
	}
	var le *LegError
	if !errors.As(res.Err, &le) || le.Seq != 1 {
		t.Fatalf("err = %v", res.Err)
	}
	if f.called("split") {
		t.Fatal("split must not run after an unmeasured swap")
	}
	if len(rec.legs) != 1 || rec.legs[0].TxHash != leg.TxHash {
		t.Fatalf("recorded = %+v", rec.legs)
	}
}

func TestExecuteRecordsHashOfUnconfirmedSwap(t *testing.T) {
	m := testMarket(domain.TradingStateTrading)
	f := newFakeChain(m, 10_000)
	f.price[spotPool] = 100
	hash := common.HexToHash("0xabc1")
	f.submitErr = &domain.TxError{TxHash: hash, Err: context.DeadlineExceeded}
	rec := &memRecorder{}

	res := newTestOrchestrator(f, rec).Execute(context.Background(), Plan{
		RunID: "run-7", Market: m, Direction: domain.DirectionAbove, Amount: big.NewInt(1_000),
	})
	if res.Status != domain.RunFailed || len(res.Legs) != 0 {
		t.Fatalf("status = %s legs = %d", res.Status, len(res.Legs))
	}
	if len(rec.legs) != 1 {
		t.Fatalf("recorded %d legs, want the failed attempt", len(rec.legs))
	}
	if rec.legs[0].TxHash != hash.Hex() || rec.legs[0].Error == "" {
		t.Fatalf("recorded = %+v", rec.legs[0])
	}
}

func TestExecuteInsufficientBalance(t *testing.T) {
	m := testMarket(domain.TradingStateTrading)
	f := newFakeChain(m, 10)

	res := newTestOrchestrator(f, nil).Execute(context.Background(), Plan{
		RunID: "run-5", Market: m, Direction: domain.DirectionBelow, Amount: big.NewInt(1_000),
	})
	if res.Status != domain.RunFailed || !errors.Is(res.Err, domain.ErrInsufficientBalance) {
		t.Fatalf("status = %s err = %v", res.Status, res.Err)
	}
	if f.called("split") {
		t.Fatal("nothing may execute after a failed balance check")
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to RunState
		want     bool
	}{
		{StateIdle, StateBuyingSpot, true},
		{StateIdle, StateSplitting, true},
		{StateIdle, StateMerging, false},
		{StateBuyingSpot, StateSplitting, true},
		{StateSplitting, StateSwappingLegs, true},
		{StateSwappingLegs, StateMerging, true},
		{StateMerging, StateSellingSpot, true},
		{StateMerging, StateDone, true},
		{StateSellingSpot, StateDone, true},
		{StateSwappingLegs, StatePartial, true},
		{StateDone, StateFailed, false},
		{StateMerging, StateSplitting, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("%s -> %s = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}
