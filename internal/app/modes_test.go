package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/zcombinatorio/percent-sub003/internal/config"
	"github.com/zcombinatorio/percent-sub003/internal/domain"
	"github.com/zcombinatorio/percent-sub003/internal/executor"
	"github.com/zcombinatorio/percent-sub003/internal/server/handler"
	"github.com/zcombinatorio/percent-sub003/internal/service"
)

// scriptedRunner returns errs in order and cancels the loop once they are
// used up.
type scriptedRunner struct {
	errs   []error
	calls  int
	cancel context.CancelFunc
}

func (r *scriptedRunner) RunOnce(ctx context.Context) (service.RunOutcome, error) {
	r.calls++
	if r.calls > len(r.errs) {
		r.cancel()
		return service.RunOutcome{}, ctx.Err()
	}
	return service.RunOutcome{Stage: service.StageNoOpportunity}, r.errs[r.calls-1]
}

func testApp() *App {
	return New(&config.Config{Mode: "watch"}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestWatchLoopContinuesPastRecoverableErrors(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runner := &scriptedRunner{
		errs: []error{
			nil,
			fmt.Errorf("signer busy: %w", domain.ErrLockHeld),
			fmt.Errorf("run_service: run r1 partial: %w: %w", service.ErrRunIncomplete, &executor.LegError{
				Seq: 3, Kind: domain.LegSwap, Err: fmt.Errorf("amm: fetch state: %w", domain.ErrPoolUnavailable),
			}),
			nil,
		},
		cancel: cancel,
	}
	tracker := &handler.RunTracker{}

	err := testApp().watchLoop(ctx, runner, tracker, time.Millisecond)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if runner.calls != 5 {
		t.Fatalf("calls = %d, want 5", runner.calls)
	}
}

func TestWatchLoopStopsOnFatalError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runner := &scriptedRunner{
		errs:   []error{nil, fmt.Errorf("load market: %w", domain.ErrMissingSpotPool), nil},
		cancel: cancel,
	}

	err := testApp().watchLoop(ctx, runner, &handler.RunTracker{}, time.Millisecond)
	if !errors.Is(err, domain.ErrMissingSpotPool) {
		t.Fatalf("err = %v, want ErrMissingSpotPool", err)
	}
	if runner.calls != 2 {
		t.Fatalf("calls = %d, want 2", runner.calls)
	}
}
