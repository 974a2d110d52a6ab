package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zcombinatorio/percent-sub003/internal/domain"
	"github.com/zcombinatorio/percent-sub003/internal/server"
	"github.com/zcombinatorio/percent-sub003/internal/server/handler"
	"github.com/zcombinatorio/percent-sub003/internal/service"
)

// Runner performs one run.
type Runner interface {
	RunOnce(ctx context.Context) (service.RunOutcome, error)
}

// OnceMode performs a single run.
func (a *App) OnceMode(ctx context.Context, deps *Dependencies) (service.RunOutcome, error) {
	out, err := deps.Service.RunOnce(ctx)
	a.logOutcome(ctx, out, err)
	return out, err
}

// WatchMode runs every watch_interval until ctx is cancelled, serving the
// HTTP API alongside when enabled.
func (a *App) WatchMode(ctx context.Context, deps *Dependencies) error {
	g, ctx := errgroup.WithContext(ctx)
	tracker := &handler.RunTracker{}

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, tracker)
	}

	g.Go(func() error {
		return a.watchLoop(ctx, deps.Service, tracker, a.cfg.WatchInterval.Duration)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// watchLoop runs immediately, then on every tick. Fatal setup errors stop
// the loop, except a busy signer, which only skips the tick. An incomplete
// execution never stops it, whatever the failed leg's cause: the legs are
// in the ledger and the next run re-reads prices from scratch.
func (a *App) watchLoop(ctx context.Context, runner Runner, tracker *handler.RunTracker, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		out, err := runner.RunOnce(ctx)
		tracker.Observe(string(out.Stage), out.RunID, err, time.Now())
		a.logOutcome(ctx, out, err)

		switch {
		case err == nil, errors.Is(err, domain.ErrLockHeld), errors.Is(err, service.ErrRunIncomplete):
		case ctx.Err() != nil:
			return ctx.Err()
		case domain.IsFatal(err):
			return fmt.Errorf("app: watch stopped: %w", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (a *App) logOutcome(ctx context.Context, out service.RunOutcome, err error) {
	attrs := []any{
		slog.String("stage", string(out.Stage)),
		slog.String("direction", string(out.Opportunity.Direction)),
		slog.Int64("estimated_profit_bps", out.Opportunity.EstimatedProfitBps),
	}
	if out.RunID != "" {
		attrs = append(attrs, slog.String("run_id", out.RunID))
	}
	if out.Sizing.Found {
		attrs = append(attrs,
			slog.String("sized_amount", out.Sizing.Optimal.Amount.String()),
			slog.String("expected_profit", out.Sizing.Optimal.Profit.String()),
		)
	}
	if out.Result != nil {
		attrs = append(attrs,
			slog.String("status", string(out.Result.Status)),
			slog.Int("completed_legs", len(out.Result.Legs)),
		)
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
		a.logger.ErrorContext(ctx, "run failed", attrs...)
		return
	}
	a.logger.InfoContext(ctx, "run finished", attrs...)
}

// startHTTPServer serves the API in g and shuts it down when ctx ends.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, tracker *handler.RunTracker) {
	handlers := server.Handlers{
		Health: handler.NewHealthHandler(deps.Checks, a.base),
		Status: handler.NewStatusHandler(a.cfg.Mode, a.cfg.Market.ID, a.cfg.Arbitrage.DryRun, tracker),
	}
	if deps.Runs != nil {
		handlers.Runs = handler.NewRunsHandler(deps.Runs, a.base)
	}
	srv := server.NewServer(server.Config{Port: a.cfg.Server.Port, APIKey: a.cfg.Server.APIKey}, handlers, a.base)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
