package app

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/zcombinatorio/percent-sub003/internal/amm"
	"github.com/zcombinatorio/percent-sub003/internal/arbitrage"
	s3blob "github.com/zcombinatorio/percent-sub003/internal/blob/s3"
	"github.com/zcombinatorio/percent-sub003/internal/cache/memory"
	"github.com/zcombinatorio/percent-sub003/internal/cache/redis"
	"github.com/zcombinatorio/percent-sub003/internal/chain"
	"github.com/zcombinatorio/percent-sub003/internal/config"
	"github.com/zcombinatorio/percent-sub003/internal/crypto"
	"github.com/zcombinatorio/percent-sub003/internal/domain"
	"github.com/zcombinatorio/percent-sub003/internal/executor"
	"github.com/zcombinatorio/percent-sub003/internal/platform/percent"
	"github.com/zcombinatorio/percent-sub003/internal/server/handler"
	"github.com/zcombinatorio/percent-sub003/internal/service"
	"github.com/zcombinatorio/percent-sub003/internal/store/postgres"
	"github.com/zcombinatorio/percent-sub003/internal/vault"
)

// Dependencies bundles what the modes need. Runs, Bus and Reports are nil
// when their backend is disabled.
type Dependencies struct {
	Wallet  *chain.Wallet
	Runs    domain.RunStore
	Locks   domain.LockManager
	Bus     domain.EventBus
	Reports domain.ReportWriter
	Checks  map[string]handler.Check
	Service *service.RunService
}

// Wire builds every dependency from cfg. The returned cleanup releases
// connections in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{Checks: make(map[string]handler.Check)}

	// --- Signer ---
	key, err := crypto.LoadKey(crypto.KeySource{
		PrivateKey: cfg.Wallet.PrivateKey,
		KeyFile:    cfg.Wallet.KeyFile,
		Password:   cfg.Wallet.KeyPassword,
	})
	if err != nil {
		return fail(fmt.Errorf("wire: signer: %w", err))
	}
	signer, err := crypto.NewSigner(key, big.NewInt(cfg.Chain.ChainID))
	if err != nil {
		return fail(fmt.Errorf("wire: signer: %w", err))
	}

	// --- Chain ---
	chainClient, ec, err := chain.Dial(ctx, cfg.Chain.RPCURL, cfg.Chain.DialTimeout.Duration, logger)
	if err != nil {
		return fail(fmt.Errorf("wire: %w", err))
	}
	closers = append(closers, ec.Close)

	remoteID, err := ec.ChainID(ctx)
	if err != nil {
		return fail(fmt.Errorf("wire: chain id: %w", err))
	}
	if remoteID.Cmp(signer.ChainID()) != 0 {
		return fail(fmt.Errorf("wire: rpc chain id %s does not match configured %d", remoteID, cfg.Chain.ChainID))
	}
	deps.Checks["chain"] = func(ctx context.Context) error {
		_, err := chainClient.Clock(ctx)
		return err
	}

	wallet := chain.NewWallet(chainClient, signer, chain.WalletConfig{
		Confirmations:   cfg.Chain.Confirmations,
		PollInterval:    cfg.Chain.ReceiptPollInterval.Duration,
		ReceiptTimeout:  cfg.Chain.ReceiptTimeout.Duration,
		GasLimitPercent: cfg.Chain.GasLimitPercent,
	}, logger)
	deps.Wallet = wallet

	pools := amm.NewAdapter(chainClient, common.HexToAddress(cfg.Chain.RouterAddress), logger)
	vaults := vault.NewAdapter(chainClient, wallet, logger)

	// --- Run ledger (optional) ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}
		deps.Runs = postgres.NewRunStore(pgClient.Pool())
		deps.Checks["postgres"] = func(ctx context.Context) error { return pgClient.Pool().Ping(ctx) }
	}

	// --- Lock and event bus ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.Locks = redis.NewLockManager(redisClient, logger)
		deps.Bus = redis.NewEventBus(redisClient)
		deps.Checks["redis"] = redisClient.Ping
	} else {
		logger.InfoContext(ctx, "redis disabled: using in-process signer lock")
		deps.Locks = memory.NewLockManager()
	}

	// --- Report archive (optional) ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
			Prefix:         cfg.S3.Prefix,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.Reports = s3blob.NewReportWriter(s3Client)
		deps.Checks["s3"] = s3Client.Health
	}

	// --- Engine ---
	orchestrator := executor.NewOrchestrator(executor.OrchestratorConfig{
		AMM:      pools,
		Vault:    vaults,
		Wallet:   wallet,
		Recorder: service.LegRecorder{Runs: deps.Runs},
		Logger:   logger,
	})

	deps.Service = service.NewRunService(service.RunDeps{
		Markets:  percent.NewClient(cfg.MarketAPI.BaseURL, cfg.MarketAPI.Timeout.Duration),
		Prices:   service.NewPriceReader(pools, logger),
		Detector: arbitrage.NewDetector(arbitrage.DetectorConfig{PerSwapFeeBps: cfg.Arbitrage.PerSwapFeeBps, Logger: logger}),
		Sizer: arbitrage.NewSizer(arbitrage.SizerConfig{
			MaxCandidates: cfg.Arbitrage.MaxCandidates,
			Concurrency:   cfg.Arbitrage.SizingConcurrency,
			Logger:        logger,
		}),
		Quoter:   pools,
		Wallet:   wallet,
		Executor: orchestrator,
		Locks:    deps.Locks,
		Runs:     deps.Runs,
		Bus:      deps.Bus,
		Reports:  deps.Reports,
	}, service.RunConfig{
		MarketID:              cfg.Market.ID,
		MinProfitBps:          cfg.Arbitrage.MinProfitBps,
		MaxSlippageBps:        cfg.Arbitrage.MaxSlippageBps,
		MaxCapital:            cfg.Arbitrage.MaxCapital,
		CapitalSafetyFraction: cfg.Arbitrage.CapitalSafetyFraction,
		SizingIncrement:       cfg.Arbitrage.SizingIncrement,
		DryRun:                cfg.Arbitrage.DryRun,
		LockTTL:               cfg.Redis.LockTTL.Duration,
		TxDeadline:            cfg.Chain.TxDeadline.Duration,
	}, logger)

	logger.InfoContext(ctx, "dependencies wired",
		slog.String("signer", signer.Address().Hex()),
		slog.Bool("ledger", deps.Runs != nil),
		slog.Bool("event_bus", deps.Bus != nil),
		slog.Bool("report_archive", deps.Reports != nil),
	)
	return deps, cleanup, nil
}
