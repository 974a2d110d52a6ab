// Command arbbot runs the conditional-market arbitrage engine. It loads
// configuration, wires dependencies and runs once or in watch mode.
//
// Exit codes: 0 when the run completed or found nothing to do, 1 on a
// setup or configuration failure, 2 when an execution stopped part-way and
// needs reconciliation.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/zcombinatorio/percent-sub003/internal/app"
	"github.com/zcombinatorio/percent-sub003/internal/config"
	"github.com/zcombinatorio/percent-sub003/internal/crypto"
	"github.com/zcombinatorio/percent-sub003/internal/service"
)

const (
	exitOK         = 0
	exitFatal      = 1
	exitIncomplete = 2
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "encrypt-key" {
		os.Exit(encryptKey(os.Args[2:]))
	}
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to TOML configuration file (defaults and env only when empty)")
	marketID := flag.String("market", "", "market id, overrides market.id")
	mode := flag.String("mode", "", "once or watch, overrides mode")
	dryRun := flag.Bool("dry-run", false, "size the trade but do not execute")
	flag.Parse()

	logger := newLogger("info")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", slog.String("path", *configPath), slog.String("error", err.Error()))
		return exitFatal
	}
	if *marketID != "" {
		cfg.Market.ID = *marketID
	}
	if *mode != "" {
		cfg.Mode = *mode
	}
	if *dryRun {
		cfg.Arbitrage.DryRun = true
	}

	logger = newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		return exitFatal
	}
	logger.Debug("configuration", slog.Any("config", config.RedactedConfig(cfg)))

	application := app.New(cfg, logger)
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = application.Run(ctx)
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, context.Canceled):
		logger.Info("shut down")
		return exitOK
	case errors.Is(err, service.ErrRunIncomplete):
		fmt.Fprintf(os.Stderr, "incomplete: %v\n", err)
		return exitIncomplete
	default:
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		return exitFatal
	}
}

// encryptKey seals ARBBOT_WALLET_PRIVATE_KEY with ARBBOT_WALLET_KEY_PASSWORD
// into the file given by -out, for use as wallet.key_file.
func encryptKey(args []string) int {
	fs := flag.NewFlagSet("encrypt-key", flag.ContinueOnError)
	out := fs.String("out", "wallet.key.json", "output path")
	if err := fs.Parse(args); err != nil {
		return exitFatal
	}
	_ = godotenv.Load()

	rawKey := os.Getenv("ARBBOT_WALLET_PRIVATE_KEY")
	password := os.Getenv("ARBBOT_WALLET_KEY_PASSWORD")
	if rawKey == "" || password == "" {
		fmt.Fprintln(os.Stderr, "encrypt-key: ARBBOT_WALLET_PRIVATE_KEY and ARBBOT_WALLET_KEY_PASSWORD must be set")
		return exitFatal
	}

	key, err := crypto.ParseHexKey(rawKey)
	if err != nil {
		fmt.Fprintf(os.Stderr, "encrypt-key: %v\n", err)
		return exitFatal
	}
	sealed, err := crypto.SealKey(key, password)
	if err != nil {
		fmt.Fprintf(os.Stderr, "encrypt-key: %v\n", err)
		return exitFatal
	}
	if err := os.WriteFile(*out, sealed, 0o600); err != nil {
		fmt.Fprintf(os.Stderr, "encrypt-key: write %s: %v\n", *out, err)
		return exitFatal
	}
	fmt.Printf("wrote sealed key to %s\n", *out)
	return exitOK
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
