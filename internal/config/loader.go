package config

import (
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Load merges the TOML file at path (if any) over Defaults, loads .env and
// applies ARBBOT_* overrides. The result is not validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// A missing .env is fine.
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "ARBBOT_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.KeyFile, "ARBBOT_WALLET_KEY_FILE")
	setStr(&cfg.Wallet.KeyPassword, "ARBBOT_WALLET_KEY_PASSWORD")

	// ── Chain ──
	setStr(&cfg.Chain.RPCURL, "ARBBOT_CHAIN_RPC_URL")
	setInt64(&cfg.Chain.ChainID, "ARBBOT_CHAIN_CHAIN_ID")
	setStr(&cfg.Chain.RouterAddress, "ARBBOT_CHAIN_ROUTER_ADDRESS")
	setUint64(&cfg.Chain.Confirmations, "ARBBOT_CHAIN_CONFIRMATIONS")
	setDuration(&cfg.Chain.ReceiptTimeout, "ARBBOT_CHAIN_RECEIPT_TIMEOUT")
	setDuration(&cfg.Chain.TxDeadline, "ARBBOT_CHAIN_TX_DEADLINE")
	setUint64(&cfg.Chain.GasLimitPercent, "ARBBOT_CHAIN_GAS_LIMIT_PERCENT")

	// ── Market ──
	setStr(&cfg.MarketAPI.BaseURL, "ARBBOT_MARKET_API_BASE_URL")
	setStr(&cfg.Market.ID, "ARBBOT_MARKET_ID")

	// ── Arbitrage ──
	setInt64(&cfg.Arbitrage.MinProfitBps, "ARBBOT_ARBITRAGE_MIN_PROFIT_BPS")
	setUint32(&cfg.Arbitrage.MaxSlippageBps, "ARBBOT_ARBITRAGE_MAX_SLIPPAGE_BPS")
	setInt64(&cfg.Arbitrage.PerSwapFeeBps, "ARBBOT_ARBITRAGE_PER_SWAP_FEE_BPS")
	setDecimal(&cfg.Arbitrage.MaxCapital, "ARBBOT_ARBITRAGE_MAX_CAPITAL")
	setDecimal(&cfg.Arbitrage.CapitalSafetyFraction, "ARBBOT_ARBITRAGE_CAPITAL_SAFETY_FRACTION")
	setDecimal(&cfg.Arbitrage.SizingIncrement, "ARBBOT_ARBITRAGE_SIZING_INCREMENT")
	setInt(&cfg.Arbitrage.MaxCandidates, "ARBBOT_ARBITRAGE_MAX_CANDIDATES")
	setBool(&cfg.Arbitrage.DryRun, "ARBBOT_ARBITRAGE_DRY_RUN")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "ARBBOT_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "ARBBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "ARBBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "ARBBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "ARBBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "ARBBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "ARBBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "ARBBOT_POSTGRES_SSL_MODE")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "ARBBOT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "ARBBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "ARBBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "ARBBOT_REDIS_DB")
	setBool(&cfg.Redis.TLSEnabled, "ARBBOT_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.LockTTL, "ARBBOT_REDIS_LOCK_TTL")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "ARBBOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "ARBBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "ARBBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "ARBBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "ARBBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "ARBBOT_S3_SECRET_KEY")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "ARBBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "ARBBOT_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "ARBBOT_SERVER_API_KEY")

	// ── Top-level ──
	setStr(&cfg.Mode, "ARBBOT_MODE")
	setStr(&cfg.LogLevel, "ARBBOT_LOG_LEVEL")
	setDuration(&cfg.WatchInterval, "ARBBOT_WATCH_INTERVAL")
}

// Each helper only writes when the variable is set and parses.

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setUint32(dst *uint32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			*dst = uint32(n)
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setDecimal(dst *decimal.Decimal, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			*dst = d
		}
	}
}
