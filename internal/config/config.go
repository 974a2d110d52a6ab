// Package config defines the engine configuration and its validation.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Config is the root configuration. Fields come from a TOML file and are
// then overridden by ARBBOT_* environment variables.
type Config struct {
	Wallet        WalletConfig    `toml:"wallet"`
	Chain         ChainConfig     `toml:"chain"`
	MarketAPI     MarketAPIConfig `toml:"market_api"`
	Market        MarketConfig    `toml:"market"`
	Arbitrage     ArbitrageConfig `toml:"arbitrage"`
	Postgres      PostgresConfig  `toml:"postgres"`
	Redis         RedisConfig     `toml:"redis"`
	S3            S3Config        `toml:"s3"`
	Server        ServerConfig    `toml:"server"`
	Mode          string          `toml:"mode"`
	LogLevel      string          `toml:"log_level"`
	WatchInterval duration        `toml:"watch_interval"`
}

// WalletConfig locates the signing key: a raw hex key, or a key file that
// is either sealed by `arbbot encrypt-key` or holds a hex key.
type WalletConfig struct {
	PrivateKey  string `toml:"private_key"`
	KeyFile     string `toml:"key_file"`
	KeyPassword string `toml:"key_password"`
}

// ChainConfig holds the JSON-RPC endpoint and submission parameters.
type ChainConfig struct {
	RPCURL              string   `toml:"rpc_url"`
	ChainID             int64    `toml:"chain_id"`
	RouterAddress       string   `toml:"router_address"`
	DialTimeout         duration `toml:"dial_timeout"`
	Confirmations       uint64   `toml:"confirmations"`
	ReceiptPollInterval duration `toml:"receipt_poll_interval"`
	ReceiptTimeout      duration `toml:"receipt_timeout"`
	TxDeadline          duration `toml:"tx_deadline"`
	// GasLimitPercent scales the node's gas estimate, e.g. 120 for +20%.
	GasLimitPercent uint64 `toml:"gas_limit_percent"`
}

// MarketAPIConfig points at the market configuration service.
type MarketAPIConfig struct {
	BaseURL string   `toml:"base_url"`
	Timeout duration `toml:"timeout"`
}

// MarketConfig selects the market to trade.
type MarketConfig struct {
	ID string `toml:"id"`
}

// ArbitrageConfig holds the detection and sizing parameters. Capital
// amounts are in human units of the market's quote asset.
type ArbitrageConfig struct {
	MinProfitBps          int64           `toml:"min_profit_bps"`
	MaxSlippageBps        uint32          `toml:"max_slippage_bps"`
	PerSwapFeeBps         int64           `toml:"per_swap_fee_bps"`
	MaxCapital            decimal.Decimal `toml:"max_capital"`
	CapitalSafetyFraction decimal.Decimal `toml:"capital_safety_fraction"`
	SizingIncrement       decimal.Decimal `toml:"sizing_increment"`
	MaxCandidates         int             `toml:"max_candidates"`
	SizingConcurrency     int             `toml:"sizing_concurrency"`
	DryRun                bool            `toml:"dry_run"`
}

// PostgresConfig holds the run ledger connection.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds the lock and event bus connection. LockTTL applies to
// the in-process lock as well when Redis is disabled.
type RedisConfig struct {
	Enabled    bool     `toml:"enabled"`
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	KeyPrefix  string   `toml:"key_prefix"`
	LockTTL    duration `toml:"lock_ttl"`
}

// S3Config holds the run report archive.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	Prefix         string `toml:"prefix"`
}

// ServerConfig holds the watch-mode HTTP server.
type ServerConfig struct {
	Enabled bool   `toml:"enabled"`
	Port    int    `toml:"port"`
	APIKey  string `toml:"api_key"`
}

// duration decodes TOML strings like "5m" or "30s".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config with working defaults for everything except
// the market, router and signer.
func Defaults() Config {
	return Config{
		Chain: ChainConfig{
			RPCURL:              "http://localhost:8545",
			ChainID:             8453,
			DialTimeout:         duration{10 * time.Second},
			Confirmations:       1,
			ReceiptPollInterval: duration{2 * time.Second},
			ReceiptTimeout:      duration{2 * time.Minute},
			TxDeadline:          duration{5 * time.Minute},
			GasLimitPercent:     120,
		},
		MarketAPI: MarketAPIConfig{
			BaseURL: "http://localhost:3001/api",
			Timeout: duration{10 * time.Second},
		},
		Arbitrage: ArbitrageConfig{
			MinProfitBps:          50,
			MaxSlippageBps:        100,
			PerSwapFeeBps:         50,
			MaxCapital:            decimal.NewFromInt(1_000),
			CapitalSafetyFraction: decimal.RequireFromString("0.9"),
			SizingIncrement:       decimal.NewFromInt(1),
			MaxCandidates:         200,
			SizingConcurrency:     8,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "arbbot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  5,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   10,
			MaxRetries: 3,
			KeyPrefix:  "arbbot:",
			LockTTL:    duration{10 * time.Minute},
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "arbbot-reports",
			ForcePathStyle: true,
			Prefix:         "reports",
		},
		Server: ServerConfig{
			Enabled: true,
			Port:    8000,
		},
		Mode:          "once",
		LogLevel:      "info",
		WatchInterval: duration{30 * time.Second},
	}
}

var validModes = map[string]bool{
	"once":  true,
	"watch": true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate reports every problem at once. Signer presence is checked when
// the key is loaded.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: once, watch)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}
	if strings.EqualFold(c.Mode, "watch") && c.WatchInterval.Duration <= 0 {
		errs = append(errs, "watch_interval must be > 0 in watch mode")
	}

	if c.Wallet.PrivateKey != "" && c.Wallet.KeyFile != "" {
		errs = append(errs, "wallet: set only one of private_key and key_file")
	}

	if c.Chain.RPCURL == "" {
		errs = append(errs, "chain: rpc_url must not be empty")
	}
	if c.Chain.ChainID <= 0 {
		errs = append(errs, "chain: chain_id must be positive")
	}
	if !common.IsHexAddress(c.Chain.RouterAddress) {
		errs = append(errs, fmt.Sprintf("chain: router_address %q is not a hex address", c.Chain.RouterAddress))
	}
	if c.Chain.GasLimitPercent < 100 {
		errs = append(errs, "chain: gas_limit_percent must be >= 100")
	}
	if c.Chain.ReceiptPollInterval.Duration <= 0 || c.Chain.ReceiptTimeout.Duration <= 0 {
		errs = append(errs, "chain: receipt_poll_interval and receipt_timeout must be > 0")
	}
	if c.Chain.TxDeadline.Duration <= 0 {
		errs = append(errs, "chain: tx_deadline must be > 0")
	}

	if c.MarketAPI.BaseURL == "" {
		errs = append(errs, "market_api: base_url must not be empty")
	}
	if strings.TrimSpace(c.Market.ID) == "" {
		errs = append(errs, "market: id must not be empty")
	}

	a := c.Arbitrage
	if a.MaxSlippageBps >= 10_000 {
		errs = append(errs, "arbitrage: max_slippage_bps must be < 10000")
	}
	if a.PerSwapFeeBps < 0 {
		errs = append(errs, "arbitrage: per_swap_fee_bps must be >= 0")
	}
	if a.MaxCapital.IsNegative() {
		errs = append(errs, "arbitrage: max_capital must be >= 0 (0 means no cap)")
	}
	if !a.CapitalSafetyFraction.IsPositive() || a.CapitalSafetyFraction.GreaterThan(decimal.NewFromInt(1)) {
		errs = append(errs, "arbitrage: capital_safety_fraction must be in (0, 1]")
	}
	if !a.SizingIncrement.IsPositive() {
		errs = append(errs, "arbitrage: sizing_increment must be > 0")
	}
	if a.MaxCandidates < 1 {
		errs = append(errs, "arbitrage: max_candidates must be >= 1")
	}
	if a.SizingConcurrency < 1 {
		errs = append(errs, "arbitrage: sizing_concurrency must be >= 1")
	}

	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.LockTTL.Duration <= 0 {
		errs = append(errs, "redis: lock_ttl must be > 0")
	}

	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
	}

	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
