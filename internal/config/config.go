// Package config defines the top-level configuration for the ledger daemon
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/tradeledger/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by LEDGER_* environment variables.
type Config struct {
	Ledger   LedgerConfig   `toml:"ledger"`
	Store    StoreConfig    `toml:"store"`
	Postgres PostgresConfig `toml:"postgres"`
	SQLite   SQLiteConfig   `toml:"sqlite"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Archive  ArchiveConfig  `toml:"archive"`
	Marks    MarksConfig    `toml:"marks"`
	Gateway  GatewayConfig  `toml:"gateway"`
	Notify   NotifyConfig   `toml:"notify"`
	Risk     RiskConfig     `toml:"risk"`
	LogLevel string         `toml:"log_level"`
}

// LedgerConfig identifies the portfolio and its cash rules.
type LedgerConfig struct {
	PortfolioID string          `toml:"portfolio_id"`
	Currency    string          `toml:"currency"`
	InitialCash decimal.Decimal `toml:"initial_cash"`
	// MinCash, when set, rejects Long opens that would leave less cash.
	MinCash *decimal.Decimal `toml:"min_cash"`
	// AdminPassphraseHash is a bcrypt hash; empty disables admin resets.
	AdminPassphraseHash string   `toml:"admin_passphrase_hash"`
	LockTTL             duration `toml:"lock_ttl"`
	EventsChannel       string   `toml:"events_channel"`
	DayRollCron         string   `toml:"day_roll_cron"`
}

// StoreConfig selects the durable store backend.
type StoreConfig struct {
	// Driver is one of "postgres", "sqlite" or "memory".
	Driver string `toml:"driver"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
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

// SQLiteConfig holds the embedded store location.
type SQLiteConfig struct {
	Path string `toml:"path"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	// StreamMaxLen caps command streams (approximate trimming).
	StreamMaxLen int64 `toml:"stream_max_len"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig controls the monthly parquet export.
type ArchiveConfig struct {
	Enabled       bool   `toml:"enabled"`
	Cron          string `toml:"cron"`
	RetentionDays int    `toml:"retention_days"`
}

// MarksConfig drives mark-price refresh and the protection scan.
type MarksConfig struct {
	// Symbols are polled in addition to those with active positions.
	Symbols            []string `toml:"symbols"`
	PollInterval       duration `toml:"poll_interval"`
	OracleTimeout      duration `toml:"oracle_timeout"`
	MaxConcurrency     int      `toml:"max_concurrency"`
	PriceChannel       string   `toml:"price_channel"`
	ProtectionInterval duration `toml:"protection_interval"`
}

// GatewayConfig configures the command stream consumer.
type GatewayConfig struct {
	Enabled        bool     `toml:"enabled"`
	Stream         string   `toml:"stream"`
	ResultsChannel string   `toml:"results_channel"`
	DedupTTL       duration `toml:"dedup_ttl"`
	Batch          int      `toml:"batch"`
	Block          duration `toml:"block"`
}

// NotifyConfig holds operator alert channels. Leaving both empty disables
// notifications.
type NotifyConfig struct {
	TelegramToken     string `toml:"telegram_token"`
	TelegramChatID    string `toml:"telegram_chat_id"`
	DiscordWebhookURL string `toml:"discord_webhook_url"`
	// Events filters which ledger events are forwarded; empty forwards all.
	Events []string `toml:"events"`
}

// RiskLimits mirrors domain.RiskParams with TOML tags. Every field is
// optional at decode time so per-symbol tables can override a subset.
type RiskLimits struct {
	MaxPositions          *int             `toml:"max_positions"`
	MaxPositionsPerSymbol *int             `toml:"max_positions_per_symbol"`
	MaxPositionsPerGroup  *int             `toml:"max_positions_per_group"`
	MaxExposurePct        *decimal.Decimal `toml:"max_exposure_pct"`
	MaxDailyLossPct       *decimal.Decimal `toml:"max_daily_loss_pct"`
	MaxDrawdownPct        *decimal.Decimal `toml:"max_drawdown_pct"`
	MinVolume24h          *decimal.Decimal `toml:"min_volume_24h"`
	MaxPriceAge           *duration        `toml:"max_price_age"`
	MaxPositionSizePct    *decimal.Decimal `toml:"max_position_size_pct"`
	MinEquity             *decimal.Decimal `toml:"min_equity"`
}

// Params converts the limits to their domain form.
func (l RiskLimits) Params() domain.RiskParams {
	p := domain.RiskParams{
		MaxPositions:          l.MaxPositions,
		MaxPositionsPerSymbol: l.MaxPositionsPerSymbol,
		MaxPositionsPerGroup:  l.MaxPositionsPerGroup,
		MaxExposurePct:        l.MaxExposurePct,
		MaxDailyLossPct:       l.MaxDailyLossPct,
		MaxDrawdownPct:        l.MaxDrawdownPct,
		MinVolume24h:          l.MinVolume24h,
		MaxPositionSizePct:    l.MaxPositionSizePct,
		MinEquity:             l.MinEquity,
	}
	if l.MaxPriceAge != nil {
		p.MaxPriceAge = &l.MaxPriceAge.Duration
	}
	return p
}

// RiskConfig is the global limit set plus per-symbol overrides and the
// correlation groups used by the per-group limit.
type RiskConfig struct {
	RiskLimits
	Symbols map[string]RiskLimits `toml:"symbols"`
	Groups  map[string][]string   `toml:"groups"`
}

// ParamsFor returns the global limits with the symbol's overrides applied.
func (r RiskConfig) ParamsFor(symbol string) domain.RiskParams {
	global := r.RiskLimits.Params()
	if override, ok := r.Symbols[domain.NormalizeSymbol(symbol)]; ok {
		return global.Merge(override.Params())
	}
	return global
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values. Risk
// limits have no defaults: they must be configured explicitly.
func Defaults() Config {
	return Config{
		Ledger: LedgerConfig{
			PortfolioID:   "main",
			Currency:      "USD",
			InitialCash:   decimal.NewFromInt(10_000),
			LockTTL:       duration{30 * time.Second},
			EventsChannel: "ledger",
			DayRollCron:   "0 0 0 * * *",
		},
		Store: StoreConfig{
			Driver: "postgres",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "ledger",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		SQLite: SQLiteConfig{
			Path: "ledger.db",
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     20,
			MaxRetries:   3,
			StreamMaxLen: 100_000,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "ledger-archive",
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			Cron:          "0 0 3 1 * *",
			RetentionDays: 30,
		},
		Marks: MarksConfig{
			PollInterval:       duration{5 * time.Second},
			OracleTimeout:      duration{2 * time.Second},
			MaxConcurrency:     8,
			PriceChannel:       "prices",
			ProtectionInterval: duration{10 * time.Second},
		},
		Gateway: GatewayConfig{
			Enabled:        false,
			Stream:         "ledger:commands",
			ResultsChannel: "ledger:results",
			DedupTTL:       duration{10 * time.Minute},
			Batch:          32,
			Block:          duration{2 * time.Second},
		},
		Notify: NotifyConfig{
			Events: []string{
				domain.EventPositionClosed,
				domain.EventProtectionTriggered,
				domain.EventCashReset,
			},
		},
		LogLevel: "info",
	}
}

// validDrivers enumerates the accepted values for StoreConfig.Driver.
var validDrivers = map[string]bool{
	"postgres": true,
	"sqlite":   true,
	"memory":   true,
}

// cronParser accepts the six-field schedules the scheduler runs with.
var cronParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Ledger
	if strings.TrimSpace(c.Ledger.PortfolioID) == "" {
		errs = append(errs, "ledger: portfolio_id must not be empty")
	}
	if c.Ledger.InitialCash.IsNegative() {
		errs = append(errs, "ledger: initial_cash must be >= 0")
	}
	if c.Ledger.MinCash != nil && c.Ledger.MinCash.IsNegative() {
		errs = append(errs, "ledger: min_cash must be >= 0 when set")
	}
	if c.Ledger.LockTTL.Duration < time.Second {
		errs = append(errs, "ledger: lock_ttl must be >= 1s")
	}
	if c.Ledger.EventsChannel == "" {
		errs = append(errs, "ledger: events_channel must not be empty")
	}
	if c.Ledger.DayRollCron == "" {
		errs = append(errs, "ledger: day_roll_cron must not be empty")
	} else if _, err := cronParser.Parse(c.Ledger.DayRollCron); err != nil {
		errs = append(errs, fmt.Sprintf("ledger: day_roll_cron %q: %v", c.Ledger.DayRollCron, err))
	}

	// Store
	driver := strings.ToLower(c.Store.Driver)
	if !validDrivers[driver] {
		errs = append(errs, fmt.Sprintf("store: unknown driver %q (valid: postgres, sqlite, memory)", c.Store.Driver))
	}
	if driver == "postgres" {
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
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}
	if driver == "sqlite" && c.SQLite.Path == "" {
		errs = append(errs, "sqlite: path must not be empty")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// Archive
	if c.Archive.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when archive is enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archive is enabled")
		}
		if c.Archive.Cron == "" {
			errs = append(errs, "archive: cron must not be empty when enabled")
		} else if _, err := cronParser.Parse(c.Archive.Cron); err != nil {
			errs = append(errs, fmt.Sprintf("archive: cron %q: %v", c.Archive.Cron, err))
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
	}

	// Marks
	if c.Marks.PollInterval.Duration <= 0 {
		errs = append(errs, "marks: poll_interval must be > 0")
	}
	if c.Marks.OracleTimeout.Duration <= 0 {
		errs = append(errs, "marks: oracle_timeout must be > 0")
	}
	if c.Marks.MaxConcurrency < 1 {
		errs = append(errs, "marks: max_concurrency must be >= 1")
	}
	if c.Marks.ProtectionInterval.Duration <= 0 {
		errs = append(errs, "marks: protection_interval must be > 0")
	}

	// Gateway
	if c.Gateway.Enabled {
		if c.Gateway.Stream == "" {
			errs = append(errs, "gateway: stream must not be empty when enabled")
		}
		if c.Gateway.ResultsChannel == "" {
			errs = append(errs, "gateway: results_channel must not be empty when enabled")
		}
		if c.Gateway.Batch < 1 {
			errs = append(errs, "gateway: batch must be >= 1")
		}
		if c.Gateway.Block.Duration <= 0 {
			errs = append(errs, "gateway: block must be > 0")
		}
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	// Risk: the global set must be complete on its own, and every symbol
	// override must still produce a valid set.
	if err := c.Risk.RiskLimits.Params().Validate(); err != nil {
		errs = append(errs, "risk: "+err.Error())
	}
	for sym := range c.Risk.Symbols {
		if err := c.Risk.ParamsFor(sym).Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("risk.symbols.%s: %v", sym, err))
		}
	}
	seen := make(map[string]string)
	for group, symbols := range c.Risk.Groups {
		for _, s := range symbols {
			s = domain.NormalizeSymbol(s)
			if prev, ok := seen[s]; ok && prev != group {
				errs = append(errs, fmt.Sprintf("risk.groups: %s is in both %q and %q", s, prev, group))
			}
			seen[s] = group
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
