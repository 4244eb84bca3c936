package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/tradeledger/internal/domain"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies LEDGER_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)
	normalizeSymbols(&cfg)

	return &cfg, nil
}

// normalizeSymbols upper-cases symbol keys so lookups match the ledger's
// canonical form.
func normalizeSymbols(cfg *Config) {
	if len(cfg.Risk.Symbols) > 0 {
		out := make(map[string]RiskLimits, len(cfg.Risk.Symbols))
		for sym, limits := range cfg.Risk.Symbols {
			out[domain.NormalizeSymbol(sym)] = limits
		}
		cfg.Risk.Symbols = out
	}
	for i, s := range cfg.Marks.Symbols {
		cfg.Marks.Symbols[i] = domain.NormalizeSymbol(s)
	}
}

// applyEnvOverrides reads well-known LEDGER_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Ledger ──
	setStr(&cfg.Ledger.PortfolioID, "LEDGER_PORTFOLIO_ID")
	setStr(&cfg.Ledger.Currency, "LEDGER_CURRENCY")
	setDecimal(&cfg.Ledger.InitialCash, "LEDGER_INITIAL_CASH")
	setDecimalPtr(&cfg.Ledger.MinCash, "LEDGER_MIN_CASH")
	setStr(&cfg.Ledger.AdminPassphraseHash, "LEDGER_ADMIN_PASSPHRASE_HASH")
	setDuration(&cfg.Ledger.LockTTL, "LEDGER_LOCK_TTL")
	setStr(&cfg.Ledger.EventsChannel, "LEDGER_EVENTS_CHANNEL")
	setStr(&cfg.Ledger.DayRollCron, "LEDGER_DAY_ROLL_CRON")

	// ── Store ──
	setStr(&cfg.Store.Driver, "LEDGER_STORE_DRIVER")
	setStr(&cfg.SQLite.Path, "LEDGER_SQLITE_PATH")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "LEDGER_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "LEDGER_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "LEDGER_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "LEDGER_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "LEDGER_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "LEDGER_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "LEDGER_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "LEDGER_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "LEDGER_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "LEDGER_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "LEDGER_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "LEDGER_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "LEDGER_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "LEDGER_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "LEDGER_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "LEDGER_REDIS_TLS_ENABLED")
	setInt64(&cfg.Redis.StreamMaxLen, "LEDGER_REDIS_STREAM_MAX_LEN")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "LEDGER_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "LEDGER_S3_REGION")
	setStr(&cfg.S3.Bucket, "LEDGER_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "LEDGER_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "LEDGER_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "LEDGER_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "LEDGER_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "LEDGER_ARCHIVE_ENABLED")
	setStr(&cfg.Archive.Cron, "LEDGER_ARCHIVE_CRON")
	setInt(&cfg.Archive.RetentionDays, "LEDGER_ARCHIVE_RETENTION_DAYS")

	// ── Marks ──
	setStringSlice(&cfg.Marks.Symbols, "LEDGER_MARKS_SYMBOLS")
	setDuration(&cfg.Marks.PollInterval, "LEDGER_MARKS_POLL_INTERVAL")
	setDuration(&cfg.Marks.OracleTimeout, "LEDGER_MARKS_ORACLE_TIMEOUT")
	setInt(&cfg.Marks.MaxConcurrency, "LEDGER_MARKS_MAX_CONCURRENCY")
	setStr(&cfg.Marks.PriceChannel, "LEDGER_MARKS_PRICE_CHANNEL")
	setDuration(&cfg.Marks.ProtectionInterval, "LEDGER_MARKS_PROTECTION_INTERVAL")

	// ── Gateway ──
	setBool(&cfg.Gateway.Enabled, "LEDGER_GATEWAY_ENABLED")
	setStr(&cfg.Gateway.Stream, "LEDGER_GATEWAY_STREAM")
	setStr(&cfg.Gateway.ResultsChannel, "LEDGER_GATEWAY_RESULTS_CHANNEL")
	setDuration(&cfg.Gateway.DedupTTL, "LEDGER_GATEWAY_DEDUP_TTL")
	setInt(&cfg.Gateway.Batch, "LEDGER_GATEWAY_BATCH")
	setDuration(&cfg.Gateway.Block, "LEDGER_GATEWAY_BLOCK")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "LEDGER_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "LEDGER_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "LEDGER_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "LEDGER_NOTIFY_EVENTS")

	// ── Risk (global limits only; per-symbol overrides live in TOML) ──
	setIntPtr(&cfg.Risk.MaxPositions, "LEDGER_RISK_MAX_POSITIONS")
	setIntPtr(&cfg.Risk.MaxPositionsPerSymbol, "LEDGER_RISK_MAX_POSITIONS_PER_SYMBOL")
	setIntPtr(&cfg.Risk.MaxPositionsPerGroup, "LEDGER_RISK_MAX_POSITIONS_PER_GROUP")
	setDecimalPtr(&cfg.Risk.MaxExposurePct, "LEDGER_RISK_MAX_EXPOSURE_PCT")
	setDecimalPtr(&cfg.Risk.MaxDailyLossPct, "LEDGER_RISK_MAX_DAILY_LOSS_PCT")
	setDecimalPtr(&cfg.Risk.MaxDrawdownPct, "LEDGER_RISK_MAX_DRAWDOWN_PCT")
	setDecimalPtr(&cfg.Risk.MinVolume24h, "LEDGER_RISK_MIN_VOLUME_24H")
	setDurationPtr(&cfg.Risk.MaxPriceAge, "LEDGER_RISK_MAX_PRICE_AGE")
	setDecimalPtr(&cfg.Risk.MaxPositionSizePct, "LEDGER_RISK_MAX_POSITION_SIZE_PCT")
	setDecimalPtr(&cfg.Risk.MinEquity, "LEDGER_RISK_MIN_EQUITY")

	// ── Top-level ──
	setStr(&cfg.LogLevel, "LEDGER_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

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

func setIntPtr(dst **int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = &n
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

func setDecimal(dst *decimal.Decimal, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			*dst = d
		}
	}
}

func setDecimalPtr(dst **decimal.Decimal, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			*dst = &d
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

func setDurationPtr(dst **duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = &duration{d}
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
