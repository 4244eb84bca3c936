package config

// RedactedConfig returns a copy of cfg with sensitive fields replaced by the
// redaction placeholder "***". Use this when logging or printing the active
// configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	redact(&out.Ledger.AdminPassphraseHash)
	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)
	redact(&out.Redis.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// Copy reference types so callers cannot mutate the original through the
	// redacted copy.
	if cfg.Marks.Symbols != nil {
		out.Marks.Symbols = append([]string(nil), cfg.Marks.Symbols...)
	}
	if cfg.Notify.Events != nil {
		out.Notify.Events = append([]string(nil), cfg.Notify.Events...)
	}
	if cfg.Ledger.MinCash != nil {
		v := *cfg.Ledger.MinCash
		out.Ledger.MinCash = &v
	}
	out.Risk.RiskLimits = cloneLimits(cfg.Risk.RiskLimits)
	if cfg.Risk.Symbols != nil {
		out.Risk.Symbols = make(map[string]RiskLimits, len(cfg.Risk.Symbols))
		for k, v := range cfg.Risk.Symbols {
			out.Risk.Symbols[k] = cloneLimits(v)
		}
	}
	if cfg.Risk.Groups != nil {
		out.Risk.Groups = make(map[string][]string, len(cfg.Risk.Groups))
		for k, v := range cfg.Risk.Groups {
			out.Risk.Groups[k] = append([]string(nil), v...)
		}
	}

	return out
}

func cloneLimits(l RiskLimits) RiskLimits {
	return RiskLimits{
		MaxPositions:          clonePtr(l.MaxPositions),
		MaxPositionsPerSymbol: clonePtr(l.MaxPositionsPerSymbol),
		MaxPositionsPerGroup:  clonePtr(l.MaxPositionsPerGroup),
		MaxExposurePct:        clonePtr(l.MaxExposurePct),
		MaxDailyLossPct:       clonePtr(l.MaxDailyLossPct),
		MaxDrawdownPct:        clonePtr(l.MaxDrawdownPct),
		MinVolume24h:          clonePtr(l.MinVolume24h),
		MaxPriceAge:           clonePtr(l.MaxPriceAge),
		MaxPositionSizePct:    clonePtr(l.MaxPositionSizePct),
		MinEquity:             clonePtr(l.MinEquity),
	}
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
