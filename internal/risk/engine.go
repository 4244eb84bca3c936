// Package risk gates new positions against portfolio-level limits. The
// engine only reads ledger snapshots; it never mutates ledger or account
// state and keeps nothing between calls.
package risk

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/tradeledger/internal/domain"
)

// LedgerView is the read side of the ledger the engine needs.
type LedgerView interface {
	Snapshot() domain.LedgerSnapshot
}

// Option customises an Engine.
type Option func(*Engine)

// WithOracle makes the stale-price check consult the oracle's quote time
// instead of the ledger's last mark.
func WithOracle(o domain.PriceOracle) Option {
	return func(e *Engine) { e.oracle = o }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// Engine evaluates pre-trade risk.
type Engine struct {
	ledger LedgerView
	stats  domain.MarketStats
	groups Grouper
	oracle domain.PriceOracle
	now    func() time.Time
	logger *slog.Logger
}

// NewEngine builds an Engine. stats may be nil, in which case any non-zero
// min_volume_24h denies.
func NewEngine(ledger LedgerView, stats domain.MarketStats, groups Grouper, logger *slog.Logger, opts ...Option) *Engine {
	if groups == nil {
		groups = StaticGroups{}
	}
	e := &Engine{
		ledger: ledger,
		stats:  stats,
		groups: groups,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger.With(slog.String("component", "risk")),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ComputeExposure values the current portfolio.
func (e *Engine) ComputeExposure() domain.Exposure {
	snap := e.ledger.Snapshot()
	exp := domain.ComputeExposure(snap.Portfolio.Cash, snap.Positions)
	exp.At = snap.At
	return exp
}

// CanOpen checks req against params in a fixed order and reports the first
// failing check. Missing or invalid params deny every request.
func (e *Engine) CanOpen(ctx context.Context, req domain.TradeRequest, params domain.RiskParams) domain.Decision {
	d := e.evaluate(ctx, req, params)
	if !d.Allowed {
		e.logger.InfoContext(ctx, "risk: trade denied",
			slog.String("symbol", req.Symbol),
			slog.String("side", string(req.Side)),
			slog.String("volume", req.Volume.String()),
			slog.String("price", req.Price.String()),
			slog.String("reason", d.Reason),
			slog.String("detail", d.Detail),
		)
	}
	return d
}

func (e *Engine) evaluate(ctx context.Context, req domain.TradeRequest, params domain.RiskParams) domain.Decision {
	if err := params.Validate(); err != nil {
		return domain.Deny(domain.ReasonInvalidConfig, err.Error())
	}

	symbol := domain.NormalizeSymbol(req.Symbol)
	switch {
	case symbol == "":
		return domain.Deny(domain.ReasonInvalidRequest, "symbol is required")
	case !req.Side.Valid():
		return domain.Deny(domain.ReasonInvalidRequest, fmt.Sprintf("unknown side %q", req.Side))
	case !req.Volume.IsPositive() || !req.Price.IsPositive():
		return domain.Deny(domain.ReasonInvalidRequest, "volume and price must be > 0")
	}

	snap := e.ledger.Snapshot()
	now := e.now()

	// 1. Portfolio-wide position count.
	if open := len(snap.Positions); open >= *params.MaxPositions {
		return domain.Deny(domain.ReasonMaxPositions, fmt.Sprintf("open=%d max=%d", open, *params.MaxPositions))
	}

	// 2. Per-symbol position count.
	// 3. Per-group position count.
	group := e.groups.Group(symbol)
	var perSymbol, perGroup int
	for _, p := range snap.Positions {
		if p.Symbol == symbol {
			perSymbol++
		}
		if e.groups.Group(p.Symbol) == group {
			perGroup++
		}
	}
	if perSymbol >= *params.MaxPositionsPerSymbol {
		return domain.Deny(domain.ReasonMaxPerSymbol, fmt.Sprintf("symbol=%s open=%d max=%d", symbol, perSymbol, *params.MaxPositionsPerSymbol))
	}
	if perGroup >= *params.MaxPositionsPerGroup {
		return domain.Deny(domain.ReasonMaxPerGroup, fmt.Sprintf("group=%s open=%d max=%d", group, perGroup, *params.MaxPositionsPerGroup))
	}

	// 4. Exposure after the hypothetical open. Opening at req.Price leaves
	// equity unchanged for either side and adds the notional to exposure.
	exp := domain.ComputeExposure(snap.Portfolio.Cash, snap.Positions)
	equity := exp.TotalEquity
	notional := req.Notional()
	if !equity.IsPositive() {
		return domain.Deny(domain.ReasonMaxExposurePct, fmt.Sprintf("equity=%s is not positive", equity))
	}
	exposureAfter := exp.TotalExposure.Add(notional)
	pctAfter := exposureAfter.Div(equity)
	if pctAfter.GreaterThan(*params.MaxExposurePct) {
		return domain.Deny(domain.ReasonMaxExposurePct, fmt.Sprintf("exposure_pct=%s max=%s", pctAfter.StringFixed(4), params.MaxExposurePct))
	}

	// 5. Losing closes today against start-of-day equity. Winning closes do
	// not offset them.
	dayStartEquity := snap.Portfolio.DayStartEquity
	dailyLoss := snap.Portfolio.LossToday
	if now.UTC().Truncate(24 * time.Hour).After(snap.Portfolio.DayStart) {
		// The ledger has not rolled yet; today starts at current equity.
		dayStartEquity = equity
		dailyLoss = decimal.Zero
	}
	if !dayStartEquity.IsPositive() {
		return domain.Deny(domain.ReasonMaxDailyLossPct, fmt.Sprintf("day_start_equity=%s is not positive", dayStartEquity))
	}
	if dailyLoss.GreaterThan(params.MaxDailyLossPct.Mul(dayStartEquity)) {
		return domain.Deny(domain.ReasonMaxDailyLossPct, fmt.Sprintf("daily_loss=%s day_start_equity=%s max_pct=%s",
			dailyLoss, dayStartEquity, params.MaxDailyLossPct))
	}

	// 6. Drawdown from peak equity.
	peak := decimal.Max(snap.Portfolio.PeakEquity, equity)
	drawdown := peak.Sub(equity).Div(peak)
	if drawdown.GreaterThan(*params.MaxDrawdownPct) {
		return domain.Deny(domain.ReasonMaxDrawdownPct, fmt.Sprintf("drawdown=%s peak=%s max=%s",
			drawdown.StringFixed(4), peak, params.MaxDrawdownPct))
	}

	// 7. Liquidity.
	if params.MinVolume24h.IsPositive() {
		if e.stats == nil {
			return domain.Deny(domain.ReasonMinVolume24h, "no market stats source")
		}
		vol, err := e.stats.Volume24h(ctx, symbol)
		if err != nil {
			return domain.Deny(domain.ReasonMinVolume24h, fmt.Sprintf("volume unavailable: %v", err))
		}
		if vol.LessThan(*params.MinVolume24h) {
			return domain.Deny(domain.ReasonMinVolume24h, fmt.Sprintf("volume_24h=%s min=%s", vol, params.MinVolume24h))
		}
	}

	// Optional policy knobs.
	if params.MaxPriceAge != nil {
		if d := e.checkStaleness(ctx, symbol, snap, now, *params.MaxPriceAge); !d.Allowed {
			return d
		}
	}
	if params.MaxPositionSizePct != nil {
		sizePct := notional.Div(equity)
		if sizePct.GreaterThan(*params.MaxPositionSizePct) {
			return domain.Deny(domain.ReasonMaxPositionSizePct, fmt.Sprintf("size_pct=%s max=%s", sizePct.StringFixed(4), params.MaxPositionSizePct))
		}
	}
	if params.MinEquity != nil && equity.LessThan(*params.MinEquity) {
		return domain.Deny(domain.ReasonMinEquity, fmt.Sprintf("equity=%s min=%s", equity, params.MinEquity))
	}

	return domain.Allow()
}

func (e *Engine) checkStaleness(ctx context.Context, symbol string, snap domain.LedgerSnapshot, now time.Time, maxAge time.Duration) domain.Decision {
	var at time.Time
	if e.oracle != nil {
		q, err := e.oracle.GetPrice(ctx, symbol)
		if err != nil {
			return domain.Deny(domain.ReasonStalePrice, fmt.Sprintf("price unavailable: %v", err))
		}
		at = q.At
	} else {
		m, ok := snap.Marks[symbol]
		if !ok {
			return domain.Deny(domain.ReasonStalePrice, "no mark for "+symbol)
		}
		at = m.At
	}
	if age := now.Sub(at); age > maxAge {
		return domain.Deny(domain.ReasonStalePrice, fmt.Sprintf("age=%s max=%s", age.Round(time.Millisecond), maxAge))
	}
	return domain.Allow()
}
