package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Denial reasons. Each names the check that failed first.
const (
	ReasonInvalidConfig      = "invalid_config"
	ReasonInvalidRequest     = "invalid_request"
	ReasonMaxPositions       = "max_positions"
	ReasonMaxPerSymbol       = "max_positions_per_symbol"
	ReasonMaxPerGroup        = "max_positions_per_group"
	ReasonMaxExposurePct     = "max_exposure_pct"
	ReasonMaxDailyLossPct    = "max_daily_loss_pct"
	ReasonMaxDrawdownPct     = "max_drawdown_pct"
	ReasonMinVolume24h       = "min_volume_24h"
	ReasonStalePrice         = "stale_price"
	ReasonMaxPositionSizePct = "max_position_size_pct"
	ReasonMinEquity          = "min_equity"
)

// RiskParams are the limits a trade is checked against. The seven core
// limits are required: a nil field makes the engine deny every trade. The
// trailing knobs are optional and disabled when nil.
type RiskParams struct {
	MaxPositions          *int
	MaxPositionsPerSymbol *int
	MaxPositionsPerGroup  *int
	MaxExposurePct        *decimal.Decimal
	MaxDailyLossPct       *decimal.Decimal
	MaxDrawdownPct        *decimal.Decimal
	MinVolume24h          *decimal.Decimal

	MaxPriceAge        *time.Duration
	MaxPositionSizePct *decimal.Decimal
	MinEquity          *decimal.Decimal
}

// Ptr returns a pointer to v. Handy for building RiskParams literals.
func Ptr[T any](v T) *T {
	return &v
}

// Merge returns p with every field that is set in override replaced.
func (p RiskParams) Merge(override RiskParams) RiskParams {
	out := p
	if override.MaxPositions != nil {
		out.MaxPositions = override.MaxPositions
	}
	if override.MaxPositionsPerSymbol != nil {
		out.MaxPositionsPerSymbol = override.MaxPositionsPerSymbol
	}
	if override.MaxPositionsPerGroup != nil {
		out.MaxPositionsPerGroup = override.MaxPositionsPerGroup
	}
	if override.MaxExposurePct != nil {
		out.MaxExposurePct = override.MaxExposurePct
	}
	if override.MaxDailyLossPct != nil {
		out.MaxDailyLossPct = override.MaxDailyLossPct
	}
	if override.MaxDrawdownPct != nil {
		out.MaxDrawdownPct = override.MaxDrawdownPct
	}
	if override.MinVolume24h != nil {
		out.MinVolume24h = override.MinVolume24h
	}
	if override.MaxPriceAge != nil {
		out.MaxPriceAge = override.MaxPriceAge
	}
	if override.MaxPositionSizePct != nil {
		out.MaxPositionSizePct = override.MaxPositionSizePct
	}
	if override.MinEquity != nil {
		out.MinEquity = override.MinEquity
	}
	return out
}

// Validate reports every missing or out-of-range limit.
func (p RiskParams) Validate() error {
	var errs []string

	checkCount := func(name string, v *int) {
		if v == nil {
			errs = append(errs, name+" is required")
		} else if *v < 0 {
			errs = append(errs, name+" must be >= 0")
		}
	}
	checkPct := func(name string, v *decimal.Decimal, capAtOne bool) {
		switch {
		case v == nil:
			errs = append(errs, name+" is required")
		case v.IsNegative():
			errs = append(errs, name+" must be >= 0")
		case capAtOne && v.GreaterThan(decimal.NewFromInt(1)):
			errs = append(errs, name+" must be <= 1")
		}
	}

	checkCount("max_positions", p.MaxPositions)
	checkCount("max_positions_per_symbol", p.MaxPositionsPerSymbol)
	checkCount("max_positions_per_group", p.MaxPositionsPerGroup)
	checkPct("max_exposure_pct", p.MaxExposurePct, false)
	checkPct("max_daily_loss_pct", p.MaxDailyLossPct, true)
	checkPct("max_drawdown_pct", p.MaxDrawdownPct, true)
	if p.MinVolume24h == nil {
		errs = append(errs, "min_volume_24h is required")
	} else if p.MinVolume24h.IsNegative() {
		errs = append(errs, "min_volume_24h must be >= 0")
	}

	if p.MaxPriceAge != nil && *p.MaxPriceAge <= 0 {
		errs = append(errs, "max_price_age must be > 0 when set")
	}
	if p.MaxPositionSizePct != nil && !p.MaxPositionSizePct.IsPositive() {
		errs = append(errs, "max_position_size_pct must be > 0 when set")
	}
	if p.MinEquity != nil && p.MinEquity.IsNegative() {
		errs = append(errs, "min_equity must be >= 0 when set")
	}

	if len(errs) > 0 {
		return fmt.Errorf("risk params: %s", strings.Join(errs, "; "))
	}
	return nil
}

// TradeRequest is a prospective open submitted for a risk decision.
type TradeRequest struct {
	Symbol string
	Side   Side
	Volume decimal.Decimal
	Price  decimal.Decimal
}

// Notional is volume × price.
func (r TradeRequest) Notional() decimal.Decimal {
	return r.Volume.Mul(r.Price)
}

// Decision is the outcome of a pre-trade risk check.
type Decision struct {
	Allowed bool
	Reason  string
	Detail  string
}

// Allow is the passing decision.
func Allow() Decision {
	return Decision{Allowed: true}
}

// Deny builds a failing decision naming the check that failed.
func Deny(reason, detail string) Decision {
	return Decision{Reason: reason, Detail: detail}
}

// Err returns nil for an allowed decision and *RiskDeniedError otherwise.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return &RiskDeniedError{Reason: d.Reason, Detail: d.Detail}
}

// Exposure is the portfolio-wide valuation used by risk checks.
type Exposure struct {
	Cash               decimal.Decimal
	LongValue          decimal.Decimal
	ShortLiability     decimal.Decimal
	ShortUnrealizedPnL decimal.Decimal
	TotalEquity        decimal.Decimal
	TotalExposure      decimal.Decimal
	ExposurePct        decimal.Decimal
	// Saturated is set when equity is zero or negative; ExposurePct is then
	// meaningless and every exposure check fails.
	Saturated bool
	At        time.Time
}

// ComputeExposure values active positions against cash.
//
// Long positions contribute remaining × mark to equity. Short positions
// contribute their fixed liability (remaining × entry) to exposure and their
// mark-to-market P&L to equity, since opening a short moves no cash.
func ComputeExposure(cash decimal.Decimal, positions []Position) Exposure {
	e := Exposure{Cash: cash}
	for _, p := range positions {
		if !p.Status.Active() {
			continue
		}
		switch p.Side {
		case SideLong:
			e.LongValue = e.LongValue.Add(p.Notional())
		case SideShort:
			e.ShortLiability = e.ShortLiability.Add(p.Notional())
			e.ShortUnrealizedPnL = e.ShortUnrealizedPnL.Add(p.UnrealizedPnL())
		}
	}
	e.TotalEquity = cash.Add(e.LongValue).Add(e.ShortUnrealizedPnL)
	e.TotalExposure = e.LongValue.Add(e.ShortLiability)
	if !e.TotalEquity.IsPositive() {
		e.Saturated = true
		return e
	}
	e.ExposurePct = e.TotalExposure.Div(e.TotalEquity)
	return e
}
