package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of a position.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Valid reports whether s is a known side.
func (s Side) Valid() bool {
	return s == SideLong || s == SideShort
}

// PositionStatus tracks where a position is in its lifecycle.
type PositionStatus string

const (
	PositionStatusOpen            PositionStatus = "open"
	PositionStatusPartiallyClosed PositionStatus = "partially_closed"
	PositionStatusClosed          PositionStatus = "closed"
)

// Active reports whether a position in this status still carries volume.
func (s PositionStatus) Active() bool {
	return s == PositionStatusOpen || s == PositionStatusPartiallyClosed
}

// Position is a single ledger entry for a trade on one symbol.
type Position struct {
	TicketID     string
	Symbol       string
	Side         Side
	EntryPrice   decimal.Decimal
	Volume       decimal.Decimal
	VolumeClosed decimal.Decimal
	MarkPrice    decimal.Decimal
	MarkedAt     time.Time
	Status       PositionStatus
	RealizedPnL  decimal.Decimal
	StopLoss     *decimal.Decimal
	TakeProfit   *decimal.Decimal
	Strategy     string
	OpenedAt     time.Time
	ClosedAt     *time.Time
}

// RemainingVolume is the volume still open.
func (p Position) RemainingVolume() decimal.Decimal {
	return p.Volume.Sub(p.VolumeClosed)
}

// PnLAt returns the P&L of volume units of this position valued at price.
// Long gains when price rises above entry; Short gains when it falls.
func (p Position) PnLAt(price, volume decimal.Decimal) decimal.Decimal {
	if p.Side == SideShort {
		return p.EntryPrice.Sub(price).Mul(volume)
	}
	return price.Sub(p.EntryPrice).Mul(volume)
}

// UnrealizedPnL values the remaining volume at the current mark.
func (p Position) UnrealizedPnL() decimal.Decimal {
	if !p.Status.Active() {
		return decimal.Zero
	}
	return p.PnLAt(p.MarkPrice, p.RemainingVolume())
}

// Notional is remaining volume valued at the mark for Long positions and at
// entry for Short positions (the fixed liability).
func (p Position) Notional() decimal.Decimal {
	if p.Side == SideShort {
		return p.RemainingVolume().Mul(p.EntryPrice)
	}
	return p.RemainingVolume().Mul(p.MarkPrice)
}

// Clone returns a deep copy so callers cannot mutate ledger state through
// shared pointers.
func (p Position) Clone() Position {
	out := p
	if p.StopLoss != nil {
		v := *p.StopLoss
		out.StopLoss = &v
	}
	if p.TakeProfit != nil {
		v := *p.TakeProfit
		out.TakeProfit = &v
	}
	if p.ClosedAt != nil {
		v := *p.ClosedAt
		out.ClosedAt = &v
	}
	return out
}

// OpenRequest carries the parameters for opening a position. TicketID may be
// left empty to have the ledger assign one.
type OpenRequest struct {
	TicketID   string
	Symbol     string
	Side       Side
	Volume     decimal.Decimal
	EntryPrice decimal.Decimal
	StopLoss   *decimal.Decimal
	TakeProfit *decimal.Decimal
	Strategy   string
}

// NormalizeSymbol trims and upper-cases a symbol. Alias resolution (for
// example BTC vs BTCUSDT) belongs to the caller.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
