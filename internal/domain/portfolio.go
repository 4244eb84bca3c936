package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Portfolio is the persisted state of the single trading account.
//
// Holdings are signed: positive quantities come from Long opens, negative
// quantities are short liabilities. Zero entries are dropped.
type Portfolio struct {
	ID             string
	Cash           decimal.Decimal
	Holdings       map[string]decimal.Decimal
	PeakEquity     decimal.Decimal
	DayStartEquity decimal.Decimal
	DayStart       time.Time
	RealizedToday  decimal.Decimal
	// LossToday sums the losing close slices of the day as a positive
	// amount; gains do not offset it.
	LossToday      decimal.Decimal
	UpdatedAt      time.Time
}

// Clone returns a deep copy of the portfolio.
func (p Portfolio) Clone() Portfolio {
	out := p
	out.Holdings = make(map[string]decimal.Decimal, len(p.Holdings))
	for k, v := range p.Holdings {
		out.Holdings[k] = v
	}
	return out
}

// FillKind distinguishes journal rows.
type FillKind string

const (
	FillOpen  FillKind = "open"
	FillClose FillKind = "close"
)

// Fill is one journal row: an open, or one close slice of a position.
type Fill struct {
	ID          string
	TicketID    string
	Symbol      string
	Side        Side
	Kind        FillKind
	Volume      decimal.Decimal
	Price       decimal.Decimal
	RealizedPnL decimal.Decimal
	CashDelta   decimal.Decimal
	At          time.Time
}

// Mark is the last applied price for a symbol.
type Mark struct {
	Price decimal.Decimal
	At    time.Time
}

// LedgerSnapshot is a consistent, detached copy of ledger state taken under
// the ledger's read lock.
type LedgerSnapshot struct {
	Portfolio Portfolio
	Positions []Position
	Marks     map[string]Mark
	At        time.Time
}

// Performance summarises closed trade slices.
type Performance struct {
	Trades      int
	Wins        int
	Losses      int
	GrossProfit decimal.Decimal
	GrossLoss   decimal.Decimal
	NetPnL      decimal.Decimal
	WinRate     decimal.Decimal
}
