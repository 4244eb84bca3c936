package ledger

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/tradeledger/internal/domain"
)

// Account is the portfolio cash and holdings. Its mutators are unexported:
// only the ledger settles trades against it, and only Admin resets it.
type Account struct {
	p domain.Portfolio
}

func newAccount(p domain.Portfolio) *Account {
	p = p.Clone()
	if p.Holdings == nil {
		p.Holdings = map[string]decimal.Decimal{}
	}
	return &Account{p: p}
}

// Cash returns the current cash balance.
func (a *Account) Cash() decimal.Decimal {
	return a.p.Cash
}

// Holding returns the signed quantity held for symbol.
func (a *Account) Holding(symbol string) decimal.Decimal {
	return a.p.Holdings[symbol]
}

// Snapshot returns a detached copy of the account state.
func (a *Account) Snapshot() domain.Portfolio {
	return a.p.Clone()
}

func (a *Account) clone() *Account {
	return &Account{p: a.p.Clone()}
}

func (a *Account) debit(amount decimal.Decimal) {
	a.p.Cash = a.p.Cash.Sub(amount)
}

// credit adds a signed amount; a negative amount reduces cash.
func (a *Account) credit(amount decimal.Decimal) {
	a.p.Cash = a.p.Cash.Add(amount)
}

func (a *Account) adjustHolding(symbol string, delta decimal.Decimal) {
	next := a.p.Holdings[symbol].Add(delta)
	if next.IsZero() {
		delete(a.p.Holdings, symbol)
		return
	}
	a.p.Holdings[symbol] = next
}

func (a *Account) recordRealized(delta decimal.Decimal) {
	a.p.RealizedToday = a.p.RealizedToday.Add(delta)
	if delta.IsNegative() {
		a.p.LossToday = a.p.LossToday.Add(delta.Neg())
	}
}

// rollDay starts a new trading day when now falls after the current UTC day.
// It reports whether a roll happened.
func (a *Account) rollDay(now time.Time, equity decimal.Decimal) bool {
	day := tradingDay(now)
	if !a.p.DayStart.IsZero() && !day.After(a.p.DayStart) {
		return false
	}
	a.p.DayStart = day
	a.p.DayStartEquity = equity
	a.p.RealizedToday = decimal.Zero
	a.p.LossToday = decimal.Zero
	return true
}

func (a *Account) observeEquity(equity decimal.Decimal, now time.Time) {
	if equity.GreaterThan(a.p.PeakEquity) {
		a.p.PeakEquity = equity
	}
	a.p.UpdatedAt = now
}

func (a *Account) resetWatermarks(equity decimal.Decimal, now time.Time) {
	a.p.PeakEquity = equity
	a.p.DayStartEquity = equity
	a.p.DayStart = tradingDay(now)
	a.p.RealizedToday = decimal.Zero
	a.p.LossToday = decimal.Zero
	a.p.UpdatedAt = now
}

func tradingDay(t time.Time) time.Time {
	return t.UTC().Truncate(24 * time.Hour)
}
