// Package ledger owns open positions and the portfolio account. Every
// mutation validates, persists and only then swaps in-memory state, all under
// one write lock, so a failed call leaves nothing half-applied.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/tradeledger/internal/domain"
)

// Config holds the account-level settings of a ledger.
type Config struct {
	PortfolioID string
	// InitialCash seeds the portfolio row the first time it is created.
	InitialCash decimal.Decimal
	// MinCash, when set, is a hard floor a Long open may not cross.
	MinCash *decimal.Decimal
}

// Option customises a Ledger.
type Option func(*Ledger)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithEventSink sets where committed events are sent.
func WithEventSink(sink domain.EventSink) Option {
	return func(l *Ledger) { l.events = sink }
}

// WithTicketGenerator overrides how tickets are assigned when the caller
// leaves TicketID empty.
func WithTicketGenerator(gen func() string) Option {
	return func(l *Ledger) { l.newTicket = gen }
}

// Ledger is the position ledger for a single portfolio.
type Ledger struct {
	mu        sync.RWMutex
	cfg       Config
	store     domain.LedgerStore
	account   *Account
	positions map[string]domain.Position
	marks     map[string]domain.Mark

	events    domain.EventSink
	now       func() time.Time
	newTicket func() string
	newFillID func() string
	logger    *slog.Logger
}

type nopSink struct{}

func (nopSink) Emit(context.Context, domain.LedgerEvent) {}

// New loads the portfolio and its active positions from store, creating the
// portfolio row with cfg.InitialCash if it does not exist yet.
func New(ctx context.Context, store domain.LedgerStore, cfg Config, logger *slog.Logger, opts ...Option) (*Ledger, error) {
	if strings.TrimSpace(cfg.PortfolioID) == "" {
		return nil, fmt.Errorf("ledger: %w: portfolio id is required", domain.ErrInvalidInput)
	}
	l := &Ledger{
		cfg:       cfg,
		store:     store,
		positions: make(map[string]domain.Position),
		marks:     make(map[string]domain.Mark),
		events:    nopSink{},
		now:       func() time.Time { return time.Now().UTC() },
		newTicket: func() string { return uuid.New().String() },
		newFillID: func() string { return uuid.New().String() },
		logger:    logger.With(slog.String("component", "ledger")),
	}
	for _, opt := range opts {
		opt(l)
	}

	if err := l.load(ctx); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Ledger) load(ctx context.Context) error {
	portfolio, err := l.store.LoadPortfolio(ctx, l.cfg.PortfolioID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		now := l.now()
		portfolio = domain.Portfolio{
			ID:             l.cfg.PortfolioID,
			Cash:           l.cfg.InitialCash,
			Holdings:       map[string]decimal.Decimal{},
			PeakEquity:     l.cfg.InitialCash,
			DayStartEquity: l.cfg.InitialCash,
			DayStart:       tradingDay(now),
			UpdatedAt:      now,
		}
		if err := l.store.Commit(ctx, domain.LedgerCommit{Portfolio: portfolio}); err != nil {
			return &domain.PersistenceError{Op: "create portfolio", Err: err}
		}
		l.logger.InfoContext(ctx, "ledger: portfolio created",
			slog.String("portfolio_id", portfolio.ID),
			slog.String("cash", portfolio.Cash.String()),
		)
	case err != nil:
		return &domain.PersistenceError{Op: "load portfolio", Err: err}
	}
	l.account = newAccount(portfolio)

	active, err := l.store.ListActive(ctx)
	if err != nil {
		return &domain.PersistenceError{Op: "load positions", Err: err}
	}
	for _, p := range active {
		l.positions[p.TicketID] = p
		if m, ok := l.marks[p.Symbol]; !ok || p.MarkedAt.After(m.At) {
			l.marks[p.Symbol] = domain.Mark{Price: p.MarkPrice, At: p.MarkedAt}
		}
	}

	l.checkHoldings(ctx)

	l.logger.InfoContext(ctx, "ledger: loaded",
		slog.String("portfolio_id", l.cfg.PortfolioID),
		slog.String("cash", l.account.Cash().String()),
		slog.Int("active_positions", len(active)),
	)
	return nil
}

// checkHoldings compares persisted holdings with the ones implied by active
// positions and logs any drift.
func (l *Ledger) checkHoldings(ctx context.Context) {
	implied := map[string]decimal.Decimal{}
	for _, p := range l.positions {
		if !p.Status.Active() {
			continue
		}
		qty := p.RemainingVolume()
		if p.Side == domain.SideShort {
			qty = qty.Neg()
		}
		implied[p.Symbol] = implied[p.Symbol].Add(qty)
	}
	for symbol, qty := range implied {
		if !l.account.Holding(symbol).Equal(qty) {
			l.logger.WarnContext(ctx, "ledger: holdings drift",
				slog.String("symbol", symbol),
				slog.String("held", l.account.Holding(symbol).String()),
				slog.String("implied", qty.String()),
			)
		}
	}
}

// ---------------------------------------------------------------------------
// Mutations
// ---------------------------------------------------------------------------

// Open records a new position and settles its opening cash flow. A Long open
// debits volume × entry price; a Short open moves no cash. Open does not
// re-run risk checks.
func (l *Ledger) Open(ctx context.Context, req domain.OpenRequest) (domain.Position, error) {
	l.mu.Lock()
	pos, err := l.open(ctx, req)
	l.mu.Unlock()
	if err != nil {
		return domain.Position{}, err
	}

	l.emit(ctx, domain.EventPositionOpened, pos, map[string]any{
		"side":        string(pos.Side),
		"volume":      pos.Volume.String(),
		"entry_price": pos.EntryPrice.String(),
		"strategy":    pos.Strategy,
	})
	l.logger.InfoContext(ctx, "ledger: position opened",
		slog.String("ticket_id", pos.TicketID),
		slog.String("symbol", pos.Symbol),
		slog.String("side", string(pos.Side)),
		slog.String("volume", pos.Volume.String()),
		slog.String("entry_price", pos.EntryPrice.String()),
	)
	return pos, nil
}

func (l *Ledger) open(ctx context.Context, req domain.OpenRequest) (domain.Position, error) {
	symbol := domain.NormalizeSymbol(req.Symbol)
	if err := validateOpen(req, symbol); err != nil {
		return domain.Position{}, err
	}

	ticket := strings.TrimSpace(req.TicketID)
	if ticket == "" {
		ticket = l.newTicket()
	}
	if err := l.ensureUnique(ctx, ticket); err != nil {
		return domain.Position{}, err
	}

	now := l.now()
	tx := l.begin(now)

	pos := domain.Position{
		TicketID:     ticket,
		Symbol:       symbol,
		Side:         req.Side,
		EntryPrice:   req.EntryPrice,
		Volume:       req.Volume,
		VolumeClosed: decimal.Zero,
		MarkPrice:    req.EntryPrice,
		MarkedAt:     now,
		Status:       domain.PositionStatusOpen,
		RealizedPnL:  decimal.Zero,
		StopLoss:     req.StopLoss,
		TakeProfit:   req.TakeProfit,
		Strategy:     req.Strategy,
		OpenedAt:     now,
	}
	pos = pos.Clone()

	cashDelta := decimal.Zero
	switch pos.Side {
	case domain.SideLong:
		cost := pos.Volume.Mul(pos.EntryPrice)
		if l.cfg.MinCash != nil && tx.acct.Cash().Sub(cost).LessThan(*l.cfg.MinCash) {
			return domain.Position{}, fmt.Errorf("ledger: open %s: %w: cost %s leaves cash below %s",
				ticket, domain.ErrInsufficientCash, cost, l.cfg.MinCash)
		}
		tx.acct.debit(cost)
		tx.acct.adjustHolding(symbol, pos.Volume)
		cashDelta = cost.Neg()
	case domain.SideShort:
		tx.acct.adjustHolding(symbol, pos.Volume.Neg())
	}

	tx.put(pos)
	tx.fills = append(tx.fills, domain.Fill{
		ID:          l.newFillID(),
		TicketID:    ticket,
		Symbol:      symbol,
		Side:        pos.Side,
		Kind:        domain.FillOpen,
		Volume:      pos.Volume,
		Price:       pos.EntryPrice,
		RealizedPnL: decimal.Zero,
		CashDelta:   cashDelta,
		At:          now,
	})

	if err := l.commit(ctx, "open", tx, now); err != nil {
		return domain.Position{}, err
	}
	if _, ok := l.marks[symbol]; !ok {
		l.marks[symbol] = domain.Mark{Price: pos.EntryPrice, At: now}
	}
	return pos.Clone(), nil
}

func validateOpen(req domain.OpenRequest, symbol string) error {
	switch {
	case symbol == "":
		return fmt.Errorf("ledger: open: %w: symbol is required", domain.ErrInvalidInput)
	case !req.Side.Valid():
		return fmt.Errorf("ledger: open: %w: unknown side %q", domain.ErrInvalidInput, req.Side)
	case !req.Volume.IsPositive():
		return fmt.Errorf("ledger: open: %w: volume must be > 0", domain.ErrInvalidInput)
	case !req.EntryPrice.IsPositive():
		return fmt.Errorf("ledger: open: %w: entry price must be > 0", domain.ErrInvalidInput)
	case req.StopLoss != nil && !req.StopLoss.IsPositive():
		return fmt.Errorf("ledger: open: %w: stop loss must be > 0", domain.ErrInvalidInput)
	case req.TakeProfit != nil && !req.TakeProfit.IsPositive():
		return fmt.Errorf("ledger: open: %w: take profit must be > 0", domain.ErrInvalidInput)
	}
	return nil
}

func (l *Ledger) ensureUnique(ctx context.Context, ticket string) error {
	if _, ok := l.positions[ticket]; ok {
		return fmt.Errorf("ledger: open %s: %w", ticket, domain.ErrDuplicateTicket)
	}
	_, err := l.store.GetPosition(ctx, ticket)
	switch {
	case err == nil:
		return fmt.Errorf("ledger: open %s: %w", ticket, domain.ErrDuplicateTicket)
	case errors.Is(err, domain.ErrNotFound):
		return nil
	default:
		return &domain.PersistenceError{Op: "check ticket " + ticket, Err: err}
	}
}

// UpdateMarkPrice applies price as the current mark for every active position
// on symbol, stamped with the ledger clock. It always supersedes the previous
// mark and never touches cash or holdings. With nothing open on the symbol
// only the mark is recorded.
func (l *Ledger) UpdateMarkPrice(ctx context.Context, symbol string, price decimal.Decimal) error {
	return l.mark(ctx, domain.Quote{Symbol: symbol, Price: price}, true)
}

// ApplyQuote is UpdateMarkPrice with the oracle's observation time. Quotes
// older than the current mark are ignored; quotes dated more than
// domain.MaxQuoteSkew ahead of the ledger clock are rejected.
func (l *Ledger) ApplyQuote(ctx context.Context, q domain.Quote) error {
	return l.mark(ctx, q, false)
}

func (l *Ledger) mark(ctx context.Context, q domain.Quote, force bool) error {
	symbol := domain.NormalizeSymbol(q.Symbol)
	if symbol == "" {
		return fmt.Errorf("ledger: update mark: %w: symbol is required", domain.ErrInvalidInput)
	}
	if !q.Price.IsPositive() {
		return fmt.Errorf("ledger: update mark %s: %w: price must be > 0", symbol, domain.ErrInvalidInput)
	}
	if force {
		q.At = time.Time{}
	} else if !q.At.IsZero() {
		if err := domain.CheckQuoteTime(q.At, l.now()); err != nil {
			return fmt.Errorf("ledger: update mark %s: %w", symbol, err)
		}
	}

	l.mu.Lock()
	updated, err := l.applyQuote(ctx, symbol, q, force)
	l.mu.Unlock()
	if err != nil || updated == 0 {
		return err
	}

	l.events.Emit(ctx, domain.LedgerEvent{
		Event:  domain.EventMarksUpdated,
		Symbol: symbol,
		Detail: map[string]any{
			"price":     q.Price.String(),
			"positions": updated,
		},
		At: l.now(),
	})
	l.logger.DebugContext(ctx, "ledger: marks updated",
		slog.String("symbol", symbol),
		slog.String("price", q.Price.String()),
		slog.Int("positions", updated),
	)
	return nil
}

func (l *Ledger) applyQuote(ctx context.Context, symbol string, q domain.Quote, force bool) (int, error) {
	now := l.now()
	at := q.At
	if at.IsZero() {
		at = now
	}
	if m, ok := l.marks[symbol]; ok && !force && at.Before(m.At) {
		return 0, nil
	}

	var touched []domain.Position
	for _, p := range l.positions {
		if p.Symbol != symbol || !p.Status.Active() {
			continue
		}
		next := p.Clone()
		next.MarkPrice = q.Price
		next.MarkedAt = at
		touched = append(touched, next)
	}
	if len(touched) == 0 {
		l.marks[symbol] = domain.Mark{Price: q.Price, At: at}
		return 0, nil
	}

	tx := l.begin(now)
	for _, p := range touched {
		tx.put(p)
	}
	if err := l.commit(ctx, "update mark "+symbol, tx, now); err != nil {
		return 0, err
	}
	l.marks[symbol] = domain.Mark{Price: q.Price, At: at}
	return len(touched), nil
}

// PartialClose closes closeVolume of a position at closePrice and returns
// the realized P&L of that slice.
func (l *Ledger) PartialClose(ctx context.Context, ticketID string, closeVolume, closePrice decimal.Decimal) (decimal.Decimal, error) {
	l.mu.Lock()
	pos, delta, err := l.partialClose(ctx, ticketID, closeVolume, closePrice)
	l.mu.Unlock()
	if err != nil {
		return decimal.Zero, err
	}
	l.afterSettle(ctx, pos, closeVolume, closePrice, delta)
	return delta, nil
}

func (l *Ledger) partialClose(ctx context.Context, ticketID string, closeVolume, closePrice decimal.Decimal) (domain.Position, decimal.Decimal, error) {
	pos, err := l.lookup(ctx, ticketID)
	if err != nil {
		return domain.Position{}, decimal.Zero, err
	}
	if pos.Status == domain.PositionStatusClosed {
		return domain.Position{}, decimal.Zero, fmt.Errorf("ledger: partial close %s: %w", ticketID, domain.ErrAlreadyClosed)
	}
	if !closeVolume.IsPositive() {
		return domain.Position{}, decimal.Zero, fmt.Errorf("ledger: partial close %s: %w: close volume must be > 0", ticketID, domain.ErrInvalidInput)
	}
	if closeVolume.GreaterThan(pos.RemainingVolume()) {
		return domain.Position{}, decimal.Zero, fmt.Errorf("ledger: partial close %s: %w: requested %s, remaining %s",
			ticketID, domain.ErrOverClose, closeVolume, pos.RemainingVolume())
	}
	if !closePrice.IsPositive() {
		return domain.Position{}, decimal.Zero, fmt.Errorf("ledger: partial close %s: %w: close price must be > 0", ticketID, domain.ErrInvalidInput)
	}
	return l.settle(ctx, "partial close "+ticketID, pos, closeVolume, closePrice)
}

// Close closes the remaining volume at closePrice and returns the position's
// total realized P&L. Closing an already closed position fails with
// ErrAlreadyClosed and credits nothing.
func (l *Ledger) Close(ctx context.Context, ticketID string, closePrice decimal.Decimal) (decimal.Decimal, error) {
	l.mu.Lock()
	pos, volume, delta, err := l.close(ctx, ticketID, closePrice)
	l.mu.Unlock()
	if err != nil {
		return decimal.Zero, err
	}
	l.afterSettle(ctx, pos, volume, closePrice, delta)
	return pos.RealizedPnL, nil
}

func (l *Ledger) close(ctx context.Context, ticketID string, closePrice decimal.Decimal) (domain.Position, decimal.Decimal, decimal.Decimal, error) {
	pos, err := l.lookup(ctx, ticketID)
	if err != nil {
		return domain.Position{}, decimal.Zero, decimal.Zero, err
	}
	if pos.Status == domain.PositionStatusClosed {
		return domain.Position{}, decimal.Zero, decimal.Zero, fmt.Errorf("ledger: close %s: %w", ticketID, domain.ErrAlreadyClosed)
	}
	if !closePrice.IsPositive() {
		return domain.Position{}, decimal.Zero, decimal.Zero, fmt.Errorf("ledger: close %s: %w: close price must be > 0", ticketID, domain.ErrInvalidInput)
	}
	volume := pos.RemainingVolume()
	next, delta, err := l.settle(ctx, "close "+ticketID, pos, volume, closePrice)
	return next, volume, delta, err
}

// settle realizes volume of pos at price, moves cash and holdings, and
// commits. Callers have validated volume against the remaining volume.
func (l *Ledger) settle(ctx context.Context, op string, pos domain.Position, volume, price decimal.Decimal) (domain.Position, decimal.Decimal, error) {
	now := l.now()
	tx := l.begin(now)

	delta := pos.PnLAt(price, volume)
	next := pos.Clone()
	next.VolumeClosed = next.VolumeClosed.Add(volume)
	next.RealizedPnL = next.RealizedPnL.Add(delta)
	if next.RemainingVolume().IsZero() {
		next.Status = domain.PositionStatusClosed
		closedAt := now
		next.ClosedAt = &closedAt
	} else {
		next.Status = domain.PositionStatusPartiallyClosed
	}

	var cashDelta decimal.Decimal
	switch pos.Side {
	case domain.SideLong:
		cashDelta = volume.Mul(price)
		tx.acct.adjustHolding(pos.Symbol, volume.Neg())
	case domain.SideShort:
		cashDelta = delta
		tx.acct.adjustHolding(pos.Symbol, volume)
	}
	tx.acct.credit(cashDelta)
	tx.acct.recordRealized(delta)

	tx.put(next)
	tx.fills = append(tx.fills, domain.Fill{
		ID:          l.newFillID(),
		TicketID:    pos.TicketID,
		Symbol:      pos.Symbol,
		Side:        pos.Side,
		Kind:        domain.FillClose,
		Volume:      volume,
		Price:       price,
		RealizedPnL: delta,
		CashDelta:   cashDelta,
		At:          now,
	})

	if err := l.commit(ctx, op, tx, now); err != nil {
		return domain.Position{}, decimal.Zero, err
	}
	return next.Clone(), delta, nil
}

func (l *Ledger) afterSettle(ctx context.Context, pos domain.Position, volume, price, delta decimal.Decimal) {
	event := domain.EventPositionPartiallyClosed
	if pos.Status == domain.PositionStatusClosed {
		event = domain.EventPositionClosed
	}
	l.emit(ctx, event, pos, map[string]any{
		"side":           string(pos.Side),
		"close_volume":   volume.String(),
		"close_price":    price.String(),
		"realized_delta": delta.String(),
		"realized_pnl":   pos.RealizedPnL.String(),
		"remaining":      pos.RemainingVolume().String(),
	})
	l.logger.InfoContext(ctx, "ledger: position settled",
		slog.String("ticket_id", pos.TicketID),
		slog.String("symbol", pos.Symbol),
		slog.String("status", string(pos.Status)),
		slog.String("close_volume", volume.String()),
		slog.String("close_price", price.String()),
		slog.String("realized_delta", delta.String()),
	)
}

// RollDay persists a new trading day's equity baseline if the UTC day has
// changed since the last mutation. Mutations roll lazily as well; this lets a
// scheduler roll an idle ledger.
func (l *Ledger) RollDay(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	tx := l.begin(now)
	if !tx.rolled {
		return nil
	}
	if err := l.commit(ctx, "roll day", tx, now); err != nil {
		return err
	}
	l.logger.InfoContext(ctx, "ledger: trading day rolled",
		slog.String("day_start", l.account.p.DayStart.Format(time.DateOnly)),
		slog.String("day_start_equity", l.account.p.DayStartEquity.String()),
	)
	return nil
}

// ---------------------------------------------------------------------------
// Reads
// ---------------------------------------------------------------------------

// Snapshot returns a consistent copy of the account, the active positions and
// the last marks.
func (l *Ledger) Snapshot() domain.LedgerSnapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()

	snap := domain.LedgerSnapshot{
		Portfolio: l.account.Snapshot(),
		Positions: l.activePositions(nil),
		Marks:     make(map[string]domain.Mark, len(l.marks)),
		At:        l.now(),
	}
	for k, v := range l.marks {
		snap.Marks[k] = v
	}
	return snap
}

// Portfolio returns a copy of the account state.
func (l *Ledger) Portfolio() domain.Portfolio {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.account.Snapshot()
}

// OpenPositions returns the active positions ordered by open time.
func (l *Ledger) OpenPositions() []domain.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.activePositions(nil)
}

// ActiveSymbols returns the symbols with at least one active position.
func (l *Ledger) ActiveSymbols() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	seen := map[string]struct{}{}
	for _, p := range l.positions {
		if p.Status.Active() {
			seen[p.Symbol] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Position looks a ticket up in memory and then in the store.
func (l *Ledger) Position(ctx context.Context, ticketID string) (domain.Position, error) {
	l.mu.RLock()
	p, ok := l.positions[ticketID]
	l.mu.RUnlock()
	if ok {
		return p.Clone(), nil
	}
	p, err := l.store.GetPosition(ctx, ticketID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Position{}, fmt.Errorf("ledger: position %s: %w", ticketID, domain.ErrPositionNotFound)
	}
	if err != nil {
		return domain.Position{}, &domain.PersistenceError{Op: "get position " + ticketID, Err: err}
	}
	return p, nil
}

// ---------------------------------------------------------------------------
// internals
// ---------------------------------------------------------------------------

// txn stages one mutation: a working copy of the account plus the rows to
// persist.
type txn struct {
	acct      *Account
	positions []domain.Position
	fills     []domain.Fill
	rolled    bool
}

func (t *txn) put(p domain.Position) {
	t.positions = append(t.positions, p)
}

func (l *Ledger) begin(now time.Time) *txn {
	tx := &txn{acct: l.account.clone()}
	equity := domain.ComputeExposure(l.account.Cash(), l.activePositions(nil)).TotalEquity
	tx.rolled = tx.acct.rollDay(now, equity)
	return tx
}

// commit persists tx and, only on success, swaps it into memory.
func (l *Ledger) commit(ctx context.Context, op string, tx *txn, now time.Time) error {
	overrides := make(map[string]domain.Position, len(tx.positions))
	for _, p := range tx.positions {
		overrides[p.TicketID] = p
	}
	equity := domain.ComputeExposure(tx.acct.Cash(), l.activePositions(overrides)).TotalEquity
	tx.acct.observeEquity(equity, now)

	c := domain.LedgerCommit{
		Positions: tx.positions,
		Portfolio: tx.acct.Snapshot(),
		Fills:     tx.fills,
	}
	if err := l.store.Commit(ctx, c); err != nil {
		l.logger.ErrorContext(ctx, "ledger: commit failed",
			slog.String("op", op),
			slog.String("error", err.Error()),
		)
		return &domain.PersistenceError{Op: op, Err: err}
	}

	l.account = tx.acct
	for _, p := range tx.positions {
		l.positions[p.TicketID] = p
	}
	return nil
}

// activePositions lists active positions, substituting staged versions from
// overrides and including staged positions not yet in memory.
func (l *Ledger) activePositions(overrides map[string]domain.Position) []domain.Position {
	out := make([]domain.Position, 0, len(l.positions)+len(overrides))
	for id, p := range l.positions {
		if o, ok := overrides[id]; ok {
			p = o
		}
		if p.Status.Active() {
			out = append(out, p.Clone())
		}
	}
	for id, o := range overrides {
		if _, ok := l.positions[id]; !ok && o.Status.Active() {
			out = append(out, o.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OpenedAt.Equal(out[j].OpenedAt) {
			return out[i].TicketID < out[j].TicketID
		}
		return out[i].OpenedAt.Before(out[j].OpenedAt)
	})
	return out
}

// lookup finds a ticket in memory, falling back to the store for positions
// closed before this process started.
func (l *Ledger) lookup(ctx context.Context, ticketID string) (domain.Position, error) {
	if p, ok := l.positions[ticketID]; ok {
		return p, nil
	}
	p, err := l.store.GetPosition(ctx, ticketID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Position{}, fmt.Errorf("ledger: %s: %w", ticketID, domain.ErrPositionNotFound)
	}
	if err != nil {
		return domain.Position{}, &domain.PersistenceError{Op: "get position " + ticketID, Err: err}
	}
	l.positions[ticketID] = p
	return p, nil
}

func (l *Ledger) emit(ctx context.Context, event string, pos domain.Position, detail map[string]any) {
	l.events.Emit(ctx, domain.LedgerEvent{
		Event:    event,
		TicketID: pos.TicketID,
		Symbol:   pos.Symbol,
		Detail:   detail,
		At:       l.now(),
	})
}
