package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/tradeledger/internal/domain"
)

// LedgerStore implements domain.LedgerStore and domain.ArchiveSource using
// PostgreSQL. NUMERIC columns travel as text so no precision is lost.
type LedgerStore struct {
	pool *pgxpool.Pool
}

// NewLedgerStore creates a new LedgerStore backed by the given connection pool.
func NewLedgerStore(pool *pgxpool.Pool) *LedgerStore {
	return &LedgerStore{pool: pool}
}

const positionSelectCols = `ticket_id, symbol, side,
	entry_price::text, volume::text, volume_closed::text, mark_price::text, marked_at,
	status, realized_pnl::text, stop_loss::text, take_profit::text,
	strategy, opened_at, closed_at`

func scanPositionRow(row pgx.Row) (domain.Position, error) {
	var (
		p                                  domain.Position
		side, status                       string
		entry, vol, closed, mark, realized string
		stopLoss, takeProfit               *string
		markedAt                           *time.Time
	)
	if err := row.Scan(
		&p.TicketID, &p.Symbol, &side,
		&entry, &vol, &closed, &mark, &markedAt,
		&status, &realized, &stopLoss, &takeProfit,
		&p.Strategy, &p.OpenedAt, &p.ClosedAt,
	); err != nil {
		return domain.Position{}, err
	}
	p.Side = domain.Side(side)
	p.Status = domain.PositionStatus(status)

	var err error
	if p.EntryPrice, err = parseDecimal("entry_price", entry); err != nil {
		return domain.Position{}, err
	}
	if p.Volume, err = parseDecimal("volume", vol); err != nil {
		return domain.Position{}, err
	}
	if p.VolumeClosed, err = parseDecimal("volume_closed", closed); err != nil {
		return domain.Position{}, err
	}
	if p.MarkPrice, err = parseDecimal("mark_price", mark); err != nil {
		return domain.Position{}, err
	}
	if p.RealizedPnL, err = parseDecimal("realized_pnl", realized); err != nil {
		return domain.Position{}, err
	}
	if p.StopLoss, err = parseNullDecimal("stop_loss", stopLoss); err != nil {
		return domain.Position{}, err
	}
	if p.TakeProfit, err = parseNullDecimal("take_profit", takeProfit); err != nil {
		return domain.Position{}, err
	}
	if markedAt != nil {
		p.MarkedAt = markedAt.UTC()
	}
	p.OpenedAt = p.OpenedAt.UTC()
	if p.ClosedAt != nil {
		t := p.ClosedAt.UTC()
		p.ClosedAt = &t
	}
	return p, nil
}

func scanPositionRows(rows pgx.Rows) ([]domain.Position, error) {
	defer rows.Close()
	var positions []domain.Position
	for rows.Next() {
		p, err := scanPositionRow(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

const fillSelectCols = `id, ticket_id, symbol, side, kind,
	volume::text, price::text, realized_pnl::text, cash_delta::text, at`

func scanFillRows(rows pgx.Rows) ([]domain.Fill, error) {
	defer rows.Close()
	var fills []domain.Fill
	for rows.Next() {
		var (
			f                               domain.Fill
			side, kind                      string
			vol, price, realized, cashDelta string
		)
		if err := rows.Scan(&f.ID, &f.TicketID, &f.Symbol, &side, &kind,
			&vol, &price, &realized, &cashDelta, &f.At); err != nil {
			return nil, err
		}
		f.Side = domain.Side(side)
		f.Kind = domain.FillKind(kind)
		f.At = f.At.UTC()
		var err error
		if f.Volume, err = parseDecimal("volume", vol); err != nil {
			return nil, err
		}
		if f.Price, err = parseDecimal("price", price); err != nil {
			return nil, err
		}
		if f.RealizedPnL, err = parseDecimal("realized_pnl", realized); err != nil {
			return nil, err
		}
		if f.CashDelta, err = parseDecimal("cash_delta", cashDelta); err != nil {
			return nil, err
		}
		fills = append(fills, f)
	}
	return fills, rows.Err()
}

// LoadPortfolio returns the portfolio row, or domain.ErrNotFound.
func (s *LedgerStore) LoadPortfolio(ctx context.Context, id string) (domain.Portfolio, error) {
	const query = `
		SELECT id, cash::text, holdings, peak_equity::text, day_start_equity::text,
		       day_start, realized_today::text, loss_today::text, updated_at
		FROM portfolios WHERE id = $1`

	var (
		p                                              domain.Portfolio
		cash, peak, dayStartEq, realizedDay, lossToday string
		holdingsJSON                                   []byte
	)
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&p.ID, &cash, &holdingsJSON, &peak, &dayStartEq,
		&p.DayStart, &realizedDay, &lossToday, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Portfolio{}, domain.ErrNotFound
		}
		return domain.Portfolio{}, fmt.Errorf("postgres: load portfolio %s: %w", id, err)
	}

	if p.Cash, err = parseDecimal("cash", cash); err != nil {
		return domain.Portfolio{}, err
	}
	if p.PeakEquity, err = parseDecimal("peak_equity", peak); err != nil {
		return domain.Portfolio{}, err
	}
	if p.DayStartEquity, err = parseDecimal("day_start_equity", dayStartEq); err != nil {
		return domain.Portfolio{}, err
	}
	if p.RealizedToday, err = parseDecimal("realized_today", realizedDay); err != nil {
		return domain.Portfolio{}, err
	}
	if p.LossToday, err = parseDecimal("loss_today", lossToday); err != nil {
		return domain.Portfolio{}, err
	}
	if len(holdingsJSON) > 0 {
		if err := json.Unmarshal(holdingsJSON, &p.Holdings); err != nil {
			return domain.Portfolio{}, fmt.Errorf("postgres: unmarshal holdings: %w", err)
		}
	}
	if p.Holdings == nil {
		p.Holdings = make(map[string]decimal.Decimal)
	}
	p.DayStart = p.DayStart.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, nil
}

// ListActive returns open and partially closed positions, oldest first.
func (s *LedgerStore) ListActive(ctx context.Context) ([]domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions
		WHERE status <> 'closed' ORDER BY opened_at, ticket_id`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active positions: %w", err)
	}
	positions, err := scanPositionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan active positions: %w", err)
	}
	return positions, nil
}

// GetPosition returns a position by ticket, or domain.ErrNotFound.
func (s *LedgerStore) GetPosition(ctx context.Context, ticketID string) (domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE ticket_id = $1`

	p, err := scanPositionRow(s.pool.QueryRow(ctx, query, ticketID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", ticketID, err)
	}
	return p, nil
}

const upsertPositionSQL = `
	INSERT INTO positions (
		ticket_id, symbol, side, entry_price, volume, volume_closed,
		mark_price, marked_at, status, realized_pnl, stop_loss, take_profit,
		strategy, opened_at, closed_at, updated_at
	) VALUES (
		$1, $2, $3, $4::numeric, $5::numeric, $6::numeric,
		$7::numeric, $8, $9, $10::numeric, $11::numeric, $12::numeric,
		$13, $14, $15, NOW()
	)
	ON CONFLICT (ticket_id) DO UPDATE SET
		volume_closed = EXCLUDED.volume_closed,
		mark_price    = EXCLUDED.mark_price,
		marked_at     = EXCLUDED.marked_at,
		status        = EXCLUDED.status,
		realized_pnl  = EXCLUDED.realized_pnl,
		stop_loss     = EXCLUDED.stop_loss,
		take_profit   = EXCLUDED.take_profit,
		closed_at     = EXCLUDED.closed_at,
		updated_at    = NOW()`

const upsertPortfolioSQL = `
	INSERT INTO portfolios (
		id, cash, holdings, peak_equity, day_start_equity, day_start, realized_today, loss_today, updated_at
	) VALUES (
		$1, $2::numeric, $3, $4::numeric, $5::numeric, $6, $7::numeric, $8::numeric, $9
	)
	ON CONFLICT (id) DO UPDATE SET
		cash             = EXCLUDED.cash,
		holdings         = EXCLUDED.holdings,
		peak_equity      = EXCLUDED.peak_equity,
		day_start_equity = EXCLUDED.day_start_equity,
		day_start        = EXCLUDED.day_start,
		realized_today   = EXCLUDED.realized_today,
		loss_today       = EXCLUDED.loss_today,
		updated_at       = EXCLUDED.updated_at`

const insertFillSQL = `
	INSERT INTO fills (
		id, ticket_id, symbol, side, kind, volume, price, realized_pnl, cash_delta, at
	) VALUES (
		$1, $2, $3, $4, $5, $6::numeric, $7::numeric, $8::numeric, $9::numeric, $10
	)`

// Commit writes every row of c inside one transaction.
func (s *LedgerStore) Commit(ctx context.Context, c domain.LedgerCommit) error {
	holdingsJSON, err := json.Marshal(c.Portfolio.Holdings)
	if err != nil {
		return fmt.Errorf("postgres: marshal holdings: %w", err)
	}

	batch := &pgx.Batch{}
	for _, p := range c.Positions {
		p := p
		var markedAt *time.Time
		if !p.MarkedAt.IsZero() {
			markedAt = &p.MarkedAt
		}
		batch.Queue(upsertPositionSQL,
			p.TicketID, p.Symbol, string(p.Side),
			p.EntryPrice.String(), p.Volume.String(), p.VolumeClosed.String(),
			p.MarkPrice.String(), markedAt, string(p.Status), p.RealizedPnL.String(),
			nullDecimal(p.StopLoss), nullDecimal(p.TakeProfit),
			p.Strategy, p.OpenedAt, p.ClosedAt,
		)
	}
	if c.Portfolio.ID != "" {
		pf := c.Portfolio
		batch.Queue(upsertPortfolioSQL,
			pf.ID, pf.Cash.String(), holdingsJSON, pf.PeakEquity.String(),
			pf.DayStartEquity.String(), pf.DayStart, pf.RealizedToday.String(), pf.LossToday.String(), pf.UpdatedAt,
		)
	}
	for _, f := range c.Fills {
		batch.Queue(insertFillSQL,
			f.ID, f.TicketID, f.Symbol, string(f.Side), string(f.Kind),
			f.Volume.String(), f.Price.String(), f.RealizedPnL.String(), f.CashDelta.String(), f.At,
		)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin ledger commit: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("postgres: ledger commit: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit ledger tx: %w", err)
	}
	return nil
}

// ListFills returns journal rows in time order.
func (s *LedgerStore) ListFills(ctx context.Context, opts domain.ListOpts) ([]domain.Fill, error) {
	query, args := windowQuery(`SELECT `+fillSelectCols+` FROM fills`, "at", "at, id", opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list fills: %w", err)
	}
	fills, err := scanFillRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan fills: %w", err)
	}
	return fills, nil
}

// ListClosedBefore returns positions closed strictly before the cutoff.
func (s *LedgerStore) ListClosedBefore(ctx context.Context, before time.Time) ([]domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions
		WHERE status = 'closed' AND closed_at < $1 ORDER BY opened_at, ticket_id`

	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list closed positions: %w", err)
	}
	positions, err := scanPositionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan closed positions: %w", err)
	}
	return positions, nil
}

// ListFillsBefore returns fills recorded strictly before the cutoff.
func (s *LedgerStore) ListFillsBefore(ctx context.Context, before time.Time) ([]domain.Fill, error) {
	query := `SELECT ` + fillSelectCols + ` FROM fills WHERE at < $1 ORDER BY at, id`

	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list fills before: %w", err)
	}
	fills, err := scanFillRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan fills: %w", err)
	}
	return fills, nil
}

func parseDecimal(col, s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("postgres: parse %s %q: %w", col, s, err)
	}
	return d, nil
}

func parseNullDecimal(col string, s *string) (*decimal.Decimal, error) {
	if s == nil {
		return nil, nil
	}
	d, err := parseDecimal(col, *s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func nullDecimal(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}

// Compile-time interface checks.
var (
	_ domain.LedgerStore   = (*LedgerStore)(nil)
	_ domain.ArchiveSource = (*LedgerStore)(nil)
)
