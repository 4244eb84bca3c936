// Package sqlite implements the ledger, archive and audit stores on an
// embedded SQLite file for single-node deployments.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/tradeledger/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

//go:embed schema.sql
var schema string

// Compile-time interface checks.
var (
	_ domain.LedgerStore   = (*Store)(nil)
	_ domain.ArchiveSource = (*Store)(nil)
	_ domain.AuditStore    = (*Store)(nil)
)

// Store keeps decimals as TEXT and timestamps as UTC unix nanoseconds.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (or creates) the database at path and ensures the schema.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	// Pragmas go in the DSN so every pooled connection gets them.
	dsn := path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}

	logger = logger.With(slog.String("component", "sqlite"))
	logger.InfoContext(ctx, "sqlite: opened", slog.String("path", path))
	return &Store{db: db, logger: logger}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// LedgerStore implementation
// ---------------------------------------------------------------------------

// LoadPortfolio returns the portfolio row, or domain.ErrNotFound.
func (s *Store) LoadPortfolio(ctx context.Context, id string) (domain.Portfolio, error) {
	const query = `
		SELECT id, cash, holdings, peak_equity, day_start_equity, day_start, realized_today, loss_today, updated_at
		FROM portfolios WHERE id = ?`

	var (
		p                                              domain.Portfolio
		cash, peak, dayStartEq, realizedDay, lossToday string
		holdingsJSON                                   string
		dayStart, updatedAt                            int64
	)
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&p.ID, &cash, &holdingsJSON, &peak, &dayStartEq, &dayStart, &realizedDay, &lossToday, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Portfolio{}, domain.ErrNotFound
		}
		return domain.Portfolio{}, fmt.Errorf("sqlite: load portfolio %s: %w", id, err)
	}

	var dec decoder
	p.Cash = dec.parse("cash", cash)
	p.PeakEquity = dec.parse("peak_equity", peak)
	p.DayStartEquity = dec.parse("day_start_equity", dayStartEq)
	p.RealizedToday = dec.parse("realized_today", realizedDay)
	p.LossToday = dec.parse("loss_today", lossToday)
	if dec.err != nil {
		return domain.Portfolio{}, dec.err
	}
	if err := json.Unmarshal([]byte(holdingsJSON), &p.Holdings); err != nil {
		return domain.Portfolio{}, fmt.Errorf("sqlite: unmarshal holdings: %w", err)
	}
	if p.Holdings == nil {
		p.Holdings = make(map[string]decimal.Decimal)
	}
	p.DayStart = fromNanos(dayStart)
	p.UpdatedAt = fromNanos(updatedAt)
	return p, nil
}

const positionSelectCols = `ticket_id, symbol, side, entry_price, volume, volume_closed,
	mark_price, marked_at, status, realized_pnl, stop_loss, take_profit,
	strategy, opened_at, closed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPosition(row rowScanner) (domain.Position, error) {
	var (
		p                                  domain.Position
		side, status                       string
		entry, vol, closed, mark, realized string
		stopLoss, takeProfit               sql.NullString
		markedAt, closedAt                 sql.NullInt64
		openedAt                           int64
	)
	if err := row.Scan(
		&p.TicketID, &p.Symbol, &side, &entry, &vol, &closed,
		&mark, &markedAt, &status, &realized, &stopLoss, &takeProfit,
		&p.Strategy, &openedAt, &closedAt,
	); err != nil {
		return domain.Position{}, err
	}
	p.Side = domain.Side(side)
	p.Status = domain.PositionStatus(status)

	var dec decoder
	p.EntryPrice = dec.parse("entry_price", entry)
	p.Volume = dec.parse("volume", vol)
	p.VolumeClosed = dec.parse("volume_closed", closed)
	p.MarkPrice = dec.parse("mark_price", mark)
	p.RealizedPnL = dec.parse("realized_pnl", realized)
	p.StopLoss = dec.parseNull("stop_loss", stopLoss)
	p.TakeProfit = dec.parseNull("take_profit", takeProfit)
	if dec.err != nil {
		return domain.Position{}, dec.err
	}

	p.OpenedAt = fromNanos(openedAt)
	if markedAt.Valid {
		p.MarkedAt = fromNanos(markedAt.Int64)
	}
	if closedAt.Valid {
		t := fromNanos(closedAt.Int64)
		p.ClosedAt = &t
	}
	return p, nil
}

func (s *Store) queryPositions(ctx context.Context, where string, args ...any) ([]domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE ` + where + ` ORDER BY opened_at, ticket_id`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListActive returns open and partially closed positions, oldest first.
func (s *Store) ListActive(ctx context.Context) ([]domain.Position, error) {
	positions, err := s.queryPositions(ctx, `status <> 'closed'`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list active positions: %w", err)
	}
	return positions, nil
}

// GetPosition returns a position by ticket, or domain.ErrNotFound.
func (s *Store) GetPosition(ctx context.Context, ticketID string) (domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE ticket_id = ?`
	p, err := scanPosition(s.db.QueryRowContext(ctx, query, ticketID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("sqlite: get position %s: %w", ticketID, err)
	}
	return p, nil
}

const upsertPositionSQL = `
	INSERT INTO positions (
		ticket_id, symbol, side, entry_price, volume, volume_closed,
		mark_price, marked_at, status, realized_pnl, stop_loss, take_profit,
		strategy, opened_at, closed_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (ticket_id) DO UPDATE SET
		volume_closed = excluded.volume_closed,
		mark_price    = excluded.mark_price,
		marked_at     = excluded.marked_at,
		status        = excluded.status,
		realized_pnl  = excluded.realized_pnl,
		stop_loss     = excluded.stop_loss,
		take_profit   = excluded.take_profit,
		closed_at     = excluded.closed_at`

const upsertPortfolioSQL = `
	INSERT INTO portfolios (
		id, cash, holdings, peak_equity, day_start_equity, day_start, realized_today, loss_today, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (id) DO UPDATE SET
		cash             = excluded.cash,
		holdings         = excluded.holdings,
		peak_equity      = excluded.peak_equity,
		day_start_equity = excluded.day_start_equity,
		day_start        = excluded.day_start,
		realized_today   = excluded.realized_today,
		loss_today       = excluded.loss_today,
		updated_at       = excluded.updated_at`

const insertFillSQL = `
	INSERT INTO fills (id, ticket_id, symbol, side, kind, volume, price, realized_pnl, cash_delta, at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// Commit writes every row of c inside one transaction.
func (s *Store) Commit(ctx context.Context, c domain.LedgerCommit) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin ledger commit: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, p := range c.Positions {
		if _, err := tx.ExecContext(ctx, upsertPositionSQL,
			p.TicketID, p.Symbol, string(p.Side), p.EntryPrice.String(), p.Volume.String(), p.VolumeClosed.String(),
			p.MarkPrice.String(), nullNanos(p.MarkedAt), string(p.Status), p.RealizedPnL.String(),
			nullDecimal(p.StopLoss), nullDecimal(p.TakeProfit),
			p.Strategy, toNanos(p.OpenedAt), nullTimePtr(p.ClosedAt),
		); err != nil {
			return fmt.Errorf("sqlite: upsert position %s: %w", p.TicketID, err)
		}
	}

	if pf := c.Portfolio; pf.ID != "" {
		holdings, err := json.Marshal(pf.Holdings)
		if err != nil {
			return fmt.Errorf("sqlite: marshal holdings: %w", err)
		}
		if _, err := tx.ExecContext(ctx, upsertPortfolioSQL,
			pf.ID, pf.Cash.String(), string(holdings), pf.PeakEquity.String(),
			pf.DayStartEquity.String(), toNanos(pf.DayStart), pf.RealizedToday.String(), pf.LossToday.String(),
			toNanos(pf.UpdatedAt),
		); err != nil {
			return fmt.Errorf("sqlite: upsert portfolio %s: %w", pf.ID, err)
		}
	}

	for _, f := range c.Fills {
		if _, err := tx.ExecContext(ctx, insertFillSQL,
			f.ID, f.TicketID, f.Symbol, string(f.Side), string(f.Kind),
			f.Volume.String(), f.Price.String(), f.RealizedPnL.String(), f.CashDelta.String(), toNanos(f.At),
		); err != nil {
			return fmt.Errorf("sqlite: insert fill %s: %w", f.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit ledger tx: %w", err)
	}
	return nil
}

const fillSelectCols = `id, ticket_id, symbol, side, kind, volume, price, realized_pnl, cash_delta, at`

func (s *Store) queryFills(ctx context.Context, query string, args ...any) ([]domain.Fill, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Fill
	for rows.Next() {
		var (
			f                               domain.Fill
			side, kind                      string
			vol, price, realized, cashDelta string
			at                              int64
		)
		if err := rows.Scan(&f.ID, &f.TicketID, &f.Symbol, &side, &kind,
			&vol, &price, &realized, &cashDelta, &at); err != nil {
			return nil, err
		}
		f.Side = domain.Side(side)
		f.Kind = domain.FillKind(kind)
		f.At = fromNanos(at)

		var dec decoder
		f.Volume = dec.parse("volume", vol)
		f.Price = dec.parse("price", price)
		f.RealizedPnL = dec.parse("realized_pnl", realized)
		f.CashDelta = dec.parse("cash_delta", cashDelta)
		if dec.err != nil {
			return nil, dec.err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// ListFills returns journal rows in time order.
func (s *Store) ListFills(ctx context.Context, opts domain.ListOpts) ([]domain.Fill, error) {
	query, args := windowQuery(`SELECT `+fillSelectCols+` FROM fills`, "at", "at, id", opts)
	fills, err := s.queryFills(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list fills: %w", err)
	}
	return fills, nil
}

// ---------------------------------------------------------------------------
// ArchiveSource implementation
// ---------------------------------------------------------------------------

// ListClosedBefore returns positions closed strictly before the cutoff.
func (s *Store) ListClosedBefore(ctx context.Context, before time.Time) ([]domain.Position, error) {
	positions, err := s.queryPositions(ctx, `status = 'closed' AND closed_at < ?`, toNanos(before))
	if err != nil {
		return nil, fmt.Errorf("sqlite: list closed positions: %w", err)
	}
	return positions, nil
}

// ListFillsBefore returns fills recorded strictly before the cutoff.
func (s *Store) ListFillsBefore(ctx context.Context, before time.Time) ([]domain.Fill, error) {
	fills, err := s.queryFills(ctx, `SELECT `+fillSelectCols+` FROM fills WHERE at < ? ORDER BY at, id`, toNanos(before))
	if err != nil {
		return nil, fmt.Errorf("sqlite: list fills before: %w", err)
	}
	return fills, nil
}

// ---------------------------------------------------------------------------
// AuditStore implementation
// ---------------------------------------------------------------------------

// Log appends an audit entry; detail is stored as JSON text.
func (s *Store) Log(ctx context.Context, event string, detail map[string]any) error {
	detailJSON, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("sqlite: marshal audit detail: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_log (event, detail, created_at) VALUES (?, ?, ?)`,
		event, string(detailJSON), toNanos(time.Now()),
	); err != nil {
		return fmt.Errorf("sqlite: log audit event %s: %w", event, err)
	}
	return nil
}

// List returns audit entries newest first.
func (s *Store) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	query, args := windowQuery(`SELECT id, event, detail, created_at FROM audit_log`,
		"created_at", "created_at DESC, id DESC", opts)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.AuditEntry
	for rows.Next() {
		var (
			e         domain.AuditEntry
			detail    sql.NullString
			createdAt int64
		)
		if err := rows.Scan(&e.ID, &e.Event, &detail, &createdAt); err != nil {
			return nil, fmt.Errorf("sqlite: scan audit entry: %w", err)
		}
		if detail.Valid && detail.String != "" {
			if err := json.Unmarshal([]byte(detail.String), &e.Detail); err != nil {
				return nil, fmt.Errorf("sqlite: unmarshal audit detail: %w", err)
			}
		}
		e.CreatedAt = fromNanos(createdAt)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: list audit entries rows: %w", err)
	}
	return entries, nil
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

func windowQuery(base, col, orderBy string, opts domain.ListOpts) (string, []any) {
	query := base + " WHERE 1=1"
	var args []any
	if opts.Since != nil {
		query += " AND " + col + " >= ?"
		args = append(args, toNanos(*opts.Since))
	}
	if opts.Until != nil {
		query += " AND " + col + " <= ?"
		args = append(args, toNanos(*opts.Until))
	}
	query += " ORDER BY " + orderBy
	if opts.Limit > 0 || opts.Offset > 0 {
		limit := opts.Limit
		if limit <= 0 {
			limit = -1
		}
		query += " LIMIT ? OFFSET ?"
		args = append(args, limit, opts.Offset)
	}
	return query, args
}

// decoder parses decimal columns and keeps the first failure.
type decoder struct {
	err error
}

func (d *decoder) parse(col, s string) decimal.Decimal {
	if d.err != nil {
		return decimal.Zero
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		d.err = fmt.Errorf("sqlite: parse %s %q: %w", col, s, err)
	}
	return v
}

func (d *decoder) parseNull(col string, s sql.NullString) *decimal.Decimal {
	if !s.Valid {
		return nil
	}
	v := d.parse(col, s.String)
	return &v
}

func toNanos(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func nullNanos(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toNanos(t), Valid: true}
}

func nullTimePtr(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return nullNanos(*t)
}

func nullDecimal(d *decimal.Decimal) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}
