package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// LedgerCommit is the unit of persistence for one ledger mutation. Stores
// must apply it atomically: all rows or none.
type LedgerCommit struct {
	Positions []Position
	Portfolio Portfolio
	Fills     []Fill
}

// LedgerStore persists positions, the portfolio row and the fill journal.
type LedgerStore interface {
	// LoadPortfolio returns ErrNotFound when the portfolio row does not exist yet.
	LoadPortfolio(ctx context.Context, id string) (Portfolio, error)
	ListActive(ctx context.Context) ([]Position, error)
	// GetPosition returns ErrNotFound for an unknown ticket.
	GetPosition(ctx context.Context, ticketID string) (Position, error)
	Commit(ctx context.Context, c LedgerCommit) error
	ListFills(ctx context.Context, opts ListOpts) ([]Fill, error)
}

// ArchiveSource exposes the historical rows eligible for cold storage.
type ArchiveSource interface {
	ListClosedBefore(ctx context.Context, before time.Time) ([]Position, error)
	ListFillsBefore(ctx context.Context, before time.Time) ([]Fill, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
