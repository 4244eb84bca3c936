// Package memory implements the ledger stores in process memory. It backs
// the "memory" store driver and package tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/tradeledger/internal/domain"
)

// Store keeps ledger rows in maps guarded by a mutex.
type Store struct {
	mu         sync.Mutex
	portfolios map[string]domain.Portfolio
	positions  map[string]domain.Position
	fills      []domain.Fill
	audit      []domain.AuditEntry
	nextAudit  int64
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		portfolios: make(map[string]domain.Portfolio),
		positions:  make(map[string]domain.Position),
	}
}

// LoadPortfolio returns domain.ErrNotFound for an unknown id.
func (s *Store) LoadPortfolio(_ context.Context, id string) (domain.Portfolio, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.portfolios[id]
	if !ok {
		return domain.Portfolio{}, domain.ErrNotFound
	}
	return p.Clone(), nil
}

// ListActive returns open and partially closed positions.
func (s *Store) ListActive(_ context.Context) ([]domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Position
	for _, p := range s.positions {
		if p.Status.Active() {
			out = append(out, p.Clone())
		}
	}
	sortByOpened(out)
	return out, nil
}

// GetPosition returns domain.ErrNotFound for an unknown ticket.
func (s *Store) GetPosition(_ context.Context, ticketID string) (domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[ticketID]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return p.Clone(), nil
}

// Commit applies every row of c.
func (s *Store) Commit(_ context.Context, c domain.LedgerCommit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range c.Positions {
		s.positions[p.TicketID] = p.Clone()
	}
	if c.Portfolio.ID != "" {
		s.portfolios[c.Portfolio.ID] = c.Portfolio.Clone()
	}
	s.fills = append(s.fills, c.Fills...)
	return nil
}

// ListFills returns fills in time order, filtered by opts.
func (s *Store) ListFills(_ context.Context, opts domain.ListOpts) ([]domain.Fill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Fill
	for _, f := range s.fills {
		if opts.Since != nil && f.At.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && f.At.After(*opts.Until) {
			continue
		}
		out = append(out, f)
	}
	return paginate(out, opts), nil
}

// ListClosedBefore returns positions closed strictly before the cutoff.
func (s *Store) ListClosedBefore(_ context.Context, before time.Time) ([]domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Position
	for _, p := range s.positions {
		if p.Status == domain.PositionStatusClosed && p.ClosedAt != nil && p.ClosedAt.Before(before) {
			out = append(out, p.Clone())
		}
	}
	sortByOpened(out)
	return out, nil
}

// ListFillsBefore returns fills recorded strictly before the cutoff.
func (s *Store) ListFillsBefore(_ context.Context, before time.Time) ([]domain.Fill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Fill
	for _, f := range s.fills {
		if f.At.Before(before) {
			out = append(out, f)
		}
	}
	return out, nil
}

// Log appends an audit entry.
func (s *Store) Log(_ context.Context, event string, detail map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextAudit++
	s.audit = append(s.audit, domain.AuditEntry{
		ID:        s.nextAudit,
		Event:     event,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

// List returns audit entries newest first.
func (s *Store) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.AuditEntry, 0, len(s.audit))
	for i := len(s.audit) - 1; i >= 0; i-- {
		e := s.audit[i]
		if opts.Since != nil && e.CreatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && e.CreatedAt.After(*opts.Until) {
			continue
		}
		out = append(out, e)
	}
	return paginate(out, opts), nil
}

func paginate[T any](rows []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(rows) {
			return nil
		}
		rows = rows[opts.Offset:]
	}
	if opts.Limit > 0 && len(rows) > opts.Limit {
		rows = rows[:opts.Limit]
	}
	return rows
}

func sortByOpened(ps []domain.Position) {
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].OpenedAt.Equal(ps[j].OpenedAt) {
			return ps[i].TicketID < ps[j].TicketID
		}
		return ps[i].OpenedAt.Before(ps[j].OpenedAt)
	})
}

// Compile-time interface checks.
var (
	_ domain.LedgerStore   = (*Store)(nil)
	_ domain.ArchiveSource = (*Store)(nil)
	_ domain.AuditStore    = (*Store)(nil)
)
