package domain

import (
	"context"
	"time"
)

// Ledger event names.
const (
	EventPositionOpened          = "position_opened"
	EventPositionPartiallyClosed = "position_partially_closed"
	EventPositionClosed          = "position_closed"
	EventMarksUpdated            = "marks_updated"
	EventCashReset               = "cash_reset"
	EventProtectionTriggered     = "protection_triggered"
)

// LedgerEvent describes a committed ledger change.
type LedgerEvent struct {
	Event    string         `json:"event"`
	TicketID string         `json:"ticket_id,omitempty"`
	Symbol   string         `json:"symbol,omitempty"`
	Detail   map[string]any `json:"detail,omitempty"`
	At       time.Time      `json:"at"`
}

// EventSink receives ledger events after commit. Implementations must not
// block for long; failures are logged by the sink, never returned.
type EventSink interface {
	Emit(ctx context.Context, evt LedgerEvent)
}
