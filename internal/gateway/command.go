// Package gateway applies trade commands read from a Redis stream to the
// ledger, running the risk engine before every open, and publishes one
// result per command.
package gateway

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/tradeledger/internal/domain"
)

// Command types.
const (
	CommandOpen         = "open"
	CommandPartialClose = "partial_close"
	CommandClose        = "close"
	CommandQuote        = "quote"
)

// Result statuses.
const (
	StatusOK        = "ok"
	StatusDenied    = "denied"
	StatusError     = "error"
	StatusDuplicate = "duplicate"
)

// Command is the JSON payload of one stream entry. Decimal fields travel as
// strings so no precision is lost.
type Command struct {
	ID         string           `json:"id"`
	Type       string           `json:"type"`
	TicketID   string           `json:"ticket_id,omitempty"`
	Symbol     string           `json:"symbol,omitempty"`
	Side       domain.Side      `json:"side,omitempty"`
	Volume     *decimal.Decimal `json:"volume,omitempty"`
	Price      *decimal.Decimal `json:"price,omitempty"`
	StopLoss   *decimal.Decimal `json:"stop_loss,omitempty"`
	TakeProfit *decimal.Decimal `json:"take_profit,omitempty"`
	Strategy   string           `json:"strategy,omitempty"`
	// At is the observation time of a quote command.
	At time.Time `json:"at,omitzero"`
}

// Result is published on the results channel for every processed command.
type Result struct {
	CommandID   string           `json:"command_id"`
	Type        string           `json:"type"`
	Status      string           `json:"status"`
	TicketID    string           `json:"ticket_id,omitempty"`
	RealizedPnL *decimal.Decimal `json:"realized_pnl,omitempty"`
	Reason      string           `json:"reason,omitempty"`
	Detail      string           `json:"detail,omitempty"`
	ErrorKind   string           `json:"error_kind,omitempty"`
	Error       string           `json:"error,omitempty"`
	At          time.Time        `json:"at"`
}

// DecodeCommand parses a stream payload and checks the fields its type
// needs. Errors wrap domain.ErrInvalidInput.
func DecodeCommand(payload []byte) (Command, error) {
	var c Command
	if err := json.Unmarshal(payload, &c); err != nil {
		return Command{}, fmt.Errorf("gateway: %w: %v", domain.ErrInvalidInput, err)
	}
	c.ID = strings.TrimSpace(c.ID)
	c.TicketID = strings.TrimSpace(c.TicketID)
	if c.ID == "" {
		return c, fmt.Errorf("gateway: %w: command id is required", domain.ErrInvalidInput)
	}

	var missing []string
	need := func(ok bool, field string) {
		if !ok {
			missing = append(missing, field)
		}
	}
	switch c.Type {
	case CommandOpen:
		need(c.Symbol != "", "symbol")
		need(c.Side != "", "side")
		need(c.Volume != nil, "volume")
		need(c.Price != nil, "price")
	case CommandPartialClose:
		need(c.TicketID != "", "ticket_id")
		need(c.Volume != nil, "volume")
		need(c.Price != nil, "price")
	case CommandClose:
		need(c.TicketID != "", "ticket_id")
		need(c.Price != nil, "price")
	case CommandQuote:
		need(c.Symbol != "", "symbol")
		need(c.Price != nil, "price")
	default:
		return c, fmt.Errorf("gateway: %w: unknown command type %q", domain.ErrInvalidInput, c.Type)
	}
	if len(missing) > 0 {
		return c, fmt.Errorf("gateway: %w: %s requires %s", domain.ErrInvalidInput, c.Type, strings.Join(missing, ", "))
	}
	return c, nil
}
