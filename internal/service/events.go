package service

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/alanyoungcy/tradeledger/internal/domain"
)

var _ domain.EventSink = (*EventPublisher)(nil)

// EventPublisher fans committed ledger events out to the signal bus, the
// audit log and any extra sinks such as operator alerts. A failing
// collaborator is logged and skipped; the mutation that produced the event
// has already been committed.
type EventPublisher struct {
	bus     domain.SignalBus
	audit   domain.AuditStore
	channel string
	extra   []domain.EventSink
	logger  *slog.Logger
}

// NewEventPublisher creates an EventPublisher. bus and audit may be nil when
// the deployment has no Redis or no audit table.
func NewEventPublisher(bus domain.SignalBus, audit domain.AuditStore, channel string, logger *slog.Logger, extra ...domain.EventSink) *EventPublisher {
	return &EventPublisher{
		bus:     bus,
		audit:   audit,
		channel: channel,
		extra:   extra,
		logger:  logger.With(slog.String("component", "events")),
	}
}

// Emit implements domain.EventSink.
func (p *EventPublisher) Emit(ctx context.Context, evt domain.LedgerEvent) {
	if p.bus != nil {
		payload, err := json.Marshal(evt)
		if err != nil {
			p.logger.WarnContext(ctx, "events: marshal failed",
				slog.String("event", evt.Event),
				slog.String("error", err.Error()),
			)
		} else if err := p.bus.Publish(ctx, p.channel, payload); err != nil {
			p.logger.WarnContext(ctx, "events: publish failed",
				slog.String("event", evt.Event),
				slog.String("ticket_id", evt.TicketID),
				slog.String("error", err.Error()),
			)
		}
	}

	// Mark refreshes are too frequent for the audit log.
	if p.audit != nil && evt.Event != domain.EventMarksUpdated {
		detail := make(map[string]any, len(evt.Detail)+2)
		for k, v := range evt.Detail {
			detail[k] = v
		}
		if evt.TicketID != "" {
			detail["ticket_id"] = evt.TicketID
		}
		if evt.Symbol != "" {
			detail["symbol"] = evt.Symbol
		}
		if err := p.audit.Log(ctx, "ledger."+evt.Event, detail); err != nil {
			p.logger.WarnContext(ctx, "events: audit log failed",
				slog.String("event", evt.Event),
				slog.String("error", err.Error()),
			)
		}
	}

	for _, sink := range p.extra {
		sink.Emit(ctx, evt)
	}
}
