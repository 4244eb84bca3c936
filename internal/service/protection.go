package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/tradeledger/internal/domain"
)

// Protection trigger kinds.
const (
	TriggerStopLoss   = "stop_loss"
	TriggerTakeProfit = "take_profit"
)

// PositionSource lists the ledger's active positions.
type PositionSource interface {
	OpenPositions() []domain.Position
}

// Trigger reports a position whose mark crossed one of its protection
// levels.
type Trigger struct {
	TicketID string
	Symbol   string
	Side     domain.Side
	Kind     string
	Level    decimal.Decimal
	Mark     decimal.Decimal
}

// ProtectionScanner watches stop-loss and take-profit levels and publishes a
// protection_triggered event when a mark crosses one. Closing the position is
// left to whoever consumes the event. Each ticket fires once per trigger kind
// for as long as it stays active.
type ProtectionScanner struct {
	positions PositionSource
	events    domain.EventSink
	interval  time.Duration
	now       func() time.Time
	logger    *slog.Logger

	mu    sync.Mutex
	fired map[string]string
}

// NewProtectionScanner creates a ProtectionScanner.
func NewProtectionScanner(positions PositionSource, events domain.EventSink, interval time.Duration, logger *slog.Logger) *ProtectionScanner {
	return &ProtectionScanner{
		positions: positions,
		events:    events,
		interval:  interval,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logger.With(slog.String("component", "protection")),
		fired:     make(map[string]string),
	}
}

// Run scans on every interval tick until ctx is cancelled.
func (s *ProtectionScanner) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.InfoContext(ctx, "protection: started", slog.Duration("interval", s.interval))
	defer s.logger.Info("protection: stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Scan(ctx)
		}
	}
}

// Scan checks every active position once and returns the newly fired
// triggers.
func (s *ProtectionScanner) Scan(ctx context.Context) []Trigger {
	positions := s.positions.OpenPositions()

	s.mu.Lock()
	active := make(map[string]struct{}, len(positions))
	var out []Trigger
	for _, p := range positions {
		active[p.TicketID] = struct{}{}
		trig, ok := Evaluate(p)
		if !ok || s.fired[p.TicketID] == trig.Kind {
			continue
		}
		s.fired[p.TicketID] = trig.Kind
		out = append(out, trig)
	}
	for ticket := range s.fired {
		if _, ok := active[ticket]; !ok {
			delete(s.fired, ticket)
		}
	}
	s.mu.Unlock()

	for _, trig := range out {
		s.logger.InfoContext(ctx, "protection: triggered",
			slog.String("ticket_id", trig.TicketID),
			slog.String("symbol", trig.Symbol),
			slog.String("kind", trig.Kind),
			slog.String("level", trig.Level.String()),
			slog.String("mark", trig.Mark.String()),
		)
		s.events.Emit(ctx, domain.LedgerEvent{
			Event:    domain.EventProtectionTriggered,
			TicketID: trig.TicketID,
			Symbol:   trig.Symbol,
			Detail: map[string]any{
				"side":    string(trig.Side),
				"trigger": trig.Kind,
				"level":   trig.Level.String(),
				"mark":    trig.Mark.String(),
			},
			At: s.now(),
		})
	}
	return out
}

// Evaluate reports whether p's mark has crossed its stop-loss or take-profit.
// Long: mark <= SL or mark >= TP. Short: mark >= SL or mark <= TP. Stop-loss
// wins when both are crossed. Positions without a mark never trigger.
func Evaluate(p domain.Position) (Trigger, bool) {
	if !p.Status.Active() || !p.MarkPrice.IsPositive() {
		return Trigger{}, false
	}
	mark := p.MarkPrice
	long := p.Side == domain.SideLong

	if sl := p.StopLoss; sl != nil {
		if (long && mark.LessThanOrEqual(*sl)) || (!long && mark.GreaterThanOrEqual(*sl)) {
			return newTrigger(p, TriggerStopLoss, *sl), true
		}
	}
	if tp := p.TakeProfit; tp != nil {
		if (long && mark.GreaterThanOrEqual(*tp)) || (!long && mark.LessThanOrEqual(*tp)) {
			return newTrigger(p, TriggerTakeProfit, *tp), true
		}
	}
	return Trigger{}, false
}

func newTrigger(p domain.Position, kind string, level decimal.Decimal) Trigger {
	return Trigger{
		TicketID: p.TicketID,
		Symbol:   p.Symbol,
		Side:     p.Side,
		Kind:     kind,
		Level:    level,
		Mark:     p.MarkPrice,
	}
}
