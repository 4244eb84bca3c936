package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/tradeledger/internal/domain"
)

// PriceService ingests externally sourced quotes: it stores them for the
// oracle and pushes them on the price channel so the feeder can mark the
// ledger without waiting for the next poll.
type PriceService struct {
	prices  domain.PricePublisher
	bus     domain.SignalBus
	channel string
	now     func() time.Time
	logger  *slog.Logger
}

// NewPriceService creates a PriceService.
func NewPriceService(prices domain.PricePublisher, bus domain.SignalBus, channel string, logger *slog.Logger) *PriceService {
	return &PriceService{
		prices:  prices,
		bus:     bus,
		channel: channel,
		now:     func() time.Time { return time.Now().UTC() },
		logger:  logger.With(slog.String("component", "price_service")),
	}
}

// HandleQuote validates and stores q, then publishes it. A quote without a
// timestamp is stamped with the current time; one dated too far in the
// future is rejected.
func (s *PriceService) HandleQuote(ctx context.Context, q domain.Quote) error {
	q.Symbol = domain.NormalizeSymbol(q.Symbol)
	if q.Symbol == "" {
		return fmt.Errorf("price_service: %w: symbol is required", domain.ErrInvalidInput)
	}
	if !q.Price.IsPositive() {
		return fmt.Errorf("price_service: %s: %w: price must be > 0", q.Symbol, domain.ErrInvalidInput)
	}
	now := s.now()
	if q.At.IsZero() {
		q.At = now
	}
	if err := domain.CheckQuoteTime(q.At, now); err != nil {
		return fmt.Errorf("price_service: %s: %w", q.Symbol, err)
	}

	if err := s.prices.SetPrice(ctx, q); err != nil {
		return fmt.Errorf("price_service: set price %s: %w", q.Symbol, err)
	}

	payload, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("price_service: marshal %s: %w", q.Symbol, err)
	}
	if pubErr := s.bus.Publish(ctx, s.channel, payload); pubErr != nil {
		s.logger.WarnContext(ctx, "price_service: publish quote failed",
			slog.String("symbol", q.Symbol),
			slog.String("error", pubErr.Error()),
		)
	}
	return nil
}
