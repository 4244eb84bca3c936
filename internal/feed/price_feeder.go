// Package feed pushes externally published quotes into the ledger.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/tradeledger/internal/domain"
)

// ErrSubscriptionClosed is returned by Run when the bus closes the price
// subscription while the feeder is still wanted.
var ErrSubscriptionClosed = errors.New("price subscription closed")

// QuoteSink receives decoded quotes. *ledger.Ledger satisfies it.
type QuoteSink interface {
	ApplyQuote(ctx context.Context, q domain.Quote) error
}

// PriceFeeder subscribes to the price channel and applies every quote it
// receives as a mark. It complements the polling mark updater: whichever
// path delivers a newer quote wins, older ones are ignored by the ledger.
type PriceFeeder struct {
	bus     domain.SignalBus
	channel string
	sink    QuoteSink
	logger  *slog.Logger
}

// NewPriceFeeder creates a PriceFeeder.
func NewPriceFeeder(bus domain.SignalBus, channel string, sink QuoteSink, logger *slog.Logger) *PriceFeeder {
	return &PriceFeeder{
		bus:     bus,
		channel: channel,
		sink:    sink,
		logger:  logger.With(slog.String("component", "price_feeder")),
	}
}

// Run subscribes to the channel and blocks until ctx is cancelled. A
// subscription closed underneath it is an error so the caller can stop or
// restart the process instead of running without the push path.
func (f *PriceFeeder) Run(ctx context.Context) error {
	ch, err := f.bus.Subscribe(ctx, f.channel)
	if err != nil {
		return fmt.Errorf("price_feeder: subscribe %s: %w", f.channel, err)
	}
	f.logger.InfoContext(ctx, "price_feeder: started", slog.String("channel", f.channel))
	defer f.logger.Info("price_feeder: stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data, ok := <-ch:
			if !ok {
				if err := ctx.Err(); err != nil {
					return err
				}
				f.logger.WarnContext(ctx, "price_feeder: subscription closed", slog.String("channel", f.channel))
				return fmt.Errorf("price_feeder: %s: %w", f.channel, ErrSubscriptionClosed)
			}
			if err := f.handleMessage(ctx, data); err != nil {
				f.logger.DebugContext(ctx, "price_feeder: message dropped",
					slog.String("error", err.Error()),
					slog.Int("payload_len", len(data)),
				)
			}
		}
	}
}

func (f *PriceFeeder) handleMessage(ctx context.Context, data []byte) error {
	var q domain.Quote
	if err := json.Unmarshal(data, &q); err != nil {
		return fmt.Errorf("decode quote: %w", err)
	}
	return f.sink.ApplyQuote(ctx, q)
}
