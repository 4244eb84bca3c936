package domain

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Quote is a price observation from the oracle. Its JSON form is the payload
// of the price push channel.
type Quote struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
	At     time.Time       `json:"at"`
}

// MaxQuoteSkew is how far ahead of the local clock a quote may be dated.
const MaxQuoteSkew = 5 * time.Second

// CheckQuoteTime rejects a quote time beyond MaxQuoteSkew in the future. A
// later-dated quote would otherwise shadow every honest one after it.
func CheckQuoteTime(at, now time.Time) error {
	if at.After(now.Add(MaxQuoteSkew)) {
		return fmt.Errorf("%w: quote time %s is ahead of %s",
			ErrInvalidInput, at.UTC().Format(time.RFC3339Nano), now.UTC().Format(time.RFC3339Nano))
	}
	return nil
}

// PriceOracle supplies the latest mark price for a symbol. It returns
// ErrPriceUnavailable when it has nothing usable.
type PriceOracle interface {
	GetPrice(ctx context.Context, symbol string) (Quote, error)
}

// PricePublisher writes quotes for oracle consumers.
type PricePublisher interface {
	SetPrice(ctx context.Context, q Quote) error
}

// MarketStats supplies liquidity figures for the risk engine.
type MarketStats interface {
	// Volume24h returns ErrNotFound when no figure is known for the symbol.
	Volume24h(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// Lock is a held distributed lock.
type Lock interface {
	// Refresh extends the lock TTL; it returns ErrLockHeld if the lock was lost.
	Refresh(ctx context.Context, ttl time.Duration) error
	Release()
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lock, error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int, block time.Duration) ([]StreamMessage, error)
}
