package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/tradeledger/internal/domain"
)

// PriceCache implements domain.PriceOracle and domain.PricePublisher using
// Redis hashes. Each symbol's quote is stored at key "price:{symbol}" with
// fields "price" (decimal string) and "ts" (Unix nanosecond timestamp).
type PriceCache struct {
	rdb *redis.Client
}

// NewPriceCache creates a PriceCache backed by the given Client.
func NewPriceCache(c *Client) *PriceCache {
	return &PriceCache{rdb: c.Underlying()}
}

func priceKey(symbol string) string {
	return "price:" + symbol
}

// SetPrice stores the latest quote for a symbol.
func (pc *PriceCache) SetPrice(ctx context.Context, q domain.Quote) error {
	symbol := domain.NormalizeSymbol(q.Symbol)
	fields := map[string]any{
		"price": q.Price.String(),
		"ts":    strconv.FormatInt(q.At.UnixNano(), 10),
	}
	if err := pc.rdb.HSet(ctx, priceKey(symbol), fields).Err(); err != nil {
		return fmt.Errorf("redis: set price %s: %w", symbol, err)
	}
	return nil
}

// GetPrice retrieves the latest quote for a symbol. It returns
// domain.ErrPriceUnavailable when nothing usable is cached.
func (pc *PriceCache) GetPrice(ctx context.Context, symbol string) (domain.Quote, error) {
	symbol = domain.NormalizeSymbol(symbol)
	vals, err := pc.rdb.HGetAll(ctx, priceKey(symbol)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return domain.Quote{}, fmt.Errorf("redis: get price %s: %w", symbol, err)
	}
	return decodeQuote(symbol, vals)
}

// decodeQuote turns a price hash into a Quote. Missing fields and
// non-positive prices count as unavailable.
func decodeQuote(symbol string, vals map[string]string) (domain.Quote, error) {
	priceStr, ok := vals["price"]
	if !ok {
		return domain.Quote{}, fmt.Errorf("redis: %s: %w", symbol, domain.ErrPriceUnavailable)
	}
	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("redis: parse price %s %q: %w", symbol, priceStr, domain.ErrPriceUnavailable)
	}
	if !price.IsPositive() {
		return domain.Quote{}, fmt.Errorf("redis: %s price %s: %w", symbol, price, domain.ErrPriceUnavailable)
	}

	tsStr, ok := vals["ts"]
	if !ok {
		return domain.Quote{}, fmt.Errorf("redis: %s missing ts: %w", symbol, domain.ErrPriceUnavailable)
	}
	tsNano, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("redis: parse ts %s %q: %w", symbol, tsStr, domain.ErrPriceUnavailable)
	}

	return domain.Quote{Symbol: symbol, Price: price, At: time.Unix(0, tsNano).UTC()}, nil
}

// Compile-time interface checks.
var (
	_ domain.PriceOracle    = (*PriceCache)(nil)
	_ domain.PricePublisher = (*PriceCache)(nil)
)
