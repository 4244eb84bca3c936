package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/tradeledger/internal/domain"
)

// MarketStats implements domain.MarketStats from hashes maintained by the
// market data collector.
//
// Key schema:
//
//	stats:{symbol} - hash with field "volume_24h" (decimal string)
type MarketStats struct {
	rdb *redis.Client
}

// NewMarketStats creates a MarketStats backed by the given Client.
func NewMarketStats(c *Client) *MarketStats {
	return &MarketStats{rdb: c.Underlying()}
}

func statsKey(symbol string) string { return "stats:" + symbol }

// Volume24h returns the trailing 24h volume, or domain.ErrNotFound.
func (ms *MarketStats) Volume24h(ctx context.Context, symbol string) (decimal.Decimal, error) {
	symbol = domain.NormalizeSymbol(symbol)
	raw, err := ms.rdb.HGet(ctx, statsKey(symbol), "volume_24h").Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return decimal.Zero, domain.ErrNotFound
		}
		return decimal.Zero, fmt.Errorf("redis: get volume_24h %s: %w", symbol, err)
	}
	vol, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("redis: parse volume_24h %s %q: %w", symbol, raw, err)
	}
	return vol, nil
}

// Compile-time interface check.
var _ domain.MarketStats = (*MarketStats)(nil)
