package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/tradeledger/internal/domain"
)

// FillSource reads the fill journal.
type FillSource interface {
	ListFills(ctx context.Context, opts domain.ListOpts) ([]domain.Fill, error)
}

// Performance summarises close fills recorded since the given time, or the
// whole journal when since is nil. It reads the store only, so it needs no
// loaded ledger.
func Performance(ctx context.Context, src FillSource, since *time.Time) (domain.Performance, error) {
	fills, err := src.ListFills(ctx, domain.ListOpts{Since: since})
	if err != nil {
		return domain.Performance{}, fmt.Errorf("ledger: performance: %w", err)
	}
	return SummarizeFills(fills), nil
}

// SummarizeFills derives win/loss statistics from close fills. Open fills are
// ignored; a break-even slice counts as a trade but neither a win nor a loss.
func SummarizeFills(fills []domain.Fill) domain.Performance {
	var perf domain.Performance
	for _, f := range fills {
		if f.Kind != domain.FillClose {
			continue
		}
		perf.Trades++
		switch {
		case f.RealizedPnL.IsPositive():
			perf.Wins++
			perf.GrossProfit = perf.GrossProfit.Add(f.RealizedPnL)
		case f.RealizedPnL.IsNegative():
			perf.Losses++
			perf.GrossLoss = perf.GrossLoss.Add(f.RealizedPnL.Abs())
		}
	}
	perf.NetPnL = perf.GrossProfit.Sub(perf.GrossLoss)
	if perf.Trades > 0 {
		perf.WinRate = decimal.NewFromInt(int64(perf.Wins)).Div(decimal.NewFromInt(int64(perf.Trades)))
	}
	return perf
}
