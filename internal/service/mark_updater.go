package service

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/tradeledger/internal/domain"
)

// MarkTarget is the part of the ledger the mark updater drives.
type MarkTarget interface {
	ActiveSymbols() []string
	ApplyQuote(ctx context.Context, q domain.Quote) error
}

// MarkUpdaterConfig tunes the polling loop.
type MarkUpdaterConfig struct {
	// Symbols are polled even when nothing is open on them, so the risk
	// engine has fresh marks before the first trade.
	Symbols        []string
	Interval       time.Duration
	OracleTimeout  time.Duration
	MaxConcurrency int
}

// MarkUpdater polls the price oracle for every watched symbol and applies
// the quotes to the ledger. A symbol whose oracle call fails or times out
// keeps its previous mark until the next round.
type MarkUpdater struct {
	ledger MarkTarget
	oracle domain.PriceOracle
	cfg    MarkUpdaterConfig
	logger *slog.Logger
}

// NewMarkUpdater creates a MarkUpdater.
func NewMarkUpdater(ledger MarkTarget, oracle domain.PriceOracle, cfg MarkUpdaterConfig, logger *slog.Logger) *MarkUpdater {
	if cfg.MaxConcurrency < 1 {
		cfg.MaxConcurrency = 1
	}
	return &MarkUpdater{
		ledger: ledger,
		oracle: oracle,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "mark_updater")),
	}
}

// Run polls on every interval tick until ctx is cancelled.
func (u *MarkUpdater) Run(ctx context.Context) error {
	ticker := time.NewTicker(u.cfg.Interval)
	defer ticker.Stop()

	u.logger.InfoContext(ctx, "mark_updater: started",
		slog.Duration("interval", u.cfg.Interval),
		slog.Int("static_symbols", len(u.cfg.Symbols)),
	)
	defer u.logger.Info("mark_updater: stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			u.Refresh(ctx)
		}
	}
}

// Refresh runs one polling round and returns the number of symbols whose
// quote was applied.
func (u *MarkUpdater) Refresh(ctx context.Context) int {
	symbols := u.watched()
	if len(symbols) == 0 {
		return 0
	}

	applied := make([]bool, len(symbols))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(u.cfg.MaxConcurrency)
	for i, sym := range symbols {
		i, sym := i, sym
		g.Go(func() error {
			applied[i] = u.refreshSymbol(gctx, sym)
			return nil
		})
	}
	_ = g.Wait()

	n := 0
	for _, ok := range applied {
		if ok {
			n++
		}
	}
	u.logger.DebugContext(ctx, "mark_updater: round done",
		slog.Int("symbols", len(symbols)),
		slog.Int("applied", n),
	)
	return n
}

func (u *MarkUpdater) refreshSymbol(ctx context.Context, symbol string) bool {
	qctx, cancel := context.WithTimeout(ctx, u.cfg.OracleTimeout)
	q, err := u.oracle.GetPrice(qctx, symbol)
	cancel()
	if err != nil {
		level := slog.LevelWarn
		if errors.Is(err, context.Canceled) {
			level = slog.LevelDebug
		}
		u.logger.Log(ctx, level, "mark_updater: oracle failed, keeping stale mark",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
		return false
	}
	if q.Symbol == "" {
		q.Symbol = symbol
	}
	if err := u.ledger.ApplyQuote(ctx, q); err != nil {
		u.logger.WarnContext(ctx, "mark_updater: apply quote failed",
			slog.String("symbol", symbol),
			slog.String("price", q.Price.String()),
			slog.String("error", err.Error()),
		)
		return false
	}
	return true
}

// watched is the sorted union of configured symbols and symbols with active
// positions.
func (u *MarkUpdater) watched() []string {
	set := make(map[string]struct{})
	for _, s := range u.cfg.Symbols {
		if s = domain.NormalizeSymbol(s); s != "" {
			set[s] = struct{}{}
		}
	}
	for _, s := range u.ledger.ActiveSymbols() {
		set[s] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
