package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/tradeledger/internal/domain"
	"github.com/alanyoungcy/tradeledger/internal/feed"
	"github.com/alanyoungcy/tradeledger/internal/gateway"
	"github.com/alanyoungcy/tradeledger/internal/risk"
	"github.com/alanyoungcy/tradeledger/internal/scheduler"
	"github.com/alanyoungcy/tradeledger/internal/service"
)

// Run loads the ledger and runs every worker until ctx is cancelled or one
// of them fails. Losing the portfolio lock is fatal: another process may be
// writing.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "app: starting",
		slog.String("portfolio_id", a.cfg.Ledger.PortfolioID),
		slog.String("store", a.cfg.Store.Driver),
		slog.String("log_level", a.cfg.LogLevel),
	)

	s, err := a.open(ctx)
	if err != nil {
		return err
	}
	deps, l := s.deps, s.ledger

	engine := risk.NewEngine(l, deps.MarketStats, risk.NewStaticGroups(a.cfg.Risk.Groups), a.logger,
		risk.WithOracle(deps.Prices))
	exp := engine.ComputeExposure()
	a.logger.InfoContext(ctx, "app: exposure",
		slog.String("equity", exp.TotalEquity.String()),
		slog.String("exposure", exp.TotalExposure.String()),
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.keepLock(gctx, s.lock) })

	updater := service.NewMarkUpdater(l, deps.Prices, service.MarkUpdaterConfig{
		Symbols:        a.cfg.Marks.Symbols,
		Interval:       a.cfg.Marks.PollInterval.Duration,
		OracleTimeout:  a.cfg.Marks.OracleTimeout.Duration,
		MaxConcurrency: a.cfg.Marks.MaxConcurrency,
	}, a.logger)
	g.Go(func() error { return updater.Run(gctx) })

	feeder := feed.NewPriceFeeder(deps.SignalBus, a.cfg.Marks.PriceChannel, l, a.logger)
	g.Go(func() error { return feeder.Run(gctx) })

	protection := service.NewProtectionScanner(l, s.events, a.cfg.Marks.ProtectionInterval.Duration, a.logger)
	g.Go(func() error { return protection.Run(gctx) })

	if a.cfg.Gateway.Enabled {
		prices := service.NewPriceService(deps.Prices, deps.SignalBus, a.cfg.Marks.PriceChannel, a.logger)
		consumer := gateway.NewConsumer(deps.SignalBus, l, engine, a.cfg.Risk.ParamsFor, prices, gateway.Config{
			Stream:         a.cfg.Gateway.Stream,
			ResultsChannel: a.cfg.Gateway.ResultsChannel,
			Batch:          a.cfg.Gateway.Batch,
			Block:          a.cfg.Gateway.Block.Duration,
			DedupTTL:       a.cfg.Gateway.DedupTTL.Duration,
		}, a.logger)
		g.Go(func() error { return consumer.Run(gctx) })
	}

	cron := scheduler.New(a.logger)
	if err := cron.Add(gctx, "day_roll", a.cfg.Ledger.DayRollCron, scheduler.DayRollJob(l)); err != nil {
		return err
	}
	if deps.Archiver != nil {
		retention := time.Duration(a.cfg.Archive.RetentionDays) * 24 * time.Hour
		if err := cron.Add(gctx, "archive", a.cfg.Archive.Cron, scheduler.ArchiveJob(deps.Archiver, retention, time.Now)); err != nil {
			return err
		}
	}
	g.Go(func() error { return cron.Run(gctx) })

	if deps.Notifier != nil {
		_ = deps.Notifier.NotifyAll(ctx, "ledgerd started", "portfolio "+a.cfg.Ledger.PortfolioID)
	}

	return g.Wait()
}

// keepLock refreshes the portfolio lock at a third of its TTL.
func (a *App) keepLock(ctx context.Context, lock domain.Lock) error {
	ttl := a.cfg.Ledger.LockTTL.Duration
	ticker := time.NewTicker(ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := lock.Refresh(ctx, ttl); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				a.logger.ErrorContext(ctx, "app: portfolio lock lost", slog.String("error", err.Error()))
				return fmt.Errorf("app: refresh portfolio lock: %w", err)
			}
		}
	}
}

func notifierSinks(deps *Dependencies) []domain.EventSink {
	if deps.Notifier == nil {
		return nil
	}
	return []domain.EventSink{deps.Notifier}
}
