// Package app provides the ledger daemon's lifecycle: it wires stores,
// caches and blob storage, takes the single-writer lock for the portfolio,
// loads the ledger and runs the background workers until shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/tradeledger/internal/cache/redis"
	"github.com/alanyoungcy/tradeledger/internal/config"
	"github.com/alanyoungcy/tradeledger/internal/domain"
	"github.com/alanyoungcy/tradeledger/internal/gateway"
	"github.com/alanyoungcy/tradeledger/internal/ledger"
	"github.com/alanyoungcy/tradeledger/internal/service"
)

// App is the root application object. It owns the configuration, logger, and
// a list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("app: shutting down")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// session is a wired, locked and loaded ledger.
type session struct {
	deps   *Dependencies
	lock   domain.Lock
	events *service.EventPublisher
	ledger *ledger.Ledger
}

// open wires dependencies, takes the portfolio lock and loads the ledger.
// Everything it acquires is registered with Close.
func (a *App) open(ctx context.Context) (*session, error) {
	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return nil, fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	lockKey := "ledger:" + a.cfg.Ledger.PortfolioID
	lock, err := deps.LockManager.Acquire(ctx, lockKey, a.cfg.Ledger.LockTTL.Duration)
	if errors.Is(err, domain.ErrLockHeld) {
		return nil, fmt.Errorf("app: portfolio %q is owned by another process: %w", a.cfg.Ledger.PortfolioID, err)
	}
	if err != nil {
		return nil, fmt.Errorf("app: acquire lock: %w", err)
	}
	a.closers = append(a.closers, lock.Release)

	events := service.NewEventPublisher(deps.SignalBus, deps.AuditStore, a.cfg.Ledger.EventsChannel, a.logger, notifierSinks(deps)...)

	l, err := ledger.New(ctx, deps.LedgerStore, ledger.Config{
		PortfolioID: a.cfg.Ledger.PortfolioID,
		InitialCash: a.cfg.Ledger.InitialCash,
		MinCash:     a.cfg.Ledger.MinCash,
	}, a.logger, ledger.WithEventSink(events))
	if err != nil {
		return nil, fmt.Errorf("app: load ledger: %w", err)
	}

	pf := l.Portfolio()
	a.logger.InfoContext(ctx, "app: ledger loaded",
		slog.String("portfolio_id", pf.ID),
		slog.String("currency", a.cfg.Ledger.Currency),
		slog.String("cash", pf.Cash.String()),
		slog.Int("open_positions", len(l.OpenPositions())),
	)
	return &session{deps: deps, lock: lock, events: events, ledger: l}, nil
}

// ResetCash runs an audited cash reset against the configured portfolio. It
// takes the portfolio lock, so it fails while a daemon owns the ledger.
func (a *App) ResetCash(ctx context.Context, operator, passphrase string, amount decimal.Decimal, reason string) error {
	s, err := a.open(ctx)
	if err != nil {
		return err
	}
	admin := ledger.NewAdmin(s.ledger, s.deps.AuditStore, a.cfg.Ledger.AdminPassphraseHash, a.logger)
	return admin.ResetCash(ctx, operator, passphrase, amount, reason)
}

// Performance summarises close fills since the given time (all history when
// since is nil). It reads the store directly and needs no lock.
func (a *App) Performance(ctx context.Context, since *time.Time) (domain.Performance, error) {
	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return domain.Performance{}, fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	return ledger.Performance(ctx, deps.LedgerStore, since)
}

// Submit appends one gateway command to the configured stream and returns
// its id. It needs only Redis; the running daemon applies the command.
func (a *App) Submit(ctx context.Context, payload []byte) (string, error) {
	client, err := redis.New(ctx, redisConfig(a.cfg), a.logger)
	if err != nil {
		return "", fmt.Errorf("app: redis: %w", err)
	}
	defer func() { _ = client.Close() }()

	cmd, err := gateway.Submit(ctx, redis.NewSignalBus(client), a.cfg.Gateway.Stream, payload)
	if err != nil {
		return "", err
	}
	a.logger.InfoContext(ctx, "app: command submitted",
		slog.String("command_id", cmd.ID),
		slog.String("type", cmd.Type),
		slog.String("stream", a.cfg.Gateway.Stream),
	)
	return cmd.ID, nil
}
