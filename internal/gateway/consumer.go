package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/tradeledger/internal/domain"
)

// Ledger is the subset of the position ledger the consumer drives.
type Ledger interface {
	Open(ctx context.Context, req domain.OpenRequest) (domain.Position, error)
	PartialClose(ctx context.Context, ticketID string, closeVolume, closePrice decimal.Decimal) (decimal.Decimal, error)
	Close(ctx context.Context, ticketID string, closePrice decimal.Decimal) (decimal.Decimal, error)
}

// RiskChecker decides whether an open may proceed.
type RiskChecker interface {
	CanOpen(ctx context.Context, req domain.TradeRequest, params domain.RiskParams) domain.Decision
}

// QuoteHandler ingests quote commands.
type QuoteHandler interface {
	HandleQuote(ctx context.Context, q domain.Quote) error
}

// Config configures a Consumer.
type Config struct {
	Stream         string
	ResultsChannel string
	Batch          int
	Block          time.Duration
	DedupTTL       time.Duration
	// StartID is where reading begins; "$" (the default) skips entries
	// written before the consumer started.
	StartID string
}

// Consumer reads commands from a stream one at a time. Commands are applied
// sequentially, so a risk decision and the open that follows it cannot
// interleave with another command from the stream.
type Consumer struct {
	bus    domain.SignalBus
	ledger Ledger
	risk   RiskChecker
	params func(symbol string) domain.RiskParams
	quotes QuoteHandler
	dedup  *Dedup
	cfg    Config
	now    func() time.Time
	logger *slog.Logger
}

// NewConsumer creates a Consumer. params resolves the effective risk limits
// for a symbol. quotes may be nil, in which case quote commands fail.
func NewConsumer(
	bus domain.SignalBus,
	ledger Ledger,
	risk RiskChecker,
	params func(symbol string) domain.RiskParams,
	quotes QuoteHandler,
	cfg Config,
	logger *slog.Logger,
) *Consumer {
	if cfg.StartID == "" {
		cfg.StartID = "$"
	}
	if cfg.Batch < 1 {
		cfg.Batch = 1
	}
	return &Consumer{
		bus:    bus,
		ledger: ledger,
		risk:   risk,
		params: params,
		quotes: quotes,
		dedup:  NewDedup(cfg.DedupTTL),
		cfg:    cfg,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger.With(slog.String("component", "gateway")),
	}
}

// Run consumes the stream until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.InfoContext(ctx, "gateway: started",
		slog.String("stream", c.cfg.Stream),
		slog.String("results", c.cfg.ResultsChannel),
	)
	defer c.logger.Info("gateway: stopped")

	lastID := c.cfg.StartID
	lastCleanup := c.now()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		msgs, err := c.bus.StreamRead(ctx, c.cfg.Stream, lastID, c.cfg.Batch, c.cfg.Block)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.WarnContext(ctx, "gateway: stream read failed", slog.String("error", err.Error()))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}

		for _, msg := range msgs {
			lastID = msg.ID
			c.Handle(ctx, msg.Payload)
		}

		if now := c.now(); now.Sub(lastCleanup) >= c.cfg.DedupTTL {
			c.dedup.Cleanup()
			lastCleanup = now
		}
	}
}

// Handle processes one command payload and publishes its result. The
// result is also returned for callers that drive the consumer directly.
func (c *Consumer) Handle(ctx context.Context, payload []byte) Result {
	cmd, err := DecodeCommand(payload)
	var res Result
	switch {
	case err != nil:
		res = c.failed(cmd, err)
	case c.dedup.IsDuplicate(cmd.ID):
		res = Result{CommandID: cmd.ID, Type: cmd.Type, Status: StatusDuplicate, TicketID: cmd.TicketID}
	default:
		res = c.apply(ctx, cmd)
		// A storage failure left the ledger untouched, so let a retry of the
		// same command through.
		if res.ErrorKind == "persistence_error" {
			c.dedup.Forget(cmd.ID)
		}
	}
	res.At = c.now()

	c.publish(ctx, res)
	return res
}

func (c *Consumer) apply(ctx context.Context, cmd Command) Result {
	switch cmd.Type {
	case CommandOpen:
		return c.open(ctx, cmd)
	case CommandPartialClose:
		pnl, err := c.ledger.PartialClose(ctx, cmd.TicketID, *cmd.Volume, *cmd.Price)
		if err != nil {
			return c.failed(cmd, err)
		}
		return Result{CommandID: cmd.ID, Type: cmd.Type, Status: StatusOK, TicketID: cmd.TicketID, RealizedPnL: &pnl}
	case CommandClose:
		pnl, err := c.ledger.Close(ctx, cmd.TicketID, *cmd.Price)
		if err != nil {
			return c.failed(cmd, err)
		}
		return Result{CommandID: cmd.ID, Type: cmd.Type, Status: StatusOK, TicketID: cmd.TicketID, RealizedPnL: &pnl}
	case CommandQuote:
		if c.quotes == nil {
			return c.failed(cmd, fmt.Errorf("gateway: %w: quote ingestion disabled", domain.ErrInvalidInput))
		}
		q := domain.Quote{Symbol: cmd.Symbol, Price: *cmd.Price, At: cmd.At}
		if err := c.quotes.HandleQuote(ctx, q); err != nil {
			return c.failed(cmd, err)
		}
		return Result{CommandID: cmd.ID, Type: cmd.Type, Status: StatusOK}
	}
	return c.failed(cmd, fmt.Errorf("gateway: %w: unknown command type %q", domain.ErrInvalidInput, cmd.Type))
}

func (c *Consumer) open(ctx context.Context, cmd Command) Result {
	symbol := domain.NormalizeSymbol(cmd.Symbol)
	decision := c.risk.CanOpen(ctx, domain.TradeRequest{
		Symbol: symbol,
		Side:   cmd.Side,
		Volume: *cmd.Volume,
		Price:  *cmd.Price,
	}, c.params(symbol))
	if !decision.Allowed {
		return Result{
			CommandID: cmd.ID,
			Type:      cmd.Type,
			Status:    StatusDenied,
			TicketID:  cmd.TicketID,
			Reason:    decision.Reason,
			Detail:    decision.Detail,
		}
	}

	pos, err := c.ledger.Open(ctx, domain.OpenRequest{
		TicketID:   cmd.TicketID,
		Symbol:     symbol,
		Side:       cmd.Side,
		Volume:     *cmd.Volume,
		EntryPrice: *cmd.Price,
		StopLoss:   cmd.StopLoss,
		TakeProfit: cmd.TakeProfit,
		Strategy:   cmd.Strategy,
	})
	if err != nil {
		return c.failed(cmd, err)
	}
	return Result{CommandID: cmd.ID, Type: cmd.Type, Status: StatusOK, TicketID: pos.TicketID}
}

func (c *Consumer) failed(cmd Command, err error) Result {
	return Result{
		CommandID: cmd.ID,
		Type:      cmd.Type,
		Status:    StatusError,
		TicketID:  cmd.TicketID,
		ErrorKind: domain.ErrorKind(err),
		Error:     err.Error(),
	}
}

func (c *Consumer) publish(ctx context.Context, res Result) {
	log := c.logger.With(
		slog.String("command_id", res.CommandID),
		slog.String("type", res.Type),
		slog.String("status", res.Status),
	)
	switch res.Status {
	case StatusError:
		log.WarnContext(ctx, "gateway: command failed",
			slog.String("error_kind", res.ErrorKind),
			slog.String("error", res.Error),
		)
	case StatusDenied:
		log.InfoContext(ctx, "gateway: command denied", slog.String("reason", res.Reason))
	default:
		log.DebugContext(ctx, "gateway: command processed", slog.String("ticket_id", res.TicketID))
	}

	payload, err := json.Marshal(res)
	if err != nil {
		log.ErrorContext(ctx, "gateway: marshal result failed", slog.String("error", err.Error()))
		return
	}
	if err := c.bus.Publish(ctx, c.cfg.ResultsChannel, payload); err != nil {
		log.WarnContext(ctx, "gateway: publish result failed", slog.String("error", err.Error()))
	}
}
