// Command ledgerd runs the position ledger daemon. Besides the default
// "run", it offers operator subcommands:
//
//	ledgerd [-config path] run
//	ledgerd [-config path] reset-cash -operator NAME -amount N -reason TEXT
//	ledgerd [-config path] stats [-since 2026-01-01]
//	ledgerd [-config path] submit < command.json
//	ledgerd hash-passphrase
//
// reset-cash reads the admin passphrase from LEDGER_ADMIN_PASSPHRASE;
// hash-passphrase reads it from stdin. submit appends one JSON gateway
// command read from stdin to the command stream.
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/tradeledger/internal/app"
	"github.com/alanyoungcy/tradeledger/internal/config"
	"github.com/alanyoungcy/tradeledger/internal/ledger"
)

func main() {
	configPath := flag.String("config", "ledger.toml", "path to configuration file")
	flag.Parse()

	cmd := "run"
	args := flag.Args()
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	if cmd == "hash-passphrase" {
		if err := hashPassphrase(); err != nil {
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// Setup structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Debug("configuration loaded", slog.Any("config", config.RedactedConfig(cfg)))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application := app.New(cfg, logger)

	switch cmd {
	case "run":
		err = run(ctx, application, logger, *configPath)
	case "reset-cash":
		err = resetCash(ctx, application, args)
	case "stats":
		err = stats(ctx, application, args)
	case "submit":
		err = submit(ctx, application)
	default:
		err = fmt.Errorf("unknown command %q", cmd)
	}
	application.Close()

	if err != nil {
		logger.Error("ledgerd exited with error",
			slog.String("command", cmd),
			slog.String("error", err.Error()),
		)
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, application *app.App, logger *slog.Logger, configPath string) error {
	logger.Info("ledgerd starting", slog.String("config", configPath))
	err := application.Run(ctx)
	// context.Canceled is expected on clean shutdown.
	if errors.Is(err, context.Canceled) {
		logger.Info("ledgerd stopped")
		return nil
	}
	return err
}

func resetCash(ctx context.Context, application *app.App, args []string) error {
	fs := flag.NewFlagSet("reset-cash", flag.ContinueOnError)
	operator := fs.String("operator", "", "operator name recorded in the audit log")
	amount := fs.String("amount", "", "new cash balance")
	reason := fs.String("reason", "", "reason recorded in the audit log")
	if err := fs.Parse(args); err != nil {
		return err
	}
	value, err := decimal.NewFromString(*amount)
	if err != nil {
		return fmt.Errorf("reset-cash: amount: %w", err)
	}
	passphrase := os.Getenv("LEDGER_ADMIN_PASSPHRASE")
	if passphrase == "" {
		return errors.New("reset-cash: LEDGER_ADMIN_PASSPHRASE is not set")
	}
	return application.ResetCash(ctx, *operator, passphrase, value, *reason)
}

func stats(ctx context.Context, application *app.App, args []string) error {
	fs := flag.NewFlagSet("stats", flag.ContinueOnError)
	sinceStr := fs.String("since", "", "only count fills from this UTC date (YYYY-MM-DD)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	var since *time.Time
	if *sinceStr != "" {
		t, err := time.Parse(time.DateOnly, *sinceStr)
		if err != nil {
			return fmt.Errorf("stats: since: %w", err)
		}
		since = &t
	}

	perf, err := application.Performance(ctx, since)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{
		"trades":       perf.Trades,
		"wins":         perf.Wins,
		"losses":       perf.Losses,
		"gross_profit": perf.GrossProfit.String(),
		"gross_loss":   perf.GrossLoss.String(),
		"net_pnl":      perf.NetPnL.String(),
		"win_rate":     perf.WinRate.StringFixed(4),
	})
}

func submit(ctx context.Context, application *app.App) error {
	payload, err := io.ReadAll(os.Stdin)
	if err != nil {
		return fmt.Errorf("submit: read stdin: %w", err)
	}
	id, err := application.Submit(ctx, bytes.TrimSpace(payload))
	if err != nil {
		return err
	}
	fmt.Println(id)
	return nil
}

func hashPassphrase() error {
	fmt.Fprint(os.Stderr, "passphrase: ")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return fmt.Errorf("read passphrase: %w", err)
	}
	hash, err := ledger.HashPassphrase(strings.TrimRight(line, "\r\n"))
	if err != nil {
		return err
	}
	fmt.Println(hash)
	return nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
