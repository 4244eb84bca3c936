package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/alanyoungcy/tradeledger/internal/domain"
)

// Admin performs operator corrections on the account. It is deliberately a
// separate type from the settlement path: trade code holds a *Ledger, never
// an *Admin.
type Admin struct {
	ledger *Ledger
	audit  domain.AuditStore
	hash   []byte
	logger *slog.Logger
}

// NewAdmin builds an Admin guarded by a bcrypt hash of the operator
// passphrase. An empty hash disables every admin operation.
func NewAdmin(l *Ledger, audit domain.AuditStore, passphraseHash string, logger *slog.Logger) *Admin {
	return &Admin{
		ledger: l,
		audit:  audit,
		hash:   []byte(strings.TrimSpace(passphraseHash)),
		logger: logger.With(slog.String("component", "ledger_admin")),
	}
}

// HashPassphrase produces the value expected in ledger.admin_passphrase_hash.
func HashPassphrase(passphrase string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(passphrase), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("ledger_admin: hash passphrase: %w", err)
	}
	return string(h), nil
}

// ResetCash overwrites the cash balance and restarts the equity watermarks.
// The request is written to the audit log before anything changes; if that
// write fails the reset does not happen.
func (a *Admin) ResetCash(ctx context.Context, operator, passphrase string, amount decimal.Decimal, reason string) error {
	operator = strings.TrimSpace(operator)
	reason = strings.TrimSpace(reason)
	if operator == "" || reason == "" {
		return fmt.Errorf("ledger_admin: reset cash: %w: operator and reason are required", domain.ErrInvalidInput)
	}
	if amount.IsNegative() {
		return fmt.Errorf("ledger_admin: reset cash: %w: amount must be >= 0", domain.ErrInvalidInput)
	}
	if len(a.hash) == 0 {
		return fmt.Errorf("ledger_admin: reset cash: %w: admin disabled", domain.ErrUnauthorized)
	}
	if err := bcrypt.CompareHashAndPassword(a.hash, []byte(passphrase)); err != nil {
		if !errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return fmt.Errorf("ledger_admin: reset cash: %w", err)
		}
		a.logger.WarnContext(ctx, "ledger_admin: rejected passphrase", slog.String("operator", operator))
		return fmt.Errorf("ledger_admin: reset cash: %w", domain.ErrUnauthorized)
	}

	l := a.ledger
	l.mu.Lock()
	defer l.mu.Unlock()

	previous := l.account.Cash()
	if err := a.audit.Log(ctx, "admin.cash_reset.requested", map[string]any{
		"portfolio_id": l.cfg.PortfolioID,
		"operator":     operator,
		"reason":       reason,
		"previous":     previous.String(),
		"amount":       amount.String(),
	}); err != nil {
		return fmt.Errorf("ledger_admin: reset cash: audit: %w", err)
	}

	now := l.now()
	tx := l.begin(now)
	tx.acct.p.Cash = amount
	equity := domain.ComputeExposure(amount, l.activePositions(nil)).TotalEquity
	tx.acct.resetWatermarks(equity, now)
	if err := l.commit(ctx, "reset cash", tx, now); err != nil {
		return err
	}

	if err := a.audit.Log(ctx, "admin.cash_reset.applied", map[string]any{
		"portfolio_id": l.cfg.PortfolioID,
		"operator":     operator,
		"cash":         amount.String(),
	}); err != nil {
		a.logger.WarnContext(ctx, "ledger_admin: audit log failed", slog.String("error", err.Error()))
	}
	l.events.Emit(ctx, domain.LedgerEvent{
		Event: domain.EventCashReset,
		Detail: map[string]any{
			"operator": operator,
			"previous": previous.String(),
			"cash":     amount.String(),
		},
		At: now,
	})
	a.logger.InfoContext(ctx, "ledger_admin: cash reset",
		slog.String("operator", operator),
		slog.String("previous", previous.String()),
		slog.String("cash", amount.String()),
	)
	return nil
}
