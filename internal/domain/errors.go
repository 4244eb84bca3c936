package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrLockHeld      = errors.New("lock already held")
	ErrUnauthorized  = errors.New("unauthorized")

	ErrInvalidInput      = errors.New("invalid input")
	ErrPositionNotFound  = errors.New("position not found")
	ErrAlreadyClosed     = errors.New("position already closed")
	ErrOverClose         = errors.New("close volume exceeds remaining volume")
	ErrDuplicateTicket   = errors.New("duplicate ticket id")
	ErrPriceUnavailable  = errors.New("price unavailable")
	ErrInsufficientCash  = errors.New("insufficient cash")
	ErrPersistenceFailed = errors.New("persistence failed")
)

// PersistenceError reports a storage failure that aborted a ledger
// operation. In-memory state is left as it was before the call.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() []error {
	return []error{ErrPersistenceFailed, e.Err}
}

// RiskDeniedError is the error form of a denied Decision, for callers that
// prefer to propagate denials as errors.
type RiskDeniedError struct {
	Reason string
	Detail string
}

func (e *RiskDeniedError) Error() string {
	if e.Detail == "" {
		return "risk denied: " + e.Reason
	}
	return fmt.Sprintf("risk denied: %s (%s)", e.Reason, e.Detail)
}

// ErrorKind maps a ledger error onto the stable names used in command results.
func ErrorKind(err error) string {
	var denied *RiskDeniedError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &denied):
		return "risk_denied"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrPositionNotFound):
		return "position_not_found"
	case errors.Is(err, ErrAlreadyClosed):
		return "already_closed"
	case errors.Is(err, ErrOverClose):
		return "over_close"
	case errors.Is(err, ErrDuplicateTicket):
		return "duplicate_ticket"
	case errors.Is(err, ErrPriceUnavailable):
		return "price_unavailable"
	case errors.Is(err, ErrInsufficientCash):
		return "insufficient_cash"
	case errors.Is(err, ErrPersistenceFailed):
		return "persistence_error"
	default:
		return "internal"
	}
}
