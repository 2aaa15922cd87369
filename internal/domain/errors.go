package domain

import (
	"errors"
	"fmt"
)

// Input errors, rejected at the webhook boundary.
var (
	ErrMalformedPayload = errors.New("malformed event payload")
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrStaleEvent       = errors.New("event timestamp outside tolerance window")
)

// State-consistency errors, surfaced to the caller.
var (
	ErrAlreadyLinked       = errors.New("user already linked to a different customer")
	ErrUnknownSubscription = errors.New("renewal for unknown subscription")
	ErrConcurrentConflict  = errors.New("concurrent update conflict")
)

// Business errors, expected and user-facing.
var (
	ErrInsufficientCredits = errors.New("no report credits left")
	ErrNoSubscription      = errors.New("user has no subscription")
	ErrPlanExpired         = errors.New("subscription plan expired")
)

// Resource and generic storage errors.
var (
	ErrStoreUnavailable = errors.New("record store unavailable")
	ErrNotFound         = errors.New("record not found")
	ErrDuplicate        = errors.New("duplicate record")
	ErrUnknownPlan      = errors.New("unknown plan")
)

// LedgerError carries the failing ledger operation and event for audit logs.
type LedgerError struct {
	Op          string
	UserID      string
	EventID     string
	OriginalErr error
}

func (e *LedgerError) Error() string {
	if e.EventID != "" {
		return fmt.Sprintf("ledger %s failed for user %s (event %s): %v", e.Op, e.UserID, e.EventID, e.OriginalErr)
	}
	return fmt.Sprintf("ledger %s failed for user %s: %v", e.Op, e.UserID, e.OriginalErr)
}

func (e *LedgerError) Unwrap() error {
	return e.OriginalErr
}

// NewLedgerError wraps err with ledger operation context.
func NewLedgerError(op, userID, eventID string, err error) *LedgerError {
	return &LedgerError{Op: op, UserID: userID, EventID: eventID, OriginalErr: err}
}
