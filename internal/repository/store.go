package repository

import (
	"context"

	"github.com/iapessoastecnologia/CredAnalyzer-backend/internal/domain"
)

// SubscriptionTx is the view the ledger gets inside a single-record
// transaction. Everything done through it commits or aborts as one unit.
type SubscriptionTx interface {
	// Get returns the locked subscription, or domain.ErrNotFound if the
	// user has none yet.
	Get() (*domain.Subscription, error)
	// Put upserts the subscription record.
	Put(sub *domain.Subscription) error
	// InsertPayment appends a payment record. Returns domain.ErrDuplicate
	// if the Stripe payment id was already recorded.
	InsertPayment(rec *domain.PaymentRecord) error
	// CompletePayment flips a pending payment record to completed.
	// Returns domain.ErrNotFound when no record carries the id and
	// domain.ErrDuplicate when the record already left pending.
	CompletePayment(stripePaymentID string) error
	// EventApplied reports whether the event id is in the idempotency set.
	EventApplied(eventID string) (bool, error)
	// MarkEventApplied adds the event id to the idempotency set.
	MarkEventApplied(eventID string) error
}

// Store is the record store adapter. Implementations must serialize
// concurrent WithSubscription calls on the same userID and surface
// domain.ErrConcurrentConflict when a transaction loses a race, so the
// ledger can retry.
type Store interface {
	// WithSubscription runs fn inside a transaction scoped to one user's
	// subscription record. fn returning an error aborts the transaction.
	WithSubscription(ctx context.Context, userID string, fn func(tx SubscriptionTx) error) error

	GetSubscription(ctx context.Context, userID string) (*domain.Subscription, error)
	// FindUserByCustomer resolves a Stripe customer id to a user id.
	// Invoice and cancellation events arrive keyed by customer.
	FindUserByCustomer(ctx context.Context, stripeCustomerID string) (string, error)
	ListPayments(ctx context.Context, userID string, limit, offset int) ([]domain.PaymentRecord, error)

	ListCards(ctx context.Context, userID string) ([]domain.CardReference, error)
	SaveCard(ctx context.Context, card *domain.CardReference) error
	DeleteCard(ctx context.Context, cardID string) error
	// SetDefaultCard flips is_default so that at most one card per user
	// carries it.
	SetDefaultCard(ctx context.Context, userID, cardID string) error
}
