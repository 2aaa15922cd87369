package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/iapessoastecnologia/CredAnalyzer-backend/internal/domain"
	"github.com/iapessoastecnologia/CredAnalyzer-backend/internal/kafka"
	"github.com/iapessoastecnologia/CredAnalyzer-backend/internal/metrics"
	"github.com/iapessoastecnologia/CredAnalyzer-backend/internal/repository"
	"github.com/iapessoastecnologia/CredAnalyzer-backend/pkg/logger"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
)

const maxConflictRetries = 3

// errAlreadyApplied aborts a transaction whose effect is already on record.
// The abort is intentional: nothing may commit, and the caller reports
// success.
var errAlreadyApplied = errors.New("event already applied")

// Engine owns every mutation of subscription records. Each operation runs
// as one store transaction scoped to the user's record; losers of a
// concurrent race are retried a bounded number of times before
// ErrConcurrentConflict surfaces.
type Engine struct {
	store    repository.Store
	producer kafka.Producer
	metrics  metrics.LedgerMetrics
	log      *logger.Logger
	now      func() time.Time
}

// NewEngine creates the ledger engine.
func NewEngine(store repository.Store, producer kafka.Producer, m metrics.LedgerMetrics, log *logger.Logger) *Engine {
	return &Engine{
		store:    store,
		producer: producer,
		metrics:  m,
		log:      log,
		now:      time.Now,
	}
}

// CreditGrant describes a one-time credit purchase.
type CreditGrant struct {
	PlanName        string
	Credits         int
	AmountCents     int64
	PaymentMethod   string
	StripePaymentID string
}

// Activation describes the start of a recurring plan.
type Activation struct {
	PlanName             string
	Credits              int
	EndDate              time.Time
	AmountCents          int64
	StripePaymentID      string
	StripeSubscriptionID string
}

// Renewal describes a successful renewal charge.
type Renewal struct {
	Credits              int
	NewEndDate           time.Time
	AmountCents          int64
	StripePaymentID      string
	StripeSubscriptionID string
	PlanName             string
}

// GrantCustomer links a Stripe customer id to the user, creating the
// subscription record if needed. Linking a different id over an existing
// one fails with ErrAlreadyLinked; re-linking the same id is a no-op.
func (e *Engine) GrantCustomer(ctx context.Context, userID, eventID, stripeCustomerID string) error {
	return e.apply(ctx, "GrantCustomer", userID, eventID, func(sub *domain.Subscription, tx repository.SubscriptionTx) error {
		switch sub.StripeCustomerID {
		case "":
			sub.StripeCustomerID = stripeCustomerID
			return nil
		case stripeCustomerID:
			return errAlreadyApplied
		default:
			return domain.ErrAlreadyLinked
		}
	})
}

// GrantOneTimeCredits adds the purchased credits to the balance and records
// the payment in the same transaction.
func (e *Engine) GrantOneTimeCredits(ctx context.Context, userID, eventID string, grant CreditGrant) error {
	return e.apply(ctx, "GrantOneTimeCredits", userID, eventID, func(sub *domain.Subscription, tx repository.SubscriptionTx) error {
		sub.ReportsLeft += grant.Credits
		if sub.PlanName == "" {
			sub.PlanName = grant.PlanName
		}

		return tx.InsertPayment(&domain.PaymentRecord{
			PaymentID:       uuid.NewString(),
			UserID:          userID,
			PlanName:        grant.PlanName,
			AmountCents:     grant.AmountCents,
			PaymentMethod:   grant.PaymentMethod,
			Status:          domain.PaymentStatusCompleted,
			Kind:            domain.PaymentKindOneTime,
			StripePaymentID: grant.StripePaymentID,
			CreatedAt:       e.now(),
		})
	})
}

// ConfirmPixPayment settles a PIX charge: the plan's credits land on the
// balance and the pending payment record flips to completed in the same
// transaction. A confirmation arriving before the pending record was
// written still grants, recording the payment directly as completed. A
// record that already left pending aborts the grant: the charge settled
// through an earlier delivery.
func (e *Engine) ConfirmPixPayment(ctx context.Context, userID, eventID string, grant CreditGrant) error {
	err := e.apply(ctx, "ConfirmPixPayment", userID, eventID, func(sub *domain.Subscription, tx repository.SubscriptionTx) error {
		sub.ReportsLeft += grant.Credits
		if sub.PlanName == "" {
			sub.PlanName = grant.PlanName
		}

		err := tx.CompletePayment(grant.StripePaymentID)
		if errors.Is(err, domain.ErrNotFound) {
			return tx.InsertPayment(&domain.PaymentRecord{
				PaymentID:       uuid.NewString(),
				UserID:          userID,
				PlanName:        grant.PlanName,
				AmountCents:     grant.AmountCents,
				PaymentMethod:   grant.PaymentMethod,
				Status:          domain.PaymentStatusCompleted,
				Kind:            domain.PaymentKindOneTime,
				StripePaymentID: grant.StripePaymentID,
				CreatedAt:       e.now(),
			})
		}
		return err
	})
	if err == nil {
		e.publish(ctx, kafka.TopicCreditsGranted, userID, grant.PlanName, eventID)
	}
	return err
}

// ActivateSubscription starts a recurring plan. The balance is REPLACED by
// the plan's credits: a new plan assignment resets the counter, it does not
// top it up.
func (e *Engine) ActivateSubscription(ctx context.Context, userID, eventID string, act Activation) error {
	err := e.apply(ctx, "ActivateSubscription", userID, eventID, func(sub *domain.Subscription, tx repository.SubscriptionTx) error {
		start := e.now()
		sub.PlanName = act.PlanName
		sub.ReportsLeft = act.Credits
		sub.PlanCredits = act.Credits
		sub.StartDate = &start
		end := act.EndDate
		sub.EndDate = &end
		sub.AutoRenew = true
		sub.StripeSubscriptionID = act.StripeSubscriptionID

		return tx.InsertPayment(&domain.PaymentRecord{
			PaymentID:       uuid.NewString(),
			UserID:          userID,
			PlanName:        act.PlanName,
			AmountCents:     act.AmountCents,
			PaymentMethod:   "card",
			Status:          domain.PaymentStatusCompleted,
			Kind:            domain.PaymentKindSubscription,
			StripePaymentID: act.StripePaymentID,
			CreatedAt:       start,
		})
	})
	if err == nil {
		e.publish(ctx, kafka.TopicSubscriptionActivated, userID, act.PlanName, eventID)
	}
	return err
}

// RenewSubscription adds the plan's credits and extends the period. A
// renewal for a subscription id we never activated is reported with
// ErrUnknownSubscription, never silently accepted: webhook delivery order
// is not trusted.
func (e *Engine) RenewSubscription(ctx context.Context, userID, eventID string, renewal Renewal) error {
	err := e.apply(ctx, "RenewSubscription", userID, eventID, func(sub *domain.Subscription, tx repository.SubscriptionTx) error {
		if sub.StripeSubscriptionID == "" || sub.StripeSubscriptionID != renewal.StripeSubscriptionID {
			return domain.ErrUnknownSubscription
		}

		sub.ReportsLeft += renewal.Credits
		end := renewal.NewEndDate
		sub.EndDate = &end

		return tx.InsertPayment(&domain.PaymentRecord{
			PaymentID:       uuid.NewString(),
			UserID:          userID,
			PlanName:        renewal.PlanName,
			AmountCents:     renewal.AmountCents,
			PaymentMethod:   "card",
			Status:          domain.PaymentStatusCompleted,
			Kind:            domain.PaymentKindRenewal,
			StripePaymentID: renewal.StripePaymentID,
			CreatedAt:       e.now(),
		})
	})
	if err == nil {
		e.publish(ctx, kafka.TopicSubscriptionRenewed, userID, renewal.PlanName, eventID)
	}
	return err
}

// CancelSubscription stops auto-renewal. Credits already purchased stay
// usable until the period end.
func (e *Engine) CancelSubscription(ctx context.Context, userID, eventID string) error {
	err := e.apply(ctx, "CancelSubscription", userID, eventID, func(sub *domain.Subscription, tx repository.SubscriptionTx) error {
		sub.AutoRenew = false
		return nil
	})
	if err == nil {
		e.publish(ctx, kafka.TopicSubscriptionCancelled, userID, "", eventID)
	}
	return err
}

// RecordPendingPayment appends a payment record without touching the
// balance. Used for PIX charges, whose credits arrive with the later
// confirmation event.
func (e *Engine) RecordPendingPayment(ctx context.Context, userID, eventID string, rec *domain.PaymentRecord) error {
	return e.apply(ctx, "RecordPendingPayment", userID, eventID, func(sub *domain.Subscription, tx repository.SubscriptionTx) error {
		rec.UserID = userID
		if rec.PaymentID == "" {
			rec.PaymentID = uuid.NewString()
		}
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = e.now()
		}
		return tx.InsertPayment(rec)
	})
}

// ConsumeCredit atomically decrements one credit and returns the new
// balance plus a reservation for a possible refund. Two concurrent calls on
// a balance of one yield exactly one success.
func (e *Engine) ConsumeCredit(ctx context.Context, userID string) (int, *domain.Reservation, error) {
	var (
		balance     int
		reservation *domain.Reservation
	)

	err := e.withRetry(ctx, func() error {
		return e.store.WithSubscription(ctx, userID, func(tx repository.SubscriptionTx) error {
			sub, err := tx.Get()
			if err != nil {
				if errors.Is(err, domain.ErrNotFound) {
					return domain.ErrNoSubscription
				}
				return err
			}

			if sub.Expired(e.now()) {
				return domain.ErrPlanExpired
			}
			if sub.ReportsLeft <= 0 {
				return domain.ErrInsufficientCredits
			}

			reservation = &domain.Reservation{
				ID:         uuid.NewString(),
				UserID:     userID,
				StartDate:  sub.StartDate,
				ReservedAt: e.now(),
			}

			sub.ReportsLeft--
			balance = sub.ReportsLeft
			return tx.Put(sub)
		})
	})
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientCredits) {
			e.metrics.IncInsufficientCredits()
		}
		e.metrics.IncLedgerOp("ConsumeCredit", "error")
		return 0, nil, domain.NewLedgerError("ConsumeCredit", userID, "", err)
	}

	e.metrics.IncLedgerOp("ConsumeCredit", "applied")
	e.metrics.IncCreditsConsumed()
	e.metrics.ObserveConsumeBalance(float64(balance))
	e.publish(ctx, kafka.TopicCreditConsumed, userID, "", "")
	return balance, reservation, nil
}

// RefundCredit compensates a consumption whose downstream pipeline failed.
// Each reservation refunds at most once, tracked by its id in the same
// processed-marker set the lifecycle events use, so replays and interleaved
// grants can never over- or under-credit. A refund against a plan replaced
// since the reservation is dropped: the reserved credit belonged to the old
// plan and no longer exists.
func (e *Engine) RefundCredit(ctx context.Context, res *domain.Reservation) error {
	if res == nil {
		return nil
	}

	err := e.withRetry(ctx, func() error {
		return e.store.WithSubscription(ctx, res.UserID, func(tx repository.SubscriptionTx) error {
			applied, err := tx.EventApplied(res.ID)
			if err != nil {
				return err
			}
			if applied {
				return errAlreadyApplied
			}

			sub, err := tx.Get()
			if err != nil {
				if errors.Is(err, domain.ErrNotFound) {
					return domain.ErrNoSubscription
				}
				return err
			}

			if !sameDate(sub.StartDate, res.StartDate) {
				e.log.Infow("Skipping refund, plan was replaced since the reservation",
					"userID", res.UserID)
				return errAlreadyApplied
			}

			sub.ReportsLeft++
			if err := tx.MarkEventApplied(res.ID); err != nil {
				return err
			}
			return tx.Put(sub)
		})
	})
	if err != nil {
		if errors.Is(err, errAlreadyApplied) {
			return nil
		}
		e.metrics.IncLedgerOp("RefundCredit", "error")
		return domain.NewLedgerError("RefundCredit", res.UserID, "", err)
	}

	e.metrics.IncLedgerOp("RefundCredit", "applied")
	e.metrics.IncCreditsRefunded()
	return nil
}

// Subscription returns the user's current subscription snapshot.
func (e *Engine) Subscription(ctx context.Context, userID string) (*domain.Subscription, error) {
	sub, err := e.store.GetSubscription(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrNoSubscription
		}
		return nil, err
	}
	return sub, nil
}

// ResolveUser maps a Stripe customer id to a user id.
func (e *Engine) ResolveUser(ctx context.Context, stripeCustomerID string) (string, error) {
	return e.store.FindUserByCustomer(ctx, stripeCustomerID)
}

// apply is the shared idempotency-and-transaction discipline behind every
// lifecycle operation: check the event id, load or initialize the record,
// mutate, stamp the event id, commit. An empty eventID means the operation
// came from a direct API call rather than a provider event, and skips the
// idempotency set.
func (e *Engine) apply(ctx context.Context, op, userID, eventID string, mutate func(sub *domain.Subscription, tx repository.SubscriptionTx) error) error {
	err := e.withRetry(ctx, func() error {
		return e.store.WithSubscription(ctx, userID, func(tx repository.SubscriptionTx) error {
			if eventID != "" {
				applied, err := tx.EventApplied(eventID)
				if err != nil {
					return err
				}
				if applied {
					return errAlreadyApplied
				}
			}

			sub, err := tx.Get()
			if err != nil {
				if !errors.Is(err, domain.ErrNotFound) {
					return err
				}
				sub = &domain.Subscription{UserID: userID}
			}

			if err := mutate(sub, tx); err != nil {
				// A duplicate Stripe payment id means another event already
				// recorded this payment; replaying it must not grant twice.
				if errors.Is(err, domain.ErrDuplicate) {
					return errAlreadyApplied
				}
				return err
			}

			if eventID != "" {
				sub.LastEventID = eventID
				if err := tx.MarkEventApplied(eventID); err != nil {
					return err
				}
			}
			return tx.Put(sub)
		})
	})

	switch {
	case err == nil:
		e.metrics.IncLedgerOp(op, "applied")
		e.log.Debugw("Ledger operation applied", "op", op, "userID", userID, "eventID", eventID)
		return nil
	case errors.Is(err, errAlreadyApplied):
		e.metrics.IncLedgerOp(op, "duplicate")
		e.log.Infow("Ledger operation already applied, skipping", "op", op, "userID", userID, "eventID", eventID)
		return nil
	default:
		e.metrics.IncLedgerOp(op, "error")
		return domain.NewLedgerError(op, userID, eventID, err)
	}
}

// withRetry retries conflicting transactions a bounded number of times with
// exponential backoff. Every other error is permanent.
func (e *Engine) withRetry(ctx context.Context, fn func() error) error {
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxConflictRetries), ctx)
	return backoff.Retry(func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if errors.Is(err, domain.ErrConcurrentConflict) {
			return err
		}
		return backoff.Permanent(err)
	}, bo)
}

// publish emits a ledger event after a committed mutation. Failures are
// logged, never propagated: Kafka is not part of the commit.
func (e *Engine) publish(ctx context.Context, topic, userID, planName, eventID string) {
	event := &kafka.LedgerEvent{
		UserID:     userID,
		PlanName:   planName,
		EventID:    eventID,
		OccurredAt: e.now(),
	}
	if sub, err := e.store.GetSubscription(context.WithoutCancel(ctx), userID); err == nil {
		event.ReportsLeft = sub.ReportsLeft
	}
	if err := e.producer.PublishLedgerEvent(context.WithoutCancel(ctx), topic, event); err != nil {
		e.log.Warnw("Failed to publish ledger event", "error", err, "topic", topic, "userID", userID)
	}
}

func sameDate(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
