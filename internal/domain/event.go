package domain

import (
	"time"
)

// LifecycleEvent is the closed set of provider notifications the ledger
// understands. The verifier decodes the raw Stripe envelope into exactly one
// of these variants before anything else looks at it.
type LifecycleEvent interface {
	// EventID is the provider's unique id, used as the idempotency marker.
	EventID() string
	lifecycleEvent()
}

// CustomerCreated links a Stripe customer to a user.
type CustomerCreated struct {
	ID               string
	UserID           string
	StripeCustomerID string
}

// CheckoutCompleted is a finished checkout session, either a one-time
// purchase (Subscription == false) or the start of a recurring plan.
type CheckoutCompleted struct {
	ID                   string
	UserID               string
	PlanID               string
	AmountCents          int64
	StripePaymentID      string
	Subscription         bool
	StripeSubscriptionID string
	PeriodEnd            *time.Time
}

// PaymentIntentSucceeded is a settled payment intent carrying our plan
// metadata, which in practice means a confirmed PIX charge. Card purchases
// settle through their checkout session instead.
type PaymentIntentSucceeded struct {
	ID              string
	UserID          string
	PlanID          string
	StripePaymentID string
	AmountCents     int64
}

// InvoicePaid is a successful renewal charge on a recurring plan. The
// invoice is keyed by customer, not user; the dispatcher resolves it.
type InvoicePaid struct {
	ID                   string
	StripeCustomerID     string
	StripeSubscriptionID string
	StripePaymentID      string
	AmountCents          int64
	PeriodEnd            *time.Time
}

// SubscriptionCanceled stops auto-renewal. Remaining credits stay usable
// until the period end.
type SubscriptionCanceled struct {
	ID                   string
	StripeCustomerID     string
	StripeSubscriptionID string
}

// UnknownEvent is any provider event type outside the handled catalog. It is
// acknowledged and ignored so new provider event types never break the
// endpoint.
type UnknownEvent struct {
	ID   string
	Type string
}

func (e CustomerCreated) EventID() string        { return e.ID }
func (e CheckoutCompleted) EventID() string      { return e.ID }
func (e PaymentIntentSucceeded) EventID() string { return e.ID }
func (e InvoicePaid) EventID() string            { return e.ID }
func (e SubscriptionCanceled) EventID() string   { return e.ID }
func (e UnknownEvent) EventID() string           { return e.ID }

func (CustomerCreated) lifecycleEvent()        {}
func (CheckoutCompleted) lifecycleEvent()      {}
func (PaymentIntentSucceeded) lifecycleEvent() {}
func (InvoicePaid) lifecycleEvent()            {}
func (SubscriptionCanceled) lifecycleEvent()   {}
func (UnknownEvent) lifecycleEvent()           {}
