package domain

import (
	"time"
)

// PaymentKind classifies how a payment record was produced.
type PaymentKind string

const (
	PaymentKindOneTime      PaymentKind = "one_time"
	PaymentKindSubscription PaymentKind = "subscription"
	PaymentKindRenewal      PaymentKind = "renewal"
	PaymentKindPix          PaymentKind = "pix"
)

// PaymentStatus is the settlement state of a payment record.
type PaymentStatus string

const (
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusPending   PaymentStatus = "pending"
)

// PaymentRecord is one completed payment or renewal. Append-only: created
// exactly once per distinct Stripe payment id and immutable afterwards.
type PaymentRecord struct {
	PaymentID       string        `json:"paymentId" db:"payment_id"`
	UserID          string        `json:"userId" db:"user_id"`
	PlanName        string        `json:"planName" db:"plan_name"`
	AmountCents     int64         `json:"amountCents" db:"amount_cents"`
	PaymentMethod   string        `json:"paymentMethod" db:"payment_method"`
	Status          PaymentStatus `json:"status" db:"status"`
	Kind            PaymentKind   `json:"kind" db:"kind"`
	StripePaymentID string        `json:"stripePaymentId" db:"stripe_payment_id"`
	CreatedAt       time.Time     `json:"timestamp" db:"created_at"`
}
