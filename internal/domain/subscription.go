package domain

import (
	"time"
)

// Subscription is the per-user credit ledger record. One row per user,
// created on the first successful checkout and mutated by every lifecycle
// event or consumption afterwards. It is never deleted, only superseded by
// a new plan assignment.
type Subscription struct {
	UserID               string     `json:"userId" db:"user_id"`
	PlanName             string     `json:"planName" db:"plan_name"`
	ReportsLeft          int        `json:"reportsLeft" db:"reports_left"`
	PlanCredits          int        `json:"planCredits" db:"plan_credits"`
	StartDate            *time.Time `json:"startDate,omitempty" db:"start_date"`
	EndDate              *time.Time `json:"endDate,omitempty" db:"end_date"`
	AutoRenew            bool       `json:"autoRenew" db:"auto_renew"`
	StripeCustomerID     string     `json:"stripeCustomerId,omitempty" db:"stripe_customer_id"`
	StripeSubscriptionID string     `json:"stripeSubscriptionId,omitempty" db:"stripe_subscription_id"`
	LastEventID          string     `json:"-" db:"last_event_id"`
	UpdatedAt            time.Time  `json:"updatedAt" db:"updated_at"`
}

// Expired reports whether the plan period has ended. A subscription with no
// end date (one-time purchases only) never expires.
func (s *Subscription) Expired(now time.Time) bool {
	return s.EndDate != nil && now.After(*s.EndDate)
}

// Reservation is the token handed out by a successful credit consumption.
// The ID identifies this one consumption, so a refund applies exactly once
// no matter how often it is replayed; StartDate detects whether the plan
// the credit came from was replaced in the meantime.
type Reservation struct {
	ID         string     `json:"id"`
	UserID     string     `json:"userId"`
	StartDate  *time.Time `json:"startDate,omitempty"`
	ReservedAt time.Time  `json:"reservedAt"`
}
