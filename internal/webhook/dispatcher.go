package webhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/iapessoastecnologia/CredAnalyzer-backend/internal/domain"
	"github.com/iapessoastecnologia/CredAnalyzer-backend/internal/ledger"
	"github.com/iapessoastecnologia/CredAnalyzer-backend/internal/metrics"
	"github.com/iapessoastecnologia/CredAnalyzer-backend/pkg/logger"
)

// LedgerEngine is the subset of ledger operations the dispatcher drives.
type LedgerEngine interface {
	GrantCustomer(ctx context.Context, userID, eventID, stripeCustomerID string) error
	GrantOneTimeCredits(ctx context.Context, userID, eventID string, grant ledger.CreditGrant) error
	ConfirmPixPayment(ctx context.Context, userID, eventID string, grant ledger.CreditGrant) error
	ActivateSubscription(ctx context.Context, userID, eventID string, act ledger.Activation) error
	RenewSubscription(ctx context.Context, userID, eventID string, renewal ledger.Renewal) error
	CancelSubscription(ctx context.Context, userID, eventID string) error
	Subscription(ctx context.Context, userID string) (*domain.Subscription, error)
	ResolveUser(ctx context.Context, stripeCustomerID string) (string, error)
}

// PeriodResolver fetches the current period end of a Stripe subscription.
// Checkout sessions and some invoices do not carry it.
type PeriodResolver interface {
	CurrentPeriodEnd(ctx context.Context, stripeSubscriptionID string) (time.Time, error)
}

// Dispatcher maps verified lifecycle events onto ledger operations. The
// plan catalog is fixed at construction; prices never change underneath a
// running dispatcher.
type Dispatcher struct {
	engine  LedgerEngine
	periods PeriodResolver
	catalog domain.PlanCatalog
	metrics metrics.LedgerMetrics
	log     *logger.Logger
}

// NewDispatcher creates a Dispatcher over the given ledger engine.
func NewDispatcher(engine LedgerEngine, periods PeriodResolver, catalog domain.PlanCatalog, m metrics.LedgerMetrics, log *logger.Logger) *Dispatcher {
	return &Dispatcher{
		engine:  engine,
		periods: periods,
		catalog: catalog,
		metrics: m,
		log:     log,
	}
}

// Dispatch routes one verified event. A nil return means the event is
// fully committed (or intentionally ignored) and the provider may be
// answered with 200. Any error means the provider should retry.
func (d *Dispatcher) Dispatch(ctx context.Context, event domain.LifecycleEvent) error {
	var err error
	switch ev := event.(type) {
	case domain.CustomerCreated:
		err = d.handleCustomerCreated(ctx, ev)
	case domain.CheckoutCompleted:
		err = d.handleCheckoutCompleted(ctx, ev)
	case domain.PaymentIntentSucceeded:
		err = d.handlePaymentIntentSucceeded(ctx, ev)
	case domain.InvoicePaid:
		err = d.handleInvoicePaid(ctx, ev)
	case domain.SubscriptionCanceled:
		err = d.handleSubscriptionCanceled(ctx, ev)
	case domain.UnknownEvent:
		// The provider's event catalog grows over time; unrecognized types
		// are acknowledged, never rejected.
		d.log.Infow("Ignoring unhandled webhook event type", "eventID", ev.ID, "type", ev.Type)
		d.metrics.IncWebhookEvent(ev.Type, "ignored")
		return nil
	default:
		d.log.Warnw("Dispatcher received unmapped event variant", "eventID", event.EventID())
		return nil
	}

	outcome := "applied"
	if err != nil {
		outcome = "error"
	}
	d.metrics.IncWebhookEvent(eventLabel(event), outcome)
	return err
}

func (d *Dispatcher) handleCustomerCreated(ctx context.Context, ev domain.CustomerCreated) error {
	if ev.UserID == "" {
		// Customers created outside our checkout flow carry no user
		// metadata; nothing to link.
		d.log.Infow("Customer event without user metadata, ignoring", "eventID", ev.ID, "customerID", ev.StripeCustomerID)
		return nil
	}
	err := d.engine.GrantCustomer(ctx, ev.UserID, ev.ID, ev.StripeCustomerID)
	if errors.Is(err, domain.ErrAlreadyLinked) {
		// The link is immutable; retrying this delivery can never succeed,
		// so the provider gets a 200 and the conflict stays in the logs.
		d.log.Warnw("Customer event conflicts with an existing link, acknowledging",
			"eventID", ev.ID, "userID", ev.UserID, "customerID", ev.StripeCustomerID)
		return nil
	}
	return err
}

func (d *Dispatcher) handleCheckoutCompleted(ctx context.Context, ev domain.CheckoutCompleted) error {
	plan, ok := d.catalog[ev.PlanID]
	if !ok {
		return fmt.Errorf("%w: checkout session %s references plan %q", domain.ErrUnknownPlan, ev.ID, ev.PlanID)
	}

	if !ev.Subscription {
		return d.engine.GrantOneTimeCredits(ctx, ev.UserID, ev.ID, ledger.CreditGrant{
			PlanName:        plan.Name,
			Credits:         plan.Credits,
			AmountCents:     ev.AmountCents,
			PaymentMethod:   "card",
			StripePaymentID: ev.StripePaymentID,
		})
	}

	endDate, err := d.periodEnd(ctx, ev.StripeSubscriptionID, ev.PeriodEnd)
	if err != nil {
		return err
	}
	return d.engine.ActivateSubscription(ctx, ev.UserID, ev.ID, ledger.Activation{
		PlanName:             plan.Name,
		Credits:              plan.Credits,
		EndDate:              endDate,
		AmountCents:          ev.AmountCents,
		StripePaymentID:      ev.StripePaymentID,
		StripeSubscriptionID: ev.StripeSubscriptionID,
	})
}

func (d *Dispatcher) handlePaymentIntentSucceeded(ctx context.Context, ev domain.PaymentIntentSucceeded) error {
	plan, ok := d.catalog[ev.PlanID]
	if !ok {
		return fmt.Errorf("%w: payment intent %s references plan %q", domain.ErrUnknownPlan, ev.ID, ev.PlanID)
	}
	return d.engine.ConfirmPixPayment(ctx, ev.UserID, ev.ID, ledger.CreditGrant{
		PlanName:        plan.Name,
		Credits:         plan.Credits,
		AmountCents:     ev.AmountCents,
		PaymentMethod:   "pix",
		StripePaymentID: ev.StripePaymentID,
	})
}

func (d *Dispatcher) handleInvoicePaid(ctx context.Context, ev domain.InvoicePaid) error {
	if ev.StripeSubscriptionID == "" {
		// One-off invoices carry no subscription; the checkout event
		// already granted the credits.
		d.log.Infow("Invoice without subscription, ignoring", "eventID", ev.ID)
		return nil
	}

	userID, err := d.engine.ResolveUser(ctx, ev.StripeCustomerID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("%w: invoice %s for customer %s", domain.ErrUnknownSubscription, ev.ID, ev.StripeCustomerID)
		}
		return err
	}

	sub, err := d.engine.Subscription(ctx, userID)
	if err != nil {
		return err
	}
	plan, ok := d.catalog.ByName(sub.PlanName)
	if !ok {
		return fmt.Errorf("%w: user %s has plan %q", domain.ErrUnknownPlan, userID, sub.PlanName)
	}

	endDate, err := d.periodEnd(ctx, ev.StripeSubscriptionID, ev.PeriodEnd)
	if err != nil {
		return err
	}
	return d.engine.RenewSubscription(ctx, userID, ev.ID, ledger.Renewal{
		Credits:              plan.Credits,
		NewEndDate:           endDate,
		AmountCents:          ev.AmountCents,
		StripePaymentID:      ev.StripePaymentID,
		StripeSubscriptionID: ev.StripeSubscriptionID,
		PlanName:             plan.Name,
	})
}

func (d *Dispatcher) handleSubscriptionCanceled(ctx context.Context, ev domain.SubscriptionCanceled) error {
	userID, err := d.engine.ResolveUser(ctx, ev.StripeCustomerID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			d.log.Warnw("Cancellation for unknown customer, ignoring", "eventID", ev.ID, "customerID", ev.StripeCustomerID)
			return nil
		}
		return err
	}
	return d.engine.CancelSubscription(ctx, userID, ev.ID)
}

// periodEnd prefers the authoritative value from the provider and falls
// back to the one embedded in the event.
func (d *Dispatcher) periodEnd(ctx context.Context, stripeSubscriptionID string, embedded *time.Time) (time.Time, error) {
	if d.periods != nil && stripeSubscriptionID != "" {
		end, err := d.periods.CurrentPeriodEnd(ctx, stripeSubscriptionID)
		if err == nil {
			return end, nil
		}
		d.log.Warnw("Failed to resolve subscription period end from provider",
			"error", err, "subscriptionID", stripeSubscriptionID)
	}
	if embedded != nil {
		return *embedded, nil
	}
	return time.Time{}, fmt.Errorf("no period end available for subscription %s", stripeSubscriptionID)
}

func eventLabel(event domain.LifecycleEvent) string {
	switch event.(type) {
	case domain.CustomerCreated:
		return eventCustomerCreated
	case domain.CheckoutCompleted:
		return eventCheckoutCompleted
	case domain.PaymentIntentSucceeded:
		return eventPaymentIntentSucceeded
	case domain.InvoicePaid:
		return eventInvoicePaid
	case domain.SubscriptionCanceled:
		return eventSubscriptionDeleted
	default:
		return "unknown"
	}
}
