package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/iapessoastecnologia/CredAnalyzer-backend/internal/domain"
	"github.com/iapessoastecnologia/CredAnalyzer-backend/pkg/logger"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"
)

// DefaultTolerance is the replay window for event timestamps.
const DefaultTolerance = 5 * time.Minute

// Event types this service reacts to. Everything else becomes UnknownEvent.
const (
	eventCustomerCreated        = "customer.created"
	eventCheckoutCompleted      = "checkout.session.completed"
	eventPaymentIntentSucceeded = "payment_intent.succeeded"
	eventInvoicePaid            = "invoice.payment_succeeded"
	eventSubscriptionDeleted    = "customer.subscription.deleted"
)

// Verifier authenticates raw Stripe webhook payloads and decodes them into
// the closed set of lifecycle event variants. Nothing downstream ever sees
// an unverified or untyped payload.
type Verifier struct {
	secret    string
	tolerance time.Duration
	log       *logger.Logger
}

// NewVerifier creates a Verifier with the given signing secret. A
// non-positive tolerance falls back to DefaultTolerance.
func NewVerifier(secret string, tolerance time.Duration, log *logger.Logger) (*Verifier, error) {
	if secret == "" {
		return nil, errors.New("webhook signing secret is not configured")
	}
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &Verifier{secret: secret, tolerance: tolerance, log: log}, nil
}

// Verify checks the signature header over the payload and returns the typed
// event. Failure modes map onto the error taxonomy: ErrInvalidSignature,
// ErrStaleEvent, ErrMalformedPayload.
func (v *Verifier) Verify(payload []byte, sigHeader string) (domain.LifecycleEvent, error) {
	// The SDK pins one API version; events from accounts on another version
	// are still authentic, so the mismatch must not fail verification.
	event, err := webhook.ConstructEventWithOptions(payload, sigHeader, v.secret, webhook.ConstructEventOptions{
		Tolerance:                v.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		switch {
		case errors.Is(err, webhook.ErrTooOld):
			return nil, fmt.Errorf("%w: %v", domain.ErrStaleEvent, err)
		case errors.Is(err, webhook.ErrNotSigned),
			errors.Is(err, webhook.ErrInvalidHeader),
			errors.Is(err, webhook.ErrNoValidSignature):
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidSignature, err)
		default:
			return nil, fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
		}
	}

	typed, err := decodeEvent(&event)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
	}
	return typed, nil
}

// decodeEvent unmarshals the event data exactly once into the matching
// variant.
func decodeEvent(event *stripe.Event) (domain.LifecycleEvent, error) {
	switch string(event.Type) {
	case eventCustomerCreated:
		var customer stripe.Customer
		if err := json.Unmarshal(event.Data.Raw, &customer); err != nil {
			return nil, fmt.Errorf("failed to decode customer: %v", err)
		}
		return domain.CustomerCreated{
			ID:               event.ID,
			UserID:           customer.Metadata["user_id"],
			StripeCustomerID: customer.ID,
		}, nil

	case eventCheckoutCompleted:
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return nil, fmt.Errorf("failed to decode checkout session: %v", err)
		}

		userID := session.Metadata["user_id"]
		if userID == "" {
			return nil, errors.New("checkout session metadata is missing user_id")
		}

		ev := domain.CheckoutCompleted{
			ID:          event.ID,
			UserID:      userID,
			PlanID:      session.Metadata["plano_id"],
			AmountCents: session.AmountTotal,
		}
		if session.PaymentIntent != nil {
			ev.StripePaymentID = session.PaymentIntent.ID
		}
		if session.Mode == stripe.CheckoutSessionModeSubscription {
			ev.Subscription = true
			if session.Subscription != nil {
				ev.StripeSubscriptionID = session.Subscription.ID
			}
		}
		return ev, nil

	case eventPaymentIntentSucceeded:
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
			return nil, fmt.Errorf("failed to decode payment intent: %v", err)
		}
		// Card checkouts settle through their session event; only the PIX
		// intents we create carry our metadata.
		userID := intent.Metadata["user_id"]
		if userID == "" {
			return domain.UnknownEvent{ID: event.ID, Type: string(event.Type)}, nil
		}
		return domain.PaymentIntentSucceeded{
			ID:              event.ID,
			UserID:          userID,
			PlanID:          intent.Metadata["plano_id"],
			StripePaymentID: intent.ID,
			AmountCents:     intent.Amount,
		}, nil

	case eventInvoicePaid:
		var invoice stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
			return nil, fmt.Errorf("failed to decode invoice: %v", err)
		}
		if invoice.Customer == nil {
			return nil, errors.New("invoice is missing customer")
		}

		ev := domain.InvoicePaid{
			ID:               event.ID,
			StripeCustomerID: invoice.Customer.ID,
			AmountCents:      invoice.AmountPaid,
		}
		if invoice.Subscription != nil {
			ev.StripeSubscriptionID = invoice.Subscription.ID
		}
		if invoice.PaymentIntent != nil {
			ev.StripePaymentID = invoice.PaymentIntent.ID
		}
		if invoice.PeriodEnd > 0 {
			end := time.Unix(invoice.PeriodEnd, 0)
			ev.PeriodEnd = &end
		}
		return ev, nil

	case eventSubscriptionDeleted:
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, fmt.Errorf("failed to decode subscription: %v", err)
		}
		if sub.Customer == nil {
			return nil, errors.New("subscription is missing customer")
		}
		return domain.SubscriptionCanceled{
			ID:                   event.ID,
			StripeCustomerID:     sub.Customer.ID,
			StripeSubscriptionID: sub.ID,
		}, nil

	default:
		return domain.UnknownEvent{ID: event.ID, Type: string(event.Type)}, nil
	}
}
