package stripe

import (
	"context"
	"fmt"
	"time"

	"github.com/iapessoastecnologia/CredAnalyzer-backend/internal/domain"
	"github.com/iapessoastecnologia/CredAnalyzer-backend/pkg/logger"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
)

const metadataUserIDKey = "user_id"

// CheckoutSession is what the frontend needs to redirect the user to
// Stripe-hosted checkout.
type CheckoutSession struct {
	SessionID string `json:"sessionId"`
	URL       string `json:"url"`
}

// Client is the surface of the Stripe API this service touches. Card data
// and checkout UI stay entirely on Stripe's side.
type Client interface {
	// CreateCustomer creates a Stripe customer tagged with the user id.
	CreateCustomer(ctx context.Context, userID, email, name string) (string, error)
	// CreateCheckoutSession opens a one-time payment session for the plan.
	CreateCheckoutSession(ctx context.Context, userID, customerID string, plan domain.Plan) (*CheckoutSession, error)
	// CreateSubscriptionSession opens a recurring monthly session for the plan.
	CreateSubscriptionSession(ctx context.Context, userID, customerID string, plan domain.Plan) (*CheckoutSession, error)
	// CreatePixPayment starts a PIX payment intent for the plan.
	CreatePixPayment(ctx context.Context, userID, customerID string, plan domain.Plan) (string, error)
	// CurrentPeriodEnd returns the subscription's current period end.
	CurrentPeriodEnd(ctx context.Context, stripeSubscriptionID string) (time.Time, error)

	AttachCard(ctx context.Context, customerID, paymentMethodID string, setDefault bool) (*domain.CardReference, error)
	DetachCard(ctx context.Context, paymentMethodID string) error
	SetDefaultPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error
}

type stripeClient struct {
	client     *client.API
	successURL string
	cancelURL  string
	log        *logger.Logger
}

// NewClient creates a Stripe API client.
func NewClient(apiKey, successURL, cancelURL string, log *logger.Logger) Client {
	sc := &client.API{}
	sc.Init(apiKey, nil)
	return &stripeClient{
		client:     sc,
		successURL: successURL,
		cancelURL:  cancelURL,
		log:        log,
	}
}

func (sc *stripeClient) CreateCustomer(ctx context.Context, userID, email, name string) (string, error) {
	params := &stripe.CustomerParams{
		Email: stripe.String(email),
		Name:  stripe.String(name),
		Metadata: map[string]string{
			metadataUserIDKey: userID,
		},
	}
	params.Context = ctx

	cus, err := sc.client.Customers.New(params)
	if err != nil {
		sc.log.Errorw("Failed to create Stripe customer", "error", err, "userID", userID)
		return "", fmt.Errorf("stripe: failed to create customer: %w", err)
	}

	sc.log.Infow("Stripe customer created", "stripeCustomerID", cus.ID, "userID", userID)
	return cus.ID, nil
}

func (sc *stripeClient) CurrentPeriodEnd(ctx context.Context, stripeSubscriptionID string) (time.Time, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx

	sub, err := sc.client.Subscriptions.Get(stripeSubscriptionID, params)
	if err != nil {
		return time.Time{}, fmt.Errorf("stripe: failed to retrieve subscription %s: %w", stripeSubscriptionID, err)
	}
	return time.Unix(sub.CurrentPeriodEnd, 0), nil
}
