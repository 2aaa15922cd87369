package stripe

import (
	"context"
	"fmt"
	"strconv"

	"github.com/iapessoastecnologia/CredAnalyzer-backend/internal/domain"

	"github.com/stripe/stripe-go/v78"
)

const currencyBRL = "brl"

// CreateCheckoutSession opens a Stripe-hosted session for a one-time plan
// purchase. The session metadata carries everything the webhook needs to
// credit the right user later.
func (sc *stripeClient) CreateCheckoutSession(ctx context.Context, userID, customerID string, plan domain.Plan) (*CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(currencyBRL),
					UnitAmount: stripe.Int64(plan.PriceCents),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name:        stripe.String(plan.Name),
						Description: stripe.String(plan.Description),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(sc.successURL),
		CancelURL:  stripe.String(sc.cancelURL),
	}
	if customerID != "" {
		params.Customer = stripe.String(customerID)
	}
	params.Context = ctx
	sc.addPlanMetadata(params, userID, plan)

	session, err := sc.client.CheckoutSessions.New(params)
	if err != nil {
		sc.log.Errorw("Failed to create checkout session", "error", err, "userID", userID, "plan", plan.ID)
		return nil, fmt.Errorf("stripe: failed to create checkout session: %w", err)
	}

	sc.log.Infow("Checkout session created", "sessionID", session.ID, "userID", userID, "plan", plan.ID)
	return &CheckoutSession{SessionID: session.ID, URL: session.URL}, nil
}

// CreateSubscriptionSession opens a session for a monthly recurring plan.
func (sc *stripeClient) CreateSubscriptionSession(ctx context.Context, userID, customerID string, plan domain.Plan) (*CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:               stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(currencyBRL),
					UnitAmount: stripe.Int64(plan.PriceCents),
					Recurring: &stripe.CheckoutSessionLineItemPriceDataRecurringParams{
						Interval: stripe.String("month"),
					},
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name:        stripe.String(plan.Name + " Mensal"),
						Description: stripe.String("Assinatura mensal - " + plan.Description),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(sc.successURL),
		CancelURL:  stripe.String(sc.cancelURL),
	}
	if customerID != "" {
		params.Customer = stripe.String(customerID)
	}
	params.Context = ctx
	sc.addPlanMetadata(params, userID, plan)

	session, err := sc.client.CheckoutSessions.New(params)
	if err != nil {
		sc.log.Errorw("Failed to create subscription session", "error", err, "userID", userID, "plan", plan.ID)
		return nil, fmt.Errorf("stripe: failed to create subscription session: %w", err)
	}

	sc.log.Infow("Subscription session created", "sessionID", session.ID, "userID", userID, "plan", plan.ID)
	return &CheckoutSession{SessionID: session.ID, URL: session.URL}, nil
}

// CreatePixPayment starts a PIX payment intent and returns its id. Credits
// are granted only when the confirmation event arrives.
func (sc *stripeClient) CreatePixPayment(ctx context.Context, userID, customerID string, plan domain.Plan) (string, error) {
	params := &stripe.PaymentIntentParams{
		Amount:             stripe.Int64(plan.PriceCents),
		Currency:           stripe.String(currencyBRL),
		PaymentMethodTypes: stripe.StringSlice([]string{"pix"}),
		Metadata: map[string]string{
			metadataUserIDKey: userID,
			"plano_id":        plan.ID,
			"reports":         strconv.Itoa(plan.Credits),
		},
	}
	if customerID != "" {
		params.Customer = stripe.String(customerID)
	}
	params.Context = ctx

	intent, err := sc.client.PaymentIntents.New(params)
	if err != nil {
		sc.log.Errorw("Failed to create PIX payment", "error", err, "userID", userID, "plan", plan.ID)
		return "", fmt.Errorf("stripe: failed to create pix payment: %w", err)
	}

	sc.log.Infow("PIX payment created", "paymentIntentID", intent.ID, "userID", userID, "plan", plan.ID)
	return intent.ID, nil
}

func (sc *stripeClient) addPlanMetadata(params *stripe.CheckoutSessionParams, userID string, plan domain.Plan) {
	params.AddMetadata(metadataUserIDKey, userID)
	params.AddMetadata("plano_id", plan.ID)
	params.AddMetadata("reports", strconv.Itoa(plan.Credits))
}
