package stripe

import (
	"context"
	"fmt"

	"github.com/iapessoastecnologia/CredAnalyzer-backend/internal/domain"

	"github.com/stripe/stripe-go/v78"
)

// AttachCard vaults a payment method on the customer and returns the card
// reference to persist. Only the display fields leave Stripe.
func (sc *stripeClient) AttachCard(ctx context.Context, customerID, paymentMethodID string, setDefault bool) (*domain.CardReference, error) {
	attachParams := &stripe.PaymentMethodAttachParams{
		Customer: stripe.String(customerID),
	}
	attachParams.Context = ctx

	pm, err := sc.client.PaymentMethods.Attach(paymentMethodID, attachParams)
	if err != nil {
		sc.log.Errorw("Failed to attach payment method", "error", err, "customerID", customerID)
		return nil, fmt.Errorf("stripe: failed to attach payment method: %w", err)
	}

	if setDefault {
		if err := sc.SetDefaultPaymentMethod(ctx, customerID, paymentMethodID); err != nil {
			return nil, err
		}
	}

	card := &domain.CardReference{
		StripePaymentMethodID: pm.ID,
		IsDefault:             setDefault,
	}
	if pm.Card != nil {
		card.LastFourDigits = pm.Card.Last4
		card.Brand = string(pm.Card.Brand)
		card.ExpiryDate = fmt.Sprintf("%d/%d", pm.Card.ExpMonth, pm.Card.ExpYear)
	}
	return card, nil
}

// DetachCard removes the payment method from its customer.
func (sc *stripeClient) DetachCard(ctx context.Context, paymentMethodID string) error {
	params := &stripe.PaymentMethodDetachParams{}
	params.Context = ctx

	if _, err := sc.client.PaymentMethods.Detach(paymentMethodID, params); err != nil {
		sc.log.Errorw("Failed to detach payment method", "error", err, "paymentMethodID", paymentMethodID)
		return fmt.Errorf("stripe: failed to detach payment method: %w", err)
	}
	return nil
}

// SetDefaultPaymentMethod marks the payment method as the customer's
// default for invoices.
func (sc *stripeClient) SetDefaultPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error {
	params := &stripe.CustomerParams{
		InvoiceSettings: &stripe.CustomerInvoiceSettingsParams{
			DefaultPaymentMethod: stripe.String(paymentMethodID),
		},
	}
	params.Context = ctx

	if _, err := sc.client.Customers.Update(customerID, params); err != nil {
		sc.log.Errorw("Failed to set default payment method", "error", err, "customerID", customerID)
		return fmt.Errorf("stripe: failed to set default payment method: %w", err)
	}
	return nil
}
