package domain

// CardReference points at a payment method vaulted in Stripe. The card data
// itself never touches this service, only the last four digits for display.
type CardReference struct {
	CardID                string `json:"cardId" db:"card_id"`
	UserID                string `json:"userId" db:"user_id"`
	LastFourDigits        string `json:"lastFourDigits" db:"last_four"`
	Brand                 string `json:"brand" db:"brand"`
	ExpiryDate            string `json:"expiryDate" db:"expiry"`
	IsDefault             bool   `json:"isDefault" db:"is_default"`
	StripePaymentMethodID string `json:"stripePaymentMethodId" db:"stripe_payment_method_id"`
}
