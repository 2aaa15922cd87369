package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/iapessoastecnologia/CredAnalyzer-backend/internal/domain"
	"github.com/iapessoastecnologia/CredAnalyzer-backend/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "whsec_test_secret"

// signPayload produces a Stripe-Signature header valid for payload at ts.
func signPayload(payload []byte, ts time.Time) string {
	mac := hmac.New(sha256.New, []byte(testSecret))
	fmt.Fprintf(mac, "%d.%s", ts.Unix(), payload)
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func newTestVerifier(t *testing.T) *Verifier {
	t.Helper()
	v, err := NewVerifier(testSecret, DefaultTolerance, logger.NewNop())
	require.NoError(t, err)
	return v
}

func TestNewVerifierRequiresSecret(t *testing.T) {
	_, err := NewVerifier("", DefaultTolerance, logger.NewNop())
	assert.Error(t, err)
}

func TestVerifyRejectsBadSignature(t *testing.T) {
	v := newTestVerifier(t)
	payload := []byte(`{"id":"evt_1","type":"customer.created","data":{"object":{}}}`)

	header := fmt.Sprintf("t=%d,v1=%s", time.Now().Unix(), "deadbeef")
	_, err := v.Verify(payload, header)
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)

	_, err = v.Verify(payload, "")
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)
}

func TestVerifyRejectsStaleTimestamp(t *testing.T) {
	v := newTestVerifier(t)
	payload := []byte(`{"id":"evt_1","type":"customer.created","data":{"object":{}}}`)

	header := signPayload(payload, time.Now().Add(-time.Hour))
	_, err := v.Verify(payload, header)
	assert.ErrorIs(t, err, domain.ErrStaleEvent)
}

func TestVerifyRejectsMalformedPayload(t *testing.T) {
	v := newTestVerifier(t)
	payload := []byte(`{this is not json`)

	header := signPayload(payload, time.Now())
	_, err := v.Verify(payload, header)
	assert.ErrorIs(t, err, domain.ErrMalformedPayload)
}

func TestVerifyDecodesCustomerCreated(t *testing.T) {
	v := newTestVerifier(t)
	payload := []byte(`{
		"id": "evt_1",
		"type": "customer.created",
		"data": {"object": {"id": "cus_A", "metadata": {"user_id": "u1"}}}
	}`)

	event, err := v.Verify(payload, signPayload(payload, time.Now()))
	require.NoError(t, err)

	created, ok := event.(domain.CustomerCreated)
	require.True(t, ok)
	assert.Equal(t, "evt_1", created.EventID())
	assert.Equal(t, "u1", created.UserID)
	assert.Equal(t, "cus_A", created.StripeCustomerID)
}

func TestVerifyDecodesOneTimeCheckout(t *testing.T) {
	v := newTestVerifier(t)
	payload := []byte(`{
		"id": "evt_2",
		"type": "checkout.session.completed",
		"data": {"object": {
			"id": "cs_1",
			"mode": "payment",
			"amount_total": 3500,
			"payment_intent": {"id": "pi_1"},
			"metadata": {"user_id": "u1", "plano_id": "BASICO", "reports": "20"}
		}}
	}`)

	event, err := v.Verify(payload, signPayload(payload, time.Now()))
	require.NoError(t, err)

	checkout, ok := event.(domain.CheckoutCompleted)
	require.True(t, ok)
	assert.Equal(t, "u1", checkout.UserID)
	assert.Equal(t, "BASICO", checkout.PlanID)
	assert.Equal(t, int64(3500), checkout.AmountCents)
	assert.Equal(t, "pi_1", checkout.StripePaymentID)
	assert.False(t, checkout.Subscription)
}

func TestVerifyDecodesSubscriptionCheckout(t *testing.T) {
	v := newTestVerifier(t)
	payload := []byte(`{
		"id": "evt_3",
		"type": "checkout.session.completed",
		"data": {"object": {
			"id": "cs_2",
			"mode": "subscription",
			"amount_total": 5500,
			"subscription": {"id": "sub_1"},
			"metadata": {"user_id": "u1", "plano_id": "INTERMEDIARIO", "reports": "40"}
		}}
	}`)

	event, err := v.Verify(payload, signPayload(payload, time.Now()))
	require.NoError(t, err)

	checkout, ok := event.(domain.CheckoutCompleted)
	require.True(t, ok)
	assert.True(t, checkout.Subscription)
	assert.Equal(t, "sub_1", checkout.StripeSubscriptionID)
}

func TestVerifyRejectsCheckoutWithoutUserID(t *testing.T) {
	v := newTestVerifier(t)
	payload := []byte(`{
		"id": "evt_4",
		"type": "checkout.session.completed",
		"data": {"object": {"id": "cs_3", "mode": "payment", "metadata": {}}}
	}`)

	_, err := v.Verify(payload, signPayload(payload, time.Now()))
	assert.ErrorIs(t, err, domain.ErrMalformedPayload)
}

func TestVerifyDecodesPixIntentSucceeded(t *testing.T) {
	v := newTestVerifier(t)
	payload := []byte(`{
		"id": "evt_8",
		"type": "payment_intent.succeeded",
		"data": {"object": {
			"id": "pi_pix_1",
			"amount": 3500,
			"metadata": {"user_id": "u1", "plano_id": "BASICO"}
		}}
	}`)

	event, err := v.Verify(payload, signPayload(payload, time.Now()))
	require.NoError(t, err)

	confirmed, ok := event.(domain.PaymentIntentSucceeded)
	require.True(t, ok)
	assert.Equal(t, "evt_8", confirmed.EventID())
	assert.Equal(t, "u1", confirmed.UserID)
	assert.Equal(t, "BASICO", confirmed.PlanID)
	assert.Equal(t, "pi_pix_1", confirmed.StripePaymentID)
	assert.Equal(t, int64(3500), confirmed.AmountCents)
}

func TestVerifyIgnoresForeignPaymentIntent(t *testing.T) {
	v := newTestVerifier(t)

	// Card checkout intents carry no session metadata; they settle through
	// the checkout event and must not be double-handled here.
	payload := []byte(`{
		"id": "evt_9",
		"type": "payment_intent.succeeded",
		"data": {"object": {"id": "pi_card_1", "amount": 3500, "metadata": {}}}
	}`)

	event, err := v.Verify(payload, signPayload(payload, time.Now()))
	require.NoError(t, err)

	unknown, ok := event.(domain.UnknownEvent)
	require.True(t, ok)
	assert.Equal(t, "payment_intent.succeeded", unknown.Type)
}

func TestVerifyDecodesInvoicePaid(t *testing.T) {
	v := newTestVerifier(t)
	payload := []byte(`{
		"id": "evt_5",
		"type": "invoice.payment_succeeded",
		"data": {"object": {
			"id": "in_1",
			"customer": {"id": "cus_A"},
			"subscription": {"id": "sub_1"},
			"payment_intent": {"id": "pi_2"},
			"amount_paid": 5500,
			"period_end": 1767225600
		}}
	}`)

	event, err := v.Verify(payload, signPayload(payload, time.Now()))
	require.NoError(t, err)

	invoice, ok := event.(domain.InvoicePaid)
	require.True(t, ok)
	assert.Equal(t, "cus_A", invoice.StripeCustomerID)
	assert.Equal(t, "sub_1", invoice.StripeSubscriptionID)
	assert.Equal(t, "pi_2", invoice.StripePaymentID)
	require.NotNil(t, invoice.PeriodEnd)
	assert.Equal(t, int64(1767225600), invoice.PeriodEnd.Unix())
}

func TestVerifyDecodesSubscriptionDeleted(t *testing.T) {
	v := newTestVerifier(t)
	payload := []byte(`{
		"id": "evt_6",
		"type": "customer.subscription.deleted",
		"data": {"object": {"id": "sub_1", "customer": {"id": "cus_A"}}}
	}`)

	event, err := v.Verify(payload, signPayload(payload, time.Now()))
	require.NoError(t, err)

	canceled, ok := event.(domain.SubscriptionCanceled)
	require.True(t, ok)
	assert.Equal(t, "cus_A", canceled.StripeCustomerID)
	assert.Equal(t, "sub_1", canceled.StripeSubscriptionID)
}

func TestVerifyPassesThroughUnknownTypes(t *testing.T) {
	v := newTestVerifier(t)
	payload := []byte(`{
		"id": "evt_7",
		"type": "payment_method.attached",
		"data": {"object": {"id": "pm_1"}}
	}`)

	event, err := v.Verify(payload, signPayload(payload, time.Now()))
	require.NoError(t, err)

	unknown, ok := event.(domain.UnknownEvent)
	require.True(t, ok)
	assert.Equal(t, "payment_method.attached", unknown.Type)
}
