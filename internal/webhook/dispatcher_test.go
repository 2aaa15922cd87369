package webhook

import (
	"context"
	"testing"
	"time"

	"github.com/iapessoastecnologia/CredAnalyzer-backend/internal/domain"
	"github.com/iapessoastecnologia/CredAnalyzer-backend/internal/kafka"
	"github.com/iapessoastecnologia/CredAnalyzer-backend/internal/ledger"
	"github.com/iapessoastecnologia/CredAnalyzer-backend/internal/metrics"
	"github.com/iapessoastecnologia/CredAnalyzer-backend/internal/repository"
	"github.com/iapessoastecnologia/CredAnalyzer-backend/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubPeriods returns a fixed period end for every subscription.
type stubPeriods struct {
	end time.Time
	err error
}

func (s stubPeriods) CurrentPeriodEnd(ctx context.Context, subID string) (time.Time, error) {
	return s.end, s.err
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *ledger.Engine, *repository.MemoryStore) {
	t.Helper()
	store := repository.NewMemoryStore()
	engine := ledger.NewEngine(store, kafka.NopProducer{}, metrics.NopLedgerMetrics(), logger.NewNop())
	periods := stubPeriods{end: time.Now().Add(30 * 24 * time.Hour)}
	d := NewDispatcher(engine, periods, domain.DefaultPlanCatalog(), metrics.NopLedgerMetrics(), logger.NewNop())
	return d, engine, store
}

func TestDispatchUnknownEventIsAcknowledged(t *testing.T) {
	d, _, _ := newTestDispatcher(t)

	err := d.Dispatch(context.Background(), domain.UnknownEvent{ID: "evt_1", Type: "charge.refunded"})
	assert.NoError(t, err)
}

func TestDispatchCustomerCreated(t *testing.T) {
	d, engine, _ := newTestDispatcher(t)
	ctx := context.Background()

	err := d.Dispatch(ctx, domain.CustomerCreated{ID: "evt_1", UserID: "u1", StripeCustomerID: "cus_A"})
	require.NoError(t, err)

	sub, err := engine.Subscription(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "cus_A", sub.StripeCustomerID)

	// No user metadata means the customer was created outside our flow.
	err = d.Dispatch(ctx, domain.CustomerCreated{ID: "evt_2", UserID: "", StripeCustomerID: "cus_B"})
	assert.NoError(t, err)
}

func TestDispatchConflictingCustomerIsAcknowledged(t *testing.T) {
	d, engine, _ := newTestDispatcher(t)
	ctx := context.Background()

	require.NoError(t, d.Dispatch(ctx, domain.CustomerCreated{ID: "evt_1", UserID: "u1", StripeCustomerID: "cus_A"}))

	// A second customer id for the same user can never be linked; retrying
	// the delivery is pointless, so the provider gets a 200.
	err := d.Dispatch(ctx, domain.CustomerCreated{ID: "evt_2", UserID: "u1", StripeCustomerID: "cus_B"})
	assert.NoError(t, err)

	sub, err := engine.Subscription(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "cus_A", sub.StripeCustomerID, "the original link stays in place")
}

func TestDispatchOneTimeCheckout(t *testing.T) {
	d, engine, _ := newTestDispatcher(t)
	ctx := context.Background()

	err := d.Dispatch(ctx, domain.CheckoutCompleted{
		ID:              "evt_1",
		UserID:          "u1",
		PlanID:          "BASICO",
		AmountCents:     3500,
		StripePaymentID: "pi_1",
	})
	require.NoError(t, err)

	sub, err := engine.Subscription(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 20, sub.ReportsLeft, "credits come from the catalog, not the event")
	assert.False(t, sub.AutoRenew)
}

func TestDispatchSubscriptionCheckout(t *testing.T) {
	d, engine, _ := newTestDispatcher(t)
	ctx := context.Background()

	err := d.Dispatch(ctx, domain.CheckoutCompleted{
		ID:                   "evt_1",
		UserID:               "u1",
		PlanID:               "INTERMEDIARIO",
		AmountCents:          5500,
		StripePaymentID:      "pi_1",
		Subscription:         true,
		StripeSubscriptionID: "sub_1",
	})
	require.NoError(t, err)

	sub, err := engine.Subscription(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 40, sub.ReportsLeft)
	assert.True(t, sub.AutoRenew)
	assert.Equal(t, "sub_1", sub.StripeSubscriptionID)
	require.NotNil(t, sub.EndDate)
}

func TestDispatchCheckoutWithUnknownPlan(t *testing.T) {
	d, _, _ := newTestDispatcher(t)

	err := d.Dispatch(context.Background(), domain.CheckoutCompleted{
		ID:     "evt_1",
		UserID: "u1",
		PlanID: "PLATINUM",
	})
	assert.ErrorIs(t, err, domain.ErrUnknownPlan)
}

func TestDispatchPixConfirmationGrantsCredits(t *testing.T) {
	d, engine, store := newTestDispatcher(t)
	ctx := context.Background()

	// The PIX charge was created through the API and sits pending until the
	// provider confirms it.
	require.NoError(t, engine.RecordPendingPayment(ctx, "u1", "", &domain.PaymentRecord{
		PlanName:        "Plano Básico",
		AmountCents:     3500,
		PaymentMethod:   "pix",
		Status:          domain.PaymentStatusPending,
		Kind:            domain.PaymentKindPix,
		StripePaymentID: "pi_pix_1",
	}))

	ev := domain.PaymentIntentSucceeded{
		ID:              "evt_1",
		UserID:          "u1",
		PlanID:          "BASICO",
		StripePaymentID: "pi_pix_1",
		AmountCents:     3500,
	}
	require.NoError(t, d.Dispatch(ctx, ev))

	sub, err := engine.Subscription(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 20, sub.ReportsLeft)

	payments, err := store.ListPayments(ctx, "u1", 10, 0)
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.Equal(t, domain.PaymentStatusCompleted, payments[0].Status)

	// Redelivery changes nothing.
	require.NoError(t, d.Dispatch(ctx, ev))
	sub, err = engine.Subscription(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 20, sub.ReportsLeft)
}

func TestDispatchPixConfirmationWithUnknownPlan(t *testing.T) {
	d, _, _ := newTestDispatcher(t)

	err := d.Dispatch(context.Background(), domain.PaymentIntentSucceeded{
		ID:     "evt_1",
		UserID: "u1",
		PlanID: "PLATINUM",
	})
	assert.ErrorIs(t, err, domain.ErrUnknownPlan)
}

func TestDispatchInvoiceRenewsSubscription(t *testing.T) {
	d, engine, _ := newTestDispatcher(t)
	ctx := context.Background()

	require.NoError(t, d.Dispatch(ctx, domain.CustomerCreated{ID: "evt_0", UserID: "u1", StripeCustomerID: "cus_A"}))
	require.NoError(t, d.Dispatch(ctx, domain.CheckoutCompleted{
		ID:                   "evt_1",
		UserID:               "u1",
		PlanID:               "INTERMEDIARIO",
		Subscription:         true,
		StripeSubscriptionID: "sub_1",
		StripePaymentID:      "pi_1",
	}))

	err := d.Dispatch(ctx, domain.InvoicePaid{
		ID:                   "evt_2",
		StripeCustomerID:     "cus_A",
		StripeSubscriptionID: "sub_1",
		StripePaymentID:      "pi_2",
		AmountCents:          5500,
	})
	require.NoError(t, err)

	sub, err := engine.Subscription(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 80, sub.ReportsLeft)
}

func TestDispatchInvoiceForUnknownCustomerFails(t *testing.T) {
	d, _, _ := newTestDispatcher(t)

	err := d.Dispatch(context.Background(), domain.InvoicePaid{
		ID:                   "evt_1",
		StripeCustomerID:     "cus_stranger",
		StripeSubscriptionID: "sub_1",
	})
	assert.ErrorIs(t, err, domain.ErrUnknownSubscription)
}

func TestDispatchInvoiceWithoutSubscriptionIsIgnored(t *testing.T) {
	d, _, _ := newTestDispatcher(t)

	err := d.Dispatch(context.Background(), domain.InvoicePaid{
		ID:               "evt_1",
		StripeCustomerID: "cus_A",
	})
	assert.NoError(t, err)
}

func TestDispatchCancellation(t *testing.T) {
	d, engine, _ := newTestDispatcher(t)
	ctx := context.Background()

	require.NoError(t, d.Dispatch(ctx, domain.CustomerCreated{ID: "evt_0", UserID: "u1", StripeCustomerID: "cus_A"}))
	require.NoError(t, d.Dispatch(ctx, domain.CheckoutCompleted{
		ID:                   "evt_1",
		UserID:               "u1",
		PlanID:               "AVANCADO",
		Subscription:         true,
		StripeSubscriptionID: "sub_1",
		StripePaymentID:      "pi_1",
	}))

	require.NoError(t, d.Dispatch(ctx, domain.SubscriptionCanceled{
		ID:                   "evt_2",
		StripeCustomerID:     "cus_A",
		StripeSubscriptionID: "sub_1",
	}))

	sub, err := engine.Subscription(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, sub.AutoRenew)
	assert.Equal(t, 70, sub.ReportsLeft)

	// Cancellations for customers we never saw are acknowledged, not retried.
	assert.NoError(t, d.Dispatch(ctx, domain.SubscriptionCanceled{
		ID:               "evt_3",
		StripeCustomerID: "cus_stranger",
	}))
}

func TestDispatchRedeliveredEventIsIdempotent(t *testing.T) {
	d, engine, _ := newTestDispatcher(t)
	ctx := context.Background()

	ev := domain.CheckoutCompleted{
		ID:              "evt_1",
		UserID:          "u1",
		PlanID:          "BASICO",
		StripePaymentID: "pi_1",
	}
	for i := 0; i < 3; i++ {
		require.NoError(t, d.Dispatch(ctx, ev))
	}

	sub, err := engine.Subscription(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 20, sub.ReportsLeft)
}
