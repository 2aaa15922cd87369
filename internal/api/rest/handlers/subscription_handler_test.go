package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/iapessoastecnologia/CredAnalyzer-backend/internal/domain"
	stripeclient "github.com/iapessoastecnologia/CredAnalyzer-backend/internal/integration/stripe"
	"github.com/iapessoastecnologia/CredAnalyzer-backend/internal/kafka"
	"github.com/iapessoastecnologia/CredAnalyzer-backend/internal/ledger"
	"github.com/iapessoastecnologia/CredAnalyzer-backend/internal/metrics"
	"github.com/iapessoastecnologia/CredAnalyzer-backend/internal/repository"
	"github.com/iapessoastecnologia/CredAnalyzer-backend/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStripe satisfies the Stripe client surface without network calls.
type fakeStripe struct {
	customerID string
	sessionURL string
	pixIntent  string
	err        error
}

func (f *fakeStripe) CreateCustomer(ctx context.Context, userID, email, name string) (string, error) {
	return f.customerID, f.err
}

func (f *fakeStripe) CreateCheckoutSession(ctx context.Context, userID, customerID string, plan domain.Plan) (*stripeclient.CheckoutSession, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &stripeclient.CheckoutSession{SessionID: "cs_1", URL: f.sessionURL}, nil
}

func (f *fakeStripe) CreateSubscriptionSession(ctx context.Context, userID, customerID string, plan domain.Plan) (*stripeclient.CheckoutSession, error) {
	return f.CreateCheckoutSession(ctx, userID, customerID, plan)
}

func (f *fakeStripe) CreatePixPayment(ctx context.Context, userID, customerID string, plan domain.Plan) (string, error) {
	return f.pixIntent, f.err
}

func (f *fakeStripe) CurrentPeriodEnd(ctx context.Context, subID string) (time.Time, error) {
	return time.Now().Add(30 * 24 * time.Hour), nil
}

func (f *fakeStripe) AttachCard(ctx context.Context, customerID, paymentMethodID string, setDefault bool) (*domain.CardReference, error) {
	return &domain.CardReference{
		StripePaymentMethodID: paymentMethodID,
		LastFourDigits:        "4242",
		Brand:                 "visa",
		IsDefault:             setDefault,
	}, f.err
}

func (f *fakeStripe) DetachCard(ctx context.Context, paymentMethodID string) error { return f.err }

func (f *fakeStripe) SetDefaultPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error {
	return f.err
}

// fakeHistory pages a fixed record set.
type fakeHistory struct {
	page *repository.Page
	err  error
}

func (f *fakeHistory) ListByUser(ctx context.Context, userID string, limit, offset int) (*repository.Page, error) {
	return f.page, f.err
}

// fakePipeline returns a canned report or error.
type fakePipeline struct {
	report []byte
	err    error
}

func (f *fakePipeline) GenerateReport(ctx context.Context, userID string, input json.RawMessage) ([]byte, error) {
	return f.report, f.err
}

type handlerFixture struct {
	engine   *ledger.Engine
	stripe   *fakeStripe
	history  *fakeHistory
	pipeline *fakePipeline
	router   *gin.Engine
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := repository.NewMemoryStore()
	engine := ledger.NewEngine(store, kafka.NopProducer{}, metrics.NopLedgerMetrics(), logger.NewNop())
	gate := ledger.NewGate(engine, logger.NewNop())

	f := &handlerFixture{
		engine:   engine,
		stripe:   &fakeStripe{customerID: "cus_A", sessionURL: "https://checkout.stripe.com/s/1", pixIntent: "pi_pix_1"},
		history:  &fakeHistory{page: &repository.Page{Payments: []domain.PaymentRecord{}, Limit: 20}},
		pipeline: &fakePipeline{report: []byte("report-bytes")},
	}

	h := NewSubscriptionHandler(engine, f.history, gate, f.pipeline, f.stripe, domain.DefaultPlanCatalog(), logger.NewNop())

	r := gin.New()
	r.POST("/subscriptions/customer", h.LinkCustomer)
	r.GET("/subscriptions/:userId", h.GetSubscription)
	r.POST("/subscriptions/:userId/consume", h.ConsumeCredit)
	r.GET("/subscriptions/:userId/history", h.History)
	r.POST("/subscriptions/:userId/reports", h.GenerateReport)
	r.POST("/subscriptions/checkout", h.Checkout)
	r.POST("/subscriptions/subscribe", h.Subscribe)
	r.POST("/subscriptions/pix", h.Pix)
	f.router = r
	return f
}

func (f *handlerFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *handlerFixture) activate(t *testing.T, userID string, credits int) {
	t.Helper()
	err := f.engine.ActivateSubscription(context.Background(), userID, "evt_seed", ledger.Activation{
		PlanName:             "Plano Intermediário",
		Credits:              credits,
		EndDate:              time.Now().Add(30 * 24 * time.Hour),
		StripePaymentID:      "pi_seed",
		StripeSubscriptionID: "sub_seed",
	})
	require.NoError(t, err)
}

func TestLinkCustomer(t *testing.T) {
	f := newHandlerFixture(t)

	w := f.do(t, http.MethodPost, "/subscriptions/customer",
		gin.H{"userId": "u1", "email": "u1@example.com", "name": "User One"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"stripeCustomerId":"cus_A"}`, w.Body.String())

	// Linking again returns the stored id without another Stripe call.
	f.stripe.err = errors.New("stripe should not be called")
	w = f.do(t, http.MethodPost, "/subscriptions/customer",
		gin.H{"userId": "u1", "email": "u1@example.com"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"stripeCustomerId":"cus_A"}`, w.Body.String())
}

func TestLinkCustomerValidation(t *testing.T) {
	f := newHandlerFixture(t)

	w := f.do(t, http.MethodPost, "/subscriptions/customer", gin.H{"userId": "u1", "email": "not-an-email"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestGetSubscription(t *testing.T) {
	f := newHandlerFixture(t)

	w := f.do(t, http.MethodGet, "/subscriptions/u1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	f.activate(t, "u1", 40)
	w = f.do(t, http.MethodGet, "/subscriptions/u1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var sub domain.Subscription
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sub))
	assert.Equal(t, 40, sub.ReportsLeft)
	assert.True(t, sub.AutoRenew)
}

func TestConsumeCreditEndpoint(t *testing.T) {
	f := newHandlerFixture(t)
	f.activate(t, "u1", 2)

	w := f.do(t, http.MethodPost, "/subscriptions/u1/consume", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"reportsLeft":1}`, w.Body.String())

	w = f.do(t, http.MethodPost, "/subscriptions/u1/consume", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"reportsLeft":0}`, w.Body.String())

	w = f.do(t, http.MethodPost, "/subscriptions/u1/consume", nil)
	assert.Equal(t, http.StatusPaymentRequired, w.Code)
}

func TestConsumeCreditStatusMapping(t *testing.T) {
	f := newHandlerFixture(t)

	w := f.do(t, http.MethodPost, "/subscriptions/nobody/consume", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	f.activate(t, "u1", 5)
	require.NoError(t, f.engine.RenewSubscription(context.Background(), "u1", "evt_expire", ledger.Renewal{
		Credits:              0,
		NewEndDate:           time.Now().Add(-time.Hour),
		StripeSubscriptionID: "sub_seed",
		StripePaymentID:      "pi_expired",
		PlanName:             "Plano Intermediário",
	}))
	w = f.do(t, http.MethodPost, "/subscriptions/u1/consume", nil)
	assert.Equal(t, http.StatusGone, w.Code)
}

func TestHistoryEndpoint(t *testing.T) {
	f := newHandlerFixture(t)
	f.history.page = &repository.Page{
		Payments: []domain.PaymentRecord{{PaymentID: "p1", UserID: "u1", Kind: domain.PaymentKindOneTime}},
		Total:    1,
		Limit:    20,
	}

	w := f.do(t, http.MethodGet, "/subscriptions/u1/history?limit=20&offset=0", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var page repository.Page
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	assert.Equal(t, 1, page.Total)
	require.Len(t, page.Payments, 1)
	assert.Equal(t, "p1", page.Payments[0].PaymentID)
}

func TestGenerateReportSuccess(t *testing.T) {
	f := newHandlerFixture(t)
	f.activate(t, "u1", 10)

	w := f.do(t, http.MethodPost, "/subscriptions/u1/reports", gin.H{"input": gin.H{"documents": []string{"doc1"}}})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "report-bytes", w.Body.String())

	sub, err := f.engine.Subscription(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 9, sub.ReportsLeft)
}

func TestGenerateReportFailureRefunds(t *testing.T) {
	f := newHandlerFixture(t)
	f.activate(t, "u1", 10)
	f.pipeline.err = errors.New("pipeline down")

	w := f.do(t, http.MethodPost, "/subscriptions/u1/reports", gin.H{"input": gin.H{}})
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	sub, err := f.engine.Subscription(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 10, sub.ReportsLeft, "a failed pipeline run must not cost a credit")
}

func TestGenerateReportWithoutCredits(t *testing.T) {
	f := newHandlerFixture(t)

	w := f.do(t, http.MethodPost, "/subscriptions/u1/reports", gin.H{"input": gin.H{}})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCheckoutEndpoints(t *testing.T) {
	f := newHandlerFixture(t)

	w := f.do(t, http.MethodPost, "/subscriptions/checkout", gin.H{"userId": "u1", "planId": "BASICO"})
	require.Equal(t, http.StatusOK, w.Code)

	var session stripeclient.CheckoutSession
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &session))
	assert.Equal(t, "cs_1", session.SessionID)
	assert.NotEmpty(t, session.URL)

	w = f.do(t, http.MethodPost, "/subscriptions/subscribe", gin.H{"userId": "u1", "planId": "INTERMEDIARIO"})
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodPost, "/subscriptions/checkout", gin.H{"userId": "u1", "planId": "UNKNOWN"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPixEndpoint(t *testing.T) {
	f := newHandlerFixture(t)

	w := f.do(t, http.MethodPost, "/subscriptions/pix", gin.H{"userId": "u1", "planId": "BASICO"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"paymentIntentId":"pi_pix_1"}`, w.Body.String())

	// The pending record exists, but no credits until the webhook confirms.
	sub, err := f.engine.Subscription(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, sub.ReportsLeft)
}
