package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/iapessoastecnologia/CredAnalyzer-backend/internal/domain"
	"github.com/iapessoastecnologia/CredAnalyzer-backend/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

type stubVerifier struct {
	event domain.LifecycleEvent
	err   error
}

func (s *stubVerifier) Verify(payload []byte, sigHeader string) (domain.LifecycleEvent, error) {
	return s.event, s.err
}

type stubDispatcher struct {
	err        error
	dispatched []domain.LifecycleEvent
}

func (s *stubDispatcher) Dispatch(ctx context.Context, event domain.LifecycleEvent) error {
	s.dispatched = append(s.dispatched, event)
	return s.err
}

func postWebhook(verifier *stubVerifier, dispatcher *stubDispatcher) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	h := NewWebhookHandler(verifier, dispatcher, logger.NewNop())
	r := gin.New()
	r.POST("/webhook", h.HandleStripeWebhook)

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(`{"id":"evt_1"}`))
	req.Header.Set("Stripe-Signature", "t=1,v1=sig")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestWebhookAcknowledgesProcessedEvent(t *testing.T) {
	dispatcher := &stubDispatcher{}
	w := postWebhook(&stubVerifier{event: domain.CustomerCreated{ID: "evt_1"}}, dispatcher)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"received":true}`, w.Body.String())
	assert.Len(t, dispatcher.dispatched, 1)
}

func TestWebhookRejectsInvalidSignature(t *testing.T) {
	dispatcher := &stubDispatcher{}
	w := postWebhook(&stubVerifier{err: domain.ErrInvalidSignature}, dispatcher)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, dispatcher.dispatched, "unverified events must never reach the ledger")
}

func TestWebhookRejectsStaleEvent(t *testing.T) {
	w := postWebhook(&stubVerifier{err: domain.ErrStaleEvent}, &stubDispatcher{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWebhookRejectsMalformedPayload(t *testing.T) {
	w := postWebhook(&stubVerifier{err: domain.ErrMalformedPayload}, &stubDispatcher{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWebhookSignalsRetryOnDispatchFailure(t *testing.T) {
	dispatcher := &stubDispatcher{err: errors.New("store down")}
	w := postWebhook(&stubVerifier{event: domain.CustomerCreated{ID: "evt_1"}}, dispatcher)

	// Non-2xx makes the provider redeliver later.
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
