package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/iapessoastecnologia/CredAnalyzer-backend/internal/domain"
	"github.com/iapessoastecnologia/CredAnalyzer-backend/pkg/logger"
	"github.com/iapessoastecnologia/CredAnalyzer-backend/pkg/res"

	"github.com/gin-gonic/gin"
)

// Stripe keeps webhook payloads under ~64kb; anything bigger is not ours.
const maxWebhookBodySize = int64(65536)

// EventVerifier authenticates a raw webhook payload.
type EventVerifier interface {
	Verify(payload []byte, sigHeader string) (domain.LifecycleEvent, error)
}

// EventDispatcher routes a verified event to the ledger.
type EventDispatcher interface {
	Dispatch(ctx context.Context, event domain.LifecycleEvent) error
}

// WebhookHandler receives Stripe webhooks. A 200 response is a commit
// guarantee: all ledger work finishes before we answer.
type WebhookHandler struct {
	verifier   EventVerifier
	dispatcher EventDispatcher
	log        *logger.Logger
}

// NewWebhookHandler creates the webhook handler.
func NewWebhookHandler(verifier EventVerifier, dispatcher EventDispatcher, log *logger.Logger) *WebhookHandler {
	return &WebhookHandler{verifier: verifier, dispatcher: dispatcher, log: log}
}

// HandleStripeWebhook verifies, dispatches and acknowledges one event.
func (h *WebhookHandler) HandleStripeWebhook(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBodySize)
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		h.log.Warnw("Failed to read webhook body", "error", err)
		res.Error(c, http.StatusBadRequest, "cannot read request body")
		return
	}

	sigHeader := c.GetHeader("Stripe-Signature")
	event, err := h.verifier.Verify(payload, sigHeader)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidSignature):
			h.log.Warnw("Webhook signature verification failed", "error", err)
			res.Error(c, http.StatusUnauthorized, "invalid signature")
		case errors.Is(err, domain.ErrStaleEvent):
			h.log.Warnw("Stale webhook event rejected", "error", err)
			res.Error(c, http.StatusBadRequest, "event timestamp outside tolerance")
		default:
			h.log.Warnw("Malformed webhook payload", "error", err)
			res.Error(c, http.StatusBadRequest, "malformed payload")
		}
		return
	}

	h.log.Infow("Received verified Stripe event", "eventID", event.EventID())

	if err := h.dispatcher.Dispatch(c.Request.Context(), event); err != nil {
		// Non-2xx makes Stripe redeliver; idempotency makes the retry safe.
		h.log.Errorw("Failed to process webhook event", "error", err, "eventID", event.EventID())
		res.Error(c, http.StatusInternalServerError, "failed to process event")
		return
	}

	res.JSON(c, http.StatusOK, gin.H{"received": true})
}
