package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/iapessoastecnologia/CredAnalyzer-backend/internal/domain"
	stripeclient "github.com/iapessoastecnologia/CredAnalyzer-backend/internal/integration/stripe"
	"github.com/iapessoastecnologia/CredAnalyzer-backend/pkg/logger"
	"github.com/iapessoastecnologia/CredAnalyzer-backend/pkg/req"
	"github.com/iapessoastecnologia/CredAnalyzer-backend/pkg/res"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// CardStore is the card persistence surface used by the handler.
type CardStore interface {
	ListCards(ctx context.Context, userID string) ([]domain.CardReference, error)
	SaveCard(ctx context.Context, card *domain.CardReference) error
	DeleteCard(ctx context.Context, cardID string) error
	SetDefaultCard(ctx context.Context, userID, cardID string) error
}

// CardHandler manages saved payment methods.
type CardHandler struct {
	cards     CardStore
	ledgerSvc LedgerService
	stripe    stripeclient.Client
	log       *logger.Logger
}

// NewCardHandler creates the card handler.
func NewCardHandler(cards CardStore, ledgerSvc LedgerService, stripe stripeclient.Client, log *logger.Logger) *CardHandler {
	return &CardHandler{cards: cards, ledgerSvc: ledgerSvc, stripe: stripe, log: log}
}

// ListCards handles GET /cards/:userId.
func (h *CardHandler) ListCards(c *gin.Context) {
	userID := c.Param("userId")

	cards, err := h.cards.ListCards(c.Request.Context(), userID)
	if err != nil {
		h.log.Errorw("Failed to list cards", "error", err, "userID", userID)
		res.Error(c, http.StatusServiceUnavailable, "cards unavailable")
		return
	}
	res.JSON(c, http.StatusOK, gin.H{"cards": cards})
}

// AddCardRequest attaches a vaulted payment method to the user.
type AddCardRequest struct {
	UserID          string `json:"userId" validate:"required"`
	PaymentMethodID string `json:"paymentMethodId" validate:"required"`
	SetDefault      bool   `json:"setDefault"`
}

// AddCard handles POST /cards.
func (h *CardHandler) AddCard(c *gin.Context) {
	body := req.HandleBody[AddCardRequest](c, h.log)
	if body == nil {
		return
	}
	ctx := c.Request.Context()

	sub, err := h.ledgerSvc.Subscription(ctx, body.UserID)
	if err != nil || sub.StripeCustomerID == "" {
		res.Error(c, http.StatusNotFound, "user has no linked customer")
		return
	}

	card, err := h.stripe.AttachCard(ctx, sub.StripeCustomerID, body.PaymentMethodID, body.SetDefault)
	if err != nil {
		h.log.Errorw("Failed to attach card", "error", err, "userID", body.UserID)
		res.Error(c, http.StatusBadGateway, "failed to attach card")
		return
	}

	card.CardID = uuid.NewString()
	card.UserID = body.UserID
	if err := h.cards.SaveCard(ctx, card); err != nil {
		h.log.Errorw("Failed to save card", "error", err, "userID", body.UserID)
		res.Error(c, http.StatusServiceUnavailable, "failed to save card")
		return
	}

	res.JSON(c, http.StatusCreated, card)
}

// RemoveCard handles DELETE /cards/:userId/:cardId.
func (h *CardHandler) RemoveCard(c *gin.Context) {
	userID := c.Param("userId")
	cardID := c.Param("cardId")
	ctx := c.Request.Context()

	card, err := h.findCard(ctx, userID, cardID)
	if err != nil {
		res.Error(c, http.StatusNotFound, "card not found")
		return
	}

	if err := h.stripe.DetachCard(ctx, card.StripePaymentMethodID); err != nil {
		h.log.Errorw("Failed to detach card", "error", err, "cardID", cardID)
		res.Error(c, http.StatusBadGateway, "failed to detach card")
		return
	}

	if err := h.cards.DeleteCard(ctx, cardID); err != nil && !errors.Is(err, domain.ErrNotFound) {
		h.log.Errorw("Failed to delete card", "error", err, "cardID", cardID)
		res.Error(c, http.StatusServiceUnavailable, "failed to delete card")
		return
	}

	res.NoContent(c)
}

// SetDefaultCardRequest selects the user's default payment method.
type SetDefaultCardRequest struct {
	UserID string `json:"userId" validate:"required"`
	CardID string `json:"cardId" validate:"required"`
}

// SetDefaultCard handles PUT /cards/default.
func (h *CardHandler) SetDefaultCard(c *gin.Context) {
	body := req.HandleBody[SetDefaultCardRequest](c, h.log)
	if body == nil {
		return
	}
	ctx := c.Request.Context()

	card, err := h.findCard(ctx, body.UserID, body.CardID)
	if err != nil {
		res.Error(c, http.StatusNotFound, "card not found")
		return
	}

	sub, err := h.ledgerSvc.Subscription(ctx, body.UserID)
	if err != nil || sub.StripeCustomerID == "" {
		res.Error(c, http.StatusNotFound, "user has no linked customer")
		return
	}

	if err := h.stripe.SetDefaultPaymentMethod(ctx, sub.StripeCustomerID, card.StripePaymentMethodID); err != nil {
		h.log.Errorw("Failed to set default payment method", "error", err, "cardID", body.CardID)
		res.Error(c, http.StatusBadGateway, "failed to update default card")
		return
	}

	if err := h.cards.SetDefaultCard(ctx, body.UserID, body.CardID); err != nil {
		h.log.Errorw("Failed to persist default card", "error", err, "cardID", body.CardID)
		res.Error(c, http.StatusServiceUnavailable, "failed to update default card")
		return
	}

	res.NoContent(c)
}

func (h *CardHandler) findCard(ctx context.Context, userID, cardID string) (*domain.CardReference, error) {
	cards, err := h.cards.ListCards(ctx, userID)
	if err != nil {
		return nil, err
	}
	for i := range cards {
		if cards[i].CardID == cardID {
			return &cards[i], nil
		}
	}
	return nil, domain.ErrNotFound
}
