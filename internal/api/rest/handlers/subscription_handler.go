package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/iapessoastecnologia/CredAnalyzer-backend/internal/domain"
	stripeclient "github.com/iapessoastecnologia/CredAnalyzer-backend/internal/integration/stripe"
	"github.com/iapessoastecnologia/CredAnalyzer-backend/internal/ledger"
	"github.com/iapessoastecnologia/CredAnalyzer-backend/internal/repository"
	"github.com/iapessoastecnologia/CredAnalyzer-backend/pkg/logger"
	"github.com/iapessoastecnologia/CredAnalyzer-backend/pkg/req"
	"github.com/iapessoastecnologia/CredAnalyzer-backend/pkg/res"

	"github.com/gin-gonic/gin"
)

// LedgerService is the slice of the ledger engine the subscription handler
// needs.
type LedgerService interface {
	GrantCustomer(ctx context.Context, userID, eventID, stripeCustomerID string) error
	Subscription(ctx context.Context, userID string) (*domain.Subscription, error)
	ConsumeCredit(ctx context.Context, userID string) (int, *domain.Reservation, error)
	RecordPendingPayment(ctx context.Context, userID, eventID string, rec *domain.PaymentRecord) error
}

// HistoryLister pages through a user's payment records.
type HistoryLister interface {
	ListByUser(ctx context.Context, userID string, limit, offset int) (*repository.Page, error)
}

// ReportGate runs the report pipeline behind the credit gate.
type ReportGate interface {
	Run(ctx context.Context, userID string, p ledger.Pipeline) ([]byte, error)
}

// ReportPipeline produces a report artifact for the given input documents.
type ReportPipeline interface {
	GenerateReport(ctx context.Context, userID string, input json.RawMessage) ([]byte, error)
}

// SubscriptionHandler serves the subscription, consumption and checkout
// endpoints.
type SubscriptionHandler struct {
	ledgerSvc LedgerService
	history   HistoryLister
	gate      ReportGate
	pipeline  ReportPipeline
	stripe    stripeclient.Client
	catalog   domain.PlanCatalog
	log       *logger.Logger
}

// NewSubscriptionHandler creates the handler.
func NewSubscriptionHandler(
	ledgerSvc LedgerService,
	history HistoryLister,
	gate ReportGate,
	reportPipeline ReportPipeline,
	stripe stripeclient.Client,
	catalog domain.PlanCatalog,
	log *logger.Logger,
) *SubscriptionHandler {
	return &SubscriptionHandler{
		ledgerSvc: ledgerSvc,
		history:   history,
		gate:      gate,
		pipeline:  reportPipeline,
		stripe:    stripe,
		catalog:   catalog,
		log:       log,
	}
}

// LinkCustomerRequest creates or links a Stripe customer for the user.
type LinkCustomerRequest struct {
	UserID string `json:"userId" validate:"required"`
	Email  string `json:"email" validate:"required,email"`
	Name   string `json:"name"`
}

// LinkCustomer handles POST /subscriptions/customer.
func (h *SubscriptionHandler) LinkCustomer(c *gin.Context) {
	body := req.HandleBody[LinkCustomerRequest](c, h.log)
	if body == nil {
		return
	}
	ctx := c.Request.Context()

	// Re-linking an already linked user returns the existing id; only a
	// conflicting id is an error.
	if sub, err := h.ledgerSvc.Subscription(ctx, body.UserID); err == nil && sub.StripeCustomerID != "" {
		res.JSON(c, http.StatusOK, gin.H{"stripeCustomerId": sub.StripeCustomerID})
		return
	}

	customerID, err := h.stripe.CreateCustomer(ctx, body.UserID, body.Email, body.Name)
	if err != nil {
		h.log.Errorw("Failed to create Stripe customer", "error", err, "userID", body.UserID)
		res.Error(c, http.StatusBadGateway, "failed to create customer")
		return
	}

	if err := h.ledgerSvc.GrantCustomer(ctx, body.UserID, "", customerID); err != nil {
		if errors.Is(err, domain.ErrAlreadyLinked) {
			res.Error(c, http.StatusConflict, "user already linked to a different customer")
			return
		}
		h.writeLedgerError(c, err, body.UserID)
		return
	}

	res.JSON(c, http.StatusOK, gin.H{"stripeCustomerId": customerID})
}

// GetSubscription handles GET /subscriptions/:userId.
func (h *SubscriptionHandler) GetSubscription(c *gin.Context) {
	userID := c.Param("userId")

	sub, err := h.ledgerSvc.Subscription(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, domain.ErrNoSubscription) {
			res.Error(c, http.StatusNotFound, "subscription not found")
			return
		}
		h.writeLedgerError(c, err, userID)
		return
	}
	res.JSON(c, http.StatusOK, sub)
}

// ConsumeCredit handles POST /subscriptions/:userId/consume.
func (h *SubscriptionHandler) ConsumeCredit(c *gin.Context) {
	userID := c.Param("userId")

	balance, _, err := h.ledgerSvc.ConsumeCredit(c.Request.Context(), userID)
	if err != nil {
		h.writeConsumeError(c, err, userID)
		return
	}
	res.JSON(c, http.StatusOK, gin.H{"reportsLeft": balance})
}

// History handles GET /subscriptions/:userId/history.
func (h *SubscriptionHandler) History(c *gin.Context) {
	userID := c.Param("userId")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	page, err := h.history.ListByUser(c.Request.Context(), userID, limit, offset)
	if err != nil {
		h.log.Errorw("Failed to load payment history", "error", err, "userID", userID)
		res.Error(c, http.StatusServiceUnavailable, "history unavailable")
		return
	}
	res.JSON(c, http.StatusOK, page)
}

// GenerateReportRequest carries the pipeline input documents.
type GenerateReportRequest struct {
	Input json.RawMessage `json:"input" validate:"required"`
}

// GenerateReport handles POST /subscriptions/:userId/reports: one credit is
// reserved, the pipeline runs, and a pipeline failure refunds the credit.
func (h *SubscriptionHandler) GenerateReport(c *gin.Context) {
	userID := c.Param("userId")
	body := req.HandleBody[GenerateReportRequest](c, h.log)
	if body == nil {
		return
	}

	report, err := h.gate.Run(c.Request.Context(), userID, func(ctx context.Context) ([]byte, error) {
		return h.pipeline.GenerateReport(ctx, userID, body.Input)
	})
	if err != nil {
		h.writeConsumeError(c, err, userID)
		return
	}

	c.Data(http.StatusOK, "application/octet-stream", report)
}

// CheckoutRequest starts a payment flow for a plan.
type CheckoutRequest struct {
	UserID string `json:"userId" validate:"required"`
	PlanID string `json:"planId" validate:"required"`
}

// Checkout handles POST /subscriptions/checkout (one-time purchase).
func (h *SubscriptionHandler) Checkout(c *gin.Context) {
	h.createSession(c, false)
}

// Subscribe handles POST /subscriptions/subscribe (recurring plan).
func (h *SubscriptionHandler) Subscribe(c *gin.Context) {
	h.createSession(c, true)
}

func (h *SubscriptionHandler) createSession(c *gin.Context, recurring bool) {
	body := req.HandleBody[CheckoutRequest](c, h.log)
	if body == nil {
		return
	}
	ctx := c.Request.Context()

	plan, ok := h.catalog[body.PlanID]
	if !ok {
		res.Error(c, http.StatusBadRequest, "unknown plan")
		return
	}

	customerID := h.customerID(ctx, body.UserID)

	var (
		session *stripeclient.CheckoutSession
		err     error
	)
	if recurring {
		session, err = h.stripe.CreateSubscriptionSession(ctx, body.UserID, customerID, plan)
	} else {
		session, err = h.stripe.CreateCheckoutSession(ctx, body.UserID, customerID, plan)
	}
	if err != nil {
		h.log.Errorw("Failed to create checkout session", "error", err, "userID", body.UserID, "plan", body.PlanID)
		res.Error(c, http.StatusBadGateway, "failed to create checkout session")
		return
	}

	res.JSON(c, http.StatusOK, session)
}

// Pix handles POST /subscriptions/pix: a PIX payment intent plus a pending
// payment record. Credits arrive with the confirmation webhook.
func (h *SubscriptionHandler) Pix(c *gin.Context) {
	body := req.HandleBody[CheckoutRequest](c, h.log)
	if body == nil {
		return
	}
	ctx := c.Request.Context()

	plan, ok := h.catalog[body.PlanID]
	if !ok {
		res.Error(c, http.StatusBadRequest, "unknown plan")
		return
	}

	intentID, err := h.stripe.CreatePixPayment(ctx, body.UserID, h.customerID(ctx, body.UserID), plan)
	if err != nil {
		h.log.Errorw("Failed to create PIX payment", "error", err, "userID", body.UserID, "plan", body.PlanID)
		res.Error(c, http.StatusBadGateway, "failed to create pix payment")
		return
	}

	err = h.ledgerSvc.RecordPendingPayment(ctx, body.UserID, "", &domain.PaymentRecord{
		PlanName:        plan.Name,
		AmountCents:     plan.PriceCents,
		PaymentMethod:   "pix",
		Status:          domain.PaymentStatusPending,
		Kind:            domain.PaymentKindPix,
		StripePaymentID: intentID,
	})
	if err != nil {
		h.writeLedgerError(c, err, body.UserID)
		return
	}

	res.JSON(c, http.StatusOK, gin.H{"paymentIntentId": intentID})
}

func (h *SubscriptionHandler) customerID(ctx context.Context, userID string) string {
	sub, err := h.ledgerSvc.Subscription(ctx, userID)
	if err != nil {
		return ""
	}
	return sub.StripeCustomerID
}

func (h *SubscriptionHandler) writeConsumeError(c *gin.Context, err error, userID string) {
	switch {
	case errors.Is(err, domain.ErrInsufficientCredits):
		res.Error(c, http.StatusPaymentRequired, "no report credits left")
	case errors.Is(err, domain.ErrPlanExpired):
		res.Error(c, http.StatusGone, "subscription plan expired")
	case errors.Is(err, domain.ErrNoSubscription):
		res.Error(c, http.StatusNotFound, "user has no subscription")
	default:
		h.writeLedgerError(c, err, userID)
	}
}

func (h *SubscriptionHandler) writeLedgerError(c *gin.Context, err error, userID string) {
	switch {
	case errors.Is(err, domain.ErrConcurrentConflict):
		res.Error(c, http.StatusConflict, "concurrent update, retry")
	case errors.Is(err, domain.ErrStoreUnavailable):
		h.log.Errorw("Record store unavailable", "error", err, "userID", userID)
		res.Error(c, http.StatusServiceUnavailable, "store unavailable")
	default:
		h.log.Errorw("Unexpected ledger failure", "error", err, "userID", userID)
		res.Error(c, http.StatusInternalServerError, "internal error")
	}
}
