package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/chickenbids/auction/internal/domain"
	"github.com/chickenbids/auction/internal/service"
	"github.com/gin-gonic/gin"
)

const maxWebhookBody = 64 << 10

// WebhookParser verifies and decodes a gateway callback. Implemented by
// payment.Stripe.
type WebhookParser interface {
	ParseWebhook(payload []byte, signature string) (*domain.PaymentEvent, error)
}

// WebhookHandler receives at-least-once payment outcome callbacks.
type WebhookHandler struct {
	parser     WebhookParser
	settlement *service.SettlementService
	logger     *slog.Logger
}

// NewWebhookHandler creates a WebhookHandler.
func NewWebhookHandler(parser WebhookParser, settlement *service.SettlementService, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{parser: parser, settlement: settlement, logger: logger}
}

// Stripe godoc
// POST /webhooks/stripe
//
// 2xx tells the gateway to stop redelivering. Callbacks that can never be
// actioned (mismatched metadata, late payments under a reject policy, broken
// invariants already escalated) are acknowledged; transient failures get a
// 5xx so the gateway retries.
func (h *WebhookHandler) Stripe(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		respondError(c, http.StatusBadRequest, "ERR_BAD_BODY", "could not read body")
		return
	}

	ev, err := h.parser.ParseWebhook(payload, c.GetHeader("Stripe-Signature"))
	switch {
	case errors.Is(err, domain.ErrInvalidSignature):
		h.logger.Warn("webhook rejected", "err", err)
		respondError(c, http.StatusBadRequest, "ERR_INVALID_SIGNATURE", "invalid webhook")
		return
	case err != nil:
		// Verified but unusable payload: redelivery cannot fix it.
		h.logger.Warn("webhook acknowledged without action", "err", err)
		respondSuccess(c, http.StatusOK, gin.H{"received": true, "handled": false})
		return
	}
	if ev == nil {
		respondSuccess(c, http.StatusOK, gin.H{"received": true, "handled": false})
		return
	}

	res, err := h.settlement.HandlePaymentEvent(c.Request.Context(), *ev)
	switch {
	case err == nil:
		respondSuccess(c, http.StatusOK, gin.H{"received": true, "handled": true, "result": res})
	case domain.IsIntegrity(err), errors.Is(err, domain.ErrInvariantViolation):
		h.logger.Warn("webhook acknowledged without action", "event_id", ev.EventID, "bid_id", ev.BidID, "err", err)
		respondSuccess(c, http.StatusOK, gin.H{"received": true, "handled": false})
	default:
		h.logger.Error("webhook processing failed", "event_id", ev.EventID, "bid_id", ev.BidID, "err", err)
		respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", "try again")
	}
}
