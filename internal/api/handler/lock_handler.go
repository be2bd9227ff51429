package handler

import (
	"net/http"

	"github.com/chickenbids/auction/internal/api/middleware"
	"github.com/chickenbids/auction/internal/domain"
	"github.com/chickenbids/auction/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// LockHandler serves the buyer's purchase-lock endpoints.
type LockHandler struct {
	checkout *service.CheckoutService
	locks    *service.LockService
}

// NewLockHandler creates a LockHandler.
func NewLockHandler(checkout *service.CheckoutService, locks *service.LockService) *LockHandler {
	return &LockHandler{checkout: checkout, locks: locks}
}

// Acquire godoc
// POST /api/auctions/:id/lock [JWT]
// Locks the auction at the current price and opens a payment for it.
func (h *LockHandler) Acquire(c *gin.Context) {
	auctionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_ID", "invalid auction id")
		return
	}

	out, err := h.checkout.Begin(c.Request.Context(), auctionID, middleware.GetUserID(c))
	if err != nil {
		respondDomainError(c, err, "could not lock auction")
		return
	}
	respondSuccess(c, http.StatusCreated, out)
}

// Release godoc
// DELETE /api/auctions/:id/lock [JWT]
// The buyer abandons their lock; decay resumes from the locked price.
func (h *LockHandler) Release(c *gin.Context) {
	auctionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_ID", "invalid auction id")
		return
	}

	released, err := h.locks.Release(c.Request.Context(), auctionID, middleware.GetUserID(c), domain.ReasonCancelled)
	if err != nil {
		respondDomainError(c, err, "could not release lock")
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"released": released, "auction_id": auctionID})
}
