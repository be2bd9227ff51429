package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/chickenbids/auction/internal/domain"
	"github.com/gin-gonic/gin"
)

// ──────────────────────────────────────────────────────────────────────────────
// Standard response helpers
// ──────────────────────────────────────────────────────────────────────────────

// respondSuccess writes {"success": true, "data": data} with the given status.
func respondSuccess(c *gin.Context, status int, data interface{}) {
	c.JSON(status, gin.H{
		"success": true,
		"data":    data,
	})
}

// respondError writes {"success": false, "error": msg, "code": code}.
func respondError(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, gin.H{
		"success": false,
		"error":   msg,
		"code":    code,
	})
}

// respondDomainError maps an engine error onto the HTTP envelope. Expected
// outcomes get their own status and code; anything else is a 500 with a
// generic message.
func respondDomainError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, domain.ErrAlreadyLocked):
		respondError(c, http.StatusConflict, "ERR_ALREADY_LOCKED", domain.ErrAlreadyLocked.Error())
	case errors.Is(err, domain.ErrAuctionNotLive):
		respondError(c, http.StatusConflict, "ERR_AUCTION_NOT_LIVE", domain.ErrAuctionNotLive.Error())
	case errors.Is(err, domain.ErrInvalidTransition):
		respondError(c, http.StatusConflict, "ERR_INVALID_TRANSITION", err.Error())
	case errors.Is(err, domain.ErrLockNotHeldByActor):
		respondError(c, http.StatusForbidden, "ERR_LOCK_NOT_HELD", domain.ErrLockNotHeldByActor.Error())
	case errors.Is(err, domain.ErrNoCredit):
		respondError(c, http.StatusPaymentRequired, "ERR_NO_CREDIT", domain.ErrNoCredit.Error())
	case errors.Is(err, domain.ErrNotChargeable):
		respondError(c, http.StatusConflict, "ERR_NOT_CHARGEABLE", domain.ErrNotChargeable.Error())
	case domain.IsNotFound(err):
		respondError(c, http.StatusNotFound, "ERR_NOT_FOUND", err.Error())
	case errors.Is(err, domain.ErrInvalidAuction):
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
	case domain.IsTransient(err):
		respondError(c, http.StatusServiceUnavailable, "ERR_BUSY", "please retry")
	case errors.Is(err, domain.ErrPaymentUnavailable):
		respondError(c, http.StatusBadGateway, "ERR_PAYMENT_UNAVAILABLE", domain.ErrPaymentUnavailable.Error())
	default:
		respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", fallback)
	}
}

// parsePagination reads page/limit query params with defaults 1/20.
func parsePagination(c *gin.Context) (page, limit int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", "20"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	return
}
