package handler

import (
	"net/http"
	"time"

	"github.com/chickenbids/auction/internal/clock"
	"github.com/chickenbids/auction/internal/domain"
	"github.com/chickenbids/auction/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// AuctionHandler serves the public read endpoints.
type AuctionHandler struct {
	lifecycle *service.LifecycleService
	clock     clock.Clock
}

// NewAuctionHandler creates an AuctionHandler.
func NewAuctionHandler(lifecycle *service.LifecycleService, clk clock.Clock) *AuctionHandler {
	return &AuctionHandler{lifecycle: lifecycle, clock: clk}
}

// auctionView is the public read model: absolute instants plus the server
// time, from which clients derive their own countdowns.
type auctionView struct {
	*domain.Auction
	ServerTime time.Time `json:"server_time"`
}

// GetCurrent godoc
// GET /api/auctions/current
func (h *AuctionHandler) GetCurrent(c *gin.Context) {
	a, err := h.lifecycle.Current(c.Request.Context())
	if err != nil {
		respondDomainError(c, err, "could not fetch auction")
		return
	}
	respondSuccess(c, http.StatusOK, auctionView{Auction: a, ServerTime: h.clock.Now()})
}

// GetByID godoc
// GET /api/auctions/:id
func (h *AuctionHandler) GetByID(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_ID", "invalid auction id")
		return
	}
	a, err := h.lifecycle.Get(c.Request.Context(), id)
	if err != nil {
		respondDomainError(c, err, "could not fetch auction")
		return
	}
	respondSuccess(c, http.StatusOK, auctionView{Auction: a, ServerTime: h.clock.Now()})
}
