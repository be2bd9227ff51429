package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/chickenbids/auction/internal/domain"
	"github.com/chickenbids/auction/internal/repository"
	"github.com/chickenbids/auction/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AuctionAdminHandler serves /admin/auctions endpoints.
type AuctionAdminHandler struct {
	lifecycle *service.LifecycleService
	locks     *service.LockService
	bids      *repository.BidRepository
}

// NewAuctionAdminHandler creates an AuctionAdminHandler.
func NewAuctionAdminHandler(
	lifecycle *service.LifecycleService,
	locks *service.LockService,
	bids *repository.BidRepository,
) *AuctionAdminHandler {
	return &AuctionAdminHandler{lifecycle: lifecycle, locks: locks, bids: bids}
}

// List godoc
// GET /admin/auctions?status=scheduled&page=1&limit=50
func (h *AuctionAdminHandler) List(c *gin.Context) {
	status := c.Query("status")
	if status != "" && !domain.AuctionStatus(status).Valid() {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", "unknown status "+status)
		return
	}
	page, limit := adminPagination(c)
	offset := (page - 1) * limit

	auctions, total, err := h.lifecycle.List(c.Request.Context(), status, limit, offset)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondList(c, auctions, total, page, limit)
}

// Detail godoc
// GET /admin/auctions/:id
func (h *AuctionAdminHandler) Detail(c *gin.Context) {
	id, ok := auctionID(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	auction, err := h.lifecycle.Get(ctx, id)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	bids, err := h.bids.ListByAuction(ctx, id)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"auction": auction, "bids": bids})
}

// Create godoc
// POST /admin/auctions
// Body: {"item_name": "Golden Egg", "start_time": "...", "start_price": "100", "floor_price": "20", "decay_rate": "0.5"}
func (h *AuctionAdminHandler) Create(c *gin.Context) {
	var body struct {
		ItemName    string    `json:"item_name"   binding:"required"`
		ItemVariant string    `json:"item_variant"`
		StartTime   time.Time `json:"start_time"  binding:"required"`
		StartPrice  string    `json:"start_price" binding:"required"`
		FloorPrice  string    `json:"floor_price" binding:"required"`
		DecayRate   string    `json:"decay_rate"  binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}

	req := domain.NewAuctionRequest{
		ItemName:    body.ItemName,
		ItemVariant: body.ItemVariant,
		StartTime:   body.StartTime,
	}
	for _, f := range []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"start_price", body.StartPrice, &req.StartPrice},
		{"floor_price", body.FloorPrice, &req.FloorPrice},
		{"decay_rate", body.DecayRate, &req.DecayRate},
	} {
		v, err := decimal.NewFromString(f.raw)
		if err != nil {
			respondError(c, http.StatusBadRequest, "ERR_INVALID_PRICE", f.name+" must be a decimal string")
			return
		}
		*f.dst = v
	}

	auction, err := h.lifecycle.Create(c.Request.Context(), req)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusCreated, auction)
}

// Pause godoc
// POST /admin/auctions/:id/pause
func (h *AuctionAdminHandler) Pause(c *gin.Context) {
	h.transition(c, h.lifecycle.Pause)
}

// Resume godoc
// POST /admin/auctions/:id/resume
func (h *AuctionAdminHandler) Resume(c *gin.Context) {
	h.transition(c, h.lifecycle.Resume)
}

// Cancel godoc
// POST /admin/auctions/:id/cancel
func (h *AuctionAdminHandler) Cancel(c *gin.Context) {
	h.transition(c, h.lifecycle.Cancel)
}

// Complete godoc
// POST /admin/auctions/:id/complete
// Ends the auction with no winner.
func (h *AuctionAdminHandler) Complete(c *gin.Context) {
	h.transition(c, h.lifecycle.ForceComplete)
}

// ReleaseLock godoc
// POST /admin/auctions/:id/release
func (h *AuctionAdminHandler) ReleaseLock(c *gin.Context) {
	id, ok := auctionID(c)
	if !ok {
		return
	}
	released, err := h.locks.ForceRelease(c.Request.Context(), id)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"released": released, "auction_id": id})
}

func (h *AuctionAdminHandler) transition(
	c *gin.Context,
	move func(ctx context.Context, id uuid.UUID) (*domain.Auction, error),
) {
	id, ok := auctionID(c)
	if !ok {
		return
	}
	auction, err := move(c.Request.Context(), id)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, auction)
}

func auctionID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_ID", "invalid auction id")
		return uuid.Nil, false
	}
	return id, true
}
