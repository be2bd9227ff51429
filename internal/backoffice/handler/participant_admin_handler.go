package handler

import (
	"net/http"

	"github.com/chickenbids/auction/internal/clock"
	"github.com/chickenbids/auction/internal/repository"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ParticipantAdminHandler serves /admin/participants endpoints.
type ParticipantAdminHandler struct {
	participants *repository.ParticipantRepository
	bids         *repository.BidRepository
	clock        clock.Clock
}

// NewParticipantAdminHandler creates a ParticipantAdminHandler.
func NewParticipantAdminHandler(
	participants *repository.ParticipantRepository,
	bids *repository.BidRepository,
	clk clock.Clock,
) *ParticipantAdminHandler {
	return &ParticipantAdminHandler{participants: participants, bids: bids, clock: clk}
}

// Detail godoc
// GET /admin/participants/:id
func (h *ParticipantAdminHandler) Detail(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_ID", "invalid user id")
		return
	}

	ctx := c.Request.Context()
	p, err := h.participants.Get(ctx, id)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	bids, _ := h.bids.ListByUser(ctx, id, 100)

	respondSuccess(c, http.StatusOK, gin.H{"participant": p, "bids": bids})
}

// AddCredits godoc
// POST /admin/participants/:id/credits
// Body: {"credits": 3}
func (h *ParticipantAdminHandler) AddCredits(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_ID", "invalid user id")
		return
	}
	var body struct {
		Credits int `json:"credits" binding:"required,min=1,max=1000"`
	}
	if err = c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}

	p, err := h.participants.AddCredits(c.Request.Context(), id, body.Credits, h.clock.Now())
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, p)
}
