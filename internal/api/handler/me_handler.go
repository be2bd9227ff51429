package handler

import (
	"errors"
	"net/http"

	"github.com/chickenbids/auction/internal/api/middleware"
	"github.com/chickenbids/auction/internal/domain"
	"github.com/chickenbids/auction/internal/repository"
	"github.com/gin-gonic/gin"
)

// MeHandler serves the caller's participant profile.
type MeHandler struct {
	participants *repository.ParticipantRepository
	bids         *repository.BidRepository
}

// NewMeHandler creates a MeHandler.
func NewMeHandler(participants *repository.ParticipantRepository, bids *repository.BidRepository) *MeHandler {
	return &MeHandler{participants: participants, bids: bids}
}

// Me godoc
// GET /api/me?limit=20 [JWT]
// Returns credits, XP and stats plus the caller's most recent bids.
func (h *MeHandler) Me(c *gin.Context) {
	userID := middleware.GetUserID(c)
	ctx := c.Request.Context()
	_, limit := parsePagination(c)

	p, err := h.participants.Get(ctx, userID)
	if errors.Is(err, domain.ErrParticipantNotFound) {
		p, err = &domain.Participant{UserID: userID}, nil
	}
	if err != nil {
		respondDomainError(c, err, "could not fetch profile")
		return
	}

	bids, err := h.bids.ListByUser(ctx, userID, limit)
	if err != nil {
		respondDomainError(c, err, "could not fetch bids")
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"participant": p, "bids": bids})
}
