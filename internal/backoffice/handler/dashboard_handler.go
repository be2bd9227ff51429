package handler

import (
	"errors"
	"net/http"

	"github.com/chickenbids/auction/internal/clock"
	"github.com/chickenbids/auction/internal/domain"
	"github.com/chickenbids/auction/internal/service"
	"github.com/gin-gonic/gin"
)

// ClientCounter reports connected observers. Implemented by ws.Hub.
type ClientCounter interface {
	ConnectedCount() int
}

// DashboardHandler serves the /admin/dashboard and /admin/audit endpoints.
type DashboardHandler struct {
	lifecycle *service.LifecycleService
	audit     *service.AuditService
	clients   ClientCounter // optional
	clock     clock.Clock
}

// NewDashboardHandler creates a DashboardHandler.
func NewDashboardHandler(
	lifecycle *service.LifecycleService,
	audit *service.AuditService,
	clients ClientCounter,
	clk clock.Clock,
) *DashboardHandler {
	return &DashboardHandler{lifecycle: lifecycle, audit: audit, clients: clients, clock: clk}
}

// Dashboard godoc
// GET /admin/dashboard
func (h *DashboardHandler) Dashboard(c *gin.Context) {
	ctx := c.Request.Context()
	now := h.clock.Now()

	// ── Current auction ──────────────────────────────────────────────────────
	var auctionData gin.H
	a, err := h.lifecycle.Current(ctx)
	switch {
	case err == nil:
		auctionData = gin.H{
			"id":              a.ID,
			"item_name":       a.ItemName,
			"status":          a.Status,
			"current_price":   a.CurrentPrice,
			"display_price":   a.PriceAt(now),
			"floor_price":     a.FloorPrice,
			"locked_by":       a.LockedBy,
			"lock_expires_at": a.LockExpiresAt,
			"version":         a.Version,
		}
	case !errors.Is(err, domain.ErrNoCurrentAuction):
		respondDomainError(c, err)
		return
	}

	// ── Upcoming ─────────────────────────────────────────────────────────────
	_, scheduled, err := h.lifecycle.List(ctx, string(domain.StatusScheduled), 1, 0)
	if err != nil {
		respondDomainError(c, err)
		return
	}

	clients := 0
	if h.clients != nil {
		clients = h.clients.ConnectedCount()
	}

	respondSuccess(c, http.StatusOK, gin.H{
		"auction":           auctionData,
		"scheduled_count":   scheduled,
		"connected_clients": clients,
		"server_time":       now,
	})
}

// Audit godoc
// GET /admin/audit
// Runs the consistency check now and returns any violations found.
func (h *DashboardHandler) Audit(c *gin.Context) {
	found, err := h.audit.Check(c.Request.Context())
	if err != nil {
		respondDomainError(c, err)
		return
	}
	if found == nil {
		found = []domain.Violation{}
	}
	respondSuccess(c, http.StatusOK, gin.H{"violations": found, "count": len(found)})
}
