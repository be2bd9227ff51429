package backoffice

import (
	"net/http"
	"strings"

	"github.com/chickenbids/auction/internal/api/middleware"
	"github.com/chickenbids/auction/internal/backoffice/handler"
	"github.com/chickenbids/auction/internal/clock"
	"github.com/chickenbids/auction/internal/config"
	"github.com/chickenbids/auction/internal/domain"
	"github.com/chickenbids/auction/internal/repository"
	"github.com/chickenbids/auction/internal/service"
	"github.com/gin-gonic/gin"
)

// BackofficeDeps bundles every dependency needed for the operator router.
type BackofficeDeps struct {
	AuthSvc      *service.AuthService
	LifecycleSvc *service.LifecycleService
	LockSvc      *service.LockService
	AuditSvc     *service.AuditService
	Participants *repository.ParticipantRepository
	Bids         *repository.BidRepository
	Clients      handler.ClientCounter // optional
	Clock        clock.Clock
	Cfg          *config.Config
}

// SetupBackofficeRouter creates the operator Gin engine on the backoffice port.
func SetupBackofficeRouter(deps BackofficeDeps) *gin.Engine {
	if deps.Cfg.IsProd() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	r.Use(ipWhitelistMiddleware(deps.Cfg.Server.BackofficeAllowedIPs))

	dashH := handler.NewDashboardHandler(deps.LifecycleSvc, deps.AuditSvc, deps.Clients, deps.Clock)
	auctionH := handler.NewAuctionAdminHandler(deps.LifecycleSvc, deps.LockSvc, deps.Bids)
	participantH := handler.NewParticipantAdminHandler(deps.Participants, deps.Bids, deps.Clock)

	admin := r.Group("/admin")
	admin.Use(adminJWTMiddleware(deps.AuthSvc))
	{
		admin.GET("/dashboard", dashH.Dashboard)
		admin.GET("/audit", dashH.Audit)

		// Auctions
		a := admin.Group("/auctions")
		{
			a.GET("", auctionH.List)
			a.POST("", auctionH.Create)
			a.GET("/:id", auctionH.Detail)
			a.POST("/:id/pause", auctionH.Pause)
			a.POST("/:id/resume", auctionH.Resume)
			a.POST("/:id/cancel", auctionH.Cancel)
			a.POST("/:id/complete", auctionH.Complete)
			a.POST("/:id/release", auctionH.ReleaseLock)
		}

		// Participants
		p := admin.Group("/participants")
		{
			p.GET("/:id", participantH.Detail)
			p.POST("/:id/credits", participantH.AddCredits)
		}
	}

	return r
}

// ── IP whitelist middleware ───────────────────────────────────────────────────

// ipWhitelistMiddleware blocks requests from IPs not in the allowlist.
// allowedIPs is a comma-separated string; empty means allow all.
func ipWhitelistMiddleware(allowedIPs string) gin.HandlerFunc {
	if allowedIPs == "" {
		return func(c *gin.Context) { c.Next() } // dev mode: no restriction
	}

	allowed := make(map[string]bool)
	for _, ip := range strings.Split(allowedIPs, ",") {
		ip = strings.TrimSpace(ip)
		if ip != "" {
			allowed[ip] = true
		}
	}

	return func(c *gin.Context) {
		if !allowed[c.ClientIP()] {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"success": false,
				"error":   "access denied: your IP is not whitelisted",
				"code":    "ERR_IP_DENIED",
			})
			return
		}
		c.Next()
	}
}

// ── Admin JWT middleware ──────────────────────────────────────────────────────

// adminJWTMiddleware validates an access token and requires an operator or
// admin role.
func adminJWTMiddleware(authSvc *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			middleware.AbortAuth(c, domain.ErrUnauthorized)
			return
		}

		claims, err := authSvc.ParseAccessToken(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			middleware.AbortAuth(c, err)
			return
		}

		if claims.Role != service.RoleOperator && claims.Role != service.RoleAdmin {
			middleware.AbortAuth(c, domain.ErrForbidden)
			return
		}

		c.Set("userID", claims.Subject)
		c.Set("role", claims.Role)
		c.Next()
	}
}
