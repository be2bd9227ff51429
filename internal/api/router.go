package api

import (
	"log/slog"
	"net/http"

	"github.com/chickenbids/auction/internal/api/handler"
	"github.com/chickenbids/auction/internal/api/middleware"
	"github.com/chickenbids/auction/internal/clock"
	"github.com/chickenbids/auction/internal/config"
	"github.com/chickenbids/auction/internal/repository"
	"github.com/chickenbids/auction/internal/service"
	"github.com/chickenbids/auction/internal/ws"
	"github.com/gin-gonic/gin"
)

// RouterDeps bundles every dependency needed to build the router.
// Populated once in main() and passed to SetupRouter.
type RouterDeps struct {
	AuthSvc       *service.AuthService
	LifecycleSvc  *service.LifecycleService
	LockSvc       *service.LockService
	CheckoutSvc   *service.CheckoutService
	SettlementSvc *service.SettlementService
	Participants  *repository.ParticipantRepository
	Bids          *repository.BidRepository
	Webhooks      handler.WebhookParser // nil disables /webhooks/stripe
	Hub           *ws.Hub
	Clock         clock.Clock
	Cfg           *config.Config
	Logger        *slog.Logger
}

// SetupRouter creates and configures the main Gin engine with all routes,
// middleware, CORS, and rate limiting rules.
func SetupRouter(deps RouterDeps) *gin.Engine {
	if deps.Cfg.IsProd() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())

	// ── CORS ─────────────────────────────────────────────────────────────────
	r.Use(corsMiddleware(deps.Cfg))

	// ── Health check ─────────────────────────────────────────────────────────
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// ── Handlers ─────────────────────────────────────────────────────────────
	auctionH := handler.NewAuctionHandler(deps.LifecycleSvc, deps.Clock)
	lockH := handler.NewLockHandler(deps.CheckoutSvc, deps.LockSvc)
	meH := handler.NewMeHandler(deps.Participants, deps.Bids)

	// ── JWT middleware (shared) ───────────────────────────────────────────────
	jwtMW := middleware.JWTMiddleware(deps.AuthSvc)

	// ── Rate limiters ─────────────────────────────────────────────────────────
	readRL := middleware.RateLimitMiddleware(30) // 30 req/s per IP for reads
	lockRL := middleware.UserRateLimitMiddleware(deps.Cfg.Server.LockRateLimit)

	api := r.Group("/api")
	{
		// ── Auctions (public) ────────────────────────────────────────────────
		auctions := api.Group("/auctions")
		auctions.Use(readRL)
		{
			auctions.GET("/current", auctionH.GetCurrent)
			auctions.GET("/:id", auctionH.GetByID)
		}

		// ── Authenticated routes ──────────────────────────────────────────────
		authed := api.Group("")
		authed.Use(jwtMW)
		{
			authed.GET("/me", meH.Me)

			lock := authed.Group("/auctions/:id/lock")
			lock.Use(lockRL)
			{
				lock.POST("", lockH.Acquire)
				lock.DELETE("", lockH.Release)
			}
		}
	}

	// ── Payment gateway callbacks ─────────────────────────────────────────────
	if deps.Webhooks != nil {
		webhookH := handler.NewWebhookHandler(deps.Webhooks, deps.SettlementSvc, deps.Logger)
		r.POST("/webhooks/stripe", webhookH.Stripe)
	}

	// ── WebSocket ─────────────────────────────────────────────────────────────
	if deps.Hub != nil {
		r.GET("/ws", func(c *gin.Context) {
			deps.Hub.ServeWs(c.Writer, c.Request)
		})
	}

	return r
}

// ── CORS helper ───────────────────────────────────────────────────────────────

// corsMiddleware returns a gin middleware that sets appropriate CORS headers.
// Outside production, or with no configured origins, every origin is allowed.
func corsMiddleware(cfg *config.Config) gin.HandlerFunc {
	allowed := make(map[string]bool, len(cfg.Server.WSAllowedOrigins))
	for _, o := range cfg.Server.WSAllowedOrigins {
		allowed[o] = true
	}

	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		if !cfg.IsProd() || len(allowed) == 0 {
			c.Header("Access-Control-Allow-Origin", "*")
		} else if origin != "" && allowed[origin] {
			c.Header("Access-Control-Allow-Origin", origin)
		}

		c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-ID")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
