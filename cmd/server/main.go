// Package main is the entry point for the descending-price auction API
// server. It wires together all services and starts the HTTP server
// alongside the WebSocket hub, the Redis relay and the background scheduler.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chickenbids/auction/internal/api"
	"github.com/chickenbids/auction/internal/api/handler"
	"github.com/chickenbids/auction/internal/clock"
	"github.com/chickenbids/auction/internal/concurrency"
	"github.com/chickenbids/auction/internal/config"
	"github.com/chickenbids/auction/internal/notify"
	"github.com/chickenbids/auction/internal/payment"
	"github.com/chickenbids/auction/internal/relay"
	"github.com/chickenbids/auction/internal/repository"
	"github.com/chickenbids/auction/internal/scheduler"
	"github.com/chickenbids/auction/internal/service"
	"github.com/chickenbids/auction/internal/ws"
	"github.com/google/uuid"
)

func main() {
	// ── 1. Logger ─────────────────────────────────────────────────────────────
	cfg := config.MustLoad()

	var logHandler slog.Handler
	if cfg.IsProd() {
		logHandler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	} else {
		logHandler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	}
	logger := slog.New(logHandler)
	slog.SetDefault(logger)

	logger.Info("starting auction server", "env", cfg.Server.Env, "port", cfg.Server.Port)

	// ── 2. Root context + signal handling ─────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── 3. Database + migrations ──────────────────────────────────────────────
	db, err := repository.Open(ctx, cfg.DB)
	if err != nil {
		logger.Error("database connection failed", "err", err)
		os.Exit(1)
	}
	logger.Info("database connected", "driver", cfg.DB.Driver)

	if err = repository.Migrate(ctx, db); err != nil {
		logger.Error("migrations failed", "err", err)
		os.Exit(1)
	}
	logger.Info("migrations applied")

	// ── 4. Auth + WebSocket hub ───────────────────────────────────────────────
	clk := clock.Real{}
	authSvc := service.NewAuthService(cfg, clk)

	hub := ws.NewHub(func(tok string) (uuid.UUID, error) {
		claims, err := authSvc.ParseAccessToken(tok)
		if err != nil {
			return uuid.Nil, err
		}
		return claims.UserID()
	}, cfg.Server.WSAllowedOrigins, logger)
	go hub.Run(ctx)
	logger.Info("websocket hub started")

	// ── 5. Broadcast path: Redis relay when configured, else hub directly ─────
	var broadcaster service.Broadcaster = hub
	if cfg.Redis.Addr != "" {
		rl, err := relay.New(ctx, cfg.Redis, logger)
		if err != nil {
			logger.Error("redis relay unavailable", "err", err)
			os.Exit(1)
		}
		defer rl.Close()

		listener, err := rl.Listen(ctx)
		if err != nil {
			logger.Error("redis subscribe failed", "err", err)
			os.Exit(1)
		}
		go listener.Forward(ctx, hub)
		if n, err := rl.Replay(ctx, hub); err != nil {
			logger.Warn("redis snapshot replay failed", "err", err)
		} else {
			logger.Info("redis snapshots replayed", "count", n)
		}
		broadcaster = rl
		logger.Info("redis relay enabled", "addr", cfg.Redis.Addr, "channel", cfg.Redis.Channel)
	}

	// ── 6. Post-commit worker pool ────────────────────────────────────────────
	dispatcher := concurrency.NewDispatcher(
		cfg.Auction.DispatcherWorkers, cfg.Auction.DispatcherQueueSize, cfg.Notify.Timeout, logger)
	dispatcher.Start()

	// ── 7. Repositories + services ────────────────────────────────────────────
	deps := service.Deps{
		DB:           db,
		Auctions:     repository.NewAuctionRepository(db),
		Bids:         repository.NewBidRepository(db),
		Participants: repository.NewParticipantRepository(db),
		Clock:        clk,
		Cfg:          cfg,
		Logger:       logger,
		Broadcaster:  broadcaster,
	}

	lockSvc := service.NewLockService(deps)
	lifecycleSvc := service.NewLifecycleService(deps)
	pricingSvc := service.NewPricingService(deps)
	rewardSvc := service.NewRewardService(deps)
	auditSvc := service.NewAuditService(deps)
	settlementSvc := service.NewSettlementService(deps, lockSvc, rewardSvc)
	settlementSvc.SetDispatcher(dispatcher)

	if cfg.Notify.WebhookURL != "" {
		settlementSvc.SetNotifier(notify.NewWebhookNotifier(cfg.Notify.WebhookURL, cfg.Notify.Timeout, logger))
	} else {
		settlementSvc.SetNotifier(notify.LogNotifier{Logger: logger})
	}

	// ── 8. Payment gateway ────────────────────────────────────────────────────
	var (
		gateway  service.PaymentGateway
		webhooks handler.WebhookParser
	)
	if cfg.Payment.StripeSecretKey != "" || cfg.Payment.WebhookSecret != "" {
		stripe := payment.NewStripe(cfg.Payment.StripeSecretKey, cfg.Payment.WebhookSecret, cfg.Payment.WebhookTolerance)
		if cfg.Payment.StripeSecretKey != "" {
			gateway = stripe
		}
		if cfg.Payment.WebhookSecret != "" {
			webhooks = stripe
		}
	}
	if gateway == nil {
		logger.Warn("no payment gateway configured, checkout takes the lock only")
	}
	checkoutSvc := service.NewCheckoutService(deps, lockSvc, gateway)

	// ── 9. Scheduler ──────────────────────────────────────────────────────────
	sched := scheduler.NewScheduler(lifecycleSvc, pricingSvc, lockSvc, auditSvc, rewardSvc, cfg, logger)
	sched.Start(ctx)

	// ── 10. HTTP Router ───────────────────────────────────────────────────────
	router := api.SetupRouter(api.RouterDeps{
		AuthSvc:       authSvc,
		LifecycleSvc:  lifecycleSvc,
		LockSvc:       lockSvc,
		CheckoutSvc:   checkoutSvc,
		SettlementSvc: settlementSvc,
		Participants:  deps.Participants,
		Bids:          deps.Bids,
		Webhooks:      webhooks,
		Hub:           hub,
		Clock:         clk,
		Cfg:           cfg,
		Logger:        logger,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// ── 11. Start server ──────────────────────────────────────────────────────
	go func() {
		logger.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
			stop() // trigger graceful shutdown
		}
	}()

	// ── 12. Graceful shutdown ─────────────────────────────────────────────────
	<-ctx.Done()
	logger.Info("shutdown signal received, draining connections…")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err = srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", "err", err)
	}

	// Post-commit jobs still queued get to finish before the database closes.
	dispatcher.Stop()
	db.Close()
	logger.Info("server stopped cleanly")
}
