// Package main is the entry point for the auction back-office operator
// server. It runs on its own port and exposes operator-only endpoints
// protected by role checks and an optional IP allowlist.
//
// Lifecycle moves made here reach viewers through the Redis relay; without
// REDIS_ADDR they are persisted but not pushed until the next resync.
//
// Usage:
//
//	backoffice                                  # serve
//	backoffice -token <user-uuid> [-role admin] # print an operator access token and exit
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chickenbids/auction/internal/backoffice"
	"github.com/chickenbids/auction/internal/clock"
	"github.com/chickenbids/auction/internal/config"
	"github.com/chickenbids/auction/internal/relay"
	"github.com/chickenbids/auction/internal/repository"
	"github.com/chickenbids/auction/internal/service"
	"github.com/google/uuid"
)

func main() {
	tokenFor := flag.String("token", "", "print an access token for this user id and exit")
	role := flag.String("role", service.RoleOperator, "role for -token (operator|admin)")
	flag.Parse()

	// ── Logger ────────────────────────────────────────────────────────────────
	cfg := config.MustLoad()

	var logHandler slog.Handler
	if cfg.IsProd() {
		logHandler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	} else {
		logHandler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	}
	logger := slog.New(logHandler)
	slog.SetDefault(logger)

	clk := clock.Real{}
	authSvc := service.NewAuthService(cfg, clk)

	if *tokenFor != "" {
		if err := printToken(authSvc, *tokenFor, *role); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
		return
	}

	logger.Info("starting auction backoffice server",
		"env", cfg.Server.Env, "port", cfg.Server.BackofficePort)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Database ──────────────────────────────────────────────────────────────
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

	// ── Broadcast relay ───────────────────────────────────────────────────────
	deps := service.Deps{
		DB:           db,
		Auctions:     repository.NewAuctionRepository(db),
		Bids:         repository.NewBidRepository(db),
		Participants: repository.NewParticipantRepository(db),
		Clock:        clk,
		Cfg:          cfg,
		Logger:       logger,
	}
	if cfg.Redis.Addr != "" {
		rl, err := relay.New(ctx, cfg.Redis, logger)
		if err != nil {
			logger.Warn("redis relay unavailable, operator changes will not be pushed", "err", err)
		} else {
			defer rl.Close()
			deps.Broadcaster = rl
		}
	} else {
		logger.Warn("REDIS_ADDR not set, operator changes will not be pushed to viewers")
	}

	// ── Services ──────────────────────────────────────────────────────────────
	lifecycleSvc := service.NewLifecycleService(deps)
	lockSvc := service.NewLockService(deps)
	auditSvc := service.NewAuditService(deps)

	// ── Router ────────────────────────────────────────────────────────────────
	router := backoffice.SetupBackofficeRouter(backoffice.BackofficeDeps{
		AuthSvc:      authSvc,
		LifecycleSvc: lifecycleSvc,
		LockSvc:      lockSvc,
		AuditSvc:     auditSvc,
		Participants: deps.Participants,
		Bids:         deps.Bids,
		Clients:      nil, // backoffice does not directly serve WS
		Clock:        clk,
		Cfg:          cfg,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.BackofficePort,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// ── Start ─────────────────────────────────────────────────────────────────
	go func() {
		logger.Info("backoffice http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("backoffice server error", "err", err)
			stop()
		}
	}()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err = srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("backoffice shutdown error", "err", err)
	}

	db.Close()
	logger.Info("backoffice server stopped cleanly")
}

func printToken(authSvc *service.AuthService, userID, role string) error {
	if role != service.RoleOperator && role != service.RoleAdmin {
		return fmt.Errorf("role must be %s or %s", service.RoleOperator, service.RoleAdmin)
	}
	id, err := uuid.Parse(userID)
	if err != nil {
		return fmt.Errorf("invalid user id: %w", err)
	}
	tok, err := authSvc.IssueAccessToken(id, role)
	if err != nil {
		return err
	}
	fmt.Println(tok)
	return nil
}
