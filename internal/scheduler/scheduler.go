// Package scheduler runs the background drivers of the auction engine:
//  1. tickLoop  – starts due auctions and persists the decayed price.
//  2. sweepLoop – releases purchase locks whose TTL has passed.
//  3. auditLoop – checks cross-entity invariants and escalates breaks.
//  4. rewardLoop – grants rewards for sales whose fan-out job never ran.
//
// Every driver is safe to run on several instances at once; the services
// underneath are idempotent and version-guarded.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/chickenbids/auction/internal/config"
	"github.com/chickenbids/auction/internal/domain"
)

// ──────────────────────────────────────────────────────────────────────────────
// Service interfaces
// ──────────────────────────────────────────────────────────────────────────────

// Lifecycle starts scheduled auctions. Implemented by service.LifecycleService.
type Lifecycle interface {
	StartDue(ctx context.Context) (int, error)
}

// Pricer persists decayed prices. Implemented by service.PricingService.
type Pricer interface {
	Tick(ctx context.Context) (int, error)
}

// Sweeper expires stale locks. Implemented by service.LockService.
type Sweeper interface {
	ExpireStale(ctx context.Context) (int, error)
}

// Auditor checks invariants. Implemented by service.AuditService.
type Auditor interface {
	Check(ctx context.Context) ([]domain.Violation, error)
}

// Rewarder catches up reward grants. Implemented by service.RewardService.
type Rewarder interface {
	DistributePending(ctx context.Context) (int, error)
}

// ──────────────────────────────────────────────────────────────────────────────
// Scheduler
// ──────────────────────────────────────────────────────────────────────────────

// Scheduler owns the periodic drivers. Call Start(ctx) once from main();
// cancel the context to shut it down.
type Scheduler struct {
	lifecycle Lifecycle
	pricer    Pricer
	sweeper   Sweeper
	auditor   Auditor  // optional
	rewarder  Rewarder // optional
	cfg       *config.Config
	logger    *slog.Logger
}

// NewScheduler creates a Scheduler.
func NewScheduler(
	lifecycle Lifecycle,
	pricer Pricer,
	sweeper Sweeper,
	auditor Auditor,
	rewarder Rewarder,
	cfg *config.Config,
	logger *slog.Logger,
) *Scheduler {
	return &Scheduler{
		lifecycle: lifecycle,
		pricer:    pricer,
		sweeper:   sweeper,
		auditor:   auditor,
		rewarder:  rewarder,
		cfg:       cfg,
		logger:    logger,
	}
}

// Start launches the background goroutines. It returns immediately; all
// loops run until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	go s.loop(ctx, "tickLoop", s.cfg.Auction.TickInterval, s.tick)
	go s.loop(ctx, "sweepLoop", s.cfg.Auction.SweepInterval, s.sweep)
	if s.auditor != nil && s.cfg.Auction.AuditInterval > 0 {
		go s.loop(ctx, "auditLoop", s.cfg.Auction.AuditInterval, s.audit)
	}
	if s.rewarder != nil && s.cfg.Auction.RewardInterval > 0 {
		go s.loop(ctx, "rewardLoop", s.cfg.Auction.RewardInterval, s.reward)
	}
	s.logger.Info("scheduler started",
		"tick", s.cfg.Auction.TickInterval, "sweep", s.cfg.Auction.SweepInterval,
		"audit", s.cfg.Auction.AuditInterval, "reward", s.cfg.Auction.RewardInterval)
}

// loop runs body every interval. A panic in one iteration is logged and the
// loop keeps going.
func (s *Scheduler) loop(ctx context.Context, name string, interval time.Duration, body func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info(name + ": shutting down")
			return
		case <-ticker.C:
			s.runOnce(ctx, name, body)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, name string, body func(context.Context)) {
	defer s.recoverAndLog(name)
	body(ctx)
}

// ──────────────────────────────────────────────────────────────────────────────
// Loop bodies
// ──────────────────────────────────────────────────────────────────────────────

// tick starts due auctions first so a freshly started auction decays on the
// same tick.
func (s *Scheduler) tick(ctx context.Context) {
	if n, err := s.lifecycle.StartDue(ctx); err != nil {
		s.logger.Error("tickLoop: StartDue", "err", err)
	} else if n > 0 {
		s.logger.Info("auctions started", "count", n)
	}
	if _, err := s.pricer.Tick(ctx); err != nil {
		s.logger.Error("tickLoop: Tick", "err", err)
	}
}

func (s *Scheduler) sweep(ctx context.Context) {
	n, err := s.sweeper.ExpireStale(ctx)
	if err != nil {
		s.logger.Error("sweepLoop: ExpireStale", "err", err)
		return
	}
	if n > 0 {
		s.logger.Info("stale locks released", "count", n)
	}
}

func (s *Scheduler) audit(ctx context.Context) {
	found, err := s.auditor.Check(ctx)
	if err != nil {
		s.logger.Error("auditLoop: Check", "err", err)
		return
	}
	if len(found) > 0 {
		s.logger.Warn("consistency check found violations", "count", len(found))
	}
}

func (s *Scheduler) reward(ctx context.Context) {
	n, err := s.rewarder.DistributePending(ctx)
	if err != nil {
		s.logger.Error("rewardLoop: DistributePending", "err", err)
		return
	}
	if n > 0 {
		s.logger.Info("pending rewards granted", "count", n)
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Panic recovery
// ──────────────────────────────────────────────────────────────────────────────

// recoverAndLog is deferred around each iteration to catch unexpected panics
// and log them.
func (s *Scheduler) recoverAndLog(loop string) {
	if r := recover(); r != nil {
		s.logger.Error("PANIC recovered in scheduler loop",
			"loop", loop, "panic", r)
	}
}
