package service_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/chickenbids/auction/internal/clock"
	"github.com/chickenbids/auction/internal/concurrency"
	"github.com/chickenbids/auction/internal/config"
	"github.com/chickenbids/auction/internal/domain"
	"github.com/chickenbids/auction/internal/repository"
	"github.com/chickenbids/auction/internal/repository/sqlitetest"
	"github.com/chickenbids/auction/internal/service"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// ── Fakes ─────────────────────────────────────────────────────────────────────

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []domain.AuctionSnapshot
}

func (r *recordingBroadcaster) BroadcastAuction(s domain.AuctionSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, s)
}

func (r *recordingBroadcaster) types() []domain.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Event)
	}
	return out
}

type recordingEscalator struct {
	mu         sync.Mutex
	violations []domain.Violation
}

func (r *recordingEscalator) Escalate(_ context.Context, v domain.Violation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.violations = append(r.violations, v)
}

func (r *recordingEscalator) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.violations)
}

// inlineDispatcher runs jobs on the caller's goroutine so tests can assert
// side effects immediately.
type inlineDispatcher struct {
	mu   sync.Mutex
	errs []error
}

func (d *inlineDispatcher) Submit(job concurrency.Job) bool {
	err := job.Run(context.Background())
	d.mu.Lock()
	d.errs = append(d.errs, err)
	d.mu.Unlock()
	return true
}

type recordingNotifier struct {
	mu      sync.Mutex
	notices []domain.WinnerNotice
	err     error
}

func (n *recordingNotifier) NotifyWinner(_ context.Context, notice domain.WinnerNotice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice)
	return n.err
}

// ── Fixture ───────────────────────────────────────────────────────────────────

type fixture struct {
	t          *testing.T
	ctx        context.Context
	db         *sqlx.DB
	clock      *clock.Fake
	cfg        *config.Config
	bc         *recordingBroadcaster
	esc        *recordingEscalator
	notifier   *recordingNotifier
	deps       service.Deps
	locks      *service.LockService
	pricing    *service.PricingService
	lifecycle  *service.LifecycleService
	rewards    *service.RewardService
	settlement *service.SettlementService
	audit      *service.AuditService
}

func testConfig() *config.Config {
	return &config.Config{
		Auction: config.AuctionConfig{
			LockDuration:     60 * time.Second,
			TickInterval:     time.Second,
			SweepInterval:    time.Second,
			MaxWriteRetries:  5,
			RequireCredit:    false,
			HonorLatePayment: true,
		},
		Payment: config.PaymentConfig{Currency: "aud"},
		Rewards: config.RewardConfig{WinnerXP: 10, ParticipantXP: 1},
		JWT:     config.JWTConfig{AccessSecret: "test-secret", AccessTTL: 15 * time.Minute},
	}
}

func newFixture(t *testing.T, tweak ...func(*config.Config)) *fixture {
	t.Helper()
	cfg := testConfig()
	for _, fn := range tweak {
		fn(cfg)
	}

	db := sqlitetest.Open(t)
	f := &fixture{
		t:        t,
		ctx:      context.Background(),
		db:       db,
		clock:    clock.NewFake(t0),
		cfg:      cfg,
		bc:       &recordingBroadcaster{},
		esc:      &recordingEscalator{},
		notifier: &recordingNotifier{},
	}
	f.deps = service.Deps{
		DB:           db,
		Auctions:     repository.NewAuctionRepository(db),
		Bids:         repository.NewBidRepository(db),
		Participants: repository.NewParticipantRepository(db),
		Clock:        f.clock,
		Cfg:          cfg,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		Broadcaster:  f.bc,
		Escalator:    f.esc,
	}
	f.locks = service.NewLockService(f.deps)
	f.pricing = service.NewPricingService(f.deps)
	f.lifecycle = service.NewLifecycleService(f.deps)
	f.rewards = service.NewRewardService(f.deps)
	f.settlement = service.NewSettlementService(f.deps, f.locks, f.rewards)
	f.settlement.SetNotifier(f.notifier)
	f.settlement.SetDispatcher(&inlineDispatcher{})
	f.audit = service.NewAuditService(f.deps)
	return f
}

// liveAuction schedules an auction at t0 and starts it.
func (f *fixture) liveAuction(start, floor, rate string) *domain.Auction {
	f.t.Helper()
	a, err := f.lifecycle.Create(f.ctx, domain.NewAuctionRequest{
		ItemName:    "Golden Egg",
		ItemVariant: "Limited",
		StartTime:   f.clock.Now(),
		StartPrice:  dec(start),
		FloorPrice:  dec(floor),
		DecayRate:   dec(rate),
	})
	require.NoError(f.t, err)
	n, err := f.lifecycle.StartDue(f.ctx)
	require.NoError(f.t, err)
	require.Equal(f.t, 1, n)
	return f.reload(a.ID)
}

func (f *fixture) reload(id uuid.UUID) *domain.Auction {
	f.t.Helper()
	a, err := f.deps.Auctions.GetByID(f.ctx, id)
	require.NoError(f.t, err)
	return a
}

func (f *fixture) bid(id uuid.UUID) *domain.Bid {
	f.t.Helper()
	b, err := f.deps.Bids.GetByID(f.ctx, id)
	require.NoError(f.t, err)
	return b
}

// tickAfter advances the clock by d and runs one price tick.
func (f *fixture) tickAfter(d time.Duration) {
	f.t.Helper()
	f.clock.Advance(d)
	_, err := f.pricing.Tick(f.ctx)
	require.NoError(f.t, err)
}

// requireConsistent asserts every cross-entity invariant holds.
func (f *fixture) requireConsistent() {
	f.t.Helper()
	v, err := f.audit.Check(f.ctx)
	require.NoError(f.t, err)
	require.Empty(f.t, v)
}

func requirePrice(t *testing.T, a *domain.Auction, want string) {
	t.Helper()
	require.True(t, a.CurrentPrice.Equal(dec(want)), "current_price = %s, want %s", a.CurrentPrice, want)
}
