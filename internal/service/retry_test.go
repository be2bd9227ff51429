package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/chickenbids/auction/internal/clock"
	"github.com/chickenbids/auction/internal/config"
	"github.com/chickenbids/auction/internal/domain"
	"github.com/chickenbids/auction/internal/repository"
	"github.com/chickenbids/auction/internal/repository/sqlitetest"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// These tests drive the version-guarded write path from inside the package:
// the in-memory test database has a single connection, so a competing writer
// can only be simulated by bumping the row version within the transaction,
// between the read and the conditional write.

type pager struct {
	mu    sync.Mutex
	pages []domain.Violation
}

func (p *pager) Escalate(_ context.Context, v domain.Violation) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pages = append(p.pages, v)
}

func (p *pager) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pages)
}

func newRetryDeps(t *testing.T, retries int) (Deps, *pager) {
	t.Helper()
	db := sqlitetest.Open(t)
	p := &pager{}
	return Deps{
		DB:           db,
		Auctions:     repository.NewAuctionRepository(db),
		Bids:         repository.NewBidRepository(db),
		Participants: repository.NewParticipantRepository(db),
		Clock:        clock.NewFake(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)),
		Cfg: &config.Config{Auction: config.AuctionConfig{
			LockDuration:    time.Minute,
			MaxWriteRetries: retries,
		}},
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Escalator: p,
	}, p
}

func startAuction(t *testing.T, lc *LifecycleService) *domain.Auction {
	t.Helper()
	ctx := context.Background()
	a, err := lc.Create(ctx, domain.NewAuctionRequest{
		ItemName:   "Golden Egg",
		StartTime:  lc.Clock.Now(),
		StartPrice: decimal.NewFromInt(100),
		FloorPrice: decimal.Zero,
		DecayRate:  decimal.NewFromInt(1),
	})
	require.NoError(t, err)
	n, err := lc.StartDue(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	a, err = lc.Get(ctx, a.ID)
	require.NoError(t, err)
	return a
}

// bumpVersion plays another writer that committed after our read.
func bumpVersion(t *testing.T, tx *sqlx.Tx, id uuid.UUID) {
	t.Helper()
	_, err := tx.Exec(tx.Rebind(`UPDATE auctions SET version = version + 1 WHERE id = ?`), id)
	require.NoError(t, err)
}

func TestApply_ConflictRetriesOnFreshRead(t *testing.T) {
	deps, _ := newRetryDeps(t, 5)
	lc := NewLifecycleService(deps)
	a := startAuction(t, lc)

	type read struct {
		row     *domain.Auction
		status  domain.AuctionStatus
		version int64
	}
	var reads []read
	got, err := lc.apply(context.Background(), a.ID, "pause", domain.EventStatusChanged,
		func(tx *sqlx.Tx, cur *domain.Auction, now time.Time, _ *violations) error {
			reads = append(reads, read{row: cur, status: cur.Status, version: cur.Version})
			if len(reads) == 1 {
				bumpVersion(t, tx, cur.ID)
			}
			return cur.Pause(now)
		})
	require.NoError(t, err)
	require.Len(t, reads, 2)
	// The second attempt works on a newly read row, not the first attempt's
	// already paused copy.
	require.NotSame(t, reads[0].row, reads[1].row)
	require.Equal(t, domain.StatusLive, reads[1].status)
	require.Equal(t, a.Version, reads[1].version)

	require.Equal(t, domain.StatusPaused, got.Status)
	stored, err := lc.Get(context.Background(), a.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusPaused, stored.Status)
	require.Equal(t, a.Version+1, stored.Version)
}

func TestApply_ConflictExhaustsRetries(t *testing.T) {
	deps, _ := newRetryDeps(t, 3)
	lc := NewLifecycleService(deps)
	a := startAuction(t, lc)

	attempts := 0
	_, err := lc.apply(context.Background(), a.ID, "pause", domain.EventStatusChanged,
		func(tx *sqlx.Tx, cur *domain.Auction, now time.Time, _ *violations) error {
			attempts++
			bumpVersion(t, tx, cur.ID)
			return cur.Pause(now)
		})
	require.ErrorIs(t, err, domain.ErrConcurrentUpdate)
	require.True(t, domain.IsTransient(err))
	require.Equal(t, 3, attempts)

	stored, err := lc.Get(context.Background(), a.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusLive, stored.Status)
	require.Equal(t, a.Version, stored.Version)
}

// lockWithoutBid breaks the lock/bid invariant the way a bad manual edit would.
func lockWithoutBid(t *testing.T, deps Deps, id uuid.UUID) {
	t.Helper()
	_, err := deps.DB.Exec(deps.DB.Rebind(
		`UPDATE auctions SET locked_by = ?, locked_at = ?, lock_expires_at = ? WHERE id = ?`),
		uuid.New(), deps.Clock.Now(), deps.Clock.Now().Add(time.Minute), id)
	require.NoError(t, err)
}

func TestApply_ViolationPagedOnceAfterCommit(t *testing.T) {
	deps, p := newRetryDeps(t, 5)
	lc := NewLifecycleService(deps)
	a := startAuction(t, lc)
	lockWithoutBid(t, deps, a.ID)

	attempts := 0
	got, err := lc.apply(context.Background(), a.ID, "cancel", domain.EventStatusChanged,
		func(tx *sqlx.Tx, cur *domain.Auction, now time.Time, seen *violations) error {
			attempts++
			if err := lc.endWithLock(context.Background(), tx, cur, now, domain.ReasonAuctionCancelled, seen, cur.Cancel); err != nil {
				return err
			}
			if attempts == 1 {
				bumpVersion(t, tx, cur.ID)
			}
			return nil
		})
	require.NoError(t, err)
	require.Equal(t, 2, attempts)
	require.Equal(t, domain.StatusCancelled, got.Status)
	require.Equal(t, 1, p.count())
	require.Equal(t, "lock_has_bid", p.pages[0].Rule)
}

func TestApply_RolledBackViolationNotPaged(t *testing.T) {
	deps, p := newRetryDeps(t, 5)
	lc := NewLifecycleService(deps)
	a := startAuction(t, lc)
	lockWithoutBid(t, deps, a.ID)

	boom := errors.New("boom")
	_, err := lc.apply(context.Background(), a.ID, "cancel", domain.EventStatusChanged,
		func(tx *sqlx.Tx, cur *domain.Auction, now time.Time, seen *violations) error {
			if err := lc.endWithLock(context.Background(), tx, cur, now, domain.ReasonAuctionCancelled, seen, cur.Cancel); err != nil {
				return err
			}
			return boom
		})
	require.ErrorIs(t, err, boom)
	require.Zero(t, p.count())

	stored, err := lc.Get(context.Background(), a.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusLive, stored.Status)
	require.True(t, stored.IsLocked())

	// The committed force release pages exactly once.
	released, err := NewLockService(deps).ForceRelease(context.Background(), a.ID)
	require.NoError(t, err)
	require.True(t, released)
	require.Equal(t, 1, p.count())
	require.Equal(t, "lock_has_bid", p.pages[0].Rule)
}
