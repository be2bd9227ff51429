package service_test

import (
	"testing"
	"time"

	"github.com/chickenbids/auction/internal/domain"
	"github.com/chickenbids/auction/internal/service"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// An unlocked live auction decays linearly from its start time.
func TestScenarioA_DecayFromAbsoluteTime(t *testing.T) {
	f := newFixture(t)
	a := f.liveAuction("100", "0", "1")
	requirePrice(t, a, "100")

	f.tickAfter(30 * time.Second)
	requirePrice(t, f.reload(a.ID), "70")

	// A duplicate tick at the same instant writes nothing.
	n, err := f.pricing.Tick(f.ctx)
	require.NoError(t, err)
	require.Zero(t, n)
	requirePrice(t, f.reload(a.ID), "70")
	f.requireConsistent()
}

// Ticks that fire while a lock is held leave the price frozen.
func TestScenarioB_LockFreezesPrice(t *testing.T) {
	f := newFixture(t)
	a := f.liveAuction("100", "0", "1")
	f.tickAfter(30 * time.Second)

	buyer := uuid.New()
	bid, err := f.locks.Acquire(f.ctx, a.ID, buyer)
	require.NoError(t, err)
	require.True(t, bid.BidPrice.Equal(dec("70")))

	for i := 0; i < 10; i++ {
		f.tickAfter(time.Second)
	}
	got := f.reload(a.ID)
	requirePrice(t, got, "70")
	require.True(t, got.IsHeldBy(buyer))

	_, err = f.locks.Release(f.ctx, a.ID, buyer, domain.ReasonCancelled)
	require.NoError(t, err)
	f.tickAfter(5 * time.Second)
	requirePrice(t, f.reload(a.ID), "65")
	f.requireConsistent()
}

// A lock with no payment outcome inside its TTL is swept and decay resumes
// from the locked price.
func TestScenarioC_LockExpiresAndDecayResumes(t *testing.T) {
	f := newFixture(t)
	a := f.liveAuction("100", "0", "1")
	f.tickAfter(30 * time.Second)

	bid, err := f.locks.Acquire(f.ctx, a.ID, uuid.New())
	require.NoError(t, err)

	// Exactly at the expiry instant the lock still holds.
	f.clock.Advance(60 * time.Second)
	n, err := f.locks.ExpireStale(f.ctx)
	require.NoError(t, err)
	require.Zero(t, n)

	f.clock.Advance(time.Second)
	n, err = f.locks.ExpireStale(f.ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	got := f.reload(a.ID)
	require.False(t, got.IsLocked())
	requirePrice(t, got, "70")

	b := f.bid(bid.ID)
	require.Equal(t, domain.BidExpired, b.Status)
	require.NotNil(t, b.ReleaseReason)
	require.Equal(t, domain.ReasonTimeout, *b.ReleaseReason)

	f.tickAfter(10 * time.Second)
	requirePrice(t, f.reload(a.ID), "60")
	f.requireConsistent()
}

// A payment success completes the auction once; the duplicate callback is a
// no-op.
func TestScenarioD_SettlementIsIdempotent(t *testing.T) {
	f := newFixture(t)
	a := f.liveAuction("100", "0", "1")
	f.tickAfter(30 * time.Second)

	buyer := uuid.New()
	bid, err := f.locks.Acquire(f.ctx, a.ID, buyer)
	require.NoError(t, err)

	res, err := f.settlement.Reconcile(f.ctx, bid.ID, domain.PaymentSucceeded)
	require.NoError(t, err)
	require.Equal(t, service.ResultCompleted, res)

	got := f.reload(a.ID)
	require.Equal(t, domain.StatusCompleted, got.Status)
	require.NotNil(t, got.WinnerID)
	require.Equal(t, buyer, *got.WinnerID)
	require.True(t, got.WinningPrice.Equal(dec("70")))
	require.False(t, got.IsLocked())
	require.NotNil(t, got.EndedAt)
	require.Equal(t, domain.BidWon, f.bid(bid.ID).Status)
	version := got.Version

	res, err = f.settlement.Reconcile(f.ctx, bid.ID, domain.PaymentSucceeded)
	require.NoError(t, err)
	require.Equal(t, service.ResultNoop, res)
	require.Equal(t, version, f.reload(a.ID).Version)

	// The winner notice went out exactly once.
	require.Len(t, f.notifier.notices, 1)
	require.Equal(t, buyer, f.notifier.notices[0].WinnerID)
	f.requireConsistent()
}

// Cancelling a locked auction expires the bid and ends in a sink state.
func TestScenarioE_CancelForceReleases(t *testing.T) {
	f := newFixture(t)
	a := f.liveAuction("100", "0", "1")
	f.tickAfter(30 * time.Second)

	bid, err := f.locks.Acquire(f.ctx, a.ID, uuid.New())
	require.NoError(t, err)

	got, err := f.lifecycle.Cancel(f.ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusCancelled, got.Status)
	require.False(t, got.IsLocked())

	b := f.bid(bid.ID)
	require.Equal(t, domain.BidExpired, b.Status)
	require.Equal(t, domain.ReasonAuctionCancelled, *b.ReleaseReason)

	_, err = f.lifecycle.Resume(f.ctx, a.ID)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
	_, err = f.lifecycle.ForceComplete(f.ctx, a.ID)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
	_, err = f.locks.Acquire(f.ctx, a.ID, uuid.New())
	require.ErrorIs(t, err, domain.ErrAuctionNotLive)

	// A payment success for the cancelled sale cannot revive it.
	_, err = f.settlement.Reconcile(f.ctx, bid.ID, domain.PaymentSucceeded)
	require.ErrorIs(t, err, domain.ErrInvariantViolation)
	require.Equal(t, 1, f.esc.count())
	require.Equal(t, domain.StatusCancelled, f.reload(a.ID).Status)
}
