package service_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/chickenbids/auction/internal/config"
	"github.com/chickenbids/auction/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// TestAcquire_ConcurrentExactlyOneWins fires many simultaneous lock attempts
// at one auction. Exactly one must win; every other caller sees AlreadyLocked.
func TestAcquire_ConcurrentExactlyOneWins(t *testing.T) {
	f := newFixture(t)
	a := f.liveAuction("100", "0", "1")

	const N = 20
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []uuid.UUID
		losers  int
		other   []error
	)
	start := make(chan struct{})
	for i := 0; i < N; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			actor := uuid.New()
			<-start
			_, err := f.locks.Acquire(f.ctx, a.ID, actor)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners = append(winners, actor)
			case errors.Is(err, domain.ErrAlreadyLocked):
				losers++
			default:
				other = append(other, err)
			}
		}()
	}
	close(start)
	wg.Wait()

	require.Empty(t, other)
	require.Len(t, winners, 1)
	require.Equal(t, N-1, losers)

	got := f.reload(a.ID)
	require.True(t, got.IsHeldBy(winners[0]))
	active, err := f.deps.Bids.ListActive(f.ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, winners[0], active[0].UserID)
	f.requireConsistent()
}

func TestAcquire_Rejections(t *testing.T) {
	f := newFixture(t)

	// Scheduled auctions cannot be locked.
	a, err := f.lifecycle.Create(f.ctx, domain.NewAuctionRequest{
		ItemName:   "Golden Egg",
		StartTime:  t0.Add(time.Hour),
		StartPrice: dec("100"),
		FloorPrice: dec("10"),
		DecayRate:  dec("1"),
	})
	require.NoError(t, err)
	_, err = f.locks.Acquire(f.ctx, a.ID, uuid.New())
	require.ErrorIs(t, err, domain.ErrAuctionNotLive)

	_, err = f.locks.Acquire(f.ctx, uuid.New(), uuid.New())
	require.ErrorIs(t, err, domain.ErrAuctionNotFound)

	// The holder cannot take the lock twice.
	live := f.liveAuction("100", "0", "1")
	buyer := uuid.New()
	_, err = f.locks.Acquire(f.ctx, live.ID, buyer)
	require.NoError(t, err)
	_, err = f.locks.Acquire(f.ctx, live.ID, buyer)
	require.ErrorIs(t, err, domain.ErrAlreadyLocked)
}

// A lock past its TTL is released inline by the next acquirer even if the
// sweep never ran.
func TestAcquire_LazyExpiry(t *testing.T) {
	f := newFixture(t)
	a := f.liveAuction("100", "0", "1")
	f.tickAfter(30 * time.Second)

	first, err := f.locks.Acquire(f.ctx, a.ID, uuid.New())
	require.NoError(t, err)

	f.clock.Advance(61 * time.Second)
	second := uuid.New()
	bid, err := f.locks.Acquire(f.ctx, a.ID, second)
	require.NoError(t, err)
	require.True(t, bid.BidPrice.Equal(dec("70")))

	old := f.bid(first.ID)
	require.Equal(t, domain.BidExpired, old.Status)
	require.Equal(t, domain.ReasonTimeout, *old.ReleaseReason)
	require.True(t, f.reload(a.ID).IsHeldBy(second))
	f.requireConsistent()
}

func TestRelease(t *testing.T) {
	f := newFixture(t)
	a := f.liveAuction("100", "0", "1")

	// Releasing an unlocked auction is a no-op.
	ok, err := f.locks.Release(f.ctx, a.ID, uuid.New(), domain.ReasonCancelled)
	require.NoError(t, err)
	require.False(t, ok)

	holder := uuid.New()
	bid, err := f.locks.Acquire(f.ctx, a.ID, holder)
	require.NoError(t, err)

	_, err = f.locks.Release(f.ctx, a.ID, uuid.New(), domain.ReasonCancelled)
	require.ErrorIs(t, err, domain.ErrLockNotHeldByActor)
	require.True(t, f.reload(a.ID).IsHeldBy(holder))

	ok, err = f.locks.Release(f.ctx, a.ID, holder, domain.ReasonCancelled)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, domain.ReasonCancelled, *f.bid(bid.ID).ReleaseReason)

	// Second release is idempotent.
	ok, err = f.locks.Release(f.ctx, a.ID, holder, domain.ReasonCancelled)
	require.NoError(t, err)
	require.False(t, ok)

	require.Equal(t, []domain.EventType{
		domain.EventStatusChanged, // created
		domain.EventStatusChanged, // started
		domain.EventLockAcquired,
		domain.EventLockReleased,
	}, f.bc.types())
}

func TestForceRelease(t *testing.T) {
	f := newFixture(t)
	a := f.liveAuction("100", "0", "1")
	bid, err := f.locks.Acquire(f.ctx, a.ID, uuid.New())
	require.NoError(t, err)

	ok, err := f.locks.ForceRelease(f.ctx, a.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.False(t, f.reload(a.ID).IsLocked())
	require.Equal(t, domain.ReasonOperator, *f.bid(bid.ID).ReleaseReason)
	f.requireConsistent()
}

// Pausing suspends the lock TTL: the paused interval does not count.
func TestPause_SuspendsLockExpiry(t *testing.T) {
	f := newFixture(t)
	a := f.liveAuction("100", "0", "1")
	_, err := f.locks.Acquire(f.ctx, a.ID, uuid.New())
	require.NoError(t, err)

	f.clock.Advance(30 * time.Second)
	_, err = f.lifecycle.Pause(f.ctx, a.ID)
	require.NoError(t, err)

	f.clock.Advance(120 * time.Second)
	n, err := f.locks.ExpireStale(f.ctx)
	require.NoError(t, err)
	require.Zero(t, n)

	_, err = f.lifecycle.Resume(f.ctx, a.ID)
	require.NoError(t, err)

	f.clock.Advance(29 * time.Second)
	n, err = f.locks.ExpireStale(f.ctx)
	require.NoError(t, err)
	require.Zero(t, n)

	f.clock.Advance(2 * time.Second)
	n, err = f.locks.ExpireStale(f.ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	f.requireConsistent()
}

// Pausing suspends decay: the paused interval does not lower the price.
func TestPause_SuspendsDecay(t *testing.T) {
	f := newFixture(t)
	a := f.liveAuction("100", "0", "1")
	f.tickAfter(10 * time.Second)

	paused, err := f.lifecycle.Pause(f.ctx, a.ID)
	require.NoError(t, err)
	requirePrice(t, paused, "90")

	f.tickAfter(100 * time.Second)
	requirePrice(t, f.reload(a.ID), "90")

	_, err = f.lifecycle.Pause(f.ctx, a.ID)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
	_, err = f.locks.Acquire(f.ctx, a.ID, uuid.New())
	require.ErrorIs(t, err, domain.ErrAuctionNotLive)

	_, err = f.lifecycle.Resume(f.ctx, a.ID)
	require.NoError(t, err)
	f.tickAfter(5 * time.Second)
	requirePrice(t, f.reload(a.ID), "85")
}

func TestDecay_StopsAtFloor(t *testing.T) {
	f := newFixture(t)
	a := f.liveAuction("100", "90", "1")

	f.tickAfter(45 * time.Second)
	requirePrice(t, f.reload(a.ID), "90")

	n, err := f.pricing.Tick(f.ctx)
	require.NoError(t, err)
	require.Zero(t, n)

	// The floor is still purchasable.
	bid, err := f.locks.Acquire(f.ctx, a.ID, uuid.New())
	require.NoError(t, err)
	require.True(t, bid.BidPrice.Equal(dec("90")))
}

// A driver that starts the auction late still prices from start_time.
func TestStartDue_AnchorsAtStartTime(t *testing.T) {
	f := newFixture(t)
	a, err := f.lifecycle.Create(f.ctx, domain.NewAuctionRequest{
		ItemName:   "Golden Egg",
		StartTime:  t0.Add(10 * time.Second),
		StartPrice: dec("100"),
		FloorPrice: dec("0"),
		DecayRate:  dec("0.5"),
	})
	require.NoError(t, err)

	n, err := f.lifecycle.StartDue(f.ctx)
	require.NoError(t, err)
	require.Zero(t, n)

	f.clock.Advance(20 * time.Second)
	n, err = f.lifecycle.StartDue(f.ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	got := f.reload(a.ID)
	require.Equal(t, domain.StatusLive, got.Status)
	requirePrice(t, got, "95")

	cur, err := f.lifecycle.Current(f.ctx)
	require.NoError(t, err)
	require.Equal(t, a.ID, cur.ID)
}

func TestForceComplete_NoWinner(t *testing.T) {
	f := newFixture(t)
	a := f.liveAuction("100", "0", "1")
	bid, err := f.locks.Acquire(f.ctx, a.ID, uuid.New())
	require.NoError(t, err)

	got, err := f.lifecycle.ForceComplete(f.ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusCompleted, got.Status)
	require.Nil(t, got.WinnerID)
	require.Nil(t, got.WinningPrice)
	require.Equal(t, domain.ReasonAuctionClosed, *f.bid(bid.ID).ReleaseReason)

	_, err = f.lifecycle.Cancel(f.ctx, a.ID)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
	f.requireConsistent()
}

func TestAcquire_SpendsCredit(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.Auction.RequireCredit = true })
	a := f.liveAuction("100", "0", "1")
	buyer := uuid.New()

	_, err := f.locks.Acquire(f.ctx, a.ID, buyer)
	require.ErrorIs(t, err, domain.ErrNoCredit)
	require.False(t, f.reload(a.ID).IsLocked())

	_, err = f.deps.Participants.AddCredits(f.ctx, buyer, 1, f.clock.Now())
	require.NoError(t, err)
	_, err = f.locks.Acquire(f.ctx, a.ID, buyer)
	require.NoError(t, err)

	p, err := f.deps.Participants.Get(f.ctx, buyer)
	require.NoError(t, err)
	require.Zero(t, p.Credits)
}
