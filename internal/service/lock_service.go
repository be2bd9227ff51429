package service

import (
	"context"
	"fmt"
	"time"

	"github.com/chickenbids/auction/internal/domain"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// LockService grants at most one exclusive, time-bounded purchase lock per
// auction.
//
// Mutual exclusion rests on the version-guarded auction update, not on any
// in-process mutex, so several API instances can run side by side.
type LockService struct {
	Deps
}

// NewLockService creates a LockService.
func NewLockService(deps Deps) *LockService {
	return &LockService{Deps: deps}
}

// ──────────────────────────────────────────────────────────────────────────────
// Acquire
// ──────────────────────────────────────────────────────────────────────────────

// Acquire locks the auction for actor at the persisted current price and
// records the matching active Bid, all in one transaction.
//
// A lock whose TTL has passed is released first (lazy expiry), so a buyer is
// never refused because the sweep has not run yet.
//
// Returns domain.ErrAlreadyLocked, domain.ErrAuctionNotLive or
// domain.ErrNoCredit as expected outcomes.
func (s *LockService) Acquire(ctx context.Context, auctionID, actorID uuid.UUID) (*domain.Bid, error) {
	var (
		bid     *domain.Bid
		auction *domain.Auction
		expired *domain.Bid
		seen    violations
	)

	err := s.withRetry(ctx, func() error {
		expired, seen = nil, nil
		return s.inTx(ctx, func(tx *sqlx.Tx) error {
			now := s.Clock.Now()

			// ── 1. Read the row we are about to conditionally write ──────────
			a, err := s.Auctions.GetByIDTx(ctx, tx, auctionID)
			if err != nil {
				return err
			}

			// ── 2. Lazy expiry of a stale lock ───────────────────────────────
			if a.LockExpired(now) {
				if expired, err = s.releaseTx(ctx, tx, a, domain.ReasonTimeout, now, &seen); err != nil {
					return err
				}
			}

			// ── 3. Capture the persisted price and take the lock ─────────────
			price, err := a.Lock(actorID, now, s.Cfg.Auction.LockDuration)
			if err != nil {
				return err
			}

			// ── 4. Spend a participation credit ──────────────────────────────
			if s.Cfg.Auction.RequireCredit {
				if err = s.Participants.SpendCredit(ctx, tx, actorID, now); err != nil {
					return err
				}
			}

			// ── 5. Conditional write keyed on the version we read ────────────
			if err = s.Auctions.Update(ctx, tx, a); err != nil {
				return err
			}

			// ── 6. Audit record ──────────────────────────────────────────────
			b := &domain.Bid{
				ID:        uuid.New(),
				AuctionID: a.ID,
				UserID:    actorID,
				BidPrice:  price,
				Status:    domain.BidActive,
				ExpiresAt: *a.LockExpiresAt,
				CreatedAt: now,
			}
			if err = s.Bids.Create(ctx, tx, b); err != nil {
				return err
			}

			bid, auction = b, a
			return nil
		})
	})
	if err != nil {
		s.logOutcome("lock_service.Acquire", err, "auction_id", auctionID, "actor_id", actorID)
		return nil, fmt.Errorf("lock_service.Acquire: %w", err)
	}
	s.escalateAll(ctx, seen)

	if expired != nil {
		s.Logger.Info("lock expired lazily", "auction_id", auctionID, "bid_id", expired.ID)
	}
	s.Logger.Info("lock acquired",
		"auction_id", auctionID, "actor_id", actorID, "bid_id", bid.ID,
		"price", bid.BidPrice.StringFixed(2), "expires_at", bid.ExpiresAt)
	s.publish(auction, domain.EventLockAcquired)
	return bid, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Release
// ──────────────────────────────────────────────────────────────────────────────

// Release clears actor's lock and expires their Bid. It is a no-op when the
// auction is already unlocked, and fails with domain.ErrLockNotHeldByActor
// when someone else holds it.
func (s *LockService) Release(ctx context.Context, auctionID, actorID uuid.UUID, reason domain.ReleaseReason) (bool, error) {
	return s.release(ctx, auctionID, &actorID, reason, nil)
}

// ForceRelease clears whatever lock is held, on operator authority.
func (s *LockService) ForceRelease(ctx context.Context, auctionID uuid.UUID) (bool, error) {
	return s.release(ctx, auctionID, nil, domain.ReasonOperator, nil)
}

// abandon releases the lock bid holds after checkout could not open a payment,
// and gives back the participation credit the lock cost.
func (s *LockService) abandon(ctx context.Context, bid *domain.Bid) (bool, error) {
	return s.release(ctx, bid.AuctionID, &bid.UserID, domain.ReasonPaymentFailed, &bid.ID)
}

// release with a nil actor skips the holder check. A non-nil refundBid
// returns the spent credit when that bid is the one expired.
func (s *LockService) release(
	ctx context.Context,
	auctionID uuid.UUID,
	actor *uuid.UUID,
	reason domain.ReleaseReason,
	refundBid *uuid.UUID,
) (bool, error) {
	var (
		auction  *domain.Auction
		released bool
		refunded bool
		seen     violations
	)
	err := s.withRetry(ctx, func() error {
		released, refunded, seen = false, false, nil
		return s.inTx(ctx, func(tx *sqlx.Tx) error {
			a, err := s.Auctions.GetByIDTx(ctx, tx, auctionID)
			if err != nil {
				return err
			}
			if !a.IsLocked() {
				return nil
			}
			if actor != nil && !a.IsHeldBy(*actor) {
				return domain.ErrLockNotHeldByActor
			}
			now := s.Clock.Now()
			bid, err := s.releaseTx(ctx, tx, a, reason, now, &seen)
			if err != nil {
				return err
			}
			if refundBid != nil && s.Cfg.Auction.RequireCredit && bid != nil && bid.ID == *refundBid {
				if err = s.Participants.RefundCredit(ctx, tx, bid.UserID, now); err != nil {
					return err
				}
				refunded = true
			}
			auction, released = a, true
			return nil
		})
	})
	if err != nil {
		s.logOutcome("lock_service.Release", err, "auction_id", auctionID, "reason", reason)
		return false, fmt.Errorf("lock_service.Release: %w", err)
	}
	s.escalateAll(ctx, seen)
	if released {
		s.Logger.Info("lock released", "auction_id", auctionID, "reason", reason, "credit_refunded", refunded)
		s.publish(auction, domain.EventLockReleased)
	}
	return released, nil
}

// releaseTx unlocks a, resumes decay from the frozen price and expires the
// holder's Bid, all inside tx. Broken invariants are recorded in seen. The
// caller owns retry, escalation and broadcast.
func (s *LockService) releaseTx(
	ctx context.Context,
	tx *sqlx.Tx,
	a *domain.Auction,
	reason domain.ReleaseReason,
	now time.Time,
	seen *violations,
) (*domain.Bid, error) {
	if !a.IsLocked() {
		return nil, nil
	}
	holder := *a.LockedBy

	a.Unlock(now)
	if err := s.Auctions.Update(ctx, tx, a); err != nil {
		return nil, err
	}

	bid, err := s.expireActiveBid(ctx, tx, a.ID, reason, now)
	if err != nil {
		return nil, err
	}
	switch {
	case bid == nil:
		seen.add(a.ID, "lock_has_bid", fmt.Sprintf("released lock of %s had no active bid", holder))
	case bid.UserID != holder:
		seen.add(a.ID, "bid_matches_lock",
			fmt.Sprintf("active bid %s by %s but lock held by %s", bid.ID, bid.UserID, holder))
	}
	return bid, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Expiry sweep
// ──────────────────────────────────────────────────────────────────────────────

// ExpireStale releases every live lock whose TTL has passed, exactly as
// Release(..., timeout) would. It returns the number of locks released.
// One auction failing does not stop the sweep.
func (s *LockService) ExpireStale(ctx context.Context) (int, error) {
	live, err := s.Auctions.ListByStatus(ctx, domain.StatusLive)
	if err != nil {
		return 0, fmt.Errorf("lock_service.ExpireStale: %w", err)
	}

	now := s.Clock.Now()
	count := 0
	for _, a := range live {
		if !a.LockExpired(now) {
			continue
		}
		ok, err := s.expireOne(ctx, a.ID)
		if err != nil {
			s.logOutcome("lock_service.ExpireStale", err, "auction_id", a.ID)
			continue
		}
		if ok {
			count++
		}
	}
	return count, nil
}

// expireOne re-checks expiry under the transaction before releasing, so a
// settlement that committed in between wins.
func (s *LockService) expireOne(ctx context.Context, auctionID uuid.UUID) (bool, error) {
	var (
		auction *domain.Auction
		bid     *domain.Bid
		seen    violations
	)
	err := s.withRetry(ctx, func() error {
		auction, bid, seen = nil, nil, nil
		return s.inTx(ctx, func(tx *sqlx.Tx) error {
			now := s.Clock.Now()
			a, err := s.Auctions.GetByIDTx(ctx, tx, auctionID)
			if err != nil {
				return err
			}
			if !a.LockExpired(now) {
				return nil
			}
			if bid, err = s.releaseTx(ctx, tx, a, domain.ReasonTimeout, now, &seen); err != nil {
				return err
			}
			auction = a
			return nil
		})
	})
	if err != nil || auction == nil {
		return false, err
	}
	s.escalateAll(ctx, seen)

	attrs := []any{"auction_id", auctionID, "resume_price", auction.CurrentPrice.StringFixed(2)}
	if bid != nil {
		attrs = append(attrs, "bid_id", bid.ID, "actor_id", bid.UserID)
	}
	s.Logger.Info("lock expired", attrs...)
	s.publish(auction, domain.EventLockReleased)
	return true, nil
}
