package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chickenbids/auction/internal/domain"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// LifecycleService drives the auction state machine: automatic start at
// start_time and the privileged operator transitions. Every transition is a
// version-guarded write with the same atomicity as automatic ones.
type LifecycleService struct {
	Deps
}

// NewLifecycleService creates a LifecycleService.
func NewLifecycleService(deps Deps) *LifecycleService {
	return &LifecycleService{Deps: deps}
}

// Create validates and stores a new scheduled auction.
func (s *LifecycleService) Create(ctx context.Context, req domain.NewAuctionRequest) (*domain.Auction, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	a := domain.NewAuction(req, s.Clock.Now())
	if err := s.Auctions.Create(ctx, a); err != nil {
		return nil, fmt.Errorf("lifecycle_service.Create: %w", err)
	}
	s.Logger.Info("auction scheduled",
		"auction_id", a.ID, "item", a.ItemName, "start_time", a.StartTime,
		"start_price", a.StartPrice.StringFixed(2), "floor_price", a.FloorPrice.StringFixed(2))
	s.publish(a, domain.EventStatusChanged)
	return a, nil
}

// Get returns one auction.
func (s *LifecycleService) Get(ctx context.Context, id uuid.UUID) (*domain.Auction, error) {
	return s.Auctions.GetByID(ctx, id)
}

// Current returns the auction observers should be shown.
func (s *LifecycleService) Current(ctx context.Context) (*domain.Auction, error) {
	return s.Auctions.GetCurrent(ctx)
}

// List returns a page of auctions for operators.
func (s *LifecycleService) List(ctx context.Context, status string, limit, offset int) ([]*domain.Auction, int, error) {
	return s.Auctions.List(ctx, status, limit, offset)
}

// StartDue moves every scheduled auction whose start time has passed to live.
// It is driven by the periodic driver, never by a viewer's request.
func (s *LifecycleService) StartDue(ctx context.Context) (int, error) {
	scheduled, err := s.Auctions.ListByStatus(ctx, domain.StatusScheduled)
	if err != nil {
		return 0, fmt.Errorf("lifecycle_service.StartDue: %w", err)
	}

	now := s.Clock.Now()
	started := 0
	for _, a := range scheduled {
		if !a.IsDue(now) {
			continue
		}
		_, err := s.apply(ctx, a.ID, "start", domain.EventStatusChanged,
			func(_ *sqlx.Tx, a *domain.Auction, now time.Time, _ *violations) error {
				if !a.IsDue(now) {
					return errSkip
				}
				return a.Start(now)
			})
		switch {
		case errors.Is(err, errSkip):
		case err != nil:
			s.logOutcome("lifecycle_service.StartDue", err, "auction_id", a.ID)
		default:
			started++
		}
	}
	return started, nil
}

// Pause suspends decay and lock expiry.
func (s *LifecycleService) Pause(ctx context.Context, id uuid.UUID) (*domain.Auction, error) {
	return s.apply(ctx, id, "pause", domain.EventStatusChanged,
		func(_ *sqlx.Tx, a *domain.Auction, now time.Time, _ *violations) error { return a.Pause(now) })
}

// Resume returns a paused auction to live.
func (s *LifecycleService) Resume(ctx context.Context, id uuid.UUID) (*domain.Auction, error) {
	return s.apply(ctx, id, "resume", domain.EventStatusChanged,
		func(_ *sqlx.Tx, a *domain.Auction, now time.Time, _ *violations) error { return a.Resume(now) })
}

// Cancel aborts the auction, force-releasing any held lock in the same
// transaction.
func (s *LifecycleService) Cancel(ctx context.Context, id uuid.UUID) (*domain.Auction, error) {
	return s.apply(ctx, id, "cancel", domain.EventStatusChanged,
		func(tx *sqlx.Tx, a *domain.Auction, now time.Time, seen *violations) error {
			return s.endWithLock(ctx, tx, a, now, domain.ReasonAuctionCancelled, seen, a.Cancel)
		})
}

// ForceComplete closes the auction with no winner.
func (s *LifecycleService) ForceComplete(ctx context.Context, id uuid.UUID) (*domain.Auction, error) {
	return s.apply(ctx, id, "force_complete", domain.EventCompleted,
		func(tx *sqlx.Tx, a *domain.Auction, now time.Time, seen *violations) error {
			return s.endWithLock(ctx, tx, a, now, domain.ReasonAuctionClosed, seen, func(now time.Time) error {
				return a.Complete(nil, nil, now)
			})
		})
}

// errSkip aborts a transition whose precondition no longer holds after re-read.
var errSkip = errors.New("transition no longer applicable")

// endWithLock runs a terminal transition and expires the holder's Bid.
func (s *LifecycleService) endWithLock(
	ctx context.Context,
	tx *sqlx.Tx,
	a *domain.Auction,
	now time.Time,
	reason domain.ReleaseReason,
	seen *violations,
	end func(time.Time) error,
) error {
	wasLocked := a.IsLocked()
	if err := end(now); err != nil {
		return err
	}
	if !wasLocked {
		return nil
	}
	bid, err := s.expireActiveBid(ctx, tx, a.ID, reason, now)
	if err != nil {
		return err
	}
	if bid == nil {
		seen.add(a.ID, "lock_has_bid", "terminal transition found lock with no active bid")
	}
	return nil
}

// apply re-reads the auction, runs mutate and writes it back under the
// version guard, retrying on conflicts. Violations mutate records are
// escalated once the winning attempt has committed.
func (s *LifecycleService) apply(
	ctx context.Context,
	id uuid.UUID,
	op string,
	ev domain.EventType,
	mutate func(tx *sqlx.Tx, a *domain.Auction, now time.Time, seen *violations) error,
) (*domain.Auction, error) {
	var (
		out  *domain.Auction
		from domain.AuctionStatus
		seen violations
	)
	err := s.withRetry(ctx, func() error {
		out, seen = nil, nil
		return s.inTx(ctx, func(tx *sqlx.Tx) error {
			now := s.Clock.Now()
			a, err := s.Auctions.GetByIDTx(ctx, tx, id)
			if err != nil {
				return err
			}
			from = a.Status
			if err = mutate(tx, a, now, &seen); err != nil {
				return err
			}
			if err = s.Auctions.Update(ctx, tx, a); err != nil {
				return err
			}
			out = a
			return nil
		})
	})
	if err != nil {
		if errors.Is(err, errSkip) {
			return nil, err
		}
		if errors.Is(err, domain.ErrInvalidTransition) {
			s.Logger.Info("auction transition rejected", "auction_id", id, "op", op, "err", err)
		} else {
			s.logOutcome("lifecycle_service."+op, err, "auction_id", id)
		}
		return nil, fmt.Errorf("lifecycle_service.%s: %w", op, err)
	}
	s.escalateAll(ctx, seen)
	s.Logger.Info("auction transition", "auction_id", id, "op", op, "from", from, "to", out.Status)
	s.publish(out, ev)
	return out, nil
}
