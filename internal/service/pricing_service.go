package service

import (
	"context"
	"fmt"

	"github.com/chickenbids/auction/internal/domain"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// PricingService persists the authoritative decayed price of every live
// auction and announces it to observers.
type PricingService struct {
	Deps
}

// NewPricingService creates a PricingService.
func NewPricingService(deps Deps) *PricingService {
	return &PricingService{Deps: deps}
}

// Tick re-derives the price of each live, unlocked auction from absolute
// elapsed time and persists it if it moved down.
//
// Tick is idempotent and safe to run concurrently with itself: a duplicate
// tick computes the same price and writes nothing, and a racing tick loses
// the version check and re-reads. A failure on one auction is logged and
// skipped; the next tick is the retry. Returns the number of prices written.
func (s *PricingService) Tick(ctx context.Context) (int, error) {
	live, err := s.Auctions.ListByStatus(ctx, domain.StatusLive)
	if err != nil {
		return 0, fmt.Errorf("pricing_service.Tick: %w", err)
	}

	moved := 0
	for _, a := range live {
		if a.IsLocked() || a.AtFloor() {
			continue
		}
		ok, err := s.tickOne(ctx, a.ID)
		if err != nil {
			s.logOutcome("pricing_service.Tick", err, "auction_id", a.ID)
			continue
		}
		if ok {
			moved++
		}
	}
	return moved, nil
}

func (s *PricingService) tickOne(ctx context.Context, auctionID uuid.UUID) (bool, error) {
	var updated *domain.Auction
	err := s.withRetry(ctx, func() error {
		updated = nil
		return s.inTx(ctx, func(tx *sqlx.Tx) error {
			now := s.Clock.Now()
			a, err := s.Auctions.GetByIDTx(ctx, tx, auctionID)
			if err != nil {
				return err
			}
			if a.Status != domain.StatusLive || a.IsLocked() {
				return nil
			}
			// Never raise the persisted price: only strictly lower values
			// are written.
			price := a.PriceAt(now)
			if !price.LessThan(a.CurrentPrice) {
				return nil
			}
			a.CurrentPrice = price
			a.UpdatedAt = now
			if err = s.Auctions.Update(ctx, tx, a); err != nil {
				return err
			}
			updated = a
			return nil
		})
	})
	if err != nil {
		return false, err
	}
	if updated == nil {
		return false, nil
	}

	s.Logger.Debug("price ticked", "auction_id", auctionID, "price", updated.CurrentPrice.StringFixed(2))
	s.publish(updated, domain.EventPriceUpdate)
	return true, nil
}
