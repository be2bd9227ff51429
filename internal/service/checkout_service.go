package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/chickenbids/auction/internal/domain"
	"github.com/google/uuid"
)

// CheckoutService takes the purchase lock and then opens a payment with the
// gateway. The gateway call happens strictly after the lock transaction has
// committed.
type CheckoutService struct {
	Deps
	locks   *LockService
	gateway PaymentGateway // optional; nil means lock only
}

// NewCheckoutService creates a CheckoutService.
func NewCheckoutService(deps Deps, locks *LockService, gateway PaymentGateway) *CheckoutService {
	return &CheckoutService{Deps: deps, locks: locks, gateway: gateway}
}

// Begin locks the auction for actor and creates a payment intent for the
// locked price. If the gateway fails the lock is released with reason
// payment_failed, any credit it cost is returned and
// domain.ErrPaymentUnavailable is returned.
//
// With a gateway wired, a price of zero cannot be charged: Begin refuses with
// domain.ErrNotChargeable, before locking when the persisted price is already
// zero.
func (s *CheckoutService) Begin(ctx context.Context, auctionID, actorID uuid.UUID) (*domain.Checkout, error) {
	if s.gateway != nil {
		a, err := s.Auctions.GetByID(ctx, auctionID)
		if err != nil {
			return nil, fmt.Errorf("checkout_service.Begin: %w", err)
		}
		if !a.CurrentPrice.IsPositive() {
			return nil, fmt.Errorf("checkout_service.Begin: %w: %s", domain.ErrNotChargeable, a.CurrentPrice.StringFixed(2))
		}
	}

	bid, err := s.locks.Acquire(ctx, auctionID, actorID)
	if err != nil {
		return nil, err
	}
	out := &domain.Checkout{Bid: bid}
	if s.gateway == nil {
		return out, nil
	}

	// The price may have reached zero between the check and the lock.
	if !bid.BidPrice.IsPositive() {
		s.abandon(ctx, bid, "zero price")
		return nil, fmt.Errorf("checkout_service.Begin: %w: %s", domain.ErrNotChargeable, bid.BidPrice.StringFixed(2))
	}

	description := "Auction " + auctionID.String()
	if a, err := s.Auctions.GetByID(ctx, auctionID); err == nil {
		description = strings.TrimSpace(a.ItemName + " " + a.ItemVariant)
	}

	intent, err := s.gateway.CreateIntent(ctx, domain.IntentRequest{
		AuctionID:   auctionID,
		BidID:       bid.ID,
		ActorID:     actorID,
		Amount:      bid.BidPrice,
		Currency:    s.Cfg.Payment.Currency,
		Description: description,
	})
	if err != nil {
		s.abandon(ctx, bid, err.Error())
		return nil, fmt.Errorf("checkout_service.Begin: %w: %v", domain.ErrPaymentUnavailable, err)
	}

	if err = s.Bids.SetPaymentRef(ctx, bid.ID, intent.Reference); err != nil {
		s.Logger.Warn("store payment reference failed", "bid_id", bid.ID, "err", err)
	}
	out.Payment = intent
	return out, nil
}

// abandon gives the lock and its credit back after checkout could not open a
// payment. It outlives the caller's cancellation.
func (s *CheckoutService) abandon(ctx context.Context, bid *domain.Bid, cause string) {
	s.Logger.Warn("checkout abandoned, releasing lock",
		"auction_id", bid.AuctionID, "bid_id", bid.ID, "cause", cause)
	if _, err := s.locks.abandon(context.WithoutCancel(ctx), bid); err != nil {
		s.Logger.Error("release after checkout failure", "auction_id", bid.AuctionID, "bid_id", bid.ID, "err", err)
	}
}
