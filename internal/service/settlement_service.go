package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chickenbids/auction/internal/concurrency"
	"github.com/chickenbids/auction/internal/domain"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// ReconcileResult says what a reconciliation did.
type ReconcileResult string

const (
	ResultCompleted ReconcileResult = "completed" // bid won, auction completed
	ResultReleased  ReconcileResult = "released"  // payment failed, lock released
	ResultNoop      ReconcileResult = "noop"      // duplicate or already resolved
)

// SettlementService converts at-least-once payment outcomes into a single
// final state change, then fans out rewards and the winner notice.
type SettlementService struct {
	Deps
	locks      *LockService
	rewards    *RewardService
	notifier   Notifier   // optional
	dispatcher Dispatcher // optional; nil runs side effects on a goroutine
}

// NewSettlementService creates a SettlementService.
func NewSettlementService(deps Deps, locks *LockService, rewards *RewardService) *SettlementService {
	return &SettlementService{Deps: deps, locks: locks, rewards: rewards}
}

// SetNotifier injects the notification dispatcher post-construction.
func (s *SettlementService) SetNotifier(n Notifier) { s.notifier = n }

// SetDispatcher injects the post-commit worker pool post-construction.
func (s *SettlementService) SetDispatcher(d Dispatcher) { s.dispatcher = d }

// ──────────────────────────────────────────────────────────────────────────────
// HandlePaymentEvent
// ──────────────────────────────────────────────────────────────────────────────

// HandlePaymentEvent cross-checks a verified gateway callback against the
// stored bid and reconciles it. Callbacks whose metadata does not match are
// rejected with domain.ErrPaymentMismatch and never actioned. A mismatched
// success means money moved that no bid accounts for, so it is escalated.
func (s *SettlementService) HandlePaymentEvent(ctx context.Context, ev domain.PaymentEvent) (ReconcileResult, error) {
	bid, err := s.Bids.GetByID(ctx, ev.BidID)
	if err != nil {
		if errors.Is(err, domain.ErrBidNotFound) {
			err = fmt.Errorf("%w: unknown bid %s", domain.ErrPaymentMismatch, ev.BidID)
			s.rejectPayment(ctx, ev, err)
			return "", err
		}
		s.Logger.Warn("payment event rejected", "event_id", ev.EventID, "bid_id", ev.BidID, "err", err)
		return "", err
	}

	switch {
	case bid.AuctionID != ev.AuctionID:
		err = fmt.Errorf("%w: auction %s, bid belongs to %s", domain.ErrPaymentMismatch, ev.AuctionID, bid.AuctionID)
	case bid.UserID != ev.ActorID:
		err = fmt.Errorf("%w: actor %s, bid belongs to %s", domain.ErrPaymentMismatch, ev.ActorID, bid.UserID)
	case ev.Outcome == domain.PaymentSucceeded && !ev.Amount.Equal(bid.BidPrice):
		err = fmt.Errorf("%w: charged %s, bid price %s", domain.ErrPaymentMismatch, ev.Amount, bid.BidPrice)
	}
	if err != nil {
		s.rejectPayment(ctx, ev, err)
		return "", err
	}

	if ev.Reference != "" && bid.PaymentRef == nil {
		if err = s.Bids.SetPaymentRef(ctx, bid.ID, ev.Reference); err != nil {
			s.Logger.Warn("store payment reference failed", "bid_id", bid.ID, "err", err)
		}
	}
	return s.Reconcile(ctx, bid.ID, ev.Outcome)
}

func (s *SettlementService) rejectPayment(ctx context.Context, ev domain.PaymentEvent, err error) {
	s.Logger.Warn("payment event rejected", "event_id", ev.EventID, "bid_id", ev.BidID, "err", err)
	if ev.Outcome != domain.PaymentSucceeded {
		return
	}
	s.escalate(ctx, domain.Violation{
		AuctionID: ev.AuctionID,
		Rule:      "payment_mismatch",
		Detail: fmt.Sprintf("event %s (ref %s) charged %s to actor %s: %v",
			ev.EventID, ev.Reference, ev.Amount.StringFixed(2), ev.ActorID, err),
	})
}

// ──────────────────────────────────────────────────────────────────────────────
// Reconcile
// ──────────────────────────────────────────────────────────────────────────────

// Reconcile applies a payment outcome to a bid. It is idempotent: a bid that
// is already won (or, for a failure, already expired) is a no-op success.
//
// Success marks the bid won and completes the auction with the winner fields
// in one transaction. A success for a bid whose lock already expired is
// honoured at the original bid price when HonorLatePayment is set, releasing
// any newer lock as superseded; otherwise domain.ErrLatePayment is returned.
//
// Failure releases the lock with reason payment_failed and decay resumes.
func (s *SettlementService) Reconcile(ctx context.Context, bidID uuid.UUID, outcome domain.PaymentOutcome) (ReconcileResult, error) {
	var (
		result     ReconcileResult
		auction    *domain.Auction
		bid        *domain.Bid
		superseded *domain.Bid
		seen       violations
	)

	err := s.withRetry(ctx, func() error {
		result, auction, bid, superseded, seen = "", nil, nil, nil, nil
		return s.inTx(ctx, func(tx *sqlx.Tx) error {
			now := s.Clock.Now()
			b, err := s.Bids.GetByIDTx(ctx, tx, bidID)
			if err != nil {
				return err
			}
			a, err := s.Auctions.GetByIDTx(ctx, tx, b.AuctionID)
			if err != nil {
				return err
			}
			bid, auction = b, a

			if outcome == domain.PaymentFailed {
				result, err = s.failTx(ctx, tx, a, b, now, &seen)
				return err
			}
			result, superseded, err = s.succeedTx(ctx, tx, a, b, now, &seen)
			return err
		})
	})
	if err != nil {
		if errors.Is(err, domain.ErrInvariantViolation) && auction != nil {
			s.escalate(ctx, domain.Violation{AuctionID: auction.ID, Rule: "settlement", Detail: err.Error()})
		} else {
			s.logOutcome("settlement_service.Reconcile", err, "bid_id", bidID, "outcome", outcome)
		}
		return "", fmt.Errorf("settlement_service.Reconcile: %w", err)
	}
	s.escalateAll(ctx, seen)

	switch result {
	case ResultCompleted:
		s.Logger.Info("auction settled",
			"auction_id", auction.ID, "bid_id", bid.ID, "winner_id", bid.UserID,
			"price", bid.BidPrice.StringFixed(2))
		if superseded != nil {
			s.Logger.Warn("late payment superseded a newer lock",
				"auction_id", auction.ID, "superseded_bid_id", superseded.ID, "superseded_actor_id", superseded.UserID)
		}
		s.publish(auction, domain.EventCompleted)
		s.afterSale(auction)
	case ResultReleased:
		s.Logger.Info("payment failed, lock released", "auction_id", auction.ID, "bid_id", bid.ID)
		s.publish(auction, domain.EventLockReleased)
	default:
		s.Logger.Debug("payment outcome already applied", "bid_id", bidID, "outcome", outcome, "bid_status", bid.Status)
	}
	return result, nil
}

// failTx releases the lock held by b.
func (s *SettlementService) failTx(
	ctx context.Context,
	tx *sqlx.Tx,
	a *domain.Auction,
	b *domain.Bid,
	now time.Time,
	seen *violations,
) (ReconcileResult, error) {
	if !b.IsActive() {
		return ResultNoop, nil
	}
	if !a.IsHeldBy(b.UserID) {
		return "", fmt.Errorf("%w: active bid %s does not hold the lock", domain.ErrInvariantViolation, b.ID)
	}
	if _, err := s.locks.releaseTx(ctx, tx, a, domain.ReasonPaymentFailed, now, seen); err != nil {
		return "", err
	}
	return ResultReleased, nil
}

// succeedTx completes the auction for b.
func (s *SettlementService) succeedTx(
	ctx context.Context,
	tx *sqlx.Tx,
	a *domain.Auction,
	b *domain.Bid,
	now time.Time,
	seen *violations,
) (ReconcileResult, *domain.Bid, error) {
	var superseded *domain.Bid

	switch b.Status {
	case domain.BidWon:
		return ResultNoop, nil, nil

	case domain.BidExpired:
		if !s.Cfg.Auction.HonorLatePayment {
			return "", nil, fmt.Errorf("%w: bid %s", domain.ErrLatePayment, b.ID)
		}
		if a.Status.IsTerminal() {
			return "", nil, fmt.Errorf("%w: paid bid %s on %s auction", domain.ErrInvariantViolation, b.ID, a.Status)
		}
		if a.IsLocked() {
			var err error
			if superseded, err = s.locks.releaseTx(ctx, tx, a, domain.ReasonSuperseded, now, seen); err != nil {
				return "", nil, err
			}
		}

	case domain.BidActive:
		if !a.IsHeldBy(b.UserID) {
			// Still completes: a received payment is never dropped.
			seen.add(a.ID, "bid_matches_lock",
				fmt.Sprintf("settling active bid %s not matching lock %v", b.ID, a.LockedBy))
		}
	}

	winner, price := b.UserID, b.BidPrice
	if err := a.Complete(&winner, &price, now); err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			return "", nil, fmt.Errorf("%w: %v", domain.ErrInvariantViolation, err)
		}
		return "", nil, err
	}
	if err := s.Auctions.Update(ctx, tx, a); err != nil {
		return "", nil, err
	}
	if err := s.Bids.Resolve(ctx, tx, b.ID, b.Status, domain.BidWon, nil, now); err != nil {
		return "", nil, err
	}
	b.Status = domain.BidWon
	return ResultCompleted, superseded, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Post-commit fan-out
// ──────────────────────────────────────────────────────────────────────────────

// afterSale dispatches rewards and the winner notice. Their failure never
// touches the committed settlement.
func (s *SettlementService) afterSale(a *domain.Auction) {
	auctionID := a.ID
	if s.rewards != nil {
		s.dispatch(concurrency.Job{Name: "rewards:" + auctionID.String(), Run: func(ctx context.Context) error {
			return s.rewards.Distribute(ctx, auctionID)
		}})
	}
	if s.notifier != nil && a.WinnerID != nil && a.WinningPrice != nil && a.EndedAt != nil {
		notice := domain.WinnerNotice{
			AuctionID:   auctionID,
			WinnerID:    *a.WinnerID,
			ItemName:    a.ItemName,
			ItemVariant: a.ItemVariant,
			FinalPrice:  *a.WinningPrice,
			EndedAt:     *a.EndedAt,
		}
		s.dispatch(concurrency.Job{Name: "notify:" + auctionID.String(), Run: func(ctx context.Context) error {
			return s.notifier.NotifyWinner(ctx, notice)
		}})
	}
}

func (s *SettlementService) dispatch(job concurrency.Job) {
	if s.dispatcher != nil {
		if !s.dispatcher.Submit(job) {
			// Reward grants are caught up by RewardService.DistributePending.
			s.Logger.Warn("post-commit job dropped", "job", job.Name)
		}
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := job.Run(ctx); err != nil {
			s.Logger.Warn("post-commit job failed", "job", job.Name, "err", err)
		}
	}()
}
