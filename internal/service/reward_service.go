package service

import (
	"context"
	"fmt"

	"github.com/chickenbids/auction/internal/domain"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// RewardService pays out participation rewards once per completed auction.
type RewardService struct {
	Deps
}

// NewRewardService creates a RewardService.
func NewRewardService(deps Deps) *RewardService {
	return &RewardService{Deps: deps}
}

// DistributePending grants rewards for every completed sale the post-commit
// fan-out missed, e.g. because the job queue was full or the process stopped.
// It returns the number of auctions it processed.
func (s *RewardService) DistributePending(ctx context.Context) (int, error) {
	pending, err := s.Auctions.ListUnrewarded(ctx)
	if err != nil {
		return 0, fmt.Errorf("reward_service.DistributePending: %w", err)
	}
	done := 0
	for _, a := range pending {
		if err = s.Distribute(ctx, a.ID); err != nil {
			s.Logger.Error("reward_service.DistributePending", "auction_id", a.ID, "err", err)
			continue
		}
		done++
	}
	return done, nil
}

// Distribute grants the winner and every other participant their XP and
// stats and resets everyone's credits. It is keyed by auction id: a repeat
// call after a successful one does nothing. Auctions without a winner are
// skipped.
func (s *RewardService) Distribute(ctx context.Context, auctionID uuid.UUID) error {
	a, err := s.Auctions.GetByID(ctx, auctionID)
	if err != nil {
		return fmt.Errorf("reward_service.Distribute: %w", err)
	}
	if a.Status != domain.StatusCompleted || a.WinnerID == nil || a.WinningPrice == nil {
		return nil
	}
	winner, price := *a.WinnerID, *a.WinningPrice

	participants, err := s.Bids.ParticipantIDs(ctx, auctionID)
	if err != nil {
		return fmt.Errorf("reward_service.Distribute: %w", err)
	}

	granted := false
	err = s.inTx(ctx, func(tx *sqlx.Tx) error {
		now := s.Clock.Now()
		ok, err := s.Participants.ClaimRewardGrant(ctx, tx, auctionID, now)
		if err != nil || !ok {
			return err
		}

		if err = s.Participants.ApplyReward(ctx, tx, winner, s.Cfg.Rewards.WinnerXP, true, price, now); err != nil {
			return err
		}
		everyone := []uuid.UUID{winner}
		for _, id := range participants {
			if id == winner {
				continue
			}
			if err = s.Participants.ApplyReward(ctx, tx, id, s.Cfg.Rewards.ParticipantXP, false, decimal.Zero, now); err != nil {
				return err
			}
			everyone = append(everyone, id)
		}
		if err = s.Participants.ResetCredits(ctx, tx, everyone, now); err != nil {
			return err
		}
		granted = true
		return nil
	})
	if err != nil {
		return fmt.Errorf("reward_service.Distribute: %w", err)
	}
	if granted {
		s.Logger.Info("rewards distributed", "auction_id", auctionID, "winner_id", winner, "participants", len(participants))
	}
	return nil
}
