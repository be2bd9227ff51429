package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/chickenbids/auction/internal/domain"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// ParticipantRepository handles credits, stats and reward bookkeeping.
type ParticipantRepository struct {
	db *sqlx.DB
}

// NewParticipantRepository creates a new ParticipantRepository.
func NewParticipantRepository(db *sqlx.DB) *ParticipantRepository {
	return &ParticipantRepository{db: db}
}

// Get returns a participant or domain.ErrParticipantNotFound.
func (r *ParticipantRepository) Get(ctx context.Context, userID uuid.UUID) (*domain.Participant, error) {
	return r.get(ctx, r.db, userID)
}

func (r *ParticipantRepository) get(ctx context.Context, q Querier, userID uuid.UUID) (*domain.Participant, error) {
	var p domain.Participant
	if err := q.GetContext(ctx, &p, q.Rebind(`SELECT * FROM participants WHERE user_id = ?`), userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrParticipantNotFound
		}
		return nil, fmt.Errorf("participant_repo.Get: %w", err)
	}
	return &p, nil
}

// ensure creates an empty participant row if none exists.
func (r *ParticipantRepository) ensure(ctx context.Context, q Querier, userID uuid.UUID, now time.Time) error {
	_, err := q.ExecContext(ctx, q.Rebind(`
		INSERT INTO participants (user_id, credits, xp, auctions_won, total_bids, total_spent, updated_at)
		VALUES (?, 0, 0, 0, 0, ?, ?)
		ON CONFLICT (user_id) DO NOTHING`), userID, decimal.Zero, now)
	if err != nil {
		return fmt.Errorf("participant_repo.ensure: %w", err)
	}
	return nil
}

// AddCredits grants n credits, creating the participant on first use.
func (r *ParticipantRepository) AddCredits(ctx context.Context, userID uuid.UUID, n int, now time.Time) (*domain.Participant, error) {
	if err := r.ensure(ctx, r.db, userID, now); err != nil {
		return nil, err
	}
	_, err := r.db.ExecContext(ctx, r.db.Rebind(
		`UPDATE participants SET credits = credits + ?, updated_at = ? WHERE user_id = ?`), n, now, userID)
	if err != nil {
		return nil, fmt.Errorf("participant_repo.AddCredits: %w", err)
	}
	return r.get(ctx, r.db, userID)
}

// SpendCredit atomically consumes one credit inside tx. Returns
// domain.ErrNoCredit when the participant has none.
func (r *ParticipantRepository) SpendCredit(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID, now time.Time) error {
	res, err := tx.ExecContext(ctx, tx.Rebind(
		`UPDATE participants SET credits = credits - 1, updated_at = ? WHERE user_id = ? AND credits > 0`),
		now, userID)
	if err != nil {
		return fmt.Errorf("participant_repo.SpendCredit: %w", err)
	}
	return checkAffected(res, "participant_repo.SpendCredit", domain.ErrNoCredit)
}

// RefundCredit gives back one credit inside tx, e.g. when the lock it paid for
// was released because checkout could not open a payment.
func (r *ParticipantRepository) RefundCredit(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID, now time.Time) error {
	res, err := tx.ExecContext(ctx, tx.Rebind(
		`UPDATE participants SET credits = credits + 1, updated_at = ? WHERE user_id = ?`),
		now, userID)
	if err != nil {
		return fmt.Errorf("participant_repo.RefundCredit: %w", err)
	}
	return checkAffected(res, "participant_repo.RefundCredit", domain.ErrParticipantNotFound)
}

// ClaimRewardGrant records that rewards for auctionID are being paid out.
// It returns false when another delivery already claimed it.
func (r *ParticipantRepository) ClaimRewardGrant(ctx context.Context, tx *sqlx.Tx, auctionID uuid.UUID, now time.Time) (bool, error) {
	res, err := tx.ExecContext(ctx, tx.Rebind(
		`INSERT INTO reward_grants (auction_id, granted_at) VALUES (?, ?) ON CONFLICT (auction_id) DO NOTHING`),
		auctionID, now)
	if err != nil {
		return false, fmt.Errorf("participant_repo.ClaimRewardGrant: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("participant_repo.ClaimRewardGrant: %w", err)
	}
	return n == 1, nil
}

// ApplyReward adds xp and stats to one participant inside tx. spent is added
// to total_spent in Go so that decimal precision survives SQLite's TEXT columns.
func (r *ParticipantRepository) ApplyReward(
	ctx context.Context,
	tx *sqlx.Tx,
	userID uuid.UUID,
	xp int,
	won bool,
	spent decimal.Decimal,
	now time.Time,
) error {
	if err := r.ensure(ctx, tx, userID, now); err != nil {
		return err
	}
	p, err := r.get(ctx, tx, userID)
	if err != nil {
		return err
	}

	p.XP += xp
	if won {
		p.AuctionsWon++
	} else {
		p.TotalBids++
	}
	p.TotalSpent = p.TotalSpent.Add(spent)

	_, err = tx.ExecContext(ctx, tx.Rebind(`
		UPDATE participants
		SET xp = ?, auctions_won = ?, total_bids = ?, total_spent = ?, updated_at = ?
		WHERE user_id = ?`),
		p.XP, p.AuctionsWon, p.TotalBids, p.TotalSpent, now, userID)
	if err != nil {
		return fmt.Errorf("participant_repo.ApplyReward: %w", err)
	}
	return nil
}

// ResetCredits zeroes the credits of every given participant.
func (r *ParticipantRepository) ResetCredits(ctx context.Context, tx *sqlx.Tx, userIDs []uuid.UUID, now time.Time) error {
	if len(userIDs) == 0 {
		return nil
	}
	query, args, err := sqlx.In(`UPDATE participants SET credits = 0, updated_at = ? WHERE user_id IN (?)`, now, userIDs)
	if err != nil {
		return fmt.Errorf("participant_repo.ResetCredits: %w", err)
	}
	if _, err = tx.ExecContext(ctx, tx.Rebind(query), args...); err != nil {
		return fmt.Errorf("participant_repo.ResetCredits: %w", err)
	}
	return nil
}
