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
)

// BidRepository handles all database operations for Bids.
type BidRepository struct {
	db *sqlx.DB
}

// NewBidRepository creates a new BidRepository.
func NewBidRepository(db *sqlx.DB) *BidRepository {
	return &BidRepository{db: db}
}

// Create inserts a new bid within an existing transaction.
func (r *BidRepository) Create(ctx context.Context, tx *sqlx.Tx, b *domain.Bid) error {
	query := tx.Rebind(`
		INSERT INTO bids (id, auction_id, user_id, bid_price, status, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	_, err := tx.ExecContext(ctx, query, b.ID, b.AuctionID, b.UserID, b.BidPrice, b.Status, b.ExpiresAt, b.CreatedAt)
	if err != nil {
		return fmt.Errorf("bid_repo.Create: %w", err)
	}
	return nil
}

// GetByID fetches a bid outside any transaction.
func (r *BidRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Bid, error) {
	return r.get(ctx, r.db, id)
}

// GetByIDTx fetches a bid through tx.
func (r *BidRepository) GetByIDTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*domain.Bid, error) {
	return r.get(ctx, tx, id)
}

func (r *BidRepository) get(ctx context.Context, q Querier, id uuid.UUID) (*domain.Bid, error) {
	var b domain.Bid
	if err := q.GetContext(ctx, &b, q.Rebind(`SELECT * FROM bids WHERE id = ?`), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrBidNotFound
		}
		return nil, fmt.Errorf("bid_repo.GetByID: %w", err)
	}
	return &b, nil
}

// GetActiveTx returns the single active bid for an auction, or
// domain.ErrBidNotFound.
func (r *BidRepository) GetActiveTx(ctx context.Context, tx *sqlx.Tx, auctionID uuid.UUID) (*domain.Bid, error) {
	var b domain.Bid
	err := tx.GetContext(ctx, &b,
		tx.Rebind(`SELECT * FROM bids WHERE auction_id = ? AND status = 'active'`), auctionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrBidNotFound
		}
		return nil, fmt.Errorf("bid_repo.GetActiveTx: %w", err)
	}
	return &b, nil
}

// ListActive returns every active bid for an auction. More than one is an
// invariant violation; this query exists so the auditor can see it.
func (r *BidRepository) ListActive(ctx context.Context, auctionID uuid.UUID) ([]domain.Bid, error) {
	var out []domain.Bid
	err := r.db.SelectContext(ctx, &out,
		r.db.Rebind(`SELECT * FROM bids WHERE auction_id = ? AND status = 'active'`), auctionID)
	if err != nil {
		return nil, fmt.Errorf("bid_repo.ListActive: %w", err)
	}
	return out, nil
}

// ListByAuction returns every bid for an auction in creation order.
func (r *BidRepository) ListByAuction(ctx context.Context, auctionID uuid.UUID) ([]*domain.Bid, error) {
	var out []*domain.Bid
	err := r.db.SelectContext(ctx, &out,
		r.db.Rebind(`SELECT * FROM bids WHERE auction_id = ? ORDER BY created_at ASC`), auctionID)
	if err != nil {
		return nil, fmt.Errorf("bid_repo.ListByAuction: %w", err)
	}
	return out, nil
}

// ListByUser returns an actor's bids, newest first.
func (r *BidRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*domain.Bid, error) {
	var out []*domain.Bid
	err := r.db.SelectContext(ctx, &out,
		r.db.Rebind(`SELECT * FROM bids WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`), userID, limit)
	if err != nil {
		return nil, fmt.Errorf("bid_repo.ListByUser: %w", err)
	}
	return out, nil
}

// ParticipantIDs returns the distinct actors that ever locked the auction.
func (r *BidRepository) ParticipantIDs(ctx context.Context, auctionID uuid.UUID) ([]uuid.UUID, error) {
	var out []uuid.UUID
	err := r.db.SelectContext(ctx, &out,
		r.db.Rebind(`SELECT DISTINCT user_id FROM bids WHERE auction_id = ?`), auctionID)
	if err != nil {
		return nil, fmt.Errorf("bid_repo.ParticipantIDs: %w", err)
	}
	return out, nil
}

// Resolve moves a bid from status from to status to. The write is guarded on
// from, so two resolvers racing on the same bid cannot both succeed.
func (r *BidRepository) Resolve(
	ctx context.Context,
	tx *sqlx.Tx,
	id uuid.UUID,
	from, to domain.BidStatus,
	reason *domain.ReleaseReason,
	now time.Time,
) error {
	query := tx.Rebind(`
		UPDATE bids
		SET status = ?, release_reason = ?, resolved_at = ?
		WHERE id = ? AND status = ?`)
	res, err := tx.ExecContext(ctx, query, to, reason, now, id, from)
	if err != nil {
		return fmt.Errorf("bid_repo.Resolve: %w", err)
	}
	return checkAffected(res, "bid_repo.Resolve", domain.ErrConcurrentUpdate)
}

// SetPaymentRef stores the gateway reference created at checkout.
func (r *BidRepository) SetPaymentRef(ctx context.Context, id uuid.UUID, ref string) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`UPDATE bids SET payment_ref = ? WHERE id = ?`), ref, id)
	if err != nil {
		return fmt.Errorf("bid_repo.SetPaymentRef: %w", err)
	}
	return nil
}
