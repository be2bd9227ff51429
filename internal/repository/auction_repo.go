package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/chickenbids/auction/internal/domain"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// AuctionRepository handles all database operations for Auctions.
//
// Every mutation is a conditional update keyed on the row version; a write
// that matches no row returns domain.ErrConcurrentUpdate so the caller can
// re-read and retry.
type AuctionRepository struct {
	db *sqlx.DB
}

// NewAuctionRepository creates a new AuctionRepository.
func NewAuctionRepository(db *sqlx.DB) *AuctionRepository {
	return &AuctionRepository{db: db}
}

// Create inserts a new auction row.
func (r *AuctionRepository) Create(ctx context.Context, a *domain.Auction) error {
	query := r.db.Rebind(`
		INSERT INTO auctions
			(id, item_name, item_variant, status, start_time, start_price, floor_price, decay_rate,
			 current_price, anchor_price, anchor_at, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := r.db.ExecContext(ctx, query,
		a.ID, a.ItemName, a.ItemVariant, a.Status, a.StartTime, a.StartPrice, a.FloorPrice, a.DecayRate,
		a.CurrentPrice, a.AnchorPrice, a.AnchorAt, a.Version, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("auction_repo.Create: %w", err)
	}
	return nil
}

// GetByID fetches an auction outside any transaction.
func (r *AuctionRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Auction, error) {
	return r.get(ctx, r.db, id)
}

// GetByIDTx fetches an auction through tx so the read and the following
// conditional write observe the same snapshot.
func (r *AuctionRepository) GetByIDTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*domain.Auction, error) {
	return r.get(ctx, tx, id)
}

func (r *AuctionRepository) get(ctx context.Context, q Querier, id uuid.UUID) (*domain.Auction, error) {
	var a domain.Auction
	err := q.GetContext(ctx, &a, q.Rebind(`SELECT * FROM auctions WHERE id = ?`), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrAuctionNotFound
		}
		return nil, fmt.Errorf("auction_repo.GetByID: %w", err)
	}
	return &a, nil
}

// GetCurrent returns the auction viewers should see: the most recent live or
// paused one, otherwise the next scheduled one.
func (r *AuctionRepository) GetCurrent(ctx context.Context) (*domain.Auction, error) {
	var a domain.Auction
	err := r.db.GetContext(ctx, &a,
		`SELECT * FROM auctions WHERE status IN ('live','paused') ORDER BY start_time DESC LIMIT 1`)
	if err == nil {
		return &a, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("auction_repo.GetCurrent: %w", err)
	}

	err = r.db.GetContext(ctx, &a,
		`SELECT * FROM auctions WHERE status = 'scheduled' ORDER BY start_time ASC LIMIT 1`)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNoCurrentAuction
		}
		return nil, fmt.Errorf("auction_repo.GetCurrent: %w", err)
	}
	return &a, nil
}

// ListByStatus returns all auctions in any of the given statuses, oldest start
// first. Time filtering is left to the caller so that the injected clock stays
// authoritative.
func (r *AuctionRepository) ListByStatus(ctx context.Context, statuses ...domain.AuctionStatus) ([]*domain.Auction, error) {
	query, args, err := sqlx.In(`SELECT * FROM auctions WHERE status IN (?) ORDER BY start_time ASC`, statuses)
	if err != nil {
		return nil, fmt.Errorf("auction_repo.ListByStatus: %w", err)
	}
	var out []*domain.Auction
	if err = r.db.SelectContext(ctx, &out, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("auction_repo.ListByStatus: %w", err)
	}
	return out, nil
}

// ListUnrewarded returns completed auctions with a winner for which no reward
// grant has been recorded, oldest sale first.
func (r *AuctionRepository) ListUnrewarded(ctx context.Context) ([]*domain.Auction, error) {
	var out []*domain.Auction
	err := r.db.SelectContext(ctx, &out, r.db.Rebind(`
		SELECT a.* FROM auctions a
		LEFT JOIN reward_grants g ON g.auction_id = a.id
		WHERE a.status = ? AND a.winner_id IS NOT NULL AND g.auction_id IS NULL
		ORDER BY a.ended_at ASC`), domain.StatusCompleted)
	if err != nil {
		return nil, fmt.Errorf("auction_repo.ListUnrewarded: %w", err)
	}
	return out, nil
}

// List returns a page of auctions, newest first, optionally filtered by status.
func (r *AuctionRepository) List(ctx context.Context, status string, limit, offset int) ([]*domain.Auction, int, error) {
	where, args := "", []interface{}{}
	if status != "" {
		where = "WHERE status = ?"
		args = append(args, status)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, r.db.Rebind(`SELECT COUNT(*) FROM auctions `+where), args...); err != nil {
		return nil, 0, fmt.Errorf("auction_repo.List count: %w", err)
	}

	var out []*domain.Auction
	query := r.db.Rebind(`SELECT * FROM auctions ` + where + ` ORDER BY start_time DESC LIMIT ? OFFSET ?`)
	if err := r.db.SelectContext(ctx, &out, query, append(args, limit, offset)...); err != nil {
		return nil, 0, fmt.Errorf("auction_repo.List: %w", err)
	}
	return out, total, nil
}

// Update writes every mutable column of a, guarded by a.Version. On success
// the stored and in-memory versions are both incremented.
func (r *AuctionRepository) Update(ctx context.Context, tx *sqlx.Tx, a *domain.Auction) error {
	query := tx.Rebind(`
		UPDATE auctions
		SET status          = ?,
		    current_price   = ?,
		    anchor_price    = ?,
		    anchor_at       = ?,
		    winner_id       = ?,
		    winning_price   = ?,
		    locked_by       = ?,
		    locked_at       = ?,
		    lock_expires_at = ?,
		    paused_at       = ?,
		    ended_at        = ?,
		    updated_at      = ?,
		    version         = version + 1
		WHERE id = ? AND version = ?`)
	res, err := tx.ExecContext(ctx, query,
		a.Status, a.CurrentPrice, a.AnchorPrice, a.AnchorAt, a.WinnerID, a.WinningPrice,
		a.LockedBy, a.LockedAt, a.LockExpiresAt, a.PausedAt, a.EndedAt, a.UpdatedAt,
		a.ID, a.Version)
	if err != nil {
		return fmt.Errorf("auction_repo.Update: %w", err)
	}
	if err = checkAffected(res, "auction_repo.Update", domain.ErrConcurrentUpdate); err != nil {
		return err
	}
	a.Version++
	return nil
}
