// Package domain defines the core entities of the descending-price auction:
// the auction itself, the bids (lock attempts) placed against it and the
// participants who place them.
package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// Types & constants
// ──────────────────────────────────────────────────────────────────────────────

// AuctionStatus represents the lifecycle state of an auction.
type AuctionStatus string

const (
	StatusScheduled AuctionStatus = "scheduled" // created, decay not started
	StatusLive      AuctionStatus = "live"      // price decaying, lockable
	StatusPaused    AuctionStatus = "paused"    // operator hold; decay and lock TTL suspended
	StatusCompleted AuctionStatus = "completed" // terminal; sold or closed with no winner
	StatusCancelled AuctionStatus = "cancelled" // terminal; operator abort
)

// Valid reports whether s is a known status.
func (s AuctionStatus) Valid() bool {
	switch s {
	case StatusScheduled, StatusLive, StatusPaused, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is permitted.
func (s AuctionStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// transitions is the full lifecycle table. Terminal states have no entry.
var transitions = map[AuctionStatus][]AuctionStatus{
	StatusScheduled: {StatusLive, StatusCancelled},
	StatusLive:      {StatusPaused, StatusCompleted, StatusCancelled},
	StatusPaused:    {StatusLive, StatusCompleted, StatusCancelled},
}

// CanTransition reports whether from → to is a legal lifecycle move.
func CanTransition(from, to AuctionStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// PricePrecision is the number of decimal places prices are persisted with.
const PricePrecision int32 = 2

// ──────────────────────────────────────────────────────────────────────────────
// Auction
// ──────────────────────────────────────────────────────────────────────────────

// Auction is a single-item descending-price listing. The row is the only
// source of truth for lock state.
//
// Decay is tracked with an anchor: while the auction is live and unlocked the
// price is AnchorPrice − DecayRate × (now − AnchorAt), clamped at FloorPrice.
// Locking, pausing and ending freeze the price by folding the elapsed decay
// into AnchorPrice and clearing AnchorAt; resuming or unlocking re-anchors at
// the frozen price. Elapsed time therefore only accrues while live and unlocked.
type Auction struct {
	ID            uuid.UUID        `json:"id"              db:"id"`
	ItemName      string           `json:"item_name"       db:"item_name"`
	ItemVariant   string           `json:"item_variant"    db:"item_variant"`
	Status        AuctionStatus    `json:"status"          db:"status"`
	StartTime     time.Time        `json:"start_time"      db:"start_time"`
	StartPrice    decimal.Decimal  `json:"start_price"     db:"start_price"`
	FloorPrice    decimal.Decimal  `json:"floor_price"     db:"floor_price"`
	DecayRate     decimal.Decimal  `json:"decay_rate"      db:"decay_rate"` // currency units per second
	CurrentPrice  decimal.Decimal  `json:"current_price"   db:"current_price"`
	AnchorPrice   decimal.Decimal  `json:"-"               db:"anchor_price"`
	AnchorAt      *time.Time       `json:"-"               db:"anchor_at"`
	WinnerID      *uuid.UUID       `json:"winner_id"       db:"winner_id"`
	WinningPrice  *decimal.Decimal `json:"winning_price"   db:"winning_price"`
	LockedBy      *uuid.UUID       `json:"locked_by"       db:"locked_by"`
	LockedAt      *time.Time       `json:"locked_at"       db:"locked_at"`
	LockExpiresAt *time.Time       `json:"lock_expires_at" db:"lock_expires_at"`
	PausedAt      *time.Time       `json:"paused_at"       db:"paused_at"`
	EndedAt       *time.Time       `json:"ended_at"        db:"ended_at"`
	Version       int64            `json:"version"         db:"version"`
	CreatedAt     time.Time        `json:"created_at"      db:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"      db:"updated_at"`
}

// NewAuctionRequest is the input for creating a scheduled listing.
type NewAuctionRequest struct {
	ItemName    string
	ItemVariant string
	StartTime   time.Time
	StartPrice  decimal.Decimal
	FloorPrice  decimal.Decimal
	DecayRate   decimal.Decimal
}

// Validate checks the price and rate constraints of a new listing.
func (r NewAuctionRequest) Validate() error {
	switch {
	case r.ItemName == "":
		return fmt.Errorf("%w: item name is required", ErrInvalidAuction)
	case r.StartTime.IsZero():
		return fmt.Errorf("%w: start time is required", ErrInvalidAuction)
	case r.FloorPrice.IsNegative():
		return fmt.Errorf("%w: floor price must be non-negative", ErrInvalidAuction)
	case !r.StartPrice.GreaterThan(r.FloorPrice):
		return fmt.Errorf("%w: start price must exceed floor price", ErrInvalidAuction)
	case !r.DecayRate.IsPositive():
		return fmt.Errorf("%w: decay rate must be positive", ErrInvalidAuction)
	}
	return nil
}

// NewAuction builds a scheduled Auction from a validated request.
func NewAuction(r NewAuctionRequest, now time.Time) *Auction {
	start := r.StartPrice.Round(PricePrecision)
	return &Auction{
		ID:           uuid.New(),
		ItemName:     r.ItemName,
		ItemVariant:  r.ItemVariant,
		Status:       StatusScheduled,
		StartTime:    r.StartTime.UTC(),
		StartPrice:   start,
		FloorPrice:   r.FloorPrice.Round(PricePrecision),
		DecayRate:    r.DecayRate,
		CurrentPrice: start,
		AnchorPrice:  start,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// IsLocked returns true while some actor holds the purchase lock.
func (a *Auction) IsLocked() bool {
	return a.LockedBy != nil
}

// IsHeldBy returns true if actor currently holds the lock.
func (a *Auction) IsHeldBy(actor uuid.UUID) bool {
	return a.LockedBy != nil && *a.LockedBy == actor
}

// LockExpired reports whether a held lock has passed its expiry at now.
// Paused auctions never expire; their TTL is suspended.
func (a *Auction) LockExpired(now time.Time) bool {
	return a.Status == StatusLive && a.LockExpiresAt != nil && now.After(*a.LockExpiresAt)
}

// IsDue returns true when a scheduled auction has reached its start time.
func (a *Auction) IsDue(now time.Time) bool {
	return a.Status == StatusScheduled && !now.Before(a.StartTime)
}

// decaying reports whether elapsed time currently reduces the price.
func (a *Auction) decaying() bool {
	return a.Status == StatusLive && !a.IsLocked() && a.AnchorAt != nil
}

// PriceAt returns the authoritative price at instant now.
//
//	price = max(floor, anchor_price − decay_rate × seconds(now − anchor_at))
//
// The result is derived from absolute elapsed time, never incrementally, so a
// missed or duplicated tick cannot cause drift. It is clamped to
// [FloorPrice, AnchorPrice] and rounded to PricePrecision.
func (a *Auction) PriceAt(now time.Time) decimal.Decimal {
	if !a.decaying() {
		return a.AnchorPrice
	}
	elapsed := now.Sub(*a.AnchorAt)
	if elapsed <= 0 {
		return a.AnchorPrice
	}
	secs := decimal.NewFromInt(elapsed.Milliseconds()).Div(decimal.NewFromInt(1000))
	price := a.AnchorPrice.Sub(a.DecayRate.Mul(secs)).Round(PricePrecision)
	if price.LessThan(a.FloorPrice) {
		price = a.FloorPrice
	}
	if price.GreaterThan(a.AnchorPrice) {
		price = a.AnchorPrice
	}
	return price
}

// AtFloor reports whether the price can no longer decrease.
func (a *Auction) AtFloor() bool {
	return a.CurrentPrice.LessThanOrEqual(a.FloorPrice)
}

// freeze folds elapsed decay into the anchor and stops the clock.
func (a *Auction) freeze(price decimal.Decimal) {
	a.AnchorPrice = price
	a.CurrentPrice = price
	a.AnchorAt = nil
}

// transition moves the auction to next or returns ErrInvalidTransition.
func (a *Auction) transition(next AuctionStatus) error {
	if !CanTransition(a.Status, next) {
		return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, a.Status, next)
	}
	a.Status = next
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Lock sub-state
// ──────────────────────────────────────────────────────────────────────────────

// Lock grants the purchase lock to actor at the persisted CurrentPrice and
// freezes decay. It returns the captured price.
func (a *Auction) Lock(actor uuid.UUID, now time.Time, ttl time.Duration) (decimal.Decimal, error) {
	if a.Status != StatusLive {
		return decimal.Zero, ErrAuctionNotLive
	}
	if a.IsLocked() {
		return decimal.Zero, ErrAlreadyLocked
	}
	price := a.CurrentPrice
	a.freeze(price)
	expires := now.Add(ttl)
	a.LockedBy = &actor
	a.LockedAt = &now
	a.LockExpiresAt = &expires
	a.UpdatedAt = now
	return price, nil
}

// Unlock clears the lock. A live auction resumes decay from the frozen price.
func (a *Auction) Unlock(now time.Time) {
	a.clearLock()
	if a.Status == StatusLive {
		a.AnchorAt = &now
	}
	a.UpdatedAt = now
}

func (a *Auction) clearLock() {
	a.LockedBy = nil
	a.LockedAt = nil
	a.LockExpiresAt = nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Lifecycle transitions
// ──────────────────────────────────────────────────────────────────────────────

// Start moves a scheduled auction live. Decay is anchored at StartTime so a
// late driver does not shift the price curve.
func (a *Auction) Start(now time.Time) error {
	if err := a.transition(StatusLive); err != nil {
		return err
	}
	startAt := a.StartTime
	a.AnchorPrice = a.StartPrice
	a.AnchorAt = &startAt
	a.CurrentPrice = a.PriceAt(now)
	a.UpdatedAt = now
	return nil
}

// Pause suspends decay and lock expiry.
func (a *Auction) Pause(now time.Time) error {
	price := a.PriceAt(now)
	if err := a.transition(StatusPaused); err != nil {
		return err
	}
	a.freeze(price)
	a.PausedAt = &now
	a.UpdatedAt = now
	return nil
}

// Resume returns a paused auction to live. A held lock has its expiry pushed
// out by the paused duration; otherwise decay restarts from the frozen price.
func (a *Auction) Resume(now time.Time) error {
	if err := a.transition(StatusLive); err != nil {
		return err
	}
	if a.PausedAt != nil && a.LockExpiresAt != nil {
		extended := a.LockExpiresAt.Add(now.Sub(*a.PausedAt))
		a.LockExpiresAt = &extended
	}
	if !a.IsLocked() {
		a.AnchorAt = &now
	}
	a.PausedAt = nil
	a.UpdatedAt = now
	return nil
}

// Complete ends the auction. winner and price are both set for a sale and
// both nil for an operator close with no winner.
func (a *Auction) Complete(winner *uuid.UUID, price *decimal.Decimal, now time.Time) error {
	if (winner == nil) != (price == nil) {
		return fmt.Errorf("%w: winner and winning price must be set together", ErrInvariantViolation)
	}
	frozen := a.PriceAt(now)
	if err := a.transition(StatusCompleted); err != nil {
		return err
	}
	a.freeze(frozen)
	a.clearLock()
	a.WinnerID = winner
	a.WinningPrice = price
	a.PausedAt = nil
	a.EndedAt = &now
	a.UpdatedAt = now
	return nil
}

// Cancel aborts the auction. Callers must expire any active bid in the same
// unit of work.
func (a *Auction) Cancel(now time.Time) error {
	frozen := a.PriceAt(now)
	if err := a.transition(StatusCancelled); err != nil {
		return err
	}
	a.freeze(frozen)
	a.clearLock()
	a.PausedAt = nil
	a.EndedAt = &now
	a.UpdatedAt = now
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Snapshot (observer feed payload)
// ──────────────────────────────────────────────────────────────────────────────

// EventType labels why a snapshot was published.
type EventType string

const (
	EventPriceUpdate   EventType = "price_update"
	EventLockAcquired  EventType = "lock_acquired"
	EventLockReleased  EventType = "lock_released"
	EventStatusChanged EventType = "status_changed"
	EventCompleted     EventType = "auction_completed"
)

// AuctionSnapshot is the observation-only state published to viewers. It
// carries absolute instants only; observers derive their own countdowns.
type AuctionSnapshot struct {
	Event         EventType        `json:"event"`
	AuctionID     uuid.UUID        `json:"auction_id"`
	ItemName      string           `json:"item_name"`
	ItemVariant   string           `json:"item_variant,omitempty"`
	Status        AuctionStatus    `json:"status"`
	CurrentPrice  decimal.Decimal  `json:"current_price"`
	StartPrice    decimal.Decimal  `json:"start_price"`
	FloorPrice    decimal.Decimal  `json:"floor_price"`
	DecayRate     decimal.Decimal  `json:"decay_rate"`
	StartTime     time.Time        `json:"start_time"`
	LockedBy      *uuid.UUID       `json:"locked_by"`
	LockExpiresAt *time.Time       `json:"lock_expires_at"`
	WinnerID      *uuid.UUID       `json:"winner_id"`
	WinningPrice  *decimal.Decimal `json:"winning_price"`
	Version       int64            `json:"version"`
	ServerTime    time.Time        `json:"server_time"`
}

// Snapshot captures the auction state for broadcast.
func (a *Auction) Snapshot(event EventType, now time.Time) AuctionSnapshot {
	return AuctionSnapshot{
		Event:         event,
		AuctionID:     a.ID,
		ItemName:      a.ItemName,
		ItemVariant:   a.ItemVariant,
		Status:        a.Status,
		CurrentPrice:  a.CurrentPrice,
		StartPrice:    a.StartPrice,
		FloorPrice:    a.FloorPrice,
		DecayRate:     a.DecayRate,
		StartTime:     a.StartTime,
		LockedBy:      a.LockedBy,
		LockExpiresAt: a.LockExpiresAt,
		WinnerID:      a.WinnerID,
		WinningPrice:  a.WinningPrice,
		Version:       a.Version,
		ServerTime:    now,
	}
}
