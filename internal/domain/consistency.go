package domain

import (
	"fmt"

	"github.com/google/uuid"
)

// Violation describes one broken cross-entity invariant.
type Violation struct {
	AuctionID uuid.UUID `json:"auction_id"`
	Rule      string    `json:"rule"`
	Detail    string    `json:"detail"`
}

func (v Violation) Error() string {
	return fmt.Sprintf("auction %s: %s: %s", v.AuctionID, v.Rule, v.Detail)
}

// CheckConsistency inspects an auction together with all of its active bids.
// A healthy auction yields no violations.
func CheckConsistency(a *Auction, active []Bid) []Violation {
	var out []Violation
	add := func(rule, format string, args ...any) {
		out = append(out, Violation{AuctionID: a.ID, Rule: rule, Detail: fmt.Sprintf(format, args...)})
	}

	if a.CurrentPrice.LessThan(a.FloorPrice) || a.CurrentPrice.GreaterThan(a.StartPrice) {
		add("price_bounds", "current %s outside [%s, %s]", a.CurrentPrice, a.FloorPrice, a.StartPrice)
	}

	if len(active) > 1 {
		add("single_active_bid", "%d active bids", len(active))
	}
	for _, b := range active {
		if !a.IsHeldBy(b.UserID) {
			add("bid_matches_lock", "active bid %s by %s but lock held by %v", b.ID, b.UserID, a.LockedBy)
		}
	}
	if a.IsLocked() && len(active) == 0 {
		add("lock_has_bid", "locked by %s with no active bid", *a.LockedBy)
	}

	if a.Status.IsTerminal() && a.IsLocked() {
		add("terminal_unlocked", "%s auction still locked", a.Status)
	}
	if (a.WinnerID == nil) != (a.WinningPrice == nil) {
		add("winner_fields", "winner_id and winning_price must be set together")
	}
	if a.WinnerID != nil && a.Status != StatusCompleted {
		add("winner_fields", "winner recorded on %s auction", a.Status)
	}
	return out
}
