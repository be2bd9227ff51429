package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Participant holds per-actor credits and lifetime stats.
type Participant struct {
	UserID      uuid.UUID       `json:"user_id"      db:"user_id"`
	Credits     int             `json:"credits"      db:"credits"`
	XP          int             `json:"xp"           db:"xp"`
	AuctionsWon int             `json:"auctions_won" db:"auctions_won"`
	TotalBids   int             `json:"total_bids"   db:"total_bids"`
	TotalSpent  decimal.Decimal `json:"total_spent"  db:"total_spent"`
	UpdatedAt   time.Time       `json:"updated_at"   db:"updated_at"`
}

// WinnerNotice is handed to the notification dispatcher after a sale commits.
type WinnerNotice struct {
	AuctionID   uuid.UUID       `json:"auction_id"`
	WinnerID    uuid.UUID       `json:"winner_id"`
	ItemName    string          `json:"item_name"`
	ItemVariant string          `json:"item_variant,omitempty"`
	FinalPrice  decimal.Decimal `json:"final_price"`
	EndedAt     time.Time       `json:"ended_at"`
}
