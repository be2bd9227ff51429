package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BidStatus represents the lifecycle of a lock attempt record.
type BidStatus string

const (
	BidActive  BidStatus = "active"  // current lock holder's claim
	BidWon     BidStatus = "won"     // converted to a sale by settlement
	BidExpired BidStatus = "expired" // released without payment
)

// ReleaseReason records why an active bid was expired.
type ReleaseReason string

const (
	ReasonTimeout          ReleaseReason = "timeout"
	ReasonCancelled        ReleaseReason = "cancelled"      // buyer gave up the lock
	ReasonPaymentFailed    ReleaseReason = "payment_failed" // gateway reported failure
	ReasonOperator         ReleaseReason = "operator"       // force-release
	ReasonAuctionCancelled ReleaseReason = "auction_cancelled"
	ReasonAuctionClosed    ReleaseReason = "auction_closed" // force-complete with no winner
	ReasonSuperseded       ReleaseReason = "superseded"     // a late payment for an earlier bid won
)

// Bid is the append-only audit record of one lock acquisition. It is written
// once when the lock is granted and once when it resolves.
type Bid struct {
	ID            uuid.UUID       `json:"id"             db:"id"`
	AuctionID     uuid.UUID       `json:"auction_id"     db:"auction_id"`
	UserID        uuid.UUID       `json:"user_id"        db:"user_id"`
	BidPrice      decimal.Decimal `json:"bid_price"      db:"bid_price"`
	Status        BidStatus       `json:"status"         db:"status"`
	ExpiresAt     time.Time       `json:"expires_at"     db:"expires_at"`
	ReleaseReason *ReleaseReason  `json:"release_reason" db:"release_reason"`
	PaymentRef    *string         `json:"payment_ref"    db:"payment_ref"`
	CreatedAt     time.Time       `json:"created_at"     db:"created_at"`
	ResolvedAt    *time.Time      `json:"resolved_at"    db:"resolved_at"`
}

// IsActive returns true while the bid backs the auction's lock.
func (b *Bid) IsActive() bool {
	return b.Status == BidActive
}

// ──────────────────────────────────────────────────────────────────────────────
// Payment outcomes
// ──────────────────────────────────────────────────────────────────────────────

// PaymentOutcome is the result reported by the payment gateway.
type PaymentOutcome string

const (
	PaymentSucceeded PaymentOutcome = "succeeded"
	PaymentFailed    PaymentOutcome = "failed"
)

// PaymentEvent is a verified, decoded gateway callback. The metadata fields
// are echoed back from the intent created at checkout.
type PaymentEvent struct {
	EventID   string          // gateway event id
	Reference string          // gateway payment reference (intent id)
	Outcome   PaymentOutcome
	BidID     uuid.UUID
	AuctionID uuid.UUID
	ActorID   uuid.UUID
	Amount    decimal.Decimal // amount charged, in currency units
}

// PaymentIntent is what checkout returns to the buyer so the client can
// complete payment with the gateway.
type PaymentIntent struct {
	Reference    string          `json:"reference"`
	ClientSecret string          `json:"client_secret"`
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency"`
}

// Checkout is the result of a successful lock + payment initiation.
type Checkout struct {
	Bid     *Bid           `json:"bid"`
	Payment *PaymentIntent `json:"payment"`
}

// IntentRequest asks the payment gateway to charge the locked price. The ids
// travel as gateway metadata and come back on the outcome callback.
type IntentRequest struct {
	AuctionID   uuid.UUID
	BidID       uuid.UUID
	ActorID     uuid.UUID
	Amount      decimal.Decimal
	Currency    string
	Description string
}
