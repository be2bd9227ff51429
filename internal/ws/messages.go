// Package ws holds the observer feed: WebSocket message types and the Hub
// that fans auction snapshots out to connected viewers.
package ws

import (
	"github.com/chickenbids/auction/internal/domain"
)

// MsgType identifies the kind of WS message so clients can switch on it.
type MsgType string

const (
	MsgTypeAuction MsgType = "auction" // one state change
	MsgTypeResync  MsgType = "resync"  // full state, sent on connect
)

// ──────────────────────────────────────────────────────────────────────────────
// AuctionMessage: broadcast on every persisted state change.
// ──────────────────────────────────────────────────────────────────────────────

// AuctionMessage wraps one snapshot. Clients drop messages whose version is
// not newer than the last one they applied for that auction.
type AuctionMessage struct {
	Type MsgType                `json:"type"`
	Data domain.AuctionSnapshot `json:"data"`
}

// ResyncMessage carries the latest snapshot of every auction the hub has
// seen, so a reconnecting client never depends on missed deltas.
type ResyncMessage struct {
	Type     MsgType                  `json:"type"`
	Auctions []domain.AuctionSnapshot `json:"auctions"`
}
