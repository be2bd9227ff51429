package domain

import (
	"errors"
)

// ──────────────────────────────────────────────────────────────────────────────
// Sentinel errors: compare with errors.Is()
// ──────────────────────────────────────────────────────────────────────────────

// Expected outcomes. These drive normal caller feedback and are never logged
// as failures.
var (
	// ErrAlreadyLocked is returned when another actor holds the purchase lock.
	ErrAlreadyLocked = errors.New("auction is already locked")

	// ErrAuctionNotLive is returned when the auction status disallows bidding.
	ErrAuctionNotLive = errors.New("auction is not live")

	// ErrInvalidTransition is returned for an illegal lifecycle move,
	// including any move out of a terminal state.
	ErrInvalidTransition = errors.New("invalid auction state transition")

	// ErrLockNotHeldByActor is returned when a non-holder tries to release.
	ErrLockNotHeldByActor = errors.New("lock is not held by this actor")

	// ErrNoCredit is returned when the actor has no participation credit left.
	ErrNoCredit = errors.New("no participation credit available")

	// ErrNotChargeable is returned when checkout would have to charge a price
	// of zero through the payment gateway.
	ErrNotChargeable = errors.New("price is not chargeable")
)

// Lookup errors
var (
	ErrAuctionNotFound     = errors.New("auction not found")
	ErrBidNotFound         = errors.New("bid not found")
	ErrParticipantNotFound = errors.New("participant not found")

	// ErrNoCurrentAuction is returned when nothing is live, paused or upcoming.
	ErrNoCurrentAuction = errors.New("no current auction")
)

// Validation errors
var (
	// ErrInvalidAuction is returned when listing parameters break the price
	// or rate constraints.
	ErrInvalidAuction = errors.New("invalid auction parameters")
)

// Transient infrastructure errors
var (
	// ErrConcurrentUpdate is returned when a version-guarded write matched no
	// row because another writer got there first. Callers retry with fresh
	// state, a bounded number of times.
	ErrConcurrentUpdate = errors.New("concurrent update, retry with fresh state")
)

// External event integrity errors
var (
	// ErrInvalidSignature is returned for an unverifiable payment callback.
	ErrInvalidSignature = errors.New("payment callback signature is invalid")

	// ErrPaymentMismatch is returned when callback metadata disagrees with the
	// stored bid.
	ErrPaymentMismatch = errors.New("payment callback does not match bid")

	// ErrLatePayment is returned when a success arrives for an expired bid and
	// late payments are configured to be rejected.
	ErrLatePayment = errors.New("payment arrived after lock expiry")

	// ErrPaymentUnavailable is returned when the gateway could not create an
	// intent.
	ErrPaymentUnavailable = errors.New("payment gateway unavailable")
)

// Fatal errors
var (
	// ErrInvariantViolation signals that the atomicity contract was broken,
	// e.g. two active bids for one auction. Always escalated.
	ErrInvariantViolation = errors.New("auction invariant violated")
)

// Auth errors
var (
	// ErrUnauthorized is returned when a valid token is not present.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden is returned when the authenticated actor lacks the required role.
	ErrForbidden = errors.New("forbidden: insufficient permissions")

	// ErrTokenExpired is returned when a JWT has passed its TTL.
	ErrTokenExpired = errors.New("token has expired")

	// ErrTokenInvalid is returned when a token cannot be parsed or its signature
	// does not match.
	ErrTokenInvalid = errors.New("token is invalid")
)

// ──────────────────────────────────────────────────────────────────────────────
// Helper predicates
// ──────────────────────────────────────────────────────────────────────────────

func isAny(err error, targets ...error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsNotFound returns true when err (or any error in its chain) is one of the
// domain "not found" errors.
func IsNotFound(err error) bool {
	return isAny(err, ErrAuctionNotFound, ErrBidNotFound, ErrParticipantNotFound, ErrNoCurrentAuction)
}

// IsConflict returns true for expected, non-exceptional outcomes that the
// caller must surface without retrying.
func IsConflict(err error) bool {
	return isAny(err, ErrAlreadyLocked, ErrAuctionNotLive, ErrInvalidTransition, ErrLockNotHeldByActor, ErrNoCredit, ErrNotChargeable)
}

// IsTransient returns true when the operation may succeed if retried with
// fresh state.
func IsTransient(err error) bool {
	return isAny(err, ErrConcurrentUpdate)
}

// IsIntegrity returns true for payment callbacks that must not be actioned.
func IsIntegrity(err error) bool {
	return isAny(err, ErrInvalidSignature, ErrPaymentMismatch, ErrLatePayment)
}

// IsAuthError returns true for authentication/authorisation errors.
func IsAuthError(err error) bool {
	return isAny(err, ErrUnauthorized, ErrForbidden, ErrTokenExpired, ErrTokenInvalid)
}
