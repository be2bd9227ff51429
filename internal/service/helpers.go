package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/chickenbids/auction/internal/clock"
	"github.com/chickenbids/auction/internal/concurrency"
	"github.com/chickenbids/auction/internal/config"
	"github.com/chickenbids/auction/internal/domain"
	"github.com/chickenbids/auction/internal/repository"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// ──────────────────────────────────────────────────────────────────────────────
// Interfaces injected into the services to avoid import cycles
// ──────────────────────────────────────────────────────────────────────────────

// Broadcaster publishes observer snapshots. Implemented by ws.Hub and
// relay.Redis. Delivery is best-effort; observers resync on reconnect.
type Broadcaster interface {
	BroadcastAuction(snap domain.AuctionSnapshot)
}

// Notifier delivers the winner notice. Implemented by the notify package.
type Notifier interface {
	NotifyWinner(ctx context.Context, notice domain.WinnerNotice) error
}

// PaymentGateway creates a charge for a held lock. Implemented by payment.Stripe.
type PaymentGateway interface {
	CreateIntent(ctx context.Context, req domain.IntentRequest) (*domain.PaymentIntent, error)
}

// Dispatcher runs post-commit side effects. Implemented by concurrency.Dispatcher.
type Dispatcher interface {
	Submit(job concurrency.Job) bool
}

// Escalator pages a human when an invariant is found broken.
type Escalator interface {
	Escalate(ctx context.Context, v domain.Violation)
}

// LogEscalator reports violations at error level with a page flag that the
// log pipeline alerts on.
type LogEscalator struct {
	Logger *slog.Logger
}

// Escalate logs v.
func (e LogEscalator) Escalate(_ context.Context, v domain.Violation) {
	e.Logger.Error("invariant violation",
		"auction_id", v.AuctionID, "rule", v.Rule, "detail", v.Detail, "page", true)
}

// ──────────────────────────────────────────────────────────────────────────────
// Deps
// ──────────────────────────────────────────────────────────────────────────────

// Deps bundles the collaborators every engine service needs.
type Deps struct {
	DB           *sqlx.DB
	Auctions     *repository.AuctionRepository
	Bids         *repository.BidRepository
	Participants *repository.ParticipantRepository
	Clock        clock.Clock
	Cfg          *config.Config
	Logger       *slog.Logger
	Broadcaster  Broadcaster // optional
	Escalator    Escalator   // optional; defaults to LogEscalator
}

// inTx runs fn inside a transaction, committing on nil and rolling back
// otherwise.
func (d Deps) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) (err error) {
	tx, err := d.DB.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// withRetry re-runs fn while it fails with domain.ErrConcurrentUpdate, up to
// the configured bound. fn must re-read all state it depends on.
func (d Deps) withRetry(ctx context.Context, fn func() error) error {
	attempts := d.Cfg.Auction.MaxWriteRetries
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); !errors.Is(err, domain.ErrConcurrentUpdate) {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
	}
	return err
}

// publish sends a snapshot of a to observers, if any are wired.
func (d Deps) publish(a *domain.Auction, ev domain.EventType) {
	if d.Broadcaster == nil || a == nil {
		return
	}
	d.Broadcaster.BroadcastAuction(a.Snapshot(ev, d.Clock.Now()))
}

func (d Deps) escalate(ctx context.Context, v domain.Violation) {
	if d.Escalator != nil {
		d.Escalator.Escalate(ctx, v)
		return
	}
	LogEscalator{Logger: d.Logger}.Escalate(ctx, v)
}

// violations collects invariant breaks seen inside one transaction attempt.
// The caller resets it per attempt and escalates it only after commit.
type violations []domain.Violation

func (vs *violations) add(auctionID uuid.UUID, rule, detail string) {
	*vs = append(*vs, domain.Violation{AuctionID: auctionID, Rule: rule, Detail: detail})
}

func (d Deps) escalateAll(ctx context.Context, vs violations) {
	for _, v := range vs {
		d.escalate(ctx, v)
	}
}

// expireActiveBid marks the auction's active bid expired inside tx. A missing
// bid is returned as nil; callers that cleared a lock treat that as a broken
// invariant.
func (d Deps) expireActiveBid(
	ctx context.Context,
	tx *sqlx.Tx,
	auctionID uuid.UUID,
	reason domain.ReleaseReason,
	now time.Time,
) (*domain.Bid, error) {
	bid, err := d.Bids.GetActiveTx(ctx, tx, auctionID)
	if errors.Is(err, domain.ErrBidNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err = d.Bids.Resolve(ctx, tx, bid.ID, domain.BidActive, domain.BidExpired, &reason, now); err != nil {
		return nil, err
	}
	bid.Status = domain.BidExpired
	bid.ReleaseReason = &reason
	bid.ResolvedAt = &now
	return bid, nil
}

// logOutcome logs expected outcomes quietly and everything else as an error.
func (d Deps) logOutcome(op string, err error, args ...any) {
	args = append(args, "err", err)
	switch {
	case domain.IsConflict(err), domain.IsNotFound(err):
		d.Logger.Debug(op, args...)
	case domain.IsTransient(err):
		d.Logger.Warn(op+": retries exhausted", args...)
	default:
		d.Logger.Error(op, args...)
	}
}
