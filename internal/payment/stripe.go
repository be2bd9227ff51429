// Package payment adapts the Stripe API to the engine's payment gateway
// and decodes its signed webhook callbacks into domain.PaymentEvent values.
package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chickenbids/auction/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/paymentintent"
	"github.com/stripe/stripe-go/v76/webhook"
)

// Metadata keys echoed back on every payment_intent event.
const (
	metaAuctionID = "auctionId"
	metaBidID     = "bidId"
	metaActorID   = "actorId"
	metaBidPrice  = "bidPrice"
)

// minorUnits is the exponent of the configured currency. Only two-decimal
// currencies are supported.
const minorUnits = 2

// Stripe implements service.PaymentGateway and verifies webhooks.
type Stripe struct {
	intents       *paymentintent.Client
	webhookSecret string
	tolerance     time.Duration
}

// NewStripe creates a Stripe gateway. secretKey may be empty when only
// webhook verification is needed.
func NewStripe(secretKey, webhookSecret string, tolerance time.Duration) *Stripe {
	if tolerance <= 0 {
		tolerance = webhook.DefaultTolerance
	}
	return &Stripe{
		intents:       &paymentintent.Client{B: stripe.GetBackend(stripe.APIBackend), Key: secretKey},
		webhookSecret: webhookSecret,
		tolerance:     tolerance,
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Outbound: payment intents
// ──────────────────────────────────────────────────────────────────────────────

// CreateIntent opens a payment intent for the locked price. The bid id is the
// idempotency key, so a retried call never creates a second charge.
func (s *Stripe) CreateIntent(ctx context.Context, req domain.IntentRequest) (*domain.PaymentIntent, error) {
	amount := ToMinorUnits(req.Amount)
	if amount <= 0 {
		return nil, fmt.Errorf("stripe.CreateIntent: non-positive amount %s", req.Amount)
	}

	params := &stripe.PaymentIntentParams{
		Amount:      stripe.Int64(amount),
		Currency:    stripe.String(req.Currency),
		Description: stripe.String(req.Description),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.BidID.String())
	params.AddMetadata(metaAuctionID, req.AuctionID.String())
	params.AddMetadata(metaBidID, req.BidID.String())
	params.AddMetadata(metaActorID, req.ActorID.String())
	params.AddMetadata(metaBidPrice, req.Amount.StringFixed(minorUnits))

	pi, err := s.intents.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe.CreateIntent: %w", err)
	}
	return &domain.PaymentIntent{
		Reference:    pi.ID,
		ClientSecret: pi.ClientSecret,
		Amount:       FromMinorUnits(pi.Amount),
		Currency:     string(pi.Currency),
	}, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Inbound: webhooks
// ──────────────────────────────────────────────────────────────────────────────

// ParseWebhook verifies the Stripe-Signature header and decodes a
// payment_intent outcome. It returns (nil, nil) for event types the engine
// does not act on, and domain.ErrInvalidSignature when verification fails.
func (s *Stripe) ParseWebhook(payload []byte, signature string) (*domain.PaymentEvent, error) {
	ev, err := webhook.ConstructEventWithOptions(payload, signature, s.webhookSecret, webhook.ConstructEventOptions{
		Tolerance:                s.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidSignature, err)
	}

	var outcome domain.PaymentOutcome
	switch ev.Type {
	case "payment_intent.succeeded":
		outcome = domain.PaymentSucceeded
	case "payment_intent.payment_failed", "payment_intent.canceled":
		outcome = domain.PaymentFailed
	default:
		return nil, nil
	}

	if ev.Data == nil {
		return nil, fmt.Errorf("%w: event %s has no data", domain.ErrPaymentMismatch, ev.ID)
	}
	var pi stripe.PaymentIntent
	if err = json.Unmarshal(ev.Data.Raw, &pi); err != nil {
		return nil, fmt.Errorf("%w: decode payment intent: %v", domain.ErrPaymentMismatch, err)
	}

	out := &domain.PaymentEvent{
		EventID:   ev.ID,
		Reference: pi.ID,
		Outcome:   outcome,
		Amount:    FromMinorUnits(pi.Amount),
	}
	if pi.AmountReceived > 0 {
		out.Amount = FromMinorUnits(pi.AmountReceived)
	}
	if out.AuctionID, err = metaUUID(pi.Metadata, metaAuctionID); err != nil {
		return nil, err
	}
	if out.BidID, err = metaUUID(pi.Metadata, metaBidID); err != nil {
		return nil, err
	}
	if out.ActorID, err = metaUUID(pi.Metadata, metaActorID); err != nil {
		return nil, err
	}
	return out, nil
}

func metaUUID(md map[string]string, key string) (uuid.UUID, error) {
	id, err := uuid.Parse(md[key])
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: metadata %s=%q", domain.ErrPaymentMismatch, key, md[key])
	}
	return id, nil
}

// ToMinorUnits converts a currency amount to integer cents, rounding half up.
func ToMinorUnits(d decimal.Decimal) int64 {
	return d.Shift(minorUnits).Round(0).IntPart()
}

// FromMinorUnits converts integer cents back to a currency amount.
func FromMinorUnits(n int64) decimal.Decimal {
	return decimal.New(n, -minorUnits)
}
