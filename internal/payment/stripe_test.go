package payment_test

import (
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/chickenbids/auction/internal/domain"
	"github.com/chickenbids/auction/internal/payment"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76/webhook"
)

const secret = "whsec_test"

func sign(payload []byte, secret string, at time.Time) string {
	sig := webhook.ComputeSignature(at, payload, secret)
	return fmt.Sprintf("t=%d,v1=%s", at.Unix(), hex.EncodeToString(sig))
}

func intentEvent(eventType string, auctionID, bidID, actorID uuid.UUID, amount int64) []byte {
	return []byte(fmt.Sprintf(`{
  "id": "evt_123",
  "object": "event",
  "type": %q,
  "data": {
    "object": {
      "id": "pi_123",
      "object": "payment_intent",
      "amount": %d,
      "amount_received": %d,
      "currency": "aud",
      "metadata": {"auctionId": %q, "bidId": %q, "actorId": %q, "bidPrice": "70.00"}
    }
  }
}`, eventType, amount, amount, auctionID, bidID, actorID))
}

func TestParseWebhook_Succeeded(t *testing.T) {
	s := payment.NewStripe("", secret, 5*time.Minute)
	auctionID, bidID, actorID := uuid.New(), uuid.New(), uuid.New()
	payload := intentEvent("payment_intent.succeeded", auctionID, bidID, actorID, 7000)

	ev, err := s.ParseWebhook(payload, sign(payload, secret, time.Now()))
	require.NoError(t, err)
	require.NotNil(t, ev)
	require.Equal(t, "evt_123", ev.EventID)
	require.Equal(t, "pi_123", ev.Reference)
	require.Equal(t, domain.PaymentSucceeded, ev.Outcome)
	require.Equal(t, auctionID, ev.AuctionID)
	require.Equal(t, bidID, ev.BidID)
	require.Equal(t, actorID, ev.ActorID)
	require.True(t, ev.Amount.Equal(decimal.RequireFromString("70")))
}

func TestParseWebhook_Failed(t *testing.T) {
	s := payment.NewStripe("", secret, 5*time.Minute)
	for _, typ := range []string{"payment_intent.payment_failed", "payment_intent.canceled"} {
		payload := intentEvent(typ, uuid.New(), uuid.New(), uuid.New(), 7000)
		ev, err := s.ParseWebhook(payload, sign(payload, secret, time.Now()))
		require.NoError(t, err, typ)
		require.Equal(t, domain.PaymentFailed, ev.Outcome, typ)
	}
}

func TestParseWebhook_IgnoresOtherEvents(t *testing.T) {
	s := payment.NewStripe("", secret, 5*time.Minute)
	payload := []byte(`{"id":"evt_9","object":"event","type":"customer.created","data":{"object":{}}}`)
	ev, err := s.ParseWebhook(payload, sign(payload, secret, time.Now()))
	require.NoError(t, err)
	require.Nil(t, ev)
}

func TestParseWebhook_RejectsBadSignature(t *testing.T) {
	s := payment.NewStripe("", secret, 5*time.Minute)
	payload := intentEvent("payment_intent.succeeded", uuid.New(), uuid.New(), uuid.New(), 7000)

	_, err := s.ParseWebhook(payload, sign(payload, "whsec_other", time.Now()))
	require.ErrorIs(t, err, domain.ErrInvalidSignature)

	_, err = s.ParseWebhook(payload, sign(payload, secret, time.Now().Add(-time.Hour)))
	require.ErrorIs(t, err, domain.ErrInvalidSignature)

	_, err = s.ParseWebhook(payload, "")
	require.ErrorIs(t, err, domain.ErrInvalidSignature)
}

func TestParseWebhook_RejectsMissingMetadata(t *testing.T) {
	s := payment.NewStripe("", secret, 5*time.Minute)
	payload := []byte(`{"id":"evt_1","object":"event","type":"payment_intent.succeeded",` +
		`"data":{"object":{"id":"pi_1","object":"payment_intent","amount":100,"metadata":{}}}}`)
	_, err := s.ParseWebhook(payload, sign(payload, secret, time.Now()))
	require.ErrorIs(t, err, domain.ErrPaymentMismatch)
}

func TestMinorUnits(t *testing.T) {
	require.Equal(t, int64(7025), payment.ToMinorUnits(decimal.RequireFromString("70.25")))
	require.Equal(t, int64(7003), payment.ToMinorUnits(decimal.RequireFromString("70.025")))
	require.True(t, payment.FromMinorUnits(7025).Equal(decimal.RequireFromString("70.25")))
}
