// Package notify delivers the winner notice after a sale settles.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/chickenbids/auction/internal/domain"
)

// WebhookNotifier POSTs the winner notice as JSON to an email/messaging
// relay. Any non-2xx response is an error; the caller decides whether to retry.
type WebhookNotifier struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

// NewWebhookNotifier creates a WebhookNotifier.
func NewWebhookNotifier(url string, timeout time.Duration, logger *slog.Logger) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

type winnerPayload struct {
	Type        string    `json:"type"`
	AuctionID   string    `json:"auction_id"`
	WinnerID    string    `json:"winner_id"`
	ItemName    string    `json:"item_name"`
	ItemVariant string    `json:"item_variant,omitempty"`
	FinalPrice  string    `json:"final_price"`
	EndedAt     time.Time `json:"ended_at"`
}

// NotifyWinner sends n to the configured endpoint.
func (w *WebhookNotifier) NotifyWinner(ctx context.Context, n domain.WinnerNotice) error {
	body, err := json.Marshal(winnerPayload{
		Type:        "auction_won",
		AuctionID:   n.AuctionID.String(),
		WinnerID:    n.WinnerID.String(),
		ItemName:    n.ItemName,
		ItemVariant: n.ItemVariant,
		FinalPrice:  n.FinalPrice.StringFixed(domain.PricePrecision),
		EndedAt:     n.EndedAt,
	})
	if err != nil {
		return fmt.Errorf("notify.NotifyWinner: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "chickenbids-auction/1.0")
	req.Header.Set("Idempotency-Key", "auction-won-"+n.AuctionID.String())

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("notify.NotifyWinner: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("notify.NotifyWinner: unexpected status %d", resp.StatusCode)
	}
	w.logger.Info("winner notified", "auction_id", n.AuctionID, "winner_id", n.WinnerID)
	return nil
}

// LogNotifier only logs the notice. Used when no relay is configured.
type LogNotifier struct {
	Logger *slog.Logger
}

// NotifyWinner logs n.
func (l LogNotifier) NotifyWinner(_ context.Context, n domain.WinnerNotice) error {
	l.Logger.Info("winner notice",
		"auction_id", n.AuctionID, "winner_id", n.WinnerID, "item", n.ItemName,
		"final_price", n.FinalPrice.StringFixed(domain.PricePrecision))
	return nil
}
