package ws_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/chickenbids/auction/internal/domain"
	"github.com/chickenbids/auction/internal/ws"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T) (*ws.Hub, string) {
	t.Helper()
	hub := ws.NewHub(nil, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWs))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func read[T any](t *testing.T, conn *websocket.Conn) T {
	t.Helper()
	var v T
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &v))
	return v
}

func snapshot(id uuid.UUID, version int64, price string) domain.AuctionSnapshot {
	return domain.AuctionSnapshot{
		Event:        domain.EventPriceUpdate,
		AuctionID:    id,
		ItemName:     "Golden Egg",
		Status:       domain.StatusLive,
		CurrentPrice: decimal.RequireFromString(price),
		Version:      version,
		ServerTime:   time.Now().UTC(),
	}
}

func TestHub_ResyncThenLiveUpdates(t *testing.T) {
	hub, url := startHub(t)
	id := uuid.New()
	hub.BroadcastAuction(snapshot(id, 1, "100"))

	conn := dial(t, url)
	resync := read[ws.ResyncMessage](t, conn)
	require.Equal(t, ws.MsgTypeResync, resync.Type)
	require.Len(t, resync.Auctions, 1)
	require.Equal(t, id, resync.Auctions[0].AuctionID)

	hub.BroadcastAuction(snapshot(id, 2, "99"))
	// The v1 delta may still be in flight behind the resync; skip it.
	msg := read[ws.AuctionMessage](t, conn)
	if msg.Data.Version == 1 {
		msg = read[ws.AuctionMessage](t, conn)
	}
	require.Equal(t, ws.MsgTypeAuction, msg.Type)
	require.Equal(t, int64(2), msg.Data.Version)
	require.True(t, msg.Data.CurrentPrice.Equal(decimal.RequireFromString("99")))
	require.Equal(t, 1, hub.ConnectedCount())
}

func TestHub_DropsStaleSnapshots(t *testing.T) {
	hub, url := startHub(t)
	id := uuid.New()
	hub.BroadcastAuction(snapshot(id, 5, "80"))
	hub.BroadcastAuction(snapshot(id, 4, "81"))

	latest, ok := hub.Latest(id)
	require.True(t, ok)
	require.Equal(t, int64(5), latest.Version)

	// A reconnecting observer receives the newest state only.
	conn := dial(t, url)
	resync := read[ws.ResyncMessage](t, conn)
	require.Len(t, resync.Auctions, 1)
	require.Equal(t, int64(5), resync.Auctions[0].Version)
}
