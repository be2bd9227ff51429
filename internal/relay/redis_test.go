package relay_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/chickenbids/auction/internal/config"
	"github.com/chickenbids/auction/internal/domain"
	"github.com/chickenbids/auction/internal/relay"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type chanSink chan domain.AuctionSnapshot

func (c chanSink) BroadcastAuction(s domain.AuctionSnapshot) { c <- s }

func newRelay(t *testing.T, mr *miniredis.Miniredis) *relay.Redis {
	t.Helper()
	r, err := relay.New(context.Background(), config.RedisConfig{
		Addr:    mr.Addr(),
		Channel: "auction:snapshots",
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestRelay_PublishReachesListener(t *testing.T) {
	r := newRelay(t, miniredis.RunT(t))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l, err := r.Listen(ctx)
	require.NoError(t, err)
	sink := make(chanSink, 1)
	go l.Forward(ctx, sink)

	snap := domain.AuctionSnapshot{
		Event:        domain.EventLockAcquired,
		AuctionID:    uuid.New(),
		Status:       domain.StatusLive,
		CurrentPrice: decimal.RequireFromString("70"),
		Version:      3,
	}
	r.BroadcastAuction(snap)

	select {
	case got := <-sink:
		require.Equal(t, snap.AuctionID, got.AuctionID)
		require.Equal(t, domain.EventLockAcquired, got.Event)
		require.True(t, got.CurrentPrice.Equal(snap.CurrentPrice))
	case <-time.After(2 * time.Second):
		t.Fatal("snapshot not relayed")
	}
}

// A second instance starting later replays the newest snapshot of every
// auction into its own hub.
func TestRelay_ReplaySeedsFreshSink(t *testing.T) {
	mr := miniredis.RunT(t)
	first := newRelay(t, mr)

	a, b := uuid.New(), uuid.New()
	first.BroadcastAuction(domain.AuctionSnapshot{AuctionID: a, Event: domain.EventPriceUpdate, Version: 2})
	first.BroadcastAuction(domain.AuctionSnapshot{AuctionID: a, Event: domain.EventLockAcquired, Version: 3})
	first.BroadcastAuction(domain.AuctionSnapshot{AuctionID: b, Event: domain.EventStatusChanged, Version: 1})
	require.NoError(t, mr.Set("auction:latest:"+uuid.NewString(), "{not json"))

	second := newRelay(t, mr)
	sink := make(chanSink, 8)
	n, err := second.Replay(context.Background(), sink)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	close(sink)

	got := map[uuid.UUID]domain.AuctionSnapshot{}
	for s := range sink {
		got[s.AuctionID] = s
	}
	require.Equal(t, int64(3), got[a].Version)
	require.Equal(t, domain.EventLockAcquired, got[a].Event)
	require.Equal(t, int64(1), got[b].Version)
}

func TestRelay_PublishFailureIsNonFatal(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	r := newRelay(t, mr)
	mr.Close()
	// Must not panic or block past the publish timeout.
	r.BroadcastAuction(domain.AuctionSnapshot{AuctionID: uuid.New()})
}

func TestNew_FailsWhenUnreachable(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	addr := mr.Addr()
	mr.Close()
	_, err = relay.New(context.Background(), config.RedisConfig{Addr: addr}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.Error(t, err)
}
