// Package relay carries auction snapshots between engine instances over
// Redis pub/sub, so every instance's WebSocket hub sees every state change
// no matter which instance committed it.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/chickenbids/auction/internal/config"
	"github.com/chickenbids/auction/internal/domain"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	publishTimeout = 2 * time.Second
	latestTTL      = 24 * time.Hour
)

// Sink receives snapshots from the relay. Implemented by ws.Hub.
type Sink interface {
	BroadcastAuction(snap domain.AuctionSnapshot)
}

// Redis publishes snapshots to a channel and keeps the latest snapshot of
// each auction under its own key. It implements service.Broadcaster.
type Redis struct {
	client  *redis.Client
	channel string
	logger  *slog.Logger
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, cfg config.RedisConfig, logger *slog.Logger) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("relay: connect to redis: %w", err)
	}
	return &Redis{client: client, channel: cfg.Channel, logger: logger}, nil
}

// Close releases the connection pool.
func (r *Redis) Close() error {
	return r.client.Close()
}

const latestPattern = "auction:latest:*"

func latestKey(id uuid.UUID) string {
	return "auction:latest:" + id.String()
}

// BroadcastAuction publishes snap. Failures are logged and dropped; the
// database stays authoritative and observers resync on reconnect.
func (r *Redis) BroadcastAuction(snap domain.AuctionSnapshot) {
	data, err := json.Marshal(snap)
	if err != nil {
		r.logger.Error("relay marshal failed", "auction_id", snap.AuctionID, "err", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	pipe := r.client.Pipeline()
	pipe.Set(ctx, latestKey(snap.AuctionID), data, latestTTL)
	pipe.Publish(ctx, r.channel, data)
	if _, err = pipe.Exec(ctx); err != nil {
		r.logger.Warn("relay publish failed", "auction_id", snap.AuctionID, "event", snap.Event, "err", err)
	}
}

// Replay delivers the last published snapshot of every auction to sink, so a
// freshly started hub can resync its first clients before the next change is
// broadcast. It returns the number of snapshots delivered.
func (r *Redis) Replay(ctx context.Context, sink Sink) (int, error) {
	var (
		cursor uint64
		count  int
	)
	for {
		keys, next, err := r.client.Scan(ctx, cursor, latestPattern, 100).Result()
		if err != nil {
			return count, fmt.Errorf("relay.Replay: %w", err)
		}
		if len(keys) > 0 {
			values, err := r.client.MGet(ctx, keys...).Result()
			if err != nil {
				return count, fmt.Errorf("relay.Replay: %w", err)
			}
			for i, v := range values {
				data, ok := v.(string)
				if !ok {
					continue // expired between SCAN and MGET
				}
				var snap domain.AuctionSnapshot
				if err = json.Unmarshal([]byte(data), &snap); err != nil {
					r.logger.Warn("relay skipped malformed snapshot", "key", keys[i], "err", err)
					continue
				}
				sink.BroadcastAuction(snap)
				count++
			}
		}
		if next == 0 {
			return count, nil
		}
		cursor = next
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Subscriber
// ──────────────────────────────────────────────────────────────────────────────

// Listener is a confirmed subscription to the snapshot channel.
type Listener struct {
	r      *Redis
	pubsub *redis.PubSub
}

// Listen subscribes to the snapshot channel and waits for Redis to confirm.
func (r *Redis) Listen(ctx context.Context) (*Listener, error) {
	pubsub := r.client.Subscribe(ctx, r.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("relay.Listen: %w", err)
	}
	return &Listener{r: r, pubsub: pubsub}, nil
}

// Forward delivers every received snapshot to sink until ctx is cancelled.
func (l *Listener) Forward(ctx context.Context, sink Sink) {
	defer l.pubsub.Close()
	ch := l.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var snap domain.AuctionSnapshot
			if err := json.Unmarshal([]byte(msg.Payload), &snap); err != nil {
				l.r.logger.Warn("relay dropped malformed message", "err", err)
				continue
			}
			sink.BroadcastAuction(snap)
		}
	}
}
