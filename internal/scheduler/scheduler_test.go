package scheduler_test

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chickenbids/auction/internal/config"
	"github.com/chickenbids/auction/internal/domain"
	"github.com/chickenbids/auction/internal/scheduler"
	"github.com/stretchr/testify/require"
)

type counter struct {
	calls atomic.Int32
	panic bool
}

func (c *counter) hit() (int, error) {
	n := c.calls.Add(1)
	if c.panic && n == 1 {
		panic("boom")
	}
	return 0, nil
}

type lifecycle struct{ counter }

func (l *lifecycle) StartDue(context.Context) (int, error) { return l.hit() }

type pricer struct{ counter }

func (p *pricer) Tick(context.Context) (int, error) { return p.hit() }

type sweeper struct{ counter }

func (s *sweeper) ExpireStale(context.Context) (int, error) { return s.hit() }

type auditor struct{ counter }

func (a *auditor) Check(context.Context) ([]domain.Violation, error) {
	_, err := a.hit()
	return nil, err
}

type rewarder struct{ counter }

func (r *rewarder) DistributePending(context.Context) (int, error) { return r.hit() }

func TestScheduler_DrivesAllLoops(t *testing.T) {
	cfg := &config.Config{Auction: config.AuctionConfig{
		TickInterval:   5 * time.Millisecond,
		SweepInterval:  5 * time.Millisecond,
		AuditInterval:  5 * time.Millisecond,
		RewardInterval: 5 * time.Millisecond,
	}}
	// The first tick panics; the loop must survive it.
	l, p, s, a, r := &lifecycle{counter{panic: true}}, &pricer{}, &sweeper{}, &auditor{}, &rewarder{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	scheduler.NewScheduler(l, p, s, a, r, cfg, slog.New(slog.NewTextHandler(io.Discard, nil))).Start(ctx)

	require.Eventually(t, func() bool {
		return l.calls.Load() >= 3 && p.calls.Load() >= 2 && s.calls.Load() >= 3 &&
			a.calls.Load() >= 3 && r.calls.Load() >= 3
	}, 2*time.Second, 5*time.Millisecond)
}
