package concurrency_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chickenbids/auction/internal/concurrency"
	"github.com/stretchr/testify/require"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestDispatcher_RunsAndDrainsOnStop(t *testing.T) {
	d := concurrency.NewDispatcher(3, 100, time.Second, discard())
	d.Start()

	var ran atomic.Int32
	for i := 0; i < 50; i++ {
		ok := d.Submit(concurrency.Job{Name: "count", Run: func(ctx context.Context) error {
			ran.Add(1)
			return nil
		}})
		require.True(t, ok)
	}
	d.Stop()
	require.Equal(t, int32(50), ran.Load())

	require.False(t, d.Submit(concurrency.Job{Name: "late", Run: func(context.Context) error { return nil }}))
	d.Stop() // idempotent
}

func TestDispatcher_SurvivesFailuresAndPanics(t *testing.T) {
	d := concurrency.NewDispatcher(1, 10, time.Second, discard())
	d.Start()

	var ran atomic.Int32
	d.Submit(concurrency.Job{Name: "boom", Run: func(context.Context) error { panic("boom") }})
	d.Submit(concurrency.Job{Name: "fail", Run: func(context.Context) error { return errors.New("nope") }})
	d.Submit(concurrency.Job{Name: "ok", Run: func(context.Context) error { ran.Add(1); return nil }})
	d.Stop()

	require.Equal(t, int32(1), ran.Load())
}

func TestDispatcher_FullQueueDrops(t *testing.T) {
	d := concurrency.NewDispatcher(1, 1, time.Second, discard())
	// Not started: the single slot fills and the next submit is refused.
	require.True(t, d.Submit(concurrency.Job{Name: "a", Run: func(context.Context) error { return nil }}))
	require.False(t, d.Submit(concurrency.Job{Name: "b", Run: func(context.Context) error { return nil }}))
	d.Start()
	d.Stop()
}
