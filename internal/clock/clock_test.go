package clock_test

import (
	"testing"
	"time"

	"github.com/chickenbids/auction/internal/clock"
)

func TestFakeAdvance(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	c := clock.NewFake(start)

	if got := c.Now(); !got.Equal(start) {
		t.Fatalf("Now() = %s, want %s", got, start)
	}
	got := c.Advance(30 * time.Second)
	want := start.Add(30 * time.Second)
	if !got.Equal(want) || !c.Now().Equal(want) {
		t.Errorf("Advance(30s) = %s, want %s", got, want)
	}

	c.Set(start)
	if !c.Now().Equal(start) {
		t.Errorf("Set() did not rewind the clock")
	}
}

func TestRealIsUTC(t *testing.T) {
	if loc := (clock.Real{}).Now().Location(); loc != time.UTC {
		t.Errorf("Real.Now() location = %s, want UTC", loc)
	}
}
