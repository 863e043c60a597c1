package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"paperpipe/internal/logging"
)

func TestNextBeforeAndAfterTrigger(t *testing.T) {
	d, err := NewDaily(7, 0, time.UTC, logging.NewNop())
	if err != nil {
		t.Fatalf("NewDaily: %v", err)
	}
	tests := []struct {
		name string
		from time.Time
		want time.Time
	}{
		{"before", time.Date(2026, 3, 1, 6, 59, 0, 0, time.UTC), time.Date(2026, 3, 1, 7, 0, 0, 0, time.UTC)},
		{"exactly at trigger", time.Date(2026, 3, 1, 7, 0, 0, 0, time.UTC), time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)},
		{"after", time.Date(2026, 3, 1, 18, 30, 0, 0, time.UTC), time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)},
		{"month rollover", time.Date(2026, 1, 31, 23, 0, 0, 0, time.UTC), time.Date(2026, 2, 1, 7, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := d.Next(tt.from); !got.Equal(tt.want) {
				t.Fatalf("Next(%s) = %s, want %s", tt.from, got, tt.want)
			}
		})
	}
}

func TestNextUsesScheduleLocation(t *testing.T) {
	loc := time.FixedZone("UTC+9", 9*3600)
	d, err := NewDaily(7, 0, loc, nil)
	if err != nil {
		t.Fatalf("NewDaily: %v", err)
	}
	// 21:00 UTC is 06:00 the next day in UTC+9.
	from := time.Date(2026, 3, 1, 21, 0, 0, 0, time.UTC)
	want := time.Date(2026, 3, 1, 22, 0, 0, 0, time.UTC)
	if got := d.Next(from); !got.Equal(want) {
		t.Fatalf("Next = %s, want %s", got, want)
	}
}

func TestNewDailyRejectsInvalidClock(t *testing.T) {
	for _, clock := range [][2]int{{24, 0}, {-1, 0}, {7, 60}} {
		if _, err := NewDaily(clock[0], clock[1], nil, nil); err == nil {
			t.Fatalf("expected error for %v", clock)
		}
	}
}

func TestRunInvokesJobPerTrigger(t *testing.T) {
	d, err := NewDaily(7, 0, time.UTC, nil)
	if err != nil {
		t.Fatalf("NewDaily: %v", err)
	}
	fire := make(chan time.Time)
	d.after = func(time.Duration) <-chan time.Time { return fire }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var calls atomic.Int32
	ran := make(chan struct{}, 3)
	done := make(chan error, 1)
	go func() {
		done <- d.Run(ctx, true, func(context.Context) error {
			defer func() { ran <- struct{}{} }()
			if calls.Add(1) == 2 {
				return errors.New("run failed")
			}
			return nil
		})
	}()

	<-ran
	fire <- time.Now()
	<-ran
	fire <- time.Now()
	<-ran
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("job calls = %d, want 3", got)
	}
}
