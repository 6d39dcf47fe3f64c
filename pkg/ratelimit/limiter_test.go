package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func TestConfig_Enabled(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		enabled bool
	}{
		{name: "empty", cfg: Config{}, enabled: false},
		{name: "per_second", cfg: Config{RequestsPerSecond: 1}, enabled: true},
		{name: "per_minute", cfg: Config{RequestsPerMinute: 10}, enabled: true},
		{name: "per_hour", cfg: Config{RequestsPerHour: 100}, enabled: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.Enabled(); got != tt.enabled {
				t.Errorf("Enabled() = %v, want %v", got, tt.enabled)
			}
		})
	}
}

func TestAcquire_Disabled(t *testing.T) {
	l := New(Config{}, testLogger())

	start := time.Now()
	for i := 0; i < 1000; i++ {
		if err := l.Acquire(context.Background(), 1); err != nil {
			t.Fatalf("Acquire() error = %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("disabled limiter took %v for 1000 acquires", elapsed)
	}
}

func TestAcquire_PerSecondPacing(t *testing.T) {
	// 5 acquires at 50 req/s with burst 1 must take at least (5-1)/50 = 80ms.
	l := New(Config{RequestsPerSecond: 50, Burst: 1}, testLogger())

	start := time.Now()
	for i := 0; i < 5; i++ {
		if err := l.Acquire(context.Background(), 1); err != nil {
			t.Fatalf("Acquire() error = %v", err)
		}
	}
	elapsed := time.Since(start)

	if min := 80 * time.Millisecond; elapsed < min {
		t.Errorf("5 acquires at 50 req/s took %v, want >= %v", elapsed, min)
	}
}

func TestAcquire_BurstProceedsImmediately(t *testing.T) {
	l := New(Config{RequestsPerSecond: 1, Burst: 5}, testLogger())

	start := time.Now()
	for i := 0; i < 5; i++ {
		if err := l.Acquire(context.Background(), 1); err != nil {
			t.Fatalf("Acquire() error = %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("burst of 5 took %v, should be immediate", elapsed)
	}
}

func TestAcquire_ContextCancellation(t *testing.T) {
	l := New(Config{RequestsPerSecond: 1, Burst: 1}, testLogger())

	// Drain the burst token.
	if err := l.Acquire(context.Background(), 1); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := l.Acquire(ctx, 1); err == nil {
		t.Fatal("expected context error while blocked on quota")
	}
}

func TestAcquire_Concurrent(t *testing.T) {
	// Concurrent acquires must never exceed the window limit.
	l := New(Config{RequestsPerMinute: 100}, testLogger())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				if err := l.Acquire(context.Background(), 1); err != nil {
					t.Errorf("Acquire() error = %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	if got := len(l.minute.issued); got != 100 {
		t.Errorf("window recorded %d admissions, want 100", got)
	}
}

func TestWindow_WaitBlocksUntilSlotFrees(t *testing.T) {
	w := newWindow(2, time.Minute)

	current := time.Unix(1000, 0)
	var slept []time.Duration
	w.now = func() time.Time { return current }
	w.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		current = current.Add(d)
		return nil
	}

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := w.wait(ctx, 1); err != nil {
			t.Fatalf("wait() error = %v", err)
		}
	}
	if len(slept) != 0 {
		t.Fatalf("first %d admissions should not sleep, slept %v", 2, slept)
	}

	// Third admission must wait until the first ages out of the window.
	if err := w.wait(ctx, 1); err != nil {
		t.Fatalf("wait() error = %v", err)
	}
	if len(slept) == 0 {
		t.Fatal("third admission should have slept")
	}
	if slept[0] != time.Minute {
		t.Errorf("slept %v, want %v", slept[0], time.Minute)
	}
}

func TestWindow_PruneDropsAgedEntries(t *testing.T) {
	w := newWindow(10, time.Minute)
	base := time.Unix(1000, 0)

	w.issued = []time.Time{
		base,
		base.Add(30 * time.Second),
		base.Add(59 * time.Second),
	}

	w.prune(base.Add(61 * time.Second))

	if len(w.issued) != 1 {
		t.Fatalf("prune left %d entries, want 1", len(w.issued))
	}
	if !w.issued[0].Equal(base.Add(59 * time.Second)) {
		t.Errorf("wrong entry survived prune: %v", w.issued[0])
	}
}
