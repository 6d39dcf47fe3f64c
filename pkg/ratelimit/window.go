package ratelimit

import (
	"context"
	"sync"
	"time"
)

// window counts admissions in a trailing interval. Timestamps of prior
// admissions are kept in order; an admission waits until enough of them
// age out of the interval.
type window struct {
	mu       sync.Mutex
	limit    int
	interval time.Duration
	issued   []time.Time

	// now and sleep are replaceable for tests.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func newWindow(limit int, interval time.Duration) *window {
	return &window{
		limit:    limit,
		interval: interval,
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// wait blocks until n admissions fit in the trailing interval, then
// records them. Safe for concurrent callers; waiters re-check after
// sleeping since another caller may have taken the freed quota.
func (w *window) wait(ctx context.Context, n int) error {
	for {
		w.mu.Lock()
		now := w.now()
		w.prune(now)

		if len(w.issued)+n <= w.limit {
			for i := 0; i < n; i++ {
				w.issued = append(w.issued, now)
			}
			w.mu.Unlock()
			return nil
		}

		// Wait for the oldest admission to age out, then re-check.
		wait := w.issued[0].Add(w.interval).Sub(now)
		w.mu.Unlock()

		if wait <= 0 {
			continue
		}
		if err := w.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// prune drops admissions older than the interval. Caller holds mu.
func (w *window) prune(now time.Time) {
	cutoff := now.Add(-w.interval)
	i := 0
	for i < len(w.issued) && !w.issued[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.issued = append(w.issued[:0], w.issued[i:]...)
	}
}
