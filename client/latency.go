package client

import (
	"sort"
	"sync"
	"time"
)

// latencyTracker keeps a fixed window of recent round-trip durations and
// reports their 95th percentile. The window overwrites oldest-first once
// full, so the percentile always reflects recent behavior.
type latencyTracker struct {
	mu      sync.Mutex
	window  int
	samples []time.Duration
	next    int
}

func newLatencyTracker(window int) *latencyTracker {
	if window <= 0 {
		window = 50
	}
	return &latencyTracker{
		window:  window,
		samples: make([]time.Duration, 0, window),
	}
}

// Record adds one round-trip duration to the window.
func (t *latencyTracker) Record(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.samples) < t.window {
		t.samples = append(t.samples, d)
		return
	}
	t.samples[t.next] = d
	t.next = (t.next + 1) % t.window
}

// P95 returns the 95th percentile by rank over the current window and the
// number of samples in it. Zero samples yields a zero percentile.
func (t *latencyTracker) P95() (time.Duration, int) {
	t.mu.Lock()
	n := len(t.samples)
	if n == 0 {
		t.mu.Unlock()
		return 0, 0
	}
	sorted := make([]time.Duration, n)
	copy(sorted, t.samples)
	t.mu.Unlock()

	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return sorted[(n*95)/100], n
}
