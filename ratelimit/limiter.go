package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Common limiter errors.
var (
	ErrAcquireTimeout = errors.New("timed out waiting for a token")
)

// Config configures a token bucket limiter.
type Config struct {
	// Name identifies this limiter for callbacks and logging.
	Name string
	// Capacity is the maximum number of tokens the bucket holds.
	Capacity int
	// RefillInterval is how often one token is restored. Zero disables
	// time-based refill so tokens return only through Release.
	RefillInterval time.Duration
	// AcquireTimeout bounds how long a queued Acquire waits for a token.
	AcquireTimeout time.Duration
	// OnLimit is called when a request cannot be served immediately.
	OnLimit func(name string)
	// Clock supplies time and timers. Defaults to the wall clock.
	Clock clockwork.Clock
}

// DefaultConfig returns sensible defaults.
func DefaultConfig(name string) Config {
	return Config{
		Name:           name,
		Capacity:       5,
		RefillInterval: time.Second,
		AcquireTimeout: 30 * time.Second,
	}
}

// LimiterStats is a point-in-time snapshot of a limiter.
type LimiterStats struct {
	Name           string
	Tokens         int
	Queued         int
	Capacity       int
	RefillInterval time.Duration
}

// waiter is a queued acquire. Its fields are guarded by the limiter mutex;
// ready is closed exactly once when a token is granted.
type waiter struct {
	ready   chan struct{}
	granted bool
}

// Limiter implements an interval-quantized token bucket.
// One token is restored per whole refill interval, fractional elapsed time
// carries over to the next refill, and overflow callers queue in strict
// FIFO order with a per-waiter deadline.
type Limiter struct {
	config Config
	clock  clockwork.Clock

	mu          sync.Mutex
	tokens      int
	lastRefill  time.Time
	waiters     []*waiter
	timerActive bool
}

// NewLimiter creates a new limiter with a full bucket.
func NewLimiter(config Config) *Limiter {
	if config.Capacity <= 0 {
		config.Capacity = 5
	}
	if config.RefillInterval < 0 {
		config.RefillInterval = 0
	}
	if config.AcquireTimeout <= 0 {
		config.AcquireTimeout = 30 * time.Second
	}
	if config.Clock == nil {
		config.Clock = clockwork.NewRealClock()
	}

	return &Limiter{
		config:     config,
		clock:      config.Clock,
		tokens:     config.Capacity,
		lastRefill: config.Clock.Now(),
	}
}

// Acquire obtains a token, queueing behind earlier callers when none is
// available. It returns ErrAcquireTimeout once the configured wait ceiling
// passes, or the context error if ctx ends first. A grant that races with
// cancellation is honored: exactly one outcome wins, decided under the lock.
func (l *Limiter) Acquire(ctx context.Context) error {
	l.mu.Lock()
	l.refillLocked()
	if l.tokens > 0 && len(l.waiters) == 0 {
		l.tokens--
		l.mu.Unlock()
		return nil
	}

	w := &waiter{ready: make(chan struct{})}
	l.waiters = append(l.waiters, w)
	l.scheduleRefillLocked()
	l.mu.Unlock()

	if l.config.OnLimit != nil {
		l.config.OnLimit(l.config.Name)
	}

	timer := l.clock.NewTimer(l.config.AcquireTimeout)
	defer timer.Stop()

	select {
	case <-w.ready:
		return nil
	case <-timer.Chan():
		return l.abandon(w, ErrAcquireTimeout)
	case <-ctx.Done():
		return l.abandon(w, ctx.Err())
	}
}

// TryAcquire obtains a token without blocking.
// Returns true on success, false when the bucket is empty or callers are
// already queued ahead.
func (l *Limiter) TryAcquire() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.refillLocked()
	if l.tokens > 0 && len(l.waiters) == 0 {
		l.tokens--
		return true
	}

	if l.config.OnLimit != nil {
		l.config.OnLimit(l.config.Name)
	}
	return false
}

// Release returns one token, clamped at capacity, and hands it to the
// oldest waiter if any. Duplicate releases cannot push the bucket past
// capacity.
func (l *Limiter) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.refillLocked()
	if l.tokens < l.config.Capacity {
		l.tokens++
	}
	l.dispatchLocked()
}

// Tokens returns the number of currently available tokens.
func (l *Limiter) Tokens() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refillLocked()
	return l.tokens
}

// Queued returns the number of callers waiting for a token.
func (l *Limiter) Queued() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.waiters)
}

// Capacity returns the maximum number of tokens the bucket holds.
func (l *Limiter) Capacity() int {
	return l.config.Capacity
}

// Stats returns a point-in-time snapshot of the limiter.
func (l *Limiter) Stats() LimiterStats {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.refillLocked()
	return LimiterStats{
		Name:           l.config.Name,
		Tokens:         l.tokens,
		Queued:         len(l.waiters),
		Capacity:       l.config.Capacity,
		RefillInterval: l.config.RefillInterval,
	}
}

// abandon resolves the race between a timeout or cancellation and a grant.
// If the grant arrived first the acquire succeeds; otherwise the waiter is
// unlinked so it can never receive a stale grant.
func (l *Limiter) abandon(w *waiter, cause error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if w.granted {
		return nil
	}
	for i, queued := range l.waiters {
		if queued == w {
			l.waiters = append(l.waiters[:i], l.waiters[i+1:]...)
			break
		}
	}
	return cause
}

// refillLocked adds one token per whole interval elapsed since lastRefill,
// capped at capacity. lastRefill advances only by the whole intervals
// consumed so fractional progress carries over instead of being discarded.
func (l *Limiter) refillLocked() {
	if l.config.RefillInterval <= 0 {
		return
	}
	elapsed := l.clock.Now().Sub(l.lastRefill)
	intervals := int(elapsed / l.config.RefillInterval)
	if intervals <= 0 {
		return
	}
	l.tokens += intervals
	if l.tokens > l.config.Capacity {
		l.tokens = l.config.Capacity
	}
	l.lastRefill = l.lastRefill.Add(time.Duration(intervals) * l.config.RefillInterval)
}

// dispatchLocked grants available tokens to waiters in arrival order.
func (l *Limiter) dispatchLocked() {
	for l.tokens > 0 && len(l.waiters) > 0 {
		w := l.waiters[0]
		l.waiters = l.waiters[1:]
		l.tokens--
		w.granted = true
		close(w.ready)
	}
}

// scheduleRefillLocked arms a single timer for the next refill boundary
// while callers are queued, so grants land at exact interval edges instead
// of whenever the next operation happens to run.
func (l *Limiter) scheduleRefillLocked() {
	if l.config.RefillInterval <= 0 || l.timerActive || len(l.waiters) == 0 {
		return
	}
	next := l.lastRefill.Add(l.config.RefillInterval).Sub(l.clock.Now())
	if next < 0 {
		next = 0
	}
	l.timerActive = true
	l.clock.AfterFunc(next, l.refillTick)
}

func (l *Limiter) refillTick() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.timerActive = false
	l.refillLocked()
	l.dispatchLocked()
	l.scheduleRefillLocked()
}
