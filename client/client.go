package client

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/kbukum/govkit/breaker"
	goerrors "github.com/kbukum/govkit/errors"
)

// Config configures a resilient client.
type Config struct {
	// Name identifies the dependency this client calls.
	Name string
	// MaxInFlight is the number of concurrent calls executed immediately;
	// callers beyond it queue into the batch window.
	MaxInFlight int
	// BatchWindow is how often queued callers are admitted.
	BatchWindow time.Duration
	// BatchMax is the most callers admitted per window tick.
	BatchMax int
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration
	// MaxBackoff caps the exponential backoff.
	MaxBackoff time.Duration
	// BackoffFactor is the multiplier for exponential backoff.
	BackoffFactor float64
	// Jitter adds randomness to backoff (0.0 to 1.0).
	Jitter float64
	// TimeoutFactor scales the p95 latency into a per-attempt timeout.
	TimeoutFactor float64
	// MinTimeout is the lower clamp for the adaptive per-attempt timeout.
	MinTimeout time.Duration
	// MaxTimeout is the upper clamp, and the timeout used before any
	// latency samples exist.
	MaxTimeout time.Duration
	// LatencyWindow is how many recent round trips feed the p95.
	LatencyWindow int
	// RetryIf determines if an error should be retried.
	RetryIf func(error) bool
	// Breaker configures the per-category circuit breakers. Name and
	// Clock default to the client's own.
	Breaker breaker.SetConfig
	// OnBatchFlush is called after each batch admission with the number of
	// callers admitted.
	OnBatchFlush func(name string, size int)
	// Clock supplies time. Defaults to the wall clock.
	Clock clockwork.Clock
}

// DefaultConfig returns sensible defaults.
func DefaultConfig(name string) Config {
	return Config{
		Name:           name,
		MaxInFlight:    10,
		BatchWindow:    100 * time.Millisecond,
		BatchMax:       5,
		MaxRetries:     3,
		InitialBackoff: 250 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
		BackoffFactor:  2.0,
		TimeoutFactor:  1.5,
		MinTimeout:     time.Second,
		MaxTimeout:     30 * time.Second,
		LatencyWindow:  50,
		Breaker:        breaker.DefaultSetConfig(name),
	}
}

// DefaultRetryIf retries errors whose failure kind is retryable, except
// context cancellation and deadline expiry, which always stop the attempt
// sequence.
func DefaultRetryIf(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return goerrors.Classify(err).Retryable()
}

// Stats is a point-in-time view of a client.
type Stats struct {
	Name     string
	InFlight int
	Queued   int
	Samples  int
	P95      time.Duration
}

// Client issues calls against one dependency with retries, adaptive
// per-attempt timeouts, per-category circuit breaking, and micro-batched
// admission under load. Use the package-level Execute to run a call.
type Client struct {
	config  Config
	clock   clockwork.Clock
	set     *breaker.Set
	latency *latencyTracker

	mu       sync.Mutex
	inFlight int
	queue    []*batchItem
	started  bool
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New creates a client. Zero config fields take defaults.
func New(config Config) *Client {
	if config.MaxInFlight <= 0 {
		config.MaxInFlight = 10
	}
	if config.BatchWindow <= 0 {
		config.BatchWindow = 100 * time.Millisecond
	}
	if config.BatchMax <= 0 {
		config.BatchMax = 5
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
	if config.InitialBackoff <= 0 {
		config.InitialBackoff = 250 * time.Millisecond
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = 10 * time.Second
	}
	if config.BackoffFactor <= 0 {
		config.BackoffFactor = 2.0
	}
	if config.TimeoutFactor <= 0 {
		config.TimeoutFactor = 1.5
	}
	if config.MinTimeout <= 0 {
		config.MinTimeout = time.Second
	}
	if config.MaxTimeout <= 0 {
		config.MaxTimeout = 30 * time.Second
	}
	if config.MaxTimeout < config.MinTimeout {
		config.MaxTimeout = config.MinTimeout
	}
	if config.LatencyWindow <= 0 {
		config.LatencyWindow = 50
	}
	if config.RetryIf == nil {
		config.RetryIf = DefaultRetryIf
	}
	if config.Clock == nil {
		config.Clock = clockwork.NewRealClock()
	}
	if config.Breaker.Name == "" {
		config.Breaker.Name = config.Name
	}
	if config.Breaker.Clock == nil {
		config.Breaker.Clock = config.Clock
	}

	return &Client{
		config:  config,
		clock:   config.Clock,
		set:     breaker.NewSet(config.Breaker),
		latency: newLatencyTracker(config.LatencyWindow),
	}
}

// Execute runs op through the client: circuit gate, admission, then up to
// 1+MaxRetries attempts, each raced against the adaptive timeout. The
// operation receives the caller's context unchanged; an attempt that
// outlives its timeout keeps running in the background and its eventual
// result is discarded.
func Execute[T any](ctx context.Context, c *Client, op func(context.Context) (T, error)) (T, error) {
	var zero T

	if err := c.preflight(); err != nil {
		return zero, err
	}
	if err := c.admit(ctx); err != nil {
		return zero, err
	}
	defer c.finish()

	return run(ctx, c, op)
}

// run is the attempt loop. Every attempt passes the circuit gate first, so
// a circuit opening mid-sequence fails the remaining attempts fast.
func run[T any](ctx context.Context, c *Client, op func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error
	var lastKind goerrors.Kind

	attempts := 0
	maxAttempts := c.config.MaxRetries + 1
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		ticket, err := c.set.Allow()
		if err != nil {
			var openErr *breaker.OpenError
			if errors.As(err, &openErr) {
				return zero, goerrors.BreakerOpen(openErr.Category, openErr.RetryAfter)
			}
			return zero, goerrors.Wrap(err)
		}

		result, elapsed, err := attemptOnce(ctx, c, op)
		if err == nil {
			ticket.Success()
			c.latency.Record(elapsed)
			return result, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			ticket.Abandon()
			return zero, err
		}

		kind := goerrors.Classify(err)
		ticket.Failure(string(kind))
		c.latency.Record(elapsed)
		lastErr, lastKind = err, kind
		attempts = attempt + 1

		if !c.config.RetryIf(err) || attempt == maxAttempts-1 {
			break
		}

		timer := c.clock.NewTimer(c.backoff(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.Chan():
		}
	}

	return zero, goerrors.OperationFailed(lastKind, attempts, lastErr)
}

// attemptOnce races one invocation of op against the adaptive timeout. The
// goroutine running op delivers into a buffered channel, so a late
// completion never blocks and is simply dropped.
func attemptOnce[T any](ctx context.Context, c *Client, op func(context.Context) (T, error)) (T, time.Duration, error) {
	type outcome struct {
		value T
		err   error
	}

	timeout := c.attemptTimeout()
	ch := make(chan outcome, 1)
	start := c.clock.Now()
	go func() {
		value, err := op(ctx)
		ch <- outcome{value: value, err: err}
	}()

	timer := c.clock.NewTimer(timeout)
	defer timer.Stop()

	var zero T
	select {
	case out := <-ch:
		return out.value, c.clock.Since(start), out.err
	case <-timer.Chan():
		return zero, timeout, goerrors.Timeout(c.config.Name, timeout)
	case <-ctx.Done():
		return zero, c.clock.Since(start), ctx.Err()
	}
}

// attemptTimeout derives the per-attempt timeout from recent latency:
// clamp(p95 x TimeoutFactor, MinTimeout, MaxTimeout). With no samples yet
// it is MaxTimeout, so a cold client never times out early.
func (c *Client) attemptTimeout() time.Duration {
	p95, samples := c.latency.P95()
	if samples == 0 {
		return c.config.MaxTimeout
	}
	timeout := time.Duration(float64(p95) * c.config.TimeoutFactor)
	if timeout < c.config.MinTimeout {
		timeout = c.config.MinTimeout
	}
	if timeout > c.config.MaxTimeout {
		timeout = c.config.MaxTimeout
	}
	return timeout
}

// backoff computes the delay before the retry following the given attempt,
// growing exponentially from InitialBackoff and capped at MaxBackoff.
func (c *Client) backoff(attempt int) time.Duration {
	backoff := float64(c.config.InitialBackoff) * math.Pow(c.config.BackoffFactor, float64(attempt))

	if c.config.Jitter > 0 {
		jitterRange := backoff * c.config.Jitter
		backoff += (rand.Float64()*2 - 1) * jitterRange
	}

	if backoff > float64(c.config.MaxBackoff) {
		backoff = float64(c.config.MaxBackoff)
	}
	if backoff < 0 {
		backoff = float64(c.config.InitialBackoff)
	}
	return time.Duration(backoff)
}

// preflight rejects immediately when any failure category's circuit is
// open, before the call takes a slot or queues. Half-open circuits pass so
// the call can become the recovery probe.
func (c *Client) preflight() error {
	now := c.clock.Now()
	for category, snap := range c.set.Snapshot() {
		if snap.State == breaker.StateOpen {
			retryAfter := snap.NextProbeAt.Sub(now)
			if retryAfter < 0 {
				retryAfter = 0
			}
			return goerrors.BreakerOpen(category, retryAfter)
		}
	}
	return nil
}

// Breakers exposes the per-category circuit states.
func (c *Client) Breakers() map[string]breaker.Snapshot {
	return c.set.Snapshot()
}

// P95 returns the current adaptive-timeout input and its sample count.
func (c *Client) P95() (time.Duration, int) {
	return c.latency.P95()
}

// Stats returns a point-in-time view of the client.
func (c *Client) Stats() Stats {
	p95, samples := c.latency.P95()
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Name:     c.config.Name,
		InFlight: c.inFlight,
		Queued:   len(c.queue),
		Samples:  samples,
		P95:      p95,
	}
}
