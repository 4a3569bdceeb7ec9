package client

import (
	"context"
	stderrors "errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/kbukum/govkit/breaker"
	goerrors "github.com/kbukum/govkit/errors"
)

// waitUntil polls cond while letting other goroutines run, bounded by real
// time so a broken condition fails the test instead of hanging it.
func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

// advanceUntil steps the fake clock forward until done closes. Steps are
// small relative to every armed timer, so timers fire in order no matter
// when the worker goroutine registers them.
func advanceUntil(t *testing.T, clock *clockwork.FakeClock, done <-chan struct{}, step, budget time.Duration) {
	t.Helper()
	var advanced time.Duration
	for advanced < budget {
		select {
		case <-done:
			return
		default:
		}
		clock.Advance(step)
		advanced += step
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("not done after advancing %v", budget)
}

func TestClient_ExecuteSuccess(t *testing.T) {
	c := New(Config{Name: "test", Clock: clockwork.NewFakeClock()})

	got, err := Execute(context.Background(), c, func(ctx context.Context) (string, error) {
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "ok" {
		t.Errorf("expected ok, got %q", got)
	}

	stats := c.Stats()
	if stats.Samples != 1 {
		t.Errorf("expected 1 latency sample, got %d", stats.Samples)
	}
	if stats.InFlight != 0 {
		t.Errorf("expected slot released, got %d in flight", stats.InFlight)
	}
}

func TestClient_RetriesUntilSuccess(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := New(Config{Name: "test", MaxRetries: 3, Clock: clock})

	var calls atomic.Int32
	done := make(chan struct{})
	var got string
	var execErr error
	go func() {
		defer close(done)
		got, execErr = Execute(context.Background(), c, func(ctx context.Context) (string, error) {
			if calls.Add(1) < 3 {
				return "", stderrors.New("flaky")
			}
			return "ok", nil
		})
	}()

	advanceUntil(t, clock, done, 50*time.Millisecond, 8*time.Second)

	if execErr != nil {
		t.Fatalf("unexpected error: %v", execErr)
	}
	if got != "ok" {
		t.Errorf("expected ok, got %q", got)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", calls.Load())
	}
	if got := c.Breakers()["unknown"].ConsecutiveFailures; got != 0 {
		t.Errorf("success should reset the failure chain, got %d", got)
	}
}

func TestClient_FailureAfterAllRetries(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := New(Config{Name: "test", MaxRetries: 2, Clock: clock})

	var calls atomic.Int32
	done := make(chan struct{})
	var execErr error
	go func() {
		defer close(done)
		_, execErr = Execute(context.Background(), c, func(ctx context.Context) (string, error) {
			calls.Add(1)
			return "", stderrors.New("down")
		})
	}()

	advanceUntil(t, clock, done, 50*time.Millisecond, 8*time.Second)

	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
	appErr, ok := goerrors.AsAppError(execErr)
	if !ok {
		t.Fatalf("expected AppError, got %v", execErr)
	}
	if appErr.Code != goerrors.ErrCodeOperationFailed {
		t.Errorf("expected OPERATION_FAILED, got %s", appErr.Code)
	}
	if appErr.Details["attempts"] != 3 {
		t.Errorf("expected 3 recorded attempts, got %v", appErr.Details["attempts"])
	}
	if got := c.Breakers()["unknown"].ConsecutiveFailures; got != 3 {
		t.Errorf("expected 3 consecutive failures recorded, got %d", got)
	}
}

func TestClient_ValidationNotRetried(t *testing.T) {
	c := New(Config{Name: "test", Clock: clockwork.NewFakeClock()})

	var calls atomic.Int32
	_, err := Execute(context.Background(), c, func(ctx context.Context) (string, error) {
		calls.Add(1)
		return "", goerrors.Tag(stderrors.New("bad input"), goerrors.KindValidation)
	})

	if calls.Load() != 1 {
		t.Fatalf("validation failures must not retry, got %d attempts", calls.Load())
	}
	appErr, ok := goerrors.AsAppError(err)
	if !ok {
		t.Fatalf("expected AppError, got %v", err)
	}
	if appErr.Kind != goerrors.KindValidation {
		t.Errorf("expected validation kind, got %s", appErr.Kind)
	}
	if got := c.Breakers()["validation"].ConsecutiveFailures; got != 1 {
		t.Errorf("expected failure recorded under validation, got %d", got)
	}
}

func TestClient_AttemptTimesOutAndRetries(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := New(Config{
		Name:       "test",
		MaxRetries: 1,
		MinTimeout: time.Second,
		MaxTimeout: time.Second,
		Clock:      clock,
	})

	block := make(chan struct{})
	defer close(block)

	done := make(chan struct{})
	var execErr error
	go func() {
		defer close(done)
		_, execErr = Execute(context.Background(), c, func(ctx context.Context) (string, error) {
			<-block
			return "", nil
		})
	}()

	advanceUntil(t, clock, done, 100*time.Millisecond, 5*time.Second)

	appErr, ok := goerrors.AsAppError(execErr)
	if !ok {
		t.Fatalf("expected AppError, got %v", execErr)
	}
	if appErr.Kind != goerrors.KindTimeout {
		t.Errorf("expected timeout kind, got %s", appErr.Kind)
	}
	if appErr.Details["attempts"] != 2 {
		t.Errorf("expected 2 attempts, got %v", appErr.Details["attempts"])
	}
	if got := c.Breakers()["timeout"].ConsecutiveFailures; got != 2 {
		t.Errorf("expected 2 timeout failures, got %d", got)
	}

	p95, samples := c.P95()
	if samples != 2 {
		t.Errorf("expected 2 latency samples, got %d", samples)
	}
	if p95 != time.Second {
		t.Errorf("expected timed-out attempts recorded at the timeout, got %v", p95)
	}
}

func TestClient_LateCompletionDiscarded(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := New(Config{
		Name:       "test",
		MinTimeout: time.Second,
		MaxTimeout: time.Second,
		RetryIf:    func(error) bool { return false },
		Clock:      clock,
	})

	block := make(chan struct{})
	done := make(chan struct{})
	var execErr error
	go func() {
		defer close(done)
		_, execErr = Execute(context.Background(), c, func(ctx context.Context) (string, error) {
			<-block
			return "late", nil
		})
	}()

	advanceUntil(t, clock, done, 100*time.Millisecond, 3*time.Second)
	if !goerrors.IsAppError(execErr) {
		t.Fatalf("expected timeout error, got %v", execErr)
	}

	// Let the abandoned attempt complete; its result must change nothing.
	close(block)
	time.Sleep(10 * time.Millisecond)

	stats := c.Stats()
	if stats.Samples != 1 {
		t.Errorf("late completion must not record latency, got %d samples", stats.Samples)
	}
	if stats.InFlight != 0 {
		t.Errorf("late completion must not double-release, got %d in flight", stats.InFlight)
	}
}

func TestClient_BreakerOpensAndFastFails(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := New(Config{
		Name:       "test",
		MaxRetries: 1,
		Breaker:    breaker.SetConfig{Threshold: 2},
		Clock:      clock,
	})

	var calls atomic.Int32
	fail := func(ctx context.Context) (string, error) {
		calls.Add(1)
		return "", stderrors.New("down")
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = Execute(context.Background(), c, fail)
	}()
	advanceUntil(t, clock, done, 50*time.Millisecond, 5*time.Second)

	if calls.Load() != 2 {
		t.Fatalf("expected 2 attempts before tripping, got %d", calls.Load())
	}
	if c.Breakers()["unknown"].State != breaker.StateOpen {
		t.Fatalf("expected unknown category open, got %v", c.Breakers()["unknown"].State)
	}

	// The next call must be rejected before the operation runs.
	_, err := Execute(context.Background(), c, fail)
	if calls.Load() != 2 {
		t.Errorf("open circuit must not invoke the operation, got %d calls", calls.Load())
	}
	appErr, ok := goerrors.AsAppError(err)
	if !ok {
		t.Fatalf("expected AppError, got %v", err)
	}
	if appErr.Code != goerrors.ErrCodeBreakerOpen {
		t.Errorf("expected BREAKER_OPEN, got %s", appErr.Code)
	}
	ms, ok := appErr.Details["retry_after_ms"].(int64)
	if !ok || ms <= 0 || ms > 30000 {
		t.Errorf("expected remaining cooldown within (0s, 30s], got %v", appErr.Details["retry_after_ms"])
	}
}

func TestClient_BreakerOpeningMidSequenceStopsRetries(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := New(Config{
		Name:       "test",
		MaxRetries: 5,
		Breaker:    breaker.SetConfig{Threshold: 2},
		Clock:      clock,
	})

	var calls atomic.Int32
	done := make(chan struct{})
	var execErr error
	go func() {
		defer close(done)
		_, execErr = Execute(context.Background(), c, func(ctx context.Context) (string, error) {
			calls.Add(1)
			return "", stderrors.New("down")
		})
	}()
	advanceUntil(t, clock, done, 50*time.Millisecond, 10*time.Second)

	if calls.Load() != 2 {
		t.Errorf("remaining retries should fast-fail once the circuit opens, got %d calls", calls.Load())
	}
	appErr, ok := goerrors.AsAppError(execErr)
	if !ok {
		t.Fatalf("expected AppError, got %v", execErr)
	}
	if appErr.Code != goerrors.ErrCodeBreakerOpen {
		t.Errorf("expected BREAKER_OPEN, got %s", appErr.Code)
	}
}

func TestClient_BreakerRecoversViaProbe(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := New(Config{
		Name:    "test",
		RetryIf: func(error) bool { return false },
		Breaker: breaker.SetConfig{Threshold: 1},
		Clock:   clock,
	})

	_, _ = Execute(context.Background(), c, func(ctx context.Context) (string, error) {
		return "", stderrors.New("down")
	})
	if c.Breakers()["unknown"].State != breaker.StateOpen {
		t.Fatal("expected circuit open after threshold failure")
	}

	clock.Advance(30 * time.Second)

	got, err := Execute(context.Background(), c, func(ctx context.Context) (string, error) {
		return "recovered", nil
	})
	if err != nil {
		t.Fatalf("expected probe to succeed, got %v", err)
	}
	if got != "recovered" {
		t.Errorf("expected recovered, got %q", got)
	}
	if c.Breakers()["unknown"].State != breaker.StateClosed {
		t.Errorf("expected circuit closed after probe success, got %v", c.Breakers()["unknown"].State)
	}
}

func TestClient_CallerCancellationStopsSequence(t *testing.T) {
	c := New(Config{Name: "test", Clock: clockwork.NewFakeClock()})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var calls atomic.Int32
	_, err := Execute(ctx, c, func(ctx context.Context) (string, error) {
		calls.Add(1)
		return "", nil
	})
	if !stderrors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls.Load() != 0 {
		t.Errorf("cancelled call must not run the operation, got %d calls", calls.Load())
	}
}

func TestClient_CancellationDuringAttemptRecordsNothing(t *testing.T) {
	c := New(Config{Name: "test", Clock: clockwork.NewFakeClock()})

	ctx, cancel := context.WithCancel(context.Background())
	_, err := Execute(ctx, c, func(ctx context.Context) (string, error) {
		cancel()
		return "", ctx.Err()
	})
	if !stderrors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(c.Breakers()) != 0 {
		t.Errorf("cancellation must not count as a dependency failure, got %v", c.Breakers())
	}
	if _, samples := c.P95(); samples != 0 {
		t.Errorf("cancellation must not record latency, got %d samples", samples)
	}
}

func TestClient_AdaptiveTimeoutTracksP95(t *testing.T) {
	c := New(Config{
		Name:       "test",
		MinTimeout: time.Second,
		MaxTimeout: 30 * time.Second,
		Clock:      clockwork.NewFakeClock(),
	})

	if got := c.attemptTimeout(); got != 30*time.Second {
		t.Errorf("no samples should use MaxTimeout, got %v", got)
	}

	for i := 0; i < 10; i++ {
		c.latency.Record(2 * time.Second)
	}
	if got := c.attemptTimeout(); got != 3*time.Second {
		t.Errorf("expected p95 x 1.5 = 3s, got %v", got)
	}

	c2 := New(Config{Name: "fast", MinTimeout: time.Second, MaxTimeout: 30 * time.Second, Clock: clockwork.NewFakeClock()})
	c2.latency.Record(100 * time.Millisecond)
	if got := c2.attemptTimeout(); got != time.Second {
		t.Errorf("expected clamp up to MinTimeout, got %v", got)
	}

	c3 := New(Config{Name: "slow", MinTimeout: time.Second, MaxTimeout: 30 * time.Second, Clock: clockwork.NewFakeClock()})
	c3.latency.Record(time.Minute)
	if got := c3.attemptTimeout(); got != 30*time.Second {
		t.Errorf("expected clamp down to MaxTimeout, got %v", got)
	}
}

func TestClient_BackoffProgression(t *testing.T) {
	c := New(Config{Name: "test", Clock: clockwork.NewFakeClock()})

	want := []time.Duration{
		250 * time.Millisecond,
		500 * time.Millisecond,
		time.Second,
		2 * time.Second,
	}
	for attempt, expected := range want {
		if got := c.backoff(attempt); got != expected {
			t.Errorf("backoff(%d) = %v, want %v", attempt, got, expected)
		}
	}
	if got := c.backoff(20); got != 10*time.Second {
		t.Errorf("expected cap at 10s, got %v", got)
	}
}

func TestClient_BackoffJitterStaysInRange(t *testing.T) {
	c := New(Config{Name: "test", Jitter: 0.5, Clock: clockwork.NewFakeClock()})

	for i := 0; i < 100; i++ {
		got := c.backoff(0)
		if got < 125*time.Millisecond || got > 375*time.Millisecond {
			t.Fatalf("jittered backoff out of range: %v", got)
		}
	}
}

func TestClient_Defaults(t *testing.T) {
	config := DefaultConfig("llm")
	if config.MaxInFlight != 10 || config.BatchMax != 5 || config.MaxRetries != 3 {
		t.Errorf("unexpected defaults: %+v", config)
	}
	if config.BatchWindow != 100*time.Millisecond {
		t.Errorf("expected 100ms batch window, got %v", config.BatchWindow)
	}

	c := New(Config{Name: "llm"})
	if c.config.MaxTimeout != 30*time.Second || c.config.MinTimeout != time.Second {
		t.Errorf("unexpected timeout defaults: %+v", c.config)
	}
	if c.config.LatencyWindow != 50 {
		t.Errorf("expected latency window 50, got %d", c.config.LatencyWindow)
	}
	if c.config.Breaker.Name != "llm" {
		t.Errorf("expected breaker named after the client, got %q", c.config.Breaker.Name)
	}
}

func TestLatencyTracker_P95(t *testing.T) {
	tr := newLatencyTracker(50)
	if p95, n := tr.P95(); p95 != 0 || n != 0 {
		t.Errorf("empty tracker should report zero, got %v/%d", p95, n)
	}

	for i := 1; i <= 20; i++ {
		tr.Record(time.Duration(i) * time.Millisecond)
	}
	p95, n := tr.P95()
	if n != 20 {
		t.Errorf("expected 20 samples, got %d", n)
	}
	if p95 != 20*time.Millisecond {
		t.Errorf("expected 20ms at rank 19, got %v", p95)
	}
}

func TestLatencyTracker_WindowOverwritesOldest(t *testing.T) {
	tr := newLatencyTracker(3)
	tr.Record(10 * time.Millisecond)
	tr.Record(20 * time.Millisecond)
	tr.Record(30 * time.Millisecond)
	tr.Record(40 * time.Millisecond)

	p95, n := tr.P95()
	if n != 3 {
		t.Errorf("expected window of 3, got %d", n)
	}
	if p95 != 40*time.Millisecond {
		t.Errorf("expected 40ms, got %v", p95)
	}
}
