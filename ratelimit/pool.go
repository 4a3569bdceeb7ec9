package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// PoolConfig configures a resource pool.
type PoolConfig struct {
	// Name identifies this pool for callbacks and logging.
	Name string
	// Capacity is the maximum number of concurrently admitted operations.
	Capacity int
	// RefillInterval restores one admission slot per interval regardless of
	// completions, so a hung dependency cannot starve the queue forever.
	// Zero disables time-based refill, making the pool a strict semaphore.
	RefillInterval time.Duration
	// AcquireTimeout bounds how long a queued Acquire waits for a slot.
	AcquireTimeout time.Duration
	// OnAcquire is called when a slot is acquired.
	OnAcquire func(name string)
	// OnRelease is called when a slot is released.
	OnRelease func(name string)
	// OnReject is called when an acquire times out or is cancelled.
	OnReject func(name string)
	// Clock supplies time and timers. Defaults to the wall clock.
	Clock clockwork.Clock
}

// DefaultPoolConfig returns sensible defaults.
func DefaultPoolConfig(name string) PoolConfig {
	return PoolConfig{
		Name:           name,
		Capacity:       5,
		RefillInterval: time.Second,
		AcquireTimeout: 30 * time.Second,
	}
}

// PoolStats is a point-in-time snapshot of a pool.
type PoolStats struct {
	Name           string
	Active         int
	Queued         int
	Capacity       int
	RefillInterval time.Duration
}

// Pool bounds how many operations run against a dependency at once.
// Admission is token based: slots return when work completes and, when a
// refill interval is configured, on fixed interval boundaries. With refill
// enabled the active count may transiently exceed capacity while earlier
// admissions are still running; with refill disabled the pool behaves as a
// strict semaphore and active never exceeds capacity.
type Pool struct {
	config  PoolConfig
	limiter *Limiter

	mu     sync.Mutex
	active int
}

// NewPool creates a new pool.
func NewPool(config PoolConfig) *Pool {
	if config.Capacity <= 0 {
		config.Capacity = 5
	}
	if config.AcquireTimeout <= 0 {
		config.AcquireTimeout = 30 * time.Second
	}
	if config.Clock == nil {
		config.Clock = clockwork.NewRealClock()
	}

	limiter := NewLimiter(Config{
		Name:           config.Name,
		Capacity:       config.Capacity,
		RefillInterval: config.RefillInterval,
		AcquireTimeout: config.AcquireTimeout,
		Clock:          config.Clock,
	})

	return &Pool{
		config:  config,
		limiter: limiter,
	}
}

// Acquire admits one operation, queueing in strict FIFO order behind earlier
// callers when the pool is saturated. It returns an idempotent release
// function that must be called exactly once when the operation finishes;
// extra calls are no-ops. On failure it returns ErrAcquireTimeout or the
// context error.
func (p *Pool) Acquire(ctx context.Context) (func(), error) {
	if err := p.limiter.Acquire(ctx); err != nil {
		if p.config.OnReject != nil {
			p.config.OnReject(p.config.Name)
		}
		return nil, err
	}

	p.mu.Lock()
	p.active++
	p.mu.Unlock()

	if p.config.OnAcquire != nil {
		p.config.OnAcquire(p.config.Name)
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			p.mu.Lock()
			p.active--
			p.mu.Unlock()
			p.limiter.Release()
			if p.config.OnRelease != nil {
				p.config.OnRelease(p.config.Name)
			}
		})
	}
	return release, nil
}

// Execute runs the given function within the pool, releasing the slot on
// every exit path including panics.
func (p *Pool) Execute(ctx context.Context, fn func() error) error {
	release, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()
	return fn()
}

// ExecuteWithResult runs a function that returns a value.
func ExecuteWithResult[T any](p *Pool, ctx context.Context, fn func() (T, error)) (T, error) {
	var result T
	err := p.Execute(ctx, func() error {
		var fnErr error
		result, fnErr = fn()
		return fnErr
	})
	return result, err
}

// Active returns the number of currently admitted operations.
func (p *Pool) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// Queued returns the number of callers waiting for admission.
func (p *Pool) Queued() int {
	return p.limiter.Queued()
}

// Capacity returns the maximum number of concurrently admitted operations.
func (p *Pool) Capacity() int {
	return p.config.Capacity
}

// Stats returns a point-in-time snapshot of the pool.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	active := p.active
	p.mu.Unlock()

	return PoolStats{
		Name:           p.config.Name,
		Active:         active,
		Queued:         p.limiter.Queued(),
		Capacity:       p.config.Capacity,
		RefillInterval: p.config.RefillInterval,
	}
}
