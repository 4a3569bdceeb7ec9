package breaker

import (
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// State represents the circuit breaker state.
type State int

const (
	// StateClosed allows requests to pass through.
	StateClosed State = iota
	// StateOpen blocks all requests.
	StateOpen
	// StateHalfOpen allows a single probe to test recovery.
	StateHalfOpen
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Common errors.
var (
	ErrOpen = errors.New("circuit breaker is open")
)

// Config configures a circuit breaker.
type Config struct {
	// Name identifies this breaker for callbacks and logging.
	Name string
	// Threshold is the number of consecutive failures before opening.
	Threshold int
	// Cooldown is how long the circuit stays open before a probe is allowed.
	Cooldown time.Duration
	// OnStateChange is called when state changes.
	OnStateChange func(name string, from, to State)
	// Clock supplies time. Defaults to the wall clock.
	Clock clockwork.Clock
}

// DefaultConfig returns sensible defaults.
func DefaultConfig(name string) Config {
	return Config{
		Name:      name,
		Threshold: 5,
		Cooldown:  30 * time.Second,
	}
}

// Snapshot is a point-in-time view of a breaker.
type Snapshot struct {
	Name                string
	State               State
	ConsecutiveFailures int
	NextProbeAt         time.Time
}

// Breaker implements the circuit breaker pattern around consecutive
// failures. It fails fast while a dependency is unhealthy and admits a
// single probe per cooldown to test recovery.
//
// States:
//   - Closed: Normal operation, requests pass through
//   - Open: Dependency is unhealthy, requests fail immediately
//   - Half-Open: Cooldown has passed, exactly one probe may proceed
type Breaker struct {
	config Config
	clock  clockwork.Clock

	mu                  sync.Mutex
	state               State
	consecutiveFailures int
	nextProbeAt         time.Time
	probing             bool
}

// New creates a new breaker in the closed state.
func New(config Config) *Breaker {
	if config.Threshold <= 0 {
		config.Threshold = 5
	}
	if config.Cooldown <= 0 {
		config.Cooldown = 30 * time.Second
	}
	if config.Clock == nil {
		config.Clock = clockwork.NewRealClock()
	}

	return &Breaker{
		config: config,
		clock:  config.Clock,
		state:  StateClosed,
	}
}

// Allow reports whether a call may proceed. When the cooldown of an open
// circuit has passed, the first caller claims the recovery probe: probe is
// true and the claim must be resolved with Success(true), Failure(true), or
// ReleaseProbe. While a probe is outstanding every other caller is rejected
// and the next probe window is pushed a full cooldown out.
func (b *Breaker) Allow() (probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.stateLocked() {
	case StateClosed:
		return false, nil
	case StateHalfOpen:
		if !b.probing {
			b.probing = true
			return true, nil
		}
		b.nextProbeAt = b.clock.Now().Add(b.config.Cooldown)
		return false, ErrOpen
	default:
		return false, ErrOpen
	}
}

// Success records a successful call. A resolved probe closes the circuit;
// any success clears the consecutive failure chain.
func (b *Breaker) Success(probe bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if probe && b.probing {
		b.toState(StateClosed)
	}
	b.consecutiveFailures = 0
}

// Failure records a failed call. A failed probe reopens the circuit with a
// fresh cooldown; in the closed state the consecutive count advances and
// trips the circuit at the threshold.
func (b *Breaker) Failure(probe bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if probe && b.probing {
		b.nextProbeAt = b.clock.Now().Add(b.config.Cooldown)
		b.toState(StateOpen)
		return
	}

	b.consecutiveFailures++
	if b.state == StateClosed && b.consecutiveFailures >= b.config.Threshold {
		b.nextProbeAt = b.clock.Now().Add(b.config.Cooldown)
		b.toState(StateOpen)
	}
}

// ReleaseProbe gives up a claimed probe without resolving it, so the next
// caller can claim it instead.
func (b *Breaker) ReleaseProbe() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probing = false
}

// State returns the current breaker state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateLocked()
}

// ConsecutiveFailures returns the current consecutive failure count.
func (b *Breaker) ConsecutiveFailures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.consecutiveFailures
}

// Snapshot returns a point-in-time view of the breaker.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		Name:                b.config.Name,
		State:               b.stateLocked(),
		ConsecutiveFailures: b.consecutiveFailures,
		NextProbeAt:         b.nextProbeAt,
	}
}

// retryAfter returns how long until the next probe window.
func (b *Breaker) retryAfter() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	d := b.nextProbeAt.Sub(b.clock.Now())
	if d < 0 {
		d = 0
	}
	return d
}

// stateLocked returns the current state, transitioning open circuits to
// half-open once the cooldown has passed.
func (b *Breaker) stateLocked() State {
	if b.state == StateOpen && !b.clock.Now().Before(b.nextProbeAt) {
		b.toState(StateHalfOpen)
	}
	return b.state
}

// toState transitions to a new state, resetting per-state bookkeeping.
func (b *Breaker) toState(to State) {
	if b.state == to {
		return
	}

	from := b.state
	b.state = to

	switch to {
	case StateClosed:
		b.consecutiveFailures = 0
		b.probing = false
	case StateHalfOpen:
		b.consecutiveFailures = 0
		b.probing = false
	case StateOpen:
		b.probing = false
	}

	if b.config.OnStateChange != nil {
		b.config.OnStateChange(b.config.Name, from, to)
	}
}
