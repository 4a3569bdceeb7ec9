package breaker

import (
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// OpenError reports which failure category's circuit rejected a call and
// when a retry becomes worthwhile.
type OpenError struct {
	Category   string
	RetryAfter time.Duration
}

// Error returns the string representation of the error.
func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit open for category %q", e.Category)
}

// Is matches OpenError against the ErrOpen sentinel.
func (e *OpenError) Is(target error) bool { return target == ErrOpen }

// SetConfig configures a breaker set.
type SetConfig struct {
	// Name identifies the guarded dependency. Member breakers are named
	// "<name>.<category>".
	Name string
	// Threshold is the consecutive failure count that trips a category.
	Threshold int
	// Cooldown is how long a tripped category stays open before probing.
	Cooldown time.Duration
	// OnStateChange is called when any member breaker changes state.
	OnStateChange func(name string, from, to State)
	// Clock supplies time. Defaults to the wall clock.
	Clock clockwork.Clock
}

// DefaultSetConfig returns sensible defaults.
func DefaultSetConfig(name string) SetConfig {
	return SetConfig{
		Name:      name,
		Threshold: 5,
		Cooldown:  30 * time.Second,
	}
}

// Set holds one breaker per failure category for a single dependency.
// Categories trip, cool down, and probe independently: a run of timeouts
// counts only against the timeout breaker. Any open category rejects
// calls to the dependency until its probe succeeds.
type Set struct {
	config SetConfig
	clock  clockwork.Clock

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewSet creates an empty breaker set. Member breakers are created lazily
// the first time their category is seen.
func NewSet(config SetConfig) *Set {
	if config.Threshold <= 0 {
		config.Threshold = 5
	}
	if config.Cooldown <= 0 {
		config.Cooldown = 30 * time.Second
	}
	if config.Clock == nil {
		config.Clock = clockwork.NewRealClock()
	}

	return &Set{
		config:   config,
		clock:    config.Clock,
		breakers: make(map[string]*Breaker),
	}
}

// Ticket tracks one admitted call through to its outcome. Exactly one of
// Success or Failure must be called; extra resolutions are no-ops.
type Ticket struct {
	set    *Set
	probes []*Breaker
	once   sync.Once
}

// Allow checks every category's breaker. If any rejects, it returns an
// OpenError naming that category; probes claimed from other members along
// the way are released so they remain claimable. On success the returned
// ticket carries any claimed probes to resolution.
func (s *Set) Allow() (*Ticket, error) {
	type member struct {
		category string
		breaker  *Breaker
	}

	s.mu.Lock()
	members := make([]member, 0, len(s.breakers))
	for category, b := range s.breakers {
		members = append(members, member{category: category, breaker: b})
	}
	s.mu.Unlock()

	ticket := &Ticket{set: s}
	for _, m := range members {
		probe, err := m.breaker.Allow()
		if err != nil {
			for _, claimed := range ticket.probes {
				claimed.ReleaseProbe()
			}
			return nil, &OpenError{
				Category:   m.category,
				RetryAfter: m.breaker.retryAfter(),
			}
		}
		if probe {
			ticket.probes = append(ticket.probes, m.breaker)
		}
	}
	return ticket, nil
}

// Success resolves the call as successful: claimed probes close their
// circuits and every member's consecutive failure chain is broken.
func (t *Ticket) Success() {
	t.once.Do(func() {
		for _, b := range t.set.members() {
			if t.claimed(b) {
				b.Success(true)
			} else {
				b.Success(false)
			}
		}
	})
}

// Abandon resolves the call without an outcome: claimed probes are
// released for the next caller and no breaker records anything. Meant for
// calls cancelled before the dependency answered.
func (t *Ticket) Abandon() {
	t.once.Do(func() {
		for _, b := range t.probes {
			b.ReleaseProbe()
		}
	})
}

// Failure resolves the call as failed with the given category. Claimed
// probes reopen their circuits with a fresh cooldown; the failure is
// recorded against its own category's breaker, creating it if needed.
func (t *Ticket) Failure(category string) {
	t.once.Do(func() {
		target := t.set.breakerFor(category)
		targetProbed := false
		for _, b := range t.probes {
			b.Failure(true)
			if b == target {
				targetProbed = true
			}
		}
		if !targetProbed {
			target.Failure(false)
		}
	})
}

// Snapshot returns a point-in-time view of every member breaker, keyed by
// category.
func (s *Set) Snapshot() map[string]Snapshot {
	out := make(map[string]Snapshot)
	s.mu.Lock()
	defer s.mu.Unlock()
	for category, b := range s.breakers {
		out[category] = b.Snapshot()
	}
	return out
}

// State returns the state of a category's breaker. Unseen categories are
// closed.
func (s *Set) State(category string) State {
	s.mu.Lock()
	b, ok := s.breakers[category]
	s.mu.Unlock()
	if !ok {
		return StateClosed
	}
	return b.State()
}

// breakerFor returns the breaker for a category, creating it lazily.
func (s *Set) breakerFor(category string) *Breaker {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b, ok := s.breakers[category]; ok {
		return b
	}
	b := New(Config{
		Name:          s.config.Name + "." + category,
		Threshold:     s.config.Threshold,
		Cooldown:      s.config.Cooldown,
		OnStateChange: s.config.OnStateChange,
		Clock:         s.clock,
	})
	s.breakers[category] = b
	return b
}

// members returns a stable snapshot of the current member breakers.
func (s *Set) members() []*Breaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Breaker, 0, len(s.breakers))
	for _, b := range s.breakers {
		out = append(out, b)
	}
	return out
}

func (t *Ticket) claimed(b *Breaker) bool {
	for _, p := range t.probes {
		if p == b {
			return true
		}
	}
	return false
}
