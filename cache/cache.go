package cache

import (
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Config configures a cache.
type Config struct {
	// Name identifies this cache for callbacks and logging.
	Name string
	// Capacity is the maximum number of entries before batch eviction.
	Capacity int
	// BaseTTL is the starting lifetime of a new entry.
	BaseTTL time.Duration
	// MinTTL is the lower bound for adaptively computed TTLs.
	MinTTL time.Duration
	// MaxTTL is the upper bound for adaptively computed TTLs.
	MaxTTL time.Duration
	// SweepInterval is how often the background sweeper purges expired
	// entries. Zero disables the sweeper; expired entries are then only
	// purged lazily on access.
	SweepInterval time.Duration
	// MaxKeyLen is the longest key stored verbatim. Longer keys are
	// digested so arbitrarily large prompts index a fixed-size key.
	MaxKeyLen int
	// OnEvict is called after a capacity-driven batch eviction.
	OnEvict func(name string, evicted int)
	// OnExpire is called when an expired entry is purged. The key is the
	// stored form, which for oversized keys is the digest.
	OnExpire func(name, key string)
	// Clock supplies time and tickers. Defaults to the wall clock.
	Clock clockwork.Clock
}

// DefaultConfig returns sensible defaults.
func DefaultConfig(name string) Config {
	return Config{
		Name:          name,
		Capacity:      500,
		BaseTTL:       5 * time.Minute,
		MinTTL:        time.Minute,
		MaxTTL:        30 * time.Minute,
		SweepInterval: time.Minute,
		MaxKeyLen:     256,
	}
}

// Stats is a point-in-time snapshot of a cache.
type Stats struct {
	Name     string
	Size     int
	Capacity int
	BaseTTL  time.Duration
	MinTTL   time.Duration
	MaxTTL   time.Duration
}

// entry holds one cached value. The insert counts as the first access, so
// hit rate after k hits is k/(k+1).
type entry[V any] struct {
	value       V
	createdAt   time.Time
	expiresAt   time.Time
	ttl         time.Duration
	accessCount int
	hitCount    int
}

// Cache is an in-memory cache whose entry TTLs adapt to hit rate.
type Cache[V any] struct {
	config Config
	clock  clockwork.Clock

	mu      sync.Mutex
	entries map[string]*entry[V]

	started bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New creates a new cache. The background sweeper is not running until
// Start is called.
func New[V any](config Config) *Cache[V] {
	def := DefaultConfig(config.Name)
	if config.Capacity <= 0 {
		config.Capacity = def.Capacity
	}
	if config.BaseTTL <= 0 {
		config.BaseTTL = def.BaseTTL
	}
	if config.MinTTL <= 0 {
		config.MinTTL = def.MinTTL
	}
	if config.MaxTTL <= 0 {
		config.MaxTTL = def.MaxTTL
	}
	if config.MaxTTL < config.MinTTL {
		config.MaxTTL = config.MinTTL
	}
	if config.MaxKeyLen <= 0 {
		config.MaxKeyLen = def.MaxKeyLen
	}
	if config.Clock == nil {
		config.Clock = clockwork.NewRealClock()
	}

	return &Cache[V]{
		config:  config,
		clock:   config.Clock,
		entries: make(map[string]*entry[V]),
	}
}

// Get returns the cached value for key. A hit bumps the entry's hit rate,
// recomputes its TTL, and extends the expiry when the new TTL reaches past
// it; an access never moves the expiry earlier. Expired entries are purged
// and reported as misses.
func (c *Cache[V]) Get(key string) (V, bool) {
	k := internKey(key, c.config.MaxKeyLen)

	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	e, ok := c.entries[k]
	if !ok {
		return zero, false
	}

	now := c.clock.Now()
	if !now.Before(e.expiresAt) {
		delete(c.entries, k)
		if c.config.OnExpire != nil {
			c.config.OnExpire(c.config.Name, k)
		}
		return zero, false
	}

	e.accessCount++
	e.hitCount++
	ttl := c.adaptiveTTL(e)
	if expiry := now.Add(ttl); expiry.After(e.expiresAt) {
		e.expiresAt = expiry
		e.ttl = ttl
	}
	return e.value, true
}

// Set stores a value under key with the adaptive base TTL.
func (c *Cache[V]) Set(key string, value V) {
	c.SetWithTTL(key, value, 0)
}

// SetWithTTL stores a value with an explicit starting TTL. A non-positive
// ttl falls back to the base TTL. Overwriting an existing key resets the
// entry as if freshly inserted. When the cache is at capacity, the oldest
// fifth of the entries is evicted in one batch first.
func (c *Cache[V]) SetWithTTL(key string, value V, ttl time.Duration) {
	k := internKey(key, c.config.MaxKeyLen)
	if ttl <= 0 {
		ttl = c.config.BaseTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[k]; !exists && len(c.entries) >= c.config.Capacity {
		c.evictOldestLocked()
	}

	now := c.clock.Now()
	c.entries[k] = &entry[V]{
		value:       value,
		createdAt:   now,
		expiresAt:   now.Add(ttl),
		ttl:         ttl,
		accessCount: 1,
		hitCount:    0,
	}
}

// Delete removes the entry for key. Returns true if an entry was removed.
func (c *Cache[V]) Delete(key string) bool {
	k := internKey(key, c.config.MaxKeyLen)

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[k]; !ok {
		return false
	}
	delete(c.entries, k)
	return true
}

// Flush removes all entries.
func (c *Cache[V]) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry[V])
}

// Len returns the number of stored entries, including expired entries that
// have not been purged yet.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns a point-in-time snapshot of the cache.
func (c *Cache[V]) Stats() Stats {
	c.mu.Lock()
	size := len(c.entries)
	c.mu.Unlock()

	return Stats{
		Name:     c.config.Name,
		Size:     size,
		Capacity: c.config.Capacity,
		BaseTTL:  c.config.BaseTTL,
		MinTTL:   c.config.MinTTL,
		MaxTTL:   c.config.MaxTTL,
	}
}

// Start launches the background sweeper. It is a no-op when the sweeper is
// already running or the sweep interval is zero.
func (c *Cache[V]) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started || c.config.SweepInterval <= 0 {
		return
	}
	c.started = true
	c.stopCh = make(chan struct{})
	c.doneCh = make(chan struct{})
	go c.sweep(c.stopCh, c.doneCh)
}

// Stop halts the background sweeper and waits for it to exit.
func (c *Cache[V]) Stop() {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	c.started = false
	stop, done := c.stopCh, c.doneCh
	c.mu.Unlock()

	close(stop)
	<-done
}

func (c *Cache[V]) sweep(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := c.clock.NewTicker(c.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.Chan():
			c.removeExpired()
		}
	}
}

func (c *Cache[V]) removeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	for k, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, k)
			if c.config.OnExpire != nil {
				c.config.OnExpire(c.config.Name, k)
			}
		}
	}
}

// adaptiveTTL computes an entry's TTL from its hit rate: base * (1 + 2r),
// clamped to [MinTTL, MaxTTL]. The rate converges toward 1 as hits
// accumulate, so hot entries live up to three times the base TTL.
func (c *Cache[V]) adaptiveTTL(e *entry[V]) time.Duration {
	rate := 0.0
	if e.accessCount > 0 {
		rate = float64(e.hitCount) / float64(e.accessCount)
	}
	ttl := time.Duration(float64(c.config.BaseTTL) * (1 + 2*rate))
	if ttl < c.config.MinTTL {
		ttl = c.config.MinTTL
	}
	if ttl > c.config.MaxTTL {
		ttl = c.config.MaxTTL
	}
	return ttl
}

// evictOldestLocked removes the oldest fifth of the entries by creation
// time, at least one.
func (c *Cache[V]) evictOldestLocked() {
	count := c.config.Capacity / 5
	if count < 1 {
		count = 1
	}

	type aged struct {
		key       string
		createdAt time.Time
	}
	all := make([]aged, 0, len(c.entries))
	for k, e := range c.entries {
		all = append(all, aged{key: k, createdAt: e.createdAt})
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].createdAt.Before(all[j].createdAt)
	})

	if count > len(all) {
		count = len(all)
	}
	for _, a := range all[:count] {
		delete(c.entries, a.key)
	}
	if count > 0 && c.config.OnEvict != nil {
		c.config.OnEvict(c.config.Name, count)
	}
}
