package cache

import (
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

// entryState reads an entry's internals for TTL assertions.
func entryState[V any](t *testing.T, c *Cache[V], key string) (ttl time.Duration, expiresAt time.Time) {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[internKey(key, c.config.MaxKeyLen)]
	if !ok {
		t.Fatalf("expected entry for %q", key)
	}
	return e.ttl, e.expiresAt
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestCache_SetAndGet(t *testing.T) {
	c := New[string](Config{Name: "test", Clock: clockwork.NewFakeClock()})

	c.Set("key", "value")

	got, ok := c.Get("key")
	if !ok {
		t.Fatal("expected a hit")
	}
	if got != "value" {
		t.Errorf("expected 'value', got %q", got)
	}

	if _, ok := c.Get("absent"); ok {
		t.Error("expected a miss for absent key")
	}
}

func TestCache_ExpiresAfterTTL(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := New[string](Config{
		Name:    "test",
		BaseTTL: 5 * time.Minute,
		Clock:   clock,
	})

	c.Set("key", "value")

	clock.Advance(5 * time.Minute)
	if _, ok := c.Get("key"); ok {
		t.Error("expected entry to be expired")
	}
	if c.Len() != 0 {
		t.Errorf("expected expired entry purged on access, got len %d", c.Len())
	}
}

func TestCache_AdaptiveTTLGrowsWithHits(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := New[string](Config{
		Name:    "test",
		BaseTTL: 10 * time.Second,
		MinTTL:  time.Second,
		MaxTTL:  25 * time.Second,
		Clock:   clock,
	})

	c.Set("key", "value")
	prev, _ := entryState(t, c, "key")
	if prev != 10*time.Second {
		t.Fatalf("expected initial ttl of base, got %v", prev)
	}

	// Each hit raises the hit rate toward 1, so the TTL must grow
	// monotonically and stay within the configured bound.
	for i := 0; i < 6; i++ {
		clock.Advance(time.Second)
		if _, ok := c.Get("key"); !ok {
			t.Fatalf("hit %d unexpectedly missed", i)
		}
		ttl, _ := entryState(t, c, "key")
		if ttl < prev {
			t.Errorf("ttl shrank from %v to %v on hit %d", prev, ttl, i)
		}
		if ttl > 25*time.Second {
			t.Errorf("ttl %v exceeds max", ttl)
		}
		prev = ttl
	}

	// hit rate 1/2 doubles the base; after many hits the clamp holds.
	if prev != 25*time.Second {
		t.Errorf("expected ttl saturated at max, got %v", prev)
	}
}

func TestCache_FirstHitDoublesBaseTTL(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := New[string](Config{
		Name:    "test",
		BaseTTL: 10 * time.Second,
		MinTTL:  time.Second,
		MaxTTL:  time.Minute,
		Clock:   clock,
	})

	c.Set("key", "value")
	c.Get("key")

	// One hit out of two accesses: 10s * (1 + 2*0.5) = 20s.
	ttl, _ := entryState(t, c, "key")
	if ttl != 20*time.Second {
		t.Errorf("expected 20s ttl after first hit, got %v", ttl)
	}
}

func TestCache_ExpiryNeverMovesEarlier(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := New[string](Config{
		Name:    "test",
		BaseTTL: 10 * time.Second,
		MinTTL:  time.Second,
		MaxTTL:  25 * time.Second,
		Clock:   clock,
	})

	// An explicit long TTL must survive hits whose adaptive TTL is shorter.
	c.SetWithTTL("key", "value", time.Hour)
	_, before := entryState(t, c, "key")

	clock.Advance(time.Second)
	c.Get("key")

	_, after := entryState(t, c, "key")
	if after.Before(before) {
		t.Errorf("expiry moved earlier: %v -> %v", before, after)
	}
	if !after.Equal(before) {
		t.Errorf("expected expiry unchanged, got %v -> %v", before, after)
	}
}

func TestCache_EvictsOldestBatchAtCapacity(t *testing.T) {
	clock := clockwork.NewFakeClock()
	var evicted int32
	c := New[string](Config{
		Name:     "test",
		Capacity: 10,
		BaseTTL:  time.Hour,
		Clock:    clock,
		OnEvict: func(name string, n int) {
			atomic.AddInt32(&evicted, int32(n))
		},
	})

	for i := 1; i <= 10; i++ {
		c.Set(fmt.Sprintf("key-%d", i), "v")
		clock.Advance(time.Second)
	}

	// The 11th insert evicts the oldest fifth in one batch.
	c.Set("key-11", "v")

	if c.Len() != 9 {
		t.Errorf("expected 9 entries after batch eviction, got %d", c.Len())
	}
	if atomic.LoadInt32(&evicted) != 2 {
		t.Errorf("expected 2 evicted, got %d", evicted)
	}
	for _, gone := range []string{"key-1", "key-2"} {
		if _, ok := c.Get(gone); ok {
			t.Errorf("expected %s evicted", gone)
		}
	}
	for _, kept := range []string{"key-3", "key-10", "key-11"} {
		if _, ok := c.Get(kept); !ok {
			t.Errorf("expected %s kept", kept)
		}
	}
}

func TestCache_EvictsAtLeastOne(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := New[string](Config{
		Name:     "test",
		Capacity: 3,
		BaseTTL:  time.Hour,
		Clock:    clock,
	})

	for i := 1; i <= 3; i++ {
		c.Set(fmt.Sprintf("key-%d", i), "v")
		clock.Advance(time.Second)
	}

	c.Set("key-4", "v")

	if c.Len() != 3 {
		t.Errorf("expected 3 entries, got %d", c.Len())
	}
	if _, ok := c.Get("key-1"); ok {
		t.Error("expected oldest entry evicted")
	}
}

func TestCache_OverwriteDoesNotEvict(t *testing.T) {
	var evictions int32
	c := New[string](Config{
		Name:     "test",
		Capacity: 2,
		Clock:    clockwork.NewFakeClock(),
		OnEvict: func(name string, n int) {
			atomic.AddInt32(&evictions, 1)
		},
	})

	c.Set("a", "1")
	c.Set("b", "2")
	c.Set("a", "3")

	if atomic.LoadInt32(&evictions) != 0 {
		t.Errorf("expected no eviction on overwrite, got %d", evictions)
	}
	if got, _ := c.Get("a"); got != "3" {
		t.Errorf("expected overwritten value, got %q", got)
	}
}

func TestCache_OverwriteResetsEntry(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := New[string](Config{
		Name:    "test",
		BaseTTL: 10 * time.Second,
		MinTTL:  time.Second,
		MaxTTL:  time.Minute,
		Clock:   clock,
	})

	c.Set("key", "v1")
	c.Get("key")
	c.Get("key")

	c.Set("key", "v2")

	ttl, _ := entryState(t, c, "key")
	if ttl != 10*time.Second {
		t.Errorf("expected ttl reset to base on overwrite, got %v", ttl)
	}
}

func TestCache_SetWithTTLOverride(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := New[string](Config{
		Name:    "test",
		BaseTTL: 5 * time.Minute,
		Clock:   clock,
	})

	c.SetWithTTL("short", "v", 10*time.Second)

	clock.Advance(10 * time.Second)
	if _, ok := c.Get("short"); ok {
		t.Error("expected override TTL to expire the entry")
	}
}

func TestCache_DeleteAndFlush(t *testing.T) {
	c := New[string](Config{Name: "test", Clock: clockwork.NewFakeClock()})

	c.Set("a", "1")
	c.Set("b", "2")

	if !c.Delete("a") {
		t.Error("expected Delete to report removal")
	}
	if c.Delete("a") {
		t.Error("expected Delete of absent key to report false")
	}
	if c.Len() != 1 {
		t.Errorf("expected 1 entry, got %d", c.Len())
	}

	c.Flush()
	if c.Len() != 0 {
		t.Errorf("expected empty cache after flush, got %d", c.Len())
	}
}

func TestCache_SweeperRemovesExpired(t *testing.T) {
	clock := clockwork.NewFakeClock()
	var expired int32
	c := New[string](Config{
		Name:          "test",
		BaseTTL:       10 * time.Minute,
		SweepInterval: time.Minute,
		Clock:         clock,
		OnExpire: func(name, key string) {
			atomic.AddInt32(&expired, 1)
		},
	})

	c.SetWithTTL("short", "v", 30*time.Second)
	c.Set("long", "v")

	c.Start()
	defer c.Stop()
	// Wait for the sweeper's ticker before advancing.
	clock.BlockUntil(1)

	clock.Advance(time.Minute)

	waitUntil(t, func() bool { return c.Len() == 1 })
	if atomic.LoadInt32(&expired) != 1 {
		t.Errorf("expected 1 expire callback, got %d", expired)
	}
	if _, ok := c.Get("long"); !ok {
		t.Error("expected unexpired entry to survive the sweep")
	}
}

func TestCache_StartIsIdempotent(t *testing.T) {
	c := New[string](Config{
		Name:          "test",
		SweepInterval: time.Minute,
		Clock:         clockwork.NewFakeClock(),
	})

	c.Start()
	c.Start()
	c.Stop()
	c.Stop()
}

func TestCache_LongKeysAreDigested(t *testing.T) {
	c := New[string](Config{
		Name:      "test",
		MaxKeyLen: 16,
		Clock:     clockwork.NewFakeClock(),
	})

	prompt := strings.Repeat("describe the moon in detail ", 40)
	c.Set(prompt, "completion")

	got, ok := c.Get(prompt)
	if !ok {
		t.Fatal("expected a hit through the digested key")
	}
	if got != "completion" {
		t.Errorf("expected 'completion', got %q", got)
	}

	c.mu.Lock()
	_, rawStored := c.entries[prompt]
	c.mu.Unlock()
	if rawStored {
		t.Error("expected the oversized key to be stored as a digest")
	}
}

func TestInternKey(t *testing.T) {
	if got := internKey("short", 16); got != "short" {
		t.Errorf("expected short key verbatim, got %q", got)
	}

	long := strings.Repeat("x", 100)
	digest := internKey(long, 16)
	if !strings.HasPrefix(digest, digestPrefix) {
		t.Errorf("expected digest prefix, got %q", digest)
	}
	if digest != internKey(long, 16) {
		t.Error("expected digesting to be deterministic")
	}
	if digest == internKey(long+"y", 16) {
		t.Error("expected different keys to produce different digests")
	}
}

func TestCache_Stats(t *testing.T) {
	c := New[string](Config{
		Name:     "responses",
		Capacity: 100,
		BaseTTL:  5 * time.Minute,
		MinTTL:   time.Minute,
		MaxTTL:   30 * time.Minute,
		Clock:    clockwork.NewFakeClock(),
	})

	c.Set("a", "1")

	stats := c.Stats()
	if stats.Name != "responses" {
		t.Errorf("expected name responses, got %s", stats.Name)
	}
	if stats.Size != 1 {
		t.Errorf("expected size 1, got %d", stats.Size)
	}
	if stats.Capacity != 100 {
		t.Errorf("expected capacity 100, got %d", stats.Capacity)
	}
	if stats.BaseTTL != 5*time.Minute || stats.MinTTL != time.Minute || stats.MaxTTL != 30*time.Minute {
		t.Errorf("unexpected ttl bounds: %+v", stats)
	}
}

func TestCache_Defaults(t *testing.T) {
	def := DefaultConfig("test")
	if def.Capacity != 500 {
		t.Errorf("expected default capacity 500, got %d", def.Capacity)
	}
	if def.BaseTTL != 5*time.Minute || def.MinTTL != time.Minute || def.MaxTTL != 30*time.Minute {
		t.Errorf("unexpected ttl defaults: %+v", def)
	}
	if def.SweepInterval != time.Minute {
		t.Errorf("expected default sweep interval 1m, got %v", def.SweepInterval)
	}
	if def.MaxKeyLen != 256 {
		t.Errorf("expected default max key length 256, got %d", def.MaxKeyLen)
	}
}
