package governor

import (
	"github.com/kbukum/govkit/breaker"
	"github.com/kbukum/govkit/cache"
	"github.com/kbukum/govkit/client"
	"github.com/kbukum/govkit/ratelimit"
)

// Snapshot is a read-only view of every category's governance state,
// intended for health-check and diagnostics collaborators.
type Snapshot struct {
	// Pools holds per-category admission state.
	Pools map[string]ratelimit.PoolStats
	// Caches holds per-category cache state, only for categories
	// configured with a cache.
	Caches map[string]cache.Stats
	// Breakers holds per-category circuit states keyed by failure kind.
	Breakers map[string]map[string]breaker.Snapshot
	// Clients holds per-category client state including the p95 latency
	// feeding the adaptive timeout.
	Clients map[string]client.Stats
}

// Snapshot captures the current state of all pools, caches, breakers,
// and clients.
func (g *Governor) Snapshot() Snapshot {
	snap := Snapshot{
		Pools:    make(map[string]ratelimit.PoolStats, len(g.categories)),
		Caches:   make(map[string]cache.Stats),
		Breakers: make(map[string]map[string]breaker.Snapshot, len(g.categories)),
		Clients:  make(map[string]client.Stats, len(g.categories)),
	}
	for name, cat := range g.categories {
		snap.Pools[name] = cat.pool.Stats()
		if cat.cache != nil {
			snap.Caches[name] = cat.cache.Stats()
		}
		snap.Breakers[name] = cat.client.Breakers()
		snap.Clients[name] = cat.client.Stats()
	}
	return snap
}
