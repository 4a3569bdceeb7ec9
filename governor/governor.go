package governor

import (
	"context"
	"fmt"
	"sync"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/kbukum/govkit/breaker"
	"github.com/kbukum/govkit/cache"
	"github.com/kbukum/govkit/client"
	"github.com/kbukum/govkit/component"
	"github.com/kbukum/govkit/logger"
	"github.com/kbukum/govkit/observability"
	"github.com/kbukum/govkit/ratelimit"
)

// category bundles the governance primitives for one named dependency.
type category struct {
	name   string
	cfg    CategoryConfig
	pool   *ratelimit.Pool
	cache  *cache.Cache[any]
	client *client.Client
}

// Governor mediates calls to slow or unreliable dependencies. Each
// configured category owns a pool, an optional cache, and a resilient
// client, all constructed once and living for the governor's lifetime.
type Governor struct {
	config     Config
	service    string
	log        *logger.Logger
	clock      clockwork.Clock
	meter      metric.Meter
	metrics    *observability.Metrics
	tracer     trace.Tracer
	categories map[string]*category

	mu      sync.Mutex
	started bool
}

var (
	_ component.Component   = (*Governor)(nil)
	_ component.Describable = (*Governor)(nil)
)

// Option customizes a Governor.
type Option func(*Governor)

// WithLogger sets the governor's logger. Defaults to a logger built from
// the config's logging section.
func WithLogger(l *logger.Logger) Option {
	return func(g *Governor) { g.log = l }
}

// WithClock injects the clock used for every timer. Defaults to the wall
// clock.
func WithClock(c clockwork.Clock) Option {
	return func(g *Governor) { g.clock = c }
}

// WithMeter creates the governor's otel instruments on the given meter.
// Without it no metrics are recorded.
func WithMeter(m metric.Meter) Option {
	return func(g *Governor) { g.meter = m }
}

// WithTracer sets the tracer for request spans. Defaults to the global
// tracer provider, a no-op until observability.InitTracer runs.
func WithTracer(t trace.Tracer) Option {
	return func(g *Governor) { g.tracer = t }
}

// New builds a governor from the given config. Defaults are applied and
// the config is validated; every category's primitives are constructed
// exactly once. Background goroutines do not run until Start.
func New(cfg Config, opts ...Option) (*Governor, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	g := &Governor{
		config:     cfg,
		service:    cfg.Logging.ServiceName,
		categories: make(map[string]*category, len(cfg.Categories)),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.clock == nil {
		g.clock = clockwork.NewRealClock()
	}
	if g.log == nil {
		g.log = logger.New(&cfg.Logging, "").WithComponent("governor")
	}
	if g.meter != nil {
		metrics, err := observability.NewMetrics(g.meter)
		if err != nil {
			return nil, err
		}
		g.metrics = metrics
	}

	for name, cc := range cfg.Categories {
		g.categories[name] = g.newCategory(name, cc)
	}
	return g, nil
}

// newCategory wires one category's pool, cache, and client, hooking
// their callbacks into the governor's logger and instruments.
func (g *Governor) newCategory(name string, cc CategoryConfig) *category {
	pool := ratelimit.NewPool(ratelimit.PoolConfig{
		Name:           name,
		Capacity:       cc.Pool.Capacity,
		RefillInterval: cc.Pool.RefillInterval,
		AcquireTimeout: cc.Pool.AcquireTimeout,
		OnReject: func(poolName string) {
			g.log.Debug("admission rejected", map[string]interface{}{
				logger.FieldCategory: poolName,
			})
		},
		Clock: g.clock,
	})

	var ca *cache.Cache[any]
	if cc.Cache != nil {
		ca = cache.New[any](cache.Config{
			Name:          name,
			Capacity:      cc.Cache.Capacity,
			BaseTTL:       cc.Cache.BaseTTL,
			MinTTL:        cc.Cache.MinTTL,
			MaxTTL:        cc.Cache.MaxTTL,
			SweepInterval: cc.Cache.SweepInterval,
			MaxKeyLen:     cc.Cache.MaxKeyLen,
			OnEvict: func(cacheName string, evicted int) {
				g.recordCacheEvent(cacheName, "evict")
				g.log.Debug("cache eviction", map[string]interface{}{
					logger.FieldCategory: cacheName,
					"evicted":            evicted,
				})
			},
			OnExpire: func(cacheName, key string) {
				g.recordCacheEvent(cacheName, "expire")
			},
			Clock: g.clock,
		})
	}

	cl := client.New(client.Config{
		Name:           name,
		MaxInFlight:    cc.Client.MaxInFlight,
		BatchWindow:    cc.Client.BatchWindow,
		BatchMax:       cc.Client.BatchMax,
		MaxRetries:     cc.Client.MaxRetries,
		InitialBackoff: cc.Client.InitialBackoff,
		MaxBackoff:     cc.Client.MaxBackoff,
		BackoffFactor:  cc.Client.BackoffFactor,
		Jitter:         cc.Client.Jitter,
		TimeoutFactor:  cc.Client.TimeoutFactor,
		MinTimeout:     cc.Client.MinTimeout,
		MaxTimeout:     cc.Client.MaxTimeout,
		LatencyWindow:  cc.Client.LatencyWindow,
		Breaker: breaker.SetConfig{
			Name:      name,
			Threshold: cc.Client.Breaker.Threshold,
			Cooldown:  cc.Client.Breaker.Cooldown,
			OnStateChange: func(breakerName string, from, to breaker.State) {
				if g.metrics != nil {
					g.metrics.RecordBreakerTransition(context.Background(), breakerName, from.String(), to.String())
				}
				g.log.Warn("circuit state changed", map[string]interface{}{
					"breaker": breakerName,
					"from":    from.String(),
					"to":      to.String(),
				})
			},
			Clock: g.clock,
		},
		OnBatchFlush: func(clientName string, size int) {
			g.log.Debug("batch admitted", map[string]interface{}{
				logger.FieldCategory: clientName,
				"size":               size,
			})
		},
		Clock: g.clock,
	})

	return &category{name: name, cfg: cc, pool: pool, cache: ca, client: cl}
}

func (g *Governor) recordCacheEvent(name, event string) {
	if g.metrics != nil {
		g.metrics.RecordCacheEvent(context.Background(), name, event)
	}
}

// Categories returns the configured category names.
func (g *Governor) Categories() []string {
	names := make([]string, 0, len(g.categories))
	for name := range g.categories {
		names = append(names, name)
	}
	return names
}

// Name implements component.Component.
func (g *Governor) Name() string { return "governor" }

// Start launches the cache sweepers and client batchers. Calling Start
// again while running is a no-op.
func (g *Governor) Start(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.started {
		return nil
	}
	g.started = true

	for _, cat := range g.categories {
		if cat.cache != nil {
			cat.cache.Start()
		}
		cat.client.Start()
	}

	g.log.Info("governor started", map[string]interface{}{
		"categories": len(g.categories),
	})
	return nil
}

// Stop halts the cache sweepers and client batchers. Callers still
// queued for batch admission are failed; in-flight operations finish on
// their own.
func (g *Governor) Stop(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.started {
		return nil
	}
	g.started = false

	for _, cat := range g.categories {
		cat.client.Stop()
		if cat.cache != nil {
			cat.cache.Stop()
		}
	}

	g.log.Info("governor stopped")
	return nil
}

// Health reports degraded when any category's circuit is open or any
// pool has callers queued for admission.
func (g *Governor) Health(ctx context.Context) component.Health {
	for name, cat := range g.categories {
		for kind, snap := range cat.client.Breakers() {
			if snap.State == breaker.StateOpen {
				return component.Health{
					Name:    g.Name(),
					Status:  component.StatusDegraded,
					Message: fmt.Sprintf("circuit open: %s.%s", name, kind),
				}
			}
		}
		if queued := cat.pool.Queued(); queued > 0 {
			return component.Health{
				Name:    g.Name(),
				Status:  component.StatusDegraded,
				Message: fmt.Sprintf("%d callers queued for %s", queued, name),
			}
		}
	}
	return component.Health{Name: g.Name(), Status: component.StatusHealthy}
}

// Describe implements component.Describable.
func (g *Governor) Describe() component.Description {
	cached := 0
	for _, cat := range g.categories {
		if cat.cache != nil {
			cached++
		}
	}
	return component.Description{
		Name:    "Resource Governor",
		Type:    "governor",
		Details: fmt.Sprintf("categories=%d cached=%d", len(g.categories), cached),
	}
}
