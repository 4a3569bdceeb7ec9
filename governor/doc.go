// Package governor is the facade over the governance primitives: it
// composes cache lookup, pool admission, timed execution through the
// resilient client, and cache population into one call path, with
// metrics, tracing, and logging at the edges.
//
// Each configured category names one governed dependency and owns its
// pool, optional cache, and client for the governor's lifetime. A cache
// hit returns immediately and bypasses admission entirely; on a miss the
// request takes a pool slot, runs through the client, and is raced
// against the request timeout. The slot is released exactly once even
// when an operation outlives the deadline; the late completion is
// discarded.
//
// Usage:
//
//	cfg := governor.Config{
//	    Categories: map[string]governor.CategoryConfig{
//	        "completion": {
//	            Pool:  governor.PoolSettings{Capacity: 8},
//	            Cache: &governor.CacheSettings{},
//	        },
//	    },
//	}
//	gov, err := governor.New(cfg)
//	if err != nil {
//	    return err
//	}
//	gov.Start(ctx)
//	defer gov.Stop(context.Background())
//
//	reply, err := governor.Do(ctx, gov, "completion",
//	    func(ctx context.Context) (string, error) {
//	        return callModel(ctx, prompt)
//	    },
//	    governor.WithCacheKey(prompt),
//	)
//
// Unknown categories fail fast with a configuration error; there is no
// fallback policy. The governor implements component.Component, so it
// can be registered alongside other components for ordered startup and
// shutdown, and component.Describable for startup summaries.
package governor
