// Package client issues units of work against an unreliable dependency
// with bounded retries, adaptive per-attempt timeouts, circuit breaking by
// failure category, and micro-batching of overflow under load.
//
// The per-attempt timeout tracks the dependency: it is computed from the
// 95th percentile of recent round trips, clamped between MinTimeout and
// MaxTimeout. When the number of in-flight calls reaches MaxInFlight, new
// calls queue into a small batch window instead of piling up unboundedly,
// and a batcher admits at most BatchMax of them per window tick.
//
// Usage:
//
//	c := client.New(client.Config{Name: "completion"})
//	c.Start()
//	defer c.Stop()
//
//	reply, err := client.Execute(ctx, c, func(ctx context.Context) (string, error) {
//	    return callModel(ctx, prompt)
//	})
//
// Failures are classified into categories (timeout, connection reset, rate
// limited, validation, unknown); each category trips its own circuit.
package client
