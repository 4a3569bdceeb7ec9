// Package ratelimit provides admission control for external dependencies.
//
// This package includes:
//   - Limiter: Interval-quantized token bucket with a FIFO waiter queue
//   - Pool: Bounded concurrency pool built on top of a Limiter
//
// A Pool admits work while slots are free, queues overflow callers in strict
// FIFO order, and resupplies slots both when work completes and, optionally,
// on a fixed refill interval so a stuck dependency cannot starve the queue:
//
//	pool := ratelimit.NewPool(ratelimit.PoolConfig{
//	    Name:           "llm",
//	    Capacity:       5,
//	    RefillInterval: time.Second,
//	})
//
//	release, err := pool.Acquire(ctx)
//	if err != nil {
//	    return err
//	}
//	defer release()
package ratelimit
