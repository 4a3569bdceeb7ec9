package governor

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/kbukum/govkit/client"
	goerrors "github.com/kbukum/govkit/errors"
	"github.com/kbukum/govkit/logger"
	"github.com/kbukum/govkit/observability"
	"github.com/kbukum/govkit/ratelimit"
)

// Request outcomes recorded on metrics and logs.
const (
	OutcomeSuccess  = "success"
	OutcomeError    = "error"
	OutcomeCacheHit = "cache_hit"
	OutcomeTimeout  = "timeout"
)

// requestOptions carries the per-request knobs.
type requestOptions struct {
	timeout  time.Duration
	cacheKey string
	cacheTTL time.Duration
	priority string
}

// RequestOption customizes one governed request.
type RequestOption func(*requestOptions)

// WithTimeout overrides the category's default request timeout. The
// timeout bounds the whole request, retries included.
func WithTimeout(d time.Duration) RequestOption {
	return func(o *requestOptions) { o.timeout = d }
}

// WithCacheKey enables result caching under the given key. Ignored for
// categories configured without a cache.
func WithCacheKey(key string) RequestOption {
	return func(o *requestOptions) { o.cacheKey = key }
}

// WithCacheTTL sets the starting TTL for the cached result. Zero uses
// the cache's base TTL.
func WithCacheTTL(ttl time.Duration) RequestOption {
	return func(o *requestOptions) { o.cacheTTL = ttl }
}

// WithPriority attaches an advisory priority label to logs and traces.
// Admission order stays strictly FIFO regardless of priority.
func WithPriority(priority string) RequestOption {
	return func(o *requestOptions) { o.priority = priority }
}

// Do runs op under the named category's governance: cache lookup, pool
// admission, then execution through the category's resilient client
// raced against the request timeout. A cache hit returns immediately
// without taking a pool slot. An unknown category fails fast with a
// configuration error and never falls back to a default policy.
func Do[T any](ctx context.Context, g *Governor, categoryName string, op func(context.Context) (T, error), opts ...RequestOption) (T, error) {
	var zero T

	cat, ok := g.categories[categoryName]
	if !ok {
		return zero, goerrors.Configuration("unknown category: " + categoryName).
			WithDetail("category", categoryName)
	}

	req := requestOptions{timeout: cat.cfg.DefaultTimeout}
	for _, opt := range opts {
		opt(&req)
	}

	requestID := uuid.NewString()
	oc := observability.NewOperationContext(g.service, "govern", categoryName, requestID, g.metrics)
	oc.Tracer = g.tracer
	ctx, span := oc.StartSpanForOperation(ctx, observability.SpanGovernRequest)
	if req.priority != "" {
		observability.SetSpanAttribute(ctx, observability.AttrPriority, req.priority)
	}

	if req.cacheKey != "" && cat.cache != nil {
		if v, hit := cat.cache.Get(req.cacheKey); hit {
			if value, ok := v.(T); ok {
				g.recordCacheEvent(cat.name, "hit")
				g.finish(ctx, oc, span, cat, requestID, req, OutcomeCacheHit, nil)
				return value, nil
			}
		}
		g.recordCacheEvent(cat.name, "miss")
	}

	release, err := cat.pool.Acquire(ctx)
	if err != nil {
		err = wrapAdmission(cat, err)
		g.finish(ctx, oc, span, cat, requestID, req, outcomeFor(err), err)
		return zero, err
	}

	value, err := race(ctx, g, cat, req, op, release)
	if err == nil && req.cacheKey != "" && cat.cache != nil {
		cat.cache.SetWithTTL(req.cacheKey, value, req.cacheTTL)
	}
	g.finish(ctx, oc, span, cat, requestID, req, outcomeFor(err), err)
	if err != nil {
		return zero, err
	}
	return value, nil
}

// race runs op through the category's client and races the result
// against the request timeout. The pool slot is released exactly once:
// by the worker when the call finishes, or here at the deadline so
// capacity accounting never waits on a hung call. A completion that
// loses the race parks in the buffered channel and is discarded.
func race[T any](ctx context.Context, g *Governor, cat *category, req requestOptions, op func(context.Context) (T, error), release func()) (T, error) {
	type outcome struct {
		value T
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		value, err := client.Execute(ctx, cat.client, op)
		release()
		done <- outcome{value: value, err: err}
	}()

	timer := g.clock.NewTimer(req.timeout)
	defer timer.Stop()

	var zero T
	select {
	case out := <-done:
		return out.value, out.err
	case <-timer.Chan():
		release()
		return zero, goerrors.Timeout(cat.name, req.timeout)
	case <-ctx.Done():
		release()
		return zero, ctx.Err()
	}
}

// wrapAdmission maps a pool wait timeout to the typed timeout error.
// Context cancellation passes through untouched.
func wrapAdmission(cat *category, err error) error {
	if errors.Is(err, ratelimit.ErrAcquireTimeout) {
		return goerrors.Timeout(cat.name, cat.cfg.Pool.AcquireTimeout)
	}
	return err
}

// outcomeFor maps a request error to the recorded outcome label.
func outcomeFor(err error) string {
	if err == nil {
		return OutcomeSuccess
	}
	if appErr, ok := goerrors.AsAppError(err); ok && appErr.Code == goerrors.ErrCodeTimeout {
		return OutcomeTimeout
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return OutcomeTimeout
	}
	return OutcomeError
}

// finish closes out one governed request: span, metrics, debug log.
func (g *Governor) finish(ctx context.Context, oc *observability.OperationContext, span trace.Span, cat *category, requestID string, req requestOptions, outcome string, err error) {
	oc.EndOperation(ctx, span, outcome, err)

	fields := map[string]interface{}{
		logger.FieldCategory:  cat.name,
		logger.FieldRequestID: requestID,
		logger.FieldOutcome:   outcome,
		logger.FieldDuration:  oc.Duration().Milliseconds(),
	}
	if req.priority != "" {
		fields["priority"] = req.priority
	}
	if err != nil {
		fields[logger.FieldError] = err.Error()
	}
	g.log.Debug("request governed", fields)
}
