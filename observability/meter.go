package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/kbukum/govkit/logger"
)

// MeterConfig configures the OpenTelemetry meter provider.
type MeterConfig struct {
	// ServiceName is the name of the service.
	ServiceName string
	// ServiceVersion is the version of the service.
	ServiceVersion string
	// Environment is the deployment environment (dev, staging, prod).
	Environment string
	// Endpoint is the OTLP HTTP endpoint host:port (e.g., "localhost:4318").
	Endpoint string
	// Insecure allows insecure connections (for development).
	Insecure bool
	// Interval is the metric export interval.
	Interval time.Duration
}

// DefaultMeterConfig returns sensible defaults for development.
func DefaultMeterConfig(serviceName string) MeterConfig {
	return MeterConfig{
		ServiceName:    serviceName,
		ServiceVersion: "1.0.0",
		Environment:    "development",
		Endpoint:       "localhost:4318",
		Insecure:       true,
		Interval:       15 * time.Second,
	}
}

// InitMeter initializes the OpenTelemetry meter provider.
// Returns a MeterProvider that should be shut down on application exit.
func InitMeter(ctx context.Context, config *MeterConfig) (*sdkmetric.MeterProvider, error) {
	opts := []otlpmetrichttp.Option{
		otlpmetrichttp.WithEndpoint(config.Endpoint),
	}
	if config.Insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}

	exporter, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating metric exporter: %w", err)
	}

	res, err := newResource(config.ServiceName, config.ServiceVersion, config.Environment)
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}

	readerOpts := []sdkmetric.PeriodicReaderOption{}
	if config.Interval > 0 {
		readerOpts = append(readerOpts, sdkmetric.WithInterval(config.Interval))
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, readerOpts...)),
		sdkmetric.WithResource(res),
	)

	otel.SetMeterProvider(mp)

	logger.Info("meter initialized", logger.Fields(
		"service", config.ServiceName,
		"endpoint", config.Endpoint,
		"interval", config.Interval.String(),
	))

	return mp, nil
}

// Meter returns a named meter from the global provider.
func Meter(name string) metric.Meter {
	return otel.Meter(name)
}

// Metrics holds OpenTelemetry metric instruments for resource governance.
// Requests are partitioned by category (the named dependency class a call
// is governed under) and outcome (success, error, cache_hit, timeout).
type Metrics struct {
	requestTotal      metric.Int64Counter
	requestDuration   metric.Float64Histogram
	requestActive     metric.Int64UpDownCounter
	breakerTransition metric.Int64Counter
	cacheEvent        metric.Int64Counter
}

// NewMetrics creates metric instruments on the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	requestTotal, err := meter.Int64Counter("govern.request.total",
		metric.WithDescription("Total number of governed requests"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating govern.request.total counter: %w", err)
	}

	requestDuration, err := meter.Float64Histogram("govern.request.duration",
		metric.WithDescription("Duration of governed requests in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating govern.request.duration histogram: %w", err)
	}

	requestActive, err := meter.Int64UpDownCounter("govern.request.active",
		metric.WithDescription("Number of governed requests currently in flight"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating govern.request.active gauge: %w", err)
	}

	breakerTransition, err := meter.Int64Counter("govern.breaker.transition",
		metric.WithDescription("Circuit breaker state transitions"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating govern.breaker.transition counter: %w", err)
	}

	cacheEvent, err := meter.Int64Counter("govern.cache.event",
		metric.WithDescription("Cache events (hit, miss, evict, expire)"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating govern.cache.event counter: %w", err)
	}

	return &Metrics{
		requestTotal:      requestTotal,
		requestDuration:   requestDuration,
		requestActive:     requestActive,
		breakerTransition: breakerTransition,
		cacheEvent:        cacheEvent,
	}, nil
}

// RecordRequestStart increments the active request count for a category.
func (m *Metrics) RecordRequestStart(ctx context.Context, category string) {
	m.requestActive.Add(ctx, 1, metric.WithAttributes(
		attribute.String("category", category),
	))
}

// RecordRequestEnd decrements active requests and records the completed request.
func (m *Metrics) RecordRequestEnd(ctx context.Context, category, outcome string, duration time.Duration) {
	catAttr := metric.WithAttributes(
		attribute.String("category", category),
	)
	m.requestActive.Add(ctx, -1, catAttr)
	m.requestTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("category", category),
		attribute.String("outcome", outcome),
	))
	m.requestDuration.Record(ctx, duration.Seconds(), catAttr)
}

// RecordBreakerTransition records a circuit breaker state change.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, breaker, from, to string) {
	m.breakerTransition.Add(ctx, 1, metric.WithAttributes(
		attribute.String("breaker", breaker),
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

// RecordCacheEvent records a cache hit, miss, eviction, or expiry.
func (m *Metrics) RecordCacheEvent(ctx context.Context, cache, event string) {
	m.cacheEvent.Add(ctx, 1, metric.WithAttributes(
		attribute.String("cache", cache),
		attribute.String("event", event),
	))
}
