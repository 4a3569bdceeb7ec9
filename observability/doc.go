// Package observability provides OpenTelemetry tracing and metrics
// integration for resource governance.
//
// Tracing:
//
//	cfg := observability.DefaultTracerConfig("chat-service")
//	tp, err := observability.InitTracer(ctx, &cfg)
//	defer tp.Shutdown(ctx)
//
//	ctx, span := observability.StartSpan(ctx, observability.SpanGovernRequest)
//	defer span.End()
//
// Metrics:
//
//	mcfg := observability.DefaultMeterConfig("chat-service")
//	mp, err := observability.InitMeter(ctx, &mcfg)
//	defer mp.Shutdown(ctx)
//
//	metrics, err := observability.NewMetrics(observability.Meter("govkit"))
//	metrics.RecordRequestEnd(ctx, "completion", "success", duration)
//
// Governed requests are partitioned by category and outcome; breaker
// transitions and cache events have their own counters.
package observability
