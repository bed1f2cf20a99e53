// Package observability provides logging, metrics, and tracing for the
// admission pipeline.
//
// # Logging
//
// The Logger interface wraps zap. WithContext attaches the correlation id
// of the request and, when a span is active, its trace and span ids:
//
//	logger, err := observability.NewLogger(observability.DefaultLogConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer func() { _ = logger.Sync() }()
//
//	logger.WithContext(r.Context()).Warn("rate limit threshold reached",
//	    observability.String("key", key),
//	)
//
// # Metrics
//
// Metrics owns a private Prometheus registry so that several instances can
// coexist in tests:
//
//	metrics := observability.NewMetrics("admission")
//	mux.Handle("/metrics", metrics.Handler())
//
// All Metrics methods are safe on a nil receiver.
//
// # Tracing
//
// Tracer exports spans over OTLP/gRPC when enabled and falls back to the
// global no-op provider otherwise.
package observability
