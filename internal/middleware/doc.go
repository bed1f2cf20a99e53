// Package middleware provides the HTTP middleware wrapped around the
// admission pipeline: access logging with request metrics and panic
// recovery that answers with the standard error envelope.
//
// Middleware functions follow the standard Go pattern and compose with
// Chain:
//
//	handler := middleware.Chain(mux,
//	    reqctx.CorrelationID(),
//	    middleware.Recovery(logger, metrics),
//	    middleware.AccessLog(logger, metrics, clientIP),
//	)
package middleware
