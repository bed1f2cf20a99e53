// Package gateway assembles the admission gateway from its configuration.
//
// It builds the rate limit store and guards, the origin policy and the
// per-route validation pipelines, mounts them on a router next to the
// health and metrics endpoints, and manages the HTTP listener lifecycle
// (stopped, starting, running, stopping).
//
// # Usage
//
//	gw, err := gateway.New(ctx, cfg, gateway.WithLogger(logger))
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	if err := gw.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer gw.Stop(ctx)
//
// # Configuration Reload
//
// Reload swaps the origin policy in place. Rate limits, stores and
// routes are fixed for the lifetime of a Gateway.
//
//	if err := gw.Reload(newConfig); err != nil {
//	    logger.Error("reload failed", observability.Error(err))
//	}
package gateway
