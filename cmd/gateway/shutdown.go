package main

import (
	"context"
	"errors"

	"github.com/vyrodovalexey/admission/internal/config"
	"github.com/vyrodovalexey/admission/internal/observability"
)

// shutdown stops the watcher, drains the gateway, releases the store and
// flushes traces, within the configured shutdown timeout.
func (app *application) shutdown(watcher *config.Watcher) error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), app.config.Server.ShutdownTimeout.Duration())
	defer cancel()

	if watcher != nil {
		_ = watcher.Stop()
	}

	var errs []error
	if err := app.gateway.Stop(shutdownCtx); err != nil {
		app.logger.Error("failed to stop gateway gracefully", observability.Error(err))
		errs = append(errs, err)
	}
	if err := app.gateway.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := app.tracer.Shutdown(shutdownCtx); err != nil {
		app.logger.Error("failed to shutdown tracer", observability.Error(err))
		errs = append(errs, err)
	}

	app.logger.Info("gateway stopped")
	return errors.Join(errs...)
}
