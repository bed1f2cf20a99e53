package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"

	"github.com/vyrodovalexey/admission/internal/config"
	"github.com/vyrodovalexey/admission/internal/observability"
)

// maxHeaderBytes caps request header size.
const maxHeaderBytes = 1 << 20

// Listener serves the gateway handler on one address.
type Listener struct {
	config  config.ServerConfig
	server  *http.Server
	handler http.Handler
	logger  observability.Logger
	addr    atomic.Value
	running atomic.Bool
}

// NewListener creates a new listener.
func NewListener(cfg config.ServerConfig, handler http.Handler, logger observability.Logger) *Listener {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Listener{
		config:  cfg,
		handler: handler,
		logger:  logger,
	}
}

// Address returns the bound address once started, the configured one before.
func (l *Listener) Address() string {
	if addr, ok := l.addr.Load().(string); ok {
		return addr
	}
	return l.config.Address
}

// Start binds the address and serves in the background.
func (l *Listener) Start(ctx context.Context) error {
	if l.running.Load() {
		return fmt.Errorf("listener on %s is already running", l.config.Address)
	}

	l.server = &http.Server{
		Addr:              l.config.Address,
		Handler:           l.handler,
		ReadTimeout:       l.config.ReadTimeout.Duration(),
		ReadHeaderTimeout: l.config.ReadTimeout.Duration(),
		WriteTimeout:      l.config.WriteTimeout.Duration(),
		IdleTimeout:       l.config.IdleTimeout.Duration(),
		MaxHeaderBytes:    maxHeaderBytes,
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", l.config.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", l.config.Address, err)
	}

	l.addr.Store(ln.Addr().String())
	l.running.Store(true)

	l.logger.Info("listener started",
		observability.String("address", l.Address()),
	)

	go l.serve(ln)

	return nil
}

func (l *Listener) serve(ln net.Listener) {
	if err := l.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		l.logger.Error("listener error",
			observability.String("address", l.Address()),
			observability.Error(err),
		)
	}
	l.running.Store(false)
}

// Stop shuts the server down, waiting for in-flight requests until ctx ends.
func (l *Listener) Stop(ctx context.Context) error {
	if !l.running.Load() {
		return nil
	}

	l.logger.Info("stopping listener",
		observability.String("address", l.Address()),
	)

	if err := l.server.Shutdown(ctx); err != nil {
		if closeErr := l.server.Close(); closeErr != nil {
			return fmt.Errorf("failed to close listener: %w", closeErr)
		}
		return fmt.Errorf("failed to shutdown listener gracefully: %w", err)
	}

	l.running.Store(false)

	l.logger.Info("listener stopped",
		observability.String("address", l.Address()),
	)

	return nil
}

// IsRunning returns true if the listener is running.
func (l *Listener) IsRunning() bool {
	return l.running.Load()
}
