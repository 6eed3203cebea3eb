// Package api provides the read-only HTTP status API for Gray Logic Bridges.
//
// It exposes bridge health, the presence client table, and the latest Xiaomi
// device states for dashboards and ad-hoc curl inspection. All writes go
// through MQTT commands; the API never mutates anything.
//
// The server follows the same lifecycle pattern as other infrastructure
// components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/gray-logic-bridges/internal/bridges/presence"
	"github.com/nerrad567/gray-logic-bridges/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-bridges/internal/infrastructure/logging"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// PresenceSource exposes the live presence bridge state.
type PresenceSource interface {
	Clients() []presence.ClientStatus
}

// ClientStore exposes the persisted presence client history.
type ClientStore interface {
	GetAll(ctx context.Context) ([]presence.ClientRecord, error)
}

// DeviceSource exposes the latest published Xiaomi device states.
type DeviceSource interface {
	States() map[string]map[string]any
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	Logger   *logging.Logger
	Presence PresenceSource // May be nil (presence bridge disabled)
	Clients  ClientStore    // May be nil (presence bridge disabled)
	Devices  DeviceSource   // May be nil (xiaomi bridge disabled)
	Version  string
}

// Server is the HTTP status API server.
//
// It manages the HTTP listener, routes, and middleware. The server is
// created with New() and started with Start().
type Server struct {
	cfg      config.APIConfig
	logger   *logging.Logger
	presence PresenceSource
	clients  ClientStore
	devices  DeviceSource
	version  string
	started  time.Time
	server   *http.Server
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (config, logger) and optional data sources
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	return &Server{
		cfg:      deps.Config,
		logger:   deps.Logger,
		presence: deps.Presence,
		clients:  deps.Clients,
		devices:  deps.Devices,
		version:  deps.Version,
	}, nil
}

// Start begins listening for HTTP connections.
//
// The listener runs in a background goroutine; the server is stopped
// with Close().
func (s *Server) Start(_ context.Context) error {
	s.started = time.Now()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("status API listening", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("status API error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("status API shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down status API: %w", err)
	}
	return nil
}
