package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/nerrad567/echonet-heatercooler/internal/accessory"
	"github.com/nerrad567/echonet-heatercooler/internal/infrastructure/config"
	"github.com/nerrad567/echonet-heatercooler/internal/infrastructure/logging"
	"github.com/nerrad567/echonet-heatercooler/internal/platform"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Platform is the appliance registry the API serves. *platform.Platform
// satisfies it.
type Platform interface {
	Appliances() []platform.Entry
	Appliance(id string) (platform.Entry, bool)
	Health() platform.Health
}

// HistoryReader returns recorded appliance states.
// *accessory.HistoryRecorder satisfies it.
type HistoryReader interface {
	History(ctx context.Context, id string, limit int) ([]accessory.HistoryEntry, error)
}

// HealthChecker is implemented by every infrastructure client.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	Logger   *logging.Logger
	Platform Platform

	// History is optional; without it the history route answers 503.
	History HistoryReader

	// Checks are reported by the health route, keyed by component name.
	Checks map[string]HealthChecker

	Version string
}

// Server is the HTTP status and control API.
type Server struct {
	cfg      config.APIConfig
	logger   *logging.Logger
	platform Platform
	history  HistoryReader
	checks   map[string]HealthChecker
	version  string

	server *http.Server
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a new API server with the given dependencies.
// The server is not started until Start() is called.
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Platform == nil {
		return nil, fmt.Errorf("platform is required")
	}

	return &Server{
		cfg:      deps.Config,
		logger:   deps.Logger,
		platform: deps.Platform,
		history:  deps.History,
		checks:   deps.Checks,
		version:  deps.Version,
		ctx:      context.Background(),
	}, nil
}

// Start binds the listener and serves in a background goroutine. The server
// can be stopped with Close().
//
// Parameters:
//   - ctx: Parent of the context used for refreshes the API starts
//
// Returns:
//   - error: If the address cannot be bound
func (s *Server) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		s.cancel()
		return fmt.Errorf("listening on %s: %w", s.server.Addr, err)
	}
	s.logger.Info("API server listening", "address", ln.Addr().String())

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
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
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
