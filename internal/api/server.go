package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/nerrad567/x10-bridge/internal/bridges/x10"
	"github.com/nerrad567/x10-bridge/internal/infrastructure/config"
	"github.com/nerrad567/x10-bridge/internal/infrastructure/logging"
)

// Server timeouts.
const (
	// gracefulShutdownTimeout is the maximum time to wait for in-flight
	// requests to complete during shutdown.
	gracefulShutdownTimeout = 10 * time.Second

	readTimeout  = 5 * time.Second
	writeTimeout = 10 * time.Second
	idleTimeout  = 60 * time.Second
)

// BridgeStatus is the read-only view of the bridge the API serves.
// Satisfied by *x10.Bridge.
type BridgeStatus interface {
	Health() x10.HealthMessage
	Stats() x10.BridgeStats
	Descriptors() []x10.DiscoveryDescriptor
	LastStates() []x10.UnitState
}

// UnitStore lists recorded unit activity. Satisfied by *x10.ActivityRecorder.
type UnitStore interface {
	Units(ctx context.Context) ([]x10.UnitActivity, error)
	UnitCount(ctx context.Context) (int, error)
}

// HealthChecker is a dependency the health endpoint checks on every request.
// Satisfied by *mqtt.Client, *influxdb.Client and *database.DB.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// DBStats reports connection pool statistics. Satisfied by *database.DB.
type DBStats interface {
	Stats() sql.DBStats
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config  config.APIConfig
	Logger  *logging.Logger
	Bridge  BridgeStatus
	Units   UnitStore // optional
	DB      DBStats   // optional
	Version string

	// Checks are keyed by the name reported in the health response.
	Checks map[string]HealthChecker
}

// Server is the HTTP status server.
type Server struct {
	cfg       config.APIConfig
	logger    *logging.Logger
	bridge    BridgeStatus
	units     UnitStore
	db        DBStats
	checks    map[string]HealthChecker
	version   string
	startTime time.Time

	server   *http.Server
	listener net.Listener
}

// New creates a new API server. The server is not started until Start is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Bridge == nil {
		return nil, fmt.Errorf("bridge is required")
	}

	return &Server{
		cfg:       deps.Config,
		logger:    deps.Logger,
		bridge:    deps.Bridge,
		units:     deps.Units,
		db:        deps.DB,
		checks:    deps.Checks,
		version:   deps.Version,
		startTime: time.Now(),
	}, nil
}

// Start binds the listener and serves in the background. Binding errors
// (port in use) are returned directly; the server can be stopped with Close.
func (s *Server) Start(_ context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprintf("%d", s.cfg.Port))

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	s.listener = ln

	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       readTimeout,
		ReadHeaderTimeout: readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	s.logger.Info("API server listening", "address", ln.Addr().String())
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close gracefully shuts down the API server, waiting up to 10 seconds for
// in-flight requests.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}
