package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/doorgate/internal/audit"
	"github.com/nerrad567/doorgate/internal/auth"
	"github.com/nerrad567/doorgate/internal/device"
	"github.com/nerrad567/doorgate/internal/events"
	"github.com/nerrad567/doorgate/internal/infrastructure/config"
	"github.com/nerrad567/doorgate/internal/infrastructure/logging"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// HealthChecker is implemented by the database, MQTT and InfluxDB clients.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config      config.APIConfig
	RateLimit   config.RateLimitConfig
	Logger      *logging.Logger
	Coordinator *auth.Coordinator
	Sessions    *auth.SessionAuthority
	Tracker     *auth.LockoutTracker
	Users       auth.UserRepository
	Relay       *device.Relay
	AccessLogs  audit.Repository
	Events      *events.Dispatcher // optional

	// Database is reported by /health and must be healthy for a 200.
	Database HealthChecker
	// Optional are reported by /health but only degrade it.
	Optional map[string]HealthChecker

	Version string
}

// Server is the HTTP API server for doorgate.
type Server struct {
	cfg         config.APIConfig
	logger      *logging.Logger
	coordinator *auth.Coordinator
	sessions    *auth.SessionAuthority
	tracker     *auth.LockoutTracker
	users       auth.UserRepository
	relay       *device.Relay
	accessLogs  audit.Repository
	events      *events.Dispatcher
	database    HealthChecker
	optional    map[string]HealthChecker
	limiter     *rateLimiter
	version     string

	handler http.Handler
	server  *http.Server
	cancel  context.CancelFunc
}

// New creates a new API server. The server is not started until Start is
// called.
func New(deps Deps) (*Server, error) {
	switch {
	case deps.Logger == nil:
		return nil, fmt.Errorf("logger is required")
	case deps.Coordinator == nil:
		return nil, fmt.Errorf("auth coordinator is required")
	case deps.Sessions == nil:
		return nil, fmt.Errorf("session authority is required")
	case deps.Tracker == nil:
		return nil, fmt.Errorf("lockout tracker is required")
	case deps.Users == nil:
		return nil, fmt.Errorf("user repository is required")
	case deps.Relay == nil:
		return nil, fmt.Errorf("device relay is required")
	case deps.AccessLogs == nil:
		return nil, fmt.Errorf("access log repository is required")
	}

	s := &Server{
		cfg:         deps.Config,
		logger:      deps.Logger,
		coordinator: deps.Coordinator,
		sessions:    deps.Sessions,
		tracker:     deps.Tracker,
		users:       deps.Users,
		relay:       deps.Relay,
		accessLogs:  deps.AccessLogs,
		events:      deps.Events,
		database:    deps.Database,
		optional:    deps.Optional,
		version:     deps.Version,
	}
	if deps.RateLimit.Enabled {
		s.limiter = newRateLimiter(deps.RateLimit.RequestsPerMinute, deps.RateLimit.Burst)
	}
	s.handler = s.buildRouter()

	return s, nil
}

// Handler returns the fully wired router.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start launches the HTTP listener in a background goroutine. Stop it with
// Close.
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	if s.limiter != nil {
		go s.limiter.cleanupLoop(srvCtx)
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.handler,
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server, waiting up to 10 seconds for
// in-flight requests.
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

// HealthCheck verifies the API server has been started.
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
