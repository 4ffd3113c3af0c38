package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/parkflow/parkflow-core/internal/audit"
	"github.com/parkflow/parkflow-core/internal/automation"
	"github.com/parkflow/parkflow-core/internal/fieldbus"
	"github.com/parkflow/parkflow-core/internal/infrastructure/config"
	"github.com/parkflow/parkflow-core/internal/infrastructure/logging"
	"github.com/parkflow/parkflow-core/internal/park"
	"github.com/parkflow/parkflow-core/internal/pointcache"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// FlowRunner starts, stops and reports on the automation runner.
// *automation.Runner satisfies it.
type FlowRunner interface {
	Start(ctx context.Context, flowID string) error
	Stop(ctx context.Context) error
	Status() automation.RunStatus
	IsRunning(flowID string) bool
}

// Reservations reports parks held by an in-flight move and guards
// changes that must not race a new claim.
// *automation.LockManager satisfies it.
type Reservations interface {
	IsReserved(name string) bool
	WithUnreserved(name string, fn func() error) error
}

// Fieldbus performs live device reads, range reads and coil writes.
// *fieldbus.Gateway satisfies it.
type Fieldbus interface {
	Read(ctx context.Context, dev fieldbus.Device) (fieldbus.Snapshot, error)
	ReadRange(ctx context.Context, dev fieldbus.Device, fn fieldbus.Function, start uint16, count int) ([]bool, error)
	WriteCoil(ctx context.Context, dev fieldbus.Device, address uint16, value bool) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config        config.APIConfig
	WS            config.WebSocketConfig
	Logger        *logging.Logger
	Parks         park.Repository
	Points        pointcache.Store
	Fieldbus      Fieldbus
	Devices       []fieldbus.Device
	Flows         automation.Repository
	Runner        FlowRunner
	Reservations  Reservations
	Audit         audit.Repository
	DefaultFlowID string
	ExternalHub   *Hub // If set, the server uses this hub instead of creating its own
	Version       string
}

// Server is the HTTP API server for ParkFlow Core.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg           config.APIConfig
	wsCfg         config.WebSocketConfig
	logger        *logging.Logger
	parks         park.Repository
	points        pointcache.Store
	fieldbus      Fieldbus
	devices       map[string]fieldbus.Device
	flows         automation.Repository
	runner        FlowRunner
	reservations  Reservations
	audit         audit.Repository
	defaultFlowID string
	version       string
	server        *http.Server
	hub           *Hub
	externalHub   bool               // true if hub was injected externally
	cancel        context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	devices := make(map[string]fieldbus.Device, len(deps.Devices))
	for _, d := range deps.Devices {
		devices[d.ID] = d
	}

	flowID := deps.DefaultFlowID
	if flowID == "" {
		flowID = "default"
	}

	s := &Server{
		cfg:           deps.Config,
		wsCfg:         deps.WS,
		logger:        deps.Logger,
		parks:         deps.Parks,
		points:        deps.Points,
		fieldbus:      deps.Fieldbus,
		devices:       devices,
		flows:         deps.Flows,
		runner:        deps.Runner,
		reservations:  deps.Reservations,
		audit:         deps.Audit,
		defaultFlowID: flowID,
		version:       deps.Version,
	}

	// The runner's console sink needs the hub before the server starts, so
	// main usually creates it and hands it in.
	if deps.ExternalHub != nil {
		s.hub = deps.ExternalHub
		s.externalHub = true
	}

	return s, nil
}

// Hub returns the WebSocket hub, or nil before Start when none was injected.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns the routed HTTP handler without starting a listener.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub (unless injected), builds the router and
// launches the HTTP listener in a background goroutine. The server can be
// stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	if s.hub == nil {
		s.hub = NewHub(s.wsCfg, s.logger)
	}
	if !s.externalHub {
		go s.hub.Run(srvCtx)
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server listening", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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

// HealthCheck verifies the API server is running and responsive.
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
