// Package api provides the HTTP REST API and WebSocket endpoint for
// the monitoring service.
//
// It exposes alert lifecycle operations, device registry management
// and system health to operator dashboards. The server follows the
// same lifecycle pattern as the other infrastructure components:
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

	"github.com/yenshow/ba-backend-sub000/internal/alert"
	"github.com/yenshow/ba-backend-sub000/internal/device"
	"github.com/yenshow/ba-backend-sub000/internal/infrastructure/config"
	"github.com/yenshow/ba-backend-sub000/internal/infrastructure/logging"
	"github.com/yenshow/ba-backend-sub000/internal/monitor"
	"github.com/yenshow/ba-backend-sub000/internal/notify"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// AlertService is the slice of the alert lifecycle service the API uses.
type AlertService interface {
	GetAlert(ctx context.Context, id string) (*alert.Alert, error)
	ListAlerts(ctx context.Context, f alert.ListFilter) ([]alert.Alert, error)
	ListHistory(ctx context.Context, alertID string) ([]alert.HistoryEntry, error)
	CountUnresolved(ctx context.Context) (int, error)
	UpdateAlertStatusByID(ctx context.Context, id string, newStatus alert.Status, actor, reason string) (*alert.Alert, error)
	UnignoreAlertByID(ctx context.Context, id, actor string) (*alert.Alert, error)
}

// DeviceRegistry is the slice of the device registry the API uses.
type DeviceRegistry interface {
	List(ctx context.Context) ([]device.Device, error)
	GetDevice(ctx context.Context, id string) (*device.Device, error)
	CreateDevice(ctx context.Context, d *device.Device) error
	UpdateDevice(ctx context.Context, d *device.Device) error
	DeleteDevice(ctx context.Context, id string) error
}

// SchedulerStatus reports monitoring task state for the system endpoint.
type SchedulerStatus interface {
	Status() []monitor.TaskStatus
	TicksTotal() uint64
	TicksSkipped() uint64
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config    config.APIConfig
	WS        config.WebSocketConfig
	Logger    *logging.Logger
	Alerts    AlertService
	Registry  DeviceRegistry
	Scheduler SchedulerStatus // optional
	Hub       *notify.Hub     // if set, the server uses this hub instead of creating its own
	Version   string
}

// Server is the HTTP API server.
//
// It manages the HTTP listener, routes, middleware, and the WebSocket
// hub. The server is created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	logger    *logging.Logger
	alerts    AlertService
	registry  DeviceRegistry
	scheduler SchedulerStatus
	version   string

	server      *http.Server
	hub         *notify.Hub
	externalHub bool
	cancel      context.CancelFunc
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Alerts == nil {
		return nil, fmt.Errorf("alert service is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("device registry is required")
	}

	s := &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		logger:    deps.Logger,
		alerts:    deps.Alerts,
		registry:  deps.Registry,
		scheduler: deps.Scheduler,
		version:   deps.Version,
	}

	// Use an externally-provided hub when the alert service also needs
	// it for broadcasting.
	if deps.Hub != nil {
		s.hub = deps.Hub
		s.externalHub = true
	}

	return s, nil
}

// Start begins listening for HTTP connections.
//
// It sets up the router, starts the WebSocket hub, and launches the
// HTTP listener in a background goroutine. The server is stopped with
// Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	if s.hub == nil {
		s.hub = notify.NewHub(s.wsCfg, s.logger)
		go s.hub.Run(srvCtx)
	}

	router := s.buildRouter()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           router,
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		err := s.server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	s.logger.Info("API server started", "address", s.server.Addr)
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
