// Package api provides the HTTP REST API and WebSocket server for the
// Vitrea gateway.
//
// The server follows the same lifecycle pattern as other infrastructure components:
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
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/vitrea-gateway/internal/bridges/vitrea"
	"github.com/nerrad567/vitrea-gateway/internal/infrastructure/config"
	"github.com/nerrad567/vitrea-gateway/internal/infrastructure/logging"
	"github.com/nerrad567/vitrea-gateway/internal/vbox"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// WebSocket keepalive defaults in seconds.
const (
	defaultPingInterval = 30
	defaultPongTimeout  = 10
)

// WebSocket broadcast channels.
const (
	ChannelStateChanged = "vitrea.state_changed"
	ChannelConnection   = "vitrea.connection"
)

// Gateway is the part of *vbox.Controller the API reads from.
type Gateway interface {
	Subscribe(filter vbox.SubscriptionFilter, fn vbox.EventHandler) vbox.SubscriptionID
	Unsubscribe(id vbox.SubscriptionID) bool
	Catalog() *vbox.Catalog
	Healthy() bool
	Stats() vbox.ControllerStats
}

// Bridge executes commands and serves the last known device states.
// *vitrea.Bridge satisfies it.
type Bridge interface {
	HandleCommand(cmd vitrea.CommandMessage) vitrea.AckMessage
	States() []vitrea.StateMessage
	State(deviceID string) (vitrea.StateMessage, bool)
	Health() vitrea.HealthMessage
}

// ProbeFunc checks whether a VBox at host:port is usable.
// vbox.ValidateAvailability satisfies it.
type ProbeFunc func(ctx context.Context, host string, port int, opts vbox.ProbeOptions) vbox.AvailabilityResult

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config  config.APIConfig
	WS      config.WebSocketConfig
	Logger  *logging.Logger
	Gateway Gateway
	Bridge  Bridge // Optional: state and command endpoints answer 503 without it

	// GatewayHost and GatewayPort are probed when a probe request names no target.
	GatewayHost string
	GatewayPort int

	Probe   ProbeFunc // Default: vbox.ValidateAvailability
	Version string
}

// Server is the HTTP API server for the Vitrea gateway.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg         config.APIConfig
	wsCfg       config.WebSocketConfig
	logger      *logging.Logger
	gateway     Gateway
	bridge      Bridge
	gatewayHost string
	gatewayPort int
	probe       ProbeFunc
	version     string

	server   *http.Server
	listener net.Listener
	hub      *Hub
	subID    vbox.SubscriptionID
	cancel   context.CancelFunc // cancels background goroutines on Close()
	mu       sync.Mutex
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (config, logger, gateway)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Gateway == nil {
		return nil, fmt.Errorf("gateway is required")
	}
	if deps.Probe == nil {
		deps.Probe = vbox.ValidateAvailability
	}
	if deps.WS.PingInterval <= 0 {
		deps.WS.PingInterval = defaultPingInterval
	}
	if deps.WS.PongTimeout <= 0 {
		deps.WS.PongTimeout = defaultPongTimeout
	}

	return &Server{
		cfg:         deps.Config,
		wsCfg:       deps.WS,
		logger:      deps.Logger,
		gateway:     deps.Gateway,
		bridge:      deps.Bridge,
		gatewayHost: deps.GatewayHost,
		gatewayPort: deps.GatewayPort,
		probe:       deps.Probe,
		version:     deps.Version,
	}, nil
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub, subscribes to controller events for
// broadcast, binds the listener and serves in a background goroutine.
// The server can be stopped with Close().
//
// Parameters:
//   - ctx: Parent context for the hub's lifetime
//
// Returns:
//   - error: If the server fails to start (port in use, etc.)
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server != nil {
		return fmt.Errorf("api server already started")
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	s.listener = ln

	// Create internal context so Close() can stop background goroutines
	// independently of the parent context.
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	s.hub = NewHub(s.wsCfg, s.logger)
	go s.hub.Run(srvCtx)

	s.subID = s.gateway.Subscribe(vbox.SubscriptionFilter{}, s.broadcastEvent)

	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	srv := s.server
	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", ln.Addr().String(),
				"cert", s.cfg.TLS.CertFile,
			)
			err = srv.ServeTLS(ln, s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", ln.Addr().String())
			err = srv.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound listener address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
//
// Returns:
//   - error: If shutdown encounters an error
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server == nil {
		return nil
	}

	s.gateway.Unsubscribe(s.subID)

	// Cancel background goroutines (hub)
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	err := s.server.Shutdown(ctx)
	s.server = nil
	if err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}

// broadcastEvent relays controller events to WebSocket clients.
func (s *Server) broadcastEvent(ev vbox.Event) {
	if ev.Kind == vbox.EventConnection {
		s.hub.Broadcast(ChannelConnection, connectionPayload(ev, s.gateway.Stats()))
		return
	}
	if msg, ok := vitrea.NewStateMessage(ev); ok {
		s.hub.BroadcastDevice(ChannelStateChanged, msg.DeviceID, msg)
	}
}

// ConnectionEvent is the payload of a vitrea.connection broadcast.
type ConnectionEvent struct {
	Connected   bool      `json:"connected"`
	State       string    `json:"state"`
	ErrorReason string    `json:"error_reason,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

func connectionPayload(ev vbox.Event, stats vbox.ControllerStats) ConnectionEvent {
	p := ConnectionEvent{
		Connected: ev.On,
		State:     stats.Connection.State.String(),
		Timestamp: ev.Received.UTC(),
	}
	if !ev.On {
		p.ErrorReason = stats.Connection.ErrorReason
	}
	return p
}
