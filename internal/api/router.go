package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/catalog", s.handleCatalog)
		r.Post("/probe", s.handleProbe)

		r.Route("/state", func(r chi.Router) {
			r.Get("/", s.handleListStates)
			r.Get("/{device}", s.handleGetState)
		})

		r.Post("/devices/{device}/command", s.handleCommand)

		r.Get(s.wsPath(), s.handleWebSocket)
	})

	return r
}

// wsPath returns the WebSocket route, "/ws" unless configured.
func (s *Server) wsPath() string {
	if s.wsCfg.Path == "" {
		return "/ws"
	}
	return s.wsCfg.Path
}

// GatewayHealth is the gateway section of the health response.
type GatewayHealth struct {
	State         string     `json:"state"`
	Healthy       bool       `json:"healthy"`
	ErrorReason   string     `json:"error_reason,omitempty"`
	CatalogLoaded bool       `json:"catalog_loaded"`
	LastMessage   *time.Time `json:"last_message,omitempty"`
}

// handleHealth returns the server health status.
// The status is "ok" while the gateway session is healthy and "degraded"
// otherwise; the endpoint itself always answers 200.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	stats := s.gateway.Stats()
	healthy := s.gateway.Healthy()

	gw := GatewayHealth{
		State:         stats.Connection.State.String(),
		Healthy:       healthy,
		ErrorReason:   stats.Connection.ErrorReason,
		CatalogLoaded: stats.CatalogLoaded,
	}
	if !stats.LastMessage.IsZero() {
		t := stats.LastMessage.UTC()
		gw.LastMessage = &t
	}

	status := "ok"
	if !healthy {
		status = "degraded"
	}

	resp := map[string]any{
		"status":  status,
		"version": s.version,
		"gateway": gw,
	}
	if s.bridge != nil {
		resp["bridge"] = s.bridge.Health()
	}
	if s.hub != nil {
		resp["websocket_clients"] = s.hub.ClientCount()
		resp["websocket_dropped"] = s.hub.Dropped()
	}
	writeJSON(w, http.StatusOK, resp)
}
