package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/nerrad567/vitrea-gateway/internal/vbox"
)

// maxProbeTimeout caps the timeout a caller may request.
const maxProbeTimeout = 30 * time.Second

// probeRequest is the optional body of POST /probe.
// Empty fields fall back to the configured gateway.
type probeRequest struct {
	Host      string `json:"host,omitempty"`
	Port      int    `json:"port,omitempty"`
	TimeoutMS int    `json:"timeout_ms,omitempty"`
}

// handleProbe checks whether a VBox is reachable and runs supported firmware.
// The probe opens its own short session; the gateway's session is untouched.
func (s *Server) handleProbe(w http.ResponseWriter, r *http.Request) {
	var req probeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeBadRequest(w, "invalid JSON: "+err.Error())
		return
	}

	if req.Host == "" {
		req.Host = s.gatewayHost
	}
	if req.Port == 0 {
		req.Port = s.gatewayPort
	}
	if req.Port == 0 {
		req.Port = vbox.DefaultPort
	}
	if req.Host == "" {
		writeBadRequest(w, "host is required")
		return
	}
	if req.Port < 0 || req.Port > 65535 {
		writeBadRequest(w, "port must be between 1 and 65535")
		return
	}
	if req.TimeoutMS < 0 {
		writeBadRequest(w, "timeout_ms must not be negative")
		return
	}

	opts := vbox.ProbeOptions{Timeout: min(time.Duration(req.TimeoutMS)*time.Millisecond, maxProbeTimeout)}
	res := s.probe(r.Context(), req.Host, req.Port, opts)

	s.logger.Info("vbox probe",
		"host", req.Host,
		"port", req.Port,
		"supported", res.Supported,
		"reason", res.Reason,
	)
	writeJSON(w, http.StatusOK, res)
}
