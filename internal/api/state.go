package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/vitrea-gateway/internal/bridges/vitrea"
)

// commandSource tags commands received over HTTP.
const commandSource = "api"

// handleListStates returns the last known state of every device.
func (s *Server) handleListStates(w http.ResponseWriter, _ *http.Request) {
	if s.bridge == nil {
		writeUnavailable(w, "bridge not running")
		return
	}
	states := s.bridge.States()
	writeJSON(w, http.StatusOK, map[string]any{
		"states": states,
		"count":  len(states),
	})
}

// handleGetState returns the last known state of one device.
func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	if s.bridge == nil {
		writeUnavailable(w, "bridge not running")
		return
	}
	id := chi.URLParam(r, "device")
	ref, err := vitrea.ParseDeviceID(id)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	st, ok := s.bridge.State(ref.String())
	if !ok {
		writeNotFound(w, "no state for device "+ref.String())
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// commandRequest is the body of POST /devices/{device}/command.
type commandRequest struct {
	ID         string         `json:"id,omitempty"`
	Command    string         `json:"command"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// handleCommand sends a command to a device and returns the acknowledgement.
//
// Accepted commands answer 202: the VBox reports the outcome as a state
// change, not as a reply to the command.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	if s.bridge == nil {
		writeUnavailable(w, "bridge not running")
		return
	}

	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON: "+err.Error())
		return
	}
	if req.Command == "" {
		writeBadRequest(w, "command is required")
		return
	}

	ack := s.bridge.HandleCommand(vitrea.CommandMessage{
		ID:         req.ID,
		DeviceID:   chi.URLParam(r, "device"),
		Command:    req.Command,
		Parameters: req.Parameters,
		Source:     commandSource,
	})

	writeJSON(w, ackHTTPStatus(ack), ack)
}

// ackHTTPStatus maps an acknowledgement to a response status.
func ackHTTPStatus(ack vitrea.AckMessage) int {
	if ack.Status == vitrea.AckAccepted {
		return http.StatusAccepted
	}
	if ack.Error == nil {
		return http.StatusInternalServerError
	}
	switch ack.Error.Code {
	case vitrea.ErrCodeInvalidDevice, vitrea.ErrCodeInvalidCommand, vitrea.ErrCodeInvalidParameters:
		return http.StatusBadRequest
	case vitrea.ErrCodeNotConfigured:
		return http.StatusNotFound
	case vitrea.ErrCodeGatewayOffline:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
