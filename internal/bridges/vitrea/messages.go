package vitrea

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/vitrea-gateway/internal/vbox"
)

// Protocol is the protocol segment of every bridge topic.
const Protocol = "vitrea"

// CommandMessage asks the bridge to operate a device.
// Topic: vitreagw/command/vitrea/{device}
type CommandMessage struct {
	// ID correlates the command with its acknowledgment. A missing ID is
	// replaced with a random UUID.
	ID string `json:"id"`

	// Timestamp is when the command was issued (UTC, RFC3339).
	Timestamp time.Time `json:"timestamp"`

	// DeviceID is the VBox device identifier, e.g. "N005-2".
	// When empty it is taken from the topic.
	DeviceID string `json:"device_id"`

	// Command is one of the Cmd* names, e.g. "on" or "set_thermostat".
	Command string `json:"command"`

	// Parameters contains command-specific values.
	// Examples:
	//   {"level": 50, "duration": 2} for dim
	//   {"mode": "COOL", "temperature": 22} for set_thermostat
	Parameters map[string]any `json:"parameters,omitempty"`

	// Source indicates where the command originated, e.g. "mqtt" or "api".
	Source string `json:"source,omitempty"`
}

// UnmarshalJSON accepts an empty or missing timestamp.
func (m *CommandMessage) UnmarshalJSON(data []byte) error {
	type Alias CommandMessage
	aux := &struct {
		*Alias
		Timestamp string `json:"timestamp"`
	}{
		Alias: (*Alias)(m),
	}
	if err := json.Unmarshal(data, aux); err != nil {
		return fmt.Errorf("unmarshal command message: %w", err)
	}
	if aux.Timestamp != "" {
		t, err := time.Parse(time.RFC3339, aux.Timestamp)
		if err != nil {
			return fmt.Errorf("parse timestamp: %w", err)
		}
		m.Timestamp = t
	}
	return nil
}

// normalise fills the ID and timestamp of a received command.
func (m *CommandMessage) normalise() {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}
	m.Command = strings.ToLower(strings.TrimSpace(m.Command))
}

// AckStatus represents the acknowledgment status of a command.
type AckStatus string

const (
	// AckAccepted indicates the command was queued to the VBox.
	AckAccepted AckStatus = "accepted"

	// AckFailed indicates the command could not be executed.
	AckFailed AckStatus = "failed"
)

// AckMessage acknowledges a command.
// Topic: vitreagw/ack/vitrea/{device}
type AckMessage struct {
	CommandID string    `json:"command_id"`
	Timestamp time.Time `json:"timestamp"`
	DeviceID  string    `json:"device_id"`
	Command   string    `json:"command"`
	Status    AckStatus `json:"status"`
	Protocol  string    `json:"protocol"`

	// Frame is the ASCII command sent to the VBox, without CRLF.
	Frame string `json:"frame,omitempty"`

	Error *AckError `json:"error,omitempty"`
}

// AckError contains error details for failed commands.
type AckError struct {
	// Code is one of the ErrCode* values.
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes for command failures.
const (
	ErrCodeInvalidDevice     = "INVALID_DEVICE"
	ErrCodeInvalidCommand    = "INVALID_COMMAND"
	ErrCodeInvalidParameters = "INVALID_PARAMETERS"
	ErrCodeNotConfigured     = "NOT_CONFIGURED"
	ErrCodeGatewayOffline    = "GATEWAY_OFFLINE"
	ErrCodeBridgeError       = "BRIDGE_ERROR"
)

// NewAckMessage creates a successful acknowledgment.
func NewAckMessage(cmd CommandMessage, frame []byte) AckMessage {
	return AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		DeviceID:  cmd.DeviceID,
		Command:   cmd.Command,
		Status:    AckAccepted,
		Protocol:  Protocol,
		Frame:     strings.TrimRight(string(frame), "\r\n"),
	}
}

// NewAckError creates a failed acknowledgment.
func NewAckError(cmd CommandMessage, code, message string) AckMessage {
	return AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		DeviceID:  cmd.DeviceID,
		Command:   cmd.Command,
		Status:    AckFailed,
		Protocol:  Protocol,
		Error:     &AckError{Code: code, Message: message},
	}
}

// StateMessage carries the last reported state of a device.
// Topic: vitreagw/state/vitrea/{device}
// QoS: 1, Retained: Yes
type StateMessage struct {
	DeviceID  string    `json:"device_id"`
	Kind      string    `json:"kind"`
	Timestamp time.Time `json:"timestamp"`

	// State depends on Kind:
	//   node_status: {"on": true, "type": "D", "params": "080"}
	//   ac_status: {"on": true, "mode": "COOL", "set_temperature": 22, ...}
	//   scenario_status: {"executed": true}
	//   output_status: {"status": "O"}
	//   input_status: {"closed": true}
	//   occupancy_status: {"occupied": false}
	State map[string]any `json:"state"`

	Protocol string `json:"protocol"`
}

// NewStateMessage converts a status event. ok is false for events that do
// not describe a device.
func NewStateMessage(ev vbox.Event) (StateMessage, bool) {
	state := StateFromEvent(ev)
	if state == nil {
		return StateMessage{}, false
	}
	at := ev.Received
	if at.IsZero() {
		at = time.Now()
	}
	return StateMessage{
		DeviceID:  ev.DeviceID(),
		Kind:      ev.Kind.String(),
		Timestamp: at.UTC(),
		State:     state,
		Protocol:  Protocol,
	}, true
}

// StateFromEvent extracts the state fields of a status event, or nil for
// other kinds.
func StateFromEvent(ev vbox.Event) map[string]any {
	switch ev.Kind {
	case vbox.EventNodeStatus:
		state := map[string]any{"on": ev.On}
		if ev.Subtype != "" {
			state["type"] = ev.Subtype
		}
		if ev.Params != "" {
			state["params"] = ev.Params
		}
		return state
	case vbox.EventACStatus:
		state := map[string]any{"on": ev.On}
		if ac := ev.AC; ac != nil {
			state["mode"] = ac.Mode.String()
			state["fan_speed"] = ac.Fan.String()
			state["set_temperature"] = ac.SetTemperature
			state["measured_temperature"] = ac.MeasuredTemperature
			state["thermostat_type"] = ac.Type.String()
			state["relay_state"] = ac.Relay
			state["temperature_mode"] = ac.TempMode.String()
		}
		return state
	case vbox.EventScenarioStatus:
		return map[string]any{"executed": ev.On}
	case vbox.EventOutputStatus:
		state := map[string]any{"status": ev.Subtype}
		if ev.Params != "" {
			state["params"] = ev.Params
		}
		return state
	case vbox.EventInputStatus:
		return map[string]any{"closed": ev.On}
	case vbox.EventOccupancyStatus:
		return map[string]any{"occupied": ev.On}
	default:
		return nil
	}
}

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"

	// HealthOffline is only ever published by the broker as the LWT.
	HealthOffline  HealthStatus = "offline"
	HealthStarting HealthStatus = "starting"
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage reports the bridge and gateway status.
// Topic: vitreagw/health/vitrea
// QoS: 1, Retained: Yes
type HealthMessage struct {
	Bridge         string            `json:"bridge"`
	Timestamp      time.Time         `json:"timestamp"`
	Status         HealthStatus      `json:"status"`
	Version        string            `json:"version"`
	UptimeSeconds  int64             `json:"uptime_seconds"`
	Connection     *ConnectionStatus `json:"connection,omitempty"`
	Statistics     *BridgeStatistics `json:"statistics,omitempty"`
	CatalogLoaded  bool              `json:"catalog_loaded"`
	DevicesManaged int               `json:"devices_managed"`
	Reason         string            `json:"reason,omitempty"`
}

// ConnectionStatus describes the VBox session.
type ConnectionStatus struct {
	// Status is "connected", "connecting", "reconnecting" or "disconnected".
	Status      string     `json:"status"`
	Address     string     `json:"address"`
	ErrorReason string     `json:"error_reason,omitempty"`
	LastReceive *time.Time `json:"last_receive,omitempty"`
}

// BridgeStatistics contains operational counters.
type BridgeStatistics struct {
	FramesReceived  uint64 `json:"frames_received"`
	FramesSent      uint64 `json:"frames_sent"`
	EventsPublished uint64 `json:"events_published"`
	Reconnects      uint64 `json:"reconnects"`
	ParseErrors     uint64 `json:"parse_errors"`
	GatewayErrors   uint64 `json:"gateway_errors"`
	CommandsSent    uint64 `json:"commands_sent"`
	CommandsFailed  uint64 `json:"commands_failed"`
}

// NewHealthMessage builds a health message from controller statistics.
func NewHealthMessage(bridgeID, version, address string, status HealthStatus, stats vbox.ControllerStats, startTime time.Time) HealthMessage {
	msg := HealthMessage{
		Bridge:        bridgeID,
		Timestamp:     time.Now().UTC(),
		Status:        status,
		Version:       version,
		UptimeSeconds: int64(time.Since(startTime).Seconds()),
		CatalogLoaded: stats.CatalogLoaded,
	}

	conn := stats.Connection
	msg.Connection = &ConnectionStatus{
		Status:      conn.State.String(),
		Address:     address,
		ErrorReason: conn.ErrorReason,
	}
	if !conn.LastReceive.IsZero() {
		last := conn.LastReceive.UTC()
		msg.Connection.LastReceive = &last
	}

	msg.Statistics = &BridgeStatistics{
		FramesReceived:  conn.FramesRx,
		FramesSent:      conn.FramesTx,
		EventsPublished: stats.EventsPublished,
		Reconnects:      conn.ReconnectsTotal,
		ParseErrors:     stats.ParseErrors,
		GatewayErrors:   stats.GatewayErrors,
	}
	return msg
}
