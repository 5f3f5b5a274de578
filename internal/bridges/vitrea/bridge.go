package vitrea

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/vitrea-gateway/internal/infrastructure/mqtt"
	"github.com/nerrad567/vitrea-gateway/internal/statestore"
	"github.com/nerrad567/vitrea-gateway/internal/vbox"
)

// DefaultBridgeID identifies the bridge in health messages.
const DefaultBridgeID = "vitrea"

// minTopicParts is the number of segments in vitreagw/command/vitrea/{device}.
const minTopicParts = 4

var topics = mqtt.Topics{}

// Logger is the structured logger used by the bridge.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// MQTTClient is the interface for MQTT operations.
// This allows mocking in tests and flexibility in implementation.
type MQTTClient interface {
	// Publish sends a message to a topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers a handler for a topic pattern.
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool

	// Disconnect closes the connection gracefully.
	Disconnect(quiesce uint)
}

// Gateway is the part of *vbox.Controller the bridge uses.
type Gateway interface {
	Send(data []byte) bool
	Subscribe(filter vbox.SubscriptionFilter, fn vbox.EventHandler) vbox.SubscriptionID
	Unsubscribe(id vbox.SubscriptionID) bool
	Catalog() *vbox.Catalog
	Healthy() bool
	Stats() vbox.ControllerStats
}

// EventRecorder writes state history. *influxdb.Client satisfies it.
type EventRecorder interface {
	WriteDeviceState(deviceID, kind string, fields map[string]any, at time.Time)
	WriteConnectionState(up bool, reason string, at time.Time)
}

// StateStore persists the last state of each device.
// *statestore.BoltStore satisfies it.
type StateStore interface {
	Put(st statestore.DeviceState) error
	List() ([]statestore.DeviceState, error)
}

// BridgeOptions holds configuration for creating a bridge.
type BridgeOptions struct {
	// ID names the bridge in health messages. Default: "vitrea".
	ID string

	// Version is reported in health messages.
	Version string

	// Address is the VBox host:port, reported in health messages.
	Address string

	// HealthInterval is how often health is published. Default: 30s.
	HealthInterval time.Duration

	// MQTTClient is required.
	MQTTClient MQTTClient

	// Gateway is required, normally a *vbox.Controller.
	Gateway Gateway

	// Logger is optional.
	Logger Logger

	// Recorder is optional. If nil, no history is written.
	Recorder EventRecorder

	// States is optional. If nil, states are not persisted across restarts.
	States StateStore
}

// Bridge connects a VBox controller to MQTT.
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	opts    BridgeOptions
	mqtt    MQTTClient
	gateway Gateway
	health  *HealthReporter

	// Last state per device, seeded from the state store on start.
	states   map[string]StateMessage
	statesMu sync.RWMutex

	subID    vbox.SubscriptionID
	started  atomic.Bool
	stopOnce sync.Once

	commandsSent   atomic.Uint64
	commandsFailed atomic.Uint64

	logger Logger
}

// NewBridge creates a new bridge instance.
// Call Start() to begin operation.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.MQTTClient == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	if opts.Gateway == nil {
		return nil, fmt.Errorf("gateway is required")
	}
	if opts.ID == "" {
		opts.ID = DefaultBridgeID
	}

	b := &Bridge{
		opts:    opts,
		mqtt:    opts.MQTTClient,
		gateway: opts.Gateway,
		states:  make(map[string]StateMessage),
		logger:  opts.Logger,
	}
	b.health = NewHealthReporter(HealthReporterConfig{
		BridgeID:  opts.ID,
		Version:   opts.Version,
		Address:   opts.Address,
		Interval:  opts.HealthInterval,
		Publisher: opts.MQTTClient,
		Gateway:   opts.Gateway,
		Commands:  b.commandCounts,
		Logger:    opts.Logger,
	})
	return b, nil
}

// Start republishes stored states, subscribes to controller events and
// MQTT commands, and starts health reporting.
func (b *Bridge) Start(ctx context.Context) error {
	if !b.started.CompareAndSwap(false, true) {
		return nil
	}

	if err := b.health.PublishStarting(); err != nil {
		b.logError("failed to publish starting status", err)
	}

	b.restoreStates()

	b.subID = b.gateway.Subscribe(vbox.SubscriptionFilter{}, b.handleEvent)

	commandTopic := topics.AllBridgeCommands(Protocol)
	if err := b.mqtt.Subscribe(commandTopic, 1, b.handleMQTTMessage); err != nil {
		b.gateway.Unsubscribe(b.subID)
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logInfo("subscribed to commands", "topic", commandTopic)

	b.health.Start(ctx)

	b.logInfo("bridge started", "bridge_id", b.opts.ID, "restored_states", len(b.States()))
	return nil
}

// Stop detaches from the controller and stops health reporting.
// Safe to call multiple times.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		if b.started.Load() {
			b.gateway.Unsubscribe(b.subID)
		}
		b.health.Stop()
		b.logInfo("bridge stopped")
	})
}

// restoreStates loads the persisted states into the cache and publishes
// them retained so subscribers see the last known values at once.
func (b *Bridge) restoreStates() {
	if b.opts.States == nil {
		return
	}
	stored, err := b.opts.States.List()
	if err != nil {
		b.logError("failed to load stored states", err)
		return
	}
	for _, st := range stored {
		msg := StateMessage{
			DeviceID:  st.DeviceID,
			Kind:      st.Kind,
			Timestamp: st.UpdatedAt,
			State:     st.State,
			Protocol:  Protocol,
		}
		b.statesMu.Lock()
		b.states[msg.DeviceID] = msg
		b.statesMu.Unlock()
		b.publishState(msg)
	}
}

// handleMQTTMessage processes a command published on
// vitreagw/command/vitrea/{device}.
func (b *Bridge) handleMQTTMessage(topic string, payload []byte) {
	parts := strings.Split(topic, "/")
	if len(parts) < minTopicParts {
		b.logError("invalid topic format", fmt.Errorf("topic: %s", topic))
		return
	}
	topicDevice := parts[len(parts)-1]

	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.logError("failed to parse command", err)
		cmd.DeviceID = topicDevice
		cmd.normalise()
		b.commandsFailed.Add(1)
		b.publishAck(NewAckError(cmd, ErrCodeInvalidCommand, err.Error()))
		return
	}
	if cmd.Source == "" {
		cmd.Source = "mqtt"
	}
	if cmd.DeviceID == "" {
		cmd.DeviceID = topicDevice
	}
	if cmd.DeviceID != topicDevice {
		reason := fmt.Sprintf("device_id %s does not match topic device %s", cmd.DeviceID, topicDevice)
		cmd.DeviceID = topicDevice
		cmd.normalise()
		b.commandsFailed.Add(1)
		b.publishAck(NewAckError(cmd, ErrCodeInvalidDevice, reason))
		return
	}
	b.HandleCommand(cmd)
}

// HandleCommand executes cmd and publishes its acknowledgment.
//
// Returns:
//   - AckMessage: the acknowledgment that was published
func (b *Bridge) HandleCommand(cmd CommandMessage) AckMessage {
	ack := b.execute(cmd)
	b.publishAck(ack)
	return ack
}

func (b *Bridge) execute(cmd CommandMessage) AckMessage {
	cmd.normalise()
	b.logInfo("received command",
		"command_id", cmd.ID,
		"device_id", cmd.DeviceID,
		"command", cmd.Command,
		"source", cmd.Source)

	ref, err := ParseDeviceID(cmd.DeviceID)
	if err != nil {
		return b.fail(cmd, err)
	}
	cmd.DeviceID = ref.String()

	if !ref.knownTo(b.gateway.Catalog()) {
		return b.fail(cmd, fmt.Errorf("%w: %s", ErrNotConfigured, cmd.DeviceID))
	}

	data, err := BuildCommand(ref, cmd.Command, cmd.Parameters)
	if err != nil {
		return b.fail(cmd, err)
	}
	if !b.gateway.Send(data) {
		return b.fail(cmd, fmt.Errorf("%w: %s", ErrSendFailed, strings.TrimSpace(string(data))))
	}

	b.commandsSent.Add(1)
	return NewAckMessage(cmd, data)
}

func (b *Bridge) fail(cmd CommandMessage, err error) AckMessage {
	b.commandsFailed.Add(1)
	b.logWarn("command rejected", "command_id", cmd.ID, "device_id", cmd.DeviceID, "error", err)
	return NewAckError(cmd, errorCode(err), err.Error())
}

// errorCode maps a command error to its ack code.
func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidDeviceID):
		return ErrCodeInvalidDevice
	case errors.Is(err, ErrUnsupportedCommand):
		return ErrCodeInvalidCommand
	case errors.Is(err, ErrInvalidParameters):
		return ErrCodeInvalidParameters
	case errors.Is(err, ErrNotConfigured):
		return ErrCodeNotConfigured
	case errors.Is(err, ErrSendFailed):
		return ErrCodeGatewayOffline
	default:
		return ErrCodeBridgeError
	}
}

// handleEvent runs on the controller's response worker.
func (b *Bridge) handleEvent(ev vbox.Event) {
	if ev.Kind == vbox.EventConnection {
		b.handleConnection(ev)
		return
	}

	msg, ok := NewStateMessage(ev)
	if !ok {
		return
	}
	if !b.updateState(msg) {
		return
	}

	b.publishState(msg)
	if b.opts.Recorder != nil {
		b.opts.Recorder.WriteDeviceState(msg.DeviceID, msg.Kind, msg.State, msg.Timestamp)
	}
	if b.opts.States != nil {
		err := b.opts.States.Put(statestore.DeviceState{
			DeviceID:  msg.DeviceID,
			Kind:      msg.Kind,
			State:     msg.State,
			UpdatedAt: msg.Timestamp,
		})
		if err != nil {
			b.logError("failed to persist state", err)
		}
	}
}

func (b *Bridge) handleConnection(ev vbox.Event) {
	reason := ""
	if !ev.On {
		reason = b.gateway.Stats().Connection.ErrorReason
	}
	b.logInfo("gateway connection changed", "connected", ev.On, "reason", reason)

	if b.opts.Recorder != nil {
		at := ev.Received
		if at.IsZero() {
			at = time.Now()
		}
		b.opts.Recorder.WriteConnectionState(ev.On, reason, at)
	}
	if err := b.health.PublishNow(); err != nil {
		b.logError("failed to publish health", err)
	}
}

// updateState caches msg and reports whether it should be published.
// Repeated identical states are dropped; scenario executions never are.
func (b *Bridge) updateState(msg StateMessage) bool {
	b.statesMu.Lock()
	defer b.statesMu.Unlock()

	prev, ok := b.states[msg.DeviceID]
	b.states[msg.DeviceID] = msg
	if !ok || msg.Kind == vbox.EventScenarioStatus.String() {
		return true
	}
	return !maps.Equal(prev.State, msg.State)
}

func (b *Bridge) publishState(msg StateMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		b.logError("failed to marshal state", err)
		return
	}
	if err := b.mqtt.Publish(topics.BridgeState(Protocol, msg.DeviceID), payload, 1, true); err != nil {
		b.logError("failed to publish state", err)
	}
}

func (b *Bridge) publishAck(ack AckMessage) {
	payload, err := json.Marshal(ack)
	if err != nil {
		b.logError("failed to marshal ack", err)
		return
	}
	if err := b.mqtt.Publish(topics.BridgeAck(Protocol, ack.DeviceID), payload, 1, false); err != nil {
		b.logError("failed to publish ack", err)
	}
}

// States returns the last state of every device, ordered by device ID.
func (b *Bridge) States() []StateMessage {
	b.statesMu.RLock()
	defer b.statesMu.RUnlock()
	out := slices.Collect(maps.Values(b.states))
	slices.SortFunc(out, func(x, y StateMessage) int { return strings.Compare(x.DeviceID, y.DeviceID) })
	return out
}

// State returns the last state of one device.
func (b *Bridge) State(deviceID string) (StateMessage, bool) {
	if ref, err := ParseDeviceID(deviceID); err == nil {
		deviceID = ref.String()
	}
	b.statesMu.RLock()
	defer b.statesMu.RUnlock()
	msg, ok := b.states[deviceID]
	return msg, ok
}

// Health returns the current health message without publishing it.
func (b *Bridge) Health() HealthMessage {
	return b.health.Current()
}

func (b *Bridge) commandCounts() (sent, failed uint64) {
	return b.commandsSent.Load(), b.commandsFailed.Load()
}

func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	if b.logger != nil {
		b.logger.Info(msg, keysAndValues...)
	}
}

func (b *Bridge) logWarn(msg string, keysAndValues ...any) {
	if b.logger != nil {
		b.logger.Warn(msg, keysAndValues...)
	}
}

func (b *Bridge) logError(msg string, err error) {
	if b.logger != nil {
		b.logger.Error(msg, "error", err)
	}
}
