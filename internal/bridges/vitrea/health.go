package vitrea

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nerrad567/vitrea-gateway/internal/vbox"
)

// defaultHealthInterval is used when HealthReporterConfig.Interval is zero.
const defaultHealthInterval = 30 * time.Second

// HealthReporter manages periodic health status reporting.
// It publishes health messages to MQTT at regular intervals.
type HealthReporter struct {
	bridgeID  string
	version   string
	address   string
	startTime time.Time
	interval  time.Duration
	publisher HealthPublisher
	gateway   GatewayStatus
	commands  func() (sent, failed uint64)
	logger    Logger

	// Shutdown coordination (stopOnce prevents double-close panics)
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// HealthPublisher is the interface for publishing health messages.
// This is typically implemented by an MQTT client.
type HealthPublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// GatewayStatus is the controller state the reporter inspects.
type GatewayStatus interface {
	Healthy() bool
	Stats() vbox.ControllerStats
	Catalog() *vbox.Catalog
}

// HealthReporterConfig holds configuration for the health reporter.
type HealthReporterConfig struct {
	BridgeID string
	Version  string

	// Address is the VBox host:port.
	Address string

	// Interval is how often to publish health status.
	// Default: 30 seconds.
	Interval time.Duration

	Publisher HealthPublisher
	Gateway   GatewayStatus

	// Commands reports the bridge's command counters. Optional.
	Commands func() (sent, failed uint64)

	Logger Logger
}

// NewHealthReporter creates a new health reporter.
//
// Parameters:
//   - cfg: Configuration for the health reporter
//
// Returns:
//   - *HealthReporter: Ready to start (call Start to begin reporting)
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultHealthInterval
	}
	return &HealthReporter{
		bridgeID:  cfg.BridgeID,
		version:   cfg.Version,
		address:   cfg.Address,
		startTime: time.Now(),
		interval:  interval,
		publisher: cfg.Publisher,
		gateway:   cfg.Gateway,
		commands:  cfg.Commands,
		logger:    cfg.Logger,
		done:      make(chan struct{}),
	}
}

// Start begins periodic health reporting until ctx is cancelled or Stop
// is called.
func (h *HealthReporter) Start(ctx context.Context) {
	h.wg.Add(1)
	go h.reportLoop(ctx)
}

// Stop gracefully stops health reporting.
// Publishes a final "stopping" status before returning.
// Safe to call multiple times (uses sync.Once).
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()

		//nolint:errcheck // Best-effort during shutdown
		h.publish(h.build(HealthStopping, ""))
	})
}

// PublishStarting publishes a "starting" status.
func (h *HealthReporter) PublishStarting() error {
	return h.publish(h.build(HealthStarting, "bridge starting"))
}

// PublishNow publishes the current health status immediately.
func (h *HealthReporter) PublishNow() error {
	return h.publish(h.Current())
}

// Current evaluates and returns the health message without publishing.
func (h *HealthReporter) Current() HealthMessage {
	status, reason := h.determineStatus()
	return h.build(status, reason)
}

func (h *HealthReporter) reportLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	if err := h.PublishNow(); err != nil {
		h.logError("failed to publish initial health", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			if err := h.PublishNow(); err != nil {
				h.logError("failed to publish health", err)
			}
		}
	}
}

// determineStatus evaluates the current bridge status. A gateway without
// a session is unhealthy; everything short of that is degraded.
func (h *HealthReporter) determineStatus() (HealthStatus, string) {
	if h.gateway == nil {
		return HealthUnhealthy, "no gateway"
	}
	stats := h.gateway.Stats()
	if stats.Connection.State != vbox.StateConnected {
		reason := "gateway " + stats.Connection.State.String()
		if stats.Connection.ErrorReason != "" {
			reason += ": " + stats.Connection.ErrorReason
		}
		return HealthUnhealthy, reason
	}
	if h.publisher == nil || !h.publisher.IsConnected() {
		return HealthDegraded, "MQTT disconnected"
	}
	if !h.gateway.Healthy() {
		return HealthDegraded, "gateway unresponsive"
	}
	if !stats.CatalogLoaded {
		return HealthDegraded, "catalog not loaded"
	}
	return HealthHealthy, ""
}

func (h *HealthReporter) build(status HealthStatus, reason string) HealthMessage {
	var stats vbox.ControllerStats
	if h.gateway != nil {
		stats = h.gateway.Stats()
	}
	msg := NewHealthMessage(h.bridgeID, h.version, h.address, status, stats, h.startTime)
	msg.Reason = reason

	if h.commands != nil {
		msg.Statistics.CommandsSent, msg.Statistics.CommandsFailed = h.commands()
	}
	if h.gateway != nil {
		if cat := h.gateway.Catalog(); cat != nil {
			msg.DevicesManaged = len(cat.Keys()) + len(cat.AirConditioners()) + len(cat.Scenarios())
		}
	}
	return msg
}

func (h *HealthReporter) publish(msg HealthMessage) error {
	if h.publisher == nil {
		return nil
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return h.publisher.Publish(topics.BridgeHealth(Protocol), payload, 1, true)
}

func (h *HealthReporter) logError(msg string, err error) {
	if h.logger != nil {
		h.logger.Error(msg, "error", err)
	}
}
