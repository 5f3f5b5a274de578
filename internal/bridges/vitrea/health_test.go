package vitrea

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/vitrea-gateway/internal/vbox"
)

func newTestReporter(mqtt *MockMQTTClient, gw *MockGateway, interval time.Duration) *HealthReporter {
	return NewHealthReporter(HealthReporterConfig{
		BridgeID:  "vitrea",
		Version:   "test",
		Address:   "10.0.0.5:11501",
		Interval:  interval,
		Publisher: mqtt,
		Gateway:   gw,
		Commands:  func() (uint64, uint64) { return 4, 1 },
	})
}

func TestHealthReporter_DetermineStatus(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(*MockMQTTClient, *MockGateway)
		status HealthStatus
		reason string
	}{
		{"healthy", func(*MockMQTTClient, *MockGateway) {}, HealthHealthy, ""},
		{"gateway down", func(_ *MockMQTTClient, g *MockGateway) {
			g.stats.Connection.State = vbox.StateDisconnected
			g.stats.Connection.ErrorReason = vbox.ReasonConnectionFailed
		}, HealthUnhealthy, "gateway disconnected: Connection Failed"},
		{"mqtt down", func(m *MockMQTTClient, _ *MockGateway) { m.setConnected(false) }, HealthDegraded, "MQTT disconnected"},
		{"stale session", func(_ *MockMQTTClient, g *MockGateway) { g.healthy = false }, HealthDegraded, "gateway unresponsive"},
		{"no catalog", func(_ *MockMQTTClient, g *MockGateway) { g.stats.CatalogLoaded = false }, HealthDegraded, "catalog not loaded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mqtt, gw := NewMockMQTTClient(), NewMockGateway()
			tt.setup(mqtt, gw)
			h := newTestReporter(mqtt, gw, time.Hour)

			status, reason := h.determineStatus()
			if status != tt.status {
				t.Errorf("status = %s, want %s", status, tt.status)
			}
			if reason != tt.reason {
				t.Errorf("reason = %q, want %q", reason, tt.reason)
			}
		})
	}
}

func TestHealthReporter_NoGateway(t *testing.T) {
	h := NewHealthReporter(HealthReporterConfig{Publisher: NewMockMQTTClient()})
	if status, _ := h.determineStatus(); status != HealthUnhealthy {
		t.Errorf("status = %s, want unhealthy", status)
	}
	if h.interval != defaultHealthInterval {
		t.Errorf("interval = %v, want %v", h.interval, defaultHealthInterval)
	}
}

func TestHealthReporter_CurrentIncludesCounts(t *testing.T) {
	gw := NewMockGateway()
	gw.catalog = testCatalog()
	h := newTestReporter(NewMockMQTTClient(), gw, time.Hour)

	msg := h.Current()
	if msg.DevicesManaged != 3 {
		t.Errorf("DevicesManaged = %d, want 3", msg.DevicesManaged)
	}
	if msg.Statistics.CommandsSent != 4 || msg.Statistics.CommandsFailed != 1 {
		t.Errorf("command counters = %d/%d, want 4/1", msg.Statistics.CommandsSent, msg.Statistics.CommandsFailed)
	}
}

func TestHealthReporter_PeriodicAndStop(t *testing.T) {
	mqtt, gw := NewMockMQTTClient(), NewMockGateway()
	h := newTestReporter(mqtt, gw, 10*time.Millisecond)
	topic := topics.BridgeHealth(Protocol)

	h.Start(context.Background())
	deadline := time.Now().Add(2 * time.Second)
	for len(mqtt.publishedOn(topic)) < 3 {
		if time.Now().After(deadline) {
			t.Fatal("periodic health not published")
		}
		time.Sleep(5 * time.Millisecond)
	}
	h.Stop()
	h.Stop()

	pubs := mqtt.publishedOn(topic)
	var last HealthMessage
	if err := json.Unmarshal(pubs[len(pubs)-1].Payload, &last); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if last.Status != HealthStopping {
		t.Errorf("last status = %s, want stopping", last.Status)
	}
	for _, p := range pubs {
		if !p.Retained || p.QoS != 1 {
			t.Errorf("health published with qos %d retained %v", p.QoS, p.Retained)
		}
	}
}

func TestHealthReporter_StopsOnContext(t *testing.T) {
	mqtt, gw := NewMockMQTTClient(), NewMockGateway()
	h := newTestReporter(mqtt, gw, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())

	h.Start(ctx)
	cancel()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("report loop did not exit on context cancel")
	}
}

func TestHealthReporter_StartingPayload(t *testing.T) {
	mqtt := NewMockMQTTClient()
	h := newTestReporter(mqtt, NewMockGateway(), time.Hour)

	if err := h.PublishStarting(); err != nil {
		t.Fatalf("PublishStarting() error: %v", err)
	}
	pubs := mqtt.publishedOn(topics.BridgeHealth(Protocol))
	if len(pubs) != 1 || !strings.Contains(string(pubs[0].Payload), `"status":"starting"`) {
		t.Errorf("published = %+v", pubs)
	}
}
