package vitrea

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/vitrea-gateway/internal/statestore"
	"github.com/nerrad567/vitrea-gateway/internal/vbox"
)

// MockMQTTClient implements MQTTClient for testing.
type MockMQTTClient struct {
	mu            sync.Mutex
	published     []mockPublish
	subscriptions []string
	connected     bool
	handlers      map[string]func(topic string, payload []byte)
}

type mockPublish struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

func NewMockMQTTClient() *MockMQTTClient {
	return &MockMQTTClient{
		connected: true,
		handlers:  make(map[string]func(topic string, payload []byte)),
	}
}

func (m *MockMQTTClient) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, mockPublish{Topic: topic, Payload: payload, QoS: qos, Retained: retained})
	return nil
}

func (m *MockMQTTClient) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions = append(m.subscriptions, topic)
	m.handlers[topic] = handler
	return nil
}

func (m *MockMQTTClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockMQTTClient) Disconnect(quiesce uint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
}

func (m *MockMQTTClient) setConnected(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = v
}

// publishedOn returns the messages published on topic.
func (m *MockMQTTClient) publishedOn(topic string) []mockPublish {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []mockPublish
	for _, p := range m.published {
		if p.Topic == topic {
			out = append(out, p)
		}
	}
	return out
}

// SimulateMessage delivers payload to the handler subscribed on pattern.
func (m *MockMQTTClient) SimulateMessage(pattern, topic string, payload []byte) {
	m.mu.Lock()
	handler, ok := m.handlers[pattern]
	m.mu.Unlock()
	if ok {
		handler(topic, payload)
	}
}

// MockGateway implements Gateway for testing.
type MockGateway struct {
	mu       sync.Mutex
	sent     []string
	sendOK   bool
	healthy  bool
	stats    vbox.ControllerStats
	catalog  *vbox.Catalog
	handlers map[vbox.SubscriptionID]vbox.EventHandler
	nextID   vbox.SubscriptionID
}

func NewMockGateway() *MockGateway {
	g := &MockGateway{
		sendOK:   true,
		healthy:  true,
		handlers: make(map[vbox.SubscriptionID]vbox.EventHandler),
	}
	g.stats.Connection.State = vbox.StateConnected
	g.stats.CatalogLoaded = true
	return g
}

func (g *MockGateway) Send(data []byte) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.sendOK {
		return false
	}
	g.sent = append(g.sent, string(data))
	return true
}

func (g *MockGateway) Subscribe(_ vbox.SubscriptionFilter, fn vbox.EventHandler) vbox.SubscriptionID {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextID++
	g.handlers[g.nextID] = fn
	return g.nextID
}

func (g *MockGateway) Unsubscribe(id vbox.SubscriptionID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.handlers[id]
	delete(g.handlers, id)
	return ok
}

func (g *MockGateway) Catalog() *vbox.Catalog {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.catalog
}

func (g *MockGateway) Healthy() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.healthy
}

func (g *MockGateway) Stats() vbox.ControllerStats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stats
}

func (g *MockGateway) sentFrames() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.sent...)
}

// emit delivers ev to every subscriber.
func (g *MockGateway) emit(ev vbox.Event) {
	g.mu.Lock()
	handlers := make([]vbox.EventHandler, 0, len(g.handlers))
	for _, h := range g.handlers {
		handlers = append(handlers, h)
	}
	g.mu.Unlock()
	for _, h := range handlers {
		h(ev)
	}
}

// MockRecorder implements EventRecorder for testing.
type MockRecorder struct {
	mu          sync.Mutex
	states      []string
	connections []bool
}

func (r *MockRecorder) WriteDeviceState(deviceID, kind string, _ map[string]any, _ time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, deviceID+"/"+kind)
}

func (r *MockRecorder) WriteConnectionState(up bool, _ string, _ time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connections = append(r.connections, up)
}

func testCatalog() *vbox.Catalog {
	return vbox.LoadedCatalog(
		[]vbox.Floor{{ID: 1, Name: "Ground"}},
		[]vbox.Room{{ID: 4, FloorID: 1, Name: "Kitchen"}},
		[]vbox.Key{{ID: 2, KeypadID: 5, Type: vbox.KeyDimmer, RoomID: 4, Name: "Spots"}},
		[]vbox.AirConditioner{{ID: 3, Type: vbox.ACTypeTMSF, RoomID: 4, Name: "AC"}},
		[]vbox.Scenario{{ID: 12, RoomID: 4, Name: "Dinner"}},
	)
}

type testBridge struct {
	*Bridge
	mqtt     *MockMQTTClient
	gateway  *MockGateway
	recorder *MockRecorder
	store    *statestore.BoltStore
}

func newTestBridge(t *testing.T) *testBridge {
	t.Helper()
	store, err := statestore.Open(filepath.Join(t.TempDir(), "state.bolt"))
	if err != nil {
		t.Fatalf("statestore.Open() error: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	tb := &testBridge{
		mqtt:     NewMockMQTTClient(),
		gateway:  NewMockGateway(),
		recorder: &MockRecorder{},
		store:    store,
	}
	tb.gateway.catalog = testCatalog()

	b, err := NewBridge(BridgeOptions{
		Version:        "test",
		Address:        "10.0.0.5:11501",
		HealthInterval: time.Hour,
		MQTTClient:     tb.mqtt,
		Gateway:        tb.gateway,
		Recorder:       tb.recorder,
		States:         store,
	})
	if err != nil {
		t.Fatalf("NewBridge() error: %v", err)
	}
	tb.Bridge = b
	return tb
}

func (tb *testBridge) start(t *testing.T) {
	t.Helper()
	if err := tb.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	t.Cleanup(tb.Stop)
}

// command publishes a command for device and returns the decoded ack.
func (tb *testBridge) command(t *testing.T, device string, payload string) AckMessage {
	t.Helper()
	tb.mqtt.SimulateMessage(topics.AllBridgeCommands(Protocol), topics.BridgeCommand(Protocol, device), []byte(payload))
	acks := tb.mqtt.publishedOn(topics.BridgeAck(Protocol, device))
	if len(acks) == 0 {
		t.Fatalf("no ack published for %s", device)
	}
	var ack AckMessage
	if err := json.Unmarshal(acks[len(acks)-1].Payload, &ack); err != nil {
		t.Fatalf("unmarshal ack: %v", err)
	}
	return ack
}

func TestNewBridge_RequiresCollaborators(t *testing.T) {
	if _, err := NewBridge(BridgeOptions{Gateway: NewMockGateway()}); err == nil {
		t.Error("NewBridge() without MQTT client succeeded")
	}
	if _, err := NewBridge(BridgeOptions{MQTTClient: NewMockMQTTClient()}); err == nil {
		t.Error("NewBridge() without gateway succeeded")
	}
}

func TestBridge_StartSubscribes(t *testing.T) {
	tb := newTestBridge(t)
	tb.start(t)

	want := topics.AllBridgeCommands(Protocol)
	if len(tb.mqtt.subscriptions) != 1 || tb.mqtt.subscriptions[0] != want {
		t.Errorf("subscriptions = %v, want [%s]", tb.mqtt.subscriptions, want)
	}
	if len(tb.gateway.handlers) != 1 {
		t.Errorf("gateway subscribers = %d, want 1", len(tb.gateway.handlers))
	}
	health := tb.mqtt.publishedOn(topics.BridgeHealth(Protocol))
	if len(health) == 0 || !health[0].Retained {
		t.Fatal("starting health not published retained")
	}

	tb.Stop()
	if len(tb.gateway.handlers) != 0 {
		t.Error("gateway subscription kept after Stop()")
	}
}

func TestBridge_CommandAccepted(t *testing.T) {
	tests := []struct {
		name    string
		device  string
		payload string
		frame   string
	}{
		{"dim", "N005-2", `{"id":"c1","command":"dim","parameters":{"level":40}}`, "H:N005:2:D:000:040"},
		{"ac on", "A003", `{"id":"c2","command":"on"}`, "H:A003:2:O"},
		{"scenario", "R0012", `{"id":"c3","command":"run"}`, "H:R0012"},
		{"thermostat mode", "A003", `{"id":"c4","command":"set_thermostat","parameters":{"mode":"heat"}}`, "H:A003:3:1"},
		{"output", "O007", `{"id":"c5","command":"open"}`, "H:O007:O"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tb := newTestBridge(t)
			tb.start(t)

			ack := tb.command(t, tt.device, tt.payload)
			if ack.Status != AckAccepted {
				t.Fatalf("Status = %s, want accepted (error %+v)", ack.Status, ack.Error)
			}
			if ack.Frame != tt.frame {
				t.Errorf("Frame = %q, want %q", ack.Frame, tt.frame)
			}
			sent := tb.gateway.sentFrames()
			if len(sent) != 1 || sent[0] != tt.frame+"\r\n" {
				t.Errorf("sent = %q, want %q", sent, tt.frame)
			}
		})
	}
}

func TestBridge_CommandRejected(t *testing.T) {
	tests := []struct {
		name    string
		device  string
		payload string
		code    string
	}{
		{"bad json", "N005-2", `{`, ErrCodeInvalidCommand},
		{"bad device", "X1", `{"command":"on"}`, ErrCodeInvalidDevice},
		{"topic mismatch", "N005-2", `{"device_id":"N005-1","command":"on"}`, ErrCodeInvalidDevice},
		{"unknown command", "N005-2", `{"command":"explode"}`, ErrCodeInvalidCommand},
		{"missing level", "N005-2", `{"command":"dim"}`, ErrCodeInvalidParameters},
		{"level out of range", "N005-2", `{"command":"dim","parameters":{"level":140}}`, ErrCodeInvalidParameters},
		{"not in catalog", "N006-1", `{"command":"on"}`, ErrCodeNotConfigured},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tb := newTestBridge(t)
			tb.start(t)

			ack := tb.command(t, tt.device, tt.payload)
			if ack.Status != AckFailed {
				t.Fatalf("Status = %s, want failed", ack.Status)
			}
			if ack.Error == nil || ack.Error.Code != tt.code {
				t.Errorf("Error = %+v, want code %s", ack.Error, tt.code)
			}
			if ack.CommandID == "" {
				t.Error("failed ack has no command id")
			}
			if n := len(tb.gateway.sentFrames()); n != 0 {
				t.Errorf("sent %d frames, want 0", n)
			}
		})
	}
}

func TestBridge_CommandGatewayOffline(t *testing.T) {
	tb := newTestBridge(t)
	tb.gateway.sendOK = false

	ack := tb.HandleCommand(CommandMessage{DeviceID: "N005-2", Command: "off"})
	if ack.Status != AckFailed || ack.Error.Code != ErrCodeGatewayOffline {
		t.Errorf("ack = %+v, want GATEWAY_OFFLINE", ack)
	}
	if _, failed := tb.commandCounts(); failed != 1 {
		t.Errorf("failed commands = %d, want 1", failed)
	}
}

func TestBridge_HandleCommandNormalisesDevice(t *testing.T) {
	tb := newTestBridge(t)

	ack := tb.HandleCommand(CommandMessage{DeviceID: "N5-2", Command: " OFF "})
	if ack.Status != AckAccepted {
		t.Fatalf("ack = %+v", ack)
	}
	if ack.DeviceID != "N005-2" || ack.Command != "off" {
		t.Errorf("ack device/command = %s/%s, want N005-2/off", ack.DeviceID, ack.Command)
	}
	if ack.CommandID == "" {
		t.Error("missing command id not generated")
	}
	if len(tb.mqtt.publishedOn(topics.BridgeAck(Protocol, "N005-2"))) != 1 {
		t.Error("ack not published on canonical device topic")
	}
}

func TestBridge_CommandWithoutCatalog(t *testing.T) {
	tb := newTestBridge(t)
	tb.gateway.catalog = nil

	ack := tb.HandleCommand(CommandMessage{DeviceID: "N099-9", Command: "toggle"})
	if ack.Status != AckAccepted {
		t.Errorf("ack = %+v, want accepted without a catalog", ack)
	}
}

func TestBridge_StateEventPublished(t *testing.T) {
	tb := newTestBridge(t)
	tb.start(t)

	tb.gateway.emit(vbox.Event{Kind: vbox.EventNodeStatus, ID: 5, Key: 2, On: true, Subtype: "D", Params: "080"})

	pubs := tb.mqtt.publishedOn(topics.BridgeState(Protocol, "N005-2"))
	if len(pubs) != 1 || !pubs[0].Retained {
		t.Fatalf("state publishes = %+v, want one retained", pubs)
	}
	var msg StateMessage
	if err := json.Unmarshal(pubs[0].Payload, &msg); err != nil {
		t.Fatalf("unmarshal state: %v", err)
	}
	if msg.Kind != "node_status" || msg.State["on"] != true || msg.State["params"] != "080" {
		t.Errorf("state = %+v", msg)
	}
	if len(tb.recorder.states) != 1 || tb.recorder.states[0] != "N005-2/node_status" {
		t.Errorf("recorded = %v", tb.recorder.states)
	}
	if st, err := tb.store.Get("N005-2"); err != nil || st.State["on"] != true {
		t.Errorf("stored state = %+v, %v", st, err)
	}
	if got, ok := tb.State("N5-2"); !ok || got.DeviceID != "N005-2" {
		t.Errorf("State(N5-2) = %+v, %v", got, ok)
	}
}

func TestBridge_UnchangedStateSuppressed(t *testing.T) {
	tb := newTestBridge(t)
	tb.start(t)

	ev := vbox.Event{Kind: vbox.EventInputStatus, ID: 4, On: true}
	tb.gateway.emit(ev)
	tb.gateway.emit(ev)
	ev.On = false
	tb.gateway.emit(ev)

	if n := len(tb.mqtt.publishedOn(topics.BridgeState(Protocol, "I004"))); n != 2 {
		t.Errorf("input publishes = %d, want 2", n)
	}

	scenario := vbox.Event{Kind: vbox.EventScenarioStatus, ID: 12, On: true}
	tb.gateway.emit(scenario)
	tb.gateway.emit(scenario)
	if n := len(tb.mqtt.publishedOn(topics.BridgeState(Protocol, "R0012"))); n != 2 {
		t.Errorf("scenario publishes = %d, want 2", n)
	}
}

func TestBridge_ConnectionEvent(t *testing.T) {
	tb := newTestBridge(t)
	tb.start(t)
	before := len(tb.mqtt.publishedOn(topics.BridgeHealth(Protocol)))

	tb.gateway.mu.Lock()
	tb.gateway.stats.Connection.State = vbox.StateReconnecting
	tb.gateway.stats.Connection.ErrorReason = vbox.ReasonKeepAliveTimeout
	tb.gateway.mu.Unlock()
	tb.gateway.emit(vbox.Event{Kind: vbox.EventConnection, On: false})

	if len(tb.recorder.connections) != 1 || tb.recorder.connections[0] {
		t.Errorf("connections recorded = %v, want [false]", tb.recorder.connections)
	}
	health := tb.mqtt.publishedOn(topics.BridgeHealth(Protocol))
	if len(health) <= before {
		t.Fatal("health not republished on connection change")
	}
	var msg HealthMessage
	if err := json.Unmarshal(health[len(health)-1].Payload, &msg); err != nil {
		t.Fatalf("unmarshal health: %v", err)
	}
	if msg.Status != HealthUnhealthy {
		t.Errorf("Status = %s, want unhealthy", msg.Status)
	}
}

func TestBridge_RestoresStoredStates(t *testing.T) {
	tb := newTestBridge(t)
	at := time.Date(2026, 10, 1, 8, 0, 0, 0, time.UTC)
	tb.store.Put(statestore.DeviceState{DeviceID: "A003", Kind: "ac_status", State: map[string]any{"on": true}, UpdatedAt: at})

	tb.start(t)

	pubs := tb.mqtt.publishedOn(topics.BridgeState(Protocol, "A003"))
	if len(pubs) != 1 || !pubs[0].Retained {
		t.Fatalf("restored publishes = %+v", pubs)
	}
	states := tb.States()
	if len(states) != 1 || !states[0].Timestamp.Equal(at) {
		t.Errorf("States() = %+v", states)
	}
}

func TestBridge_StatesOrdered(t *testing.T) {
	tb := newTestBridge(t)
	tb.start(t)

	tb.gateway.emit(vbox.Event{Kind: vbox.EventOccupancyStatus, On: true})
	tb.gateway.emit(vbox.Event{Kind: vbox.EventACStatus, ID: 3, On: true})
	tb.gateway.emit(vbox.Event{Kind: vbox.EventNodeStatus, ID: 5, Key: 2})

	var ids []string
	for _, st := range tb.States() {
		ids = append(ids, st.DeviceID)
	}
	want := []string{"A003", "C", "N005-2"}
	if len(ids) != len(want) {
		t.Fatalf("States() ids = %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("ids[%d] = %s, want %s", i, ids[i], want[i])
		}
	}
}
