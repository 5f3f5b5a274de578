package vbox

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Controller defaults.
const (
	defaultWatchdogDelay     = 30 * time.Second
	defaultWatchdogInterval  = 30 * time.Second
	defaultHealthTimeout     = 50 * time.Second
	defaultResponseQueueSize = 256
)

// ControllerConfig configures a Controller. Zero values take defaults.
type ControllerConfig struct {
	Connection ConnectionConfig

	// CommandTimeout and DiscoveryTimeout are passed to each discovery Reader.
	CommandTimeout   time.Duration
	DiscoveryTimeout time.Duration

	// WatchdogDelay is the wait before the first health check. Default: 30s.
	WatchdogDelay time.Duration

	// WatchdogInterval separates health checks. Default: 30s.
	WatchdogInterval time.Duration

	// HealthTimeout is the silence after which the session is unhealthy.
	// Default: 50s.
	HealthTimeout time.Duration

	// ResponseQueueSize bounds frames waiting for the response worker.
	// Default: 256.
	ResponseQueueSize int
}

func (c ControllerConfig) withDefaults() ControllerConfig {
	if c.WatchdogDelay <= 0 {
		c.WatchdogDelay = defaultWatchdogDelay
	}
	if c.WatchdogInterval <= 0 {
		c.WatchdogInterval = defaultWatchdogInterval
	}
	if c.HealthTimeout <= 0 {
		c.HealthTimeout = defaultHealthTimeout
	}
	if c.ResponseQueueSize <= 0 {
		c.ResponseQueueSize = defaultResponseQueueSize
	}
	return c
}

// ControllerOptions holds optional collaborators.
type ControllerOptions struct {
	Logger Logger

	// Dial replaces the TCP dialer, mainly for tests.
	Dial DialFunc
}

// ConnectOptions controls what Connect does after the session is up.
type ConnectOptions struct {
	// SkipDiscovery connects without reading the object database.
	SkipDiscovery bool

	// Watchdog starts the periodic health check.
	Watchdog bool
}

// ControllerStats holds operational statistics.
type ControllerStats struct {
	Connection      ConnectionStats
	Healthy         bool
	CatalogLoaded   bool
	Subscribers     int
	EventsPublished uint64
	FramesDropped   uint64
	ParseErrors     uint64
	GatewayErrors   uint64
	WorkerRestarts  uint64
	LastMessage     time.Time
}

// Controller coordinates one VBox session: it owns the Connection,
// dispatches received frames, runs discovery and publishes state events.
//
// Frames from the receive loop are queued to a single response worker so
// that subscribers never block the socket. Parameter frames go to the
// active discovery Reader; ASCII frames are parsed into events.
//
// Thread Safety: all methods are safe for concurrent use.
type Controller struct {
	cfg  ControllerConfig
	opts ControllerOptions
	conn *Connection
	subs subscriptions

	catalogMu     sync.RWMutex
	catalog       *Catalog
	dbInitialized atomic.Bool

	// discoveryMu serialises ReadDatabase runs.
	discoveryMu sync.Mutex
	readerMu    sync.RWMutex
	reader      *Reader

	responses  chan []byte
	workerMu   sync.Mutex
	workerDone chan struct{}

	watchdogRunning atomic.Bool

	done *closeOnce
	wg   sync.WaitGroup

	lastMessage     atomic.Int64
	eventsPublished atomic.Uint64
	framesDropped   atomic.Uint64
	parseErrors     atomic.Uint64
	gatewayErrors   atomic.Uint64
	workerRestarts  atomic.Uint64
}

// NewController creates a Controller. Nothing is dialled until Connect.
func NewController(cfg ControllerConfig, opts ControllerOptions) *Controller {
	cfg = cfg.withDefaults()
	c := &Controller{
		cfg:       cfg,
		opts:      opts,
		responses: make(chan []byte, cfg.ResponseQueueSize),
		done:      newCloseOnce(),
	}
	c.conn = NewConnection(cfg.Connection, ConnectionOptions{
		OnFrame:       c.enqueueFrame,
		OnStateChange: c.onConnectionChange,
		Logger:        opts.Logger,
		Dial:          opts.Dial,
	})
	return c
}

// Connection returns the underlying Connection.
func (c *Controller) Connection() *Connection {
	return c.conn
}

// Connect opens the session, starts the response worker and, unless
// skipped, reads the object database. With opts.Watchdog the health check
// starts as soon as the session is up, so it keeps running even when
// discovery ends incomplete.
//
// Returns:
//   - error: ErrConnectionFailed, ErrDiscoveryIncomplete or ErrConnectionClosed
func (c *Controller) Connect(ctx context.Context, opts ConnectOptions) error {
	if c.isClosed() {
		return ErrConnectionClosed
	}
	if err := c.conn.Connect(ctx); err != nil {
		return err
	}
	c.startWorker()
	if opts.Watchdog {
		c.startWatchdog()
	}

	if !opts.SkipDiscovery && !c.dbInitialized.Load() {
		if _, err := c.ReadDatabase(ctx); err != nil {
			return err
		}
	}
	return nil
}

// ReadDatabase runs a full discovery and installs the result as the
// Controller's catalog. It connects first if needed.
func (c *Controller) ReadDatabase(ctx context.Context) (*Catalog, error) {
	c.discoveryMu.Lock()
	defer c.discoveryMu.Unlock()

	if !c.conn.IsConnected() {
		if err := c.conn.Connect(ctx); err != nil {
			return nil, err
		}
	}
	c.startWorker()

	reader := NewReader(c.conn.Send, ReaderOptions{
		CommandTimeout:   c.cfg.CommandTimeout,
		DiscoveryTimeout: c.cfg.DiscoveryTimeout,
		Logger:           c.opts.Logger,
	})
	c.setReader(reader)
	defer c.setReader(nil)

	cat, err := reader.ReadController(ctx, true)
	if err != nil {
		return nil, err
	}
	c.UseCatalog(cat)
	return cat, nil
}

// UseCatalog installs a catalog obtained elsewhere, e.g. from storage.
// Once a catalog is installed, a reconnect triggers a full status poll.
func (c *Controller) UseCatalog(cat *Catalog) {
	c.catalogMu.Lock()
	c.catalog = cat
	c.catalogMu.Unlock()
	c.dbInitialized.Store(cat != nil)
}

// Catalog returns the installed catalog, or nil before discovery.
func (c *Controller) Catalog() *Catalog {
	c.catalogMu.RLock()
	defer c.catalogMu.RUnlock()
	return c.catalog
}

func (c *Controller) setReader(r *Reader) {
	c.readerMu.Lock()
	c.reader = r
	c.readerMu.Unlock()
}

func (c *Controller) activeReader() *Reader {
	c.readerMu.RLock()
	defer c.readerMu.RUnlock()
	return c.reader
}

// Send queues a raw command; see Connection.Send.
func (c *Controller) Send(data []byte) bool {
	return c.conn.Send(data)
}

// UpdateState asks the VBox for the state of every node. It reports
// whether the poll was queued.
func (c *Controller) UpdateState() bool {
	if !c.conn.IsConnected() {
		return false
	}
	return c.conn.Send(FullStatus())
}

// Subscribe registers fn for events matching filter.
func (c *Controller) Subscribe(filter SubscriptionFilter, fn EventHandler) SubscriptionID {
	return c.subs.add(filter, fn)
}

// Unsubscribe removes a handler. It reports whether id was registered.
func (c *Controller) Unsubscribe(id SubscriptionID) bool {
	return c.subs.remove(id)
}

// enqueueFrame runs on the receive loop and must not block.
func (c *Controller) enqueueFrame(frame []byte) {
	c.lastMessage.Store(time.Now().UnixNano())
	select {
	case c.responses <- frame:
	default:
		c.framesDropped.Add(1)
		c.logWarn("response queue full, dropping frame", "bytes", len(frame))
	}
}

// startWorker starts the response worker unless it is running.
func (c *Controller) startWorker() {
	c.workerMu.Lock()
	defer c.workerMu.Unlock()

	if c.isClosed() {
		return
	}
	if c.workerDone != nil {
		select {
		case <-c.workerDone:
		default:
			return
		}
	}
	done := make(chan struct{})
	c.workerDone = done
	c.wg.Add(1)
	go c.responseWorker(done)
}

func (c *Controller) workerAlive() bool {
	c.workerMu.Lock()
	defer c.workerMu.Unlock()
	if c.workerDone == nil {
		return false
	}
	select {
	case <-c.workerDone:
		return false
	default:
		return true
	}
}

// responseWorker dispatches queued frames. A panic ends the worker; the
// watchdog starts a new one.
func (c *Controller) responseWorker(done chan struct{}) {
	defer c.wg.Done()
	defer close(done)
	defer func() {
		if r := recover(); r != nil {
			c.logError("response worker crashed", "panic", fmt.Sprint(r))
		}
	}()

	for {
		select {
		case <-c.done.Done():
			return
		case frame := <-c.responses:
			c.dispatch(frame)
		}
	}
}

func (c *Controller) dispatch(frame []byte) {
	if ClassifyFrame(frame) == FrameParamResponse {
		r := c.activeReader()
		if r == nil {
			c.logDebug("parameter frame with no discovery running, dropping", "bytes", len(frame))
			return
		}
		if err := r.Feed(frame); err != nil {
			c.logDebug("discovery frame not applied", "error", err)
		}
		return
	}
	for _, ev := range ParseResponse(frame) {
		c.handleEvent(ev)
	}
}

func (c *Controller) handleEvent(ev Event) {
	switch {
	case ev.Kind == EventAcknowledgment && ev.Subtype == SubtypeKeepAliveAck:
		c.conn.MarkKeepAliveAck(ev.Received)
	case ev.Kind.IsStatus():
		c.publish(ev)
	case ev.Kind == EventError:
		c.gatewayErrors.Add(1)
		c.logWarn("VBox rejected command", "error", ev.Err, "raw", ev.Raw)
	case ev.Kind == EventParseError:
		c.parseErrors.Add(1)
		c.logWarn("unparseable message from VBox", "error", ev.Err, "raw", ev.Raw)
	default:
		c.logDebug("VBox message", "kind", ev.Kind.String(), "raw", ev.Raw)
	}
}

// publish delivers ev to every matching subscriber. Handler panics are
// recovered and logged.
func (c *Controller) publish(ev Event) {
	c.eventsPublished.Add(1)
	for _, sub := range c.subs.matching(ev) {
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.logError("event handler panic", "subscription", uint64(sub.id), "panic", fmt.Sprint(r))
				}
			}()
			sub.handler(ev)
		}()
	}
}

// onConnectionChange publishes an EventConnection and, after a reconnect
// with a catalog installed, polls full state.
func (c *Controller) onConnectionChange(connected bool) {
	c.publish(Event{Kind: EventConnection, On: connected, Received: time.Now()})
	if connected && c.dbInitialized.Load() {
		c.UpdateState()
	}
}

// Healthy reports whether a message arrived within HealthTimeout, the
// connection loops are running and the response worker is alive.
func (c *Controller) Healthy() bool {
	last := loadTime(&c.lastMessage)
	if last.IsZero() || time.Since(last) > c.cfg.HealthTimeout {
		return false
	}
	return c.conn.LoopsRunning() && c.workerAlive()
}

func (c *Controller) startWatchdog() {
	if !c.watchdogRunning.CompareAndSwap(false, true) {
		return
	}
	c.wg.Add(1)
	go c.watchdogLoop()
}

func (c *Controller) watchdogLoop() {
	defer c.wg.Done()
	defer c.watchdogRunning.Store(false)

	wait := c.cfg.WatchdogDelay
	for {
		select {
		case <-c.done.Done():
			return
		case <-time.After(wait):
		}
		wait = c.cfg.WatchdogInterval
		c.checkHealth()
	}
}

func (c *Controller) checkHealth() {
	if !c.Healthy() {
		c.logWarn("VBox controller is not responding, requesting reconnect",
			"last_message", loadTime(&c.lastMessage), "reason", c.conn.ErrorReason())
		c.conn.RequestReconnect()
	}
	if !c.workerAlive() {
		c.workerRestarts.Add(1)
		c.logWarn("response worker not running, restarting")
		c.startWorker()
	}
}

// Close stops the watchdog and worker and closes the connection.
// Safe to call multiple times.
func (c *Controller) Close() error {
	c.done.Close()
	err := c.conn.Close()
	c.wg.Wait()
	return err
}

func (c *Controller) isClosed() bool {
	select {
	case <-c.done.Done():
		return true
	default:
		return false
	}
}

// Stats returns current operational statistics.
func (c *Controller) Stats() ControllerStats {
	cat := c.Catalog()
	return ControllerStats{
		Connection:      c.conn.Stats(),
		Healthy:         c.Healthy(),
		CatalogLoaded:   cat != nil && cat.IsLoaded(),
		Subscribers:     c.subs.count(),
		EventsPublished: c.eventsPublished.Load(),
		FramesDropped:   c.framesDropped.Load(),
		ParseErrors:     c.parseErrors.Load(),
		GatewayErrors:   c.gatewayErrors.Load(),
		WorkerRestarts:  c.workerRestarts.Load(),
		LastMessage:     loadTime(&c.lastMessage),
	}
}

func (c *Controller) logDebug(msg string, keysAndValues ...any) {
	if c.opts.Logger != nil {
		c.opts.Logger.Debug(msg, keysAndValues...)
	}
}

func (c *Controller) logWarn(msg string, keysAndValues ...any) {
	if c.opts.Logger != nil {
		c.opts.Logger.Warn(msg, keysAndValues...)
	}
}

func (c *Controller) logError(msg string, keysAndValues ...any) {
	if c.opts.Logger != nil {
		c.opts.Logger.Error(msg, keysAndValues...)
	}
}
