package vbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

// Default timings of the VBox session.
const (
	DefaultPort = 11501

	defaultDialTimeout        = 3 * time.Second
	defaultDialAttempts       = 3
	defaultDialRetryDelay     = 1 * time.Second
	defaultKeepAliveInterval  = 20 * time.Second
	defaultLivenessTimeout    = 45 * time.Second
	defaultMonitorInterval    = 1 * time.Second
	defaultReconnectBaseDelay = 1 * time.Second
	defaultReconnectMaxDelay  = 30 * time.Second
	defaultReconnectAttempts  = 10
	defaultWriteTimeout       = 5 * time.Second

	// sendQueueSize is the depth of the outbound FIFO.
	sendQueueSize = 64
)

// Error reasons reported by ErrorReason.
const (
	ReasonKeepAliveTimeout   = "Keep Alive Timeout"
	ReasonCommandSendFailed  = "Command Send Failed"
	ReasonLostOnSend         = "Connection Lost On Send"
	ReasonConnectionFailed   = "Connection Failed"
	ReasonConnectionLost     = "Connection with VBox Lost"
	ReasonClosedByController = "Connection Closed By Controller"
	ReasonSendFailed         = "Send Failed"
	reasonUnknown            = "Unknown Error"
)

// ConnectionState is the lifecycle state of the session.
type ConnectionState int32

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return fmt.Sprintf("ConnectionState(%d)", int32(s))
	}
}

// ConnectionConfig holds the VBox address and session timings.
// Zero durations and counts take their defaults.
type ConnectionConfig struct {
	Host string
	Port int

	// DialTimeout bounds each TCP dial. Default: 3s.
	DialTimeout time.Duration

	// DialAttempts is the number of dials Connect makes. Default: 3.
	DialAttempts int

	// DialRetryDelay separates Connect's dial attempts. Default: 1s.
	DialRetryDelay time.Duration

	// KeepAliveInterval is the period of P:VITREA keep-alives. Default: 20s.
	KeepAliveInterval time.Duration

	// LivenessTimeout fails the session when nothing is received for this
	// long. Default: 45s.
	LivenessTimeout time.Duration

	// MonitorInterval is how often liveness is checked. Default: 1s.
	MonitorInterval time.Duration

	// ReconnectBaseDelay and ReconnectMaxDelay bound the exponential
	// backoff between reconnect attempts. Defaults: 1s and 30s.
	ReconnectBaseDelay time.Duration
	ReconnectMaxDelay  time.Duration

	// ReconnectAttempts is the number of reconnect dials before giving up
	// until the next failure. Default: 10.
	ReconnectAttempts int

	// WriteTimeout bounds each socket write and each enqueue. Default: 5s.
	WriteTimeout time.Duration
}

func (c ConnectionConfig) withDefaults() ConnectionConfig {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = defaultDialTimeout
	}
	if c.DialAttempts <= 0 {
		c.DialAttempts = defaultDialAttempts
	}
	if c.DialRetryDelay <= 0 {
		c.DialRetryDelay = defaultDialRetryDelay
	}
	if c.KeepAliveInterval <= 0 {
		c.KeepAliveInterval = defaultKeepAliveInterval
	}
	if c.LivenessTimeout <= 0 {
		c.LivenessTimeout = defaultLivenessTimeout
	}
	if c.MonitorInterval <= 0 {
		c.MonitorInterval = defaultMonitorInterval
	}
	if c.ReconnectBaseDelay <= 0 {
		c.ReconnectBaseDelay = defaultReconnectBaseDelay
	}
	if c.ReconnectMaxDelay <= 0 {
		c.ReconnectMaxDelay = defaultReconnectMaxDelay
	}
	if c.ReconnectAttempts <= 0 {
		c.ReconnectAttempts = defaultReconnectAttempts
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	return c
}

// Address returns host:port.
func (c ConnectionConfig) Address() string {
	port := c.Port
	if port == 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}

// ReconnectDelay returns the wait before reconnect attempt n (1-based):
// min(max, base * 2^(n-1)).
func (c ConnectionConfig) ReconnectDelay(attempt int) time.Duration {
	c = c.withDefaults()
	if attempt < 1 {
		attempt = 1
	}
	delay := c.ReconnectBaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.ReconnectMaxDelay {
			return c.ReconnectMaxDelay
		}
	}
	return min(delay, c.ReconnectMaxDelay)
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// DialFunc opens the TCP stream. It matches (*net.Dialer).DialContext.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// ConnectionOptions holds the collaborators of a Connection.
type ConnectionOptions struct {
	// OnFrame receives every non-echo frame. It runs on the receive loop
	// and must not block.
	OnFrame func(frame []byte)

	// OnStateChange is called with true when a session comes up and with
	// false when it goes down or a reconnect attempt fails.
	OnStateChange func(connected bool)

	Logger Logger

	// Dial replaces the TCP dialer, mainly for tests.
	Dial DialFunc
}

// ConnectionStats holds operational statistics.
type ConnectionStats struct {
	State             ConnectionState
	Reconnecting      bool
	ErrorReason       string
	FramesRx          uint64
	FramesTx          uint64
	EchoesDropped     uint64
	ErrorsTotal       uint64
	ReconnectsTotal   uint64
	LastReceive       time.Time
	LastTransmit      time.Time
	LastKeepAliveSent time.Time
	LastKeepAliveAck  time.Time
}

// session is one live socket and its loops.
type session struct {
	conn     net.Conn
	sendQ    chan []byte
	stop     *closeOnce
	wg       sync.WaitGroup
	failOnce sync.Once
}

// Connection owns the TCP session with a VBox.
//
// Once connected, three goroutines run: the receive loop (sole reader),
// the send loop (sole writer, fed by a FIFO channel) and the monitor loop
// (keep-alive and liveness). Any of them failing tears the session down
// and requests a reconnect.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - OnFrame is called from the receive loop only, in stream order.
//
// Close is terminal: a closed Connection cannot be reconnected.
type Connection struct {
	cfg  ConnectionConfig
	opts ConnectionOptions
	dial DialFunc

	// mu guards session, state, reason and enabled.
	mu      sync.Mutex
	session *session
	state   ConnectionState
	reason  string
	enabled bool

	reconnecting atomic.Bool
	done         *closeOnce
	wg           sync.WaitGroup

	// ctx is cancelled by Close and aborts reconnect dials.
	ctx    context.Context
	cancel context.CancelFunc

	// Logger (optional)
	logger   Logger
	loggerMu sync.RWMutex

	framesRx        atomic.Uint64
	framesTx        atomic.Uint64
	echoesDropped   atomic.Uint64
	errorsTotal     atomic.Uint64
	reconnectsTotal atomic.Uint64

	// Unix nanoseconds; 0 means never.
	lastRx     atomic.Int64
	lastTx     atomic.Int64
	lastKASent atomic.Int64
	lastKAAck  atomic.Int64
}

// NewConnection creates a disconnected Connection.
func NewConnection(cfg ConnectionConfig, opts ConnectionOptions) *Connection {
	c := &Connection{
		cfg:    cfg.withDefaults(),
		opts:   opts,
		dial:   opts.Dial,
		done:   newCloseOnce(),
		reason: reasonUnknown,
		logger: opts.Logger,
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	if c.dial == nil {
		var d net.Dialer
		c.dial = d.DialContext
	}
	return c
}

// Connect opens the session.
//
// It dials up to DialAttempts times, DialRetryDelay apart, queues the
// authentication keep-alive as the first outbound message and starts the
// loops. Connecting an already connected Connection is a no-op.
//
// Parameters:
//   - ctx: Cancels dialing and the wait between attempts
//
// Returns:
//   - error: ErrConnectionFailed wrapping the last dial error, or
//     ErrConnectionClosed after Close
func (c *Connection) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.isClosed() {
		c.mu.Unlock()
		return ErrConnectionClosed
	}
	c.enabled = true
	if c.session != nil {
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	c.mu.Unlock()

	var lastErr error
	for attempt := 1; attempt <= c.cfg.DialAttempts; attempt++ {
		conn, err := c.dialOnce(ctx)
		if err == nil {
			if err := c.startSession(conn); err != nil {
				return err
			}
			c.logInfo("connected to VBox", "address", c.cfg.Address(), "attempt", attempt)
			return nil
		}
		lastErr = err
		c.errorsTotal.Add(1)
		c.setFailure(ReasonConnectionFailed)
		c.logWarn("connection to VBox failed", "address", c.cfg.Address(), "attempt", attempt, "error", err)

		if attempt == c.cfg.DialAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", ErrConnectionFailed, ctx.Err())
		case <-c.done.Done():
			return ErrConnectionClosed
		case <-time.After(c.cfg.DialRetryDelay):
		}
	}
	return fmt.Errorf("%w: %s: %w", ErrConnectionFailed, c.cfg.Address(), lastErr)
}

func (c *Connection) dialOnce(ctx context.Context) (net.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()
	return c.dial(dialCtx, "tcp", c.cfg.Address())
}

// startSession installs conn as the live session and starts its loops.
func (c *Connection) startSession(conn net.Conn) error {
	s := &session{
		conn:  conn,
		sendQ: make(chan []byte, sendQueueSize),
		stop:  newCloseOnce(),
	}
	now := time.Now().UnixNano()

	c.mu.Lock()
	if !c.enabled || c.isClosed() {
		c.mu.Unlock()
		conn.Close()
		return ErrConnectionClosed
	}
	if c.session != nil {
		c.mu.Unlock()
		conn.Close()
		return nil
	}
	c.session = s
	c.state = StateConnected
	c.lastRx.Store(now)
	c.lastKASent.Store(now)
	s.sendQ <- Authenticate()
	s.wg.Add(3)
	c.mu.Unlock()

	go c.receiveLoop(s)
	go c.sendLoop(s)
	go c.monitorLoop(s)

	c.notify(true)
	return nil
}

// receiveLoop is the only reader of the socket.
func (c *Connection) receiveLoop(s *session) {
	defer s.wg.Done()

	fr := NewFrameReader(s.conn)
	for {
		frame, err := fr.ReadFrame()
		if errors.Is(err, ErrLineTooLong) {
			c.errorsTotal.Add(1)
			c.logWarn("discarding overlong line from VBox", "error", err)
			continue
		}
		if err != nil {
			select {
			case <-s.stop.Done():
				return
			default:
			}
			if errors.Is(err, ErrConnectionClosed) {
				c.fail(s, ReasonClosedByController, err)
			} else {
				c.fail(s, ReasonConnectionLost, err)
			}
			return
		}

		c.lastRx.Store(time.Now().UnixNano())
		c.framesRx.Add(1)

		if kind := ClassifyFrame(frame); kind.IsEcho() {
			c.echoesDropped.Add(1)
			c.logDebug("dropping echo frame", "kind", kind.String())
			continue
		}
		if c.opts.OnFrame != nil {
			c.opts.OnFrame(frame)
		}
	}
}

// sendLoop is the only writer of the socket.
func (c *Connection) sendLoop(s *session) {
	defer s.wg.Done()

	for {
		select {
		case <-s.stop.Done():
			return
		case data := <-s.sendQ:
			if err := s.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout)); err != nil {
				c.fail(s, ReasonCommandSendFailed, err)
				return
			}
			if _, err := s.conn.Write(data); err != nil {
				reason := ReasonCommandSendFailed
				if isConnectionLost(err) {
					reason = ReasonLostOnSend
				}
				c.fail(s, reason, err)
				return
			}
			c.lastTx.Store(time.Now().UnixNano())
			c.framesTx.Add(1)
		}
	}
}

func isConnectionLost(err error) bool {
	return errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE)
}

// monitorLoop sends keep-alives and enforces the liveness timeout.
func (c *Connection) monitorLoop(s *session) {
	defer s.wg.Done()

	ticker := time.NewTicker(c.cfg.MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop.Done():
			return
		case now := <-ticker.C:
			if now.Sub(loadTime(&c.lastRx)) > c.cfg.LivenessTimeout {
				c.fail(s, ReasonKeepAliveTimeout, ErrLivenessTimeout)
				return
			}
			if now.Sub(loadTime(&c.lastKASent)) >= c.cfg.KeepAliveInterval {
				if c.enqueue(s, Authenticate()) {
					c.lastKASent.Store(now.UnixNano())
				}
			}
		}
	}
}

// fail tears down s after a loop error and requests a reconnect.
// Only the first call per session has any effect.
func (c *Connection) fail(s *session, reason string, err error) {
	s.failOnce.Do(func() {
		c.mu.Lock()
		if c.session != s {
			c.mu.Unlock()
			return
		}
		c.session = nil
		c.state = StateDisconnected
		c.reason = reason
		enabled := c.enabled
		if enabled {
			c.wg.Add(1)
		}
		c.mu.Unlock()

		c.errorsTotal.Add(1)
		c.logError("VBox session failed", "reason", reason, "error", err)

		s.stop.Close()
		s.conn.Close()

		if !enabled {
			return
		}
		go func() {
			defer c.wg.Done()
			s.wg.Wait()
			c.notify(false)
			c.RequestReconnect()
		}()
	})
}

// detach removes the live session, stops its loops and waits for them.
// It reports whether there was a session.
func (c *Connection) detach() bool {
	c.mu.Lock()
	s := c.session
	c.session = nil
	c.mu.Unlock()

	if s == nil {
		return false
	}
	s.failOnce.Do(func() {})
	s.stop.Close()
	s.conn.Close()
	s.wg.Wait()
	return true
}

// RequestReconnect starts the reconnect loop unless the Connection is
// disabled or a reconnect is already in progress.
func (c *Connection) RequestReconnect() {
	c.mu.Lock()
	if !c.enabled || c.isClosed() {
		c.mu.Unlock()
		return
	}
	if !c.reconnecting.CompareAndSwap(false, true) {
		c.mu.Unlock()
		return
	}
	c.wg.Add(1)
	c.mu.Unlock()

	go c.reconnectLoop()
}

// reconnectLoop re-establishes the session with exponential backoff.
func (c *Connection) reconnectLoop() {
	defer c.wg.Done()

	c.logWarn("reconnecting to VBox", "reason", c.ErrorReason())
	if c.detach() {
		c.notify(false)
	}

	for attempt := 1; attempt <= c.cfg.ReconnectAttempts; attempt++ {
		if !c.isEnabled() {
			c.reconnecting.Store(false)
			return
		}
		c.setState(StateReconnecting)

		delay := c.cfg.ReconnectDelay(attempt)
		c.logDebug("reconnect attempt scheduled", "attempt", attempt, "delay", delay.String())
		select {
		case <-c.done.Done():
			c.reconnecting.Store(false)
			return
		case <-time.After(delay):
		}

		conn, err := c.dialOnce(c.ctx)

		if err == nil {
			c.reconnecting.Store(false)
			if err := c.startSession(conn); err != nil {
				return
			}
			c.reconnectsTotal.Add(1)
			c.logInfo("reconnected to VBox", "attempt", attempt)
			return
		}

		c.errorsTotal.Add(1)
		c.setFailure(ReasonConnectionFailed)
		c.logWarn("reconnect attempt failed", "attempt", attempt, "error", err)
		c.notify(false)
	}

	c.logError("giving up reconnecting to VBox", "attempts", c.cfg.ReconnectAttempts)
	c.setState(StateDisconnected)
	c.reconnecting.Store(false)
}

// Send queues data for the send loop. The data is copied.
//
// Returns false, records "Send Failed" and requests a reconnect when there
// is no live session. It also returns false if the queue stays full for
// WriteTimeout.
func (c *Connection) Send(data []byte) bool {
	c.mu.Lock()
	s := c.session
	if s == nil {
		c.reason = ReasonSendFailed
	}
	c.mu.Unlock()

	if s == nil {
		c.RequestReconnect()
		return false
	}
	return c.enqueue(s, bytes.Clone(data))
}

func (c *Connection) enqueue(s *session, data []byte) bool {
	timer := time.NewTimer(c.cfg.WriteTimeout)
	defer timer.Stop()

	select {
	case s.sendQ <- data:
		return true
	case <-s.stop.Done():
		return false
	case <-timer.C:
		c.errorsTotal.Add(1)
		c.logWarn("send queue full, dropping message")
		return false
	}
}

// Close disables the Connection, tears down the session and waits for
// every goroutine. Safe to call multiple times; never starts a reconnect.
func (c *Connection) Close() error {
	c.mu.Lock()
	c.enabled = false
	c.mu.Unlock()
	c.done.Close()
	c.cancel()

	hadSession := c.detach()
	c.wg.Wait()

	c.mu.Lock()
	c.state = StateDisconnected
	c.mu.Unlock()

	if hadSession {
		c.notify(false)
		c.logInfo("disconnected from VBox")
	}
	return nil
}

// MarkKeepAliveAck records the arrival of a keep-alive acknowledgment.
func (c *Connection) MarkKeepAliveAck(at time.Time) {
	c.lastKAAck.Store(at.UnixNano())
}

// IsConnected reports whether a session is live.
func (c *Connection) IsConnected() bool {
	return c.State() == StateConnected
}

// LoopsRunning reports whether a session and its loops are live.
func (c *Connection) LoopsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session != nil
}

// State returns the current lifecycle state.
func (c *Connection) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ErrorReason returns the reason of the last failure.
func (c *Connection) ErrorReason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

// LastReceive returns when a frame was last received (zero if never).
func (c *Connection) LastReceive() time.Time {
	return loadTime(&c.lastRx)
}

// Stats returns current operational statistics.
func (c *Connection) Stats() ConnectionStats {
	c.mu.Lock()
	state, reason := c.state, c.reason
	c.mu.Unlock()

	return ConnectionStats{
		State:             state,
		Reconnecting:      c.reconnecting.Load(),
		ErrorReason:       reason,
		FramesRx:          c.framesRx.Load(),
		FramesTx:          c.framesTx.Load(),
		EchoesDropped:     c.echoesDropped.Load(),
		ErrorsTotal:       c.errorsTotal.Load(),
		ReconnectsTotal:   c.reconnectsTotal.Load(),
		LastReceive:       loadTime(&c.lastRx),
		LastTransmit:      loadTime(&c.lastTx),
		LastKeepAliveSent: loadTime(&c.lastKASent),
		LastKeepAliveAck:  loadTime(&c.lastKAAck),
	}
}

// SetLogger sets the logger for this connection.
func (c *Connection) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

func (c *Connection) setState(s ConnectionState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Connection) setFailure(reason string) {
	c.mu.Lock()
	c.reason = reason
	if c.session == nil {
		c.state = StateDisconnected
	}
	c.mu.Unlock()
}

func (c *Connection) isEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

func (c *Connection) isClosed() bool {
	select {
	case <-c.done.Done():
		return true
	default:
		return false
	}
}

func (c *Connection) notify(connected bool) {
	if c.opts.OnStateChange == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.logError("state callback panic", "panic", fmt.Sprint(r))
		}
	}()
	c.opts.OnStateChange(connected)
}

func loadTime(v *atomic.Int64) time.Time {
	n := v.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

func (c *Connection) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

func (c *Connection) logDebug(msg string, keysAndValues ...any) {
	if l := c.getLogger(); l != nil {
		l.Debug(msg, keysAndValues...)
	}
}

func (c *Connection) logInfo(msg string, keysAndValues ...any) {
	if l := c.getLogger(); l != nil {
		l.Info(msg, keysAndValues...)
	}
}

func (c *Connection) logWarn(msg string, keysAndValues ...any) {
	if l := c.getLogger(); l != nil {
		l.Warn(msg, keysAndValues...)
	}
}

func (c *Connection) logError(msg string, keysAndValues ...any) {
	if l := c.getLogger(); l != nil {
		l.Error(msg, keysAndValues...)
	}
}
