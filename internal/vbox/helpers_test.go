package vbox

import (
	"net"
	"sync"
	"testing"
	"time"
)

// fakeVBox is a scripted VBox listening on a loopback port.
type fakeVBox struct {
	t        *testing.T
	ln       net.Listener
	handler  func(conn net.Conn, frame []byte)
	received chan string
	accepted chan struct{}

	mu    sync.Mutex
	conns []net.Conn
}

// ackKeepAlive answers P:VITREA like a real VBox.
func ackKeepAlive(conn net.Conn, frame []byte) {
	if string(frame) == "P:VITREA\r\n" {
		conn.Write([]byte("S:PSW:OK\r\n"))
	}
}

func newFakeVBox(t *testing.T, handler func(conn net.Conn, frame []byte)) *fakeVBox {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	f := &fakeVBox{
		t:        t,
		ln:       ln,
		handler:  handler,
		received: make(chan string, 512),
		accepted: make(chan struct{}, 16),
	}
	go f.acceptLoop()
	t.Cleanup(f.Close)
	return f
}

func (f *fakeVBox) acceptLoop() {
	for {
		conn, err := f.ln.Accept()
		if err != nil {
			return
		}
		f.mu.Lock()
		f.conns = append(f.conns, conn)
		f.mu.Unlock()
		select {
		case f.accepted <- struct{}{}:
		default:
		}
		go f.serve(conn)
	}
}

func (f *fakeVBox) serve(conn net.Conn) {
	fr := NewFrameReader(conn)
	for {
		frame, err := fr.ReadFrame()
		if err != nil {
			return
		}
		select {
		case f.received <- string(frame):
		default:
		}
		if f.handler != nil {
			f.handler(conn, frame)
		}
	}
}

// config returns fast timings pointing at the fake.
func (f *fakeVBox) config() ConnectionConfig {
	addr := f.ln.Addr().(*net.TCPAddr)
	return ConnectionConfig{
		Host:               "127.0.0.1",
		Port:               addr.Port,
		DialTimeout:        time.Second,
		DialAttempts:       1,
		DialRetryDelay:     10 * time.Millisecond,
		KeepAliveInterval:  time.Minute,
		LivenessTimeout:    time.Minute,
		MonitorInterval:    10 * time.Millisecond,
		ReconnectBaseDelay: 10 * time.Millisecond,
		ReconnectMaxDelay:  50 * time.Millisecond,
		ReconnectAttempts:  5,
		WriteTimeout:       time.Second,
	}
}

// dropConnections closes every accepted connection.
func (f *fakeVBox) dropConnections() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.conns {
		c.Close()
	}
	f.conns = nil
}

// broadcast writes data to every accepted connection.
func (f *fakeVBox) broadcast(data string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.conns {
		c.Write([]byte(data))
	}
}

func (f *fakeVBox) Close() {
	f.ln.Close()
	f.dropConnections()
}

// expectReceived waits until the fake receives want.
func (f *fakeVBox) expectReceived(want string) {
	f.t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case got := <-f.received:
			if got == want {
				return
			}
		case <-deadline:
			f.t.Fatalf("fake VBox never received %q", want)
		}
	}
}

func (f *fakeVBox) waitAccepted() {
	f.t.Helper()
	select {
	case <-f.accepted:
	case <-time.After(2 * time.Second):
		f.t.Fatal("no connection accepted")
	}
}

// waitFor polls cond until it holds or the timeout expires.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

// recordingLogger counts log calls by level.
type recordingLogger struct {
	mu     sync.Mutex
	errors []string
	warns  []string
}

func (l *recordingLogger) Debug(string, ...any) {}
func (l *recordingLogger) Info(string, ...any)  {}

func (l *recordingLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	l.warns = append(l.warns, msg)
	l.mu.Unlock()
}

func (l *recordingLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	l.errors = append(l.errors, msg)
	l.mu.Unlock()
}
