package vbox

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Discovery timings.
const (
	defaultCommandTimeout   = 5 * time.Second
	defaultDiscoveryTimeout = 45 * time.Second
	defaultLoadPollAttempts = 50
	defaultLoadPollInterval = 100 * time.Millisecond
)

// WriteFunc hands an encoded request to the transport. It reports whether
// the request was accepted; Connection.Send satisfies it.
type WriteFunc func(data []byte) bool

// ReaderOptions configures a Reader. Zero values take defaults.
type ReaderOptions struct {
	// Catalog receives the discovered records. Default: a new catalog.
	Catalog *Catalog

	// CommandTimeout bounds the wait for each response. Default: 5s.
	CommandTimeout time.Duration

	// DiscoveryTimeout bounds a whole ReadController run. Default: 45s.
	DiscoveryTimeout time.Duration

	// LoadPollAttempts and LoadPollInterval control the final wait for the
	// catalog to report loaded. Defaults: 50 x 100ms.
	LoadPollAttempts int
	LoadPollInterval time.Duration

	Logger Logger
}

// ReaderStats holds discovery statistics.
type ReaderStats struct {
	Requests  uint64
	Responses uint64
	Timeouts  uint64
	Discarded uint64
	Errors    uint64
}

// pendingRequest is the single in-flight parameter request.
type pendingRequest struct {
	seq     uint64
	cmd     CommandNumber
	result  chan error
	created time.Time
}

// Reader discovers the VBox object database over the parameter API.
//
// Exactly one request is in flight at a time: SendCommand installs a
// pending slot, writes the request and waits until Feed resolves the slot
// or the command timeout expires. Responses to "numbers" requests enqueue
// one follow-up request per object; they are drained, one at a time,
// before SendCommand returns.
//
// The Reader never touches the socket. Frames reach it through Feed.
//
// Thread Safety: all methods are safe for concurrent use. Concurrent
// SendCommand calls are serialised.
type Reader struct {
	write   WriteFunc
	catalog *Catalog
	opts    ReaderOptions

	// sendMu serialises send-and-await.
	sendMu sync.Mutex

	// mu guards pending, followUps and seq.
	mu        sync.Mutex
	pending   *pendingRequest
	followUps []ParamRequest
	seq       uint64

	requests  atomic.Uint64
	responses atomic.Uint64
	timeouts  atomic.Uint64
	discarded atomic.Uint64
	errors    atomic.Uint64
}

// NewReader creates a Reader that sends through write.
func NewReader(write WriteFunc, opts ReaderOptions) *Reader {
	if opts.Catalog == nil {
		opts.Catalog = NewCatalog()
	}
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = defaultCommandTimeout
	}
	if opts.DiscoveryTimeout <= 0 {
		opts.DiscoveryTimeout = defaultDiscoveryTimeout
	}
	if opts.LoadPollAttempts <= 0 {
		opts.LoadPollAttempts = defaultLoadPollAttempts
	}
	if opts.LoadPollInterval <= 0 {
		opts.LoadPollInterval = defaultLoadPollInterval
	}
	return &Reader{write: write, catalog: opts.Catalog, opts: opts}
}

// Catalog returns the catalog the Reader fills.
func (r *Reader) Catalog() *Catalog {
	return r.catalog
}

// SendCommand sends req, waits for its response, then drains the
// follow-up queue the same way.
//
// Errors of follow-up requests are logged and do not stop the drain;
// missing objects show up in the catalog's progress.
//
// Returns:
//   - error: The error of req itself: ErrSendFailed, ErrCommandTimeout, a
//     framing error, or the context error
func (r *Reader) SendCommand(ctx context.Context, req ParamRequest) error {
	r.sendMu.Lock()
	defer r.sendMu.Unlock()

	err := r.exchange(ctx, req)
	r.drainFollowUps(ctx)
	return err
}

// exchange performs one send-and-await. The caller holds sendMu.
func (r *Reader) exchange(ctx context.Context, req ParamRequest) error {
	r.mu.Lock()
	r.seq++
	p := &pendingRequest{
		seq:     r.seq,
		cmd:     req.Command,
		result:  make(chan error, 1),
		created: time.Now(),
	}
	r.pending = p
	r.mu.Unlock()

	r.requests.Add(1)
	r.logDebug("sending parameter request", "request", req.String())

	if !r.write(req.Encode()) {
		r.clearPending(p)
		r.errors.Add(1)
		return fmt.Errorf("%w: %v", ErrSendFailed, req.Command)
	}

	timer := time.NewTimer(r.opts.CommandTimeout)
	defer timer.Stop()

	select {
	case err := <-p.result:
		if err != nil {
			r.errors.Add(1)
		}
		return err
	case <-timer.C:
		r.clearPending(p)
		r.timeouts.Add(1)
		return fmt.Errorf("%w: %v after %v", ErrCommandTimeout, req.Command, r.opts.CommandTimeout)
	case <-ctx.Done():
		r.clearPending(p)
		return ctx.Err()
	}
}

// clearPending empties the slot if it still holds p.
func (r *Reader) clearPending(p *pendingRequest) {
	r.mu.Lock()
	if r.pending == p {
		r.pending = nil
	}
	r.mu.Unlock()
}

func (r *Reader) nextFollowUp() (ParamRequest, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.followUps) == 0 {
		return ParamRequest{}, false
	}
	req := r.followUps[0]
	r.followUps = r.followUps[1:]
	return req, true
}

// drainFollowUps sends queued follow-ups one at a time. The caller holds sendMu.
func (r *Reader) drainFollowUps(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			r.mu.Lock()
			dropped := len(r.followUps)
			r.followUps = nil
			r.mu.Unlock()
			if dropped > 0 {
				r.logWarn("discovery cancelled, dropping follow-up requests", "dropped", dropped)
			}
			return
		}
		req, ok := r.nextFollowUp()
		if !ok {
			return
		}
		if err := r.exchange(ctx, req); err != nil {
			r.logWarn("follow-up request failed", "request", req.String(), "error", err)
		}
	}
}

// Feed delivers a VTH< frame to the pending request.
//
// The frame is validated against the pending command; a frame for another
// command is discarded and leaves the slot waiting. Records are applied to
// the catalog and follow-ups are queued before the waiter is released.
//
// Returns:
//   - error: ErrNoPendingRequest, ErrCommandMismatch or the decode error
func (r *Reader) Feed(frame []byte) error {
	r.mu.Lock()
	p := r.pending
	if p == nil {
		r.mu.Unlock()
		r.discarded.Add(1)
		r.logWarn("parameter frame received with no pending request, discarding", "bytes", len(frame))
		return ErrNoPendingRequest
	}
	if len(frame) > 4 && CommandNumber(frame[4]) != p.cmd {
		r.mu.Unlock()
		r.discarded.Add(1)
		err := fmt.Errorf("%w: got %v, awaiting %v", ErrCommandMismatch, CommandNumber(frame[4]), p.cmd)
		r.logWarn("discarding parameter frame", "error", err)
		return err
	}
	r.pending = nil
	r.mu.Unlock()

	r.responses.Add(1)
	resp, err := ParseParamResponse(p.cmd, frame)
	if err != nil {
		r.logError("invalid parameter response", "command", p.cmd.String(), "error", err)
		p.result <- err
		return err
	}

	r.catalog.Apply(resp)
	if len(resp.FollowUps) > 0 {
		r.mu.Lock()
		r.followUps = append(r.followUps, resp.FollowUps...)
		r.mu.Unlock()
	}
	p.result <- nil
	return nil
}

// ReadController reads the whole object database.
//
// Categories are read in order (floors, rooms, keypads and keys, ACs,
// scenarios), each fully drained before the next. The catalog is then
// polled until it reports loaded. With force the catalog is reset first;
// without it an already loaded catalog is returned as is.
//
// Returns:
//   - *Catalog: The loaded catalog
//   - error: ErrDiscoveryIncomplete with per-category progress, wrapping
//     the first failed top-level request (ErrCommandTimeout, ErrSendFailed
//     or the context error) when there was one
func (r *Reader) ReadController(ctx context.Context, force bool) (*Catalog, error) {
	if !force && r.catalog.IsLoaded() {
		return r.catalog, nil
	}
	if force {
		r.catalog.Reset()
	}

	ctx, cancel := context.WithTimeout(ctx, r.opts.DiscoveryTimeout)
	defer cancel()

	start := time.Now()
	r.logInfo("reading VBox database")

	var firstErr error
	for _, req := range []ParamRequest{
		FloorNumbersRequest(),
		RoomNumbersRequest(),
		KeypadNumbersRequest(),
		ACNumbersRequest(),
		ScenarioNumbersRequest(),
	} {
		if err := r.SendCommand(ctx, req); err != nil {
			r.logWarn("discovery request failed", "command", req.Command.String(), "error", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("%s: %w", req.Command, err)
			}
		}
		if ctx.Err() != nil {
			break
		}
	}

poll:
	for range r.opts.LoadPollAttempts {
		if r.catalog.IsLoaded() {
			r.logInfo("VBox database loaded", "duration", time.Since(start).String(), "progress", r.catalog.Progress())
			return r.catalog, nil
		}
		select {
		case <-ctx.Done():
			break poll
		case <-time.After(r.opts.LoadPollInterval):
		}
	}
	if r.catalog.IsLoaded() {
		return r.catalog, nil
	}
	if firstErr != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrDiscoveryIncomplete, r.catalog.Progress(), firstErr)
	}
	return nil, fmt.Errorf("%w: %s", ErrDiscoveryIncomplete, r.catalog.Progress())
}

// Stats returns discovery statistics.
func (r *Reader) Stats() ReaderStats {
	return ReaderStats{
		Requests:  r.requests.Load(),
		Responses: r.responses.Load(),
		Timeouts:  r.timeouts.Load(),
		Discarded: r.discarded.Load(),
		Errors:    r.errors.Load(),
	}
}

func (r *Reader) logDebug(msg string, keysAndValues ...any) {
	if r.opts.Logger != nil {
		r.opts.Logger.Debug(msg, keysAndValues...)
	}
}

func (r *Reader) logInfo(msg string, keysAndValues ...any) {
	if r.opts.Logger != nil {
		r.opts.Logger.Info(msg, keysAndValues...)
	}
}

func (r *Reader) logWarn(msg string, keysAndValues ...any) {
	if r.opts.Logger != nil {
		r.opts.Logger.Warn(msg, keysAndValues...)
	}
}

func (r *Reader) logError(msg string, keysAndValues ...any) {
	if r.opts.Logger != nil {
		r.opts.Logger.Error(msg, keysAndValues...)
	}
}
