package vbox

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// scriptedVBox answers parameter requests from a small fixed database:
// floor 1, room 4, keypad 5 with two keys, AC 3 and scenario 12.
type scriptedVBox struct {
	t      *testing.T
	reader *Reader

	// skip lists commands left unanswered.
	skip map[CommandNumber]bool

	mu          sync.Mutex
	sent        []CommandNumber
	outstanding atomic.Int32
	overlapped  atomic.Bool
}

func (s *scriptedVBox) write(frame []byte) bool {
	cmd := CommandNumber(frame[4])
	payload := frame[paramHeaderSize : len(frame)-1]

	s.mu.Lock()
	s.sent = append(s.sent, cmd)
	s.mu.Unlock()

	if s.outstanding.Add(1) > 1 {
		s.overlapped.Store(true)
	}
	if s.skip[cmd] {
		s.outstanding.Add(-1)
		return true
	}
	resp := scriptedResponse(cmd, payload)
	go func() {
		s.outstanding.Add(-1)
		if err := s.reader.Feed(resp); err != nil {
			s.t.Errorf("Feed(%v) error: %v", cmd, err)
		}
	}()
	return true
}

// scriptedResponse builds the VTH< answer to a request payload.
func scriptedResponse(cmd CommandNumber, req []byte) []byte {
	var payload []byte
	switch cmd {
	case CmdFloorNumbers:
		payload = []byte{1, 0, 1}
	case CmdFloorParams:
		payload = append(req[:2:2], encodeName("Ground")...)
	case CmdRoomNumbers:
		payload = []byte{1, 0, 4}
	case CmdRoomParams:
		payload = append(append(req[:2:2], 0, 1), encodeName("Kitchen")...)
	case CmdKeypadNumbers:
		payload = []byte{0, 1, 0, 5, 2}
	case CmdKeyParams:
		payload = append(append(req[:3:3], byte(KeyToggle), 0, 4), encodeName("Light")...)
	case CmdACNumbers:
		payload = []byte{1, 0, 3}
	case CmdACParams:
		payload = append(append(req[:2:2], '1', 0, 4), encodeName("AC")...)
	case CmdScenarioNumbers:
		payload = []byte{1, 0, 12}
	case CmdScenarioParams:
		payload = append(append(req[:2:2], 0, 4), encodeName("Dinner")...)
	}
	return responseFrame(cmd, payload)
}

func (s *scriptedVBox) sentCommands() []CommandNumber {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]CommandNumber(nil), s.sent...)
}

func newScriptedReader(t *testing.T, opts ReaderOptions, skip ...CommandNumber) (*Reader, *scriptedVBox) {
	s := &scriptedVBox{t: t, skip: make(map[CommandNumber]bool)}
	for _, c := range skip {
		s.skip[c] = true
	}
	s.reader = NewReader(s.write, opts)
	return s.reader, s
}

func TestReader_ReadControllerLoadsEverything(t *testing.T) {
	r, vbox := newScriptedReader(t, ReaderOptions{})

	cat, err := r.ReadController(context.Background(), true)
	if err != nil {
		t.Fatalf("ReadController() error: %v", err)
	}
	if !cat.IsLoaded() {
		t.Fatalf("catalog not loaded: %s", cat.Progress())
	}

	want := []CommandNumber{
		CmdFloorNumbers, CmdFloorParams,
		CmdRoomNumbers, CmdRoomParams,
		CmdKeypadNumbers, CmdKeyParams, CmdKeyParams,
		CmdACNumbers, CmdACParams,
		CmdScenarioNumbers, CmdScenarioParams,
	}
	got := vbox.sentCommands()
	if len(got) != len(want) {
		t.Fatalf("sent %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("request %d = %v, want %v", i, got[i], want[i])
		}
	}
	if vbox.overlapped.Load() {
		t.Error("more than one request was in flight")
	}

	if k, ok := cat.Key(5, 2); !ok || k.Name != "Light" || k.RoomID != 4 {
		t.Errorf("Key(5, 2) = %+v, %v", k, ok)
	}
	if s, ok := cat.Scenario(12); !ok || s.Name != "Dinner" {
		t.Errorf("Scenario(12) = %+v, %v", s, ok)
	}
	if st := r.Stats(); st.Requests != 11 || st.Responses != 11 || st.Timeouts != 0 {
		t.Errorf("Stats() = %+v", st)
	}
}

func TestReader_ReadControllerNotForcedReturnsLoaded(t *testing.T) {
	r, vbox := newScriptedReader(t, ReaderOptions{Catalog: sampleCatalog()})

	cat, err := r.ReadController(context.Background(), false)
	if err != nil {
		t.Fatalf("ReadController() error: %v", err)
	}
	if cat != r.Catalog() {
		t.Error("different catalog returned")
	}
	if n := len(vbox.sentCommands()); n != 0 {
		t.Errorf("sent %d requests, want 0", n)
	}
}

func TestReader_DiscoveryIncomplete(t *testing.T) {
	r, _ := newScriptedReader(t, ReaderOptions{
		CommandTimeout:   20 * time.Millisecond,
		LoadPollAttempts: 2,
		LoadPollInterval: time.Millisecond,
	}, CmdScenarioParams)

	_, err := r.ReadController(context.Background(), true)
	if !errors.Is(err, ErrDiscoveryIncomplete) {
		t.Fatalf("error = %v, want ErrDiscoveryIncomplete", err)
	}
	if !strings.Contains(err.Error(), "Scenarios: 0/1") {
		t.Errorf("error %q lacks scenario progress", err)
	}
	if r.Stats().Timeouts != 1 {
		t.Errorf("Timeouts = %d, want 1", r.Stats().Timeouts)
	}
}

func TestReader_DiscoveryIncompleteWrapsTopLevelError(t *testing.T) {
	r, _ := newScriptedReader(t, ReaderOptions{
		CommandTimeout:   20 * time.Millisecond,
		LoadPollAttempts: 2,
		LoadPollInterval: time.Millisecond,
	}, CmdFloorNumbers)

	_, err := r.ReadController(context.Background(), true)
	if !errors.Is(err, ErrDiscoveryIncomplete) {
		t.Fatalf("error = %v, want ErrDiscoveryIncomplete", err)
	}
	if !errors.Is(err, ErrCommandTimeout) {
		t.Errorf("error = %v, want it to wrap ErrCommandTimeout", err)
	}
	if !strings.Contains(err.Error(), CmdFloorNumbers.String()) {
		t.Errorf("error %q does not name the failed command", err)
	}
}

func TestReader_ConcurrentSendCommandIsSingleFlight(t *testing.T) {
	r, vbox := newScriptedReader(t, ReaderOptions{CommandTimeout: 2 * time.Second})

	reqs := []ParamRequest{
		FloorNumbersRequest(),
		RoomNumbersRequest(),
		KeypadNumbersRequest(),
		ACNumbersRequest(),
		ScenarioNumbersRequest(),
	}
	errs := make(chan error, len(reqs))
	var wg sync.WaitGroup
	for _, req := range reqs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- r.SendCommand(context.Background(), req)
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("SendCommand() error: %v", err)
		}
	}
	if vbox.overlapped.Load() {
		t.Error("more than one request was in flight")
	}
	if n := len(vbox.sentCommands()); n != 11 {
		t.Errorf("sent %d requests, want 11", n)
	}
	if st := r.Stats(); st.Responses != 11 || st.Timeouts != 0 {
		t.Errorf("Stats() = %+v", st)
	}
	if !r.Catalog().IsLoaded() {
		t.Errorf("catalog not loaded: %s", r.Catalog().Progress())
	}
}

func TestReader_SendCommandTimeout(t *testing.T) {
	r := NewReader(func([]byte) bool { return true }, ReaderOptions{CommandTimeout: 20 * time.Millisecond})

	err := r.SendCommand(context.Background(), FloorNumbersRequest())
	if !errors.Is(err, ErrCommandTimeout) {
		t.Fatalf("error = %v, want ErrCommandTimeout", err)
	}
	// The slot is free again.
	if err := r.Feed(responseFrame(CmdFloorNumbers, []byte{0})); !errors.Is(err, ErrNoPendingRequest) {
		t.Errorf("late Feed() error = %v, want ErrNoPendingRequest", err)
	}
}

func TestReader_SendFailed(t *testing.T) {
	r := NewReader(func([]byte) bool { return false }, ReaderOptions{})

	if err := r.SendCommand(context.Background(), ACNumbersRequest()); !errors.Is(err, ErrSendFailed) {
		t.Errorf("error = %v, want ErrSendFailed", err)
	}
}

func TestReader_FeedWithoutPending(t *testing.T) {
	r := NewReader(func([]byte) bool { return true }, ReaderOptions{})

	if err := r.Feed(responseFrame(CmdFloorNumbers, []byte{0})); !errors.Is(err, ErrNoPendingRequest) {
		t.Errorf("error = %v, want ErrNoPendingRequest", err)
	}
	if r.Stats().Discarded != 1 {
		t.Errorf("Discarded = %d, want 1", r.Stats().Discarded)
	}
}

func TestReader_FeedWrongCommandKeepsWaiting(t *testing.T) {
	written := make(chan struct{}, 1)
	r := NewReader(func([]byte) bool {
		written <- struct{}{}
		return true
	}, ReaderOptions{CommandTimeout: 2 * time.Second})

	done := make(chan error, 1)
	go func() { done <- r.SendCommand(context.Background(), FloorNumbersRequest()) }()
	<-written

	if err := r.Feed(responseFrame(CmdRoomNumbers, []byte{0})); !errors.Is(err, ErrCommandMismatch) {
		t.Fatalf("mismatched Feed() error = %v, want ErrCommandMismatch", err)
	}
	if err := r.Feed(responseFrame(CmdFloorNumbers, []byte{0})); err != nil {
		t.Fatalf("Feed() error: %v", err)
	}
	if err := <-done; err != nil {
		t.Errorf("SendCommand() error: %v", err)
	}
	if got := r.Catalog().Announced().Floors; got != 0 {
		t.Errorf("announced floors = %d, want 0", got)
	}
}

func TestReader_FeedInvalidFrameResolvesWithError(t *testing.T) {
	written := make(chan struct{}, 1)
	r := NewReader(func([]byte) bool {
		written <- struct{}{}
		return true
	}, ReaderOptions{CommandTimeout: 2 * time.Second})

	done := make(chan error, 1)
	go func() { done <- r.SendCommand(context.Background(), FloorNumbersRequest()) }()
	<-written

	frame := responseFrame(CmdFloorNumbers, []byte{0})
	frame[len(frame)-1]++
	if err := r.Feed(frame); !errors.Is(err, ErrBadChecksum) {
		t.Fatalf("Feed() error = %v, want ErrBadChecksum", err)
	}
	if err := <-done; !errors.Is(err, ErrBadChecksum) {
		t.Errorf("SendCommand() error = %v, want ErrBadChecksum", err)
	}
}

func TestReader_ContextCancelled(t *testing.T) {
	r := NewReader(func([]byte) bool { return true }, ReaderOptions{CommandTimeout: time.Minute})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := r.SendCommand(ctx, FloorNumbersRequest()); !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}
