package statestore

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "state.bolt"))
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutAndGet(t *testing.T) {
	s := newTestStore(t)
	at := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

	st := DeviceState{
		DeviceID:  "N005-2",
		Kind:      "node_status",
		State:     map[string]any{"on": true, "params": "080"},
		UpdatedAt: at,
	}
	if err := s.Put(st); err != nil {
		t.Fatalf("Put() error: %v", err)
	}

	got, err := s.Get("N005-2")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.Kind != "node_status" || got.State["on"] != true || got.State["params"] != "080" {
		t.Errorf("Get() = %+v", got)
	}
	if !got.UpdatedAt.Equal(at) {
		t.Errorf("UpdatedAt = %v, want %v", got.UpdatedAt, at)
	}
}

func TestPutReplaces(t *testing.T) {
	s := newTestStore(t)

	s.Put(DeviceState{DeviceID: "A003", State: map[string]any{"set_temperature": 22.0}})
	s.Put(DeviceState{DeviceID: "A003", State: map[string]any{"set_temperature": 24.0}})

	got, err := s.Get("A003")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.State["set_temperature"] != 24.0 {
		t.Errorf("set_temperature = %v, want 24", got.State["set_temperature"])
	}
}

func TestGetNotFound(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.Get("R0001"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestPutRequiresDeviceID(t *testing.T) {
	s := newTestStore(t)

	if err := s.Put(DeviceState{}); err == nil {
		t.Error("Put() without device id succeeded")
	}
}

func TestListOrdered(t *testing.T) {
	s := newTestStore(t)
	for _, id := range []string{"R0012", "A003", "N005-2"} {
		if err := s.Put(DeviceState{DeviceID: id}); err != nil {
			t.Fatalf("Put(%s) error: %v", id, err)
		}
	}

	states, err := s.List()
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	want := []string{"A003", "N005-2", "R0012"}
	if len(states) != len(want) {
		t.Fatalf("List() returned %d states, want %d", len(states), len(want))
	}
	for i, id := range want {
		if states[i].DeviceID != id {
			t.Errorf("states[%d] = %s, want %s", i, states[i].DeviceID, id)
		}
	}
}

func TestDelete(t *testing.T) {
	s := newTestStore(t)
	s.Put(DeviceState{DeviceID: "C"})

	if err := s.Delete("C"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if _, err := s.Get("C"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() after Delete() error = %v, want ErrNotFound", err)
	}
	if err := s.Delete("C"); err != nil {
		t.Errorf("second Delete() error: %v", err)
	}
}

func TestReopenKeepsState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.bolt")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	s.Put(DeviceState{DeviceID: "O001", Kind: "output_status"})
	if s.Path() != path {
		t.Errorf("Path() = %q, want %q", s.Path(), path)
	}
	s.Close()

	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	defer s.Close()
	if got, err := s.Get("O001"); err != nil || got.Kind != "output_status" {
		t.Errorf("Get() after reopen = %+v, %v", got, err)
	}
}
