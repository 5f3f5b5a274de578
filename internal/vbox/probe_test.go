package vbox

import (
	"context"
	"net"
	"testing"
	"time"
)

func probeFake(t *testing.T, version string, auth bool) *fakeVBox {
	return newFakeVBox(t, func(conn net.Conn, frame []byte) {
		switch string(frame) {
		case "P:VITREA\r\n":
			if auth {
				conn.Write([]byte("S:PSW:OK\r\n"))
			} else {
				conn.Write([]byte("E:1:bad password\r\n"))
			}
		case "G:V:S\r\n":
			conn.Write([]byte("T:30:14:18:10:2026:1\r\nV:" + version + "\r\n"))
		}
	})
}

func probe(t *testing.T, fake *fakeVBox) AvailabilityResult {
	t.Helper()
	cfg := fake.config()
	return ValidateAvailability(context.Background(), cfg.Host, cfg.Port, ProbeOptions{Timeout: 2 * time.Second})
}

func TestValidateAvailability(t *testing.T) {
	tests := []struct {
		version   string
		supported bool
		led       bool
		upgrade   bool
		reason    string
	}{
		{"866", true, false, true, ""},
		{"865", false, false, false, ProbeUnsupportedVersion},
		{"900", true, true, false, ""},
		{"012", true, true, false, ""},
		{"750", false, false, false, ProbeUnsupportedVersion},
	}
	for _, tt := range tests {
		t.Run(tt.version, func(t *testing.T) {
			res := probe(t, probeFake(t, tt.version, true))
			if res.Supported != tt.supported {
				t.Errorf("Supported = %v, want %v", res.Supported, tt.supported)
			}
			if res.SupportsLEDCommands != tt.led {
				t.Errorf("SupportsLEDCommands = %v, want %v", res.SupportsLEDCommands, tt.led)
			}
			if res.UpgradeRecommended != tt.upgrade {
				t.Errorf("UpgradeRecommended = %v, want %v", res.UpgradeRecommended, tt.upgrade)
			}
			if res.Reason != tt.reason {
				t.Errorf("Reason = %q, want %q", res.Reason, tt.reason)
			}
			if res.Version == "" {
				t.Error("Version not reported")
			}
		})
	}
}

func TestValidateAvailability_AuthFailed(t *testing.T) {
	res := probe(t, probeFake(t, "900", false))
	if res.Supported || res.Reason != ProbeAuthFailed {
		t.Errorf("result = %+v, want auth_failed", res)
	}
}

func TestValidateAvailability_ConnectionError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	res := ValidateAvailability(context.Background(), "127.0.0.1", port, ProbeOptions{Timeout: time.Second})
	if res.Supported || res.Reason != ProbeConnectionError {
		t.Errorf("result = %+v, want connection_error", res)
	}
}

func TestValidateAvailability_NoVersionReply(t *testing.T) {
	fake := newFakeVBox(t, ackKeepAlive)
	cfg := fake.config()
	res := ValidateAvailability(context.Background(), cfg.Host, cfg.Port, ProbeOptions{Timeout: 100 * time.Millisecond})
	if res.Supported {
		t.Errorf("result = %+v, want unsupported", res)
	}
}

func TestVersionSupported(t *testing.T) {
	tests := []struct {
		v    Version
		want bool
	}{
		{Version{0, 0}, true},
		{Version{8, 66}, true},
		{Version{8, 99}, true},
		{Version{8, 65}, false},
		{Version{9, 0}, true},
		{Version{7, 199}, false},
		{Version{7, 200}, true},
	}
	for _, tt := range tests {
		if got := VersionSupported(tt.v); got != tt.want {
			t.Errorf("VersionSupported(%v) = %v, want %v", tt.v, got, tt.want)
		}
	}
}
