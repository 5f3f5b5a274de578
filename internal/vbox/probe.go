package vbox

import (
	"context"
	"errors"
	"net"
	"strconv"
	"time"
)

// Probe failure reasons.
const (
	ProbeAuthFailed         = "auth_failed"
	ProbeUnsupportedVersion = "unsupported_version"
	ProbeConnectionError    = "connection_error"
)

const (
	defaultProbeTimeout = 5 * time.Second
	probeMaxReplies     = 3

	// unlistedMinimumMinor applies to majors missing from MinimumVersions,
	// which makes them unsupported.
	unlistedMinimumMinor = 200
)

// MinimumVersions maps a firmware major version to its minimum minor.
var MinimumVersions = map[int]int{
	0: 0,
	8: 66,
	9: 0,
}

// AvailabilityResult is the outcome of ValidateAvailability.
type AvailabilityResult struct {
	Supported           bool   `json:"supported"`
	Reason              string `json:"reason,omitempty"`
	Version             string `json:"version,omitempty"`
	SupportsLEDCommands bool   `json:"supports_led_commands"`
	UpgradeRecommended  bool   `json:"upgrade_recommended"`
}

// ProbeOptions tunes ValidateAvailability.
type ProbeOptions struct {
	// Timeout bounds the whole probe. Default: 5s.
	Timeout time.Duration

	// Dial replaces the TCP dialer, mainly for tests.
	Dial DialFunc
}

// VersionSupported reports whether firmware v is supported.
func VersionSupported(v Version) bool {
	minimum, ok := MinimumVersions[v.Major]
	if !ok {
		minimum = unlistedMinimumMinor
	}
	return v.Minor >= minimum
}

// SupportsLEDCommands reports whether firmware v accepts LED commands.
func SupportsLEDCommands(v Version) bool {
	return v.Major >= 9 || v.Major < 1
}

// ValidateAvailability checks, on a short-lived connection of its own,
// that a VBox answers at host:port, accepts the password and runs a
// supported firmware.
//
// It never returns an error: failures are reported in the result's Reason.
func ValidateAvailability(ctx context.Context, host string, port int, opts ProbeOptions) AvailabilityResult {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultProbeTimeout
	}
	dial := opts.Dial
	if dial == nil {
		var d net.Dialer
		dial = d.DialContext
	}

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	conn, err := dial(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return AvailabilityResult{Reason: ProbeConnectionError}
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	fr := NewFrameReader(conn)

	if _, err := conn.Write(Authenticate()); err != nil {
		return AvailabilityResult{Reason: ProbeConnectionError}
	}
	events, err := readProbeReply(fr)
	if err != nil {
		return AvailabilityResult{Reason: ProbeConnectionError}
	}
	if len(events) == 0 || events[0].Kind != EventAcknowledgment {
		return AvailabilityResult{Reason: ProbeAuthFailed}
	}

	if _, err := conn.Write(GetVersion()); err != nil {
		return AvailabilityResult{Reason: ProbeConnectionError}
	}
	for range probeMaxReplies {
		events, err := readProbeReply(fr)
		if err != nil {
			return AvailabilityResult{Reason: ProbeConnectionError}
		}
		for _, ev := range events {
			if ev.Kind != EventVersion || ev.Version == nil {
				continue
			}
			v := *ev.Version
			res := AvailabilityResult{
				Supported:           VersionSupported(v),
				Version:             v.String(),
				SupportsLEDCommands: SupportsLEDCommands(v),
			}
			if !res.Supported {
				res.Reason = ProbeUnsupportedVersion
			}
			res.UpgradeRecommended = res.Supported && v.Major >= 1 && v.Major < 9
			return res
		}
	}
	return AvailabilityResult{Reason: ProbeUnsupportedVersion}
}

// readProbeReply reads the next non-echo frame and parses it.
func readProbeReply(fr *FrameReader) ([]Event, error) {
	for {
		frame, err := fr.ReadFrame()
		if err != nil {
			return nil, err
		}
		kind := ClassifyFrame(frame)
		if kind.IsEcho() {
			continue
		}
		if kind == FrameParamResponse {
			return nil, errors.New("unexpected parameter frame")
		}
		return ParseResponse(frame), nil
	}
}
