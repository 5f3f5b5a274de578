package vbox

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// replacementChar marks a field the VBox sent as invalid bytes.
const replacementChar = "�"

// Defaults used when the VBox reports an AC field as unavailable.
const defaultACTemperature = 25

// EventKind is the closed set of ASCII messages a VBox sends.
type EventKind int

const (
	EventError EventKind = iota
	EventParseError
	EventAcknowledgment
	EventNodeStatus
	EventScenarioStatus
	EventACStatus
	EventOutputStatus
	EventInputStatus
	EventOccupancyStatus
	EventClock
	EventVersion

	// EventConnection is synthesised locally when the session goes up or down.
	EventConnection
)

var eventKindNames = [...]string{
	EventError:           "error",
	EventParseError:      "parse_error",
	EventAcknowledgment:  "acknowledgment",
	EventNodeStatus:      "node_status",
	EventScenarioStatus:  "scenario_status",
	EventACStatus:        "ac_status",
	EventOutputStatus:    "output_status",
	EventInputStatus:     "input_status",
	EventOccupancyStatus: "occupancy_status",
	EventClock:           "controller_clock",
	EventVersion:         "version",
	EventConnection:      "connection",
}

func (k EventKind) String() string {
	if k < 0 || int(k) >= len(eventKindNames) {
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
	return eventKindNames[k]
}

// IsStatus reports whether events of this kind describe device state and
// are forwarded to subscribers.
func (k EventKind) IsStatus() bool {
	switch k {
	case EventNodeStatus, EventScenarioStatus, EventACStatus,
		EventOutputStatus, EventInputStatus, EventOccupancyStatus:
		return true
	default:
		return false
	}
}

// Acknowledgment subtypes.
const (
	SubtypeActionExecuted = "action_executed"
	SubtypeKeepAliveAck   = "keep_alive_acknowledgment"
)

// nodeSubtypes maps the node status code to its subtype.
var nodeSubtypes = map[string]string{
	"O": "toggle_on",
	"o": "toggle_on",
	"F": "toggle_off",
	"f": "toggle_off",
	"D": "dimmer_intensity",
	"B": "blind_location",
	"S": "satellite_key_short",
	"L": "satellite_key_long",
	"R": "satellite_key_release",
	"M": "fan",
	"d": "hotel_dnd",
	"r": "hotel_ring",
}

// ACState is the decoded parameter block of an AC status event.
type ACState struct {
	Mode                ThermostatMode `json:"mode"`
	Fan                 FanSpeed       `json:"fan_speed"`
	SetTemperature      int            `json:"set_temperature"`
	MeasuredTemperature int            `json:"measured_temperature"`
	Type                ACType         `json:"thermostat_type"`
	Relay               bool           `json:"relay_state"`
	TempMode            TempMode       `json:"temperature_mode"`
}

// ClockReading is the VBox wall clock as reported by a T: message.
type ClockReading struct {
	Minute  int `json:"minute"`
	Hour    int `json:"hour"`
	Day     int `json:"day"`
	Month   int `json:"month"`
	Year    int `json:"year"`
	Weekday int `json:"weekday"`
}

// Version is a VBox firmware version.
type Version struct {
	Major int `json:"major"`
	Minor int `json:"minor"`
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// Event is one parsed message from the VBox.
//
// Which fields are set depends on Kind:
//   - EventNodeStatus: ID (node), Key, On, Subtype, Params
//   - EventScenarioStatus: ID, On (executed)
//   - EventACStatus: ID, Key, On, AC
//   - EventOutputStatus: ID, Subtype (status), Params
//   - EventInputStatus: ID, On (closed)
//   - EventOccupancyStatus: On (occupied)
//   - EventAcknowledgment: Subtype
//   - EventClock: Clock
//   - EventVersion: Version
//   - EventError, EventParseError: Err
//   - EventConnection: On (connected)
type Event struct {
	Kind     EventKind
	Subtype  string
	ID       int
	Key      int
	On       bool
	Params   string
	AC       *ACState
	Clock    *ClockReading
	Version  *Version
	Err      error
	Raw      string
	Received time.Time
}

// DeviceID returns the composite identifier subscribers filter on:
// "N005-2" for node keys, "A003" for ACs, "R0012" for scenarios,
// "O001" for outputs, "I004" for inputs and "C" for occupancy.
// Other kinds return "".
func (e Event) DeviceID() string {
	switch e.Kind {
	case EventNodeStatus:
		return KeyDeviceID(e.ID, e.Key)
	case EventACStatus:
		return fmt.Sprintf("A%03d", e.ID)
	case EventScenarioStatus:
		return fmt.Sprintf("R%04d", e.ID)
	case EventOutputStatus:
		return fmt.Sprintf("O%03d", e.ID)
	case EventInputStatus:
		return fmt.Sprintf("I%03d", e.ID)
	case EventOccupancyStatus:
		return "C"
	default:
		return ""
	}
}

// KeyDeviceID formats the identifier of a keypad key, e.g. "N005-2".
func KeyDeviceID(node, key int) string {
	return fmt.Sprintf("N%03d-%d", node, key)
}

// ParseResponse parses a chunk received from the VBox. The chunk may hold
// several CRLF-delimited messages; each becomes one Event. Invalid bytes
// are replaced with U+FFFD before parsing. It never fails: unparseable
// lines become EventParseError events.
func ParseResponse(data []byte) []Event {
	text := strings.ToValidUTF8(string(data), replacementChar)
	var events []Event
	for _, line := range strings.Split(text, "\r\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		ev, err := ParseLine(line)
		if err != nil {
			ev = Event{Kind: EventParseError, Err: err, Raw: line, Received: ev.Received}
		}
		events = append(events, ev)
	}
	return events
}

// ParseLine parses one ASCII message without its CRLF.
//
// A gateway error ("E:3:bad key") is not a parse failure: it returns an
// EventError event carrying a *GatewayError and a nil error.
//
// Returns:
//   - Event: The parsed event, with Raw and Received set
//   - error: Wrapping ErrMalformedResponse if the line cannot be parsed
func ParseLine(line string) (Event, error) {
	line = strings.TrimSpace(line)
	ev := Event{Raw: line, Received: time.Now()}

	if line == "OK" {
		ev.Kind = EventAcknowledgment
		ev.Subtype = SubtypeActionExecuted
		return ev, nil
	}

	parts := strings.Split(line, ":")
	if len(parts) < 2 {
		return ev, fmt.Errorf("%w: invalid format %q", ErrMalformedResponse, line)
	}

	var err error
	switch {
	case parts[0] == "E" || parts[0] == "ERROR":
		err = parseError(&ev, parts)
	case parts[0] == "T":
		err = parseClock(&ev, parts)
	case parts[0] == "V":
		err = parseVersion(&ev, parts)
	case parts[0] != "S":
		err = fmt.Errorf("%w: unknown prefix %q", ErrMalformedResponse, parts[0])
	case parts[1] == "PSW":
		err = parseKeepAliveAck(&ev, parts)
	case parts[1] == "C":
		err = parseOccupancy(&ev, parts)
	case strings.HasPrefix(parts[1], "N"):
		err = parseNodeStatus(&ev, parts)
	case strings.HasPrefix(parts[1], "R"):
		err = parseScenarioStatus(&ev, parts)
	case strings.HasPrefix(parts[1], "A"):
		err = parseACStatus(&ev, parts)
	case strings.HasPrefix(parts[1], "O"):
		err = parseOutputStatus(&ev, parts)
	case strings.HasPrefix(parts[1], "I"):
		err = parseInputStatus(&ev, parts)
	default:
		err = fmt.Errorf("%w: unknown status %q", ErrMalformedResponse, parts[1])
	}
	return ev, err
}

func malformed(kind EventKind, line string, reason string) error {
	return fmt.Errorf("%w: %v: %s: %q", ErrMalformedResponse, kind, reason, line)
}

// idField parses the number following the one-letter prefix of a field
// such as "N005" or "R0012".
func idField(field string) (int, error) {
	if len(field) < 2 {
		return 0, fmt.Errorf("missing id in %q", field)
	}
	return strconv.Atoi(field[1:])
}

func parseError(ev *Event, parts []string) error {
	ev.Kind = EventError
	if len(parts) != 3 {
		return malformed(EventError, ev.Raw, "expected E:code:message")
	}
	code, err := strconv.Atoi(parts[1])
	if err != nil {
		code = 0
	}
	ev.Err = NewGatewayError(code, strings.TrimSpace(parts[2]))
	return nil
}

func parseKeepAliveAck(ev *Event, parts []string) error {
	ev.Kind = EventAcknowledgment
	if len(parts) != 3 || parts[2] != "OK" {
		return malformed(EventAcknowledgment, ev.Raw, "expected S:PSW:OK")
	}
	ev.Subtype = SubtypeKeepAliveAck
	return nil
}

func parseOccupancy(ev *Event, parts []string) error {
	ev.Kind = EventOccupancyStatus
	if len(parts) != 3 {
		return malformed(EventOccupancyStatus, ev.Raw, "expected S:C:0|1")
	}
	ev.On = parts[2] == "1"
	return nil
}

func parseNodeStatus(ev *Event, parts []string) error {
	ev.Kind = EventNodeStatus
	if len(parts) < 4 {
		return malformed(EventNodeStatus, ev.Raw, "incomplete status")
	}
	node, err := idField(parts[1])
	if err != nil {
		return malformed(EventNodeStatus, ev.Raw, err.Error())
	}
	key, err := strconv.Atoi(parts[2])
	if err != nil {
		return malformed(EventNodeStatus, ev.Raw, "bad key number")
	}
	ev.ID, ev.Key = node, key
	code := parts[3]
	ev.On = code == "O" || code == "o"
	if subtype, ok := nodeSubtypes[code]; ok {
		ev.Subtype = subtype
	} else {
		ev.Subtype = "unknown"
	}
	if len(parts) > 4 {
		ev.Params = parts[4]
	}
	return nil
}

func parseScenarioStatus(ev *Event, parts []string) error {
	ev.Kind = EventScenarioStatus
	if len(parts) != 3 {
		return malformed(EventScenarioStatus, ev.Raw, "incomplete scenario status")
	}
	id, err := idField(parts[1])
	if err != nil {
		return malformed(EventScenarioStatus, ev.Raw, err.Error())
	}
	ev.ID = id
	ev.On = parts[2] == "OK"
	return nil
}

// parseACStatus decodes S:Axxx:K:O|F:{mode}{fan}:{set}:{measured}:{type}:{relay}:{tempMode}.
// Fields containing U+FFFD or missing from the tail fall back to
// AUTO/AUTO, 25 degrees and NA.
func parseACStatus(ev *Event, parts []string) error {
	ev.Kind = EventACStatus
	if len(parts) < 4 {
		return malformed(EventACStatus, ev.Raw, "incomplete AC status")
	}
	id, err := idField(parts[1])
	if err != nil {
		return malformed(EventACStatus, ev.Raw, err.Error())
	}
	ev.ID = id
	if key, err := strconv.Atoi(parts[2]); err == nil {
		ev.Key = key
	}
	ev.On = parts[3] == "O"

	param := func(i int) (string, bool) {
		i += 4
		if i >= len(parts) || strings.Contains(parts[i], replacementChar) {
			return "", false
		}
		return parts[i], true
	}

	state := &ACState{
		Mode:                ModeAuto,
		Fan:                 FanAuto,
		SetTemperature:      defaultACTemperature,
		MeasuredTemperature: defaultACTemperature,
		TempMode:            TempNA,
	}
	if mf, ok := param(0); ok {
		if len(mf) < 2 || !acDigit(mf[0], byte(ModeAuto)) || !acDigit(mf[1], byte(FanAuto)) {
			return malformed(EventACStatus, ev.Raw, "bad mode/fan field")
		}
		state.Mode = ThermostatMode(mf[0] - '0')
		state.Fan = FanSpeed(mf[1] - '0')
	}
	for i, dst := range []*int{&state.SetTemperature, &state.MeasuredTemperature} {
		if s, ok := param(1 + i); ok {
			v, err := strconv.Atoi(s)
			if err != nil {
				return malformed(EventACStatus, ev.Raw, "bad temperature")
			}
			*dst = v
		}
	}
	if s, ok := param(3); ok {
		v, err := strconv.Atoi(s)
		if err != nil {
			return malformed(EventACStatus, ev.Raw, "bad AC type")
		}
		state.Type = ACType(v)
	}
	if s, ok := param(4); ok {
		state.Relay = s == "O"
	}
	if s, ok := param(5); ok {
		v, err := strconv.Atoi(s)
		if err != nil {
			return malformed(EventACStatus, ev.Raw, "bad temperature mode")
		}
		state.TempMode = TempMode(v)
	}
	ev.AC = state
	return nil
}

// acDigit reports whether b is a decimal digit between 0 and hi.
func acDigit(b, hi byte) bool {
	return b >= '0' && b <= '0'+hi
}

func parseOutputStatus(ev *Event, parts []string) error {
	ev.Kind = EventOutputStatus
	if len(parts) < 4 {
		return malformed(EventOutputStatus, ev.Raw, "incomplete output status")
	}
	id, err := idField(parts[1])
	if err != nil {
		return malformed(EventOutputStatus, ev.Raw, err.Error())
	}
	ev.ID = id
	ev.Subtype = parts[2]
	ev.Params = parts[3]
	return nil
}

func parseInputStatus(ev *Event, parts []string) error {
	ev.Kind = EventInputStatus
	if len(parts) != 3 {
		return malformed(EventInputStatus, ev.Raw, "incomplete input status")
	}
	id, err := idField(parts[1])
	if err != nil {
		return malformed(EventInputStatus, ev.Raw, err.Error())
	}
	ev.ID = id
	switch parts[2] {
	case "C":
		ev.On = true
	case "O":
		ev.On = false
	default:
		return malformed(EventInputStatus, ev.Raw, "unexpected input state")
	}
	return nil
}

// parseClock decodes T:mm:hh:dd:MM:yyyy:w.
func parseClock(ev *Event, parts []string) error {
	ev.Kind = EventClock
	if len(parts) != 7 {
		return malformed(EventClock, ev.Raw, "expected 7 fields")
	}
	var vals [6]int
	for i := range vals {
		v, err := strconv.Atoi(parts[i+1])
		if err != nil {
			return malformed(EventClock, ev.Raw, "non-numeric field")
		}
		vals[i] = v
	}
	ev.Clock = &ClockReading{
		Minute: vals[0], Hour: vals[1], Day: vals[2],
		Month: vals[3], Year: vals[4], Weekday: vals[5],
	}
	return nil
}

// parseVersion decodes V:866 as major 8, minor 66.
func parseVersion(ev *Event, parts []string) error {
	ev.Kind = EventVersion
	v := parts[1]
	if len(v) < 2 {
		return malformed(EventVersion, ev.Raw, "version too short")
	}
	major, err := strconv.Atoi(v[:1])
	if err != nil {
		return malformed(EventVersion, ev.Raw, "bad major version")
	}
	minor, err := strconv.Atoi(v[1:])
	if err != nil {
		return malformed(EventVersion, ev.Raw, "bad minor version")
	}
	ev.Version = &Version{Major: major, Minor: minor}
	return nil
}
