package vbox

import (
	"errors"
	"fmt"
)

// Transport and lifecycle errors.
var (
	// ErrConnectionFailed indicates the TCP connection could not be opened.
	ErrConnectionFailed = errors.New("vbox: connection failed")

	// ErrConnectionClosed indicates the gateway closed the stream.
	ErrConnectionClosed = errors.New("vbox: connection closed by gateway")

	// ErrLivenessTimeout indicates nothing was received within the liveness window.
	ErrLivenessTimeout = errors.New("vbox: no data received within liveness timeout")
)

// Framing errors. All of them wrap ErrFraming so callers can test the class
// with errors.Is(err, ErrFraming).
var (
	// ErrFraming is the parent of every frame validation failure.
	ErrFraming = errors.New("vbox: framing error")

	// ErrBadChecksum indicates the trailing checksum byte does not match.
	ErrBadChecksum = fmt.Errorf("%w: checksum mismatch", ErrFraming)

	// ErrBadHeader indicates the frame does not start with the VTH< marker.
	ErrBadHeader = fmt.Errorf("%w: invalid header", ErrFraming)

	// ErrCommandMismatch indicates the frame carries a different command number
	// than the one being awaited.
	ErrCommandMismatch = fmt.Errorf("%w: unexpected command number", ErrFraming)

	// ErrLengthMismatch indicates the declared length disagrees with the frame.
	ErrLengthMismatch = fmt.Errorf("%w: declared length mismatch", ErrFraming)

	// ErrNameLength indicates a name field's byte count is inconsistent.
	ErrNameLength = fmt.Errorf("%w: name length mismatch", ErrFraming)

	// ErrFrameTooShort indicates a frame or payload is truncated.
	ErrFrameTooShort = fmt.Errorf("%w: frame too short", ErrFraming)

	// ErrLineTooLong indicates an ASCII line exceeded the maximum length
	// without a CRLF terminator.
	ErrLineTooLong = fmt.Errorf("%w: line too long", ErrFraming)
)

// Parsing, command and discovery errors.
var (
	// ErrMalformedResponse indicates an ASCII response could not be parsed.
	ErrMalformedResponse = errors.New("vbox: malformed response")

	// ErrInvalidCommand indicates command parameters are out of range.
	ErrInvalidCommand = errors.New("vbox: invalid command parameters")

	// ErrCommandTimeout indicates a discovery command got no response in time.
	ErrCommandTimeout = errors.New("vbox: discovery command timed out")

	// ErrSendFailed indicates a discovery command could not be handed to the connection.
	ErrSendFailed = errors.New("vbox: send failed")

	// ErrNoPendingRequest indicates a parameter frame arrived while nothing was awaited.
	ErrNoPendingRequest = errors.New("vbox: no pending discovery request")

	// ErrDiscoveryIncomplete indicates the catalog did not fully load in time.
	ErrDiscoveryIncomplete = errors.New("vbox: database read incomplete")
)

// Gateway error kinds, reported by the VBox as "E:{code}:{message}".
var (
	// ErrGateway matches every GatewayError; it is also the kind of unknown codes.
	ErrGateway = errors.New("vbox: gateway error")

	ErrWrongCommand    = errors.New("vbox: wrong command")
	ErrWrongNodeNumber = errors.New("vbox: wrong node number")
	ErrWrongKeyNumber  = errors.New("vbox: wrong key number")
	ErrWrongInput      = errors.New("vbox: wrong input")
	ErrWrongScenario   = errors.New("vbox: wrong scenario")
	ErrNodeNotFound    = errors.New("vbox: node not found")
)

// gatewayErrorKinds maps VBox error codes to their kind.
var gatewayErrorKinds = map[int]error{
	1: ErrWrongCommand,
	2: ErrWrongNodeNumber,
	3: ErrWrongKeyNumber,
	4: ErrWrongInput,
	5: ErrWrongScenario,
	6: ErrNodeNotFound,
}

// GatewayError is a command rejection reported by the VBox.
//
// It matches its kind with errors.Is (e.g. errors.Is(err, ErrWrongKeyNumber))
// and always matches ErrGateway.
type GatewayError struct {
	// Code is the numeric code sent by the gateway, 0 if it was not numeric.
	Code int

	// Message is the gateway's message with surrounding whitespace removed.
	Message string

	kind error
}

// NewGatewayError builds a GatewayError for the given code.
// Codes outside 1-6 get the generic ErrGateway kind.
func NewGatewayError(code int, message string) *GatewayError {
	kind, ok := gatewayErrorKinds[code]
	if !ok {
		kind = ErrGateway
	}
	return &GatewayError{Code: code, Message: message, kind: kind}
}

// Kind returns the sentinel error describing the rejection.
func (e *GatewayError) Kind() error {
	if e.kind == nil {
		return ErrGateway
	}
	return e.kind
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("%v (code %d): %s", e.Kind(), e.Code, e.Message)
}

// Is reports whether target is this error's kind or ErrGateway.
func (e *GatewayError) Is(target error) bool {
	return target == ErrGateway || target == e.Kind()
}
