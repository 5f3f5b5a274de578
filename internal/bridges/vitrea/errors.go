package vitrea

import "errors"

// Domain errors for the Vitrea bridge.
var (
	// ErrInvalidDeviceID is returned when a device identifier is malformed.
	ErrInvalidDeviceID = errors.New("vitrea: invalid device id")

	// ErrUnsupportedCommand is returned when a command does not apply to
	// the addressed device.
	ErrUnsupportedCommand = errors.New("vitrea: unsupported command")

	// ErrInvalidParameters is returned when command parameters are missing
	// or out of range.
	ErrInvalidParameters = errors.New("vitrea: invalid parameters")

	// ErrNotConfigured is returned when the catalog is loaded and does not
	// contain the addressed device.
	ErrNotConfigured = errors.New("vitrea: device not configured")

	// ErrSendFailed is returned when the controller could not queue a command.
	ErrSendFailed = errors.New("vitrea: command send failed")
)
