package vitrea

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/nerrad567/vitrea-gateway/internal/vbox"
)

// DeviceKind is the leading letter of a device identifier.
type DeviceKind byte

const (
	DeviceKey       DeviceKind = 'N'
	DeviceAC        DeviceKind = 'A'
	DeviceScenario  DeviceKind = 'R'
	DeviceOutput    DeviceKind = 'O'
	DeviceInput     DeviceKind = 'I'
	DeviceOccupancy DeviceKind = 'C'
)

// DeviceRef is a parsed device identifier.
type DeviceRef struct {
	Kind DeviceKind
	ID   int

	// Key is the key number within a keypad node; only set for DeviceKey.
	Key int
}

// ParseDeviceID parses identifiers such as "N005-2", "A003", "R0012",
// "O001", "I004" and "C".
func ParseDeviceID(s string) (DeviceRef, error) {
	if s == "" {
		return DeviceRef{}, fmt.Errorf("%w: empty", ErrInvalidDeviceID)
	}
	kind := DeviceKind(s[0])
	rest := s[1:]

	switch kind {
	case DeviceOccupancy:
		if rest != "" {
			return DeviceRef{}, fmt.Errorf("%w: %q", ErrInvalidDeviceID, s)
		}
		return DeviceRef{Kind: kind}, nil
	case DeviceKey:
		node, key, ok := strings.Cut(rest, "-")
		if !ok {
			return DeviceRef{}, fmt.Errorf("%w: %q has no key number", ErrInvalidDeviceID, s)
		}
		n, err := parseNumber(node)
		if err != nil {
			return DeviceRef{}, fmt.Errorf("%w: %q: %w", ErrInvalidDeviceID, s, err)
		}
		k, err := parseNumber(key)
		if err != nil {
			return DeviceRef{}, fmt.Errorf("%w: %q: %w", ErrInvalidDeviceID, s, err)
		}
		return DeviceRef{Kind: kind, ID: n, Key: k}, nil
	case DeviceAC, DeviceScenario, DeviceOutput, DeviceInput:
		n, err := parseNumber(rest)
		if err != nil {
			return DeviceRef{}, fmt.Errorf("%w: %q: %w", ErrInvalidDeviceID, s, err)
		}
		return DeviceRef{Kind: kind, ID: n}, nil
	default:
		return DeviceRef{}, fmt.Errorf("%w: unknown prefix in %q", ErrInvalidDeviceID, s)
	}
}

func parseNumber(s string) (int, error) {
	if s == "" || strings.TrimLeft(s, "0123456789") != "" {
		return 0, fmt.Errorf("not a number: %q", s)
	}
	return strconv.Atoi(s)
}

// String returns the canonical identifier, zero padded the way the VBox
// reports it.
func (d DeviceRef) String() string {
	switch d.Kind {
	case DeviceKey:
		return vbox.KeyDeviceID(d.ID, d.Key)
	case DeviceScenario:
		return fmt.Sprintf("R%04d", d.ID)
	case DeviceOccupancy:
		return "C"
	default:
		return fmt.Sprintf("%c%03d", d.Kind, d.ID)
	}
}

// knownTo reports whether a loaded catalog lists the device. Kinds the
// catalog does not describe (outputs, inputs, occupancy) are always known.
func (d DeviceRef) knownTo(cat *vbox.Catalog) bool {
	if cat == nil || !cat.IsLoaded() {
		return true
	}
	var ok bool
	switch d.Kind {
	case DeviceKey:
		_, ok = cat.Key(d.ID, d.Key)
	case DeviceAC:
		_, ok = cat.AirConditioner(d.ID)
	case DeviceScenario:
		_, ok = cat.Scenario(d.ID)
	default:
		ok = true
	}
	return ok
}
