package vitrea

import (
	"errors"
	"testing"

	"github.com/nerrad567/vitrea-gateway/internal/vbox"
)

func TestParseDeviceID(t *testing.T) {
	tests := []struct {
		in   string
		want DeviceRef
		str  string
	}{
		{"N005-2", DeviceRef{Kind: DeviceKey, ID: 5, Key: 2}, "N005-2"},
		{"N5-2", DeviceRef{Kind: DeviceKey, ID: 5, Key: 2}, "N005-2"},
		{"A003", DeviceRef{Kind: DeviceAC, ID: 3}, "A003"},
		{"R12", DeviceRef{Kind: DeviceScenario, ID: 12}, "R0012"},
		{"O001", DeviceRef{Kind: DeviceOutput, ID: 1}, "O001"},
		{"I004", DeviceRef{Kind: DeviceInput, ID: 4}, "I004"},
		{"C", DeviceRef{Kind: DeviceOccupancy}, "C"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDeviceID(tt.in)
			if err != nil {
				t.Fatalf("ParseDeviceID(%q) error: %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseDeviceID(%q) = %+v, want %+v", tt.in, got, tt.want)
			}
			if got.String() != tt.str {
				t.Errorf("String() = %q, want %q", got.String(), tt.str)
			}
		})
	}
}

func TestParseDeviceID_Invalid(t *testing.T) {
	for _, in := range []string{"", "X001", "N005", "N005-", "N-1", "A", "A0x3", "R-1", "C1", "N005-2-3"} {
		if _, err := ParseDeviceID(in); !errors.Is(err, ErrInvalidDeviceID) {
			t.Errorf("ParseDeviceID(%q) error = %v, want ErrInvalidDeviceID", in, err)
		}
	}
}

func TestDeviceRef_KnownTo(t *testing.T) {
	cat := testCatalog()
	tests := []struct {
		id   string
		want bool
	}{
		{"N005-2", true},
		{"N005-1", false},
		{"A003", true},
		{"A004", false},
		{"R0012", true},
		{"R0001", false},
		{"O001", true},
		{"C", true},
	}
	for _, tt := range tests {
		ref, err := ParseDeviceID(tt.id)
		if err != nil {
			t.Fatalf("ParseDeviceID(%q) error: %v", tt.id, err)
		}
		if got := ref.knownTo(cat); got != tt.want {
			t.Errorf("knownTo(%s) = %v, want %v", tt.id, got, tt.want)
		}
		if !ref.knownTo(nil) {
			t.Errorf("knownTo(nil) for %s = false", tt.id)
		}
	}
}

func TestDeviceRef_KnownToPartialCatalog(t *testing.T) {
	cat := testCatalog()
	cat.SetCount(vbox.CmdScenarioNumbers, 2)
	if cat.IsLoaded() {
		t.Fatal("catalog loaded with a scenario missing")
	}

	for _, id := range []string{"R0001", "A004", "N005-1"} {
		ref, err := ParseDeviceID(id)
		if err != nil {
			t.Fatalf("ParseDeviceID(%q) error: %v", id, err)
		}
		if !ref.knownTo(cat) {
			t.Errorf("knownTo(%s) on partial catalog = false, want true", id)
		}
	}
}
