package vbox

import "fmt"

// Valid ranges for command parameters.
const (
	maxNode       = 999
	maxKey        = 9
	maxDuration   = 120
	maxPercent    = 100
	maxScenario   = 9999
	maxSetpoint   = 999
	maxFanLevel   = int(FanLevelMax)
	maxIOTerminal = 999
)

// Dimmer special values.
const (
	dimmerStop   = 255
	dimmerRecall = 254
)

// Blind special values.
const blindStop = 255

// Thermostat parameter command types, sent after "H:Axxx:".
const (
	thermostatFull        = 1
	thermostatState       = 2
	thermostatMode        = 3
	thermostatFan         = 4
	thermostatSetpoint    = 5
	thermostatRaise       = 6
	thermostatLower       = 7
	thermostatTempUnitCmd = 8
)

func command(format string, args ...any) []byte {
	return []byte(fmt.Sprintf(format, args...) + "\r\n")
}

func checkRange(name string, v, lo, hi int) error {
	if v < lo || v > hi {
		return fmt.Errorf("%w: %s %d out of range %d-%d", ErrInvalidCommand, name, v, lo, hi)
	}
	return nil
}

func checkNodeKey(node, key int) error {
	if err := checkRange("node", node, 0, maxNode); err != nil {
		return err
	}
	return checkRange("key", key, 0, maxKey)
}

// ToggleOn switches a key on, optionally for duration minutes (0 = latched).
func ToggleOn(node, key, duration int) ([]byte, error) {
	if err := checkNodeKey(node, key); err != nil {
		return nil, err
	}
	if err := checkRange("duration", duration, 0, maxDuration); err != nil {
		return nil, err
	}
	return command("H:N%03d:%d:O:%03d", node, key, duration), nil
}

// ToggleOff switches a key off.
func ToggleOff(node, key int) ([]byte, error) {
	if err := checkNodeKey(node, key); err != nil {
		return nil, err
	}
	return command("H:N%03d:%d:F", node, key), nil
}

// Toggle inverts a key.
func Toggle(node, key int) ([]byte, error) {
	if err := checkNodeKey(node, key); err != nil {
		return nil, err
	}
	return command("H:N%03d:%d:T", node, key), nil
}

// DimmerIntensity sets a dimmer to intensity percent over duration.
func DimmerIntensity(node, key, intensity, duration int) ([]byte, error) {
	if err := checkNodeKey(node, key); err != nil {
		return nil, err
	}
	if err := checkRange("intensity", intensity, 0, maxPercent); err != nil {
		return nil, err
	}
	if err := checkRange("duration", duration, 0, maxDuration); err != nil {
		return nil, err
	}
	return command("H:N%03d:%d:D:%03d:%03d", node, key, duration, intensity), nil
}

func DimmerUp(node, key int) ([]byte, error) {
	if err := checkNodeKey(node, key); err != nil {
		return nil, err
	}
	return command("H:N%03d:%d:D:100", node, key), nil
}

func DimmerDown(node, key int) ([]byte, error) {
	if err := checkNodeKey(node, key); err != nil {
		return nil, err
	}
	return command("H:N%03d:%d:D:000", node, key), nil
}

func DimmerStop(node, key int) ([]byte, error) {
	if err := checkNodeKey(node, key); err != nil {
		return nil, err
	}
	return command("H:N%03d:%d:D:000:%03d", node, key, dimmerStop), nil
}

// DimmerRecall restores the last intensity over duration.
func DimmerRecall(node, key, duration int) ([]byte, error) {
	if err := checkNodeKey(node, key); err != nil {
		return nil, err
	}
	if err := checkRange("duration", duration, 0, maxDuration); err != nil {
		return nil, err
	}
	return command("H:N%03d:%d:D:%03d:%03d", node, key, duration, dimmerRecall), nil
}

// BlindLocation moves a blind to position percent (100 = fully open).
func BlindLocation(node, key, position int) ([]byte, error) {
	if err := checkNodeKey(node, key); err != nil {
		return nil, err
	}
	if err := checkRange("position", position, 0, maxPercent); err != nil {
		return nil, err
	}
	return command("H:N%03d:%d:B:%03d", node, key, position), nil
}

func BlindUp(node, key int) ([]byte, error)   { return BlindLocation(node, key, maxPercent) }
func BlindDown(node, key int) ([]byte, error) { return BlindLocation(node, key, 0) }

func BlindStop(node, key int) ([]byte, error) {
	if err := checkNodeKey(node, key); err != nil {
		return nil, err
	}
	return command("H:N%03d:%d:B:%03d", node, key, blindStop), nil
}

// RunScenario executes a stored scenario.
func RunScenario(id int) ([]byte, error) {
	if err := checkRange("scenario", id, 0, maxScenario); err != nil {
		return nil, err
	}
	return command("H:R%04d", id), nil
}

func ThermostatOn(ac int) ([]byte, error) {
	if err := checkRange("ac", ac, 0, maxNode); err != nil {
		return nil, err
	}
	return command("H:A%03d:%d:O", ac, thermostatState), nil
}

func ThermostatOff(ac int) ([]byte, error) {
	if err := checkRange("ac", ac, 0, maxNode); err != nil {
		return nil, err
	}
	return command("H:A%03d:%d:F", ac, thermostatState), nil
}

// ThermostatUp raises the setpoint by one step.
func ThermostatUp(ac int) ([]byte, error) {
	if err := checkRange("ac", ac, 0, maxNode); err != nil {
		return nil, err
	}
	return command("H:A%03d:%d", ac, thermostatRaise), nil
}

// ThermostatDown lowers the setpoint by one step.
func ThermostatDown(ac int) ([]byte, error) {
	if err := checkRange("ac", ac, 0, maxNode); err != nil {
		return nil, err
	}
	return command("H:A%03d:%d", ac, thermostatLower), nil
}

// ThermostatParams selects what a thermostat command changes.
//
// With Full set, every field must be set and the unit is switched on with
// all of them. Otherwise exactly one field must be set.
type ThermostatParams struct {
	Full        bool
	Mode        *ThermostatMode
	Fan         *FanSpeed
	TempMode    *TempMode
	Temperature *int
}

func (p ThermostatParams) validate() error {
	if p.Mode != nil {
		if err := checkRange("mode", int(*p.Mode), int(ModeCool), int(ModeAuto)); err != nil {
			return err
		}
	}
	if p.Fan != nil {
		if err := checkRange("fan speed", int(*p.Fan), int(FanLow), int(FanAuto)); err != nil {
			return err
		}
	}
	if p.TempMode != nil {
		if err := checkRange("temperature mode", int(*p.TempMode), int(TempCelsius), int(TempFahrenheit)); err != nil {
			return err
		}
	}
	if p.Temperature != nil {
		if err := checkRange("temperature", *p.Temperature, 0, maxSetpoint); err != nil {
			return err
		}
	}

	set := 0
	for _, isSet := range []bool{p.Mode != nil, p.Fan != nil, p.TempMode != nil, p.Temperature != nil} {
		if isSet {
			set++
		}
	}
	switch {
	case p.Full && set != 4:
		return fmt.Errorf("%w: full thermostat command needs mode, fan, temperature and temperature mode", ErrInvalidCommand)
	case !p.Full && set != 1:
		return fmt.Errorf("%w: exactly one thermostat parameter must be set, got %d", ErrInvalidCommand, set)
	}
	return nil
}

// ThermostatSet changes one thermostat parameter, or all of them with Full.
func ThermostatSet(ac int, p ThermostatParams) ([]byte, error) {
	if err := checkRange("ac", ac, 0, maxNode); err != nil {
		return nil, err
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	switch {
	case p.Full:
		return command("H:A%03d:%d:O:%d%d:%03d:%d", ac, thermostatFull,
			int(*p.Mode), int(*p.Fan), *p.Temperature, int(*p.TempMode)), nil
	case p.Mode != nil:
		return command("H:A%03d:%d:%d", ac, thermostatMode, int(*p.Mode)), nil
	case p.Fan != nil:
		return command("H:A%03d:%d:%d", ac, thermostatFan, int(*p.Fan)), nil
	case p.Temperature != nil:
		return command("H:A%03d:%d:%03d", ac, thermostatSetpoint, *p.Temperature), nil
	default:
		return command("H:A%03d:%d:%d", ac, thermostatTempUnitCmd, int(*p.TempMode)), nil
	}
}

// SetDND sets the hotel do-not-disturb state of a node.
func SetDND(node int, status DNDStatus) ([]byte, error) {
	if err := checkRange("node", node, 0, maxNode); err != nil {
		return nil, err
	}
	if err := checkRange("dnd status", int(status), int(DNDOff), int(DNDMakeUpRoom)); err != nil {
		return nil, err
	}
	return command("H:N%03d:1:d:%d", node, int(status)), nil
}

// SetFan sets the speed of a fan node.
func SetFan(node int, level FanLevel) ([]byte, error) {
	if err := checkRange("node", node, 0, maxNode); err != nil {
		return nil, err
	}
	if err := checkRange("fan level", int(level), 0, maxFanLevel); err != nil {
		return nil, err
	}
	return command("H:N%03d:S:%d", node, int(level)), nil
}

func OutputOpen(id int) ([]byte, error) {
	if err := checkRange("output", id, 0, maxIOTerminal); err != nil {
		return nil, err
	}
	return command("H:O%03d:O", id), nil
}

func OutputClose(id int) ([]byte, error) {
	if err := checkRange("output", id, 0, maxIOTerminal); err != nil {
		return nil, err
	}
	return command("H:O%03d:C", id), nil
}

// Status polls. The VBox answers each with the matching S: events.

// FullStatus asks for the state of every node.
func FullStatus() []byte { return command("H:NALL:G") }

func NodeStatus(node int) ([]byte, error) {
	if err := checkRange("node", node, 0, maxNode); err != nil {
		return nil, err
	}
	return command("H:N%03d:G", node), nil
}

func KeyStatus(node, key int) ([]byte, error) {
	if err := checkNodeKey(node, key); err != nil {
		return nil, err
	}
	return command("H:N%03d:G:%d", node, key), nil
}

func ACStatus(ac int) ([]byte, error) {
	if err := checkRange("ac", ac, 0, maxNode); err != nil {
		return nil, err
	}
	return command("H:A%03d:G", ac), nil
}

func OutputStatus(id int) ([]byte, error) {
	if err := checkRange("output", id, 0, maxIOTerminal); err != nil {
		return nil, err
	}
	return command("H:O%03d:G", id), nil
}

func InputStatus(id int) ([]byte, error) {
	if err := checkRange("input", id, 0, maxIOTerminal); err != nil {
		return nil, err
	}
	return command("H:I%03d:G", id), nil
}

func OccupancyStatus() []byte { return command("H:C:G") }

// Authenticate is also the keep-alive; the VBox answers S:PSW:OK.
func Authenticate() []byte { return command("P:VITREA") }

// GetVersion asks for the firmware version (V:xxx).
func GetVersion() []byte { return command("G:V:S") }
