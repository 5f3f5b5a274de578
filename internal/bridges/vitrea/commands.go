package vitrea

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/nerrad567/vitrea-gateway/internal/vbox"
)

// Command names accepted in CommandMessage.Command.
const (
	CmdOn              = "on"
	CmdOff             = "off"
	CmdToggle          = "toggle"
	CmdDim             = "dim"
	CmdDimUp           = "dim_up"
	CmdDimDown         = "dim_down"
	CmdDimStop         = "dim_stop"
	CmdRecall          = "recall"
	CmdSetPosition     = "set_position"
	CmdOpen            = "open"
	CmdClose           = "close"
	CmdStop            = "stop"
	CmdRun             = "run"
	CmdSetThermostat   = "set_thermostat"
	CmdTemperatureUp   = "temperature_up"
	CmdTemperatureDown = "temperature_down"
	CmdDND             = "dnd"
	CmdFan             = "fan"
	CmdRefresh         = "refresh"
)

// BuildCommand translates a bridge command into the VBox ASCII command for
// the addressed device.
//
// Parameters:
//   - ref: the target device
//   - command: one of the Cmd* names
//   - params: command parameters as decoded from JSON; numbers arrive as float64
//
// Returns:
//   - []byte: the CRLF-terminated command ready for Controller.Send
//   - error: ErrUnsupportedCommand or ErrInvalidParameters
func BuildCommand(ref DeviceRef, command string, params map[string]any) ([]byte, error) {
	var (
		data []byte
		err  error
	)
	switch ref.Kind {
	case DeviceKey:
		data, err = buildKeyCommand(ref, command, params)
	case DeviceAC:
		data, err = buildACCommand(ref, command, params)
	case DeviceScenario:
		switch command {
		case CmdRun, CmdOn:
			data, err = vbox.RunScenario(ref.ID)
		default:
			return nil, unsupported(ref, command)
		}
	case DeviceOutput:
		switch command {
		case CmdOpen, CmdOn:
			data, err = vbox.OutputOpen(ref.ID)
		case CmdClose, CmdOff:
			data, err = vbox.OutputClose(ref.ID)
		case CmdRefresh:
			data, err = vbox.OutputStatus(ref.ID)
		default:
			return nil, unsupported(ref, command)
		}
	case DeviceInput:
		if command != CmdRefresh {
			return nil, unsupported(ref, command)
		}
		data, err = vbox.InputStatus(ref.ID)
	case DeviceOccupancy:
		if command != CmdRefresh {
			return nil, unsupported(ref, command)
		}
		data = vbox.OccupancyStatus()
	default:
		return nil, unsupported(ref, command)
	}
	if errors.Is(err, vbox.ErrInvalidCommand) {
		return nil, fmt.Errorf("%w: %w", ErrInvalidParameters, err)
	}
	return data, err
}

func buildKeyCommand(ref DeviceRef, command string, params map[string]any) ([]byte, error) {
	node, key := ref.ID, ref.Key
	switch command {
	case CmdOn:
		duration, err := intParam(params, "duration", 0)
		if err != nil {
			return nil, err
		}
		return vbox.ToggleOn(node, key, duration)
	case CmdOff:
		return vbox.ToggleOff(node, key)
	case CmdToggle:
		return vbox.Toggle(node, key)
	case CmdDim:
		level, err := requiredIntParam(params, "level")
		if err != nil {
			return nil, err
		}
		duration, err := intParam(params, "duration", 0)
		if err != nil {
			return nil, err
		}
		return vbox.DimmerIntensity(node, key, level, duration)
	case CmdDimUp:
		return vbox.DimmerUp(node, key)
	case CmdDimDown:
		return vbox.DimmerDown(node, key)
	case CmdDimStop:
		return vbox.DimmerStop(node, key)
	case CmdRecall:
		duration, err := intParam(params, "duration", 0)
		if err != nil {
			return nil, err
		}
		return vbox.DimmerRecall(node, key, duration)
	case CmdSetPosition:
		position, err := requiredIntParam(params, "position")
		if err != nil {
			return nil, err
		}
		return vbox.BlindLocation(node, key, position)
	case CmdOpen:
		return vbox.BlindUp(node, key)
	case CmdClose:
		return vbox.BlindDown(node, key)
	case CmdStop:
		return vbox.BlindStop(node, key)
	case CmdDND:
		status, err := enumParam(params, "status", dndNames)
		if err != nil {
			return nil, err
		}
		return vbox.SetDND(node, vbox.DNDStatus(status))
	case CmdFan:
		level, err := enumParam(params, "level", fanLevelNames)
		if err != nil {
			return nil, err
		}
		return vbox.SetFan(node, vbox.FanLevel(level))
	case CmdRefresh:
		return vbox.KeyStatus(node, key)
	default:
		return nil, unsupported(ref, command)
	}
}

func buildACCommand(ref DeviceRef, command string, params map[string]any) ([]byte, error) {
	switch command {
	case CmdOn:
		return vbox.ThermostatOn(ref.ID)
	case CmdOff:
		return vbox.ThermostatOff(ref.ID)
	case CmdTemperatureUp:
		return vbox.ThermostatUp(ref.ID)
	case CmdTemperatureDown:
		return vbox.ThermostatDown(ref.ID)
	case CmdSetThermostat:
		p, err := thermostatParams(params)
		if err != nil {
			return nil, err
		}
		return vbox.ThermostatSet(ref.ID, p)
	case CmdRefresh:
		return vbox.ACStatus(ref.ID)
	default:
		return nil, unsupported(ref, command)
	}
}

// thermostatParams reads mode, fan_speed, temperature and temperature_mode.
// "full": true sets all four at once.
func thermostatParams(params map[string]any) (vbox.ThermostatParams, error) {
	var p vbox.ThermostatParams
	if v, ok := params["full"]; ok {
		full, isBool := v.(bool)
		if !isBool {
			return p, fmt.Errorf("%w: 'full' must be a boolean", ErrInvalidParameters)
		}
		p.Full = full
	}
	if _, ok := params["mode"]; ok {
		n, err := enumParam(params, "mode", modeNames)
		if err != nil {
			return p, err
		}
		mode := vbox.ThermostatMode(n)
		p.Mode = &mode
	}
	if _, ok := params["fan_speed"]; ok {
		n, err := enumParam(params, "fan_speed", fanSpeedNames)
		if err != nil {
			return p, err
		}
		fan := vbox.FanSpeed(n)
		p.Fan = &fan
	}
	if _, ok := params["temperature_mode"]; ok {
		n, err := enumParam(params, "temperature_mode", tempModeNames)
		if err != nil {
			return p, err
		}
		tm := vbox.TempMode(n)
		p.TempMode = &tm
	}
	if _, ok := params["temperature"]; ok {
		n, err := requiredIntParam(params, "temperature")
		if err != nil {
			return p, err
		}
		p.Temperature = &n
	}
	return p, nil
}

func unsupported(ref DeviceRef, command string) error {
	return fmt.Errorf("%w: %q for device %s", ErrUnsupportedCommand, command, ref)
}

// intParam returns params[name] as an integer, or def when absent.
func intParam(params map[string]any, name string, def int) (int, error) {
	if _, ok := params[name]; !ok {
		return def, nil
	}
	return requiredIntParam(params, name)
}

func requiredIntParam(params map[string]any, name string) (int, error) {
	v, ok := params[name]
	if !ok {
		return 0, fmt.Errorf("%w: missing '%s' parameter", ErrInvalidParameters, name)
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("%w: '%s' must be a whole number, got %v", ErrInvalidParameters, name, n)
		}
		return int(n), nil
	default:
		return 0, fmt.Errorf("%w: '%s' must be a number", ErrInvalidParameters, name)
	}
}

// enumParam accepts either the numeric value or its name, case-insensitive.
func enumParam(params map[string]any, name string, names map[string]int) (int, error) {
	v, ok := params[name]
	if !ok {
		return 0, fmt.Errorf("%w: missing '%s' parameter", ErrInvalidParameters, name)
	}
	if s, isString := v.(string); isString {
		n, known := names[strings.ToUpper(s)]
		if !known {
			return 0, fmt.Errorf("%w: unknown %s %q", ErrInvalidParameters, name, s)
		}
		return n, nil
	}
	return requiredIntParam(params, name)
}

// enumNames maps String() of each value in [lo, hi] to the value.
func enumNames[T ~int](lo, hi T) map[string]int {
	names := make(map[string]int, int(hi-lo)+1)
	for v := lo; v <= hi; v++ {
		names[fmt.Sprint(v)] = int(v)
	}
	return names
}

var (
	modeNames     = enumNames(vbox.ModeCool, vbox.ModeAuto)
	fanSpeedNames = enumNames(vbox.FanLow, vbox.FanAuto)
	tempModeNames = enumNames(vbox.TempCelsius, vbox.TempFahrenheit)
	dndNames      = enumNames(vbox.DNDOff, vbox.DNDMakeUpRoom)
	fanLevelNames = enumNames(vbox.FanLevelOff, vbox.FanLevelMax)
)
