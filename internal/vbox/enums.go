package vbox

import "fmt"

// KeyType is the function programmed on a keypad key.
type KeyType int

// Key types as numbered by the VBox parameter database.
const (
	KeyNotUsed KeyType = iota
	KeyToggle
	KeyPushButton
	KeyDimmer
	KeyBlindUp
	KeyBlindDown
	KeyBlindUpAndDown
	KeyTiltUp
	KeyTiltDown
	KeyTiltUpAndDown
	KeyBoiler
	KeyHeater
	KeySatellite
	KeyRoomOn
	KeyScene
	KeyDND
	KeyThermostat
	KeyUnderfloorHeating
	KeyFan
	KeyToggleMW
	KeyBlindMW
	KeyACType1
	KeyACType2
	KeyACType3
	KeyACTypeTMSF
)

var keyTypeNames = [...]string{
	"NOT_USED", "TOGGLE", "PUSH_BUTTON", "DIMMER",
	"BLIND_UP", "BLIND_DOWN", "BLIND_UP_AND_DOWN",
	"TILT_UP", "TILT_DOWN", "TILT_UP_AND_DOWN",
	"BOILER", "HEATER", "SATELLITE", "ROOM_ON", "SCENE", "DND",
	"THERMOSTAT", "UNDERFLOOR_HEATING", "FAN", "TOGGLE_MW", "BLIND_MW",
	"AC_TYPE_1", "AC_TYPE_2", "AC_TYPE_3", "AC_TYPE_TMSF",
}

// Valid reports whether t is a known key type.
func (t KeyType) Valid() bool {
	return t >= KeyNotUsed && int(t) < len(keyTypeNames)
}

func (t KeyType) String() string {
	if !t.Valid() {
		return fmt.Sprintf("KeyType(%d)", int(t))
	}
	return keyTypeNames[t]
}

// CommandNumber identifies a parameter (VTH) request.
type CommandNumber byte

// Parameter API commands. Odd numbers list IDs, even numbers fetch one
// object's parameters.
const (
	CmdFloorNumbers    CommandNumber = 1
	CmdFloorParams     CommandNumber = 2
	CmdRoomNumbers     CommandNumber = 3
	CmdRoomParams      CommandNumber = 4
	CmdKeypadNumbers   CommandNumber = 5
	CmdKeyParams       CommandNumber = 6
	CmdACNumbers       CommandNumber = 7
	CmdACParams        CommandNumber = 8
	CmdScenarioNumbers CommandNumber = 9
	CmdScenarioParams  CommandNumber = 10
)

func (c CommandNumber) String() string {
	switch c {
	case CmdFloorNumbers:
		return "GetFloorNumbers"
	case CmdFloorParams:
		return "GetFloorParams"
	case CmdRoomNumbers:
		return "GetRoomNumbers"
	case CmdRoomParams:
		return "GetRoomParams"
	case CmdKeypadNumbers:
		return "GetKeypadNumbers"
	case CmdKeyParams:
		return "GetKeyParams"
	case CmdACNumbers:
		return "GetACNumbers"
	case CmdACParams:
		return "GetACParams"
	case CmdScenarioNumbers:
		return "GetSceneNumbers"
	case CmdScenarioParams:
		return "GetSceneParams"
	default:
		return fmt.Sprintf("Command(%d)", byte(c))
	}
}

// ACType is the air-conditioner interface type.
type ACType int

const (
	ACType1    ACType = 1
	ACType2    ACType = 2
	ACType3    ACType = 3
	ACTypeTMSF ACType = 4
)

func (t ACType) String() string {
	switch t {
	case ACType1:
		return "TYPE_1"
	case ACType2:
		return "TYPE_2"
	case ACType3:
		return "TYPE_3"
	case ACTypeTMSF:
		return "TMSF"
	default:
		return fmt.Sprintf("ACType(%d)", int(t))
	}
}

// ThermostatMode is the operating mode of an air conditioner.
type ThermostatMode int

const (
	ModeNA   ThermostatMode = -1
	ModeCool ThermostatMode = 0
	ModeHeat ThermostatMode = 1
	ModeFan  ThermostatMode = 2
	ModeDry  ThermostatMode = 3
	ModeAuto ThermostatMode = 4
)

func (m ThermostatMode) String() string {
	switch m {
	case ModeCool:
		return "COOL"
	case ModeHeat:
		return "HEAT"
	case ModeFan:
		return "FAN"
	case ModeDry:
		return "DRY"
	case ModeAuto:
		return "AUTO"
	default:
		return "NA"
	}
}

// FanSpeed is the fan setting of an air conditioner.
type FanSpeed int

const (
	FanNA     FanSpeed = -1
	FanLow    FanSpeed = 0
	FanMedium FanSpeed = 1
	FanHigh   FanSpeed = 2
	FanTop    FanSpeed = 3
	FanAuto   FanSpeed = 4
)

func (f FanSpeed) String() string {
	switch f {
	case FanLow:
		return "LOW"
	case FanMedium:
		return "MEDIUM"
	case FanHigh:
		return "HIGH"
	case FanTop:
		return "TOP"
	case FanAuto:
		return "AUTO"
	default:
		return "NA"
	}
}

// TempMode is the temperature unit an air conditioner reports in.
type TempMode int

const (
	TempNA         TempMode = -1
	TempCelsius    TempMode = 0
	TempFahrenheit TempMode = 1
)

func (t TempMode) String() string {
	switch t {
	case TempCelsius:
		return "CELSIUS"
	case TempFahrenheit:
		return "FAHRENHEIT"
	default:
		return "NA"
	}
}

// DNDStatus is the hotel do-not-disturb state of a node.
type DNDStatus int

const (
	DNDOff          DNDStatus = 0
	DNDDoNotDisturb DNDStatus = 1
	DNDMakeUpRoom   DNDStatus = 2
)

func (d DNDStatus) String() string {
	switch d {
	case DNDOff:
		return "OFF"
	case DNDDoNotDisturb:
		return "DND"
	case DNDMakeUpRoom:
		return "MUR"
	default:
		return fmt.Sprintf("DNDStatus(%d)", int(d))
	}
}

// FanLevel is the speed of a fan node (not an AC fan).
type FanLevel int

const (
	FanLevelOff FanLevel = iota
	FanLevelLow
	FanLevelMedium
	FanLevelHigh
	FanLevelMax
)

func (f FanLevel) String() string {
	switch f {
	case FanLevelOff:
		return "OFF"
	case FanLevelLow:
		return "LOW"
	case FanLevelMedium:
		return "MEDIUM"
	case FanLevelHigh:
		return "HIGH"
	case FanLevelMax:
		return "MAX"
	default:
		return fmt.Sprintf("FanLevel(%d)", int(f))
	}
}
