// Package charge implements the battery charge controller.
//
// The controller owns a single ControlState and ConnectionState, moves between them
// in response to battery samples, connection events, user overrides and configuration
// edits, and commands the charger through a ChargerSwitch on every accepted transition.
package charge

import "time"

// ControlState is the charging intent of the controller.
type ControlState int

const (
	StateUnknown ControlState = iota
	StateDisabled
	StateStop
	StateStopForced
	StateCharging
	StateBoost
)

func (s ControlState) String() string {
	switch s {
	case StateUnknown:
		return "unknown"
	case StateDisabled:
		return "disabled"
	case StateStop:
		return "stop"
	case StateStopForced:
		return "stop_forced"
	case StateCharging:
		return "charging"
	case StateBoost:
		return "boost"
	}
	return "invalid"
}

// ChargerEnabled reports the charger-enable value commanded on entering the state.
// Only Stop and StopForced turn the charger off.
func (s ControlState) ChargerEnabled() bool {
	return s != StateStop && s != StateStopForced
}

// ConnectionState reports whether external power is present.
type ConnectionState int

const (
	ConnectionUnknown ConnectionState = iota
	Disconnected
	Connected
)

func (c ConnectionState) String() string {
	switch c {
	case ConnectionUnknown:
		return "unknown"
	case Disconnected:
		return "disconnected"
	case Connected:
		return "connected"
	}
	return "invalid"
}

// BatterySample is a battery reading observed at a point in time.
type BatterySample struct {
	LevelPercent int
	IsCharging   bool
	At           time.Time
}

// Transition describes an accepted control state change.
type Transition struct {
	From       ControlState
	To         ControlState
	At         time.Time
	Connection ConnectionState
	Sample     BatterySample
	HaveSample bool // false if no sample had been seen yet
}

// Status is a point-in-time snapshot of the controller.
type Status struct {
	Active        bool
	Control       ControlState
	Connection    ConnectionState
	ChangedAt     time.Time
	ChangePending bool
	Config        Configuration
	LastSample    BatterySample
	HaveSample    bool
}
