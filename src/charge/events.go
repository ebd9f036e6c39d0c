package charge

import "fmt"

// Event is an input delivered to Controller.Handle.
type Event interface {
	isEvent()
}

// SampleEvent carries a new battery reading.
type SampleEvent struct {
	Sample BatterySample
}

// ConnectionEvent reports external power being connected or disconnected.
type ConnectionEvent struct {
	Connected bool
}

// OverrideEvent carries a user override command.
type OverrideEvent struct {
	Kind OverrideKind
}

// ConfigEvent carries the new configuration and the field that changed.
type ConfigEvent struct {
	Field  ConfigField
	Config Configuration
}

func (SampleEvent) isEvent()     {}
func (ConnectionEvent) isEvent() {}
func (OverrideEvent) isEvent()   {}
func (ConfigEvent) isEvent()     {}

// OverrideKind is a user override command.
type OverrideKind int

const (
	OverrideStop OverrideKind = iota
	OverrideCharge
	OverrideBoost
)

func (k OverrideKind) String() string {
	switch k {
	case OverrideStop:
		return "stop"
	case OverrideCharge:
		return "charge"
	case OverrideBoost:
		return "boost"
	}
	return "invalid"
}

// ParseOverrideKind parses "stop", "charge" or "boost".
func ParseOverrideKind(s string) (OverrideKind, error) {
	switch s {
	case "stop":
		return OverrideStop, nil
	case "charge":
		return OverrideCharge, nil
	case "boost":
		return OverrideBoost, nil
	}
	return 0, fmt.Errorf("unknown override %q", s)
}
