package charge

import (
	"errors"
	"fmt"
)

const (
	DefaultLimitPercent = 80
	// DefaultRechargeGap is subtracted from the limit when no threshold is configured.
	DefaultRechargeGap = 5
)

var (
	ErrLimitOutOfRange     = errors.New("charge limit must be within 1..100")
	ErrThresholdOutOfRange = errors.New("recharge threshold must be within 0..99")
	ErrThresholdNotBelow   = errors.New("recharge threshold must be below the charge limit")
	ErrUnknownField        = errors.New("unknown configuration field")
)

// Configuration holds the user-editable charge limits.
type Configuration struct {
	LimitPercent             int
	RechargeThresholdPercent int
	Enabled                  bool
	AutoResetStatsOnFull     bool
}

// DefaultConfiguration returns the configuration used when nothing is persisted.
func DefaultConfiguration() Configuration {
	return Configuration{
		LimitPercent:             DefaultLimitPercent,
		RechargeThresholdPercent: DefaultLimitPercent - DefaultRechargeGap,
		Enabled:                  false,
		AutoResetStatsOnFull:     true,
	}
}

// Validate checks ranges and the threshold/limit ordering.
// The controller tolerates an invalid configuration; callers use this to warn.
func (c Configuration) Validate() error {
	if c.LimitPercent <= 0 || c.LimitPercent > 100 {
		return fmt.Errorf("%w: got %d", ErrLimitOutOfRange, c.LimitPercent)
	}
	if c.RechargeThresholdPercent < 0 || c.RechargeThresholdPercent >= 100 {
		return fmt.Errorf("%w: got %d", ErrThresholdOutOfRange, c.RechargeThresholdPercent)
	}
	if c.RechargeThresholdPercent >= c.LimitPercent {
		return fmt.Errorf("%w: threshold %d, limit %d",
			ErrThresholdNotBelow, c.RechargeThresholdPercent, c.LimitPercent)
	}
	return nil
}

// ConfigField names a persisted configuration key.
type ConfigField int

const (
	FieldEnabled ConfigField = iota
	FieldLimit
	FieldRechargeThreshold
	FieldAutoResetStats
)

// ConfigFields lists every field in display order.
var ConfigFields = []ConfigField{FieldEnabled, FieldLimit, FieldRechargeThreshold, FieldAutoResetStats}

// Key returns the persisted key for the field.
func (f ConfigField) Key() string {
	switch f {
	case FieldEnabled:
		return "charge-limit-enabled"
	case FieldLimit:
		return "charge-limit-percent"
	case FieldRechargeThreshold:
		return "recharge-threshold-percent"
	case FieldAutoResetStats:
		return "auto-reset-stats"
	}
	return "invalid"
}

func (f ConfigField) String() string {
	return f.Key()
}

// ParseConfigField resolves a persisted key.
func ParseConfigField(key string) (ConfigField, error) {
	for _, f := range ConfigFields {
		if f.Key() == key {
			return f, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownField, key)
}
