// Package relay drives the charger through a GPIO output line instead of a sysfs file.
package relay

import (
	"fmt"
	"strconv"
	"strings"
)

// Consumer is the label the line is requested under.
const Consumer = "chargectl"

// Spec identifies a GPIO line.
type Spec struct {
	Chip      string
	Offset    int
	ActiveLow bool
}

// ParseSpec parses "<chip>:<offset>", e.g. "gpiochip0:17".
func ParseSpec(s string, activeLow bool) (Spec, error) {
	chip, off, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || chip == "" {
		return Spec{}, fmt.Errorf("gpio spec %q: want <chip>:<offset>", s)
	}
	offset, err := strconv.Atoi(off)
	if err != nil || offset < 0 {
		return Spec{}, fmt.Errorf("gpio spec %q: bad offset %q", s, off)
	}
	return Spec{Chip: chip, Offset: offset, ActiveLow: activeLow}, nil
}

func (s Spec) String() string {
	if s.ActiveLow {
		return fmt.Sprintf("%s:%d (active-low)", s.Chip, s.Offset)
	}
	return fmt.Sprintf("%s:%d", s.Chip, s.Offset)
}

func logicalValue(enabled bool) int {
	if enabled {
		return 1
	}
	return 0
}
