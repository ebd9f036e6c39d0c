//go:build linux

package relay

import (
	"fmt"
	"log"
	"sync"

	"github.com/warthog618/go-gpiocdev"
)

// Relay holds a GPIO output line. A logical high enables the charger.
type Relay struct {
	spec Spec

	mu   sync.Mutex
	line *gpiocdev.Line
}

// Open requests the line as an output with the charger enabled.
func Open(spec Spec) (*Relay, error) {
	opts := []gpiocdev.LineReqOption{
		gpiocdev.WithConsumer(Consumer),
		gpiocdev.AsOutput(logicalValue(true)),
	}
	if spec.ActiveLow {
		opts = append(opts, gpiocdev.AsActiveLow)
	}
	line, err := gpiocdev.RequestLine(spec.Chip, spec.Offset, opts...)
	if err != nil {
		return nil, fmt.Errorf("request gpio %s: %w", spec, err)
	}
	log.Printf("relay: using %s as charge-enable line\n", spec)
	return &Relay{spec: spec, line: line}, nil
}

func (r *Relay) SetChargerEnabled(enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.line == nil {
		log.Printf("relay: line %s closed, ignoring charger enabled=%v\n", r.spec, enabled)
		return
	}
	if err := r.line.SetValue(logicalValue(enabled)); err != nil {
		log.Printf("relay: set %s: %v\n", r.spec, err)
	}
}

// Close re-enables the charger and releases the line.
func (r *Relay) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.line == nil {
		return nil
	}
	var errs []error
	if err := r.line.SetValue(logicalValue(true)); err != nil {
		errs = append(errs, fmt.Errorf("enable charger: %w", err))
	}
	if err := r.line.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close line: %w", err))
	}
	r.line = nil
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
