//go:build !linux

package relay

import "errors"

// Relay is not available on non-Linux platforms.
type Relay struct{}

// Open returns an error on non-Linux platforms.
func Open(spec Spec) (*Relay, error) {
	return nil, errors.New("relay: gpio not supported on this platform (requires Linux)")
}

func (r *Relay) SetChargerEnabled(bool) {}

func (r *Relay) Close() error {
	return nil
}
