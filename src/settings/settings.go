// Package settings persists the user-editable charge configuration as TOML.
//
// Unset keys fall back to charge.DefaultConfiguration, except the recharge threshold
// which follows the charge limit until it is set explicitly.
package settings

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"

	"github.com/ryansname/chargectl/src/charge"
)

// file mirrors the settings file. Nil means "not set".
type file struct {
	Enabled          *bool `toml:"charge-limit-enabled"`
	LimitPercent     *int  `toml:"charge-limit-percent"`
	ThresholdPercent *int  `toml:"recharge-threshold-percent"`
	AutoResetStats   *bool `toml:"auto-reset-stats"`
}

// Store loads and saves settings. It is safe for concurrent use.
type Store struct {
	path string

	mu     sync.Mutex
	values file
}

// Open reads path. A missing file yields the defaults; it is created on the first Set.
func Open(path string) (*Store, error) {
	s := &Store{path: path}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		log.Printf("settings: %s does not exist, using defaults\n", path)
		return s, nil
	}
	if _, err := toml.DecodeFile(path, &s.values); err != nil {
		return nil, fmt.Errorf("failed to parse settings file %s: %w", path, err)
	}
	return s, nil
}

// Configuration resolves the stored values against the defaults.
func (s *Store) Configuration() charge.Configuration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.configLocked()
}

func (s *Store) configLocked() charge.Configuration {
	cfg := charge.DefaultConfiguration()
	if s.values.Enabled != nil {
		cfg.Enabled = *s.values.Enabled
	}
	if s.values.LimitPercent != nil {
		cfg.LimitPercent = *s.values.LimitPercent
	}
	cfg.RechargeThresholdPercent = cfg.LimitPercent - charge.DefaultRechargeGap
	if s.values.ThresholdPercent != nil {
		cfg.RechargeThresholdPercent = *s.values.ThresholdPercent
	}
	if s.values.AutoResetStats != nil {
		cfg.AutoResetStatsOnFull = *s.values.AutoResetStats
	}
	return cfg
}

// Set parses value for key, saves the file and returns the event describing the change.
// Range errors wrap charge.ErrLimitOutOfRange or charge.ErrThresholdOutOfRange; a
// threshold at or above the limit is accepted and left for the controller to warn about.
func (s *Store) Set(key, value string) (charge.ConfigEvent, error) {
	field, err := charge.ParseConfigField(key)
	if err != nil {
		return charge.ConfigEvent{}, err
	}
	value = strings.TrimSpace(value)

	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.values
	switch field {
	case charge.FieldEnabled, charge.FieldAutoResetStats:
		b, err := parseBool(value)
		if err != nil {
			return charge.ConfigEvent{}, fmt.Errorf("%s: %w", key, err)
		}
		if field == charge.FieldEnabled {
			next.Enabled = &b
		} else {
			next.AutoResetStats = &b
		}
	case charge.FieldLimit:
		n, err := strconv.Atoi(value)
		if err != nil {
			return charge.ConfigEvent{}, fmt.Errorf("%s: %w", key, err)
		}
		if n <= 0 || n > 100 {
			return charge.ConfigEvent{}, fmt.Errorf("%w: got %d", charge.ErrLimitOutOfRange, n)
		}
		next.LimitPercent = &n
	case charge.FieldRechargeThreshold:
		n, err := strconv.Atoi(value)
		if err != nil {
			return charge.ConfigEvent{}, fmt.Errorf("%s: %w", key, err)
		}
		if n < 0 || n >= 100 {
			return charge.ConfigEvent{}, fmt.Errorf("%w: got %d", charge.ErrThresholdOutOfRange, n)
		}
		next.ThresholdPercent = &n
	}

	if err := save(s.path, next); err != nil {
		return charge.ConfigEvent{}, err
	}
	s.values = next
	return charge.ConfigEvent{Field: field, Config: s.configLocked()}, nil
}

// Values returns the resolved configuration keyed by persisted name.
func (s *Store) Values() map[string]string {
	return Format(s.Configuration())
}

// Format renders cfg keyed by persisted name.
func Format(cfg charge.Configuration) map[string]string {
	return map[string]string{
		charge.FieldEnabled.Key():           strconv.FormatBool(cfg.Enabled),
		charge.FieldLimit.Key():             strconv.Itoa(cfg.LimitPercent),
		charge.FieldRechargeThreshold.Key(): strconv.Itoa(cfg.RechargeThresholdPercent),
		charge.FieldAutoResetStats.Key():    strconv.FormatBool(cfg.AutoResetStatsOnFull),
	}
}

// parseBool also accepts the ON/OFF payloads Home Assistant switches send.
func parseBool(v string) (bool, error) {
	switch strings.ToLower(v) {
	case "on":
		return true, nil
	case "off":
		return false, nil
	}
	return strconv.ParseBool(v)
}

func save(path string, values file) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".settings-*.toml")
	if err != nil {
		return fmt.Errorf("failed to create settings file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := toml.NewEncoder(tmp).Encode(values); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace settings file: %w", err)
	}
	return nil
}
