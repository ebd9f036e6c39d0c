package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ryansname/chargectl/src/charge"
	"github.com/ryansname/chargectl/src/journal"
	"github.com/ryansname/chargectl/src/settings"
)

func newConsoleCommander(t *testing.T, st charge.Status, entries []journal.Entry) (*Commander, chan charge.Event) {
	t.Helper()
	store, err := settings.Open(filepath.Join(t.TempDir(), "settings.toml"))
	require.NoError(t, err)
	events := make(chan charge.Event, 10)
	return NewCommander(store, events, staticStatus{st}, staticHistory{entries}, nil, nil), events
}

func runConsole(c *Commander, line string) string {
	var out bytes.Buffer
	handleConsoleCommand(context.Background(), line, c, &out)
	return out.String()
}

func TestConsoleStatus(t *testing.T) {
	c, _ := newConsoleCommander(t, charge.Status{
		Control:    charge.StateBoost,
		Connection: charge.Connected,
		LastSample: charge.BatterySample{LevelPercent: 91, IsCharging: true},
		HaveSample: true,
	}, nil)

	out := runConsole(c, "status")
	assert.Contains(t, out, "state:      boost")
	assert.Contains(t, out, `"Boost Charging"`)
	assert.Contains(t, out, "battery:    91% (charging: true)")
}

func TestConsoleOverrides(t *testing.T) {
	c, events := newConsoleCommander(t, charge.Status{}, nil)

	assert.Contains(t, runConsole(c, "stop"), "Requested stop")
	assert.Contains(t, runConsole(c, "boost"), "Requested boost")

	require.Len(t, events, 2)
	assert.Equal(t, charge.OverrideEvent{Kind: charge.OverrideStop}, <-events)
	assert.Equal(t, charge.OverrideEvent{Kind: charge.OverrideBoost}, <-events)
}

func TestConsoleSet(t *testing.T) {
	c, events := newConsoleCommander(t, charge.Status{}, nil)

	out := runConsole(c, "set charge-limit-percent 60")
	assert.Contains(t, out, "charge-limit-percent")
	assert.Contains(t, out, "60")
	assert.Len(t, events, 1)

	assert.Contains(t, runConsole(c, "set recharge-threshold-percent 70"), "warning:")
	assert.Contains(t, runConsole(c, "set charge-limit-percent 101"), "Error:")
	assert.Contains(t, runConsole(c, "set charge-limit-percent"), "Usage:")
}

func TestConsoleHistory(t *testing.T) {
	at := time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC)
	entries := []journal.Entry{
		{From: "charging", To: "stop", At: at, Connection: "connected", Level: 80},
		{From: "unknown", To: "charging", At: at, Connection: "connected", Level: -1},
	}
	c, _ := newConsoleCommander(t, charge.Status{}, entries)

	out := runConsole(c, "history")
	assert.Contains(t, out, "charging    -> stop")
	assert.Contains(t, out, "80%")
	assert.Contains(t, out, "?")

	assert.Equal(t, 1, bytes.Count([]byte(runConsole(c, "history 1")), []byte("\n")))
	assert.Contains(t, runConsole(c, "history zero"), "Usage:")
}

func TestConsoleHistoryEmpty(t *testing.T) {
	c, _ := newConsoleCommander(t, charge.Status{}, nil)
	assert.Contains(t, runConsole(c, "history"), "No transitions recorded")
}

func TestConsoleUnknownAndBlank(t *testing.T) {
	c, _ := newConsoleCommander(t, charge.Status{}, nil)
	assert.Contains(t, runConsole(c, "discharge"), "Unknown command: discharge")
	assert.Empty(t, runConsole(c, "   "))
	assert.Contains(t, runConsole(c, "help"), "auto-reset-stats")
}

type fakeChargerFile struct{ enabled, ok bool }

func (f fakeChargerFile) Enabled() (bool, bool) { return f.enabled, f.ok }

func TestConsoleStatusShowsChargerFile(t *testing.T) {
	store, err := settings.Open(filepath.Join(t.TempDir(), "settings.toml"))
	require.NoError(t, err)

	tests := []struct {
		name    string
		charger ChargerReader
		want    string
	}{
		{"enabled", fakeChargerFile{enabled: true, ok: true}, "charger:    enabled"},
		{"disabled", fakeChargerFile{enabled: false, ok: true}, "charger:    disabled"},
		{"unreadable", fakeChargerFile{ok: false}, "charger:    unreadable"},
		{"relay", nil, "charger:    not readable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCommander(store, make(chan charge.Event, 1), staticStatus{}, staticHistory{}, tt.charger, nil)
			assert.Contains(t, runConsole(c, "status"), tt.want)
		})
	}
}

func TestConsoleConfigShowsPersistedValues(t *testing.T) {
	c, _ := newConsoleCommander(t, charge.Status{}, nil)
	runConsole(c, "set charge-limit-percent 90")

	out := runConsole(c, "config")
	assert.Contains(t, out, "charge-limit-percent         90")
	assert.Contains(t, out, "recharge-threshold-percent   85")
	assert.Contains(t, out, "charge-limit-enabled         false")
	assert.NotContains(t, out, "warning:")
}
