package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ryansname/chargectl/src/charge"
	"github.com/ryansname/chargectl/src/journal"
	"github.com/ryansname/chargectl/src/settings"
)

type staticStatus struct{ st charge.Status }

func (s staticStatus) Status() charge.Status { return s.st }

type staticHistory struct{ entries []journal.Entry }

func (h staticHistory) Recent(n int) ([]journal.Entry, error) {
	if n < len(h.entries) {
		return h.entries[:n], nil
	}
	return h.entries, nil
}

func newTestCommander(t *testing.T) (*Commander, chan charge.Event, *settings.Store) {
	t.Helper()
	store, err := settings.Open(filepath.Join(t.TempDir(), "settings.toml"))
	require.NoError(t, err)
	events := make(chan charge.Event, 10)
	return NewCommander(store, events, staticStatus{}, staticHistory{}, nil, nil), events, store
}

func TestParseCommandTopic(t *testing.T) {
	tests := []struct {
		topic        string
		wantOverride bool
		wantKey      string
		wantOK       bool
	}{
		{"chargectl/override/set", true, "", true},
		{"chargectl/config/charge-limit-percent/set", false, "charge-limit-percent", true},
		{"chargectl/config//set", false, "", false},
		{"chargectl/config/charge-limit-percent/state", false, "", false},
		{"chargectl/state", false, "", false},
		{"other/config/x/set", false, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			override, key, ok := parseCommandTopic(tt.topic)
			assert.Equal(t, tt.wantOverride, override)
			assert.Equal(t, tt.wantKey, key)
			assert.Equal(t, tt.wantOK, ok)
		})
	}
}

func TestHandleMQTTCommandOverride(t *testing.T) {
	c, events, _ := newTestCommander(t)

	err := handleMQTTCommand(context.Background(), CommandMessage{Topic: TopicOverrideSet, Payload: " BOOST\n"}, c)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, charge.OverrideEvent{Kind: charge.OverrideBoost}, <-events)
}

func TestHandleMQTTCommandConfig(t *testing.T) {
	c, events, store := newTestCommander(t)

	err := handleMQTTCommand(context.Background(),
		CommandMessage{Topic: configSetTopic("charge-limit-percent"), Payload: "90"}, c)
	require.NoError(t, err)

	require.Len(t, events, 1)
	ev, ok := (<-events).(charge.ConfigEvent)
	require.True(t, ok)
	assert.Equal(t, charge.FieldLimit, ev.Field)
	assert.Equal(t, 90, ev.Config.LimitPercent)
	assert.Equal(t, 85, ev.Config.RechargeThresholdPercent)
	assert.Equal(t, 90, store.Configuration().LimitPercent)

	// Switch payloads from Home Assistant
	err = handleMQTTCommand(context.Background(),
		CommandMessage{Topic: configSetTopic("charge-limit-enabled"), Payload: "ON"}, c)
	require.NoError(t, err)
	assert.True(t, store.Configuration().Enabled)
}

func TestHandleMQTTCommandRejected(t *testing.T) {
	tests := []struct {
		name string
		msg  CommandMessage
	}{
		{"unknown override", CommandMessage{Topic: TopicOverrideSet, Payload: "discharge"}},
		{"unknown key", CommandMessage{Topic: configSetTopic("colour"), Payload: "red"}},
		{"limit out of range", CommandMessage{Topic: configSetTopic("charge-limit-percent"), Payload: "0"}},
		{"not a number", CommandMessage{Topic: configSetTopic("recharge-threshold-percent"), Payload: "lots"}},
		{"bad topic", CommandMessage{Topic: TopicState, Payload: "stop"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, events, _ := newTestCommander(t)
			assert.Error(t, handleMQTTCommand(context.Background(), tt.msg, c))
			assert.Empty(t, events)
		})
	}
}

func TestOverrideRateLimited(t *testing.T) {
	c, events, _ := newTestCommander(t)
	ctx := context.Background()

	for i := 0; i < overrideBurst; i++ {
		require.NoError(t, c.Override(ctx, charge.OverrideStop))
	}
	err := c.Override(ctx, charge.OverrideCharge)
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Len(t, events, overrideBurst)
}

func TestSetConfigAcceptsThresholdAboveLimit(t *testing.T) {
	c, events, _ := newTestCommander(t)

	cfg, err := c.SetConfig(context.Background(), "recharge-threshold-percent", "95")
	require.NoError(t, err)
	assert.Equal(t, 95, cfg.RechargeThresholdPercent)
	assert.ErrorIs(t, cfg.Validate(), charge.ErrThresholdNotBelow)
	assert.Len(t, events, 1)
}

func TestSetConfigPublishesState(t *testing.T) {
	store, err := settings.Open(filepath.Join(t.TempDir(), "settings.toml"))
	require.NoError(t, err)
	out := make(chan MQTTMessage, 10)
	c := NewCommander(store, make(chan charge.Event, 1), staticStatus{}, staticHistory{}, nil, NewMQTTSender(out))

	_, err = c.SetConfig(context.Background(), "auto-reset-stats", "false")
	require.NoError(t, err)

	published := map[string]string{}
	for len(out) > 0 {
		msg := <-out
		assert.True(t, msg.Retain)
		published[msg.Topic] = string(msg.Payload)
	}
	assert.Equal(t, "false", published[configStateTopic("auto-reset-stats")])
	assert.Equal(t, "80", published[configStateTopic("charge-limit-percent")])
}

func TestCommanderSendHonoursContext(t *testing.T) {
	store, err := settings.Open(filepath.Join(t.TempDir(), "settings.toml"))
	require.NoError(t, err)
	c := NewCommander(store, make(chan charge.Event), staticStatus{}, staticHistory{}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, c.Override(ctx, charge.OverrideStop), context.Canceled)
}
