package main

import (
	"context"
	"log"
	"reflect"
	"time"

	"github.com/ryansname/chargectl/src/charge"
)

// Notification is what a user-facing renderer shows for a control state
type Notification struct {
	Text    string
	Visible bool
	Actions []charge.OverrideKind
}

func notificationFor(state charge.ControlState) Notification {
	switch state {
	case charge.StateCharging:
		return Notification{Text: "Charging", Visible: true,
			Actions: []charge.OverrideKind{charge.OverrideStop, charge.OverrideBoost}}
	case charge.StateBoost:
		return Notification{Text: "Boost Charging", Visible: true,
			Actions: []charge.OverrideKind{charge.OverrideStop}}
	case charge.StateStop:
		return Notification{Text: "Charging limit reached", Visible: true,
			Actions: []charge.OverrideKind{charge.OverrideBoost}}
	case charge.StateStopForced:
		return Notification{Text: "Charging interrupted by user", Visible: true,
			Actions: []charge.OverrideKind{charge.OverrideCharge, charge.OverrideBoost}}
	}
	return Notification{}
}

// StatePayload is the retained JSON published on TopicState
type StatePayload struct {
	State             string   `json:"state"`
	Text              string   `json:"text"`
	Visible           bool     `json:"visible"`
	Actions           []string `json:"actions"`
	Connection        string   `json:"connection"`
	Level             *int     `json:"level"`
	Charging          bool     `json:"charging"`
	ChangedAt         string   `json:"changed_at,omitempty"`
	ChargeLimit       int      `json:"charge_limit"`
	RechargeThreshold int      `json:"recharge_threshold"`
	LimitEnabled      bool     `json:"limit_enabled"`
}

func buildStatePayload(st charge.Status) StatePayload {
	n := notificationFor(st.Control)
	actions := make([]string, 0, len(n.Actions))
	for _, a := range n.Actions {
		actions = append(actions, a.String())
	}
	p := StatePayload{
		State:             st.Control.String(),
		Text:              n.Text,
		Visible:           n.Visible,
		Actions:           actions,
		Connection:        st.Connection.String(),
		ChargeLimit:       st.Config.LimitPercent,
		RechargeThreshold: st.Config.RechargeThresholdPercent,
		LimitEnabled:      st.Config.Enabled,
	}
	if st.HaveSample {
		level := st.LastSample.LevelPercent
		p.Level = &level
		p.Charging = st.LastSample.IsCharging
	}
	if !st.ChangedAt.IsZero() {
		p.ChangedAt = st.ChangedAt.UTC().Format(time.RFC3339)
	}
	return p
}

// notifierWorker publishes the controller state on every transition, and on each
// refresh tick if anything (such as the battery level) has changed since.
func notifierWorker(
	ctx context.Context,
	transitions <-chan charge.Transition,
	refresh time.Duration,
	src StatusSource,
	sender *MQTTSender,
) {
	log.Println("Notifier worker started")
	ticker := time.NewTicker(refresh)
	defer ticker.Stop()

	var last *StatePayload
	publish := func() {
		p := buildStatePayload(src.Status())
		if last != nil && reflect.DeepEqual(*last, p) {
			return
		}
		if last == nil || last.Text != p.Text {
			if p.Visible {
				log.Printf("Notification: %s (battery %s)\n", p.Text, formatLevel(p.Level))
			} else {
				log.Println("Notification: hidden")
			}
		}
		sender.PublishState(p)
		last = &p
	}

	publish()
	for {
		select {
		case <-transitions:
			publish()
		case <-ticker.C:
			publish()
		case <-ctx.Done():
			log.Println("Notifier worker stopped")
			return
		}
	}
}
