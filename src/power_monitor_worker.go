package main

import (
	"context"
	"log"
	"time"

	"github.com/ryansname/chargectl/src/charge"
)

// PowerSource is satisfied by *powersupply.Probe
type PowerSource interface {
	ReadSample() (charge.BatterySample, error)
	IsPlugged() bool
}

// powerMonitor turns polled readings into controller events
type powerMonitor struct {
	source  PowerSource
	plugged *bool // last observed plug state, nil before the first poll
}

// poll returns the events for one reading: the sample first, then a connection
// change if the plug state differs from the previous poll.
func (m *powerMonitor) poll() []charge.Event {
	var events []charge.Event
	if s, err := m.source.ReadSample(); err != nil {
		log.Printf("Power monitor: %v\n", err)
	} else {
		events = append(events, charge.SampleEvent{Sample: s})
	}

	plugged := m.source.IsPlugged()
	if m.plugged == nil || *m.plugged != plugged {
		if m.plugged != nil {
			log.Printf("Power monitor: plugged %v -> %v\n", *m.plugged, plugged)
		}
		events = append(events, charge.ConnectionEvent{Connected: plugged})
	}
	m.plugged = &plugged
	return events
}

// powerMonitorWorker polls the power supply and feeds samples and plug changes to the controller
func powerMonitorWorker(ctx context.Context, interval time.Duration, source PowerSource, eventChan chan<- charge.Event) {
	log.Printf("Power monitor started (every %v)\n", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m := &powerMonitor{source: source}
	for {
		for _, ev := range m.poll() {
			select {
			case eventChan <- ev:
			case <-ctx.Done():
				return
			}
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			log.Println("Power monitor stopped")
			return
		}
	}
}
