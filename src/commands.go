package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/ryansname/chargectl/src/charge"
	"github.com/ryansname/chargectl/src/journal"
	"github.com/ryansname/chargectl/src/settings"
)

// MQTT topics owned by chargectl
const (
	TopicState        = "chargectl/state"
	TopicAvailability = "chargectl/availability"
	TopicOverrideSet  = "chargectl/override/set"
	TopicConfigSet    = "chargectl/config/+/set"
)

func configSetTopic(key string) string   { return "chargectl/config/" + key + "/set" }
func configStateTopic(key string) string { return "chargectl/config/" + key + "/state" }

// Overrides are rate limited so a stuck button can't hammer the charger
const (
	overrideRate  = 2 * time.Second
	overrideBurst = 3
)

var ErrRateLimited = errors.New("override rate limited")

// CommandMessage is an inbound MQTT command
type CommandMessage struct {
	Topic   string
	Payload string
}

// StatusSource is satisfied by *charge.Controller
type StatusSource interface {
	Status() charge.Status
}

// HistorySource is satisfied by *journal.Journal
type HistorySource interface {
	Recent(n int) ([]journal.Entry, error)
}

// ChargerReader is satisfied by *privio.ChargerControl
type ChargerReader interface {
	Enabled() (enabled, ok bool)
}

// Commander turns operator commands (MQTT or console) into controller events
type Commander struct {
	store   *settings.Store
	events  chan<- charge.Event
	status  StatusSource
	history HistorySource
	charger ChargerReader // nil when the control point can't be read back
	sender  *MQTTSender
	limiter *rate.Limiter
}

func NewCommander(
	store *settings.Store,
	events chan<- charge.Event,
	status StatusSource,
	history HistorySource,
	charger ChargerReader,
	sender *MQTTSender,
) *Commander {
	return &Commander{
		store:   store,
		events:  events,
		status:  status,
		history: history,
		charger: charger,
		sender:  sender,
		limiter: rate.NewLimiter(rate.Every(overrideRate), overrideBurst),
	}
}

// Override queues a user override for the controller
func (c *Commander) Override(ctx context.Context, kind charge.OverrideKind) error {
	if !c.limiter.Allow() {
		return fmt.Errorf("%w: %s", ErrRateLimited, kind)
	}
	return c.send(ctx, charge.OverrideEvent{Kind: kind})
}

// SetConfig persists a setting and hands the new configuration to the controller
func (c *Commander) SetConfig(ctx context.Context, key, value string) (charge.Configuration, error) {
	ev, err := c.store.Set(key, value)
	if err != nil {
		return charge.Configuration{}, err
	}
	if err := ev.Config.Validate(); err != nil {
		log.Printf("Commander: %s=%s accepted but %v\n", key, value, err)
	}
	c.sender.PublishConfig(ev.Config)
	return ev.Config, c.send(ctx, ev)
}

func (c *Commander) Status() charge.Status {
	return c.status.Status()
}

func (c *Commander) History(n int) ([]journal.Entry, error) {
	return c.history.Recent(n)
}

func (c *Commander) Configuration() charge.Configuration {
	return c.store.Configuration()
}

// Values returns the persisted settings keyed by name
func (c *Commander) Values() map[string]string {
	return c.store.Values()
}

// ChargerFile reports what the charge-enable control point currently holds
func (c *Commander) ChargerFile() string {
	if c.charger == nil {
		return "not readable"
	}
	enabled, ok := c.charger.Enabled()
	switch {
	case !ok:
		return "unreadable"
	case enabled:
		return "enabled"
	}
	return "disabled"
}

func (c *Commander) send(ctx context.Context, ev charge.Event) error {
	select {
	case c.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// parseCommandTopic splits an inbound topic into the override or config key it targets
func parseCommandTopic(topic string) (override bool, key string, ok bool) {
	parts := strings.Split(topic, "/")
	switch {
	case topic == TopicOverrideSet:
		return true, "", true
	case len(parts) == 4 && parts[0] == "chargectl" && parts[1] == "config" && parts[3] == "set" && parts[2] != "":
		return false, parts[2], true
	}
	return false, "", false
}

// handleMQTTCommand applies one inbound command
func handleMQTTCommand(ctx context.Context, msg CommandMessage, c *Commander) error {
	override, key, ok := parseCommandTopic(msg.Topic)
	if !ok {
		return fmt.Errorf("unexpected command topic %s", msg.Topic)
	}
	payload := strings.TrimSpace(msg.Payload)
	if override {
		kind, err := charge.ParseOverrideKind(strings.ToLower(payload))
		if err != nil {
			return err
		}
		return c.Override(ctx, kind)
	}
	_, err := c.SetConfig(ctx, key, payload)
	return err
}

// commandWorker applies MQTT commands in arrival order
func commandWorker(ctx context.Context, cmdChan <-chan CommandMessage, commander *Commander) {
	log.Println("Command worker started")
	for {
		select {
		case msg := <-cmdChan:
			if err := handleMQTTCommand(ctx, msg, commander); err != nil {
				log.Printf("Command %s=%q rejected: %v\n", msg.Topic, msg.Payload, err)
			} else {
				log.Printf("Command %s=%q applied\n", msg.Topic, msg.Payload)
			}
		case <-ctx.Done():
			log.Println("Command worker stopped")
			return
		}
	}
}
