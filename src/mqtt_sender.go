package main

import (
	"context"
	"encoding/json"
	"log"
	"strconv"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/ryansname/chargectl/src/charge"
	"github.com/ryansname/chargectl/src/settings"
)

// maxQueuedMessages bounds the backlog kept while the broker is unreachable
const maxQueuedMessages = 500

// MQTTMessage represents an outgoing MQTT message
type MQTTMessage struct {
	Topic   string
	Payload []byte
	QoS     byte
	Retain  bool
}

// MQTTSender wraps a channel for sending MQTT messages with helper methods.
// A nil *MQTTSender drops everything, which is how MQTT is disabled.
type MQTTSender struct {
	ch chan<- MQTTMessage
}

// NewMQTTSender creates a new MQTTSender wrapping the given channel
func NewMQTTSender(ch chan<- MQTTMessage) *MQTTSender {
	return &MQTTSender{ch: ch}
}

// Send sends a raw MQTTMessage
func (s *MQTTSender) Send(msg MQTTMessage) {
	if s == nil {
		return
	}
	s.ch <- msg
}

// PublishState publishes the retained controller state
func (s *MQTTSender) PublishState(state StatePayload) {
	payload, err := json.Marshal(state)
	if err != nil {
		log.Printf("Failed to encode state: %v\n", err)
		return
	}
	s.Send(MQTTMessage{Topic: TopicState, Payload: payload, QoS: 1, Retain: true})
}

// PublishConfig publishes every configuration value to its retained state topic
func (s *MQTTSender) PublishConfig(cfg charge.Configuration) {
	for key, value := range settings.Format(cfg) {
		s.Send(MQTTMessage{Topic: configStateTopic(key), Payload: []byte(value), QoS: 1, Retain: true})
	}
}

type haDeviceConfig struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Model        string   `json:"model,omitempty"`
}

// haEntityConfig covers the fields of every entity type chargectl announces
type haEntityConfig struct {
	Name                string         `json:"name"`
	UniqueId            string         `json:"unique_id"`
	Icon                string         `json:"icon,omitempty"`
	DeviceClass         string         `json:"device_class,omitempty"`
	StateTopic          string         `json:"state_topic,omitempty"`
	CommandTopic        string         `json:"command_topic,omitempty"`
	JsonAttributesTopic string         `json:"json_attributes_topic,omitempty"`
	ValueTemplate       string         `json:"value_template,omitempty"`
	UnitOfMeasure       string         `json:"unit_of_measurement,omitempty"`
	StateClass          string         `json:"state_class,omitempty"`
	PayloadPress        string         `json:"payload_press,omitempty"`
	PayloadOn           string         `json:"payload_on,omitempty"`
	PayloadOff          string         `json:"payload_off,omitempty"`
	StateOn             string         `json:"state_on,omitempty"`
	StateOff            string         `json:"state_off,omitempty"`
	Min                 *int           `json:"min,omitempty"`
	Max                 *int           `json:"max,omitempty"`
	Step                int            `json:"step,omitempty"`
	Mode                string         `json:"mode,omitempty"`
	AvailabilityTopic   string         `json:"availability_topic"`
	Device              haDeviceConfig `json:"device"`
}

type haEntity struct {
	component string
	object    string
	config    haEntityConfig
}

func (e haEntity) topic() string {
	return "homeassistant/" + e.component + "/chargectl_" + e.object + "/config"
}

func intPtr(v int) *int { return &v }

// discoveryEntities lists the Home Assistant entities for the controller
func discoveryEntities() []haEntity {
	device := haDeviceConfig{
		Identifiers:  []string{"chargectl"},
		Name:         "Chargectl",
		Manufacturer: "Custom",
		Model:        "Battery charge controller",
	}
	base := func(name, object string) haEntityConfig {
		return haEntityConfig{
			Name:              name,
			UniqueId:          "chargectl_" + object,
			AvailabilityTopic: TopicAvailability,
			Device:            device,
		}
	}

	var entities []haEntity

	state := base("Charge State", "state")
	state.Icon = "mdi:battery-charging"
	state.StateTopic = TopicState
	state.ValueTemplate = "{{ value_json.state }}"
	state.JsonAttributesTopic = TopicState
	entities = append(entities, haEntity{"sensor", "state", state})

	level := base("Battery Level", "level")
	level.DeviceClass = "battery"
	level.StateTopic = TopicState
	level.ValueTemplate = "{{ value_json.level }}"
	level.UnitOfMeasure = "%"
	level.StateClass = "measurement"
	entities = append(entities, haEntity{"sensor", "level", level})

	for _, b := range []struct {
		kind charge.OverrideKind
		name string
		icon string
	}{
		{charge.OverrideStop, "Stop Charging", "mdi:battery-off"},
		{charge.OverrideCharge, "Resume Charging", "mdi:battery-charging"},
		{charge.OverrideBoost, "Boost Charging", "mdi:battery-arrow-up"},
	} {
		button := base(b.name, b.kind.String())
		button.Icon = b.icon
		button.CommandTopic = TopicOverrideSet
		button.PayloadPress = b.kind.String()
		entities = append(entities, haEntity{"button", b.kind.String(), button})
	}

	for _, s := range []struct {
		field charge.ConfigField
		name  string
		icon  string
	}{
		{charge.FieldEnabled, "Charge Limit", "mdi:battery-lock"},
		{charge.FieldAutoResetStats, "Reset Stats When Full", "mdi:chart-line"},
	} {
		key := s.field.Key()
		sw := base(s.name, key)
		sw.Icon = s.icon
		sw.CommandTopic = configSetTopic(key)
		sw.StateTopic = configStateTopic(key)
		sw.PayloadOn, sw.PayloadOff = "true", "false"
		sw.StateOn, sw.StateOff = "true", "false"
		entities = append(entities, haEntity{"switch", key, sw})
	}

	for _, n := range []struct {
		field    charge.ConfigField
		name     string
		min, max int
	}{
		{charge.FieldLimit, "Charge Limit Percent", 1, 100},
		{charge.FieldRechargeThreshold, "Recharge Threshold Percent", 0, 99},
	} {
		key := n.field.Key()
		num := base(n.name, key)
		num.CommandTopic = configSetTopic(key)
		num.StateTopic = configStateTopic(key)
		num.UnitOfMeasure = "%"
		num.Min, num.Max = intPtr(n.min), intPtr(n.max)
		num.Step = 1
		num.Mode = "box"
		entities = append(entities, haEntity{"number", key, num})
	}

	return entities
}

// CreateDiscoveryEntities announces the controller to Home Assistant via MQTT discovery
func (s *MQTTSender) CreateDiscoveryEntities() error {
	for _, e := range discoveryEntities() {
		payload, err := json.Marshal(e.config)
		if err != nil {
			return err
		}
		s.Send(MQTTMessage{
			Topic:   e.topic(),
			Payload: payload,
			QoS:     2,
			Retain:  true,
		})
	}
	return nil
}

// enqueue appends msg, dropping the oldest message once the queue is full
func enqueue(queue []MQTTMessage, msg MQTTMessage) []MQTTMessage {
	if len(queue) >= maxQueuedMessages {
		log.Printf("MQTT queue full, dropping message to %s\n", queue[0].Topic)
		queue = queue[1:]
	}
	return append(queue, msg)
}

func publish(client mqtt.Client, msg MQTTMessage) {
	token := client.Publish(msg.Topic, msg.QoS, msg.Retain, msg.Payload)
	token.Wait()
	if token.Error() != nil {
		log.Printf("Failed to publish to %s: %v\n", msg.Topic, token.Error())
	}
}

// mqttSenderWorker handles outgoing MQTT messages, queuing them until a client is connected
func mqttSenderWorker(
	ctx context.Context,
	outgoingChan <-chan MQTTMessage,
	clientChan <-chan mqtt.Client,
) {
	log.Println("MQTT sender worker started")

	var client mqtt.Client
	var messageQueue []MQTTMessage

	for {
		select {
		case newClient := <-clientChan:
			log.Println("MQTT sender worker received new client")
			client = newClient

			// Process any queued messages now that we have a client
			if client != nil && client.IsConnected() {
				queuedCount := len(messageQueue)
				for _, msg := range messageQueue {
					publish(client, msg)
				}
				messageQueue = nil
				if queuedCount > 0 {
					log.Printf("MQTT sender worker processed %d queued messages\n", queuedCount)
				}
			}

		case msg := <-outgoingChan:
			if client != nil && client.IsConnected() {
				publish(client, msg)
			} else {
				messageQueue = enqueue(messageQueue, msg)
			}

		case <-ctx.Done():
			log.Println("MQTT sender worker stopped")
			return
		}
	}
}

// formatLevel renders an optional battery level for logs and the console
func formatLevel(level *int) string {
	if level == nil {
		return "?"
	}
	return strconv.Itoa(*level) + "%"
}
