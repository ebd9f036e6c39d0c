package main

import (
	"context"
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// commandTopics are the topics chargectl accepts commands on
var commandTopics = []string{TopicOverrideSet, TopicConfigSet}

func mqttClientID() string {
	return "chargectl-" + uuid.NewString()[:8]
}

// mqttWorker manages the MQTT connection and forwards inbound commands to a channel
func mqttWorker(
	ctx context.Context,
	broker string,
	port int,
	username, password string,
	cmdChan chan<- CommandMessage,
	clientChan chan<- mqtt.Client,
) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", broker, port))
	opts.SetClientID(mqttClientID())
	opts.SetUsername(username)
	opts.SetPassword(password)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetWill(TopicAvailability, "offline", 1, true)

	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Printf("MQTT connection lost: %v\n", err)
	})

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.Printf("Connected to MQTT broker at %s:%d\n", broker, port)

		client.Publish(TopicAvailability, 1, true, "online")

		// Send the new client to the sender worker
		select {
		case clientChan <- client:
		case <-ctx.Done():
			return
		}

		for _, topic := range commandTopics {
			token := client.Subscribe(topic, 1, func(client mqtt.Client, msg mqtt.Message) {
				select {
				case cmdChan <- CommandMessage{Topic: msg.Topic(), Payload: string(msg.Payload())}:
				case <-ctx.Done():
				}
			})

			if token.Wait() && token.Error() != nil {
				log.Printf("Failed to subscribe to topic %s: %v\n", topic, token.Error())
			} else {
				log.Printf("Subscribed to topic: %s\n", topic)
			}
		}
	})

	client := mqtt.NewClient(opts)

	// With ConnectRetry the token only completes once connected, so don't wait on it
	log.Printf("Connecting to MQTT broker at %s:%d...\n", broker, port)
	client.Connect()

	<-ctx.Done()

	if client.IsConnected() {
		token := client.Publish(TopicAvailability, 1, true, "offline")
		token.WaitTimeout(time.Second)
	}
	client.Disconnect(250)
	log.Println("Disconnected from MQTT broker")
}
