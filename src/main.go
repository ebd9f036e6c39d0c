package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/joho/godotenv"

	"github.com/ryansname/chargectl/src/charge"
	"github.com/ryansname/chargectl/src/journal"
	"github.com/ryansname/chargectl/src/powersupply"
	"github.com/ryansname/chargectl/src/privio"
	"github.com/ryansname/chargectl/src/relay"
	"github.com/ryansname/chargectl/src/settings"
)

// SafeGo launches a goroutine with panic recovery and retry logic.
// On panic, retries with exponential backoff (max 10 retries).
// Retry count resets if worker ran for 2+ minutes before failing.
// After exhausting retries, cancels context to trigger shutdown.
func SafeGo(
	ctx context.Context,
	cancel context.CancelFunc,
	name string,
	fn func(ctx context.Context),
) {
	const maxRetries = 10
	const maxDelay = 10 * time.Minute
	const resetAfter = 2 * time.Minute

	go func() {
		retries := 0
		delay := time.Second

		for {
			startTime := time.Now()
			var panicValue any

			func() {
				defer func() {
					panicValue = recover()
				}()
				fn(ctx)
			}()

			// If function returned normally (no panic), exit the goroutine
			// This covers both context cancellation and unexpected completion
			if panicValue == nil {
				return
			}

			// If ran for resetAfter duration before panicking, reset retry state
			if time.Since(startTime) >= resetAfter {
				retries = 0
				delay = time.Second
			}

			retries++
			log.Printf("Panic in %s (attempt %d/%d): %v\n", name, retries, maxRetries, panicValue)

			// Check if we've exhausted retries
			if retries >= maxRetries {
				log.Printf("%s failed after %d retries, shutting down\n", name, maxRetries)
				cancel()
				return
			}

			// Wait before retry with exponential backoff
			log.Printf("%s will retry in %v\n", name, delay)
			select {
			case <-time.After(delay):
				// Double delay for next time, cap at max
				delay = min(delay*2, maxDelay)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// openChargerSwitch picks the GPIO relay when one is configured, otherwise the sysfs control file
func openChargerSwitch(cfg AppConfig, pio *privio.IO) (charge.ChargerSwitch, func(), error) {
	if cfg.ChargerGPIO == "" {
		log.Printf("Charger control file: %s\n", cfg.ControlFile)
		return privio.NewChargerControl(pio, cfg.ControlFile), func() {}, nil
	}
	spec, err := relay.ParseSpec(cfg.ChargerGPIO, cfg.ChargerGPIOActiveLow)
	if err != nil {
		return nil, nil, err
	}
	r, err := relay.Open(spec)
	if err != nil {
		return nil, nil, err
	}
	log.Printf("Charger relay: %s\n", spec)
	return r, func() {
		if err := r.Close(); err != nil {
			log.Printf("Failed to release charger relay: %v\n", err)
		}
	}, nil
}

func main() {
	log.Println("Starting chargectl...")

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: Error loading .env file: %v\n", err)
	}

	appConfig, err := loadAppConfig(os.Getenv)
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	store, err := settings.Open(appConfig.SettingsPath)
	if err != nil {
		log.Fatalf("Failed to load settings from %s: %v", appConfig.SettingsPath, err)
	}
	log.Printf("Settings: %s\n", appConfig.SettingsPath)

	if err := os.MkdirAll(filepath.Dir(appConfig.JournalPath), 0750); err != nil {
		log.Fatalf("Failed to create journal directory: %v", err)
	}
	jnl, err := journal.Open(appConfig.JournalPath)
	if err != nil {
		log.Fatalf("Failed to open journal %s: %v", appConfig.JournalPath, err)
	}
	defer func() { _ = jnl.Close() }()

	// Create context for lifecycle management
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shell := privio.NewRootShell(appConfig.SUCommand)
	SafeGo(ctx, cancel, "root-shell", shell.Serve)
	pio := privio.New(shell)

	chargerSwitch, closeSwitch, err := openChargerSwitch(appConfig, pio)
	if err != nil {
		cancel()
		log.Fatalf("Failed to open charger switch: %v", err)
	}
	defer closeSwitch()

	probe := powersupply.NewProbe(appConfig.PowerSupplyDir, appConfig.BatteryNode, pio, pio)
	if supplies, err := probe.Supplies(); err != nil {
		log.Printf("Failed to list power supplies: %v\n", err)
	} else {
		log.Printf("Power supplies: %v\n", supplies)
	}

	ctl := charge.NewController(store.Configuration(), charge.Options{
		Switch:        chargerSwitch,
		Probe:         probe,
		StatsResetter: privio.NewStatsReset(pio, appConfig.StatsResetCommand),
		Sampler:       probe,
	})

	// Create channels for communication between workers
	eventChan := make(chan charge.Event, 10)
	transitionChan := make(chan charge.Transition, 10)
	notifierChan := make(chan charge.Transition, 10)
	journalChan := make(chan charge.Transition, 10)
	downstreamChans := []chan<- charge.Transition{notifierChan, journalChan}
	commandChan := make(chan CommandMessage, 10)

	var consoleChan chan charge.Transition
	if appConfig.Console {
		consoleChan = make(chan charge.Transition, 10)
		downstreamChans = append(downstreamChans, consoleChan)
	}

	unsubscribe := subscribeTransitions(ctl, transitionChan)
	defer unsubscribe()

	SafeGo(ctx, cancel, "broadcast-worker", func(ctx context.Context) {
		broadcastWorker(ctx, transitionChan, downstreamChans)
	})

	// MQTT is optional; a nil sender drops everything
	var mqttSender *MQTTSender
	if appConfig.MQTTHost != "" {
		mqttOutgoingChan := make(chan MQTTMessage, 100) // Larger buffer for queuing
		mqttClientChan := make(chan mqtt.Client, 1)     // Buffered to prevent blocking onConnect

		SafeGo(ctx, cancel, "mqtt-sender-worker", func(ctx context.Context) {
			mqttSenderWorker(ctx, mqttOutgoingChan, mqttClientChan)
		})
		mqttSender = NewMQTTSender(mqttOutgoingChan)

		log.Println("Creating Home Assistant entities...")
		if err := mqttSender.CreateDiscoveryEntities(); err != nil {
			cancel()
			log.Fatalf("Failed to create Home Assistant entities: %v", err)
		}
		mqttSender.PublishConfig(store.Configuration())

		SafeGo(ctx, cancel, "mqtt-worker", func(ctx context.Context) {
			mqttWorker(ctx, appConfig.MQTTHost, appConfig.MQTTPort,
				appConfig.MQTTUsername, appConfig.MQTTPassword, commandChan, mqttClientChan)
		})
	} else {
		log.Println("MQTT_HOST not set, MQTT disabled")
	}

	chargerReader, _ := chargerSwitch.(ChargerReader)
	commander := NewCommander(store, eventChan, ctl, jnl, chargerReader, mqttSender)

	SafeGo(ctx, cancel, "notifier-worker", func(ctx context.Context) {
		notifierWorker(ctx, notifierChan, appConfig.PollInterval, ctl, mqttSender)
	})
	SafeGo(ctx, cancel, "journal-worker", func(ctx context.Context) {
		journalWorker(ctx, journalChan, jnl)
	})
	SafeGo(ctx, cancel, "event-worker", func(ctx context.Context) {
		eventWorker(ctx, eventChan, ctl)
	})
	SafeGo(ctx, cancel, "command-worker", func(ctx context.Context) {
		commandWorker(ctx, commandChan, commander)
	})
	if consoleChan != nil {
		SafeGo(ctx, cancel, "console-worker", func(ctx context.Context) {
			consoleWorker(ctx, cancel, commander, consoleChan)
		})
	}

	ctl.Start()

	SafeGo(ctx, cancel, "power-monitor", func(ctx context.Context) {
		powerMonitorWorker(ctx, appConfig.PollInterval, probe, eventChan)
	})

	// Wait for interrupt signal or context cancellation (from panic)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		log.Println("\nShutting down...")
	case <-ctx.Done():
		log.Println("\nShutting down due to error...")
	}

	// Leave the charger enabled before the root shell drains its last writes
	ctl.Close()
	cancel()

	select {
	case <-shell.Done():
	case <-time.After(privio.FlushTimeout + time.Second):
		log.Println("Timed out waiting for root shell to flush")
	}
}
