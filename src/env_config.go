package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/ryansname/chargectl/src/powersupply"
	"github.com/ryansname/chargectl/src/privio"
)

const (
	DefaultControlFile  = "/sys/class/power_supply/battery/charging_enabled"
	DefaultPollInterval = 30 * time.Second
	DefaultMQTTPort     = 1883
)

// AppConfig is read from the environment (and .env) at startup
type AppConfig struct {
	MQTTHost     string // empty disables MQTT
	MQTTPort     int
	MQTTUsername string
	MQTTPassword string

	SettingsPath string
	JournalPath  string

	PowerSupplyDir string
	BatteryNode    string
	ControlFile    string

	ChargerGPIO          string // "<chip>:<offset>", empty uses ControlFile
	ChargerGPIOActiveLow bool

	SUCommand         string
	StatsResetCommand string
	PollInterval      time.Duration
	Console           bool
}

func loadAppConfig(getenv func(string) string) (AppConfig, error) {
	cfg := AppConfig{
		MQTTHost:          getenv("MQTT_HOST"),
		MQTTPort:          DefaultMQTTPort,
		MQTTUsername:      getenv("MQTT_USERNAME"),
		MQTTPassword:      getenv("MQTT_PASSWORD"),
		SettingsPath:      getenv("CHARGECTL_SETTINGS"),
		JournalPath:       getenv("CHARGECTL_JOURNAL"),
		PowerSupplyDir:    orDefault(getenv("POWER_SUPPLY_DIR"), powersupply.DefaultDir),
		BatteryNode:       orDefault(getenv("BATTERY_NODE"), powersupply.DefaultBatteryNode),
		ControlFile:       orDefault(getenv("CONTROL_FILE"), DefaultControlFile),
		ChargerGPIO:       getenv("CHARGER_GPIO"),
		SUCommand:         orDefault(getenv("SU_COMMAND"), privio.DefaultShellCommand),
		StatsResetCommand: orDefault(getenv("STATS_RESET_COMMAND"), privio.DefaultStatsResetCommand),
		PollInterval:      DefaultPollInterval,
	}

	if v := getenv("MQTT_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port <= 0 || port > 65535 {
			return AppConfig{}, fmt.Errorf("MQTT_PORT: invalid port %q", v)
		}
		cfg.MQTTPort = port
	}
	if cfg.MQTTHost != "" && (cfg.MQTTUsername == "" || cfg.MQTTPassword == "") {
		return AppConfig{}, fmt.Errorf("MQTT_USERNAME and MQTT_PASSWORD must be set when MQTT_HOST is")
	}

	if v := getenv("POLL_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return AppConfig{}, fmt.Errorf("POLL_INTERVAL: %w", err)
		}
		if d < time.Second {
			return AppConfig{}, fmt.Errorf("POLL_INTERVAL: %v is below 1s", d)
		}
		cfg.PollInterval = d
	}

	var err error
	if cfg.ChargerGPIOActiveLow, err = parseEnvBool(getenv, "CHARGER_GPIO_ACTIVE_LOW"); err != nil {
		return AppConfig{}, err
	}
	if cfg.Console, err = parseEnvBool(getenv, "CHARGECTL_CONSOLE"); err != nil {
		return AppConfig{}, err
	}

	if cfg.SettingsPath == "" {
		cfg.SettingsPath = filepath.Join(xdgDir(getenv, "XDG_CONFIG_HOME", ".config"), "chargectl", "settings.toml")
	}
	if cfg.JournalPath == "" {
		cfg.JournalPath = filepath.Join(xdgDir(getenv, "XDG_STATE_HOME", filepath.Join(".local", "state")), "chargectl", "journal.db")
	}
	return cfg, nil
}

func parseEnvBool(getenv func(string) string, key string) (bool, error) {
	v := getenv(key)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

// xdgDir resolves an XDG base directory, falling back to $HOME/<fallback>
func xdgDir(getenv func(string) string, key, fallback string) string {
	if dir := getenv(key); dir != "" {
		return dir
	}
	home := getenv("HOME")
	if home == "" {
		var err error
		if home, err = os.UserHomeDir(); err != nil {
			return "."
		}
	}
	return filepath.Join(home, fallback)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
