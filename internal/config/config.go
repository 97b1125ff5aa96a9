// Package config handles Sleepside configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./sleepside.yaml, ~/.config/sleepside/config.yaml,
// /etc/sleepside/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"sleepside.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "sleepside", "config.yaml"))
	}

	paths = append(paths, "/etc/sleepside/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Sleepside configuration.
type Config struct {
	Account  AccountConfig `yaml:"account"`
	API      APIConfig     `yaml:"api"`
	Poll     PollConfig    `yaml:"poll"`
	MQTT     MQTTConfig    `yaml:"mqtt"`
	DataDir  string        `yaml:"data_dir"`
	LogLevel string        `yaml:"log_level"`
}

// AccountConfig holds the vendor cloud account credentials. The
// timezone is an IANA location string passed through to the trends
// endpoint; it does not affect local session timestamps.
type AccountConfig struct {
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
	Timezone string `yaml:"timezone"`
}

// APIConfig overrides the cloud API endpoint. Leave BaseURL empty for
// the production endpoint; tests point it at an httptest server.
type APIConfig struct {
	BaseURL string `yaml:"base_url"`
}

// PollConfig controls the two polling cadences: the frequent device
// snapshot poll and the slower per-user intervals refresh.
type PollConfig struct {
	DeviceIntervalSec    int `yaml:"device_interval_sec"`    // default 60
	IntervalsIntervalSec int `yaml:"intervals_interval_sec"` // default 300
}

// MQTTConfig defines the optional Home Assistant MQTT bridge.
type MQTTConfig struct {
	Enabled            bool   `yaml:"enabled"`
	Broker             string `yaml:"broker"` // e.g. mqtt://host:1883
	Username           string `yaml:"username"`
	Password           string `yaml:"password"`
	DeviceName         string `yaml:"device_name"`
	DiscoveryPrefix    string `yaml:"discovery_prefix"`
	PublishIntervalSec int    `yaml:"publish_interval_sec"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables so credentials can live outside
	// the file (e.g. password: ${SLEEPSIDE_PASSWORD}).
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Poll: PollConfig{
			DeviceIntervalSec:    60,
			IntervalsIntervalSec: 300,
		},
		MQTT: MQTTConfig{
			DeviceName:         "sleepside",
			DiscoveryPrefix:    "homeassistant",
			PublishIntervalSec: 60,
		},
		DataDir: ".",
	}
}
