package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sleepside.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestFindConfig_Explicit(t *testing.T) {
	path := writeConfig(t, "log_level: debug\n")

	found, err := FindConfig(path)
	if err != nil {
		t.Fatalf("FindConfig() error: %v", err)
	}
	if found != path {
		t.Errorf("FindConfig() = %q, want %q", found, path)
	}
}

func TestFindConfig_ExplicitMissing(t *testing.T) {
	if _, err := FindConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("FindConfig() with a missing explicit path succeeded, want error")
	}
}

func TestFindConfig_SearchesCWD(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "sleepside.yaml"), []byte("log_level: info\n"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	orig, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	defer os.Chdir(orig)

	found, err := FindConfig("")
	if err != nil {
		t.Fatalf("FindConfig() error: %v", err)
	}
	if found != "sleepside.yaml" {
		t.Errorf("FindConfig() = %q, want sleepside.yaml", found)
	}
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
account:
  email: user@example.com
  password: hunter2
  timezone: America/Chicago
poll:
  device_interval_sec: 30
mqtt:
  enabled: true
  broker: mqtt://broker.local:1883
log_level: debug
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Account.Email != "user@example.com" {
		t.Errorf("Account.Email = %q", cfg.Account.Email)
	}
	if cfg.Account.Timezone != "America/Chicago" {
		t.Errorf("Account.Timezone = %q", cfg.Account.Timezone)
	}
	if cfg.Poll.DeviceIntervalSec != 30 {
		t.Errorf("Poll.DeviceIntervalSec = %d, want 30", cfg.Poll.DeviceIntervalSec)
	}

	// Fields absent from the file keep their defaults.
	if cfg.Poll.IntervalsIntervalSec != 300 {
		t.Errorf("Poll.IntervalsIntervalSec = %d, want default 300", cfg.Poll.IntervalsIntervalSec)
	}
	if cfg.MQTT.DeviceName != "sleepside" {
		t.Errorf("MQTT.DeviceName = %q, want default sleepside", cfg.MQTT.DeviceName)
	}
	if cfg.MQTT.DiscoveryPrefix != "homeassistant" {
		t.Errorf("MQTT.DiscoveryPrefix = %q, want default homeassistant", cfg.MQTT.DiscoveryPrefix)
	}
	if cfg.DataDir != "." {
		t.Errorf("DataDir = %q, want default .", cfg.DataDir)
	}
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	os.Setenv("SLEEPSIDE_TEST_PASSWORD", "secret-from-env")
	defer os.Unsetenv("SLEEPSIDE_TEST_PASSWORD")

	path := writeConfig(t, `
account:
  email: user@example.com
  password: ${SLEEPSIDE_TEST_PASSWORD}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Account.Password != "secret-from-env" {
		t.Errorf("Account.Password = %q, want secret-from-env", cfg.Account.Password)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("Load() of a missing file succeeded, want error")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "account: [not: valid\n")
	if _, err := Load(path); err == nil {
		t.Error("Load() of invalid YAML succeeded, want error")
	}
}
