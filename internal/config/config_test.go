package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, content string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bridge.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_PATH", path)
}

func TestLoadFromYAML(t *testing.T) {
	writeConfigFile(t, `
http_addr: ":9000"
poll_interval_seconds: 45
log_level: debug
devices:
  - name: kitchen
    host: 10.0.0.5
  - name: office
    host: 10.0.0.6
    port: 8080
    ha_server_url: http://homeassistant.local:8123
mqtt:
  broker_url: tcp://localhost:1883
  topic_prefix: phones
`)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":9000" {
		t.Fatalf("HTTPAddr = %q", cfg.HTTPAddr)
	}
	if cfg.PollInterval() != 45*time.Second {
		t.Fatalf("PollInterval = %v", cfg.PollInterval())
	}
	if cfg.ParsedLogLevel() != slog.LevelDebug {
		t.Fatalf("level = %v", cfg.ParsedLogLevel())
	}
	if len(cfg.Devices) != 2 {
		t.Fatalf("devices = %+v", cfg.Devices)
	}
	if cfg.Devices[0].Port != 80 {
		t.Fatalf("default port not applied: %d", cfg.Devices[0].Port)
	}
	if cfg.Devices[1].Port != 8080 {
		t.Fatalf("explicit port lost: %d", cfg.Devices[1].Port)
	}
	if cfg.MQTT.BrokerURL != "tcp://localhost:1883" {
		t.Fatalf("mqtt = %+v", cfg.MQTT)
	}
}

func TestLoadEnvOnlySingleDevice(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("DEVICE_HOST", "192.168.1.40")
	t.Setenv("DEVICE_NAME", "hallway")
	t.Setenv("HA_SERVER_URL", "http://ha.local:8123")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Devices) != 1 {
		t.Fatalf("devices = %+v", cfg.Devices)
	}
	device := cfg.Devices[0]
	if device.Name != "hallway" || device.Host != "192.168.1.40" || device.Port != 80 {
		t.Fatalf("device = %+v", device)
	}
	if device.HAServerURL != "http://ha.local:8123" {
		t.Fatalf("HAServerURL = %q", device.HAServerURL)
	}
}

func TestLoadRejectsNoDevices(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := Load(); err == nil {
		t.Fatal("expected error for empty device list")
	}
}

func TestLoadRejectsDuplicateNames(t *testing.T) {
	writeConfigFile(t, `
devices:
  - name: kitchen
    host: 10.0.0.5
  - name: kitchen
    host: 10.0.0.6
`)
	if _, err := Load(); err == nil {
		t.Fatal("expected duplicate name error")
	}
}

func TestLoadRejectsBadDeviceName(t *testing.T) {
	writeConfigFile(t, `
devices:
  - name: Kitchen-
    host: 10.0.0.5
`)
	if _, err := Load(); err == nil {
		t.Fatal("expected name validation error")
	}
}

func TestEnvOverridesFile(t *testing.T) {
	writeConfigFile(t, `
http_addr: ":9000"
devices:
  - name: kitchen
    host: 10.0.0.5
`)
	t.Setenv("HTTP_ADDR", ":7000")
	t.Setenv("POLL_INTERVAL", "10s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":7000" {
		t.Fatalf("HTTPAddr = %q", cfg.HTTPAddr)
	}
	if cfg.PollInterval() != 10*time.Second {
		t.Fatalf("PollInterval = %v", cfg.PollInterval())
	}
}
