package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tsuryphone/ha-bridge/addon/internal/model"
)

const (
	defaultHTTPAddr     = ":8099"
	defaultDBPath       = "/data/tsuryphone_bridge.db"
	defaultConfigPath   = "/data/bridge.yaml"
	defaultPollInterval = 30 * time.Second
)

// MQTT configures the optional broker mirror. An empty BrokerURL disables it.
type MQTT struct {
	BrokerURL   string `yaml:"broker_url"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
}

// Config stores runtime settings loaded from the YAML file and environment
// variable overrides. The poll interval is carried as whole seconds in YAML.
type Config struct {
	HTTPAddr            string               `yaml:"http_addr"`
	DBPath              string               `yaml:"db_path"`
	PollIntervalSeconds int                  `yaml:"poll_interval_seconds"`
	LogLevel            string               `yaml:"log_level"`
	Devices             []model.DeviceConfig `yaml:"devices"`
	MQTT                MQTT                 `yaml:"mqtt"`

	pollInterval time.Duration
}

// PollInterval returns the effective refresh cadence.
func (c Config) PollInterval() time.Duration { return c.pollInterval }

// Load reads the YAML config when present, applies environment overrides and
// validates the result. A missing file is fine as long as the environment
// describes at least one device.
func Load() (Config, error) {
	cfg := Config{
		HTTPAddr:     defaultHTTPAddr,
		DBPath:       defaultDBPath,
		LogLevel:     "info",
		pollInterval: defaultPollInterval,
	}

	path := getenv("CONFIG_PATH", defaultConfigPath)
	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// fall through to env-only configuration
	default:
		return Config{}, fmt.Errorf("read %s: %w", path, err)
	}

	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv layers environment variables over whatever the file provided.
// DEVICE_NAME/DEVICE_HOST are a single-device shorthand for installs that
// never write a config file.
func (c *Config) applyEnv() {
	c.HTTPAddr = getenv("HTTP_ADDR", c.HTTPAddr)
	c.DBPath = getenv("DB_PATH", c.DBPath)
	c.LogLevel = getenv("LOG_LEVEL", c.LogLevel)
	if c.PollIntervalSeconds > 0 {
		c.pollInterval = time.Duration(c.PollIntervalSeconds) * time.Second
	}
	c.pollInterval = parseDuration("POLL_INTERVAL", c.pollInterval)

	c.MQTT.BrokerURL = getenv("MQTT_BROKER_URL", c.MQTT.BrokerURL)
	c.MQTT.ClientID = getenv("MQTT_CLIENT_ID", c.MQTT.ClientID)
	c.MQTT.Username = getenv("MQTT_USERNAME", c.MQTT.Username)
	c.MQTT.Password = getenv("MQTT_PASSWORD", c.MQTT.Password)
	c.MQTT.TopicPrefix = getenv("MQTT_TOPIC_PREFIX", c.MQTT.TopicPrefix)

	host := getenv("DEVICE_HOST", "")
	if host == "" {
		return
	}
	device := model.DeviceConfig{
		Name:        getenv("DEVICE_NAME", "tsuryphone"),
		Host:        host,
		Port:        parseInt("DEVICE_PORT", model.DefaultDevicePort),
		HAServerURL: getenv("HA_SERVER_URL", ""),
	}
	c.Devices = append(c.Devices, device)
}

func (c *Config) validate() error {
	if len(c.Devices) == 0 {
		return fmt.Errorf("no devices configured")
	}
	if c.pollInterval <= 0 {
		c.pollInterval = defaultPollInterval
	}
	seen := make(map[string]bool, len(c.Devices))
	for i := range c.Devices {
		device := &c.Devices[i]
		if device.Port == 0 {
			device.Port = model.DefaultDevicePort
		}
		if err := device.Validate(); err != nil {
			return fmt.Errorf("device %d: %w", i, err)
		}
		if seen[device.Name] {
			return fmt.Errorf("duplicate device name %q", device.Name)
		}
		seen[device.Name] = true
	}
	return nil
}

// ParsedLogLevel maps the textual level onto slog.
func (c Config) ParsedLogLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// DBDir returns the target directory for DBPath.
func (c Config) DBDir() string {
	return filepath.Dir(c.DBPath)
}

func getenv(key string, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func parseDuration(key string, fallback time.Duration) time.Duration {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}

func parseInt(key string, fallback int) int {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}
