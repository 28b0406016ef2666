package model

import (
	"fmt"
	"regexp"
	"strings"
)

const DefaultDevicePort = 80

var deviceNamePattern = regexp.MustCompile(`^[a-z][a-z0-9-]*$`)

// DeviceConfig describes one TsuryPhone appliance managed by this process.
type DeviceConfig struct {
	Name        string `yaml:"name" json:"name"`
	Host        string `yaml:"host" json:"host"`
	Port        int    `yaml:"port" json:"port"`
	HAServerURL string `yaml:"ha_server_url" json:"ha_server_url,omitempty"`
}

func (c DeviceConfig) portOrDefault() int {
	if c.Port <= 0 {
		return DefaultDevicePort
	}
	return c.Port
}

// BaseURL returns the device HTTP endpoint root.
func (c DeviceConfig) BaseURL() string {
	return fmt.Sprintf("http://%s:%d", strings.TrimSpace(c.Host), c.portOrDefault())
}

// WSURL returns the device streaming endpoint.
func (c DeviceConfig) WSURL() string {
	return fmt.Sprintf("ws://%s:%d/ws", strings.TrimSpace(c.Host), c.portOrDefault())
}

func (c DeviceConfig) Validate() error {
	if err := ValidateDeviceName(c.Name); err != nil {
		return err
	}
	if strings.TrimSpace(c.Host) == "" {
		return fmt.Errorf("device %q: host is required", c.Name)
	}
	return nil
}

// ValidateDeviceName enforces the device naming rules: lowercase, starts
// with a letter, single dashes only, no trailing dash.
func ValidateDeviceName(name string) error {
	if name == "" {
		return fmt.Errorf("device name is empty")
	}
	if !deviceNamePattern.MatchString(name) {
		return fmt.Errorf("device name %q must start with a letter and contain only lowercase letters, digits and dashes", name)
	}
	if strings.Contains(name, "--") {
		return fmt.Errorf("device name %q contains consecutive dashes", name)
	}
	if strings.HasSuffix(name, "-") {
		return fmt.Errorf("device name %q ends with a dash", name)
	}
	return nil
}
