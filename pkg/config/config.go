// Package config handles configuration for airplane-runner.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/devicelab-dev/airplane-runner/pkg/core"
)

// Transport values for DeviceConfig.Transport.
const (
	TransportADB   = "adb"   // Host drives the device over adb
	TransportLocal = "local" // Binary runs on the device and uses its shell
)

// Config represents the runner configuration (config.yaml).
type Config struct {
	Device    DeviceConfig    `yaml:"device"`
	Companion CompanionConfig `yaml:"companion"`
	Toggle    ToggleConfig    `yaml:"toggle"`
	Privilege PrivilegeConfig `yaml:"privilege"`
	Log       LogConfig       `yaml:"log"`
	API       APIConfig       `yaml:"api"`
	Notify    NotifyConfig    `yaml:"notify"`
	State     StateConfig     `yaml:"state"`
}

// DeviceConfig selects the device and how to reach it.
type DeviceConfig struct {
	Serial      string        `yaml:"serial"`      // Empty = first connected device
	ADB         string        `yaml:"adb"`         // adb binary, empty = PATH lookup
	Transport   string        `yaml:"transport"`   // adb | local
	BootTimeout time.Duration `yaml:"bootTimeout"` // Wait for boot before reactivation
}

// CompanionConfig names the on-device package that holds the privileges.
type CompanionConfig struct {
	Package   string `yaml:"package"`   // e.g. com.example.airplanecontrol
	Assistant string `yaml:"assistant"` // Front-end component started for routed writes
}

// ToggleConfig holds the toggle sequence timings.
type ToggleConfig struct {
	SettleDelay time.Duration `yaml:"settleDelay"` // Pause between on and off
	VerifyDelay time.Duration `yaml:"verifyDelay"` // Read-back delay before a retry
}

// PrivilegeConfig controls privilege probing.
type PrivilegeConfig struct {
	Refresh time.Duration `yaml:"refresh"` // How long a probe result is reused
}

// LogConfig controls the global logger.
type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"` // Empty = stderr
}

// APIConfig controls the local HTTP control surface.
type APIConfig struct {
	Listen string  `yaml:"listen"` // Empty disables the server
	Rate   float64 `yaml:"rate"`   // Manual toggles per second
	Burst  int     `yaml:"burst"`
}

// NotifyConfig controls the liveness indicator.
type NotifyConfig struct {
	Device bool   `yaml:"device"` // Post an ongoing notification on the device
	Socket string `yaml:"socket"` // Unix socket for JSON status events, empty disables
}

// StateConfig locates persisted state (settings.yaml, oplog.db).
type StateConfig struct {
	Dir string `yaml:"dir"`
}

// Defaults returns the configuration used when no file is present.
func Defaults() *Config {
	return &Config{
		Device: DeviceConfig{
			Transport:   TransportADB,
			BootTimeout: 3 * time.Minute,
		},
		Companion: CompanionConfig{
			Package:   "com.example.airplanecontrol",
			Assistant: "com.example.airplanecontrol/.ui.TransparentActivity",
		},
		Toggle: ToggleConfig{
			SettleDelay: 2 * time.Second,
			VerifyDelay: 1500 * time.Millisecond,
		},
		Privilege: PrivilegeConfig{
			Refresh: 5 * time.Second,
		},
		Log: LogConfig{
			Level: "info",
		},
		API: APIConfig{
			Listen: "127.0.0.1:7420",
			Rate:   0.5,
			Burst:  2,
		},
		Notify: NotifyConfig{
			Device: true,
		},
		State: StateConfig{
			Dir: GetStateDir(),
		},
	}
}

// Load loads configuration from a file on top of Defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- user-provided config file
	if err != nil {
		return nil, err
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromDir looks for config.yaml or config.yml in the directory.
func LoadFromDir(dir string) (*Config, error) {
	// Try config.yaml first
	configPath := filepath.Join(dir, "config.yaml")
	if _, err := os.Stat(configPath); err == nil {
		return Load(configPath)
	}

	// Try config.yml
	configPath = filepath.Join(dir, "config.yml")
	if _, err := os.Stat(configPath); err == nil {
		return Load(configPath)
	}

	// No config file found, return defaults
	return Defaults(), nil
}

// Validate checks value ranges that would otherwise surface as odd runtime behaviour.
func (c *Config) Validate() error {
	switch c.Device.Transport {
	case TransportADB, TransportLocal:
	default:
		return core.ErrInvalidConfig.WithMessage(fmt.Sprintf("device.transport must be %q or %q, got %q",
			TransportADB, TransportLocal, c.Device.Transport))
	}
	if c.Toggle.SettleDelay <= 0 {
		return core.ErrInvalidConfig.WithMessage("toggle.settleDelay must be positive")
	}
	if c.Toggle.VerifyDelay < 0 {
		return core.ErrInvalidConfig.WithMessage("toggle.verifyDelay must not be negative")
	}
	if c.API.Listen != "" && (c.API.Rate <= 0 || c.API.Burst <= 0) {
		return core.ErrInvalidConfig.WithMessage("api.rate and api.burst must be positive")
	}
	if c.State.Dir == "" {
		return core.ErrInvalidConfig.WithMessage("state.dir is required")
	}
	return nil
}

// SettingsPath returns the path of the persisted ToggleConfiguration.
func (c *Config) SettingsPath() string {
	return filepath.Join(c.State.Dir, "settings.yaml")
}

// OplogPath returns the path of the operation log database.
func (c *Config) OplogPath() string {
	return filepath.Join(c.State.Dir, "oplog.db")
}
