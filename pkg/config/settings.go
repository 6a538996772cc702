package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/devicelab-dev/airplane-runner/pkg/core"
)

// Interval bounds in minutes.
const (
	MinIntervalMinutes     = 1
	MaxIntervalMinutes     = 60
	DefaultIntervalMinutes = 15
)

// ToggleConfiguration is the persisted, user-controlled schedule settings.
type ToggleConfiguration struct {
	AutoEnabled     bool             `yaml:"auto_toggle_enabled" json:"autoEnabled"`
	IntervalMinutes int              `yaml:"toggle_interval" json:"intervalMinutes"`
	ControlMode     core.ControlMode `yaml:"control_mode" json:"controlMode"`
}

// DefaultToggleConfiguration returns the first-run settings.
func DefaultToggleConfiguration() ToggleConfiguration {
	return ToggleConfiguration{
		AutoEnabled:     false,
		IntervalMinutes: DefaultIntervalMinutes,
		ControlMode:     core.ModeAssistant,
	}
}

// ValidateInterval rejects intervals outside [1,60] minutes.
func ValidateInterval(minutes int) error {
	if minutes < MinIntervalMinutes || minutes > MaxIntervalMinutes {
		return core.ErrInvalidInterval.WithDetails(map[string]interface{}{"interval": minutes})
	}
	return nil
}

// Validate checks every field.
func (t ToggleConfiguration) Validate() error {
	if err := ValidateInterval(t.IntervalMinutes); err != nil {
		return err
	}
	if !t.ControlMode.IsValid() {
		return core.ErrInvalidMode
	}
	return nil
}

// SettingsPatch is a partial update; nil fields are left unchanged.
type SettingsPatch struct {
	AutoEnabled     *bool             `json:"autoEnabled,omitempty"`
	IntervalMinutes *int              `json:"intervalMinutes,omitempty"`
	ControlMode     *core.ControlMode `json:"controlMode,omitempty"`
}

// Apply returns t with the patch applied and validated.
func (p SettingsPatch) Apply(t ToggleConfiguration) (ToggleConfiguration, error) {
	if p.AutoEnabled != nil {
		t.AutoEnabled = *p.AutoEnabled
	}
	if p.IntervalMinutes != nil {
		t.IntervalMinutes = *p.IntervalMinutes
	}
	if p.ControlMode != nil {
		t.ControlMode = *p.ControlMode
	}
	if err := t.Validate(); err != nil {
		return t, err
	}
	return t, nil
}

// SettingsStore persists ToggleConfiguration as a flat key-value YAML file.
// Reads always go to disk so external edits are picked up on the next fire.
type SettingsStore struct {
	path string
	mu   sync.Mutex
}

// NewSettingsStore creates a store at path. The file is created with
// defaults on first Load if it does not exist.
func NewSettingsStore(path string) *SettingsStore {
	return &SettingsStore{path: path}
}

// Path returns the backing file path.
func (s *SettingsStore) Path() string {
	return s.path
}

// Load reads the settings, creating the file with defaults on first run.
// Missing keys take their default values.
func (s *SettingsStore) Load() (ToggleConfiguration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg := DefaultToggleConfiguration()
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		if err := s.write(cfg); err != nil {
			return cfg, err
		}
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read settings: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return DefaultToggleConfiguration(), core.ErrInvalidConfig.WithCause(err)
	}
	if err := cfg.Validate(); err != nil {
		return DefaultToggleConfiguration(), err
	}
	return cfg, nil
}

// Save overwrites the settings after validation.
func (s *SettingsStore) Save(cfg ToggleConfiguration) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(cfg)
}

// Update applies patch to the current settings and saves the result.
func (s *SettingsStore) Update(patch SettingsPatch) (ToggleConfiguration, error) {
	current, err := s.Load()
	if err != nil {
		return current, err
	}
	next, err := patch.Apply(current)
	if err != nil {
		return current, err
	}
	if err := s.Save(next); err != nil {
		return current, err
	}
	return next, nil
}

// SetAutoEnabled persists the auto-toggle switch.
func (s *SettingsStore) SetAutoEnabled(enabled bool) (ToggleConfiguration, error) {
	return s.Update(SettingsPatch{AutoEnabled: &enabled})
}

// SetInterval persists the interval, rejecting values outside [1,60].
func (s *SettingsStore) SetInterval(minutes int) (ToggleConfiguration, error) {
	if err := ValidateInterval(minutes); err != nil {
		return ToggleConfiguration{}, err
	}
	return s.Update(SettingsPatch{IntervalMinutes: &minutes})
}

// SetControlMode persists the privilege path selection.
func (s *SettingsStore) SetControlMode(mode core.ControlMode) (ToggleConfiguration, error) {
	return s.Update(SettingsPatch{ControlMode: &mode})
}

// ControlMode returns the persisted mode, falling back to the default on read errors.
func (s *SettingsStore) ControlMode() core.ControlMode {
	cfg, err := s.Load()
	if err != nil {
		return DefaultToggleConfiguration().ControlMode
	}
	return cfg.ControlMode
}

// write atomically writes cfg (tmp file + rename).
func (s *SettingsStore) write(cfg ToggleConfiguration) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	return os.Rename(tmp, s.path)
}
