// Package mock provides a fake device shell for testing without a real device.
package mock

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/devicelab-dev/airplane-runner/pkg/device"
)

// Config configures fake device behavior.
type Config struct {
	// Serial reported by `adb devices`.
	Serial string
	// Package whose dumpsys output is served.
	Package string
	// SecureGranted makes dumpsys report WRITE_SECURE_SETTINGS granted.
	SecureGranted bool
	// Assistant is the voice_interaction_service value (empty = unset).
	Assistant string
	// AirplaneOn is the initial airplane_mode_on value.
	AirplaneOn bool
	// CommandDelay adds artificial delay per command.
	CommandDelay time.Duration
}

// Call is one recorded shell command.
type Call struct {
	Cmd string
	At  time.Time
}

// Shell is an in-memory device: a settings table plus an activity
// launcher that applies assistant commands to airplane_mode_on.
type Shell struct {
	Config Config

	mu       sync.Mutex
	global   map[string]string
	secure   map[string]string
	calls    []Call
	dropPuts int      // airplane writes silently ignored (propagation delay)
	failing  []string // command prefixes that return an error
	offline  bool
}

// New creates a fake device shell.
func New(cfg Config) *Shell {
	if cfg.Serial == "" {
		cfg.Serial = "mock-device"
	}
	if cfg.Package == "" {
		cfg.Package = "com.example.airplanecontrol"
	}
	s := &Shell{
		Config: cfg,
		global: map[string]string{
			device.SettingWiFiOn:      "1",
			device.SettingBluetoothOn: "0",
			device.SettingMobileData:  "1",
		},
		secure: map[string]string{},
	}
	s.global[device.SettingAirplaneModeOn] = boolValue(cfg.AirplaneOn)
	if cfg.Assistant != "" {
		s.secure[device.SettingVoiceInteractor] = cfg.Assistant
	}
	return s
}

// Open returns an AndroidDevice backed by this fake.
func (s *Shell) Open(transport string) *device.AndroidDevice {
	d, err := device.Open(context.Background(), device.Options{
		Serial:    s.Config.Serial,
		Transport: transport,
		Runner:    s.Run,
	})
	if err != nil {
		panic(fmt.Sprintf("mock: open device: %v", err))
	}
	return d
}

// Run implements device.CommandRunner.
func (s *Shell) Run(ctx context.Context, name string, args ...string) (string, error) {
	if s.Config.CommandDelay > 0 {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(s.Config.CommandDelay):
		}
	}

	// Strip the transport wrapper: "adb -s X shell CMD" or "sh -c CMD".
	if len(args) > 0 && args[0] == "-s" && len(args) >= 2 {
		args = args[2:]
	}
	if len(args) == 0 {
		return "", fmt.Errorf("mock: empty command")
	}
	switch {
	case name == "sh" && args[0] == "-c" && len(args) == 2:
		return s.shell(args[1])
	case args[0] == "shell" && len(args) == 2:
		return s.shell(args[1])
	case args[0] == "devices":
		return fmt.Sprintf("List of devices attached\n%s\tdevice\n", s.Config.Serial), nil
	case args[0] == "get-state":
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.offline {
			return "", fmt.Errorf("mock: device offline")
		}
		return "device\n", nil
	}
	return "", fmt.Errorf("mock: unsupported command %s %v", name, args)
}

func (s *Shell) shell(cmd string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, Call{Cmd: cmd, At: time.Now()})
	if s.offline {
		return "", fmt.Errorf("mock: device offline")
	}
	for _, prefix := range s.failing {
		if strings.HasPrefix(cmd, prefix) {
			return "", fmt.Errorf("mock: %s failed", prefix)
		}
	}

	fields := strings.Fields(cmd)
	switch {
	case strings.HasPrefix(cmd, "settings get global "):
		return valueOrNull(s.global, fields[3]), nil
	case strings.HasPrefix(cmd, "settings get secure "):
		return valueOrNull(s.secure, fields[3]), nil
	case strings.HasPrefix(cmd, "settings put global "):
		key, value := fields[3], strings.Trim(fields[4], "'")
		if key == device.SettingAirplaneModeOn && s.dropPuts > 0 {
			s.dropPuts--
			return "", nil
		}
		s.global[key] = value
		return "", nil
	case strings.HasPrefix(cmd, "settings list global"):
		return "airplane_mode_on=" + s.global[device.SettingAirplaneModeOn] + "\n", nil
	case strings.HasPrefix(cmd, "dumpsys package "):
		return s.dumpsys(fields[2]), nil
	case strings.HasPrefix(cmd, "am broadcast"):
		return "Broadcast completed: result=0\n", nil
	case strings.HasPrefix(cmd, "am start"):
		return s.startActivity(cmd)
	case strings.HasPrefix(cmd, "getprop "):
		return getprop(fields[1]), nil
	case strings.HasPrefix(cmd, "cmd notification"):
		return "", nil
	case strings.HasPrefix(cmd, "echo "):
		return strings.TrimPrefix(cmd, "echo ") + "\n", nil
	}
	return "", fmt.Errorf("mock: unsupported shell command %q", cmd)
}

// startActivity applies the assistant front-end command extra.
func (s *Shell) startActivity(cmd string) (string, error) {
	if s.secure[device.SettingVoiceInteractor] == "" {
		return "Error: Activity not started, assistant session unavailable\n", nil
	}
	switch {
	case strings.Contains(cmd, "--es command turn_on"):
		s.putAirplane("1")
	case strings.Contains(cmd, "--es command turn_off"):
		s.putAirplane("0")
	case strings.Contains(cmd, "--es command smart_toggle"):
		if s.global[device.SettingAirplaneModeOn] == "1" {
			s.putAirplane("0")
		} else {
			s.putAirplane("1")
		}
	}
	return "Starting: Intent { cmp=" + s.Config.Assistant + " }\n", nil
}

func (s *Shell) putAirplane(v string) {
	if s.dropPuts > 0 {
		s.dropPuts--
		return
	}
	s.global[device.SettingAirplaneModeOn] = v
}

func (s *Shell) dumpsys(pkg string) string {
	if pkg != s.Config.Package {
		return "Unable to find package: " + pkg + "\n"
	}
	return fmt.Sprintf("Packages:\n  Package [%s]\n    install permissions:\n      %s: granted=%t\n",
		pkg, device.PermissionWriteSecureSettings, s.Config.SecureGranted)
}

// DropAirplaneWrites makes the next n airplane writes appear to succeed
// without taking effect.
func (s *Shell) DropAirplaneWrites(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropPuts = n
}

// FailCommands makes commands starting with any prefix return an error.
func (s *Shell) FailCommands(prefixes ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing = prefixes
}

// SetOffline simulates an unplugged device.
func (s *Shell) SetOffline(offline bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offline = offline
}

// SetAirplane sets the flag as if changed externally (user, other app).
func (s *Shell) SetAirplane(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.global[device.SettingAirplaneModeOn] = boolValue(on)
}

// Airplane returns the current flag value.
func (s *Shell) Airplane() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.global[device.SettingAirplaneModeOn] == "1"
}

// SetAssistant sets voice_interaction_service.
func (s *Shell) SetAssistant(component string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Config.Assistant = component
	s.secure[device.SettingVoiceInteractor] = component
}

// SetSecureGranted toggles the WRITE_SECURE_SETTINGS grant.
func (s *Shell) SetSecureGranted(granted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Config.SecureGranted = granted
}

// Calls returns recorded shell commands.
func (s *Shell) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// CallsWithPrefix returns recorded commands starting with prefix.
func (s *Shell) CallsWithPrefix(prefix string) []Call {
	var out []Call
	for _, c := range s.Calls() {
		if strings.HasPrefix(c.Cmd, prefix) {
			out = append(out, c)
		}
	}
	return out
}

// AirplaneWrites returns the recorded airplane writes, direct or routed.
func (s *Shell) AirplaneWrites() []Call {
	var out []Call
	for _, c := range s.Calls() {
		if strings.HasPrefix(c.Cmd, "settings put global "+device.SettingAirplaneModeOn) ||
			strings.HasPrefix(c.Cmd, "am start") {
			out = append(out, c)
		}
	}
	return out
}

// Reset clears recorded calls.
func (s *Shell) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = nil
}

func valueOrNull(m map[string]string, key string) string {
	if v, ok := m[key]; ok {
		return v + "\n"
	}
	return "null\n"
}

func getprop(name string) string {
	switch name {
	case "ro.product.model":
		return "Pixel 7\n"
	case "ro.product.manufacturer":
		return "Google\n"
	case "ro.product.brand":
		return "google\n"
	case "ro.build.version.release":
		return "14\n"
	case "ro.build.version.sdk":
		return "34\n"
	case "ro.kernel.qemu":
		return "1\n"
	case "sys.boot_completed":
		return "1\n"
	}
	return "\n"
}

func boolValue(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
