// Package device provides Android device access via ADB or the local shell.
package device

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/devicelab-dev/airplane-runner/pkg/core"
	"github.com/devicelab-dev/airplane-runner/pkg/logger"
)

// Transport names.
const (
	TransportADB   = "adb"
	TransportLocal = "local"
)

// CommandRunner executes a program and returns its stdout.
type CommandRunner func(ctx context.Context, name string, args ...string) (string, error)

// AndroidDevice manages a connection to one Android device.
type AndroidDevice struct {
	serial    string
	adbPath   string
	transport string
	run       CommandRunner
	breaker   *Breaker
}

// Options configures Open.
type Options struct {
	Serial    string        // Empty = auto-detect (adb transport)
	ADBPath   string        // Empty = PATH lookup
	Transport string        // adb (default) or local
	Runner    CommandRunner // nil = os/exec
	Breaker   *Breaker      // nil = default breaker
	WaitFor   time.Duration // How long to wait for the device to be online (adb only)
}

// DeviceInfo contains basic device information and radio states.
type DeviceInfo struct {
	Serial       string `json:"serial"`
	Model        string `json:"model"`
	Manufacturer string `json:"manufacturer"`
	Brand        string `json:"brand"`
	Release      string `json:"release"`
	SDK          string `json:"sdk"`
	IsEmulator   bool   `json:"isEmulator"`
	AirplaneMode bool   `json:"airplaneMode"`
	WiFi         *bool  `json:"wifi,omitempty"`      // nil = unreadable
	Bluetooth    *bool  `json:"bluetooth,omitempty"` // nil = unreadable
	MobileData   *bool  `json:"mobileData,omitempty"`
}

// New creates an AndroidDevice for the given serial over adb.
// If serial is empty, it auto-detects the connected device.
func New(serial string) (*AndroidDevice, error) {
	return Open(context.Background(), Options{Serial: serial, WaitFor: 5 * time.Second})
}

// Open creates an AndroidDevice from options.
func Open(ctx context.Context, opts Options) (*AndroidDevice, error) {
	transport := opts.Transport
	if transport == "" {
		transport = TransportADB
	}
	run := opts.Runner
	if run == nil {
		run = execRunner
	}
	breaker := opts.Breaker
	if breaker == nil {
		breaker = NewBreaker(BreakerSettings{})
	}

	d := &AndroidDevice{
		serial:    opts.Serial,
		transport: transport,
		run:       run,
		breaker:   breaker,
	}

	switch transport {
	case TransportLocal:
		if d.serial == "" {
			d.serial = "local"
		}
		return d, nil
	case TransportADB:
	default:
		return nil, core.ErrInvalidConfig.WithMessage(fmt.Sprintf("unknown transport %q", transport))
	}

	adbPath := opts.ADBPath
	if adbPath == "" {
		var err error
		if opts.Runner != nil {
			adbPath = "adb"
		} else if adbPath, err = findADB(); err != nil {
			return nil, err
		}
	}
	d.adbPath = adbPath

	// Auto-detect serial if not provided
	if d.serial == "" {
		serial, err := detectDeviceSerial(ctx, run, adbPath)
		if err != nil {
			return nil, fmt.Errorf("no device specified and auto-detect failed: %w", err)
		}
		d.serial = serial
	}

	// Verify device is connected
	if opts.WaitFor > 0 {
		if err := d.waitForDevice(ctx, opts.WaitFor); err != nil {
			return nil, core.ErrDeviceDisconnected.WithCause(err)
		}
	}

	return d, nil
}

// Entry is one line of `adb devices`.
type Entry struct {
	Serial string
	State  string
}

// ListDevices returns devices known to adb.
func ListDevices(ctx context.Context) ([]Entry, error) {
	adbPath, err := findADB()
	if err != nil {
		return nil, err
	}
	return listDevices(ctx, execRunner, adbPath)
}

func listDevices(ctx context.Context, run CommandRunner, adbPath string) ([]Entry, error) {
	out, err := run(ctx, adbPath, "devices")
	if err != nil {
		return nil, err
	}

	var entries []Entry
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "List of") || strings.HasPrefix(line, "*") {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) >= 2 {
			entries = append(entries, Entry{Serial: parts[0], State: parts[1]})
		}
	}
	return entries, nil
}

// detectDeviceSerial finds the first connected device serial.
func detectDeviceSerial(ctx context.Context, run CommandRunner, adbPath string) (string, error) {
	entries, err := listDevices(ctx, run, adbPath)
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		if e.State == "device" {
			return e.Serial, nil
		}
	}
	return "", fmt.Errorf("no connected devices found")
}

// Serial returns the device serial number.
func (d *AndroidDevice) Serial() string {
	return d.serial
}

// Transport returns "adb" or "local".
func (d *AndroidDevice) Transport() string {
	return d.transport
}

// Shell executes a shell command on the device through the circuit breaker.
func (d *AndroidDevice) Shell(ctx context.Context, cmd string) (string, error) {
	return d.breaker.Do(func() (string, error) {
		if d.transport == TransportLocal {
			return d.run(ctx, "sh", "-c", cmd)
		}
		return d.adb(ctx, "shell", cmd)
	})
}

// Info returns device information and the radio flags.
func (d *AndroidDevice) Info(ctx context.Context) (DeviceInfo, error) {
	info := DeviceInfo{Serial: d.serial}

	if model, err := d.Shell(ctx, "getprop ro.product.model"); err == nil {
		info.Model = strings.TrimSpace(model)
	} else {
		return info, err
	}
	if v, err := d.Shell(ctx, "getprop ro.product.manufacturer"); err == nil {
		info.Manufacturer = strings.TrimSpace(v)
	}
	if brand, err := d.Shell(ctx, "getprop ro.product.brand"); err == nil {
		info.Brand = strings.TrimSpace(brand)
	}
	if v, err := d.Shell(ctx, "getprop ro.build.version.release"); err == nil {
		info.Release = strings.TrimSpace(v)
	}
	if sdk, err := d.Shell(ctx, "getprop ro.build.version.sdk"); err == nil {
		info.SDK = strings.TrimSpace(sdk)
	}

	// Check if emulator
	chars, _ := d.Shell(ctx, "getprop ro.kernel.qemu")
	info.IsEmulator = strings.TrimSpace(chars) == "1"

	info.AirplaneMode, _ = d.GlobalBool(ctx, SettingAirplaneModeOn)
	info.WiFi = optionalBool(d.GlobalBool(ctx, SettingWiFiOn))
	info.Bluetooth = optionalBool(d.GlobalBool(ctx, SettingBluetoothOn))
	info.MobileData = optionalBool(d.GlobalBool(ctx, SettingMobileData))

	return info, nil
}

func optionalBool(v bool, err error) *bool {
	if err != nil {
		return nil
	}
	return &v
}

// adb executes an ADB command.
func (d *AndroidDevice) adb(ctx context.Context, args ...string) (string, error) {
	cmdArgs := make([]string, 0, len(args)+2)
	if d.serial != "" {
		cmdArgs = append(cmdArgs, "-s", d.serial)
	}
	cmdArgs = append(cmdArgs, args...)
	return d.run(ctx, d.adbPath, cmdArgs...)
}

// waitForDevice waits for the device to be available.
func (d *AndroidDevice) waitForDevice(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if d.isConnected(ctx) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
	return fmt.Errorf("timeout waiting for device %s", d.serial)
}

// isConnected checks if the device is connected.
func (d *AndroidDevice) isConnected(ctx context.Context) bool {
	if d.transport == TransportLocal {
		return true
	}
	out, err := d.adb(ctx, "get-state")
	if err != nil {
		return false
	}
	return strings.TrimSpace(out) == "device"
}

// execRunner runs a program with os/exec.
func execRunner(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		errMsg := stderr.String()
		if errMsg == "" {
			errMsg = stdout.String()
		}
		logger.Debug("%s %s failed: %v", name, strings.Join(args, " "), err)
		return "", fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, strings.TrimSpace(errMsg))
	}

	return stdout.String(), nil
}

// findADB locates the ADB binary: PATH first, then the SDK's platform-tools.
func findADB() (string, error) {
	if path, err := exec.LookPath("adb"); err == nil {
		return path, nil
	}
	for _, env := range []string{"ANDROID_HOME", "ANDROID_SDK_ROOT", "ANDROID_SDK_HOME"} {
		home := os.Getenv(env)
		if home == "" {
			continue
		}
		path := filepath.Join(home, "platform-tools", "adb")
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("adb not found in PATH or $ANDROID_HOME/platform-tools; ensure Android SDK platform-tools are installed")
}
