// Package daemon installs airplane-runner as a boot-time service so the
// schedule is re-armed from persisted settings after a host restart.
package daemon

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"os/user"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"text/template"

	"github.com/devicelab-dev/airplane-runner/pkg/config"
)

// DefaultName is the service name.
const DefaultName = "airplane-runner"

// launchdPrefix namespaces the launchd label.
const launchdPrefix = "dev.devicelab."

// Config holds parameters for daemon installation.
type Config struct {
	Name       string
	BinaryPath string
	ConfigPath string // Empty = binary default lookup
	Home       string // AIRPLANE_RUNNER_HOME for the service
	User       string
	LogPath    string
	HomeDir    string // User home (HOME)
	UnitDir    string // Empty = platform default
}

// Status holds the status of an installed daemon.
type Status struct {
	Running bool
	PID     int
}

// Runner runs a service-manager command and returns its combined output.
type Runner func(name string, args ...string) ([]byte, error)

func execRunner(name string, args ...string) ([]byte, error) {
	return exec.Command(name, args...).CombinedOutput()
}

// DefaultConfig returns a Config with auto-detected defaults.
func DefaultConfig() Config {
	binary, _ := os.Executable()
	if binary == "" {
		binary = "/usr/local/bin/" + DefaultName
	}

	username := "root"
	homeDir := "/root"
	if u, _ := user.Current(); u != nil {
		username = u.Username
		homeDir = u.HomeDir
	}

	return Config{
		Name:       DefaultName,
		BinaryPath: binary,
		Home:       config.GetHome(),
		User:       username,
		LogPath:    config.GetLogsDir(),
		HomeDir:    homeDir,
	}
}

// Validate checks the Config for correctness.
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("daemon name is required")
	}
	if c.BinaryPath == "" {
		return fmt.Errorf("binary path is required")
	}
	info, err := os.Stat(c.BinaryPath)
	if err != nil {
		return fmt.Errorf("binary %q: %w", c.BinaryPath, err)
	}
	if info.Mode()&0111 == 0 {
		return fmt.Errorf("binary %q is not executable", c.BinaryPath)
	}
	return nil
}

// Args returns the service command line after the binary.
func (c Config) Args() []string {
	var args []string
	if c.ConfigPath != "" {
		args = append(args, "--config", c.ConfigPath)
	}
	return append(args, "run")
}

// Manager installs and inspects the service on one platform.
type Manager struct {
	goos string
	run  Runner
}

// NewManager returns a manager for the current platform.
func NewManager() *Manager {
	return &Manager{goos: runtime.GOOS, run: execRunner}
}

// NewManagerFor returns a manager for goos that runs service-manager
// commands through run.
func NewManagerFor(goos string, run Runner) *Manager {
	if run == nil {
		run = execRunner
	}
	return &Manager{goos: goos, run: run}
}

// Install writes the unit and starts it.
func (m *Manager) Install(cfg Config) error {
	switch m.goos {
	case "linux":
		return m.installSystemd(cfg)
	case "darwin":
		return m.installLaunchd(cfg)
	default:
		return fmt.Errorf("unsupported platform: %s", m.goos)
	}
}

// Uninstall stops the service and removes the unit.
func (m *Manager) Uninstall(cfg Config) error {
	switch m.goos {
	case "linux":
		return m.uninstallSystemd(cfg)
	case "darwin":
		return m.uninstallLaunchd(cfg)
	default:
		return fmt.Errorf("unsupported platform: %s", m.goos)
	}
}

// Status returns the service status.
func (m *Manager) Status(cfg Config) (*Status, error) {
	switch m.goos {
	case "linux":
		return m.statusSystemd(cfg.Name)
	case "darwin":
		return m.statusLaunchd(cfg.Name)
	default:
		return nil, fmt.Errorf("unsupported platform: %s", m.goos)
	}
}

// --- systemd ---

const systemdTemplate = `[Unit]
Description={{.Name}} airplane-mode toggle scheduler
After=network.target

[Service]
Type=simple
ExecStart={{.BinaryPath}}{{range .Args}} {{.}}{{end}}
User={{.User}}
Restart=on-failure
RestartSec=5
StandardOutput=append:{{.LogPath}}/{{.Name}}.log
StandardError=append:{{.LogPath}}/{{.Name}}.log
Environment=HOME={{.HomeDir}}
{{- if .Home}}
Environment=AIRPLANE_RUNNER_HOME={{.Home}}
{{- end}}

[Install]
WantedBy=multi-user.target
`

// RenderSystemdUnit renders the systemd service file content.
func RenderSystemdUnit(cfg Config) (string, error) {
	return render("systemd", systemdTemplate, cfg)
}

func (c Config) unitPath() string {
	dir := c.UnitDir
	if dir == "" {
		dir = "/etc/systemd/system"
	}
	return filepath.Join(dir, c.Name+".service")
}

func (m *Manager) installSystemd(cfg Config) error {
	content, err := RenderSystemdUnit(cfg)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.LogPath, 0755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	if err := os.WriteFile(cfg.unitPath(), []byte(content), 0644); err != nil {
		return fmt.Errorf("write unit file: %w", err)
	}

	cmds := [][]string{
		{"systemctl", "daemon-reload"},
		{"systemctl", "enable", cfg.Name},
		{"systemctl", "start", cfg.Name},
	}
	for _, args := range cmds {
		if out, err := m.run(args[0], args[1:]...); err != nil {
			return fmt.Errorf("%s: %s: %w", strings.Join(args, " "), out, err)
		}
	}
	return nil
}

func (m *Manager) uninstallSystemd(cfg Config) error {
	m.run("systemctl", "stop", cfg.Name)    // best effort
	m.run("systemctl", "disable", cfg.Name) // best effort
	if err := os.Remove(cfg.unitPath()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove unit file: %w", err)
	}
	m.run("systemctl", "daemon-reload")
	return nil
}

func (m *Manager) statusSystemd(name string) (*Status, error) {
	out, err := m.run("systemctl", "is-active", name)
	running := strings.TrimSpace(string(out)) == "active"
	if err != nil && !running {
		return &Status{Running: false}, nil
	}

	status := &Status{Running: running}
	if pidOut, err := m.run("systemctl", "show", "--property=MainPID", name); err == nil {
		parts := strings.SplitN(strings.TrimSpace(string(pidOut)), "=", 2)
		if len(parts) == 2 {
			status.PID, _ = strconv.Atoi(parts[1])
		}
	}
	return status, nil
}

// --- launchd ---

const launchdTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>{{.Label}}</string>
    <key>ProgramArguments</key>
    <array>
        <string>{{.BinaryPath}}</string>
{{- range .Args}}
        <string>{{.}}</string>
{{- end}}
    </array>
    <key>RunAtLoad</key>
    <true/>
    <key>KeepAlive</key>
    <true/>
    <key>StandardOutPath</key>
    <string>{{.LogPath}}/{{.Name}}.log</string>
    <key>StandardErrorPath</key>
    <string>{{.LogPath}}/{{.Name}}.log</string>
    <key>EnvironmentVariables</key>
    <dict>
        <key>HOME</key>
        <string>{{.HomeDir}}</string>
{{- if .Home}}
        <key>AIRPLANE_RUNNER_HOME</key>
        <string>{{.Home}}</string>
{{- end}}
    </dict>
</dict>
</plist>
`

// Label returns the launchd label.
func (c Config) Label() string {
	return launchdPrefix + c.Name
}

// RenderLaunchdPlist renders the launchd plist content.
func RenderLaunchdPlist(cfg Config) (string, error) {
	return render("launchd", launchdTemplate, cfg)
}

func (c Config) plistPath() string {
	dir := c.UnitDir
	if dir == "" {
		dir = filepath.Join(c.HomeDir, "Library", "LaunchAgents")
	}
	return filepath.Join(dir, c.Label()+".plist")
}

func (m *Manager) installLaunchd(cfg Config) error {
	content, err := RenderLaunchdPlist(cfg)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.LogPath, 0755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	path := cfg.plistPath()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create LaunchAgents dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("write plist: %w", err)
	}
	if out, err := m.run("launchctl", "load", path); err != nil {
		return fmt.Errorf("launchctl load: %s: %w", out, err)
	}
	return nil
}

func (m *Manager) uninstallLaunchd(cfg Config) error {
	path := cfg.plistPath()
	m.run("launchctl", "unload", path) // best effort
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove plist: %w", err)
	}
	return nil
}

func (m *Manager) statusLaunchd(name string) (*Status, error) {
	out, err := m.run("launchctl", "list", launchdPrefix+name)
	if err != nil {
		return &Status{Running: false}, nil
	}

	status := &Status{Running: true}
	for _, line := range strings.Split(string(out), "\n") {
		if strings.Contains(line, "\"PID\"") {
			fields := strings.Fields(strings.TrimSuffix(strings.TrimSpace(line), ";"))
			if len(fields) >= 3 {
				status.PID, _ = strconv.Atoi(fields[len(fields)-1])
			}
		}
	}
	return status, nil
}

func render(name, text string, cfg Config) (string, error) {
	tmpl, err := template.New(name).Parse(text)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, cfg); err != nil {
		return "", err
	}
	return buf.String(), nil
}
