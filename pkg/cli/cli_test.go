package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/airplane-runner/pkg/api"
	"github.com/devicelab-dev/airplane-runner/pkg/config"
	"github.com/devicelab-dev/airplane-runner/pkg/core"
	"github.com/devicelab-dev/airplane-runner/pkg/daemon"
	"github.com/devicelab-dev/airplane-runner/pkg/device"
	"github.com/devicelab-dev/airplane-runner/pkg/device/mock"
)

const companion = "com.example.airplanecontrol"

func grantedConfig() mock.Config {
	return mock.Config{SecureGranted: true, Assistant: companion + "/.service.AssistantService"}
}

// syncBuffer is a bytes.Buffer safe for concurrent writes and reads.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type env struct {
	dir    string
	config string
	sh     *mock.Shell
}

// newEnv writes a config for the local transport and routes device
// commands to a fake shell.
func newEnv(t *testing.T, mcfg mock.Config, listen string) *env {
	t.Helper()
	dir := t.TempDir()
	e := &env{dir: dir, config: filepath.Join(dir, "config.yaml"), sh: mock.New(mcfg)}
	e.writeConfig(t, listen)

	colorsEnabled = false
	deviceRunner = e.sh.Run
	t.Cleanup(func() { deviceRunner = nil })
	return e
}

func (e *env) writeConfig(t *testing.T, listen string) {
	t.Helper()
	content := fmt.Sprintf(`device:
  serial: mock-device
  transport: local
  bootTimeout: 1s
companion:
  package: %s
  assistant: %s/.ui.TransparentActivity
toggle:
  settleDelay: 5ms
  verifyDelay: 5ms
log:
  level: error
  file: %s
api:
  listen: %q
notify:
  device: false
state:
  dir: %s
`, companion, companion, filepath.Join(e.dir, "logs", "runner.log"), listen, filepath.Join(e.dir, "state"))
	if err := os.WriteFile(e.config, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func (e *env) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := NewApp()
	app.Writer = &out
	app.ErrWriter = &out
	err := app.Run(append([]string{"airplane-runner", "--config", e.config}, args...))
	return out.String(), err
}

func TestLoadConfig_FlagOverrides(t *testing.T) {
	e := newEnv(t, mock.Config{}, "")
	t.Setenv("AIRPLANE_ADB", "/opt/sdk/adb")

	var cfg *config.Config
	app := &cli.App{
		Flags: GlobalFlags,
		Action: func(c *cli.Context) error {
			var err error
			cfg, err = loadConfig(c)
			return err
		},
	}
	err := app.Run([]string{"airplane-runner", "--config", e.config, "--device", "emulator-5554",
		"--transport", "adb", "--verbose"})
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}

	if cfg.Device.Serial != "emulator-5554" {
		t.Errorf("serial = %q", cfg.Device.Serial)
	}
	if cfg.Device.Transport != device.TransportADB {
		t.Errorf("transport = %q", cfg.Device.Transport)
	}
	if cfg.Device.ADB != "/opt/sdk/adb" {
		t.Errorf("adb = %q, want env override", cfg.Device.ADB)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("level = %q, want debug", cfg.Log.Level)
	}
	if cfg.Toggle.SettleDelay != 5*time.Millisecond {
		t.Errorf("settleDelay = %v, want value from file", cfg.Toggle.SettleDelay)
	}
}

func TestLoadConfig_InvalidTransport(t *testing.T) {
	e := newEnv(t, mock.Config{}, "")
	_, err := e.run(t, "--transport", "bluetooth", "status")
	if !core.IsCategory(err, core.ErrCategoryConfig) {
		t.Errorf("expected config error, got %v", err)
	}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    *core.ControlMode
		wantErr bool
	}{
		{"", nil, false},
		{"assistant", modePtr(core.ModeAssistant), false},
		{"SECURE", modePtr(core.ModeSecure), false},
		{"root", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseMode(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseMode(%q) error = %v", tt.in, err)
			}
			if (got == nil) != (tt.want == nil) || (got != nil && *got != *tt.want) {
				t.Errorf("parseMode(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func modePtr(m core.ControlMode) *core.ControlMode { return &m }

func TestToggleOnOff(t *testing.T) {
	e := newEnv(t, grantedConfig(), "")

	out, err := e.run(t, "toggle", "on")
	if err != nil {
		t.Fatalf("toggle on: %v\n%s", err, out)
	}
	if !e.sh.Airplane() {
		t.Error("expected airplane mode on")
	}
	if !strings.Contains(out, "airplane mode on (device mock-device)") {
		t.Errorf("unexpected output: %s", out)
	}

	if _, err := e.run(t, "toggle", "off", "--mode", "secure"); err != nil {
		t.Fatalf("toggle off: %v", err)
	}
	if e.sh.Airplane() {
		t.Error("expected airplane mode off")
	}
	if len(e.sh.CallsWithPrefix("settings put global airplane_mode_on")) == 0 {
		t.Error("secure mode must write the setting directly")
	}
}

func TestToggleSmart(t *testing.T) {
	e := newEnv(t, grantedConfig(), "")
	e.sh.SetAirplane(true)

	out, err := e.run(t, "toggle", "smart")
	if err != nil {
		t.Fatalf("toggle smart: %v\n%s", err, out)
	}
	if e.sh.Airplane() {
		t.Error("expected smart toggle to turn airplane mode off")
	}
	if !strings.Contains(out, "on -> off") {
		t.Errorf("unexpected output: %s", out)
	}
}

func TestToggleTimed(t *testing.T) {
	e := newEnv(t, grantedConfig(), "")

	out, err := e.run(t, "toggle", "timed")
	if err != nil {
		t.Fatalf("toggle timed: %v\n%s", err, out)
	}
	if e.sh.Airplane() {
		t.Error("timed toggle must end with airplane mode off")
	}
	if !strings.Contains(out, "final: off") {
		t.Errorf("unexpected output: %s", out)
	}
}

func TestToggle_PrivilegeAbsent(t *testing.T) {
	e := newEnv(t, mock.Config{}, "")

	_, err := e.run(t, "toggle", "on")
	if !errors.Is(err, core.ErrPrivilegeAbsent) {
		t.Fatalf("expected ErrPrivilegeAbsent, got %v", err)
	}
	if n := len(e.sh.AirplaneWrites()); n != 0 {
		t.Errorf("expected no writes, got %d", n)
	}
}

func TestSettingsSetAndShow(t *testing.T) {
	e := newEnv(t, grantedConfig(), "")

	out, err := e.run(t, "settings", "set", "--auto", "--interval", "5", "--mode", "secure")
	if err != nil {
		t.Fatalf("settings set: %v\n%s", err, out)
	}
	if !strings.Contains(out, "No service is running") {
		t.Errorf("expected offline note, got: %s", out)
	}

	cfg, err := config.NewSettingsStore(filepath.Join(e.dir, "state", "settings.yaml")).Load()
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.AutoEnabled || cfg.IntervalMinutes != 5 || cfg.ControlMode != core.ModeSecure {
		t.Errorf("unexpected persisted settings %+v", cfg)
	}

	out, err = e.run(t, "settings", "show")
	if err != nil {
		t.Fatalf("settings show: %v", err)
	}
	if !strings.Contains(out, "5 min") || !strings.Contains(out, "secure") {
		t.Errorf("unexpected output: %s", out)
	}
}

func TestSettingsSet_Rejected(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want error
	}{
		{"interval too high", []string{"--interval", "61"}, core.ErrInvalidInterval},
		{"interval zero", []string{"--interval", "0"}, core.ErrInvalidInterval},
		{"bad mode", []string{"--mode", "root"}, core.ErrInvalidMode},
		{"enable without privilege", []string{"--auto"}, core.ErrPrivilegeAbsent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t, mock.Config{}, "")
			_, err := e.run(t, append([]string{"settings", "set"}, tt.args...)...)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			cfg, _ := config.NewSettingsStore(filepath.Join(e.dir, "state", "settings.yaml")).Load()
			if cfg != config.DefaultToggleConfiguration() {
				t.Errorf("settings changed: %+v", cfg)
			}
		})
	}
}

func TestSettingsSet_NothingToChange(t *testing.T) {
	e := newEnv(t, grantedConfig(), "")
	if _, err := e.run(t, "settings", "set"); err == nil {
		t.Error("expected error without flags")
	}
}

func TestStatus_Local(t *testing.T) {
	e := newEnv(t, mock.Config{Assistant: companion + "/.service.AssistantService"}, "")

	out, err := e.run(t, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	for _, want := range []string{"state        off", "assistant    granted", "secure       not granted", "no service running"} {
		if !strings.Contains(out, want) {
			t.Errorf("status output missing %q:\n%s", want, out)
		}
	}
}

func TestLogs(t *testing.T) {
	e := newEnv(t, grantedConfig(), "")

	out, err := e.run(t, "logs")
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	if !strings.Contains(out, "no operations recorded") {
		t.Errorf("unexpected output: %s", out)
	}

	if _, err := e.run(t, "toggle", "on"); err != nil {
		t.Fatal(err)
	}
	out, err = e.run(t, "logs", "--limit", "5")
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	if !strings.Contains(out, "turn_on") {
		t.Errorf("expected turn_on entry, got: %s", out)
	}

	out, err = e.run(t, "logs", "--clear")
	if err != nil {
		t.Fatalf("logs --clear: %v", err)
	}
	if !strings.Contains(out, "deleted 1 entries") {
		t.Errorf("unexpected output: %s", out)
	}
}

func TestDeviceInfoAndPrivilege(t *testing.T) {
	e := newEnv(t, mock.Config{}, "")

	out, err := e.run(t, "device", "info")
	if err != nil {
		t.Fatalf("device info: %v", err)
	}
	if !strings.Contains(out, "Pixel 7") || !strings.Contains(out, "emulator") {
		t.Errorf("unexpected output: %s", out)
	}

	out, err = e.run(t, "device", "privilege")
	if err != nil {
		t.Fatalf("device privilege: %v", err)
	}
	if !strings.Contains(out, "pm grant "+companion+" "+device.PermissionWriteSecureSettings) {
		t.Errorf("expected grant hint, got: %s", out)
	}
}

func TestForceRefresh_RequiresSecure(t *testing.T) {
	e := newEnv(t, mock.Config{Assistant: companion + "/.service.AssistantService"}, "")
	if _, err := e.run(t, "device", "refresh"); !errors.Is(err, core.ErrPrivilegeAbsent) {
		t.Errorf("expected ErrPrivilegeAbsent, got %v", err)
	}

	e.sh.SetSecureGranted(true)
	if _, err := e.run(t, "device", "refresh"); err != nil {
		t.Errorf("refresh: %v", err)
	}
}

// A running service answers one-shot commands; the CLI never touches the device.
func TestRemoteSession(t *testing.T) {
	e := newEnv(t, grantedConfig(), "")

	cfg, err := config.Load(e.config)
	if err != nil {
		t.Fatal(err)
	}
	daemonSide := mock.New(grantedConfig())
	rt, err := assemble(cfg, daemonSide.Open(device.TransportLocal))
	if err != nil {
		t.Fatal(err)
	}
	defer rt.Close()

	server := api.NewServer(rt.svc, api.Options{Listen: "127.0.0.1:0", Rate: 100, Burst: 100})
	addr, err := server.Start()
	if err != nil {
		t.Fatal(err)
	}
	defer server.Shutdown(context.Background())

	e.writeConfig(t, addr.String())
	deviceRunner = func(context.Context, string, ...string) (string, error) {
		return "", errors.New("local device must not be used")
	}

	out, err := e.run(t, "toggle", "on")
	if err != nil {
		t.Fatalf("toggle on: %v\n%s", err, out)
	}
	if !daemonSide.Airplane() {
		t.Error("expected the service's device to be switched on")
	}
	if !strings.Contains(out, "service "+addr.String()) {
		t.Errorf("unexpected output: %s", out)
	}

	out, err = e.run(t, "settings", "set", "--auto", "--interval", "30")
	if err != nil {
		t.Fatalf("settings set: %v\n%s", err, out)
	}
	if st := rt.svc.Schedule(); st.Status != core.ScheduleArmed || st.Interval != 30 {
		t.Errorf("expected the running schedule re-armed at 30 min, got %+v", st)
	}

	out, err = e.run(t, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, "every 30 min via assistant") {
		t.Errorf("unexpected status output: %s", out)
	}

	// --local bypasses the service.
	if _, err := e.run(t, "--local", "toggle", "off"); err == nil {
		t.Error("expected --local to use the (failing) local device")
	}
}

func TestRun_ReactivatesAndStops(t *testing.T) {
	e := newEnv(t, grantedConfig(), "")
	store := config.NewSettingsStore(filepath.Join(e.dir, "state", "settings.yaml"))
	if _, err := store.Update(config.SettingsPatch{AutoEnabled: boolPtr(true)}); err != nil {
		t.Fatal(err)
	}

	out := &syncBuffer{}
	app := NewApp()
	app.Writer = out
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- app.RunContext(ctx, []string{"airplane-runner", "--config", e.config, "run", "--listen", ""})
	}()

	deadline := time.Now().Add(5 * time.Second)
	for !strings.Contains(out.String(), "schedule") && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v\n%s", err, out.String())
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop after cancel")
	}

	got := out.String()
	for _, want := range []string{"device", "boot       completed", "every 15 min via assistant", "Stopped."} {
		if !strings.Contains(got, want) {
			t.Errorf("run output missing %q:\n%s", want, got)
		}
	}
}

func boolPtr(b bool) *bool { return &b }

func TestDaemonStatus(t *testing.T) {
	var calls []string
	daemonManager = func() *daemon.Manager {
		return daemon.NewManagerFor("linux", func(name string, args ...string) ([]byte, error) {
			line := name + " " + strings.Join(args, " ")
			calls = append(calls, line)
			if strings.Contains(line, "is-active") {
				return []byte("active\n"), nil
			}
			return []byte("MainPID=77\n"), nil
		})
	}
	t.Cleanup(func() { daemonManager = daemon.NewManager })
	colorsEnabled = false

	var out bytes.Buffer
	app := NewApp()
	app.Writer = &out
	if err := app.Run([]string{"airplane-runner", "daemon", "status"}); err != nil {
		t.Fatalf("daemon status: %v", err)
	}
	if !strings.Contains(out.String(), "running (pid 77)") {
		t.Errorf("unexpected output: %s", out.String())
	}
	if len(calls) != 2 {
		t.Errorf("calls = %v", calls)
	}
}

func TestDaemonConfig_AbsoluteConfigPath(t *testing.T) {
	var got daemon.Config
	app := &cli.App{
		Flags: GlobalFlags,
		Action: func(c *cli.Context) error {
			var err error
			got, err = daemonConfig(c)
			return err
		},
	}
	if err := app.Run([]string{"airplane-runner", "--config", "conf/config.yaml"}); err != nil {
		t.Fatal(err)
	}
	if !filepath.IsAbs(got.ConfigPath) || !strings.HasSuffix(got.ConfigPath, filepath.Join("conf", "config.yaml")) {
		t.Errorf("ConfigPath = %q, want absolute", got.ConfigPath)
	}
	if got.Name != daemon.DefaultName {
		t.Errorf("Name = %q", got.Name)
	}
}
