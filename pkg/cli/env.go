package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/airplane-runner/pkg/airplane"
	"github.com/devicelab-dev/airplane-runner/pkg/config"
	"github.com/devicelab-dev/airplane-runner/pkg/core"
	"github.com/devicelab-dev/airplane-runner/pkg/device"
	"github.com/devicelab-dev/airplane-runner/pkg/logger"
	"github.com/devicelab-dev/airplane-runner/pkg/notify"
	"github.com/devicelab-dev/airplane-runner/pkg/oplog"
	"github.com/devicelab-dev/airplane-runner/pkg/privilege"
	"github.com/devicelab-dev/airplane-runner/pkg/service"
)

// deviceRunner replaces os/exec for device commands. Tests point it at a fake shell.
var deviceRunner device.CommandRunner

// loadConfig reads the config file and applies global flag overrides.
func loadConfig(c *cli.Context) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path := c.String("config"); path != "" {
		cfg, err = config.Load(path)
	} else {
		cfg, err = config.LoadFromDir(config.GetHome())
	}
	if err != nil {
		return nil, err
	}

	if v := c.String("device"); v != "" {
		cfg.Device.Serial = v
	}
	if v := c.String("adb"); v != "" {
		cfg.Device.ADB = v
	}
	if v := c.String("transport"); v != "" {
		cfg.Device.Transport = v
	}
	if c.Bool("verbose") {
		cfg.Log.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// initLogger points the global logger at cfg.Log.
func initLogger(cfg *config.Config) error {
	if cfg.Log.File != "" {
		if err := ensureDir(filepath.Dir(cfg.Log.File)); err != nil {
			return err
		}
	}
	if err := logger.Init(cfg.Log.File); err != nil {
		return err
	}
	return logger.SetLevel(cfg.Log.Level)
}

// openDevice connects to the configured device.
func openDevice(ctx context.Context, cfg *config.Config) (*device.AndroidDevice, error) {
	return device.Open(ctx, device.Options{
		Serial:    cfg.Device.Serial,
		ADBPath:   cfg.Device.ADB,
		Transport: cfg.Device.Transport,
		Runner:    deviceRunner,
	})
}

// stack is the wired service plus what must be closed with it.
type stack struct {
	cfg *config.Config
	dev *device.AndroidDevice
	log  *oplog.Store
	priv *privilege.Checker
	svc  *service.Service
}

// buildRuntime wires the device, privilege checker, capabilities, oplog
// and indicator into a Service.
func buildRuntime(ctx context.Context, cfg *config.Config) (*stack, error) {
	dev, err := openDevice(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return assemble(cfg, dev)
}

func assemble(cfg *config.Config, dev *device.AndroidDevice) (*stack, error) {
	store, err := oplog.Open(cfg.OplogPath())
	if err != nil {
		return nil, fmt.Errorf("open operation log: %w", err)
	}

	checker := privilege.NewChecker(dev, cfg.Companion.Package, cfg.Privilege.Refresh)
	provider := airplane.NewProvider(dev, checker, airplane.ProviderOptions{
		Assistant:   cfg.Companion.Assistant,
		VerifyDelay: cfg.Toggle.VerifyDelay,
	})

	svc := service.New(service.Options{
		Settings:  config.NewSettingsStore(cfg.SettingsPath()),
		Privilege: checker,
		Provider:  provider,
		Toggler:   airplane.NewToggler(cfg.Toggle.SettleDelay, nil),
		Indicator: buildIndicator(cfg, dev),
		Log:       store,
		Device:    dev,
	})
	return &stack{cfg: cfg, dev: dev, log: store, priv: checker, svc: svc}, nil
}

func buildIndicator(cfg *config.Config, dev *device.AndroidDevice) notify.Indicator {
	var ind notify.Multi
	if cfg.Notify.Device {
		ind = append(ind, notify.NewDeviceIndicator(dev, notify.DefaultTag))
	}
	if cfg.Notify.Socket != "" {
		ind = append(ind, notify.NewSocketIndicator(cfg.Notify.Socket))
	}
	if len(ind) == 0 {
		return notify.Nop{}
	}
	return ind
}

func (r *stack) Close() {
	r.svc.Close()
	r.priv.Close()
	if err := r.log.Close(); err != nil {
		logger.Warn("close operation log: %v", err)
	}
}

// parseMode maps a --mode value to a ControlMode. Empty selects the persisted mode.
func parseMode(s string) (*core.ControlMode, error) {
	if s == "" {
		return nil, nil
	}
	m, err := core.ParseControlMode(strings.ToLower(s))
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func ensureDir(dir string) error {
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	return nil
}
