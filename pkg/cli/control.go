package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/airplane-runner/pkg/airplane"
	"github.com/devicelab-dev/airplane-runner/pkg/api"
	"github.com/devicelab-dev/airplane-runner/pkg/config"
	"github.com/devicelab-dev/airplane-runner/pkg/device"
	"github.com/devicelab-dev/airplane-runner/pkg/logger"
	"github.com/devicelab-dev/airplane-runner/pkg/oplog"
	"github.com/devicelab-dev/airplane-runner/pkg/privilege"
	"github.com/devicelab-dev/airplane-runner/pkg/service"
)

// controller is served by a running service over HTTP (*api.Client) or
// by a service wired in this process (*service.Service).
type controller interface {
	Status(ctx context.Context) (service.Status, error)
	SmartToggle(ctx context.Context, req service.Request) (airplane.SmartResult, error)
	TimedToggle(ctx context.Context, req service.Request) (airplane.TimedResult, error)
	TurnOn(ctx context.Context, req service.Request) (bool, error)
	TurnOff(ctx context.Context, req service.Request) (bool, error)
	ForceRefresh(ctx context.Context) error
	RefreshPrivilege(ctx context.Context) (privilege.State, error)
	DeviceInfo(ctx context.Context) (device.DeviceInfo, error)
	Logs(ctx context.Context, limit int) ([]oplog.Entry, error)
	ClearLogs(ctx context.Context) (int64, error)
}

var (
	_ controller = (*api.Client)(nil)
	_ controller = (*service.Service)(nil)
)

// session is what a one-shot command works against.
type session struct {
	cfg    *config.Config
	ctl    controller
	remote *api.Client // nil when running locally
	local  *stack      // nil when talking to a running service
	out    io.Writer
}

// withSession prefers a running service and falls back to wiring the
// device in this process.
func withSession(c *cli.Context, fn func(ctx context.Context, s *session) error) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if err := initLogger(cfg); err != nil {
		return err
	}
	defer logger.Close()

	ctx := contextOf(c)
	s := &session{cfg: cfg, out: c.App.Writer}

	if client := dial(ctx, cfg, c.Bool("local")); client != nil {
		s.ctl, s.remote = client, client
		return fn(ctx, s)
	}

	rt, err := buildRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()
	s.ctl, s.local = rt.svc, rt
	return fn(ctx, s)
}

// dial returns a client when a service answers on cfg.API.Listen.
func dial(ctx context.Context, cfg *config.Config, local bool) *api.Client {
	if local || cfg.API.Listen == "" {
		return nil
	}
	client := api.NewClient(cfg.API.Listen)
	if _, err := client.Settings(ctx); err != nil {
		if !api.IsUnreachable(err) {
			logger.Warn("service at %s: %v", cfg.API.Listen, err)
		}
		return nil
	}
	logger.Debug("using running service at %s", cfg.API.Listen)
	return client
}

func contextOf(c *cli.Context) context.Context {
	if c.Context != nil {
		return c.Context
	}
	return context.Background()
}

// where names the side that executed a command.
func (s *session) where() string {
	if s.remote != nil {
		return "service " + s.cfg.API.Listen
	}
	return "device " + s.local.dev.Serial()
}

func (s *session) printf(format string, args ...interface{}) {
	fmt.Fprintf(s.out, format, args...)
}
