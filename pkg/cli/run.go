package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/airplane-runner/pkg/api"
	"github.com/devicelab-dev/airplane-runner/pkg/core"
	"github.com/devicelab-dev/airplane-runner/pkg/logger"
)

// bootPoll is how often run checks the device while it boots.
const bootPoll = 2 * time.Second

var runCommand = &cli.Command{
	Name:  "run",
	Usage: "Run the toggle service in the foreground",
	Description: `Waits for the device to finish booting, re-arms the schedule from the
persisted settings and serves the local HTTP control surface until
interrupted. This is the command the installed daemon runs.

Examples:
  airplane-runner run
  airplane-runner --device emulator-5554 run --listen 127.0.0.1:7500
  airplane-runner run --listen ""`,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "listen",
			Usage: "HTTP listen address (empty disables the API; default from config)",
		},
	},
	Action: runRun,
}

func runRun(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if c.IsSet("listen") {
		cfg.API.Listen = c.String("listen")
	}
	if err := initLogger(cfg); err != nil {
		return err
	}
	defer logger.Close()

	ctx, cancel := context.WithCancel(contextOf(c))
	defer cancel()

	// Handle signals (Ctrl+C, kill)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("Received signal %v, shutting down...", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	w := c.App.Writer
	fmt.Fprintf(w, "\n%sSetup%s\n", color(colorBold), color(colorReset))

	dev, err := openDevice(ctx, cfg)
	if err != nil {
		return err
	}
	printSetupStep(w, true, "device", fmt.Sprintf("%s (%s)", dev.Serial(), dev.Transport()))

	if cfg.Device.BootTimeout > 0 {
		if err := dev.WaitForBoot(ctx, cfg.Device.BootTimeout, bootPoll); err != nil {
			printSetupStep(w, false, "boot", err.Error())
			return core.ErrDeviceDisconnected.WithCause(err)
		}
		printSetupStep(w, true, "boot", "completed")
	}

	rt, err := assemble(cfg, dev)
	if err != nil {
		return err
	}
	defer rt.Close()

	armed, err := rt.svc.Reactivate(ctx)
	switch {
	case err != nil:
		// Keep serving so the privilege can be fixed and the schedule enabled over the API.
		logger.Warn("reactivate: %v", err)
		printSetupStep(w, false, "schedule", err.Error())
	case armed:
		st := rt.svc.Schedule()
		printSetupStep(w, true, "schedule", fmt.Sprintf("every %d min via %s", st.Interval, st.Mode))
	default:
		printSetupStep(w, true, "schedule", "auto toggle disabled")
	}

	var server *api.Server
	if cfg.API.Listen != "" {
		server = api.NewServer(rt.svc, api.Options{
			Listen: cfg.API.Listen,
			Rate:   cfg.API.Rate,
			Burst:  cfg.API.Burst,
			Debug:  cfg.Log.Level == "debug",
		})
		addr, err := server.Start()
		if err != nil {
			return err
		}
		printSetupStep(w, true, "api", "http://"+addr.String())
	}

	logger.Info("airplane-runner running (device %s)", dev.Serial())
	<-ctx.Done()

	if server != nil {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			logger.Warn("api shutdown: %v", err)
		}
	}
	fmt.Fprintf(w, "\n  %sStopped.%s\n", color(colorGray), color(colorReset))
	return nil
}

func printSetupStep(w io.Writer, ok bool, label, detail string) {
	fmt.Fprintf(w, "  %s %-10s %s\n", mark(ok), label, detail)
}
