package cli

import (
	"fmt"
	"path/filepath"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/airplane-runner/pkg/daemon"
)

var daemonCommand = &cli.Command{
	Name:  "daemon",
	Usage: "Install airplane-runner as a boot-time service",
	Description: `Installs a systemd unit (Linux) or launchd agent (macOS) that runs
"airplane-runner run", so the schedule is re-armed after the host restarts.
The global --config path is baked into the unit.

Examples:
  sudo airplane-runner --config /etc/airplane-runner/config.yaml daemon install
  airplane-runner daemon status
  sudo airplane-runner daemon uninstall`,
	Subcommands: []*cli.Command{
		{
			Name:  "install",
			Usage: "Write and start the service unit",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:  "user",
					Usage: "User the service runs as (default: current user)",
				},
			},
			Action: runDaemonInstall,
		},
		{
			Name:   "uninstall",
			Usage:  "Stop the service and remove the unit",
			Action: runDaemonUninstall,
		},
		{
			Name:   "status",
			Usage:  "Show whether the service is running",
			Action: runDaemonStatus,
		},
	},
}

// daemonManager is replaced in tests.
var daemonManager = daemon.NewManager

func daemonConfig(c *cli.Context) (daemon.Config, error) {
	cfg := daemon.DefaultConfig()
	if path := c.String("config"); path != "" {
		abs, err := filepath.Abs(path)
		if err != nil {
			return cfg, err
		}
		cfg.ConfigPath = abs
	}
	if u := c.String("user"); u != "" {
		cfg.User = u
	}
	return cfg, nil
}

func runDaemonInstall(c *cli.Context) error {
	cfg, err := daemonConfig(c)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := daemonManager().Install(cfg); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "  %s installed %s (%s run)\n", mark(true), cfg.Name, cfg.BinaryPath)
	fmt.Fprintf(c.App.Writer, "  %slogs: %s%s\n", color(colorGray), filepath.Join(cfg.LogPath, cfg.Name+".log"), color(colorReset))
	return nil
}

func runDaemonUninstall(c *cli.Context) error {
	cfg, err := daemonConfig(c)
	if err != nil {
		return err
	}
	if err := daemonManager().Uninstall(cfg); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "  %s removed %s\n", mark(true), cfg.Name)
	return nil
}

func runDaemonStatus(c *cli.Context) error {
	cfg, err := daemonConfig(c)
	if err != nil {
		return err
	}
	st, err := daemonManager().Status(cfg)
	if err != nil {
		return err
	}
	if !st.Running {
		fmt.Fprintf(c.App.Writer, "  %s %s is not running\n", mark(false), cfg.Name)
		return nil
	}
	fmt.Fprintf(c.App.Writer, "  %s %s running (pid %d)\n", mark(true), cfg.Name, st.PID)
	return nil
}
