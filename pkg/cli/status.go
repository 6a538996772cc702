package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/airplane-runner/pkg/config"
	"github.com/devicelab-dev/airplane-runner/pkg/core"
	"github.com/devicelab-dev/airplane-runner/pkg/logger"
	"github.com/devicelab-dev/airplane-runner/pkg/oplog"
	"github.com/devicelab-dev/airplane-runner/pkg/service"
)

var statusCommand = &cli.Command{
	Name:  "status",
	Usage: "Show airplane mode, privileges, schedule and settings",
	Description: `Examples:
  airplane-runner status
  airplane-runner --local status`,
	Action: runStatus,
}

var logsCommand = &cli.Command{
	Name:  "logs",
	Usage: "Show or clear the operation log",
	Description: `Examples:
  airplane-runner logs
  airplane-runner logs --limit 50
  airplane-runner logs --clear`,
	Flags: []cli.Flag{
		&cli.IntFlag{
			Name:    "limit",
			Aliases: []string{"n"},
			Usage:   "Number of entries, newest first",
			Value:   20,
		},
		&cli.BoolFlag{
			Name:  "clear",
			Usage: "Delete every entry",
		},
	},
	Action: runLogs,
}

func runStatus(c *cli.Context) error {
	return withSession(c, func(ctx context.Context, s *session) error {
		st, err := s.ctl.Status(ctx)
		if err != nil {
			return err
		}
		printStatus(s.out, st, s.remote != nil)
		return nil
	})
}

func printStatus(w io.Writer, st service.Status, serviceRunning bool) {
	fmt.Fprintf(w, "\n%sAirplane mode%s\n", color(colorBold), color(colorReset))
	switch {
	case st.AirplaneMode != nil:
		fmt.Fprintf(w, "  %-12s %s\n", "state", onOff(*st.AirplaneMode))
	case st.DeviceError != "":
		fmt.Fprintf(w, "  %-12s %sunreadable: %s%s\n", "state", color(colorRed), st.DeviceError, color(colorReset))
	}

	fmt.Fprintf(w, "\n%sPrivileges%s\n", color(colorBold), color(colorReset))
	fmt.Fprintf(w, "  %-12s %s\n", "assistant", granted(st.Privilege.Assistant))
	fmt.Fprintf(w, "  %-12s %s\n", "secure", granted(st.Privilege.Secure))

	fmt.Fprintf(w, "\n%sSchedule%s\n", color(colorBold), color(colorReset))
	if !serviceRunning {
		fmt.Fprintf(w, "  %-12s %sno service running%s\n", "status", color(colorGray), color(colorReset))
	} else {
		fmt.Fprintf(w, "  %-12s %s\n", "status", st.Schedule.Name)
		if st.Schedule.Name == core.ScheduleArmed.String() {
			fmt.Fprintf(w, "  %-12s every %d min via %s\n", "period", st.Schedule.Interval, st.Schedule.Mode)
			if !st.Schedule.Next.IsZero() {
				fmt.Fprintf(w, "  %-12s %s\n", "next", st.Schedule.Next.Local().Format(time.TimeOnly))
			}
			fmt.Fprintf(w, "  %-12s %d\n", "fires", st.Schedule.Fires)
		}
	}

	printSettings(w, st.Settings)
}

func printSettings(w io.Writer, cfg config.ToggleConfiguration) {
	fmt.Fprintf(w, "\n%sSettings%s\n", color(colorBold), color(colorReset))
	fmt.Fprintf(w, "  %-12s %v\n", "auto", cfg.AutoEnabled)
	fmt.Fprintf(w, "  %-12s %d min\n", "interval", cfg.IntervalMinutes)
	fmt.Fprintf(w, "  %-12s %s\n", "mode", cfg.ControlMode)
}

func granted(ok bool) string {
	if ok {
		return color(colorGreen) + "granted" + color(colorReset)
	}
	return color(colorYellow) + "not granted" + color(colorReset)
}

func runLogs(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if err := initLogger(cfg); err != nil {
		return err
	}
	defer logger.Close()
	ctx := contextOf(c)

	// The log lives on the host; the device is not needed.
	var ctl interface {
		Logs(ctx context.Context, limit int) ([]oplog.Entry, error)
		ClearLogs(ctx context.Context) (int64, error)
	}
	if client := dial(ctx, cfg, c.Bool("local")); client != nil {
		ctl = client
	} else {
		store, err := oplog.Open(cfg.OplogPath())
		if err != nil {
			return err
		}
		defer store.Close()
		ctl = storeLogs{store}
	}

	w := c.App.Writer
	if c.Bool("clear") {
		n, err := ctl.ClearLogs(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "  %s deleted %d entries\n", mark(true), n)
		return nil
	}

	entries, err := ctl.Logs(ctx, c.Int("limit"))
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintf(w, "  %sno operations recorded%s\n", color(colorGray), color(colorReset))
		return nil
	}
	for _, e := range entries {
		fmt.Fprintf(w, "  %s %s %-16s %-9s %s\n",
			e.At.Local().Format(time.DateTime), mark(e.OK), e.Op, e.Mode, e.Detail)
	}
	return nil
}

// storeLogs reads the operation log without a service.
type storeLogs struct{ *oplog.Store }

func (s storeLogs) Logs(ctx context.Context, limit int) ([]oplog.Entry, error) {
	return s.List(ctx, limit)
}

func (s storeLogs) ClearLogs(ctx context.Context) (int64, error) {
	return s.Clear(ctx)
}
