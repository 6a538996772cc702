package cli

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/airplane-runner/pkg/service"
)

var modeFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "mode",
		Aliases: []string{"m"},
		Usage:   "Privilege path (assistant, secure); default is the persisted mode",
	},
	&cli.BoolFlag{
		Name:  "foreground",
		Usage: "Launch the assistant front-end in the foreground (routed writes only)",
	},
}

var toggleCommand = &cli.Command{
	Name:  "toggle",
	Usage: "Change airplane mode once, outside the schedule",
	Description: `Manual operations. They use the running service when one answers on
api.listen, otherwise the device is driven directly.

Examples:
  airplane-runner toggle smart
  airplane-runner toggle timed --mode secure
  airplane-runner toggle on
  airplane-runner toggle off --foreground`,
	Subcommands: []*cli.Command{
		{
			Name:   "smart",
			Usage:  "Flip the current state",
			Flags:  modeFlags,
			Action: runSmartToggle,
		},
		{
			Name:   "timed",
			Usage:  "Turn on, wait the settle delay, turn off",
			Flags:  modeFlags,
			Action: runTimedToggle,
		},
		{
			Name:   "on",
			Usage:  "Turn airplane mode on",
			Flags:  modeFlags,
			Action: func(c *cli.Context) error { return runSet(c, true) },
		},
		{
			Name:   "off",
			Usage:  "Turn airplane mode off",
			Flags:  modeFlags,
			Action: func(c *cli.Context) error { return runSet(c, false) },
		},
	},
}

func toggleRequest(c *cli.Context) (service.Request, error) {
	mode, err := parseMode(c.String("mode"))
	if err != nil {
		return service.Request{}, err
	}
	return service.Request{Mode: mode, Foreground: c.Bool("foreground")}, nil
}

func runSmartToggle(c *cli.Context) error {
	req, err := toggleRequest(c)
	if err != nil {
		return err
	}
	return withSession(c, func(ctx context.Context, s *session) error {
		res, err := s.ctl.SmartToggle(ctx, req)
		if err != nil {
			return err
		}
		s.printf("  %s %s -> %s (%s)\n", mark(res.OK), onOff(res.Before), onOff(res.Target), s.where())
		if !res.OK {
			return fmt.Errorf("airplane mode did not reach %s", onOff(res.Target))
		}
		return nil
	})
}

func runTimedToggle(c *cli.Context) error {
	req, err := toggleRequest(c)
	if err != nil {
		return err
	}
	return withSession(c, func(ctx context.Context, s *session) error {
		res, err := s.ctl.TimedToggle(ctx, req)
		if err != nil {
			return err
		}
		s.printf("  %s on  %s\n", mark(res.OnOK), res.OnIssuedAt.Format("15:04:05.000"))
		s.printf("  %s off %s\n", mark(res.OffOK), res.OffIssuedAt.Format("15:04:05.000"))
		s.printf("  %sfinal: %s, sequence %s (%s)%s\n", color(colorGray), onOff(res.Final), res.PhaseName, s.where(), color(colorReset))
		if !res.OnOK || !res.OffOK {
			return fmt.Errorf("toggle sequence incomplete")
		}
		return nil
	})
}

func runSet(c *cli.Context, on bool) error {
	req, err := toggleRequest(c)
	if err != nil {
		return err
	}
	return withSession(c, func(ctx context.Context, s *session) error {
		var ok bool
		if on {
			ok, err = s.ctl.TurnOn(ctx, req)
		} else {
			ok, err = s.ctl.TurnOff(ctx, req)
		}
		if err != nil {
			return err
		}
		s.printf("  %s airplane mode %s (%s)\n", mark(ok), onOff(on), s.where())
		if !ok {
			return fmt.Errorf("airplane mode did not reach %s", onOff(on))
		}
		return nil
	})
}

func mark(ok bool) string {
	if ok {
		return color(colorGreen) + "✓" + color(colorReset)
	}
	return color(colorRed) + "✗" + color(colorReset)
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}
