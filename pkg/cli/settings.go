package cli

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/airplane-runner/pkg/config"
	"github.com/devicelab-dev/airplane-runner/pkg/logger"
)

var settingsCommand = &cli.Command{
	Name:  "settings",
	Usage: "Show or change the toggle settings",
	Description: `The settings are persisted under state.dir and survive restarts.
A running service applies changes immediately; otherwise they take
effect on the next "airplane-runner run".

Examples:
  airplane-runner settings show
  airplane-runner settings set --auto --interval 15
  airplane-runner settings set --mode secure
  airplane-runner settings set --auto=false`,
	Subcommands: []*cli.Command{
		{
			Name:   "show",
			Usage:  "Print the persisted settings",
			Action: runSettingsShow,
		},
		{
			Name:  "set",
			Usage: "Change one or more settings",
			Flags: []cli.Flag{
				&cli.BoolFlag{
					Name:  "auto",
					Usage: "Enable (or --auto=false to disable) the recurring toggle",
				},
				&cli.IntFlag{
					Name:    "interval",
					Aliases: []string{"i"},
					Usage:   fmt.Sprintf("Toggle interval in minutes (%d-%d)", config.MinIntervalMinutes, config.MaxIntervalMinutes),
				},
				&cli.StringFlag{
					Name:    "mode",
					Aliases: []string{"m"},
					Usage:   "Privilege path (assistant, secure)",
				},
			},
			Action: runSettingsSet,
		},
	},
}

// settingsPatch builds a patch from the flags that were given.
func settingsPatch(c *cli.Context) (config.SettingsPatch, error) {
	var patch config.SettingsPatch
	if c.IsSet("auto") {
		v := c.Bool("auto")
		patch.AutoEnabled = &v
	}
	if c.IsSet("interval") {
		v := c.Int("interval")
		if err := config.ValidateInterval(v); err != nil {
			return patch, err
		}
		patch.IntervalMinutes = &v
	}
	if c.IsSet("mode") {
		mode, err := parseMode(c.String("mode"))
		if err != nil {
			return patch, err
		}
		patch.ControlMode = mode
	}
	if patch.AutoEnabled == nil && patch.IntervalMinutes == nil && patch.ControlMode == nil {
		return patch, fmt.Errorf("nothing to change: pass --auto, --interval or --mode")
	}
	return patch, nil
}

func runSettingsShow(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if err := initLogger(cfg); err != nil {
		return err
	}
	defer logger.Close()

	ctx := contextOf(c)
	var settings config.ToggleConfiguration
	if client := dial(ctx, cfg, c.Bool("local")); client != nil {
		settings, err = client.Settings(ctx)
	} else {
		settings, err = config.NewSettingsStore(cfg.SettingsPath()).Load()
	}
	if err != nil {
		return err
	}
	printSettings(c.App.Writer, settings)
	return nil
}

func runSettingsSet(c *cli.Context) error {
	patch, err := settingsPatch(c)
	if err != nil {
		return err
	}
	return withSession(c, func(ctx context.Context, s *session) error {
		var next config.ToggleConfiguration
		if s.remote != nil {
			next, err = s.remote.ApplySettings(ctx, patch)
		} else {
			next, err = s.local.svc.SaveSettings(ctx, patch)
		}
		if err != nil {
			return err
		}
		printSettings(s.out, next)
		if s.remote == nil {
			s.printf("\n  %sNo service is running; settings apply on the next \"airplane-runner run\".%s\n",
				color(colorYellow), color(colorReset))
		}
		return nil
	})
}
