package cli

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/airplane-runner/pkg/device"
)

var deviceCommand = &cli.Command{
	Name:  "device",
	Usage: "Inspect the device and its privileges",
	Description: `Examples:
  airplane-runner device list
  airplane-runner device info
  airplane-runner device privilege
  airplane-runner device refresh`,
	Subcommands: []*cli.Command{
		{
			Name:   "list",
			Usage:  "List devices known to adb",
			Action: runDeviceList,
		},
		{
			Name:   "info",
			Usage:  "Print model, OS and radio states",
			Action: runDeviceInfo,
		},
		{
			Name:   "privilege",
			Usage:  "Re-probe the assistant role and the secure-settings grant",
			Action: runDevicePrivilege,
		},
		{
			Name:   "refresh",
			Usage:  "Re-announce the airplane flag so stale status bars catch up (secure path)",
			Action: runForceRefresh,
		},
	},
}

func runDeviceList(c *cli.Context) error {
	entries, err := device.ListDevices(contextOf(c))
	if err != nil {
		return err
	}
	w := c.App.Writer
	if len(entries) == 0 {
		fmt.Fprintf(w, "  %sno devices attached%s\n", color(colorGray), color(colorReset))
		return nil
	}
	for _, e := range entries {
		fmt.Fprintf(w, "  %-24s %s\n", e.Serial, e.State)
	}
	return nil
}

func runDeviceInfo(c *cli.Context) error {
	return withSession(c, func(ctx context.Context, s *session) error {
		info, err := s.ctl.DeviceInfo(ctx)
		if err != nil {
			return err
		}
		kind := "device"
		if info.IsEmulator {
			kind = "emulator"
		}
		s.printf("\n%s%s %s%s (%s)\n", color(colorBold), info.Manufacturer, info.Model, color(colorReset), kind)
		s.printf("  %-12s %s\n", "serial", info.Serial)
		s.printf("  %-12s Android %s (SDK %s)\n", "os", info.Release, info.SDK)
		s.printf("  %-12s %s\n", "airplane", onOff(info.AirplaneMode))
		s.printf("  %-12s %s\n", "wifi", radio(info.WiFi))
		s.printf("  %-12s %s\n", "bluetooth", radio(info.Bluetooth))
		s.printf("  %-12s %s\n", "mobile data", radio(info.MobileData))
		return nil
	})
}

func runDevicePrivilege(c *cli.Context) error {
	return withSession(c, func(ctx context.Context, s *session) error {
		st, err := s.ctl.RefreshPrivilege(ctx)
		if err != nil {
			return err
		}
		s.printf("  %-12s %s\n", "assistant", granted(st.Assistant))
		s.printf("  %-12s %s\n", "secure", granted(st.Secure))
		if !st.Any() {
			s.printf("\n  %sGrant one: set the companion app as the default assistant, or run\n  adb shell pm grant %s %s%s\n",
				color(colorYellow), s.cfg.Companion.Package, device.PermissionWriteSecureSettings, color(colorReset))
		}
		return nil
	})
}

func runForceRefresh(c *cli.Context) error {
	return withSession(c, func(ctx context.Context, s *session) error {
		if err := s.ctl.ForceRefresh(ctx); err != nil {
			return err
		}
		s.printf("  %s airplane flag re-announced (%s)\n", mark(true), s.where())
		return nil
	})
}

func radio(v *bool) string {
	if v == nil {
		return "unknown"
	}
	return onOff(*v)
}
