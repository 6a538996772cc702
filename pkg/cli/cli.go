// Package cli provides the command-line interface for airplane-runner.
package cli

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

// Version is set at build time.
var Version = "dev"

// GlobalFlags are available to all commands.
var GlobalFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "config",
		Usage:   "Path to config.yaml (default: <home>/config.yaml)",
		EnvVars: []string{"AIRPLANE_CONFIG"},
	},
	&cli.StringFlag{
		Name:    "device",
		Aliases: []string{"s"},
		Usage:   "Device serial (default: first connected device)",
		EnvVars: []string{"AIRPLANE_DEVICE"},
	},
	&cli.StringFlag{
		Name:    "adb",
		Usage:   "Path to the adb binary",
		EnvVars: []string{"AIRPLANE_ADB"},
	},
	&cli.StringFlag{
		Name:    "transport",
		Aliases: []string{"t"},
		Usage:   "Device transport (adb, local)",
		EnvVars: []string{"AIRPLANE_TRANSPORT"},
	},
	&cli.BoolFlag{
		Name:    "verbose",
		Usage:   "Enable verbose logging",
		EnvVars: []string{"AIRPLANE_VERBOSE"},
	},
	&cli.BoolFlag{
		Name:    "local",
		Usage:   "Drive the device directly even if a service is running",
		EnvVars: []string{"AIRPLANE_LOCAL"},
	},
	&cli.BoolFlag{
		Name:  "no-ansi",
		Usage: "Disable ANSI colors",
	},
}

// NewApp builds the command tree.
func NewApp() *cli.App {
	return &cli.App{
		Name:    "airplane-runner",
		Usage:   "Keep an Android device's radios fresh by toggling airplane mode on a schedule",
		Version: Version,
		Description: `airplane-runner cycles airplane mode on and off at a fixed interval, through
either the companion app's assistant role or a WRITE_SECURE_SETTINGS grant.

Examples:
  airplane-runner run
  airplane-runner settings set --auto --interval 15 --mode assistant
  airplane-runner toggle smart
  airplane-runner --device emulator-5554 status`,
		Flags: GlobalFlags,
		Before: func(c *cli.Context) error {
			if c.Bool("no-ansi") {
				colorsEnabled = false
			}
			return nil
		},
		Commands: []*cli.Command{
			runCommand,
			toggleCommand,
			settingsCommand,
			statusCommand,
			logsCommand,
			deviceCommand,
			daemonCommand,
		},
	}
}

// Execute runs the CLI.
func Execute() {
	if err := NewApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorGreen  = "\033[32m"
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
)

// colorsEnabled determines if ANSI colors should be used
var colorsEnabled = true

func init() {
	// Respect NO_COLOR environment variable
	if os.Getenv("NO_COLOR") != "" {
		colorsEnabled = false
		return
	}
	// Check if stdout is a terminal
	if fileInfo, err := os.Stdout.Stat(); err == nil {
		if (fileInfo.Mode() & os.ModeCharDevice) == 0 {
			colorsEnabled = false
		}
	}
}

// color returns the color code if colors are enabled, empty string otherwise
func color(c string) string {
	if colorsEnabled {
		return c
	}
	return ""
}
