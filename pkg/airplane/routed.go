package airplane

import (
	"context"
	"time"

	"github.com/devicelab-dev/airplane-runner/pkg/core"
	"github.com/devicelab-dev/airplane-runner/pkg/device"
)

// Assistant front-end commands.
const (
	CommandTurnOn  = "turn_on"
	CommandTurnOff = "turn_off"
)

// backgroundFlags start the front-end without surfacing a task switch.
const backgroundFlags = device.FlagActivityNewTask | device.FlagActivityMultipleTask | device.FlagActivityNoAnimation

// RoutedWriteCapability asks the companion's assistant front-end to set
// the flag. Requires the companion to be the default assistant.
type RoutedWriteCapability struct {
	dev         Device
	component   string
	foreground  bool
	clock       Clock
	verifyDelay time.Duration
}

// NewRoutedWrite creates a routed-write capability. foreground reports
// whether the caller is a user-visible surface; background launches add
// new-task flags.
func NewRoutedWrite(dev Device, component string, foreground bool, clock Clock, verifyDelay time.Duration) *RoutedWriteCapability {
	if clock == nil {
		clock = RealClock{}
	}
	return &RoutedWriteCapability{
		dev:         dev,
		component:   component,
		foreground:  foreground,
		clock:       clock,
		verifyDelay: verifyDelay,
	}
}

// Mode returns ModeAssistant.
func (c *RoutedWriteCapability) Mode() core.ControlMode { return core.ModeAssistant }

// Foreground reports the launch style.
func (c *RoutedWriteCapability) Foreground() bool { return c.foreground }

// Read returns the current flag value.
func (c *RoutedWriteCapability) Read(ctx context.Context) (bool, error) {
	return readFlag(ctx, c.dev)
}

// Write requests the flag through the front-end and verifies it.
func (c *RoutedWriteCapability) Write(ctx context.Context, on bool) bool {
	return writeVerified(ctx, c.Mode(), c.clock, c.verifyDelay, c.request, c.Read, on)
}

func (c *RoutedWriteCapability) request(ctx context.Context, on bool) error {
	command := CommandTurnOff
	if on {
		command = CommandTurnOn
	}
	flags := 0
	if !c.foreground {
		flags = backgroundFlags
	}
	if err := c.dev.StartActivity(ctx, c.component, map[string]string{"command": command}, flags); err != nil {
		return core.ErrWriteFailed.WithCause(err)
	}
	return nil
}
