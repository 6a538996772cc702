package airplane

import (
	"context"
	"time"

	"github.com/devicelab-dev/airplane-runner/pkg/core"
	"github.com/devicelab-dev/airplane-runner/pkg/device"
	"github.com/devicelab-dev/airplane-runner/pkg/logger"
)

// ActionAirplaneModeChanged is the platform broadcast sent after a direct write.
const ActionAirplaneModeChanged = "android.intent.action.AIRPLANE_MODE_CHANGED"

// extraBroadcasts carry the same state extra; some vendor builds listen
// only for their own action before refreshing the radios.
var extraBroadcasts = []string{
	"android.intent.action.AIRPLANE_MODE",
	"com.android.internal.intent.action.AIRPLANE_MODE",
	"com.miui.intent.action.AIRPLANE_MODE",
	"com.huawei.intent.action.AIRPLANE_MODE",
	"com.samsung.intent.action.AIRPLANE_MODE",
	"com.oppo.intent.action.AIRPLANE_MODE",
	"com.vivo.intent.action.AIRPLANE_MODE",
}

// DirectWriteCapability writes airplane_mode_on directly. Requires
// WRITE_SECURE_SETTINGS.
type DirectWriteCapability struct {
	dev         Device
	clock       Clock
	verifyDelay time.Duration
}

// NewDirectWrite creates a direct-write capability.
func NewDirectWrite(dev Device, clock Clock, verifyDelay time.Duration) *DirectWriteCapability {
	if clock == nil {
		clock = RealClock{}
	}
	return &DirectWriteCapability{dev: dev, clock: clock, verifyDelay: verifyDelay}
}

// Mode returns ModeSecure.
func (c *DirectWriteCapability) Mode() core.ControlMode { return core.ModeSecure }

// Read returns the current flag value.
func (c *DirectWriteCapability) Read(ctx context.Context) (bool, error) {
	return readFlag(ctx, c.dev)
}

// Write sets the flag, broadcasts the change and verifies it.
func (c *DirectWriteCapability) Write(ctx context.Context, on bool) bool {
	return writeVerified(ctx, c.Mode(), c.clock, c.verifyDelay, c.put, c.Read, on)
}

func (c *DirectWriteCapability) put(ctx context.Context, on bool) error {
	if err := c.dev.PutGlobal(ctx, device.SettingAirplaneModeOn, flagValue(on)); err != nil {
		return core.ErrWriteFailed.WithCause(err)
	}
	c.broadcast(ctx, on)
	return nil
}

// broadcast announces the change. Failures are not write failures.
func (c *DirectWriteCapability) broadcast(ctx context.Context, on bool) {
	extras := map[string]bool{"state": on}
	if err := c.dev.Broadcast(ctx, ActionAirplaneModeChanged, extras); err != nil {
		logger.Debug("broadcast %s failed: %v", ActionAirplaneModeChanged, err)
	}
	for _, action := range extraBroadcasts {
		if err := c.dev.Broadcast(ctx, action, extras); err != nil {
			logger.Debug("broadcast %s failed: %v", action, err)
		}
	}
}

// ForceRefresh flips the raw setting and restores it, then re-broadcasts,
// nudging builds whose radios did not react to the last change.
func (c *DirectWriteCapability) ForceRefresh(ctx context.Context) error {
	on, err := c.Read(ctx)
	if err != nil {
		return err
	}
	if err := c.dev.PutGlobal(ctx, device.SettingAirplaneModeOn, flagValue(!on)); err != nil {
		return core.ErrWriteFailed.WithCause(err)
	}
	if err := c.clock.Sleep(ctx, 100*time.Millisecond); err != nil {
		return err
	}
	if err := c.dev.PutGlobal(ctx, device.SettingAirplaneModeOn, flagValue(on)); err != nil {
		return core.ErrWriteFailed.WithCause(err)
	}
	c.broadcast(ctx, on)
	logger.Info("airplane mode refreshed (on=%v)", on)
	return nil
}
