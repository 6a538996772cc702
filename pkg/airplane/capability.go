// Package airplane drives the airplane-mode flag through one of two
// privilege paths and sequences the timed on/off toggle.
package airplane

import (
	"context"
	"time"

	"github.com/devicelab-dev/airplane-runner/pkg/core"
	"github.com/devicelab-dev/airplane-runner/pkg/device"
	"github.com/devicelab-dev/airplane-runner/pkg/logger"
)

// DefaultVerifyDelay is how long a write is given to propagate before read-back.
const DefaultVerifyDelay = 1500 * time.Millisecond

// maxWriteAttempts is the initial write plus one retry.
const maxWriteAttempts = 2

// Capability reads and writes the airplane-mode flag through one privilege path.
type Capability interface {
	Mode() core.ControlMode
	// Read returns the current flag value.
	Read(ctx context.Context) (bool, error)
	// Write requests the flag value. It verifies after the propagation delay
	// and retries once on mismatch. Failures are logged and reported as false.
	Write(ctx context.Context, on bool) bool
}

// Device is the subset of the device used by the capabilities.
type Device interface {
	GlobalBool(ctx context.Context, key string) (bool, error)
	PutGlobal(ctx context.Context, key, value string) error
	Broadcast(ctx context.Context, action string, extras map[string]bool) error
	StartActivity(ctx context.Context, component string, extras map[string]string, flags int) error
}

// readFlag reads airplane_mode_on.
func readFlag(ctx context.Context, dev Device) (bool, error) {
	on, err := dev.GlobalBool(ctx, device.SettingAirplaneModeOn)
	if err != nil {
		return false, core.ErrDeviceDisconnected.WithCause(err)
	}
	return on, nil
}

// writeVerified issues attempt, waits verifyDelay, reads back, and retries
// once if the read-back disagrees.
func writeVerified(ctx context.Context, mode core.ControlMode, clock Clock, verifyDelay time.Duration,
	attempt func(ctx context.Context, on bool) error, read func(ctx context.Context) (bool, error), on bool) bool {

	for n := 1; n <= maxWriteAttempts; n++ {
		if err := attempt(ctx, on); err != nil {
			logger.Warn("%s write on=%v attempt %d failed: %v", mode, on, n, err)
		}
		if err := clock.Sleep(ctx, verifyDelay); err != nil {
			logger.Warn("%s write on=%v: verify interrupted: %v", mode, on, err)
			return false
		}
		got, err := read(ctx)
		if err != nil {
			logger.Warn("%s write on=%v: read-back failed: %v", mode, on, err)
			continue
		}
		if got == on {
			if n > 1 {
				logger.Info("%s write on=%v took effect after retry", mode, on)
			}
			return true
		}
		logger.Debug("%s write on=%v: read-back %v (attempt %d)", mode, on, got, n)
	}

	logger.Warn("%s", core.ErrWriteMismatch.WithDetails(map[string]interface{}{
		"mode": mode.String(), "requested": on,
	}).Error())
	return false
}

func flagValue(on bool) string {
	if on {
		return "1"
	}
	return "0"
}
