package device

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/devicelab-dev/airplane-runner/pkg/logger"
)

// BootStatus represents device boot state
type BootStatus struct {
	StateReady    bool // adb get-state == "device"
	BootCompleted bool // sys.boot_completed == "1"
	SettingsReady bool // settings list global succeeds
}

// IsFullyReady returns true if all boot checks passed
func (bs *BootStatus) IsFullyReady() bool {
	return bs.StateReady && bs.BootCompleted && bs.SettingsReady
}

// CheckBootStatus probes the stages a device passes through after a restart.
func (d *AndroidDevice) CheckBootStatus(ctx context.Context) *BootStatus {
	status := &BootStatus{}

	// Stage 1: Check device state
	status.StateReady = d.isConnected(ctx)
	if !status.StateReady {
		return status // Not ready yet
	}

	// Stage 2: Check boot completed property
	bootOut, err := d.Shell(ctx, "getprop sys.boot_completed")
	status.BootCompleted = err == nil && strings.TrimSpace(bootOut) == "1"

	// Stage 3: settings provider answers; airplane_mode_on lives there
	_, err = d.Shell(ctx, "settings list global")
	status.SettingsReady = err == nil

	return status
}

// WaitForBoot polls CheckBootStatus until the device is fully ready.
func (d *AndroidDevice) WaitForBoot(ctx context.Context, timeout time.Duration, poll time.Duration) error {
	logger.Info("Waiting for device boot complete: %s", d.serial)
	if poll <= 0 {
		poll = time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		status := d.CheckBootStatus(ctx)
		logger.Debug("Boot status for %s: state=%v, boot=%v, settings=%v",
			d.serial, status.StateReady, status.BootCompleted, status.SettingsReady)

		if status.IsFullyReady() {
			logger.Info("Device fully booted: %s", d.serial)
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("device boot timeout after %v (state:%v boot:%v settings:%v)",
				timeout, status.StateReady, status.BootCompleted, status.SettingsReady)
		case <-ticker.C:
		}
	}
}
