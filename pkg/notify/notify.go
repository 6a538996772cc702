// Package notify shows the liveness indicator while the schedule is armed.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/devicelab-dev/airplane-runner/pkg/core"
)

// Title is the indicator title.
const Title = "Airplane auto toggle"

// Status is what the indicator displays.
type Status struct {
	IntervalMinutes int              `json:"intervalMinutes"`
	Mode            core.ControlMode `json:"controlMode"`
	SecureGranted   bool             `json:"secureGranted"`
	Assistant       bool             `json:"assistant"`
	At              time.Time        `json:"at"`
}

// Text renders the indicator line, e.g. "every 15 min · WSS: granted".
func (s Status) Text() string {
	grant := "not granted"
	if s.SecureGranted {
		grant = "granted"
	}
	return fmt.Sprintf("every %d min · WSS: %s", s.IntervalMinutes, grant)
}

// Indicator is a user-visible marker that the recurring task is alive.
type Indicator interface {
	// Show displays or refreshes the indicator.
	Show(ctx context.Context, s Status) error
	// Clear removes it.
	Clear(ctx context.Context) error
}

// Multi fans out to several indicators.
type Multi []Indicator

// Show calls Show on every indicator and joins the errors.
func (m Multi) Show(ctx context.Context, s Status) error {
	var errs []error
	for _, ind := range m {
		if err := ind.Show(ctx, s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Clear calls Clear on every indicator and joins the errors.
func (m Multi) Clear(ctx context.Context) error {
	var errs []error
	for _, ind := range m {
		if err := ind.Clear(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop discards indicator updates.
type Nop struct{}

// Show does nothing.
func (Nop) Show(context.Context, Status) error { return nil }

// Clear does nothing.
func (Nop) Clear(context.Context) error { return nil }
