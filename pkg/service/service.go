// Package service is the long-running toggle task: it owns the scheduler,
// the liveness indicator and the operation log, and serves the manual
// operations used by the CLI and the HTTP surface.
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/devicelab-dev/airplane-runner/pkg/airplane"
	"github.com/devicelab-dev/airplane-runner/pkg/config"
	"github.com/devicelab-dev/airplane-runner/pkg/core"
	"github.com/devicelab-dev/airplane-runner/pkg/device"
	"github.com/devicelab-dev/airplane-runner/pkg/logger"
	"github.com/devicelab-dev/airplane-runner/pkg/notify"
	"github.com/devicelab-dev/airplane-runner/pkg/oplog"
	"github.com/devicelab-dev/airplane-runner/pkg/privilege"
	"github.com/devicelab-dev/airplane-runner/pkg/scheduler"
)

// OpLog stores operation entries.
type OpLog interface {
	Record(ctx context.Context, e oplog.Entry) (oplog.Entry, error)
	List(ctx context.Context, limit int) ([]oplog.Entry, error)
	Clear(ctx context.Context) (int64, error)
}

// DeviceInfo returns the device description.
type DeviceInfo interface {
	Info(ctx context.Context) (device.DeviceInfo, error)
}

// Options wires a Service.
type Options struct {
	Settings  *config.SettingsStore
	Privilege *privilege.Checker
	Provider  *airplane.Provider
	Toggler   *airplane.Toggler
	Indicator notify.Indicator // nil = no indicator
	Log       OpLog
	Device    DeviceInfo
	Minute    time.Duration // Scheduler minute, zero = time.Minute
}

// Service coordinates the schedule and the manual operations.
type Service struct {
	settings  *config.SettingsStore
	priv      *privilege.Checker
	provider  *airplane.Provider
	toggler   *airplane.Toggler
	indicator notify.Indicator
	log       OpLog
	dev       DeviceInfo
	sched     *scheduler.Scheduler

	// mu serializes schedule lifecycle changes (start, stop, settings).
	mu sync.Mutex
}

// New creates a service with a stopped schedule.
func New(opts Options) *Service {
	s := &Service{
		settings:  opts.Settings,
		priv:      opts.Privilege,
		provider:  opts.Provider,
		toggler:   opts.Toggler,
		indicator: opts.Indicator,
		log:       opts.Log,
		dev:       opts.Device,
	}
	if s.indicator == nil {
		s.indicator = notify.Nop{}
	}
	if s.toggler == nil {
		s.toggler = airplane.NewToggler(0, nil)
	}

	schedOpts := []scheduler.Option{scheduler.WithOnFire(s.recordFire)}
	if opts.Minute > 0 {
		schedOpts = append(schedOpts, scheduler.WithMinute(opts.Minute))
	}
	s.sched = scheduler.New(s.settings, s.provider, s.toggler, schedOpts...)
	return s
}

// Close stops the schedule and clears the indicator.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sched.State().Status == core.ScheduleArmed {
		s.clearIndicator(context.Background())
	}
	s.sched.Close()
}

// Start arms the schedule at intervalMinutes using the persisted control
// mode. It is refused with ErrPrivilegeAbsent when that mode's path is not held.
func (s *Service) Start(ctx context.Context, intervalMinutes int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.start(ctx, intervalMinutes)
}

func (s *Service) start(ctx context.Context, intervalMinutes int) error {
	if err := config.ValidateInterval(intervalMinutes); err != nil {
		return err
	}
	mode := s.settings.ControlMode()

	s.priv.Invalidate()
	st, err := s.priv.Require(ctx, mode)
	if err != nil {
		s.record(ctx, oplog.Entry{Op: oplog.OpStart, Mode: mode.String(), Detail: err.Error()})
		return err
	}
	if err := s.sched.Start(intervalMinutes, mode); err != nil {
		return err
	}

	s.showIndicator(ctx, intervalMinutes, mode, st)
	s.record(ctx, oplog.Entry{Op: oplog.OpStart, Mode: mode.String(), OK: true,
		Detail: fmt.Sprintf("every %d min", intervalMinutes)})
	return nil
}

// Stop disarms the schedule and clears the indicator. Idempotent.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stop(ctx)
}

func (s *Service) stop(ctx context.Context) {
	if s.sched.State().Status != core.ScheduleArmed {
		s.sched.Stop()
		return
	}
	s.sched.Stop()
	s.clearIndicator(ctx)
	s.record(ctx, oplog.Entry{Op: oplog.OpStop, OK: true})
}

// Reactivate re-arms the schedule from persisted settings after a restart.
// It reports whether the schedule was armed.
func (s *Service) Reactivate(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := s.settings.Load()
	if err != nil {
		return false, err
	}
	if !cfg.AutoEnabled {
		logger.Info("auto toggle disabled, not reactivating")
		return false, nil
	}
	if err := s.start(ctx, cfg.IntervalMinutes); err != nil {
		s.record(ctx, oplog.Entry{Op: oplog.OpReactivate, Mode: cfg.ControlMode.String(), Detail: err.Error()})
		return false, err
	}
	s.record(ctx, oplog.Entry{Op: oplog.OpReactivate, Mode: cfg.ControlMode.String(), OK: true})
	return true, nil
}

// ApplySettings validates and persists patch, then brings the schedule in
// line: enabling or changing the interval (re)arms it immediately,
// disabling stops it. Enabling without the selected path's privilege is
// refused before anything is persisted.
func (s *Service) ApplySettings(ctx context.Context, patch config.SettingsPatch) (config.ToggleConfiguration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, next, err := s.persist(ctx, patch)
	if err != nil {
		return current, err
	}

	armed := s.sched.State()
	switch {
	case !next.AutoEnabled:
		s.stop(ctx)
	case armed.Status != core.ScheduleArmed || armed.Interval != next.IntervalMinutes:
		if err := s.start(ctx, next.IntervalMinutes); err != nil {
			return next, err
		}
	case next.ControlMode != current.ControlMode:
		// The next fire re-reads the mode; only the indicator changes now.
		if st, err := s.priv.State(ctx); err == nil {
			s.showIndicator(ctx, next.IntervalMinutes, next.ControlMode, st)
		}
	}
	return next, nil
}

// SaveSettings validates and persists patch without touching the schedule.
// It is used when this process does not own the schedule; the owning
// process picks the values up on its next Reactivate.
func (s *Service) SaveSettings(ctx context.Context, patch config.SettingsPatch) (config.ToggleConfiguration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, next, err := s.persist(ctx, patch)
	if err != nil {
		return current, err
	}
	return next, nil
}

func (s *Service) persist(ctx context.Context, patch config.SettingsPatch) (current, next config.ToggleConfiguration, err error) {
	current, err = s.settings.Load()
	if err != nil {
		return current, current, err
	}
	next, err = patch.Apply(current)
	if err != nil {
		return current, current, err
	}
	if next.AutoEnabled {
		s.priv.Invalidate()
		if _, err := s.priv.Require(ctx, next.ControlMode); err != nil {
			return current, current, err
		}
	}
	if err := s.settings.Save(next); err != nil {
		return current, current, err
	}
	s.record(ctx, oplog.Entry{Op: oplog.OpSettings, Mode: next.ControlMode.String(), OK: true,
		Detail: fmt.Sprintf("auto=%v interval=%d", next.AutoEnabled, next.IntervalMinutes)})
	return current, next, nil
}

// Settings returns the persisted settings.
func (s *Service) Settings() (config.ToggleConfiguration, error) {
	return s.settings.Load()
}

// Schedule returns the schedule state.
func (s *Service) Schedule() scheduler.State {
	return s.sched.State()
}

func (s *Service) showIndicator(ctx context.Context, interval int, mode core.ControlMode, st privilege.State) {
	err := s.indicator.Show(ctx, notify.Status{
		IntervalMinutes: interval,
		Mode:            mode,
		SecureGranted:   st.Secure,
		Assistant:       st.Assistant,
		At:              time.Now(),
	})
	if err != nil {
		logger.Warn("show indicator: %v", err)
	}
}

func (s *Service) clearIndicator(ctx context.Context) {
	if err := s.indicator.Clear(ctx); err != nil {
		logger.Warn("clear indicator: %v", err)
	}
}

func (s *Service) recordFire(f scheduler.Fire) {
	e := oplog.Entry{At: f.At, Op: oplog.OpScheduledToggle, Mode: f.Mode.String()}
	if f.Err != nil {
		e.Detail = f.Err.Error()
	} else {
		e.OK = f.Result.OnOK && f.Result.OffOK
		e.Detail = f.Result.PhaseName
	}
	s.record(context.Background(), e)
}

func (s *Service) record(ctx context.Context, e oplog.Entry) {
	if s.log == nil {
		return
	}
	if _, err := s.log.Record(context.WithoutCancel(ctx), e); err != nil {
		logger.Warn("operation log: %v", err)
	}
}
