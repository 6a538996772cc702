package service

import (
	"context"
	"fmt"

	"github.com/devicelab-dev/airplane-runner/pkg/airplane"
	"github.com/devicelab-dev/airplane-runner/pkg/config"
	"github.com/devicelab-dev/airplane-runner/pkg/core"
	"github.com/devicelab-dev/airplane-runner/pkg/device"
	"github.com/devicelab-dev/airplane-runner/pkg/oplog"
	"github.com/devicelab-dev/airplane-runner/pkg/privilege"
	"github.com/devicelab-dev/airplane-runner/pkg/scheduler"
)

// Request selects how a manual operation reaches the flag.
type Request struct {
	Mode       *core.ControlMode // nil = persisted mode
	Foreground bool              // Caller is a user-visible surface
}

func (s *Service) capability(ctx context.Context, req Request) (airplane.Capability, error) {
	mode := s.settings.ControlMode()
	if req.Mode != nil {
		mode = *req.Mode
	}
	return s.provider.ForMode(ctx, mode, req.Foreground)
}

// SmartToggle writes the negation of the current flag.
func (s *Service) SmartToggle(ctx context.Context, req Request) (airplane.SmartResult, error) {
	c, err := s.capability(ctx, req)
	if err != nil {
		s.recordFailure(ctx, oplog.OpSmartToggle, req, err)
		return airplane.SmartResult{}, err
	}
	res, err := s.toggler.FireSmart(ctx, c)
	if err != nil {
		s.record(ctx, oplog.Entry{Op: oplog.OpSmartToggle, Mode: c.Mode().String(), Detail: err.Error()})
		return res, err
	}
	s.record(ctx, oplog.Entry{Op: oplog.OpSmartToggle, Mode: c.Mode().String(), OK: res.OK,
		Detail: fmt.Sprintf("%v -> %v", res.Before, res.Target)})
	return res, nil
}

// TimedToggle runs one on -> settle -> off sequence outside the schedule
// and reports the flag read afterwards. The schedule is not touched.
func (s *Service) TimedToggle(ctx context.Context, req Request) (airplane.TimedResult, error) {
	c, err := s.capability(ctx, req)
	if err != nil {
		s.recordFailure(ctx, oplog.OpTimedToggle, req, err)
		return airplane.TimedResult{}, err
	}
	res, err := s.toggler.TimedToggle(ctx, c)
	e := oplog.Entry{Op: oplog.OpTimedToggle, Mode: c.Mode().String(), OK: err == nil && res.OnOK && res.OffOK,
		Detail: fmt.Sprintf("%s, final=%v", res.PhaseName, res.Final)}
	if err != nil {
		e.Detail = err.Error()
	}
	s.record(ctx, e)
	return res, err
}

// TurnOn sets the flag on.
func (s *Service) TurnOn(ctx context.Context, req Request) (bool, error) {
	return s.set(ctx, req, true, oplog.OpTurnOn)
}

// TurnOff sets the flag off.
func (s *Service) TurnOff(ctx context.Context, req Request) (bool, error) {
	return s.set(ctx, req, false, oplog.OpTurnOff)
}

func (s *Service) set(ctx context.Context, req Request, on bool, op string) (bool, error) {
	c, err := s.capability(ctx, req)
	if err != nil {
		s.recordFailure(ctx, op, req, err)
		return false, err
	}
	ok := s.toggler.Set(ctx, c, on)
	s.record(ctx, oplog.Entry{Op: op, Mode: c.Mode().String(), OK: ok})
	return ok, nil
}

// ForceRefresh flips and restores the raw setting to nudge the radios.
func (s *Service) ForceRefresh(ctx context.Context) error {
	err := s.provider.ForceRefresh(ctx)
	e := oplog.Entry{Op: oplog.OpForceRefresh, Mode: core.ModeSecure.String(), OK: err == nil}
	if err != nil {
		e.Detail = err.Error()
	}
	s.record(ctx, e)
	return err
}

func (s *Service) recordFailure(ctx context.Context, op string, req Request, err error) {
	mode := s.settings.ControlMode()
	if req.Mode != nil {
		mode = *req.Mode
	}
	s.record(ctx, oplog.Entry{Op: op, Mode: mode.String(), Detail: err.Error()})
}

// Status is the combined view shown by `status` and GET /status.
type Status struct {
	AirplaneMode *bool                      `json:"airplaneMode"`
	Privilege    privilege.State            `json:"privilege"`
	Schedule     scheduler.State            `json:"schedule"`
	Settings     config.ToggleConfiguration `json:"settings"`
	DeviceError  string                     `json:"deviceError,omitempty"`
}

// Status gathers the flag, privilege, schedule and settings. Device
// failures are reported in DeviceError rather than as an error.
func (s *Service) Status(ctx context.Context) (Status, error) {
	cfg, err := s.settings.Load()
	if err != nil {
		return Status{}, err
	}
	st := Status{Schedule: s.sched.State(), Settings: cfg}

	if on, err := s.provider.Read(ctx); err != nil {
		st.DeviceError = err.Error()
	} else {
		st.AirplaneMode = &on
	}
	if p, err := s.priv.State(ctx); err != nil {
		if st.DeviceError == "" {
			st.DeviceError = err.Error()
		}
	} else {
		st.Privilege = p
	}
	return st, nil
}

// RefreshPrivilege re-probes the privilege state.
func (s *Service) RefreshPrivilege(ctx context.Context) (privilege.State, error) {
	return s.priv.Refresh(ctx)
}

// DeviceInfo returns the device description.
func (s *Service) DeviceInfo(ctx context.Context) (device.DeviceInfo, error) {
	if s.dev == nil {
		return device.DeviceInfo{}, core.ErrDeviceUnavailable.WithMessage("no device attached")
	}
	return s.dev.Info(ctx)
}

// Logs returns the newest operation log entries.
func (s *Service) Logs(ctx context.Context, limit int) ([]oplog.Entry, error) {
	if s.log == nil {
		return []oplog.Entry{}, nil
	}
	return s.log.List(ctx, limit)
}

// ClearLogs empties the operation log.
func (s *Service) ClearLogs(ctx context.Context) (int64, error) {
	if s.log == nil {
		return 0, nil
	}
	return s.log.Clear(ctx)
}
