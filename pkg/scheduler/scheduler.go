// Package scheduler runs the recurring airplane-mode toggle.
//
// There is at most one armed entry. Start replaces it in place and Stop
// removes it; jobs dispatched for a replaced or stopped entry are discarded
// before they touch the flag.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/devicelab-dev/airplane-runner/pkg/airplane"
	"github.com/devicelab-dev/airplane-runner/pkg/config"
	"github.com/devicelab-dev/airplane-runner/pkg/core"
	"github.com/devicelab-dev/airplane-runner/pkg/logger"
)

// fireTimeout bounds one toggle sequence including verification.
const fireTimeout = 5 * time.Minute

// ModeSource returns the control mode to use for the next fire.
type ModeSource interface {
	ControlMode() core.ControlMode
}

// CapabilityResolver returns the capability for a mode.
type CapabilityResolver interface {
	ForMode(ctx context.Context, mode core.ControlMode, foreground bool) (airplane.Capability, error)
}

// Fire describes one recurring fire.
type Fire struct {
	At     time.Time
	Mode   core.ControlMode
	Result airplane.SequenceResult
	Err    error // Capability could not be resolved; nothing was written
}

// State is a snapshot of the schedule.
type State struct {
	Status   core.ScheduleStatus `json:"-"`
	Name     string              `json:"status"`
	Interval int                 `json:"intervalMinutes,omitempty"`
	Mode     core.ControlMode    `json:"controlMode"`
	Next     time.Time           `json:"next,omitempty"`
	Fires    int                 `json:"fires"`
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithMinute sets the length of one interval minute.
func WithMinute(d time.Duration) Option {
	return func(s *Scheduler) {
		s.minute = d
	}
}

// WithOnFire registers a callback invoked after every fire.
func WithOnFire(fn func(Fire)) Option {
	return func(s *Scheduler) {
		s.onFire = fn
	}
}

// Scheduler is the Stopped/Armed recurring toggle.
type Scheduler struct {
	cron    *cron.Cron
	modes   ModeSource
	caps    CapabilityResolver
	toggler *airplane.Toggler
	minute  time.Duration
	onFire  func(Fire)

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	entry    cron.EntryID
	gen      uint64
	status   core.ScheduleStatus
	interval int
	mode     core.ControlMode
	current  *airplane.Sequence
	fires    int

	// runMu serializes fires; a stale job waiting here is discarded.
	runMu sync.Mutex
}

// New creates a stopped scheduler.
func New(modes ModeSource, caps CapabilityResolver, toggler *airplane.Toggler, opts ...Option) *Scheduler {
	cronLogger := cron.PrintfLogger(logger.StdLog())
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cron: cron.New(
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
		modes:   modes,
		caps:    caps,
		toggler: toggler,
		minute:  time.Minute,
		ctx:     ctx,
		cancel:  cancel,
		status:  core.ScheduleStopped,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.cron.Start()
	return s
}

// Start arms the recurring toggle, replacing any armed entry. The first
// fire is dispatched right away and the new interval counts from it.
func (s *Scheduler) Start(intervalMinutes int, mode core.ControlMode) error {
	if err := config.ValidateInterval(intervalMinutes); err != nil {
		return err
	}
	if !mode.IsValid() {
		return core.ErrInvalidMode
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx.Err() != nil {
		return core.ErrNotRunning.WithMessage("scheduler closed")
	}
	if s.entry != 0 {
		s.cron.Remove(s.entry)
	}
	s.gen++
	period := time.Duration(intervalMinutes) * s.minute
	s.entry = s.cron.Schedule(&constantDelay{delay: period}, cron.FuncJob(s.job(s.gen)))
	s.status = core.ScheduleArmed
	s.interval = intervalMinutes
	s.mode = mode

	logger.Info("schedule armed: every %d min, mode %s", intervalMinutes, mode)
	return nil
}

// Stop disarms the schedule. A sequence waiting to issue its off write is
// aborted so the flag is not left on. Stop is idempotent.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	wasArmed := s.status == core.ScheduleArmed
	if s.entry != 0 {
		s.cron.Remove(s.entry)
		s.entry = 0
	}
	s.gen++
	s.status = core.ScheduleStopped
	seq := s.current
	s.current = nil
	s.mu.Unlock()

	if seq != nil {
		seq.Abort()
	}
	if wasArmed {
		logger.Info("schedule stopped")
	}
}

// Close stops the schedule and the cron engine, waiting for a running fire.
func (s *Scheduler) Close() {
	s.Stop()
	s.cancel()
	<-s.cron.Stop().Done()
}

// State returns a snapshot of the schedule.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := State{
		Status: s.status,
		Name:   s.status.String(),
		Mode:   s.mode,
		Fires:  s.fires,
	}
	if s.status == core.ScheduleArmed {
		st.Interval = s.interval
		if s.entry != 0 {
			st.Next = s.cron.Entry(s.entry).Next
		}
	}
	return st
}

// job returns the fire function bound to generation gen.
func (s *Scheduler) job(gen uint64) func() {
	return func() {
		s.runMu.Lock()
		defer s.runMu.Unlock()

		if !s.isLive(gen) {
			logger.Debug("discarding stale schedule fire (generation %d)", gen)
			return
		}

		ctx, cancel := context.WithTimeout(s.ctx, fireTimeout)
		defer cancel()

		fire := Fire{At: time.Now(), Mode: s.modes.ControlMode()}
		c, err := s.caps.ForMode(ctx, fire.Mode, false)
		if err != nil {
			logger.Warn("scheduled toggle skipped: %v", err)
			fire.Err = err
			s.finish(nil, fire)
			return
		}

		seq := s.toggler.Sequence(c)
		s.mu.Lock()
		if gen != s.gen {
			s.mu.Unlock()
			return
		}
		s.current = seq
		s.mode = fire.Mode
		s.mu.Unlock()

		seq.Begin(ctx)
		select {
		case <-seq.Done():
		case <-ctx.Done():
			seq.Abort()
			<-seq.Done()
		}
		fire.Result = seq.Result()
		s.finish(seq, fire)
	}
}

// isLive reports whether gen is still the armed generation.
func (s *Scheduler) isLive(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return gen == s.gen && s.status == core.ScheduleArmed
}

func (s *Scheduler) finish(seq *airplane.Sequence, fire Fire) {
	s.mu.Lock()
	if seq != nil && s.current == seq {
		s.current = nil
	}
	s.fires++
	s.mu.Unlock()

	if fire.Err == nil {
		logger.Info("scheduled toggle %s: %s", fire.Mode, fire.Result.PhaseName)
	}
	if s.onFire != nil {
		s.onFire(fire)
	}
}

// constantDelay fires once when added, then at a fixed period from the
// previous dispatch. Unlike cron.Every it keeps sub-second periods.
// Next is only called from the cron goroutine.
type constantDelay struct {
	delay   time.Duration
	started bool
}

func (d *constantDelay) Next(t time.Time) time.Time {
	if !d.started {
		d.started = true
		return t
	}
	return t.Add(d.delay)
}
