package airplane

import (
	"context"
	"sync"
	"time"

	"github.com/devicelab-dev/airplane-runner/pkg/core"
	"github.com/devicelab-dev/airplane-runner/pkg/logger"
)

// DefaultSettleDelay is the pause between the on and off writes.
const DefaultSettleDelay = 2 * time.Second

// SequenceResult describes a finished (or in-flight) two-phase sequence.
type SequenceResult struct {
	Mode        core.ControlMode   `json:"mode"`
	Phase       core.SequencePhase `json:"-"`
	PhaseName   string             `json:"phase"`
	OnIssuedAt  time.Time          `json:"onIssuedAt"`
	OffIssuedAt time.Time          `json:"offIssuedAt,omitempty"`
	OnOK        bool               `json:"onOk"`
	OffOK       bool               `json:"offOk"`
}

// Sequence is one unconditional on -> settle -> off toggle.
//
// It starts Pending once the on write is issued. The off write is armed on a
// cancellable timer at onIssuedAt+settle; the sequence ends Completed when
// the timer fires, or Aborted when Abort issues the off write early.
type Sequence struct {
	cap    Capability
	settle time.Duration
	clock  Clock

	mu          sync.Mutex
	ctx         context.Context
	began       bool
	phase       core.SequencePhase
	onIssuedAt  time.Time
	offIssuedAt time.Time
	onOK        bool
	offOK       bool
	offClaimed  bool
	abortAsked  bool
	timer       Timer
	done        chan struct{}
}

// NewSequence creates a sequence; nothing is written until Begin.
func NewSequence(c Capability, settle time.Duration, clock Clock) *Sequence {
	if clock == nil {
		clock = RealClock{}
	}
	if settle <= 0 {
		settle = DefaultSettleDelay
	}
	return &Sequence{
		cap:    c,
		settle: settle,
		clock:  clock,
		phase:  core.PhasePending,
		done:   make(chan struct{}),
	}
}

// Begin issues the on write and arms the off write. It returns once the on
// write (including its verification) has finished. Begin runs at most once.
func (s *Sequence) Begin(ctx context.Context) {
	s.mu.Lock()
	if s.began || s.offClaimed {
		s.mu.Unlock()
		return
	}
	s.began = true
	// The off write must still go out after the caller's context ends.
	s.ctx = context.WithoutCancel(ctx)
	s.onIssuedAt = s.clock.Now()
	s.mu.Unlock()

	logger.Debug("sequence %s: on", s.cap.Mode())
	onOK := s.cap.Write(s.ctx, true)

	s.mu.Lock()
	s.onOK = onOK
	if s.abortAsked {
		s.offClaimed = true
		s.mu.Unlock()
		s.off(core.PhaseAborted)
		return
	}
	remaining := s.settle - s.clock.Now().Sub(s.onIssuedAt)
	if remaining < 0 {
		remaining = 0
	}
	s.timer = s.clock.AfterFunc(remaining, s.fire)
	s.mu.Unlock()
}

func (s *Sequence) fire() {
	s.mu.Lock()
	if s.offClaimed {
		s.mu.Unlock()
		return
	}
	s.offClaimed = true
	s.mu.Unlock()
	s.off(core.PhaseCompleted)
}

// Abort cancels the settle wait and issues the off write now, so the flag is
// not left on. It is a no-op once the off write has started. If the on write
// is still in progress, the off write follows it immediately.
func (s *Sequence) Abort() {
	s.mu.Lock()
	if s.offClaimed || s.phase.IsTerminal() {
		s.mu.Unlock()
		return
	}
	if !s.began {
		// Nothing written yet: end without touching the flag.
		s.offClaimed = true
		s.phase = core.PhaseAborted
		close(s.done)
		s.mu.Unlock()
		return
	}
	if s.timer == nil {
		s.abortAsked = true
		s.mu.Unlock()
		return
	}
	s.timer.Stop()
	s.offClaimed = true
	s.mu.Unlock()

	logger.Info("sequence %s: aborted during settle, issuing off now", s.cap.Mode())
	s.off(core.PhaseAborted)
}

func (s *Sequence) off(phase core.SequencePhase) {
	s.mu.Lock()
	s.offIssuedAt = s.clock.Now()
	ctx := s.ctx
	s.mu.Unlock()

	logger.Debug("sequence %s: off", s.cap.Mode())
	ok := s.cap.Write(ctx, false)

	s.mu.Lock()
	s.offOK = ok
	s.phase = phase
	close(s.done)
	s.mu.Unlock()
}

// Done is closed when the sequence reaches a terminal phase.
func (s *Sequence) Done() <-chan struct{} {
	return s.done
}

// Phase returns the current phase.
func (s *Sequence) Phase() core.SequencePhase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Result snapshots the sequence.
func (s *Sequence) Result() SequenceResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SequenceResult{
		Mode:        s.cap.Mode(),
		Phase:       s.phase,
		PhaseName:   s.phase.String(),
		OnIssuedAt:  s.onIssuedAt,
		OffIssuedAt: s.offIssuedAt,
		OnOK:        s.onOK,
		OffOK:       s.offOK,
	}
}
