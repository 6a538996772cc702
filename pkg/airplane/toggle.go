package airplane

import (
	"context"
	"time"

	"github.com/devicelab-dev/airplane-runner/pkg/logger"
)

// Toggler runs toggle operations against a capability.
type Toggler struct {
	Settle time.Duration
	Clock  Clock
}

// NewToggler creates a toggler. Zero settle uses DefaultSettleDelay; nil clock uses RealClock.
func NewToggler(settle time.Duration, clock Clock) *Toggler {
	if settle <= 0 {
		settle = DefaultSettleDelay
	}
	if clock == nil {
		clock = RealClock{}
	}
	return &Toggler{Settle: settle, Clock: clock}
}

// Sequence creates an unstarted two-phase sequence for c.
func (t *Toggler) Sequence(c Capability) *Sequence {
	return NewSequence(c, t.Settle, t.Clock)
}

// FireOnce runs one unconditional on -> settle -> off sequence and waits for
// it. The flag's prior value is not consulted. If ctx ends during the settle
// wait the sequence is aborted, which still issues the off write.
func (t *Toggler) FireOnce(ctx context.Context, c Capability) SequenceResult {
	seq := t.Sequence(c)
	seq.Begin(ctx)
	select {
	case <-seq.Done():
	case <-ctx.Done():
		seq.Abort()
		<-seq.Done()
	}
	res := seq.Result()
	logger.Info("toggle %s: %s (on=%v off=%v)", res.Mode, res.PhaseName, res.OnOK, res.OffOK)
	return res
}

// SmartResult describes a FireSmart call.
type SmartResult struct {
	Before bool `json:"before"`
	Target bool `json:"target"`
	OK     bool `json:"ok"`
}

// FireSmart reads the flag and writes its negation.
func (t *Toggler) FireSmart(ctx context.Context, c Capability) (SmartResult, error) {
	before, err := c.Read(ctx)
	if err != nil {
		return SmartResult{}, err
	}
	res := SmartResult{Before: before, Target: !before}
	res.OK = c.Write(ctx, res.Target)
	logger.Info("smart toggle %s: %v -> %v (ok=%v)", c.Mode(), res.Before, res.Target, res.OK)
	return res, nil
}

// TimedResult is a completed one-shot timed toggle with the flag re-read afterwards.
type TimedResult struct {
	SequenceResult
	Final bool `json:"final"`
}

// TimedToggle runs one sequence and reports completion by re-reading the flag.
func (t *Toggler) TimedToggle(ctx context.Context, c Capability) (TimedResult, error) {
	res := TimedResult{SequenceResult: t.FireOnce(ctx, c)}
	final, err := c.Read(context.WithoutCancel(ctx))
	if err != nil {
		return res, err
	}
	res.Final = final
	return res, nil
}

// Set writes an explicit value.
func (t *Toggler) Set(ctx context.Context, c Capability, on bool) bool {
	ok := c.Write(ctx, on)
	logger.Info("set airplane %s: on=%v (ok=%v)", c.Mode(), on, ok)
	return ok
}
