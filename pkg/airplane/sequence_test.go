package airplane

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/devicelab-dev/airplane-runner/pkg/core"
	"github.com/devicelab-dev/airplane-runner/pkg/device"
	"github.com/devicelab-dev/airplane-runner/pkg/device/mock"
)

func TestFireOnce_OnBeforeOffAfterSettle(t *testing.T) {
	for name, build := range constructors {
		t.Run(name, func(t *testing.T) {
			dev, sh := newDevice(t, mock.Config{})
			c := build(dev, RealClock{})
			if d, ok := c.(*DirectWriteCapability); ok {
				d.verifyDelay = 0
			}
			if r, ok := c.(*RoutedWriteCapability); ok {
				r.verifyDelay = 0
			}
			settle := 100 * time.Millisecond

			res := NewToggler(settle, RealClock{}).FireOnce(context.Background(), c)

			if res.Phase != core.PhaseCompleted {
				t.Fatalf("expected completed, got %s", res.PhaseName)
			}
			if !res.OnOK || !res.OffOK {
				t.Errorf("expected both writes ok: %+v", res)
			}
			if gap := res.OffIssuedAt.Sub(res.OnIssuedAt); gap < settle {
				t.Errorf("off issued %v after on, want >= %v", gap, settle)
			}

			writes := sh.AirplaneWrites()
			if len(writes) != 2 {
				t.Fatalf("expected 2 writes, got %d", len(writes))
			}
			if !isOnWrite(writes[0].Cmd) || isOnWrite(writes[1].Cmd) {
				t.Errorf("expected on then off, got %q, %q", writes[0].Cmd, writes[1].Cmd)
			}
			if writes[1].At.Before(res.OnIssuedAt.Add(settle)) {
				t.Error("off write reached the device before the settle delay")
			}
			if sh.Airplane() {
				t.Error("expected flag off after sequence")
			}
		})
	}
}

func isOnWrite(cmd string) bool {
	return strings.HasSuffix(cmd, device.SettingAirplaneModeOn+" 1") || strings.HasSuffix(cmd, "command turn_on")
}

func TestFireOnce_IgnoresPriorValue(t *testing.T) {
	dev, sh := newDevice(t, mock.Config{AirplaneOn: true})
	clock := newManualClock()
	c := NewDirectWrite(dev, clock, 0)

	seq := NewToggler(DefaultSettleDelay, clock).Sequence(c)
	seq.Begin(context.Background())
	clock.advance(DefaultSettleDelay)
	<-seq.Done()

	writes := sh.AirplaneWrites()
	if len(writes) != 2 || !isOnWrite(writes[0].Cmd) {
		t.Errorf("expected unconditional on then off, got %+v", writes)
	}
}

func TestSequence_PendingUntilSettle(t *testing.T) {
	dev, sh := newDevice(t, mock.Config{})
	clock := newManualClock()
	seq := NewSequence(NewDirectWrite(dev, clock, 0), 2*time.Second, clock)

	seq.Begin(context.Background())
	if seq.Phase() != core.PhasePending {
		t.Fatalf("expected pending, got %s", seq.Phase())
	}
	if len(sh.AirplaneWrites()) != 1 || !sh.Airplane() {
		t.Fatal("expected only the on write")
	}

	clock.advance(1999 * time.Millisecond)
	if len(sh.AirplaneWrites()) != 1 {
		t.Fatal("off write issued before settle delay")
	}

	clock.advance(time.Millisecond)
	select {
	case <-seq.Done():
	default:
		t.Fatal("expected sequence done after settle delay")
	}
	if seq.Phase() != core.PhaseCompleted {
		t.Errorf("expected completed, got %s", seq.Phase())
	}
	if sh.Airplane() {
		t.Error("expected flag off")
	}
}

func TestSequence_VerifyCountsTowardSettle(t *testing.T) {
	dev, _ := newDevice(t, mock.Config{})
	clock := newManualClock()
	// Verification advances the clock by 1.5s during the on write.
	seq := NewSequence(NewDirectWrite(dev, clock, DefaultVerifyDelay), 2*time.Second, clock)

	seq.Begin(context.Background())
	clock.advance(500 * time.Millisecond)
	<-seq.Done()

	res := seq.Result()
	if gap := res.OffIssuedAt.Sub(res.OnIssuedAt); gap != 2*time.Second {
		t.Errorf("expected off at onIssuedAt+2s, got +%v", gap)
	}
}

func TestSequence_AbortIssuesOffNow(t *testing.T) {
	dev, sh := newDevice(t, mock.Config{})
	clock := newManualClock()
	seq := NewSequence(NewDirectWrite(dev, clock, 0), 2*time.Second, clock)

	seq.Begin(context.Background())
	seq.Abort()

	select {
	case <-seq.Done():
	default:
		t.Fatal("expected done after abort")
	}
	if seq.Phase() != core.PhaseAborted {
		t.Errorf("expected aborted, got %s", seq.Phase())
	}
	if sh.Airplane() {
		t.Error("abort must not leave the flag on")
	}
	if clock.pending() != 0 {
		t.Error("expected settle timer cancelled")
	}

	clock.advance(time.Minute)
	if n := len(sh.AirplaneWrites()); n != 2 {
		t.Errorf("expected exactly 2 writes, got %d", n)
	}

	// Second abort is a no-op.
	seq.Abort()
	if n := len(sh.AirplaneWrites()); n != 2 {
		t.Errorf("expected no extra write, got %d", n)
	}
}

func TestSequence_AbortAfterCompleteIsNoop(t *testing.T) {
	dev, sh := newDevice(t, mock.Config{})
	clock := newManualClock()
	seq := NewSequence(NewDirectWrite(dev, clock, 0), time.Second, clock)

	seq.Begin(context.Background())
	clock.advance(time.Second)
	<-seq.Done()
	seq.Abort()

	if seq.Phase() != core.PhaseCompleted {
		t.Errorf("expected completed, got %s", seq.Phase())
	}
	if n := len(sh.AirplaneWrites()); n != 2 {
		t.Errorf("expected 2 writes, got %d", n)
	}
}

func TestSequence_AbortBeforeBegin(t *testing.T) {
	dev, sh := newDevice(t, mock.Config{})
	clock := newManualClock()
	seq := NewSequence(NewDirectWrite(dev, clock, 0), time.Second, clock)

	seq.Abort()
	seq.Begin(context.Background())

	<-seq.Done()
	if seq.Phase() != core.PhaseAborted {
		t.Errorf("expected aborted, got %s", seq.Phase())
	}
	if n := len(sh.AirplaneWrites()); n != 0 {
		t.Errorf("expected no writes, got %d", n)
	}
}

func TestFireOnce_ContextCancelAborts(t *testing.T) {
	dev, sh := newDevice(t, mock.Config{})
	c := NewDirectWrite(dev, RealClock{}, 0)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	res := NewToggler(time.Minute, RealClock{}).FireOnce(ctx, c)

	if time.Since(start) > 10*time.Second {
		t.Fatal("FireOnce did not return on cancel")
	}
	if res.Phase != core.PhaseAborted {
		t.Errorf("expected aborted, got %s", res.PhaseName)
	}
	if sh.Airplane() {
		t.Error("expected off write on cancel")
	}
}

func TestFireSmart_WritesNegation(t *testing.T) {
	for _, initial := range []bool{false, true} {
		dev, sh := newDevice(t, mock.Config{AirplaneOn: initial})
		c := NewDirectWrite(dev, newManualClock(), 0)

		res, err := NewToggler(0, nil).FireSmart(context.Background(), c)
		if err != nil {
			t.Fatalf("FireSmart failed: %v", err)
		}
		if res.Before != initial || res.Target != !initial || !res.OK {
			t.Errorf("unexpected result %+v", res)
		}
		if n := len(sh.AirplaneWrites()); n != 1 {
			t.Errorf("expected exactly one write, got %d", n)
		}
		if sh.Airplane() != !initial {
			t.Error("flag not negated")
		}
	}
}

func TestFireSmart_ReadError(t *testing.T) {
	dev, sh := newDevice(t, mock.Config{})
	sh.SetOffline(true)
	_, err := NewToggler(0, nil).FireSmart(context.Background(), NewDirectWrite(dev, newManualClock(), 0))
	if !core.IsCategory(err, core.ErrCategoryConnection) {
		t.Errorf("expected connection error, got %v", err)
	}
	if len(sh.CallsWithPrefix("settings put")) != 0 {
		t.Error("no write expected after failed read")
	}
}

func TestTimedToggle_ReportsFinal(t *testing.T) {
	dev, _ := newDevice(t, mock.Config{})
	c := NewRoutedWrite(dev, testAssistant, true, RealClock{}, 0)

	res, err := NewToggler(20*time.Millisecond, RealClock{}).TimedToggle(context.Background(), c)
	if err != nil {
		t.Fatalf("TimedToggle failed: %v", err)
	}
	if res.Final {
		t.Error("expected final flag off")
	}
	if res.Phase != core.PhaseCompleted {
		t.Errorf("expected completed, got %s", res.PhaseName)
	}
}
