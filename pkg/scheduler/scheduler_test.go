package scheduler

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/devicelab-dev/airplane-runner/pkg/airplane"
	"github.com/devicelab-dev/airplane-runner/pkg/core"
	"github.com/devicelab-dev/airplane-runner/pkg/device"
	"github.com/devicelab-dev/airplane-runner/pkg/device/mock"
	"github.com/devicelab-dev/airplane-runner/pkg/privilege"
)

const companion = "com.example.airplanecontrol"

// modeVar is a ModeSource backed by an atomic.
type modeVar struct {
	v atomic.Int32
}

func (m *modeVar) ControlMode() core.ControlMode { return core.ControlMode(m.v.Load()) }
func (m *modeVar) set(mode core.ControlMode)     { m.v.Store(int32(mode)) }

type harness struct {
	sh    *mock.Shell
	modes *modeVar
	sched *Scheduler

	mu    sync.Mutex
	fires []Fire
}

func newHarness(t *testing.T, minute, settle time.Duration, cfg mock.Config) *harness {
	t.Helper()
	h := &harness{sh: mock.New(cfg), modes: &modeVar{}}
	h.modes.set(core.ModeSecure)
	dev := h.sh.Open(device.TransportLocal)
	checker := privilege.NewChecker(dev, companion, time.Millisecond)
	t.Cleanup(checker.Close)
	provider := airplane.NewProvider(dev, checker, airplane.ProviderOptions{
		Assistant: companion + "/.ui.TransparentActivity",
	})
	h.sched = New(h.modes, provider, airplane.NewToggler(settle, nil),
		WithMinute(minute),
		WithOnFire(func(f Fire) {
			h.mu.Lock()
			h.fires = append(h.fires, f)
			h.mu.Unlock()
		}),
	)
	t.Cleanup(h.sched.Close)
	return h
}

func (h *harness) fireCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.fires)
}

func (h *harness) lastFire() Fire {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.fires[len(h.fires)-1]
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func grantedAll() mock.Config {
	return mock.Config{SecureGranted: true, Assistant: companion + "/.service.AssistantService"}
}

func TestStart_FiresRecurring(t *testing.T) {
	h := newHarness(t, 30*time.Millisecond, 5*time.Millisecond, grantedAll())

	if err := h.sched.Start(1, core.ModeSecure); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitFor(t, 3*time.Second, func() bool { return h.fireCount() >= 2 }, "expected two fires")

	f := h.lastFire()
	if f.Err != nil || f.Result.Phase != core.PhaseCompleted {
		t.Errorf("unexpected fire %+v", f)
	}
	st := h.sched.State()
	if st.Status != core.ScheduleArmed || st.Interval != 1 || st.Mode != core.ModeSecure {
		t.Errorf("unexpected state %+v", st)
	}
}

func TestStart_RejectsInvalidInterval(t *testing.T) {
	h := newHarness(t, time.Minute, time.Millisecond, grantedAll())
	for _, i := range []int{0, 61, -1} {
		if err := h.sched.Start(i, core.ModeSecure); err == nil {
			t.Errorf("expected error for interval %d", i)
		}
	}
	if h.sched.State().Status != core.ScheduleStopped {
		t.Error("expected schedule to stay stopped")
	}
}

func TestStart_ReplacesInPlace(t *testing.T) {
	h := newHarness(t, 100*time.Millisecond, time.Millisecond, grantedAll())

	if err := h.sched.Start(15, core.ModeSecure); err != nil {
		t.Fatal(err)
	}
	if err := h.sched.Start(5, core.ModeSecure); err != nil {
		t.Fatal(err)
	}

	if n := len(h.sched.cron.Entries()); n != 1 {
		t.Fatalf("expected exactly one armed entry, got %d", n)
	}
	st := h.sched.State()
	if st.Interval != 5 {
		t.Errorf("expected interval 5, got %d", st.Interval)
	}
	if until := time.Until(st.Next); until > 500*time.Millisecond {
		t.Errorf("next fire in %v, want within the new 5-minute period", until)
	}
}

func TestStart_OldPeriodNeverFires(t *testing.T) {
	h := newHarness(t, 40*time.Millisecond, time.Millisecond, grantedAll())

	if err := h.sched.Start(1, core.ModeSecure); err != nil {
		t.Fatal(err)
	}
	if err := h.sched.Start(60, core.ModeSecure); err != nil {
		t.Fatal(err)
	}

	// Start-up fires aside, the 1-minute period never runs.
	time.Sleep(300 * time.Millisecond)
	if n := h.fireCount(); n > 2 {
		t.Errorf("expected no periodic fires from the replaced entry, got %d fires", n)
	}
	if n := len(h.sh.AirplaneWrites()); n > 4 {
		t.Errorf("expected at most the start-up writes, got %d", n)
	}
	if st := h.sched.State(); st.Interval != 60 {
		t.Errorf("expected interval 60, got %d", st.Interval)
	}
}

func TestStart_FiresImmediately(t *testing.T) {
	h := newHarness(t, 300*time.Millisecond, time.Millisecond, grantedAll())

	start := time.Now()
	if err := h.sched.Start(1, core.ModeSecure); err != nil {
		t.Fatal(err)
	}
	waitFor(t, 150*time.Millisecond, func() bool { return h.fireCount() >= 1 }, "expected a fire within half an interval of Start")

	f := h.lastFire()
	if f.Err != nil || f.Result.Phase != core.PhaseCompleted {
		t.Errorf("unexpected fire %+v", f)
	}
	if next := h.sched.State().Next; next.Sub(start) < 250*time.Millisecond {
		t.Errorf("next fire at +%v, want one period after the first", next.Sub(start))
	}
}

func TestStart_IntervalChangeFiresImmediately(t *testing.T) {
	h := newHarness(t, time.Hour, time.Millisecond, grantedAll())

	if err := h.sched.Start(1, core.ModeSecure); err != nil {
		t.Fatal(err)
	}
	waitFor(t, time.Second, func() bool { return h.fireCount() == 1 }, "expected first fire")

	if err := h.sched.Start(2, core.ModeSecure); err != nil {
		t.Fatal(err)
	}
	waitFor(t, time.Second, func() bool { return h.fireCount() == 2 }, "expected a fire after the interval change")
}

func TestStaleJobDiscarded(t *testing.T) {
	h := newHarness(t, time.Hour, time.Millisecond, grantedAll())

	if err := h.sched.Start(1, core.ModeSecure); err != nil {
		t.Fatal(err)
	}
	h.sched.mu.Lock()
	stale := h.sched.job(h.sched.gen)
	h.sched.mu.Unlock()

	if err := h.sched.Start(2, core.ModeSecure); err != nil {
		t.Fatal(err)
	}
	waitFor(t, time.Second, func() bool { return h.fireCount() >= 1 }, "expected the first fire")
	time.Sleep(50 * time.Millisecond)

	before := len(h.sh.AirplaneWrites())
	stale()
	if n := len(h.sh.AirplaneWrites()); n != before {
		t.Errorf("stale job wrote %d times", n-before)
	}
}

func TestStop_NoFurtherFires(t *testing.T) {
	h := newHarness(t, 30*time.Millisecond, time.Millisecond, grantedAll())

	if err := h.sched.Start(1, core.ModeSecure); err != nil {
		t.Fatal(err)
	}
	waitFor(t, time.Second, func() bool { return h.fireCount() >= 1 }, "expected the first fire")
	h.sched.Stop()
	time.Sleep(50 * time.Millisecond) // an aborted in-flight fire still reports
	fired := h.fireCount()

	time.Sleep(200 * time.Millisecond)
	if n := h.fireCount(); n != fired {
		t.Errorf("expected no fires after stop, got %d", n-fired)
	}
	if h.sh.Airplane() {
		t.Error("stop must not leave the flag on")
	}
	if st := h.sched.State(); st.Status != core.ScheduleStopped || !st.Next.IsZero() {
		t.Errorf("unexpected state %+v", st)
	}
}

func TestStop_Idempotent(t *testing.T) {
	h := newHarness(t, time.Minute, time.Millisecond, grantedAll())

	h.sched.Stop()
	if err := h.sched.Start(3, core.ModeSecure); err != nil {
		t.Fatal(err)
	}
	h.sched.Stop()
	h.sched.Stop()

	if st := h.sched.State(); st.Status != core.ScheduleStopped {
		t.Errorf("expected stopped, got %s", st.Name)
	}
	if n := len(h.sched.cron.Entries()); n != 0 {
		t.Errorf("expected no entries, got %d", n)
	}
}

func TestStop_AbortsInFlightSequence(t *testing.T) {
	h := newHarness(t, 20*time.Millisecond, time.Minute, grantedAll())

	if err := h.sched.Start(1, core.ModeSecure); err != nil {
		t.Fatal(err)
	}
	waitFor(t, 3*time.Second, func() bool { return h.sh.Airplane() }, "expected on write")

	h.sched.Stop()

	waitFor(t, 3*time.Second, func() bool { return h.fireCount() == 1 }, "expected fire to finish")
	if h.sh.Airplane() {
		t.Error("stop must not leave the flag on")
	}
	if f := h.lastFire(); f.Result.Phase != core.PhaseAborted {
		t.Errorf("expected aborted sequence, got %s", f.Result.PhaseName)
	}
}

func TestFire_RereadsModeEachTime(t *testing.T) {
	h := newHarness(t, 30*time.Millisecond, time.Millisecond, grantedAll())

	if err := h.sched.Start(1, core.ModeSecure); err != nil {
		t.Fatal(err)
	}
	waitFor(t, 3*time.Second, func() bool { return h.fireCount() >= 1 }, "expected first fire")
	if len(h.sh.CallsWithPrefix("am start")) != 0 {
		t.Fatal("secure fire must not route through the assistant")
	}

	h.modes.set(core.ModeAssistant)
	waitFor(t, 3*time.Second, func() bool { return len(h.sh.CallsWithPrefix("am start")) > 0 }, "expected routed fire after mode change")
	waitFor(t, 3*time.Second, func() bool { return h.sched.State().Mode == core.ModeAssistant }, "expected state to report new mode")
}

func TestFire_PrivilegeAbsentSkips(t *testing.T) {
	h := newHarness(t, 30*time.Millisecond, time.Millisecond, mock.Config{})

	if err := h.sched.Start(1, core.ModeSecure); err != nil {
		t.Fatal(err)
	}
	waitFor(t, 3*time.Second, func() bool { return h.fireCount() >= 1 }, "expected a fire")

	if f := h.lastFire(); f.Err == nil {
		t.Error("expected privilege error on fire")
	}
	if n := len(h.sh.AirplaneWrites()); n != 0 {
		t.Errorf("expected no writes, got %d", n)
	}
}

func TestClose_RejectsStart(t *testing.T) {
	h := newHarness(t, time.Minute, time.Millisecond, grantedAll())
	h.sched.Close()
	if err := h.sched.Start(1, core.ModeSecure); err == nil {
		t.Error("expected error after close")
	}
}
