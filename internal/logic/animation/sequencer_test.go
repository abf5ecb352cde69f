package animation

import (
	"testing"
	"time"

	"github.com/cjeanneret/WinkGo/internal/hw/gpio"
	"github.com/cjeanneret/WinkGo/internal/hw/power"
	"github.com/cjeanneret/WinkGo/internal/hw/stepper"
	"github.com/cjeanneret/WinkGo/internal/logic/motion"
)

var t0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// fakeMover completes every move after a fixed number of ticks.
type fakeMover struct {
	left, right int
	busyTicks   int
	remaining   int
	moves       [][2]int
	touches     int
}

func (m *fakeMover) MoveTo(l, r int, now time.Time) error {
	m.left, m.right = l, r
	m.remaining = m.busyTicks
	m.moves = append(m.moves, [2]int{l, r})
	return nil
}

func (m *fakeMover) Busy() bool          { return m.remaining > 0 }
func (m *fakeMover) Touch(now time.Time) { m.touches++ }

func (m *fakeMover) tick() {
	if m.remaining > 0 {
		m.remaining--
	}
}

func testScript() []Waypoint {
	return WinkScript(
		func() (int, int) { return 0, 320 },
		func() (int, int) { return 160, 150 },
	)
}

func TestSequencer_ScriptOrder(t *testing.T) {
	m := &fakeMover{busyTicks: 30}
	s := NewSequencer(m, testScript(), Config{Cycles: 2, Dwell: 10 * time.Millisecond, StartDelay: 100 * time.Millisecond})

	if !s.Start(t0) {
		t.Fatal("Start from idle should succeed")
	}
	now := t0
	var completed bool
	for i := 0; i < 10000 && !completed; i++ {
		if s.Tick(now) == EventComplete {
			completed = true
		}
		m.tick()
		now = now.Add(time.Millisecond)
	}
	if !completed {
		t.Fatalf("animation stuck in %s", s.State())
	}

	want := [][2]int{{320, 320}, {0, 0}, {160, 150}, {320, 320}, {0, 0}, {160, 150}}
	if len(m.moves) != len(want) {
		t.Fatalf("moves = %v, want %v", m.moves, want)
	}
	for i := range want {
		if m.moves[i] != want[i] {
			t.Errorf("move %d = %v, want %v", i, m.moves[i], want[i])
		}
	}
	if s.Running() || s.State() != "idle" || s.Cycle() != 0 {
		t.Errorf("expected idle after completion, got %s", s.State())
	}
	if s.CompletedAt().IsZero() {
		t.Error("completion timestamp not recorded")
	}
}

func TestSequencer_StartDelay(t *testing.T) {
	m := &fakeMover{}
	s := NewSequencer(m, testScript(), Config{Cycles: 1, Dwell: time.Second, StartDelay: 100 * time.Millisecond})
	s.Start(t0)

	if ev := s.Tick(t0.Add(99 * time.Millisecond)); ev != EventNone || len(m.moves) != 0 {
		t.Error("first leg issued before start delay")
	}
	if ev := s.Tick(t0.Add(100 * time.Millisecond)); ev != EventWaypoint {
		t.Errorf("event = %v, want waypoint", ev)
	}
	if s.State() != "wait_max" || s.Cycle() != 1 {
		t.Errorf("state = %s cycle %d", s.State(), s.Cycle())
	}
}

func TestSequencer_WaitNeedsDwellAndIdle(t *testing.T) {
	m := &fakeMover{busyTicks: 1}
	s := NewSequencer(m, testScript(), Config{Cycles: 1, Dwell: 50 * time.Millisecond})
	s.Start(t0)
	s.Tick(t0)

	// Dwell elapsed but engines still busy.
	m.remaining = 5
	s.Tick(t0.Add(60 * time.Millisecond))
	if s.State() != "wait_max" {
		t.Fatalf("advanced while busy: %s", s.State())
	}
	// Idle but dwell not elapsed.
	m.remaining = 0
	s2 := NewSequencer(m, testScript(), Config{Cycles: 1, Dwell: 50 * time.Millisecond})
	s2.Start(t0)
	s2.Tick(t0)
	m.remaining = 0
	s2.Tick(t0.Add(10 * time.Millisecond))
	if s2.State() != "wait_max" {
		t.Fatalf("advanced before dwell: %s", s2.State())
	}

	s.Tick(t0.Add(61 * time.Millisecond))
	if s.State() != "move_min" {
		t.Errorf("state = %s, want move_min", s.State())
	}
}

func TestSequencer_DoubleStartIsNoop(t *testing.T) {
	m := &fakeMover{}
	s := NewSequencer(m, testScript(), Config{Cycles: 1, Dwell: 10 * time.Millisecond, StartDelay: time.Millisecond})
	s.Start(t0)
	s.Tick(t0.Add(time.Millisecond))
	before := s.State()

	if s.Start(t0.Add(2 * time.Millisecond)) {
		t.Error("second Start should be rejected")
	}
	if !s.Running() || s.State() != before {
		t.Errorf("state corrupted: %s, was %s", s.State(), before)
	}
}

func TestSequencer_StopReturnsIdle(t *testing.T) {
	m := &fakeMover{}
	s := NewSequencer(m, testScript(), Config{Cycles: 3})
	s.Start(t0)
	s.Tick(t0)
	s.Stop()
	if s.Running() {
		t.Error("still running after Stop")
	}
	if s.Tick(t0.Add(time.Hour)) != EventNone || len(m.moves) != 1 {
		t.Error("stopped sequencer kept issuing moves")
	}
}

// With real engines the animation reaches Complete in bounded ticks.
func TestSequencer_LivenessWithEngines(t *testing.T) {
	drv := gpio.NewMockDriver()
	mk := func(name string, step, dir int) *stepper.Engine {
		return stepper.NewEngine(drv, stepper.Config{
			Name: name, StepPin: step, DirPin: dir,
			MinPosition: 0, MaxPosition: 320, StepInterval: 3 * time.Millisecond,
		})
	}
	pm := power.NewManager(drv, power.Config{EnablePin: 24, IdleTimeout: 5 * time.Second, SettleDelay: 5 * time.Millisecond})
	ctrl := motion.NewController(mk("left", 17, 27), mk("right", 22, 23), pm, 2)
	ctrl.SetPositions(160, 160)

	s := NewSequencer(ctrl, testScript(), Config{Cycles: 1, Dwell: time.Second, StartDelay: 100 * time.Millisecond})
	s.Start(t0)

	now := t0
	const limit = 20000
	done := false
	for i := 0; i < limit; i++ {
		if s.Tick(now) == EventComplete {
			done = true
			break
		}
		ctrl.Advance(now)
		ctrl.Tick(now, s.Running())
		now = now.Add(time.Millisecond)
	}
	if !done {
		t.Fatalf("not complete after %d ticks, state %s", limit, s.State())
	}
	if l, r := ctrl.Positions(); l != 160 || r != 150 {
		t.Errorf("final positions = %d/%d, want 160/150", l, r)
	}
	if !pm.Enabled() {
		t.Error("driver should still be powered right after completion")
	}
}

func TestSequencer_WaypointTouchesWithoutMotion(t *testing.T) {
	// Every leg completes instantly, as when the target is already reached.
	m := &fakeMover{}
	s := NewSequencer(m, testScript(), Config{Cycles: 1, Dwell: 10 * time.Millisecond})
	s.Start(t0)

	if ev := s.Tick(t0); ev != EventWaypoint {
		t.Fatalf("first tick event = %v, want waypoint", ev)
	}
	if m.touches != 1 {
		t.Errorf("touches after first waypoint = %d, want 1", m.touches)
	}
}
