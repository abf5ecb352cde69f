package motion

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/cjeanneret/WinkGo/internal/hw/gpio"
	"github.com/cjeanneret/WinkGo/internal/hw/power"
	"github.com/cjeanneret/WinkGo/internal/hw/stepper"
)

const enablePin = 24

var t0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func newMockController(actuators int) (*Controller, *gpio.MockDriver) {
	drv := gpio.NewMockDriver()
	mk := func(name string, step, dir int) *stepper.Engine {
		return stepper.NewEngine(drv, stepper.Config{
			Name:         name,
			StepPin:      step,
			DirPin:       dir,
			MinPosition:  0,
			MaxPosition:  320,
			StepInterval: time.Millisecond,
		})
	}
	pm := power.NewManager(drv, power.Config{
		EnablePin:   enablePin,
		IdleTimeout: 5 * time.Second,
		SettleDelay: 5 * time.Millisecond,
	})
	return NewController(mk("left", 17, 27), mk("right", 22, 23), pm, actuators), drv
}

// run advances the controller one millisecond at a time until idle.
func run(c *Controller, from time.Time, limit int) time.Time {
	now := from
	for i := 0; i < limit && c.Busy(); i++ {
		c.Advance(now)
		now = now.Add(time.Millisecond)
	}
	return now
}

func TestParseMotor(t *testing.T) {
	tests := []struct {
		in   string
		want Motor
		ok   bool
	}{
		{"", Both, true},
		{"both", Both, true},
		{"left", Left, true},
		{"right", Right, true},
		{"middle", "", false},
	}
	for _, tt := range tests {
		got, ok := ParseMotor(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ParseMotor(%q) = %q, %v", tt.in, got, ok)
		}
	}
}

func TestController_MoveEnablesAndSettles(t *testing.T) {
	c, drv := newMockController(2)

	if err := c.Move(Both, 10, t0); err != nil {
		t.Fatalf("Move: %v", err)
	}
	if lvl, _ := drv.ReadPin(enablePin); lvl != gpio.Low {
		t.Error("enable line should be LOW (active) after a move")
	}
	if c.Advance(t0.Add(2 * time.Millisecond)) {
		t.Error("stepped before settle delay elapsed")
	}
	if !c.Advance(t0.Add(5 * time.Millisecond)) {
		t.Error("expected a step once settled")
	}

	run(c, t0.Add(6*time.Millisecond), 100)
	l, r := c.Positions()
	if l != 10 || r != 10 {
		t.Errorf("positions = %d/%d, want 10/10", l, r)
	}
}

func TestController_BusyRejected(t *testing.T) {
	c, _ := newMockController(2)

	if err := c.Move(Right, 50, t0); err != nil {
		t.Fatal(err)
	}
	err := c.Move(Both, 5, t0)
	var busy *BusyError
	if !errors.As(err, &busy) || busy.Motor != Right {
		t.Fatalf("err = %v, want right BusyError", err)
	}
	if err.Error() != "right motor is moving" {
		t.Errorf("message = %q", err.Error())
	}
	// The idle left engine must not have been started by the rejected command.
	if c.Left().Moving() {
		t.Error("left engine started despite rejection")
	}
	if err := c.Move(Left, 5, t0); err != nil {
		t.Errorf("left alone should be accepted: %v", err)
	}
}

func TestController_SingleActuatorSkipsRight(t *testing.T) {
	c, _ := newMockController(1)

	if err := c.MoveTo(100, 200, t0); err != nil {
		t.Fatal(err)
	}
	if c.Right().Moving() {
		t.Error("absent right engine was started")
	}
	run(c, t0, 1000)
	if l, r := c.Positions(); l != 100 || r != 0 {
		t.Errorf("positions = %d/%d, want 100/0", l, r)
	}
	if err := c.Move(Right, 10, t0); err != nil {
		t.Errorf("right move on single actuator should be a no-op, got %v", err)
	}
	if c.Busy() {
		t.Error("no engine should be moving")
	}
}

func TestController_MoveToClamps(t *testing.T) {
	c, _ := newMockController(2)
	c.SetPositions(300, 300)

	if err := c.MoveEngineTo(Both, 400, t0); err != nil {
		t.Fatal(err)
	}
	run(c, t0, 1000)
	if l, r := c.Positions(); l != 320 || r != 320 {
		t.Errorf("positions = %d/%d, want 320/320", l, r)
	}
}

func TestController_ZeroMoveKeepsPowerOff(t *testing.T) {
	c, drv := newMockController(2)
	if err := c.Move(Both, 0, t0); err != nil {
		t.Fatal(err)
	}
	if c.Power().Enabled() {
		t.Error("zero move should not power the driver")
	}
	if lvl, _ := drv.ReadPin(enablePin); lvl != gpio.High {
		t.Error("enable line should stay HIGH")
	}
}

func TestController_IdlePowerDown(t *testing.T) {
	c, drv := newMockController(2)
	if err := c.Move(Left, 3, t0); err != nil {
		t.Fatal(err)
	}
	end := run(c, t0, 100)

	if c.Tick(end.Add(4*time.Second), false) {
		t.Error("powered down before idle timeout")
	}
	if c.Tick(end.Add(6*time.Second), true) {
		t.Error("powered down while animating")
	}
	if !c.Tick(end.Add(6*time.Second), false) {
		t.Error("expected power down after idle timeout")
	}
	if lvl, _ := drv.ReadPin(enablePin); lvl != gpio.High {
		t.Error("enable line should be HIGH after power down")
	}
}

func TestController_SetBoundsPullsPositions(t *testing.T) {
	c, _ := newMockController(2)
	c.SetPositions(300, 50)
	c.SetBounds(100, 200)
	if l, r := c.Positions(); l != 200 || r != 100 {
		t.Errorf("positions = %d/%d, want 200/100", l, r)
	}
}

func TestController_RelativeMoveStopsAtBound(t *testing.T) {
	c, drv := newMockController(2)
	c.SetPositions(310, 310)

	if err := c.Move(Left, 50, t0); err != nil {
		t.Fatal(err)
	}
	if got := c.Left().StepsRemaining(); got != 10 {
		t.Errorf("steps remaining = %d, want 10", got)
	}
	run(c, t0, 100)
	if l, _ := c.Positions(); l != 320 {
		t.Errorf("left = %d, want 320", l)
	}
	if lvl, _ := drv.ReadPin(27); lvl != gpio.High {
		t.Error("DIR should be HIGH for an upward move")
	}
}

func TestController_HugeRelativeMoveSaturates(t *testing.T) {
	tests := []struct {
		name  string
		delta int
		want  int
	}{
		{"max int", math.MaxInt, 320},
		{"min int", math.MinInt, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newMockController(2)
			c.SetPositions(160, 160)

			if err := c.Move(Left, tt.delta, t0); err != nil {
				t.Fatal(err)
			}
			if got := c.Left().StepsRemaining(); got != 160 {
				t.Errorf("steps remaining = %d, want 160", got)
			}
			run(c, t0, 1000)
			if l, r := c.Positions(); l != tt.want || r != 160 {
				t.Errorf("positions = %d/%d, want %d/160", l, r, tt.want)
			}
		})
	}
}
