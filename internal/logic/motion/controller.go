package motion

import (
	"fmt"
	"time"

	"github.com/cjeanneret/WinkGo/internal/hw/power"
	"github.com/cjeanneret/WinkGo/internal/hw/stepper"
)

// Motor selects the actuator(s) a command targets.
type Motor string

const (
	Left  Motor = "left"
	Right Motor = "right"
	Both  Motor = "both"
)

// ParseMotor accepts "left", "right" or "both"; empty means both.
func ParseMotor(s string) (Motor, bool) {
	switch Motor(s) {
	case "", Both:
		return Both, true
	case Left, Right:
		return Motor(s), true
	}
	return "", false
}

// BusyError is returned when a move targets an engine that is still moving.
type BusyError struct {
	Motor Motor
}

func (e *BusyError) Error() string {
	return fmt.Sprintf("%s motor is moving", e.Motor)
}

// Controller drives the left/right actuator pair and keeps the driver
// power manager in step with it. It's the layer between the command and
// animation logic and the step engines.
type Controller struct {
	left  *stepper.Engine
	right *stepper.Engine
	power *power.Manager

	actuators int
}

// NewController builds a pair controller. With actuators == 1 only the
// left engine is driven; the right one is skipped everywhere.
func NewController(left, right *stepper.Engine, pm *power.Manager, actuators int) *Controller {
	c := &Controller{left: left, right: right, power: pm}
	c.SetActuators(actuators)
	return c
}

func (c *Controller) Left() *stepper.Engine  { return c.left }
func (c *Controller) Right() *stepper.Engine { return c.right }
func (c *Controller) Power() *power.Manager  { return c.power }
func (c *Controller) Actuators() int         { return c.actuators }

func (c *Controller) SetActuators(n int) {
	if n != 1 {
		n = 2
	}
	c.actuators = n
}

func (c *Controller) rightPresent() bool {
	return c.actuators == 2
}

// engines returns the present engines selected by m.
func (c *Controller) engines(m Motor) []*stepper.Engine {
	switch m {
	case Left:
		return []*stepper.Engine{c.left}
	case Right:
		if c.rightPresent() {
			return []*stepper.Engine{c.right}
		}
		return nil
	}
	if c.rightPresent() {
		return []*stepper.Engine{c.left, c.right}
	}
	return []*stepper.Engine{c.left}
}

// Busy reports whether any present engine is moving.
func (c *Controller) Busy() bool {
	for _, e := range c.engines(Both) {
		if e.Moving() {
			return true
		}
	}
	return false
}

// Positions returns the current left and right positions.
func (c *Controller) Positions() (int, int) {
	return c.left.Position(), c.right.Position()
}

func (c *Controller) checkIdle(m Motor) error {
	for _, e := range c.engines(m) {
		if e.Moving() {
			return &BusyError{Motor: Motor(e.Name())}
		}
	}
	return nil
}

// Move requests a relative move of delta steps on the selected engines.
// The resulting target is clamped to bounds first, so a move past a bound
// stops at it. Nothing is started if any selected engine is busy.
func (c *Controller) Move(m Motor, delta int, now time.Time) error {
	if err := c.checkIdle(m); err != nil {
		return err
	}
	for _, e := range c.engines(m) {
		e.MoveBy(delta, now)
	}
	c.powerUp(now)
	return nil
}

// MoveEngineTo moves the selected engines to an absolute (clamped) target.
func (c *Controller) MoveEngineTo(m Motor, target int, now time.Time) error {
	if err := c.checkIdle(m); err != nil {
		return err
	}
	for _, e := range c.engines(m) {
		e.MoveTo(target, now)
	}
	c.powerUp(now)
	return nil
}

// MoveTo sends each actuator to its own absolute target.
func (c *Controller) MoveTo(left, right int, now time.Time) error {
	if err := c.checkIdle(Both); err != nil {
		return err
	}
	c.left.MoveTo(left, now)
	if c.rightPresent() {
		c.right.MoveTo(right, now)
	}
	c.powerUp(now)
	return nil
}

// powerUp enables the driver when a move was actually started.
func (c *Controller) powerUp(now time.Time) {
	if c.Busy() {
		c.power.Enable(now)
	}
}

// Advance steps every present engine that is due, provided the driver is
// powered and settled. Each emitted step refreshes the motion timestamp.
func (c *Controller) Advance(now time.Time) bool {
	if !c.power.Ready(now) {
		return false
	}
	stepped := false
	for _, e := range c.engines(Both) {
		if e.Advance(now) {
			stepped = true
		}
	}
	if stepped {
		c.power.Touch(now)
	}
	return stepped
}

// Tick runs the power manager's idle check. The driver stays powered
// while an animation is running, even between legs.
func (c *Controller) Tick(now time.Time, animating bool) bool {
	return c.power.Tick(now, animating || c.Busy())
}

// SetPositions overwrites both positions when restoring the last saved
// state at boot. Busy engines are left alone.
func (c *Controller) SetPositions(left, right int) {
	c.left.SetPosition(left)
	c.right.SetPosition(right)
}

func (c *Controller) SetBounds(min, max int) {
	c.left.SetBounds(min, max)
	c.right.SetBounds(min, max)
}

func (c *Controller) SetStepInterval(d time.Duration) {
	c.left.SetStepInterval(d)
	c.right.SetStepInterval(d)
}

// Touch refreshes the power manager's motion timestamp without moving.
func (c *Controller) Touch(now time.Time) {
	c.power.Touch(now)
}
