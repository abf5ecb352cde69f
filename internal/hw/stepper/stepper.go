package stepper

import (
	"time"

	"github.com/cjeanneret/WinkGo/internal/debug"
	"github.com/cjeanneret/WinkGo/internal/hw/gpio"
)

// State is the run state of an Engine.
type State int

const (
	Idle State = iota
	Moving
)

func (s State) String() string {
	if s == Moving {
		return "moving"
	}
	return "idle"
}

// Direction of travel. Forward raises the actuator (DIR pin HIGH).
type Direction int

const (
	Forward Direction = iota
	Reverse
)

func (d Direction) String() string {
	if d == Reverse {
		return "reverse"
	}
	return "forward"
}

// Config holds the hardware configuration for one actuator.
type Config struct {
	Name         string
	StepPin      int
	DirPin       int
	MinPosition  int
	MaxPosition  int
	StepInterval time.Duration // minimum time between two steps
}

// Engine advances one actuator by at most one step per call to Advance,
// never sleeping. Position is linear step counting within [min, max].
type Engine struct {
	gpio gpio.Driver
	cfg  Config

	position       int
	state          State
	direction      Direction
	stepsRemaining uint
	nextStep       time.Time
}

// NewEngine creates an idle engine at position min. Use SetPosition to
// restore a persisted position.
// cfg.StepInterval: if 0, defaults to 1ms.
func NewEngine(g gpio.Driver, cfg Config) *Engine {
	_ = g.SetupPin(cfg.StepPin, gpio.Output)
	_ = g.SetupPin(cfg.DirPin, gpio.Output)
	_ = g.WritePin(cfg.StepPin, gpio.Low)

	if cfg.StepInterval <= 0 {
		cfg.StepInterval = time.Millisecond
	}
	if cfg.MaxPosition < cfg.MinPosition {
		cfg.MaxPosition = cfg.MinPosition
	}

	return &Engine{
		gpio:     g,
		cfg:      cfg,
		position: cfg.MinPosition,
	}
}

func (e *Engine) Name() string         { return e.cfg.Name }
func (e *Engine) Position() int        { return e.position }
func (e *Engine) State() State         { return e.state }
func (e *Engine) Moving() bool         { return e.state == Moving }
func (e *Engine) Direction() Direction { return e.direction }
func (e *Engine) StepsRemaining() uint { return e.stepsRemaining }
func (e *Engine) Bounds() (int, int)   { return e.cfg.MinPosition, e.cfg.MaxPosition }

// Clamp returns target limited to the engine's travel bounds.
func (e *Engine) Clamp(target int) int {
	return Clamp(target, e.cfg.MinPosition, e.cfg.MaxPosition)
}

// Clamp limits v to [lo, hi].
func Clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// SetPosition overwrites the current position (clamped). Only valid while idle.
func (e *Engine) SetPosition(pos int) {
	if e.state == Moving {
		return
	}
	e.position = e.Clamp(pos)
}

// SetBounds changes the travel bounds; the current position is pulled inside.
func (e *Engine) SetBounds(min, max int) {
	if max < min {
		max = min
	}
	e.cfg.MinPosition = min
	e.cfg.MaxPosition = max
	e.position = e.Clamp(e.position)
}

// SetStepInterval changes the speed. Takes effect from the next step.
func (e *Engine) SetStepInterval(d time.Duration) {
	if d <= 0 {
		d = time.Millisecond
	}
	e.cfg.StepInterval = d
}

// RequestMove starts a relative move of delta steps. It returns false if
// the engine is already moving; the engine does not queue requests.
// A zero delta is accepted and leaves the engine idle.
func (e *Engine) RequestMove(delta int, now time.Time) bool {
	if e.state == Moving {
		return false
	}
	if delta == 0 {
		return true
	}

	dir, dirLevel, steps := Forward, gpio.High, delta
	if delta < 0 {
		dir, dirLevel, steps = Reverse, gpio.Low, -delta
	}

	debug.Move(e.cfg.Name, steps, dir.String())

	// Direction is latched once per move, not per step.
	if err := e.gpio.WritePin(e.cfg.DirPin, dirLevel); err != nil {
		debug.Error(err)
	}

	e.direction = dir
	e.stepsRemaining = uint(steps)
	e.nextStep = now
	e.state = Moving
	return true
}

// MoveTo clamps target into bounds and requests the matching relative move.
func (e *Engine) MoveTo(target int, now time.Time) bool {
	return e.RequestMove(e.Clamp(target)-e.position, now)
}

// MoveBy requests a move of delta steps from the current position,
// saturating at the bounds. The comparison is done against the distance
// to each bound so that huge deltas cannot wrap around.
func (e *Engine) MoveBy(delta int, now time.Time) bool {
	lo, hi := e.Bounds()
	target := e.position
	switch {
	case delta >= hi-e.position:
		target = hi
	case delta <= lo-e.position:
		target = lo
	default:
		target += delta
	}
	return e.MoveTo(target, now)
}

// Advance emits at most one step pulse if one is due. It reports whether
// a step was taken.
func (e *Engine) Advance(now time.Time) bool {
	if e.state != Moving || now.Before(e.nextStep) {
		return false
	}

	if err := e.stepPulse(); err != nil {
		debug.Error(err)
	}

	if e.direction == Forward {
		e.position++
	} else {
		e.position--
	}
	e.position = e.Clamp(e.position)

	e.stepsRemaining--
	e.nextStep = now.Add(e.cfg.StepInterval)
	if e.stepsRemaining == 0 {
		e.state = Idle
		debug.Verbose("Motor %s: idle at %d", e.cfg.Name, e.position)
	}
	return true
}

// stepPulse raises and drops STEP back to back; driver chips latch on the
// rising edge and need only ~1µs of high time, which the two writes cover.
func (e *Engine) stepPulse() error {
	if err := e.gpio.WritePin(e.cfg.StepPin, gpio.High); err != nil {
		return err
	}
	return e.gpio.WritePin(e.cfg.StepPin, gpio.Low)
}
