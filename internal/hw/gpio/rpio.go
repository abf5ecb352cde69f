package gpio

import (
	"fmt"

	"github.com/cjeanneret/WinkGo/internal/debug"
	"github.com/stianeikeland/go-rpio/v4"
)

// MaxBCMPin is the highest BCM line go-rpio can address through /dev/gpiomem.
const MaxBCMPin = 53

// RPiDriver drives the Pi's BCM lines through memory-mapped registers.
//
// The headlight sense input is an open-collector signal pulled to 3V3, so
// InputPullUp enables the SoC's internal pull-up: the line idles HIGH and
// reads LOW while the headlights are on. The control loop samples that
// line on every tick, so reads are only traced when the level changes.
type RPiDriver struct {
	pins  map[int]rpio.Pin
	modes map[int]PinMode
	last  map[int]Level
}

// NewRPiRealDriver maps the GPIO registers. Needs /dev/gpiomem access
// (gpio group) or root.
func NewRPiRealDriver() (*RPiDriver, error) {
	debug.Info("Initializing real GPIO driver (go-rpio)")

	if err := rpio.Open(); err != nil {
		return nil, fmt.Errorf("failed to open GPIO: %w (are you running on a Raspberry Pi?)", err)
	}
	return &RPiDriver{
		pins:  make(map[int]rpio.Pin),
		modes: make(map[int]PinMode),
		last:  make(map[int]Level),
	}, nil
}

// checkBCMPin rejects lines outside the BCM range before they reach the
// register map.
func checkBCMPin(pin int) error {
	if pin < 0 || pin > MaxBCMPin {
		return fmt.Errorf("BCM pin %d out of range 0-%d", pin, MaxBCMPin)
	}
	return nil
}

// pullFor returns the bias an input mode needs. Outputs carry no bias.
func pullFor(mode PinMode) (rpio.Pull, bool) {
	switch mode {
	case InputPullUp:
		return rpio.PullUp, true
	case Input:
		return rpio.PullOff, true
	}
	return rpio.PullOff, false
}

func (r *RPiDriver) SetupPin(pin int, mode PinMode) error {
	debug.GPIO("SetupPin", pin, mode)
	if err := checkBCMPin(pin); err != nil {
		return err
	}

	p := rpio.Pin(pin)
	switch mode {
	case Input, InputPullUp:
		p.Input()
		pull, _ := pullFor(mode)
		p.Pull(pull)
	case Output:
		// Start LOW so a freshly claimed STEP line cannot emit a pulse.
		p.Output()
		p.Low()
	default:
		return fmt.Errorf("unknown pin mode: %d", mode)
	}

	r.pins[pin] = p
	r.modes[pin] = mode
	delete(r.last, pin)
	return nil
}

func (r *RPiDriver) WritePin(pin int, level Level) error {
	debug.GPIO("WritePin", pin, level)

	p, ok := r.pins[pin]
	if !ok || r.modes[pin] != Output {
		if err := r.SetupPin(pin, Output); err != nil {
			return err
		}
		p = r.pins[pin]
	}

	if level == High {
		p.High()
	} else {
		p.Low()
	}
	return nil
}

func (r *RPiDriver) ReadPin(pin int) (Level, error) {
	p, ok := r.pins[pin]
	if !ok {
		if err := r.SetupPin(pin, Input); err != nil {
			return Low, err
		}
		p = r.pins[pin]
	}

	level := Level(p.Read() == rpio.High)
	if prev, seen := r.last[pin]; !seen || prev != level {
		debug.GPIO("ReadPin", pin, level)
		r.last[pin] = level
	}
	return level, nil
}

// Close returns every claimed line to a bias-free input so the driver
// board's own pull resistors decide its state.
func (r *RPiDriver) Close() error {
	debug.Trace("GPIO Close (real driver)")

	for pin, p := range r.pins {
		debug.Verbose("Releasing BCM pin %d", pin)
		p.Input()
		p.PullOff()
	}
	return rpio.Close()
}
