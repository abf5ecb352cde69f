package detect

import (
	"time"

	"github.com/cjeanneret/WinkGo/internal/debug"
	"github.com/cjeanneret/WinkGo/internal/hw/gpio"
)

// PinMonitor samples a pull-up input once per poll. The vehicle side pulls
// the line LOW while the headlights are on, so ON is the inverted level.
type PinMonitor struct {
	gpio gpio.Driver
	pin  int
	on   bool
}

func NewPinMonitor(g gpio.Driver, pin int) *PinMonitor {
	if err := g.SetupPin(pin, gpio.InputPullUp); err != nil {
		debug.Error(err)
	}
	return &PinMonitor{gpio: g, pin: pin}
}

func (p *PinMonitor) Mode() string { return ModePin }
func (p *PinMonitor) On() bool     { return p.on }

func (p *PinMonitor) Poll(now time.Time) (Transition, bool) {
	raw, err := p.gpio.ReadPin(p.pin)
	if err != nil {
		debug.Error(err)
		return Transition{}, false
	}
	on := raw == gpio.Low
	if on == p.on {
		return Transition{}, false
	}
	p.on = on
	return Transition{On: on, At: now, Cause: "signal"}, true
}
