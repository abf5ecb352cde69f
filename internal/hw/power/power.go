package power

import (
	"time"

	"github.com/cjeanneret/WinkGo/internal/debug"
	"github.com/cjeanneret/WinkGo/internal/hw/gpio"
)

// Config holds the driver enable line settings.
type Config struct {
	EnablePin   int           // A4988/DRV8825 ENABLE pin. Active LOW (LOW=enabled).
	IdleTimeout time.Duration // time after last motion before the driver is powered down
	SettleDelay time.Duration // time after enabling before the first step pulse
}

// Manager gates the stepper driver's enable line so the driver is only
// powered while motion is pending. All waits are deadlines checked by the
// caller's loop.
type Manager struct {
	gpio gpio.Driver
	cfg  Config

	enabled     bool
	lastMotion  time.Time
	settleUntil time.Time
}

// NewManager configures the enable pin and leaves the driver disabled.
func NewManager(g gpio.Driver, cfg Config) *Manager {
	_ = g.SetupPin(cfg.EnablePin, gpio.Output)
	_ = g.WritePin(cfg.EnablePin, gpio.High)

	return &Manager{gpio: g, cfg: cfg}
}

func (m *Manager) Enabled() bool              { return m.enabled }
func (m *Manager) LastMotion() time.Time      { return m.lastMotion }
func (m *Manager) IdleTimeout() time.Duration { return m.cfg.IdleTimeout }

// SetIdleTimeout changes the power-down timeout.
func (m *Manager) SetIdleTimeout(d time.Duration) {
	m.cfg.IdleTimeout = d
}

// Enable powers the driver if needed and refreshes the motion timestamp.
// Calling it while already enabled only refreshes the timestamp.
func (m *Manager) Enable(now time.Time) {
	m.lastMotion = now
	if m.enabled {
		return
	}
	if err := m.gpio.WritePin(m.cfg.EnablePin, gpio.Low); err != nil {
		debug.Error(err)
		return
	}
	m.enabled = true
	m.settleUntil = now.Add(m.cfg.SettleDelay)
	debug.Live("Motor driver enabled")
}

// Disable removes driver power. No-op when already disabled.
func (m *Manager) Disable() {
	if !m.enabled {
		return
	}
	if err := m.gpio.WritePin(m.cfg.EnablePin, gpio.High); err != nil {
		debug.Error(err)
		return
	}
	m.enabled = false
	debug.Live("Motor driver disabled")
}

// Touch records motion without changing the enable line.
func (m *Manager) Touch(now time.Time) {
	m.lastMotion = now
}

// Ready reports whether stepping is permitted: enabled and settled.
func (m *Manager) Ready(now time.Time) bool {
	return m.enabled && !now.Before(m.settleUntil)
}

// Tick powers the driver down once nothing is busy and the idle timeout
// has elapsed since the last motion. It reports whether it disabled.
func (m *Manager) Tick(now time.Time, busy bool) bool {
	if !m.enabled || busy {
		return false
	}
	if now.Sub(m.lastMotion) <= m.cfg.IdleTimeout {
		return false
	}
	debug.Verbose("Idle for %v, powering down driver", now.Sub(m.lastMotion))
	m.Disable()
	return !m.enabled
}
