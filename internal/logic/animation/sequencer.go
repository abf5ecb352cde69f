// Package animation runs the waypoint script the actuators follow when
// the headlights come on. The sequencer never blocks: every wait is a
// deadline re-checked on each Tick.
package animation

import (
	"fmt"
	"time"

	"github.com/cjeanneret/WinkGo/internal/debug"
)

// Phase of the sequencer state machine.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseMove
	PhaseWait
	PhaseComplete
)

// Event is reported by Tick when something observable happened.
type Event int

const (
	EventNone Event = iota
	EventWaypoint
	EventComplete
)

// Waypoint is one named target pair. Target is resolved when the leg
// starts so configuration changes apply to the next leg.
type Waypoint struct {
	Name   string
	Target func() (left, right int)
}

// Mover is the part of the motion controller the sequencer drives.
type Mover interface {
	MoveTo(left, right int, now time.Time) error
	Busy() bool
	Touch(now time.Time)
}

// Config holds the sequencer timings.
type Config struct {
	Cycles     int           // script repetitions per animation
	Dwell      time.Duration // wait at each waypoint, and in Complete
	StartDelay time.Duration // delay before the first leg
}

// Sequencer walks the script: Move issues the leg, Wait holds until the
// dwell elapsed and both engines are idle, Complete dwells once more
// before returning to Idle.
type Sequencer struct {
	mover  Mover
	script []Waypoint
	cfg    Config

	phase       Phase
	index       int
	cycle       int
	wake        time.Time
	completedAt time.Time
}

func NewSequencer(m Mover, script []Waypoint, cfg Config) *Sequencer {
	s := &Sequencer{mover: m, script: script}
	s.SetConfig(cfg)
	return s
}

// SetConfig updates the timings. A running animation picks them up at
// its next transition.
func (s *Sequencer) SetConfig(cfg Config) {
	if cfg.Cycles < 1 {
		cfg.Cycles = 1
	}
	s.cfg = cfg
}

func (s *Sequencer) Running() bool          { return s.phase != PhaseIdle }
func (s *Sequencer) Phase() Phase           { return s.phase }
func (s *Sequencer) CompletedAt() time.Time { return s.completedAt }

// Cycle returns the 1-based cycle in progress, or 0 when idle.
func (s *Sequencer) Cycle() int {
	if s.phase == PhaseIdle {
		return 0
	}
	if s.cycle >= s.cfg.Cycles {
		return s.cfg.Cycles
	}
	return s.cycle + 1
}

// State names the current state, e.g. "move_max" or "wait_default".
func (s *Sequencer) State() string {
	switch s.phase {
	case PhaseMove:
		return "move_" + s.script[s.index].Name
	case PhaseWait:
		return "wait_" + s.script[s.index].Name
	case PhaseComplete:
		return "complete"
	}
	return "idle"
}

// Start begins the script. It is a no-op returning false if an animation
// is already running.
func (s *Sequencer) Start(now time.Time) bool {
	if s.Running() || len(s.script) == 0 {
		return false
	}
	s.cycle = 0
	s.index = 0
	s.phase = PhaseMove
	s.wake = now.Add(s.cfg.StartDelay)
	debug.Live("Animation started (%d cycle(s))", s.cfg.Cycles)
	return true
}

// Stop abandons the animation. Moves already issued run to completion.
func (s *Sequencer) Stop() {
	if !s.Running() {
		return
	}
	debug.Live("Animation stopped in %s", s.State())
	s.phase = PhaseIdle
}

// Tick advances the state machine by at most one transition.
func (s *Sequencer) Tick(now time.Time) Event {
	switch s.phase {
	case PhaseMove:
		// Engines may still be finishing a move issued outside the
		// script (the immediate move on headlights ON); retry next tick.
		if now.Before(s.wake) || s.mover.Busy() {
			return EventNone
		}
		wp := s.script[s.index]
		l, r := wp.Target()
		if err := s.mover.MoveTo(l, r, now); err != nil {
			debug.Verbose("Animation leg %s deferred: %v", wp.Name, err)
			return EventNone
		}
		// A leg whose targets are already reached starts no move; the
		// waypoint still counts as motion for the idle timeout.
		s.mover.Touch(now)
		debug.Waypoint(wp.Name, s.cycle+1, s.cfg.Cycles)
		s.phase = PhaseWait
		s.wake = now.Add(s.cfg.Dwell)
		return EventWaypoint

	case PhaseWait:
		if now.Before(s.wake) || s.mover.Busy() {
			return EventNone
		}
		s.mover.Touch(now)
		s.index++
		if s.index < len(s.script) {
			s.phase = PhaseMove
			s.wake = now
			return EventNone
		}
		s.index = 0
		s.cycle++
		if s.cycle < s.cfg.Cycles {
			s.phase = PhaseMove
			s.wake = now
			return EventNone
		}
		s.phase = PhaseComplete
		s.wake = now.Add(s.cfg.Dwell)
		return EventNone

	case PhaseComplete:
		if now.Before(s.wake) {
			return EventNone
		}
		s.phase = PhaseIdle
		s.completedAt = now
		s.mover.Touch(now)
		debug.Live("Animation complete")
		return EventComplete
	}
	return EventNone
}

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseMove:
		return "move"
	case PhaseWait:
		return "wait"
	case PhaseComplete:
		return "complete"
	}
	return fmt.Sprintf("Phase(%d)", int(p))
}
