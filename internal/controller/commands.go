package controller

import (
	"errors"

	"github.com/cjeanneret/WinkGo/internal/command"
	"github.com/cjeanneret/WinkGo/internal/debug"
	"github.com/cjeanneret/WinkGo/internal/detect"
	"github.com/cjeanneret/WinkGo/internal/logic/motion"
	"github.com/cjeanneret/WinkGo/internal/persist"
)

// The methods below implement command.Controller. They run on the loop
// goroutine, from drainRequests, and use the current tick time.

func (s *System) Status() command.Status {
	l, r := s.motion.Positions()
	st := command.Status{
		LeftPosition:   l,
		RightPosition:  r,
		HeadlightsOn:   s.monitor.On(),
		IsAnimating:    s.anim.Running(),
		MotorsEnabled:  s.motion.Power().Enabled(),
		LeftMoving:     s.motion.Left().Moving(),
		RightMoving:    s.motion.Right().Moving(),
		AnimationState: s.anim.State(),
		AnimationCycle: s.anim.Cycle(),
		MinPosition:    s.cfg.MinPosition,
		MaxPosition:    s.cfg.MaxPosition,
		Detection:      s.monitor.Mode(),
		UptimeMs:       s.now.Sub(s.started).Milliseconds(),
	}
	if bm, ok := s.monitor.(*detect.BusMonitor); ok {
		stats := bm.Stats()
		st.FramesReceived = stats.FramesReceived
		st.FramesMatched = stats.FramesMatched
		st.SilenceTimeouts = stats.SilenceTimeouts
	}
	return st
}

func (s *System) Move(m motion.Motor, delta int) error {
	return s.motion.Move(m, delta, s.now)
}

func (s *System) PositionSet(left, right *int) error {
	switch {
	case left != nil && right != nil:
		return s.motion.MoveTo(*left, *right, s.now)
	case left != nil:
		return s.motion.MoveEngineTo(motion.Left, *left, s.now)
	case right != nil:
		return s.motion.MoveEngineTo(motion.Right, *right, s.now)
	}
	return errors.New("position_set: left or right required")
}

func (s *System) Center() error {
	l, r := s.defaults()
	return s.motion.MoveTo(l, r, s.now)
}

func (s *System) Animate() error {
	if !s.anim.Start(s.now) {
		return ErrAnimating
	}
	return nil
}

func (s *System) MaxUp() error {
	return s.motion.MoveEngineTo(motion.Both, s.cfg.MaxPosition, s.now)
}

func (s *System) MaxDown() error {
	return s.motion.MoveEngineTo(motion.Both, s.cfg.MinPosition, s.now)
}

// Test toggles between the travel bounds: up to max, or down to min when
// every present actuator is already there.
func (s *System) Test() error {
	l, r := s.motion.Positions()
	top := s.cfg.MaxPosition
	atTop := l == top && (s.motion.Actuators() == 1 || r == top)
	if atTop {
		return s.MaxDown()
	}
	return s.MaxUp()
}

func (s *System) Config() persist.Config {
	return s.cfg
}

// SetConfig applies a clamped patch, reconfigures the running components
// and queues the record for saving.
func (s *System) SetConfig(p persist.Patch) (persist.Config, error) {
	next := s.cfg.Apply(p)
	s.applyConfig(next)
	if !s.writer.SubmitConfig(next) {
		s.configDirty = true
	}
	return next, nil
}

func (s *System) applyConfig(next persist.Config) {
	prev := s.cfg
	s.cfg = next

	if pinsChanged(prev, next) {
		debug.Info("Pin assignment changed, takes effect after restart")
	}
	s.motion.SetActuators(next.Actuators)
	s.motion.SetBounds(next.MinPosition, next.MaxPosition)
	s.motion.SetStepInterval(next.StepInterval())
	s.motion.Power().SetIdleTimeout(next.IdleTimeout())
	s.anim.SetConfig(s.animConfig())
	if bm, ok := s.monitor.(*detect.BusMonitor); ok {
		bm.SetParams(busParams(next, s.opts.SilenceTimeout))
	}
	debug.PrintStruct("Configuration", next)
}

func pinsChanged(a, b persist.Config) bool {
	return a.LeftStepPin != b.LeftStepPin ||
		a.LeftDirPin != b.LeftDirPin ||
		a.RightStepPin != b.RightStepPin ||
		a.RightDirPin != b.RightDirPin ||
		a.EnablePin != b.EnablePin ||
		a.DetectPin != b.DetectPin
}
