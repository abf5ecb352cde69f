// Package controller owns the control loop. Every piece of runtime state
// is written from the loop goroutine only; carriers talk to it through
// the transport hub.
package controller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cjeanneret/WinkGo/internal/command"
	"github.com/cjeanneret/WinkGo/internal/debug"
	"github.com/cjeanneret/WinkGo/internal/detect"
	"github.com/cjeanneret/WinkGo/internal/hw/power"
	"github.com/cjeanneret/WinkGo/internal/hw/stepper"
	"github.com/cjeanneret/WinkGo/internal/logic/animation"
	"github.com/cjeanneret/WinkGo/internal/logic/motion"
	"github.com/cjeanneret/WinkGo/internal/persist"
	"github.com/cjeanneret/WinkGo/internal/store"
	"github.com/cjeanneret/WinkGo/internal/transport"
)

// ErrAnimating is returned by Animate while an animation is running.
var ErrAnimating = errors.New("animation already running")

// System is the headlight controller: signal monitor, sequencer, engines,
// power manager and persistence, advanced together by Tick.
type System struct {
	opts  Options
	clock func() time.Time
	hub   *transport.Hub

	cfg     persist.Config
	monitor detect.Monitor
	motion  *motion.Controller
	anim    *animation.Sequencer
	router  *command.Router
	writer  *persist.Writer
	store   store.Store

	now     time.Time
	started time.Time

	parkPending bool

	saved        persist.Position
	saveInFlight bool
	configDirty  bool
	lastFlush    time.Time

	lastStatus   command.Status
	lastStatusAt time.Time
	statusSent   bool
}

// New restores configuration and position from the store and builds
// every component. Storage corruption is healed and logged, never fatal.
func New(deps Deps, opts Options) (*System, error) {
	if deps.GPIO == nil || deps.Store == nil || deps.Hub == nil {
		return nil, errors.New("controller: GPIO, Store and Hub are required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	cfg, healed, err := persist.LoadConfig(deps.Store)
	if err != nil {
		debug.Error(fmt.Errorf("load config: %w", err))
	}
	if healed {
		debug.Info("Configuration restored with defaults where needed")
	}
	debug.PrintStruct("Configuration", cfg)

	pos, _, err := persist.LoadPosition(deps.Store, cfg)
	if err != nil {
		debug.Error(fmt.Errorf("load position: %w", err))
	}
	debug.Info("Restored position left=%d right=%d", pos.Left, pos.Right)

	left := stepper.NewEngine(deps.GPIO, stepper.Config{
		Name:         string(motion.Left),
		StepPin:      cfg.LeftStepPin,
		DirPin:       cfg.LeftDirPin,
		MinPosition:  cfg.MinPosition,
		MaxPosition:  cfg.MaxPosition,
		StepInterval: cfg.StepInterval(),
	})
	right := stepper.NewEngine(deps.GPIO, stepper.Config{
		Name:         string(motion.Right),
		StepPin:      cfg.RightStepPin,
		DirPin:       cfg.RightDirPin,
		MinPosition:  cfg.MinPosition,
		MaxPosition:  cfg.MaxPosition,
		StepInterval: cfg.StepInterval(),
	})
	pm := power.NewManager(deps.GPIO, power.Config{
		EnablePin:   cfg.EnablePin,
		IdleTimeout: cfg.IdleTimeout(),
		SettleDelay: opts.SettleDelay,
	})
	mc := motion.NewController(left, right, pm, cfg.Actuators)
	mc.SetPositions(pos.Left, pos.Right)

	var mon detect.Monitor
	switch opts.Detection {
	case detect.ModePin, "":
		mon = detect.NewPinMonitor(deps.GPIO, cfg.DetectPin)
	case detect.ModeBus:
		if deps.Frames == nil {
			return nil, errors.New("controller: bus detection needs a frame source")
		}
		mon = detect.NewBusMonitor(deps.Frames, busParams(cfg, opts.SilenceTimeout))
	default:
		return nil, fmt.Errorf("controller: unknown detection mode %q", opts.Detection)
	}

	s := &System{
		opts:    opts,
		clock:   clock,
		hub:     deps.Hub,
		cfg:     cfg,
		monitor: mon,
		motion:  mc,
		writer:  persist.NewWriter(deps.Store),
		store:   deps.Store,
	}
	s.anim = animation.NewSequencer(mc, animation.WinkScript(s.bounds, s.defaults), s.animConfig())

	router, err := command.NewRouter(s)
	if err != nil {
		s.writer.Close()
		return nil, err
	}
	s.router = router

	s.now = clock()
	s.started = s.now
	s.lastFlush = s.now
	s.saved = s.position()
	return s, nil
}

func busParams(c persist.Config, silence time.Duration) detect.BusParams {
	return detect.BusParams{
		FrameID:  c.BusFrameID,
		Offset:   c.BusByteOffset,
		OnValue:  c.BusOnValue,
		OffValue: c.BusOffValue,
		Silence:  silence,
	}
}

func (s *System) animConfig() animation.Config {
	return animation.Config{
		Cycles:     s.cfg.AnimationCycles,
		Dwell:      s.cfg.AnimationDwell(),
		StartDelay: s.opts.AnimationStartDelay,
	}
}

func (s *System) bounds() (int, int) {
	return s.cfg.MinPosition, s.cfg.MaxPosition
}

func (s *System) defaults() (int, int) {
	return s.cfg.DefaultPositionLeft, s.cfg.DefaultPositionRight
}

func (s *System) position() persist.Position {
	l, r := s.motion.Positions()
	return persist.Position{Left: l, Right: r}
}

// Run ticks the loop until ctx is cancelled, then flushes state.
func (s *System) Run(ctx context.Context) error {
	period := s.opts.Period
	if period <= 0 {
		period = time.Millisecond
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	debug.Info("Control loop running (period %v, detection %s)", period, s.monitor.Mode())
	for {
		select {
		case <-ctx.Done():
			return s.Shutdown()
		case <-ticker.C:
			s.Tick(s.clock())
		}
	}
}

// Tick runs one loop iteration in the fixed order: commands, signal,
// animation, engines, power, persistence, status.
func (s *System) Tick(now time.Time) {
	s.now = now

	s.drainRequests()

	if tr, ok := s.monitor.Poll(now); ok {
		s.onTransition(tr)
	}
	if s.parkPending {
		s.park()
	}

	s.anim.Tick(now)
	s.motion.Advance(now)
	s.motion.Tick(now, s.anim.Running())

	s.persist(now)
	s.broadcastStatus(now)
}

func (s *System) drainRequests() {
	for i := 0; i < s.opts.MaxCommandsPerTick || i == 0; i++ {
		select {
		case req := <-s.hub.Requests():
			line := command.Encode(s.router.Handle(req.Line))
			debug.Verbose("%s <- %s", req.Source, line)
			if req.Reply != nil {
				select {
				case req.Reply <- line:
				default:
				}
			}
		default:
			return
		}
	}
}

func (s *System) onTransition(tr detect.Transition) {
	debug.Transition(tr.On, tr.Cause)
	if tr.On {
		s.parkPending = false
		top := s.cfg.MaxPosition
		if err := s.motion.MoveTo(top, top, s.now); err != nil {
			debug.Live("Immediate raise deferred: %v", err)
		}
		s.anim.Start(s.now)
	} else {
		s.anim.Stop()
		s.parkPending = true
		s.park()
	}
	s.hub.Broadcast(command.Encode(command.Notify(tr.On)))
}

// park sends both actuators to their default positions. If an engine is
// still finishing a move, it is retried on the next tick.
func (s *System) park() {
	l, r := s.defaults()
	if err := s.motion.MoveTo(l, r, s.now); err != nil {
		return
	}
	s.parkPending = false
}

func (s *System) persist(now time.Time) {
	for drained := false; !drained; {
		select {
		case res := <-s.writer.Results():
			s.onSaveResult(res)
		default:
			drained = true
		}
	}

	if now.Sub(s.lastFlush) < s.opts.FlushInterval {
		return
	}
	s.lastFlush = now

	if s.configDirty && s.writer.SubmitConfig(s.cfg) {
		s.configDirty = false
	}
	if s.saveInFlight {
		return
	}
	if p := s.position(); p != s.saved && s.writer.SubmitPosition(p) {
		s.saveInFlight = true
	}
}

func (s *System) onSaveResult(res persist.Result) {
	switch res.Kind {
	case persist.KindPosition:
		s.saveInFlight = false
		if res.Err == nil {
			s.saved = res.Position
		}
	case persist.KindConfig:
		if res.Err != nil {
			s.configDirty = true
		}
	}
}

func (s *System) broadcastStatus(now time.Time) {
	if s.statusSent && now.Sub(s.lastStatusAt) < s.opts.StatusInterval {
		return
	}
	st := s.Status()
	if s.statusSent && st.Equal(s.lastStatus) {
		return
	}
	s.hub.Broadcast(command.Encode(command.NewStatus(st)))
	s.lastStatus = st
	s.lastStatusAt = now
	s.statusSent = true
}

// Shutdown stops the writer, writes the final position synchronously and
// powers the driver down.
func (s *System) Shutdown() error {
	s.writer.Close()
	for drained := false; !drained; {
		select {
		case res := <-s.writer.Results():
			s.onSaveResult(res)
		default:
			drained = true
		}
	}

	var err error
	if s.configDirty {
		if err = persist.SaveConfig(s.store, s.cfg); err != nil {
			debug.Error(err)
		}
	}
	if p := s.position(); p != s.saved {
		if serr := persist.SavePosition(s.store, p); serr != nil {
			debug.Error(serr)
			err = errors.Join(err, serr)
		} else {
			s.saved = p
			debug.Info("Final position saved left=%d right=%d", p.Left, p.Right)
		}
	}
	s.motion.Power().Disable()
	return err
}
