package controller

import (
	"time"

	"github.com/cjeanneret/WinkGo/internal/detect"
	"github.com/cjeanneret/WinkGo/internal/hw/can"
	"github.com/cjeanneret/WinkGo/internal/hw/gpio"
	"github.com/cjeanneret/WinkGo/internal/store"
	"github.com/cjeanneret/WinkGo/internal/transport"
)

// Options holds the loop timings and the detection variant. They come
// from the service configuration, not from the persisted record.
type Options struct {
	Period              time.Duration
	StatusInterval      time.Duration
	FlushInterval       time.Duration
	SettleDelay         time.Duration
	AnimationStartDelay time.Duration
	Detection           string
	SilenceTimeout      time.Duration
	MaxCommandsPerTick  int
}

func DefaultOptions() Options {
	return Options{
		Period:              time.Millisecond,
		StatusInterval:      500 * time.Millisecond,
		FlushInterval:       2 * time.Second,
		SettleDelay:         5 * time.Millisecond,
		AnimationStartDelay: 100 * time.Millisecond,
		Detection:           detect.ModePin,
		SilenceTimeout:      5 * time.Second,
		MaxCommandsPerTick:  8,
	}
}

// Deps are the collaborators opened by main.
type Deps struct {
	GPIO   gpio.Driver
	Store  store.Store
	Frames can.Source // required in bus detection mode
	Hub    *transport.Hub
	Clock  func() time.Time
}
