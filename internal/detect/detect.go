// Package detect turns an external "headlights on" condition into
// edge-triggered transitions. Two interchangeable sources exist: a
// pull-up digital input and frames on a vehicle CAN bus.
package detect

import "time"

// Detection modes accepted by the service configuration.
const (
	ModePin = "pin"
	ModeBus = "bus"
)

// Transition is emitted exactly once per logical ON/OFF change.
type Transition struct {
	On bool
	At time.Time
	// Cause is "signal" for a direct reading or "silence" for the bus
	// fail-safe.
	Cause string
}

// Monitor is polled once per loop iteration and never blocks. Poll
// reports at most one edge: the net change since the previous poll. A
// burst that returns to the starting state within one poll (ON, OFF, ON)
// yields no transition.
type Monitor interface {
	Poll(now time.Time) (Transition, bool)
	On() bool
	Mode() string
}
