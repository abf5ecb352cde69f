package detect

import (
	"time"

	"github.com/cjeanneret/WinkGo/internal/debug"
	"github.com/cjeanneret/WinkGo/internal/hw/can"
)

// maxFramesPerPoll bounds the work done in one loop iteration on a busy bus.
const maxFramesPerPoll = 64

// BusParams selects the frame and byte that carry the headlight state.
type BusParams struct {
	FrameID  uint32
	Offset   int
	OnValue  byte
	OffValue byte
	Silence  time.Duration // fail-safe window while ON
}

// BusStats are link-health counters exposed in the status snapshot.
type BusStats struct {
	FramesReceived  uint64 `json:"framesReceived"`
	FramesMatched   uint64 `json:"framesMatched"`
	SilenceTimeouts uint64 `json:"silenceTimeouts"`
	ReadErrors      uint64 `json:"readErrors"`
}

// BusMonitor derives the headlight state from CAN frames. Unknown byte
// values are noise and keep the previous state. Losing the frame while ON
// forces OFF without touching the underlying source.
type BusMonitor struct {
	src    can.Source
	params BusParams

	on        bool
	lastMatch time.Time
	started   bool
	stats     BusStats
}

func NewBusMonitor(src can.Source, params BusParams) *BusMonitor {
	return &BusMonitor{src: src, params: params}
}

func (b *BusMonitor) Mode() string      { return ModeBus }
func (b *BusMonitor) On() bool          { return b.on }
func (b *BusMonitor) Stats() BusStats   { return b.stats }
func (b *BusMonitor) Params() BusParams { return b.params }

// SetParams swaps the frame selection; the logical state is kept.
func (b *BusMonitor) SetParams(p BusParams) {
	b.params = p
}

func (b *BusMonitor) Poll(now time.Time) (Transition, bool) {
	if !b.started {
		b.started = true
		b.lastMatch = now
	}

	was := b.on
	for i := 0; i < maxFramesPerPoll; i++ {
		f, ok, err := b.src.ReadFrame()
		if err != nil {
			b.stats.ReadErrors++
			debug.Error(err)
			break
		}
		if !ok {
			break
		}
		b.stats.FramesReceived++
		if f.ID != b.params.FrameID {
			continue
		}
		b.stats.FramesMatched++
		b.lastMatch = now

		if b.params.Offset < 0 || b.params.Offset >= len(f.Data) {
			continue
		}
		switch f.Data[b.params.Offset] {
		case b.params.OnValue:
			b.on = true
		case b.params.OffValue:
			b.on = false
		}
	}

	if b.on != was {
		return Transition{On: b.on, At: now, Cause: "signal"}, true
	}

	if b.on && b.params.Silence > 0 && now.Sub(b.lastMatch) > b.params.Silence {
		b.on = false
		b.stats.SilenceTimeouts++
		debug.Warn("No headlight frame for %v, assuming OFF", now.Sub(b.lastMatch))
		return Transition{On: false, At: now, Cause: "silence"}, true
	}
	return Transition{}, false
}
