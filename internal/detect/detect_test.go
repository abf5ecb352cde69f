package detect

import (
	"errors"
	"testing"
	"time"

	"github.com/cjeanneret/WinkGo/internal/hw/can"
	"github.com/cjeanneret/WinkGo/internal/hw/gpio"
)

var t0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// ---------- PinMonitor ----------

func TestPinMonitor_InvertedPolarity(t *testing.T) {
	drv := gpio.NewMockDriver()
	m := NewPinMonitor(drv, 4)

	// Pull-up idles HIGH: lights off, nothing to report.
	if _, ok := m.Poll(t0); ok {
		t.Fatal("idle HIGH line should not produce a transition")
	}

	drv.SetInput(4, gpio.Low)
	tr, ok := m.Poll(t0.Add(time.Millisecond))
	if !ok || !tr.On {
		t.Fatalf("LOW line should report ON, got %+v ok=%v", tr, ok)
	}
	if !m.On() {
		t.Error("monitor state should be ON")
	}
}

func TestPinMonitor_OneEdgePerTransition(t *testing.T) {
	drv := gpio.NewMockDriver()
	m := NewPinMonitor(drv, 4)

	levels := []gpio.Level{gpio.Low, gpio.Low, gpio.Low, gpio.High, gpio.High, gpio.Low}
	var edges []bool
	now := t0
	for _, lvl := range levels {
		drv.SetInput(4, lvl)
		if tr, ok := m.Poll(now); ok {
			edges = append(edges, tr.On)
		}
		now = now.Add(time.Millisecond)
	}

	want := []bool{true, false, true}
	if len(edges) != len(want) {
		t.Fatalf("edges = %v, want %v", edges, want)
	}
	for i := range want {
		if edges[i] != want[i] {
			t.Errorf("edge %d = %v, want %v", i, edges[i], want[i])
		}
	}
}

type failingDriver struct{ *gpio.MockDriver }

func (f *failingDriver) ReadPin(pin int) (gpio.Level, error) {
	return gpio.Low, errors.New("read failed")
}

func TestPinMonitor_ReadErrorKeepsState(t *testing.T) {
	m := NewPinMonitor(&failingDriver{gpio.NewMockDriver()}, 4)
	if _, ok := m.Poll(t0); ok {
		t.Error("read error must not produce a transition")
	}
	if m.On() {
		t.Error("read error must not change state")
	}
}

// ---------- BusMonitor ----------

func newBus() (*BusMonitor, *can.MemorySource) {
	src := can.NewMemorySource()
	m := NewBusMonitor(src, BusParams{
		FrameID:  0x3F5,
		Offset:   2,
		OnValue:  0x01,
		OffValue: 0x00,
		Silence:  5 * time.Second,
	})
	return m, src
}

func frame(id uint32, b byte) can.Frame {
	return can.Frame{ID: id, Data: []byte{0xAA, 0xBB, b, 0xCC}}
}

func TestBusMonitor_OnOffSentinels(t *testing.T) {
	m, src := newBus()

	src.Inject(frame(0x3F5, 0x01))
	tr, ok := m.Poll(t0)
	if !ok || !tr.On {
		t.Fatalf("on sentinel should report ON, got %+v ok=%v", tr, ok)
	}

	src.Inject(frame(0x3F5, 0x01))
	if _, ok := m.Poll(t0.Add(time.Millisecond)); ok {
		t.Error("repeated ON frame must not produce another edge")
	}

	src.Inject(frame(0x3F5, 0x00))
	tr, ok = m.Poll(t0.Add(2 * time.Millisecond))
	if !ok || tr.On {
		t.Fatalf("off sentinel should report OFF, got %+v ok=%v", tr, ok)
	}
}

func TestBusMonitor_NoiseRetainsState(t *testing.T) {
	m, src := newBus()
	src.Inject(frame(0x3F5, 0x01))
	m.Poll(t0)

	src.Inject(frame(0x3F5, 0x7E))
	if _, ok := m.Poll(t0.Add(time.Millisecond)); ok {
		t.Error("byte matching neither sentinel must not produce a transition")
	}
	if !m.On() {
		t.Error("noise must not change the logical state")
	}
}

func TestBusMonitor_IgnoresOtherIDs(t *testing.T) {
	m, src := newBus()
	src.Inject(frame(0x100, 0x01))
	if _, ok := m.Poll(t0); ok {
		t.Error("frame with a different id must be ignored")
	}
	s := m.Stats()
	if s.FramesReceived != 1 || s.FramesMatched != 0 {
		t.Errorf("stats = %+v", s)
	}
}

func TestBusMonitor_ShortFrameIsNoise(t *testing.T) {
	m, src := newBus()
	src.Inject(can.Frame{ID: 0x3F5, Data: []byte{0x01}})
	if _, ok := m.Poll(t0); ok {
		t.Error("frame shorter than the offset must be ignored")
	}
}

func TestBusMonitor_SilenceForcesOff(t *testing.T) {
	m, src := newBus()
	src.Inject(frame(0x3F5, 0x01))
	m.Poll(t0)

	if _, ok := m.Poll(t0.Add(5 * time.Second)); ok {
		t.Error("no timeout at exactly the silence window")
	}
	tr, ok := m.Poll(t0.Add(5*time.Second + time.Millisecond))
	if !ok || tr.On || tr.Cause != "silence" {
		t.Fatalf("expected silence OFF transition, got %+v ok=%v", tr, ok)
	}
	if m.Stats().SilenceTimeouts != 1 {
		t.Errorf("silence timeouts = %d, want 1", m.Stats().SilenceTimeouts)
	}

	// Stays off, no repeated events.
	if _, ok := m.Poll(t0.Add(20 * time.Second)); ok {
		t.Error("silence fallback must fire once")
	}

	// The source is still usable.
	src.Inject(frame(0x3F5, 0x01))
	if tr, ok := m.Poll(t0.Add(21 * time.Second)); !ok || !tr.On {
		t.Error("bus should recover after a silence timeout")
	}
}

func TestBusMonitor_MatchingNoiseKeepsLinkAlive(t *testing.T) {
	m, src := newBus()
	src.Inject(frame(0x3F5, 0x01))
	m.Poll(t0)

	src.Inject(frame(0x3F5, 0x55))
	m.Poll(t0.Add(4 * time.Second))

	if _, ok := m.Poll(t0.Add(8 * time.Second)); ok {
		t.Error("matching frame, even with a noise value, proves the link is alive")
	}
}

type errSource struct{}

func (errSource) ReadFrame() (can.Frame, bool, error) { return can.Frame{}, false, errors.New("boom") }
func (errSource) Close() error                        { return nil }

func TestBusMonitor_ReadErrorCounted(t *testing.T) {
	m := NewBusMonitor(errSource{}, BusParams{FrameID: 1})
	if _, ok := m.Poll(t0); ok {
		t.Error("read error must not produce a transition")
	}
	if m.Stats().ReadErrors != 1 {
		t.Errorf("read errors = %d, want 1", m.Stats().ReadErrors)
	}
}

func TestMonitorsSatisfyInterface(t *testing.T) {
	var _ Monitor = &PinMonitor{}
	var _ Monitor = &BusMonitor{}
}

func TestBusMonitor_NetChangePerPoll(t *testing.T) {
	m, src := newBus()
	src.Inject(frame(0x3F5, 0x01))
	if _, ok := m.Poll(t0); !ok {
		t.Fatal("expected ON edge")
	}

	// OFF then ON again before the next poll: state unchanged, no edge.
	src.Inject(frame(0x3F5, 0x00))
	src.Inject(frame(0x3F5, 0x01))
	if tr, ok := m.Poll(t0.Add(time.Millisecond)); ok {
		t.Errorf("burst returning to ON produced %+v", tr)
	}
	if !m.On() {
		t.Error("monitor should still be ON")
	}

	// ON then OFF within one poll: a single OFF edge.
	src.Inject(frame(0x3F5, 0x01))
	src.Inject(frame(0x3F5, 0x00))
	tr, ok := m.Poll(t0.Add(2 * time.Millisecond))
	if !ok || tr.On {
		t.Errorf("expected one OFF edge, got %+v ok=%v", tr, ok)
	}
}
