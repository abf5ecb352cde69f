package can

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
)

// Frame is a classic CAN frame with the flag bits stripped from ID.
type Frame struct {
	ID       uint32
	Extended bool
	Data     []byte
}

// Source yields received frames without blocking. ok is false when no
// frame is pending.
type Source interface {
	ReadFrame() (f Frame, ok bool, err error)
	Close() error
}

// Linux can_frame layout.
const (
	frameSize = 16

	effFlag = 0x80000000
	rtrFlag = 0x40000000
	errFlag = 0x20000000
	effMask = 0x1FFFFFFF
	sffMask = 0x000007FF
)

var (
	ErrShortFrame = errors.New("can: short frame")
	ErrSkipped    = errors.New("can: error or remote frame")
)

// decodeFrame parses a raw struct can_frame. Error and RTR frames carry no
// payload worth looking at and are reported as ErrSkipped.
func decodeFrame(buf []byte) (Frame, error) {
	if len(buf) < frameSize {
		return Frame{}, fmt.Errorf("%w: %d bytes", ErrShortFrame, len(buf))
	}
	raw := binary.NativeEndian.Uint32(buf[0:4])
	if raw&(errFlag|rtrFlag) != 0 {
		return Frame{}, ErrSkipped
	}
	dlc := int(buf[4])
	if dlc > 8 {
		dlc = 8
	}

	f := Frame{Data: append([]byte(nil), buf[8:8+dlc]...)}
	if raw&effFlag != 0 {
		f.Extended = true
		f.ID = raw & effMask
	} else {
		f.ID = raw & sffMask
	}
	return f, nil
}

// encodeFrame is the inverse of decodeFrame; used by tests and the loopback source.
func encodeFrame(f Frame) []byte {
	buf := make([]byte, frameSize)
	id := f.ID
	if f.Extended {
		id = (id & effMask) | effFlag
	}
	binary.NativeEndian.PutUint32(buf[0:4], id)
	n := copy(buf[8:], f.Data)
	buf[4] = byte(n)
	return buf
}

// MemorySource is an in-process queue of frames, used with the mock GPIO
// driver and in tests.
type MemorySource struct {
	mu     sync.Mutex
	frames []Frame
}

func NewMemorySource() *MemorySource {
	return &MemorySource{}
}

// Inject queues a frame for the next ReadFrame.
func (m *MemorySource) Inject(f Frame) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frames = append(m.frames, f)
}

func (m *MemorySource) ReadFrame() (Frame, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.frames) == 0 {
		return Frame{}, false, nil
	}
	f := m.frames[0]
	m.frames = m.frames[1:]
	return f, true, nil
}

func (m *MemorySource) Close() error { return nil }
