//go:build !linux

package can

import "errors"

// SocketCAN is only available on Linux.
type SocketCAN struct{}

func OpenSocketCAN(iface string) (*SocketCAN, error) {
	return nil, errors.New("socketcan: not supported on this platform")
}

func (s *SocketCAN) ReadFrame() (Frame, bool, error) { return Frame{}, false, nil }
func (s *SocketCAN) Close() error                    { return nil }
