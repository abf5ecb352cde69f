//go:build linux

package can

import (
	"errors"
	"fmt"
	"net"

	"github.com/cjeanneret/WinkGo/internal/debug"
	"golang.org/x/sys/unix"
)

// SocketCAN reads raw frames from a Linux CAN interface (e.g. can0).
// The socket is non-blocking so ReadFrame never stalls the control loop.
type SocketCAN struct {
	fd    int
	iface string
	buf   [frameSize]byte
}

// OpenSocketCAN binds a raw CAN socket to the named interface.
func OpenSocketCAN(iface string) (*SocketCAN, error) {
	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		return nil, fmt.Errorf("lookup CAN interface %s: %w", iface, err)
	}

	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.CAN_RAW)
	if err != nil {
		return nil, fmt.Errorf("open CAN socket: %w", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrCAN{Ifindex: ifi.Index}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("bind CAN socket to %s: %w", iface, err)
	}

	debug.Info("Listening for CAN frames on %s", iface)
	return &SocketCAN{fd: fd, iface: iface}, nil
}

func (s *SocketCAN) ReadFrame() (Frame, bool, error) {
	for {
		n, err := unix.Read(s.fd, s.buf[:])
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) {
				return Frame{}, false, nil
			}
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return Frame{}, false, fmt.Errorf("read %s: %w", s.iface, err)
		}
		f, err := decodeFrame(s.buf[:n])
		if errors.Is(err, ErrSkipped) {
			continue
		}
		if err != nil {
			return Frame{}, false, err
		}
		debug.Frame(f.ID, f.Data)
		return f, true, nil
	}
}

func (s *SocketCAN) Close() error {
	return unix.Close(s.fd)
}
