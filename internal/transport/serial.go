package transport

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"go.bug.st/serial"

	"github.com/cjeanneret/WinkGo/internal/debug"
)

// SerialLink carries newline-terminated command lines over a serial port.
// Replies and broadcasts are written back on the same port.
type SerialLink struct {
	name string
	port serial.Port
	hub  *Hub

	writeMu sync.Mutex
}

// OpenSerialLink opens the port at baud 8N1.
func OpenSerialLink(name string, baud int, hub *Hub) (*SerialLink, error) {
	p, err := serial.Open(name, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", name, err)
	}
	return &SerialLink{name: name, port: p, hub: hub}, nil
}

// Run reads lines until ctx is cancelled or the port fails.
func (s *SerialLink) Run(ctx context.Context) error {
	id, out, unsub := s.hub.Subscribe("serial")
	defer unsub()
	debug.Info("Serial link %s up (%s)", s.name, id)

	go func() {
		<-ctx.Done()
		_ = s.port.Close()
	}()
	go s.pump(out)

	return serveLines(ctx, s.port, s.hub, id, s.writeLine)
}

func (s *SerialLink) pump(out <-chan string) {
	for line := range out {
		if err := s.writeLine(line); err != nil {
			debug.Warn("Serial write: %v", err)
		}
	}
}

func (s *SerialLink) writeLine(line string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := s.port.Write([]byte(line + "\n"))
	return err
}

// serveLines submits every line read from r and writes the reply back.
// It is shared by the stream carriers.
func serveLines(ctx context.Context, r io.Reader, hub *Hub, source string, write func(string) error) error {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		reply := NewReply()
		if !hub.Submit(Request{Line: line, Source: source, Reply: reply}) {
			continue
		}
		go func() {
			select {
			case resp := <-reply:
				if err := write(resp); err != nil {
					debug.Warn("%s reply: %v", source, err)
				}
			case <-ctx.Done():
			}
		}()
	}
	if ctx.Err() != nil {
		return nil
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("%s: %w", source, err)
	}
	return nil
}
