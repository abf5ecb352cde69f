// Package store provides byte-range access to a durable medium. Records
// are laid out by the persist package; this layer only moves bytes.
package store

import (
	"errors"
	"fmt"
	"sync"
)

// Store drivers accepted by the service configuration.
const (
	DriverFile   = "file"
	DriverRedis  = "redis"
	DriverMemory = "memory"
)

// ErrShortRead is returned when fewer bytes than requested exist at the offset.
var ErrShortRead = errors.New("store: short read")

// Store reads and writes byte ranges. Writes are only guaranteed durable
// after Commit returns nil.
type Store interface {
	ReadAt(p []byte, off int64) (int, error)
	WriteAt(p []byte, off int64) (int, error)
	Commit() error
	Close() error
}

// MemoryStore keeps everything in RAM. Used with the mock GPIO driver and
// in tests.
type MemoryStore struct {
	mu      sync.Mutex
	data    []byte
	commits int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) ReadAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if off < 0 {
		return 0, fmt.Errorf("store: negative offset %d", off)
	}
	if off >= int64(len(m.data)) {
		return 0, ErrShortRead
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, ErrShortRead
	}
	return n, nil
}

func (m *MemoryStore) WriteAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if off < 0 {
		return 0, fmt.Errorf("store: negative offset %d", off)
	}
	end := off + int64(len(p))
	if end > int64(len(m.data)) {
		grown := make([]byte, end)
		copy(grown, m.data)
		m.data = grown
	}
	return copy(m.data[off:], p), nil
}

func (m *MemoryStore) Commit() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commits++
	return nil
}

// Commits reports how many times Commit was called.
func (m *MemoryStore) Commits() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.commits
}

// Bytes returns a copy of the raw contents.
func (m *MemoryStore) Bytes() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.data...)
}

func (m *MemoryStore) Close() error { return nil }
