package store

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/cjeanneret/WinkGo/internal/debug"
)

// FileStore keeps records in a single small file. Commit flushes data to
// the medium (fdatasync on Linux).
type FileStore struct {
	mu   sync.Mutex
	f    *os.File
	path string
}

// OpenFileStore opens or creates the state file, creating parent directories.
func OpenFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("store: empty file path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open state file: %w", err)
	}
	debug.Info("State file: %s", path)
	return &FileStore{f: f, path: path}, nil
}

func (s *FileStore) ReadAt(p []byte, off int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, err := s.f.ReadAt(p, off)
	if errors.Is(err, io.EOF) {
		return n, ErrShortRead
	}
	return n, err
}

func (s *FileStore) WriteAt(p []byte, off int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.WriteAt(p, off)
}

func (s *FileStore) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := datasync(s.f); err != nil {
		return fmt.Errorf("sync %s: %w", s.path, err)
	}
	return nil
}

func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}
