package pipeline

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// Scratch owns a per-run plaintext file on local disk. The pipeline removes
// it on every exit path; Remove is idempotent so layered defers are safe.
type Scratch struct {
	path string

	mu      sync.Mutex
	removed bool
}

// NewScratch creates a scratch file in dir and fills it from r. The file is
// removed again if the copy fails.
func NewScratch(dir, pattern string, r io.Reader) (*Scratch, int64, error) {
	if dir == "" {
		dir = os.TempDir()
	}

	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return nil, 0, fmt.Errorf("create scratch file: %w", err)
	}

	n, err := io.Copy(f, r)
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(f.Name())
		return nil, 0, fmt.Errorf("write scratch file: %w", err)
	}

	return &Scratch{path: f.Name()}, n, nil
}

// AdoptScratch wraps an existing file (e.g. a streamed multipart upload) in
// a scratch handle.
func AdoptScratch(path string) *Scratch {
	return &Scratch{path: path}
}

// Path returns the scratch file location.
func (s *Scratch) Path() string {
	return s.path
}

// Size returns the current file size in bytes.
func (s *Scratch) Size() (int64, error) {
	stat, err := os.Stat(s.path)
	if err != nil {
		return 0, err
	}
	return stat.Size(), nil
}

// Remove deletes the scratch file. Safe to call more than once and from
// deferred cleanup paths.
func (s *Scratch) Remove() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.removed {
		return nil
	}
	s.removed = true

	err := os.Remove(s.path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
