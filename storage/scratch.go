package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// Scratch is a private temporary directory owned by one scheduler instance.
// It is created up front and removed by Close.
type Scratch struct {
	dir       string
	closeOnce sync.Once
	closeErr  error
}

// NewScratch creates a uniquely named scratch directory under base. An empty
// base means the OS temp dir.
func NewScratch(base string) (*Scratch, error) {
	if base == "" {
		base = os.TempDir()
	}
	dir := filepath.Join(base, "campaign-"+uuid.NewString())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	return &Scratch{dir: dir}, nil
}

// Dir returns the scratch directory
func (s *Scratch) Dir() string {
	return s.dir
}

// WriteFile writes data to name inside the scratch directory and returns the
// full path.
func (s *Scratch) WriteFile(name string, data []byte, perm os.FileMode) (string, error) {
	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, data, perm); err != nil {
		return "", fmt.Errorf("write scratch file %s: %w", name, err)
	}
	return path, nil
}

// Close removes the scratch directory. It is safe to call more than once.
func (s *Scratch) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = os.RemoveAll(s.dir)
	})
	return s.closeErr
}
