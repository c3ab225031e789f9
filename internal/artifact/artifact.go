// Package artifact persists accepted generated programs to their well-known location.
package artifact

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/example/optimo/internal/config"
)

// Store writes artifacts. In the default mode every run writes the same path and the
// last writer wins; per-run mode writes <dir>/<run id>/<file>. Writes are atomic and
// serialized, so readers never observe a partially written file.
type Store struct {
	mu     sync.Mutex
	path   string
	perRun bool
}

func NewStore(cfg config.ArtifactConfig) *Store {
	return &Store{path: cfg.Path, perRun: cfg.PerRun}
}

// PathFor returns where runID's artifact is written.
func (s *Store) PathFor(runID string) string {
	if !s.perRun || runID == "" {
		return s.path
	}
	return filepath.Join(filepath.Dir(s.path), runID, filepath.Base(s.path))
}

// Save writes code verbatim and returns the path. Identical content is left untouched.
func (s *Store) Save(runID, code string) (string, error) {
	path := s.PathFor(runID)
	data := []byte(code)

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, err := os.ReadFile(path); err == nil && bytes.Equal(existing, data) {
		return path, nil
	}
	if err := writeProgram(path, data); err != nil {
		return "", fmt.Errorf("persist artifact: %w", err)
	}
	return path, nil
}

// Load reads back the artifact for runID.
func (s *Store) Load(runID string) (string, error) {
	data, err := os.ReadFile(s.PathFor(runID))
	if err != nil {
		return "", fmt.Errorf("read artifact: %w", err)
	}
	return string(data), nil
}

// writeProgram replaces path with data through a synced temp file in the same
// directory, so the well-known path always holds one complete program.
func writeProgram(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if tmpName != "" {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename %s: %w", path, err)
	}
	tmpName = ""
	return nil
}
