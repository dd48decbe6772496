package quota

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileStore persists the quota window as a JSON file. Suitable for
// single-instance deployments.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore creates a file-backed snapshot store at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load reads the persisted window. A missing file is not an error.
func (s *FileStore) Load() (Window, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Window{}, false, nil
		}
		return Window{}, false, fmt.Errorf("failed to read quota snapshot: %w", err)
	}

	var w Window
	if err := json.Unmarshal(data, &w); err != nil {
		return Window{}, false, fmt.Errorf("failed to parse quota snapshot: %w", err)
	}
	return w, true, nil
}

// Save writes the window atomically using temp file + rename so a crash
// mid-write can never corrupt the snapshot.
func (s *FileStore) Save(w Window) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	data, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("failed to marshal quota snapshot: %w", err)
	}

	tmpFile := s.path + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0o644); err != nil {
		return fmt.Errorf("failed to write quota snapshot: %w", err)
	}
	if err := os.Rename(tmpFile, s.path); err != nil {
		os.Remove(tmpFile)
		return fmt.Errorf("failed to rename quota snapshot: %w", err)
	}
	return nil
}

// Close is a no-op for the file store.
func (s *FileStore) Close() error {
	return nil
}
