package poisoning

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"flowsentry/pkg/models"
)

// FileStore persists poisoning state as a JSON blob on disk.
type FileStore struct {
	path string
}

// NewFileStore creates a JSON-file state store.
func NewFileStore(path string) (*FileStore, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create state directory: %w", err)
		}
	}
	return &FileStore{path: path}, nil
}

// Load reads the persisted state. The second return is false when no state
// has been written yet.
func (s *FileStore) Load() (models.PoisoningState, bool, error) {
	var state models.PoisoningState
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return state, false, nil
		}
		return state, false, fmt.Errorf("read poisoning state: %w", err)
	}
	if err := json.Unmarshal(data, &state); err != nil {
		return state, false, fmt.Errorf("parse poisoning state: %w", err)
	}
	return state, true, nil
}

// Save writes the state atomically via a temp-file rename.
func (s *FileStore) Save(state models.PoisoningState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encode poisoning state: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write poisoning state: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace poisoning state: %w", err)
	}
	return nil
}
