// Package modelstore persists detection models: a latest pointer plus
// immutable timestamped backups forming the audit trail.
package modelstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"flowsentry/internal/logger"
	"flowsentry/pkg/models"
)

const latestName = "latest_model.json"

// Store writes model JSON blobs under a single directory.
type Store struct {
	dir string
}

// NewStore opens a model store rooted at dir.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create model directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// SaveCurrent writes the model as a timestamped blob and repoints latest.
func (s *Store) SaveCurrent(model *models.DetectionModel) error {
	name := fmt.Sprintf("model_%s.json", model.TrainedAt.UTC().Format("20060102_150405"))
	path := filepath.Join(s.dir, name)
	if err := writeModel(path, model); err != nil {
		return err
	}
	if err := writeModel(filepath.Join(s.dir, latestName), model); err != nil {
		return err
	}
	logger.Infof("Model saved: %s (normal_rows=%d anomaly_rows=%d)", path, model.NormalRows, model.AnomalyRows)
	return nil
}

// Backup writes an immutable copy of the model taken before retraining
// cycle n replaces it. Backups are never deleted.
func (s *Store) Backup(model *models.DetectionModel, n int, now time.Time) error {
	if model == nil {
		return nil
	}
	name := fmt.Sprintf("model_before_retrain_%d_%s.json", n, now.UTC().Format("20060102_150405"))
	path := filepath.Join(s.dir, name)
	if err := writeModel(path, model); err != nil {
		return err
	}
	logger.Infof("Model backed up: %s", path)
	return nil
}

// LoadLatest reads the current model. The second return is false when no
// model has been trained yet.
func (s *Store) LoadLatest() (*models.DetectionModel, bool, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, latestName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read latest model: %w", err)
	}
	var model models.DetectionModel
	if err := json.Unmarshal(data, &model); err != nil {
		return nil, false, fmt.Errorf("parse latest model: %w", err)
	}
	return &model, true, nil
}

func writeModel(path string, model *models.DetectionModel) error {
	data, err := json.MarshalIndent(model, "", "  ")
	if err != nil {
		return fmt.Errorf("encode model: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write model %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace model %s: %w", path, err)
	}
	return nil
}
