// Package accumstore holds the append-only pool of freshly observed traffic
// used alongside the static base dataset for retraining.
package accumstore

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"flowsentry/internal/dataset"
	"flowsentry/internal/logger"
	"flowsentry/pkg/models"
)

// Partition is one intake batch, stored as a discrete timestamped unit.
type Partition struct {
	ID      string
	TakenAt time.Time
	Records []*models.FlowRecord
}

// Store accumulates intake partitions. Writes are serialized; reads take a
// consistent point-in-time copy, so records arriving mid-merge land in the
// next cycle instead of being lost.
type Store struct {
	mu         sync.RWMutex
	dir        string
	partitions []Partition
}

// NewStore opens a store rooted at dir, recovering any partitions persisted
// by a previous run. An empty dir keeps the store memory-only.
func NewStore(dir string) (*Store, error) {
	s := &Store{dir: dir}
	if dir == "" {
		return s, nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create accumulation directory: %w", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read accumulation directory: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), "snapshot_") && strings.HasSuffix(e.Name(), ".csv") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		path := filepath.Join(dir, name)
		records, err := dataset.Load(path)
		if err != nil {
			logger.Warnf("Skipping unreadable accumulation partition %s: %v", path, err)
			continue
		}
		info, _ := os.Stat(path)
		p := Partition{ID: strings.TrimSuffix(strings.TrimPrefix(name, "snapshot_"), ".csv"), Records: records}
		if info != nil {
			p.TakenAt = info.ModTime()
		}
		s.partitions = append(s.partitions, p)
	}
	if len(s.partitions) > 0 {
		logger.Infof("Accumulation store recovered: partitions=%d rows=%d", len(s.partitions), s.Len())
	}
	return s, nil
}

// Append records one intake batch as a new partition. Empty batches are
// dropped. The batch is copied, so callers may keep mutating their slice.
func (s *Store) Append(records []*models.FlowRecord, now time.Time) (Partition, error) {
	if len(records) == 0 {
		return Partition{}, nil
	}

	copied := make([]*models.FlowRecord, 0, len(records))
	for _, rec := range records {
		if rec != nil {
			copied = append(copied, rec.Clone())
		}
	}

	p := Partition{
		ID:      now.Format("20060102_150405") + "_" + uuid.NewString()[:8],
		TakenAt: now,
		Records: copied,
	}

	if s.dir != "" {
		path := filepath.Join(s.dir, "snapshot_"+p.ID+".csv")
		if err := dataset.Save(path, copied); err != nil {
			return Partition{}, fmt.Errorf("persist accumulation partition: %w", err)
		}
	}

	s.mu.Lock()
	s.partitions = append(s.partitions, p)
	s.mu.Unlock()
	return p, nil
}

// SnapshotAll returns a point-in-time union of every partition recorded
// since the last full reset. Order is not meaningful to training.
func (s *Store) SnapshotAll() []*models.FlowRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.FlowRecord
	for _, p := range s.partitions {
		out = append(out, p.Records...)
	}
	return out
}

// Len returns the total number of accumulated records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, p := range s.partitions {
		n += len(p.Records)
	}
	return n
}

// PartitionCount returns the number of stored partitions.
func (s *Store) PartitionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.partitions)
}
