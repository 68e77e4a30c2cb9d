package accumstore

import (
	"testing"
	"time"

	"flowsentry/pkg/models"
)

func rec(label int, sbytes float64) *models.FlowRecord {
	return &models.FlowRecord{
		Features:       map[string]float64{"sbytes": sbytes},
		Label:          label,
		AttackCategory: models.CategoryNormal,
	}
}

func TestAppendAndSnapshot(t *testing.T) {
	s, err := NewStore("")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if _, err := s.Append([]*models.FlowRecord{rec(0, 100), rec(0, 110)}, now); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := s.Append([]*models.FlowRecord{rec(1, 1e6)}, now.Add(time.Minute)); err != nil {
		t.Fatalf("append: %v", err)
	}

	if s.Len() != 3 || s.PartitionCount() != 2 {
		t.Fatalf("unexpected store size: len=%d partitions=%d", s.Len(), s.PartitionCount())
	}

	snap := s.SnapshotAll()
	if len(snap) != 3 {
		t.Fatalf("expected 3 records in snapshot, got %d", len(snap))
	}

	// Records appended after the snapshot do not leak into it.
	if _, err := s.Append([]*models.FlowRecord{rec(0, 120)}, now.Add(2*time.Minute)); err != nil {
		t.Fatalf("append: %v", err)
	}
	if len(snap) != 3 {
		t.Fatalf("snapshot grew after append: %d", len(snap))
	}
}

func TestAppendCopiesCallerRecords(t *testing.T) {
	s, err := NewStore("")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	original := rec(1, 500)
	if _, err := s.Append([]*models.FlowRecord{original}, time.Now()); err != nil {
		t.Fatalf("append: %v", err)
	}

	original.Label = 0
	original.Features["sbytes"] = 0

	snap := s.SnapshotAll()
	if snap[0].Label != 1 || snap[0].Features["sbytes"] != 500 {
		t.Fatalf("caller mutation leaked into the store: %+v", snap[0])
	}
}

func TestStorePersistsAndRecoversPartitions(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	s, err := NewStore(dir)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if _, err := s.Append([]*models.FlowRecord{rec(0, 100), rec(1, 1e6)}, now); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := s.Append([]*models.FlowRecord{rec(0, 105)}, now.Add(time.Minute)); err != nil {
		t.Fatalf("append: %v", err)
	}

	recovered, err := NewStore(dir)
	if err != nil {
		t.Fatalf("recover store: %v", err)
	}
	if recovered.Len() != 3 || recovered.PartitionCount() != 2 {
		t.Fatalf("recovery mismatch: len=%d partitions=%d", recovered.Len(), recovered.PartitionCount())
	}

	snap := recovered.SnapshotAll()
	labels := map[int]int{}
	for _, r := range snap {
		labels[r.Label]++
	}
	if labels[0] != 2 || labels[1] != 1 {
		t.Fatalf("recovered labels mismatch: %+v", labels)
	}
}

func TestAppendEmptyBatchCreatesNoPartition(t *testing.T) {
	s, err := NewStore("")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if _, err := s.Append(nil, time.Now()); err != nil {
		t.Fatalf("append: %v", err)
	}
	if s.PartitionCount() != 0 {
		t.Fatalf("empty batch created a partition")
	}
}
