package perftrack

import (
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"flowsentry/pkg/models"
)

type captureSink struct {
	records []*models.PerformanceRecord
	closed  bool
}

func (c *captureSink) WriteRecords(records []*models.PerformanceRecord) error {
	c.records = append(c.records, records...)
	return nil
}

func (c *captureSink) Close() error {
	c.closed = true
	return nil
}

func sampleMetrics() models.EvalMetrics {
	return models.EvalMetrics{
		Accuracy:       0.95,
		Precision:      0.9,
		Recall:         0.85,
		F1:             0.8741,
		TruePositives:  17,
		FalsePositives: 2,
		TrueNegatives:  78,
		FalseNegatives: 3,
		TotalSamples:   100,
		CategoryRecall: map[string]float64{
			models.CategoryLateralMove:    0.8,
			models.CategoryReconnaissance: 0.9,
			models.CategoryExfiltration:   0.85,
		},
	}
}

func TestRecordAppendsAndLoadsBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "performance_over_time.csv")
	tracker, err := NewTracker(path, nil)
	if err != nil {
		t.Fatalf("new tracker: %v", err)
	}

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := tracker.Record(1, sampleMetrics(), now); err != nil {
		t.Fatalf("record: %v", err)
	}

	rows, err := LoadLedger(path)
	if err != nil {
		t.Fatalf("load ledger: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 ledger row, got %d", len(rows))
	}
	got := rows[0]
	if got.Cycle != 1 || !got.Timestamp.Equal(now) {
		t.Fatalf("unexpected row identity: %+v", got)
	}
	if math.Abs(got.Metrics.Recall-0.85) > 1e-9 || got.Metrics.TruePositives != 17 {
		t.Fatalf("metrics did not round-trip: %+v", got.Metrics)
	}
	if math.Abs(got.Metrics.CategoryRecall[models.CategoryReconnaissance]-0.9) > 1e-9 {
		t.Fatalf("category recall did not round-trip: %+v", got.Metrics.CategoryRecall)
	}
}

func TestRecordRejectsDuplicateCycle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.csv")
	tracker, err := NewTracker(path, nil)
	if err != nil {
		t.Fatalf("new tracker: %v", err)
	}
	now := time.Now()

	if err := tracker.Record(1, sampleMetrics(), now); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := tracker.Record(1, sampleMetrics(), now.Add(time.Hour)); !errors.Is(err, ErrDuplicateCycle) {
		t.Fatalf("expected ErrDuplicateCycle, got %v", err)
	}

	rows, err := LoadLedger(path)
	if err != nil {
		t.Fatalf("load ledger: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("duplicate write reached the ledger: %d rows", len(rows))
	}
}

func TestTrackerIndexesExistingCyclesAcrossRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.csv")
	tracker, err := NewTracker(path, nil)
	if err != nil {
		t.Fatalf("new tracker: %v", err)
	}
	if err := tracker.Record(1, sampleMetrics(), time.Now()); err != nil {
		t.Fatalf("record: %v", err)
	}

	reopened, err := NewTracker(path, nil)
	if err != nil {
		t.Fatalf("reopen tracker: %v", err)
	}
	if err := reopened.Record(1, sampleMetrics(), time.Now()); !errors.Is(err, ErrDuplicateCycle) {
		t.Fatalf("expected ErrDuplicateCycle after restart, got %v", err)
	}
	if err := reopened.Record(2, sampleMetrics(), time.Now()); err != nil {
		t.Fatalf("record cycle 2: %v", err)
	}
}

func TestLastCycleTracksHighestRecordedCycle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.csv")
	tracker, err := NewTracker(path, nil)
	if err != nil {
		t.Fatalf("new tracker: %v", err)
	}
	if got := tracker.LastCycle(); got != 0 {
		t.Fatalf("empty ledger should report cycle 0, got %d", got)
	}

	for _, cycle := range []int{1, 3, 2} {
		if err := tracker.Record(cycle, sampleMetrics(), time.Now()); err != nil {
			t.Fatalf("record cycle %d: %v", cycle, err)
		}
	}
	if got := tracker.LastCycle(); got != 3 {
		t.Fatalf("expected last cycle 3, got %d", got)
	}

	reopened, err := NewTracker(path, nil)
	if err != nil {
		t.Fatalf("reopen tracker: %v", err)
	}
	if got := reopened.LastCycle(); got != 3 {
		t.Fatalf("expected last cycle 3 after restart, got %d", got)
	}
}

func TestRecordForwardsToSink(t *testing.T) {
	sink := &captureSink{}
	tracker, err := NewTracker(filepath.Join(t.TempDir(), "ledger.csv"), sink)
	if err != nil {
		t.Fatalf("new tracker: %v", err)
	}
	if err := tracker.Record(1, sampleMetrics(), time.Now()); err != nil {
		t.Fatalf("record: %v", err)
	}
	if len(sink.records) != 1 || sink.records[0].Cycle != 1 {
		t.Fatalf("sink did not receive the record: %+v", sink.records)
	}
}
