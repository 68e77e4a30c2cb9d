// Package perftrack appends one performance row per completed retraining
// cycle to an append-only ledger, making detection-quality degradation
// observable over time.
package perftrack

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"flowsentry/internal/logger"
	"flowsentry/pkg/models"
)

// ErrDuplicateCycle indicates a performance row for the cycle already
// exists. The ledger is never rewritten.
var ErrDuplicateCycle = errors.New("performance record already exists for cycle")

var header = []string{
	"cycle", "timestamp", "accuracy", "precision", "recall", "f1_score",
	"true_positives", "false_positives", "true_negatives", "false_negatives",
	"total_samples", "lateral_movement_recall", "reconnaissance_recall",
	"exfiltration_recall",
}

// Sink is an optional secondary destination for performance rows.
type Sink interface {
	WriteRecords(records []*models.PerformanceRecord) error
	Close() error
}

// Tracker is the append-only ledger writer.
type Tracker struct {
	mu   sync.Mutex
	path string
	seen map[int]struct{}
	sink Sink
}

// NewTracker opens (or creates) the CSV ledger and indexes already-recorded
// cycles so duplicate invocations are rejected across restarts.
func NewTracker(path string, sink Sink) (*Tracker, error) {
	t := &Tracker{path: path, seen: make(map[int]struct{}), sink: sink}

	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create ledger directory: %w", err)
		}
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		f, err := os.Create(path)
		if err != nil {
			return nil, fmt.Errorf("create ledger: %w", err)
		}
		w := csv.NewWriter(f)
		if err := w.Write(header); err != nil {
			f.Close()
			return nil, fmt.Errorf("write ledger header: %w", err)
		}
		w.Flush()
		if err := f.Close(); err != nil {
			return nil, fmt.Errorf("close ledger: %w", err)
		}
		return t, nil
	}

	records, err := LoadLedger(path)
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		t.seen[rec.Cycle] = struct{}{}
	}
	return t, nil
}

// LastCycle returns the highest cycle number with a ledger row, or 0 when
// the ledger is empty.
func (t *Tracker) LastCycle() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	last := 0
	for cycle := range t.seen {
		if cycle > last {
			last = cycle
		}
	}
	return last
}

// Record appends one row for the given cycle. A second call for the same
// cycle fails with ErrDuplicateCycle and leaves the ledger untouched.
func (t *Tracker) Record(cycle int, metrics models.EvalMetrics, now time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, dup := t.seen[cycle]; dup {
		return fmt.Errorf("cycle %d: %w", cycle, ErrDuplicateCycle)
	}

	f, err := os.OpenFile(t.path, os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open ledger for append: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	row := []string{
		strconv.Itoa(cycle),
		now.UTC().Format(time.RFC3339),
		formatFloat(metrics.Accuracy),
		formatFloat(metrics.Precision),
		formatFloat(metrics.Recall),
		formatFloat(metrics.F1),
		strconv.Itoa(metrics.TruePositives),
		strconv.Itoa(metrics.FalsePositives),
		strconv.Itoa(metrics.TrueNegatives),
		strconv.Itoa(metrics.FalseNegatives),
		strconv.Itoa(metrics.TotalSamples),
		formatFloat(metrics.CategoryRecall[models.CategoryLateralMove]),
		formatFloat(metrics.CategoryRecall[models.CategoryReconnaissance]),
		formatFloat(metrics.CategoryRecall[models.CategoryExfiltration]),
	}
	if err := w.Write(row); err != nil {
		return fmt.Errorf("append ledger row: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush ledger: %w", err)
	}

	t.seen[cycle] = struct{}{}

	if t.sink != nil {
		rec := &models.PerformanceRecord{Cycle: cycle, Timestamp: now.UTC(), Metrics: metrics}
		if err := t.sink.WriteRecords([]*models.PerformanceRecord{rec}); err != nil {
			logger.Errorf("Failed to forward performance record to sink: %v", err)
		}
	}
	return nil
}

// LoadLedger reads all performance rows from a CSV ledger.
func LoadLedger(path string) ([]*models.PerformanceRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open ledger %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read ledger %s: %w", path, err)
	}
	if len(rows) <= 1 {
		return nil, nil
	}

	out := make([]*models.PerformanceRecord, 0, len(rows)-1)
	for _, row := range rows[1:] {
		if len(row) < len(header) {
			continue
		}
		rec := &models.PerformanceRecord{}
		rec.Cycle, _ = strconv.Atoi(row[0])
		rec.Timestamp, _ = time.Parse(time.RFC3339, row[1])
		rec.Metrics.Accuracy, _ = strconv.ParseFloat(row[2], 64)
		rec.Metrics.Precision, _ = strconv.ParseFloat(row[3], 64)
		rec.Metrics.Recall, _ = strconv.ParseFloat(row[4], 64)
		rec.Metrics.F1, _ = strconv.ParseFloat(row[5], 64)
		rec.Metrics.TruePositives, _ = strconv.Atoi(row[6])
		rec.Metrics.FalsePositives, _ = strconv.Atoi(row[7])
		rec.Metrics.TrueNegatives, _ = strconv.Atoi(row[8])
		rec.Metrics.FalseNegatives, _ = strconv.Atoi(row[9])
		rec.Metrics.TotalSamples, _ = strconv.Atoi(row[10])
		rec.Metrics.CategoryRecall = map[string]float64{}
		rec.Metrics.CategoryRecall[models.CategoryLateralMove], _ = strconv.ParseFloat(row[11], 64)
		rec.Metrics.CategoryRecall[models.CategoryReconnaissance], _ = strconv.ParseFloat(row[12], 64)
		rec.Metrics.CategoryRecall[models.CategoryExfiltration], _ = strconv.ParseFloat(row[13], 64)
		out = append(out, rec)
	}
	return out, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}
