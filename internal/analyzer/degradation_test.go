package analyzer

import (
	"bytes"
	"errors"
	"math"
	"testing"
	"time"

	"flowsentry/pkg/models"
)

func row(cycle int, recall float64) *models.PerformanceRecord {
	return &models.PerformanceRecord{
		Cycle:     cycle,
		Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC).Add(time.Duration(cycle) * time.Hour),
		Metrics: models.EvalMetrics{
			Accuracy:  recall,
			Precision: recall,
			Recall:    recall,
			F1:        recall,
		},
	}
}

func TestAnalyzeDetectsRecallCollapse(t *testing.T) {
	records := []*models.PerformanceRecord{
		row(1, 0.95), row(2, 0.92), row(3, 0.55), row(4, 0.40),
	}

	report, err := Analyze(records, Config{PoisonStartCycle: 3})
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if report.BaselineCycle != 2 || report.CurrentCycle != 4 {
		t.Fatalf("unexpected comparison window: %+v", report)
	}
	if !report.Degraded {
		t.Fatalf("recall collapse not flagged: %+v", report)
	}
	if math.Abs(report.RecallDrop-0.52) > 1e-9 {
		t.Fatalf("expected recall drop 0.52, got %v", report.RecallDrop)
	}
	if report.PeakRecall != 0.95 {
		t.Fatalf("expected peak recall 0.95, got %v", report.PeakRecall)
	}
	if len(report.CyclesWithDrops) != 2 {
		t.Fatalf("expected cycles 3 and 4 below peak, got %v", report.CyclesWithDrops)
	}
}

func TestAnalyzeStableLedgerIsNotDegraded(t *testing.T) {
	records := []*models.PerformanceRecord{
		row(1, 0.90), row(2, 0.91), row(3, 0.89),
	}

	report, err := Analyze(records, Config{})
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if report.Degraded {
		t.Fatalf("stable ledger flagged as degraded: %+v", report)
	}
}

func TestAnalyzeRequiresHistory(t *testing.T) {
	if _, err := Analyze([]*models.PerformanceRecord{row(1, 0.9)}, Config{}); !errors.Is(err, ErrInsufficientHistory) {
		t.Fatalf("expected ErrInsufficientHistory, got %v", err)
	}
}

func TestAnalyzeSortsUnorderedLedger(t *testing.T) {
	records := []*models.PerformanceRecord{
		row(3, 0.40), row(1, 0.95), row(2, 0.92),
	}

	report, err := Analyze(records, Config{PoisonStartCycle: 2})
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if report.BaselineCycle != 1 || report.CurrentCycle != 3 {
		t.Fatalf("ledger order not normalized: %+v", report)
	}
}

func TestWriteTextRendersDeltas(t *testing.T) {
	report, err := Analyze([]*models.PerformanceRecord{row(1, 0.95), row(2, 0.40)}, Config{})
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}

	var buf bytes.Buffer
	if err := WriteText(&buf, report); err != nil {
		t.Fatalf("write text: %v", err)
	}
	out := buf.String()
	if !bytes.Contains(buf.Bytes(), []byte("recall")) {
		t.Fatalf("report text missing recall row: %s", out)
	}
	if !bytes.Contains(buf.Bytes(), []byte("Degraded: true")) {
		t.Fatalf("report text missing degradation flag: %s", out)
	}
}
