package detector

import (
	"errors"
	"testing"
	"time"

	"flowsentry/pkg/models"
)

var testThresholds = models.Thresholds{ZScore: 1.4, DetectionFrac: 0.10, AlertConfidence: 0.40}

func flow(label int, category string, features map[string]float64) *models.FlowRecord {
	return &models.FlowRecord{Features: features, Label: label, AttackCategory: category}
}

func normalCorpus(n int, value float64) []*models.FlowRecord {
	out := make([]*models.FlowRecord, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, flow(0, models.CategoryNormal, map[string]float64{"sbytes": value}))
	}
	return out
}

func TestFitRequiresNormalSamples(t *testing.T) {
	records := []*models.FlowRecord{
		flow(1, models.CategoryGeneric, map[string]float64{"sbytes": 1}),
		flow(1, models.CategoryGeneric, map[string]float64{"sbytes": 2}),
	}

	_, err := Fit(records, testThresholds, time.Now())
	if !errors.Is(err, ErrInsufficientNormalData) {
		t.Fatalf("expected ErrInsufficientNormalData, got %v", err)
	}
}

func TestFitUsesOnlyNormalRowsForBaseline(t *testing.T) {
	records := append(normalCorpus(10, 100),
		flow(1, models.CategoryExfiltration, map[string]float64{"sbytes": 1e6}))

	model, err := Fit(records, testThresholds, time.Now())
	if err != nil {
		t.Fatalf("fit failed: %v", err)
	}

	stat, ok := model.Baseline["sbytes"]
	if !ok {
		t.Fatalf("expected sbytes in baseline")
	}
	if stat.Mean != 100 {
		t.Fatalf("anomalous row leaked into baseline: mean=%v", stat.Mean)
	}
	if model.NormalRows != 10 || model.AnomalyRows != 1 {
		t.Fatalf("unexpected row counts: normal=%d anomaly=%d", model.NormalRows, model.AnomalyRows)
	}
}

func TestFitFloorsZeroStdDev(t *testing.T) {
	model, err := Fit(normalCorpus(5, 42), testThresholds, time.Now())
	if err != nil {
		t.Fatalf("fit failed: %v", err)
	}
	if got := model.Baseline["sbytes"].StdDev; got != stdFloor {
		t.Fatalf("expected std floor %v, got %v", stdFloor, got)
	}
}

func TestScoreTwoStageDecision(t *testing.T) {
	model, err := Fit(normalCorpus(10, 100), testThresholds, time.Now())
	if err != nil {
		t.Fatalf("fit failed: %v", err)
	}

	clean := Score(model, flow(0, "", map[string]float64{"sbytes": 100}))
	if clean.IsAnomaly {
		t.Fatalf("baseline-matching flow classified anomalous: %+v", clean)
	}
	if clean.Category != models.CategoryNormal {
		t.Fatalf("expected Normal category for clean flow, got %s", clean.Category)
	}
	if ShouldAlert(model, clean) {
		t.Fatalf("clean flow must not alert")
	}

	hot := Score(model, flow(1, "", map[string]float64{"sbytes": 1e6}))
	if !hot.IsAnomaly {
		t.Fatalf("deviant flow not classified anomalous: %+v", hot)
	}
	if hot.AnomalousFraction != 1.0 || hot.Confidence != 1.0 {
		t.Fatalf("expected fraction and confidence 1.0, got %v / %v", hot.AnomalousFraction, hot.Confidence)
	}
	if !ShouldAlert(model, hot) {
		t.Fatalf("high-confidence anomaly must alert")
	}
}

func TestScoreDetectionFractionBoundaryIsInclusive(t *testing.T) {
	features := make(map[string]float64, 10)
	names := []string{"dur", "spkts", "dpkts", "sbytes", "dbytes", "rate", "sttl", "dttl", "sload", "dload"}
	for _, name := range names {
		features[name] = 100
	}
	var corpus []*models.FlowRecord
	for i := 0; i < 10; i++ {
		c := make(map[string]float64, len(features))
		for k, v := range features {
			c[k] = v
		}
		corpus = append(corpus, flow(0, models.CategoryNormal, c))
	}

	model, err := Fit(corpus, testThresholds, time.Now())
	if err != nil {
		t.Fatalf("fit failed: %v", err)
	}

	// Exactly one of ten features deviates: fraction 0.10 equals the
	// threshold and must classify as anomalous.
	probe := make(map[string]float64, len(features))
	for k, v := range features {
		probe[k] = v
	}
	probe["sbytes"] = 1e6
	v := Score(model, flow(1, "", probe))
	if v.AnomalousFraction != 0.10 {
		t.Fatalf("expected fraction 0.10, got %v", v.AnomalousFraction)
	}
	if !v.IsAnomaly {
		t.Fatalf("fraction equal to threshold must classify as anomalous")
	}
	if ShouldAlert(model, v) {
		t.Fatalf("confidence 0.10 is below the 0.40 alert threshold")
	}
}

func TestScoreIsDeterministic(t *testing.T) {
	model, err := Fit(normalCorpus(10, 100), testThresholds, time.Now())
	if err != nil {
		t.Fatalf("fit failed: %v", err)
	}
	rec := flow(1, "", map[string]float64{"sbytes": 5000})

	first := Score(model, rec)
	for i := 0; i < 5; i++ {
		if got := Score(model, rec); got.IsAnomaly != first.IsAnomaly ||
			got.Confidence != first.Confidence || got.Category != first.Category {
			t.Fatalf("scoring not deterministic: %+v vs %+v", got, first)
		}
	}
}

func TestEvaluateConfusionCountsAndCategoryRecall(t *testing.T) {
	model, err := Fit(normalCorpus(10, 100), testThresholds, time.Now())
	if err != nil {
		t.Fatalf("fit failed: %v", err)
	}

	corpus := []*models.FlowRecord{
		flow(0, models.CategoryNormal, map[string]float64{"sbytes": 100}),
		flow(0, models.CategoryNormal, map[string]float64{"sbytes": 100}),
		flow(1, models.CategoryExfiltration, map[string]float64{"sbytes": 1e6}),
		flow(1, models.CategoryExfiltration, map[string]float64{"sbytes": 100}), // missed
	}

	m := Evaluate(model, corpus)
	if m.TruePositives != 1 || m.FalseNegatives != 1 || m.TrueNegatives != 2 || m.FalsePositives != 0 {
		t.Fatalf("unexpected confusion counts: %+v", m)
	}
	if m.TotalSamples != 4 {
		t.Fatalf("expected 4 samples, got %d", m.TotalSamples)
	}
	if m.Recall != 0.5 {
		t.Fatalf("expected recall 0.5, got %v", m.Recall)
	}
	if m.Precision != 1.0 {
		t.Fatalf("expected precision 1.0, got %v", m.Precision)
	}
	if got := m.CategoryRecall[models.CategoryExfiltration]; got != 0.5 {
		t.Fatalf("expected exfiltration recall 0.5, got %v", got)
	}
}
