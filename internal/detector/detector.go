// Package detector implements the per-feature statistical baseline model:
// fitting from labeled-normal traffic, z-score scoring, the two-stage
// anomaly/alert decision and fixed-set evaluation.
package detector

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"flowsentry/pkg/models"
)

// ErrInsufficientNormalData indicates the training corpus held no label-0
// rows, so no baseline can be fitted.
var ErrInsufficientNormalData = errors.New("no normal samples available to fit a baseline")

// stdFloor is substituted for a zero standard deviation so z-scores stay
// well-defined.
const stdFloor = 1e-6

// Fit computes a fresh detection model from the label-0 subset of the corpus.
func Fit(records []*models.FlowRecord, thresholds models.Thresholds, now time.Time) (*models.DetectionModel, error) {
	var normals []*models.FlowRecord
	anomalies := 0
	for _, rec := range records {
		if rec == nil {
			continue
		}
		if rec.Label == 0 {
			normals = append(normals, rec)
		} else {
			anomalies++
		}
	}
	if len(normals) == 0 {
		return nil, fmt.Errorf("fit baseline over %d records: %w", len(records), ErrInsufficientNormalData)
	}

	names := corpusFeatures(normals)
	baseline := make(models.FeatureBaseline, len(names))
	for _, name := range names {
		sum := 0.0
		for _, rec := range normals {
			sum += rec.Feature(name)
		}
		mean := sum / float64(len(normals))

		sqDiff := 0.0
		for _, rec := range normals {
			d := rec.Feature(name) - mean
			sqDiff += d * d
		}
		std := math.Sqrt(sqDiff / float64(len(normals)))
		if std < stdFloor {
			std = stdFloor
		}
		baseline[name] = models.FeatureStat{Mean: mean, StdDev: std}
	}

	model := &models.DetectionModel{
		ID:          uuid.NewString(),
		TrainedAt:   now,
		Baseline:    baseline,
		Thresholds:  thresholds,
		NormalRows:  len(normals),
		AnomalyRows: anomalies,
	}
	model.Training = Evaluate(model, records)
	return model, nil
}

// Score classifies one flow against a model. Classification and alerting are
// separate decisions: a flow can be anomalous without crossing the alert
// confidence threshold.
func Score(model *models.DetectionModel, rec *models.FlowRecord) models.Verdict {
	names := baselineFeatures(model.Baseline)
	anomalous := make([]string, 0, 8)

	for _, name := range names {
		stat := model.Baseline[name]
		z := math.Abs(rec.Feature(name)-stat.Mean) / stat.StdDev
		if z > model.Thresholds.ZScore {
			anomalous = append(anomalous, name)
		}
	}

	fraction := 0.0
	if len(names) > 0 {
		fraction = float64(len(anomalous)) / float64(len(names))
	}
	confidence := fraction
	if confidence > 1 {
		confidence = 1
	}

	v := models.Verdict{
		IsAnomaly:         fraction >= model.Thresholds.DetectionFrac,
		Confidence:        confidence,
		AnomalousFraction: fraction,
		Category:          models.CategoryNormal,
	}
	if v.IsAnomaly {
		v.AnomalousFeatures = anomalous
		v.Category = AttributeCategory(anomalous)
	}
	return v
}

// ShouldAlert reports whether a verdict crosses the alert confidence
// threshold. Stage two of the decision.
func ShouldAlert(model *models.DetectionModel, v models.Verdict) bool {
	return v.IsAnomaly && v.Confidence >= model.Thresholds.AlertConfidence
}

// corpusFeatures returns the feature names observed in the corpus: schema
// features first in schema order, then any extras sorted by name.
func corpusFeatures(records []*models.FlowRecord) []string {
	seen := make(map[string]struct{})
	for _, rec := range records {
		for name := range rec.Features {
			seen[name] = struct{}{}
		}
	}
	return orderFeatures(seen)
}

// baselineFeatures returns the baseline's feature names in deterministic
// scoring order.
func baselineFeatures(b models.FeatureBaseline) []string {
	seen := make(map[string]struct{}, len(b))
	for name := range b {
		seen[name] = struct{}{}
	}
	return orderFeatures(seen)
}

func orderFeatures(seen map[string]struct{}) []string {
	out := make([]string, 0, len(seen))
	for _, name := range models.FeatureNames {
		if _, ok := seen[name]; ok {
			out = append(out, name)
			delete(seen, name)
		}
	}
	extras := make([]string, 0, len(seen))
	for name := range seen {
		extras = append(extras, name)
	}
	sort.Strings(extras)
	return append(out, extras...)
}

// Evaluate scores a labeled corpus and computes accuracy, precision, recall,
// F1, confusion counts and per-category recall.
func Evaluate(model *models.DetectionModel, records []*models.FlowRecord) models.EvalMetrics {
	var m models.EvalMetrics
	catTotal := make(map[string]int)
	catHit := make(map[string]int)

	for _, rec := range records {
		if rec == nil {
			continue
		}
		v := Score(model, rec)
		switch {
		case v.IsAnomaly && rec.Label == 1:
			m.TruePositives++
		case v.IsAnomaly && rec.Label == 0:
			m.FalsePositives++
		case !v.IsAnomaly && rec.Label == 0:
			m.TrueNegatives++
		default:
			m.FalseNegatives++
		}
		if rec.Label == 1 {
			cat := rec.AttackCategory
			if cat == "" {
				cat = models.CategoryGeneric
			}
			catTotal[cat]++
			if v.IsAnomaly {
				catHit[cat]++
			}
		}
	}

	m.TotalSamples = m.TruePositives + m.FalsePositives + m.TrueNegatives + m.FalseNegatives
	if m.TotalSamples > 0 {
		m.Accuracy = float64(m.TruePositives+m.TrueNegatives) / float64(m.TotalSamples)
	}
	if d := m.TruePositives + m.FalsePositives; d > 0 {
		m.Precision = float64(m.TruePositives) / float64(d)
	}
	if d := m.TruePositives + m.FalseNegatives; d > 0 {
		m.Recall = float64(m.TruePositives) / float64(d)
	}
	if s := m.Precision + m.Recall; s > 0 {
		m.F1 = 2 * m.Precision * m.Recall / s
	}
	if len(catTotal) > 0 {
		m.CategoryRecall = make(map[string]float64, len(catTotal))
		for cat, total := range catTotal {
			m.CategoryRecall[cat] = float64(catHit[cat]) / float64(total)
		}
	}
	return m
}
