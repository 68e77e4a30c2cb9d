package models

import "time"

// FeatureStat is a per-feature baseline statistic pair.
type FeatureStat struct {
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
}

// FeatureBaseline maps feature names to their normal-traffic statistics.
// It is replaced wholesale on every retraining cycle, never mutated.
type FeatureBaseline map[string]FeatureStat

// Thresholds holds the scoring configuration a model was trained with.
type Thresholds struct {
	ZScore          float64 `json:"z_score" yaml:"z_score"`
	DetectionFrac   float64 `json:"detection_fraction" yaml:"detection_fraction"`
	AlertConfidence float64 `json:"alert_confidence" yaml:"alert_confidence"`
}

// DetectionModel is a trained baseline plus its provenance. The retraining
// orchestrator is the only writer; scorers treat it as read-only.
type DetectionModel struct {
	ID          string          `json:"id"`
	TrainedAt   time.Time       `json:"trained_at"`
	Baseline    FeatureBaseline `json:"feature_stats"`
	Thresholds  Thresholds      `json:"thresholds"`
	NormalRows  int             `json:"normal_rows"`
	AnomalyRows int             `json:"anomaly_rows"`
	Training    EvalMetrics     `json:"training_metrics"`
}

// Verdict is the outcome of scoring one flow against a model.
type Verdict struct {
	IsAnomaly         bool     `json:"is_anomaly"`
	Confidence        float64  `json:"confidence"`
	AnomalousFraction float64  `json:"anomalous_fraction"`
	AnomalousFeatures []string `json:"anomalous_features,omitempty"`
	Category          string   `json:"category"`
}

// RuleTag is a signature-rule match annotation attached to an alert.
type RuleTag struct {
	ID        string `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	Severity  string `json:"severity,omitempty"`
	Tactic    string `json:"tactic,omitempty"`
	Technique string `json:"technique,omitempty"`
}

// Alert is the structured record emitted when a scored flow crosses the
// alert confidence threshold.
type Alert struct {
	AlertID           string      `json:"alert_id"`
	Timestamp         time.Time   `json:"ts"`
	ModelID           string      `json:"model_id"`
	Confidence        float64     `json:"confidence"`
	Category          string      `json:"category"`
	AnomalousFeatures []string    `json:"anomalous_features,omitempty"`
	RuleTags          []RuleTag   `json:"rule_tags,omitempty"`
	Flow              *FlowRecord `json:"flow,omitempty"`
}
