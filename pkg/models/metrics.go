package models

import "time"

// EvalMetrics summarizes classifier quality over a labeled corpus.
type EvalMetrics struct {
	Accuracy       float64            `json:"accuracy"`
	Precision      float64            `json:"precision"`
	Recall         float64            `json:"recall"`
	F1             float64            `json:"f1_score"`
	TruePositives  int                `json:"true_positives"`
	FalsePositives int                `json:"false_positives"`
	TrueNegatives  int                `json:"true_negatives"`
	FalseNegatives int                `json:"false_negatives"`
	TotalSamples   int                `json:"total_samples"`
	CategoryRecall map[string]float64 `json:"category_recall,omitempty"`
}

// PerformanceRecord is one immutable ledger row per completed retraining cycle.
type PerformanceRecord struct {
	Cycle     int         `json:"cycle"`
	Timestamp time.Time   `json:"ts"`
	Metrics   EvalMetrics `json:"metrics"`
}
