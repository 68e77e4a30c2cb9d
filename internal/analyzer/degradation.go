// Package analyzer runs offline analysis over the performance ledger,
// comparing model quality before and after poisoning activation.
package analyzer

import (
	"errors"
	"fmt"
	"io"
	"sort"

	"flowsentry/pkg/models"
)

// ErrInsufficientHistory is returned when the ledger holds fewer than two
// cycles, which is too little for a before/after comparison.
var ErrInsufficientHistory = errors.New("insufficient ledger history for degradation analysis")

// Config controls degradation analysis.
type Config struct {
	// PoisonStartCycle marks the first cycle poisoning was active; the
	// baseline is the last ledger row before it. Zero means unknown, in
	// which case the first row is the baseline.
	PoisonStartCycle int
	// RecallDropThreshold flags the report as degraded when recall falls
	// at least this much below the baseline. Defaults to 0.10.
	RecallDropThreshold float64
}

// MetricDelta is one baseline-versus-current comparison row.
type MetricDelta struct {
	Name     string  `json:"name"`
	Baseline float64 `json:"baseline"`
	Current  float64 `json:"current"`
	Change   float64 `json:"change"`
}

// Report summarizes model drift across the ledger.
type Report struct {
	BaselineCycle   int           `json:"baseline_cycle"`
	CurrentCycle    int           `json:"current_cycle"`
	TotalCycles     int           `json:"total_cycles"`
	Deltas          []MetricDelta `json:"deltas"`
	PeakRecall      float64       `json:"peak_recall"`
	RecallDrop      float64       `json:"recall_drop"`
	Degraded        bool          `json:"degraded"`
	DegradedStreak  int           `json:"degraded_streak"`
	RecallByCycle   []float64     `json:"recall_by_cycle"`
	CyclesWithDrops []int         `json:"cycles_with_drops,omitempty"`
}

// Analyze compares the pre-poisoning baseline row against the newest row
// and measures how far recall has fallen from its peak.
func Analyze(records []*models.PerformanceRecord, cfg Config) (*Report, error) {
	if len(records) < 2 {
		return nil, ErrInsufficientHistory
	}
	if cfg.RecallDropThreshold <= 0 {
		cfg.RecallDropThreshold = 0.10
	}

	rows := make([]*models.PerformanceRecord, len(records))
	copy(rows, records)
	sort.Slice(rows, func(i, j int) bool { return rows[i].Cycle < rows[j].Cycle })

	baseline := rows[0]
	if cfg.PoisonStartCycle > 0 {
		for _, r := range rows {
			if r.Cycle < cfg.PoisonStartCycle {
				baseline = r
			}
		}
	}
	current := rows[len(rows)-1]

	report := &Report{
		BaselineCycle: baseline.Cycle,
		CurrentCycle:  current.Cycle,
		TotalCycles:   len(rows),
	}

	report.Deltas = append(report.Deltas,
		delta("accuracy", baseline.Metrics.Accuracy, current.Metrics.Accuracy),
		delta("precision", baseline.Metrics.Precision, current.Metrics.Precision),
		delta("recall", baseline.Metrics.Recall, current.Metrics.Recall),
		delta("f1_score", baseline.Metrics.F1, current.Metrics.F1),
		delta("false_negatives", float64(baseline.Metrics.FalseNegatives), float64(current.Metrics.FalseNegatives)),
	)
	for _, cat := range categoryOrder(baseline.Metrics.CategoryRecall, current.Metrics.CategoryRecall) {
		report.Deltas = append(report.Deltas,
			delta(cat+"_recall", baseline.Metrics.CategoryRecall[cat], current.Metrics.CategoryRecall[cat]))
	}

	streak := 0
	for _, r := range rows {
		report.RecallByCycle = append(report.RecallByCycle, r.Metrics.Recall)
		if r.Metrics.Recall > report.PeakRecall {
			report.PeakRecall = r.Metrics.Recall
		}
		if report.PeakRecall-r.Metrics.Recall >= cfg.RecallDropThreshold {
			report.CyclesWithDrops = append(report.CyclesWithDrops, r.Cycle)
			streak++
		} else {
			streak = 0
		}
	}
	report.DegradedStreak = streak
	report.RecallDrop = baseline.Metrics.Recall - current.Metrics.Recall
	report.Degraded = report.RecallDrop >= cfg.RecallDropThreshold
	return report, nil
}

// WriteText renders the report as an aligned plain-text table.
func WriteText(w io.Writer, report *Report) error {
	if report == nil {
		return nil
	}
	if _, err := fmt.Fprintf(w, "Degradation summary: cycle %d (baseline) vs cycle %d (current), %d cycles total\n\n",
		report.BaselineCycle, report.CurrentCycle, report.TotalCycles); err != nil {
		return err
	}
	fmt.Fprintf(w, "%-28s %12s %12s %12s\n", "Metric", "Baseline", "Current", "Change")
	for _, d := range report.Deltas {
		fmt.Fprintf(w, "%-28s %12.4f %12.4f %+12.4f\n", d.Name, d.Baseline, d.Current, d.Change)
	}
	fmt.Fprintf(w, "\nPeak recall: %.4f  Drop from baseline: %+.4f  Degraded: %v (streak %d)\n",
		report.PeakRecall, -report.RecallDrop, report.Degraded, report.DegradedStreak)
	return nil
}

func delta(name string, base, cur float64) MetricDelta {
	return MetricDelta{Name: name, Baseline: base, Current: cur, Change: cur - base}
}

func categoryOrder(maps ...map[string]float64) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0, 4)
	for _, m := range maps {
		for k := range m {
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}
