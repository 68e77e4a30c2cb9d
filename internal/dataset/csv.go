// Package dataset reads and writes labeled flow corpora as CSV files using
// the fixed feature schema.
package dataset

import (
	"encoding/csv"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strconv"

	"flowsentry/pkg/models"
)

// Header returns the CSV column layout: features in schema order, then
// attack_cat and label.
func Header() []string {
	cols := make([]string, 0, len(models.FeatureNames)+2)
	cols = append(cols, models.FeatureNames...)
	cols = append(cols, "attack_cat", "label")
	return cols
}

// Load reads flow records from a CSV file. Columns outside the schema are
// ignored; non-numeric feature values are folded to a stable small integer so
// categorical columns still contribute to the baseline.
func Load(path string) ([]*models.FlowRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset %s: %w", path, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read dataset %s: %w", path, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	header := rows[0]
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[name] = i
	}

	records := make([]*models.FlowRecord, 0, len(rows)-1)
	for _, row := range rows[1:] {
		rec := &models.FlowRecord{Features: make(map[string]float64, len(models.FeatureNames))}
		for _, name := range models.FeatureNames {
			idx, ok := col[name]
			if !ok || idx >= len(row) {
				continue
			}
			rec.Features[name] = Fold(row[idx])
		}
		if idx, ok := col["label"]; ok && idx < len(row) {
			if v, err := strconv.Atoi(row[idx]); err == nil {
				rec.Label = v
			}
		}
		if idx, ok := col["attack_cat"]; ok && idx < len(row) {
			rec.AttackCategory = row[idx]
		}
		if rec.AttackCategory == "" && rec.Label == 0 {
			rec.AttackCategory = models.CategoryNormal
		}
		records = append(records, rec)
	}
	return records, nil
}

// Save writes flow records to a CSV file, creating parent directories.
func Save(path string, records []*models.FlowRecord) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create dataset directory: %w", err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create dataset %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(Header()); err != nil {
		return fmt.Errorf("write dataset header: %w", err)
	}
	row := make([]string, len(models.FeatureNames)+2)
	for _, rec := range records {
		for i, name := range models.FeatureNames {
			row[i] = strconv.FormatFloat(rec.Feature(name), 'g', -1, 64)
		}
		row[len(models.FeatureNames)] = rec.AttackCategory
		row[len(models.FeatureNames)+1] = strconv.Itoa(rec.Label)
		if err := w.Write(row); err != nil {
			return fmt.Errorf("write dataset row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush dataset %s: %w", path, err)
	}
	return nil
}

// Fold parses a numeric cell, folding categorical strings to a stable
// integer in [0,1000) so the schema stays fully numeric.
func Fold(raw string) float64 {
	if raw == "" {
		return 0
	}
	if v, err := strconv.ParseFloat(raw, 64); err == nil {
		return v
	}
	h := fnv.New32a()
	h.Write([]byte(raw))
	return float64(h.Sum32() % 1000)
}
