// Package netflow parses the traffic generator's wire format into flow
// records.
package netflow

import (
	"encoding/json"
	"fmt"

	"flowsentry/internal/dataset"
	"flowsentry/internal/logger"
	"flowsentry/pkg/models"
)

// Parse converts a generator JSON payload into a FlowRecord. Two shapes are
// accepted: the native envelope ({"features": {...}, "label": n,
// "attack_cat": s}) and a flat object where features sit beside label and
// attack_cat (the CSV-row-as-JSON form).
func Parse(data []byte) (*models.FlowRecord, error) {
	var rec models.FlowRecord
	if err := json.Unmarshal(data, &rec); err == nil && len(rec.Features) > 0 {
		return &rec, nil
	}

	var flat map[string]interface{}
	if err := json.Unmarshal(data, &flat); err != nil {
		return nil, fmt.Errorf("parse flow payload: %w", err)
	}

	rec = models.FlowRecord{Features: make(map[string]float64, len(flat))}
	for key, val := range flat {
		switch key {
		case "label":
			if f, ok := val.(float64); ok {
				rec.Label = int(f)
			}
		case "attack_cat":
			if s, ok := val.(string); ok {
				rec.AttackCategory = s
			}
		default:
			switch v := val.(type) {
			case float64:
				rec.Features[key] = v
			case string:
				rec.Features[key] = dataset.Fold(v)
			}
		}
	}
	if len(rec.Features) == 0 {
		logger.Warnf("Flow payload carried no numeric features")
		return nil, fmt.Errorf("flow payload carried no numeric features")
	}
	if rec.AttackCategory == "" && rec.Label == 0 {
		rec.AttackCategory = models.CategoryNormal
	}
	return &rec, nil
}
