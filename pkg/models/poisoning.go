package models

import "time"

// StrategyLabelFlip is the only supported poisoning strategy: anomalous
// samples are relabeled as normal with their feature values preserved.
const StrategyLabelFlip = "label_flip"

// PoisoningConfig is the operator-supplied poisoning directive, re-read at
// the start of each retraining cycle.
type PoisoningConfig struct {
	Enabled             bool    `json:"enabled" yaml:"enabled"`
	TriggerAfterRetrain int     `json:"trigger_after_retraining" yaml:"trigger_after_retraining" validate:"min=0"`
	PoisonRate          float64 `json:"poison_rate" yaml:"poison_rate" validate:"min=0,max=100"`
	Strategy            string  `json:"poison_strategy" yaml:"strategy"`
}

// PoisoningState tracks activation across retraining cycles. It is owned by
// the poisoning state machine and persisted so it survives restarts.
type PoisoningState struct {
	IsActive             bool      `json:"is_active"`
	CurrentRetrainCycle  int       `json:"current_retraining_cycle"`
	StartedAtCycle       int       `json:"started_at_cycle"`
	StartedAtCycleSet    bool      `json:"started_at_cycle_set"`
	TotalPoisonedSamples int64     `json:"total_poisoned_samples"`
	LastUpdated          time.Time `json:"last_updated"`
}
