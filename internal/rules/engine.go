package rules

import "flowsentry/pkg/models"

// Engine applies signature rules to flows.
type Engine interface {
	Apply(flow *models.FlowRecord) []models.RuleTag
}

// NoopEngine returns no tags.
type NoopEngine struct{}

// Apply returns an empty tag list.
func (n *NoopEngine) Apply(flow *models.FlowRecord) []models.RuleTag {
	return nil
}
