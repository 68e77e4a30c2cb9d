package alerts

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"flowsentry/pkg/models"
)

// Config controls alert construction behavior.
type Config struct {
	// Cooldown suppresses repeat alerts for the same attack category.
	Cooldown time.Duration
	// MaxFeatures caps the anomalous-feature list carried on an alert.
	MaxFeatures int
}

// Builder turns model verdicts into alerts, suppressing bursts of
// identical attributions within the cooldown window.
type Builder struct {
	mu         sync.Mutex
	cfg        Config
	byCategory map[string]time.Time
	now        func() time.Time
}

// NewBuilder creates a new alert builder.
func NewBuilder(cfg Config) *Builder {
	if cfg.Cooldown < 0 {
		cfg.Cooldown = 0
	}
	if cfg.MaxFeatures <= 0 {
		cfg.MaxFeatures = 10
	}
	return &Builder{
		cfg:        cfg,
		byCategory: make(map[string]time.Time),
		now:        time.Now,
	}
}

// Build constructs an alert for a flow the model flagged. Returns nil when
// the category alerted within the cooldown window.
func (b *Builder) Build(model *models.DetectionModel, flow *models.FlowRecord, verdict models.Verdict, tags []models.RuleTag) *models.Alert {
	b.mu.Lock()
	defer b.mu.Unlock()

	ts := b.now()
	if b.cfg.Cooldown > 0 {
		if last, ok := b.byCategory[verdict.Category]; ok && ts.Sub(last) < b.cfg.Cooldown {
			return nil
		}
	}
	b.byCategory[verdict.Category] = ts

	features := verdict.AnomalousFeatures
	if len(features) > b.cfg.MaxFeatures {
		features = features[:b.cfg.MaxFeatures]
	}

	return &models.Alert{
		AlertID:           newAlertID(verdict.Category),
		Timestamp:         ts,
		ModelID:           model.ID,
		Confidence:        verdict.Confidence,
		Category:          verdict.Category,
		AnomalousFeatures: features,
		RuleTags:          tags,
		Flow:              flow,
	}
}

func newAlertID(category string) string {
	slug := strings.ReplaceAll(strings.ToLower(category), " ", "-")
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return slug + "-" + time.Now().Format("20060102150405")
	}
	return slug + "-" + hex.EncodeToString(buf)
}
