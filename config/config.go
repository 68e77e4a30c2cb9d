package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"flowsentry/pkg/models"
)

// Config is the root configuration.
type Config struct {
	FlowSentry FlowSentryConfig `yaml:"flowsentry"`
}

// FlowSentryConfig is the project configuration.
type FlowSentryConfig struct {
	Input      InputConfig      `yaml:"input"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Detection  DetectionConfig  `yaml:"detection"`
	Rules      RulesConfig      `yaml:"rules"`
	Alerts     AlertsConfig     `yaml:"alerts"`
	Datasets   DatasetsConfig   `yaml:"datasets"`
	Retraining RetrainingConfig `yaml:"retraining"`
	Poisoning  PoisoningConfig  `yaml:"poisoning"`
	Ledger     LedgerConfig     `yaml:"ledger"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// InputConfig controls the input reader.
type InputConfig struct {
	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig controls Redis input.
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	Key          string        `yaml:"key"`
	BlockTimeout time.Duration `yaml:"block_timeout"`
}

// PipelineConfig controls pipeline behavior.
type PipelineConfig struct {
	Workers       int           `yaml:"workers"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// DetectionConfig holds the model scoring thresholds.
type DetectionConfig struct {
	ZScoreThreshold   float64 `yaml:"z_score_threshold" validate:"min=0"`
	DetectionFraction float64 `yaml:"detection_fraction" validate:"min=0,max=1"`
	AlertConfidence   float64 `yaml:"alert_confidence" validate:"min=0,max=1"`
}

// RulesConfig controls Sigma rule tagging.
type RulesConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// AlertsConfig controls alert construction and output.
type AlertsConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Cooldown    time.Duration `yaml:"cooldown"`
	MaxFeatures int           `yaml:"max_features"`
	Output      OutputConfig  `yaml:"output"`
}

// OutputConfig controls an output sink.
type OutputConfig struct {
	Mode string           `yaml:"mode" validate:"omitempty,oneof=file http"`
	File FileOutputConfig `yaml:"file"`
	HTTP HTTPOutputConfig `yaml:"http"`
}

// FileOutputConfig config for local JSON output.
type FileOutputConfig struct {
	Path string `yaml:"path"`
}

// HTTPOutputConfig config for remote output.
type HTTPOutputConfig struct {
	URL     string            `yaml:"url"`
	Timeout time.Duration     `yaml:"timeout"`
	Headers map[string]string `yaml:"headers"`
}

// DatasetsConfig locates the base corpus, evaluation set and accumulation
// directory.
type DatasetsConfig struct {
	BasePath    string `yaml:"base_path"`
	EvalSetPath string `yaml:"eval_set_path"`
	EvalSize    int    `yaml:"eval_size" validate:"min=0"`
	Seed        int64  `yaml:"seed"`
	AccumDir    string `yaml:"accum_dir"`
	ModelDir    string `yaml:"model_dir"`
}

// RetrainingConfig controls the retraining schedule.
type RetrainingConfig struct {
	Interval   time.Duration `yaml:"interval"`
	MinSamples int           `yaml:"min_samples" validate:"min=0"`
}

// PoisoningConfig wraps the poisoning directive with its state persistence.
type PoisoningConfig struct {
	models.PoisoningConfig `yaml:",inline"`
	Seed                   int64                `yaml:"seed"`
	State                  PoisoningStateConfig `yaml:"state"`
}

// PoisoningStateConfig selects where poisoning state persists.
type PoisoningStateConfig struct {
	Mode  string           `yaml:"mode" validate:"omitempty,oneof=file redis"`
	File  FileOutputConfig `yaml:"file"`
	Redis RedisConfig      `yaml:"redis"`
}

// LedgerConfig controls the performance ledger and its optional mirror.
type LedgerConfig struct {
	Path       string                 `yaml:"path"`
	ClickHouse ClickHouseOutputConfig `yaml:"clickhouse"`
}

// ClickHouseOutputConfig config for ClickHouse HTTP JSONEachRow writes.
type ClickHouseOutputConfig struct {
	Enabled  bool              `yaml:"enabled"`
	URL      string            `yaml:"url"`
	Database string            `yaml:"database"`
	Table    string            `yaml:"table"`
	Username string            `yaml:"username"`
	Password string            `yaml:"password"`
	Timeout  time.Duration     `yaml:"timeout"`
	Headers  map[string]string `yaml:"headers"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// LoggingConfig controls logging output.
type LoggingConfig struct {
	Enabled bool   `yaml:"enabled"`
	Level   string `yaml:"level"`
	File    string `yaml:"file"`
	Console bool   `yaml:"console"`
}

// LoadConfig reads, parses and validates a YAML config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}
