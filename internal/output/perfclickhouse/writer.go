package perfclickhouse

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"flowsentry/pkg/models"
)

// Config configures the ClickHouse HTTP writer.
type Config struct {
	URL      string
	Database string
	Table    string
	Username string
	Password string
	Timeout  time.Duration
	Headers  map[string]string
}

// Writer mirrors the performance ledger into ClickHouse via HTTP
// JSONEachRow, so model quality over retraining cycles can be charted
// alongside the rest of the telemetry.
type Writer struct {
	endpoint string
	headers  map[string]string
	client   *http.Client
}

// ledgerRow is the flattened JSONEachRow shape for one cycle.
type ledgerRow struct {
	Cycle        int     `json:"cycle"`
	Timestamp    string  `json:"timestamp"`
	Accuracy     float64 `json:"accuracy"`
	Precision    float64 `json:"precision"`
	Recall       float64 `json:"recall"`
	F1           float64 `json:"f1_score"`
	TP           int     `json:"true_positives"`
	FP           int     `json:"false_positives"`
	TN           int     `json:"true_negatives"`
	FN           int     `json:"false_negatives"`
	TotalSamples int     `json:"total_samples"`
}

// NewWriter creates a ClickHouse HTTP writer.
func NewWriter(cfg Config) (*Writer, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("clickhouse URL is empty")
	}
	if cfg.Database == "" {
		cfg.Database = "default"
	}
	if cfg.Table == "" {
		cfg.Table = "model_performance"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	q := fmt.Sprintf("INSERT INTO %s.%s FORMAT JSONEachRow", quoteIdent(cfg.Database), quoteIdent(cfg.Table))
	base := strings.TrimRight(cfg.URL, "/")
	endpoint := base + "/?query=" + url.QueryEscape(q)

	headers := map[string]string{}
	for k, v := range cfg.Headers {
		headers[k] = v
	}
	if cfg.Username != "" {
		headers["X-ClickHouse-User"] = cfg.Username
	}
	if cfg.Password != "" {
		headers["X-ClickHouse-Key"] = cfg.Password
	}

	return &Writer{
		endpoint: endpoint,
		headers:  headers,
		client:   &http.Client{Timeout: timeout},
	}, nil
}

// WriteRecords sends a batch of ledger records.
func (w *Writer) WriteRecords(records []*models.PerformanceRecord) error {
	if len(records) == 0 {
		return nil
	}

	var body bytes.Buffer
	enc := json.NewEncoder(&body)
	for _, rec := range records {
		row := ledgerRow{
			Cycle:        rec.Cycle,
			Timestamp:    rec.Timestamp.UTC().Format(time.RFC3339),
			Accuracy:     rec.Metrics.Accuracy,
			Precision:    rec.Metrics.Precision,
			Recall:       rec.Metrics.Recall,
			F1:           rec.Metrics.F1,
			TP:           rec.Metrics.TruePositives,
			FP:           rec.Metrics.FalsePositives,
			TN:           rec.Metrics.TrueNegatives,
			FN:           rec.Metrics.FalseNegatives,
			TotalSamples: rec.Metrics.TotalSamples,
		}
		if err := enc.Encode(row); err != nil {
			return fmt.Errorf("failed to marshal ledger row: %w", err)
		}
	}

	req, err := http.NewRequest(http.MethodPost, w.endpoint, &body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("clickhouse request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode >= 300 {
		return fmt.Errorf("clickhouse request failed with status %s: %s", resp.Status, strings.TrimSpace(string(respBody)))
	}
	return nil
}

// Close releases resources.
func (w *Writer) Close() error {
	return nil
}

func quoteIdent(v string) string {
	if v == "" {
		return ""
	}
	v = strings.ReplaceAll(v, "`", "")
	return "`" + v + "`"
}
