// Package evalset manages the fixed held-out evaluation set: created once at
// bootstrap, excluded from all training corpora, read-only thereafter.
package evalset

import (
	"errors"
	"fmt"
	"math/rand"
	"os"
	"strconv"
	"strings"

	"flowsentry/internal/dataset"
	"flowsentry/internal/logger"
	"flowsentry/pkg/models"
)

// ErrStaleEvaluationSet indicates the evaluation set is missing or empty.
// Fatal at bootstrap: without it no performance row is meaningful.
var ErrStaleEvaluationSet = errors.New("evaluation set missing or empty")

// Bootstrap returns the fixed evaluation set and the training remainder of
// the base corpus. The set is created from the base corpus on first run and
// loaded unchanged on later runs; in both cases every base row whose content
// matches a held-out sample is subtracted from the returned training slice,
// so evaluation rows never reach a training corpus.
func Bootstrap(path string, base []*models.FlowRecord, size int, seed int64) ([]*models.FlowRecord, []*models.FlowRecord, error) {
	if _, err := os.Stat(path); err == nil {
		set, err := Load(path)
		if err != nil {
			return nil, nil, err
		}
		return set, subtract(base, set), nil
	}

	if size <= 0 {
		size = 500
	}
	var normals, anomalies []*models.FlowRecord
	for _, rec := range base {
		if rec == nil {
			continue
		}
		if rec.Label == 0 {
			normals = append(normals, rec)
		} else {
			anomalies = append(anomalies, rec)
		}
	}
	if len(normals) == 0 && len(anomalies) == 0 {
		return nil, nil, fmt.Errorf("bootstrap from empty base corpus: %w", ErrStaleEvaluationSet)
	}

	// 80/20 normal/anomaly split, fixed seed for reproducibility.
	rng := rand.New(rand.NewSource(seed))
	wantNormal := min(size*8/10, len(normals))
	wantAnomaly := min(size-wantNormal, len(anomalies))

	set := make([]*models.FlowRecord, 0, wantNormal+wantAnomaly)
	set = append(set, sample(rng, normals, wantNormal)...)
	set = append(set, sample(rng, anomalies, wantAnomaly)...)
	rng.Shuffle(len(set), func(i, j int) { set[i], set[j] = set[j], set[i] })

	if len(set) == 0 {
		return nil, nil, ErrStaleEvaluationSet
	}
	if err := dataset.Save(path, set); err != nil {
		return nil, nil, fmt.Errorf("persist evaluation set: %w", err)
	}
	logger.Infof("Evaluation set created: path=%s samples=%d normal=%d anomaly=%d",
		path, len(set), wantNormal, wantAnomaly)
	return set, subtract(base, set), nil
}

// Load reads a previously created evaluation set.
func Load(path string) ([]*models.FlowRecord, error) {
	records, err := dataset.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load evaluation set: %w: %v", ErrStaleEvaluationSet, err)
	}
	if len(records) == 0 {
		return nil, ErrStaleEvaluationSet
	}
	return records, nil
}

func sample(rng *rand.Rand, pool []*models.FlowRecord, n int) []*models.FlowRecord {
	if n >= len(pool) {
		out := make([]*models.FlowRecord, len(pool))
		copy(out, pool)
		return out
	}
	idx := rng.Perm(len(pool))[:n]
	out := make([]*models.FlowRecord, 0, n)
	for _, i := range idx {
		out = append(out, pool[i])
	}
	return out
}

func subtract(base, set []*models.FlowRecord) []*models.FlowRecord {
	held := make(map[string]struct{}, len(set))
	for _, rec := range set {
		held[fingerprint(rec)] = struct{}{}
	}
	out := make([]*models.FlowRecord, 0, len(base))
	for _, rec := range base {
		if rec == nil {
			continue
		}
		if _, ok := held[fingerprint(rec)]; ok {
			continue
		}
		out = append(out, rec)
	}
	return out
}

// fingerprint keys a record by its CSV round-trip form: FormatFloat 'g' is
// what dataset.Save writes, so a reloaded evaluation row keys identically to
// the in-memory base row it was sampled from.
func fingerprint(rec *models.FlowRecord) string {
	var b strings.Builder
	for _, name := range models.FeatureNames {
		b.WriteString(strconv.FormatFloat(rec.Feature(name), 'g', -1, 64))
		b.WriteByte(',')
	}
	b.WriteString(strconv.Itoa(rec.Label))
	b.WriteByte(',')
	b.WriteString(rec.AttackCategory)
	return b.String()
}
