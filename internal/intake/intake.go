// Package intake is the label-aware boundary between the traffic stream and
// persistent accumulation: the one place where the poisoning verdict is
// applied, exactly once per record, before persistence.
package intake

import (
	"time"

	"flowsentry/internal/accumstore"
	"flowsentry/internal/logger"
	"flowsentry/internal/poisoning"
	"flowsentry/pkg/models"
)

// Intake applies poisoning verdicts and forwards batches to the
// accumulation store.
type Intake struct {
	machine *poisoning.Machine
	store   *accumstore.Store
	now     func() time.Time

	onPoisoned func(n int)
}

// New creates an intake stage. onPoisoned is an optional hook for metrics.
func New(machine *poisoning.Machine, store *accumstore.Store, onPoisoned func(n int)) *Intake {
	return &Intake{
		machine:    machine,
		store:      store,
		now:        time.Now,
		onPoisoned: onPoisoned,
	}
}

// Ingest processes one batch: label-1 records drawing a poison verdict are
// replaced by label-flipped copies (features untouched), everything else
// passes through unchanged, and the batch is persisted as one accumulation
// partition. Returns the stored batch and the number of poisoned records.
func (in *Intake) Ingest(records []*models.FlowRecord) ([]*models.FlowRecord, int, error) {
	if len(records) == 0 {
		return nil, 0, nil
	}

	out := make([]*models.FlowRecord, 0, len(records))
	poisoned := 0
	for _, rec := range records {
		if rec == nil {
			continue
		}
		if rec.Label == 1 && in.machine != nil && in.machine.Verdict(rec) {
			out = append(out, rec.Flipped())
			poisoned++
			continue
		}
		out = append(out, rec)
	}

	if poisoned > 0 {
		in.machine.RecordPoisoned(poisoned)
		if in.onPoisoned != nil {
			in.onPoisoned(poisoned)
		}
		logger.Debugf("Intake poisoned %d of %d records", poisoned, len(records))
	}

	if _, err := in.store.Append(out, in.now()); err != nil {
		return nil, poisoned, err
	}
	return out, poisoned, nil
}
