// Package retrain runs one refit-and-evaluate pass of the detection model
// per external trigger, merging the static base dataset with accumulated
// traffic and recording the outcome in the performance ledger.
package retrain

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"flowsentry/internal/accumstore"
	"flowsentry/internal/detector"
	"flowsentry/internal/logger"
	"flowsentry/internal/modelstore"
	"flowsentry/internal/perftrack"
	"flowsentry/internal/poisoning"
	"flowsentry/pkg/models"
)

// State is the orchestrator's cycle phase.
type State int32

const (
	StateIdle State = iota
	StateTraining
	StateEvaluating
)

func (s State) String() string {
	switch s {
	case StateTraining:
		return "training"
	case StateEvaluating:
		return "evaluating"
	default:
		return "idle"
	}
}

// Outcome describes what one trigger did.
type Outcome int

const (
	// OutcomeCompleted means a new model was trained, evaluated and committed.
	OutcomeCompleted Outcome = iota
	// OutcomeSkipped means the accumulation guard was not met.
	OutcomeSkipped
	// OutcomeDropped means another cycle was already in flight.
	OutcomeDropped
	// OutcomeFailed means the cycle aborted; nothing was mutated.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeDropped:
		return "dropped"
	default:
		return "failed"
	}
}

// CycleConfig is the per-cycle configuration snapshot, re-read at each
// trigger so thresholds and poisoning directives hot-reload.
type CycleConfig struct {
	MinSamples int
	Thresholds models.Thresholds
	Poisoning  models.PoisoningConfig
}

// ConfigProvider returns a fresh config snapshot for one cycle.
type ConfigProvider func() CycleConfig

// Hooks are optional observation points for metrics.
type Hooks struct {
	OnOutcome func(Outcome)
	OnMetrics func(models.EvalMetrics)
}

// Orchestrator owns the current detection model. It is the single writer;
// scorers read the model through CurrentModel.
type Orchestrator struct {
	mu      sync.Mutex // held for the whole cycle; concurrent triggers are dropped
	phase   atomic.Int32
	current atomic.Pointer[models.DetectionModel]
	cycles  atomic.Int64 // completed retraining cycles

	base     []*models.FlowRecord
	store    *accumstore.Store
	machine  *poisoning.Machine
	tracker  *perftrack.Tracker
	modelDir *modelstore.Store
	evalSet  []*models.FlowRecord
	provider ConfigProvider
	hooks    Hooks
	now      func() time.Time
}

// New creates an orchestrator. The evaluation set must be non-empty; it is
// fixed for the lifetime of the experiment.
func New(base []*models.FlowRecord, store *accumstore.Store, machine *poisoning.Machine,
	tracker *perftrack.Tracker, modelDir *modelstore.Store, evalSet []*models.FlowRecord,
	provider ConfigProvider, hooks Hooks) (*Orchestrator, error) {

	if len(evalSet) == 0 {
		return nil, errors.New("orchestrator requires a non-empty evaluation set")
	}
	o := &Orchestrator{
		base:     base,
		store:    store,
		machine:  machine,
		tracker:  tracker,
		modelDir: modelDir,
		evalSet:  evalSet,
		provider: provider,
		hooks:    hooks,
		now:      time.Now,
	}
	o.cycles.Store(int64(machine.State().CurrentRetrainCycle))

	if modelDir != nil {
		model, ok, err := modelDir.LoadLatest()
		if err != nil {
			return nil, err
		}
		if ok {
			o.current.Store(model)
			logger.Infof("Restored detection model %s trained at %s", model.ID, model.TrainedAt.Format(time.RFC3339))
		}
	}
	return o, nil
}

// CurrentModel returns the live model, or nil before the first training.
// The model is replaced wholesale, never mutated, so concurrent reads need
// no locking.
func (o *Orchestrator) CurrentModel() *models.DetectionModel {
	return o.current.Load()
}

// Phase returns the orchestrator's current cycle phase.
func (o *Orchestrator) Phase() State {
	return State(o.phase.Load())
}

// CompletedCycles returns the number of completed retraining cycles.
func (o *Orchestrator) CompletedCycles() int {
	return int(o.cycles.Load())
}

// Bootstrap fits an initial model from the base dataset alone so live
// scoring works before the first retraining cycle. It does not advance the
// cycle counter.
func (o *Orchestrator) Bootstrap() error {
	if o.CurrentModel() != nil {
		return nil
	}
	cfg := o.provider()
	model, err := detector.Fit(o.base, cfg.Thresholds, o.now())
	if err != nil {
		return fmt.Errorf("bootstrap initial model: %w", err)
	}
	if o.modelDir != nil {
		if err := o.modelDir.SaveCurrent(model); err != nil {
			return err
		}
	}
	o.current.Store(model)
	logger.Infof("Initial model trained: normal_rows=%d anomaly_rows=%d recall=%.4f",
		model.NormalRows, model.AnomalyRows, model.Training.Recall)
	return nil
}

// RunCycle attempts one retraining cycle. A trigger arriving while a cycle
// is in flight is dropped, not queued. Failures leave the current model,
// the ledger and the cycle counter untouched and are retried on the next
// trigger.
func (o *Orchestrator) RunCycle(ctx context.Context) (Outcome, error) {
	if !o.mu.TryLock() {
		logger.Warnf("Retraining trigger dropped: cycle already in flight")
		o.observe(OutcomeDropped)
		return OutcomeDropped, nil
	}
	defer o.mu.Unlock()
	defer o.phase.Store(int32(StateIdle))

	if err := ctx.Err(); err != nil {
		return OutcomeFailed, err
	}

	cfg := o.provider()
	if _, err := o.machine.Reconfigure(cfg.Poisoning); err != nil {
		// Fail-safe: the machine already treated itself as disabled.
		logger.Errorf("Poisoning config rejected: %v", err)
	}

	accumulated := o.store.SnapshotAll()
	if len(accumulated) < cfg.MinSamples {
		logger.Infof("Retraining skipped: accumulated=%d min_samples=%d", len(accumulated), cfg.MinSamples)
		o.observe(OutcomeSkipped)
		return OutcomeSkipped, nil
	}

	cycle := int(o.cycles.Load()) + 1
	// The ledger can be ahead of the counter after a crash between the row
	// append and the counter advance. Resume after the last recorded cycle
	// instead of colliding with it on every trigger.
	if last := o.tracker.LastCycle(); last >= cycle {
		logger.Warnf("Ledger is ahead of the cycle counter (ledger=%d counter=%d); resuming at cycle %d",
			last, cycle-1, last+1)
		cycle = last + 1
	}
	logger.Infof("Retraining cycle %d: base=%d accumulated=%d", cycle, len(o.base), len(accumulated))

	o.phase.Store(int32(StateTraining))
	merged := make([]*models.FlowRecord, 0, len(o.base)+len(accumulated))
	merged = append(merged, o.base...)
	merged = append(merged, accumulated...)

	prior := o.CurrentModel()
	if o.modelDir != nil && prior != nil {
		if err := o.modelDir.Backup(prior, cycle, o.now()); err != nil {
			o.observe(OutcomeFailed)
			return OutcomeFailed, fmt.Errorf("cycle %d backup: %w", cycle, err)
		}
	}

	model, err := detector.Fit(merged, cfg.Thresholds, o.now())
	if err != nil {
		o.observe(OutcomeFailed)
		return OutcomeFailed, fmt.Errorf("cycle %d training: %w", cycle, err)
	}

	o.phase.Store(int32(StateEvaluating))
	metrics := detector.Evaluate(model, o.evalSet)
	if err := o.tracker.Record(cycle, metrics, o.now()); err != nil {
		o.observe(OutcomeFailed)
		return OutcomeFailed, fmt.Errorf("cycle %d evaluation: %w", cycle, err)
	}

	if o.modelDir != nil {
		if err := o.modelDir.SaveCurrent(model); err != nil {
			o.observe(OutcomeFailed)
			return OutcomeFailed, fmt.Errorf("cycle %d commit: %w", cycle, err)
		}
	}
	o.current.Store(model)
	o.cycles.Store(int64(cycle))

	state, err := o.machine.CompleteCycle(cfg.Poisoning)
	if err != nil {
		logger.Errorf("Poisoning config rejected at cycle boundary: %v", err)
	}

	logger.Infof("Retraining cycle %d completed: accuracy=%.4f precision=%.4f recall=%.4f f1=%.4f poisoning_active=%v",
		cycle, metrics.Accuracy, metrics.Precision, metrics.Recall, metrics.F1, state.IsActive)

	if o.hooks.OnMetrics != nil {
		o.hooks.OnMetrics(metrics)
	}
	o.observe(OutcomeCompleted)
	return OutcomeCompleted, nil
}

func (o *Orchestrator) observe(out Outcome) {
	if o.hooks.OnOutcome != nil {
		o.hooks.OnOutcome(out)
	}
}
