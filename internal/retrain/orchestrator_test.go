package retrain

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"flowsentry/internal/accumstore"
	"flowsentry/internal/modelstore"
	"flowsentry/internal/perftrack"
	"flowsentry/internal/poisoning"
	"flowsentry/pkg/models"
)

func normalFlow(sbytes float64) *models.FlowRecord {
	return &models.FlowRecord{
		Features:       map[string]float64{"sbytes": sbytes},
		Label:          0,
		AttackCategory: models.CategoryNormal,
	}
}

func anomalyFlow(sbytes float64) *models.FlowRecord {
	return &models.FlowRecord{
		Features:       map[string]float64{"sbytes": sbytes},
		Label:          1,
		AttackCategory: models.CategoryExfiltration,
	}
}

func baseCorpus() []*models.FlowRecord {
	out := make([]*models.FlowRecord, 0, 60)
	for i := 0; i < 60; i++ {
		out = append(out, normalFlow(100))
	}
	return out
}

func evalCorpus() []*models.FlowRecord {
	out := make([]*models.FlowRecord, 0, 25)
	for i := 0; i < 20; i++ {
		out = append(out, normalFlow(100))
	}
	for i := 0; i < 5; i++ {
		out = append(out, anomalyFlow(1e6))
	}
	return out
}

type fixture struct {
	orch    *Orchestrator
	store   *accumstore.Store
	machine *poisoning.Machine
	tracker *perftrack.Tracker
	ledger  string
	modelDb string
}

func newFixture(t *testing.T, cfg CycleConfig) *fixture {
	t.Helper()
	dir := t.TempDir()

	store, err := accumstore.NewStore("")
	if err != nil {
		t.Fatalf("new accumstore: %v", err)
	}
	machine, err := poisoning.NewMachine(nil, 1)
	if err != nil {
		t.Fatalf("new machine: %v", err)
	}
	ledgerPath := filepath.Join(dir, "performance_over_time.csv")
	tracker, err := perftrack.NewTracker(ledgerPath, nil)
	if err != nil {
		t.Fatalf("new tracker: %v", err)
	}
	modelDir := filepath.Join(dir, "models")
	modelDb, err := modelstore.NewStore(modelDir)
	if err != nil {
		t.Fatalf("new modelstore: %v", err)
	}

	orch, err := New(baseCorpus(), store, machine, tracker, modelDb, evalCorpus(),
		func() CycleConfig { return cfg }, Hooks{})
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	return &fixture{orch: orch, store: store, machine: machine, tracker: tracker, ledger: ledgerPath, modelDb: modelDir}
}

func cleanConfig() CycleConfig {
	return CycleConfig{
		MinSamples: 50,
		Thresholds: models.Thresholds{ZScore: 1.4, DetectionFrac: 0.10, AlertConfidence: 0.40},
		Poisoning:  models.PoisoningConfig{Strategy: models.StrategyLabelFlip},
	}
}

func TestRunCycleSkipsBelowMinSamples(t *testing.T) {
	f := newFixture(t, cleanConfig())
	if err := f.orch.Bootstrap(); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	before := f.orch.CurrentModel()

	// Only 10 of the required 50 samples have accumulated.
	if _, err := f.store.Append(evalCorpus()[:10], time.Now()); err != nil {
		t.Fatalf("append: %v", err)
	}

	outcome, err := f.orch.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if outcome != OutcomeSkipped {
		t.Fatalf("expected skip, got %s", outcome)
	}
	if f.orch.CompletedCycles() != 0 {
		t.Fatalf("skip advanced the cycle counter")
	}
	if f.orch.CurrentModel() != before {
		t.Fatalf("skip replaced the model")
	}
	rows, err := perftrack.LoadLedger(f.ledger)
	if err != nil {
		t.Fatalf("load ledger: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("skip wrote a ledger row")
	}
}

func TestRunCycleCompletesAndRecordsLedger(t *testing.T) {
	f := newFixture(t, cleanConfig())
	if err := f.orch.Bootstrap(); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	prior := f.orch.CurrentModel()

	accumulated := make([]*models.FlowRecord, 0, 60)
	for i := 0; i < 60; i++ {
		accumulated = append(accumulated, normalFlow(100))
	}
	if _, err := f.store.Append(accumulated, time.Now()); err != nil {
		t.Fatalf("append: %v", err)
	}

	outcome, err := f.orch.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if outcome != OutcomeCompleted {
		t.Fatalf("expected completion, got %s", outcome)
	}
	if f.orch.CompletedCycles() != 1 {
		t.Fatalf("expected 1 completed cycle, got %d", f.orch.CompletedCycles())
	}
	if f.orch.CurrentModel() == prior {
		t.Fatalf("completed cycle did not replace the model")
	}
	if got := f.machine.State().CurrentRetrainCycle; got != 1 {
		t.Fatalf("poisoning cycle counter not advanced: %d", got)
	}

	rows, err := perftrack.LoadLedger(f.ledger)
	if err != nil {
		t.Fatalf("load ledger: %v", err)
	}
	if len(rows) != 1 || rows[0].Cycle != 1 {
		t.Fatalf("expected ledger row for cycle 1, got %+v", rows)
	}
	if rows[0].Metrics.Recall != 1.0 {
		t.Fatalf("clean cycle should keep full recall, got %v", rows[0].Metrics.Recall)
	}

	backups, err := filepath.Glob(filepath.Join(f.modelDb, "model_before_retrain_1_*.json"))
	if err != nil || len(backups) != 1 {
		t.Fatalf("expected one cycle-1 backup, got %v (%v)", backups, err)
	}
}

func TestRunCyclePoisoningDegradesRecall(t *testing.T) {
	cfg := cleanConfig()
	cfg.Poisoning = models.PoisoningConfig{
		Enabled:             true,
		TriggerAfterRetrain: 0,
		PoisonRate:          100,
		Strategy:            models.StrategyLabelFlip,
	}
	f := newFixture(t, cfg)
	if err := f.orch.Bootstrap(); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	// Flipped anomalies: extreme feature values now wearing label 0, as the
	// intake stage would have stored them under active poisoning.
	flipped := make([]*models.FlowRecord, 0, 50)
	for i := 0; i < 50; i++ {
		flipped = append(flipped, normalFlow(1e6))
	}
	if _, err := f.store.Append(flipped, time.Now()); err != nil {
		t.Fatalf("append: %v", err)
	}

	outcome, err := f.orch.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if outcome != OutcomeCompleted {
		t.Fatalf("expected completion, got %s", outcome)
	}

	rows, err := perftrack.LoadLedger(f.ledger)
	if err != nil {
		t.Fatalf("load ledger: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 ledger row, got %d", len(rows))
	}
	// The widened baseline now covers the attack profile: recall collapses.
	if rows[0].Metrics.Recall >= 1.0 {
		t.Fatalf("poisoned baseline should lose recall, got %v", rows[0].Metrics.Recall)
	}
}

func TestRunCycleDropsConcurrentTrigger(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once

	f := newFixture(t, cleanConfig())
	f.orch.provider = func() CycleConfig {
		once.Do(func() {
			close(entered)
			<-release
		})
		return cleanConfig()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		f.orch.RunCycle(context.Background())
	}()

	<-entered
	outcome, err := f.orch.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("concurrent trigger errored: %v", err)
	}
	if outcome != OutcomeDropped {
		t.Fatalf("expected drop while cycle in flight, got %s", outcome)
	}

	close(release)
	<-done
}

func TestRunCycleFailureLeavesStateUntouched(t *testing.T) {
	f := newFixture(t, cleanConfig())
	if err := f.orch.Bootstrap(); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	prior := f.orch.CurrentModel()

	accumulated := make([]*models.FlowRecord, 0, 60)
	for i := 0; i < 60; i++ {
		accumulated = append(accumulated, normalFlow(100))
	}
	if _, err := f.store.Append(accumulated, time.Now()); err != nil {
		t.Fatalf("append: %v", err)
	}

	// Break the model directory so the pre-retrain backup cannot be written.
	if err := os.RemoveAll(f.modelDb); err != nil {
		t.Fatalf("remove model dir: %v", err)
	}
	if err := os.WriteFile(f.modelDb, []byte("not a directory"), 0644); err != nil {
		t.Fatalf("block model dir: %v", err)
	}

	outcome, err := f.orch.RunCycle(context.Background())
	if err == nil || outcome != OutcomeFailed {
		t.Fatalf("expected failed cycle, got %s (%v)", outcome, err)
	}
	if f.orch.CurrentModel() != prior {
		t.Fatalf("failed cycle replaced the model")
	}
	if f.orch.CompletedCycles() != 0 {
		t.Fatalf("failed cycle advanced the counter")
	}
	if got := f.machine.State().CurrentRetrainCycle; got != 0 {
		t.Fatalf("failed cycle advanced the poisoning counter: %d", got)
	}
	rows, err := perftrack.LoadLedger(f.ledger)
	if err != nil {
		t.Fatalf("load ledger: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("failed cycle wrote a ledger row")
	}
}

func TestRunCycleResumesAfterRecordedCycle(t *testing.T) {
	f := newFixture(t, cleanConfig())
	if err := f.orch.Bootstrap(); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	accumulated := make([]*models.FlowRecord, 0, 60)
	for i := 0; i < 60; i++ {
		accumulated = append(accumulated, normalFlow(100))
	}
	if _, err := f.store.Append(accumulated, time.Now()); err != nil {
		t.Fatalf("append: %v", err)
	}

	// A crash between the ledger append and the counter advance leaves a
	// cycle-1 row behind while the counter still reads 0.
	if err := f.tracker.Record(1, models.EvalMetrics{TotalSamples: 1}, time.Now()); err != nil {
		t.Fatalf("seed ledger: %v", err)
	}

	outcome, err := f.orch.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if outcome != OutcomeCompleted {
		t.Fatalf("stale ledger row blocked retraining: %s", outcome)
	}
	if f.orch.CompletedCycles() != 2 {
		t.Fatalf("expected counter to resume past the recorded cycle, got %d", f.orch.CompletedCycles())
	}

	rows, err := perftrack.LoadLedger(f.ledger)
	if err != nil {
		t.Fatalf("load ledger: %v", err)
	}
	if len(rows) != 2 || rows[0].Cycle != 1 || rows[1].Cycle != 2 {
		t.Fatalf("expected ledger rows for cycles 1 and 2, got %+v", rows)
	}

	// The next trigger keeps making progress.
	if _, err := f.store.Append(accumulated, time.Now()); err != nil {
		t.Fatalf("append: %v", err)
	}
	outcome, err = f.orch.RunCycle(context.Background())
	if err != nil || outcome != OutcomeCompleted {
		t.Fatalf("follow-up cycle did not complete: %s (%v)", outcome, err)
	}
	if f.orch.CompletedCycles() != 3 {
		t.Fatalf("expected 3 completed cycles, got %d", f.orch.CompletedCycles())
	}
}
