// Package poisoning implements the label-flipping control state machine: a
// pure decision over (config snapshot, prior state) that gates when and how
// often anomalous training samples are relabeled as normal.
package poisoning

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"flowsentry/internal/logger"
	"flowsentry/pkg/models"
)

// ErrUnsupportedStrategy indicates an unknown poisoning strategy was
// configured. The machine fails safe to inactive rather than corrupting data
// with an unknown method.
var ErrUnsupportedStrategy = errors.New("unsupported poisoning strategy")

// Store persists PoisoningState across process restarts.
type Store interface {
	Load() (models.PoisoningState, bool, error)
	Save(models.PoisoningState) error
}

// Machine owns the poisoning state. Activation is re-derived at cycle
// boundaries only, so training corpora stay stable within a cycle.
type Machine struct {
	mu    sync.Mutex
	state models.PoisoningState
	cfg   models.PoisoningConfig
	rng   *rand.Rand
	store Store
	now   func() time.Time
}

// NewMachine creates a machine, restoring persisted state when available.
func NewMachine(store Store, seed int64) (*Machine, error) {
	m := &Machine{
		rng:   rand.New(rand.NewSource(seed)),
		store: store,
		now:   time.Now,
	}
	if store != nil {
		state, ok, err := store.Load()
		if err != nil {
			return nil, fmt.Errorf("restore poisoning state: %w", err)
		}
		if ok {
			m.state = state
		}
	}
	return m, nil
}

// Reconfigure applies a fresh config snapshot and re-derives activation
// without advancing the cycle counter. Used at bootstrap and at the start of
// each cycle (hot reload).
func (m *Machine) Reconfigure(cfg models.PoisoningConfig) (models.PoisoningState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.apply(cfg)
}

// CompleteCycle advances the retraining cycle counter by exactly one and
// re-derives activation for the next cycle.
func (m *Machine) CompleteCycle(cfg models.PoisoningConfig) (models.PoisoningState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.CurrentRetrainCycle++
	return m.apply(cfg)
}

// apply recomputes activation under the invariant: is_active iff enabled
// and cycle >= trigger. Caller holds the lock.
func (m *Machine) apply(cfg models.PoisoningConfig) (models.PoisoningState, error) {
	var strategyErr error
	enabled := cfg.Enabled
	if cfg.Strategy != "" && cfg.Strategy != models.StrategyLabelFlip {
		strategyErr = fmt.Errorf("strategy %q: %w", cfg.Strategy, ErrUnsupportedStrategy)
		enabled = false
	}

	wasActive := m.state.IsActive
	m.state.IsActive = enabled && m.state.CurrentRetrainCycle >= cfg.TriggerAfterRetrain

	if m.state.IsActive && !wasActive {
		if !m.state.StartedAtCycleSet {
			m.state.StartedAtCycle = m.state.CurrentRetrainCycle
			m.state.StartedAtCycleSet = true
		}
		logger.Infof("Poisoning activated: cycle=%d rate=%.1f%% strategy=%s",
			m.state.CurrentRetrainCycle, cfg.PoisonRate, models.StrategyLabelFlip)
	}
	if !m.state.IsActive && wasActive {
		// History (started_at_cycle, total_poisoned_samples) is retained.
		logger.Infof("Poisoning deactivated: cycle=%d", m.state.CurrentRetrainCycle)
	}

	m.cfg = cfg
	m.state.LastUpdated = m.now()
	m.persist()
	return m.state, strategyErr
}

// Verdict decides whether one record should be poisoned. Only label-1
// records are candidates; each draws independently at poison_rate percent.
func (m *Machine) Verdict(rec *models.FlowRecord) bool {
	if rec == nil || rec.Label != 1 {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.state.IsActive {
		return false
	}
	return m.rng.Float64()*100 < m.cfg.PoisonRate
}

// RecordPoisoned adds to the monotonic poisoned-sample counter.
func (m *Machine) RecordPoisoned(n int) {
	if n <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.TotalPoisonedSamples += int64(n)
	m.state.LastUpdated = m.now()
	m.persist()
}

// State returns a snapshot of the current state.
func (m *Machine) State() models.PoisoningState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Machine) persist() {
	if m.store == nil {
		return
	}
	if err := m.store.Save(m.state); err != nil {
		logger.Errorf("Failed to persist poisoning state: %v", err)
	}
}
