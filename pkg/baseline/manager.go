// Package baseline owns the learned model of normal outbound traffic: a
// one-way learning→protection state machine over keyed traffic patterns,
// persisted as a single encrypted snapshot.
package baseline

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/imanology1/securus-agent/pkg/event"
	"github.com/imanology1/securus-agent/pkg/logging"
	"github.com/imanology1/securus-agent/pkg/store"
)

const snapshotKey = "baseline.snapshot.v1"

// DefaultSnapshotEvery is the learning-event cadence for persisting the
// snapshot.
const DefaultSnapshotEvery = 50

// Phase is the manager's lifecycle phase.
type Phase int

const (
	PhaseLearning Phase = iota
	PhaseProtection
)

func (p Phase) String() string {
	if p == PhaseProtection {
		return "protection"
	}
	return "learning"
}

// Key identifies a traffic pattern. Equality is conjunctive over all three
// fields.
type Key struct {
	DomainHash string         `json:"domain_hash"`
	Port       int            `json:"port"`
	Protocol   event.Protocol `json:"protocol"`
}

// KeyOf extracts the pattern key from a network event.
func KeyOf(e event.NetworkEvent) Key {
	return Key{DomainHash: e.DomainHash, Port: e.Port, Protocol: e.Protocol}
}

// Entry is one learned "known good" pattern.
type Entry struct {
	Key   Key    `json:"key"`
	Count uint64 `json:"count"`
}

// Snapshot is the persisted unit: everything needed to restore the manager
// and rebuild the scoring engine's statistics.
type Snapshot struct {
	Phase             Phase       `json:"phase"`
	Entries           []Entry     `json:"entries"`
	Vectors           [][]float64 `json:"vectors"`
	LearningStartedAt time.Time   `json:"learning_started_at"`
	SavedAt           time.Time   `json:"saved_at"`
}

// Trainer receives the collected feature vectors when the baseline freezes
// or is restored in protection phase. *scoring.Engine satisfies it.
type Trainer interface {
	UpdateBaseline(observations [][]float64) error
}

// Manager runs the learning→protection state machine. All state transitions
// and entry mutations are serialized behind one mutex, so concurrent
// RecordEvent calls cannot race an entry or the phase.
type Manager struct {
	mu            sync.Mutex
	phase         Phase
	entries       map[Key]uint64
	vectors       [][]float64
	totalObserved uint64
	startedAt     time.Time

	learningPeriod time.Duration
	snapshotEvery  int

	st      store.Store
	trainer Trainer
	log     *logging.Logger
	now     func() time.Time
}

// Option tweaks manager construction.
type Option func(*Manager)

// WithSnapshotEvery overrides the persistence cadence.
func WithSnapshotEvery(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.snapshotEvery = n
		}
	}
}

// WithClock injects a time source for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager restores any persisted snapshot and returns a ready manager.
// A missing or unreadable snapshot is not an error: the manager starts a
// fresh learning phase. When a protection-phase snapshot is restored, its
// vectors are handed to the trainer immediately.
func NewManager(st store.Store, trainer Trainer, learningPeriod time.Duration, log *logging.Logger, opts ...Option) *Manager {
	if log == nil {
		log = logging.Nop()
	}
	m := &Manager{
		phase:          PhaseLearning,
		entries:        make(map[Key]uint64),
		learningPeriod: learningPeriod,
		snapshotEvery:  DefaultSnapshotEvery,
		st:             st,
		trainer:        trainer,
		log:            log.Named("baseline"),
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.restore()
	if m.startedAt.IsZero() {
		m.startedAt = m.now()
	}
	return m
}

func (m *Manager) restore() {
	raw, err := m.st.Get(snapshotKey)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			m.log.Warn("snapshot unreadable, starting fresh", zap.Error(err))
		}
		return
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		m.log.Warn("snapshot corrupt, starting fresh", zap.Error(err))
		return
	}
	m.phase = snap.Phase
	m.startedAt = snap.LearningStartedAt
	m.vectors = snap.Vectors
	for _, e := range snap.Entries {
		m.entries[e.Key] = e.Count
		m.totalObserved += e.Count
	}
	m.log.Info("snapshot restored",
		zap.String("phase", m.phase.String()),
		zap.Int("entries", len(m.entries)),
		zap.Int("vectors", len(m.vectors)))
	if m.phase == PhaseProtection && m.trainer != nil && len(m.vectors) > 0 {
		if err := m.trainer.UpdateBaseline(m.vectors); err != nil {
			m.log.Warn("restored baseline rejected by scorer", zap.Error(err))
		}
	}
}

// Phase returns the current phase.
func (m *Manager) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// TotalEventsObserved returns how many events were accepted into the
// baseline.
func (m *Manager) TotalEventsObserved() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totalObserved
}

// EntryCount returns the number of distinct learned patterns.
func (m *Manager) EntryCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// RecordEvent feeds one observed event into the learning phase. It returns
// true only when the event was accepted into the baseline. The call that
// first finds the learning window elapsed performs the one-way transition
// to protection and returns false for that event; during protection the
// call is a no-op.
func (m *Manager) RecordEvent(e event.NetworkEvent) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.phase == PhaseProtection {
		return false
	}
	if m.now().Sub(m.startedAt) >= m.learningPeriod {
		m.freezeLocked()
		return false
	}

	m.entries[KeyOf(e)]++
	m.totalObserved++
	m.vectors = append(m.vectors, e.FeatureVector())
	if m.snapshotEvery > 0 && m.totalObserved%uint64(m.snapshotEvery) == 0 {
		m.persistLocked()
	}
	return true
}

// freezeLocked transitions to protection, trains the scorer from the
// collected vectors and persists the final snapshot. Caller holds m.mu.
func (m *Manager) freezeLocked() {
	m.phase = PhaseProtection
	m.log.Info("learning complete, entering protection",
		zap.Uint64("events", m.totalObserved),
		zap.Int("entries", len(m.entries)))
	if m.trainer != nil && len(m.vectors) > 0 {
		if err := m.trainer.UpdateBaseline(m.vectors); err != nil {
			m.log.Warn("scorer rejected baseline", zap.Error(err))
		}
	}
	m.persistLocked()
}

// IsKnown reports whether the exact (domain-hash, port, protocol) key was
// learned. Valid in either phase.
func (m *Manager) IsKnown(e event.NetworkEvent) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entries[KeyOf(e)]
	return ok
}

// Vectors returns a copy of the collected feature vectors.
func (m *Manager) Vectors() [][]float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]float64, len(m.vectors))
	copy(out, m.vectors)
	return out
}

// Reset discards all learned state and restarts the learning phase.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.phase = PhaseLearning
	m.entries = make(map[Key]uint64)
	m.vectors = nil
	m.totalObserved = 0
	m.startedAt = m.now()
	if err := m.st.Delete(snapshotKey); err != nil {
		m.log.Warn("snapshot delete failed", zap.Error(err))
	}
	m.log.Info("baseline reset")
}

// Persist writes the current snapshot immediately.
func (m *Manager) Persist() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.persistLocked()
}

func (m *Manager) persistLocked() {
	snap := Snapshot{
		Phase:             m.phase,
		Entries:           make([]Entry, 0, len(m.entries)),
		Vectors:           m.vectors,
		LearningStartedAt: m.startedAt,
		SavedAt:           m.now(),
	}
	for k, c := range m.entries {
		snap.Entries = append(snap.Entries, Entry{Key: k, Count: c})
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		m.log.Warn("snapshot encode failed", zap.Error(err))
		return
	}
	if err := m.st.Set(snapshotKey, raw); err != nil {
		// Storage failure is logged and absorbed; detection continues on
		// the in-memory state.
		m.log.Warn("snapshot write failed", zap.Error(err))
	}
}

// Elapsed returns how long the current learning phase has been running.
func (m *Manager) Elapsed() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now().Sub(m.startedAt)
}

// Describe summarizes the manager for logs.
func (m *Manager) Describe() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fmt.Sprintf("phase=%s entries=%d events=%d", m.phase, len(m.entries), m.totalObserved)
}
