// Package phase models a long-running process as an ordered list of named
// phases driven by a progress counter in [0, 100].
//
// The machine owns no tick timer; callers feed it deltas through Tick (see the
// monitor package). The only timer it arms is the one-shot cooldown that moves
// a completed run into the continuous phase.
package phase

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/loiht2/assistant-runtime/backend/clock"
	"github.com/loiht2/assistant-runtime/backend/metrics"
	"github.com/loiht2/assistant-runtime/backend/models"
)

// Status texts and labels written to the status record
const (
	StatusIdle         = "idle"
	StatusInitializing = "initializing"
	StatusComplete     = "Training complete"
	StatusStopped      = "stopped"
	StatusContinuous   = "Learning from new data"

	PhaseNotStarted = "Not started"
	PhaseContinuous = "Continuous learning"
)

// DefaultCooldown is the delay between completion and the continuous phase
const DefaultCooldown = 5 * time.Second

// Persister receives every state change
type Persister interface {
	Write(ctx context.Context, id string, rec models.StatusRecord) error
}

// Options configures a Machine. Zero values fall back to defaults.
type Options struct {
	Phases   []string
	Cooldown time.Duration
	Clock    clock.Clock
	Metrics  *metrics.Metrics
}

// Machine is the phase state machine for one process id
type Machine struct {
	id       string
	phases   []string
	store    Persister
	clock    clock.Clock
	cooldown time.Duration
	metrics  *metrics.Metrics

	mu         sync.Mutex
	progress   float64
	phaseIndex int
	running    bool
	label      string
	status     string
	updatedAt  time.Time

	// generation is bumped by Start so a cooldown armed by an earlier run
	// cannot fire into a newer one
	generation uint64
	cooldownT  clock.Timer
}

// NewMachine creates an idle machine for id
func NewMachine(id string, store Persister, opts Options) *Machine {
	phases := opts.Phases
	if len(phases) == 0 {
		phases = []string{"Processing"}
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = DefaultCooldown
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	return &Machine{
		id:        id,
		phases:    append([]string(nil), phases...),
		store:     store,
		clock:     opts.Clock,
		cooldown:  opts.Cooldown,
		metrics:   opts.Metrics,
		label:     PhaseNotStarted,
		status:    StatusIdle,
		updatedAt: opts.Clock.Now().UTC(),
	}
}

// ID returns the process id
func (m *Machine) ID() string {
	return m.id
}

// Phases returns a copy of the phase table
func (m *Machine) Phases() []string {
	return append([]string(nil), m.phases...)
}

// Index maps progress to a phase index for a table of n phases
func Index(progress float64, n int) int {
	if n <= 1 || progress <= 0 {
		return 0
	}
	width := 100 / float64(n)
	idx := int(math.Floor(progress / width))
	if idx > n-1 {
		idx = n - 1
	}
	return idx
}

// State returns the current record without persisting anything
func (m *Machine) State() models.StatusRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recordLocked()
}

// Running reports whether the machine is accepting ticks
func (m *Machine) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Start begins a new run. Starting a running machine is a no-op; started
// reports whether a new run began.
func (m *Machine) Start(ctx context.Context) (rec models.StatusRecord, started bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return m.recordLocked(), false
	}

	m.generation++
	if m.cooldownT != nil {
		m.cooldownT.Stop()
		m.cooldownT = nil
	}

	m.progress = 0
	m.phaseIndex = 0
	m.running = true
	m.label = m.phases[0]
	m.status = StatusInitializing

	log.Info().Str("process", m.id).Msg("Phase machine started")
	m.metrics.PhaseEntered(m.id, m.label)
	return m.persistLocked(ctx), true
}

// Tick advances progress by delta. Ticks on a stopped machine are ignored.
func (m *Machine) Tick(ctx context.Context, delta float64) models.StatusRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return m.recordLocked()
	}
	if delta < 0 || math.IsNaN(delta) {
		delta = 0
	}

	m.progress = math.Min(100, m.progress+delta)

	if idx := Index(m.progress, len(m.phases)); idx != m.phaseIndex {
		m.phaseIndex = idx
		m.label = m.phases[idx]
		m.status = fmt.Sprintf("Processing %s", m.label)
		m.metrics.PhaseEntered(m.id, m.label)
		log.Debug().Str("process", m.id).Str("phase", m.label).Float64("progress", m.progress).Msg("Phase changed")
	}

	if m.progress >= 100 {
		m.running = false
		m.phaseIndex = len(m.phases) - 1
		m.label = m.phases[m.phaseIndex]
		m.status = StatusComplete
		m.armCooldownLocked()
		log.Info().Str("process", m.id).Msg("Phase machine completed")
	}

	return m.persistLocked(ctx)
}

// Stop halts a running machine and keeps its progress. stopped reports
// whether the machine was running.
func (m *Machine) Stop(ctx context.Context) (rec models.StatusRecord, stopped bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return m.recordLocked(), false
	}

	m.running = false
	m.status = StatusStopped
	log.Info().Str("process", m.id).Float64("progress", m.progress).Msg("Phase machine stopped")
	return m.persistLocked(ctx), true
}

// Restore rebuilds state from a persisted record. A completed run that never
// reached the continuous phase has its cooldown armed again.
func (m *Machine) Restore(rec *models.StatusRecord) {
	if rec == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.progress = math.Max(0, math.Min(100, rec.Progress))
	m.phaseIndex = Index(m.progress, len(m.phases))
	m.running = rec.Running && m.progress < 100
	m.label = rec.Phase
	m.status = rec.Status
	m.updatedAt = rec.UpdatedAt

	if m.progress >= 100 && m.label != PhaseContinuous {
		m.phaseIndex = len(m.phases) - 1
		m.armCooldownLocked()
	}
	m.metrics.SetProgress(m.id, m.progress)
}

// CooldownPending reports whether the continuous transition is armed
func (m *Machine) CooldownPending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cooldownT != nil
}

func (m *Machine) armCooldownLocked() {
	if m.cooldownT != nil {
		m.cooldownT.Stop()
	}
	gen := m.generation
	m.cooldownT = m.clock.AfterFunc(m.cooldown, func() {
		m.enterContinuous(gen)
	})
}

func (m *Machine) enterContinuous(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.generation || m.running || m.progress < 100 {
		return
	}
	m.cooldownT = nil
	m.label = PhaseContinuous
	m.status = StatusContinuous
	m.metrics.PhaseEntered(m.id, m.label)
	log.Info().Str("process", m.id).Msg("Entered continuous phase")
	m.persistLocked(context.Background())
}

func (m *Machine) recordLocked() models.StatusRecord {
	return models.StatusRecord{
		ID:        m.id,
		Progress:  m.progress,
		Phase:     m.label,
		Status:    m.status,
		Running:   m.running,
		UpdatedAt: m.updatedAt,
	}
}

// persistLocked stamps and writes the current state. Store failures are
// logged by the store and do not change the machine.
func (m *Machine) persistLocked(ctx context.Context) models.StatusRecord {
	m.updatedAt = m.clock.Now().UTC()
	rec := m.recordLocked()
	m.metrics.SetProgress(m.id, m.progress)
	if m.store != nil {
		if err := m.store.Write(ctx, m.id, rec); err != nil {
			log.Warn().Err(err).Str("process", m.id).Msg("Status not persisted")
		}
	}
	return rec
}
