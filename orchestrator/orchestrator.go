// Package orchestrator wires the status store, phase machines, trading pool
// and scheduler together and exposes them as request-style operations.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/loiht2/assistant-runtime/backend/clock"
	"github.com/loiht2/assistant-runtime/backend/config"
	"github.com/loiht2/assistant-runtime/backend/metrics"
	"github.com/loiht2/assistant-runtime/backend/models"
	"github.com/loiht2/assistant-runtime/backend/monitor"
	"github.com/loiht2/assistant-runtime/backend/phase"
	"github.com/loiht2/assistant-runtime/backend/scheduler"
	"github.com/loiht2/assistant-runtime/backend/storage"
	"github.com/loiht2/assistant-runtime/backend/trading"
)

// ErrUnknownProcess is returned for a process id with no phase machine
var ErrUnknownProcess = errors.New("unknown process")

// Loop names registered with the monitor
const (
	jobsLoop    = "jobs"
	tradingLoop = "trading"
)

// Deps are the collaborators the orchestrator does not build itself
type Deps struct {
	Store    *storage.StatusStore
	Clock    clock.Clock
	Metrics  *metrics.Metrics
	Broker   trading.Broker
	Policy   trading.DecisionPolicy
	Progress phase.ProgressSource
	Archiver *storage.Archiver
}

// Orchestrator is the composition root
type Orchestrator struct {
	cfg       *config.Config
	store     *storage.StatusStore
	clock     clock.Clock
	monitor   *monitor.Monitor
	progress  phase.ProgressSource
	machines  map[string]*phase.Machine
	trading   *trading.Service
	scheduler *scheduler.Scheduler
	archiver  *storage.Archiver
}

// New builds every component from cfg and deps
func New(cfg *config.Config, deps Deps) *Orchestrator {
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.Progress == nil {
		deps.Progress = phase.NewRandomSource(cfg.Training.MaxDelta)
	}
	if deps.Broker == nil {
		deps.Broker = trading.NewBreakerBroker("paper-broker",
			trading.NewPaperBroker(trading.PaperConfig{Latency: cfg.Trading.Latency, Clock: deps.Clock}),
			cfg.Trading.Breaker)
	}
	if deps.Policy == nil {
		deps.Policy = trading.NewRandomPolicy(cfg.Trading.Pairs, 0)
	}

	o := &Orchestrator{
		cfg:      cfg,
		store:    deps.Store,
		clock:    deps.Clock,
		monitor:  monitor.New(deps.Clock),
		progress: deps.Progress,
		machines: make(map[string]*phase.Machine),
		archiver: deps.Archiver,
	}

	for _, id := range cfg.Training.Processes {
		o.machines[id] = phase.NewMachine(id, deps.Store, phase.Options{
			Phases:   cfg.Training.Phases,
			Cooldown: cfg.Training.Cooldown,
			Clock:    deps.Clock,
			Metrics:  deps.Metrics,
		})
	}

	o.trading = trading.NewService(trading.Options{
		Broker:         deps.Broker,
		Policy:         deps.Policy,
		Store:          deps.Store,
		Clock:          deps.Clock,
		Metrics:        deps.Metrics,
		Threshold:      cfg.Trading.ThresholdValue,
		MaxConcurrency: cfg.Trading.MaxConcurrency,
		UnitTimeout:    cfg.Trading.UnitTimeout,
		Pairs:          cfg.Trading.Pairs,
	})

	seeds := scheduler.DefaultSeeds()
	if deps.Archiver != nil {
		seeds = append(seeds, scheduler.Seed{ID: scheduler.StateBackupJobID, Name: "State Backup", Interval: cfg.Archive.Interval})
	}
	o.scheduler = scheduler.New(deps.Store, deps.Clock, deps.Metrics, seeds)
	o.registerJobs()

	return o
}

func (o *Orchestrator) registerJobs() {
	o.scheduler.Register(scheduler.TradingJobID, func(ctx context.Context) error {
		_, err := o.trading.Cycle(ctx)
		return err
	})
	o.scheduler.Register(scheduler.ModelPreloadJobID, o.keepWarm)
	if o.archiver != nil {
		o.scheduler.Register(scheduler.StateBackupJobID, func(ctx context.Context) error {
			_, err := o.archiver.Archive(ctx)
			return err
		})
	}
}

// keepWarm starts the default process when it is idle and has not finished
func (o *Orchestrator) keepWarm(ctx context.Context) error {
	id := o.DefaultProcess()
	m, ok := o.machines[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProcess, id)
	}
	st := m.State()
	if st.Running || st.Progress >= 100 {
		return nil
	}
	log.Info().Str("process", id).Msg("Preloading: resuming idle process")
	_, _, err := o.StartTraining(ctx, id)
	return err
}

// Start restores persisted state and begins the background loops
func (o *Orchestrator) Start(ctx context.Context) error {
	for _, ns := range []string{storage.NamespaceStatus, storage.NamespaceJobs, storage.NamespaceLedger} {
		if err := o.store.EnsureNamespace(ctx, ns); err != nil {
			return err
		}
	}

	for id, m := range o.machines {
		m.Restore(o.store.Read(ctx, id))
		if m.Running() {
			log.Info().Str("process", id).Float64("progress", m.State().Progress).Msg("Resuming process")
			o.runTicks(id, m)
		}
	}

	o.scheduler.Recover(ctx)

	o.monitor.Run(jobsLoop, o.cfg.Scheduler.CheckInterval, func(ctx context.Context) bool {
		o.scheduler.CheckAndRunDueJobs(ctx)
		return true
	})
	o.monitor.Run(tradingLoop, o.cfg.Trading.Interval, func(ctx context.Context) bool {
		if o.trading.AutoTrading() {
			if _, err := o.trading.Cycle(ctx); err != nil {
				log.Warn().Err(err).Msg("Trading cycle failed")
			}
		}
		return true
	})

	log.Info().Strs("processes", o.Processes()).Msg("Orchestrator started")
	return nil
}

// Shutdown stops every loop and waits for in-flight trades
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.monitor.Stop()
	if err := o.trading.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to drain trading pool: %w", err)
	}
	log.Info().Msg("Orchestrator stopped")
	return nil
}

// Processes lists the phase machine ids
func (o *Orchestrator) Processes() []string {
	ids := make([]string, 0, len(o.machines))
	for id := range o.machines {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// DefaultProcess is the id used when a request names none
func (o *Orchestrator) DefaultProcess() string {
	if len(o.cfg.Training.Processes) > 0 {
		return o.cfg.Training.Processes[0]
	}
	return "training"
}

func (o *Orchestrator) machine(id string) (*phase.Machine, error) {
	if id == "" {
		id = o.DefaultProcess()
	}
	m, ok := o.machines[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProcess, id)
	}
	return m, nil
}

// TrainingStatus returns the current state of a phase machine
func (o *Orchestrator) TrainingStatus(id string) (models.StatusRecord, error) {
	m, err := o.machine(id)
	if err != nil {
		return models.StatusRecord{}, err
	}
	return m.State(), nil
}

// StartTraining starts a phase machine and its tick loop. Starting a running
// machine returns its state with started false.
func (o *Orchestrator) StartTraining(ctx context.Context, id string) (models.StatusRecord, bool, error) {
	m, err := o.machine(id)
	if err != nil {
		return models.StatusRecord{}, false, err
	}
	rec, started := m.Start(ctx)
	if started {
		o.runTicks(m.ID(), m)
	}
	return rec, started, nil
}

// StopTraining stops a phase machine and cancels its tick loop
func (o *Orchestrator) StopTraining(ctx context.Context, id string) (models.StatusRecord, bool, error) {
	m, err := o.machine(id)
	if err != nil {
		return models.StatusRecord{}, false, err
	}
	rec, stopped := m.Stop(ctx)
	o.monitor.Cancel(tickLoop(m.ID()))
	return rec, stopped, nil
}

func (o *Orchestrator) runTicks(id string, m *phase.Machine) {
	o.monitor.Run(tickLoop(id), o.cfg.Training.TickInterval, func(ctx context.Context) bool {
		return m.Tick(ctx, o.progress.Next()).Running
	})
}

func tickLoop(id string) string {
	return "phase:" + id
}

// TickLoopActive reports whether a tick loop is running for id
func (o *Orchestrator) TickLoopActive(id string) bool {
	return o.monitor.Active(tickLoop(id))
}

// Jobs lists the scheduled jobs
func (o *Orchestrator) Jobs(ctx context.Context) []models.ScheduledJob {
	return o.scheduler.ListJobs(ctx)
}

// RunJob runs one scheduled job now
func (o *Orchestrator) RunJob(ctx context.Context, id string) (models.ScheduledJob, error) {
	return o.scheduler.RunJob(ctx, id)
}

// CheckJobs runs every due job
func (o *Orchestrator) CheckJobs(ctx context.Context) []string {
	return o.scheduler.CheckAndRunDueJobs(ctx)
}

// Trading returns the trading service
func (o *Orchestrator) Trading() *trading.Service {
	return o.trading
}

// Config returns the configuration the orchestrator was built with
func (o *Orchestrator) Config() *config.Config {
	return o.cfg
}
