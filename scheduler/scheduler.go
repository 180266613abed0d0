// Package scheduler keeps a durable list of periodic jobs and runs the ones
// that are due.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/loiht2/assistant-runtime/backend/clock"
	"github.com/loiht2/assistant-runtime/backend/metrics"
	"github.com/loiht2/assistant-runtime/backend/models"
)

// Seeded job ids
const (
	TradingJobID      = "trading-job"
	ModelPreloadJobID = "model-preload-job"
	StateBackupJobID  = "state-backup-job"
)

var (
	// ErrJobNotFound is returned for an unknown job id
	ErrJobNotFound = errors.New("job not found")
	// ErrJobRunning is returned when the job is already running
	ErrJobRunning = errors.New("job already running")
	// ErrNoAction is recorded when no action is registered for a job
	ErrNoAction = errors.New("no action registered")
	// ErrInvalidInterval is returned for a job whose interval is not positive
	ErrInvalidInterval = errors.New("job interval must be positive")
)

// Action is the work performed by one job run
type Action func(ctx context.Context) error

// JobStore persists the job list
type JobStore interface {
	LoadJobs(ctx context.Context) ([]models.ScheduledJob, bool)
	SaveJobs(ctx context.Context, jobs []models.ScheduledJob) error
}

// Seed describes a job created on first access
type Seed struct {
	ID       string
	Name     string
	Interval time.Duration
}

// DefaultSeeds returns the jobs every installation starts with
func DefaultSeeds() []Seed {
	return []Seed{
		{ID: TradingJobID, Name: "Background Trading", Interval: 5 * time.Minute},
		{ID: ModelPreloadJobID, Name: "Model Preloading", Interval: 15 * time.Minute},
	}
}

// Scheduler runs registered actions for persisted jobs
type Scheduler struct {
	store   JobStore
	clock   clock.Clock
	metrics *metrics.Metrics
	seeds   []Seed

	// mu serializes every read-modify-write of the job list
	mu sync.Mutex

	amu     sync.RWMutex
	actions map[string]Action
}

// New creates a scheduler. A nil seeds slice uses DefaultSeeds. Seeds with
// an interval under a millisecond are dropped.
func New(store JobStore, clk clock.Clock, m *metrics.Metrics, seeds []Seed) *Scheduler {
	if clk == nil {
		clk = clock.New()
	}
	if seeds == nil {
		seeds = DefaultSeeds()
	}
	valid := make([]Seed, 0, len(seeds))
	for _, seed := range seeds {
		if seed.Interval.Milliseconds() <= 0 {
			log.Error().Str("job", seed.ID).Dur("interval", seed.Interval).Msg("Ignoring job seed without a positive interval")
			continue
		}
		valid = append(valid, seed)
	}
	return &Scheduler{
		store:   store,
		clock:   clk,
		metrics: m,
		seeds:   valid,
		actions: make(map[string]Action),
	}
}

// Register sets the action run for job id
func (s *Scheduler) Register(id string, action Action) {
	s.amu.Lock()
	defer s.amu.Unlock()
	s.actions[id] = action
}

func (s *Scheduler) action(id string) (Action, bool) {
	s.amu.RLock()
	defer s.amu.RUnlock()
	a, ok := s.actions[id]
	return a, ok
}

// ListJobs returns the persisted jobs, seeding defaults on first access
func (s *Scheduler) ListJobs(ctx context.Context) []models.ScheduledJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(ctx)
}

// RunJob runs one job now. Action failures are recorded on the job and do not
// produce an error; only an unknown or already running job does.
func (s *Scheduler) RunJob(ctx context.Context, id string) (models.ScheduledJob, error) {
	job, err := s.markRunning(ctx, id)
	if err != nil {
		return models.ScheduledJob{}, err
	}

	log.Info().Str("job", id).Msg("Running scheduled job")
	runErr := s.invoke(ctx, id)

	return s.markFinished(ctx, job, runErr), nil
}

// CheckAndRunDueJobs runs, one after another, every job whose nextRun has
// passed and that is not already running. It returns the ids that ran.
func (s *Scheduler) CheckAndRunDueJobs(ctx context.Context) []string {
	now := s.clock.Now()

	var due []string
	for _, job := range s.ListJobs(ctx) {
		if job.Interval() <= 0 {
			continue
		}
		if !job.NextRun.After(now) && job.Status != models.JobRunning {
			due = append(due, job.ID)
		}
	}

	ran := make([]string, 0, len(due))
	for _, id := range due {
		if ctx.Err() != nil {
			break
		}
		if _, err := s.RunJob(ctx, id); err != nil {
			log.Warn().Err(err).Str("job", id).Msg("Skipping due job")
			continue
		}
		ran = append(ran, id)
	}

	if len(ran) > 0 {
		log.Info().Strs("jobs", ran).Msg("Ran due jobs")
	}
	return ran
}

// Recover marks jobs left running by a previous process as failed and
// reschedules them
func (s *Scheduler) Recover(ctx context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs := s.loadLocked(ctx)
	now := s.clock.Now().UTC()
	n := 0
	for i := range jobs {
		if jobs[i].Status != models.JobRunning || jobs[i].Interval() <= 0 {
			continue
		}
		jobs[i].Status = models.JobFailed
		jobs[i].LastError = "interrupted by restart"
		jobs[i].NextRun = now.Add(jobs[i].Interval())
		n++
	}
	if n > 0 {
		s.saveLocked(ctx, jobs)
		log.Warn().Int("jobs", n).Msg("Recovered jobs interrupted mid-run")
	}
	return n
}

func (s *Scheduler) markRunning(ctx context.Context, id string) (models.ScheduledJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs := s.loadLocked(ctx)
	i := indexOf(jobs, id)
	if i < 0 {
		return models.ScheduledJob{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if jobs[i].Status == models.JobRunning {
		return models.ScheduledJob{}, fmt.Errorf("%w: %s", ErrJobRunning, id)
	}
	if jobs[i].Interval() <= 0 {
		return models.ScheduledJob{}, fmt.Errorf("%w: %s", ErrInvalidInterval, id)
	}

	jobs[i].Status = models.JobRunning
	jobs[i].LastRun = s.clock.Now().UTC()
	jobs[i].LastError = ""
	s.saveLocked(ctx, jobs)
	return jobs[i], nil
}

func (s *Scheduler) markFinished(ctx context.Context, job models.ScheduledJob, runErr error) models.ScheduledJob {
	s.mu.Lock()
	defer s.mu.Unlock()

	job.Status = models.JobCompleted
	job.LastError = ""
	if runErr != nil {
		job.Status = models.JobFailed
		job.LastError = runErr.Error()
		log.Error().Err(runErr).Str("job", job.ID).Msg("Scheduled job failed")
	}
	job.NextRun = s.clock.Now().UTC().Add(job.Interval())
	s.metrics.JobRun(job.ID, string(job.Status))

	jobs := s.loadLocked(ctx)
	if i := indexOf(jobs, job.ID); i >= 0 {
		jobs[i] = job
	} else {
		jobs = append(jobs, job)
	}
	s.saveLocked(ctx, jobs)
	return job
}

// invoke runs the job's action, turning a missing action or a panic into an error
func (s *Scheduler) invoke(ctx context.Context, id string) (err error) {
	action, ok := s.action(id)
	if !ok || action == nil {
		return fmt.Errorf("%w for job %s", ErrNoAction, id)
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", id, r)
		}
	}()
	return action(ctx)
}

// loadLocked reads the job list, repairs non-positive intervals and adds any
// seed that is missing
func (s *Scheduler) loadLocked(ctx context.Context) []models.ScheduledJob {
	jobs, _ := s.store.LoadJobs(ctx)

	now := s.clock.Now().UTC()
	added := s.repairLocked(jobs)
	for _, seed := range s.seeds {
		if indexOf(jobs, seed.ID) >= 0 {
			continue
		}
		jobs = append(jobs, models.ScheduledJob{
			ID:         seed.ID,
			Name:       seed.Name,
			IntervalMs: seed.Interval.Milliseconds(),
			LastRun:    now,
			NextRun:    now.Add(seed.Interval),
			Status:     models.JobPending,
		})
		added = true
	}
	if added {
		s.saveLocked(ctx, jobs)
	}
	return jobs
}

// repairLocked restores the seed interval of any job stored with a
// non-positive one. Jobs without a seed are marked failed and never become due.
func (s *Scheduler) repairLocked(jobs []models.ScheduledJob) bool {
	changed := false
	for i := range jobs {
		if jobs[i].Interval() > 0 {
			continue
		}
		seed, ok := s.seed(jobs[i].ID)
		if !ok {
			if jobs[i].Status != models.JobFailed || jobs[i].LastError != ErrInvalidInterval.Error() {
				jobs[i].Status = models.JobFailed
				jobs[i].LastError = ErrInvalidInterval.Error()
				changed = true
				log.Error().Str("job", jobs[i].ID).Int64("interval_ms", jobs[i].IntervalMs).Msg("Scheduled job has no usable interval")
			}
			continue
		}
		jobs[i].IntervalMs = seed.Interval.Milliseconds()
		if !jobs[i].NextRun.After(jobs[i].LastRun) {
			jobs[i].NextRun = jobs[i].LastRun.Add(seed.Interval)
		}
		changed = true
		log.Warn().Str("job", jobs[i].ID).Dur("interval", seed.Interval).Msg("Repaired scheduled job interval")
	}
	return changed
}

func (s *Scheduler) seed(id string) (Seed, bool) {
	for _, seed := range s.seeds {
		if seed.ID == id {
			return seed, true
		}
	}
	return Seed{}, false
}

func (s *Scheduler) saveLocked(ctx context.Context, jobs []models.ScheduledJob) {
	if err := s.store.SaveJobs(ctx, jobs); err != nil {
		log.Error().Err(err).Msg("Failed to persist scheduled jobs")
	}
}

func indexOf(jobs []models.ScheduledJob, id string) int {
	for i := range jobs {
		if jobs[i].ID == id {
			return i
		}
	}
	return -1
}
