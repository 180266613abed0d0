// Package pool admits independent work units up to a concurrency ceiling.
//
// Admission runs the readiness gate first and then checks and increments the
// active count under one lock, so concurrent submitters can never push the
// pool past its capacity. Every admitted unit releases its slot exactly once,
// whether its task returns a value, an error or panics.
package pool

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/loiht2/assistant-runtime/backend/clock"
	"github.com/loiht2/assistant-runtime/backend/metrics"
	"github.com/loiht2/assistant-runtime/backend/models"
)

// Task is the body of one work unit. The returned payload is stored as JSON
// in the unit's outcome.
type Task func(ctx context.Context) (interface{}, error)

// ReadinessGate decides whether new units may be admitted
type ReadinessGate func(ctx context.Context) bool

// Ledger receives every completed unit
type Ledger interface {
	AppendLedger(ctx context.Context, pool string, unit models.WorkUnit) error
}

// Options configures a Pool
type Options struct {
	Name        string
	Capacity    int
	Gate        ReadinessGate
	Ledger      Ledger
	Clock       clock.Clock
	Metrics     *metrics.Metrics
	UnitTimeout time.Duration
}

// Pool is a bounded worker pool
type Pool struct {
	name    string
	gate    ReadinessGate
	ledger  Ledger
	clock   clock.Clock
	metrics *metrics.Metrics
	timeout time.Duration

	mu       sync.Mutex
	capacity int
	active   map[string]*Unit
	closed   bool
	wg       sync.WaitGroup
}

// New creates a pool. Capacity below 1 is raised to 1.
func New(opts Options) *Pool {
	if opts.Capacity < 1 {
		opts.Capacity = 1
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Name == "" {
		opts.Name = "default"
	}
	return &Pool{
		name:     opts.Name,
		gate:     opts.Gate,
		ledger:   opts.Ledger,
		clock:    opts.Clock,
		metrics:  opts.Metrics,
		timeout:  opts.UnitTimeout,
		capacity: opts.Capacity,
		active:   make(map[string]*Unit),
	}
}

// Name returns the pool name used for the ledger and metrics
func (p *Pool) Name() string {
	return p.name
}

// Submit admits task as a new unit or returns a *Error. The task runs on its
// own goroutine with a context detached from ctx's cancellation.
func (p *Pool) Submit(ctx context.Context, task Task) (*Unit, error) {
	if p.isClosed() {
		return nil, p.reject("closed", ErrClosed)
	}
	if p.gate != nil && !p.gate(ctx) {
		return nil, p.reject("not_ready", ErrNotReady)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, p.reject("closed", ErrClosed)
	}
	if len(p.active) >= p.capacity {
		err := &Error{Pool: p.name, Active: len(p.active), Capacity: p.capacity, Err: ErrCapacityExceeded}
		p.mu.Unlock()
		p.metrics.PoolSubmission(p.name, "capacity")
		return nil, err
	}

	u := &Unit{
		done: make(chan struct{}),
		unit: models.WorkUnit{
			ID:        uuid.New().String(),
			Pool:      p.name,
			StartedAt: p.clock.Now().UTC(),
		},
	}
	p.active[u.unit.ID] = u
	n := len(p.active)
	p.wg.Add(1)
	p.mu.Unlock()

	p.metrics.PoolSubmission(p.name, "admitted")
	p.metrics.SetPoolActive(p.name, n)
	log.Debug().Str("pool", p.name).Str("unit", u.unit.ID).Int("active", n).Msg("Unit admitted")

	go p.run(context.WithoutCancel(ctx), u, task)
	return u, nil
}

func (p *Pool) run(ctx context.Context, u *Unit, task Task) {
	var (
		payload interface{}
		err     error
	)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("unit panicked: %v", r)
		}
		p.finish(u, payload, err)
	}()

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	payload, err = task(ctx)
	if err == nil && ctx.Err() != nil {
		err = fmt.Errorf("unit timed out: %w", ctx.Err())
	}
}

// finish releases the unit's slot, records its outcome and appends it to the
// ledger. It runs exactly once per admitted unit.
func (p *Pool) finish(u *Unit, payload interface{}, err error) {
	defer p.wg.Done()

	outcome := &models.Outcome{Success: err == nil}
	if err != nil {
		outcome.Error = err.Error()
	}
	if payload != nil {
		if raw, mErr := json.Marshal(payload); mErr == nil {
			outcome.Payload = raw
		} else {
			log.Warn().Err(mErr).Str("pool", p.name).Msg("Dropping unencodable unit payload")
		}
	}
	completed := p.clock.Now().UTC()

	u.mu.Lock()
	u.unit.CompletedAt = &completed
	u.unit.Outcome = outcome
	snapshot := u.unit
	u.mu.Unlock()

	p.mu.Lock()
	delete(p.active, snapshot.ID)
	n := len(p.active)
	p.mu.Unlock()

	p.metrics.SetPoolActive(p.name, n)
	p.metrics.UnitCompleted(p.name, outcome.Success)

	if err != nil {
		log.Warn().Err(err).Str("pool", p.name).Str("unit", snapshot.ID).Msg("Unit failed")
	}

	if p.ledger != nil {
		if lErr := p.ledger.AppendLedger(context.Background(), p.name, snapshot); lErr != nil {
			log.Error().Err(lErr).Str("pool", p.name).Str("unit", snapshot.ID).Msg("Failed to record unit")
		}
	}

	close(u.done)
}

// ActiveCount returns the number of units in flight
func (p *Pool) ActiveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.active)
}

// Capacity returns the concurrency ceiling
func (p *Pool) Capacity() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.capacity
}

// SetCapacity changes the ceiling. Lowering it below the active count only
// blocks new admissions; running units are not interrupted.
func (p *Pool) SetCapacity(n int) error {
	if n < 1 {
		return &Error{Pool: p.name, Err: ErrInvalidCapacity}
	}
	p.mu.Lock()
	p.capacity = n
	p.mu.Unlock()
	log.Info().Str("pool", p.name).Int("capacity", n).Msg("Pool capacity changed")
	return nil
}

// Active returns a snapshot of units in flight, oldest first
func (p *Pool) Active() []models.WorkUnit {
	p.mu.Lock()
	units := make([]*Unit, 0, len(p.active))
	for _, u := range p.active {
		units = append(units, u)
	}
	p.mu.Unlock()

	out := make([]models.WorkUnit, 0, len(units))
	for _, u := range units {
		out = append(out, u.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// Shutdown rejects new submissions and waits for in-flight units to finish
// or ctx to end
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	n := len(p.active)
	p.mu.Unlock()

	log.Info().Str("pool", p.name).Int("in_flight", n).Msg("Pool shutting down")

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("pool %s shutdown: %w", p.name, ctx.Err())
	}
}

func (p *Pool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Pool) reject(result string, err error) error {
	p.metrics.PoolSubmission(p.name, result)
	return &Error{Pool: p.name, Err: err}
}
