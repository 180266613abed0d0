package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/loiht2/assistant-runtime/backend/clock"
	"github.com/loiht2/assistant-runtime/backend/metrics"
	"github.com/loiht2/assistant-runtime/backend/models"
)

// Namespaces used by the status store
const (
	NamespaceStatus = "status"
	NamespaceJobs   = "jobs"
	NamespaceLedger = "ledger"

	jobsKey = "scheduled-jobs"

	// DefaultLedgerRetention is how many units each pool's ledger keeps
	DefaultLedgerRetention = 1000
)

// ErrNotFound is returned by backends when a key has never been written
var ErrNotFound = errors.New("storage: not found")

// Backend persists raw JSON documents grouped by namespace
type Backend interface {
	Get(ctx context.Context, namespace, key string) ([]byte, error)
	Put(ctx context.Context, namespace, key string, data []byte) error
	Keys(ctx context.Context, namespace string) ([]string, error)
	EnsureNamespace(ctx context.Context, namespace string) error
}

// StatusStore is the single shared writer for status records, the scheduled
// job list and the work-unit ledger. Reads fail open: a missing, unreadable
// or corrupt document is reported as absent and logged.
type StatusStore struct {
	backend   Backend
	metrics   *metrics.Metrics
	clock     clock.Clock
	retention int

	// mu guards status records and the job list, lmu the ledgers
	mu  sync.Mutex
	lmu sync.Mutex
}

// NewStatusStore creates a status store over backend. A nil clock uses the
// system clock.
func NewStatusStore(backend Backend, m *metrics.Metrics, clk clock.Clock) *StatusStore {
	if clk == nil {
		clk = clock.New()
	}
	return &StatusStore{
		backend:   backend,
		metrics:   m,
		clock:     clk,
		retention: DefaultLedgerRetention,
	}
}

// SetLedgerRetention caps how many units each ledger keeps. n <= 0 restores the default.
func (s *StatusStore) SetLedgerRetention(n int) {
	if n <= 0 {
		n = DefaultLedgerRetention
	}
	s.lmu.Lock()
	s.retention = n
	s.lmu.Unlock()
}

// EnsureNamespace creates the backing directory or table for namespace
func (s *StatusStore) EnsureNamespace(ctx context.Context, namespace string) error {
	if err := s.backend.EnsureNamespace(ctx, namespace); err != nil {
		s.metrics.StoreError("ensure")
		log.Error().Err(err).Str("namespace", namespace).Msg("Failed to ensure namespace")
		return fmt.Errorf("failed to ensure namespace %s: %w", namespace, err)
	}
	return nil
}

// Read returns the status record for id, or nil if none can be loaded
func (s *StatusStore) Read(ctx context.Context, id string) *models.StatusRecord {
	var rec models.StatusRecord
	if !s.readJSON(ctx, NamespaceStatus, id, &rec) {
		return nil
	}
	if rec.ID == "" {
		rec.ID = id
	}
	return &rec
}

// Write persists the status record for id. Failures are logged and returned.
func (s *StatusStore) Write(ctx context.Context, id string, rec models.StatusRecord) error {
	rec.ID = id
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = s.clock.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeJSON(ctx, NamespaceStatus, id, rec)
}

// StatusIDs lists every process id with a persisted status record
func (s *StatusStore) StatusIDs(ctx context.Context) []string {
	keys, err := s.backend.Keys(ctx, NamespaceStatus)
	if err != nil {
		s.metrics.StoreError("keys")
		log.Warn().Err(err).Msg("Failed to list status records")
		return nil
	}
	sort.Strings(keys)
	return keys
}

// LoadJobs returns the persisted job list. ok is false when nothing usable is stored.
func (s *StatusStore) LoadJobs(ctx context.Context) ([]models.ScheduledJob, bool) {
	var jobs []models.ScheduledJob
	if !s.readJSON(ctx, NamespaceJobs, jobsKey, &jobs) {
		return nil, false
	}
	return jobs, true
}

// SaveJobs overwrites the persisted job list
func (s *StatusStore) SaveJobs(ctx context.Context, jobs []models.ScheduledJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeJSON(ctx, NamespaceJobs, jobsKey, jobs)
}

// AppendLedger records a completed work unit in the pool's history, newest
// first. The oldest units beyond the retention cap are dropped.
func (s *StatusStore) AppendLedger(ctx context.Context, pool string, unit models.WorkUnit) error {
	s.lmu.Lock()
	defer s.lmu.Unlock()

	var history []models.WorkUnit
	if !s.readJSON(ctx, NamespaceLedger, pool, &history) {
		history = nil
	}

	history = append([]models.WorkUnit{unit}, history...)
	if len(history) > s.retention {
		history = history[:s.retention]
	}
	return s.writeJSON(ctx, NamespaceLedger, pool, history)
}

// Ledger returns up to limit history entries for pool, newest first. limit <= 0 returns all.
func (s *StatusStore) Ledger(ctx context.Context, pool string, limit int) []models.WorkUnit {
	var history []models.WorkUnit
	if !s.readJSON(ctx, NamespaceLedger, pool, &history) {
		return []models.WorkUnit{}
	}
	if limit > 0 && len(history) > limit {
		history = history[:limit]
	}
	return history
}

// Snapshot is a point-in-time copy of everything the store holds
type Snapshot struct {
	TakenAt time.Time                      `json:"takenAt"`
	Status  map[string]models.StatusRecord `json:"status"`
	Jobs    []models.ScheduledJob          `json:"jobs"`
	Ledger  map[string][]models.WorkUnit   `json:"ledger"`
}

// Snapshot collects all status records, the job list and every ledger
func (s *StatusStore) Snapshot(ctx context.Context) Snapshot {
	snap := Snapshot{
		TakenAt: s.clock.Now().UTC(),
		Status:  make(map[string]models.StatusRecord),
		Ledger:  make(map[string][]models.WorkUnit),
	}
	for _, id := range s.StatusIDs(ctx) {
		if rec := s.Read(ctx, id); rec != nil {
			snap.Status[id] = *rec
		}
	}
	if jobs, ok := s.LoadJobs(ctx); ok {
		snap.Jobs = jobs
	}
	pools, err := s.backend.Keys(ctx, NamespaceLedger)
	if err != nil {
		s.metrics.StoreError("keys")
		log.Warn().Err(err).Msg("Failed to list ledgers")
	}
	for _, pool := range pools {
		snap.Ledger[pool] = s.Ledger(ctx, pool, 0)
	}
	return snap
}

// readJSON decodes a document into out. It reports false, after logging, on any failure.
func (s *StatusStore) readJSON(ctx context.Context, namespace, key string, out interface{}) bool {
	data, err := s.backend.Get(ctx, namespace, key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.metrics.StoreError("read")
			log.Error().Err(err).Str("namespace", namespace).Str("key", key).Msg("Failed to read document")
		}
		return false
	}
	if err := json.Unmarshal(data, out); err != nil {
		s.metrics.StoreError("decode")
		log.Error().Err(err).Str("namespace", namespace).Str("key", key).Msg("Ignoring corrupt document")
		return false
	}
	return true
}

// writeJSON must be called with the lock guarding the document held
func (s *StatusStore) writeJSON(ctx context.Context, namespace, key string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		s.metrics.StoreError("encode")
		log.Error().Err(err).Str("namespace", namespace).Str("key", key).Msg("Failed to encode document")
		return fmt.Errorf("failed to encode %s/%s: %w", namespace, key, err)
	}
	if err := s.backend.Put(ctx, namespace, key, data); err != nil {
		s.metrics.StoreError("write")
		log.Error().Err(err).Str("namespace", namespace).Str("key", key).Msg("Failed to write document")
		return fmt.Errorf("failed to write %s/%s: %w", namespace, key, err)
	}
	return nil
}
