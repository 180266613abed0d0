package phase

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loiht2/assistant-runtime/backend/clock"
	"github.com/loiht2/assistant-runtime/backend/models"
)

var testPhases = []string{
	"Training model",
	"Testing the model",
	"Fixing the model",
	"Retesting the model",
	"Getting model ready",
	"Model is in use",
}

type recordingStore struct {
	mu      sync.Mutex
	records []models.StatusRecord
}

func (r *recordingStore) Write(ctx context.Context, id string, rec models.StatusRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return nil
}

func (r *recordingStore) last() models.StatusRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.records[len(r.records)-1]
}

func (r *recordingStore) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

func newTestMachine() (*Machine, *recordingStore, *clock.Fake) {
	fc := clock.NewFake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	store := &recordingStore{}
	m := NewMachine("training", store, Options{Phases: testPhases, Clock: fc})
	return m, store, fc
}

func TestMachine_InitialState(t *testing.T) {
	m, store, _ := newTestMachine()

	st := m.State()
	assert.Equal(t, "training", st.ID)
	assert.Equal(t, 0.0, st.Progress)
	assert.Equal(t, PhaseNotStarted, st.Phase)
	assert.Equal(t, StatusIdle, st.Status)
	assert.False(t, st.Running)
	assert.Equal(t, 0, store.count())
	assert.Len(t, m.Phases(), 6)
}

func TestMachine_StartPersists(t *testing.T) {
	m, store, _ := newTestMachine()

	rec, started := m.Start(context.Background())
	require.True(t, started)
	assert.True(t, rec.Running)
	assert.Equal(t, StatusInitializing, rec.Status)
	assert.Equal(t, "Training model", rec.Phase)
	assert.Equal(t, rec, store.last())
}

func TestMachine_IdempotentStart(t *testing.T) {
	m, store, _ := newTestMachine()
	ctx := context.Background()

	m.Start(ctx)
	m.Tick(ctx, 10)
	before := m.State()
	writes := store.count()

	rec, started := m.Start(ctx)
	assert.False(t, started)
	assert.Equal(t, before, rec)
	assert.Equal(t, before, m.State())
	assert.Equal(t, writes, store.count())
}

// start then 50 ticks of 3 on a 6 phase table
func TestMachine_RunToCompletion(t *testing.T) {
	m, _, _ := newTestMachine()
	ctx := context.Background()
	m.Start(ctx)

	ticksToComplete := 0
	for i := 0; i < 50; i++ {
		rec := m.Tick(ctx, 3)
		if ticksToComplete == 0 && rec.Progress >= 100 {
			ticksToComplete = i + 1
		}
	}

	st := m.State()
	assert.Equal(t, 100.0, st.Progress)
	assert.False(t, st.Running)
	assert.Equal(t, "Model is in use", st.Phase)
	assert.Equal(t, StatusComplete, st.Status)
	assert.LessOrEqual(t, ticksToComplete, 34)
	assert.Greater(t, ticksToComplete, 0)
}

func TestMachine_ProgressMonotonic(t *testing.T) {
	m, _, _ := newTestMachine()
	ctx := context.Background()
	m.Start(ctx)

	deltas := []float64{0, 1.5, -4, 7, 0.25, 30, 2, 80, 5}
	prevProgress := 0.0
	prevIndex := 0
	for _, d := range deltas {
		rec := m.Tick(ctx, d)
		assert.GreaterOrEqual(t, rec.Progress, prevProgress)
		assert.LessOrEqual(t, rec.Progress, 100.0)

		idx := Index(rec.Progress, len(testPhases))
		assert.GreaterOrEqual(t, idx, prevIndex)
		prevProgress, prevIndex = rec.Progress, idx
	}
}

func TestIndex(t *testing.T) {
	tests := []struct {
		progress float64
		n        int
		want     int
	}{
		{0, 6, 0},
		{16.6, 6, 0},
		{16.7, 6, 1},
		{51, 6, 3},
		{99.9, 6, 5},
		{100, 6, 5},
		{100, 1, 0},
		{42, 1, 0},
		{75, 4, 3},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Index(tt.progress, tt.n), "progress=%v n=%d", tt.progress, tt.n)
	}
}

func TestMachine_PhaseChangeStatus(t *testing.T) {
	m, _, _ := newTestMachine()
	ctx := context.Background()
	m.Start(ctx)

	rec := m.Tick(ctx, 5)
	assert.Equal(t, StatusInitializing, rec.Status)

	rec = m.Tick(ctx, 15)
	assert.Equal(t, "Testing the model", rec.Phase)
	assert.Equal(t, "Processing Testing the model", rec.Status)
}

func TestMachine_TickWhileStoppedIsNoop(t *testing.T) {
	m, store, _ := newTestMachine()
	ctx := context.Background()

	rec := m.Tick(ctx, 50)
	assert.Equal(t, 0.0, rec.Progress)
	assert.Equal(t, 0, store.count())

	m.Start(ctx)
	m.Tick(ctx, 20)
	rec, stopped := m.Stop(ctx)
	require.True(t, stopped)
	assert.Equal(t, StatusStopped, rec.Status)
	assert.Equal(t, 20.0, rec.Progress)

	rec = m.Tick(ctx, 20)
	assert.Equal(t, 20.0, rec.Progress)
	assert.False(t, rec.Running)
}

func TestMachine_StopWhenIdle(t *testing.T) {
	m, store, _ := newTestMachine()
	_, stopped := m.Stop(context.Background())
	assert.False(t, stopped)
	assert.Equal(t, 0, store.count())
}

func TestMachine_RestartAfterStopResetsProgress(t *testing.T) {
	m, _, _ := newTestMachine()
	ctx := context.Background()

	m.Start(ctx)
	m.Tick(ctx, 40)
	m.Stop(ctx)

	rec, started := m.Start(ctx)
	require.True(t, started)
	assert.Equal(t, 0.0, rec.Progress)
	assert.Equal(t, "Training model", rec.Phase)
}

func TestMachine_CooldownEntersContinuous(t *testing.T) {
	m, store, fc := newTestMachine()
	ctx := context.Background()

	m.Start(ctx)
	m.Tick(ctx, 100)
	require.True(t, m.CooldownPending())

	fc.Advance(4 * time.Second)
	assert.Equal(t, StatusComplete, m.State().Status)

	fc.Advance(time.Second)
	st := m.State()
	assert.Equal(t, PhaseContinuous, st.Phase)
	assert.Equal(t, StatusContinuous, st.Status)
	assert.Equal(t, 100.0, st.Progress)
	assert.False(t, st.Running)
	assert.Equal(t, st, store.last())
	assert.False(t, m.CooldownPending())

	// one-shot
	writes := store.count()
	fc.Advance(time.Minute)
	assert.Equal(t, writes, store.count())
}

func TestMachine_StartCancelsPendingCooldown(t *testing.T) {
	m, _, fc := newTestMachine()
	ctx := context.Background()

	m.Start(ctx)
	m.Tick(ctx, 100)
	m.Start(ctx)
	assert.Equal(t, 0, fc.PendingTimers())

	fc.Advance(10 * time.Second)
	st := m.State()
	assert.True(t, st.Running)
	assert.Equal(t, "Training model", st.Phase)
}

func TestMachine_Restore(t *testing.T) {
	t.Run("in-flight run resumes", func(t *testing.T) {
		m, _, _ := newTestMachine()
		m.Restore(&models.StatusRecord{Progress: 55, Phase: "Retesting the model", Status: "Processing Retesting the model", Running: true})

		st := m.State()
		assert.True(t, st.Running)
		assert.Equal(t, 55.0, st.Progress)

		rec := m.Tick(context.Background(), 1)
		assert.Equal(t, 56.0, rec.Progress)
	})

	t.Run("completed run re-arms cooldown", func(t *testing.T) {
		m, _, fc := newTestMachine()
		m.Restore(&models.StatusRecord{Progress: 100, Phase: "Model is in use", Status: StatusComplete})
		require.True(t, m.CooldownPending())

		fc.Advance(DefaultCooldown)
		assert.Equal(t, PhaseContinuous, m.State().Phase)
	})

	t.Run("nil record keeps defaults", func(t *testing.T) {
		m, _, _ := newTestMachine()
		m.Restore(nil)
		assert.Equal(t, StatusIdle, m.State().Status)
	})
}

func TestSources(t *testing.T) {
	assert.Equal(t, 3.0, FixedSource(3).Next())

	src := NewRandomSource(2)
	for i := 0; i < 100; i++ {
		v := src.Next()
		assert.GreaterOrEqual(t, v, 0.0)
		assert.Less(t, v, 2.0)
	}
}
