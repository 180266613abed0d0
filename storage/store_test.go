package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loiht2/assistant-runtime/backend/clock"
	"github.com/loiht2/assistant-runtime/backend/models"
)

func TestStatusStore_WriteThenRead(t *testing.T) {
	ctx := context.Background()
	store := NewStatusStore(NewFileBackend(t.TempDir()), nil, nil)
	require.NoError(t, store.EnsureNamespace(ctx, NamespaceStatus))

	updated := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	rec := models.StatusRecord{
		Progress:  42,
		Phase:     "Processing",
		Status:    "Processing Processing",
		Running:   true,
		UpdatedAt: updated,
	}
	require.NoError(t, store.Write(ctx, "training", rec))

	got := store.Read(ctx, "training")
	require.NotNil(t, got)
	assert.Equal(t, "training", got.ID)
	assert.Equal(t, 42.0, got.Progress)
	assert.Equal(t, "Processing", got.Phase)
	assert.True(t, got.Running)
	assert.True(t, updated.Equal(got.UpdatedAt))
}

func TestStatusStore_ReadMissingIsAbsent(t *testing.T) {
	store := NewStatusStore(NewMemoryBackend(), nil, nil)
	assert.Nil(t, store.Read(context.Background(), "nobody"))
}

func TestStatusStore_CorruptDocumentFailsOpen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := NewStatusStore(NewFileBackend(dir), nil, nil)
	require.NoError(t, store.EnsureNamespace(ctx, NamespaceStatus))

	require.NoError(t, os.WriteFile(filepath.Join(dir, NamespaceStatus, "training.json"), []byte("{not json"), 0o644))

	assert.Nil(t, store.Read(ctx, "training"))

	// a later write replaces the corrupt document
	require.NoError(t, store.Write(ctx, "training", models.StatusRecord{Progress: 5}))
	got := store.Read(ctx, "training")
	require.NotNil(t, got)
	assert.Equal(t, 5.0, got.Progress)
}

func TestStatusStore_WriteSetsUpdatedAt(t *testing.T) {
	ctx := context.Background()
	store := NewStatusStore(NewMemoryBackend(), nil, nil)

	require.NoError(t, store.Write(ctx, "a", models.StatusRecord{}))
	got := store.Read(ctx, "a")
	require.NotNil(t, got)
	assert.False(t, got.UpdatedAt.IsZero())
}

func TestStatusStore_TimestampsFollowClock(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	fc := clock.NewFake(now)
	store := NewStatusStore(NewMemoryBackend(), nil, fc)

	require.NoError(t, store.Write(ctx, "a", models.StatusRecord{}))
	got := store.Read(ctx, "a")
	require.NotNil(t, got)
	assert.True(t, now.Equal(got.UpdatedAt))

	fc.Advance(time.Minute)
	assert.True(t, now.Add(time.Minute).Equal(store.Snapshot(ctx).TakenAt))
}

func TestStatusStore_LedgerRetention(t *testing.T) {
	ctx := context.Background()
	store := NewStatusStore(NewMemoryBackend(), nil, nil)
	store.SetLedgerRetention(3)

	for _, id := range []string{"u1", "u2", "u3", "u4", "u5"} {
		require.NoError(t, store.AppendLedger(ctx, "trading", models.WorkUnit{ID: id, Pool: "trading"}))
	}

	all := store.Ledger(ctx, "trading", 0)
	require.Len(t, all, 3)
	assert.Equal(t, "u5", all[0].ID)
	assert.Equal(t, "u3", all[2].ID)
}

func TestStatusStore_StatusIDsSorted(t *testing.T) {
	ctx := context.Background()
	store := NewStatusStore(NewMemoryBackend(), nil, nil)
	for _, id := range []string{"trading", "alpha", "training"} {
		require.NoError(t, store.Write(ctx, id, models.StatusRecord{}))
	}
	assert.Equal(t, []string{"alpha", "trading", "training"}, store.StatusIDs(ctx))
}

func TestStatusStore_Jobs(t *testing.T) {
	ctx := context.Background()
	store := NewStatusStore(NewMemoryBackend(), nil, nil)

	_, ok := store.LoadJobs(ctx)
	assert.False(t, ok)

	jobs := []models.ScheduledJob{
		{ID: "trading-job", Name: "Background Trading", IntervalMs: 300000, Status: models.JobPending},
	}
	require.NoError(t, store.SaveJobs(ctx, jobs))

	loaded, ok := store.LoadJobs(ctx)
	require.True(t, ok)
	require.Len(t, loaded, 1)
	assert.Equal(t, "trading-job", loaded[0].ID)
	assert.Equal(t, 5*time.Minute, loaded[0].Interval())
}

func TestStatusStore_LedgerNewestFirst(t *testing.T) {
	ctx := context.Background()
	store := NewStatusStore(NewMemoryBackend(), nil, nil)

	for _, id := range []string{"u1", "u2", "u3"} {
		require.NoError(t, store.AppendLedger(ctx, "trading", models.WorkUnit{ID: id, Pool: "trading"}))
	}

	all := store.Ledger(ctx, "trading", 0)
	require.Len(t, all, 3)
	assert.Equal(t, "u3", all[0].ID)
	assert.Equal(t, "u1", all[2].ID)

	limited := store.Ledger(ctx, "trading", 2)
	require.Len(t, limited, 2)
	assert.Equal(t, "u3", limited[0].ID)

	assert.Empty(t, store.Ledger(ctx, "other", 10))
	assert.NotNil(t, store.Ledger(ctx, "other", 10))
}

func TestStatusStore_Snapshot(t *testing.T) {
	ctx := context.Background()
	store := NewStatusStore(NewMemoryBackend(), nil, nil)

	require.NoError(t, store.Write(ctx, "training", models.StatusRecord{Progress: 10}))
	require.NoError(t, store.SaveJobs(ctx, []models.ScheduledJob{{ID: "trading-job"}}))
	require.NoError(t, store.AppendLedger(ctx, "trading", models.WorkUnit{ID: "u1"}))

	snap := store.Snapshot(ctx)
	assert.Contains(t, snap.Status, "training")
	assert.Len(t, snap.Jobs, 1)
	assert.Len(t, snap.Ledger["trading"], 1)
	assert.False(t, snap.TakenAt.IsZero())
}

func TestFileBackend_KeysSkipsTempFiles(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	backend := NewFileBackend(dir)

	require.NoError(t, backend.Put(ctx, "status", "a", []byte("{}")))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "status", ".a-123.tmp"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "status", "notes.txt"), []byte("x"), 0o644))

	keys, err := backend.Keys(ctx, "status")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, keys)

	missing, err := backend.Keys(ctx, "nothing-here")
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestFileBackend_GetMissing(t *testing.T) {
	_, err := NewFileBackend(t.TempDir()).Get(context.Background(), "status", "x")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryBackend_CopiesData(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()

	data := []byte("abc")
	require.NoError(t, backend.Put(ctx, "ns", "k", data))
	data[0] = 'z'

	got, err := backend.Get(ctx, "ns", "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))
}
