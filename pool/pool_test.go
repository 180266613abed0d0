package pool

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loiht2/assistant-runtime/backend/models"
)

const waitFor = 2 * time.Second

type memLedger struct {
	mu    sync.Mutex
	units []models.WorkUnit
}

func (l *memLedger) AppendLedger(ctx context.Context, pool string, unit models.WorkUnit) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.units = append(l.units, unit)
	return nil
}

func (l *memLedger) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.units)
}

// blockingTask returns a task that waits for release to be closed
func blockingTask(release <-chan struct{}) Task {
	return func(ctx context.Context) (interface{}, error) {
		<-release
		return nil, nil
	}
}

func wait(t *testing.T, u *Unit) models.WorkUnit {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	wu, err := u.Wait(ctx)
	require.NoError(t, err)
	return wu
}

func TestPool_CapacityScenario(t *testing.T) {
	ledger := &memLedger{}
	p := New(Options{Name: "trading", Capacity: 4, Ledger: ledger})
	ctx := context.Background()

	releases := make([]chan struct{}, 4)
	units := make([]*Unit, 4)
	for i := range releases {
		releases[i] = make(chan struct{})
		u, err := p.Submit(ctx, blockingTask(releases[i]))
		require.NoError(t, err)
		units[i] = u
	}
	assert.Equal(t, 4, p.ActiveCount())

	_, err := p.Submit(ctx, blockingTask(make(chan struct{})))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCapacityExceeded)
	var perr *Error
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, 4, perr.Active)
	assert.Equal(t, 4, perr.Capacity)

	close(releases[0])
	wait(t, units[0])
	assert.Equal(t, 3, p.ActiveCount())

	extra := make(chan struct{})
	u6, err := p.Submit(ctx, blockingTask(extra))
	require.NoError(t, err)

	close(extra)
	for _, r := range releases[1:] {
		close(r)
	}
	wait(t, u6)
	for _, u := range units[1:] {
		wait(t, u)
	}
	assert.Equal(t, 0, p.ActiveCount())
	assert.Equal(t, 5, ledger.len())
}

func TestPool_NotReadyRegardlessOfCapacity(t *testing.T) {
	assetValue, threshold := 0.5, 0.7
	p := New(Options{Capacity: 4, Gate: func(ctx context.Context) bool { return assetValue >= threshold }})

	for i := 0; i < 3; i++ {
		_, err := p.Submit(context.Background(), func(ctx context.Context) (interface{}, error) { return nil, nil })
		assert.ErrorIs(t, err, ErrNotReady)
	}
	assert.Equal(t, 0, p.ActiveCount())
}

func TestPool_FailuresReleaseSlotOnce(t *testing.T) {
	ledger := &memLedger{}
	p := New(Options{Capacity: 2, Ledger: ledger})
	ctx := context.Background()

	failing, err := p.Submit(ctx, func(ctx context.Context) (interface{}, error) {
		return nil, errors.New("exchange rejected order")
	})
	require.NoError(t, err)
	panicking, err := p.Submit(ctx, func(ctx context.Context) (interface{}, error) {
		panic("boom")
	})
	require.NoError(t, err)

	f := wait(t, failing)
	require.NotNil(t, f.Outcome)
	assert.False(t, f.Outcome.Success)
	assert.Equal(t, "exchange rejected order", f.Outcome.Error)
	assert.True(t, f.Done())

	pn := wait(t, panicking)
	require.NotNil(t, pn.Outcome)
	assert.False(t, pn.Outcome.Success)
	assert.Contains(t, pn.Outcome.Error, "boom")

	assert.Equal(t, 0, p.ActiveCount())
	assert.Equal(t, 2, ledger.len())

	// both slots are usable again, so no leak and no double decrement
	release := make(chan struct{})
	a, err := p.Submit(ctx, blockingTask(release))
	require.NoError(t, err)
	b, err := p.Submit(ctx, blockingTask(release))
	require.NoError(t, err)
	_, err = p.Submit(ctx, blockingTask(release))
	assert.ErrorIs(t, err, ErrCapacityExceeded)
	close(release)
	wait(t, a)
	wait(t, b)
}

func TestPool_PayloadRecorded(t *testing.T) {
	p := New(Options{Capacity: 1})
	u, err := p.Submit(context.Background(), func(ctx context.Context) (interface{}, error) {
		return map[string]string{"pair": "BTC/USDT"}, nil
	})
	require.NoError(t, err)

	wu := wait(t, u)
	require.True(t, wu.Outcome.Success)
	var payload map[string]string
	require.NoError(t, json.Unmarshal(wu.Outcome.Payload, &payload))
	assert.Equal(t, "BTC/USDT", payload["pair"])

	_, open := <-u.Done()
	assert.False(t, open)
}

func TestPool_ConcurrentSubmitsNeverExceedCapacity(t *testing.T) {
	const capacity = 3
	p := New(Options{Capacity: capacity})

	var inFlight, peak int32
	release := make(chan struct{})
	task := func(ctx context.Context) (interface{}, error) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			old := atomic.LoadInt32(&peak)
			if n <= old || atomic.CompareAndSwapInt32(&peak, old, n) {
				break
			}
		}
		<-release
		atomic.AddInt32(&inFlight, -1)
		return nil, nil
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted []*Unit
		rejected int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			u, err := p.Submit(context.Background(), task)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				rejected++
				return
			}
			admitted = append(admitted, u)
		}()
	}
	wg.Wait()

	assert.Len(t, admitted, capacity)
	assert.Equal(t, 50-capacity, rejected)
	assert.LessOrEqual(t, p.ActiveCount(), capacity)

	close(release)
	for _, u := range admitted {
		wait(t, u)
	}
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(capacity))
	assert.Equal(t, 0, p.ActiveCount())
}

func TestPool_SetCapacity(t *testing.T) {
	p := New(Options{Capacity: 1})
	release := make(chan struct{})
	defer close(release)

	_, err := p.Submit(context.Background(), blockingTask(release))
	require.NoError(t, err)
	_, err = p.Submit(context.Background(), blockingTask(release))
	assert.ErrorIs(t, err, ErrCapacityExceeded)

	require.NoError(t, p.SetCapacity(2))
	assert.Equal(t, 2, p.Capacity())
	_, err = p.Submit(context.Background(), blockingTask(release))
	assert.NoError(t, err)

	assert.ErrorIs(t, p.SetCapacity(0), ErrInvalidCapacity)
	assert.Len(t, p.Active(), 2)
}

func TestPool_ShutdownLetsInFlightFinish(t *testing.T) {
	ledger := &memLedger{}
	p := New(Options{Capacity: 1, Ledger: ledger})
	release := make(chan struct{})

	u, err := p.Submit(context.Background(), blockingTask(release))
	require.NoError(t, err)

	shutdownErr := make(chan error, 1)
	go func() { shutdownErr <- p.Shutdown(context.Background()) }()

	require.Eventually(t, func() bool {
		_, err := p.Submit(context.Background(), blockingTask(release))
		return errors.Is(err, ErrClosed)
	}, waitFor, time.Millisecond)

	close(release)
	require.NoError(t, <-shutdownErr)
	wu := wait(t, u)
	assert.True(t, wu.Outcome.Success)
	assert.Equal(t, 1, ledger.len())
}

func TestPool_ShutdownHonoursContext(t *testing.T) {
	p := New(Options{Capacity: 1})
	release := make(chan struct{})
	defer close(release)

	_, err := p.Submit(context.Background(), blockingTask(release))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.Shutdown(ctx), context.DeadlineExceeded)
}

func TestPool_UnitTimeout(t *testing.T) {
	p := New(Options{Capacity: 1, UnitTimeout: 10 * time.Millisecond})
	u, err := p.Submit(context.Background(), func(ctx context.Context) (interface{}, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	require.NoError(t, err)

	wu := wait(t, u)
	assert.False(t, wu.Outcome.Success)
	assert.Contains(t, wu.Outcome.Error, "deadline exceeded")
}

func TestPool_SubmitterCancellationDoesNotAbortUnit(t *testing.T) {
	p := New(Options{Capacity: 1})
	ctx, cancel := context.WithCancel(context.Background())

	started := make(chan struct{})
	release := make(chan struct{})
	u, err := p.Submit(ctx, func(taskCtx context.Context) (interface{}, error) {
		close(started)
		<-release
		return nil, taskCtx.Err()
	})
	require.NoError(t, err)

	<-started
	cancel()
	close(release)

	wu := wait(t, u)
	assert.True(t, wu.Outcome.Success)
}
