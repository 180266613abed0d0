package monitor

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loiht2/assistant-runtime/backend/clock"
)

const waitFor = 2 * time.Second

func newTestMonitor() (*Monitor, *clock.Fake) {
	fc := clock.NewFake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	return New(fc), fc
}

func TestMonitor_TicksUntilFuncReturnsFalse(t *testing.T) {
	m, fc := newTestMonitor()
	defer m.Stop()

	var calls int32
	require.True(t, m.Run("training", time.Second, func(ctx context.Context) bool {
		return atomic.AddInt32(&calls, 1) < 3
	}))
	assert.True(t, m.Active("training"))

	for i := int32(1); i <= 3; i++ {
		fc.Advance(time.Second)
		want := i
		require.Eventually(t, func() bool { return atomic.LoadInt32(&calls) == want }, waitFor, time.Millisecond)
	}

	require.Eventually(t, func() bool { return !m.Active("training") }, waitFor, time.Millisecond)
}

func TestMonitor_RunReplacesExistingLoop(t *testing.T) {
	m, fc := newTestMonitor()
	defer m.Stop()

	var first, second int32
	m.Run("training", time.Second, func(ctx context.Context) bool {
		atomic.AddInt32(&first, 1)
		return true
	})
	m.Run("training", time.Second, func(ctx context.Context) bool {
		atomic.AddInt32(&second, 1)
		return true
	})
	assert.Equal(t, []string{"training"}, m.Names())

	fc.Advance(time.Second)
	require.Eventually(t, func() bool { return atomic.LoadInt32(&second) == 1 }, waitFor, time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&first))
}

func TestMonitor_Cancel(t *testing.T) {
	m, fc := newTestMonitor()
	defer m.Stop()

	var calls int32
	m.Run("jobs", time.Minute, func(ctx context.Context) bool {
		atomic.AddInt32(&calls, 1)
		return true
	})

	assert.True(t, m.Cancel("jobs"))
	assert.False(t, m.Active("jobs"))
	assert.False(t, m.Cancel("jobs"))

	fc.Advance(time.Hour)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
}

func TestMonitor_StopRejectsNewLoops(t *testing.T) {
	m, _ := newTestMonitor()

	m.Run("a", time.Second, func(ctx context.Context) bool { return true })
	m.Run("b", time.Second, func(ctx context.Context) bool { return true })
	m.Stop()

	assert.Empty(t, m.Names())
	assert.False(t, m.Run("c", time.Second, func(ctx context.Context) bool { return true }))
}

func TestMonitor_ContextCancelledOnStop(t *testing.T) {
	m, fc := newTestMonitor()

	entered := make(chan struct{})
	exited := make(chan struct{})
	m.Run("slow", time.Second, func(ctx context.Context) bool {
		close(entered)
		<-ctx.Done()
		close(exited)
		return true
	})

	fc.Advance(time.Second)
	<-entered
	m.Stop()

	select {
	case <-exited:
	default:
		t.Fatal("tick func should observe cancellation before Stop returns")
	}
}
