package monitor

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/loiht2/assistant-runtime/backend/clock"
)

// TickFunc runs once per tick. Returning false ends the loop.
type TickFunc func(ctx context.Context) bool

// Monitor runs named periodic loops, at most one per name
type Monitor struct {
	clock clock.Clock

	mu     sync.Mutex
	loops  map[string]*loop
	closed bool
	wg     sync.WaitGroup
}

type loop struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a monitor driven by clk
func New(clk clock.Clock) *Monitor {
	if clk == nil {
		clk = clock.New()
	}
	return &Monitor{
		clock: clk,
		loops: make(map[string]*loop),
	}
}

// Run starts a loop calling fn every interval. A loop already running under
// name is cancelled and waited for first, so ticks for one name never overlap.
// fn must not call Run or Cancel for its own name.
func (m *Monitor) Run(name string, interval time.Duration, fn TickFunc) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	ctx, cancel := context.WithCancel(context.Background())
	l := &loop{cancel: cancel, done: make(chan struct{})}
	prev := m.loops[name]
	m.loops[name] = l
	m.wg.Add(1)
	m.mu.Unlock()

	if prev != nil {
		prev.cancel()
		<-prev.done
	}

	ticker := m.clock.NewTicker(interval)
	go m.loop(ctx, name, l, ticker, fn)

	log.Debug().Str("loop", name).Dur("interval", interval).Msg("Loop started")
	return true
}

// Cancel stops the loop for name and waits for it to exit
func (m *Monitor) Cancel(name string) bool {
	m.mu.Lock()
	l, ok := m.loops[name]
	if ok {
		delete(m.loops, name)
	}
	m.mu.Unlock()

	if !ok {
		return false
	}
	l.cancel()
	<-l.done
	return true
}

// Active reports whether a loop is running under name
func (m *Monitor) Active(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.loops[name]
	return ok
}

// Names lists running loops
func (m *Monitor) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.loops))
	for name := range m.loops {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Stop cancels every loop and waits for them to exit. Run fails afterwards.
func (m *Monitor) Stop() {
	m.mu.Lock()
	m.closed = true
	for name, l := range m.loops {
		l.cancel()
		delete(m.loops, name)
	}
	m.mu.Unlock()

	m.wg.Wait()
	log.Info().Msg("Monitor stopped")
}

func (m *Monitor) loop(ctx context.Context, name string, l *loop, ticker clock.Ticker, fn TickFunc) {
	defer m.wg.Done()
	defer close(l.done)
	defer m.remove(name, l)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			if !fn(ctx) {
				log.Debug().Str("loop", name).Msg("Loop finished")
				return
			}
		}
	}
}

// remove deletes the map entry only if l is still the current loop for name
func (m *Monitor) remove(name string, l *loop) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loops[name] == l {
		delete(m.loops, name)
	}
	l.cancel()
}
