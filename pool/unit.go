package pool

import (
	"context"
	"sync"

	"github.com/loiht2/assistant-runtime/backend/models"
)

// Unit is a handle on one admitted work unit
type Unit struct {
	mu   sync.Mutex
	unit models.WorkUnit
	done chan struct{}
}

// ID returns the unit id
func (u *Unit) ID() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.unit.ID
}

// Snapshot returns a copy of the unit's current state
func (u *Unit) Snapshot() models.WorkUnit {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.unit
}

// Done is closed once the unit has completed and been recorded
func (u *Unit) Done() <-chan struct{} {
	return u.done
}

// Wait blocks until the unit completes or ctx ends
func (u *Unit) Wait(ctx context.Context) (models.WorkUnit, error) {
	select {
	case <-u.done:
		return u.Snapshot(), nil
	case <-ctx.Done():
		return u.Snapshot(), ctx.Err()
	}
}
