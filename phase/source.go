package phase

import (
	"math/rand"
	"sync"
	"time"
)

// ProgressSource supplies the delta for each tick
type ProgressSource interface {
	Next() float64
}

// RandomSource yields uniform deltas in [0, max)
type RandomSource struct {
	mu  sync.Mutex
	max float64
	rng *rand.Rand
}

// NewRandomSource creates a random source; max <= 0 defaults to 2
func NewRandomSource(max float64) *RandomSource {
	if max <= 0 {
		max = 2
	}
	return &RandomSource{
		max: max,
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *RandomSource) Next() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng.Float64() * r.max
}

// FixedSource always yields the same delta
type FixedSource float64

func (f FixedSource) Next() float64 { return float64(f) }
