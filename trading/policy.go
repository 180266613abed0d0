package trading

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/loiht2/assistant-runtime/backend/models"
)

// DecisionPolicy picks the next order for an automatic trade
type DecisionPolicy interface {
	Decide(ctx context.Context, account models.Account, open []models.WorkUnit) (Order, error)
}

// MinTradeAmount is the smallest automatic trade, in USDT
const MinTradeAmount = 5.0

// ErrTradeTooSmall is returned when the balance only allows a trade below MinTradeAmount
var ErrTradeTooSmall = errors.New("trade amount too small")

// RandomPolicy picks a random pair and side and sizes the trade at 1-5% of
// the account's USDT balance
type RandomPolicy struct {
	pairs []string

	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomPolicy creates a policy over pairs; seed 0 uses the current time
func NewRandomPolicy(pairs []string, seed int64) *RandomPolicy {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &RandomPolicy{
		pairs: append([]string(nil), pairs...),
		rng:   rand.New(rand.NewSource(seed)),
	}
}

func (r *RandomPolicy) Decide(ctx context.Context, account models.Account, open []models.WorkUnit) (Order, error) {
	if len(r.pairs) == 0 {
		return Order{}, errors.New("no trading pairs configured")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	pair := r.pairs[r.rng.Intn(len(r.pairs))]
	side := models.Buy
	if r.rng.Float64() > 0.5 {
		side = models.Sell
	}
	amount := account.Balances["USDT"] * (0.01 + r.rng.Float64()*0.04)
	if amount < MinTradeAmount {
		return Order{}, fmt.Errorf("%w: %.2f USDT", ErrTradeTooSmall, amount)
	}
	return Order{
		Pair:   pair,
		Side:   side,
		Amount: decimal.NewFromFloat(amount).Round(2),
	}, nil
}
