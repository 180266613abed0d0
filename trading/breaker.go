package trading

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/loiht2/assistant-runtime/backend/config"
	"github.com/loiht2/assistant-runtime/backend/models"
)

// BreakerBroker guards a Broker with a circuit breaker. Lookups of unknown
// orders and invalid orders do not count as failures.
type BreakerBroker struct {
	next Broker
	cb   *gobreaker.CircuitBreaker
}

// NewBreakerBroker wraps next with a breaker configured from cfg
func NewBreakerBroker(name string, next Broker, cfg config.BreakerConfig) *BreakerBroker {
	failures := cfg.ConsecutiveFailures
	if failures == 0 {
		failures = 5
	}
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrOrderNotFound) || errors.Is(err, ErrInvalidOrder)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("Circuit breaker state changed")
		},
	}
	return &BreakerBroker{next: next, cb: gobreaker.NewCircuitBreaker(settings)}
}

// State returns the breaker state name
func (b *BreakerBroker) State() string {
	return b.cb.State().String()
}

func (b *BreakerBroker) Account(ctx context.Context) (models.Account, error) {
	res, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.Account(ctx)
	})
	if err != nil {
		return models.Account{}, err
	}
	return res.(models.Account), nil
}

func (b *BreakerBroker) PlaceOrder(ctx context.Context, order Order) (models.Trade, error) {
	res, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.PlaceOrder(ctx, order)
	})
	if err != nil {
		return models.Trade{}, err
	}
	return res.(models.Trade), nil
}

func (b *BreakerBroker) GetOrder(ctx context.Context, id string) (models.Trade, error) {
	res, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.GetOrder(ctx, id)
	})
	if err != nil {
		return models.Trade{}, err
	}
	return res.(models.Trade), nil
}
