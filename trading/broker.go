package trading

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/loiht2/assistant-runtime/backend/clock"
	"github.com/loiht2/assistant-runtime/backend/models"
)

var (
	// ErrOrderNotFound is returned by GetOrder for an unknown id
	ErrOrderNotFound = errors.New("order not found")
	// ErrInvalidOrder is returned for a missing pair or non-positive amount
	ErrInvalidOrder = errors.New("invalid order")
)

// Order is a request to trade amount of pair
type Order struct {
	Pair   string
	Side   models.Side
	Amount decimal.Decimal
}

// Validate checks the fields every broker needs
func (o Order) Validate() error {
	if o.Pair == "" {
		return fmt.Errorf("%w: pair is required", ErrInvalidOrder)
	}
	if !o.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidOrder)
	}
	if o.Side != models.Buy && o.Side != models.Sell {
		return fmt.Errorf("%w: side must be buy or sell", ErrInvalidOrder)
	}
	return nil
}

// Broker executes orders against an account
type Broker interface {
	Account(ctx context.Context) (models.Account, error)
	PlaceOrder(ctx context.Context, order Order) (models.Trade, error)
	GetOrder(ctx context.Context, id string) (models.Trade, error)
}

// PaperConfig configures a PaperBroker
type PaperConfig struct {
	// Latency is the simulated round trip of each order
	Latency time.Duration
	// AssetValue pins the reported asset value; 0 draws from [0.5, 1.0)
	AssetValue float64
	// ProfitChance is the probability of a profitable trade; 0 means 0.7
	ProfitChance float64
	Seed         int64
	Clock        clock.Clock
}

// PaperBroker simulates an exchange account in memory
type PaperBroker struct {
	cfg   PaperConfig
	clock clock.Clock

	mu       sync.Mutex
	rng      *rand.Rand
	orders   map[string]models.Trade
	balances map[string]float64
}

// NewPaperBroker creates a simulated broker
func NewPaperBroker(cfg PaperConfig) *PaperBroker {
	if cfg.ProfitChance <= 0 {
		cfg.ProfitChance = 0.7
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	return &PaperBroker{
		cfg:    cfg,
		clock:  cfg.Clock,
		rng:    rand.New(rand.NewSource(cfg.Seed)),
		orders: make(map[string]models.Trade),
		balances: map[string]float64{
			"USDT": 1250.75,
			"BTC":  0.025,
			"ETH":  0.5,
		},
	}
}

// SetAssetValue pins the asset value reported by Account; 0 restores random draws
func (p *PaperBroker) SetAssetValue(v float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cfg.AssetValue = v
}

func (p *PaperBroker) Account(ctx context.Context) (models.Account, error) {
	if err := ctx.Err(); err != nil {
		return models.Account{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	value := p.cfg.AssetValue
	if value == 0 {
		value = 0.5 + p.rng.Float64()*0.5
	}
	balances := make(map[string]float64, len(p.balances))
	for k, v := range p.balances {
		balances[k] = v
	}
	return models.Account{
		AssetValue: value,
		Balances:   balances,
		CheckedAt:  p.clock.Now().UTC(),
	}, nil
}

func (p *PaperBroker) PlaceOrder(ctx context.Context, order Order) (models.Trade, error) {
	if err := order.Validate(); err != nil {
		return models.Trade{}, err
	}

	if p.cfg.Latency > 0 {
		select {
		case <-time.After(p.cfg.Latency):
		case <-ctx.Done():
			return models.Trade{}, fmt.Errorf("order for %s cancelled: %w", order.Pair, ctx.Err())
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	isProfit := p.rng.Float64() < p.cfg.ProfitChance
	var ratio float64
	if isProfit {
		ratio = p.rng.Float64()*0.05 + 0.01
	} else {
		ratio = -(p.rng.Float64()*0.03 + 0.01)
	}

	trade := models.Trade{
		ID:        uuid.New().String(),
		Pair:      order.Pair,
		Side:      order.Side,
		Amount:    order.Amount.Round(6),
		Price:     decimal.NewFromFloat(p.priceLocked(order.Pair)).Round(2),
		Profit:    order.Amount.Mul(decimal.NewFromFloat(ratio)).Round(2),
		IsProfit:  isProfit,
		Status:    "completed",
		Timestamp: p.clock.Now().UTC(),
	}
	p.orders[trade.ID] = trade

	profit, _ := trade.Profit.Float64()
	p.balances["USDT"] += profit

	log.Debug().Str("pair", trade.Pair).Str("side", string(trade.Side)).Str("profit", trade.Profit.String()).Msg("Paper order filled")
	return trade, nil
}

func (p *PaperBroker) GetOrder(ctx context.Context, id string) (models.Trade, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	trade, ok := p.orders[id]
	if !ok {
		return models.Trade{}, fmt.Errorf("%w: %s", ErrOrderNotFound, id)
	}
	return trade, nil
}

// priceLocked returns a simulated quote around a per-asset reference price
func (p *PaperBroker) priceLocked(pair string) float64 {
	switch {
	case strings.Contains(pair, "BTC"):
		return 50000 + (p.rng.Float64()*2000 - 1000)
	case strings.Contains(pair, "ETH"):
		return 3000 + (p.rng.Float64()*200 - 100)
	case strings.Contains(pair, "SOL"):
		return 100 + (p.rng.Float64()*10 - 5)
	default:
		return 20 + (p.rng.Float64()*2 - 1)
	}
}
