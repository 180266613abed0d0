package trading

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/loiht2/assistant-runtime/backend/clock"
	"github.com/loiht2/assistant-runtime/backend/converter"
	"github.com/loiht2/assistant-runtime/backend/metrics"
	"github.com/loiht2/assistant-runtime/backend/models"
	"github.com/loiht2/assistant-runtime/backend/pool"
)

// StatusID is the status record written by the trading service
const StatusID = "trading"

// Store is the persistence the service needs
type Store interface {
	Write(ctx context.Context, id string, rec models.StatusRecord) error
	AppendLedger(ctx context.Context, pool string, unit models.WorkUnit) error
	Ledger(ctx context.Context, pool string, limit int) []models.WorkUnit
}

// Options configures a Service
type Options struct {
	Broker         Broker
	Policy         DecisionPolicy
	Store          Store
	Clock          clock.Clock
	Metrics        *metrics.Metrics
	Threshold      float64
	MaxConcurrency int
	UnitTimeout    time.Duration
	Pairs          []string
	// Seed drives the learning progress increments; 0 uses the clock
	Seed int64
}

// CycleResult reports one automatic trading pass
type CycleResult struct {
	Account models.Account `json:"account"`
	Placed  int            `json:"placed"`
	Units   []string       `json:"units"`
}

// Service runs simulated trades through a bounded pool gated on asset value
type Service struct {
	broker    Broker
	policy    DecisionPolicy
	store     Store
	clock     clock.Clock
	pool      *pool.Pool
	conv      *converter.Converter
	threshold float64
	pairs     []string

	mu          sync.Mutex
	autoTrading bool
	connected   bool
	account     models.Account
	// learning only rises during a run; Start resets it
	learning float64
	rng      *rand.Rand
}

// NewService creates a trading service and its pool
func NewService(opts Options) *Service {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Seed == 0 {
		opts.Seed = opts.Clock.Now().UnixNano()
	}
	s := &Service{
		broker:    opts.Broker,
		policy:    opts.Policy,
		store:     opts.Store,
		clock:     opts.Clock,
		conv:      converter.NewConverter(),
		threshold: opts.Threshold,
		pairs:     append([]string(nil), opts.Pairs...),
		rng:       rand.New(rand.NewSource(opts.Seed)),
	}
	s.pool = pool.New(pool.Options{
		Name:        StatusID,
		Capacity:    opts.MaxConcurrency,
		Gate:        s.ready,
		Ledger:      opts.Store,
		Clock:       opts.Clock,
		Metrics:     opts.Metrics,
		UnitTimeout: opts.UnitTimeout,
	})
	return s
}

// Pool exposes the underlying worker pool
func (s *Service) Pool() *pool.Pool {
	return s.pool
}

// ready is the pool's readiness gate: the last account snapshot must meet the threshold
func (s *Service) ready(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.account.Ready
}

// RefreshAccount fetches the account and re-evaluates the readiness gate.
// A broker error closes the gate.
func (s *Service) RefreshAccount(ctx context.Context) (models.Account, error) {
	acct, err := s.broker.Account(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		s.account.Ready = false
		s.account.CheckedAt = s.clock.Now().UTC()
		log.Error().Err(err).Msg("Failed to fetch account")
		return s.account, fmt.Errorf("failed to fetch account: %w", err)
	}

	acct.Threshold = s.threshold
	acct.Ready = acct.AssetValue >= s.threshold
	s.account = acct
	s.connected = true
	return acct, nil
}

// Account returns the latest account snapshot, fetching it first
func (s *Service) Account(ctx context.Context) (models.Account, error) {
	return s.RefreshAccount(ctx)
}

// Start enables automatic trading. started is false if it was already on.
// A new run restarts learning progress from zero.
func (s *Service) Start(ctx context.Context) (started bool) {
	s.mu.Lock()
	started = !s.autoTrading
	s.autoTrading = true
	if started {
		s.learning = 0
	}
	s.mu.Unlock()

	if started {
		log.Info().Msg("Auto-trading enabled")
	}
	s.persist(ctx)
	return started
}

// Stop disables automatic trading. In-flight trades finish.
func (s *Service) Stop(ctx context.Context) (stopped bool) {
	s.mu.Lock()
	stopped = s.autoTrading
	s.autoTrading = false
	s.mu.Unlock()

	if stopped {
		log.Info().Msg("Auto-trading disabled")
	}
	s.persist(ctx)
	return stopped
}

// AutoTrading reports whether automatic trading is enabled
func (s *Service) AutoTrading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.autoTrading
}

// Cycle refreshes the account and fills every free pool slot with a trade
// chosen by the policy. A closed gate is not an error: nothing is placed.
func (s *Service) Cycle(ctx context.Context) (CycleResult, error) {
	acct, err := s.RefreshAccount(ctx)
	result := CycleResult{Account: acct, Units: []string{}}
	if err != nil {
		s.persist(ctx)
		return result, err
	}

	if !acct.Ready {
		log.Info().Float64("asset_value", acct.AssetValue).Float64("threshold", s.threshold).Msg("Trading paused: below threshold value")
		s.persist(ctx)
		return result, nil
	}
	s.learn()

	free := s.pool.Capacity() - s.pool.ActiveCount()
	for i := 0; i < free; i++ {
		order, err := s.policy.Decide(ctx, acct, s.pool.Active())
		if errors.Is(err, ErrTradeTooSmall) {
			log.Info().Err(err).Msg("Skipping trade")
			break
		}
		if err != nil {
			log.Error().Err(err).Msg("Trade decision failed")
			break
		}
		u, err := s.pool.Submit(ctx, s.orderTask(order))
		if err != nil {
			if !errors.Is(err, pool.ErrCapacityExceeded) {
				log.Warn().Err(err).Msg("Trade not admitted")
			}
			break
		}
		result.Placed++
		result.Units = append(result.Units, u.ID())
	}

	log.Info().Int("placed", result.Placed).Int("active", s.pool.ActiveCount()).Msg("Trading cycle completed")
	s.persist(ctx)
	return result, nil
}

// Trade submits a manual order and waits for its outcome. Pool rejections are
// returned as *pool.Error.
func (s *Service) Trade(ctx context.Context, order Order) (models.Trade, error) {
	if err := order.Validate(); err != nil {
		return models.Trade{}, err
	}
	if _, err := s.RefreshAccount(ctx); err != nil {
		return models.Trade{}, err
	}

	u, err := s.pool.Submit(ctx, s.orderTask(order))
	if err != nil {
		return models.Trade{}, err
	}

	wu, err := u.Wait(ctx)
	if err != nil {
		return models.Trade{}, fmt.Errorf("waiting for trade %s: %w", wu.ID, err)
	}
	if wu.Outcome == nil || !wu.Outcome.Success {
		msg := "unknown failure"
		if wu.Outcome != nil {
			msg = wu.Outcome.Error
		}
		return models.Trade{}, fmt.Errorf("trade failed: %s", msg)
	}

	var trade models.Trade
	if err := json.Unmarshal(wu.Outcome.Payload, &trade); err != nil {
		return models.Trade{}, fmt.Errorf("failed to decode trade: %w", err)
	}
	return trade, nil
}

func (s *Service) orderTask(order Order) pool.Task {
	return func(ctx context.Context) (interface{}, error) {
		trade, err := s.broker.PlaceOrder(ctx, order)
		if err != nil {
			return nil, err
		}
		log.Info().Str("pair", trade.Pair).Str("side", string(trade.Side)).Str("profit", trade.Profit.String()).Msg("Trade executed")
		return trade, nil
	}
}

// CheckOrder looks an order up at the broker
func (s *Service) CheckOrder(ctx context.Context, id string) (models.Trade, error) {
	return s.broker.GetOrder(ctx, id)
}

// Transactions returns up to limit completed units, newest first
func (s *Service) Transactions(ctx context.Context, limit int) []models.WorkUnit {
	return s.store.Ledger(ctx, StatusID, limit)
}

// Status summarises the ledger and the live pool state. Pool utilisation is
// reported through ActiveTrades and MaxConcurrentTrades.
func (s *Service) Status(ctx context.Context) models.TradingStats {
	s.mu.Lock()
	state := converter.PoolState{
		Connected:   s.connected,
		AutoTrading: s.autoTrading,
		Learning:    s.learning,
	}
	s.mu.Unlock()
	state.Active = s.pool.ActiveCount()
	state.Capacity = s.pool.Capacity()

	return s.conv.TradingStats(s.store.Ledger(ctx, StatusID, 0), state)
}

// Configure changes the concurrency cap
func (s *Service) Configure(ctx context.Context, maxConcurrent int) error {
	if err := s.pool.SetCapacity(maxConcurrent); err != nil {
		return err
	}
	s.persist(ctx)
	return nil
}

// Pairs returns the tradable pairs
func (s *Service) Pairs() []string {
	return append([]string(nil), s.pairs...)
}

// Shutdown disables trading and waits for in-flight trades
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.autoTrading = false
	s.mu.Unlock()
	return s.pool.Shutdown(ctx)
}

// learn advances learning progress by up to half a point while auto-trading
func (s *Service) learn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.autoTrading {
		return
	}
	s.learning = math.Min(100, s.learning+s.rng.Float64()*0.5)
}

// LearningProgress returns the current run's progress, 0-100
func (s *Service) LearningProgress() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.learning
}

// persist writes the trading status record. Progress is learning progress,
// which never falls within a run.
func (s *Service) persist(ctx context.Context) {
	if s.store == nil {
		return
	}

	s.mu.Lock()
	auto := s.autoTrading
	acct := s.account
	learning := s.learning
	s.mu.Unlock()

	active, capacity := s.pool.ActiveCount(), s.pool.Capacity()
	rec := models.StatusRecord{
		Progress:  learning,
		Running:   auto,
		UpdatedAt: s.clock.Now().UTC(),
	}
	switch {
	case !auto:
		rec.Phase, rec.Status = "idle", "stopped"
	case !acct.Ready:
		rec.Phase, rec.Status = "paused", "Below threshold value"
	default:
		rec.Phase = "trading"
		rec.Status = fmt.Sprintf("%d/%d trades active", active, capacity)
	}

	if err := s.store.Write(ctx, StatusID, rec); err != nil {
		log.Warn().Err(err).Msg("Trading status not persisted")
	}
}
