package converter

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/loiht2/assistant-runtime/backend/models"
)

// Converter shapes internal state into API responses
type Converter struct{}

// NewConverter creates a new converter instance
func NewConverter() *Converter {
	return &Converter{}
}

// TrainingResponse converts a phase machine record to the GET /training body
func (c *Converter) TrainingResponse(rec models.StatusRecord) models.TrainingStatusResponse {
	return models.TrainingStatusResponse{
		Success:    true,
		ID:         rec.ID,
		IsTraining: rec.Running,
		Progress:   rec.Progress,
		Status:     rec.Status,
		Phase:      rec.Phase,
		UpdatedAt:  rec.UpdatedAt,
	}
}

// Trades decodes the trade payloads of successful units, keeping ledger order
func (c *Converter) Trades(units []models.WorkUnit) []models.Trade {
	trades := make([]models.Trade, 0, len(units))
	for _, u := range units {
		if u.Outcome == nil || !u.Outcome.Success || len(u.Outcome.Payload) == 0 {
			continue
		}
		var t models.Trade
		if err := json.Unmarshal(u.Outcome.Payload, &t); err != nil {
			log.Warn().Err(err).Str("unit", u.ID).Msg("Skipping unit with unreadable trade payload")
			continue
		}
		trades = append(trades, t)
	}
	return trades
}

// PoolState is the live part of the trading statistics
type PoolState struct {
	Connected   bool
	Active      int
	Capacity    int
	AutoTrading bool
	// Learning is the run's progress, 0-100
	Learning float64
}

// TradingStats summarises a newest-first ledger
func (c *Converter) TradingStats(units []models.WorkUnit, state PoolState) models.TradingStats {
	trades := c.Trades(units)

	failed := 0
	for _, u := range units {
		if u.Outcome != nil && !u.Outcome.Success {
			failed++
		}
	}

	profitable := 0
	total := decimal.Zero
	for _, t := range trades {
		if t.IsProfit {
			profitable++
		}
		total = total.Add(t.Profit)
	}

	stats := models.TradingStats{
		Connected:            state.Connected,
		TotalTrades:          len(trades),
		ProfitableTrades:     profitable,
		FailedTrades:         failed,
		WinRate:              WinRate(profitable, len(trades)),
		TotalProfit:          total.StringFixed(2),
		ActiveTrades:         state.Active,
		MaxConcurrentTrades:  state.Capacity,
		IsAutoTradingEnabled: state.AutoTrading,
		LearningProgress:     state.Learning,
	}
	if len(trades) > 0 {
		last := trades[0].Timestamp
		stats.LastTradeTime = &last
	}
	return stats
}

// WinRate formats profitable/total as a percentage with two decimals
func WinRate(profitable, total int) string {
	if total == 0 {
		return "0%"
	}
	return fmt.Sprintf("%.2f%%", float64(profitable)/float64(total)*100)
}
