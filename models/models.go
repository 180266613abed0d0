package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// StatusRecord is the persisted state of one named process
type StatusRecord struct {
	ID        string    `json:"id"`
	Progress  float64   `json:"progress"`
	Phase     string    `json:"phase"`
	Status    string    `json:"status"`
	Running   bool      `json:"running"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// JobStatus is the lifecycle state of a scheduled job
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// ScheduledJob is a named periodic job persisted by the scheduler
type ScheduledJob struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	IntervalMs int64     `json:"intervalMs"`
	LastRun    time.Time `json:"lastRun"`
	NextRun    time.Time `json:"nextRun"`
	Status     JobStatus `json:"status"`
	LastError  string    `json:"lastError,omitempty"`
}

// Interval returns the job period as a duration
func (j ScheduledJob) Interval() time.Duration {
	return time.Duration(j.IntervalMs) * time.Millisecond
}

// Outcome records how a work unit finished
type Outcome struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// WorkUnit is one admitted unit of work inside a bounded pool
type WorkUnit struct {
	ID          string     `json:"id"`
	Pool        string     `json:"pool"`
	StartedAt   time.Time  `json:"startedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	Outcome     *Outcome   `json:"outcome,omitempty"`
}

// Done reports whether the unit has completed
func (u WorkUnit) Done() bool {
	return u.CompletedAt != nil
}

// Side is the direction of a simulated trade
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// Trade is the payload of a trading work unit
type Trade struct {
	ID        string          `json:"id"`
	Pair      string          `json:"pair"`
	Side      Side            `json:"side"`
	Amount    decimal.Decimal `json:"amount"`
	Price     decimal.Decimal `json:"price"`
	Profit    decimal.Decimal `json:"profit"`
	IsProfit  bool            `json:"isProfit"`
	Status    string          `json:"status"`
	Timestamp time.Time       `json:"timestamp"`
}

// Account is a snapshot of the simulated brokerage account
type Account struct {
	AssetValue float64            `json:"assetValue"`
	Balances   map[string]float64 `json:"balances"`
	Threshold  float64            `json:"threshold"`
	Ready      bool               `json:"ready"`
	CheckedAt  time.Time          `json:"checkedAt"`
}

// TrainingActionRequest is the body of POST /training
type TrainingActionRequest struct {
	Action string `json:"action" binding:"required"`
	ID     string `json:"id"`
}

// JobActionRequest is the body of POST /jobs
type JobActionRequest struct {
	Action string `json:"action" binding:"required"`
	JobID  string `json:"jobId"`
}

// TradingActionRequest is the body of POST /trading
type TradingActionRequest struct {
	Action              string  `json:"action" binding:"required"`
	Pair                string  `json:"pair"`
	Amount              float64 `json:"amount"`
	Side                Side    `json:"side"`
	OrderID             string  `json:"orderId"`
	MaxConcurrentTrades *int    `json:"maxConcurrentTrades"`
}

// TrainingStatusResponse is returned by GET /training
type TrainingStatusResponse struct {
	Success    bool      `json:"success"`
	ID         string    `json:"id"`
	IsTraining bool      `json:"isTraining"`
	Progress   float64   `json:"progress"`
	Status     string    `json:"status"`
	Phase      string    `json:"phase"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// TradingStats summarises the trade ledger
type TradingStats struct {
	Connected            bool       `json:"connected"`
	TotalTrades          int        `json:"totalTrades"`
	ProfitableTrades     int        `json:"profitableTrades"`
	FailedTrades         int        `json:"failedTrades"`
	WinRate              string     `json:"winRate"`
	TotalProfit          string     `json:"totalProfit"`
	LastTradeTime        *time.Time `json:"lastTradeTime"`
	ActiveTrades         int        `json:"activeTrades"`
	MaxConcurrentTrades  int        `json:"maxConcurrentTrades"`
	IsAutoTradingEnabled bool       `json:"isAutoTradingEnabled"`
	LearningProgress     float64    `json:"learningProgress"`
}
