// Package store persists the trading journal: fused and per-source signals,
// order outcomes, and risk actions. Signal outcome evaluations feed the
// fusion engine's per-source performance records.
package store

import (
	"context"
	"time"

	"okx-trader/internal/models"
)

// SourceFused marks a journal row produced by the fusion engine rather
// than a single predictor.
const SourceFused = "fused"

// DataStore defines the journal persistence interface.
type DataStore interface {
	// Signals
	SaveSignal(ctx context.Context, record *SignalRecord) error
	GetSignals(ctx context.Context, filter SignalFilter) ([]SignalRecord, error)
	UpdateSignalOutcome(ctx context.Context, id string, actual models.SignalKind, pnl float64) error
	GetSignalStats(ctx context.Context, dateRange DateRange) (map[string]SourceStats, error)

	// Orders
	SaveOrder(ctx context.Context, record *OrderRecord) error
	GetOrders(ctx context.Context, filter OrderFilter) ([]OrderRecord, error)

	// Risk actions
	SaveRiskEvent(ctx context.Context, event *RiskEventRecord) error
	GetRiskEvents(ctx context.Context, positionID string, limit int) ([]RiskEventRecord, error)

	// Lifecycle
	Close() error
}

// SignalRecord is one journaled signal, fused or per-source.
type SignalRecord struct {
	ID              string
	Timestamp       time.Time
	Symbol          string
	Source          string // SourceFused or a models.SignalSource value
	Signal          models.TradingSignal
	MarketCondition models.MarketCondition
	Consensus       float64
	Conflict        bool
	Evaluated       bool
	ActualKind      models.SignalKind // set by UpdateSignalOutcome
	PnL             float64
}

// OrderRecord is the journaled terminal view of one order tracker.
type OrderRecord struct {
	OrderID       string
	ClientOrderID string
	Symbol        string
	Side          models.OrderSide
	Type          models.OrderType
	Size          float64
	Price         float64
	State         string
	FilledSize    float64
	AvgFillPrice  float64
	Slippage      float64
	RetryCount    int
	SubmitTime    time.Time
	LastUpdate    time.Time
}

// RiskEventRecord journals one risk action taken on a position.
type RiskEventRecord struct {
	PositionID string
	Symbol     string
	Action     string
	StopPrice  float64
	CloseSize  float64
	Price      float64 // market price at decision time
	Timestamp  time.Time
}

// SignalFilter narrows GetSignals queries.
type SignalFilter struct {
	Symbol    string
	Source    string
	Evaluated *bool
	StartDate time.Time
	EndDate   time.Time
	Limit     int
}

// OrderFilter narrows GetOrders queries.
type OrderFilter struct {
	Symbol    string
	State     string
	StartDate time.Time
	EndDate   time.Time
	Limit     int
}

// DateRange bounds a statistics query.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// SourceStats aggregates a source's evaluated signal outcomes.
type SourceStats struct {
	Source        string
	Total         int
	Evaluated     int
	Correct       int
	AvgConfidence float64
	TotalPnL      float64
}

// Accuracy returns the fraction of evaluated signals whose direction was
// correct, or 0.5 with no evidence.
func (s SourceStats) Accuracy() float64 {
	if s.Evaluated == 0 {
		return 0.5
	}
	return float64(s.Correct) / float64(s.Evaluated)
}
