// Package risk owns every stop-loss and take-profit decision for open
// positions. It is the single authority on exits: executors submit the
// orders it decides on but never invent their own, which is what prevents
// one position from carrying two competing stop orders.
package risk

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"okx-trader/internal/config"
	"okx-trader/internal/models"
)

// minCloseSize is the smallest partial close worth submitting.
const minCloseSize = 0.001

// ActionType enumerates the decisions the manager can emit.
type ActionType string

const (
	ActionUpdateStopLoss    ActionType = "update_stop_loss"
	ActionTriggerStopLoss   ActionType = "trigger_stop_loss"
	ActionPartialTakeProfit ActionType = "partial_take_profit"
	ActionEmergencyExit     ActionType = "emergency_exit"
)

// Action is one decision emitted by Update. Decisions are data: the manager
// never talks to an exchange, the caller executes them.
type Action struct {
	Type ActionType

	// StopPrice is set for ActionUpdateStopLoss.
	StopPrice float64

	// CloseSize and TargetPrice are set for ActionPartialTakeProfit.
	CloseSize   float64
	TargetPrice float64
}

func (a Action) String() string {
	switch a.Type {
	case ActionUpdateStopLoss:
		return fmt.Sprintf("%s:%.2f", a.Type, a.StopPrice)
	case ActionPartialTakeProfit:
		return fmt.Sprintf("%s:%.6f@%.2f", a.Type, a.CloseSize, a.TargetPrice)
	default:
		return string(a.Type)
	}
}

// Target is one rung of the take-profit ladder: at ProfitPct gain, close
// Fraction of the remaining position.
type Target struct {
	Price    float64
	Fraction float64
}

// PositionRisk is the managed state for one open position.
type PositionRisk struct {
	ID           string
	Symbol       string
	Side         models.PositionSide
	EntryPrice   float64
	CurrentPrice float64
	Size         float64
	StopLoss     float64
	Targets      []Target

	// InitialStopDistance is the entry-to-stop distance at open time,
	// whatever policy set the stop. The emergency threshold scales from
	// it, so ATR-sized stops get proportionally wider emergency exits.
	InitialStopDistance float64

	// HighWater is the most favorable price seen: highest for longs,
	// lowest for shorts. It only moves in the position's favor.
	HighWater float64

	// PartialProfitsTaken accumulates closed size across ladder rungs.
	// It is monotonically non-decreasing and never exceeds Size.
	PartialProfitsTaken float64

	LastUpdate time.Time
}

// RiskLevel grades how much a position is hurting.
type RiskLevel string

const (
	RiskLow     RiskLevel = "low"
	RiskMedium  RiskLevel = "medium"
	RiskHigh    RiskLevel = "high"
	RiskExtreme RiskLevel = "extreme"
)

// Stats holds manager counters.
type Stats struct {
	TotalPositions     uint64
	StopLossesHit      uint64
	TakeProfitsHit     uint64
	TrailingActivated  uint64
	EmergencyExits     uint64
}

// Report is a point-in-time view of the book's risk.
type Report struct {
	ActivePositions int
	PortfolioRisk   float64
	RiskLevel       RiskLevel
	Stats           Stats
}

// Manager tracks per-position risk state and decides exits.
// Safe for concurrent use.
type Manager struct {
	cfg    config.RiskConfig
	logger zerolog.Logger

	mu        sync.Mutex
	positions map[string]*PositionRisk
	stats     Stats
	now       func() time.Time
}

// NewManager creates a risk manager.
func NewManager(cfg config.RiskConfig, logger zerolog.Logger) *Manager {
	return &Manager{
		cfg:       cfg,
		logger:    logger,
		positions: make(map[string]*PositionRisk),
		now:       time.Now,
	}
}

// SetClock replaces the manager's time source. Tests only.
func (m *Manager) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// Open registers a position and computes its initial stop and take-profit
// ladder. A stop carried on the originating signal wins over the policy;
// atr may be 0 when no ATR estimate is available, in which case the fixed
// percentage stop applies regardless of the configured stop type.
func (m *Manager) Open(position models.PositionInfo, signal models.TradingSignal, atr float64) *PositionRisk {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	id := fmt.Sprintf("%s_%s_%d", position.Symbol, position.Side, now.Unix())

	stop := signal.StopLoss
	if stop <= 0 {
		stop = m.initialStopLoss(position.AvgPrice, position.Side, atr)
	}

	pr := &PositionRisk{
		ID:                  id,
		Symbol:              position.Symbol,
		Side:                position.Side,
		EntryPrice:          position.AvgPrice,
		CurrentPrice:        position.MarkPrice,
		Size:                position.Size,
		StopLoss:            stop,
		Targets:             m.ladder(position.AvgPrice, position.Side),
		InitialStopDistance: absFloat(position.AvgPrice - stop),
		LastUpdate:          now,
	}

	if position.Side == models.Long {
		pr.HighWater = maxFloat(position.AvgPrice, position.MarkPrice)
	} else {
		pr.HighWater = minFloat(position.AvgPrice, position.MarkPrice)
	}

	m.positions[id] = pr
	m.stats.TotalPositions++

	m.logger.Info().
		Str("position_id", id).
		Str("symbol", position.Symbol).
		Float64("stop_loss", pr.StopLoss).
		Int("targets", len(pr.Targets)).
		Msg("Position risk registered")

	return pr
}

// initialStopLoss places the first stop. ATR-based stops widen with
// volatility; the fixed percentage is the fallback.
func (m *Manager) initialStopLoss(entry float64, side models.PositionSide, atr float64) float64 {
	distance := entry * m.cfg.InitialStopPct
	if m.cfg.StopLossType == "atr" && atr > 0 {
		distance = atr * m.cfg.ATRMultiplier
	}

	if side == models.Long {
		return entry - distance
	}
	return entry + distance
}

// ladder builds the take-profit rungs from configuration, direction-aware.
func (m *Manager) ladder(entry float64, side models.PositionSide) []Target {
	targets := make([]Target, 0, len(m.cfg.TakeProfitTargets))
	for _, pair := range m.cfg.TakeProfitTargets {
		if len(pair) != 2 {
			continue
		}
		profitPct, fraction := pair[0], pair[1]

		price := entry * (1 + profitPct)
		if side == models.Short {
			price = entry * (1 - profitPct)
		}
		targets = append(targets, Target{Price: price, Fraction: fraction})
	}
	return targets
}

// Update feeds a price tick to a position and returns the decisions it
// triggers, in priority order: stop adjustments first, then the stop
// trigger, then partial profits, then the emergency check. Unknown
// positions yield no actions.
func (m *Manager) Update(positionID string, price float64) []Action {
	m.mu.Lock()
	defer m.mu.Unlock()

	pr, ok := m.positions[positionID]
	if !ok {
		return nil
	}

	pr.CurrentPrice = price
	pr.LastUpdate = m.now()

	var actions []Action

	if newStop, ok := m.trailStop(pr, price); ok {
		actions = append(actions, Action{Type: ActionUpdateStopLoss, StopPrice: newStop})
	}

	if stopHit(pr, price) {
		actions = append(actions, Action{Type: ActionTriggerStopLoss})
		m.stats.StopLossesHit++
	}

	if action, ok := m.takePartialProfit(pr, price); ok {
		actions = append(actions, action)
	}

	if m.emergencyLoss(pr, price) {
		actions = append(actions, Action{Type: ActionEmergencyExit})
		m.stats.EmergencyExits++
	}

	for _, a := range actions {
		m.logger.Info().
			Str("position_id", positionID).
			Float64("price", price).
			Str("action", a.String()).
			Msg("Risk action")
	}

	return actions
}

// trailStop advances the trailing stop when the price makes a new favorable
// extreme and the position is past the minimum profit. The stop only ever
// ratchets toward the price, never away.
func (m *Manager) trailStop(pr *PositionRisk, price float64) (float64, bool) {
	if pr.Side == models.Long {
		if price <= pr.HighWater {
			return 0, false
		}
		pr.HighWater = price

		profitPct := (price - pr.EntryPrice) / pr.EntryPrice
		if profitPct < m.cfg.MinProfitForTrail {
			return 0, false
		}

		newStop := price * (1 - m.cfg.TrailingDistance)
		if newStop <= pr.StopLoss {
			return 0, false
		}
		pr.StopLoss = newStop
		m.stats.TrailingActivated++
		return newStop, true
	}

	if price >= pr.HighWater {
		return 0, false
	}
	pr.HighWater = price

	profitPct := (pr.EntryPrice - price) / pr.EntryPrice
	if profitPct < m.cfg.MinProfitForTrail {
		return 0, false
	}

	newStop := price * (1 + m.cfg.TrailingDistance)
	if newStop >= pr.StopLoss {
		return 0, false
	}
	pr.StopLoss = newStop
	m.stats.TrailingActivated++
	return newStop, true
}

func stopHit(pr *PositionRisk, price float64) bool {
	if pr.Side == models.Long {
		return price <= pr.StopLoss
	}
	return price >= pr.StopLoss
}

// takePartialProfit fires at most one ladder rung per update. The rung's
// fraction applies to the remaining size, the rung is consumed, and the
// taken total can never exceed the position size.
func (m *Manager) takePartialProfit(pr *PositionRisk, price float64) (Action, bool) {
	for i, target := range pr.Targets {
		hit := price >= target.Price
		if pr.Side == models.Short {
			hit = price <= target.Price
		}
		if !hit {
			continue
		}

		remaining := pr.Size - pr.PartialProfitsTaken
		closeSize := remaining * target.Fraction
		if closeSize <= minCloseSize {
			continue
		}

		pr.PartialProfitsTaken += closeSize
		pr.Targets = append(pr.Targets[:i], pr.Targets[i+1:]...)
		m.stats.TakeProfitsHit++

		return Action{
			Type:        ActionPartialTakeProfit,
			CloseSize:   closeSize,
			TargetPrice: target.Price,
		}, true
	}

	return Action{}, false
}

// emergencyLoss reports whether the loss has blown past the emergency
// threshold, a multiple of the position's initial stop distance. This
// catches gaps where the price jumped straight through the stop.
func (m *Manager) emergencyLoss(pr *PositionRisk, price float64) bool {
	var lossPct float64
	if pr.Side == models.Long {
		lossPct = (pr.EntryPrice - price) / pr.EntryPrice
	} else {
		lossPct = (price - pr.EntryPrice) / pr.EntryPrice
	}

	stopPct := m.cfg.InitialStopPct
	if pr.InitialStopDistance > 0 && pr.EntryPrice > 0 {
		stopPct = pr.InitialStopDistance / pr.EntryPrice
	}
	return lossPct >= stopPct*m.cfg.EmergencyMultiple
}

// Get returns a copy of a position's risk state.
func (m *Manager) Get(positionID string) (PositionRisk, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pr, ok := m.positions[positionID]
	if !ok {
		return PositionRisk{}, false
	}
	out := *pr
	out.Targets = append([]Target(nil), pr.Targets...)
	return out, true
}

// Cleanup removes positions that are effectively fully closed and returns
// how many were removed.
func (m *Manager) Cleanup() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, pr := range m.positions {
		if pr.PartialProfitsTaken >= pr.Size*0.99 {
			delete(m.positions, id)
			removed++
		}
	}
	if removed > 0 {
		m.logger.Info().Int("removed", removed).Msg("Cleaned up closed positions")
	}
	return removed
}

// Report summarizes the book's current risk.
func (m *Manager) Report() Report {
	m.mu.Lock()
	defer m.mu.Unlock()

	risk := m.portfolioRiskLocked()
	return Report{
		ActivePositions: len(m.positions),
		PortfolioRisk:   risk,
		RiskLevel:       gradeRisk(risk),
		Stats:           m.stats,
	}
}

// portfolioRiskLocked sums the unrealized loss percentage across positions.
// Profitable positions contribute zero, risk never nets against gains.
func (m *Manager) portfolioRiskLocked() float64 {
	total := 0.0
	for _, pr := range m.positions {
		var loss float64
		if pr.Side == models.Long {
			loss = (pr.EntryPrice - pr.CurrentPrice) / pr.EntryPrice
		} else {
			loss = (pr.CurrentPrice - pr.EntryPrice) / pr.EntryPrice
		}
		if loss > 0 {
			total += loss
		}
	}
	return total
}

func gradeRisk(lossPct float64) RiskLevel {
	switch {
	case lossPct < 0.01:
		return RiskLow
	case lossPct < 0.02:
		return RiskMedium
	case lossPct < 0.05:
		return RiskHigh
	default:
		return RiskExtreme
	}
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
