// Package execution turns fused signals into exchange orders behind three
// guards: duplicate suppression, slippage bounding and classified retry.
// Every submitted order is tracked to a terminal state.
package execution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"okx-trader/internal/config"
	"okx-trader/internal/errors"
	"okx-trader/internal/exchange"
	"okx-trader/internal/models"
)

// sizeTolerance is the size difference under which two orders count as the
// same order for duplicate suppression.
const sizeTolerance = 0.001

// OrderState is the lifecycle state of a tracked order.
type OrderState string

const (
	StatePending         OrderState = "pending"
	StateSubmitted       OrderState = "submitted"
	StatePartiallyFilled OrderState = "partially_filled"
	StateFilled          OrderState = "filled"
	StateCancelled       OrderState = "cancelled"
	StateFailed          OrderState = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s OrderState) Terminal() bool {
	return s == StateFilled || s == StateCancelled || s == StateFailed
}

// canTransition encodes the order state machine. Failure is reachable from
// every non-terminal state.
func canTransition(from, to OrderState) bool {
	if from.Terminal() {
		return false
	}
	if to == StateFailed {
		return true
	}
	switch from {
	case StatePending:
		return to == StateSubmitted
	case StateSubmitted:
		return to == StatePartiallyFilled || to == StateFilled || to == StateCancelled
	case StatePartiallyFilled:
		return to == StateFilled || to == StateCancelled
	default:
		return false
	}
}

// Tracker follows one order from submission to a terminal state.
type Tracker struct {
	OrderID       string
	ClientOrderID string
	Params        models.OrderParams
	Signal        models.TradingSignal
	State         OrderState
	FilledSize    float64
	AvgFillPrice  float64
	Slippage      float64
	RetryCount    int
	SubmitTime    time.Time
	LastUpdate    time.Time
}

// Result is the outcome of an execution attempt.
type Result struct {
	OrderID       string
	ClientOrderID string
	FilledSize    float64
	AvgFillPrice  float64
	Message       string
}

// Stats holds execution counters.
type Stats struct {
	TotalOrders        uint64
	SuccessfulOrders   uint64
	FailedOrders       uint64
	CancelledOrders    uint64
	SlippageProtected  uint64
	DuplicatePrevented uint64
	PartialFills       uint64
	RetriesExecuted    uint64
	AvgSlippage        float64
	ActiveOrders       int
}

// Executor submits orders through the guard pipeline. Safe for concurrent use.
type Executor struct {
	client exchange.Client
	cfg    config.ExecutionConfig
	policy RetryPolicy
	logger zerolog.Logger

	mu      sync.Mutex
	active  map[string]*Tracker
	recent  []*Tracker
	stats   Stats
	retries uint64
	now     func() time.Time
}

const orderHistoryLimit = 1000

// NewExecutor creates an executor over the given exchange client.
func NewExecutor(client exchange.Client, cfg config.ExecutionConfig, logger zerolog.Logger) *Executor {
	return &Executor{
		client: client,
		cfg:    cfg,
		policy: NewRetryPolicy(
			cfg.MaxRetryAttempts,
			time.Duration(cfg.RetryBaseDelayMs)*time.Millisecond,
			cfg.RetryBackoffFactor,
			cfg.RetryJitterFraction,
		),
		logger: logger,
		active: make(map[string]*Tracker),
		now:    time.Now,
	}
}

// SetClock replaces the executor's time source. Tests only.
func (e *Executor) SetClock(now func() time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.now = now
}

// SetRetryPolicy replaces the retry policy. Tests use this to observe the
// backoff schedule without sleeping.
func (e *Executor) SetRetryPolicy(policy RetryPolicy) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.policy = policy
}

// Execute runs the guard pipeline and submits the order. Each guard can
// short-circuit: duplicates return ErrDuplicateOrder, a non-retryable
// submission failure returns immediately, exhausted retries return the
// last error.
func (e *Executor) Execute(ctx context.Context, params models.OrderParams, signal models.TradingSignal) (*Result, error) {
	e.mu.Lock()
	e.stats.TotalOrders++

	if e.isDuplicateLocked(params) {
		e.stats.DuplicatePrevented++
		e.mu.Unlock()
		e.logger.Warn().
			Str("symbol", params.Symbol).
			Str("side", string(params.Side)).
			Float64("size", params.Size).
			Msg("Duplicate order suppressed")
		return nil, errors.ErrDuplicateOrder
	}
	policy := e.policy
	now := e.now
	e.mu.Unlock()

	params = e.protectSlippage(ctx, params, signal)

	tracker := &Tracker{
		ClientOrderID: clientOrderID(params),
		Params:        params,
		Signal:        signal,
		State:         StatePending,
		SubmitTime:    now(),
		LastUpdate:    now(),
	}
	tracker.Params.ClientOrderID = tracker.ClientOrderID

	// Register before submission so a concurrent Execute with the same
	// shape is suppressed while this one is in flight.
	e.mu.Lock()
	e.recordLocked(tracker)
	e.mu.Unlock()

	var placed *exchange.OrderResult
	attempt := 0
	err := policy.CallWithRetry(ctx, func(ctx context.Context) error {
		if attempt > 0 {
			e.mu.Lock()
			e.stats.RetriesExecuted++
			e.mu.Unlock()
		}
		tracker.RetryCount = attempt
		attempt++

		result, err := e.client.PlaceOrder(ctx, tracker.Params)
		if err != nil {
			e.logger.Warn().
				Int("attempt", attempt).
				Str("symbol", params.Symbol).
				Err(err).
				Msg("Order submission failed")
			return err
		}
		placed = result
		return nil
	})

	e.mu.Lock()
	defer e.mu.Unlock()

	if err != nil {
		e.transitionLocked(tracker, StateFailed)
		e.stats.FailedOrders++
		return nil, errors.NewOrderError("", params.Symbol, "place", "submission failed", err)
	}

	tracker.OrderID = placed.OrderID
	e.transitionLocked(tracker, StateSubmitted)
	e.active[tracker.OrderID] = tracker
	e.stats.SuccessfulOrders++

	e.logger.Info().
		Str("order_id", tracker.OrderID).
		Str("symbol", params.Symbol).
		Str("side", string(params.Side)).
		Float64("size", params.Size).
		Msg("Order submitted")

	return &Result{
		OrderID:       tracker.OrderID,
		ClientOrderID: tracker.ClientOrderID,
		Message:       placed.Message,
	}, nil
}

func clientOrderID(params models.OrderParams) string {
	if params.ClientOrderID != "" {
		return params.ClientOrderID
	}
	return fmt.Sprintf("smart%s", uuid.New().String()[:8])
}

// isDuplicateLocked reports whether a live order with the same instrument,
// side and comparable size was submitted within the duplicate window.
func (e *Executor) isDuplicateLocked(params models.OrderParams) bool {
	cutoff := e.now().Add(-time.Duration(e.cfg.DuplicateWindowSec) * time.Second)

	for i := len(e.recent) - 1; i >= 0; i-- {
		tracker := e.recent[i]
		if tracker.SubmitTime.Before(cutoff) {
			break // recent is append-ordered, everything earlier is older
		}
		if tracker.State == StateFailed || tracker.State == StateCancelled {
			continue
		}
		sizeDiff := tracker.Params.Size - params.Size
		if sizeDiff < 0 {
			sizeDiff = -sizeDiff
		}
		if tracker.Params.Symbol == params.Symbol &&
			tracker.Params.Side == params.Side &&
			sizeDiff < sizeTolerance {
			return true
		}
	}
	return false
}

// protectSlippage clamps a limit price whose deviation from the signal's
// expected entry exceeds the configured bound. Market orders and a failed
// price fetch pass through unchanged.
func (e *Executor) protectSlippage(ctx context.Context, params models.OrderParams, signal models.TradingSignal) models.OrderParams {
	if e.cfg.SlippageMode == "none" || params.Type != models.OrderTypeLimit || signal.EntryPrice <= 0 {
		return params
	}

	currentPrice, err := e.client.GetCurrentPrice(ctx, params.Symbol)
	if err != nil {
		e.logger.Warn().Err(err).Str("symbol", params.Symbol).
			Msg("Price unavailable, skipping slippage protection")
		return params
	}

	deviation := currentPrice - signal.EntryPrice
	if deviation < 0 {
		deviation = -deviation
	}

	var bound float64
	switch e.cfg.SlippageMode {
	case "percentage":
		bound = signal.EntryPrice * e.cfg.MaxSlippagePct
	case "absolute":
		bound = e.cfg.MaxSlippageAbs
	case "adaptive":
		// Lower confidence means a tighter bound: the less the signal is
		// trusted, the less slippage is tolerated on its behalf.
		bound = signal.EntryPrice * e.cfg.MaxSlippagePct * e.cfg.AdaptiveFactor * signal.Confidence
	default:
		return params
	}

	if deviation <= bound {
		return params
	}

	protected := signal.EntryPrice + bound
	if params.Side == models.SideSell {
		protected = signal.EntryPrice - bound
	}

	e.mu.Lock()
	e.stats.SlippageProtected++
	e.mu.Unlock()

	e.logger.Info().
		Str("symbol", params.Symbol).
		Float64("requested", params.Price).
		Float64("protected", protected).
		Msg("Slippage protection applied")

	params.Price = protected
	return params
}

func (e *Executor) recordLocked(tracker *Tracker) {
	e.recent = append(e.recent, tracker)
	if len(e.recent) > orderHistoryLimit {
		e.recent = e.recent[len(e.recent)-orderHistoryLimit:]
	}
}

func (e *Executor) transitionLocked(tracker *Tracker, to OrderState) {
	if !canTransition(tracker.State, to) {
		e.logger.Error().
			Str("order_id", tracker.OrderID).
			Str("from", string(tracker.State)).
			Str("to", string(to)).
			Msg("Illegal order state transition ignored")
		return
	}
	tracker.State = to
	tracker.LastUpdate = e.now()
}

// MonitorActive polls the exchange for every active order, applies state
// transitions, cancels partial fills that have outstayed the timeout and
// drops terminal orders from the active set. It returns the trackers whose
// state changed.
func (e *Executor) MonitorActive(ctx context.Context) []Tracker {
	e.mu.Lock()
	ids := make([]string, 0, len(e.active))
	for id := range e.active {
		ids = append(ids, id)
	}
	e.mu.Unlock()

	var updated []Tracker
	for _, orderID := range ids {
		e.mu.Lock()
		tracker, ok := e.active[orderID]
		if !ok {
			e.mu.Unlock()
			continue
		}
		symbol := tracker.Params.Symbol
		e.mu.Unlock()

		status, err := e.client.GetOrderStatus(ctx, symbol, orderID)
		if err != nil {
			e.logger.Error().Err(err).Str("order_id", orderID).Msg("Order status poll failed")
			continue
		}

		e.mu.Lock()
		oldState := tracker.State
		e.applyStatusLocked(tracker, status)
		changed := tracker.State != oldState
		timedOut := tracker.State == StatePartiallyFilled &&
			e.now().Sub(tracker.SubmitTime) > time.Duration(e.cfg.PartialFillTimeoutSec)*time.Second
		if tracker.State.Terminal() {
			delete(e.active, orderID)
		}
		snapshot := *tracker
		e.mu.Unlock()

		if changed {
			updated = append(updated, snapshot)
			e.logger.Info().
				Str("order_id", orderID).
				Str("from", string(oldState)).
				Str("to", string(snapshot.State)).
				Msg("Order state changed")
		}

		if timedOut {
			e.logger.Warn().Str("order_id", orderID).Msg("Partial fill timed out, cancelling remainder")
			e.cancel(ctx, orderID, symbol)
		}
	}
	return updated
}

// applyStatusLocked maps an exchange status onto the tracker.
func (e *Executor) applyStatusLocked(tracker *Tracker, status *exchange.OrderStatus) {
	tracker.FilledSize = status.FilledSize
	tracker.AvgFillPrice = status.AvgFillPrice
	tracker.LastUpdate = e.now()

	if tracker.Signal.EntryPrice > 0 && status.AvgFillPrice > 0 {
		slip := status.AvgFillPrice - tracker.Signal.EntryPrice
		if slip < 0 {
			slip = -slip
		}
		tracker.Slippage = slip / tracker.Signal.EntryPrice
	}

	var next OrderState
	switch status.State {
	case "live":
		next = StateSubmitted
	case "partially_filled":
		next = StatePartiallyFilled
	case "filled":
		next = StateFilled
	case "canceled", "cancelled":
		next = StateCancelled
	default:
		return
	}
	if next == tracker.State {
		return
	}
	if next == StatePartiallyFilled && tracker.State == StateSubmitted {
		e.stats.PartialFills++
	}
	e.transitionLocked(tracker, next)
	if next == StateFilled {
		e.updateAvgSlippageLocked()
	}
}

func (e *Executor) cancel(ctx context.Context, orderID, symbol string) {
	if err := e.client.CancelOrder(ctx, symbol, orderID); err != nil {
		e.logger.Error().Err(err).Str("order_id", orderID).Msg("Cancel failed")
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if tracker, ok := e.active[orderID]; ok {
		e.transitionLocked(tracker, StateCancelled)
		delete(e.active, orderID)
	}
	e.stats.CancelledOrders++
}

// Cancel cancels a tracked order by ID.
func (e *Executor) Cancel(ctx context.Context, orderID string) error {
	e.mu.Lock()
	tracker, ok := e.active[orderID]
	if !ok {
		e.mu.Unlock()
		return errors.ErrOrderNotFound
	}
	symbol := tracker.Params.Symbol
	e.mu.Unlock()

	e.cancel(ctx, orderID, symbol)
	return nil
}

// updateAvgSlippageLocked recomputes the mean slippage over filled orders.
func (e *Executor) updateAvgSlippageLocked() {
	sum, count := 0.0, 0
	for _, tracker := range e.recent {
		if tracker.State == StateFilled && tracker.Slippage > 0 {
			sum += tracker.Slippage
			count++
		}
	}
	if count > 0 {
		e.stats.AvgSlippage = sum / float64(count)
	}
}

// Statistics returns execution counters.
func (e *Executor) Statistics() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	stats := e.stats
	stats.ActiveOrders = len(e.active)
	return stats
}

// CleanupOld drops order history older than the given age.
func (e *Executor) CleanupOld(maxAge time.Duration) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	cutoff := e.now().Add(-maxAge)
	kept := e.recent[:0]
	removed := 0
	for _, tracker := range e.recent {
		if tracker.SubmitTime.After(cutoff) {
			kept = append(kept, tracker)
		} else {
			removed++
		}
	}
	e.recent = kept

	for orderID, tracker := range e.active {
		if tracker.SubmitTime.Before(cutoff) {
			delete(e.active, orderID)
		}
	}
	return removed
}
