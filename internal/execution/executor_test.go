package execution

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"okx-trader/internal/config"
	"okx-trader/internal/errors"
	"okx-trader/internal/exchange"
	"okx-trader/internal/models"
)

// fakeExchange is a scriptable exchange.Client.
type fakeExchange struct {
	mu          sync.Mutex
	price       float64
	priceErr    error
	placeErr    error
	placeCalls  int
	cancelCalls int
	status      *exchange.OrderStatus
	statusErr   error
}

func (f *fakeExchange) GetCurrentPrice(ctx context.Context, symbol string) (float64, error) {
	return f.price, f.priceErr
}

func (f *fakeExchange) GetCandles(ctx context.Context, symbol, timeframe string, limit int) ([]models.Candle, error) {
	return nil, nil
}

func (f *fakeExchange) PlaceOrder(ctx context.Context, params models.OrderParams) (*exchange.OrderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.placeCalls++
	if f.placeErr != nil {
		return nil, f.placeErr
	}
	return &exchange.OrderResult{OrderID: "ord-1", Status: "submitted"}, nil
}

func (f *fakeExchange) CancelOrder(ctx context.Context, symbol, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelCalls++
	return nil
}

func (f *fakeExchange) GetOrderStatus(ctx context.Context, symbol, orderID string) (*exchange.OrderStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	out := *f.status
	out.OrderID = orderID
	return &out, nil
}

func (f *fakeExchange) GetPositions(ctx context.Context) ([]models.PositionInfo, error) {
	return nil, nil
}

func (f *fakeExchange) GetAvailableBalance(ctx context.Context) (float64, error) {
	return 100000, nil
}

func testExecConfig() config.ExecutionConfig {
	return config.ExecutionConfig{
		SlippageMode:          "percentage",
		MaxSlippagePct:        0.002,
		MaxSlippageAbs:        50,
		AdaptiveFactor:        1.5,
		MaxRetryAttempts:      3,
		RetryBaseDelayMs:      100,
		RetryBackoffFactor:    2.0,
		RetryJitterFraction:   0,
		DuplicateWindowSec:    30,
		PartialFillTimeoutSec: 300,
	}
}

func newTestExecutor(fake *fakeExchange) *Executor {
	return NewExecutor(fake, testExecConfig(), zerolog.Nop())
}

func buyParams() models.OrderParams {
	return models.OrderParams{
		Symbol: "BTC-USDT-SWAP",
		Side:   models.SideBuy,
		Type:   models.OrderTypeMarket,
		Size:   0.5,
	}
}

func buySignal() models.TradingSignal {
	return models.TradingSignal{Kind: models.Buy, Strength: 0.7, Confidence: 0.8, EntryPrice: 65000}
}

func TestExecuteSuppressesDuplicateWithinWindow(t *testing.T) {
	fake := &fakeExchange{price: 65000}
	exec := newTestExecutor(fake)
	ctx := context.Background()

	first, err := exec.Execute(ctx, buyParams(), buySignal())
	require.NoError(t, err)
	assert.Equal(t, "ord-1", first.OrderID)

	_, err = exec.Execute(ctx, buyParams(), buySignal())
	assert.ErrorIs(t, err, errors.ErrDuplicateOrder)

	stats := exec.Statistics()
	assert.Equal(t, uint64(2), stats.TotalOrders)
	assert.Equal(t, uint64(1), stats.SuccessfulOrders)
	assert.Equal(t, uint64(1), stats.DuplicatePrevented)
	assert.Equal(t, 1, fake.placeCalls, "the duplicate must never reach the exchange")
}

func TestExecuteAllowsResubmitAfterWindowExpires(t *testing.T) {
	fake := &fakeExchange{price: 65000}
	exec := newTestExecutor(fake)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	exec.SetClock(func() time.Time { return now })
	ctx := context.Background()

	_, err := exec.Execute(ctx, buyParams(), buySignal())
	require.NoError(t, err)

	now = now.Add(31 * time.Second)
	_, err = exec.Execute(ctx, buyParams(), buySignal())
	assert.NoError(t, err, "outside the 30s window the same shape is a new order")
}

func TestExecuteAllowsDifferentShapeImmediately(t *testing.T) {
	fake := &fakeExchange{price: 65000}
	exec := newTestExecutor(fake)
	ctx := context.Background()

	_, err := exec.Execute(ctx, buyParams(), buySignal())
	require.NoError(t, err)

	sell := buyParams()
	sell.Side = models.SideSell
	_, err = exec.Execute(ctx, sell, buySignal())
	assert.NoError(t, err, "opposite side is not a duplicate")
}

func TestExecuteRetriesTimeoutsWithIncreasingBackoff(t *testing.T) {
	fake := &fakeExchange{
		price:    65000,
		placeErr: errors.NewExchangeError(errors.ClassTimeout, "", "request timed out", nil),
	}
	exec := newTestExecutor(fake)

	var delays []time.Duration
	policy := NewRetryPolicy(3, 100*time.Millisecond, 2.0, 0)
	policy.sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}
	exec.SetRetryPolicy(policy)

	_, err := exec.Execute(context.Background(), buyParams(), buySignal())
	require.Error(t, err)

	assert.Equal(t, 3, fake.placeCalls, "exactly max attempts")
	require.Len(t, delays, 2, "no sleep after the final attempt")
	assert.Less(t, delays[0], delays[1], "backoff must grow")
	assert.Equal(t, 100*time.Millisecond, delays[0])
	assert.Equal(t, 200*time.Millisecond, delays[1])

	stats := exec.Statistics()
	assert.Equal(t, uint64(1), stats.FailedOrders)
	assert.Equal(t, uint64(2), stats.RetriesExecuted)
}

func TestExecuteDoesNotRetryRejections(t *testing.T) {
	fake := &fakeExchange{
		price:    65000,
		placeErr: errors.NewExchangeError(errors.ClassRejected, "51008", "insufficient funds", nil),
	}
	exec := newTestExecutor(fake)

	_, err := exec.Execute(context.Background(), buyParams(), buySignal())
	require.Error(t, err)
	assert.Equal(t, 1, fake.placeCalls, "rejections fail immediately")
}

func TestSlippageClampsLimitPrice(t *testing.T) {
	// Market has moved to 65500 while the signal expected 65000; the 0.2%
	// percentage bound caps the buy at 65000 + 130.
	fake := &fakeExchange{price: 65500}
	exec := newTestExecutor(fake)

	params := buyParams()
	params.Type = models.OrderTypeLimit
	params.Price = 65500

	protected := exec.protectSlippage(context.Background(), params, buySignal())
	assert.InDelta(t, 65130.0, protected.Price, 1e-9)
	assert.Equal(t, uint64(1), exec.Statistics().SlippageProtected)
}

func TestSlippageLeavesPriceWithinBound(t *testing.T) {
	fake := &fakeExchange{price: 65050}
	exec := newTestExecutor(fake)

	params := buyParams()
	params.Type = models.OrderTypeLimit
	params.Price = 65050

	protected := exec.protectSlippage(context.Background(), params, buySignal())
	assert.Equal(t, params.Price, protected.Price)
	assert.Zero(t, exec.Statistics().SlippageProtected)
}

func TestSlippageSkipsMarketOrders(t *testing.T) {
	fake := &fakeExchange{price: 70000}
	exec := newTestExecutor(fake)

	protected := exec.protectSlippage(context.Background(), buyParams(), buySignal())
	assert.Equal(t, buyParams(), protected)
}

func TestAdaptiveBoundTightensWithLowConfidence(t *testing.T) {
	cfg := testExecConfig()
	cfg.SlippageMode = "adaptive"
	fake := &fakeExchange{price: 65500}
	exec := NewExecutor(fake, cfg, zerolog.Nop())

	params := buyParams()
	params.Type = models.OrderTypeLimit
	params.Price = 65500

	confident := buySignal()
	confident.Confidence = 0.9
	hesitant := buySignal()
	hesitant.Confidence = 0.3

	highConf := exec.protectSlippage(context.Background(), params, confident)
	lowConf := exec.protectSlippage(context.Background(), params, hesitant)

	assert.Less(t, lowConf.Price, highConf.Price,
		"less trusted signals tolerate less slippage on a buy")
}

func TestMonitorActiveTransitionsToFilled(t *testing.T) {
	fake := &fakeExchange{price: 65000}
	exec := newTestExecutor(fake)
	ctx := context.Background()

	result, err := exec.Execute(ctx, buyParams(), buySignal())
	require.NoError(t, err)

	fake.status = &exchange.OrderStatus{
		Symbol: "BTC-USDT-SWAP", State: "partially_filled", FilledSize: 0.2, TotalSize: 0.5, AvgFillPrice: 65010,
	}
	updated := exec.MonitorActive(ctx)
	require.Len(t, updated, 1)
	assert.Equal(t, StatePartiallyFilled, updated[0].State)

	fake.status.State = "filled"
	fake.status.FilledSize = 0.5
	updated = exec.MonitorActive(ctx)
	require.Len(t, updated, 1)
	assert.Equal(t, StateFilled, updated[0].State)

	stats := exec.Statistics()
	assert.Equal(t, uint64(1), stats.PartialFills)
	assert.Zero(t, stats.ActiveOrders, "terminal orders leave the active set")
	assert.InDelta(t, 10.0/65000.0, stats.AvgSlippage, 1e-9)

	_ = result
}

func TestMonitorActiveCancelsStalePartialFill(t *testing.T) {
	fake := &fakeExchange{price: 65000}
	exec := newTestExecutor(fake)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	exec.SetClock(func() time.Time { return now })
	ctx := context.Background()

	_, err := exec.Execute(ctx, buyParams(), buySignal())
	require.NoError(t, err)

	fake.status = &exchange.OrderStatus{
		Symbol: "BTC-USDT-SWAP", State: "partially_filled", FilledSize: 0.2, TotalSize: 0.5, AvgFillPrice: 65010,
	}
	exec.MonitorActive(ctx)
	assert.Zero(t, fake.cancelCalls, "within the timeout nothing is cancelled")

	now = now.Add(6 * time.Minute)
	exec.MonitorActive(ctx)
	assert.Equal(t, 1, fake.cancelCalls)
	assert.Equal(t, uint64(1), exec.Statistics().CancelledOrders)
}

func TestStateMachineRejectsIllegalTransitions(t *testing.T) {
	assert.True(t, canTransition(StatePending, StateSubmitted))
	assert.True(t, canTransition(StateSubmitted, StatePartiallyFilled))
	assert.True(t, canTransition(StateSubmitted, StateFilled))
	assert.True(t, canTransition(StatePartiallyFilled, StateFilled))
	assert.True(t, canTransition(StatePartiallyFilled, StateCancelled))
	assert.True(t, canTransition(StateSubmitted, StateFailed))

	assert.False(t, canTransition(StatePending, StateFilled), "fills require submission first")
	assert.False(t, canTransition(StateFilled, StateCancelled), "filled is terminal")
	assert.False(t, canTransition(StateCancelled, StateSubmitted), "cancelled is terminal")
	assert.False(t, canTransition(StateFailed, StateSubmitted), "failed is terminal")
}

func TestCleanupOldDropsStaleHistory(t *testing.T) {
	fake := &fakeExchange{price: 65000}
	exec := newTestExecutor(fake)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	exec.SetClock(func() time.Time { return now })
	ctx := context.Background()

	_, err := exec.Execute(ctx, buyParams(), buySignal())
	require.NoError(t, err)

	now = now.Add(25 * time.Hour)
	removed := exec.CleanupOld(24 * time.Hour)
	assert.Equal(t, 1, removed)
	assert.Zero(t, exec.Statistics().ActiveOrders)
}
