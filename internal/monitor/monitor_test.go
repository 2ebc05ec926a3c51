package monitor

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
	"okx-trader/internal/execution"
	"okx-trader/internal/fusion"
	"okx-trader/internal/models"
	"okx-trader/internal/predictor"
)

// feedStub is a concurrency-safe exchange stub serving one price to every
// symbol and counting calls.
type feedStub struct {
	mu         sync.Mutex
	price      float64
	priceErr   error
	priceCalls int
}

func (f *feedStub) GetCurrentPrice(ctx context.Context, symbol string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.priceCalls++
	if f.priceErr != nil {
		return 0, f.priceErr
	}
	return f.price, nil
}

func (f *feedStub) GetCandles(ctx context.Context, symbol, timeframe string, limit int) ([]models.Candle, error) {
	f.mu.Lock()
	price := f.price
	f.mu.Unlock()
	candles := make([]models.Candle, limit)
	for i := range candles {
		candles[i] = models.Candle{
			Open: price, High: price * 1.002, Low: price * 0.998, Close: price,
		}
	}
	return candles, nil
}

func (f *feedStub) PlaceOrder(ctx context.Context, params models.OrderParams) (*exchange.OrderResult, error) {
	return nil, errors.ErrOrderRejected
}

func (f *feedStub) CancelOrder(ctx context.Context, symbol, orderID string) error {
	return nil
}

func (f *feedStub) GetOrderStatus(ctx context.Context, symbol, orderID string) (*exchange.OrderStatus, error) {
	return nil, errors.ErrOrderNotFound
}

func (f *feedStub) GetPositions(ctx context.Context) ([]models.PositionInfo, error) {
	return nil, nil
}

func (f *feedStub) GetAvailableBalance(ctx context.Context) (float64, error) {
	return 100000, nil
}

func (f *feedStub) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.priceCalls
}

// opinionStub is a predictor with a scripted signal or error.
type opinionStub struct {
	source models.SignalSource
	signal models.TradingSignal
	err    error
}

func (o *opinionStub) Source() models.SignalSource {
	return o.source
}

func (o *opinionStub) GetSignal(ctx context.Context, symbol string) (models.TradingSignal, error) {
	if o.err != nil {
		return models.TradingSignal{}, o.err
	}
	return o.signal, nil
}

// sinkStub records executed orders.
type sinkStub struct {
	mu     sync.Mutex
	orders []models.OrderParams
	err    error
}

func (s *sinkStub) Execute(ctx context.Context, params models.OrderParams, signal models.TradingSignal) (*execution.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.orders = append(s.orders, params)
	return &execution.Result{OrderID: "OID"}, nil
}

func (s *sinkStub) executed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

func testMonitorConfig() config.MonitorConfig {
	return config.MonitorConfig{
		MaxWorkers:           4,
		PredictorConcurrency: 2,
		TaskTimeoutSec:       5,
		MaxConsecutiveErrors: 3,
		TotalCapital:         100000,
		MaxPositionRatio:     0.30,
		PositionSizeRatio:    0.10,
		MinTradeValue:        100,
		MaxSignalsPerCycle:   5,
	}
}

func testFreshnessConfig() config.FreshnessConfig {
	return config.FreshnessConfig{
		PriceValiditySec:     30,
		TechnicalValiditySec: 120,
		AIValiditySec:        300,
		ModelValiditySec:     600,
		SyncWindowSec:        60,
	}
}

func newEngine() *fusion.Engine {
	return fusion.NewEngine(fusion.DefaultEngineConfig(config.FusionConfig{
		MinConfidence:        0.6,
		ConsensusThreshold:   0.7,
		ConsensusBonus:       0.1,
		LowConsensusDiscount: 0.2,
		RecentAccuracyAlpha:  0.1,
	}), zerolog.Nop())
}

func buyers() []predictor.Predictor {
	return []predictor.Predictor{
		&opinionStub{source: models.SourceTechnical, signal: models.TradingSignal{
			Kind: models.Buy, Strength: 0.6, Confidence: 0.8, EntryPrice: 65000,
		}},
		&opinionStub{source: models.SourceModel, signal: models.TradingSignal{
			Kind: models.Buy, Strength: 0.4, Confidence: 0.7, EntryPrice: 65000,
		}},
	}
}

func newMonitorUnderTest(cfg config.MonitorConfig, feed *feedStub, sink *sinkStub, predictors []predictor.Predictor) *Monitor {
	m := New(cfg, Deps{
		Exchange:     feed,
		Predictors:   predictors,
		FreshnessCfg: testFreshnessConfig(),
		Fusion:       newEngine(),
		Executor:     sink,
		Logger:       zerolog.Nop(),
	})
	return m
}

func TestCycleQueuesAndExecutesFusedSignal(t *testing.T) {
	feed := &feedStub{price: 65000}
	sink := &sinkStub{}
	m := newMonitorUnderTest(testMonitorConfig(), feed, sink, buyers())
	m.Initialize([]string{"BTC-USDT-SWAP"})

	m.RunCycle(context.Background())

	require.Equal(t, 1, sink.executed())
	order := sink.orders[0]
	assert.Equal(t, "BTC-USDT-SWAP", order.Symbol)
	assert.Equal(t, models.SideBuy, order.Side)
	assert.Greater(t, order.Size, 0.0)

	status := m.GetMonitoringStatus()
	assert.Equal(t, uint64(1), status.SignalsQueued)
	assert.Equal(t, uint64(1), status.SignalsExecuted)
	assert.Equal(t, 0, status.QueueDepth)
	assert.Greater(t, m.Allocated(), 0.0, "accepted signal keeps its reservation")
}

func TestConsecutiveDirectCyclesReuseThePool(t *testing.T) {
	feed := &feedStub{price: 65000}
	sink := &sinkStub{}
	m := newMonitorUnderTest(testMonitorConfig(), feed, sink, buyers())
	m.Initialize([]string{"BTC-USDT-SWAP"})

	// Each direct RunCycle spins the worker pool up and back down; the
	// pool must come back for the next cycle.
	for i := 0; i < 3; i++ {
		m.RunCycle(context.Background())
	}

	status := m.GetMonitoringStatus()
	assert.Equal(t, uint64(3), status.CyclesRun)
	assert.Equal(t, uint64(3), status.SignalsExecuted)
	assert.Zero(t, status.TaskErrors)
}

func TestHoldSignalIsNotQueued(t *testing.T) {
	feed := &feedStub{price: 65000}
	sink := &sinkStub{}
	predictors := []predictor.Predictor{
		&opinionStub{source: models.SourceTechnical, signal: models.TradingSignal{
			Kind: models.Hold, Strength: 0.5, Confidence: 0.5, EntryPrice: 65000,
		}},
	}
	m := newMonitorUnderTest(testMonitorConfig(), feed, sink, predictors)
	m.Initialize([]string{"BTC-USDT-SWAP"})

	m.RunCycle(context.Background())

	assert.Equal(t, 0, sink.executed())
	assert.Zero(t, m.Allocated())
}

func TestCapitalRatioCapRejectsSignal(t *testing.T) {
	cfg := testMonitorConfig()
	cfg.MaxPositionRatio = 0.01 // fused value ~5% of capital exceeds this
	feed := &feedStub{price: 65000}
	sink := &sinkStub{}
	m := newMonitorUnderTest(cfg, feed, sink, buyers())
	m.Initialize([]string{"BTC-USDT-SWAP"})

	m.RunCycle(context.Background())

	assert.Equal(t, 0, sink.executed())
	assert.Zero(t, m.Allocated())

	status := m.GetMonitoringStatus()
	assert.Equal(t, uint64(1), status.SignalsRejected)
	assert.Equal(t, uint64(0), status.TaskErrors, "capacity rejection is not a task error")
	assert.Equal(t, 1, status.ActiveTasks)
}

func TestMinimumTradeValueRejectsSignal(t *testing.T) {
	cfg := testMonitorConfig()
	cfg.MinTradeValue = 50000
	feed := &feedStub{price: 65000}
	sink := &sinkStub{}
	m := newMonitorUnderTest(cfg, feed, sink, buyers())
	m.Initialize([]string{"BTC-USDT-SWAP"})

	m.RunCycle(context.Background())

	assert.Equal(t, 0, sink.executed())
	assert.Equal(t, uint64(1), m.GetMonitoringStatus().SignalsRejected)
}

func TestConsecutiveFailuresDeactivateTask(t *testing.T) {
	feed := &feedStub{price: 65000, priceErr: errors.ErrConnectionFailed}
	sink := &sinkStub{}
	m := newMonitorUnderTest(testMonitorConfig(), feed, sink, buyers())
	m.Initialize([]string{"BTC-USDT-SWAP"})

	for i := 0; i < 3; i++ {
		m.RunCycle(context.Background())
	}

	status := m.GetMonitoringStatus()
	assert.Equal(t, 0, status.ActiveTasks)
	assert.Equal(t, 1, status.InactiveTasks)
	assert.Equal(t, uint64(3), status.TaskErrors)

	// Deactivated tasks are skipped entirely.
	before := feed.calls()
	m.RunCycle(context.Background())
	assert.Equal(t, before, feed.calls())
}

func TestReactivateReArmsTask(t *testing.T) {
	feed := &feedStub{price: 65000, priceErr: errors.ErrConnectionFailed}
	sink := &sinkStub{}
	m := newMonitorUnderTest(testMonitorConfig(), feed, sink, buyers())
	m.Initialize([]string{"BTC-USDT-SWAP"})

	for i := 0; i < 3; i++ {
		m.RunCycle(context.Background())
	}
	require.Equal(t, 0, m.GetMonitoringStatus().ActiveTasks)

	require.NoError(t, m.Reactivate("BTC-USDT-SWAP"))
	assert.Equal(t, 1, m.GetMonitoringStatus().ActiveTasks)

	feed.mu.Lock()
	feed.priceErr = nil
	feed.mu.Unlock()

	m.RunCycle(context.Background())
	assert.Equal(t, 1, sink.executed())
}

func TestReactivateUnknownInstrument(t *testing.T) {
	m := newMonitorUnderTest(testMonitorConfig(), &feedStub{price: 1}, &sinkStub{}, nil)
	assert.Error(t, m.Reactivate("DOGE-USDT-SWAP"))
}

func TestPredictorFailureDoesNotFailTask(t *testing.T) {
	feed := &feedStub{price: 65000}
	sink := &sinkStub{}
	predictors := []predictor.Predictor{
		&opinionStub{source: models.SourceTechnical, signal: models.TradingSignal{
			Kind: models.Buy, Strength: 0.6, Confidence: 0.8, EntryPrice: 65000,
		}},
		&opinionStub{source: models.SourceAI, err: errors.ErrTimeout},
	}
	m := newMonitorUnderTest(testMonitorConfig(), feed, sink, predictors)
	m.Initialize([]string{"BTC-USDT-SWAP"})

	m.RunCycle(context.Background())

	status := m.GetMonitoringStatus()
	assert.Equal(t, uint64(0), status.TaskErrors, "a failed predictor is an absent source, not a unit failure")
	assert.Equal(t, 1, status.ActiveTasks)
	assert.Equal(t, 1, sink.executed(), "fusion proceeds on the remaining source")
}

func TestDrainIsCappedPerCycle(t *testing.T) {
	cfg := testMonitorConfig()
	cfg.MaxSignalsPerCycle = 1
	feed := &feedStub{price: 65000}
	sink := &sinkStub{}
	m := newMonitorUnderTest(cfg, feed, sink, buyers())
	m.Initialize([]string{"BTC-USDT-SWAP", "ETH-USDT-SWAP", "SOL-USDT-SWAP"})

	m.RunCycle(context.Background())

	assert.Equal(t, 1, sink.executed())
	assert.Equal(t, 2, m.GetMonitoringStatus().QueueDepth)

	m.RunCycle(context.Background())
	assert.GreaterOrEqual(t, sink.executed(), 2)
}

func TestFailedExecutionReleasesReservation(t *testing.T) {
	feed := &feedStub{price: 65000}
	sink := &sinkStub{err: errors.ErrOrderRejected}
	m := newMonitorUnderTest(testMonitorConfig(), feed, sink, buyers())
	m.Initialize([]string{"BTC-USDT-SWAP"})

	m.RunCycle(context.Background())

	assert.Zero(t, m.Allocated())
	status := m.GetMonitoringStatus()
	assert.Equal(t, uint64(1), status.ExecutionErrors)
	assert.Equal(t, uint64(0), status.SignalsExecuted)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	feed := &feedStub{price: 65000}
	sink := &sinkStub{}
	m := newMonitorUnderTest(testMonitorConfig(), feed, sink, buyers())
	m.Initialize([]string{"BTC-USDT-SWAP"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- m.Run(ctx, 10*time.Millisecond)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
}

func TestClassifyCondition(t *testing.T) {
	flat := func(price, spread float64, n int) []models.Candle {
		candles := make([]models.Candle, n)
		for i := range candles {
			candles[i] = models.Candle{
				Open: price, High: price * (1 + spread), Low: price * (1 - spread), Close: price,
			}
		}
		return candles
	}

	assert.Equal(t, models.MarketNormal, ClassifyCondition(nil))
	assert.Equal(t, models.MarketHighVolatility, ClassifyCondition(flat(65000, 0.04, 24)))
	assert.Equal(t, models.MarketSideways, ClassifyCondition(flat(65000, 0.008, 24)))

	trending := flat(65000, 0.01, 24)
	for i := range trending {
		trending[i].Close = 65000 * (1 + 0.002*float64(i))
	}
	assert.Equal(t, models.MarketTrending, ClassifyCondition(trending))
}
