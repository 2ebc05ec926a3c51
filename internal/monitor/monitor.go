// Package monitor runs the per-instrument monitoring loop: each cycle it
// fans one unit of work per active instrument onto a bounded worker pool,
// collects predictor signals through a smaller concurrency gate, fuses them,
// checks portfolio capital constraints, and queues accepted signals for the
// executor. A slow exchange call never stalls the next cycle's monitoring:
// generation and execution are decoupled by the queue.
package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"okx-trader/internal/config"
	"okx-trader/internal/errors"
	"okx-trader/internal/exchange"
	"okx-trader/internal/execution"
	"okx-trader/internal/freshness"
	"okx-trader/internal/fusion"
	"okx-trader/internal/models"
	"okx-trader/internal/performance"
	"okx-trader/internal/predictor"
)

// OrderSubmitter is the executor surface the monitor drains its queue into.
type OrderSubmitter interface {
	Execute(ctx context.Context, params models.OrderParams, signal models.TradingSignal) (*execution.Result, error)
}

// Task is the monitoring state for one watched instrument. A task whose
// consecutive error count reaches the configured threshold is deactivated
// and stays inactive until Reactivate is called for it.
type Task struct {
	Symbol      string
	Active      bool
	ErrorCount  int // consecutive failures, reset on success
	TotalErrors uint64
	LastUpdate  time.Time
	LastSignal  models.TradingSignal
}

// queuedSignal is an accepted signal awaiting execution, carrying the
// capital reserved for it so a failed execution can release it.
type queuedSignal struct {
	params   models.OrderParams
	signal   models.TradingSignal
	reserved float64
	queuedAt time.Time
}

const signalQueueCap = 64

// Status is a point-in-time snapshot for dashboards and the CLI.
type Status struct {
	Instruments      int
	ActiveTasks      int
	InactiveTasks    int
	QueueDepth       int
	CyclesRun        uint64
	SignalsQueued    uint64
	SignalsExecuted  uint64
	SignalsRejected  uint64
	ExecutionErrors  uint64
	TaskErrors       uint64
	AllocatedCapital float64
	Tasks            []Task
}

// Deps are the collaborators the monitor drives each cycle. Each instrument
// gets its own freshness tracker built from FreshnessCfg: per-source
// staleness is a per-instrument question, one symbol's signals must never
// satisfy another's fusion.
type Deps struct {
	Exchange     exchange.Client
	Predictors   []predictor.Predictor
	FreshnessCfg config.FreshnessConfig
	Fusion       *fusion.Engine
	Executor     OrderSubmitter
	Logger       zerolog.Logger
}

// Monitor owns the instrument task arena and the capital ledger.
type Monitor struct {
	cfg        config.MonitorConfig
	deps       Deps
	pool       *performance.WorkerPool
	gate       *performance.Gate
	syncWindow time.Duration

	mu       sync.Mutex
	tasks    map[string]*Task
	trackers map[string]*freshness.Tracker
	queue    []queuedSignal
	now      func() time.Time

	// Capital ledger: checked and reserved under one lock so two
	// instruments cannot jointly exceed the portfolio cap.
	capitalMu sync.Mutex
	allocated float64

	cyclesRun       uint64
	signalsQueued   uint64
	signalsExecuted uint64
	signalsRejected uint64
	executionErrors uint64
	taskErrors      uint64
}

// New creates a monitor. Zero config fields fall back to safe defaults.
func New(cfg config.MonitorConfig, deps Deps) *Monitor {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 8
	}
	if cfg.PredictorConcurrency <= 0 {
		cfg.PredictorConcurrency = 3
	}
	if cfg.TaskTimeoutSec <= 0 {
		cfg.TaskTimeoutSec = 30
	}
	if cfg.MaxConsecutiveErrors <= 0 {
		cfg.MaxConsecutiveErrors = 5
	}
	if cfg.MaxSignalsPerCycle <= 0 {
		cfg.MaxSignalsPerCycle = 5
	}
	if cfg.PositionSizeRatio <= 0 {
		cfg.PositionSizeRatio = 0.10
	}

	syncWindow := time.Duration(deps.FreshnessCfg.SyncWindowSec) * time.Second
	if syncWindow <= 0 {
		syncWindow = time.Minute
	}

	return &Monitor{
		cfg:        cfg,
		deps:       deps,
		pool:       performance.NewWorkerPool(cfg.MaxWorkers),
		gate:       performance.NewGate(cfg.PredictorConcurrency),
		syncWindow: syncWindow,
		tasks:      make(map[string]*Task),
		trackers:   make(map[string]*freshness.Tracker),
		now:        time.Now,
	}
}

// SetClock replaces the monitor's time source. Tests only.
func (m *Monitor) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// Initialize registers the instruments to watch. Calling it again adds new
// symbols without disturbing existing task state.
func (m *Monitor) Initialize(symbols []string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, symbol := range symbols {
		if _, ok := m.tasks[symbol]; ok {
			continue
		}
		m.tasks[symbol] = &Task{Symbol: symbol, Active: true}
		m.trackers[symbol] = freshness.New(m.deps.FreshnessCfg)
	}

	m.deps.Logger.Info().Int("instruments", len(m.tasks)).Msg("Monitor initialized")
}

// Run drives cycles at the given interval until the context is cancelled.
// A cycle's tasks all finish (or time out) before the next cycle starts.
func (m *Monitor) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Duration(m.cfg.UpdateIntervalSec) * time.Second
	}
	if interval <= 0 {
		interval = time.Minute
	}

	m.pool.Start()
	defer m.pool.Stop()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		m.RunCycle(ctx)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunCycle executes one full monitoring cycle: one unit per active task on
// the worker pool, then a bounded drain of the signal queue. Exposed so the
// CLI can drive single cycles and tests can avoid the ticker loop.
func (m *Monitor) RunCycle(ctx context.Context) {
	wasRunning := m.pool.Stats().Running
	if !wasRunning {
		m.pool.Start()
	}

	m.mu.Lock()
	symbols := make([]string, 0, len(m.tasks))
	for symbol, task := range m.tasks {
		if task.Active {
			symbols = append(symbols, symbol)
		}
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, symbol := range symbols {
		symbol := symbol
		wg.Add(1)
		unit := func() {
			defer wg.Done()
			m.runUnit(ctx, symbol)
		}
		if !m.pool.Submit(unit) {
			// Pool saturated; run inline rather than skip the instrument.
			unit()
		}
	}
	wg.Wait()

	m.drainQueue(ctx)

	m.mu.Lock()
	for _, tracker := range m.trackers {
		tracker.Cleanup()
	}
	m.cyclesRun++
	m.mu.Unlock()

	if !wasRunning {
		m.pool.Stop()
	}
}

// runUnit wraps one instrument's monitoring step with the per-task timeout
// and the circuit-breaker accounting. Failures are logged and counted,
// never propagated.
func (m *Monitor) runUnit(ctx context.Context, symbol string) {
	unitCtx, cancel := context.WithTimeout(ctx, time.Duration(m.cfg.TaskTimeoutSec)*time.Second)
	defer cancel()

	err := m.monitorInstrument(unitCtx, symbol)

	m.mu.Lock()
	defer m.mu.Unlock()

	task, ok := m.tasks[symbol]
	if !ok {
		return
	}
	task.LastUpdate = m.now()

	if err == nil {
		task.ErrorCount = 0
		return
	}

	task.ErrorCount++
	task.TotalErrors++
	m.taskErrors++
	m.deps.Logger.Warn().
		Err(err).
		Str("symbol", symbol).
		Int("consecutive_errors", task.ErrorCount).
		Msg("Instrument monitoring failed")

	if task.ErrorCount >= m.cfg.MaxConsecutiveErrors {
		task.Active = false
		m.deps.Logger.Error().
			Str("symbol", symbol).
			Int("errors", task.ErrorCount).
			Msg("Instrument deactivated after consecutive failures")
	}
}

// monitorInstrument is the fixed-order pipeline for one instrument:
// price fetch, predictor signals, fusion, capital check, enqueue.
func (m *Monitor) monitorInstrument(ctx context.Context, symbol string) error {
	m.mu.Lock()
	tracker := m.trackers[symbol]
	m.mu.Unlock()
	if tracker == nil {
		return errors.NewValidationError("symbol", symbol, "not a monitored instrument")
	}

	price, err := m.deps.Exchange.GetCurrentPrice(ctx, symbol)
	if err != nil {
		return errors.Wrapf(err, "price fetch %s", symbol)
	}
	tracker.Update(freshness.SourcePrice, price, time.Time{})

	candles, err := m.deps.Exchange.GetCandles(ctx, symbol, "1H", 24)
	if err != nil {
		// Condition detection degrades to NORMAL without history.
		candles = nil
	}
	condition := ClassifyCondition(candles)

	m.collectSignals(ctx, symbol, tracker)

	signals := m.synchronizedSignals(tracker)
	result := m.deps.Fusion.Fuse(signals, condition)

	m.mu.Lock()
	if task, ok := m.tasks[symbol]; ok {
		task.LastSignal = result.Signal
	}
	m.mu.Unlock()

	if !result.Signal.IsActionable() {
		return nil
	}

	return m.acceptSignal(symbol, price, result.Signal)
}

// collectSignals asks every predictor for its opinion, gated by the
// predictor concurrency budget. An unavailable predictor is a normal
// condition: it is simply absent from fusion, never a unit failure.
func (m *Monitor) collectSignals(ctx context.Context, symbol string, tracker *freshness.Tracker) {
	for _, p := range m.deps.Predictors {
		if err := m.gate.Acquire(ctx); err != nil {
			return
		}
		signal, err := p.GetSignal(ctx, symbol)
		m.gate.Release()

		if err != nil {
			if !errors.Is(err, errors.ErrNoSignal) {
				m.deps.Logger.Warn().
					Err(err).
					Str("symbol", symbol).
					Str("source", string(p.Source())).
					Msg("Predictor unavailable")
			}
			continue
		}
		tracker.Update(freshness.SourceFor(p.Source()), signal, time.Time{})
	}
}

// synchronizedSignals pulls the time-aligned predictor signals out of the
// freshness tracker for fusion.
func (m *Monitor) synchronizedSignals(tracker *freshness.Tracker) map[models.SignalSource]models.TradingSignal {
	sources := []freshness.Source{
		freshness.SourceTechnical,
		freshness.SourceAI,
		freshness.SourceModel,
	}
	aligned := tracker.GetSynchronized(sources, m.syncWindow)

	signals := make(map[models.SignalSource]models.TradingSignal, len(aligned))
	for _, source := range models.AllSignalSources() {
		payload, ok := aligned[freshness.SourceFor(source)]
		if !ok {
			continue
		}
		if signal, ok := payload.(models.TradingSignal); ok {
			signals[source] = signal
		}
	}
	return signals
}

// acceptSignal sizes the trade, reserves capital atomically against the
// portfolio cap, and queues the order for the executor. Capacity
// violations reject the signal with a reason; they are not errors.
func (m *Monitor) acceptSignal(symbol string, price float64, signal models.TradingSignal) error {
	value := m.cfg.TotalCapital * m.cfg.PositionSizeRatio * signal.Strength

	if err := m.reserve(value); err != nil {
		m.mu.Lock()
		m.signalsRejected++
		m.mu.Unlock()
		m.deps.Logger.Info().
			Str("symbol", symbol).
			Float64("value", value).
			Str("reason", err.Error()).
			Msg("Signal rejected by capital check")
		return nil
	}

	side := models.SideBuy
	if signal.Kind == models.Sell {
		side = models.SideSell
	}
	params := models.OrderParams{
		Symbol:     symbol,
		Side:       side,
		Type:       models.OrderTypeMarket,
		Size:       value / price,
		StopLoss:   signal.StopLoss,
		TakeProfit: signal.TakeProfit,
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.queue) >= signalQueueCap {
		m.release(value)
		m.signalsRejected++
		return fmt.Errorf("signal queue full, dropping %s signal", symbol)
	}

	m.queue = append(m.queue, queuedSignal{
		params:   params,
		signal:   signal,
		reserved: value,
		queuedAt: m.now(),
	})
	m.signalsQueued++

	m.deps.Logger.Info().
		Str("symbol", symbol).
		Str("kind", string(signal.Kind)).
		Float64("size", params.Size).
		Float64("value", value).
		Msg("Signal queued for execution")

	return nil
}

// reserve atomically checks the portfolio cap and minimum trade value, and
// claims the capital on success.
func (m *Monitor) reserve(value float64) error {
	m.capitalMu.Lock()
	defer m.capitalMu.Unlock()

	if value < m.cfg.MinTradeValue {
		return errors.Wrapf(errors.ErrMinTradeSize,
			"trade value %.2f below minimum %.2f", value, m.cfg.MinTradeValue)
	}
	if m.cfg.TotalCapital > 0 {
		ratio := (m.allocated + value) / m.cfg.TotalCapital
		if ratio > m.cfg.MaxPositionRatio {
			return errors.Wrapf(errors.ErrCapitalLimit,
				"allocation ratio %.2f exceeds cap %.2f", ratio, m.cfg.MaxPositionRatio)
		}
	}

	m.allocated += value
	return nil
}

func (m *Monitor) release(value float64) {
	m.capitalMu.Lock()
	defer m.capitalMu.Unlock()

	m.allocated -= value
	if m.allocated < 0 {
		m.allocated = 0
	}
}

// ReleaseCapital returns closed-position notional to the ledger. Called by
// the supervisor when a position fully closes.
func (m *Monitor) ReleaseCapital(value float64) {
	m.release(value)
}

// FreshnessFor returns an instrument's freshness tracker, for status views.
func (m *Monitor) FreshnessFor(symbol string) (*freshness.Tracker, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tracker, ok := m.trackers[symbol]
	return tracker, ok
}

// Allocated returns the currently reserved notional.
func (m *Monitor) Allocated() float64 {
	m.capitalMu.Lock()
	defer m.capitalMu.Unlock()
	return m.allocated
}

// drainQueue hands at most MaxSignalsPerCycle queued signals to the
// executor, bounding executor load regardless of queue depth. A failed
// execution releases its capital reservation.
func (m *Monitor) drainQueue(ctx context.Context) {
	for drained := 0; drained < m.cfg.MaxSignalsPerCycle; drained++ {
		m.mu.Lock()
		if len(m.queue) == 0 {
			m.mu.Unlock()
			return
		}
		item := m.queue[0]
		m.queue = m.queue[1:]
		m.mu.Unlock()

		_, err := m.deps.Executor.Execute(ctx, item.params, item.signal)

		m.mu.Lock()
		if err != nil {
			m.executionErrors++
			m.mu.Unlock()
			m.release(item.reserved)
			m.deps.Logger.Error().
				Err(err).
				Str("symbol", item.params.Symbol).
				Msg("Queued signal failed to execute")
			continue
		}
		m.signalsExecuted++
		m.mu.Unlock()
	}
}

// Reactivate re-arms a deactivated task. Reactivation is an explicit
// administrative action, never automatic.
func (m *Monitor) Reactivate(symbol string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	task, ok := m.tasks[symbol]
	if !ok {
		return errors.NewValidationError("symbol", symbol, "not a monitored instrument")
	}

	task.Active = true
	task.ErrorCount = 0
	m.deps.Logger.Info().Str("symbol", symbol).Msg("Instrument reactivated")
	return nil
}

// GetMonitoringStatus returns a snapshot of tasks, queue depth and counters.
func (m *Monitor) GetMonitoringStatus() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	status := Status{
		Instruments:     len(m.tasks),
		QueueDepth:      len(m.queue),
		CyclesRun:       m.cyclesRun,
		SignalsQueued:   m.signalsQueued,
		SignalsExecuted: m.signalsExecuted,
		SignalsRejected: m.signalsRejected,
		ExecutionErrors: m.executionErrors,
		TaskErrors:      m.taskErrors,
		Tasks:           make([]Task, 0, len(m.tasks)),
	}
	for _, task := range m.tasks {
		if task.Active {
			status.ActiveTasks++
		} else {
			status.InactiveTasks++
		}
		status.Tasks = append(status.Tasks, *task)
	}

	m.capitalMu.Lock()
	status.AllocatedCapital = m.allocated
	m.capitalMu.Unlock()

	return status
}
