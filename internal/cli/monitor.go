package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"okx-trader/internal/exchange"
	"okx-trader/internal/execution"
	"okx-trader/internal/indicators"
	"okx-trader/internal/logging"
	"okx-trader/internal/models"
	"okx-trader/internal/monitor"
	"okx-trader/internal/predictor"
	"okx-trader/internal/risk"
	"okx-trader/internal/store"
)

// buildPredictors assembles the configured signal sources. The technical
// predictor is always available; AI and model predictors join only when
// their backends are configured.
func buildPredictors(app *App) []predictor.Predictor {
	predictors := []predictor.Predictor{
		predictor.NewTechnical(app.Exchange, predictor.DefaultTechnicalConfig(), app.Logger),
	}
	if app.LLMClient != nil {
		predictors = append(predictors, predictor.NewAI(app.LLMClient, app.Exchange, app.Logger))
	}
	if app.Config.Credentials.ModelService.BaseURL != "" {
		predictors = append(predictors, predictor.NewModel(app.Config.Credentials.ModelService, app.Logger))
	}
	return predictors
}

// journalingSubmitter wraps the executor so every executed signal and its
// order outcome land in the journal. Journal failures are logged, never
// allowed to block trading.
type journalingSubmitter struct {
	executor *execution.Executor
	store    store.DataStore
	logger   zerolog.Logger
}

func (j *journalingSubmitter) Execute(ctx context.Context, params models.OrderParams, signal models.TradingSignal) (*execution.Result, error) {
	result, err := j.executor.Execute(ctx, params, signal)

	if j.store != nil {
		record := &store.SignalRecord{
			ID:        uuid.NewString(),
			Timestamp: time.Now(),
			Symbol:    params.Symbol,
			Source:    store.SourceFused,
			Signal:    signal,
		}
		if saveErr := j.store.SaveSignal(ctx, record); saveErr != nil {
			j.logger.Warn().Err(saveErr).Str("symbol", params.Symbol).Msg("Failed to journal signal")
		}
	}

	if j.store != nil && result != nil {
		state := string(execution.StateSubmitted)
		if result.FilledSize >= params.Size {
			state = string(execution.StateFilled)
		} else if result.FilledSize > 0 {
			state = string(execution.StatePartiallyFilled)
		}
		order := &store.OrderRecord{
			OrderID:       result.OrderID,
			ClientOrderID: result.ClientOrderID,
			Symbol:        params.Symbol,
			Side:          params.Side,
			Type:          params.Type,
			Size:          params.Size,
			Price:         params.Price,
			State:         state,
			FilledSize:    result.FilledSize,
			AvgFillPrice:  result.AvgFillPrice,
			SubmitTime:    time.Now(),
			LastUpdate:    time.Now(),
		}
		if saveErr := j.store.SaveOrder(ctx, order); saveErr != nil {
			j.logger.Warn().Err(saveErr).Str("order_id", result.OrderID).Msg("Failed to journal order")
		}
	}

	return result, err
}

func newMonitorCmd(app *App) *cobra.Command {
	var (
		intervalSec int
		once        bool
	)

	cmd := &cobra.Command{
		Use:   "monitor [symbols...]",
		Short: "Monitor instruments and trade fused signals",
		Long: `Monitor watches the given instruments (or the configured symbol list),
fuses predictor signals each cycle, and executes actionable signals with
guarded order placement. Open positions are supervised with trailing
stops, laddered take-profits and emergency exits until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			symbols := args
			if len(symbols) == 0 {
				symbols = app.Config.Trading.Symbols
			}
			if len(symbols) == 0 {
				symbols = []string{"BTC-USDT-SWAP", "ETH-USDT-SWAP"}
			}

			executor := execution.NewExecutor(app.Exchange, app.Config.Execution, app.Logger)
			submitter := &journalingSubmitter{
				executor: executor,
				store:    app.Store,
				logger:   app.Logger,
			}

			fusionEngine := newFusionEngine(app)
			mon := monitor.New(app.Config.Monitor, monitor.Deps{
				Exchange:     app.Exchange,
				Predictors:   buildPredictors(app),
				FreshnessCfg: app.Config.Freshness,
				Fusion:       fusionEngine,
				Executor:     submitter,
				Logger:       app.Logger,
			})
			mon.Initialize(symbols)

			interval := time.Duration(intervalSec) * time.Second
			if intervalSec <= 0 {
				interval = time.Duration(app.Config.Monitor.UpdateIntervalSec) * time.Second
			}
			if interval <= 0 {
				interval = time.Minute
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if once {
				mon.RunCycle(ctx)
				printMonitorStatus(output, mon.GetMonitoringStatus())
				return nil
			}

			output.Info("Monitoring %d instruments (%s mode), interval %s. Ctrl-C to stop.",
				len(symbols), app.Config.Trading.Mode, interval)

			sup := newSupervisor(app, mon, executor)
			go sup.run(ctx)

			err := mon.Run(ctx, interval)
			if err == context.Canceled {
				output.Println()
				printMonitorStatus(output, mon.GetMonitoringStatus())
				return nil
			}
			return err
		},
	}

	cmd.Flags().IntVar(&intervalSec, "interval", 0, "cycle interval in seconds (default from config)")
	cmd.Flags().BoolVar(&once, "once", false, "run a single cycle and exit")

	return cmd
}

func printMonitorStatus(output *Output, status monitor.Status) {
	output.Bold("Monitoring Status")
	output.Printf("  Instruments:     %d (%d active, %d inactive)\n",
		status.Instruments, status.ActiveTasks, status.InactiveTasks)
	output.Printf("  Cycles run:      %d\n", status.CyclesRun)
	output.Printf("  Signals queued:  %d (executed %d, rejected %d)\n",
		status.SignalsQueued, status.SignalsExecuted, status.SignalsRejected)
	output.Printf("  Errors:          %d task, %d execution\n",
		status.TaskErrors, status.ExecutionErrors)
	output.Println()

	if len(status.Tasks) == 0 {
		return
	}
	table := NewTable(output, "SYMBOL", "ACTIVE", "LAST SIGNAL", "ERRORS", "UPDATED")
	for _, task := range status.Tasks {
		active := output.Green("yes")
		if !task.Active {
			active = output.Red("no")
		}
		updated := "-"
		if !task.LastUpdate.IsZero() {
			updated = task.LastUpdate.Format("15:04:05")
		}
		table.AddRow(
			task.Symbol,
			active,
			output.SignalColor(string(task.LastSignal.Kind)),
			formatInt(int(task.TotalErrors)),
			updated,
		)
	}
	table.Render()
}

// supervisor watches open positions between monitoring cycles and executes
// the risk manager's decisions: stop updates are local state, triggered
// stops and emergency exits close the full position, partial take-profits
// close one ladder rung. In live mode a websocket price stream feeds the
// risk manager between polls.
type supervisor struct {
	app      *App
	monitor  *monitor.Monitor
	riskMgr  *risk.Manager
	executor *execution.Executor
	logger   zerolog.Logger

	// symbol -> managed position ID
	tracked map[string]string
}

func newSupervisor(app *App, mon *monitor.Monitor, executor *execution.Executor) *supervisor {
	return &supervisor{
		app:      app,
		monitor:  mon,
		riskMgr:  risk.NewManager(app.Config.Risk, app.Logger),
		executor: executor,
		logger:   app.Logger.With().Str("component", "supervisor").Logger(),
		tracked:  make(map[string]string),
	}
}

func (s *supervisor) run(ctx context.Context) {
	if !s.app.Config.IsPaperMode() {
		s.startTicker(ctx)
	}

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.executor.MonitorActive(ctx)
			s.reconcile(ctx)
			s.riskMgr.Cleanup()
		}
	}
}

// startTicker subscribes the public price stream and routes ticks straight
// into the risk manager, so stops react between position polls.
func (s *supervisor) startTicker(ctx context.Context) {
	tick := exchange.NewOKXTicker(exchange.OKXTickerConfig{})
	tick.OnTick(func(t models.Tick) {
		s.applyPrice(ctx, t.Symbol, t.Price)
	})
	tick.OnError(func(err error) {
		s.logger.Warn().Err(err).Msg("Price stream error")
	})

	if err := tick.Connect(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Price stream unavailable, falling back to polling")
		return
	}

	symbols := s.app.Config.Trading.Symbols
	if err := tick.Subscribe(symbols); err != nil {
		s.logger.Warn().Err(err).Msg("Price stream subscribe failed")
	}

	go func() {
		<-ctx.Done()
		tick.Disconnect()
	}()
}

// reconcile aligns the risk book with the exchange's position list: new
// positions are registered, known positions get a price update, and
// positions gone from the exchange release their capital.
func (s *supervisor) reconcile(ctx context.Context) {
	positions, err := s.app.Exchange.GetPositions(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Position fetch failed")
		return
	}

	open := make(map[string]models.PositionInfo, len(positions))
	for _, pos := range positions {
		open[pos.Symbol] = pos
	}

	for symbol, pos := range open {
		if _, ok := s.tracked[symbol]; !ok {
			pr := s.riskMgr.Open(pos, models.TradingSignal{}, s.currentATR(ctx, symbol))
			s.tracked[symbol] = pr.ID
		}
		s.applyPrice(ctx, symbol, pos.MarkPrice)
	}

	for symbol, id := range s.tracked {
		if _, ok := open[symbol]; ok {
			continue
		}
		if pr, found := s.riskMgr.Get(id); found {
			s.monitor.ReleaseCapital(pr.Size * pr.EntryPrice)
		}
		delete(s.tracked, symbol)
		s.logger.Info().Str("symbol", symbol).Msg("Position closed, capital released")
	}
}

// currentATR sizes volatility for the initial stop; zero when no candle
// history is available, which falls back to the fixed percentage stop.
func (s *supervisor) currentATR(ctx context.Context, symbol string) float64 {
	candles, err := s.app.Exchange.GetCandles(ctx, symbol, "1H", 24)
	if err != nil {
		return 0
	}
	atr, err := indicators.LatestATR(candles, 14)
	if err != nil {
		return 0
	}
	return atr
}

func (s *supervisor) applyPrice(ctx context.Context, symbol string, price float64) {
	id, ok := s.tracked[symbol]
	if !ok {
		return
	}
	for _, action := range s.riskMgr.Update(id, price) {
		s.executeAction(ctx, id, symbol, price, action)
	}
}

func (s *supervisor) executeAction(ctx context.Context, positionID, symbol string, price float64, action risk.Action) {
	logging.LogRiskAction(s.logger, positionID, action.String(), price)
	s.journalRiskEvent(ctx, positionID, symbol, price, action)

	pr, ok := s.riskMgr.Get(positionID)
	if !ok {
		return
	}

	switch action.Type {
	case risk.ActionUpdateStopLoss:
		// Stop state lives in the risk manager; nothing to send.
	case risk.ActionPartialTakeProfit:
		s.closePosition(ctx, pr, action.CloseSize)
	case risk.ActionTriggerStopLoss, risk.ActionEmergencyExit:
		s.closePosition(ctx, pr, pr.Size-pr.PartialProfitsTaken)
	}
}

// closePosition submits a reduce-only market order on the opposite side.
func (s *supervisor) closePosition(ctx context.Context, pr risk.PositionRisk, size float64) {
	if size <= 0 {
		return
	}

	side := models.SideSell
	if pr.Side == models.Short {
		side = models.SideBuy
	}
	params := models.OrderParams{
		Symbol:     pr.Symbol,
		Side:       side,
		Type:       models.OrderTypeMarket,
		Size:       size,
		ReduceOnly: true,
	}
	closeSignal := models.TradingSignal{
		Kind:       models.Sell,
		Strength:   1,
		Confidence: 1,
		Reason:     "risk exit",
	}
	if side == models.SideBuy {
		closeSignal.Kind = models.Buy
	}

	if _, err := s.executor.Execute(ctx, params, closeSignal); err != nil {
		s.logger.Error().Err(err).
			Str("symbol", pr.Symbol).
			Float64("size", size).
			Msg("Risk exit order failed")
	}
}

func (s *supervisor) journalRiskEvent(ctx context.Context, positionID, symbol string, price float64, action risk.Action) {
	if s.app.Store == nil {
		return
	}
	event := &store.RiskEventRecord{
		PositionID: positionID,
		Symbol:     symbol,
		Action:     string(action.Type),
		StopPrice:  action.StopPrice,
		CloseSize:  action.CloseSize,
		Price:      price,
		Timestamp:  time.Now(),
	}
	if err := s.app.Store.SaveRiskEvent(ctx, event); err != nil {
		s.logger.Warn().Err(err).Str("position_id", positionID).Msg("Failed to journal risk event")
	}
}
