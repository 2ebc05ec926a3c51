package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"okx-trader/internal/fusion"
	"okx-trader/internal/indicators"
	"okx-trader/internal/models"
	"okx-trader/internal/monitor"
	"okx-trader/internal/store"
)

// newFusionEngine builds the fusion engine and replays recent evaluated
// journal outcomes into its per-source performance records, so weighting
// reflects how each source has actually been doing.
func newFusionEngine(app *App) *fusion.Engine {
	engine := fusion.NewEngine(fusion.DefaultEngineConfig(app.Config.Fusion), app.Logger)

	if app.Store != nil {
		evaluated := true
		records, err := app.Store.GetSignals(context.Background(), store.SignalFilter{
			Evaluated: &evaluated,
			Limit:     200,
		})
		if err != nil {
			app.Logger.Warn().Err(err).Msg("Journal replay unavailable, starting with neutral weights")
			return engine
		}
		// Newest-first from the store; replay oldest-first so the EWMA
		// ends weighted toward recent outcomes.
		for i := len(records) - 1; i >= 0; i-- {
			record := records[i]
			if record.Source == store.SourceFused {
				continue
			}
			engine.UpdatePerformance(
				models.SignalSource(record.Source),
				record.Signal.Kind,
				record.ActualKind,
				record.Signal.Confidence,
			)
		}
	}

	return engine
}

func newFuseCmd(app *App) *cobra.Command {
	var save bool

	cmd := &cobra.Command{
		Use:   "fuse <symbol>",
		Short: "Fuse predictor signals for one instrument",
		Long: `Fuse queries every configured predictor for the given instrument,
combines their signals with condition-aware weighting, and prints the
fused decision. Nothing is executed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx := cmd.Context()
			symbol := args[0]

			price, err := app.Exchange.GetCurrentPrice(ctx, symbol)
			if err != nil {
				return fmt.Errorf("fetch price for %s: %w", symbol, err)
			}

			candles, err := app.Exchange.GetCandles(ctx, symbol, "1H", 48)
			if err != nil {
				candles = nil
			}
			condition := monitor.ClassifyCondition(candles)
			rsi, ema := marketContext(candles)

			signals := make(map[models.SignalSource]models.TradingSignal)
			for _, p := range buildPredictors(app) {
				signal, err := p.GetSignal(ctx, symbol)
				if err != nil {
					output.Dim("%-16s unavailable: %v", p.Source(), err)
					continue
				}
				signals[p.Source()] = signal
			}

			engine := newFusionEngine(app)
			result := engine.Fuse(signals, condition)

			if save && app.Store != nil {
				journalFusion(cmd, app, symbol, condition, signals, result)
			}

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"symbol":    symbol,
					"price":     price,
					"condition": condition,
					"signals":   signals,
					"fused":     result,
				})
			}

			printFusion(output, symbol, price, condition, rsi, ema, signals, result)
			return nil
		},
	}

	cmd.Flags().BoolVar(&save, "save", false, "journal the per-source and fused signals")

	return cmd
}

// marketContext computes RSI(14) and EMA(20) for display; zeros when
// there is not enough history.
func marketContext(candles []models.Candle) (rsi, ema float64) {
	if series, err := indicators.RSI(candles, 14); err == nil {
		rsi = series[len(series)-1]
	}
	if series, err := indicators.EMA(indicators.ClosePrices(candles), 20); err == nil {
		ema = series[len(series)-1]
	}
	return rsi, ema
}

func printFusion(output *Output, symbol string, price float64, condition models.MarketCondition,
	rsi, ema float64, signals map[models.SignalSource]models.TradingSignal, result fusion.Result) {

	output.Bold("%s @ %s", symbol, FormatTime(time.Now()))
	output.Printf("  Price:      %.2f\n", price)
	output.Printf("  Condition:  %s\n", condition)
	if rsi > 0 {
		output.Printf("  RSI(14):    %.1f\n", rsi)
	}
	if ema > 0 {
		output.Printf("  EMA(20):    %.2f\n", ema)
	}
	output.Println()

	if len(signals) > 0 {
		table := NewTable(output, "SOURCE", "SIGNAL", "STRENGTH", "CONF", "WEIGHT", "REASON")
		for _, source := range models.AllSignalSources() {
			signal, ok := signals[source]
			if !ok {
				continue
			}
			table.AddRow(
				string(source),
				output.SignalColor(string(signal.Kind)),
				fmt.Sprintf("%.2f", signal.Strength),
				FormatConfidence(signal.Confidence),
				fmt.Sprintf("%.2f", result.Weights[source]),
				TruncateString(signal.Reason, 40),
			)
		}
		table.Render()
		output.Println()
	}

	output.Bold("Fused Decision")
	output.Printf("  Signal:     %s\n", output.SignalColor(string(result.Signal.Kind)))
	output.Printf("  Confidence: %s\n", FormatConfidence(result.Signal.Confidence))
	output.Printf("  Consensus:  %s\n", FormatConfidence(result.Consensus))
	if result.Conflict {
		output.Warning("  Sources disagree on direction")
	}
	if result.Signal.Reason != "" {
		output.Dim("  %s", result.Signal.Reason)
	}
}

func journalFusion(cmd *cobra.Command, app *App, symbol string, condition models.MarketCondition,
	signals map[models.SignalSource]models.TradingSignal, result fusion.Result) {

	ctx := cmd.Context()
	now := time.Now()

	for source, signal := range signals {
		record := &store.SignalRecord{
			ID:              uuid.NewString(),
			Timestamp:       now,
			Symbol:          symbol,
			Source:          string(source),
			Signal:          signal,
			MarketCondition: condition,
		}
		if err := app.Store.SaveSignal(ctx, record); err != nil {
			app.Logger.Warn().Err(err).Str("source", string(source)).Msg("Failed to journal signal")
		}
	}

	fused := &store.SignalRecord{
		ID:              uuid.NewString(),
		Timestamp:       now,
		Symbol:          symbol,
		Source:          store.SourceFused,
		Signal:          result.Signal,
		MarketCondition: condition,
		Consensus:       result.Consensus,
		Conflict:        result.Conflict,
	}
	if err := app.Store.SaveSignal(ctx, fused); err != nil {
		app.Logger.Warn().Err(err).Msg("Failed to journal fused signal")
	}
}
