package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"okx-trader/internal/store"
	"okx-trader/pkg/utils"
)

func newStatusCmd(app *App) *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show account, positions and journal statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx := cmd.Context()

			mode := "live"
			if app.Config.IsPaperMode() {
				mode = "paper"
			}

			balance, err := app.Exchange.GetAvailableBalance(ctx)
			if err != nil {
				return fmt.Errorf("fetch balance: %w", err)
			}
			positions, err := app.Exchange.GetPositions(ctx)
			if err != nil {
				return fmt.Errorf("fetch positions: %w", err)
			}

			var stats map[string]store.SourceStats
			if app.Store != nil {
				stats, err = app.Store.GetSignalStats(ctx, store.DateRange{
					Start: time.Now().AddDate(0, 0, -days),
					End:   time.Now(),
				})
				if err != nil {
					app.Logger.Warn().Err(err).Msg("Journal statistics unavailable")
				}
			}

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"mode":      mode,
					"balance":   balance,
					"positions": positions,
					"stats":     stats,
				})
			}

			output.Bold("Account (%s mode)", mode)
			output.Printf("  Available balance: %s\n", utils.FormatUSD(balance))
			output.Println()

			output.Bold("Open Positions")
			if len(positions) == 0 {
				output.Dim("  none")
			} else {
				table := NewTable(output, "SYMBOL", "SIDE", "SIZE", "ENTRY", "MARK", "PNL", "AGE")
				for _, pos := range positions {
					table.AddRow(
						pos.Symbol,
						string(pos.Side),
						utils.FormatSize(pos.Size),
						utils.FormatPrice(pos.AvgPrice),
						utils.FormatPrice(pos.MarkPrice),
						output.FormatPnL(pos.UnrealizedPnL),
						FormatDuration(time.Since(pos.OpenedAt)),
					)
				}
				table.Render()
			}
			output.Println()

			if len(stats) > 0 {
				output.Bold("Signal Performance (last %d days)", days)
				table := NewTable(output, "SOURCE", "TOTAL", "EVALUATED", "ACCURACY", "AVG CONF", "PNL")
				for _, source := range []string{"technical", "ai_prediction", "model_prediction", store.SourceFused} {
					s, ok := stats[source]
					if !ok {
						continue
					}
					table.AddRow(
						s.Source,
						formatInt(s.Total),
						formatInt(s.Evaluated),
						FormatConfidence(s.Accuracy()),
						FormatConfidence(s.AvgConfidence),
						output.FormatPnL(s.TotalPnL),
					)
				}
				table.Render()
			}

			return nil
		},
	}

	cmd.Flags().IntVar(&days, "days", 30, "journal statistics window in days")

	return cmd
}
