package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"okx-trader/internal/store"
	"okx-trader/pkg/utils"
)

func newOrdersCmd(app *App) *cobra.Command {
	var (
		symbol string
		state  string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "orders",
		Short: "List journaled orders",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if app.Store == nil {
				return fmt.Errorf("journal store unavailable")
			}

			records, err := app.Store.GetOrders(cmd.Context(), store.OrderFilter{
				Symbol: symbol,
				State:  state,
				Limit:  limit,
			})
			if err != nil {
				return fmt.Errorf("query orders: %w", err)
			}

			if output.IsJSON() {
				return output.JSON(records)
			}

			if len(records) == 0 {
				output.Dim("No orders found")
				return nil
			}

			table := NewTable(output, "ORDER ID", "SYMBOL", "SIDE", "TYPE", "SIZE", "FILLED", "AVG PRICE", "STATE", "SUBMITTED")
			for _, record := range records {
				side := output.Green(string(record.Side))
				if strings.EqualFold(string(record.Side), "sell") {
					side = output.Red(string(record.Side))
				}
				table.AddRow(
					TruncateString(record.OrderID, 18),
					record.Symbol,
					side,
					string(record.Type),
					utils.FormatSize(record.Size),
					utils.FormatSize(record.FilledSize),
					utils.FormatPrice(record.AvgFillPrice),
					orderStateColor(output, record.State),
					FormatTime(record.SubmitTime),
				)
			}
			table.Render()
			output.Println()
			output.Dim("%d orders", len(records))
			return nil
		},
	}

	cmd.Flags().StringVar(&symbol, "symbol", "", "filter by instrument")
	cmd.Flags().StringVar(&state, "state", "", "filter by order state (filled, cancelled, failed, ...)")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum rows")

	return cmd
}

func orderStateColor(output *Output, state string) string {
	switch strings.ToLower(state) {
	case "filled":
		return output.Green(state)
	case "failed", "cancelled":
		return output.Red(state)
	case "partially_filled":
		return output.Yellow(state)
	default:
		return state
	}
}
