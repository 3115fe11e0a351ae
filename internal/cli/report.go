package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"quantum-trader/internal/models"
	"quantum-trader/internal/store"
	"quantum-trader/pkg/utils"
)

func newReportCmd(app *App) *cobra.Command {
	var (
		symbol string
		days   int
		trades int
	)

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Show stored trading performance",
		Long:  "Summarise closed trades and the daily rollup from the trade ledger.",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx := cmd.Context()

			if days <= 0 {
				return fmt.Errorf("--days must be positive, got %d", days)
			}
			if err := app.Load(); err != nil {
				return err
			}
			defer app.Close()
			if err := app.openStore(ctx); err != nil {
				return err
			}

			summary, err := app.Store.GetPerformanceMetrics(ctx, symbol, days)
			if err != nil {
				return err
			}
			daily, err := app.Store.GetDailyPerformance(ctx, days)
			if err != nil {
				return err
			}
			recent, err := app.Store.GetTrades(ctx, store.TradeFilter{Symbol: symbol, Limit: trades})
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(struct {
					Summary models.PerformanceSummary `json:"summary"`
					Daily   []models.DailyPerformance `json:"daily"`
					Trades  []models.TradeRecord      `json:"trades"`
				}{summary, daily, recent})
			}

			printReport(output, summary, daily, recent)
			return nil
		},
	}

	cmd.Flags().StringVar(&symbol, "symbol", "", "limit to one symbol (default: all)")
	cmd.Flags().IntVar(&days, "days", store.DefaultPerformanceDays, "lookback window in days")
	cmd.Flags().IntVar(&trades, "trades", 10, "number of recent trades to list")
	return cmd
}

func printReport(output *Output, summary models.PerformanceSummary, daily []models.DailyPerformance, recent []models.TradeRecord) {
	scope := summary.Symbol
	if scope == "" {
		scope = "all symbols"
	}
	output.Bold("Performance: %s, last %d days", scope, summary.Days)

	winRate := 0.0
	if summary.TotalTrades > 0 {
		winRate = float64(summary.WinningTrades) / float64(summary.TotalTrades) * 100
	}
	output.Printf("  Trades:        %d (%d winning, %.1f%%)\n", summary.TotalTrades, summary.WinningTrades, winRate)
	output.Printf("  Total P&L:     %s\n", output.PnL(summary.TotalProfit))
	output.Printf("  Average P&L:   %s\n", output.PnL(summary.AverageTradeProfit))
	output.Printf("  Worst trade:   %s\n", output.PnL(summary.MaxDrawdown))
	output.Println()

	if len(daily) > 0 {
		table := NewTable(output, "Date", "Trades", "Won", "P&L", "Worst", "Capital")
		for _, d := range daily {
			table.AddRow(
				d.Date,
				fmt.Sprint(d.TotalTrades),
				fmt.Sprint(d.WinningTrades),
				output.PnL(d.TotalProfit),
				output.PnL(d.MaxDrawdown),
				utils.FormatAmount(d.CapitalEnd),
			)
		}
		table.Render()
		output.Println()
	}

	if len(recent) == 0 {
		output.Dim("No trades recorded")
		return
	}
	table := NewTable(output, "Opened", "Symbol", "Side", "Qty", "Entry", "Exit", "P&L", "State")
	for _, t := range recent {
		exit := "-"
		pnl := "-"
		if t.ExitPrice != nil {
			exit = utils.FormatPrice(*t.ExitPrice)
			pnl = output.PnL(t.ProfitLoss)
		}
		table.AddRow(
			t.OpenedAt.Local().Format("2006-01-02 15:04"),
			t.Symbol,
			string(t.Side),
			utils.FormatQuantity(t.Quantity),
			utils.FormatPrice(t.EntryPrice),
			exit,
			pnl,
			string(t.State),
		)
	}
	table.Render()
}
