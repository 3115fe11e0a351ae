package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"quantum-trader/internal/models"
)

func newSignalCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "signal <symbol>",
		Short: "Generate a trading signal without trading",
		Long:  "Run one regime, scoring and risk pass for a symbol and print the result. No order is placed.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx := cmd.Context()

			if err := app.Load(); err != nil {
				return err
			}
			defer app.Close()

			pipeline, err := app.BuildPipeline(ctx, false)
			if err != nil {
				return err
			}

			signal, assessment := pipeline.GenerateTradingSignal(ctx, args[0])
			if output.IsJSON() {
				return output.JSON(struct {
					Signal     models.TradeSignal    `json:"signal"`
					Assessment models.RiskAssessment `json:"risk_assessment"`
				}{signal, assessment})
			}

			printSignal(output, signal, assessment)
			return nil
		},
	}
}

func printSignal(output *Output, signal models.TradeSignal, assessment models.RiskAssessment) {
	output.Bold("Signal: %s", signal.Symbol)
	output.Printf("  Direction:     %s\n", output.Direction(signal.Direction))
	output.Printf("  Confidence:    %.2f\n", signal.Confidence)
	output.Printf("  Regime:        %s (confidence %.2f, volatility %.2f, trend %.2f)\n",
		signal.Regime.Kind, signal.Regime.Confidence, signal.Regime.Volatility, signal.Regime.TrendStrength)
	output.Println()

	output.Bold("Risk")
	output.Printf("  Score:         %.3f\n", assessment.RiskScore)
	output.Printf("  Position size: %.2f%% of balance\n", assessment.PositionSizePercent*100)
	if assessment.Executable {
		output.Success("  Executable")
	} else {
		output.Warning("  %s", fmt.Sprintf("Not executable (score %.3f)", assessment.RiskScore))
	}
}
