// Package cli provides the command-line interface for the trading application.
package cli

import (
	"github.com/spf13/cobra"
)

// Version information
const (
	Version   = "0.1.0"
	BuildDate = "2024-06-01"
)

// NewRootCmd creates the root command for the CLI.
func NewRootCmd() *cobra.Command {
	app := &App{}

	rootCmd := &cobra.Command{
		Use:   "trader",
		Short: "Quantum Trader - regime-aware automated trading",
		Long: `Quantum Trader runs an automated trading loop over a set of symbols.

Each cycle it classifies the market regime from multi-timeframe indicators,
scores a direction with the configured model, assesses risk, sizes the
position and admits at most one trade per symbol.

Use 'trader run' to start trading (paper venue by default).`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			app.ConfigDir, _ = cmd.Flags().GetString("config")
			app.Debug, _ = cmd.Flags().GetBool("debug")
		},
	}

	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/quantum-trader)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("no-color", false, "disable colored output")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	rootCmd.AddCommand(
		newRunCmd(app),
		newSignalCmd(app),
		newReportCmd(app),
		newConfigCmd(app),
		newSecretCmd(),
		newVersionCmd(),
	)

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			}
			output.Printf("Quantum Trader v%s\n", Version)
			output.Dim("Build date: %s", BuildDate)
			return nil
		},
	}
}
