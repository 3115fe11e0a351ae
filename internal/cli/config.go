package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"quantum-trader/internal/config"
)

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and validate the application configuration.",
	}

	var asYAML bool
	show := &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.Load(); err != nil {
				return err
			}
			switch {
			case output.IsJSON():
				return output.JSON(app.Config)
			case asYAML:
				out, err := app.Config.YAML()
				if err != nil {
					return err
				}
				output.Printf("%s", out)
				return nil
			}
			showConfig(output, app.Config)
			return nil
		},
	}
	show.Flags().BoolVar(&asYAML, "yaml", false, "print the full configuration as YAML")
	cmd.AddCommand(show)

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration directory path",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			dir := app.ConfigDir
			if dir == "" {
				dir = config.DefaultConfigDir()
			}
			if output.IsJSON() {
				return output.JSON(map[string]string{"path": dir})
			}
			output.Println(dir)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration files",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.Load(); err != nil {
				output.Error("Configuration validation failed: %v", err)
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]bool{"valid": true})
			}
			output.Success("Configuration is valid")
			return nil
		},
	})

	return cmd
}

func showConfig(output *Output, cfg *config.Config) {
	output.Bold("Trading")
	output.Printf("  Symbols:          %s\n", strings.Join(cfg.Trading.Symbols, ", "))
	output.Printf("  Timeframes:       %s\n", strings.Join(cfg.Trading.Timeframes, ", "))
	output.Printf("  Cycle interval:   %s (error backoff %s)\n", cfg.Trading.CycleInterval, cfg.Trading.ErrorBackoff)
	output.Printf("  Health interval:  %s (error backoff %s)\n", cfg.Trading.HealthInterval, cfg.Trading.HealthErrorBackoff)
	output.Printf("  Min confidence:   %.2f\n", cfg.Trading.MinConfidence)
	output.Println()

	output.Bold("Risk")
	output.Printf("  Initial capital:  %.2f\n", cfg.Risk.InitialCapital)
	output.Printf("  Risk per trade:   %.2f%%\n", cfg.Risk.MaxRiskPerTrade*100)
	output.Printf("  Stop / target:    %.2f%% / %.2f%%\n", cfg.Risk.StopLossPercent*100, cfg.Risk.TakeProfitPercent*100)
	output.Printf("  Max open trades:  %d\n", cfg.Risk.MaxOpenTrades)
	output.Printf("  Max duration:     %s\n", cfg.Risk.MaxTradeDuration)
	output.Println()

	output.Bold("Venue")
	mode := output.Green("paper")
	if !cfg.IsPaperMode() {
		mode = output.Red("live")
	}
	output.Printf("  Name:             %s (%s)\n", cfg.Venue.Name, mode)
	output.Printf("  Data source:      %s\n", cfg.Venue.DataSource)
	output.Printf("  Scoring model:    %s\n", cfg.Scoring.Model)
	output.Printf("  Feature cache:    %s\n", cfg.Features.Cache)
	output.Println()

	output.Bold("Storage")
	output.Printf("  Driver:           %s\n", cfg.Storage.Driver)
	if cfg.Storage.Driver == "sqlite" {
		output.Printf("  Path:             %s\n", cfg.Storage.SQLitePath)
	}
	output.Printf("  Kafka journal:    %v\n", cfg.Storage.Kafka.Enabled)
	output.Println()

	output.Bold("Notifications")
	output.Printf("  Enabled:          %v\n", cfg.Notifications.Enabled)
	output.Printf("  Level:            %s\n", cfg.Notifications.Level)
	output.Printf("  Telegram:         %v\n", cfg.Notifications.Telegram.Enabled)
	output.Printf("  Status server:    %v (%s:%d)\n", cfg.Server.Enabled, cfg.Server.Host, cfg.Server.Port)
}
