package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"bracket-trader/internal/config"
)

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and validate the engine configuration.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd, app.Currency())
			if output.IsJSON() {
				return output.JSON(redacted(app.Config))
			}
			showConfig(output, app.Config)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:         "path",
		Short:       "Show configuration directory path",
		Annotations: map[string]string{noConfig: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd, USD)
			dir, _ := cmd.Flags().GetString("config")
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
		Use:         "validate",
		Short:       "Validate the configuration file",
		Annotations: map[string]string{noConfig: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd, USD)
			dir, _ := cmd.Flags().GetString("config")
			if _, err := config.Load(dir); err != nil {
				if output.IsJSON() {
					_ = output.JSON(map[string]interface{}{"valid": false, "error": err.Error()})
				} else {
					output.Error("✗ Configuration is invalid: %v", err)
				}
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]bool{"valid": true})
			}
			output.Success("✓ Configuration is valid")
			return nil
		},
	})

	return cmd
}

// redacted returns a copy of cfg with credentials masked.
func redacted(cfg *config.Config) config.Config {
	c := *cfg
	mask := func(s string) string {
		if len(s) <= 4 {
			return strings.Repeat("*", len(s))
		}
		return s[:2] + strings.Repeat("*", len(s)-4) + s[len(s)-2:]
	}
	c.Broker.Alpaca.APIKey = mask(c.Broker.Alpaca.APIKey)
	c.Broker.Alpaca.APISecret = mask(c.Broker.Alpaca.APISecret)
	c.Broker.Kite.APIKey = mask(c.Broker.Kite.APIKey)
	c.Broker.Kite.AccessToken = mask(c.Broker.Kite.AccessToken)
	c.Pricing.Finnhub.APIKey = mask(c.Pricing.Finnhub.APIKey)
	c.Pricing.AlphaVantage.APIKey = mask(c.Pricing.AlphaVantage.APIKey)
	return c
}

func showConfig(output *Output, cfg *config.Config) {
	mode := output.Yellow("LIVE")
	if cfg.Trading.DryRun {
		mode = output.Green("DRY RUN")
	}

	output.Bold("Trading")
	output.Printf("  Mode:              %s\n", mode)
	output.Printf("  Broker:            %s\n", cfg.Trading.Broker)
	output.Printf("  Account:           %s\n", cfg.Trading.AccountID)
	output.Printf("  Cycle interval:    %s\n", cfg.Trading.CycleInterval)
	output.Printf("  Timezone:          %s\n", cfg.Trading.Timezone)
	output.Printf("  Sessions:          %s\n", strings.Join(cfg.Trading.Sessions, ", "))
	output.Printf("  Close before end:  %v (%d min)\n", cfg.Trading.ClosePositionsBeforeClose, cfg.Trading.CloseBufferMinutes)
	output.Printf("  Single position:   %v\n", cfg.Trading.SinglePosition)
	output.Println()

	output.Bold("Risk")
	output.Printf("  Risk fraction:     %.4f\n", cfg.Risk.RiskFraction)
	output.Printf("  Profit/loss ratio: %.2f\n", cfg.Risk.ProfitToLossRatio)
	output.Printf("  Min fill ratio:    %.2f\n", cfg.Risk.AvailableQuantityRatio)
	output.Printf("  Loss limits:       daily %.1f%%  weekly %.1f%%  monthly %.1f%%\n",
		cfg.Risk.DailyLossLimitPercent, cfg.Risk.WeeklyLossLimitPercent, cfg.Risk.MonthlyLossLimitPercent)
	output.Println()

	output.Bold("Verification")
	output.Printf("  Attempts:          %d every %s (timeout %s)\n",
		cfg.Verification.MaxAttempts, cfg.Verification.PollInterval, cfg.Verification.Timeout)
	output.Println()

	output.Bold("Pricing")
	output.Printf("  Providers:         %s\n", strings.Join(cfg.Pricing.Providers, ", "))
	output.Printf("  Provider timeout:  %s\n", cfg.Pricing.ProviderTimeout)
	output.Println()

	output.Bold("Storage")
	output.Printf("  Plans:             %s\n", cfg.Store.PlanPath)
	output.Printf("  Journal:           %s\n", cfg.Store.JournalPath)
}
