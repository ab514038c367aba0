package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"bracket-trader/internal/broker"
	apperrors "bracket-trader/internal/errors"
	"bracket-trader/internal/logging"
	"bracket-trader/internal/models"
	"bracket-trader/internal/resilience"
	"bracket-trader/internal/risk"
	"bracket-trader/internal/store"
	"bracket-trader/pkg/utils"
)

type riskView struct {
	AccountValue float64               `json:"account_value"`
	Windows      []models.WindowReport `json:"windows"`
	Breaches     []store.Breach        `json:"recent_breaches"`
}

func newRiskCmd(app *App) *cobra.Command {
	var accountValue float64

	cmd := &cobra.Command{
		Use:   "risk",
		Short: "Show loss-limit utilization",
		Long: `Rebuild the daily, weekly and monthly loss windows from the journal and
show how much of each limit is used. The account value defaults to the
broker's buying power.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd, app.Currency())
			cfg := app.Config
			logger := logging.WithOperation(app.Logger, "risk-report")
			ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
			defer cancel()

			if !cmd.Flags().Changed("account-value") {
				b, err := broker.NewFromConfig(cfg, resilience.NewRegistry(resilience.FromConfig(cfg.Broker.CircuitBreaker), logger), logger)
				if err != nil {
					return err
				}
				accountValue, err = utils.RetryWithResult(ctx, utils.DefaultRetryConfig(), func() (float64, error) {
					return b.GetBuyingPower(ctx, cfg.Trading.AccountID)
				})
				if err != nil {
					return apperrors.Wrap(err, "fetching account value")
				}
			}

			sessions, err := newSessions(cfg)
			if err != nil {
				return err
			}
			monitor := risk.NewMonitor(risk.LimitsFromConfig(cfg.Risk), logger)
			resets, err := newResetScheduler(cfg, monitor, sessions, logger)
			if err != nil {
				return err
			}

			view := riskView{AccountValue: accountValue, Breaches: []store.Breach{}}
			if journal := openJournal(cfg, logger); journal != nil {
				defer journal.Close()
				now := time.Now()
				for _, win := range models.AllWindows {
					since := resets.LastBoundary(win, now)
					pnl, err := journal.RealizedPnLSince(ctx, since)
					if err != nil {
						return err
					}
					monitor.Seed(win, pnl, since)
				}
				if view.Breaches, err = journal.RecentBreaches(ctx, 5); err != nil {
					return err
				}
			}
			_ = monitor.Check(accountValue)
			view.Windows = monitor.Report(accountValue)

			if output.IsJSON() {
				return output.JSON(view)
			}
			renderRisk(output, view, sessions.Location())
			return nil
		},
	}

	cmd.Flags().Float64Var(&accountValue, "account-value", 0, "account value to measure losses against")
	return cmd
}

func renderRisk(output *Output, view riskView, loc *time.Location) {
	output.Printf("Account value: %s\n\n", output.Money(view.AccountValue))

	table := NewTable(output, "WINDOW", "PNL", "LIMIT", "USED", "SINCE", "STATE")
	for _, w := range view.Windows {
		table.AddRow(
			string(w.Window),
			output.PnL(w.PnL),
			fmt.Sprintf("%.2f%%", w.LimitPercent),
			fmt.Sprintf("%.1f%%", w.UtilizationPercent),
			FormatDateTime(w.LastReset, loc),
			output.Breached(w.Breached),
		)
	}
	table.Render()

	if len(view.Breaches) == 0 {
		return
	}
	output.Println()
	output.Bold("Recent breaches")
	for _, b := range view.Breaches {
		output.Printf("  %s  %-8s pnl %s  %s against a %.2f%% limit\n",
			FormatDateTime(b.CreatedAt, loc), b.Window, output.PnL(b.PnL),
			output.Red(FormatPercent(-b.LossPercent)), b.LimitPercent)
	}
}
