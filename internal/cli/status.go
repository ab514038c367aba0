package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"bracket-trader/internal/models"
)

type statusView struct {
	Mode        string                     `json:"mode"`
	Broker      string                     `json:"broker"`
	MarketOpen  bool                       `json:"market_open"`
	NextSession string                     `json:"next_session,omitempty"`
	Plans       map[models.PlanStatus]int  `json:"plans"`
	Rejected    int                        `json:"rejected"`
	Groups      []models.BracketOrderGroup `json:"recent_groups"`
}

func newStatusCmd(app *App) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show engine status",
		Long:  "Show trading mode, market hours, plan counts and the most recent bracket groups.",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd, app.Currency())
			cfg := app.Config

			sessions, err := newSessions(cfg)
			if err != nil {
				return err
			}
			plans, rejections, err := loadPlans(cfg, app.Logger)
			if err != nil {
				return err
			}

			now := time.Now()
			view := statusView{
				Mode:       "live",
				Broker:     cfg.Trading.Broker,
				MarketOpen: sessions.IsOpen(now),
				Plans:      make(map[models.PlanStatus]int),
				Rejected:   len(rejections),
			}
			if cfg.Trading.DryRun {
				view.Mode = "dry-run"
			}
			if !view.MarketOpen {
				view.NextSession = FormatDuration(sessions.TimeUntilNextSession(now))
			}
			for _, p := range plans.Plans() {
				view.Plans[p.Status]++
			}

			if journal := openJournal(cfg, app.Logger); journal != nil {
				defer journal.Close()
				ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
				defer cancel()
				if view.Groups, err = journal.RecentGroups(ctx, limit); err != nil {
					output.Warning("Journal unavailable: %v", err)
				}
			}

			if output.IsJSON() {
				return output.JSON(view)
			}
			renderStatus(output, view, sessions.Location())
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "number of recent groups to show")
	return cmd
}

func renderStatus(output *Output, view statusView, loc *time.Location) {
	mode := output.Yellow("LIVE")
	if view.Mode == "dry-run" {
		mode = output.Green("DRY RUN")
	}
	market := output.Green("open")
	if !view.MarketOpen {
		market = output.DimText("closed") + output.DimText(" (opens in "+view.NextSession+")")
	}

	output.Bold("Engine")
	output.Printf("  Mode:    %s\n", mode)
	output.Printf("  Broker:  %s\n", view.Broker)
	output.Printf("  Market:  %s\n", market)
	output.Println()

	output.Bold("Plans")
	for _, s := range []models.PlanStatus{
		models.PlanActive, models.PlanInPosition, models.PlanExecuted, models.PlanInactive, models.PlanExpired,
	} {
		output.Printf("  %-12s %d\n", output.PlanStatus(s), view.Plans[s])
	}
	if view.Rejected > 0 {
		output.Printf("  %-12s %d\n", output.Red("rejected"), view.Rejected)
	}
	output.Println()

	if len(view.Groups) == 0 {
		output.Dim("No bracket groups journaled yet")
		return
	}

	output.Bold("Recent groups")
	table := NewTable(output, "SYMBOL", "SIDE", "QTY", "ENTRY", "EXIT", "STATUS", "UPDATED", "NOTE")
	for _, g := range view.Groups {
		exit := "-"
		if g.ExitPrice > 0 {
			exit = FormatPrice(g.ExitPrice)
		}
		status := output.Lifecycle(g.Status)
		if g.Simulated {
			status += output.DimText(" (sim)")
		}
		table.AddRow(
			g.Symbol,
			string(g.Side),
			FormatQuantity(g.Quantity),
			FormatPrice(g.EntryPrice),
			exit,
			status,
			FormatDateTime(g.UpdatedAt, loc),
			TruncateString(g.FailureReason, 40),
		)
	}
	table.Render()
}
