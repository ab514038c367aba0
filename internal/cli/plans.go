package cli

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"bracket-trader/internal/models"
	"bracket-trader/internal/store"
)

func newPlansCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "plans",
		Aliases: []string{"plan"},
		Short:   "Manage trade plans",
		Long:    "List, add, re-arm and retire entries in the plan file.",
	}

	cmd.AddCommand(newPlansListCmd(app))
	cmd.AddCommand(newPlansAddCmd(app))
	cmd.AddCommand(newPlansResetCmd(app))
	cmd.AddCommand(newPlansExpireCmd(app))
	cmd.AddCommand(newPlansValidateCmd(app))
	return cmd
}

func newPlansListCmd(app *App) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List plans",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd, app.Currency())
			plans, _, err := loadPlans(app.Config, app.Logger)
			if err != nil {
				return err
			}

			var shown []models.PlanEntry
			for _, p := range plans.Plans() {
				if all || p.Status == models.PlanActive || p.Status == models.PlanInPosition {
					shown = append(shown, p)
				}
			}

			if output.IsJSON() {
				return output.JSON(shown)
			}
			if len(shown) == 0 {
				output.Dim("No plans in %s", plans.Path())
				return nil
			}

			table := NewTable(output, "SYMBOL", "SIDE", "METHOD", "ENTRY", "STOP", "TARGET", "QTY", "EXPIRES", "STATUS")
			for _, p := range shown {
				qty := "auto"
				if p.Quantity != nil {
					qty = FormatQuantity(*p.Quantity)
				}
				expires := "-"
				if p.ExpiryDate != nil {
					expires = p.ExpiryDate.Format("2006-01-02")
				}
				table.AddRow(
					p.Symbol,
					string(p.Side),
					string(p.EntryMethod),
					FormatPrice(p.EntryPrice),
					FormatPrice(p.StopLossPrice),
					FormatPrice(p.ResolvedTakeProfit()),
					qty,
					expires,
					output.PlanStatus(p.Status),
				)
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().BoolVarP(&all, "all", "a", false, "include executed, inactive and expired plans")
	return cmd
}

func newPlansAddCmd(app *App) *cobra.Command {
	var (
		side      string
		entry     float64
		stop      float64
		target    float64
		trigger   float64
		offset    float64
		quantity  int64
		expiresIn time.Duration
		riskFrac  float64
		ratio     float64
		fillRatio float64
	)

	cmd := &cobra.Command{
		Use:   "add <symbol>",
		Short: "Add an active plan",
		Example: `  trader plans add AAPL --entry 180 --stop 176
  trader plans add TSLA --side sell --entry 250 --stop 258 --target 230
  trader plans add NVDA --entry 900 --stop 880 --trigger 899 --offset 1.5`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd, app.Currency())
			plans, _, err := loadPlans(app.Config, app.Logger)
			if err != nil {
				return err
			}

			p := models.PlanEntry{
				Symbol:                 strings.ToUpper(args[0]),
				Side:                   models.SideBuy,
				EntryPrice:             entry,
				StopLossPrice:          stop,
				EntryMethod:            models.EntryLimit,
				LimitOffset:            offset,
				RiskFraction:           riskFrac,
				ProfitToLossRatio:      ratio,
				AvailableQuantityRatio: fillRatio,
				Status:                 models.PlanActive,
			}
			if strings.EqualFold(side, "sell") {
				p.Side = models.SideSell
			}
			if cmd.Flags().Changed("target") {
				p.TakeProfitPrice = &target
			}
			if cmd.Flags().Changed("trigger") {
				p.EntryMethod = models.EntryStopLimit
				p.StopTrigger = &trigger
			}
			if cmd.Flags().Changed("quantity") {
				p.Quantity = &quantity
			}
			if expiresIn > 0 {
				at := time.Now().Add(expiresIn).UTC()
				p.ExpiryDate = &at
			}

			if err := plans.Add(p); err != nil {
				return err
			}
			added, _ := plans.Get(p.Symbol)
			if output.IsJSON() {
				return output.JSON(added)
			}
			output.Success("✓ Plan added: %s %s @ %s, stop %s, target %s",
				added.Side, added.Symbol, FormatPrice(added.EntryPrice),
				FormatPrice(added.StopLossPrice), FormatPrice(added.ResolvedTakeProfit()))
			return nil
		},
	}

	cmd.Flags().StringVar(&side, "side", "buy", "buy or sell")
	cmd.Flags().Float64Var(&entry, "entry", 0, "entry price")
	cmd.Flags().Float64Var(&stop, "stop", 0, "stop-loss price")
	cmd.Flags().Float64Var(&target, "target", 0, "take-profit price (default: from profit/loss ratio)")
	cmd.Flags().Float64Var(&trigger, "trigger", 0, "stop trigger; makes the entry stop-limit")
	cmd.Flags().Float64Var(&offset, "offset", 0, "limit offset beyond the entry for stop-limit entries")
	cmd.Flags().Int64Var(&quantity, "quantity", 0, "fixed quantity instead of risk sizing")
	cmd.Flags().DurationVar(&expiresIn, "expires-in", 0, "expire the plan after this duration")
	cmd.Flags().Float64Var(&riskFrac, "risk-fraction", 0, "fraction of capital to risk (default from config)")
	cmd.Flags().Float64Var(&ratio, "ratio", 0, "profit-to-loss ratio (default from config)")
	cmd.Flags().Float64Var(&fillRatio, "min-fill-ratio", 0, "minimum acceptable share of the ideal quantity (default from config)")
	_ = cmd.MarkFlagRequired("entry")
	_ = cmd.MarkFlagRequired("stop")
	return cmd
}

func newPlansResetCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "reset <symbol>",
		Short: "Re-arm an executed, expired or suspended plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return updatePlan(cmd, app, args[0], "reset", (*store.PlanStore).Reset)
		},
	}
}

func newPlansExpireCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "expire <symbol>",
		Short: "Retire a plan without executing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return updatePlan(cmd, app, args[0], "expired", (*store.PlanStore).MarkExpired)
		},
	}
}

func updatePlan(cmd *cobra.Command, app *App, symbol, verb string, fn func(*store.PlanStore, string) error) error {
	output := NewOutput(cmd, app.Currency())
	plans, _, err := loadPlans(app.Config, app.Logger)
	if err != nil {
		return err
	}
	if err := fn(plans, symbol); err != nil {
		return err
	}
	p, _ := plans.Get(symbol)
	if output.IsJSON() {
		return output.JSON(p)
	}
	output.Success("✓ %s %s, now %s", p.Symbol, verb, output.PlanStatus(p.Status))
	return nil
}

func newPlansValidateCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [file]",
		Short: "Check a plan file without changing it",
		Long:  "Load a plan file (default: the configured one) and report every record that would be rejected.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd, app.Currency())
			path := app.Config.Store.PlanPath
			if len(args) == 1 {
				path = args[0]
			}
			if _, err := os.Stat(path); err != nil {
				return err
			}

			plans := store.NewPlanStore(path, planDefaults(app.Config), app.Logger)
			rejections, err := plans.Load()
			if err != nil {
				return err
			}

			if output.IsJSON() {
				type rejection struct {
					Symbol string `json:"symbol"`
					Error  string `json:"error"`
				}
				report := struct {
					Valid    int         `json:"valid"`
					Rejected []rejection `json:"rejected"`
				}{Valid: len(plans.Plans()), Rejected: []rejection{}}
				for _, r := range rejections {
					report.Rejected = append(report.Rejected, rejection{r.Symbol, r.Err.Error()})
				}
				return output.JSON(report)
			}

			output.Printf("%s: %d valid plan(s)\n", path, len(plans.Plans()))
			if len(rejections) == 0 {
				output.Success("✓ No rejected records")
				return nil
			}
			for _, r := range rejections {
				symbol := r.Symbol
				if symbol == "" {
					symbol = "(unnamed)"
				}
				output.Error("✗ %s: %v", symbol, r.Err)
			}
			return fmt.Errorf("%d plan record(s) rejected", len(rejections))
		},
	}
}
