package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newRunCmd(app *App) *cobra.Command {
	var (
		once   bool
		dryRun bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the trading loop",
		Long: `Run the trading loop until interrupted.

Each cycle checks trading hours and loss limits, reconciles open bracket
groups, sizes and submits triggered plans, and verifies their entries.
SIGINT or SIGTERM stops the loop between cycles; a cycle in progress
always completes.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := app.Config
			if dryRun {
				c := *cfg
				c.Trading.DryRun = true
				cfg = &c
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			e, err := buildEngine(cfg, app.Logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := e.Close(); err != nil {
					app.Logger.Error().Err(err).Msg("Shutdown incomplete")
				}
			}()

			if !once {
				return e.Run(ctx)
			}

			res, err := e.RunOnce(ctx)
			if err != nil {
				return err
			}
			output := NewOutput(cmd, CurrencyFor(cfg.Trading.Broker))
			if output.IsJSON() {
				return output.JSON(res)
			}
			if res.Halted {
				output.Error("Trading halted: loss limit breached")
			}
			if res.Skipped != "" {
				output.Warning("Cycle skipped: %s", res.Skipped)
			}
			output.Printf("Reconciled %d, closed %d, submitted %d, executed %d, failed %d\n",
				res.Reconciled, res.Closed, res.Submitted, res.Executed, res.Failed)
			for _, s := range res.Expired {
				output.Dim("Expired: %s", s)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "run a single cycle and exit")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "simulate fills without a brokerage")
	return cmd
}
