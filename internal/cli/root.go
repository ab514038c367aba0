// Package cli provides the command-line interface for the bracket trader.
package cli

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"bracket-trader/internal/config"
	"bracket-trader/internal/logging"
)

// Version information, overridden at build time with -ldflags.
var (
	Version   = "0.1.0"
	BuildDate = "unknown"
)

// noConfig marks commands that run without loading the configuration.
const noConfig = "no-config"

// App holds what every command needs once configuration is loaded.
type App struct {
	ConfigDir string
	Config    *config.Config
	Logger    zerolog.Logger
}

// Currency is the display currency of the configured broker.
func (a *App) Currency() Currency {
	if a.Config == nil {
		return USD
	}
	return CurrencyFor(a.Config.Trading.Broker)
}

// NewRootCmd creates the root command for the CLI.
func NewRootCmd() *cobra.Command {
	app := &App{Logger: zerolog.Nop()}

	rootCmd := &cobra.Command{
		Use:   "trader",
		Short: "Risk-bounded bracket order execution engine",
		Long: `trader executes a file of trade plans as bracket orders: a limit entry
protected by a stop-loss and a take-profit.

Each plan is sized from the capital that is still uncommitted, entries are
verified before a plan is marked executed, and trading halts when a daily,
weekly or monthly loss limit is breached.

Use 'trader run --dry-run' to exercise the full cycle without a brokerage.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Annotations[noConfig] == "true" {
				return nil
			}
			return app.load(cmd)
		},
	}

	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/bracket-trader)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
	rootCmd.AddCommand(newRunCmd(app))
	rootCmd.AddCommand(newStatusCmd(app))
	rootCmd.AddCommand(newPlansCmd(app))
	rootCmd.AddCommand(newRiskCmd(app))

	return rootCmd
}

// load reads the configuration and builds the logger. Only `run` logs to
// the console; other commands keep stdout for their own output.
func (a *App) load(cmd *cobra.Command) error {
	dir, _ := cmd.Flags().GetString("config")
	if dir == "" {
		dir = config.DefaultConfigDir()
	}
	cfg, err := config.Load(dir)
	if err != nil {
		return err
	}

	logCfg := cfg.Logging
	if cmd.Name() != "run" {
		logCfg.Console = false
	}
	logger := logging.NewLoggerWithConfig(logCfg)
	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		logger = logger.Level(zerolog.DebugLevel)
	}

	a.ConfigDir, a.Config, a.Logger = dir, cfg, logger
	return nil
}

// Execute runs the CLI and returns the process exit code: 2 for errors the
// engine cannot recover from, 1 for anything else.
func Execute() int {
	cmd := NewRootCmd()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		if isFatal(err) {
			return 2
		}
		return 1
	}
	return 0
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Print version information",
		Annotations: map[string]string{noConfig: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd, USD)
			if output.IsJSON() {
				return output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			}
			output.Printf("bracket-trader v%s\n", Version)
			output.Dim("Build date: %s", BuildDate)
			return nil
		},
	}
}
