package cli

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"bracket-trader/internal/broker"
	"bracket-trader/internal/config"
	apperrors "bracket-trader/internal/errors"
	"bracket-trader/internal/pricing"
	"bracket-trader/internal/resilience"
	"bracket-trader/internal/risk"
	"bracket-trader/internal/store"
	"bracket-trader/internal/trading"
)

// engine is the fully wired trading stack behind `trader run`.
type engine struct {
	cfg      *config.Config
	logger   zerolog.Logger
	plans    *store.PlanStore
	journal  *store.Journal
	broker   broker.OrderBroker
	breakers *resilience.Registry
	monitor  *risk.Monitor
	resets   *risk.Scheduler
	sessions *trading.SessionManager
	manager  *trading.Manager
}

func planDefaults(cfg *config.Config) store.PlanDefaults {
	return store.PlanDefaults{
		RiskFraction:           cfg.Risk.RiskFraction,
		ProfitToLossRatio:      cfg.Risk.ProfitToLossRatio,
		AvailableQuantityRatio: cfg.Risk.AvailableQuantityRatio,
	}
}

// loadPlans opens the plan store and logs every rejected record. Only an
// unrecoverable store is an error.
func loadPlans(cfg *config.Config, logger zerolog.Logger) (*store.PlanStore, []store.Rejection, error) {
	plans := store.NewPlanStore(cfg.Store.PlanPath, planDefaults(cfg), logger)
	rejections, err := plans.Load()
	if err != nil {
		return nil, nil, err
	}
	for _, r := range rejections {
		logger.Warn().Str("symbol", r.Symbol).Err(r.Err).Msg("Plan rejected")
	}
	return plans, rejections, nil
}

// openJournal opens the journal, or returns nil when it is disabled or
// cannot be opened. The engine runs without a journal.
func openJournal(cfg *config.Config, logger zerolog.Logger) *store.Journal {
	if cfg.Store.JournalPath == "" {
		return nil
	}
	j, err := store.NewJournal(cfg.Store.JournalPath)
	if err != nil {
		logger.Error().Err(err).Str("path", cfg.Store.JournalPath).Msg("Journal unavailable, continuing without it")
		return nil
	}
	return j
}

func newSessions(cfg *config.Config) (*trading.SessionManager, error) {
	sessions, err := trading.NewSessionManager(cfg.Trading.Timezone, cfg.Trading.Sessions, cfg.Trading.Holidays)
	return sessions, apperrors.Wrapf(err, "trading hours for %s", cfg.Trading.Timezone)
}

func newResetScheduler(cfg *config.Config, monitor *risk.Monitor, sessions *trading.SessionManager, logger zerolog.Logger) (*risk.Scheduler, error) {
	buffer := cfg.Trading.CloseBufferMinutes
	gate := func(t time.Time) bool { return sessions.PastCloseBuffer(t, buffer) }
	return risk.NewScheduler(monitor, risk.SpecsFromConfig(cfg.Risk), sessions.Location(), gate, logger)
}

func buildEngine(cfg *config.Config, logger zerolog.Logger) (*engine, error) {
	e := &engine{cfg: cfg, logger: logger}

	var err error
	if e.sessions, err = newSessions(cfg); err != nil {
		return nil, err
	}

	if e.plans, _, err = loadPlans(cfg, logger); err != nil {
		return nil, err
	}

	e.breakers = resilience.NewRegistry(resilience.FromConfig(cfg.Broker.CircuitBreaker), logger)
	prices, err := pricing.NewFromConfig(cfg, e.breakers, logger)
	if err != nil {
		return nil, err
	}

	if e.broker, err = broker.NewFromConfig(cfg, e.breakers, logger); err != nil {
		return nil, err
	}

	e.monitor = risk.NewMonitor(risk.LimitsFromConfig(cfg.Risk), logger)
	if e.resets, err = newResetScheduler(cfg, e.monitor, e.sessions, logger); err != nil {
		return nil, err
	}

	deps := trading.ManagerDeps{
		Broker:   e.broker,
		Prices:   prices,
		Plans:    e.plans,
		Risk:     e.monitor,
		Resets:   e.resets,
		Sessions: e.sessions,
		Logger:   logger,
	}
	if e.journal = openJournal(cfg, logger); e.journal != nil {
		deps.Journal = e.journal
	}
	e.manager = trading.NewManager(trading.ManagerConfigFrom(cfg), deps)
	return e, nil
}

// Run starts the reset scheduler and the trading loop; both stop with ctx.
func (e *engine) Run(ctx context.Context) error {
	if err := e.resets.Start(ctx); err != nil {
		return err
	}
	return e.manager.Run(ctx)
}

// RunOnce restores state and runs a single cycle.
func (e *engine) RunOnce(ctx context.Context) (trading.CycleResult, error) {
	if err := e.manager.Restore(ctx); err != nil {
		e.logger.Error().Err(err).Msg("Restoring from journal failed")
	}
	return e.manager.RunCycle(ctx)
}

// Close flushes a plan file left dirty by a failed write and closes the
// journal.
func (e *engine) Close() error {
	var errs []error
	if e.plans != nil && e.plans.Dirty() {
		if err := e.plans.Save(); err != nil {
			errs = append(errs, err)
		}
	}
	if e.journal != nil {
		if err := e.journal.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return apperrors.Join(errs...)
}

// isFatal reports whether err must stop the process rather than be retried.
func isFatal(err error) bool {
	return apperrors.Is(err, apperrors.ErrPlanStoreCorrupt) || apperrors.Is(err, apperrors.ErrConfigInvalid)
}
