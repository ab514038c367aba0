// Package trading implements the bracket order engine: sizing, the capital
// ledger, trading hours and the Manager that drives each trading cycle.
package trading

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"bracket-trader/internal/broker"
	"bracket-trader/internal/config"
	"bracket-trader/internal/logging"
	"bracket-trader/internal/models"
	"bracket-trader/internal/risk"
	"bracket-trader/internal/store"
)

// PriceSource returns one authoritative quote per symbol, or ok=false.
type PriceSource interface {
	GetPrice(ctx context.Context, symbol string) (models.Quote, bool)
}

// PlanRepository is the plan state the Manager reads and mutates.
type PlanRepository interface {
	Active() []models.PlanEntry
	Get(symbol string) (models.PlanEntry, bool)
	MarkExecuted(symbol string, info models.ExecutionInfo) error
	MarkActive(symbol string) error
	MarkInPosition(symbol string, info *models.ExecutionInfo) error
	ExpireDue(now time.Time) ([]string, error)
	SuspendOthers(symbol string) ([]string, error)
	ReactivateInactive() ([]string, error)
}

// Journal is the audit log. A nil Journal disables journaling.
type Journal interface {
	RecordTransition(ctx context.Context, group *models.BracketOrderGroup, event, detail string) error
	RecordPnL(ctx context.Context, groupID, symbol string, amount float64, simulated bool, at time.Time) error
	RecordBreach(ctx context.Context, b store.Breach) error
	OpenGroups(ctx context.Context) ([]models.BracketOrderGroup, error)
	RealizedPnLSince(ctx context.Context, since time.Time) (float64, error)
}

// ManagerConfig is the immutable cycle configuration.
type ManagerConfig struct {
	AccountID              string
	// DryRun marks groups simulated. A simulated group is refused rather
	// than submitted when the broker is not simulated.
	DryRun                 bool
	RiskFraction           float64
	AvailableQuantityRatio float64
	CloseBeforeEnd         bool
	CloseBufferMinutes     int
	SinglePosition         bool
	CycleInterval          time.Duration
	IdleInterval           time.Duration
	VerifyAttempts         int
	VerifyInterval         time.Duration
	VerifyTimeout          time.Duration
}

// ManagerConfigFrom extracts the Manager's settings from cfg.
func ManagerConfigFrom(cfg *config.Config) ManagerConfig {
	return ManagerConfig{
		AccountID:              cfg.Trading.AccountID,
		DryRun:                 cfg.Trading.DryRun,
		RiskFraction:           cfg.Risk.RiskFraction,
		AvailableQuantityRatio: cfg.Risk.AvailableQuantityRatio,
		CloseBeforeEnd:         cfg.Trading.ClosePositionsBeforeClose,
		CloseBufferMinutes:     cfg.Trading.CloseBufferMinutes,
		SinglePosition:         cfg.Trading.SinglePosition,
		CycleInterval:          cfg.Trading.CycleInterval,
		IdleInterval:           cfg.Trading.IdleInterval,
		VerifyAttempts:         cfg.Verification.MaxAttempts,
		VerifyInterval:         cfg.Verification.PollInterval,
		VerifyTimeout:          cfg.Verification.Timeout,
	}
}

// ManagerDeps are the Manager's collaborators. Resets and Journal may be nil.
type ManagerDeps struct {
	Broker   broker.OrderBroker
	Prices   PriceSource
	Plans    PlanRepository
	Risk     *risk.Monitor
	Resets   *risk.Scheduler
	Sessions *SessionManager
	Ledger   *CapitalLedger
	Journal  Journal
	Logger   zerolog.Logger
}

// CycleResult summarises one cycle.
type CycleResult struct {
	Skipped    string
	Halted     bool
	Reconciled int
	Closed     int
	Submitted  int
	Executed   int
	Failed     int
	Expired    []string
}

// tracked is an open group plus the bookkeeping the Manager needs.
type tracked struct {
	group       *models.BracketOrderGroup
	exitsPlaced bool
}

// Manager runs the trading cycle. One cycle runs at a time.
type Manager struct {
	cfg      ManagerConfig
	broker   broker.OrderBroker
	prices   PriceSource
	plans    PlanRepository
	risk     *risk.Monitor
	resets   *risk.Scheduler
	sessions *SessionManager
	ledger   *CapitalLedger
	journal  Journal
	logger   zerolog.Logger
	now      func() time.Time

	cycleMu sync.Mutex

	mu           sync.Mutex
	open         map[string]*tracked // group_id -> open group
	bySymbol     map[string]string   // symbol -> group_id of its open group
	accountValue float64
}

// NewManager wires a Manager. A nil Ledger gets a fresh one.
func NewManager(cfg ManagerConfig, deps ManagerDeps) *Manager {
	if cfg.VerifyAttempts < 1 {
		cfg.VerifyAttempts = 1
	}
	ledger := deps.Ledger
	if ledger == nil {
		ledger = NewCapitalLedger()
	}
	m := &Manager{
		cfg:      cfg,
		broker:   deps.Broker,
		prices:   deps.Prices,
		plans:    deps.Plans,
		risk:     deps.Risk,
		resets:   deps.Resets,
		sessions: deps.Sessions,
		ledger:   ledger,
		journal:  deps.Journal,
		logger:   deps.Logger.With().Str("component", "manager").Logger(),
		now:      time.Now,
		open:     make(map[string]*tracked),
		bySymbol: make(map[string]string),
	}
	if m.risk != nil && m.journal != nil {
		m.risk.OnBreach(func(r models.WindowReport, lossPct float64) {
			err := m.journal.RecordBreach(context.Background(), store.Breach{
				Window: r.Window, PnL: r.PnL, LossPercent: lossPct, LimitPercent: r.LimitPercent,
			})
			if err != nil {
				m.logger.Error().Err(err).Msg("Journal breach write failed")
			}
		})
	}
	return m
}

// Ledger exposes the capital ledger.
func (m *Manager) Ledger() *CapitalLedger { return m.ledger }

// OpenGroups returns copies of the groups currently tracked, oldest first.
func (m *Manager) OpenGroups() []models.BracketOrderGroup {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.BracketOrderGroup, 0, len(m.open))
	for _, t := range m.open {
		out = append(out, *t.group)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (m *Manager) track(g *models.BracketOrderGroup, exitsPlaced bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.open[g.GroupID] = &tracked{group: g, exitsPlaced: exitsPlaced}
	m.bySymbol[g.Symbol] = g.GroupID
}

func (m *Manager) untrack(g *models.BracketOrderGroup) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.open, g.GroupID)
	if m.bySymbol[g.Symbol] == g.GroupID {
		delete(m.bySymbol, g.Symbol)
	}
}

func (m *Manager) hasOpenGroup(symbol string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.bySymbol[symbol]
	return ok
}

func (m *Manager) snapshotOpen() []*tracked {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*tracked, 0, len(m.open))
	for _, t := range m.open {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].group.CreatedAt.Before(out[j].group.CreatedAt) })
	return out
}

func (m *Manager) record(ctx context.Context, g *models.BracketOrderGroup, event, detail string) {
	logging.LogBracket(m.logger, event, g.GroupID, g.Symbol, string(g.Status), g.Quantity, g.EntryPrice, g.StopLossPrice, g.TakeProfitPrice)
	if m.journal == nil {
		return
	}
	if err := m.journal.RecordTransition(ctx, g, event, detail); err != nil {
		m.logger.Error().Err(err).Str("group_id", g.GroupID).Msg("Journal write failed")
	}
}

// Restore re-adopts groups the journal still shows open and seeds each risk
// window with the PnL realized since its last boundary.
func (m *Manager) Restore(ctx context.Context) error {
	if m.journal == nil {
		return nil
	}
	groups, err := m.journal.OpenGroups(ctx)
	if err != nil {
		return err
	}
	for i := range groups {
		g := groups[i]
		if g.Status == models.StatusPlaced {
			m.ledger.Adopt(g.GroupID, g.NotionalAmount())
		}
		m.track(&g, len(g.ExitOrderIDs()) > 0)
		m.logger.Info().Str("group_id", g.GroupID).Str("symbol", g.Symbol).
			Str("lifecycle_status", string(g.Status)).Msg("Re-adopted open group")
	}

	if m.risk != nil && m.resets != nil {
		now := m.now()
		for _, win := range models.AllWindows {
			since := m.resets.LastBoundary(win, now)
			if since.IsZero() {
				continue
			}
			pnl, err := m.journal.RealizedPnLSince(ctx, since)
			if err != nil {
				return err
			}
			m.risk.Seed(win, pnl, since)
		}
	}
	return nil
}

// Run executes cycles until ctx is cancelled. Cancellation is checked
// between cycles; a cycle in progress always runs to completion.
func (m *Manager) Run(ctx context.Context) error {
	if err := m.Restore(ctx); err != nil {
		m.logger.Error().Err(err).Msg("Restoring from journal failed")
	}
	m.logger.Info().Bool("dry_run", m.cfg.DryRun).Str("broker", m.broker.Name()).Msg("Trading manager started")

	for {
		if ctx.Err() != nil {
			m.logger.Info().Msg("Trading manager stopped")
			return nil
		}

		res, err := m.RunCycle(context.WithoutCancel(ctx))
		if err != nil {
			m.logger.Error().Err(err).Msg("Cycle aborted")
		}

		wait := m.cfg.CycleInterval
		if res.Skipped == skipMarketClosed {
			wait = m.idleWait()
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			m.logger.Info().Msg("Trading manager stopped")
			return nil
		case <-timer.C:
		}
	}
}

func (m *Manager) idleWait() time.Duration {
	wait := m.cfg.IdleInterval
	if m.sessions != nil {
		if until := m.sessions.TimeUntilNextSession(m.now()); until > 0 && until < wait {
			wait = until
		}
	}
	if wait <= 0 {
		wait = time.Minute
	}
	return wait
}

const (
	skipMarketClosed = "market closed"
	skipRiskHalt     = "risk limit breached"
	skipClosing      = "session closing"
)

// RunCycle runs gate, reconcile, admission, submission and verification once.
func (m *Manager) RunCycle(ctx context.Context) (CycleResult, error) {
	m.cycleMu.Lock()
	defer m.cycleMu.Unlock()

	var res CycleResult
	now := m.now()

	if expired, err := m.plans.ExpireDue(now); err != nil {
		m.logger.Error().Err(err).Msg("Persisting expired plans failed")
	} else if len(expired) > 0 {
		res.Expired = expired
		m.logger.Info().Strs("symbols", expired).Msg("Plans expired")
	}
	if m.resets != nil {
		m.resets.ApplyPending(now)
	}

	// (1) gate
	if m.sessions != nil && !m.sessions.IsOpen(now) {
		res.Skipped = skipMarketClosed
		return res, nil
	}
	if m.halted(m.lastAccountValue()) {
		res.Skipped, res.Halted = skipRiskHalt, true
		return res, nil
	}

	// (2) reconcile
	res.Reconciled, res.Closed = m.reconcile(ctx)

	closing := m.cfg.CloseBeforeEnd && m.sessions != nil && m.sessions.WithinCloseBuffer(now, m.cfg.CloseBufferMinutes)
	if closing {
		m.cancelUnfilledEntries(ctx)
		res.Skipped = skipClosing
		return res, nil
	}

	total, err := m.broker.GetBuyingPower(ctx, m.cfg.AccountID)
	if err != nil {
		return res, err
	}
	m.setAccountValue(total)
	if m.halted(total) {
		res.Skipped, res.Halted = skipRiskHalt, true
		return res, nil
	}

	// (3)+(4) admission under the capital lock
	batch := m.admit(ctx, total)
	res.Submitted = len(batch)

	// (5) submit and verify outside the lock
	var (
		g       errgroup.Group
		resMu   sync.Mutex
		results = make([]bool, len(batch))
	)
	for i, a := range batch {
		i, a := i, a
		g.Go(func() error {
			ok := m.execute(ctx, a)
			resMu.Lock()
			results[i] = ok
			resMu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	for _, ok := range results {
		if ok {
			res.Executed++
		} else {
			res.Failed++
		}
	}

	if res.Submitted > 0 {
		m.logger.Info().Int("submitted", res.Submitted).Int("executed", res.Executed).
			Int("failed", res.Failed).Msg("Cycle complete")
	}
	return res, nil
}

func (m *Manager) lastAccountValue() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.accountValue
}

func (m *Manager) setAccountValue(v float64) {
	m.mu.Lock()
	m.accountValue = v
	m.mu.Unlock()
}

func (m *Manager) halted(accountValue float64) bool {
	if m.risk == nil {
		return false
	}
	if err := m.risk.Check(accountValue); err != nil {
		m.logger.Warn().Err(err).Msg("Trading halted")
		return true
	}
	return false
}

// admission is a group admitted this cycle with the quote that triggered it.
type admission struct {
	group *models.BracketOrderGroup
	plan  models.PlanEntry
	quote models.Quote
}

// admit evaluates every active plan under the capital lock. Capital for an
// admitted group is reserved before the next plan is sized.
func (m *Manager) admit(ctx context.Context, total float64) []admission {
	adm := m.ledger.Begin(total)
	defer adm.Close()

	snap := adm.Snapshot()
	m.logger.Debug().Float64("total", snap.TotalBuyingPower).Float64("committed", snap.Committed).
		Float64("remaining", snap.Remaining).Msg("Capital snapshot")

	var batch []admission
	for _, plan := range m.plans.Active() {
		log := logging.WithSymbol(m.logger, plan.Symbol)
		if m.hasOpenGroup(plan.Symbol) {
			continue
		}

		quote, ok := m.prices.GetPrice(ctx, plan.Symbol)
		if !ok {
			log.Debug().Msg("Price unavailable, skipping")
			continue
		}
		m.observe(plan.Symbol, quote.Price)
		if !plan.Triggered(quote.Price) {
			continue
		}

		sizing := SizeDetail(plan, adm.Remaining(), m.riskFraction(plan), m.availableRatio(plan))
		if sizing.Quantity == 0 {
			log.Info().Str("reason", sizing.Reason).Int64("ideal", sizing.Ideal).
				Int64("affordable", sizing.Affordable).Int64("minimum", sizing.Minimum).
				Float64("remaining", adm.Remaining()).Msg("Plan triggered but not sized")
			continue
		}

		group := NewBracketOrderGroup(plan, sizing.Quantity, m.now())
		group.Simulated = m.cfg.DryRun
		if err := adm.Reserve(group.GroupID, group.NotionalAmount()); err != nil {
			log.Info().Err(err).Msg("Reservation refused")
			continue
		}
		m.track(group, false)
		m.record(ctx, group, "admitted", sizing.Reason)
		batch = append(batch, admission{group: group, plan: plan, quote: quote})
	}
	return batch
}

func (m *Manager) riskFraction(p models.PlanEntry) float64 {
	if p.RiskFraction > 0 {
		return p.RiskFraction
	}
	return m.cfg.RiskFraction
}

func (m *Manager) availableRatio(p models.PlanEntry) float64 {
	if p.AvailableQuantityRatio > 0 {
		return p.AvailableQuantityRatio
	}
	return m.cfg.AvailableQuantityRatio
}

// observe feeds simulated brokers the latest price.
func (m *Manager) observe(symbol string, price float64) {
	if obs, ok := m.broker.(broker.PriceObserver); ok {
		obs.ObservePrice(symbol, price)
	}
}
