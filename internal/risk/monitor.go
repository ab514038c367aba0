// Package risk tracks realized PnL over daily, weekly and monthly windows
// and halts trading when a window's loss limit is crossed.
package risk

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"bracket-trader/internal/config"
	apperrors "bracket-trader/internal/errors"
	"bracket-trader/internal/logging"
	"bracket-trader/internal/models"
)

// Limits are loss limits in percent of account value.
type Limits struct {
	Daily   float64
	Weekly  float64
	Monthly float64
}

// LimitsFromConfig extracts the window limits.
func LimitsFromConfig(cfg config.RiskConfig) Limits {
	return Limits{
		Daily:   cfg.DailyLossLimitPercent,
		Weekly:  cfg.WeeklyLossLimitPercent,
		Monthly: cfg.MonthlyLossLimitPercent,
	}
}

type window struct {
	pnl       float64
	limit     float64
	breached  bool
	lastReset time.Time
}

// Monitor holds the three rolling windows. A breach is sticky: once a
// window reports breached it keeps doing so until Reset is called for it.
type Monitor struct {
	mu       sync.Mutex
	windows  map[models.RiskWindow]*window
	logger   zerolog.Logger
	now      func() time.Time
	onBreach func(models.WindowReport, float64)
}

// NewMonitor creates a monitor with all windows freshly reset.
func NewMonitor(limits Limits, logger zerolog.Logger) *Monitor {
	now := time.Now()
	return &Monitor{
		windows: map[models.RiskWindow]*window{
			models.WindowDaily:   {limit: limits.Daily, lastReset: now},
			models.WindowWeekly:  {limit: limits.Weekly, lastReset: now},
			models.WindowMonthly: {limit: limits.Monthly, lastReset: now},
		},
		logger: logger.With().Str("component", "risk_monitor").Logger(),
		now:    time.Now,
	}
}

// OnBreach registers fn to run once per new breach with the window report
// and the loss percent that tripped it. fn runs with the monitor unlocked.
func (m *Monitor) OnBreach(fn func(report models.WindowReport, lossPct float64)) {
	m.mu.Lock()
	m.onBreach = fn
	m.mu.Unlock()
}

// UpdatePnL adds a realized amount to every window.
func (m *Monitor) UpdatePnL(amount float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, w := range m.windows {
		w.pnl += amount
	}
	m.logger.Info().Float64("amount", amount).
		Float64("daily_pnl", m.windows[models.WindowDaily].pnl).
		Msg("Realized PnL recorded")
}

// Seed sets a window's running PnL and reset time, used after a restart to
// restore state from the journal. The breach flag is left clear and is
// re-evaluated on the next check.
func (m *Monitor) Seed(win models.RiskWindow, pnl float64, lastReset time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.windows[win]; ok {
		w.pnl = pnl
		w.lastReset = lastReset
	}
}

// IsLimitBreached reports whether win is breached. A sticky breach returns
// true without re-checking. Otherwise the window breaches iff its PnL is
// negative and the loss reaches limit percent of accountValue. A
// non-positive accountValue cannot be evaluated and leaves the flag as is.
func (m *Monitor) IsLimitBreached(win models.RiskWindow, accountValue float64) bool {
	m.mu.Lock()
	w, ok := m.windows[win]
	if !ok {
		m.mu.Unlock()
		return false
	}
	if w.breached {
		m.mu.Unlock()
		return true
	}
	if accountValue <= 0 || w.pnl >= 0 {
		m.mu.Unlock()
		return false
	}

	lossPct := math.Abs(w.pnl) / accountValue * 100
	if lossPct < w.limit {
		m.mu.Unlock()
		return false
	}

	w.breached = true
	report := m.reportLocked(win, w, accountValue)
	hook := m.onBreach
	m.mu.Unlock()

	logging.LogBreach(m.logger, string(win), lossPct, report.LimitPercent, report.PnL)
	if hook != nil {
		hook(report, lossPct)
	}
	return true
}

// Check evaluates every window and returns a *RiskError for the first one
// breached, or nil.
func (m *Monitor) Check(accountValue float64) error {
	for _, win := range models.AllWindows {
		if m.IsLimitBreached(win, accountValue) {
			r := m.Window(win, accountValue)
			return apperrors.NewRiskError(string(win), r.UtilizationPercent*r.LimitPercent/100, r.LimitPercent,
				fmt.Sprintf("%s loss limit breached", win))
		}
	}
	return nil
}

// Breached reports whether any window currently carries the sticky flag.
// It never evaluates PnL.
func (m *Monitor) Breached() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, w := range m.windows {
		if w.breached {
			return true
		}
	}
	return false
}

// Reset clears a window's PnL and breach flag and stamps the reset time.
func (m *Monitor) Reset(win models.RiskWindow) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.windows[win]
	if !ok {
		return
	}
	wasBreached := w.breached
	w.pnl = 0
	w.breached = false
	w.lastReset = m.now()
	m.logger.Info().Str("window", string(win)).Bool("was_breached", wasBreached).Msg("Risk window reset")
}

// Window returns one window's report.
func (m *Monitor) Window(win models.RiskWindow, accountValue float64) models.WindowReport {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.windows[win]
	if !ok {
		return models.WindowReport{Window: win}
	}
	return m.reportLocked(win, w, accountValue)
}

// Report returns all windows in reporting order.
func (m *Monitor) Report(accountValue float64) []models.WindowReport {
	out := make([]models.WindowReport, 0, len(models.AllWindows))
	for _, win := range models.AllWindows {
		out = append(out, m.Window(win, accountValue))
	}
	return out
}

func (m *Monitor) reportLocked(win models.RiskWindow, w *window, accountValue float64) models.WindowReport {
	r := models.WindowReport{
		Window:       win,
		PnL:          w.pnl,
		LimitPercent: w.limit,
		Breached:     w.breached,
		LastReset:    w.lastReset,
	}
	if w.pnl < 0 && accountValue > 0 && w.limit > 0 {
		r.UtilizationPercent = math.Abs(w.pnl) / accountValue * 100 / w.limit * 100
	}
	return r
}
