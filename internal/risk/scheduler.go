package risk

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"bracket-trader/internal/config"
	"bracket-trader/internal/models"
)

// Specs are standard five-field cron expressions for each window boundary.
type Specs struct {
	Daily   string
	Weekly  string
	Monthly string
}

// SpecsFromConfig extracts the reset schedule.
func SpecsFromConfig(cfg config.RiskConfig) Specs {
	return Specs{Daily: cfg.DailyResetSpec, Weekly: cfg.WeeklyResetSpec, Monthly: cfg.MonthlyResetSpec}
}

func (s Specs) byWindow() map[models.RiskWindow]string {
	return map[models.RiskWindow]string{
		models.WindowDaily:   s.Daily,
		models.WindowWeekly:  s.Weekly,
		models.WindowMonthly: s.Monthly,
	}
}

// Scheduler resets monitor windows when their boundary passes. The daily
// reset only happens once the gate allows it (past the session close
// buffer); a boundary that fires too early stays pending until
// ApplyPending sees the gate open.
type Scheduler struct {
	cron      *cron.Cron
	monitor   *Monitor
	schedules map[models.RiskWindow]cron.Schedule
	specs     map[models.RiskWindow]string
	loc       *time.Location
	gate      func(time.Time) bool
	logger    zerolog.Logger

	mu      sync.Mutex
	pending map[models.RiskWindow]bool
}

// NewScheduler parses the specs in loc. gate may be nil.
func NewScheduler(monitor *Monitor, specs Specs, loc *time.Location, gate func(time.Time) bool, logger zerolog.Logger) (*Scheduler, error) {
	if loc == nil {
		loc = time.Local
	}
	s := &Scheduler{
		cron:      cron.New(cron.WithLocation(loc)),
		monitor:   monitor,
		schedules: make(map[models.RiskWindow]cron.Schedule),
		specs:     specs.byWindow(),
		loc:       loc,
		gate:      gate,
		logger:    logger.With().Str("component", "risk_scheduler").Logger(),
		pending:   make(map[models.RiskWindow]bool),
	}
	for win, spec := range s.specs {
		sched, err := cron.ParseStandard(spec)
		if err != nil {
			return nil, fmt.Errorf("invalid %s reset spec %q: %w", win, spec, err)
		}
		s.schedules[win] = sched
	}
	return s, nil
}

// Start registers the reset jobs and runs them until ctx is done.
func (s *Scheduler) Start(ctx context.Context) error {
	for _, win := range models.AllWindows {
		win := win
		if _, err := s.cron.AddFunc(s.specs[win], func() {
			s.fire(win, time.Now().In(s.loc))
		}); err != nil {
			return fmt.Errorf("registering %s reset: %w", win, err)
		}
	}
	s.cron.Start()
	s.logger.Info().Msg("Risk reset scheduler started")

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// Stop halts the cron and waits for running jobs.
func (s *Scheduler) Stop() {
	done := s.cron.Stop()
	<-done.Done()
	s.logger.Info().Msg("Risk reset scheduler stopped")
}

func (s *Scheduler) fire(win models.RiskWindow, now time.Time) {
	if win == models.WindowDaily && s.gate != nil && !s.gate(now) {
		s.mu.Lock()
		s.pending[win] = true
		s.mu.Unlock()
		s.logger.Info().Str("window", string(win)).Msg("Reset deferred until after session close")
		return
	}
	s.mu.Lock()
	delete(s.pending, win)
	s.mu.Unlock()
	s.monitor.Reset(win)
}

// ApplyPending performs deferred resets whose gate is now open and returns
// the windows reset.
func (s *Scheduler) ApplyPending(now time.Time) []models.RiskWindow {
	s.mu.Lock()
	var due []models.RiskWindow
	for win := range s.pending {
		if win == models.WindowDaily && s.gate != nil && !s.gate(now) {
			continue
		}
		due = append(due, win)
		delete(s.pending, win)
	}
	s.mu.Unlock()

	sort.Slice(due, func(i, j int) bool { return due[i] < due[j] })
	for _, win := range due {
		s.monitor.Reset(win)
	}
	return due
}

// Pending reports whether a reset is waiting on the gate.
func (s *Scheduler) Pending(win models.RiskWindow) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending[win]
}

// LastBoundary returns the most recent activation of win's schedule at or
// before now, or the zero time if none falls within the lookback.
func (s *Scheduler) LastBoundary(win models.RiskWindow, now time.Time) time.Time {
	sched, ok := s.schedules[win]
	if !ok {
		return time.Time{}
	}
	return lastActivation(sched, now.In(s.loc), 62*24*time.Hour)
}

func lastActivation(sched cron.Schedule, now time.Time, lookback time.Duration) time.Time {
	const maxSteps = 100000
	var last time.Time
	t := now.Add(-lookback)
	for i := 0; i < maxSteps; i++ {
		next := sched.Next(t)
		if next.IsZero() || next.After(now) {
			break
		}
		last = next
		t = next
	}
	return last
}
