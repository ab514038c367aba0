package risk

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "bracket-trader/internal/errors"
	"bracket-trader/internal/models"
)

var testLimits = Limits{Daily: 2, Weekly: 5, Monthly: 10}

func TestMonitor_UpdatePnLHitsAllWindows(t *testing.T) {
	m := NewMonitor(testLimits, zerolog.Nop())
	m.UpdatePnL(-100)
	m.UpdatePnL(40)

	for _, r := range m.Report(10000) {
		assert.Equal(t, -60.0, r.PnL, r.Window)
		assert.False(t, r.Breached, r.Window)
	}
}

func TestMonitor_BreachThresholds(t *testing.T) {
	tests := []struct {
		name     string
		pnl      float64
		window   models.RiskWindow
		breached bool
	}{
		{"profit never breaches", 5000, models.WindowDaily, false},
		{"just under daily", -199, models.WindowDaily, false},
		{"exactly daily limit", -200, models.WindowDaily, true},
		{"over daily, under weekly", -300, models.WindowWeekly, false},
		{"weekly limit", -500, models.WindowWeekly, true},
		{"monthly limit", -1000, models.WindowMonthly, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMonitor(testLimits, zerolog.Nop())
			m.UpdatePnL(tt.pnl)
			assert.Equal(t, tt.breached, m.IsLimitBreached(tt.window, 10000))
		})
	}
}

func TestMonitor_ZeroAccountValueCannotBreach(t *testing.T) {
	m := NewMonitor(testLimits, zerolog.Nop())
	m.UpdatePnL(-1000)
	assert.False(t, m.IsLimitBreached(models.WindowDaily, 0))
}

func TestMonitor_BreachHookFiresOnce(t *testing.T) {
	m := NewMonitor(testLimits, zerolog.Nop())
	var calls int
	var got models.WindowReport
	m.OnBreach(func(r models.WindowReport, lossPct float64) {
		calls++
		got = r
		assert.InDelta(t, 3.0, lossPct, 1e-9)
	})

	m.UpdatePnL(-300)
	assert.True(t, m.IsLimitBreached(models.WindowDaily, 10000))
	assert.True(t, m.IsLimitBreached(models.WindowDaily, 10000))
	assert.Equal(t, 1, calls)
	assert.Equal(t, models.WindowDaily, got.Window)
	assert.True(t, got.Breached)
}

func TestMonitor_CheckReturnsRiskError(t *testing.T) {
	m := NewMonitor(testLimits, zerolog.Nop())
	require.NoError(t, m.Check(10000))

	m.UpdatePnL(-250)
	err := m.Check(10000)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrRiskLimitBreached)

	var riskErr *apperrors.RiskError
	require.True(t, apperrors.As(err, &riskErr))
	assert.Equal(t, "daily", riskErr.Window)
	assert.InDelta(t, 2.5, riskErr.Current, 1e-9)
	assert.True(t, m.Breached())
}

func TestMonitor_ResetClearsWindow(t *testing.T) {
	m := NewMonitor(testLimits, zerolog.Nop())
	fixed := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return fixed }

	m.UpdatePnL(-300)
	require.True(t, m.IsLimitBreached(models.WindowDaily, 10000))

	m.Reset(models.WindowDaily)
	r := m.Window(models.WindowDaily, 10000)
	assert.Zero(t, r.PnL)
	assert.False(t, r.Breached)
	assert.Equal(t, fixed, r.LastReset)

	// Other windows keep their PnL.
	assert.Equal(t, -300.0, m.Window(models.WindowWeekly, 10000).PnL)
}

func TestMonitor_UtilizationPercent(t *testing.T) {
	m := NewMonitor(testLimits, zerolog.Nop())
	m.UpdatePnL(-100)
	r := m.Window(models.WindowDaily, 10000)
	// 1% loss of a 2% limit.
	assert.InDelta(t, 50.0, r.UtilizationPercent, 1e-9)
}

func TestScheduler_DailyResetWaitsForGate(t *testing.T) {
	m := NewMonitor(testLimits, zerolog.Nop())
	open := true
	gate := func(time.Time) bool { return !open }
	s, err := NewScheduler(m, Specs{Daily: "0 0 * * *", Weekly: "0 0 * * 1", Monthly: "0 0 1 * *"}, time.UTC, gate, zerolog.Nop())
	require.NoError(t, err)

	m.UpdatePnL(-300)
	require.True(t, m.IsLimitBreached(models.WindowDaily, 10000))

	s.fire(models.WindowDaily, time.Now())
	assert.True(t, s.Pending(models.WindowDaily))
	assert.True(t, m.IsLimitBreached(models.WindowDaily, 10000))
	assert.Empty(t, s.ApplyPending(time.Now()))

	open = false
	assert.Equal(t, []models.RiskWindow{models.WindowDaily}, s.ApplyPending(time.Now()))
	assert.False(t, m.IsLimitBreached(models.WindowDaily, 10000))

	// Weekly is never gated.
	s.fire(models.WindowWeekly, time.Now())
	assert.Zero(t, m.Window(models.WindowWeekly, 10000).PnL)
}

func TestScheduler_RejectsBadSpec(t *testing.T) {
	_, err := NewScheduler(NewMonitor(testLimits, zerolog.Nop()), Specs{Daily: "nope", Weekly: "0 0 * * 1", Monthly: "0 0 1 * *"}, time.UTC, nil, zerolog.Nop())
	assert.Error(t, err)
}

func TestLastActivation(t *testing.T) {
	sched, err := cron.ParseStandard("0 0 * * 1")
	require.NoError(t, err)

	// Wednesday 2026-03-04 15:00 UTC; the last Monday midnight is 2026-03-02.
	now := time.Date(2026, 3, 4, 15, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), lastActivation(sched, now, 62*24*time.Hour))

	monthly, err := cron.ParseStandard("0 0 1 * *")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), lastActivation(monthly, now, 62*24*time.Hour))
}

// Property: once a window reports breached, later gains do not clear it;
// only Reset does.
func TestProperty_BreachIsSticky(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("breach persists until reset", prop.ForAll(
		func(loss float64, gains []float64) bool {
			m := NewMonitor(testLimits, zerolog.Nop())
			m.UpdatePnL(-loss)
			if !m.IsLimitBreached(models.WindowDaily, 10000) {
				return false
			}
			for _, g := range gains {
				m.UpdatePnL(g)
				if !m.IsLimitBreached(models.WindowDaily, 10000) {
					return false
				}
			}
			m.Reset(models.WindowDaily)
			return !m.IsLimitBreached(models.WindowDaily, 10000)
		},
		gen.Float64Range(200, 5000),
		gen.SliceOf(gen.Float64Range(0, 10000)),
	))

	properties.TestingRun(t)
}
