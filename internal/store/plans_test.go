package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "bracket-trader/internal/errors"
	"bracket-trader/internal/models"
)

var testDefaults = PlanDefaults{RiskFraction: 0.01, ProfitToLossRatio: 2, AvailableQuantityRatio: 0.5}

func longPlan(symbol string) models.PlanEntry {
	return models.PlanEntry{
		Symbol:        symbol,
		Side:          models.SideBuy,
		EntryPrice:    100,
		StopLossPrice: 95,
		EntryMethod:   models.EntryLimit,
	}
}

func newTestStore(t *testing.T) (*PlanStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "plans.json")
	return NewPlanStore(path, testDefaults, zerolog.Nop()), path
}

func writeRaw(t *testing.T, path string, v interface{}) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0644))
}

func TestPlanStore_MissingFileLoadsEmpty(t *testing.T) {
	s, _ := newTestStore(t)
	rejections, err := s.Load()
	require.NoError(t, err)
	assert.Empty(t, rejections)
	assert.Empty(t, s.Plans())
}

func TestPlanStore_AppliesDefaultsAndRejectsInvalid(t *testing.T) {
	s, path := newTestStore(t)
	bad := longPlan("BAD")
	bad.StopLossPrice = 105
	writeRaw(t, path, map[string]interface{}{
		"plans": []models.PlanEntry{longPlan("aapl"), bad},
	})

	rejections, err := s.Load()
	require.NoError(t, err)
	require.Len(t, rejections, 1)
	assert.Equal(t, "BAD", rejections[0].Symbol)

	p, ok := s.Get("AAPL")
	require.True(t, ok)
	assert.Equal(t, models.PlanActive, p.Status)
	assert.Equal(t, 0.01, p.RiskFraction)
	assert.Equal(t, 2.0, p.ProfitToLossRatio)
	assert.Equal(t, 110.0, p.ResolvedTakeProfit())
	assert.Len(t, s.Active(), 1)

	// Rejected records survive the next write.
	require.NoError(t, s.MarkExpired("AAPL"))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"BAD"`)
}

func TestPlanStore_DuplicateSymbolRejected(t *testing.T) {
	s, path := newTestStore(t)
	writeRaw(t, path, map[string]interface{}{
		"plans": []models.PlanEntry{longPlan("AAPL"), longPlan("AAPL")},
	})
	rejections, err := s.Load()
	require.NoError(t, err)
	assert.Len(t, rejections, 1)
	assert.Len(t, s.Plans(), 1)

	assert.Error(t, s.Add(longPlan("AAPL")))
}

func TestPlanStore_SaveKeepsBackup(t *testing.T) {
	s, path := newTestStore(t)
	_, err := s.Load()
	require.NoError(t, err)

	require.NoError(t, s.Add(longPlan("AAPL")))
	_, err = os.Stat(path + ".bak")
	assert.True(t, os.IsNotExist(err), "first write has nothing to back up")

	require.NoError(t, s.Add(longPlan("MSFT")))
	backup, err := s.readFile(path + ".bak")
	require.NoError(t, err)
	require.Len(t, backup.Plans, 1)
	assert.Equal(t, "AAPL", backup.Plans[0].Symbol)

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file must not linger")
}

func TestPlanStore_CorruptPrimaryFallsBackToBackup(t *testing.T) {
	s, path := newTestStore(t)
	_, err := s.Load()
	require.NoError(t, err)
	require.NoError(t, s.Add(longPlan("AAPL")))
	require.NoError(t, s.Add(longPlan("MSFT")))

	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	reloaded := NewPlanStore(path, testDefaults, zerolog.Nop())
	_, err = reloaded.Load()
	require.NoError(t, err)
	_, ok := reloaded.Get("AAPL")
	assert.True(t, ok)
}

func TestPlanStore_CorruptBeyondRecovery(t *testing.T) {
	s, path := newTestStore(t)
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))
	require.NoError(t, os.WriteFile(path+".bak", []byte("[broken"), 0644))

	_, err := s.Load()
	assert.ErrorIs(t, err, apperrors.ErrPlanStoreCorrupt)
}

func TestPlanStore_WriteFailureKeepsMemoryState(t *testing.T) {
	s, path := newTestStore(t)
	_, err := s.Load()
	require.NoError(t, err)

	// A directory in place of the plan file makes every write fail.
	require.NoError(t, os.MkdirAll(filepath.Join(path, "blocker"), 0755))

	err = s.Add(longPlan("AAPL"))
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrPersistence)

	var perr *apperrors.PersistenceError
	assert.True(t, apperrors.As(err, &perr))
	assert.True(t, s.Dirty())

	_, ok := s.Get("AAPL")
	assert.True(t, ok, "in-memory state stays the source of truth")
}

func TestPlanStore_Lifecycle(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.Load()
	require.NoError(t, err)
	require.NoError(t, s.Add(longPlan("AAPL")))
	require.NoError(t, s.Add(longPlan("MSFT")))

	suspended, err := s.SuspendOthers("AAPL")
	require.NoError(t, err)
	assert.Equal(t, []string{"MSFT"}, suspended)

	require.NoError(t, s.MarkExecuted("AAPL", models.ExecutionInfo{GroupID: "g1", Price: 100, Quantity: 20, ExecutedAt: time.Now()}))
	assert.Empty(t, s.Active())

	reactivated, err := s.ReactivateInactive()
	require.NoError(t, err)
	assert.Equal(t, []string{"MSFT"}, reactivated)

	require.NoError(t, s.Reset("AAPL"))
	p, _ := s.Get("AAPL")
	assert.Equal(t, models.PlanActive, p.Status)
	assert.Nil(t, p.Execution)

	assert.Error(t, s.Reset("AAPL"), "active plan has nothing to reset")
	assert.ErrorIs(t, s.MarkActive("NOPE"), apperrors.ErrPlanNotFound)
}

func TestPlanStore_ExpireDue(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.Load()
	require.NoError(t, err)

	yesterday := time.Now().Add(-24 * time.Hour)
	tomorrow := time.Now().Add(24 * time.Hour)
	old := longPlan("OLD")
	old.ExpiryDate = &yesterday
	fresh := longPlan("NEW")
	fresh.ExpiryDate = &tomorrow
	require.NoError(t, s.Add(old))
	require.NoError(t, s.Add(fresh))

	expired, err := s.ExpireDue(time.Now())
	require.NoError(t, err)
	assert.Equal(t, []string{"OLD"}, expired)

	active := s.Active()
	require.Len(t, active, 1)
	assert.Equal(t, "NEW", active[0].Symbol)
}

// Property: a plan with execution metadata survives save and reload intact.
func TestProperty_PlanRoundTrip(t *testing.T) {
	dir := t.TempDir()

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	n := 0
	properties.Property("save then load preserves plan and execution", prop.ForAll(
		func(entry, stopFrac float64, long bool, qty int64, ratio float64) bool {
			n++
			path := filepath.Join(dir, fmt.Sprintf("plans-%d.json", n))
			s := NewPlanStore(path, testDefaults, zerolog.Nop())
			if _, err := s.Load(); err != nil {
				return false
			}

			p := models.PlanEntry{
				Symbol:            fmt.Sprintf("SYM%d", n),
				Side:              models.SideBuy,
				EntryPrice:        entry,
				StopLossPrice:     entry * (1 - stopFrac),
				EntryMethod:       models.EntryLimit,
				ProfitToLossRatio: ratio,
			}
			if !long {
				p.Side = models.SideSell
				p.StopLossPrice = entry * (1 + stopFrac)
			}
			if err := s.Add(p); err != nil {
				t.Logf("add: %v", err)
				return false
			}
			info := models.ExecutionInfo{GroupID: "grp", Price: entry, Quantity: qty, ExecutedAt: time.Now(), Simulated: !long}
			if err := s.MarkExecuted(p.Symbol, info); err != nil {
				return false
			}

			reloaded := NewPlanStore(path, testDefaults, zerolog.Nop())
			if _, err := reloaded.Load(); err != nil {
				return false
			}
			got, ok := reloaded.Get(p.Symbol)
			if !ok || got.Execution == nil {
				return false
			}
			return got.Status == models.PlanExecuted &&
				got.EntryPrice == p.EntryPrice &&
				got.StopLossPrice == p.StopLossPrice &&
				got.ProfitToLossRatio == ratio &&
				got.Execution.Quantity == qty &&
				got.Execution.Price == entry &&
				got.Execution.Simulated == info.Simulated &&
				got.Execution.ExecutedAt.Equal(info.ExecutedAt)
		},
		gen.Float64Range(1, 5000),
		gen.Float64Range(0.01, 0.2),
		gen.Bool(),
		gen.Int64Range(1, 10000),
		gen.Float64Range(1, 4),
	))

	properties.TestingRun(t)
}
