package trading

import (
	"sync"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "bracket-trader/internal/errors"
	"bracket-trader/internal/models"
)

func dec(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func TestLedger_ReserveReducesRemaining(t *testing.T) {
	l := NewCapitalLedger()

	adm := l.Begin(10000)
	require.NoError(t, adm.Reserve("g1", dec(2000)))
	assert.Equal(t, 8000.0, adm.Remaining())
	require.NoError(t, adm.Reserve("g1", dec(2000)), "reserving twice is a no-op")
	assert.Equal(t, 8000.0, adm.Remaining())

	snap := adm.Snapshot()
	assert.Equal(t, 10000.0, snap.TotalBuyingPower)
	assert.Equal(t, 2000.0, snap.Committed)
	adm.Close()
	adm.Close()

	assert.True(t, l.IsCommitted("g1"))
	assert.Equal(t, 2000.0, l.Committed())

	// The next admission starts from what is still committed.
	adm = l.Begin(10000)
	assert.Equal(t, 8000.0, adm.Remaining())
	adm.Close()
}

func TestLedger_InsufficientCapital(t *testing.T) {
	l := NewCapitalLedger()
	adm := l.Begin(1000)
	defer adm.Close()

	require.NoError(t, adm.Reserve("g1", dec(900)))
	err := adm.Reserve("g2", dec(200))
	assert.ErrorIs(t, err, apperrors.ErrInsufficientCapital)
	assert.False(t, l.committed["g2"].IsPositive())
}

func TestLedger_ReserveExactRemaining(t *testing.T) {
	l := NewCapitalLedger()
	adm := l.Begin(510.50)
	defer adm.Close()

	g := &models.BracketOrderGroup{GroupID: "g1", EntryPrice: 10.21, Quantity: 50}
	require.NoError(t, adm.Reserve(g.GroupID, g.NotionalAmount()))
	assert.Zero(t, adm.Remaining())
}

func TestLedger_ReserveAfterCloseFails(t *testing.T) {
	l := NewCapitalLedger()
	adm := l.Begin(1000)
	adm.Close()
	assert.Error(t, adm.Reserve("g1", dec(10)))
}

func TestLedger_ReleaseReturnsCapital(t *testing.T) {
	l := NewCapitalLedger()
	adm := l.Begin(1000)
	require.NoError(t, adm.Reserve("g1", dec(600)))
	adm.Close()

	amount, ok := l.Release("g1")
	assert.True(t, ok)
	assert.Equal(t, 600.0, amount)
	_, ok = l.Release("g1")
	assert.False(t, ok)
	assert.Zero(t, l.Committed())
}

func TestLedger_AdoptCountsTowardsCommitted(t *testing.T) {
	l := NewCapitalLedger()
	l.Adopt("restored", dec(750))
	adm := l.Begin(1000)
	defer adm.Close()
	assert.Equal(t, 250.0, adm.Remaining())
}

func TestLedger_RemainingFlooredAtZero(t *testing.T) {
	l := NewCapitalLedger()
	l.Adopt("big", dec(5000))
	adm := l.Begin(1000)
	defer adm.Close()
	assert.Zero(t, adm.Remaining())
}

func TestLedger_ConcurrentAdmissionsNeverOvercommit(t *testing.T) {
	l := NewCapitalLedger()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			adm := l.Begin(1000)
			defer adm.Close()
			_ = adm.Reserve(string(rune('a'+i%26))+string(rune('A'+i/26)), dec(30))
		}(i)
	}
	wg.Wait()
	assert.LessOrEqual(t, l.Committed(), 1000.0)
	assert.Equal(t, 990.0, l.Committed())
}

func TestProperty_LedgerNeverExceedsTotal(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("committed stays within total buying power", prop.ForAll(
		func(total float64, amounts []float64) bool {
			l := NewCapitalLedger()
			adm := l.Begin(total)
			for i, a := range amounts {
				_ = adm.Reserve(string(rune('a'+i)), dec(a))
			}
			adm.Close()
			return l.Committed() <= total+1e-6
		},
		gen.Float64Range(0, 100000),
		gen.SliceOfN(20, gen.Float64Range(0, 20000)),
	))

	properties.TestingRun(t)
}
