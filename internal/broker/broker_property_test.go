package broker

import (
	"context"
	"errors"
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
	"bracket-trader/internal/resilience"
)

func longGroup(id string, qty int64) *models.BracketOrderGroup {
	return &models.BracketOrderGroup{
		GroupID:         id,
		Symbol:          "AAPL",
		Side:            models.SideBuy,
		Quantity:        qty,
		EntryPrice:      100,
		StopLossPrice:   95,
		TakeProfitPrice: 110,
		EntryMethod:     models.EntryLimit,
		Status:          models.StatusPending,
	}
}

func newPaper(fill bool) *PaperBroker {
	return NewPaperBroker(PaperBrokerConfig{InitialBalance: 10000, FillOnSubmit: fill, Logger: zerolog.Nop()})
}

func TestPaperBroker_DryRunFillsEntryOnSubmit(t *testing.T) {
	ctx := context.Background()
	p := newPaper(true)
	g := longGroup("g1", 20)

	require.NoError(t, p.SubmitBracketOrder(ctx, g, "paper"))
	require.NotEmpty(t, g.EntryOrderID)
	require.NotEmpty(t, g.StopLossOrderID)
	require.NotEmpty(t, g.TakeProfitOrderID)

	status, err := p.GetOrderStatus(ctx, g.EntryOrderID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderFilled, status)

	price, err := p.GetExecutionPrice(ctx, g.EntryOrderID)
	require.NoError(t, err)
	assert.Equal(t, 100.0, price)

	bp, err := p.GetBuyingPower(ctx, "paper")
	require.NoError(t, err)
	assert.Equal(t, 8000.0, bp)

	status, err = p.GetOrderStatus(ctx, g.StopLossOrderID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderOpen, status)
}

func TestPaperBroker_ExitFillCancelsSibling(t *testing.T) {
	ctx := context.Background()
	p := newPaper(true)
	g := longGroup("g1", 10)
	require.NoError(t, p.SubmitBracketOrder(ctx, g, "paper"))

	p.ObservePrice("AAPL", 111)

	tp, _ := p.GetOrderStatus(ctx, g.TakeProfitOrderID)
	sl, _ := p.GetOrderStatus(ctx, g.StopLossOrderID)
	assert.Equal(t, models.OrderFilled, tp)
	assert.Equal(t, models.OrderCanceled, sl)

	bp, _ := p.GetBuyingPower(ctx, "paper")
	assert.Equal(t, 10100.0, bp)
}

func TestPaperBroker_UnfilledEntryCanBeCancelled(t *testing.T) {
	ctx := context.Background()
	p := newPaper(false)
	g := longGroup("g1", 10)
	require.NoError(t, p.SubmitBracketOrder(ctx, g, "paper"))

	status, _ := p.GetOrderStatus(ctx, g.EntryOrderID)
	assert.Equal(t, models.OrderOpen, status)

	require.NoError(t, p.CancelOrder(ctx, g.EntryOrderID))
	status, _ = p.GetOrderStatus(ctx, g.EntryOrderID)
	assert.Equal(t, models.OrderCanceled, status)
	status, _ = p.GetOrderStatus(ctx, g.StopLossOrderID)
	assert.Equal(t, models.OrderCanceled, status)

	// Cancelling twice is not an error.
	assert.NoError(t, p.CancelOrder(ctx, g.EntryOrderID))
}

func TestPaperBroker_RejectNext(t *testing.T) {
	p := newPaper(true)
	p.RejectNext(errors.New("symbol halted"))

	err := p.SubmitBracketOrder(context.Background(), longGroup("g1", 1), "paper")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrOrderRejected)

	var brokerErr *apperrors.BrokerError
	assert.True(t, apperrors.As(err, &brokerErr))
}

func TestMapAlpacaStatus(t *testing.T) {
	tests := map[string]models.BrokerOrderStatus{
		"filled":           models.OrderFilled,
		"partially_filled": models.OrderPartiallyFilled,
		"canceled":         models.OrderCanceled,
		"expired":          models.OrderCanceled,
		"rejected":         models.OrderRejected,
		"new":              models.OrderOpen,
		"held":             models.OrderPending,
	}
	for in, want := range tests {
		assert.Equal(t, want, mapAlpacaStatus(in), in)
	}
}

func TestKiteTag(t *testing.T) {
	tag := kiteTag("3f1c2a4e-8b9d-4e21-a6f7-0c1d2e3f4a5b")
	assert.Len(t, tag, 20)
	assert.NotContains(t, tag, "-")
}

func TestGuarded_OpensAfterFailures(t *testing.T) {
	ctx := context.Background()
	p := newPaper(true)
	cb := resilience.NewCircuitBreaker("paper", resilience.CircuitBreakerConfig{
		FailureThreshold: 2, SuccessThreshold: 1, Timeout: time.Minute,
	}, zerolog.Nop())
	g := NewGuarded(p, cb, zerolog.Nop())

	_, err := g.GetOrderStatus(ctx, "missing-1")
	require.Error(t, err)
	_, err = g.GetOrderStatus(ctx, "missing-2")
	require.Error(t, err)

	_, err = g.GetBuyingPower(ctx, "paper")
	assert.ErrorIs(t, err, apperrors.ErrCircuitOpen)
}

func TestIsSimulated(t *testing.T) {
	cb := resilience.NewCircuitBreaker("test", resilience.DefaultCircuitBreakerConfig(), zerolog.Nop())
	alpaca := NewAlpacaBroker(AlpacaConfig{APIKey: "k", APISecret: "s"}, zerolog.Nop())

	assert.True(t, IsSimulated(newPaper(true)))
	assert.True(t, IsSimulated(NewGuarded(newPaper(false), cb, zerolog.Nop())))
	assert.False(t, IsSimulated(alpaca))
	assert.False(t, IsSimulated(NewGuarded(alpaca, cb, zerolog.Nop())))
}

// Property: a filled-then-closed long round trip changes cash by exactly the
// realized PnL.
func TestProperty_PaperCashTracksRealizedPnL(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("cash delta equals realized pnl", prop.ForAll(
		func(qty int64, hitTarget bool) bool {
			ctx := context.Background()
			p := NewPaperBroker(PaperBrokerConfig{InitialBalance: 1_000_000, FillOnSubmit: true, Logger: zerolog.Nop()})
			g := longGroup("g", qty)
			if err := p.SubmitBracketOrder(ctx, g, "paper"); err != nil {
				return false
			}
			g.FillPrice = g.EntryPrice

			exitID, px := g.StopLossOrderID, 90.0
			if hitTarget {
				exitID, px = g.TakeProfitOrderID, 120.0
			}
			p.ObservePrice("AAPL", px)

			exit, err := p.GetExecutionPrice(ctx, exitID)
			if err != nil {
				return false
			}
			cash, _ := p.GetBuyingPower(ctx, "paper")
			return cash-1_000_000 == g.RealizedPnL(exit)
		},
		gen.Int64Range(1, 500),
		gen.Bool(),
	))

	properties.TestingRun(t)
}
