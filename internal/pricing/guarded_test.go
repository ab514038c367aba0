package pricing

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bracket-trader/internal/config"
	apperrors "bracket-trader/internal/errors"
	"bracket-trader/internal/models"
	"bracket-trader/internal/resilience"
)

type countingProvider struct {
	Provider
	calls atomic.Int32
}

func (p *countingProvider) GetQuote(ctx context.Context, symbol string) (models.Quote, error) {
	p.calls.Add(1)
	return p.Provider.GetQuote(ctx, symbol)
}

func tripOnFirstFailure(name string) *resilience.CircuitBreaker {
	return resilience.NewCircuitBreaker(name, resilience.CircuitBreakerConfig{
		FailureThreshold: 1,
		SuccessThreshold: 1,
		Timeout:          time.Minute,
	}, zerolog.Nop())
}

func TestGuarded_OpenBreakerSkipsProvider(t *testing.T) {
	inner := &countingProvider{Provider: failingProvider{name: "flaky"}}
	g := NewGuarded(inner, tripOnFirstFailure("provider:flaky"))

	_, err := g.GetQuote(context.Background(), "AAPL")
	require.Error(t, err)

	_, err = g.GetQuote(context.Background(), "AAPL")
	assert.ErrorIs(t, err, apperrors.ErrCircuitOpen)
	assert.Equal(t, int32(1), inner.calls.Load())
}

func TestGuarded_MissingSymbolDoesNotTrip(t *testing.T) {
	cb := tripOnFirstFailure("provider:static")
	g := NewGuarded(NewStaticProvider("static", map[string]float64{"AAPL": 190}), cb)

	for i := 0; i < 3; i++ {
		_, err := g.GetQuote(context.Background(), "MSFT")
		assert.ErrorIs(t, err, ErrNoQuote)
	}
	assert.Equal(t, resilience.CircuitClosed, cb.State())

	q, err := g.GetQuote(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 190.0, q.Price)
}

func TestAggregator_OpenBreakerCountsAsNoQuote(t *testing.T) {
	flaky := &countingProvider{Provider: failingProvider{name: "flaky"}}
	guarded := NewGuarded(flaky, tripOnFirstFailure("provider:flaky"))

	alone := NewAggregator([]Provider{guarded}, time.Second, zerolog.Nop())
	_, ok := alone.GetPrice(context.Background(), "AAPL")
	assert.False(t, ok)
	_, ok = alone.GetPrice(context.Background(), "AAPL")
	assert.False(t, ok)
	assert.Equal(t, int32(1), flaky.calls.Load())

	backup := NewStaticProvider("static", map[string]float64{"AAPL": 190})
	agg := NewAggregator([]Provider{guarded, backup}, time.Second, zerolog.Nop())
	q, ok := agg.GetPrice(context.Background(), "AAPL")
	require.True(t, ok)
	assert.Equal(t, "static", q.Provider)
	assert.Equal(t, int32(1), flaky.calls.Load())
}

func TestNewFromConfig_BreakerPerNetworkProvider(t *testing.T) {
	cfg := &config.Config{}
	cfg.Pricing.Providers = []string{"finnhub", "static"}
	cfg.Pricing.Finnhub = config.HTTPProviderConfig{APIKey: "key", RequestsPerMinute: 60}
	cfg.Pricing.Static = map[string]float64{"AAPL": 190}

	breakers := resilience.NewRegistry(resilience.DefaultCircuitBreakerConfig(), zerolog.Nop())
	_, err := NewFromConfig(cfg, breakers, zerolog.Nop())
	require.NoError(t, err)

	var names []string
	for _, s := range breakers.AllStats() {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"provider:finnhub"}, names)
}
