package pricing

import (
	"context"
	"errors"

	"bracket-trader/internal/models"
	"bracket-trader/internal/resilience"
)

// Guarded routes a provider's quote requests through a circuit breaker.
// A missing symbol is an answer, not an outage, and does not count
// against the breaker.
type Guarded struct {
	inner   Provider
	breaker *resilience.CircuitBreaker
}

// NewGuarded wraps p with breaker. Call latency is logged by the Aggregator.
func NewGuarded(p Provider, breaker *resilience.CircuitBreaker) *Guarded {
	return &Guarded{inner: p, breaker: breaker}
}

func (g *Guarded) Name() string { return g.inner.Name() }

func (g *Guarded) GetQuote(ctx context.Context, symbol string) (models.Quote, error) {
	missing := false
	q, err := resilience.ExecuteWithResult(g.breaker, ctx, func(ctx context.Context) (models.Quote, error) {
		q, err := g.inner.GetQuote(ctx, symbol)
		if errors.Is(err, ErrNoQuote) {
			missing = true
			return models.Quote{}, nil
		}
		return q, err
	})
	if err == nil && missing {
		return models.Quote{}, ErrNoQuote
	}
	return q, err
}
