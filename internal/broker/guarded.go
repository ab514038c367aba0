package broker

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"bracket-trader/internal/logging"
	"bracket-trader/internal/models"
	"bracket-trader/internal/resilience"
)

// Guarded routes every call of an OrderBroker through a circuit breaker and
// logs its latency.
type Guarded struct {
	inner   OrderBroker
	breaker *resilience.CircuitBreaker
	logger  zerolog.Logger
}

// NewGuarded wraps inner with breaker.
func NewGuarded(inner OrderBroker, breaker *resilience.CircuitBreaker, logger zerolog.Logger) *Guarded {
	return &Guarded{inner: inner, breaker: breaker, logger: logger}
}

// Unwrap returns the wrapped broker.
func (g *Guarded) Unwrap() OrderBroker { return g.inner }

func (g *Guarded) Name() string { return g.inner.Name() }

func (g *Guarded) SupportsNativeBracket() bool { return g.inner.SupportsNativeBracket() }

func (g *Guarded) GetBuyingPower(ctx context.Context, account string) (float64, error) {
	return guard(g, ctx, "GetBuyingPower", func(ctx context.Context) (float64, error) {
		return g.inner.GetBuyingPower(ctx, account)
	})
}

func (g *Guarded) SubmitBracketOrder(ctx context.Context, group *models.BracketOrderGroup, account string) error {
	_, err := guard(g, ctx, "SubmitBracketOrder", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, g.inner.SubmitBracketOrder(ctx, group, account)
	})
	return err
}

func (g *Guarded) GetOrderStatus(ctx context.Context, orderID string) (models.BrokerOrderStatus, error) {
	return guard(g, ctx, "GetOrderStatus", func(ctx context.Context) (models.BrokerOrderStatus, error) {
		return g.inner.GetOrderStatus(ctx, orderID)
	})
}

func (g *Guarded) GetExecutionPrice(ctx context.Context, orderID string) (float64, error) {
	return guard(g, ctx, "GetExecutionPrice", func(ctx context.Context) (float64, error) {
		return g.inner.GetExecutionPrice(ctx, orderID)
	})
}

func (g *Guarded) CancelOrder(ctx context.Context, orderID string) error {
	_, err := guard(g, ctx, "CancelOrder", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, g.inner.CancelOrder(ctx, orderID)
	})
	return err
}

// PlaceExitLegs forwards to the inner broker when it places exits separately.
func (g *Guarded) PlaceExitLegs(ctx context.Context, group *models.BracketOrderGroup) error {
	placer, ok := g.inner.(ExitLegPlacer)
	if !ok {
		return nil
	}
	_, err := guard(g, ctx, "PlaceExitLegs", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, placer.PlaceExitLegs(ctx, group)
	})
	return err
}

// ObservePrice forwards to simulated brokers.
func (g *Guarded) ObservePrice(symbol string, price float64) {
	if obs, ok := g.inner.(PriceObserver); ok {
		obs.ObservePrice(symbol, price)
	}
}

func guard[T any](g *Guarded, ctx context.Context, method string, fn func(context.Context) (T, error)) (T, error) {
	start := time.Now()
	v, err := resilience.ExecuteWithResult(g.breaker, ctx, fn)
	logging.LogAPICall(g.logger, method, g.inner.Name(), time.Since(start), err)
	return v, err
}
