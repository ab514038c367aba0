// Package pricing fetches quotes from several market-data providers and picks
// one authoritative price per symbol per cycle.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	apperrors "bracket-trader/internal/errors"
	"bracket-trader/internal/models"
)

// Provider is a source of quotes. Implementations return an error for any
// failure; the Aggregator treats errors as "no quote from this provider".
type Provider interface {
	Name() string
	GetQuote(ctx context.Context, symbol string) (models.Quote, error)
}

// ErrRateLimited is returned when a provider's request budget is exhausted.
var ErrRateLimited = errors.New("provider rate limit exhausted")

// ErrNoQuote is returned when a provider has no data for a symbol.
var ErrNoQuote = fmt.Errorf("%w: no quote for symbol", apperrors.ErrPriceUnavailable)

// Limited wraps a Provider with a requests-per-minute budget. Calls over
// budget fail fast instead of blocking the cycle.
type Limited struct {
	Provider
	limiter *rate.Limiter
}

// NewLimited wraps p; a non-positive perMinute disables limiting.
func NewLimited(p Provider, perMinute int) Provider {
	if perMinute <= 0 {
		return p
	}
	burst := perMinute / 10
	if burst < 1 {
		burst = 1
	}
	return &Limited{
		Provider: p,
		limiter:  rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), burst),
	}
}

// GetQuote calls the wrapped provider if budget allows.
func (l *Limited) GetQuote(ctx context.Context, symbol string) (models.Quote, error) {
	if !l.limiter.Allow() {
		return models.Quote{}, ErrRateLimited
	}
	return l.Provider.GetQuote(ctx, symbol)
}

// StaticProvider serves fixed prices. Used in dry-run and tests.
type StaticProvider struct {
	name string
	now  func() time.Time

	mu     sync.RWMutex
	prices map[string]models.Quote
}

// NewStaticProvider builds a provider from symbol -> last price.
func NewStaticProvider(name string, prices map[string]float64) *StaticProvider {
	p := &StaticProvider{
		name:   name,
		now:    time.Now,
		prices: make(map[string]models.Quote, len(prices)),
	}
	for sym, price := range prices {
		p.SetPrice(sym, price)
	}
	return p
}

// Name returns the provider name.
func (p *StaticProvider) Name() string { return p.name }

// SetPrice sets a price-only quote.
func (p *StaticProvider) SetPrice(symbol string, price float64) {
	p.SetQuote(models.Quote{Symbol: symbol, Price: price})
}

// SetQuote stores a full quote, bid/ask included.
func (p *StaticProvider) SetQuote(q models.Quote) {
	p.mu.Lock()
	defer p.mu.Unlock()
	q.Symbol = strings.ToUpper(q.Symbol)
	p.prices[q.Symbol] = q
}

// Remove drops a symbol so subsequent lookups fail.
func (p *StaticProvider) Remove(symbol string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.prices, strings.ToUpper(symbol))
}

// GetQuote returns the stored quote stamped with the current time.
func (p *StaticProvider) GetQuote(ctx context.Context, symbol string) (models.Quote, error) {
	if err := ctx.Err(); err != nil {
		return models.Quote{}, err
	}
	p.mu.RLock()
	q, ok := p.prices[strings.ToUpper(symbol)]
	p.mu.RUnlock()
	if !ok || q.Price <= 0 {
		return models.Quote{}, ErrNoQuote
	}
	q.Symbol = symbol
	q.Provider = p.name
	q.Timestamp = p.now().UTC()
	return q, nil
}
