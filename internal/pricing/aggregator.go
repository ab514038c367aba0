package pricing

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"bracket-trader/internal/logging"
	"bracket-trader/internal/models"
)

// Aggregator queries every provider concurrently and selects one quote.
type Aggregator struct {
	providers []Provider
	timeout   time.Duration
	logger    zerolog.Logger

	mu     sync.RWMutex
	latest map[string]models.Quote
}

// NewAggregator creates an aggregator. timeout bounds each provider call.
func NewAggregator(providers []Provider, timeout time.Duration, logger zerolog.Logger) *Aggregator {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Aggregator{
		providers: providers,
		timeout:   timeout,
		logger:    logger.With().Str("component", "pricing").Logger(),
		latest:    make(map[string]models.Quote),
	}
}

// Providers returns the configured provider names in order.
func (a *Aggregator) Providers() []string {
	names := make([]string, len(a.providers))
	for i, p := range a.providers {
		names[i] = p.Name()
	}
	return names
}

// GetPrice returns the selected quote for symbol. ok is false when no
// provider answered; callers skip the symbol for this cycle.
func (a *Aggregator) GetPrice(ctx context.Context, symbol string) (models.Quote, bool) {
	results := make([]*models.Quote, len(a.providers))

	// Provider errors are logged and dropped; the group never fails.
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range a.providers {
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(gctx, a.timeout)
			defer cancel()

			start := time.Now()
			q, err := p.GetQuote(callCtx, symbol)
			logging.LogAPICall(a.logger, "GetQuote", p.Name(), time.Since(start), err)
			if err != nil {
				a.logger.Debug().Err(err).Str("provider", p.Name()).Str("symbol", symbol).Msg("Provider returned no quote")
				return nil
			}
			if q.Price <= 0 {
				return nil
			}
			if q.Provider == "" {
				q.Provider = p.Name()
			}
			results[i] = &q
			return nil
		})
	}
	_ = g.Wait()

	quotes := make([]models.Quote, 0, len(results))
	for _, q := range results {
		if q != nil {
			quotes = append(quotes, *q)
		}
	}

	selected, ok := SelectQuote(quotes)
	if !ok {
		a.logger.Warn().Str("symbol", symbol).Msg("No provider returned a price")
		return models.Quote{}, false
	}

	a.mu.Lock()
	a.latest[symbol] = selected
	a.mu.Unlock()

	logging.LogQuote(a.logger, symbol, selected.Provider, selected.Price, len(quotes))
	return selected, true
}

// Latest returns the last quote selected for symbol.
func (a *Aggregator) Latest(symbol string) (models.Quote, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	q, ok := a.latest[symbol]
	return q, ok
}

// SelectQuote applies the selection rule to quotes in provider order:
// with two or more bid/ask quotes the tightest spread wins (first on ties);
// otherwise with two or more quotes the median price wins, taking the lower
// middle value for an even count; a lone quote is returned as is.
func SelectQuote(quotes []models.Quote) (models.Quote, bool) {
	switch len(quotes) {
	case 0:
		return models.Quote{}, false
	case 1:
		return quotes[0], true
	}

	var depth []models.Quote
	for _, q := range quotes {
		if q.HasDepth() && *q.Ask >= *q.Bid {
			depth = append(depth, q)
		}
	}
	if len(depth) >= 2 {
		best := depth[0]
		for _, q := range depth[1:] {
			if q.Spread() < best.Spread() {
				best = q
			}
		}
		return best, true
	}

	sorted := make([]models.Quote, len(quotes))
	copy(sorted, quotes)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Price < sorted[j].Price
	})
	return sorted[(len(sorted)-1)/2], true
}
