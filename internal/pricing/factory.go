package pricing

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"bracket-trader/internal/config"
	"bracket-trader/internal/resilience"
)

// NewFromConfig builds an Aggregator from the [pricing] section. Each
// network provider gets its own circuit breaker from breakers and its own
// rate limiter. The limiter sits outside the breaker so an exhausted
// budget never trips it.
func NewFromConfig(cfg *config.Config, breakers *resilience.Registry, logger zerolog.Logger) (*Aggregator, error) {
	pc := cfg.Pricing
	var providers []Provider

	network := func(p Provider, perMinute int) Provider {
		guarded := NewGuarded(p, breakers.Get("provider:"+p.Name()))
		return NewLimited(guarded, perMinute)
	}

	for _, name := range pc.Providers {
		switch strings.ToLower(name) {
		case "finnhub":
			if pc.Finnhub.APIKey == "" {
				return nil, fmt.Errorf("finnhub provider requires an api key")
			}
			providers = append(providers, network(
				NewFinnhubProvider(pc.Finnhub.APIKey, pc.Finnhub.BaseURL, nil),
				pc.Finnhub.RequestsPerMinute))
		case "alphavantage":
			if pc.AlphaVantage.APIKey == "" {
				return nil, fmt.Errorf("alphavantage provider requires an api key")
			}
			providers = append(providers, network(
				NewAlphaVantageProvider(pc.AlphaVantage.APIKey, pc.AlphaVantage.BaseURL, nil),
				pc.AlphaVantage.RequestsPerMinute))
		case "alpaca":
			providers = append(providers, network(
				NewAlpacaProvider(cfg.Broker.Alpaca.APIKey, cfg.Broker.Alpaca.APISecret),
				pc.Alpaca.RequestsPerMinute))
		case "kite":
			providers = append(providers, network(
				NewKiteProvider(cfg.Broker.Kite.APIKey, cfg.Broker.Kite.AccessToken, pc.Kite.Exchange),
				pc.Kite.RequestsPerMinute))
		case "static":
			providers = append(providers, NewStaticProvider("static", pc.Static))
		default:
			return nil, fmt.Errorf("unknown price provider %q", name)
		}
	}

	if len(providers) == 0 {
		return nil, fmt.Errorf("no price providers configured")
	}
	return NewAggregator(providers, pc.ProviderTimeout, logger), nil
}
