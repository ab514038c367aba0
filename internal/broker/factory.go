package broker

import (
	"fmt"

	"github.com/rs/zerolog"

	"bracket-trader/internal/config"
	apperrors "bracket-trader/internal/errors"
	"bracket-trader/internal/resilience"
)

// NewFromConfig returns the configured broker wrapped in a circuit breaker.
// Dry-run always yields a PaperBroker that fills entries on submit.
func NewFromConfig(cfg *config.Config, breakers *resilience.Registry, logger zerolog.Logger) (OrderBroker, error) {
	var inner OrderBroker

	switch {
	case cfg.Trading.DryRun || cfg.Trading.Broker == "paper":
		inner = NewPaperBroker(PaperBrokerConfig{
			InitialBalance: cfg.Trading.InitialPaperBalance,
			FillOnSubmit:   cfg.Trading.DryRun,
			Logger:         logger,
		})
	case cfg.Trading.Broker == "alpaca":
		a := cfg.Broker.Alpaca
		if a.APIKey == "" || a.APISecret == "" {
			return nil, fmt.Errorf("%w: alpaca broker requires api_key and api_secret", apperrors.ErrNotAuthenticated)
		}
		inner = NewAlpacaBroker(AlpacaConfig{APIKey: a.APIKey, APISecret: a.APISecret, BaseURL: a.BaseURL}, logger)
	case cfg.Trading.Broker == "kite":
		k := cfg.Broker.Kite
		if k.APIKey == "" || k.AccessToken == "" {
			return nil, fmt.Errorf("%w: kite broker requires api_key and access_token", apperrors.ErrNotAuthenticated)
		}
		inner = NewKiteBroker(KiteConfig{
			APIKey:      k.APIKey,
			AccessToken: k.AccessToken,
			Exchange:    k.Exchange,
			Product:     k.Product,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown broker %q", cfg.Trading.Broker)
	}

	return NewGuarded(inner, breakers.Get("broker:"+inner.Name()), logger), nil
}
