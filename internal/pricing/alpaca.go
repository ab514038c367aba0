package pricing

import (
	"context"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"bracket-trader/internal/models"
)

// AlpacaProvider reads latest quotes (bid/ask) from Alpaca market data.
type AlpacaProvider struct {
	client *marketdata.Client
}

// NewAlpacaProvider creates an Alpaca market-data provider.
func NewAlpacaProvider(apiKey, apiSecret string) *AlpacaProvider {
	return &AlpacaProvider{
		client: marketdata.NewClient(marketdata.ClientOpts{
			APIKey:    apiKey,
			APISecret: apiSecret,
		}),
	}
}

// Name returns the provider name.
func (p *AlpacaProvider) Name() string { return "alpaca" }

// GetQuote returns the latest trade price with the latest bid/ask attached.
// The SDK is not context-aware, so ctx is only checked before each call.
func (p *AlpacaProvider) GetQuote(ctx context.Context, symbol string) (models.Quote, error) {
	if err := ctx.Err(); err != nil {
		return models.Quote{}, err
	}
	q, err := p.client.GetLatestQuote(symbol, marketdata.GetLatestQuoteRequest{})
	if err != nil {
		return models.Quote{}, err
	}
	if q == nil {
		return models.Quote{}, ErrNoQuote
	}

	out := models.Quote{
		Symbol:    symbol,
		Provider:  p.Name(),
		Timestamp: q.Timestamp.UTC(),
	}
	if q.BidPrice > 0 && q.AskPrice > 0 {
		bid, ask := q.BidPrice, q.AskPrice
		out.Bid, out.Ask = &bid, &ask
		out.Price = (bid + ask) / 2
	}

	if err := ctx.Err(); err != nil {
		return models.Quote{}, err
	}
	if trade, err := p.client.GetLatestTrade(symbol, marketdata.GetLatestTradeRequest{}); err == nil && trade != nil && trade.Price > 0 {
		out.Price = trade.Price
	}

	if out.Price <= 0 {
		return models.Quote{}, ErrNoQuote
	}
	return out, nil
}
