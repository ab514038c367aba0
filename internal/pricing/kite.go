package pricing

import (
	"context"
	"fmt"

	kiteconnect "github.com/zerodha/gokiteconnect/v4"

	"bracket-trader/internal/models"
)

// KiteProvider reads quotes with market depth from Zerodha Kite.
type KiteProvider struct {
	client   *kiteconnect.Client
	exchange string
}

// NewKiteProvider creates a Kite quote provider for an exchange (NSE, BSE).
func NewKiteProvider(apiKey, accessToken, exchange string) *KiteProvider {
	client := kiteconnect.New(apiKey)
	client.SetAccessToken(accessToken)
	if exchange == "" {
		exchange = "NSE"
	}
	return &KiteProvider{client: client, exchange: exchange}
}

// Name returns the provider name.
func (p *KiteProvider) Name() string { return "kite" }

// GetQuote fetches last price and best bid/ask from the order book.
func (p *KiteProvider) GetQuote(ctx context.Context, symbol string) (models.Quote, error) {
	if err := ctx.Err(); err != nil {
		return models.Quote{}, err
	}

	key := fmt.Sprintf("%s:%s", p.exchange, symbol)
	quotes, err := p.client.GetQuote(key)
	if err != nil {
		return models.Quote{}, fmt.Errorf("failed to get quote: %w", err)
	}
	q, ok := quotes[key]
	if !ok || q.LastPrice <= 0 {
		return models.Quote{}, ErrNoQuote
	}

	out := models.Quote{
		Symbol:    symbol,
		Price:     q.LastPrice,
		Provider:  p.Name(),
		Timestamp: q.LastTradeTime.Time.UTC(),
	}
	bid, ask := q.Depth.Buy[0].Price, q.Depth.Sell[0].Price
	if bid > 0 && ask > 0 {
		out.Bid, out.Ask = &bid, &ask
	}
	return out, nil
}
