package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"bracket-trader/internal/models"
)

// FinnhubProvider reads the Finnhub /quote endpoint.
type FinnhubProvider struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewFinnhubProvider creates a Finnhub provider.
func NewFinnhubProvider(apiKey, baseURL string, client *http.Client) *FinnhubProvider {
	if baseURL == "" {
		baseURL = "https://finnhub.io/api/v1"
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &FinnhubProvider{apiKey: apiKey, baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

// Name returns the provider name.
func (p *FinnhubProvider) Name() string { return "finnhub" }

type finnhubQuote struct {
	Current   float64 `json:"c"`
	Timestamp int64   `json:"t"`
}

// GetQuote fetches the current price.
func (p *FinnhubProvider) GetQuote(ctx context.Context, symbol string) (models.Quote, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("token", p.apiKey)

	var body finnhubQuote
	if err := getJSON(ctx, p.client, p.baseURL+"/quote?"+q.Encode(), &body); err != nil {
		return models.Quote{}, err
	}
	if body.Current <= 0 {
		return models.Quote{}, ErrNoQuote
	}

	ts := time.Now().UTC()
	if body.Timestamp > 0 {
		ts = time.Unix(body.Timestamp, 0).UTC()
	}
	return models.Quote{Symbol: symbol, Price: body.Current, Provider: p.Name(), Timestamp: ts}, nil
}

// AlphaVantageProvider reads the GLOBAL_QUOTE function.
type AlphaVantageProvider struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewAlphaVantageProvider creates an Alpha Vantage provider.
func NewAlphaVantageProvider(apiKey, baseURL string, client *http.Client) *AlphaVantageProvider {
	if baseURL == "" {
		baseURL = "https://www.alphavantage.co"
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &AlphaVantageProvider{apiKey: apiKey, baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

// Name returns the provider name.
func (p *AlphaVantageProvider) Name() string { return "alphavantage" }

type alphaVantageResponse struct {
	GlobalQuote map[string]string `json:"Global Quote"`
	Note        string            `json:"Note"`
	Information string            `json:"Information"`
}

// GetQuote fetches the current price.
func (p *AlphaVantageProvider) GetQuote(ctx context.Context, symbol string) (models.Quote, error) {
	q := url.Values{}
	q.Set("function", "GLOBAL_QUOTE")
	q.Set("symbol", symbol)
	q.Set("apikey", p.apiKey)

	var body alphaVantageResponse
	if err := getJSON(ctx, p.client, p.baseURL+"/query?"+q.Encode(), &body); err != nil {
		return models.Quote{}, err
	}
	// Alpha Vantage reports throttling in-band with HTTP 200.
	if body.Note != "" || body.Information != "" {
		return models.Quote{}, ErrRateLimited
	}

	raw, ok := body.GlobalQuote["05. price"]
	if !ok {
		return models.Quote{}, ErrNoQuote
	}
	price, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return models.Quote{}, fmt.Errorf("parsing alphavantage price %q: %w", raw, err)
	}
	if price <= 0 {
		return models.Quote{}, ErrNoQuote
	}
	return models.Quote{Symbol: symbol, Price: price, Provider: p.Name(), Timestamp: time.Now().UTC()}, nil
}

func getJSON(ctx context.Context, client *http.Client, rawURL string, target interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
