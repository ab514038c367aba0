package broker

import (
	"context"
	"fmt"
	"strings"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	apperrors "bracket-trader/internal/errors"
	"bracket-trader/internal/models"
)

// AlpacaBroker submits native bracket-class orders to Alpaca.
type AlpacaBroker struct {
	client *alpaca.Client
	logger zerolog.Logger
}

// AlpacaConfig holds configuration for the Alpaca broker.
type AlpacaConfig struct {
	APIKey    string
	APISecret string
	BaseURL   string
}

// NewAlpacaBroker creates an Alpaca trading client.
func NewAlpacaBroker(cfg AlpacaConfig, logger zerolog.Logger) *AlpacaBroker {
	return &AlpacaBroker{
		client: alpaca.NewClient(alpaca.ClientOpts{
			APIKey:    cfg.APIKey,
			APISecret: cfg.APISecret,
			BaseURL:   cfg.BaseURL,
		}),
		logger: logger.With().Str("broker", "alpaca").Logger(),
	}
}

// Name returns the broker name.
func (a *AlpacaBroker) Name() string { return "alpaca" }

// SupportsNativeBracket is true: Alpaca books all three legs in one request.
func (a *AlpacaBroker) SupportsNativeBracket() bool { return true }

// GetBuyingPower returns the account's buying power.
func (a *AlpacaBroker) GetBuyingPower(ctx context.Context, account string) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	acct, err := a.client.GetAccount()
	if err != nil {
		return 0, apperrors.NewBrokerError("ACCOUNT", "failed to get account", err)
	}
	return acct.BuyingPower.InexactFloat64(), nil
}

// SubmitBracketOrder places one bracket-class order. group_id is sent as the
// client order ID so a retried submission is rejected as a duplicate.
func (a *AlpacaBroker) SubmitBracketOrder(ctx context.Context, group *models.BracketOrderGroup, account string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	qty := decimal.NewFromInt(group.Quantity)
	limit := decimal.NewFromFloat(group.EntryPrice).Round(2)
	stop := decimal.NewFromFloat(group.StopLossPrice).Round(2)
	target := decimal.NewFromFloat(group.TakeProfitPrice).Round(2)

	side := alpaca.Buy
	if !group.Side.IsLong() {
		side = alpaca.Sell
	}

	req := alpaca.PlaceOrderRequest{
		Symbol:        group.Symbol,
		Qty:           &qty,
		Side:          side,
		Type:          alpaca.Limit,
		LimitPrice:    &limit,
		TimeInForce:   alpaca.Day,
		OrderClass:    alpaca.Bracket,
		ClientOrderID: group.GroupID,
		TakeProfit: &alpaca.TakeProfit{
			LimitPrice: &target,
		},
		StopLoss: &alpaca.StopLoss{
			StopPrice: &stop,
		},
	}
	if group.EntryMethod == models.EntryStopLimit && group.StopTrigger != nil {
		trigger := decimal.NewFromFloat(*group.StopTrigger).Round(2)
		req.Type = alpaca.StopLimit
		req.StopPrice = &trigger
	}

	order, err := a.client.PlaceOrder(req)
	if err != nil {
		return apperrors.NewBrokerError("PLACE_ORDER", "bracket order rejected",
			apperrors.Join(apperrors.ErrOrderRejected, err))
	}

	group.EntryOrderID = order.ID
	for _, leg := range order.Legs {
		switch leg.Type {
		case alpaca.Limit:
			group.TakeProfitOrderID = leg.ID
		case alpaca.Stop, alpaca.StopLimit:
			group.StopLossOrderID = leg.ID
		}
	}

	a.logger.Info().
		Str("group_id", group.GroupID).
		Str("order_id", order.ID).
		Int("legs", len(order.Legs)).
		Msg("Bracket order placed")
	return nil
}

// GetOrderStatus maps Alpaca's order status onto the broker status set.
func (a *AlpacaBroker) GetOrderStatus(ctx context.Context, orderID string) (models.BrokerOrderStatus, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	o, err := a.client.GetOrder(orderID)
	if err != nil {
		return "", apperrors.NewBrokerError("GET_ORDER", "failed to get order "+orderID, err)
	}
	return mapAlpacaStatus(o.Status), nil
}

func mapAlpacaStatus(status string) models.BrokerOrderStatus {
	switch strings.ToLower(status) {
	case "filled":
		return models.OrderFilled
	case "partially_filled":
		return models.OrderPartiallyFilled
	case "canceled", "expired", "done_for_day", "replaced":
		return models.OrderCanceled
	case "rejected", "suspended":
		return models.OrderRejected
	case "new", "accepted", "pending_replace", "pending_cancel", "calculated", "stopped":
		return models.OrderOpen
	default:
		// pending_new, accepted_for_bidding, held (child legs awaiting entry)
		return models.OrderPending
	}
}

// GetExecutionPrice returns the average fill price.
func (a *AlpacaBroker) GetExecutionPrice(ctx context.Context, orderID string) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	o, err := a.client.GetOrder(orderID)
	if err != nil {
		return 0, apperrors.NewBrokerError("GET_ORDER", "failed to get order "+orderID, err)
	}
	if o.FilledAvgPrice == nil || o.FilledAvgPrice.IsZero() {
		return 0, fmt.Errorf("order %s has no fill price", orderID)
	}
	return o.FilledAvgPrice.InexactFloat64(), nil
}

// CancelOrder cancels an order; cancelling the parent cancels its legs.
func (a *AlpacaBroker) CancelOrder(ctx context.Context, orderID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := a.client.CancelOrder(orderID); err != nil {
		return apperrors.NewBrokerError("CANCEL_ORDER", "failed to cancel order "+orderID, err)
	}
	return nil
}
