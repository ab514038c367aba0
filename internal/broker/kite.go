package broker

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	kiteconnect "github.com/zerodha/gokiteconnect/v4"

	apperrors "bracket-trader/internal/errors"
	"bracket-trader/internal/models"
)

// KiteBroker places a limit entry on Zerodha Kite and, once it fills, a
// two-leg GTT (OCO) carrying the stop-loss and take-profit.
type KiteBroker struct {
	client   *kiteconnect.Client
	exchange string
	product  string
	logger   zerolog.Logger

	mu   sync.RWMutex
	gtts map[string]gttRef
}

type gttRef struct {
	symbol   string
	exitSide models.Side
	quantity int64
	stop     float64
	target   float64
}

// KiteConfig holds configuration for the Kite broker.
type KiteConfig struct {
	APIKey      string
	AccessToken string
	Exchange    string
	Product     string
}

// gttPrefix marks exit-leg IDs that refer to a GTT trigger, not an order.
const gttPrefix = "gtt:"

// NewKiteBroker creates a Kite broker with an existing access token.
func NewKiteBroker(cfg KiteConfig, logger zerolog.Logger) *KiteBroker {
	client := kiteconnect.New(cfg.APIKey)
	client.SetAccessToken(cfg.AccessToken)

	exchange, product := cfg.Exchange, cfg.Product
	if exchange == "" {
		exchange = "NSE"
	}
	if product == "" {
		product = "CNC"
	}
	return &KiteBroker{
		client:   client,
		exchange: exchange,
		product:  product,
		logger:   logger.With().Str("broker", "kite").Logger(),
		gtts:     make(map[string]gttRef),
	}
}

// Name returns the broker name.
func (k *KiteBroker) Name() string { return "kite" }

// SupportsNativeBracket is false: exits are placed after the entry fills.
func (k *KiteBroker) SupportsNativeBracket() bool { return false }

// GetBuyingPower returns available equity cash.
func (k *KiteBroker) GetBuyingPower(ctx context.Context, account string) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	margins, err := k.client.GetUserMargins()
	if err != nil {
		return 0, apperrors.NewBrokerError("MARGINS", "failed to get margins", err)
	}
	return margins.Equity.Available.Cash, nil
}

func transactionType(side models.Side) string {
	if side.IsLong() {
		return kiteconnect.TransactionTypeBuy
	}
	return kiteconnect.TransactionTypeSell
}

// SubmitBracketOrder places the entry order only. The group_id prefix is
// sent as the order tag (Kite tags are limited to 20 characters).
func (k *KiteBroker) SubmitBracketOrder(ctx context.Context, group *models.BracketOrderGroup, account string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	params := kiteconnect.OrderParams{
		Exchange:        k.exchange,
		Tradingsymbol:   group.Symbol,
		TransactionType: transactionType(group.Side),
		OrderType:       kiteconnect.OrderTypeLimit,
		Product:         k.product,
		Quantity:        int(group.Quantity),
		Price:           group.EntryPrice,
		Validity:        kiteconnect.ValidityDay,
		Tag:             kiteTag(group.GroupID),
	}
	if group.EntryMethod == models.EntryStopLimit && group.StopTrigger != nil {
		params.OrderType = kiteconnect.OrderTypeSL
		params.TriggerPrice = *group.StopTrigger
	}

	resp, err := k.client.PlaceOrder(kiteconnect.VarietyRegular, params)
	if err != nil {
		return apperrors.NewBrokerError("PLACE_ORDER", "entry order rejected",
			apperrors.Join(apperrors.ErrOrderRejected, err))
	}
	group.EntryOrderID = resp.OrderID

	k.logger.Info().
		Str("group_id", group.GroupID).
		Str("order_id", resp.OrderID).
		Msg("Entry order placed, exits follow on fill")
	return nil
}

func kiteTag(groupID string) string {
	tag := strings.ReplaceAll(groupID, "-", "")
	if len(tag) > 20 {
		tag = tag[:20]
	}
	return tag
}

// PlaceExitLegs places one OCO GTT for stop-loss (lower) and take-profit
// (upper) on a long position, mirrored for a short.
func (k *KiteBroker) PlaceExitLegs(ctx context.Context, group *models.BracketOrderGroup) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	exitSide := group.Side.Opposite()
	lower, upper := group.StopLossPrice, group.TakeProfitPrice
	if !group.Side.IsLong() {
		lower, upper = group.TakeProfitPrice, group.StopLossPrice
	}
	lastPrice := group.FillPrice
	if lastPrice == 0 {
		lastPrice = group.EntryPrice
	}

	params := kiteconnect.GTTParams{
		Tradingsymbol:   group.Symbol,
		Exchange:        k.exchange,
		LastPrice:       lastPrice,
		TransactionType: transactionType(exitSide),
		Product:         k.product,
		Trigger: &kiteconnect.GTTOneCancelsOtherTrigger{
			Upper: kiteconnect.TriggerParams{
				TriggerValue: upper,
				LimitPrice:   upper,
				Quantity:     float64(group.Quantity),
			},
			Lower: kiteconnect.TriggerParams{
				TriggerValue: lower,
				LimitPrice:   lower,
				Quantity:     float64(group.Quantity),
			},
		},
	}

	resp, err := k.client.PlaceGTT(params)
	if err != nil {
		return apperrors.NewBrokerError("PLACE_GTT", "exit legs rejected", err)
	}

	id := gttPrefix + strconv.Itoa(resp.TriggerID)
	group.StopLossOrderID = id
	group.TakeProfitOrderID = id

	k.mu.Lock()
	k.gtts[id] = gttRef{
		symbol:   group.Symbol,
		exitSide: exitSide,
		quantity: group.Quantity,
		stop:     group.StopLossPrice,
		target:   group.TakeProfitPrice,
	}
	k.mu.Unlock()
	return nil
}

// GetOrderStatus maps Kite order (or GTT) status onto the broker status set.
func (k *KiteBroker) GetOrderStatus(ctx context.Context, orderID string) (models.BrokerOrderStatus, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if strings.HasPrefix(orderID, gttPrefix) {
		return k.gttStatus(orderID)
	}

	history, err := k.client.GetOrderHistory(orderID)
	if err != nil {
		return "", apperrors.NewBrokerError("ORDER_HISTORY", "failed to get order "+orderID, err)
	}
	if len(history) == 0 {
		return models.OrderPending, nil
	}
	last := history[len(history)-1]

	switch strings.ToUpper(last.Status) {
	case "COMPLETE":
		return models.OrderFilled, nil
	case "CANCELLED":
		if last.FilledQuantity > 0 {
			return models.OrderPartiallyFilled, nil
		}
		return models.OrderCanceled, nil
	case "REJECTED":
		return models.OrderRejected, nil
	case "OPEN", "TRIGGER PENDING":
		if last.FilledQuantity > 0 {
			return models.OrderPartiallyFilled, nil
		}
		return models.OrderOpen, nil
	default:
		return models.OrderPending, nil
	}
}

func (k *KiteBroker) findGTT(id string) (kiteconnect.GTT, error) {
	triggerID, err := strconv.Atoi(strings.TrimPrefix(id, gttPrefix))
	if err != nil {
		return kiteconnect.GTT{}, fmt.Errorf("invalid gtt id %q", id)
	}
	gtts, err := k.client.GetGTTs()
	if err != nil {
		return kiteconnect.GTT{}, apperrors.NewBrokerError("GET_GTTS", "failed to get GTTs", err)
	}
	for _, g := range gtts {
		if g.ID == triggerID {
			return g, nil
		}
	}
	return kiteconnect.GTT{}, apperrors.NewBrokerError("NOT_FOUND", "unknown gtt "+id, nil)
}

func (k *KiteBroker) gttStatus(id string) (models.BrokerOrderStatus, error) {
	g, err := k.findGTT(id)
	if err != nil {
		return "", err
	}
	switch strings.ToLower(string(g.Status)) {
	case "triggered":
		return models.OrderFilled, nil
	case "active":
		return models.OrderOpen, nil
	case "rejected", "disabled":
		return models.OrderRejected, nil
	default:
		// cancelled, deleted, expired
		return models.OrderCanceled, nil
	}
}

// GetExecutionPrice returns the average price of the order's final state.
// For a triggered GTT it is the price of today's completed exit order on the
// symbol.
func (k *KiteBroker) GetExecutionPrice(ctx context.Context, orderID string) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if strings.HasPrefix(orderID, gttPrefix) {
		return k.gttExecutionPrice(orderID)
	}

	history, err := k.client.GetOrderHistory(orderID)
	if err != nil {
		return 0, apperrors.NewBrokerError("ORDER_HISTORY", "failed to get order "+orderID, err)
	}
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].AveragePrice > 0 {
			return history[i].AveragePrice, nil
		}
	}
	return 0, fmt.Errorf("order %s has no fill price", orderID)
}

func (k *KiteBroker) gttExecutionPrice(id string) (float64, error) {
	k.mu.RLock()
	ref, ok := k.gtts[id]
	k.mu.RUnlock()
	if !ok {
		return 0, fmt.Errorf("gtt %s not placed by this process", id)
	}

	orders, err := k.client.GetOrders()
	if err != nil {
		return 0, apperrors.NewBrokerError("GET_ORDERS", "failed to get orders", err)
	}
	for i := len(orders) - 1; i >= 0; i-- {
		o := orders[i]
		if o.TradingSymbol == ref.symbol &&
			o.TransactionType == transactionType(ref.exitSide) &&
			strings.EqualFold(o.Status, "COMPLETE") &&
			int64(o.FilledQuantity) == ref.quantity {
			return o.AveragePrice, nil
		}
	}
	return 0, fmt.Errorf("no completed exit order for gtt %s", id)
}

// CancelOrder cancels a regular order or deletes a GTT.
func (k *KiteBroker) CancelOrder(ctx context.Context, orderID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.HasPrefix(orderID, gttPrefix) {
		triggerID, err := strconv.Atoi(strings.TrimPrefix(orderID, gttPrefix))
		if err != nil {
			return fmt.Errorf("invalid gtt id %q", orderID)
		}
		if _, err := k.client.DeleteGTT(triggerID); err != nil {
			return apperrors.NewBrokerError("DELETE_GTT", "failed to delete gtt "+orderID, err)
		}
		return nil
	}

	if _, err := k.client.CancelOrder(kiteconnect.VarietyRegular, orderID, nil); err != nil {
		return apperrors.NewBrokerError("CANCEL_ORDER", "failed to cancel order "+orderID, err)
	}
	return nil
}
