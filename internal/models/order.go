package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// LifecycleStatus is the state of a bracket order group.
type LifecycleStatus string

const (
	StatusPending LifecycleStatus = "Pending"
	StatusPlaced  LifecycleStatus = "Placed"
	StatusFilled  LifecycleStatus = "Filled"
	StatusClosed  LifecycleStatus = "Closed"
	StatusFailed  LifecycleStatus = "Failed"
)

// IsTerminal reports whether no further transitions are possible.
func (s LifecycleStatus) IsTerminal() bool {
	return s == StatusClosed || s == StatusFailed
}

// LegRole classifies the leg most recently acted on. Logging only.
type LegRole string

const (
	LegEntry      LegRole = "entry"
	LegStopLoss   LegRole = "stop_loss"
	LegTakeProfit LegRole = "take_profit"
)

// BrokerOrderStatus is the broker-reported state of a single order.
type BrokerOrderStatus string

const (
	OrderPending         BrokerOrderStatus = "pending"
	OrderOpen            BrokerOrderStatus = "open"
	OrderFilled          BrokerOrderStatus = "filled"
	OrderPartiallyFilled BrokerOrderStatus = "partially_filled"
	OrderCanceled        BrokerOrderStatus = "canceled"
	OrderRejected        BrokerOrderStatus = "rejected"
)

// IsDead reports whether the order will never fill further.
func (s BrokerOrderStatus) IsDead() bool {
	return s == OrderCanceled || s == OrderRejected
}

// BracketOrderGroup is one execution attempt: entry, stop-loss and take-profit
// legs bound to one symbol.
type BracketOrderGroup struct {
	GroupID         string      `json:"group_id"`
	Symbol          string      `json:"symbol"`
	Side            Side        `json:"side"`
	Quantity        int64       `json:"quantity"`
	EntryPrice      float64     `json:"entry_price"`
	StopLossPrice   float64     `json:"stop_loss_price"`
	TakeProfitPrice float64     `json:"take_profit_price"`
	EntryMethod     EntryMethod `json:"entry_method"`
	StopTrigger     *float64    `json:"stop_trigger,omitempty"`

	EntryOrderID      string `json:"entry_order_id,omitempty"`
	StopLossOrderID   string `json:"stop_loss_order_id,omitempty"`
	TakeProfitOrderID string `json:"take_profit_order_id,omitempty"`

	Status        LifecycleStatus `json:"lifecycle_status"`
	Role          LegRole         `json:"leg_role"`
	FillPrice     float64         `json:"fill_price,omitempty"`
	ExitPrice     float64         `json:"exit_price,omitempty"`
	PartialFill   bool            `json:"partial_fill,omitempty"`
	FailureReason string          `json:"failure_reason,omitempty"`
	Simulated     bool            `json:"simulated,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// NotionalAmount is entry price times quantity in exact decimal, so a
// quantity sized to use all remaining capital reserves exactly that much.
func (g *BracketOrderGroup) NotionalAmount() decimal.Decimal {
	return decimal.NewFromFloat(g.EntryPrice).Mul(decimal.NewFromInt(g.Quantity))
}

// Notional is NotionalAmount as a float.
func (g *BracketOrderGroup) Notional() float64 {
	return g.NotionalAmount().InexactFloat64()
}

// ExitOrderIDs returns the accepted exit leg IDs.
func (g *BracketOrderGroup) ExitOrderIDs() []string {
	var ids []string
	if g.StopLossOrderID != "" {
		ids = append(ids, g.StopLossOrderID)
	}
	if g.TakeProfitOrderID != "" && g.TakeProfitOrderID != g.StopLossOrderID {
		ids = append(ids, g.TakeProfitOrderID)
	}
	return ids
}

// RealizedPnL computes the profit of a closed group at exitPrice.
func (g *BracketOrderGroup) RealizedPnL(exitPrice float64) float64 {
	diff := exitPrice - g.FillPrice
	if !g.Side.IsLong() {
		diff = -diff
	}
	return diff * float64(g.Quantity)
}
