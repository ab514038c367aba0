package models

import (
	"math"
	"time"

	apperrors "bracket-trader/internal/errors"
)

// PlanStatus represents where a plan is in its lifecycle.
type PlanStatus string

const (
	PlanActive     PlanStatus = "active"
	PlanInPosition PlanStatus = "in_position"
	PlanInactive   PlanStatus = "inactive"
	PlanExecuted   PlanStatus = "executed"
	PlanExpired    PlanStatus = "expired"
)

// Valid reports whether the status is one of the known values.
func (s PlanStatus) Valid() bool {
	switch s {
	case PlanActive, PlanInPosition, PlanInactive, PlanExecuted, PlanExpired:
		return true
	}
	return false
}

// PlanEntry is one desired trade.
type PlanEntry struct {
	Symbol                 string         `json:"symbol"`
	Side                   Side           `json:"side"`
	EntryPrice             float64        `json:"entry_price"`
	StopLossPrice          float64        `json:"stop_loss_price"`
	TakeProfitPrice        *float64       `json:"take_profit_price,omitempty"`
	EntryMethod            EntryMethod    `json:"entry_method"`
	StopTrigger            *float64       `json:"stop_trigger,omitempty"`
	LimitOffset            float64        `json:"limit_offset,omitempty"`
	Quantity               *int64         `json:"quantity,omitempty"`
	RiskFraction           float64        `json:"risk_fraction"`
	ProfitToLossRatio      float64        `json:"profit_to_loss_ratio"`
	AvailableQuantityRatio float64        `json:"available_quantity_ratio"`
	ExpiryDate             *time.Time     `json:"expiry_date,omitempty"`
	Status                 PlanStatus     `json:"status"`
	Execution              *ExecutionInfo `json:"execution,omitempty"`
}

// ExecutionInfo records how a plan was filled.
type ExecutionInfo struct {
	GroupID    string    `json:"group_id"`
	Price      float64   `json:"price"`
	Quantity   int64     `json:"quantity"`
	ExecutedAt time.Time `json:"executed_at"`
	Simulated  bool      `json:"simulated,omitempty"`
}

// RiskPerShare is |entry - stop|.
func (p *PlanEntry) RiskPerShare() float64 {
	return math.Abs(p.EntryPrice - p.StopLossPrice)
}

// ResolvedTakeProfit returns the explicit take-profit, or entry +/- risk x ratio.
func (p *PlanEntry) ResolvedTakeProfit() float64 {
	if p.TakeProfitPrice != nil {
		return *p.TakeProfitPrice
	}
	reward := p.RiskPerShare() * p.ProfitToLossRatio
	if p.Side.IsLong() {
		return p.EntryPrice + reward
	}
	return p.EntryPrice - reward
}

// EntryLimitPrice is the limit price sent with the entry leg. A stop-limit
// entry adds LimitOffset beyond the entry price in the trade direction.
func (p *PlanEntry) EntryLimitPrice() float64 {
	if p.EntryMethod != EntryStopLimit || p.LimitOffset == 0 {
		return p.EntryPrice
	}
	if p.Side.IsLong() {
		return p.EntryPrice + p.LimitOffset
	}
	return p.EntryPrice - p.LimitOffset
}

// Triggered reports whether price has reached the entry level.
func (p *PlanEntry) Triggered(price float64) bool {
	if p.Side.IsLong() {
		return price <= p.EntryPrice
	}
	return price >= p.EntryPrice
}

// IsExpired reports whether the plan's expiry date is before now.
func (p *PlanEntry) IsExpired(now time.Time) bool {
	return p.ExpiryDate != nil && now.After(*p.ExpiryDate)
}

// Validate checks that the plan can enter the active set.
func (p *PlanEntry) Validate() error {
	if p.Symbol == "" {
		return apperrors.NewValidationError("symbol", p.Symbol, "symbol is required")
	}
	if p.Side != SideBuy && p.Side != SideSell {
		return apperrors.NewValidationError("side", p.Side, "side must be Buy or Sell")
	}
	if p.EntryPrice <= 0 {
		return apperrors.NewValidationError("entry_price", p.EntryPrice, "must be positive")
	}
	if p.StopLossPrice <= 0 {
		return apperrors.NewValidationError("stop_loss_price", p.StopLossPrice, "must be positive")
	}
	if p.EntryMethod != EntryLimit && p.EntryMethod != EntryStopLimit {
		return apperrors.NewValidationError("entry_method", p.EntryMethod, "must be limit or stop_limit")
	}
	if p.EntryMethod == EntryStopLimit && (p.StopTrigger == nil || *p.StopTrigger <= 0) {
		return apperrors.NewValidationError("stop_trigger", p.StopTrigger, "required for stop_limit entry")
	}
	if p.LimitOffset < 0 {
		return apperrors.NewValidationError("limit_offset", p.LimitOffset, "must not be negative")
	}
	if p.Quantity != nil && *p.Quantity <= 0 {
		return apperrors.NewValidationError("quantity", *p.Quantity, "must be positive when set")
	}
	if p.RiskFraction <= 0 || p.RiskFraction > 1 {
		return apperrors.NewValidationError("risk_fraction", p.RiskFraction, "must be in (0,1]")
	}
	if p.ProfitToLossRatio < 1 {
		return apperrors.NewValidationError("profit_to_loss_ratio", p.ProfitToLossRatio, "must be >= 1")
	}
	if p.AvailableQuantityRatio <= 0 || p.AvailableQuantityRatio > 1 {
		return apperrors.NewValidationError("available_quantity_ratio", p.AvailableQuantityRatio, "must be in (0,1]")
	}
	if !p.Status.Valid() {
		return apperrors.NewValidationError("status", p.Status, "unknown status")
	}

	target := p.ResolvedTakeProfit()
	if target <= 0 {
		return apperrors.NewValidationError("take_profit_price", target, "must be positive")
	}
	if p.Side.IsLong() {
		if !(target > p.EntryPrice && p.EntryPrice > p.StopLossPrice) {
			return apperrors.NewValidationError("prices", []float64{target, p.EntryPrice, p.StopLossPrice},
				"long plan requires take_profit > entry > stop_loss")
		}
	} else {
		if !(target < p.EntryPrice && p.EntryPrice < p.StopLossPrice) {
			return apperrors.NewValidationError("prices", []float64{target, p.EntryPrice, p.StopLossPrice},
				"short plan requires take_profit < entry < stop_loss")
		}
	}
	return nil
}
