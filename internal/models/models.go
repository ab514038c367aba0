// Package models defines the domain types shared across the trading engine.
package models

import (
	"fmt"
	"strings"
	"time"
)

// Side represents the direction of a trade plan.
type Side string

const (
	SideBuy  Side = "Buy"
	SideSell Side = "Sell"
)

// ParseSide normalises a side string ("buy", "BUY", "Buy").
func ParseSide(s string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "buy", "long":
		return SideBuy, nil
	case "sell", "short":
		return SideSell, nil
	default:
		return "", fmt.Errorf("side must be Buy or Sell, got %q", s)
	}
}

// IsLong reports whether the side opens a long position.
func (s Side) IsLong() bool {
	return s == SideBuy
}

// Opposite returns the closing side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// EntryMethod is how the entry leg is placed.
type EntryMethod string

const (
	EntryLimit     EntryMethod = "limit"
	EntryStopLimit EntryMethod = "stop_limit"
)

// ParseEntryMethod normalises an entry method, defaulting to limit.
func ParseEntryMethod(s string) (EntryMethod, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "limit":
		return EntryLimit, nil
	case "stop_limit", "stoplimit", "stop-limit":
		return EntryStopLimit, nil
	default:
		return "", fmt.Errorf("entry method must be limit or stop_limit, got %q", s)
	}
}

// Quote represents one provider's view of a symbol's price.
type Quote struct {
	Symbol    string
	Price     float64
	Provider  string
	Timestamp time.Time
	Bid       *float64
	Ask       *float64
}

// HasDepth reports whether both bid and ask are present.
func (q Quote) HasDepth() bool {
	return q.Bid != nil && q.Ask != nil
}

// Spread returns ask - bid. Only meaningful when HasDepth is true.
func (q Quote) Spread() float64 {
	if !q.HasDepth() {
		return 0
	}
	return *q.Ask - *q.Bid
}

// CapitalSnapshot is the per-cycle view of buying power.
type CapitalSnapshot struct {
	TotalBuyingPower float64
	Committed        float64
	Remaining        float64
	TakenAt          time.Time
}
