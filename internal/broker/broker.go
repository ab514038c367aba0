// Package broker provides brokerage integrations for bracket orders.
package broker

import (
	"context"

	"bracket-trader/internal/models"
)

// OrderBroker is the brokerage surface the trading manager depends on.
type OrderBroker interface {
	// Name identifies the broker in logs and the journal.
	Name() string

	// GetBuyingPower returns capital available to open new positions.
	GetBuyingPower(ctx context.Context, account string) (float64, error)

	// SubmitBracketOrder places the group's legs and records every accepted
	// leg's order ID on the group. A returned error means the entry was not
	// accepted; exit legs a broker could not place are left empty.
	SubmitBracketOrder(ctx context.Context, group *models.BracketOrderGroup, account string) error

	// GetOrderStatus returns the broker-side state of one order.
	GetOrderStatus(ctx context.Context, orderID string) (models.BrokerOrderStatus, error)

	// GetExecutionPrice returns the average fill price of a filled order.
	GetExecutionPrice(ctx context.Context, orderID string) (float64, error)

	// CancelOrder cancels an open order. Cancelling an order that is already
	// dead is not an error.
	CancelOrder(ctx context.Context, orderID string) error

	// SupportsNativeBracket reports whether the exit legs are placed together
	// with the entry. Brokers that return false implement ExitLegPlacer.
	SupportsNativeBracket() bool
}

// ExitLegPlacer is implemented by brokers that place stop-loss and
// take-profit only after the entry has filled.
type ExitLegPlacer interface {
	PlaceExitLegs(ctx context.Context, group *models.BracketOrderGroup) error
}

// PriceObserver is implemented by simulated brokers that fill resting
// orders against observed market prices.
type PriceObserver interface {
	ObservePrice(symbol string, price float64)
}

// IsSimulated reports whether b, or the broker it wraps, only simulates
// fills and never reaches a real brokerage.
func IsSimulated(b OrderBroker) bool {
	for b != nil {
		if s, ok := b.(interface{ Simulated() bool }); ok {
			return s.Simulated()
		}
		w, ok := b.(interface{ Unwrap() OrderBroker })
		if !ok {
			return false
		}
		b = w.Unwrap()
	}
	return false
}

// IsFilled reports whether status means the order is completely filled.
func IsFilled(status models.BrokerOrderStatus) bool {
	return status == models.OrderFilled
}
