package broker

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	apperrors "bracket-trader/internal/errors"
	"bracket-trader/internal/models"
)

// PaperBroker simulates a brokerage in memory. Entries fill immediately at
// their limit price unless configured otherwise; exit legs fill when an
// observed price crosses them.
type PaperBroker struct {
	logger       zerolog.Logger
	fillOnSubmit bool

	mu      sync.RWMutex
	cash    float64
	orders  map[string]*paperOrder
	entropy io.Reader
	reject  error

	// Order tracking
	submitted int
	filled    int
}

type paperOrder struct {
	id       string
	groupID  string
	symbol   string
	side     models.Side
	role     models.LegRole
	quantity int64
	price    float64 // limit or stop level
	status   models.BrokerOrderStatus
	fillAt   float64
	sibling  string // OCO partner for exit legs
	placedAt time.Time
}

// PaperBrokerConfig holds configuration for paper broker.
type PaperBrokerConfig struct {
	InitialBalance float64
	// FillOnSubmit fills entry legs synchronously, which is what dry-run wants.
	FillOnSubmit bool
	Logger       zerolog.Logger
}

// NewPaperBroker creates a new paper trading broker.
func NewPaperBroker(cfg PaperBrokerConfig) *PaperBroker {
	initialBalance := cfg.InitialBalance
	if initialBalance == 0 {
		initialBalance = 100000
	}

	return &PaperBroker{
		logger:       cfg.Logger.With().Str("broker", "paper").Logger(),
		fillOnSubmit: cfg.FillOnSubmit,
		cash:         initialBalance,
		orders:       make(map[string]*paperOrder),
		entropy:      ulid.Monotonic(rand.Reader, 0),
	}
}

// Name returns the broker name.
func (p *PaperBroker) Name() string { return "paper" }

// SupportsNativeBracket is true: all three legs are booked on submit.
func (p *PaperBroker) SupportsNativeBracket() bool { return true }

// GetBuyingPower returns simulated cash.
func (p *PaperBroker) GetBuyingPower(ctx context.Context, account string) (float64, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cash, nil
}

// RejectNext makes the next submission fail with err.
func (p *PaperBroker) RejectNext(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reject = err
}

func (p *PaperBroker) newID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now().UTC()), p.entropy).String()
}

// SubmitBracketOrder books entry, stop-loss and take-profit legs.
func (p *PaperBroker) SubmitBracketOrder(ctx context.Context, group *models.BracketOrderGroup, account string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.reject != nil {
		err := p.reject
		p.reject = nil
		return apperrors.NewBrokerError("PAPER_REJECT", err.Error(), apperrors.ErrOrderRejected)
	}
	if group.Quantity <= 0 {
		return apperrors.NewBrokerError("INVALID_QTY", "quantity must be positive", apperrors.ErrOrderRejected)
	}

	notional := group.Notional()
	if notional > p.cash {
		return apperrors.NewBrokerError("INSUFFICIENT_FUNDS",
			fmt.Sprintf("need %.2f, have %.2f", notional, p.cash), apperrors.ErrOrderRejected)
	}

	now := time.Now().UTC()
	entry := &paperOrder{
		id: p.newID(), groupID: group.GroupID, symbol: group.Symbol, side: group.Side,
		role: models.LegEntry, quantity: group.Quantity, price: group.EntryPrice,
		status: models.OrderOpen, placedAt: now,
	}
	stop := &paperOrder{
		id: p.newID(), groupID: group.GroupID, symbol: group.Symbol, side: group.Side.Opposite(),
		role: models.LegStopLoss, quantity: group.Quantity, price: group.StopLossPrice,
		status: models.OrderPending, placedAt: now,
	}
	target := &paperOrder{
		id: p.newID(), groupID: group.GroupID, symbol: group.Symbol, side: group.Side.Opposite(),
		role: models.LegTakeProfit, quantity: group.Quantity, price: group.TakeProfitPrice,
		status: models.OrderPending, placedAt: now,
	}
	stop.sibling, target.sibling = target.id, stop.id

	for _, o := range []*paperOrder{entry, stop, target} {
		p.orders[o.id] = o
	}
	p.submitted++

	group.EntryOrderID = entry.id
	group.StopLossOrderID = stop.id
	group.TakeProfitOrderID = target.id

	if p.fillOnSubmit {
		p.fillEntry(entry, entry.price)
	}

	p.logger.Info().
		Str("group_id", group.GroupID).
		Str("symbol", group.Symbol).
		Str("entry_order_id", entry.id).
		Int64("quantity", group.Quantity).
		Float64("entry_price", group.EntryPrice).
		Msg("Paper bracket order booked")
	return nil
}

// fillEntry must be called with p.mu held.
func (p *PaperBroker) fillEntry(o *paperOrder, price float64) {
	o.status = models.OrderFilled
	o.fillAt = price
	p.cash -= price * float64(o.quantity)
	p.filled++
	for _, leg := range p.orders {
		if leg.groupID == o.groupID && leg.role != models.LegEntry && leg.status == models.OrderPending {
			leg.status = models.OrderOpen
		}
	}
}

// FillEntry fills an open entry order at price.
func (p *PaperBroker) FillEntry(orderID string, price float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	o, ok := p.orders[orderID]
	if !ok || o.role != models.LegEntry {
		return fmt.Errorf("unknown entry order %s", orderID)
	}
	if o.status != models.OrderOpen {
		return fmt.Errorf("entry order %s is %s", orderID, o.status)
	}
	p.fillEntry(o, price)
	return nil
}

// Simulated is always true.
func (p *PaperBroker) Simulated() bool { return true }

// ObservePrice fills open entries and exit legs crossed by price.
func (p *PaperBroker) ObservePrice(symbol string, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, o := range p.orders {
		if o.symbol != symbol || o.status != models.OrderOpen {
			continue
		}
		switch o.role {
		case models.LegEntry:
			if !p.fillOnSubmit && crossesEntry(o, price) {
				p.fillEntry(o, o.price)
			}
		case models.LegStopLoss, models.LegTakeProfit:
			if crossesExit(o, price) {
				p.fillExit(o)
			}
		}
	}
}

func crossesEntry(o *paperOrder, price float64) bool {
	if o.side.IsLong() {
		return price <= o.price
	}
	return price >= o.price
}

// crossesExit reports whether an exit leg triggers. o.side is the closing side.
func crossesExit(o *paperOrder, price float64) bool {
	closingLong := o.side == models.SideSell
	switch o.role {
	case models.LegStopLoss:
		if closingLong {
			return price <= o.price
		}
		return price >= o.price
	case models.LegTakeProfit:
		if closingLong {
			return price >= o.price
		}
		return price <= o.price
	}
	return false
}

// fillExit must be called with p.mu held.
func (p *PaperBroker) fillExit(o *paperOrder) {
	o.status = models.OrderFilled
	o.fillAt = o.price
	if o.side == models.SideSell {
		p.cash += o.price * float64(o.quantity)
	} else {
		// Closing a short returns the margin plus (entry - exit) per share.
		entry := p.entryFillPrice(o.groupID)
		p.cash += (2*entry - o.price) * float64(o.quantity)
	}
	p.filled++
	if sib, ok := p.orders[o.sibling]; ok && !sib.status.IsDead() && sib.status != models.OrderFilled {
		sib.status = models.OrderCanceled
	}
	p.logger.Info().
		Str("group_id", o.groupID).
		Str("symbol", o.symbol).
		Str("leg", string(o.role)).
		Float64("price", o.price).
		Msg("Paper exit leg filled")
}

func (p *PaperBroker) entryFillPrice(groupID string) float64 {
	for _, o := range p.orders {
		if o.groupID == groupID && o.role == models.LegEntry {
			return o.fillAt
		}
	}
	return 0
}

// GetOrderStatus returns the simulated order status.
func (p *PaperBroker) GetOrderStatus(ctx context.Context, orderID string) (models.BrokerOrderStatus, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	o, ok := p.orders[orderID]
	if !ok {
		return "", apperrors.NewBrokerError("NOT_FOUND", "unknown order "+orderID, nil)
	}
	return o.status, nil
}

// GetExecutionPrice returns the simulated fill price.
func (p *PaperBroker) GetExecutionPrice(ctx context.Context, orderID string) (float64, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	o, ok := p.orders[orderID]
	if !ok {
		return 0, apperrors.NewBrokerError("NOT_FOUND", "unknown order "+orderID, nil)
	}
	if o.status != models.OrderFilled {
		return 0, fmt.Errorf("order %s not filled (%s)", orderID, o.status)
	}
	return o.fillAt, nil
}

// CancelOrder cancels an open or pending order. Cancelling an entry also
// cancels its unfilled exit legs.
func (p *PaperBroker) CancelOrder(ctx context.Context, orderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	o, ok := p.orders[orderID]
	if !ok {
		return apperrors.NewBrokerError("NOT_FOUND", "unknown order "+orderID, nil)
	}
	if o.status.IsDead() {
		return nil
	}
	if o.status == models.OrderFilled {
		return apperrors.NewBrokerError("ALREADY_FILLED", "order "+orderID+" already filled", nil)
	}
	o.status = models.OrderCanceled

	if o.role == models.LegEntry {
		for _, leg := range p.orders {
			if leg.groupID == o.groupID && leg.role != models.LegEntry && leg.status == models.OrderPending {
				leg.status = models.OrderCanceled
			}
		}
	}
	return nil
}

// Stats returns submission and fill counters.
func (p *PaperBroker) Stats() (submitted, filled int) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.submitted, p.filled
}
