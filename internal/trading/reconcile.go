package trading

import (
	"context"
	"fmt"
	"math"

	"bracket-trader/internal/broker"
	"bracket-trader/internal/logging"
	"bracket-trader/internal/models"
)

// reconcile polls every tracked group and moves it along its lifecycle.
// It returns how many groups were polled and how many closed.
func (m *Manager) reconcile(ctx context.Context) (polled, closed int) {
	open := m.snapshotOpen()
	if len(open) == 0 {
		return 0, 0
	}

	if _, ok := m.broker.(broker.PriceObserver); ok {
		seen := make(map[string]bool)
		for _, t := range open {
			if seen[t.group.Symbol] {
				continue
			}
			seen[t.group.Symbol] = true
			if q, ok := m.prices.GetPrice(ctx, t.group.Symbol); ok {
				m.observe(t.group.Symbol, q.Price)
			}
		}
	}

	for _, t := range open {
		polled++
		switch t.group.Status {
		case models.StatusPlaced:
			m.reconcilePlaced(ctx, t)
		case models.StatusFilled:
			if m.reconcileFilled(ctx, t) {
				closed++
			}
		}
	}
	return polled, closed
}

// reconcilePlaced handles a group whose entry was not confirmed in its
// submitting cycle, which only happens for groups re-adopted at start.
func (m *Manager) reconcilePlaced(ctx context.Context, t *tracked) {
	g := t.group
	status, err := m.broker.GetOrderStatus(ctx, g.EntryOrderID)
	if err != nil {
		m.logger.Warn().Err(err).Str("group_id", g.GroupID).Msg("Entry status poll failed")
		return
	}

	switch {
	case broker.IsFilled(status):
		if plan, ok := m.plans.Get(g.Symbol); ok && plan.Status == models.PlanExecuted &&
			plan.Execution != nil && plan.Execution.GroupID == g.GroupID {
			// Already committed before a restart.
			_ = Transition(g, models.StatusFilled, m.now())
			m.record(ctx, g, "filled", "re-adopted")
		} else {
			m.commitFill(ctx, g)
		}
		m.ledger.Release(g.GroupID)
	case status.IsDead():
		m.ledger.Release(g.GroupID)
		m.cancelLegs(g)
		m.rollback(ctx, g, "entry "+string(status), false)
	}
}

// reconcileFilled releases the group's capital, retries missing exit legs
// and closes the group once an exit leg fills. It reports whether the
// group closed.
func (m *Manager) reconcileFilled(ctx context.Context, t *tracked) bool {
	g := t.group
	log := logging.WithGroupID(logging.WithSymbol(m.logger, g.Symbol), g.GroupID)

	if amount, ok := m.ledger.Release(g.GroupID); ok {
		log.Info().Float64("amount", amount).Msg("Capital released after fill")
	}

	if !t.exitsPlaced {
		placed := m.placeExits(ctx, g)
		m.mu.Lock()
		t.exitsPlaced = placed
		m.mu.Unlock()
		if !placed {
			return false
		}
	}

	exits := []struct {
		id   string
		role models.LegRole
	}{
		{g.StopLossOrderID, models.LegStopLoss},
		{g.TakeProfitOrderID, models.LegTakeProfit},
	}

	dead := 0
	for _, leg := range exits {
		if leg.id == "" {
			dead++
			continue
		}
		status, err := m.broker.GetOrderStatus(ctx, leg.id)
		if err != nil {
			olog := logging.WithOrderID(log, leg.id)
			olog.Warn().Err(err).Msg("Exit status poll failed")
			return false
		}
		if broker.IsFilled(status) {
			m.closeGroup(ctx, g, leg.id, leg.role)
			return true
		}
		if status.IsDead() {
			dead++
		}
	}

	if dead == len(exits) {
		// Exits cancelled outside the engine: the position state is unknown.
		if err := Fail(g, "exit legs cancelled externally", m.now()); err != nil {
			log.Error().Err(err).Msg("Lifecycle error")
		}
		m.untrack(g)
		m.record(ctx, g, "failed", g.FailureReason)
		log.Error().Msg("Exit legs cancelled outside the engine, manual reconciliation required")
		m.afterPositionClosed(g)
	}
	return false
}

// closeGroup records the exit fill, realized PnL and closes g.
func (m *Manager) closeGroup(ctx context.Context, g *models.BracketOrderGroup, exitID string, role models.LegRole) {
	log := logging.WithGroupID(logging.WithSymbol(m.logger, g.Symbol), g.GroupID)

	price, err := m.broker.GetExecutionPrice(ctx, exitID)
	if err != nil || price <= 0 {
		price = g.StopLossPrice
		if role == models.LegTakeProfit {
			price = g.TakeProfitPrice
		}
		log.Warn().Err(err).Float64("assumed_price", price).Msg("Exit fill price unavailable")
	}
	if g.StopLossOrderID == g.TakeProfitOrderID && err == nil {
		// One OCO trigger carries both exits; the fill price tells which.
		role = models.LegStopLoss
		if math.Abs(price-g.TakeProfitPrice) < math.Abs(price-g.StopLossPrice) {
			role = models.LegTakeProfit
		}
	}
	g.ExitPrice = price
	g.Role = role
	if err := Transition(g, models.StatusClosed, m.now()); err != nil {
		log.Error().Err(err).Msg("Lifecycle error")
	}
	m.untrack(g)

	pnl := g.RealizedPnL(price)
	if m.risk != nil {
		m.risk.UpdatePnL(pnl)
	}
	if m.journal != nil {
		if err := m.journal.RecordPnL(ctx, g.GroupID, g.Symbol, pnl, g.Simulated, m.now()); err != nil {
			log.Error().Err(err).Msg("Journal pnl write failed")
		}
	}
	m.record(ctx, g, "closed", fmt.Sprintf("%s exit=%.4f pnl=%.2f", role, price, pnl))
	log.Info().Str("leg", string(role)).Float64("exit_price", price).Float64("pnl", pnl).Msg("Position closed")

	m.afterPositionClosed(g)
}

func (m *Manager) afterPositionClosed(g *models.BracketOrderGroup) {
	if !m.cfg.SinglePosition {
		return
	}
	if symbols, err := m.plans.ReactivateInactive(); err != nil {
		m.logger.Error().Err(err).Msg("Reactivating plans failed")
	} else if len(symbols) > 0 {
		m.logger.Info().Strs("symbols", symbols).Str("closed", g.Symbol).Msg("Suspended plans reactivated")
	}
}

// cancelUnfilledEntries cancels entries still waiting to fill as the
// session ends and returns their plans to active. Filled positions keep
// their exit legs.
func (m *Manager) cancelUnfilledEntries(ctx context.Context) {
	for _, t := range m.snapshotOpen() {
		g := t.group
		if g.Status != models.StatusPlaced {
			continue
		}
		if err := m.broker.CancelOrder(ctx, g.EntryOrderID); err != nil {
			m.logger.Warn().Err(err).Str("group_id", g.GroupID).Msg("Cancel before close failed, will retry")
			continue
		}
		m.cancelLegs(g)
		m.ledger.Release(g.GroupID)
		m.rollback(ctx, g, "cancelled before session close", m.filledAfterCancel(g))
	}
}
