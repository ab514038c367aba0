package trading

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bracket-trader/internal/broker"
	apperrors "bracket-trader/internal/errors"
	"bracket-trader/internal/logging"
	"bracket-trader/internal/models"
	"bracket-trader/pkg/utils"
)

// cleanupTimeout bounds best-effort cancels made after the cycle context
// may already be done.
const cleanupTimeout = 10 * time.Second

// verifyOutcome is what polling the entry leg concluded.
type verifyOutcome struct {
	status  models.BrokerOrderStatus
	partial bool
}

// execute submits an admitted group, verifies the entry fill and commits
// or rolls back. It reports whether the plan was executed. The group's
// capital reservation is released on every path except a verified fill,
// where reconcile releases it.
func (m *Manager) execute(ctx context.Context, a admission) (executed bool) {
	g := a.group
	log := logging.WithGroupID(logging.WithSymbol(m.logger, g.Symbol), g.GroupID)

	defer func() {
		if !executed {
			if amount, ok := m.ledger.Release(g.GroupID); ok {
				log.Info().Float64("amount", amount).Msg("Capital reservation released")
			}
		}
	}()

	if g.Simulated && !broker.IsSimulated(m.broker) {
		err := fmt.Errorf("%w: dry run with live broker %s", apperrors.ErrConfigInvalid, m.broker.Name())
		m.rollback(ctx, g, err.Error(), false)
		log.Error().Err(err).Msg("Bracket order refused")
		return false
	}
	if err := m.broker.SubmitBracketOrder(ctx, g, m.cfg.AccountID); err != nil {
		m.rollback(ctx, g, fmt.Sprintf("submission rejected: %v", err), false)
		log.Error().Err(err).Msg("Bracket order rejected")
		return false
	}
	if err := Transition(g, models.StatusPlaced, m.now()); err != nil {
		log.Error().Err(err).Msg("Lifecycle error")
	}
	m.record(ctx, g, "submitted", "")
	m.observe(g.Symbol, a.quote.Price)

	outcome, err := m.verifyEntry(ctx, g)
	if err != nil {
		cause := err
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, utils.ErrPollExhausted) {
			cause = fmt.Errorf("%w: %v", apperrors.ErrVerificationTimeout, err)
		}
		m.cancelLegs(g)
		partial := outcome.partial || m.filledAfterCancel(g)
		m.rollback(ctx, g, cause.Error(), partial)
		log.Error().Err(cause).Bool("partial_fill", partial).Msg("Entry not confirmed")
		return false
	}

	m.commitFill(ctx, g)
	return true
}

// verifyEntry polls the entry leg until it fills, dies, or the attempts or
// timeout run out.
func (m *Manager) verifyEntry(ctx context.Context, g *models.BracketOrderGroup) (verifyOutcome, error) {
	vctx, cancel := context.WithTimeout(ctx, m.cfg.VerifyTimeout)
	defer cancel()

	var partial bool
	out, err := utils.Poll(vctx, m.cfg.VerifyAttempts, m.cfg.VerifyInterval,
		func(ctx context.Context) (verifyOutcome, bool, error) {
			status, err := m.broker.GetOrderStatus(ctx, g.EntryOrderID)
			if err != nil {
				// A transient status error counts as not yet confirmed.
				m.logger.Warn().Err(err).Str("group_id", g.GroupID).Msg("Entry status poll failed")
				return verifyOutcome{partial: partial}, false, nil
			}
			if status == models.OrderPartiallyFilled {
				partial = true
			}
			o := verifyOutcome{status: status, partial: partial}
			switch {
			case broker.IsFilled(status):
				return o, true, nil
			case status.IsDead():
				return o, true, apperrors.NewOrderError(g.GroupID, g.Symbol, "verify", "entry "+string(status),
					apperrors.ErrOrderRejected)
			default:
				return o, false, nil
			}
		})
	if out.partial {
		partial = true
	}
	out.partial = partial
	return out, err
}

// commitFill records a confirmed entry fill on the group and the plan.
func (m *Manager) commitFill(ctx context.Context, g *models.BracketOrderGroup) {
	log := logging.WithGroupID(m.logger, g.GroupID)

	price, err := m.broker.GetExecutionPrice(ctx, g.EntryOrderID)
	if err != nil || price <= 0 {
		log.Warn().Err(err).Msg("Fill price unavailable, using limit price")
		price = g.EntryPrice
	}
	g.FillPrice = price
	if err := Transition(g, models.StatusFilled, m.now()); err != nil {
		log.Error().Err(err).Msg("Lifecycle error")
	}
	logging.LogFill(m.logger, g.GroupID, g.Symbol, string(g.Side), g.Quantity, price, g.Simulated)

	info := models.ExecutionInfo{
		GroupID:    g.GroupID,
		Price:      price,
		Quantity:   g.Quantity,
		ExecutedAt: m.now(),
		Simulated:  g.Simulated,
	}
	if err := m.plans.MarkExecuted(g.Symbol, info); err != nil {
		log.Error().Err(err).Msg("Persisting executed plan failed, in-memory state kept")
	}

	exitsPlaced := m.placeExits(ctx, g)
	m.mu.Lock()
	if t, ok := m.open[g.GroupID]; ok {
		t.exitsPlaced = exitsPlaced
	}
	m.mu.Unlock()
	m.record(ctx, g, "filled", fmt.Sprintf("price=%.4f", price))

	if m.cfg.SinglePosition {
		if suspended, err := m.plans.SuspendOthers(g.Symbol); err != nil {
			log.Error().Err(err).Msg("Suspending other plans failed")
		} else if len(suspended) > 0 {
			log.Info().Strs("symbols", suspended).Msg("Other plans suspended while position is open")
		}
	}
}

// placeExits places stop-loss and take-profit for brokers without a native
// bracket. It reports whether the exits are in place.
func (m *Manager) placeExits(ctx context.Context, g *models.BracketOrderGroup) bool {
	if m.broker.SupportsNativeBracket() {
		return true
	}
	placer, ok := m.broker.(broker.ExitLegPlacer)
	if !ok {
		return true
	}
	if err := placer.PlaceExitLegs(ctx, g); err != nil {
		m.logger.Error().Err(err).Str("group_id", g.GroupID).Msg("Placing exit legs failed, position unprotected until retried")
		return false
	}
	m.record(ctx, g, "exits_placed", "")
	return len(g.ExitOrderIDs()) > 0
}

// cancelLegs cancels every accepted leg of g, best effort.
func (m *Manager) cancelLegs(g *models.BracketOrderGroup) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	ids := append([]string{g.EntryOrderID}, g.ExitOrderIDs()...)
	for _, id := range ids {
		if id == "" {
			continue
		}
		if err := m.broker.CancelOrder(ctx, id); err != nil {
			m.logger.Warn().Err(err).Str("group_id", g.GroupID).Str("order_id", id).Msg("Best-effort cancel failed")
		}
	}
}

// filledAfterCancel reports whether the entry filled in part (or in full)
// despite the failed verification.
func (m *Manager) filledAfterCancel(g *models.BracketOrderGroup) bool {
	if g.EntryOrderID == "" {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	status, err := m.broker.GetOrderStatus(ctx, g.EntryOrderID)
	if err != nil {
		return false
	}
	return status == models.OrderPartiallyFilled || status == models.OrderFilled
}

// rollback fails g and stops tracking it. Without a fill the plan returns
// to active for a later cycle; with a partial fill the plan is parked in
// position for manual reconciliation.
func (m *Manager) rollback(ctx context.Context, g *models.BracketOrderGroup, reason string, partial bool) {
	log := logging.WithGroupID(logging.WithSymbol(m.logger, g.Symbol), g.GroupID)

	g.PartialFill = partial
	if err := Fail(g, reason, m.now()); err != nil {
		log.Error().Err(err).Msg("Lifecycle error")
	}
	m.untrack(g)

	var err error
	if partial {
		log.Error().Msg("Partial fill on failed bracket, manual reconciliation required")
		err = m.plans.MarkInPosition(g.Symbol, &models.ExecutionInfo{
			GroupID: g.GroupID, Quantity: g.Quantity, ExecutedAt: m.now(), Simulated: g.Simulated,
		})
	} else {
		err = m.plans.MarkActive(g.Symbol)
	}
	if err != nil {
		log.Error().Err(err).Msg("Persisting plan rollback failed, in-memory state kept")
	}
	m.record(ctx, g, "failed", reason)
}
