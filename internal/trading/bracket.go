package trading

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	apperrors "bracket-trader/internal/errors"
	"bracket-trader/internal/models"
)

// NewBracketOrderGroup builds a Pending group for plan with a fresh group id.
func NewBracketOrderGroup(plan models.PlanEntry, quantity int64, now time.Time) *models.BracketOrderGroup {
	now = now.UTC()
	g := &models.BracketOrderGroup{
		GroupID:         uuid.NewString(),
		Symbol:          plan.Symbol,
		Side:            plan.Side,
		Quantity:        quantity,
		EntryPrice:      plan.EntryLimitPrice(),
		StopLossPrice:   plan.StopLossPrice,
		TakeProfitPrice: plan.ResolvedTakeProfit(),
		EntryMethod:     plan.EntryMethod,
		Status:          models.StatusPending,
		Role:            models.LegEntry,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if plan.EntryMethod == models.EntryStopLimit && plan.StopTrigger != nil {
		trigger := *plan.StopTrigger
		g.StopTrigger = &trigger
	}
	return g
}

var transitions = map[models.LifecycleStatus][]models.LifecycleStatus{
	models.StatusPending: {models.StatusPlaced, models.StatusFailed},
	models.StatusPlaced:  {models.StatusFilled, models.StatusFailed},
	models.StatusFilled:  {models.StatusClosed, models.StatusFailed},
}

// CanTransition reports whether from -> to is a legal lifecycle step.
func CanTransition(from, to models.LifecycleStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition moves g to status, stamping UpdatedAt. Terminal groups and
// skipped steps are refused with ErrInvalidTransition.
func Transition(g *models.BracketOrderGroup, to models.LifecycleStatus, now time.Time) error {
	if !CanTransition(g.Status, to) {
		return fmt.Errorf("%w: %s -> %s (group %s)", apperrors.ErrInvalidTransition, g.Status, to, g.GroupID)
	}
	g.Status = to
	g.UpdatedAt = now.UTC()
	return nil
}

// Fail moves a non-terminal group to Failed with reason.
func Fail(g *models.BracketOrderGroup, reason string, now time.Time) error {
	if err := Transition(g, models.StatusFailed, now); err != nil {
		return err
	}
	g.FailureReason = reason
	return nil
}
