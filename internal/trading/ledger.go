package trading

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	apperrors "bracket-trader/internal/errors"
	"bracket-trader/internal/models"
)

// CapitalLedger tracks capital committed to open bracket groups. Admission
// decisions happen under its lock, one Admission at a time.
type CapitalLedger struct {
	mu        sync.Mutex
	committed map[string]decimal.Decimal // group_id -> entry notional
	now       func() time.Time
}

// NewCapitalLedger creates an empty ledger.
func NewCapitalLedger() *CapitalLedger {
	return &CapitalLedger{
		committed: make(map[string]decimal.Decimal),
		now:       time.Now,
	}
}

// Admission is the critical section opened by Begin. Its snapshot is
// mutated by Reserve and the lock is held until Close.
type Admission struct {
	ledger    *CapitalLedger
	total     decimal.Decimal
	committed decimal.Decimal
	takenAt   time.Time
	closed    bool
}

// Begin acquires the capital lock and takes a snapshot against
// totalBuyingPower. The caller must Close the admission and must not make
// broker calls while it is open.
func (l *CapitalLedger) Begin(totalBuyingPower float64) *Admission {
	l.mu.Lock()
	return &Admission{
		ledger:    l,
		total:     decimal.NewFromFloat(totalBuyingPower),
		committed: l.sumLocked(),
		takenAt:   l.now(),
	}
}

func (l *CapitalLedger) sumLocked() decimal.Decimal {
	sum := decimal.Zero
	for _, v := range l.committed {
		sum = sum.Add(v)
	}
	return sum
}

// Snapshot returns the current view, including reservations made in this
// admission.
func (a *Admission) Snapshot() models.CapitalSnapshot {
	return models.CapitalSnapshot{
		TotalBuyingPower: a.total.InexactFloat64(),
		Committed:        a.committed.InexactFloat64(),
		Remaining:        a.remaining().InexactFloat64(),
		TakenAt:          a.takenAt,
	}
}

func (a *Admission) remaining() decimal.Decimal {
	r := a.total.Sub(a.committed)
	if r.IsNegative() {
		return decimal.Zero
	}
	return r
}

// Remaining is total minus committed, floored at zero.
func (a *Admission) Remaining() float64 {
	return a.remaining().InexactFloat64()
}

// Reserve earmarks notional for groupID so later plans in the same cycle
// size against what is left. Reserving the same group twice is a no-op.
func (a *Admission) Reserve(groupID string, notional decimal.Decimal) error {
	if a.closed {
		return fmt.Errorf("admission closed")
	}
	if _, ok := a.ledger.committed[groupID]; ok {
		return nil
	}
	if notional.GreaterThan(a.remaining()) {
		return fmt.Errorf("%w: need %s, remaining %s", apperrors.ErrInsufficientCapital, notional.StringFixed(2), a.remaining().StringFixed(2))
	}
	a.ledger.committed[groupID] = notional
	a.committed = a.committed.Add(notional)
	return nil
}

// Close releases the capital lock. Safe to call more than once.
func (a *Admission) Close() {
	if a.closed {
		return
	}
	a.closed = true
	a.ledger.mu.Unlock()
}

// Adopt records a reservation outside an admission, used to restore open
// groups after a restart.
func (l *CapitalLedger) Adopt(groupID string, notional decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.committed[groupID] = notional
}

// Release returns a group's reservation to the pool. It reports false if
// nothing was reserved.
func (l *CapitalLedger) Release(groupID string) (float64, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	v, ok := l.committed[groupID]
	if !ok {
		return 0, false
	}
	delete(l.committed, groupID)
	return v.InexactFloat64(), true
}

// IsCommitted reports whether groupID holds a reservation.
func (l *CapitalLedger) IsCommitted(groupID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.committed[groupID]
	return ok
}

// Committed returns the total reserved.
func (l *CapitalLedger) Committed() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sumLocked().InexactFloat64()
}
