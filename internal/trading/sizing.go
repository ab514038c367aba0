package trading

import (
	"github.com/shopspring/decimal"

	"bracket-trader/internal/models"
)

// SizingResult explains a sizing decision. Quantity is zero when the plan
// is refused; Reason then says why.
type SizingResult struct {
	RiskPerShare decimal.Decimal
	Ideal        int64
	Affordable   int64
	Minimum      int64
	Quantity     int64
	Reason       string
}

// Size returns the share count for plan given the remaining capital. It is
// pure: share counts are computed in exact decimal arithmetic and every
// division is floored, so equal inputs always give equal output.
func Size(plan models.PlanEntry, remaining, riskFraction, availableQuantityRatio float64) int64 {
	return SizeDetail(plan, remaining, riskFraction, availableQuantityRatio).Quantity
}

// SizeDetail is Size with the intermediate values.
//
//	ideal      = floor(remaining * risk_fraction / |entry - stop|)
//	affordable = floor(remaining / entry)
//	quantity   = min(ideal, affordable), refused below ceil(ideal * ratio)
//
// An explicit plan quantity replaces the risk-sized one and is refused if
// it is not affordable in full.
func SizeDetail(plan models.PlanEntry, remaining, riskFraction, availableQuantityRatio float64) SizingResult {
	var res SizingResult

	entry := decimal.NewFromFloat(plan.EntryLimitPrice())
	stop := decimal.NewFromFloat(plan.StopLossPrice)
	capital := decimal.NewFromFloat(remaining)
	fraction := decimal.NewFromFloat(riskFraction)
	ratio := decimal.NewFromFloat(availableQuantityRatio)

	switch {
	case !entry.IsPositive():
		res.Reason = "entry price must be positive"
		return res
	case plan.Side.IsLong() && !entry.GreaterThan(stop):
		res.Reason = "long entry must be above stop"
		return res
	case !plan.Side.IsLong() && !entry.LessThan(stop):
		res.Reason = "short entry must be below stop"
		return res
	case !capital.IsPositive():
		res.Reason = "no remaining capital"
		return res
	case !fraction.IsPositive() || fraction.GreaterThan(decimal.NewFromInt(1)):
		res.Reason = "risk fraction out of range"
		return res
	case !ratio.IsPositive() || ratio.GreaterThan(decimal.NewFromInt(1)):
		res.Reason = "available quantity ratio out of range"
		return res
	}

	res.RiskPerShare = entry.Sub(stop).Abs()
	res.Affordable = floorDiv(capital, entry)

	if plan.Quantity != nil {
		res.Ideal = *plan.Quantity
		res.Minimum = *plan.Quantity
		if res.Affordable < *plan.Quantity {
			res.Reason = "explicit quantity not affordable"
			return res
		}
		res.Quantity = *plan.Quantity
		return res
	}

	res.Ideal = floorDiv(capital.Mul(fraction), res.RiskPerShare)
	res.Minimum = decimal.NewFromInt(res.Ideal).Mul(ratio).Ceil().IntPart()

	qty := res.Ideal
	if res.Affordable < qty {
		qty = res.Affordable
	}
	switch {
	case qty <= 0:
		res.Reason = "insufficient capital"
	case qty < res.Minimum:
		res.Reason = "below minimum acceptable quantity"
	default:
		res.Quantity = qty
	}
	return res
}

// floorDiv returns floor(a / b) for non-negative a and positive b without
// any intermediate rounding.
func floorDiv(a, b decimal.Decimal) int64 {
	q, _ := a.QuoRem(b, 0)
	return q.IntPart()
}
