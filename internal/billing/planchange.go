package billing

import "github.com/dineloop/dineloop/internal/types"

// Change classifies a requested plan switch. The three flags are mutually
// informative, not mutually exclusive: an interval change can also be a
// rank upgrade.
type Change struct {
	IsUpgrade   bool
	IsDowngrade bool
	// IntervalChange is true whenever exactly one side is monthly, or the
	// unordered pair is {semiannual, annual}. Switching billing interval
	// always needs a new billing-cycle anchor regardless of direction.
	IntervalChange bool
}

// Classify resolves (current, target) against the plan tier order
// trial < monthly < semiannual < annual.
func Classify(current, target types.PlanType) Change {
	currentRank := current.Rank()
	targetRank := target.Rank()

	change := Change{
		IsUpgrade:   targetRank > currentRank,
		IsDowngrade: targetRank < currentRank,
	}

	oneSideMonthly := (current == types.PlanTypeMonthly) != (target == types.PlanTypeMonthly)
	longPair := (current == types.PlanTypeSemiannual && target == types.PlanTypeAnnual) ||
		(current == types.PlanTypeAnnual && target == types.PlanTypeSemiannual)
	change.IntervalChange = oneSideMonthly || longPair

	return change
}
