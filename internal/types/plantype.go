package types

import (
	ierr "github.com/dineloop/dineloop/internal/errors"
)

// PlanType is the single source of truth for feature gating. It is stored
// on the local subscription row and never inferred from a price id.
type PlanType string

const (
	PlanTypeTrial      PlanType = "trial"
	PlanTypeMonthly    PlanType = "monthly"
	PlanTypeSemiannual PlanType = "semiannual"
	PlanTypeAnnual     PlanType = "annual"
)

// planRanks defines the total order over plan tiers:
// trial(0) < monthly(1) < semiannual(2) < annual(3)
var planRanks = map[PlanType]int{
	PlanTypeTrial:      0,
	PlanTypeMonthly:    1,
	PlanTypeSemiannual: 2,
	PlanTypeAnnual:     3,
}

// Rank returns the tier rank of the plan, or -1 for unknown plans.
func (p PlanType) Rank() int {
	rank, ok := planRanks[p]
	if !ok {
		return -1
	}
	return rank
}

func (p PlanType) Validate() error {
	if _, ok := planRanks[p]; !ok {
		return ierr.NewError("invalid plan type").
			WithHintf("Plan type %s is not supported", p).
			WithReportableDetails(map[string]any{
				"plan_type": p,
			}).
			Mark(ierr.ErrInvalidPlanType)
	}
	return nil
}

// IsPaid reports whether the plan bills through a recurring price.
func (p PlanType) IsPaid() bool {
	return p != PlanTypeTrial && p.Rank() > 0
}

func ParsePlanType(s string) (PlanType, error) {
	p := PlanType(s)
	if err := p.Validate(); err != nil {
		return "", err
	}
	return p, nil
}
