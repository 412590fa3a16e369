package billing

import (
	"testing"

	"github.com/dineloop/dineloop/internal/types"
	"github.com/stretchr/testify/assert"
)

var allPlans = []types.PlanType{
	types.PlanTypeTrial,
	types.PlanTypeMonthly,
	types.PlanTypeSemiannual,
	types.PlanTypeAnnual,
}

func TestClassifyDirectionExhaustive(t *testing.T) {
	for _, current := range allPlans {
		for _, target := range allPlans {
			change := Classify(current, target)

			if current == target {
				assert.False(t, change.IsUpgrade, "%s -> %s", current, target)
				assert.False(t, change.IsDowngrade, "%s -> %s", current, target)
				continue
			}

			// upgrade and downgrade are mutually exclusive and, for
			// distinct plans, exhaustive
			assert.NotEqual(t, change.IsUpgrade, change.IsDowngrade,
				"%s -> %s must be exactly one of upgrade/downgrade", current, target)
		}
	}
}

func TestClassifyIntervalChange(t *testing.T) {
	for _, current := range allPlans {
		for _, target := range allPlans {
			change := Classify(current, target)

			oneSideMonthly := (current == types.PlanTypeMonthly) != (target == types.PlanTypeMonthly)
			longPair := (current == types.PlanTypeSemiannual && target == types.PlanTypeAnnual) ||
				(current == types.PlanTypeAnnual && target == types.PlanTypeSemiannual)

			assert.Equal(t, oneSideMonthly || longPair, change.IntervalChange,
				"%s -> %s", current, target)
		}
	}
}

func TestClassifyKnownCases(t *testing.T) {
	tests := []struct {
		current, target types.PlanType
		want            Change
	}{
		{types.PlanTypeTrial, types.PlanTypeMonthly, Change{IsUpgrade: true, IntervalChange: true}},
		{types.PlanTypeMonthly, types.PlanTypeAnnual, Change{IsUpgrade: true, IntervalChange: true}},
		{types.PlanTypeAnnual, types.PlanTypeMonthly, Change{IsDowngrade: true, IntervalChange: true}},
		{types.PlanTypeSemiannual, types.PlanTypeAnnual, Change{IsUpgrade: true, IntervalChange: true}},
		{types.PlanTypeAnnual, types.PlanTypeSemiannual, Change{IsDowngrade: true, IntervalChange: true}},
		{types.PlanTypeTrial, types.PlanTypeSemiannual, Change{IsUpgrade: true, IntervalChange: false}},
		{types.PlanTypeSemiannual, types.PlanTypeSemiannual, Change{}},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.current, tt.target),
			"%s -> %s", tt.current, tt.target)
	}
}
