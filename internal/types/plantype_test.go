package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPlanTypeRank(t *testing.T) {
	assert.Equal(t, 0, PlanTypeTrial.Rank())
	assert.Equal(t, 1, PlanTypeMonthly.Rank())
	assert.Equal(t, 2, PlanTypeSemiannual.Rank())
	assert.Equal(t, 3, PlanTypeAnnual.Rank())
	assert.Equal(t, -1, PlanType("lifetime").Rank())
}

func TestPlanTypeValidate(t *testing.T) {
	for _, plan := range []PlanType{PlanTypeTrial, PlanTypeMonthly, PlanTypeSemiannual, PlanTypeAnnual} {
		assert.NoError(t, plan.Validate())
	}
	assert.Error(t, PlanType("").Validate())
	assert.Error(t, PlanType("weekly").Validate())
}

func TestPlanTypeIsPaid(t *testing.T) {
	assert.False(t, PlanTypeTrial.IsPaid())
	assert.True(t, PlanTypeMonthly.IsPaid())
	assert.True(t, PlanTypeSemiannual.IsPaid())
	assert.True(t, PlanTypeAnnual.IsPaid())
	assert.False(t, PlanType("unknown").IsPaid())
}

func TestParsePlanType(t *testing.T) {
	plan, err := ParsePlanType("annual")
	assert.NoError(t, err)
	assert.Equal(t, PlanTypeAnnual, plan)

	_, err = ParsePlanType("gold")
	assert.Error(t, err)
}
