package dto

import "github.com/dineloop/dineloop/internal/types"

// WebhookResult reports what a webhook delivery did. Inapplicable events are
// acknowledged with Processed=false so the provider stops redelivering.
type WebhookResult struct {
	Processed bool           `json:"processed"`
	Action    string         `json:"action,omitempty"`
	UserID    string         `json:"user_id,omitempty"`
	PlanType  types.PlanType `json:"plan_type,omitempty"`
	// PeriodAccurate is false when the derived period fell outside the
	// tolerance band for the plan.
	PeriodAccurate bool `json:"period_accurate"`
}
