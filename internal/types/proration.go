package types

// ProrationBehavior controls whether a plan change bills or credits the
// partial-period difference. It is always passed explicitly to the billing
// gateway; provider defaults differ by API version and must stay pinned.
type ProrationBehavior string

const (
	ProrationBehaviorCreateProrations ProrationBehavior = "create_prorations"
	ProrationBehaviorNone             ProrationBehavior = "none"
)

// BillingAnchor selects the billing-cycle anchor mode for a subscription
// update. Now resets the cycle to the moment of the update, Unchanged keeps
// the existing charge date.
type BillingAnchor string

const (
	BillingAnchorNow       BillingAnchor = "now"
	BillingAnchorUnchanged BillingAnchor = "unchanged"
)
