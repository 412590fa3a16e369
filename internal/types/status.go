package types

// SubscriptionStatus is the local lifecycle status of a subscription row.
// Cancellation is a status transition, never a row deletion.
type SubscriptionStatus string

const (
	SubscriptionStatusActive            SubscriptionStatus = "active"
	SubscriptionStatusTrialing          SubscriptionStatus = "trialing"
	SubscriptionStatusPastDue           SubscriptionStatus = "past_due"
	SubscriptionStatusCanceled          SubscriptionStatus = "canceled"
	SubscriptionStatusUnpaid            SubscriptionStatus = "unpaid"
	SubscriptionStatusIncomplete        SubscriptionStatus = "incomplete"
	SubscriptionStatusIncompleteExpired SubscriptionStatus = "incomplete_expired"
)

// IsLive reports whether the status grants access to plan features.
func (s SubscriptionStatus) IsLive() bool {
	return s == SubscriptionStatusActive || s == SubscriptionStatusTrialing
}

// MapRemoteStatus translates a billing-provider subscription status into the
// local status using an explicit, exhaustive table:
//
//	active, trialing            -> active
//	past_due                    -> past_due
//	canceled, cancelled         -> canceled
//	unpaid                      -> unpaid
//	incomplete                  -> incomplete
//	incomplete_expired          -> incomplete_expired
//
// Any other value falls back to active and returns known=false so callers
// can log the unrecognized status. Keeping the fallback matches the current
// production behavior; see DESIGN.md before changing it.
func MapRemoteStatus(remote string) (status SubscriptionStatus, known bool) {
	switch remote {
	case "active", "trialing":
		return SubscriptionStatusActive, true
	case "past_due":
		return SubscriptionStatusPastDue, true
	case "canceled", "cancelled":
		return SubscriptionStatusCanceled, true
	case "unpaid":
		return SubscriptionStatusUnpaid, true
	case "incomplete":
		return SubscriptionStatusIncomplete, true
	case "incomplete_expired":
		return SubscriptionStatusIncompleteExpired, true
	default:
		return SubscriptionStatusActive, false
	}
}

// MirrorRemoteStatus keeps trialing distinct from active; it is used when a
// subscription row is first written from a freshly created remote
// subscription, where the trialing state is meaningful locally.
func MirrorRemoteStatus(remote string) (status SubscriptionStatus, known bool) {
	if remote == "trialing" {
		return SubscriptionStatusTrialing, true
	}
	return MapRemoteStatus(remote)
}
