package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMapRemoteStatus(t *testing.T) {
	tests := []struct {
		remote string
		want   SubscriptionStatus
		known  bool
	}{
		{"active", SubscriptionStatusActive, true},
		{"trialing", SubscriptionStatusActive, true},
		{"past_due", SubscriptionStatusPastDue, true},
		{"canceled", SubscriptionStatusCanceled, true},
		{"cancelled", SubscriptionStatusCanceled, true},
		{"unpaid", SubscriptionStatusUnpaid, true},
		{"incomplete", SubscriptionStatusIncomplete, true},
		{"incomplete_expired", SubscriptionStatusIncompleteExpired, true},
		{"paused", SubscriptionStatusActive, false},
		{"", SubscriptionStatusActive, false},
	}
	for _, tt := range tests {
		got, known := MapRemoteStatus(tt.remote)
		assert.Equal(t, tt.want, got, "remote=%q", tt.remote)
		assert.Equal(t, tt.known, known, "remote=%q", tt.remote)
	}
}

func TestMirrorRemoteStatusKeepsTrialing(t *testing.T) {
	got, known := MirrorRemoteStatus("trialing")
	assert.Equal(t, SubscriptionStatusTrialing, got)
	assert.True(t, known)

	got, known = MirrorRemoteStatus("active")
	assert.Equal(t, SubscriptionStatusActive, got)
	assert.True(t, known)
}

func TestSubscriptionStatusIsLive(t *testing.T) {
	assert.True(t, SubscriptionStatusActive.IsLive())
	assert.True(t, SubscriptionStatusTrialing.IsLive())
	assert.False(t, SubscriptionStatusCanceled.IsLive())
	assert.False(t, SubscriptionStatusPastDue.IsLive())
	assert.False(t, SubscriptionStatusUnpaid.IsLive())
}
