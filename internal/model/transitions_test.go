package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUserStatusTransitions(t *testing.T) {
	assert.True(t, CanTransitionUserStatus(UserStatusPendingVerification, UserStatusActive))
	assert.True(t, CanTransitionUserStatus(UserStatusActive, UserStatusSuspended))
	assert.True(t, CanTransitionUserStatus(UserStatusSuspended, UserStatusActive))
	assert.True(t, CanTransitionUserStatus(UserStatusActive, UserStatusDeleted))
	assert.True(t, CanTransitionUserStatus(UserStatusSuspended, UserStatusDeleted))

	// Deleted is terminal.
	assert.False(t, CanTransitionUserStatus(UserStatusDeleted, UserStatusActive))
	assert.False(t, CanTransitionUserStatus(UserStatusDeleted, UserStatusSuspended))

	// No skipping verification back and forth.
	assert.False(t, CanTransitionUserStatus(UserStatusActive, UserStatusPendingVerification))
	assert.False(t, CanTransitionUserStatus(UserStatusSuspended, UserStatusPendingVerification))
}

func TestSubscriptionTransitions(t *testing.T) {
	assert.True(t, CanTransitionSubscription(SubscriptionStatusTrialing, SubscriptionStatusActive))
	assert.True(t, CanTransitionSubscription(SubscriptionStatusTrialing, SubscriptionStatusCanceled))
	assert.True(t, CanTransitionSubscription(SubscriptionStatusActive, SubscriptionStatusPastDue))
	assert.True(t, CanTransitionSubscription(SubscriptionStatusPastDue, SubscriptionStatusActive))
	assert.True(t, CanTransitionSubscription(SubscriptionStatusPastDue, SubscriptionStatusCanceled))

	// Canceled is terminal.
	assert.False(t, CanTransitionSubscription(SubscriptionStatusCanceled, SubscriptionStatusActive))
	assert.False(t, CanTransitionSubscription(SubscriptionStatusActive, SubscriptionStatusTrialing))
	assert.False(t, CanTransitionSubscription(SubscriptionStatusPastDue, SubscriptionStatusTrialing))
}
