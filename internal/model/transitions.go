package model

// userStatusTransitions encodes the legal principal lifecycle. Deleted is
// terminal for authentication; data is retained.
var userStatusTransitions = map[UserStatus][]UserStatus{
	UserStatusPendingVerification: {UserStatusActive, UserStatusDeleted},
	UserStatusActive:              {UserStatusSuspended, UserStatusDeleted},
	UserStatusSuspended:           {UserStatusActive, UserStatusDeleted},
	UserStatusDeleted:             {},
}

// CanTransitionUserStatus reports whether the status change is legal.
func CanTransitionUserStatus(from, to UserStatus) bool {
	for _, allowed := range userStatusTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// subscriptionTransitions encodes the billing lifecycle. Canceled is
// terminal until re-subscribed (a new subscription row).
var subscriptionTransitions = map[SubscriptionStatus][]SubscriptionStatus{
	SubscriptionStatusTrialing: {SubscriptionStatusActive, SubscriptionStatusCanceled},
	SubscriptionStatusActive:   {SubscriptionStatusPastDue, SubscriptionStatusCanceled},
	SubscriptionStatusPastDue:  {SubscriptionStatusActive, SubscriptionStatusCanceled},
	SubscriptionStatusCanceled: {},
}

// CanTransitionSubscription reports whether the status change is legal.
func CanTransitionSubscription(from, to SubscriptionStatus) bool {
	for _, allowed := range subscriptionTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
