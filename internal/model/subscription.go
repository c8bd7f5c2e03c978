package model

import (
	"time"

	"github.com/google/uuid"
)

// UnlimitedQuota marks a resource with no limit on the plan.
const UnlimitedQuota int64 = -1

// Plan describes a subscription tier: a feature set and per-resource
// quota limits.
type Plan struct {
	ID       string
	Name     string
	Features []string
	Quotas   map[string]int64
}

// HasFeature reports whether the plan's feature set contains the flag.
func (p *Plan) HasFeature(feature string) bool {
	for _, f := range p.Features {
		if f == feature {
			return true
		}
	}
	return false
}

// SubscriptionStatus is the billing lifecycle state.
type SubscriptionStatus string

const (
	SubscriptionStatusActive   SubscriptionStatus = "active"
	SubscriptionStatusTrialing SubscriptionStatus = "trialing"
	SubscriptionStatusPastDue  SubscriptionStatus = "past_due"
	SubscriptionStatusCanceled SubscriptionStatus = "canceled"
)

// TenantSubscription binds a tenant to a plan with usage accounting.
type TenantSubscription struct {
	TenantID     uuid.UUID
	Plan         Plan
	Status       SubscriptionStatus
	StartDate    time.Time
	EndDate      *time.Time
	CurrentUsage map[string]int64
	UpdatedAt    time.Time
}

// Entitled reports whether the subscription state grants feature access.
// Only Active and Trialing subscriptions are entitled.
func (s *TenantSubscription) Entitled() bool {
	return s.Status == SubscriptionStatusActive || s.Status == SubscriptionStatusTrialing
}
