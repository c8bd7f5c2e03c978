// Package subscription gates feature use and counts resource consumption
// against the tenant's plan.
package subscription

import (
	"context"
	"log/slog"

	"github.com/clearpathsec/bastion/internal/apperr"
	"github.com/clearpathsec/bastion/internal/model"
	"github.com/clearpathsec/bastion/internal/store"
	"github.com/google/uuid"
)

// Gate answers feature and quota questions for tenants.
type Gate struct {
	subs store.SubscriptionStore
	log  *slog.Logger
}

func NewGate(subs store.SubscriptionStore, log *slog.Logger) *Gate {
	return &Gate{subs: subs, log: log}
}

func (g *Gate) subscription(ctx context.Context, tenantID uuid.UUID) (*model.TenantSubscription, error) {
	sub, err := g.subs.GetByTenant(ctx, tenantID)
	if err != nil {
		if apperr.IsKind(err, apperr.KindNotFound) {
			return nil, apperr.New(apperr.KindValidation, "tenant has no subscription")
		}
		return nil, apperr.Wrap(err, apperr.KindDatabase, "subscription lookup failed")
	}
	return sub, nil
}

// HasFeature reports whether the tenant's plan includes the feature and
// the subscription state entitles use (Active or Trialing).
func (g *Gate) HasFeature(ctx context.Context, tenantID uuid.UUID, feature string) (bool, error) {
	sub, err := g.subscription(ctx, tenantID)
	if err != nil {
		return false, err
	}
	return sub.Entitled() && sub.Plan.HasFeature(feature), nil
}

// RequireFeature is HasFeature surfacing the plan-gate error.
func (g *Gate) RequireFeature(ctx context.Context, tenantID uuid.UUID, feature string) error {
	ok, err := g.HasFeature(ctx, tenantID, feature)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.FeatureNotAvailable(feature)
	}
	return nil
}

// WithinQuota reports whether consuming `requested` more units of the
// resource stays within the plan limit. A limit of -1 is unlimited.
func (g *Gate) WithinQuota(ctx context.Context, tenantID uuid.UUID, resource string, requested int64) (bool, error) {
	sub, err := g.subscription(ctx, tenantID)
	if err != nil {
		return false, err
	}

	limit, ok := sub.Plan.Quotas[resource]
	if !ok {
		// A resource the plan never mentions has no budget.
		return false, nil
	}
	if limit == model.UnlimitedQuota {
		return true, nil
	}
	current := sub.CurrentUsage[resource]
	return current+requested <= limit, nil
}

// Consume verifies the quota and records the usage. The increment is a
// single atomic store operation; a read-modify-write here would lose
// updates under concurrency.
func (g *Gate) Consume(ctx context.Context, tenantID uuid.UUID, resource string, delta int64) error {
	sub, err := g.subscription(ctx, tenantID)
	if err != nil {
		return err
	}

	limit, ok := sub.Plan.Quotas[resource]
	if !ok {
		return apperr.QuotaExceeded(resource, 0, sub.CurrentUsage[resource])
	}
	if limit != model.UnlimitedQuota && sub.CurrentUsage[resource]+delta > limit {
		g.log.Info("quota_exceeded",
			"tenant_id", tenantID,
			"resource", resource,
			"limit", limit,
			"current", sub.CurrentUsage[resource],
		)
		return apperr.QuotaExceeded(resource, limit, sub.CurrentUsage[resource])
	}

	if err := g.subs.IncrementUsage(ctx, tenantID, resource, delta); err != nil {
		return apperr.Wrap(err, apperr.KindDatabase, "usage accounting failed")
	}
	return nil
}

// RecordUsage increments without a quota check, for callers that gated
// earlier in the request.
func (g *Gate) RecordUsage(ctx context.Context, tenantID uuid.UUID, resource string, delta int64) error {
	if err := g.subs.IncrementUsage(ctx, tenantID, resource, delta); err != nil {
		return apperr.Wrap(err, apperr.KindDatabase, "usage accounting failed")
	}
	return nil
}
