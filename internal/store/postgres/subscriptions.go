package postgres

import (
	"context"
	"encoding/json"

	"github.com/clearpathsec/bastion/internal/apperr"
	"github.com/clearpathsec/bastion/internal/model"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SubscriptionStore is the pgx-backed SubscriptionStore.
type SubscriptionStore struct {
	pool *pgxpool.Pool
}

func NewSubscriptionStore(pool *pgxpool.Pool) *SubscriptionStore {
	return &SubscriptionStore{pool: pool}
}

func (s *SubscriptionStore) Create(ctx context.Context, sub *model.TenantSubscription) error {
	ctx, cancel := withDeadline(ctx)
	defer cancel()

	plan, err := json.Marshal(sub.Plan)
	if err != nil {
		return apperr.Wrap(err, apperr.KindValidation, "invalid plan")
	}
	usage, err := json.Marshal(sub.CurrentUsage)
	if err != nil {
		return apperr.Wrap(err, apperr.KindValidation, "invalid usage map")
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO tenant_subscriptions (tenant_id, plan, status, start_date, end_date, current_usage, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())`,
		sub.TenantID, plan, sub.Status, sub.StartDate, sub.EndDate, usage,
	)
	return mapError(err, "subscription insert")
}

func (s *SubscriptionStore) GetByTenant(ctx context.Context, tenantID uuid.UUID) (*model.TenantSubscription, error) {
	ctx, cancel := withDeadline(ctx)
	defer cancel()

	var sub model.TenantSubscription
	var plan, usage []byte
	err := s.pool.QueryRow(ctx, `
		SELECT tenant_id, plan, status, start_date, end_date, current_usage, updated_at
		FROM tenant_subscriptions WHERE tenant_id = $1`, tenantID,
	).Scan(&sub.TenantID, &plan, &sub.Status, &sub.StartDate, &sub.EndDate, &usage, &sub.UpdatedAt)
	if err != nil {
		return nil, mapError(err, "subscription lookup")
	}
	if err := json.Unmarshal(plan, &sub.Plan); err != nil {
		return nil, apperr.Wrap(err, apperr.KindDatabase, "corrupt plan")
	}
	if len(usage) > 0 {
		if err := json.Unmarshal(usage, &sub.CurrentUsage); err != nil {
			return nil, apperr.Wrap(err, apperr.KindDatabase, "corrupt usage map")
		}
	}
	return &sub, nil
}

// IncrementUsage patches the usage JSONB server-side in one statement, so
// concurrent increments are both reflected.
func (s *SubscriptionStore) IncrementUsage(ctx context.Context, tenantID uuid.UUID, resource string, delta int64) error {
	ctx, cancel := withDeadline(ctx)
	defer cancel()

	tag, err := s.pool.Exec(ctx, `
		UPDATE tenant_subscriptions
		SET current_usage = jsonb_set(
			coalesce(current_usage, '{}'::jsonb),
			ARRAY[$2],
			to_jsonb(coalesce((current_usage->>$2)::bigint, 0) + $3),
			true
		), updated_at = now()
		WHERE tenant_id = $1`, tenantID, resource, delta)
	if err != nil {
		return mapError(err, "usage increment")
	}
	if tag.RowsAffected() == 0 {
		return apperr.ErrNotFound
	}
	return nil
}
