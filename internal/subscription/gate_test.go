package subscription

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/clearpathsec/bastion/internal/apperr"
	"github.com/clearpathsec/bastion/internal/model"
	"github.com/clearpathsec/bastion/internal/store/memory"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGate(t *testing.T, sub *model.TenantSubscription) (*Gate, *memory.SubscriptionStore) {
	t.Helper()
	subs := memory.NewSubscriptionStore()
	if sub != nil {
		require.NoError(t, subs.Create(context.Background(), sub))
	}
	return NewGate(subs, slog.New(slog.NewTextHandler(io.Discard, nil))), subs
}

func proPlan() model.Plan {
	return model.Plan{
		ID:       "pro",
		Name:     "Professional",
		Features: []string{"sso", "audit-export"},
		Quotas: map[string]int64{
			"api_calls": 1000,
			"seats":     model.UnlimitedQuota,
		},
	}
}

func activeSub(tenantID uuid.UUID) *model.TenantSubscription {
	return &model.TenantSubscription{
		TenantID:     tenantID,
		Plan:         proPlan(),
		Status:       model.SubscriptionStatusActive,
		StartDate:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		CurrentUsage: map[string]int64{"api_calls": 990},
	}
}

func TestHasFeature(t *testing.T) {
	tenantID := uuid.New()
	gate, _ := newGate(t, activeSub(tenantID))

	ok, err := gate.HasFeature(context.Background(), tenantID, "sso")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = gate.HasFeature(context.Background(), tenantID, "scim")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHasFeatureStatusGating(t *testing.T) {
	tenantID := uuid.New()
	for _, tt := range []struct {
		status model.SubscriptionStatus
		want   bool
	}{
		{model.SubscriptionStatusActive, true},
		{model.SubscriptionStatusTrialing, true},
		{model.SubscriptionStatusPastDue, false},
		{model.SubscriptionStatusCanceled, false},
	} {
		sub := activeSub(tenantID)
		sub.Status = tt.status
		gate, _ := newGate(t, sub)

		ok, err := gate.HasFeature(context.Background(), tenantID, "sso")
		require.NoError(t, err)
		assert.Equal(t, tt.want, ok, "status %s", tt.status)
	}
}

func TestRequireFeature(t *testing.T) {
	tenantID := uuid.New()
	gate, _ := newGate(t, activeSub(tenantID))

	assert.NoError(t, gate.RequireFeature(context.Background(), tenantID, "sso"))

	err := gate.RequireFeature(context.Background(), tenantID, "scim")
	assert.True(t, apperr.IsKind(err, apperr.KindFeatureNotAvailable))
}

func TestNoSubscription(t *testing.T) {
	gate, _ := newGate(t, nil)

	_, err := gate.HasFeature(context.Background(), uuid.New(), "sso")
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
}

func TestWithinQuota(t *testing.T) {
	tenantID := uuid.New()
	gate, _ := newGate(t, activeSub(tenantID))

	ok, err := gate.WithinQuota(context.Background(), tenantID, "api_calls", 10)
	require.NoError(t, err)
	assert.True(t, ok, "990 + 10 == limit")

	ok, err = gate.WithinQuota(context.Background(), tenantID, "api_calls", 11)
	require.NoError(t, err)
	assert.False(t, ok)

	// -1 is unlimited.
	ok, err = gate.WithinQuota(context.Background(), tenantID, "seats", 1_000_000)
	require.NoError(t, err)
	assert.True(t, ok)

	// A resource the plan never names has no budget.
	ok, err = gate.WithinQuota(context.Background(), tenantID, "gpu_hours", 1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConsume(t *testing.T) {
	tenantID := uuid.New()
	gate, subs := newGate(t, activeSub(tenantID))

	require.NoError(t, gate.Consume(context.Background(), tenantID, "api_calls", 10))

	err := gate.Consume(context.Background(), tenantID, "api_calls", 1)
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindQuotaExceeded))

	sub, err := subs.GetByTenant(context.Background(), tenantID)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), sub.CurrentUsage["api_calls"])
}

func TestRecordUsageConcurrent(t *testing.T) {
	tenantID := uuid.New()
	sub := activeSub(tenantID)
	sub.CurrentUsage = map[string]int64{"api_calls": 0}
	gate, subs := newGate(t, sub)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = gate.RecordUsage(context.Background(), tenantID, "api_calls", 1)
		}()
	}
	wg.Wait()

	stored, err := subs.GetByTenant(context.Background(), tenantID)
	require.NoError(t, err)
	assert.Equal(t, int64(50), stored.CurrentUsage["api_calls"])
}
