// internal/billing/ledger/derive_test.go
package ledger

import (
	"testing"
	"time"

	"membership-core/internal/models"

	"github.com/stretchr/testify/assert"
)

func subWithStatus(status models.SubscriptionStatus, periodEnd time.Time) *models.Subscription {
	return &models.Subscription{
		ID:                 "sub-1",
		EntityID:           "org-1",
		EntityKind:         models.EntityOrganisation,
		Tier:               "team",
		Status:             status,
		CurrentPeriodStart: periodEnd.AddDate(0, -1, 0),
		CurrentPeriodEnd:   periodEnd,
	}
}

func TestDerive_AccessByStatus(t *testing.T) {
	now := time.Now()
	future := now.Add(24 * time.Hour)
	past := now.Add(-24 * time.Hour)

	tests := []struct {
		name       string
		sub        *models.Subscription
		wantActive bool
		wantStatus models.SubscriptionStatus
	}{
		{"active grants access", subWithStatus(models.SubscriptionActive, future), true, models.SubscriptionActive},
		{"past_due keeps access during grace", subWithStatus(models.SubscriptionPastDue, past), true, models.SubscriptionPastDue},
		{"suspended blocks", subWithStatus(models.SubscriptionSuspended, future), false, models.SubscriptionSuspended},
		{"inactive blocks", subWithStatus(models.SubscriptionInactive, past), false, models.SubscriptionInactive},
		{"canceled with period remaining grants access", subWithStatus(models.SubscriptionCanceled, future), true, models.SubscriptionCanceled},
		{"canceled past period end blocks and reads as inactive", subWithStatus(models.SubscriptionCanceled, past), false, models.SubscriptionInactive},
		{"no subscription blocks", nil, false, models.SubscriptionInactive},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			view := Derive(tt.sub, now)
			assert.Equal(t, tt.wantActive, view.Active)
			assert.Equal(t, tt.wantStatus, view.Status)
		})
	}
}

func TestDerive_DaysRemaining(t *testing.T) {
	now := time.Now()

	view := Derive(subWithStatus(models.SubscriptionActive, now.Add(10*24*time.Hour+time.Hour)), now)
	assert.Equal(t, 10, view.DaysRemaining)

	view = Derive(subWithStatus(models.SubscriptionSuspended, now.Add(10*24*time.Hour)), now)
	assert.Equal(t, 0, view.DaysRemaining, "blocked subscriptions report zero days")
}
