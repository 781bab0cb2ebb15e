// internal/billing/ledger/postgres_test.go
package ledger

import (
	"context"
	"testing"
	"time"

	"membership-core/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func subscriptionRows(sub models.Subscription) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "entity_id", "entity_kind", "tier", "status",
		"seats", "price_per_user_cents", "payment_method_ref",
		"contact_email", "contact_phone",
		"current_period_start", "current_period_end", "next_billing_date",
		"payment_failed_count", "activated_at", "canceled_at", "suspended_at",
		"created_at", "updated_at",
	}).AddRow(
		sub.ID, sub.EntityID, sub.EntityKind, sub.Tier, sub.Status,
		sub.Seats, sub.PricePerUserCents, sub.PaymentMethodRef,
		sub.ContactEmail, sub.ContactPhone,
		sub.CurrentPeriodStart, sub.CurrentPeriodEnd, sub.NextBillingDate,
		sub.PaymentFailedCount, sub.ActivatedAt, sub.CanceledAt, sub.SuspendedAt,
		sub.CreatedAt, sub.UpdatedAt,
	)
}

func testSubscription() models.Subscription {
	now := time.Now()
	return models.Subscription{
		ID:                 "sub-1",
		EntityID:           "org-1",
		EntityKind:         models.EntityOrganisation,
		Tier:               "team",
		Status:             models.SubscriptionActive,
		Seats:              5,
		PricePerUserCents:  1000,
		PaymentMethodRef:   "pm_test",
		ContactEmail:       "billing@org-1.example",
		ContactPhone:       "+15550100",
		CurrentPeriodStart: now.AddDate(0, -1, 0),
		CurrentPeriodEnd:   now.AddDate(0, 0, 10),
		NextBillingDate:    now.AddDate(0, 0, 10),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

func TestFindByEntity(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	sub := testSubscription()
	mock.ExpectQuery(`SELECT (.+) FROM subscriptions WHERE entity_id = \$1`).
		WithArgs("org-1").
		WillReturnRows(subscriptionRows(sub))

	l := New(db)
	got, err := l.FindByEntity(context.Background(), "org-1")
	require.NoError(t, err)
	assert.Equal(t, "sub-1", got.ID)
	assert.Equal(t, models.SubscriptionActive, got.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindByEntity_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT (.+) FROM subscriptions WHERE entity_id = \$1`).
		WithArgs("org-missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	l := New(db)
	_, err = l.FindByEntity(context.Background(), "org-missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetStatus_NoSubscriptionMeansInactive(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT (.+) FROM subscriptions WHERE entity_id = \$1`).
		WithArgs("org-none").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	l := New(db)
	view, err := l.GetStatus(context.Background(), "org-none")
	require.NoError(t, err)
	assert.False(t, view.Active)
	assert.Equal(t, models.SubscriptionInactive, view.Status)
}

func TestActivate_GuardedByFromStatus(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	start := time.Now()
	end := start.AddDate(0, 1, 0)

	mock.ExpectExec(`UPDATE subscriptions SET\s+status = 'active'`).
		WithArgs(start, end, end, "sub-1", string(models.SubscriptionPastDue)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	l := New(db)
	err = l.Activate(context.Background(), db, "sub-1", models.SubscriptionPastDue, start, end, end)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestActivate_NotAppliedWhenStatusMoved(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	start := time.Now()
	end := start.AddDate(0, 1, 0)

	mock.ExpectExec(`UPDATE subscriptions SET\s+status = 'active'`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	l := New(db)
	err = l.Activate(context.Background(), db, "sub-1", models.SubscriptionSuspended, start, end, end)
	assert.ErrorIs(t, err, ErrNotApplied)
}

func TestMarkSuspended_OnlyFromPastDue(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	at := time.Now()
	mock.ExpectExec(`UPDATE subscriptions SET status = 'suspended'`).
		WithArgs(at, "sub-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	l := New(db)
	require.NoError(t, l.MarkSuspended(context.Background(), db, "sub-1", at))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIncrementPaymentFailures(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`UPDATE subscriptions SET payment_failed_count = payment_failed_count \+ 1`).
		WithArgs("sub-1").
		WillReturnRows(sqlmock.NewRows([]string{"payment_failed_count"}).AddRow(3))

	l := New(db)
	count, err := l.IncrementPaymentFailures(context.Background(), db, "sub-1")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestDueForRenewal(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	sub := testSubscription()
	mock.ExpectQuery(`SELECT (.+) FROM subscriptions WHERE status = 'active' AND current_period_end <= \$1`).
		WillReturnRows(subscriptionRows(sub))

	l := New(db)
	subs, err := l.DueForRenewal(context.Background(), time.Now())
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "sub-1", subs[0].ID)
}
