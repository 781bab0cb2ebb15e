// internal/billing/ledger/postgres.go
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"membership-core/internal/common/metrics"
	"membership-core/internal/models"
)

var (
	// ErrNotFound means no subscription row exists for the entity.
	ErrNotFound = errors.New("subscription not found")
	// ErrNotApplied means a guarded transition matched zero rows: the stored
	// status no longer equals the expected "from" state. Overlapping sweeps
	// hit this routinely; it means the work is already done.
	ErrNotApplied = errors.New("transition not applied")
)

// Querier is satisfied by *sql.DB and *sql.Tx, so guarded transitions can run
// standalone or inside the billing engine's transactions.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

const subscriptionColumns = `id, entity_id, entity_kind, tier, status,
	seats, price_per_user_cents, payment_method_ref,
	contact_email, contact_phone,
	current_period_start, current_period_end, next_billing_date,
	payment_failed_count, activated_at, canceled_at, suspended_at,
	created_at, updated_at`

// Ledger is the Postgres-backed subscription state machine. Every write is
// guarded by the expected current status, so concurrent sweeps and webhook
// deliveries cannot double-apply a transition.
type Ledger struct {
	db *sql.DB
}

func New(db *sql.DB) *Ledger {
	return &Ledger{db: db}
}

// DB exposes the underlying handle for the billing engine's transactions.
func (l *Ledger) DB() *sql.DB {
	return l.db
}

func scanSubscription(row *sql.Row) (*models.Subscription, error) {
	var sub models.Subscription
	err := row.Scan(
		&sub.ID, &sub.EntityID, &sub.EntityKind, &sub.Tier, &sub.Status,
		&sub.Seats, &sub.PricePerUserCents, &sub.PaymentMethodRef,
		&sub.ContactEmail, &sub.ContactPhone,
		&sub.CurrentPeriodStart, &sub.CurrentPeriodEnd, &sub.NextBillingDate,
		&sub.PaymentFailedCount, &sub.ActivatedAt, &sub.CanceledAt, &sub.SuspendedAt,
		&sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan subscription: %w", err)
	}
	return &sub, nil
}

// FindByEntity returns the current subscription for a billable entity.
// Historical rows are retained; the newest one is authoritative.
func (l *Ledger) FindByEntity(ctx context.Context, entityID string) (*models.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + `
		FROM subscriptions WHERE entity_id = $1
		ORDER BY created_at DESC LIMIT 1`
	return scanSubscription(l.db.QueryRowContext(ctx, query, entityID))
}

// FindByID returns a subscription by primary key.
func (l *Ledger) FindByID(ctx context.Context, q Querier, id string) (*models.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE id = $1`
	return scanSubscription(q.QueryRowContext(ctx, query, id))
}

// Create inserts a new subscription row.
func (l *Ledger) Create(ctx context.Context, q Querier, sub *models.Subscription) error {
	query := `INSERT INTO subscriptions (
		id, entity_id, entity_kind, tier, status,
		seats, price_per_user_cents, payment_method_ref,
		contact_email, contact_phone,
		current_period_start, current_period_end, next_billing_date,
		payment_failed_count, activated_at, created_at, updated_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, NOW(), NOW())`
	_, err := q.ExecContext(ctx, query,
		sub.ID, sub.EntityID, sub.EntityKind, sub.Tier, sub.Status,
		sub.Seats, sub.PricePerUserCents, sub.PaymentMethodRef,
		sub.ContactEmail, sub.ContactPhone,
		sub.CurrentPeriodStart, sub.CurrentPeriodEnd, sub.NextBillingDate,
		sub.PaymentFailedCount, sub.ActivatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert subscription: %w", err)
	}
	return nil
}

// GetStatus is the read contract the access gate and UI consume. Pure
// derivation over the stored record plus wall-clock time; no side effects.
func (l *Ledger) GetStatus(ctx context.Context, entityID string) (models.StatusView, error) {
	sub, err := l.FindByEntity(ctx, entityID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return models.StatusView{Active: false, Status: models.SubscriptionInactive}, nil
		}
		return models.StatusView{}, err
	}
	return Derive(sub, time.Now()), nil
}

func (l *Ledger) applyGuarded(ctx context.Context, q Querier, query string, from, to models.SubscriptionStatus, args ...interface{}) error {
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("transition %s -> %s: %w", from, to, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("transition %s -> %s: %w", from, to, err)
	}
	if n == 0 {
		return ErrNotApplied
	}
	metrics.SubscriptionTransitions.WithLabelValues(string(from), string(to)).Inc()
	return nil
}

// Activate moves a subscription to active with a fresh period, clearing the
// failure counter and any suspension. Used for first activation, renewal from
// past_due, and reactivation from suspended or inactive.
func (l *Ledger) Activate(ctx context.Context, q Querier, subID string, from models.SubscriptionStatus, periodStart, periodEnd, nextBilling time.Time) error {
	query := `UPDATE subscriptions SET
		status = 'active',
		current_period_start = $1,
		current_period_end = $2,
		next_billing_date = $3,
		payment_failed_count = 0,
		suspended_at = NULL,
		activated_at = COALESCE(activated_at, NOW()),
		updated_at = NOW()
		WHERE id = $4 AND status = $5`
	return l.applyGuarded(ctx, q, query, from, models.SubscriptionActive,
		periodStart, periodEnd, nextBilling, subID, from)
}

// MarkPastDue flags an active subscription whose period ended without a
// successful payment.
func (l *Ledger) MarkPastDue(ctx context.Context, q Querier, subID string) error {
	query := `UPDATE subscriptions SET status = 'past_due', updated_at = NOW()
		WHERE id = $1 AND status = 'active' AND current_period_end <= NOW()`
	return l.applyGuarded(ctx, q, query, models.SubscriptionActive, models.SubscriptionPastDue, subID)
}

// MarkSuspended suspends a past_due subscription after retries are exhausted.
func (l *Ledger) MarkSuspended(ctx context.Context, q Querier, subID string, at time.Time) error {
	query := `UPDATE subscriptions SET status = 'suspended', suspended_at = $1, updated_at = NOW()
		WHERE id = $2 AND status = 'past_due'`
	return l.applyGuarded(ctx, q, query, models.SubscriptionPastDue, models.SubscriptionSuspended, at, subID)
}

// MarkCanceled cancels from active, past_due or suspended. Access remains
// valid until the period end; the derivation handles that.
func (l *Ledger) MarkCanceled(ctx context.Context, q Querier, subID string, from models.SubscriptionStatus, at time.Time) error {
	query := `UPDATE subscriptions SET status = 'canceled', canceled_at = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3`
	return l.applyGuarded(ctx, q, query, from, models.SubscriptionCanceled, at, subID, from)
}

// MarkInactive retires a canceled subscription whose period has passed.
// Terminal: restoring access requires a new subscription or reactivation
// payment.
func (l *Ledger) MarkInactive(ctx context.Context, q Querier, subID string) error {
	query := `UPDATE subscriptions SET status = 'inactive', updated_at = NOW()
		WHERE id = $1 AND status = 'canceled' AND current_period_end <= NOW()`
	return l.applyGuarded(ctx, q, query, models.SubscriptionCanceled, models.SubscriptionInactive, subID)
}

// IncrementPaymentFailures bumps the failure counter after a confirmed
// payment-attempt failure and returns the new count.
func (l *Ledger) IncrementPaymentFailures(ctx context.Context, q Querier, subID string) (int, error) {
	query := `UPDATE subscriptions SET payment_failed_count = payment_failed_count + 1, updated_at = NOW()
		WHERE id = $1 RETURNING payment_failed_count`
	var count int
	if err := q.QueryRowContext(ctx, query, subID).Scan(&count); err != nil {
		return 0, fmt.Errorf("increment payment failures: %w", err)
	}
	return count, nil
}

// DueForRenewal lists active subscriptions whose period has ended.
func (l *Ledger) DueForRenewal(ctx context.Context, now time.Time) ([]models.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + `
		FROM subscriptions WHERE status = 'active' AND current_period_end <= $1`
	return l.list(ctx, query, now)
}

// DueForRetry lists past_due subscriptions still under the retry budget.
func (l *Ledger) DueForRetry(ctx context.Context, maxRetries int) ([]models.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + `
		FROM subscriptions WHERE status = 'past_due' AND payment_failed_count < $1`
	return l.list(ctx, query, maxRetries)
}

// DueForSuspension lists past_due subscriptions whose retry budget is spent.
func (l *Ledger) DueForSuspension(ctx context.Context, maxRetries int) ([]models.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + `
		FROM subscriptions WHERE status = 'past_due' AND payment_failed_count >= $1`
	return l.list(ctx, query, maxRetries)
}

// DueForExpiry lists canceled subscriptions whose paid period has passed.
func (l *Ledger) DueForExpiry(ctx context.Context, now time.Time) ([]models.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + `
		FROM subscriptions WHERE status = 'canceled' AND current_period_end <= $1`
	return l.list(ctx, query, now)
}

func (l *Ledger) list(ctx context.Context, query string, args ...interface{}) ([]models.Subscription, error) {
	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []models.Subscription
	for rows.Next() {
		var sub models.Subscription
		if err := rows.Scan(
			&sub.ID, &sub.EntityID, &sub.EntityKind, &sub.Tier, &sub.Status,
			&sub.Seats, &sub.PricePerUserCents, &sub.PaymentMethodRef,
			&sub.CurrentPeriodStart, &sub.CurrentPeriodEnd, &sub.NextBillingDate,
			&sub.PaymentFailedCount, &sub.ActivatedAt, &sub.CanceledAt, &sub.SuspendedAt,
			&sub.CreatedAt, &sub.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}
