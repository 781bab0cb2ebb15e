// internal/billing/engine/sweeps_test.go
package engine

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"membership-core/internal/models"
)

func TestSweepPeriodEnds_MovesToPastDueAndOpensInvoice(t *testing.T) {
	e, mock := newTestEngine(t, &stubGateway{})
	sub := activeSub()
	sub.CurrentPeriodEnd = testNow.AddDate(0, 0, -1)

	mock.ExpectQuery(`FROM subscriptions WHERE status = 'active' AND current_period_end <= \$1`).
		WithArgs(testNow).
		WillReturnRows(subRows(sub))
	mock.ExpectExec(`UPDATE subscriptions SET status = 'past_due'`).
		WithArgs("sub-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`FROM invoices\s+WHERE subscription_id = \$1 AND status = 'pending'`).
		WillReturnRows(emptyRows())
	mock.ExpectQuery(`INSERT INTO invoice_sequences`).
		WillReturnRows(sqlmock.NewRows([]string{"last_value"}).AddRow(3))
	mock.ExpectExec(`INSERT INTO invoices`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	res, err := e.SweepPeriodEnds(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Examined)
	assert.Equal(t, 1, res.Applied)
	assert.Zero(t, res.Errors)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSweepPeriodEnds_OverlappingRunSkipsMovedRows(t *testing.T) {
	e, mock := newTestEngine(t, &stubGateway{})
	sub := activeSub()

	// A concurrent run already applied the transition; this run must not
	// open a second invoice.
	mock.ExpectQuery(`FROM subscriptions WHERE status = 'active' AND current_period_end <= \$1`).
		WillReturnRows(subRows(sub))
	mock.ExpectExec(`UPDATE subscriptions SET status = 'past_due'`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	res, err := e.SweepPeriodEnds(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Examined)
	assert.Zero(t, res.Applied)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSweepRetries_ChargesOpenInvoice(t *testing.T) {
	gw := &stubGateway{result: ChargeResult{Success: true, TransactionID: "txn-r"}}
	e, mock := newTestEngine(t, gw)
	sub := activeSub()
	sub.Status = models.SubscriptionPastDue
	sub.PaymentFailedCount = 1
	inv := pendingInvoice()

	mock.ExpectQuery(`FROM subscriptions WHERE status = 'past_due' AND payment_failed_count < \$1`).
		WithArgs(3).
		WillReturnRows(subRows(sub))
	mock.ExpectQuery(`FROM invoices\s+WHERE subscription_id = \$1 AND status = 'pending'`).
		WillReturnRows(invoiceRows(inv))
	expectFindInvoice(mock, inv)
	expectFindSubByID(mock, sub)
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE invoices SET status = 'paid'`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO payment_attempts`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE subscriptions SET\s+status = 'active'`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectQuery(`FROM subscriptions WHERE status = 'past_due' AND payment_failed_count >= \$1`).
		WithArgs(3).
		WillReturnRows(emptyRows())

	res, err := e.SweepRetries(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Applied)
	assert.Equal(t, 1, gw.calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSweepRetries_SuspendsExhaustedSubscriptions(t *testing.T) {
	e, mock := newTestEngine(t, &stubGateway{})
	sub := activeSub()
	sub.Status = models.SubscriptionPastDue
	sub.PaymentFailedCount = 3

	mock.ExpectQuery(`FROM subscriptions WHERE status = 'past_due' AND payment_failed_count < \$1`).
		WillReturnRows(emptyRows())
	mock.ExpectQuery(`FROM subscriptions WHERE status = 'past_due' AND payment_failed_count >= \$1`).
		WillReturnRows(subRows(sub))
	mock.ExpectExec(`UPDATE subscriptions SET status = 'suspended'`).
		WithArgs(testNow, "sub-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	res, err := e.SweepRetries(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Applied)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSweepCancellations_RetiresLapsedCanceled(t *testing.T) {
	e, mock := newTestEngine(t, &stubGateway{})
	sub := activeSub()
	sub.Status = models.SubscriptionCanceled
	sub.CurrentPeriodEnd = testNow.AddDate(0, 0, -1)

	mock.ExpectQuery(`FROM subscriptions WHERE status = 'canceled' AND current_period_end <= \$1`).
		WithArgs(testNow).
		WillReturnRows(subRows(sub))
	mock.ExpectExec(`UPDATE subscriptions SET status = 'inactive'`).
		WithArgs("sub-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	res, err := e.SweepCancellations(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Applied)
	assert.NoError(t, mock.ExpectationsWereMet())
}
