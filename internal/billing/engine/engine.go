// internal/billing/engine/engine.go
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"membership-core/internal/billing/ledger"
	"membership-core/internal/common/config"
	commonerrors "membership-core/internal/common/errors"
	"membership-core/internal/common/logger"
	"membership-core/internal/common/metrics"
	"membership-core/internal/models"
	"membership-core/internal/notify"
)

const invoiceColumns = `id, invoice_number, subscription_id, user_count,
	price_per_user_cents, subtotal_cents, tax_cents, total_cents,
	status, invoice_date, due_date, paid_date`

// Engine owns the billing lifecycle: invoice generation, payment collection
// and the subscription transitions that follow each outcome. Every
// success-path write (invoice paid + attempt recorded + status transition)
// happens inside one database transaction.
type Engine struct {
	db      *sql.DB
	ledger  *ledger.Ledger
	gateway Gateway
	seq     MonthlySequence
	events  notify.Dispatcher
	cfg     config.BillingConfig
	logger  logger.Logger
	now     func() time.Time
}

func New(lg *ledger.Ledger, gateway Gateway, events notify.Dispatcher, cfg config.BillingConfig, log logger.Logger) *Engine {
	return &Engine{
		db:      lg.DB(),
		ledger:  lg,
		gateway: NewBoundedGateway(gateway, time.Duration(cfg.GatewayTimeoutMS)*time.Millisecond),
		seq:     PostgresSequence{},
		events:  events,
		cfg:     cfg,
		logger:  log.WithFields(map[string]interface{}{"component": "billing-engine"}),
		now:     time.Now,
	}
}

// WithClock pins the engine's notion of now. Test hook.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// PaymentOutcome of a single collection attempt.
type PaymentOutcome string

const (
	PaymentOutcomeCompleted   PaymentOutcome = "completed"
	PaymentOutcomeDeclined    PaymentOutcome = "declined"
	PaymentOutcomeAmbiguous   PaymentOutcome = "ambiguous"
	PaymentOutcomeAlreadyPaid PaymentOutcome = "already_paid"
)

// PaymentResult reports what a payment run did, including any subscription
// transition it caused.
type PaymentResult struct {
	Outcome       PaymentOutcome
	Invoice       *models.Invoice
	Attempt       *models.PaymentAttempt
	FailureReason string
	Suspended     bool
}

func (e *Engine) taxCents(subtotal int64) int64 {
	return int64(math.Round(float64(subtotal) * e.cfg.TaxRate))
}

// nextPeriod computes the billing period a successful payment buys. Renewal
// of a running or past_due subscription extends from the existing period end
// so the subscriber never loses paid time; reactivation after suspension or
// lapse starts a fresh period from now.
func (e *Engine) nextPeriod(sub *models.Subscription) (start, end time.Time) {
	switch sub.Status {
	case models.SubscriptionActive, models.SubscriptionPastDue:
		start = sub.CurrentPeriodEnd
	default:
		start = e.now()
	}
	return start, start.AddDate(0, e.cfg.CycleMonths, 0)
}

func scanInvoice(row *sql.Row) (*models.Invoice, error) {
	var inv models.Invoice
	err := row.Scan(
		&inv.ID, &inv.InvoiceNumber, &inv.SubscriptionID, &inv.UserCount,
		&inv.PricePerUserCents, &inv.SubtotalCents, &inv.TaxCents, &inv.TotalCents,
		&inv.Status, &inv.InvoiceDate, &inv.DueDate, &inv.PaidDate,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan invoice: %w", err)
	}
	return &inv, nil
}

// FindInvoice loads an invoice by primary key. Nil when absent.
func (e *Engine) FindInvoice(ctx context.Context, invoiceID string) (*models.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE id = $1`
	return scanInvoice(e.db.QueryRowContext(ctx, query, invoiceID))
}

// PendingInvoice returns the open invoice for a subscription, or nil. The
// access gate and the billing page use this to show the outstanding amount;
// it never writes.
func (e *Engine) PendingInvoice(ctx context.Context, subscriptionID string) (*models.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices
		WHERE subscription_id = $1 AND status = 'pending'
		ORDER BY invoice_date DESC LIMIT 1`
	return scanInvoice(e.db.QueryRowContext(ctx, query, subscriptionID))
}

// PendingInvoiceForEntity resolves the entity's subscription first. Nil when
// the entity has no subscription or no open invoice.
func (e *Engine) PendingInvoiceForEntity(ctx context.Context, entityID string) (*models.Invoice, error) {
	sub, err := e.ledger.FindByEntity(ctx, entityID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return e.PendingInvoice(ctx, sub.ID)
}

// CheckAndGenerateInvoice returns the subscription's open invoice, creating
// one if none exists. Calling it twice in a row yields the same invoice;
// the second call creates nothing.
func (e *Engine) CheckAndGenerateInvoice(ctx context.Context, entityID string) (*models.Invoice, error) {
	sub, err := e.ledger.FindByEntity(ctx, entityID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return nil, commonerrors.NewSubscriptionNotFoundError(entityID)
		}
		return nil, err
	}
	return e.generateForSubscription(ctx, sub)
}

func (e *Engine) generateForSubscription(ctx context.Context, sub *models.Subscription) (*models.Invoice, error) {
	if open, err := e.PendingInvoice(ctx, sub.ID); err != nil {
		return nil, err
	} else if open != nil {
		return open, nil
	}

	now := e.now()
	subtotal := int64(sub.Seats) * sub.PricePerUserCents
	tax := e.taxCents(subtotal)
	inv := &models.Invoice{
		ID:                uuid.New().String(),
		SubscriptionID:    sub.ID,
		UserCount:         sub.Seats,
		PricePerUserCents: sub.PricePerUserCents,
		SubtotalCents:     subtotal,
		TaxCents:          tax,
		TotalCents:        subtotal + tax,
		Status:            models.InvoicePending,
		InvoiceDate:       now,
		DueDate:           now.AddDate(0, 0, e.cfg.DueDays),
	}
	if err := inv.CheckTotals(); err != nil {
		return nil, commonerrors.NewInvoiceTotalMismatchError(inv.InvoiceNumber, err.Error())
	}

	seqValue, err := e.seq.Next(ctx, e.db, YearMonth(now))
	if err != nil {
		return nil, err
	}
	inv.InvoiceNumber = FormatInvoiceNumber(now, seqValue)

	query := `INSERT INTO invoices (
		id, invoice_number, subscription_id, user_count,
		price_per_user_cents, subtotal_cents, tax_cents, total_cents,
		status, invoice_date, due_date
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	if _, err := e.db.ExecContext(ctx, query,
		inv.ID, inv.InvoiceNumber, inv.SubscriptionID, inv.UserCount,
		inv.PricePerUserCents, inv.SubtotalCents, inv.TaxCents, inv.TotalCents,
		inv.Status, inv.InvoiceDate, inv.DueDate,
	); err != nil {
		// A concurrent caller won the race to open this cycle's invoice;
		// the partial unique index on pending invoices rejected ours.
		// Return theirs, same as the pending short-circuit above.
		if isUniqueViolation(err) {
			if open, rerr := e.PendingInvoice(ctx, sub.ID); rerr == nil && open != nil {
				return open, nil
			}
		}
		return nil, fmt.Errorf("insert invoice: %w", err)
	}

	metrics.InvoicesGenerated.Inc()
	e.logger.Info("invoice generated", map[string]interface{}{
		"invoiceNumber":  inv.InvoiceNumber,
		"subscriptionId": sub.ID,
		"totalCents":     inv.TotalCents,
	})
	e.events.Dispatch(notify.Event{
		Type:          notify.EventInvoiceIssued,
		EntityID:      sub.EntityID,
		Email:         sub.ContactEmail,
		PhoneNumber:   sub.ContactPhone,
		InvoiceNumber: inv.InvoiceNumber,
		AmountCents:   inv.TotalCents,
		Currency:      e.cfg.Currency,
	})
	return inv, nil
}

// NewSubscription describes the entity being signed up. Contact details are
// stored on the row so notifications and unattended sweeps need no identity
// lookup later.
type NewSubscription struct {
	EntityID          string
	Kind              models.EntityKind
	Tier              string
	Seats             int
	PricePerUserCents int64
	PaymentMethodRef  string
	ContactEmail      string
	ContactPhone      string
}

// CreateSubscription registers a billable entity. The row starts suspended:
// access opens only after the first invoice is paid and the subscription
// activates.
func (e *Engine) CreateSubscription(ctx context.Context, params NewSubscription) (*models.Subscription, error) {
	now := e.now()
	sub := &models.Subscription{
		ID:                 uuid.New().String(),
		EntityID:           params.EntityID,
		EntityKind:         params.Kind,
		Tier:               params.Tier,
		Status:             models.SubscriptionSuspended,
		Seats:              params.Seats,
		PricePerUserCents:  params.PricePerUserCents,
		PaymentMethodRef:   params.PaymentMethodRef,
		ContactEmail:       params.ContactEmail,
		ContactPhone:       params.ContactPhone,
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   now,
		NextBillingDate:    now,
		SuspendedAt:        &now,
	}
	if err := e.ledger.Create(ctx, e.db, sub); err != nil {
		return nil, err
	}
	e.logger.Info("subscription created", map[string]interface{}{
		"subscriptionId": sub.ID,
		"entityId":       params.EntityID,
		"tier":           params.Tier,
	})
	return sub, nil
}

// RecordPayment charges the invoice through the gateway and applies the
// outcome. A confirmed decline burns one retry; a timeout or transport error
// records a failed attempt but never advances the state machine.
func (e *Engine) RecordPayment(ctx context.Context, invoiceID, methodRef string) (*PaymentResult, error) {
	inv, err := e.FindInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if inv == nil {
		return nil, commonerrors.NewQueryExecutionError(fmt.Errorf("invoice %s not found", invoiceID))
	}
	if inv.Status == models.InvoicePaid {
		return &PaymentResult{Outcome: PaymentOutcomeAlreadyPaid, Invoice: inv}, nil
	}

	sub, err := e.ledger.FindByID(ctx, e.db, inv.SubscriptionID)
	if err != nil {
		return nil, err
	}
	if methodRef == "" {
		methodRef = sub.PaymentMethodRef
	}

	res, err := e.gateway.Charge(ctx, inv.TotalCents, e.cfg.Currency, methodRef)
	if err != nil {
		// Ambiguous: the charge may or may not have landed. Record the
		// attempt for the audit trail, count it against the retry budget,
		// but leave invoice and subscription untouched until the gateway
		// confirms via webhook.
		metrics.PaymentAttempts.WithLabelValues("ambiguous").Inc()
		attempt, recErr := e.recordFailedAttempt(ctx, inv, sub, "gateway unavailable: "+err.Error(), methodRef)
		if recErr != nil {
			e.logger.WithError(recErr).Error("failed to record ambiguous attempt", map[string]interface{}{
				"invoiceId": inv.ID,
			})
		}
		return &PaymentResult{Outcome: PaymentOutcomeAmbiguous, Invoice: inv, Attempt: attempt}, err
	}

	if !res.Success {
		metrics.PaymentAttempts.WithLabelValues("failed").Inc()
		attempt, recErr := e.recordFailedAttempt(ctx, inv, sub, res.FailureReason, methodRef)
		if recErr != nil {
			return nil, recErr
		}
		suspended, susErr := e.suspendIfExhausted(ctx, sub)
		if susErr != nil {
			return nil, susErr
		}
		e.events.Dispatch(notify.Event{
			Type:          notify.EventPaymentFailed,
			EntityID:      sub.EntityID,
			Email:         sub.ContactEmail,
			PhoneNumber:   sub.ContactPhone,
			InvoiceNumber: inv.InvoiceNumber,
			AmountCents:   inv.TotalCents,
			Currency:      e.cfg.Currency,
		})
		return &PaymentResult{
			Outcome:       PaymentOutcomeDeclined,
			Invoice:       inv,
			Attempt:       attempt,
			FailureReason: res.FailureReason,
			Suspended:     suspended,
		}, nil
	}

	return e.completePayment(ctx, inv, sub, res.TransactionID, methodRef)
}

// ConfirmPayment applies a gateway-confirmed charge, typically delivered by
// webhook after an ambiguous attempt. Idempotent under redelivery: a second
// confirmation for a paid invoice is a no-op.
func (e *Engine) ConfirmPayment(ctx context.Context, invoiceID, transactionID string) (*PaymentResult, error) {
	inv, err := e.FindInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if inv == nil {
		return nil, commonerrors.NewQueryExecutionError(fmt.Errorf("invoice %s not found", invoiceID))
	}
	if inv.Status == models.InvoicePaid {
		return &PaymentResult{Outcome: PaymentOutcomeAlreadyPaid, Invoice: inv}, nil
	}
	sub, err := e.ledger.FindByID(ctx, e.db, inv.SubscriptionID)
	if err != nil {
		return nil, err
	}
	return e.completePayment(ctx, inv, sub, transactionID, sub.PaymentMethodRef)
}

// completePayment runs the success path in one transaction: mark the invoice
// paid, append the completed attempt, transition the subscription to active
// with its new period. Any failure rolls back all three.
func (e *Engine) completePayment(ctx context.Context, inv *models.Invoice, sub *models.Subscription, transactionID, methodRef string) (*PaymentResult, error) {
	now := e.now()
	start, end := e.nextPeriod(sub)

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin payment tx: %w", err)
	}
	defer tx.Rollback()

	// Guard on pending so a concurrent confirmation of the same invoice
	// settles exactly once.
	res, err := tx.ExecContext(ctx,
		`UPDATE invoices SET status = 'paid', paid_date = $1 WHERE id = $2 AND status = 'pending'`,
		now, inv.ID)
	if err != nil {
		return nil, fmt.Errorf("mark invoice paid: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, err
	} else if n == 0 {
		return &PaymentResult{Outcome: PaymentOutcomeAlreadyPaid, Invoice: inv}, nil
	}

	attempt := &models.PaymentAttempt{
		ID:            uuid.New().String(),
		InvoiceID:     inv.ID,
		AmountCents:   inv.TotalCents,
		Method:        methodRef,
		TransactionID: transactionID,
		Status:        models.PaymentCompleted,
		PaymentDate:   now,
	}
	if err := insertAttempt(ctx, tx, attempt); err != nil {
		return nil, err
	}

	if err := e.ledger.Activate(ctx, tx, sub.ID, sub.Status, start, end, end); err != nil {
		if errors.Is(err, ledger.ErrNotApplied) {
			return nil, commonerrors.NewTransitionConflictError(sub.ID, string(sub.Status), string(models.SubscriptionActive))
		}
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit payment tx: %w", err)
	}

	metrics.PaymentAttempts.WithLabelValues("completed").Inc()
	paid := *inv
	paid.Status = models.InvoicePaid
	paid.PaidDate = &now
	e.logger.Info("payment completed", map[string]interface{}{
		"invoiceNumber":  inv.InvoiceNumber,
		"subscriptionId": sub.ID,
		"transactionId":  transactionID,
	})
	e.events.Dispatch(notify.Event{
		Type:          notify.EventPaymentSucceeded,
		EntityID:      sub.EntityID,
		Email:         sub.ContactEmail,
		PhoneNumber:   sub.ContactPhone,
		InvoiceNumber: inv.InvoiceNumber,
		AmountCents:   inv.TotalCents,
		Currency:      e.cfg.Currency,
	})
	return &PaymentResult{Outcome: PaymentOutcomeCompleted, Invoice: &paid, Attempt: attempt}, nil
}

// RecordDecline applies a gateway-confirmed failure delivered out of band
// (webhook), burning one retry and suspending when the budget is spent.
func (e *Engine) RecordDecline(ctx context.Context, invoiceID, reason string) (*PaymentResult, error) {
	inv, err := e.FindInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if inv == nil {
		return nil, commonerrors.NewQueryExecutionError(fmt.Errorf("invoice %s not found", invoiceID))
	}
	if inv.Status == models.InvoicePaid {
		return &PaymentResult{Outcome: PaymentOutcomeAlreadyPaid, Invoice: inv}, nil
	}
	sub, err := e.ledger.FindByID(ctx, e.db, inv.SubscriptionID)
	if err != nil {
		return nil, err
	}

	metrics.PaymentAttempts.WithLabelValues("failed").Inc()
	attempt, err := e.recordFailedAttempt(ctx, inv, sub, reason, sub.PaymentMethodRef)
	if err != nil {
		return nil, err
	}
	suspended, err := e.suspendIfExhausted(ctx, sub)
	if err != nil {
		return nil, err
	}
	e.events.Dispatch(notify.Event{
		Type:          notify.EventPaymentFailed,
		EntityID:      sub.EntityID,
		Email:         sub.ContactEmail,
		PhoneNumber:   sub.ContactPhone,
		InvoiceNumber: inv.InvoiceNumber,
		AmountCents:   inv.TotalCents,
		Currency:      e.cfg.Currency,
	})
	return &PaymentResult{
		Outcome:       PaymentOutcomeDeclined,
		Invoice:       inv,
		Attempt:       attempt,
		FailureReason: reason,
		Suspended:     suspended,
	}, nil
}

// recordFailedAttempt appends a failed attempt row and bumps the failure
// counter. Attempts are append-only; a retry never rewrites history.
func (e *Engine) recordFailedAttempt(ctx context.Context, inv *models.Invoice, sub *models.Subscription, reason, methodRef string) (*models.PaymentAttempt, error) {
	attempt := &models.PaymentAttempt{
		ID:          uuid.New().String(),
		InvoiceID:   inv.ID,
		AmountCents: inv.TotalCents,
		Method:      methodRef,
		Status:      models.PaymentFailed,
		PaymentDate: e.now(),
	}
	if err := insertAttempt(ctx, e.db, attempt); err != nil {
		return nil, err
	}
	count, err := e.ledger.IncrementPaymentFailures(ctx, e.db, sub.ID)
	if err != nil {
		return attempt, err
	}
	sub.PaymentFailedCount = count
	e.logger.Warn("payment attempt failed", map[string]interface{}{
		"invoiceNumber": inv.InvoiceNumber,
		"failureCount":  count,
		"reason":        reason,
	})
	return attempt, nil
}

// suspendIfExhausted moves a past_due subscription to suspended once the
// retry budget is spent. Safe to race: the guarded transition applies once.
func (e *Engine) suspendIfExhausted(ctx context.Context, sub *models.Subscription) (bool, error) {
	if sub.Status != models.SubscriptionPastDue || sub.PaymentFailedCount < e.cfg.MaxPaymentRetries {
		return false, nil
	}
	err := e.ledger.MarkSuspended(ctx, e.db, sub.ID, e.now())
	if errors.Is(err, ledger.ErrNotApplied) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	e.events.Dispatch(notify.Event{
		Type:        notify.EventSubscriptionSuspended,
		EntityID:    sub.EntityID,
		Email:       sub.ContactEmail,
		PhoneNumber: sub.ContactPhone,
		Currency:    e.cfg.Currency,
	})
	return true, nil
}

// Cancel stops renewal for the entity's subscription. Access survives until
// the paid period ends; the expiry sweep retires the row after that.
func (e *Engine) Cancel(ctx context.Context, entityID string) (*models.Subscription, error) {
	sub, err := e.ledger.FindByEntity(ctx, entityID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return nil, commonerrors.NewSubscriptionNotFoundError(entityID)
		}
		return nil, err
	}
	switch sub.Status {
	case models.SubscriptionActive, models.SubscriptionPastDue, models.SubscriptionSuspended:
	default:
		return nil, commonerrors.NewTransitionConflictError(sub.ID, string(sub.Status), string(models.SubscriptionCanceled))
	}

	now := e.now()
	if err := e.ledger.MarkCanceled(ctx, e.db, sub.ID, sub.Status, now); err != nil {
		if errors.Is(err, ledger.ErrNotApplied) {
			return nil, commonerrors.NewTransitionConflictError(sub.ID, string(sub.Status), string(models.SubscriptionCanceled))
		}
		return nil, err
	}
	sub.Status = models.SubscriptionCanceled
	sub.CanceledAt = &now
	e.events.Dispatch(notify.Event{
		Type:        notify.EventSubscriptionCanceled,
		EntityID:    sub.EntityID,
		Email:       sub.ContactEmail,
		PhoneNumber: sub.ContactPhone,
		Currency:    e.cfg.Currency,
	})
	return sub, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func insertAttempt(ctx context.Context, q ledger.Querier, a *models.PaymentAttempt) error {
	query := `INSERT INTO payment_attempts (
		id, invoice_id, amount_cents, method, transaction_id, status, payment_date
	) VALUES ($1, $2, $3, $4, $5, $6, $7)`
	if _, err := q.ExecContext(ctx, query,
		a.ID, a.InvoiceID, a.AmountCents, a.Method, a.TransactionID, a.Status, a.PaymentDate,
	); err != nil {
		return fmt.Errorf("insert payment attempt: %w", err)
	}
	return nil
}
