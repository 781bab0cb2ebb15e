// internal/billing/engine/sweeps.go
package engine

import (
	"context"
	"errors"

	"membership-core/internal/billing/ledger"
	"membership-core/internal/common/metrics"
)

// SweepResult tallies one scheduler pass.
type SweepResult struct {
	Examined int
	Applied  int
	Errors   int
}

func (e *Engine) recordSweep(name string, res SweepResult, err error) {
	outcome := "ok"
	if err != nil || res.Errors > 0 {
		outcome = "error"
	}
	metrics.SweepRuns.WithLabelValues(name, outcome).Inc()
	e.logger.Info("sweep finished", map[string]interface{}{
		"sweep":    name,
		"examined": res.Examined,
		"applied":  res.Applied,
		"errors":   res.Errors,
	})
}

// SweepPeriodEnds moves active subscriptions whose period has lapsed to
// past_due and opens their renewal invoice. Overlapping runs are harmless:
// the guarded transition applies once and invoice generation is idempotent.
func (e *Engine) SweepPeriodEnds(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	subs, err := e.ledger.DueForRenewal(ctx, e.now())
	if err != nil {
		e.recordSweep("period_ends", res, err)
		return res, err
	}

	for i := range subs {
		sub := &subs[i]
		res.Examined++

		if err := e.ledger.MarkPastDue(ctx, e.db, sub.ID); err != nil {
			if errors.Is(err, ledger.ErrNotApplied) {
				continue
			}
			res.Errors++
			e.logger.WithError(err).Error("period-end transition failed", map[string]interface{}{
				"subscriptionId": sub.ID,
			})
			continue
		}
		res.Applied++

		if _, err := e.generateForSubscription(ctx, sub); err != nil {
			res.Errors++
			e.logger.WithError(err).Error("renewal invoice failed", map[string]interface{}{
				"subscriptionId": sub.ID,
			})
		}
	}

	e.recordSweep("period_ends", res, nil)
	return res, nil
}

// SweepRetries re-charges open invoices of past_due subscriptions using the
// stored payment method, then suspends any subscription whose retry budget
// is already spent. Ambiguous gateway answers leave the subscription where
// it is; a later run or a webhook settles them.
func (e *Engine) SweepRetries(ctx context.Context) (SweepResult, error) {
	var res SweepResult

	subs, err := e.ledger.DueForRetry(ctx, e.cfg.MaxPaymentRetries)
	if err != nil {
		e.recordSweep("retries", res, err)
		return res, err
	}
	for i := range subs {
		sub := &subs[i]
		res.Examined++

		inv, err := e.generateForSubscription(ctx, sub)
		if err != nil {
			res.Errors++
			continue
		}
		pay, err := e.RecordPayment(ctx, inv.ID, sub.PaymentMethodRef)
		if err != nil {
			// Ambiguous outcome; nothing advanced, retry next run.
			continue
		}
		if pay.Outcome == PaymentOutcomeCompleted {
			res.Applied++
		}
	}

	exhausted, err := e.ledger.DueForSuspension(ctx, e.cfg.MaxPaymentRetries)
	if err != nil {
		e.recordSweep("retries", res, err)
		return res, err
	}
	for i := range exhausted {
		sub := &exhausted[i]
		res.Examined++
		if _, err := e.suspendIfExhausted(ctx, sub); err != nil {
			res.Errors++
			continue
		}
		res.Applied++
	}

	e.recordSweep("retries", res, nil)
	return res, nil
}

// SweepCancellations retires canceled subscriptions whose paid period has
// passed. Terminal transition; reactivation needs a fresh payment.
func (e *Engine) SweepCancellations(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	subs, err := e.ledger.DueForExpiry(ctx, e.now())
	if err != nil {
		e.recordSweep("cancellations", res, err)
		return res, err
	}

	for i := range subs {
		res.Examined++
		if err := e.ledger.MarkInactive(ctx, e.db, subs[i].ID); err != nil {
			if errors.Is(err, ledger.ErrNotApplied) {
				continue
			}
			res.Errors++
			continue
		}
		res.Applied++
	}

	e.recordSweep("cancellations", res, nil)
	return res, nil
}
