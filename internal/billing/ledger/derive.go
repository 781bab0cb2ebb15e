// internal/billing/ledger/derive.go
package ledger

import (
	"time"

	"membership-core/internal/models"
)

// Derive computes the access view for a subscription record at a given
// instant. It is a pure function of the record and the clock: safe to call on
// every request, and the single place the "is access granted" rule lives.
//
// A canceled subscription keeps access until its paid period ends, even if a
// sweep has not yet flipped the stored status to inactive.
func Derive(sub *models.Subscription, now time.Time) models.StatusView {
	if sub == nil {
		return models.StatusView{Active: false, Status: models.SubscriptionInactive}
	}

	active := false
	switch sub.Status {
	case models.SubscriptionActive, models.SubscriptionPastDue:
		active = true
	case models.SubscriptionCanceled:
		active = sub.CurrentPeriodEnd.After(now)
	}

	status := sub.Status
	if sub.Status == models.SubscriptionCanceled && !active {
		status = models.SubscriptionInactive
	}

	days := 0
	if active && sub.CurrentPeriodEnd.After(now) {
		days = int(sub.CurrentPeriodEnd.Sub(now).Hours() / 24)
	}

	return models.StatusView{
		Active:        active,
		Status:        status,
		DaysRemaining: days,
		Subscription:  sub,
	}
}
