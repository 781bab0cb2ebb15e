package models

import "time"

// EntityKind distinguishes what a subscription is attached to: a multi-user
// organisation tier or an individually billed user.
type EntityKind string

const (
	EntityOrganisation EntityKind = "organisation"
	EntityIndividual   EntityKind = "individual"
)

// SubscriptionStatus is the subscription state machine's current state.
type SubscriptionStatus string

const (
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionPastDue   SubscriptionStatus = "past_due"
	SubscriptionSuspended SubscriptionStatus = "suspended"
	SubscriptionCanceled  SubscriptionStatus = "canceled"
	SubscriptionInactive  SubscriptionStatus = "inactive"
)

// Subscription is the durable per-entity billing record. Transitions are
// driven exclusively by the billing engine; request handlers only read it.
type Subscription struct {
	ID                 string             `json:"id" db:"id"`
	EntityID           string             `json:"entityId" db:"entity_id"`
	EntityKind         EntityKind         `json:"entityKind" db:"entity_kind"`
	Tier               string             `json:"tier" db:"tier"`
	Status             SubscriptionStatus `json:"status" db:"status"`
	Seats              int                `json:"seats" db:"seats"`
	PricePerUserCents  int64              `json:"pricePerUserCents" db:"price_per_user_cents"`
	PaymentMethodRef   string             `json:"-" db:"payment_method_ref"`
	ContactEmail       string             `json:"contactEmail,omitempty" db:"contact_email"`
	ContactPhone       string             `json:"contactPhone,omitempty" db:"contact_phone"`
	CurrentPeriodStart time.Time          `json:"currentPeriodStart" db:"current_period_start"`
	CurrentPeriodEnd   time.Time          `json:"currentPeriodEnd" db:"current_period_end"`
	NextBillingDate    time.Time          `json:"nextBillingDate" db:"next_billing_date"`
	PaymentFailedCount int                `json:"paymentFailedCount" db:"payment_failed_count"`
	ActivatedAt        *time.Time         `json:"activatedAt,omitempty" db:"activated_at"`
	CanceledAt         *time.Time         `json:"canceledAt,omitempty" db:"canceled_at"`
	SuspendedAt        *time.Time         `json:"suspendedAt,omitempty" db:"suspended_at"`
	CreatedAt          time.Time          `json:"createdAt" db:"created_at"`
	UpdatedAt          time.Time          `json:"updatedAt" db:"updated_at"`
}

// StatusView is the single read contract the access gate and UI consume.
// It is derived from the stored record plus wall-clock time, never cached.
type StatusView struct {
	Active        bool               `json:"active"`
	Status        SubscriptionStatus `json:"status"`
	DaysRemaining int                `json:"daysRemaining"`
	Subscription  *Subscription      `json:"subscription,omitempty"`
}
