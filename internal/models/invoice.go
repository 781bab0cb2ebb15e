package models

import (
	"fmt"
	"time"
)

// InvoiceStatus of a billing invoice.
type InvoiceStatus string

const (
	InvoicePending InvoiceStatus = "pending"
	InvoicePaid    InvoiceStatus = "paid"
	InvoiceFailed  InvoiceStatus = "failed"
)

// Invoice is a billing-cycle charge. All money amounts are integer cents so
// totals are exact; TotalCents must always equal SubtotalCents + TaxCents.
type Invoice struct {
	ID                string        `json:"id" db:"id"`
	InvoiceNumber     string        `json:"invoiceNumber" db:"invoice_number"`
	SubscriptionID    string        `json:"subscriptionId" db:"subscription_id"`
	UserCount         int           `json:"userCount" db:"user_count"`
	PricePerUserCents int64         `json:"pricePerUserCents" db:"price_per_user_cents"`
	SubtotalCents     int64         `json:"subtotalCents" db:"subtotal_cents"`
	TaxCents          int64         `json:"taxCents" db:"tax_cents"`
	TotalCents        int64         `json:"totalCents" db:"total_cents"`
	Status            InvoiceStatus `json:"status" db:"status"`
	InvoiceDate       time.Time     `json:"invoiceDate" db:"invoice_date"`
	DueDate           time.Time     `json:"dueDate" db:"due_date"`
	PaidDate          *time.Time    `json:"paidDate,omitempty" db:"paid_date"`
}

// CheckTotals verifies the invoice money invariants.
func (i *Invoice) CheckTotals() error {
	if i.SubtotalCents != int64(i.UserCount)*i.PricePerUserCents {
		return fmt.Errorf("subtotal %d != userCount %d * pricePerUser %d",
			i.SubtotalCents, i.UserCount, i.PricePerUserCents)
	}
	if i.TotalCents != i.SubtotalCents+i.TaxCents {
		return fmt.Errorf("total %d != subtotal %d + tax %d",
			i.TotalCents, i.SubtotalCents, i.TaxCents)
	}
	return nil
}

// PaymentStatus of a single payment attempt.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
)

// PaymentAttempt rows are append-only; retries never overwrite a prior
// failed attempt, and at most one attempt per invoice reaches completed.
type PaymentAttempt struct {
	ID            string        `json:"id" db:"id"`
	InvoiceID     string        `json:"invoiceId" db:"invoice_id"`
	AmountCents   int64         `json:"amountCents" db:"amount_cents"`
	Method        string        `json:"method" db:"method"`
	TransactionID string        `json:"transactionId" db:"transaction_id"`
	Status        PaymentStatus `json:"status" db:"status"`
	PaymentDate   time.Time     `json:"paymentDate" db:"payment_date"`
}
