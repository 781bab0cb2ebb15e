// Package errors provides standardized error handling for the session and
// billing core.
package errors

import (
	"fmt"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	// Session errors
	ErrCodeSessionStoreTimeout  ErrorCode = "SESSION_STORE_TIMEOUT"
	ErrCodeSessionStoreFailed   ErrorCode = "SESSION_STORE_FAILED"
	ErrCodeSessionRecordFailed  ErrorCode = "SESSION_RECORD_FAILED"
	ErrCodeCredentialInvalid    ErrorCode = "CREDENTIAL_INVALID"

	// Subscription errors
	ErrCodeSubscriptionNotFound    ErrorCode = "SUBSCRIPTION_NOT_FOUND"
	ErrCodeSubscriptionCheckFailed ErrorCode = "SUBSCRIPTION_CHECK_FAILED"
	ErrCodeTransitionConflict      ErrorCode = "TRANSITION_CONFLICT"

	// Billing errors
	ErrCodeInvoiceNotFound       ErrorCode = "INVOICE_NOT_FOUND"
	ErrCodeInvoiceCreateFailed   ErrorCode = "INVOICE_CREATE_FAILED"
	ErrCodeDuplicateInvoiceNum   ErrorCode = "DUPLICATE_INVOICE_NUMBER"
	ErrCodeInvoiceTotalMismatch  ErrorCode = "INVOICE_TOTAL_MISMATCH"
	ErrCodePaymentDeclined       ErrorCode = "PAYMENT_DECLINED"
	ErrCodeGatewayTimeout        ErrorCode = "GATEWAY_TIMEOUT"
	ErrCodeGatewayUnavailable    ErrorCode = "GATEWAY_UNAVAILABLE"

	// Infra errors
	ErrCodeDatabaseConnectionFailed ErrorCode = "DATABASE_CONNECTION_FAILED"
	ErrCodeQueryExecutionFailed     ErrorCode = "QUERY_EXECUTION_FAILED"
	ErrCodeQueryTimeout             ErrorCode = "QUERY_TIMEOUT"

	ErrCodeNotificationSendFailed ErrorCode = "NOTIFICATION_SEND_FAILED"
	ErrCodeWebhookInvalid         ErrorCode = "WEBHOOK_INVALID"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// ==========================
// 2. Error Constructors
// ==========================

// NewSessionStoreError wraps a session-store failure. Callers on the read
// path fail open on this; the login path surfaces it.
func NewSessionStoreError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeSessionStoreFailed,
		Message:   "Session store operation failed",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewSessionRecordError wraps a failure to register a login session.
func NewSessionRecordError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeSessionRecordFailed,
		Message:   "Failed to record login session",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewCredentialInvalidError covers rejected or disabled credentials. Never
// retryable and never detailed to the client.
func NewCredentialInvalidError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeCredentialInvalid,
		Message:   "Invalid credentials",
		Details:   err.Error(),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewSubscriptionNotFoundError creates a non-retryable lookup error.
func NewSubscriptionNotFoundError(entityID string) *StandardError {
	return &StandardError{
		Code:      ErrCodeSubscriptionNotFound,
		Message:   "No subscription for billable entity",
		Details:   entityID,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewSubscriptionCheckFailedError wraps a transient ledger read failure.
func NewSubscriptionCheckFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeSubscriptionCheckFailed,
		Message:   "Subscription status check failed",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewTransitionConflictError reports a guarded transition whose expected
// "from" status no longer matched at write time. Not a failure for sweeps:
// a concurrent run already applied the transition.
func NewTransitionConflictError(subscriptionID string, from, to string) *StandardError {
	return &StandardError{
		Code:      ErrCodeTransitionConflict,
		Message:   "Subscription status changed under us",
		Details:   fmt.Sprintf("subscription %s: %s -> %s not applied", subscriptionID, from, to),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewInvoiceTotalMismatchError reports a broken invoice invariant. This is a
// programming or data error and must abort the enclosing transaction.
func NewInvoiceTotalMismatchError(invoiceNumber string, details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvoiceTotalMismatch,
		Message:   "Invoice total does not equal subtotal plus tax",
		Details:   fmt.Sprintf("invoice %s: %s", invoiceNumber, details),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewPaymentDeclinedError creates a non-retryable-within-the-call declined
// payment error; the retry sweep owns re-attempts.
func NewPaymentDeclinedError(reason string) *StandardError {
	return &StandardError{
		Code:      ErrCodePaymentDeclined,
		Message:   "Payment was declined by the gateway",
		Details:   reason,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewGatewayTimeoutError creates a gateway timeout error. An ambiguous or
// timed-out charge never advances the subscription state machine.
func NewGatewayTimeoutError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeGatewayTimeout,
		Message:   "Payment gateway timed out",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

func NewGatewayUnavailableError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeGatewayUnavailable,
		Message:   "Payment gateway unavailable",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

func NewQueryExecutionError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeQueryExecutionFailed,
		Message:   "Database query failed",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

func NewWebhookInvalidError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeWebhookInvalid,
		Message:   "Webhook payload failed validation",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

func NewNotificationSendError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeNotificationSendFailed,
		Message:   "Notification dispatch failed",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// ==========================
// 3. Utility Functions
// ==========================

// GetRetryCount returns the recommended retry count for transient codes.
func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeSubscriptionCheckFailed,
		ErrCodeDatabaseConnectionFailed,
		ErrCodeQueryExecutionFailed,
		ErrCodeSessionStoreFailed,
		ErrCodeNotificationSendFailed:
		return 3

	case ErrCodeQueryTimeout,
		ErrCodeSessionStoreTimeout,
		ErrCodeGatewayTimeout,
		ErrCodeGatewayUnavailable:
		return 2

	default:
		return 0 // business outcomes: no retry
	}
}

// IsRetryableErrorCode checks if an error code is retryable.
func IsRetryableErrorCode(code ErrorCode) bool {
	return GetRetryCount(code) > 0
}

// GetErrorCategory returns the category of the error code.
func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.Contains(codeStr, "SESSION") || strings.Contains(codeStr, "CREDENTIAL"):
		return "SESSION"
	case strings.Contains(codeStr, "SUBSCRIPTION") || strings.Contains(codeStr, "TRANSITION"):
		return "SUBSCRIPTION"
	case strings.Contains(codeStr, "INVOICE") || strings.Contains(codeStr, "PAYMENT") || strings.Contains(codeStr, "GATEWAY"):
		return "BILLING"
	case strings.Contains(codeStr, "DATABASE") || strings.Contains(codeStr, "QUERY"):
		return "DATABASE"
	case strings.Contains(codeStr, "NOTIFICATION"):
		return "NOTIFICATION"
	case strings.Contains(codeStr, "WEBHOOK"):
		return "WEBHOOK"
	default:
		return "GENERAL"
	}
}

// AsStandardError normalizes any error to a StandardError.
func AsStandardError(err error) *StandardError {
	if stdErr, ok := err.(*StandardError); ok {
		return stdErr
	}
	return &StandardError{
		Code:      "INTERNAL_ERROR",
		Message:   "Unexpected error",
		Details:   err.Error(),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}
