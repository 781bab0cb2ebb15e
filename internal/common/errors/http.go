// internal/common/errors/http.go
package errors

import "net/http"

// HTTPResponse is the sanitized shape returned to clients. Internal details
// never leave the process; they go to the logs instead.
type HTTPResponse struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ToHTTP maps an error to a client-safe status and body.
func ToHTTP(err error) HTTPResponse {
	stdErr := AsStandardError(err)

	switch stdErr.Code {
	case ErrCodeCredentialInvalid:
		return HTTPResponse{Status: http.StatusUnauthorized, Code: string(stdErr.Code), Message: "Please log in again"}
	case ErrCodeSubscriptionNotFound, ErrCodeInvoiceNotFound:
		return HTTPResponse{Status: http.StatusNotFound, Code: string(stdErr.Code), Message: stdErr.Message}
	case ErrCodePaymentDeclined:
		return HTTPResponse{Status: http.StatusPaymentRequired, Code: string(stdErr.Code), Message: stdErr.Message}
	case ErrCodeWebhookInvalid:
		return HTTPResponse{Status: http.StatusBadRequest, Code: string(stdErr.Code), Message: stdErr.Message}
	case ErrCodeTransitionConflict:
		return HTTPResponse{Status: http.StatusConflict, Code: string(stdErr.Code), Message: stdErr.Message}
	case ErrCodeGatewayTimeout, ErrCodeGatewayUnavailable:
		return HTTPResponse{Status: http.StatusServiceUnavailable, Code: string(stdErr.Code), Message: "Payment provider is unavailable, please retry"}
	default:
		return HTTPResponse{Status: http.StatusInternalServerError, Code: "INTERNAL_ERROR", Message: "Something went wrong"}
	}
}
