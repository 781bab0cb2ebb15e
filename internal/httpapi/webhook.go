// internal/httpapi/webhook.go
package httpapi

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	commonerrors "membership-core/internal/common/errors"
	"membership-core/internal/models"
)

// gatewayEventSchema constrains what the payment provider may deliver.
// Anything off-shape is rejected before it reaches billing logic.
const gatewayEventSchema = `{
	"type": "object",
	"required": ["eventType", "invoiceId"],
	"additionalProperties": false,
	"properties": {
		"eventType": {
			"type": "string",
			"enum": ["payment.confirmed", "payment.failed"]
		},
		"invoiceId": {"type": "string", "minLength": 1},
		"transactionId": {"type": "string"},
		"reason": {"type": "string"}
	}
}`

type gatewayEvent struct {
	EventType     string `json:"eventType"`
	InvoiceID     string `json:"invoiceId"`
	TransactionID string `json:"transactionId"`
	Reason        string `json:"reason"`
}

// handleGatewayWebhook settles charges the gateway confirms out of band,
// including ones whose synchronous attempt timed out. Redeliveries are
// acknowledged without re-applying: the paid transition happens once.
func (s *Server) handleGatewayWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}
	if err := s.webhooks.Validate(payload); err != nil {
		s.logger.WithError(err).Warn("rejected gateway webhook", nil)
		stdErr := commonerrors.NewWebhookInvalidError(err.Error())
		resp := commonerrors.ToHTTP(stdErr)
		c.JSON(resp.Status, gin.H{"error": resp.Message})
		return
	}

	var ev gatewayEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed payload"})
		return
	}

	switch ev.EventType {
	case "payment.confirmed":
		res, err := s.billing.ConfirmPayment(c.Request.Context(), ev.InvoiceID, ev.TransactionID)
		if err != nil {
			resp := commonerrors.ToHTTP(err)
			c.JSON(resp.Status, gin.H{"error": resp.Message})
			return
		}
		c.JSON(http.StatusOK, gin.H{"outcome": string(res.Outcome)})
	case "payment.failed":
		res, err := s.billing.RecordDecline(c.Request.Context(), ev.InvoiceID, ev.Reason)
		if err != nil {
			resp := commonerrors.ToHTTP(err)
			c.JSON(resp.Status, gin.H{"error": resp.Message})
			return
		}
		body := gin.H{"outcome": string(res.Outcome)}
		if res.Suspended {
			body["subscriptionStatus"] = string(models.SubscriptionSuspended)
		}
		c.JSON(http.StatusOK, body)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown event type"})
	}
}
