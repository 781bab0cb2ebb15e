// internal/httpapi/billing_handlers.go
package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"membership-core/internal/billing/engine"
	commonerrors "membership-core/internal/common/errors"
	"membership-core/internal/gate"
	"membership-core/internal/models"
)

func (s *Server) billingEntity(c *gin.Context) (string, bool) {
	entityID := c.GetString(gate.CtxEntityID)
	if entityID == "" {
		c.JSON(http.StatusForbidden, gin.H{"error": "no billable entity for this account"})
		return "", false
	}
	return entityID, true
}

func invoiceJSON(inv *models.Invoice) gin.H {
	return gin.H{
		"id":            inv.ID,
		"invoiceNumber": inv.InvoiceNumber,
		"userCount":     inv.UserCount,
		"subtotalCents": inv.SubtotalCents,
		"taxCents":      inv.TaxCents,
		"totalCents":    inv.TotalCents,
		"status":        string(inv.Status),
		"invoiceDate":   inv.InvoiceDate,
		"dueDate":       inv.DueDate,
	}
}

// handleBillingStatus reports derived standing plus any outstanding invoice.
func (s *Server) handleBillingStatus(c *gin.Context) {
	entityID, ok := s.billingEntity(c)
	if !ok {
		return
	}

	view, err := s.ledger.GetStatus(c.Request.Context(), entityID)
	if err != nil {
		resp := commonerrors.ToHTTP(err)
		c.JSON(resp.Status, gin.H{"error": resp.Message})
		return
	}

	body := gin.H{
		"active":        view.Active,
		"status":        string(view.Status),
		"daysRemaining": view.DaysRemaining,
	}
	if inv, err := s.billing.PendingInvoiceForEntity(c.Request.Context(), entityID); err == nil && inv != nil {
		body["outstanding"] = invoiceJSON(inv)
	}
	c.JSON(http.StatusOK, body)
}

// handleGenerateInvoice opens the entity's invoice for the current cycle.
// Safe to call repeatedly; an open invoice is returned as-is.
func (s *Server) handleGenerateInvoice(c *gin.Context) {
	entityID, ok := s.billingEntity(c)
	if !ok {
		return
	}

	inv, err := s.billing.CheckAndGenerateInvoice(c.Request.Context(), entityID)
	if err != nil {
		resp := commonerrors.ToHTTP(err)
		c.JSON(resp.Status, gin.H{"error": resp.Message})
		return
	}
	c.JSON(http.StatusOK, invoiceJSON(inv))
}

type payRequest struct {
	InvoiceID        string `json:"invoiceId" binding:"required"`
	PaymentMethodRef string `json:"paymentMethodRef"`
}

// handlePay charges the invoice synchronously. Declines come back as 402;
// an ambiguous gateway answer is a 502 the client may safely retry, since
// nothing advanced.
func (s *Server) handlePay(c *gin.Context) {
	var req payRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	res, err := s.billing.RecordPayment(c.Request.Context(), req.InvoiceID, req.PaymentMethodRef)
	if err != nil {
		resp := commonerrors.ToHTTP(err)
		c.JSON(resp.Status, gin.H{"error": resp.Message})
		return
	}

	switch res.Outcome {
	case engine.PaymentOutcomeCompleted, engine.PaymentOutcomeAlreadyPaid:
		c.JSON(http.StatusOK, gin.H{
			"outcome": string(res.Outcome),
			"invoice": invoiceJSON(res.Invoice),
		})
	case engine.PaymentOutcomeDeclined:
		body := gin.H{
			"outcome": "declined",
			"reason":  res.FailureReason,
		}
		if res.Suspended {
			body["subscriptionStatus"] = string(models.SubscriptionSuspended)
		}
		c.JSON(http.StatusPaymentRequired, body)
	default:
		c.JSON(http.StatusBadGateway, gin.H{"outcome": "pending", "error": "payment provider unavailable"})
	}
}

// handleCancel stops renewal. Access holds until the period end.
func (s *Server) handleCancel(c *gin.Context) {
	entityID, ok := s.billingEntity(c)
	if !ok {
		return
	}

	sub, err := s.billing.Cancel(c.Request.Context(), entityID)
	if err != nil {
		resp := commonerrors.ToHTTP(err)
		c.JSON(resp.Status, gin.H{"error": resp.Message})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":          string(sub.Status),
		"accessUntil":     sub.CurrentPeriodEnd,
		"canceledAt":      sub.CanceledAt,
		"subscriptionId":  sub.ID,
	})
}
