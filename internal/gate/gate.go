// internal/gate/gate.go
package gate

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"membership-core/internal/common/config"
	"membership-core/internal/common/logger"
	"membership-core/internal/common/metrics"
	"membership-core/internal/models"
	"membership-core/internal/session/authority"
)

// Context keys set for downstream handlers once a request clears the gate.
const (
	CtxUserID     = "userId"
	CtxEntityID   = "entityId"
	CtxPlatform   = "platform"
	CtxSessionID  = "sessionId"
	CtxEntityKind = "entityKind"
)

// SubscriptionReader is the read-only slice of the ledger the gate needs.
type SubscriptionReader interface {
	GetStatus(ctx context.Context, entityID string) (models.StatusView, error)
}

// InvoiceReader surfaces the outstanding invoice shown on the payment wall.
type InvoiceReader interface {
	PendingInvoiceForEntity(ctx context.Context, entityID string) (*models.Invoice, error)
}

// Gate is the request-time policy chain: session freshness first, then
// subscription standing. It degrades open on infrastructure failures and
// never leaks internals to the client.
type Gate struct {
	sessions *authority.Authority
	issuer   *Issuer
	subs     SubscriptionReader
	invoices InvoiceReader
	cfg      config.GateConfig
	auth     config.AuthConfig
	logger   logger.Logger
}

func New(sessions *authority.Authority, issuer *Issuer, subs SubscriptionReader, invoices InvoiceReader, cfg config.GateConfig, auth config.AuthConfig, log logger.Logger) *Gate {
	return &Gate{
		sessions: sessions,
		issuer:   issuer,
		subs:     subs,
		invoices: invoices,
		cfg:      cfg,
		auth:     auth,
		logger:   log.WithFields(map[string]interface{}{"component": "gate"}),
	}
}

// prefersHTML reports whether the client negotiated an HTML response, which
// marks a browser navigation as opposed to an API call.
func prefersHTML(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

func (g *Gate) pathAllowed(path string) bool {
	for _, allowed := range g.cfg.AllowPaths {
		if path == allowed || strings.HasPrefix(path, allowed+"/") {
			return true
		}
	}
	return false
}

// Middleware returns the gin handler enforcing the policy chain. Routes
// reachable without a credential belong outside the gated group; AllowPaths
// only exempts routes from the payment wall, never from authentication.
func (g *Gate) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, platform, found := CredentialFromRequest(c.Request, g.auth.CookieName)
		if !found {
			// No cookie and no bearer token: only a browser navigation
			// gets sent to the login page, API callers need the 401.
			if prefersHTML(c.Request) {
				g.deny(c, models.PlatformWeb, "unauthenticated")
			} else {
				g.deny(c, models.PlatformApp, "unauthenticated")
			}
			return
		}

		claims, err := g.issuer.Parse(token)
		if err != nil {
			g.clearCookie(c, platform)
			g.deny(c, platform, "invalid_credential")
			return
		}

		outcome := g.sessions.Validate(c.Request.Context(), claims.Subject, platform,
			claims.SessionID, claims.IssuedAt.Time)
		if outcome == models.OutcomeStale {
			// A newer login on this platform superseded the credential.
			// Destroy it so the client re-authenticates instead of retrying.
			g.clearCookie(c, platform)
			g.deny(c, platform, "superseded")
			return
		}

		c.Set(CtxUserID, claims.Subject)
		c.Set(CtxPlatform, string(platform))
		c.Set(CtxSessionID, claims.SessionID)
		c.Set(CtxEntityID, claims.EntityID)
		c.Set(CtxEntityKind, claims.EntityKind)

		if claims.Billable && claims.EntityID != "" {
			if blocked := g.enforceStanding(c, platform, claims.EntityID); blocked {
				return
			}
		}

		metrics.GateDecisions.WithLabelValues(string(platform), "allowed").Inc()
		c.Next()
	}
}

// enforceStanding checks subscription standing and walls off blocked
// accounts. Reports whether the request was terminated.
func (g *Gate) enforceStanding(c *gin.Context, platform models.Platform, entityID string) bool {
	if g.pathAllowed(c.Request.URL.Path) {
		// Billing and account routes stay reachable so a blocked
		// subscriber can settle up.
		return false
	}
	view, err := g.subs.GetStatus(c.Request.Context(), entityID)
	if err != nil {
		// Standing unknown is not the subscriber's fault; let the request
		// through rather than locking out a paying customer.
		g.logger.WithError(err).Warn("subscription check failed, allowing request", map[string]interface{}{
			"entityId": entityID,
		})
		metrics.GateDecisions.WithLabelValues(string(platform), "allowed_degraded").Inc()
		return false
	}
	if view.Active {
		return false
	}

	metrics.GateDecisions.WithLabelValues(string(platform), "blocked").Inc()

	var outstanding *models.Invoice
	if inv, err := g.invoices.PendingInvoiceForEntity(c.Request.Context(), entityID); err == nil {
		outstanding = inv
	}

	if platform == models.PlatformWeb {
		c.Redirect(http.StatusFound, g.cfg.BillingPath)
		c.Abort()
		return true
	}

	body := gin.H{
		"error":              "subscription_blocked",
		"subscriptionStatus": string(view.Status),
		"billingUrl":         g.cfg.BillingPath,
	}
	if outstanding != nil {
		body["outstanding"] = gin.H{
			"invoiceNumber": outstanding.InvoiceNumber,
			"amountCents":   outstanding.TotalCents,
			"dueDate":       outstanding.DueDate,
		}
	}
	c.AbortWithStatusJSON(http.StatusPaymentRequired, body)
	return true
}

// deny terminates an unauthenticated or superseded request: the app gets a
// 401 it can act on, the browser gets sent to the login page.
func (g *Gate) deny(c *gin.Context, platform models.Platform, reason string) {
	metrics.GateDecisions.WithLabelValues(string(platform), reason).Inc()
	if platform == models.PlatformApp {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": reason})
		return
	}
	c.Redirect(http.StatusFound, g.cfg.LoginPath)
	c.Abort()
}

func (g *Gate) clearCookie(c *gin.Context, platform models.Platform) {
	if platform != models.PlatformWeb {
		return
	}
	c.SetCookie(g.auth.CookieName, "", -1, "/", g.auth.CookieDomain, false, true)
}
