// internal/httpapi/server.go
package httpapi

import (
	"context"
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"membership-core/internal/billing/engine"
	"membership-core/internal/billing/ledger"
	"membership-core/internal/common/config"
	"membership-core/internal/common/logger"
	"membership-core/internal/common/validation"
	"membership-core/internal/gate"
	"membership-core/internal/session/authority"
)

// Identity is what the credential check hands back for a valid login.
type Identity struct {
	UserID     string
	EntityID   string
	EntityKind string
	Billable   bool
	Email      string
}

// Authenticator verifies primary credentials. Identity management lives
// elsewhere; this service only needs a yes/no plus the billing identity.
type Authenticator interface {
	Authenticate(ctx context.Context, userID, password string) (*Identity, error)
}

// AuthenticatorFunc adapts a function to the Authenticator interface.
type AuthenticatorFunc func(ctx context.Context, userID, password string) (*Identity, error)

func (f AuthenticatorFunc) Authenticate(ctx context.Context, userID, password string) (*Identity, error) {
	return f(ctx, userID, password)
}

// Server wires the HTTP surface: session endpoints, billing endpoints, the
// gateway webhook, and the access gate in front of everything else.
type Server struct {
	sessions *authority.Authority
	issuer   *gate.Issuer
	gate     *gate.Gate
	ledger   *ledger.Ledger
	billing  *engine.Engine
	auth     Authenticator
	webhooks *validation.Validator
	cfg      *config.Config
	logger   logger.Logger
}

func NewServer(
	sessions *authority.Authority,
	issuer *gate.Issuer,
	g *gate.Gate,
	lg *ledger.Ledger,
	billing *engine.Engine,
	auth Authenticator,
	cfg *config.Config,
	log logger.Logger,
) (*Server, error) {
	webhooks, err := validation.NewValidator(gatewayEventSchema)
	if err != nil {
		return nil, err
	}
	return &Server{
		sessions: sessions,
		issuer:   issuer,
		gate:     g,
		ledger:   lg,
		billing:  billing,
		auth:     auth,
		webhooks: webhooks,
		cfg:      cfg,
		logger:   log.WithFields(map[string]interface{}{"component": "httpapi"}),
	}, nil
}

// Router assembles the full handler chain.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		AllowCredentials: false,
	}))

	// Outside the gate: liveness, metrics, login, and the gateway callback.
	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.POST("/login", s.handleLogin)
	r.POST("/webhooks/payment-gateway", s.handleGatewayWebhook)

	gated := r.Group("/", s.gate.Middleware())
	gated.POST("/logout", s.handleLogout)
	gated.GET("/billing/status", s.handleBillingStatus)
	gated.POST("/billing/invoice", s.handleGenerateInvoice)
	gated.POST("/billing/pay", s.handlePay)
	gated.POST("/billing/cancel", s.handleCancel)

	return r
}
