// internal/httpapi/auth_handlers.go
package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	commonerrors "membership-core/internal/common/errors"
	"membership-core/internal/common/metrics"
	"membership-core/internal/gate"
	"membership-core/internal/models"
	"membership-core/internal/session/authority"
)

type loginRequest struct {
	UserID   string `json:"userId" binding:"required"`
	Password string `json:"password" binding:"required"`
	Platform string `json:"platform" binding:"required"`
	DeviceID string `json:"deviceId"`
}

// handleLogin verifies credentials, records the new session as the sole
// active one for (user, platform), and hands back the signed credential.
// Any previously issued credential for the platform is superseded the moment
// the session record lands.
func (s *Server) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	platform := models.Platform(req.Platform)
	if !platform.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown platform"})
		return
	}
	if platform == models.PlatformApp && req.DeviceID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "deviceId required for app login"})
		return
	}

	identity, err := s.auth.Authenticate(c.Request.Context(), req.UserID, req.Password)
	if err != nil || identity == nil {
		metrics.SessionLogins.WithLabelValues(req.Platform, "rejected").Inc()
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	sessionID := uuid.New().String()
	deviceID := req.DeviceID
	if platform == models.PlatformWeb {
		deviceID = authority.WebDeviceID(sessionID)
	}

	if err := s.sessions.RecordLogin(c.Request.Context(), identity.UserID, platform, sessionID, deviceID); err != nil {
		// The session record is the login; without it the new credential
		// would coexist with the old one.
		resp := commonerrors.ToHTTP(err)
		c.JSON(resp.Status, gin.H{"error": resp.Message})
		return
	}

	token, err := s.issuer.Issue(identity.UserID, platform, sessionID, deviceID,
		identity.EntityID, identity.EntityKind, identity.Billable)
	if err != nil {
		s.logger.WithError(err).Error("credential signing failed", nil)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}

	metrics.SessionLogins.WithLabelValues(req.Platform, "accepted").Inc()

	if platform == models.PlatformWeb {
		maxAge := s.cfg.Auth.TokenTTLHours * 3600
		c.SetCookie(s.cfg.Auth.CookieName, token, maxAge, "/", s.cfg.Auth.CookieDomain, false, true)
		c.JSON(http.StatusOK, gin.H{"userId": identity.UserID, "sessionId": sessionID})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"userId":    identity.UserID,
		"sessionId": sessionID,
		"token":     token,
	})
}

// handleLogout removes the stored session for the caller's platform and
// destroys the web cookie. Idempotent.
func (s *Server) handleLogout(c *gin.Context) {
	userID := c.GetString(gate.CtxUserID)
	platform := models.Platform(c.GetString(gate.CtxPlatform))

	if err := s.sessions.Logout(c.Request.Context(), userID, platform); err != nil {
		resp := commonerrors.ToHTTP(err)
		c.JSON(resp.Status, gin.H{"error": resp.Message})
		return
	}
	if platform == models.PlatformWeb {
		c.SetCookie(s.cfg.Auth.CookieName, "", -1, "/", s.cfg.Auth.CookieDomain, false, true)
	}
	c.JSON(http.StatusOK, gin.H{"status": "logged_out"})
}
