// internal/gate/identity.go
package gate

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"membership-core/internal/common/config"
	"membership-core/internal/models"
)

// Claims is the signed credential payload both platforms carry: the web
// session cookie and the app bearer token hold the same shape, so one
// validation path serves both.
type Claims struct {
	SessionID  string `json:"sid"`
	Platform   string `json:"pfm"`
	DeviceID   string `json:"deviceId,omitempty"`
	EntityID   string `json:"entityId,omitempty"`
	EntityKind string `json:"entityKind,omitempty"`
	Billable   bool   `json:"billable"`
	jwt.RegisteredClaims
}

// Issuer mints and verifies credentials with the shared HMAC secret.
type Issuer struct {
	cfg config.AuthConfig
	now func() time.Time
}

func NewIssuer(cfg config.AuthConfig) *Issuer {
	return &Issuer{cfg: cfg, now: time.Now}
}

// WithClock pins token timestamps. Test hook.
func (i *Issuer) WithClock(now func() time.Time) *Issuer {
	i.now = now
	return i
}

// Issue signs a credential for a freshly recorded session.
func (i *Issuer) Issue(userID string, platform models.Platform, sessionID, deviceID, entityID, entityKind string, billable bool) (string, error) {
	now := i.now()
	claims := Claims{
		SessionID:  sessionID,
		Platform:   string(platform),
		DeviceID:   deviceID,
		EntityID:   entityID,
		EntityKind: entityKind,
		Billable:   billable,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(i.cfg.TokenTTLHours) * time.Hour)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(i.cfg.JWTSecret))
}

// Parse verifies the signature and expiry and returns the claims.
func (i *Issuer) Parse(tokenString string) (*Claims, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(i.cfg.JWTSecret), nil
	}, jwt.WithTimeFunc(i.now))
	if err != nil {
		return nil, err
	}
	if !token.Valid || claims.Subject == "" || claims.SessionID == "" {
		return nil, fmt.Errorf("incomplete credential")
	}
	return &claims, nil
}

// CredentialFromRequest pulls the raw token off the request. The transport
// determines the platform: session cookie means web, bearer header means app.
func CredentialFromRequest(r *http.Request, cookieName string) (token string, platform models.Platform, found bool) {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer "), models.PlatformApp, true
	}
	if cookie, err := r.Cookie(cookieName); err == nil && cookie.Value != "" {
		return cookie.Value, models.PlatformWeb, true
	}
	return "", "", false
}
