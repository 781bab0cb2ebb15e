// internal/session/authority/authority.go
package authority

import (
	"context"
	"time"

	"membership-core/internal/common/config"
	commonerrors "membership-core/internal/common/errors"
	"membership-core/internal/common/logger"
	"membership-core/internal/common/metrics"
	"membership-core/internal/models"
)

const webDeviceIDLen = 12

// Authority validates presented credentials against the single active session
// per (userId, platform) and owns the only legitimate session-creation path.
type Authority struct {
	store  models.SessionStore
	cfg    config.SessionConfig
	logger logger.Logger
	now    func() time.Time
}

func New(store models.SessionStore, cfg config.SessionConfig, log logger.Logger) *Authority {
	return &Authority{
		store:  store,
		cfg:    cfg,
		logger: log.WithFields(map[string]interface{}{"component": "session-authority"}),
		now:    time.Now,
	}
}

// WithClock overrides the wall clock, for tests.
func (a *Authority) WithClock(now func() time.Time) *Authority {
	a.now = now
	return a
}

// grace returns the platform's grace window. Bearer tokens (app) are held to
// a tighter window than web cookie sessions.
func (a *Authority) grace(platform models.Platform) time.Duration {
	if platform == models.PlatformWeb {
		return a.cfg.WebGrace()
	}
	return a.cfg.TokenGrace()
}

// Validate checks a presented credential against the stored active session.
//
// A credential issued within the grace window of now is accepted
// unconditionally: it absorbs propagation delay right after login and bounds
// how long a superseded session can linger. When no record exists the
// presented session is adopted as active, which lets sessions created before
// this subsystem existed keep working. A mismatched stored record that is
// itself inside the grace window is treated as a session-regeneration
// artifact and reconciled to the presented id. Everything else is Stale.
//
// Store errors fail open: a consistency check must never cause an outage.
func (a *Authority) Validate(ctx context.Context, userID string, platform models.Platform, sessionID string, issuedAt time.Time) models.ValidationOutcome {
	now := a.now()
	grace := a.grace(platform)

	if now.Sub(issuedAt) <= grace {
		metrics.SessionValidations.WithLabelValues(string(platform), "grace").Inc()
		return models.OutcomeValid
	}

	ctx, cancel := context.WithTimeout(ctx, a.cfg.StoreTimeout())
	defer cancel()

	rec, err := a.store.Get(ctx, userID, platform)
	if err != nil {
		a.logger.WithError(err).Warn("session store read failed, allowing request", map[string]interface{}{
			"userId":   userID,
			"platform": string(platform),
		})
		metrics.SessionValidations.WithLabelValues(string(platform), "fail_open").Inc()
		return models.OutcomeValid
	}

	if rec == nil {
		// Pre-existing session from before single-session enforcement: adopt
		// it as the active one so the next request has something to match.
		a.selfHeal(ctx, userID, platform, sessionID, issuedAt)
		metrics.SessionValidations.WithLabelValues(string(platform), "self_heal").Inc()
		return models.OutcomeValid
	}

	if rec.SessionID == sessionID {
		metrics.SessionValidations.WithLabelValues(string(platform), "valid").Inc()
		return models.OutcomeValid
	}

	if now.Sub(rec.IssuedAt) <= grace {
		// The stored session was just written; the mismatch is a regeneration
		// artifact of the same login, not a second device. Reconcile.
		a.reconcile(ctx, *rec, sessionID)
		metrics.SessionValidations.WithLabelValues(string(platform), "reconciled").Inc()
		return models.OutcomeValid
	}

	a.logger.Info("stale session rejected", map[string]interface{}{
		"userId":   userID,
		"platform": string(platform),
	})
	metrics.SessionValidations.WithLabelValues(string(platform), "stale").Inc()
	return models.OutcomeStale
}

func (a *Authority) selfHeal(ctx context.Context, userID string, platform models.Platform, sessionID string, issuedAt time.Time) {
	rec := models.SessionRecord{
		UserID:    userID,
		Platform:  platform,
		SessionID: sessionID,
		DeviceID:  deviceIDFor(platform, "", sessionID),
		IssuedAt:  issuedAt,
	}
	if err := a.store.Put(ctx, rec); err != nil {
		a.logger.WithError(err).Warn("self-heal store failed", map[string]interface{}{
			"userId":   userID,
			"platform": string(platform),
		})
	}
}

func (a *Authority) reconcile(ctx context.Context, rec models.SessionRecord, sessionID string) {
	rec.SessionID = sessionID
	if rec.Platform == models.PlatformWeb {
		rec.DeviceID = WebDeviceID(sessionID)
	}
	if err := a.store.Put(ctx, rec); err != nil {
		a.logger.WithError(err).Warn("session reconciliation store failed", map[string]interface{}{
			"userId":   rec.UserID,
			"platform": string(rec.Platform),
		})
	}
}

// RecordLogin invalidates any other active session for (userId, platform) by
// atomically storing the new one. Errors are surfaced: a login must not
// silently fail to register.
func (a *Authority) RecordLogin(ctx context.Context, userID string, platform models.Platform, sessionID, deviceID string) error {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.StoreTimeout())
	defer cancel()

	rec := models.SessionRecord{
		UserID:    userID,
		Platform:  platform,
		SessionID: sessionID,
		DeviceID:  deviceIDFor(platform, deviceID, sessionID),
		IssuedAt:  a.now(),
	}

	if err := a.store.Put(ctx, rec); err != nil {
		return commonerrors.NewSessionRecordError(err)
	}

	a.logger.Info("login recorded", map[string]interface{}{
		"userId":   userID,
		"platform": string(platform),
		"deviceId": rec.DeviceID,
	})
	return nil
}

// Logout deletes the stored session for the key.
func (a *Authority) Logout(ctx context.Context, userID string, platform models.Platform) error {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.StoreTimeout())
	defer cancel()
	return a.store.Delete(ctx, userID, platform)
}

// WebDeviceID synthesizes a device identifier for web sessions as a prefix
// over the session id, so it can never collide with (or overwrite) a mobile
// device identifier.
func WebDeviceID(sessionID string) string {
	trimmed := sessionID
	if len(trimmed) > webDeviceIDLen {
		trimmed = trimmed[:webDeviceIDLen]
	}
	return "web-" + trimmed
}

func deviceIDFor(platform models.Platform, deviceID, sessionID string) string {
	if platform == models.PlatformWeb {
		return WebDeviceID(sessionID)
	}
	return deviceID
}
