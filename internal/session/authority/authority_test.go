// internal/session/authority/authority_test.go
package authority

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"membership-core/internal/common/config"
	"membership-core/internal/common/logger"
	"membership-core/internal/models"
	"membership-core/internal/session/store"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() config.SessionConfig {
	return config.SessionConfig{
		TokenGraceSeconds: 5,
		WebGraceSeconds:   30,
		StoreTimeoutMS:    3000,
	}
}

func newTestAuthority(t *testing.T) (*Authority, models.SessionStore) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	s := store.NewRedisStore(client, 0)
	return New(s, testConfig(), logger.NewTestLogger(t)), s
}

// failingStore simulates a session store outage.
type failingStore struct{}

func (f *failingStore) Put(ctx context.Context, rec models.SessionRecord) error {
	return errors.New("store down")
}
func (f *failingStore) Get(ctx context.Context, userID string, platform models.Platform) (*models.SessionRecord, error) {
	return nil, errors.New("store down")
}
func (f *failingStore) Delete(ctx context.Context, userID string, platform models.Platform) error {
	return errors.New("store down")
}

func TestRecordLoginThenValidate(t *testing.T) {
	a, _ := newTestAuthority(t)
	ctx := context.Background()

	require.NoError(t, a.RecordLogin(ctx, "user-1", models.PlatformApp, "sess-a", "device-1"))

	// issued well outside the grace window, so the stored record decides
	issued := time.Now().Add(-time.Minute)
	outcome := a.Validate(ctx, "user-1", models.PlatformApp, "sess-a", issued)
	assert.Equal(t, models.OutcomeValid, outcome)
}

func TestSessionExclusivity_SequentialLoginsLeaveOneWinner(t *testing.T) {
	a, s := newTestAuthority(t)
	ctx := context.Background()

	const logins = 5
	sessionIDs := make([]string, logins)
	for i := 0; i < logins; i++ {
		sessionIDs[i] = fmt.Sprintf("sess-%d", i)
		require.NoError(t, a.RecordLogin(ctx, "user-1", models.PlatformApp, sessionIDs[i], "device-1"))
	}

	// pin the clock far enough ahead that no credential is inside grace and
	// the last stored record is old enough not to reconcile
	a.WithClock(func() time.Time { return time.Now().Add(time.Minute) })
	issued := time.Now().Add(-time.Hour)

	for i, id := range sessionIDs {
		outcome := a.Validate(ctx, "user-1", models.PlatformApp, id, issued)
		if i == logins-1 {
			assert.Equal(t, models.OutcomeValid, outcome, "last login must stay valid")
		} else {
			assert.Equal(t, models.OutcomeStale, outcome, "superseded login %d must be stale", i)
		}
	}

	rec, err := s.Get(ctx, "user-1", models.PlatformApp)
	require.NoError(t, err)
	assert.Equal(t, sessionIDs[logins-1], rec.SessionID)
}

func TestPlatformIndependence(t *testing.T) {
	a, _ := newTestAuthority(t)
	ctx := context.Background()

	require.NoError(t, a.RecordLogin(ctx, "user-1", models.PlatformWeb, "sess-web", ""))
	require.NoError(t, a.RecordLogin(ctx, "user-1", models.PlatformApp, "sess-app", "phone-1"))

	a.WithClock(func() time.Time { return time.Now().Add(time.Minute) })
	issued := time.Now().Add(-time.Hour)

	// logging in on app must not have invalidated the web session
	assert.Equal(t, models.OutcomeValid, a.Validate(ctx, "user-1", models.PlatformWeb, "sess-web", issued))
	assert.Equal(t, models.OutcomeValid, a.Validate(ctx, "user-1", models.PlatformApp, "sess-app", issued))
}

func TestGraceWindowBoundaries(t *testing.T) {
	tests := []struct {
		name     string
		platform models.Platform
		age      time.Duration
		want     models.ValidationOutcome
	}{
		{"token 4s old inside 5s grace", models.PlatformApp, 4 * time.Second, models.OutcomeValid},
		{"token 6s old outside 5s grace", models.PlatformApp, 6 * time.Second, models.OutcomeStale},
		{"web 25s old inside 30s grace", models.PlatformWeb, 25 * time.Second, models.OutcomeValid},
		{"web 31s old outside 30s grace", models.PlatformWeb, 31 * time.Second, models.OutcomeStale},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, s := newTestAuthority(t)
			ctx := context.Background()

			// a different session holds the key, stored long ago so no
			// reconciliation applies
			require.NoError(t, s.Put(ctx, models.SessionRecord{
				UserID:    "user-1",
				Platform:  tt.platform,
				SessionID: "sess-current",
				IssuedAt:  time.Now().Add(-time.Hour),
			}))

			now := time.Now()
			a.WithClock(func() time.Time { return now })

			outcome := a.Validate(ctx, "user-1", tt.platform, "sess-other", now.Add(-tt.age))
			assert.Equal(t, tt.want, outcome)
		})
	}
}

func TestValidate_SelfHealsMissingRecord(t *testing.T) {
	a, s := newTestAuthority(t)
	ctx := context.Background()

	issued := time.Now().Add(-time.Hour)
	outcome := a.Validate(ctx, "user-1", models.PlatformApp, "sess-legacy", issued)
	assert.Equal(t, models.OutcomeValid, outcome)

	rec, err := s.Get(ctx, "user-1", models.PlatformApp)
	require.NoError(t, err)
	require.NotNil(t, rec, "presented session should have been adopted")
	assert.Equal(t, "sess-legacy", rec.SessionID)
}

func TestValidate_ReconcilesFreshStoredMismatch(t *testing.T) {
	a, s := newTestAuthority(t)
	ctx := context.Background()

	// stored session written 2s ago, inside the app grace window
	require.NoError(t, s.Put(ctx, models.SessionRecord{
		UserID:    "user-1",
		Platform:  models.PlatformApp,
		SessionID: "sess-regenerated",
		DeviceID:  "phone-1",
		IssuedAt:  time.Now().Add(-2 * time.Second),
	}))

	issued := time.Now().Add(-time.Hour)
	outcome := a.Validate(ctx, "user-1", models.PlatformApp, "sess-presented", issued)
	assert.Equal(t, models.OutcomeValid, outcome)

	rec, err := s.Get(ctx, "user-1", models.PlatformApp)
	require.NoError(t, err)
	assert.Equal(t, "sess-presented", rec.SessionID)
	assert.Equal(t, "phone-1", rec.DeviceID, "mobile device id must survive reconciliation")
}

func TestValidate_FailsOpenOnStoreError(t *testing.T) {
	a := New(&failingStore{}, testConfig(), logger.NewNoOpLogger())

	issued := time.Now().Add(-time.Hour)
	outcome := a.Validate(context.Background(), "user-1", models.PlatformApp, "sess-a", issued)
	assert.Equal(t, models.OutcomeValid, outcome)
}

func TestRecordLogin_SurfacesStoreError(t *testing.T) {
	a := New(&failingStore{}, testConfig(), logger.NewNoOpLogger())

	err := a.RecordLogin(context.Background(), "user-1", models.PlatformApp, "sess-a", "device-1")
	assert.Error(t, err)
}

func TestRecordLogin_WebDeviceIDIsSynthesized(t *testing.T) {
	a, s := newTestAuthority(t)
	ctx := context.Background()

	require.NoError(t, a.RecordLogin(ctx, "user-1", models.PlatformWeb, "abcdefghijklmnop", "users-mobile-device"))

	rec, err := s.Get(ctx, "user-1", models.PlatformWeb)
	require.NoError(t, err)
	assert.Equal(t, "web-abcdefghijkl", rec.DeviceID)
}

func TestWebDeviceID_ShortSessionID(t *testing.T) {
	assert.Equal(t, "web-abc", WebDeviceID("abc"))
}
