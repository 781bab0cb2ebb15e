package models

import (
	"context"
	"time"
)

// Platform is the channel a session belongs to. A user may hold one active
// session per platform concurrently; the platforms are independent axes.
type Platform string

const (
	PlatformWeb Platform = "web"
	PlatformApp Platform = "app"
)

// Valid reports whether p is a known platform.
func (p Platform) Valid() bool {
	return p == PlatformWeb || p == PlatformApp
}

// SessionStatus of a stored session record.
type SessionStatus string

const (
	SessionActive      SessionStatus = "active"
	SessionInvalidated SessionStatus = "invalidated"
)

// SessionRecord is the single authoritative session per (userId, platform).
// Storing a new record for the key atomically supersedes any prior one.
type SessionRecord struct {
	UserID    string        `json:"userId"`
	Platform  Platform      `json:"platform"`
	SessionID string        `json:"sessionId"`
	DeviceID  string        `json:"deviceId"`
	IssuedAt  time.Time     `json:"issuedAt"`
	Status    SessionStatus `json:"status"`
}

// SessionStore defines the durable key/value contract for session records.
// Put must be atomic per key: last writer wins, no partial record visible.
type SessionStore interface {
	Put(ctx context.Context, rec SessionRecord) error
	Get(ctx context.Context, userID string, platform Platform) (*SessionRecord, error)
	Delete(ctx context.Context, userID string, platform Platform) error
}

// ValidationOutcome is the result of checking a presented credential against
// the stored session. Stale is not an error; it is a well-defined outcome the
// caller turns into a re-authentication flow.
type ValidationOutcome string

const (
	OutcomeValid ValidationOutcome = "valid"
	OutcomeStale ValidationOutcome = "stale"
)
