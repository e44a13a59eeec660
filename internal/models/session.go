package models

import (
	"time"
)

// Session is the durable record of a logged-in device/browser instance.
// A session is expired when either the absolute deadline has passed or the
// time since last activity exceeds the idle timeout captured at creation.
type Session struct {
	ID                string
	UserID            string
	CreatedAt         time.Time
	LastActivityAt    time.Time
	AbsoluteExpiresAt time.Time
	IdleTimeout       time.Duration // Snapshot of the idle policy at creation
	IPAddress         string
	UserAgent         string
	DeviceFingerprint string
	RememberMe        bool
	RefreshJTI        string // JTI of the currently valid refresh token
	RevokedAt         *time.Time
	RevokedReason     *string
}

// IsExpired evaluates both expiry policies lazily at access time.
func (s *Session) IsExpired(now time.Time) bool {
	if now.After(s.AbsoluteExpiresAt) {
		return true
	}
	return now.Sub(s.LastActivityAt) > s.IdleTimeout
}

// IsRevoked reports whether the session was explicitly revoked.
func (s *Session) IsRevoked() bool {
	return s.RevokedAt != nil
}

// IsActive combines revocation and expiry checks.
func (s *Session) IsActive(now time.Time) bool {
	return !s.IsRevoked() && !s.IsExpired(now)
}
