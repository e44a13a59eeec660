package models

import (
	"time"
)

type User struct {
	ID                string
	Email             string
	PasswordHash      string
	Name              string
	MFAEnabled        bool
	MFAEnrolledAt     *time.Time
	FailedLoginCount  int        // Consecutive failures within the lockout window
	FirstFailedAt     *time.Time // Start of the rolling lockout window
	LockedUntil       *time.Time // Temporary account lock expiration
	PasswordChangedAt *time.Time // Invalidates tokens issued before a password change
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// IsLocked reports whether the account is under a temporary lock at the given time.
func (u *User) IsLocked(now time.Time) bool {
	return u.LockedUntil != nil && now.Before(*u.LockedUntil)
}
