package models

import (
	"time"
)

// MFACredential holds a user's TOTP enrollment. The shared secret is stored
// AES-256-GCM encrypted; LastUsedStep prevents replay of an accepted code
// within its validity window.
type MFACredential struct {
	ID              string
	UserID          string
	SecretEncrypted []byte // AES-256-GCM ciphertext of the base32 secret
	SecretNonce     []byte // GCM nonce (12 bytes)
	BackupCodes     []BackupCode
	LastUsedStep    *int64 // Time step of the most recently accepted code
	CreatedAt       time.Time
	ConfirmedAt     *time.Time // Set once the first code is verified
}

// BackupCode is a single-use recovery code accepted in place of a TOTP code.
type BackupCode struct {
	CodeHash  string     `json:"code_hash"` // bcrypt hash
	UsedAt    *time.Time `json:"used_at"`
	CreatedAt time.Time  `json:"created_at"`
}

// IsConfirmed reports whether enrollment was completed with a first valid code.
func (c *MFACredential) IsConfirmed() bool {
	return c.ConfirmedAt != nil
}

// RemainingBackupCodes counts codes that have not been consumed.
func (c *MFACredential) RemainingBackupCodes() int {
	n := 0
	for _, code := range c.BackupCodes {
		if code.UsedAt == nil {
			n++
		}
	}
	return n
}

// MFASetupResponse contains enrollment material returned once at setup time.
type MFASetupResponse struct {
	Secret          string   `json:"secret"`
	ProvisioningURI string   `json:"provisioning_uri"`
	QRCode          string   `json:"qr_code"` // Data URL
	BackupCodes     []string `json:"backup_codes"`
}

// MFAChallengeResponse is returned when credentials pass but MFA is required.
type MFAChallengeResponse struct {
	MFARequired    bool   `json:"mfa_required"`
	ChallengeToken string `json:"challenge_token"` // Short-lived JWT for the MFA step
}
