package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"io"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	qrcode "github.com/skip2/go-qrcode"
)

// TOTPPeriod is the time-step size in seconds.
const TOTPPeriod = 30

// TOTPManager generates and validates time-based one-time codes and manages
// at-rest encryption of shared secrets.
type TOTPManager struct {
	encryptionKey []byte // 32-byte AES-256 key
	issuer        string
	skewSteps     int // Accepted steps either side of the current one
}

// NewTOTPManager creates a new TOTP manager. encryptionKey must be exactly
// 32 bytes for AES-256. skewSeconds is the tolerance either side of now;
// the default 90 seconds accepts the current step plus three adjacent steps
// in each direction.
func NewTOTPManager(encryptionKey []byte, issuer string, skewSeconds int) (*TOTPManager, error) {
	if len(encryptionKey) != 32 {
		return nil, fmt.Errorf("encryption key must be exactly 32 bytes, got %d", len(encryptionKey))
	}
	if skewSeconds < 0 {
		return nil, fmt.Errorf("skew seconds cannot be negative, got %d", skewSeconds)
	}

	return &TOTPManager{
		encryptionKey: encryptionKey,
		issuer:        issuer,
		skewSteps:     skewSeconds / TOTPPeriod,
	}, nil
}

// Enrollment is the material produced when a user begins TOTP setup.
type Enrollment struct {
	Secret          string // base32 shared secret, shown once
	ProvisioningURI string // otpauth:// URI for authenticator apps
	QRCode          string // PNG data URL of the provisioning URI
	SecretEncrypted []byte
	SecretNonce     []byte
}

// GenerateEnrollment creates a fresh shared secret for a user, encrypts it
// for storage, and renders the provisioning QR code.
func (tm *TOTPManager) GenerateEnrollment(accountName string) (*Enrollment, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      tm.issuer,
		AccountName: accountName,
		SecretSize:  32, // 256 bits
		Period:      TOTPPeriod,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate TOTP key: %w", err)
	}

	encrypted, nonce, err := tm.EncryptSecret([]byte(key.Secret()))
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt secret: %w", err)
	}

	qr, err := qrcode.New(key.URL(), qrcode.Highest)
	if err != nil {
		return nil, fmt.Errorf("failed to create QR code: %w", err)
	}

	qrImage, err := qr.PNG(200)
	if err != nil {
		return nil, fmt.Errorf("failed to encode QR code: %w", err)
	}

	return &Enrollment{
		Secret:          key.Secret(),
		ProvisioningURI: key.URL(),
		QRCode:          "data:image/png;base64," + base64.StdEncoding.EncodeToString(qrImage),
		SecretEncrypted: encrypted,
		SecretNonce:     nonce,
	}, nil
}

// EncryptSecret encrypts a TOTP secret using AES-256-GCM.
// Returns: (encryptedBytes, nonce, error)
func (tm *TOTPManager) EncryptSecret(secretBytes []byte) ([]byte, []byte, error) {
	block, err := aes.NewCipher(tm.encryptionKey)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, secretBytes, nil)

	return ciphertext, nonce, nil
}

// DecryptSecret decrypts an encrypted TOTP secret
func (tm *TOTPManager) DecryptSecret(encryptedBytes, nonce []byte) ([]byte, error) {
	block, err := aes.NewCipher(tm.encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	plaintext, err := gcm.Open(nil, nonce, encryptedBytes, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt secret: %w", err)
	}

	return plaintext, nil
}

// ValidateCode checks a code against the secret for the current step and
// every step within the skew tolerance, and reports which step matched so
// callers can reject replays of an already-consumed step.
// Returns: (matchedStep, valid, error)
func (tm *TOTPManager) ValidateCode(secret, code string, at time.Time) (int64, bool, error) {
	opts := totp.ValidateOpts{
		Period:    TOTPPeriod,
		Skew:      0, // Candidate steps are enumerated explicitly below
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	}

	currentStep := at.Unix() / TOTPPeriod

	for offset := -tm.skewSteps; offset <= tm.skewSteps; offset++ {
		step := currentStep + int64(offset)
		expected, err := totp.GenerateCodeCustom(secret, time.Unix(step*TOTPPeriod, 0), opts)
		if err != nil {
			return 0, false, fmt.Errorf("failed to compute TOTP candidate: %w", err)
		}

		if subtle.ConstantTimeCompare([]byte(expected), []byte(code)) == 1 {
			return step, true, nil
		}
	}

	return 0, false, nil
}

// GenerateBackupCodes generates N random single-use backup codes.
// Format: 8 characters from a charset excluding ambiguous glyphs (0/O, 1/I/L).
func (tm *TOTPManager) GenerateBackupCodes(count int) ([]string, error) {
	const charset = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"

	codes := make([]string, count)
	for i := 0; i < count; i++ {
		code := make([]byte, 8)
		randomBytes := make([]byte, 8)
		if _, err := rand.Read(randomBytes); err != nil {
			return nil, fmt.Errorf("failed to generate random bytes: %w", err)
		}
		for j := range code {
			code[j] = charset[randomBytes[j]%byte(len(charset))]
		}
		codes[i] = string(code)
	}

	return codes, nil
}
