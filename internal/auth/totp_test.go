package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testEncryptionKey = []byte("0123456789abcdef0123456789abcdef")

func newTestTOTPManager(t *testing.T) *TOTPManager {
	t.Helper()
	tm, err := NewTOTPManager(testEncryptionKey, "Gatekeeper", 90)
	require.NoError(t, err)
	return tm
}

// codeAt computes the valid code for the secret at the given time.
func codeAt(t *testing.T, secret string, at time.Time) string {
	t.Helper()
	code, err := totp.GenerateCodeCustom(secret, at, totp.ValidateOpts{
		Period:    TOTPPeriod,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	require.NoError(t, err)
	return code
}

func TestNewTOTPManager_RejectsBadKey(t *testing.T) {
	_, err := NewTOTPManager([]byte("short"), "Gatekeeper", 90)
	assert.Error(t, err)

	_, err = NewTOTPManager(testEncryptionKey, "Gatekeeper", -1)
	assert.Error(t, err)
}

func TestTOTPManager_GenerateEnrollment(t *testing.T) {
	tm := newTestTOTPManager(t)

	enrollment, err := tm.GenerateEnrollment("alice@example.com")
	require.NoError(t, err)

	assert.NotEmpty(t, enrollment.Secret)
	assert.Contains(t, enrollment.ProvisioningURI, "otpauth://totp/")
	assert.Contains(t, enrollment.ProvisioningURI, "Gatekeeper")
	assert.True(t, strings.HasPrefix(enrollment.QRCode, "data:image/png;base64,"))

	// Stored form must decrypt back to the displayed secret.
	plaintext, err := tm.DecryptSecret(enrollment.SecretEncrypted, enrollment.SecretNonce)
	require.NoError(t, err)
	assert.Equal(t, enrollment.Secret, string(plaintext))
}

func TestTOTPManager_EncryptSecret_UniqueNonces(t *testing.T) {
	tm := newTestTOTPManager(t)

	_, nonce1, err := tm.EncryptSecret([]byte("SECRETSECRETSECRET"))
	require.NoError(t, err)
	_, nonce2, err := tm.EncryptSecret([]byte("SECRETSECRETSECRET"))
	require.NoError(t, err)

	assert.NotEqual(t, nonce1, nonce2)
}

func TestTOTPManager_DecryptSecret_WrongKey(t *testing.T) {
	tm := newTestTOTPManager(t)
	encrypted, nonce, err := tm.EncryptSecret([]byte("SECRET"))
	require.NoError(t, err)

	other, err := NewTOTPManager([]byte("ffffffffffffffffffffffffffffffff"), "Gatekeeper", 90)
	require.NoError(t, err)

	_, err = other.DecryptSecret(encrypted, nonce)
	assert.Error(t, err)
}

func TestTOTPManager_ValidateCode_CurrentStep(t *testing.T) {
	tm := newTestTOTPManager(t)
	secret := "JBSWY3DPEHPK3PXPJBSWY3DPEHPK3PXP"
	now := time.Unix(1_700_000_000, 0)

	step, valid, err := tm.ValidateCode(secret, codeAt(t, secret, now), now)
	require.NoError(t, err)
	assert.True(t, valid)
	assert.Equal(t, now.Unix()/TOTPPeriod, step)
}

func TestTOTPManager_ValidateCode_SkewWindow(t *testing.T) {
	tm := newTestTOTPManager(t)
	secret := "JBSWY3DPEHPK3PXPJBSWY3DPEHPK3PXP"
	now := time.Unix(1_700_000_000, 0)

	// A code generated 61 seconds ago is still inside the ±90s tolerance.
	_, valid, err := tm.ValidateCode(secret, codeAt(t, secret, now.Add(-61*time.Second)), now)
	require.NoError(t, err)
	assert.True(t, valid)

	// 61 seconds ahead likewise.
	_, valid, err = tm.ValidateCode(secret, codeAt(t, secret, now.Add(61*time.Second)), now)
	require.NoError(t, err)
	assert.True(t, valid)

	// 200 seconds ago is outside the window.
	_, valid, err = tm.ValidateCode(secret, codeAt(t, secret, now.Add(-200*time.Second)), now)
	require.NoError(t, err)
	assert.False(t, valid)
}

func TestTOTPManager_ValidateCode_ReportsMatchedStep(t *testing.T) {
	tm := newTestTOTPManager(t)
	secret := "JBSWY3DPEHPK3PXPJBSWY3DPEHPK3PXP"
	now := time.Unix(1_700_000_000, 0)
	past := now.Add(-60 * time.Second)

	step, valid, err := tm.ValidateCode(secret, codeAt(t, secret, past), now)
	require.NoError(t, err)
	require.True(t, valid)

	// The matched step is the one the code was generated for, not "now";
	// this is what makes same-step replay detectable.
	assert.Equal(t, past.Unix()/TOTPPeriod, step)
}

func TestTOTPManager_ValidateCode_WrongCode(t *testing.T) {
	tm := newTestTOTPManager(t)
	secret := "JBSWY3DPEHPK3PXPJBSWY3DPEHPK3PXP"

	_, valid, err := tm.ValidateCode(secret, "000000", time.Unix(1_700_000_000, 0))
	require.NoError(t, err)
	assert.False(t, valid)
}

func TestTOTPManager_GenerateBackupCodes(t *testing.T) {
	tm := newTestTOTPManager(t)

	codes, err := tm.GenerateBackupCodes(8)
	require.NoError(t, err)
	require.Len(t, codes, 8)

	seen := make(map[string]bool)
	for _, code := range codes {
		assert.Len(t, code, 8)
		// Ambiguous glyphs are excluded from the charset.
		assert.NotContains(t, code, "0")
		assert.NotContains(t, code, "O")
		assert.NotContains(t, code, "1")
		assert.NotContains(t, code, "I")
		assert.NotContains(t, code, "L")
		seen[code] = true
	}
	assert.Len(t, seen, 8, "backup codes must be distinct")
}
