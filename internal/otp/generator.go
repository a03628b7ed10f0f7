package otp

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"math/big"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/twofold-auth/twofold/internal/models"
)

const (
	// Period is the TOTP time step in seconds.
	Period = 30

	// secretSize is 32 bytes (256 bits), above the 160-bit RFC minimum.
	secretSize = 32

	backupCodeLength = 8

	// Charset for backup codes: A-Z 2-9 excluding ambiguous 0/O, 1/I/L.
	backupCodeCharset = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"
)

// Generator produces TOTP secrets, one-time codes, and backup codes, and
// encrypts secrets for storage. All randomness comes from crypto/rand; any
// failure of the random source surfaces as models.ErrGeneration.
type Generator struct {
	encryptionKey []byte // 32-byte AES-256 key
	issuer        string // issuer name in provisioning URIs
}

// NewGenerator creates a Generator. encryptionKey must be exactly 32 bytes.
func NewGenerator(encryptionKey []byte, issuer string) (*Generator, error) {
	if len(encryptionKey) != 32 {
		return nil, fmt.Errorf("encryption key must be exactly 32 bytes, got %d", len(encryptionKey))
	}
	return &Generator{encryptionKey: encryptionKey, issuer: issuer}, nil
}

// GenerateTOTPKey creates a new TOTP key for the account. The returned key
// carries the base32 secret and the otpauth:// provisioning URL.
func (g *Generator) GenerateTOTPKey(accountEmail string) (*otp.Key, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      g.issuer,
		AccountName: accountEmail,
		SecretSize:  secretSize,
		Period:      Period,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrGeneration, err)
	}
	return key, nil
}

// ProvisioningQR renders the key's otpauth URL as a PNG data URL for the
// setup screen.
func (g *Generator) ProvisioningQR(key *otp.Key) (string, error) {
	qr, err := qrcode.New(key.URL(), qrcode.Highest)
	if err != nil {
		return "", fmt.Errorf("failed to create QR code: %w", err)
	}
	png, err := qr.PNG(200)
	if err != nil {
		return "", fmt.Errorf("failed to encode QR code: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}

// ComputeTOTPCode returns the 6-digit code for the secret at time t.
func (g *Generator) ComputeTOTPCode(secretBase32 string, t time.Time) (string, error) {
	code, err := totp.GenerateCode(secretBase32, t)
	if err != nil {
		return "", fmt.Errorf("failed to compute TOTP code: %w", err)
	}
	return code, nil
}

// ValidateTOTPCode checks a submitted code against the secret at time t,
// accepting ±1 time step of clock drift.
func (g *Generator) ValidateTOTPCode(secretBase32, code string, t time.Time) (bool, error) {
	valid, err := totp.ValidateCustom(code, secretBase32, t, totp.ValidateOpts{
		Period:    Period,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		return false, fmt.Errorf("failed to validate TOTP code: %w", err)
	}
	return valid, nil
}

// TimeStep returns the TOTP step counter for t. Accepted steps are tracked
// per user so the same code cannot be replayed within its window.
func TimeStep(t time.Time) int64 {
	return t.Unix() / Period
}

// GenerateEmailOTP returns a uniformly random 6-digit code for email
// delivery. Independent of TOTP stepping.
func (g *Generator) GenerateEmailOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrGeneration, err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// GenerateBackupCodes returns count random 8-character codes, unique within
// the batch. Plaintext is shown to the user exactly once; callers must hash
// before storage.
func (g *Generator) GenerateBackupCodes(count int) ([]string, error) {
	codes := make([]string, 0, count)
	seen := make(map[string]struct{}, count)

	for len(codes) < count {
		code, err := g.generateBackupCode()
		if err != nil {
			return nil, err
		}
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		codes = append(codes, code)
	}

	return codes, nil
}

func (g *Generator) generateBackupCode() (string, error) {
	charsetLen := big.NewInt(int64(len(backupCodeCharset)))
	code := make([]byte, backupCodeLength)
	for i := range code {
		n, err := rand.Int(rand.Reader, charsetLen)
		if err != nil {
			return "", fmt.Errorf("%w: %v", models.ErrGeneration, err)
		}
		code[i] = backupCodeCharset[n.Int64()]
	}
	return string(code), nil
}

// EncryptSecret encrypts a TOTP secret with AES-256-GCM.
// Returns (ciphertext, nonce).
func (g *Generator) EncryptSecret(secret []byte) ([]byte, []byte, error) {
	block, err := aes.NewCipher(g.encryptionKey)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", models.ErrGeneration, err)
	}

	return gcm.Seal(nil, nonce, secret, nil), nonce, nil
}

// DecryptSecret reverses EncryptSecret.
func (g *Generator) DecryptSecret(ciphertext, nonce []byte) ([]byte, error) {
	block, err := aes.NewCipher(g.encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt secret: %w", err)
	}

	return plaintext, nil
}
