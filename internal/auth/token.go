package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/twofold-auth/twofold/internal/models"
)

// Claims are the JWT claims this subsystem reads and writes. Type is
// "access" for platform access tokens and "mfa" for verified assertions.
type Claims struct {
	UserID string        `json:"user_id"`
	Email  string        `json:"email"`
	Role   string        `json:"role,omitempty"`
	Method models.Method `json:"method,omitempty"`
	Type   string        `json:"type"`
	jwt.RegisteredClaims
}

// TokenManager validates platform access tokens on protected routes and
// issues the short-lived verified assertion consumed by the login flow
// after a successful MFA check.
type TokenManager struct {
	secret            []byte
	assertionLifetime time.Duration
}

// NewTokenManager creates a new TokenManager
func NewTokenManager(secret string, assertionLifetime time.Duration) *TokenManager {
	return &TokenManager{
		secret:            []byte(secret),
		assertionLifetime: assertionLifetime,
	}
}

// IssueAssertion signs a verified assertion for the user. The jti lets the
// login flow deduplicate assertions if it chooses to.
func (tm *TokenManager) IssueAssertion(userID string, method models.Method) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: userID,
		Method: method,
		Type:   "mfa",
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tm.assertionLifetime)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(tm.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign assertion: %w", err)
	}

	return signed, nil
}

// ValidateToken parses and verifies a token of either type.
func (tm *TokenManager) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return tm.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	return claims, nil
}
