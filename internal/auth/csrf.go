package auth

import (
	"crypto/sha256"
	"fmt"
	"io"
	"slices"
	"strconv"
	"time"

	"github.com/BradenHooton/totpguard/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"
)

const csrfAudience = "totp-csrf"

// CSRFTokenManager issues CSRF tokens scoped to one user and one action.
// Tokens are signed, so no server-side token table is kept.
type CSRFTokenManager struct {
	key      []byte
	tokenTTL time.Duration
	now      func() time.Time
}

// NewCSRFTokenManager creates a new CSRF token manager. The key is derived from
// secret so the same secret can be shared with other signers.
func NewCSRFTokenManager(secret string, ttl time.Duration) (*CSRFTokenManager, error) {
	if len(secret) < minLinkSecretLength {
		return nil, fmt.Errorf("CSRF secret must be at least %d bytes", minLinkSecretLength)
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}

	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(csrfAudience)), key); err != nil {
		return nil, fmt.Errorf("failed to derive CSRF key: %w", err)
	}

	return &CSRFTokenManager{
		key:      key,
		tokenTTL: ttl,
		now:      time.Now,
	}, nil
}

// GenerateToken creates a new CSRF token for a user and action
func (m *CSRFTokenManager) GenerateToken(userID int64, action string) (string, error) {
	now := m.now()
	claims := &models.CSRFClaims{
		Action: action,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   strconv.FormatInt(userID, 10),
			Audience:  jwt.ClaimStrings{csrfAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.tokenTTL)),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign CSRF token: %w", err)
	}
	return token, nil
}

// ValidateToken checks that a CSRF token is unexpired and was issued for this user and action
func (m *CSRFTokenManager) ValidateToken(token string, userID int64, action string) bool {
	if token == "" {
		return false
	}

	claims := &models.CSRFClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return m.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(csrfAudience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return false
	}

	return claims.Action == action && claims.Subject == strconv.FormatInt(userID, 10)
}

// IsKnownAction reports whether action may be requested through the token endpoint
func IsKnownAction(action string) bool {
	return slices.Contains(models.CSRFActions, action)
}
