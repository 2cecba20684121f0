package auth

import (
	"fmt"
	"time"

	"github.com/BradenHooton/totpguard/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenManager validates the host application's session tokens. Issuing is kept
// here too so the host login flow and tests share one implementation.
type TokenManager struct {
	secret            string
	accessTokenExpiry time.Duration
	pendingExpiry     time.Duration
}

// NewTokenManager creates a new TokenManager
func NewTokenManager(secret string, accessExpiry, pendingExpiry time.Duration) *TokenManager {
	return &TokenManager{
		secret:            secret,
		accessTokenExpiry: accessExpiry,
		pendingExpiry:     pendingExpiry,
	}
}

// GenerateAccessToken creates a session token for a user who passed every factor
func (tm *TokenManager) GenerateAccessToken(userID int64, email string) (string, error) {
	return tm.generate(models.TokenTypeAccess, userID, email, tm.accessTokenExpiry)
}

// GenerateTwoFactorPendingToken creates a session token for a user who still owes a TOTP code
func (tm *TokenManager) GenerateTwoFactorPendingToken(userID int64, email string) (string, error) {
	return tm.generate(models.TokenTypeTwoFactorPending, userID, email, tm.pendingExpiry)
}

func (tm *TokenManager) generate(tokenType string, userID int64, email string, expiry time.Duration) (string, error) {
	now := time.Now()
	claims := &models.TokenClaims{
		Type:   tokenType,
		UserID: userID,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	tokenString, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(tm.secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign %s token: %w", tokenType, err)
	}

	return tokenString, nil
}

// ValidateToken verifies a token and returns its claims
func (tm *TokenManager) ValidateToken(tokenString string) (*models.TokenClaims, error) {
	claims := &models.TokenClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(tm.secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	if !token.Valid {
		return nil, models.ErrUnauthorized
	}

	if claims.Type == "" || claims.UserID <= 0 {
		return nil, fmt.Errorf("invalid token: missing type or subject")
	}

	return claims, nil
}
