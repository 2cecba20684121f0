package auth

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"time"

	"github.com/BradenHooton/totpguard/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"
)

// SignatureParam is the query parameter carrying the link signature
const SignatureParam = "signature"

const minLinkSecretLength = 32

// LinkSigner issues and validates stateless signed URLs bound to one subject.
//
// The subject's id and email are not trusted from the URL. They are mixed into the
// signing key, so validation recomputes the key from the account as it is now and a
// changed email invalidates every link issued before the change.
type LinkSigner struct {
	secret   []byte
	baseURL  string
	lifetime time.Duration
	now      func() time.Time
}

// NewLinkSigner creates a signer for links pointing at baseURL
func NewLinkSigner(secret, baseURL string, lifetime time.Duration) (*LinkSigner, error) {
	if len(secret) < minLinkSecretLength {
		return nil, fmt.Errorf("link signing key must be at least %d bytes", minLinkSecretLength)
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid link base URL: %w", err)
	}
	if lifetime <= 0 {
		return nil, fmt.Errorf("link lifetime must be positive")
	}

	return &LinkSigner{
		secret:   []byte(secret),
		baseURL:  baseURL,
		lifetime: lifetime,
		now:      time.Now,
	}, nil
}

// subjectKey derives the HMAC key for one (action, id, email) triple. The email is
// used exactly as stored, so any change to it voids outstanding links.
func (s *LinkSigner) subjectKey(action string, userID int64, email string) ([]byte, error) {
	info := action + "|" + strconv.FormatInt(userID, 10) + "|" + email
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, s.secret, nil, []byte(info)), key); err != nil {
		return nil, fmt.Errorf("failed to derive link key: %w", err)
	}
	return key, nil
}

// Sign issues a link for action on behalf of the subject. Extra values are added to the
// query string and covered by the signature.
func (s *LinkSigner) Sign(action string, userID int64, email string, extra map[string]string) (*models.SignedLink, error) {
	key, err := s.subjectKey(action, userID, email)
	if err != nil {
		return nil, err
	}

	now := s.now()
	expiresAt := now.Add(s.lifetime)
	claims := &models.RecoveryClaims{
		Action: action,
		Extra:  extra,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signature, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign link: %w", err)
	}

	query := url.Values{}
	for k, v := range extra {
		query.Set(k, v)
	}
	query.Set(SignatureParam, signature)

	return &models.SignedLink{
		URL:       s.baseURL + "?" + query.Encode(),
		ExpiresAt: expiresAt,
		ExpiresIn: s.lifetime,
	}, nil
}

// Validate checks a redeemed link's query against the subject's current id and email.
// Every failure wraps models.ErrInvalidOrExpiredLink.
func (s *LinkSigner) Validate(action string, query url.Values, userID int64, email string) error {
	signature := query.Get(SignatureParam)
	if signature == "" {
		return fmt.Errorf("%w: missing signature", models.ErrInvalidOrExpiredLink)
	}

	key, err := s.subjectKey(action, userID, email)
	if err != nil {
		return err
	}

	claims := &models.RecoveryClaims{}
	_, err = jwt.ParseWithClaims(signature, claims, func(token *jwt.Token) (interface{}, error) {
		return key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return fmt.Errorf("%w: expired", models.ErrInvalidOrExpiredLink)
		}
		return fmt.Errorf("%w: %v", models.ErrInvalidOrExpiredLink, err)
	}

	if claims.Action != action || claims.Subject != strconv.FormatInt(userID, 10) {
		return fmt.Errorf("%w: subject or action mismatch", models.ErrInvalidOrExpiredLink)
	}

	// The query must carry exactly the values that were signed
	for k, v := range claims.Extra {
		if query.Get(k) != v {
			return fmt.Errorf("%w: parameter %q was modified", models.ErrInvalidOrExpiredLink, k)
		}
	}

	return nil
}
