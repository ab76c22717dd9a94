// Package token mints and validates the signed tokens used for sessions
// and password resets.
package token

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken     = errors.New("invalid_token")
	ErrExpiredToken     = errors.New("expired_token")
	ErrTokenNotFound    = errors.New("token_not_found")
	ErrInvalidClaims    = errors.New("invalid_claims")
	ErrTokenNotYetValid = errors.New("token_not_yet_valid")
)

const (
	// SessionTTL applies to every session mint, whether the session comes
	// from OTP verification or from login.
	SessionTTL = 24 * time.Hour

	// ResetTTL bounds the password-reset window.
	ResetTTL = 1 * time.Hour
)

// SessionClaims carries the identity and role of an authenticated caller.
type SessionClaims struct {
	Email string `json:"email"`
	Role  string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

type Service struct {
	secretKey []byte
	issuer    string
}

func New() *Service {
	issuer := envOrDefault("JWT_ISSUER", "crisis-api")
	secret := envOrDefault("JWT_SECRET", "development-only-secret")

	return &Service{
		secretKey: []byte(secret),
		issuer:    issuer,
	}
}

// NewWithSecret builds a Service with an explicit secret and issuer.
func NewWithSecret(secret []byte, issuer string) *Service {
	return &Service{secretKey: secret, issuer: issuer}
}

func envOrDefault(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

// MintSessionToken produces a signed session token for the user.
func (s *Service) MintSessionToken(userID, email, role string) (string, error) {
	now := time.Now()
	claims := SessionClaims{
		Email: email,
		Role:  role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(SessionTTL)),
		},
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secretKey)
}

// MintResetToken produces a signed password-reset token carrying only the
// user id. Validity is additionally checked against the copy stored on
// the user record, which is what makes the token single-use.
func (s *Service) MintResetToken(userID string) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		Issuer:    s.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ResetTTL)),
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secretKey)
}

// ParseSessionToken parses and validates a session token.
func (s *Service) ParseSessionToken(ctx context.Context, tokenString string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	if err := s.parse(tokenString, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// ParseResetToken parses and validates a reset token and returns the user
// id it was minted for.
func (s *Service) ParseResetToken(ctx context.Context, tokenString string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	if err := s.parse(tokenString, claims); err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", ErrInvalidClaims
	}
	return claims.Subject, nil
}

func (s *Service) parse(tokenString string, claims jwt.Claims) error {
	if tokenString == "" {
		return ErrTokenNotFound
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithStrictDecoding(),
		jwt.WithIssuer(s.issuer),
	)

	token, err := parser.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secretKey, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return ErrExpiredToken
		case errors.Is(err, jwt.ErrTokenNotValidYet):
			return ErrTokenNotYetValid
		case errors.Is(err, jwt.ErrTokenMalformed):
			return ErrInvalidToken
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return ErrInvalidToken
		case errors.Is(err, jwt.ErrTokenInvalidClaims):
			return ErrInvalidClaims
		default:
			return ErrInvalidToken
		}
	}

	if !token.Valid {
		return ErrInvalidToken
	}

	return nil
}
