// Package auth issues and verifies session tokens and hashes passwords.
//
// Tokens are HS256 JWTs carrying the user id and role. They are stateless:
// validity is decided by the signature and expiry alone.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidSignature is returned when a token was not signed with our secret.
	ErrInvalidSignature = errors.New("invalid token signature")
	// ErrExpired is returned for tokens whose expiry has elapsed.
	ErrExpired = errors.New("token expired")
	// ErrMalformed is returned for anything that does not parse as a JWT.
	ErrMalformed = errors.New("malformed token")
)

// Claims are the identity fields carried by a session token.
type Claims struct {
	jwt.RegisteredClaims
	UserID string `json:"id"`
	Role   string `json:"role"`
}

// TokenService signs and verifies session tokens with a process-wide secret.
type TokenService struct {
	secret []byte
	ttl    time.Duration
	issuer string
	now    func() time.Time
}

// NewTokenService builds a TokenService. ttl <= 0 falls back to 24h.
func NewTokenService(secret string, ttl time.Duration, issuer string) *TokenService {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &TokenService{
		secret: []byte(secret),
		ttl:    ttl,
		issuer: issuer,
		now:    time.Now,
	}
}

// Issue signs a token for userID with role. Nothing else about the user is
// embedded.
func (s *TokenService) Issue(userID, role string) (string, error) {
	if len(s.secret) == 0 {
		return "", errors.New("token secret is empty")
	}
	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
		UserID: userID,
		Role:   role,
	})
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify checks the token and returns its claims. Expired tokens yield
// ErrExpired whether or not the signature matches; otherwise a bad signature
// yields ErrInvalidSignature.
func (s *TokenService) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	switch {
	case err == nil && token.Valid:
		if claims.UserID == "" {
			return nil, ErrMalformed
		}
		return claims, nil
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		if s.expiredUnverified(tokenString) {
			return nil, ErrExpired
		}
		return nil, ErrInvalidSignature
	case err == nil:
		return nil, ErrInvalidSignature
	default:
		return nil, ErrMalformed
	}
}

// expiredUnverified reads exp without checking the signature.
func (s *TokenService) expiredUnverified(tokenString string) bool {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return false
	}
	return claims.ExpiresAt != nil && !s.now().Before(claims.ExpiresAt.Time)
}
