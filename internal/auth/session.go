package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidSession is returned for a missing, malformed, expired or
// forged session token.
var ErrInvalidSession = errors.New("auth: invalid session")

const sessionIssuer = "go-newsletter-backend"

// Sessions issues and parses HS256 session tokens.
type Sessions struct {
	Secret []byte
	TTL    time.Duration
	Now    func() time.Time
}

// NewSessions returns a Sessions using secret and ttl.
func NewSessions(secret string, ttl time.Duration) *Sessions {
	return &Sessions{Secret: []byte(secret), TTL: ttl, Now: time.Now}
}

func (s *Sessions) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

// Issue signs a token for userID and returns it with its expiry.
func (s *Sessions) Issue(userID string) (string, time.Time, error) {
	now := s.now().UTC()
	exp := now.Add(s.TTL)
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    sessionIssuer,
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	signed, err := tok.SignedString(s.Secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign session: %w", err)
	}
	return signed, exp, nil
}

// Parse validates raw and returns the user ID it was issued for.
func (s *Sessions) Parse(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrInvalidSession
	}
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return s.Secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(sessionIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidSession, err)
	}
	if claims.Subject == "" {
		return "", ErrInvalidSession
	}
	return claims.Subject, nil
}
