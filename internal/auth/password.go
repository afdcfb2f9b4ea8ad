// Package auth provides admin credential checks and signed session tokens.
package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/tbourn/go-newsletter-backend/internal/repo"
)

// Credential verification errors.
var (
	ErrInvalidUsername = errors.New("auth: unknown username")
	ErrInvalidPassword = errors.New("auth: invalid password")
)

// dummyHash is compared against when the username is unknown so that both
// failure paths spend one bcrypt comparison.
var (
	dummyOnce sync.Once
	dummyHash []byte
)

func dummy() []byte {
	dummyOnce.Do(func() {
		dummyHash, _ = bcrypt.GenerateFromPassword([]byte("not-a-real-password"), bcrypt.DefaultCost)
	})
	return dummyHash
}

// HashPassword returns a bcrypt hash of password at the given cost
// (bcrypt.DefaultCost when cost is 0).
func HashPassword(password string, cost int) (string, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	b, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(b), nil
}

// CheckPassword reports whether password matches hash.
func CheckPassword(hash, password string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrInvalidPassword
		}
		return fmt.Errorf("compare password: %w", err)
	}
	return nil
}

// Verifier checks admin credentials against the users table.
type Verifier struct {
	DB *gorm.DB
}

// Verify returns the user ID for a matching username and password, or
// ErrInvalidUsername / ErrInvalidPassword.
func (v *Verifier) Verify(ctx context.Context, username, password string) (string, error) {
	ctx, span := otel.Tracer("auth/Verifier").Start(ctx, "Verify")
	defer span.End()

	u, err := repo.GetUserByUsername(ctx, v.DB, username)
	if errors.Is(err, repo.ErrNotFound) {
		_ = bcrypt.CompareHashAndPassword(dummy(), []byte(password))
		return "", ErrInvalidUsername
	}
	if err != nil {
		return "", fmt.Errorf("load user: %w", err)
	}
	if err := CheckPassword(u.PasswordHash, password); err != nil {
		return "", err
	}
	return u.UserID, nil
}
