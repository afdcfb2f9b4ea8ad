// Package services – AccountService
//
// Admin login, password change and the start-up admin seed.
package services

import (
	"context"
	"errors"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"gorm.io/gorm"

	"github.com/tbourn/go-newsletter-backend/internal/auth"
	"github.com/tbourn/go-newsletter-backend/internal/domain"
	"github.com/tbourn/go-newsletter-backend/internal/repo"
)

// Accepted length of a new password, in characters.
const (
	PasswordMinLen = 12
	PasswordMaxLen = 128
)

// AccountService manages admin users.
type AccountService struct {
	DB       *gorm.DB
	Verifier *auth.Verifier
	// BcryptCost is passed to auth.HashPassword; 0 means the bcrypt default.
	BcryptCost int
}

// NewAccountService constructs an AccountService.
func NewAccountService(db *gorm.DB) *AccountService {
	return &AccountService{DB: db, Verifier: &auth.Verifier{DB: db}}
}

// Login verifies credentials and returns the user ID.
func (s *AccountService) Login(ctx context.Context, username, password string) (string, error) {
	ctx, span := otel.Tracer("services/AccountService").Start(ctx, "Login")
	defer span.End()

	id, err := s.Verifier.Verify(ctx, username, password)
	switch {
	case err == nil:
		return id, nil
	case errors.Is(err, auth.ErrInvalidUsername), errors.Is(err, auth.ErrInvalidPassword):
		return "", newErr(KindInvalidCredentials, "authentication failed", err)
	default:
		return "", newErr(KindInfrastructure, "could not verify credentials", err)
	}
}

// User returns the admin user with the given ID.
func (s *AccountService) User(ctx context.Context, userID string) (*domain.User, error) {
	u, err := repo.GetUserByID(ctx, s.DB, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, newErr(KindNotFound, "user not found", err)
	}
	if err != nil {
		return nil, newErr(KindInfrastructure, "could not load user", err)
	}
	return u, nil
}

// ChangePassword replaces the password of userID after checking the
// current one.
func (s *AccountService) ChangePassword(ctx context.Context, userID, current, next, nextCheck string) error {
	ctx, span := otel.Tracer("services/AccountService").Start(ctx, "ChangePassword")
	defer span.End()

	if next != nextCheck {
		return newErr(KindValidation, "You entered two different new passwords - the field values must match.", ErrPasswordMismatch)
	}
	if n := utf8.RuneCountInString(next); n < PasswordMinLen || n > PasswordMaxLen {
		return newErr(KindValidation, "The new password must be between 12 and 128 characters long.", ErrPasswordLength)
	}

	u, err := s.User(ctx, userID)
	if err != nil {
		return err
	}
	if _, err := s.Login(ctx, u.Username, current); err != nil {
		if KindOf(err) == KindInvalidCredentials {
			return newErr(KindInvalidCredentials, "The current password is incorrect.", err)
		}
		return err
	}

	hash, err := auth.HashPassword(next, s.BcryptCost)
	if err != nil {
		return newErr(KindInfrastructure, "could not hash password", err)
	}
	if err := repo.UpdatePasswordHash(ctx, s.DB, userID, hash); err != nil {
		return newErr(KindInfrastructure, "could not update password", err)
	}
	return nil
}

// SeedAdmin creates the admin user if no user with that name exists.
// It reports whether a user was created.
func (s *AccountService) SeedAdmin(ctx context.Context, username, password string) (bool, error) {
	if username == "" || password == "" {
		return false, nil
	}
	_, err := repo.GetUserByUsername(ctx, s.DB, username)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return false, newErr(KindInfrastructure, "could not look up admin", err)
	}

	hash, err := auth.HashPassword(password, s.BcryptCost)
	if err != nil {
		return false, newErr(KindInfrastructure, "could not hash password", err)
	}
	if _, err := repo.CreateUser(ctx, s.DB, username, hash); err != nil {
		if repo.IsUniqueViolation(err) {
			return false, nil
		}
		return false, newErr(KindInfrastructure, "could not create admin", err)
	}
	log.Info().Str("username", username).Msg("admin user seeded")
	return true, nil
}
