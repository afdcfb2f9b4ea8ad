// Package services defines the business logic for newsletter publishing,
// subscriptions and admin accounts.
//
// Every error a service returns to the HTTP layer is an *Error carrying a
// Kind. Handlers map the Kind to a status code with an exhaustive switch and
// never inspect error strings.
package services

import (
	"errors"
	"fmt"
)

// Kind classifies a service error.
type Kind int

const (
	// KindValidation: the request itself is malformed.
	KindValidation Kind = iota + 1
	// KindInvalidCredentials: username or password did not verify.
	KindInvalidCredentials
	// KindUnauthenticated: a token or session is unknown or expired.
	KindUnauthenticated
	// KindNotFound: the addressed entity does not exist.
	KindNotFound
	// KindConflict: the request collides with existing state.
	KindConflict
	// KindInfrastructure: database or transport failure; safe to retry.
	KindInfrastructure
	// KindInvariant: internal protocol misuse.
	KindInvariant
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindInvalidCredentials:
		return "invalid_credentials"
	case KindUnauthenticated:
		return "unauthenticated"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindInfrastructure:
		return "infrastructure"
	case KindInvariant:
		return "invariant"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error is the tagged error returned by services.
type Error struct {
	Kind Kind
	// Msg is safe to show to clients.
	Msg string
	Err error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Msg
	}
	return e.Msg + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

func newErr(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf returns the Kind of err, or KindInfrastructure when err is not a
// service error.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindInfrastructure
}

// Sentinel causes wrapped inside *Error values.
var (
	// ErrBlankField is returned when a required publish field is blank.
	ErrBlankField = errors.New("field must not be blank")

	// ErrPasswordMismatch is returned when the new password and its
	// confirmation differ.
	ErrPasswordMismatch = errors.New("new passwords do not match")

	// ErrPasswordLength is returned when a new password is outside the
	// accepted length range.
	ErrPasswordLength = errors.New("password length out of range")

	// ErrUnknownToken is returned when a confirmation token does not exist.
	ErrUnknownToken = errors.New("unknown subscription token")
)
