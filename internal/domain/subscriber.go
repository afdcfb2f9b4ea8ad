package domain

import (
	"errors"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"golang.org/x/text/unicode/norm"
)

// SubscriberNameMaxLen caps a subscriber name, counted in characters after
// NFC normalization.
const SubscriberNameMaxLen = 256

// ForbiddenNameCharacters may not appear in a subscriber name.
const ForbiddenNameCharacters = `/()"<>\{}`

// Subscriber validation errors.
var (
	ErrEmailEmpty       = errors.New("subscriber email is empty")
	ErrEmailInvalid     = errors.New("subscriber email is not a valid address")
	ErrNameEmpty        = errors.New("subscriber name is empty")
	ErrNameTooLong      = errors.New("subscriber name is too long")
	ErrNameIllegalChars = errors.New("subscriber name contains an illegal character")
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func emailValidator() *validator.Validate {
	validateOnce.Do(func() { validate = validator.New() })
	return validate
}

// SubscriberEmail is an address that passed validation.
type SubscriberEmail string

// ParseSubscriberEmail validates s as an email address. It is used both on
// sign-up and by the delivery worker, which re-validates stored addresses
// before sending.
func ParseSubscriberEmail(s string) (SubscriberEmail, error) {
	if strings.TrimSpace(s) == "" {
		return "", ErrEmailEmpty
	}
	if err := emailValidator().Var(s, "email"); err != nil {
		return "", ErrEmailInvalid
	}
	return SubscriberEmail(s), nil
}

// String returns the address.
func (e SubscriberEmail) String() string { return string(e) }

// SubscriberName is a display name that passed validation.
type SubscriberName string

// ParseSubscriberName normalizes s to NFC and validates it.
func ParseSubscriberName(s string) (SubscriberName, error) {
	if strings.TrimSpace(s) == "" {
		return "", ErrNameEmpty
	}
	s = norm.NFC.String(s)
	if utf8.RuneCountInString(s) > SubscriberNameMaxLen {
		return "", ErrNameTooLong
	}
	if strings.ContainsAny(s, ForbiddenNameCharacters) {
		return "", ErrNameIllegalChars
	}
	return SubscriberName(s), nil
}

// String returns the name.
func (n SubscriberName) String() string { return string(n) }

// NewSubscriber is a validated sign-up request.
type NewSubscriber struct {
	Email SubscriberEmail
	Name  SubscriberName
}

// ParseNewSubscriber validates both fields of a sign-up form.
func ParseNewSubscriber(name, email string) (NewSubscriber, error) {
	n, err := ParseSubscriberName(name)
	if err != nil {
		return NewSubscriber{}, err
	}
	e, err := ParseSubscriberEmail(email)
	if err != nil {
		return NewSubscriber{}, err
	}
	return NewSubscriber{Email: e, Name: n}, nil
}
