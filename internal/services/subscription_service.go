// Package services – SubscriptionService
//
// Sign-up stores a pending subscriber and a confirmation token in one
// transaction, then emails the confirmation link. Following the link marks
// the subscriber confirmed, which makes them eligible for the next issue.
package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel"
	"gorm.io/gorm"

	"github.com/tbourn/go-newsletter-backend/internal/domain"
	"github.com/tbourn/go-newsletter-backend/internal/repo"
)

// SubscriptionTokenLen is the length of a confirmation token.
const SubscriptionTokenLen = 25

const tokenAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// EmailSender delivers one message. *email.Client implements it.
type EmailSender interface {
	Send(ctx context.Context, recipient domain.SubscriberEmail, subject, html, text string) error
}

// SubscriptionService handles sign-up and confirmation.
type SubscriptionService struct {
	DB      *gorm.DB
	Email   EmailSender
	BaseURL string
}

// NewSubscriptionService constructs a SubscriptionService. baseURL is the
// public origin used in confirmation links.
func NewSubscriptionService(db *gorm.DB, sender EmailSender, baseURL string) *SubscriptionService {
	return &SubscriptionService{DB: db, Email: sender, BaseURL: strings.TrimRight(baseURL, "/")}
}

// Subscribe registers a pending subscriber and sends the confirmation email.
func (s *SubscriptionService) Subscribe(ctx context.Context, name, email string) error {
	ctx, span := otel.Tracer("services/SubscriptionService").Start(ctx, "Subscribe")
	defer span.End()

	ns, err := domain.ParseNewSubscriber(name, email)
	if err != nil {
		return newErr(KindValidation, err.Error(), err)
	}

	token, err := generateSubscriptionToken()
	if err != nil {
		return newErr(KindInfrastructure, "could not generate token", err)
	}

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub, err := repo.CreateSubscriber(ctx, tx, ns)
		if err != nil {
			return err
		}
		return repo.StoreSubscriptionToken(ctx, tx, sub.ID, token)
	})
	if err != nil {
		if repo.IsUniqueViolation(err) {
			return newErr(KindConflict, "email is already subscribed", err)
		}
		return newErr(KindInfrastructure, "could not store subscriber", err)
	}

	if err := s.sendConfirmation(ctx, ns.Email, token); err != nil {
		return newErr(KindInfrastructure, "could not send confirmation email", err)
	}
	return nil
}

// ConfirmationLink returns the link mailed to a new subscriber.
func (s *SubscriptionService) ConfirmationLink(token string) string {
	return s.BaseURL + "/subscriptions/confirm?subscription_token=" + url.QueryEscape(token)
}

func (s *SubscriptionService) sendConfirmation(ctx context.Context, to domain.SubscriberEmail, token string) error {
	link := s.ConfirmationLink(token)
	html := fmt.Sprintf(`Welcome to our newsletter!<br />Click <a href="%s">here</a> to confirm your subscription.`, link)
	text := fmt.Sprintf("Welcome to our newsletter!\nVisit %s to confirm your subscription.", link)
	return s.Email.Send(ctx, to, "Welcome!", html, text)
}

// Confirm marks the subscriber owning token as confirmed.
func (s *SubscriptionService) Confirm(ctx context.Context, token string) error {
	ctx, span := otel.Tracer("services/SubscriptionService").Start(ctx, "Confirm")
	defer span.End()

	token = strings.TrimSpace(token)
	if token == "" {
		return newErr(KindValidation, "subscription_token is required", ErrBlankField)
	}
	id, err := repo.GetSubscriberIDFromToken(ctx, s.DB, token)
	if errors.Is(err, repo.ErrNotFound) {
		return newErr(KindUnauthenticated, "unknown subscription token", ErrUnknownToken)
	}
	if err != nil {
		return newErr(KindInfrastructure, "could not resolve token", err)
	}
	if err := repo.ConfirmSubscriber(ctx, s.DB, id); err != nil {
		return newErr(KindInfrastructure, "could not confirm subscriber", err)
	}
	return nil
}

// ListConfirmedEmails returns every confirmed address.
func (s *SubscriptionService) ListConfirmedEmails(ctx context.Context) ([]string, error) {
	out, err := repo.ListConfirmedEmails(ctx, s.DB)
	if err != nil {
		return nil, newErr(KindInfrastructure, "could not list subscribers", err)
	}
	if out == nil {
		out = []string{}
	}
	return out, nil
}

func generateSubscriptionToken() (string, error) {
	var b strings.Builder
	b.Grow(SubscriptionTokenLen)
	max := big.NewInt(int64(len(tokenAlphabet)))
	for i := 0; i < SubscriptionTokenLen; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(tokenAlphabet[n.Int64()])
	}
	return b.String(), nil
}
