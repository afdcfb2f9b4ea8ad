// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for subscribers
// and their confirmation tokens.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-newsletter-backend/internal/domain"
)

// CreateSubscriber inserts a subscriber in the pending_confirmation state.
func CreateSubscriber(ctx context.Context, db *gorm.DB, ns domain.NewSubscriber) (*domain.Subscriber, error) {
	s := &domain.Subscriber{
		ID:           uuid.NewString(),
		Email:        ns.Email.String(),
		Name:         ns.Name.String(),
		SubscribedAt: time.Now().UTC(),
		Status:       domain.StatusPendingConfirmation,
	}
	if err := db.WithContext(ctx).Create(s).Error; err != nil {
		return nil, err
	}
	return s, nil
}

// StoreSubscriptionToken links token to subscriberID.
func StoreSubscriptionToken(ctx context.Context, db *gorm.DB, subscriberID, token string) error {
	return db.WithContext(ctx).Create(&domain.SubscriptionToken{
		Token:        token,
		SubscriberID: subscriberID,
	}).Error
}

// GetSubscriberIDFromToken resolves a token, or returns ErrNotFound.
func GetSubscriberIDFromToken(ctx context.Context, db *gorm.DB, token string) (string, error) {
	var t domain.SubscriptionToken
	if err := db.WithContext(ctx).Where("subscription_token = ?", token).First(&t).Error; err != nil {
		return "", err
	}
	return t.SubscriberID, nil
}

// ConfirmSubscriber marks a subscriber as confirmed. Confirming twice is a
// no-op; an unknown ID returns ErrNotFound.
func ConfirmSubscriber(ctx context.Context, db *gorm.DB, subscriberID string) error {
	res := db.WithContext(ctx).
		Model(&domain.Subscriber{}).
		Where("id = ?", subscriberID).
		Update("status", domain.StatusConfirmed)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListConfirmedEmails returns the addresses of all confirmed subscribers,
// sorted.
func ListConfirmedEmails(ctx context.Context, db *gorm.DB) ([]string, error) {
	var out []string
	err := db.WithContext(ctx).
		Model(&domain.Subscriber{}).
		Where("status = ?", domain.StatusConfirmed).
		Order("email asc").
		Pluck("email", &out).Error
	return out, err
}

// IsUniqueViolation reports whether err is a unique/primary key violation
// on either SQLite or Postgres.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	// glebarez/sqlite often returns plain-text errors for UNIQUE violations.
	low := strings.ToLower(err.Error())
	return errors.Is(err, gorm.ErrDuplicatedKey) ||
		strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique") ||
		strings.Contains(low, "duplicate key value violates unique constraint")
}
