// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository helpers for the Idempotency
// model backing safe retries of the publish endpoint.
package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-newsletter-backend/internal/domain"
)

// InsertIdempotencyPlaceholder inserts an empty record for (userID, key)
// unless one already exists. It reports whether a row was inserted.
//
// Must be called inside a transaction. On Postgres a concurrent insert of
// the same pair blocks until the other transaction ends; on SQLite the
// immediate transaction already excludes other writers.
func InsertIdempotencyPlaceholder(ctx context.Context, tx *gorm.DB, userID, key string) (bool, error) {
	rec := &domain.Idempotency{
		UserID:         userID,
		IdempotencyKey: key,
		CreatedAt:      time.Now().UTC(),
	}
	res := tx.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(rec)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// GetIdempotency returns the record for (userID, key) or ErrNotFound.
func GetIdempotency(ctx context.Context, db *gorm.DB, userID, key string) (*domain.Idempotency, error) {
	var rec domain.Idempotency
	err := db.WithContext(ctx).
		Where("user_id = ? AND idempotency_key = ?", userID, key).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// SaveIdempotencyResponse fills in the response columns of a placeholder.
// Returns ErrNotFound when no placeholder row matches.
func SaveIdempotencyResponse(ctx context.Context, tx *gorm.DB, userID, key string, status int, headers domain.HeaderPairs, body []byte) error {
	if headers == nil {
		headers = domain.HeaderPairs{}
	}
	if body == nil {
		body = []byte{}
	}
	res := tx.WithContext(ctx).
		Model(&domain.Idempotency{}).
		Where("user_id = ? AND idempotency_key = ? AND response_status_code IS NULL", userID, key).
		Updates(map[string]any{
			"response_status_code": status,
			"response_headers":     headers,
			"response_body":        body,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// PurgeIdempotency deletes completed records created before cutoff and
// returns how many rows were removed.
func PurgeIdempotency(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Where("created_at < ? AND response_status_code IS NOT NULL", cutoff).
		Delete(&domain.Idempotency{})
	return res.RowsAffected, res.Error
}
