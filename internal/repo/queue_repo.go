// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file holds the row-level operations behind the
// delivery queue.
package repo

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-newsletter-backend/internal/domain"
)

// ClaimDeliveryTask selects one pending task inside tx, or returns
// (nil, nil) when the queue is empty.
//
// On Postgres the row is locked with FOR UPDATE SKIP LOCKED, so rows
// claimed by other open transactions are invisible here. SQLite has no row
// locks; callers rely on the immediate transaction holding the writer lock.
func ClaimDeliveryTask(ctx context.Context, tx *gorm.DB) (*domain.DeliveryTask, error) {
	q := tx.WithContext(ctx).Model(&domain.DeliveryTask{}).Limit(1)
	if IsPostgres(tx) {
		q = q.Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate, Options: clause.LockingOptionsSkipLocked})
	}
	var rows []domain.DeliveryTask
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// DeleteDeliveryTask removes one task. Deleting a missing row is not an
// error.
func DeleteDeliveryTask(ctx context.Context, tx *gorm.DB, issueID, email string) error {
	return tx.WithContext(ctx).
		Where("issue_id = ? AND subscriber_email = ?", issueID, email).
		Delete(&domain.DeliveryTask{}).Error
}
