// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small aggregate queries used for
// conditional responses (ETag generation) in the HTTP layer.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-newsletter-backend/internal/domain"
)

// IssuesStats returns the number of published issues and the greatest
// PublishedAt among them. When no issue exists, count is 0 and latest is nil.
func IssuesStats(ctx context.Context, db *gorm.DB) (count int64, latest *time.Time, err error) {
	q := db.WithContext(ctx).Model(&domain.NewsletterIssue{})

	if err = q.Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// Get latest published_at (avoid MAX() -> TEXT in SQLite)
	var row struct {
		PublishedAt time.Time
	}
	if err = db.WithContext(ctx).Model(&domain.NewsletterIssue{}).
		Select("published_at").Order("published_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.PublishedAt, nil
}

// QueueDepth returns the number of delivery tasks still waiting, optionally
// restricted to one issue when issueID is non-empty.
func QueueDepth(ctx context.Context, db *gorm.DB, issueID string) (int64, error) {
	var n int64
	q := db.WithContext(ctx).Model(&domain.DeliveryTask{})
	if issueID != "" {
		q = q.Where("issue_id = ?", issueID)
	}
	err := q.Count(&n).Error
	return n, err
}
