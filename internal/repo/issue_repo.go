// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for newsletter
// issues and the fan-out of an issue into delivery tasks.
//
// All functions are context-aware and accept a *gorm.DB handle, so they can
// run inside a caller's transaction. They hold no business logic.
//
// Error semantics:
//   - A missing issue is reported as ErrNotFound (gorm.ErrRecordNotFound).
//   - Other database errors are returned unchanged.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-newsletter-backend/internal/domain"
)

// CreateIssue inserts a newsletter issue with a fresh UUID and a UTC
// published_at timestamp.
func CreateIssue(ctx context.Context, db *gorm.DB, title, text, html string) (*domain.NewsletterIssue, error) {
	is := &domain.NewsletterIssue{
		IssueID:     uuid.NewString(),
		Title:       title,
		TextContent: text,
		HTMLContent: html,
		PublishedAt: time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(is).Error; err != nil {
		return nil, err
	}
	return is, nil
}

// GetIssue fetches an issue by ID, or ErrNotFound.
func GetIssue(ctx context.Context, db *gorm.DB, issueID string) (*domain.NewsletterIssue, error) {
	var is domain.NewsletterIssue
	if err := db.WithContext(ctx).Where("issue_id = ?", issueID).First(&is).Error; err != nil {
		return nil, err
	}
	return &is, nil
}

// CountIssues returns the number of published issues.
func CountIssues(ctx context.Context, db *gorm.DB) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Model(&domain.NewsletterIssue{}).Count(&total).Error
	return total, err
}

// ListIssuesPage returns a page of issues, newest first.
//
// The caller is responsible for computing offset and limit (e.g., (page-1)*pageSize).
func ListIssuesPage(ctx context.Context, db *gorm.DB, offset, limit int) ([]domain.NewsletterIssue, error) {
	var out []domain.NewsletterIssue
	err := db.WithContext(ctx).
		Order("published_at desc, issue_id desc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// EnqueueDeliveryTasks inserts one delivery task per subscriber that is
// confirmed at the time of the statement, as a single INSERT ... SELECT.
// It returns the number of tasks created.
func EnqueueDeliveryTasks(ctx context.Context, db *gorm.DB, issueID string) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO issue_delivery_queue (issue_id, subscriber_email)
		 SELECT ?, email FROM subscriptions WHERE status = ?`,
		issueID, domain.StatusConfirmed,
	)
	return res.RowsAffected, res.Error
}
