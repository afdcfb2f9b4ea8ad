// Package services – NewsletterService
//
// This file implements publishing of newsletter issues. A publish request is
// deduplicated by its idempotency key and, when it is new, processed in a
// single transaction that records the issue, enqueues one delivery task per
// confirmed subscriber and saves the acknowledgment for replay. Either all of
// that commits or none of it does.
package services

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-newsletter-backend/internal/domain"
	"github.com/tbourn/go-newsletter-backend/internal/idempotency"
	"github.com/tbourn/go-newsletter-backend/internal/repo"
)

// Acknowledgment sent for an accepted publish request.
const (
	PublishRedirectPath = "/admin/newsletters"
	PublishAcceptedMsg  = "The newsletter issue has been accepted - emails will go out shortly."
	FlashCookieName     = "flash"
)

// IssueRepo defines the repository contract required by NewsletterService.
type IssueRepo interface {
	// CreateIssue inserts a newsletter issue.
	CreateIssue(ctx context.Context, db *gorm.DB, title, text, html string) (*domain.NewsletterIssue, error)
	// EnqueueDeliveryTasks fans an issue out to every confirmed subscriber.
	EnqueueDeliveryTasks(ctx context.Context, db *gorm.DB, issueID string) (int64, error)
	// CountIssues returns the number of issues.
	CountIssues(ctx context.Context, db *gorm.DB) (int64, error)
	// ListIssuesPage returns a page of issues, newest first.
	ListIssuesPage(ctx context.Context, db *gorm.DB, offset, limit int) ([]domain.NewsletterIssue, error)
	// IssuesStats returns the count and latest publish time.
	IssuesStats(ctx context.Context, db *gorm.DB) (int64, *time.Time, error)
}

// RepoIssues adapts the repo package functions to IssueRepo.
type RepoIssues struct{}

func (RepoIssues) CreateIssue(ctx context.Context, db *gorm.DB, title, text, html string) (*domain.NewsletterIssue, error) {
	return repo.CreateIssue(ctx, db, title, text, html)
}

func (RepoIssues) EnqueueDeliveryTasks(ctx context.Context, db *gorm.DB, issueID string) (int64, error) {
	return repo.EnqueueDeliveryTasks(ctx, db, issueID)
}

func (RepoIssues) CountIssues(ctx context.Context, db *gorm.DB) (int64, error) {
	return repo.CountIssues(ctx, db)
}

func (RepoIssues) ListIssuesPage(ctx context.Context, db *gorm.DB, offset, limit int) ([]domain.NewsletterIssue, error) {
	return repo.ListIssuesPage(ctx, db, offset, limit)
}

func (RepoIssues) IssuesStats(ctx context.Context, db *gorm.DB) (int64, *time.Time, error) {
	return repo.IssuesStats(ctx, db)
}

// PublishInput is a publish request as received from the client.
type PublishInput struct {
	Title          string
	TextContent    string
	HTMLContent    string
	IdempotencyKey string
}

// AckFunc builds the response returned for an accepted issue.
type AckFunc func(issue *domain.NewsletterIssue) (status int, headers domain.HeaderPairs, body []byte)

// PublishAck redirects back to the issue list with a flash message.
func PublishAck(*domain.NewsletterIssue) (int, domain.HeaderPairs, []byte) {
	h := http.Header{}
	h.Set("Location", PublishRedirectPath)
	h.Add("Set-Cookie", (&http.Cookie{
		Name:     FlashCookieName,
		Value:    url.QueryEscape(PublishAcceptedMsg),
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}).String())
	return http.StatusSeeOther, idempotency.HeaderPairsFrom(h), []byte{}
}

// NewsletterService publishes and lists newsletter issues.
type NewsletterService struct {
	DB    *gorm.DB
	Store *idempotency.Store
	Repo  IssueRepo
	Ack   AckFunc
}

// NewNewsletterService constructs a NewsletterService backed by the repo
// package and the default acknowledgment.
func NewNewsletterService(db *gorm.DB, store *idempotency.Store) *NewsletterService {
	return &NewsletterService{DB: db, Store: store, Repo: RepoIssues{}, Ack: PublishAck}
}

// Publish validates in and either replays the saved response for its key or
// creates the issue and its delivery tasks in one transaction.
//
// The returned response must be written to the client as is.
func (s *NewsletterService) Publish(ctx context.Context, userID string, in PublishInput) (*idempotency.Response, error) {
	tr := otel.Tracer("services/NewsletterService")
	ctx, span := tr.Start(ctx, "Publish",
		trace.WithAttributes(attribute.String("user.id", userID)),
	)
	defer span.End()

	key, err := domain.ParseIdempotencyKey(in.IdempotencyKey)
	if err != nil {
		return nil, newErr(KindValidation, err.Error(), err)
	}
	for _, f := range [...]struct{ name, value string }{
		{"title", in.Title},
		{"text_content", in.TextContent},
		{"html_content", in.HTMLContent},
	} {
		if strings.TrimSpace(f.value) == "" {
			return nil, newErr(KindValidation, f.name+" must not be blank", ErrBlankField)
		}
	}

	next, err := s.Store.TryProcessing(ctx, userID, key)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "idempotency lookup failed")
		if errors.Is(err, idempotency.ErrSavedResponseMissing) {
			return nil, newErr(KindInvariant, "saved response missing for idempotency key", err)
		}
		return nil, newErr(KindInfrastructure, "could not start publishing", err)
	}
	if next.Saved != nil {
		span.SetAttributes(attribute.Bool("idempotency.replay", true))
		return next.Saved, nil
	}

	tx := next.Tx
	issue, err := s.Repo.CreateIssue(ctx, tx, in.Title, in.TextContent, in.HTMLContent)
	if err != nil {
		s.Store.Abort(tx)
		span.RecordError(err)
		return nil, newErr(KindInfrastructure, "could not store newsletter issue", err)
	}
	tasks, err := s.Repo.EnqueueDeliveryTasks(ctx, tx, issue.IssueID)
	if err != nil {
		s.Store.Abort(tx)
		span.RecordError(err)
		return nil, newErr(KindInfrastructure, "could not enqueue delivery tasks", err)
	}

	status, headers, body := s.Ack(issue)
	resp, err := s.Store.Complete(ctx, tx, userID, key, status, headers, bytes.NewReader(body))
	if err != nil {
		span.RecordError(err)
		return nil, newErr(KindInfrastructure, "could not commit newsletter issue", err)
	}

	span.SetAttributes(
		attribute.String("issue.id", issue.IssueID),
		attribute.Int64("delivery.tasks", tasks),
	)
	log.Info().
		Str("issue_id", issue.IssueID).
		Str("user_id", userID).
		Int64("tasks", tasks).
		Msg("newsletter issue published")
	return resp, nil
}

// ListPage returns a page of published issues and the total count.
func (s *NewsletterService) ListPage(ctx context.Context, page, pageSize int) ([]domain.NewsletterIssue, int64, error) {
	tr := otel.Tracer("services/NewsletterService")
	ctx, span := tr.Start(ctx, "ListPage",
		trace.WithAttributes(
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	total, err := s.Repo.CountIssues(ctx, s.DB)
	if err != nil {
		return nil, 0, newErr(KindInfrastructure, "could not count issues", err)
	}
	if total == 0 {
		return []domain.NewsletterIssue{}, 0, nil
	}
	items, err := s.Repo.ListIssuesPage(ctx, s.DB, offset, pageSize)
	if err != nil {
		return nil, 0, newErr(KindInfrastructure, "could not list issues", err)
	}
	return items, total, nil
}

// Stats returns the number of issues and the latest publish time, for
// conditional responses.
func (s *NewsletterService) Stats(ctx context.Context) (int64, *time.Time, error) {
	return s.Repo.IssuesStats(ctx, s.DB)
}
