// Package handlers exposes the newsletter endpoints:
//
//   - POST /subscriptions, GET /subscriptions/confirm
//   - GET  /login, POST /login
//   - GET  /admin/dashboard, GET|POST /admin/password, POST /admin/logout
//   - GET  /admin/newsletters, POST /admin/newsletters
//
// Handlers are transport-thin: they read form input, call a service and turn
// the result (or the service error's Kind) into an HTTP response.
package handlers

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-newsletter-backend/internal/domain"
	"github.com/tbourn/go-newsletter-backend/internal/http/middleware"
	"github.com/tbourn/go-newsletter-backend/internal/idempotency"
	"github.com/tbourn/go-newsletter-backend/internal/services"
	"github.com/tbourn/go-newsletter-backend/internal/utils"
)

// NewsletterService publishes and lists issues.
type NewsletterService interface {
	Publish(ctx context.Context, userID string, in services.PublishInput) (*idempotency.Response, error)
	ListPage(ctx context.Context, page, pageSize int) ([]domain.NewsletterIssue, int64, error)
	Stats(ctx context.Context) (int64, *time.Time, error)
}

// SubscriptionService handles sign-ups and confirmations.
type SubscriptionService interface {
	Subscribe(ctx context.Context, name, email string) error
	Confirm(ctx context.Context, token string) error
	ListConfirmedEmails(ctx context.Context) ([]string, error)
}

// AccountService authenticates admins and manages their passwords.
type AccountService interface {
	Login(ctx context.Context, username, password string) (string, error)
	User(ctx context.Context, userID string) (*domain.User, error)
	ChangePassword(ctx context.Context, userID, current, next, nextCheck string) error
}

// SessionIssuer signs session tokens. *auth.Sessions implements it.
type SessionIssuer interface {
	Issue(userID string) (string, time.Time, error)
}

// SessionCookie configures the admin session cookie.
type SessionCookie struct {
	Name   string
	Secure bool
}

// Handlers groups the HTTP endpoints.
type Handlers struct {
	news     NewsletterService
	subs     SubscriptionService
	accounts AccountService
	sessions SessionIssuer
	cookie   SessionCookie
}

// New constructs Handlers bound to the given services.
func New(news NewsletterService, subs SubscriptionService, accounts AccountService, sessions SessionIssuer, cookie SessionCookie) *Handlers {
	return &Handlers{news: news, subs: subs, accounts: accounts, sessions: sessions, cookie: cookie}
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

func pagination(c *gin.Context) (page, pageSize int) {
	return utils.ClampPage(c.Query("page"), c.Query("page_size"))
}

func newPagination(page, pageSize int, total int64) Pagination {
	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	return Pagination{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
	}
}

// userID is the admin authenticated by middleware.RequireSession.
func userID(c *gin.Context) string { return middleware.UserID(c) }
