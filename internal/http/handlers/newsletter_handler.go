package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-newsletter-backend/internal/domain"
	"github.com/tbourn/go-newsletter-backend/internal/http/middleware"
	"github.com/tbourn/go-newsletter-backend/internal/services"
)

// ListNewslettersResponse is a page of published issues.
type ListNewslettersResponse struct {
	Issues     []domain.NewsletterIssue `json:"issues"`
	Pagination Pagination               `json:"pagination"`
	Flash      string                   `json:"flash,omitempty"`
}

// PublishNewsletter handles POST /admin/newsletters.
//
// Form fields: title, text_content, html_content, idempotency_key. The
// response is either the fresh acknowledgment (303 to /admin/newsletters
// with a flash cookie) or, for a repeated key, the saved acknowledgment
// byte for byte.
func (h *Handlers) PublishNewsletter(c *gin.Context) {
	key, ok := middleware.GetIdempotencyKey(c)
	raw := key.String()
	if !ok {
		raw = c.PostForm(middleware.FormIdempotencyKey)
	}

	resp, err := h.news.Publish(c.Request.Context(), userID(c), services.PublishInput{
		Title:          c.PostForm("title"),
		TextContent:    c.PostForm("text_content"),
		HTMLContent:    c.PostForm("html_content"),
		IdempotencyKey: raw,
	})
	if err != nil {
		failErr(c, err)
		return
	}
	if err := resp.Write(c.Writer); err != nil {
		middleware.LoggerFrom(c).Warn().Err(err).Msg("writing publish response")
	}
}

// ListNewsletters handles GET /admin/newsletters.
//
// The weak ETag changes whenever an issue is published. A pending flash
// message is returned once and disables the 304 shortcut for that request.
func (h *Handlers) ListNewsletters(c *gin.Context) {
	ctx := c.Request.Context()
	page, pageSize := pagination(c)
	flash := takeFlash(c)

	if count, latest, err := h.news.Stats(ctx); err == nil {
		var ts int64
		if latest != nil {
			ts = latest.UnixNano()
		}
		etag := fmt.Sprintf(`W/"issues:%d:%d:%d:%d"`, count, ts, page, pageSize)
		c.Header("ETag", etag)
		c.Header("Cache-Control", "private, no-cache")
		if flash == "" && c.GetHeader("If-None-Match") == etag {
			c.Status(http.StatusNotModified)
			return
		}
	}

	items, total, err := h.news.ListPage(ctx, page, pageSize)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, ListNewslettersResponse{
		Issues:     items,
		Pagination: newPagination(page, pageSize, total),
		Flash:      flash,
	})
}
