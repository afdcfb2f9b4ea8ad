package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-newsletter-backend/internal/domain"
)

// StatusResponse acknowledges a subscription step.
type StatusResponse struct {
	Status string `json:"status"`
}

// Subscribe handles POST /subscriptions with form fields name and email.
// The subscriber stays pending until the mailed link is followed.
func (h *Handlers) Subscribe(c *gin.Context) {
	err := h.subs.Subscribe(c.Request.Context(), c.PostForm("name"), c.PostForm("email"))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, StatusResponse{Status: domain.StatusPendingConfirmation})
}

// ConfirmedSubscribersResponse lists the addresses a publish would fan out to.
type ConfirmedSubscribersResponse struct {
	Emails []string `json:"emails"`
	Total  int      `json:"total"`
}

// ConfirmedSubscribers handles GET /admin/subscribers.
func (h *Handlers) ConfirmedSubscribers(c *gin.Context) {
	emails, err := h.subs.ListConfirmedEmails(c.Request.Context())
	if err != nil {
		failErr(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	ok(c, http.StatusOK, ConfirmedSubscribersResponse{Emails: emails, Total: len(emails)})
}

// ConfirmSubscription handles GET /subscriptions/confirm?subscription_token=….
// A missing token is 400, an unknown one 401.
func (h *Handlers) ConfirmSubscription(c *gin.Context) {
	if err := h.subs.Confirm(c.Request.Context(), c.Query("subscription_token")); err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, StatusResponse{Status: domain.StatusConfirmed})
}
