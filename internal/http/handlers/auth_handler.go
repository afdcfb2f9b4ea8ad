package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-newsletter-backend/internal/http/middleware"
	"github.com/tbourn/go-newsletter-backend/internal/services"
)

// Redirect targets of the admin flow.
const (
	DashboardPath = "/admin/dashboard"
	PasswordPath  = "/admin/password"
)

// Flash messages of the admin flow.
const (
	FlashAuthFailed      = "Authentication failed."
	FlashPasswordChanged = "Your password has been changed."
	FlashLoggedOut       = "You have successfully logged out."
)

// FlashResponse carries a pending flash message to the client.
type FlashResponse struct {
	Flash string `json:"flash,omitempty"`
}

// DashboardResponse describes the logged-in admin.
type DashboardResponse struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

// LoginForm handles GET /login and returns the pending flash message.
func (h *Handlers) LoginForm(c *gin.Context) {
	ok(c, http.StatusOK, FlashResponse{Flash: takeFlash(c)})
}

// Login handles POST /login. Valid credentials get a session cookie and a
// redirect to the dashboard; invalid ones go back to the login page with a
// flash message.
func (h *Handlers) Login(c *gin.Context) {
	uid, err := h.accounts.Login(c.Request.Context(), c.PostForm("username"), c.PostForm("password"))
	if err != nil {
		if services.KindOf(err) == services.KindInvalidCredentials {
			setFlash(c, FlashAuthFailed)
			seeOther(c, middleware.LoginPath)
			return
		}
		failErr(c, err)
		return
	}

	token, exp, err := h.sessions.Issue(uid)
	if err != nil {
		failErr(c, err)
		return
	}
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     h.cookie.Name,
		Value:    token,
		Path:     "/",
		Expires:  exp,
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	seeOther(c, DashboardPath)
}

// Dashboard handles GET /admin/dashboard.
func (h *Handlers) Dashboard(c *gin.Context) {
	u, err := h.accounts.User(c.Request.Context(), userID(c))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, DashboardResponse{UserID: u.UserID, Username: u.Username})
}

// PasswordForm handles GET /admin/password.
func (h *Handlers) PasswordForm(c *gin.Context) {
	ok(c, http.StatusOK, FlashResponse{Flash: takeFlash(c)})
}

// ChangePassword handles POST /admin/password with current_password,
// new_password and new_password_check. Rejections are reported as flash
// messages on the password page.
func (h *Handlers) ChangePassword(c *gin.Context) {
	err := h.accounts.ChangePassword(c.Request.Context(), userID(c),
		c.PostForm("current_password"),
		c.PostForm("new_password"),
		c.PostForm("new_password_check"),
	)
	var se *services.Error
	if errors.As(err, &se) && (se.Kind == services.KindValidation || se.Kind == services.KindInvalidCredentials) {
		setFlash(c, se.Msg)
		seeOther(c, PasswordPath)
		return
	}
	if err != nil {
		failErr(c, err)
		return
	}
	setFlash(c, FlashPasswordChanged)
	seeOther(c, PasswordPath)
}

// Logout handles POST /admin/logout.
func (h *Handlers) Logout(c *gin.Context) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     h.cookie.Name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	setFlash(c, FlashLoggedOut)
	seeOther(c, middleware.LoginPath)
}
