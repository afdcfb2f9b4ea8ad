package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// CtxUserID is the Gin context key holding the authenticated admin's ID.
const CtxUserID = "userID"

// LoginPath is where unauthenticated admin requests are sent.
const LoginPath = "/login"

// SessionParser turns a session token into a user ID. *auth.Sessions
// implements it.
type SessionParser interface {
	Parse(raw string) (string, error)
}

// UserID returns the authenticated user ID, or "" when there is none.
func UserID(c *gin.Context) string {
	if v, ok := c.Get(CtxUserID); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// RequireSession reads the session cookie and stores the user ID in the
// context. Requests without a valid session are redirected to LoginPath
// with 303 See Other.
func RequireSession(sessions SessionParser, cookieName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, err := c.Cookie(cookieName)
		if err == nil {
			if uid, err := sessions.Parse(raw); err == nil {
				c.Set(CtxUserID, uid)
				c.Next()
				return
			}
			LoggerFrom(c).Debug().Msg("rejected invalid session cookie")
		}
		c.Redirect(http.StatusSeeOther, LoginPath)
		c.Abort()
	}
}
