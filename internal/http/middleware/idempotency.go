// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file validates the idempotency key of unsafe admin requests before
// any handler or transaction runs. The key may arrive as the
// `idempotency_key` form field (HTML form submissions) or the
// Idempotency-Key header (API clients); the form field wins when both are
// present.
//
// A valid key is stashed in the Gin context. When the supplied lookup finds
// a completed response for (user, key) the request is marked as a replay so
// the rate limiter lets it through; serving the saved response is left to
// the handler.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-newsletter-backend/internal/domain"
)

// HeaderIdempotencyKey is the request header carrying the idempotency key.
const HeaderIdempotencyKey = "Idempotency-Key"

// FormIdempotencyKey is the form field carrying the idempotency key.
const FormIdempotencyKey = "idempotency_key"

const (
	ctxKeyIdemKey    = "idem.key"
	ctxKeyIdemReplay = "idem.replay"
	ctxKeyRateBypass = "rate.bypass"
)

// GetIdempotencyKey returns the key validated by IdempotencyKey.
func GetIdempotencyKey(c *gin.Context) (domain.IdempotencyKey, bool) {
	v, ok := c.Get(ctxKeyIdemKey)
	if !ok {
		return "", false
	}
	k, _ := v.(domain.IdempotencyKey)
	return k, k != ""
}

// IsReplay reports whether a completed response already exists for the
// request's key.
func IsReplay(c *gin.Context) bool {
	v, ok := c.Get(ctxKeyIdemReplay)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// IdempotencyLookup reports whether a completed response is stored for
// (userID, key). Errors are ignored by the middleware; the handler will hit
// the store again anyway.
type IdempotencyLookup func(ctx context.Context, userID string, key domain.IdempotencyKey) (bool, error)

// IdempotencyKey requires a well-formed idempotency key. Missing, blank,
// too short (< 10) or too long (> 50) keys are rejected with 400.
func IdempotencyKey(lookup IdempotencyLookup) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.PostForm(FormIdempotencyKey)
		if strings.TrimSpace(raw) == "" {
			raw = c.GetHeader(HeaderIdempotencyKey)
		}

		key, err := domain.ParseIdempotencyKey(raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"request_id": c.Writer.Header().Get(requestIDHeader),
				"code":       "bad_idempotency_key",
				"message":    err.Error(),
			})
			return
		}
		c.Set(ctxKeyIdemKey, key)

		if lookup != nil {
			if uid := UserID(c); uid != "" {
				if exists, _ := lookup(c.Request.Context(), uid, key); exists {
					c.Set(ctxKeyIdemReplay, true)
					c.Set(ctxKeyRateBypass, true)
				}
			}
		}
		c.Next()
	}
}
