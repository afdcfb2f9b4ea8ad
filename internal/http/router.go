// Package httpapi wires the HTTP transport (Gin) to the application
// services, middleware and route handlers.
//
// Every collaborator arrives through App; nothing here opens databases or
// reads the environment.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/tbourn/go-newsletter-backend/internal/config"
	"github.com/tbourn/go-newsletter-backend/internal/domain"
	"github.com/tbourn/go-newsletter-backend/internal/http/handlers"
	"github.com/tbourn/go-newsletter-backend/internal/http/middleware"
	"github.com/tbourn/go-newsletter-backend/internal/idempotency"
)

// maxBodyBytes caps request bodies. Issues carry full HTML so the cap is
// generous.
const maxBodyBytes = 4 << 20

// SavedResponses looks up completed idempotent responses.
// *idempotency.Store implements it.
type SavedResponses interface {
	SavedResponse(ctx context.Context, userID string, key domain.IdempotencyKey) (*idempotency.Response, error)
}

// App holds the collaborators the routes need.
type App struct {
	Newsletters   handlers.NewsletterService
	Subscriptions handlers.SubscriptionService
	Accounts      handlers.AccountService
	Sessions      interface {
		handlers.SessionIssuer
		middleware.SessionParser
	}
	Saved SavedResponses
}

// RegisterRoutes attaches middleware and endpoints to r.
//
// Global middleware order:
//  1. OpenTelemetry
//  2. RequestID
//  3. RedactingLogger
//  4. Recovery
//  5. Body size limit
//  6. Metrics
//  7. CORS, security headers
//
// Per route: the admin group requires a session; the publish endpoint then
// validates the idempotency key before the rate limiter so replays bypass it.
func RegisterRoutes(r *gin.Engine, app App, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID())
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders:     []string{"X-Postmark-Server-Token"},
		MaskQueryParams: []string{"subscription_token"},
	}))
	r.Use(middleware.Recovery())
	r.Use(limitBody(maxBodyBytes))
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.Use(corsMiddleware(cfg.CORS.AllowedOrigins))
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		EnablePolicy: true,
	}))

	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	h := handlers.New(app.Newsletters, app.Subscriptions, app.Accounts, app.Sessions, handlers.SessionCookie{
		Name:   cfg.Session.CookieName,
		Secure: cfg.Session.Secure,
	})
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyBySessionOrIP())

	r.POST("/subscriptions", rl.Handler(), h.Subscribe)
	r.GET("/subscriptions/confirm", h.ConfirmSubscription)

	r.GET("/login", h.LoginForm)
	r.POST("/login", rl.Handler(), h.Login)

	admin := r.Group("/admin", middleware.RequireSession(app.Sessions, cfg.Session.CookieName))
	{
		admin.GET("/dashboard", h.Dashboard)
		admin.GET("/password", h.PasswordForm)
		admin.POST("/password", h.ChangePassword)
		admin.POST("/logout", h.Logout)
		admin.GET("/subscribers", h.ConfirmedSubscribers)

		admin.GET("/newsletters", gzip.Gzip(gzip.DefaultCompression), h.ListNewsletters)
		admin.POST("/newsletters",
			middleware.IdempotencyKey(savedLookup(app.Saved)),
			rl.Handler(),
			h.PublishNewsletter,
		)
	}
}

// savedLookup adapts SavedResponses to the middleware's lookup.
func savedLookup(s SavedResponses) middleware.IdempotencyLookup {
	if s == nil {
		return nil
	}
	return func(ctx context.Context, userID string, key domain.IdempotencyKey) (bool, error) {
		resp, err := s.SavedResponse(ctx, userID, key)
		return resp != nil, err
	}
}

// corsMiddleware allows any origin without credentials when origins is
// empty, and otherwise only the listed origins.
func corsMiddleware(origins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", middleware.HeaderIdempotencyKey},
		ExposeHeaders: []string{"X-Request-ID", "Content-Length", "Location"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
		cfg.AllowCredentials = true
	}
	return cors.New(cfg)
}

// limitBody caps the request body at maxBytes; reads past it fail.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}
