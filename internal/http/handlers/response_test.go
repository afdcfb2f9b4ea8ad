package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/tbourn/go-newsletter-backend/internal/services"
)

func Test_fail_500_LogsAndBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	// capture logs from LoggerFrom(c)
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("X-Request-ID", "rid-500")
		c.Set("logger", &logger)
		c.Next()
	})

	r.GET("/boom", func(c *gin.Context) {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "kaboom")
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d", w.Code)
	}
	var resp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json: %v", err)
	}
	if resp.RequestID != "rid-500" || resp.Code != ErrCodeInternal || resp.Message != "kaboom" {
		t.Fatalf("unexpected body: %+v", resp)
	}
	if !strings.Contains(buf.String(), `"level":"error"`) {
		t.Fatalf("expected error log, got: %s", buf.String())
	}
}

func Test_Fail_404_NotLogged(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("X-Request-ID", "rid-404")
		c.Set("logger", &logger)
		c.Next()
	})
	r.GET("/missing", func(c *gin.Context) {
		Fail(c, http.StatusNotFound, ErrCodeNotFound, "nope")
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/missing", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("status=%d", w.Code)
	}
	var er ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &er); err != nil {
		t.Fatalf("json 404: %v", err)
	}
	if er.RequestID != "rid-404" || er.Code != ErrCodeNotFound || er.Message != "nope" {
		t.Fatalf("unexpected 404 body: %+v", er)
	}
	if buf.Len() != 0 {
		t.Fatalf("4xx should not be logged here, got: %s", buf.String())
	}
}

func Test_seeOther(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/x", func(c *gin.Context) { seeOther(c, "/y") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/x", nil))
	if w.Code != http.StatusSeeOther || w.Header().Get("Location") != "/y" {
		t.Fatalf("got %d %q", w.Code, w.Header().Get("Location"))
	}
}

func TestStatusFor_EveryKind(t *testing.T) {
	cases := map[services.Kind]int{
		services.KindValidation:         http.StatusBadRequest,
		services.KindInvalidCredentials: http.StatusUnauthorized,
		services.KindUnauthenticated:    http.StatusUnauthorized,
		services.KindNotFound:           http.StatusNotFound,
		services.KindConflict:           http.StatusConflict,
		services.KindInfrastructure:     http.StatusInternalServerError,
		services.KindInvariant:          http.StatusInternalServerError,
	}
	for k, want := range cases {
		if got := StatusFor(k); got != want {
			t.Fatalf("StatusFor(%s)=%d want %d", k, got, want)
		}
	}
	if got := StatusFor(services.Kind(99)); got != http.StatusInternalServerError {
		t.Fatalf("unknown kind: %d", got)
	}
}

func Test_failErr_MessageVisibility(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cases := []struct {
		name     string
		err      error
		status   int
		code     string
		message  string
		recorded bool
	}{
		{
			name:    "validation message shown",
			err:     &services.Error{Kind: services.KindValidation, Msg: "title must not be blank", Err: services.ErrBlankField},
			status:  http.StatusBadRequest,
			code:    ErrCodeValidation,
			message: "title must not be blank",
		},
		{
			name:    "conflict",
			err:     &services.Error{Kind: services.KindConflict, Msg: "email is already subscribed"},
			status:  http.StatusConflict,
			code:    ErrCodeConflict,
			message: "email is already subscribed",
		},
		{
			name:     "infrastructure hidden",
			err:      &services.Error{Kind: services.KindInfrastructure, Msg: "could not store newsletter issue", Err: errors.New("disk full")},
			status:   http.StatusInternalServerError,
			code:     ErrCodeInternal,
			message:  "internal server error",
			recorded: true,
		},
		{
			name:     "plain error is infrastructure",
			err:      errors.New("boom"),
			status:   http.StatusInternalServerError,
			code:     ErrCodeInternal,
			message:  "internal server error",
			recorded: true,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := gin.New()
			var recorded int
			r.Use(func(c *gin.Context) {
				c.Next()
				recorded = len(c.Errors)
			})
			r.GET("/e", func(c *gin.Context) { failErr(c, tc.err) })

			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/e", nil))
			if w.Code != tc.status {
				t.Fatalf("status=%d want %d", w.Code, tc.status)
			}
			var er ErrorResponse
			if err := json.Unmarshal(w.Body.Bytes(), &er); err != nil {
				t.Fatalf("json: %v", err)
			}
			if er.Code != tc.code || er.Message != tc.message {
				t.Fatalf("unexpected body: %+v", er)
			}
			if (recorded > 0) != tc.recorded {
				t.Fatalf("c.Errors=%d recorded=%v", recorded, tc.recorded)
			}
		})
	}
}

func Test_flash_RoundTrip(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/set", func(c *gin.Context) {
		setFlash(c, "Your password has been changed.")
		c.Status(http.StatusNoContent)
	})
	var got string
	r.GET("/take", func(c *gin.Context) {
		got = takeFlash(c)
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/set", nil))
	cookies := w.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != services.FlashCookieName {
		t.Fatalf("cookies: %+v", cookies)
	}

	req := httptest.NewRequest(http.MethodGet, "/take", nil)
	req.AddCookie(cookies[0])
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if got != "Your password has been changed." {
		t.Fatalf("flash=%q", got)
	}
	expired := w.Result().Cookies()
	if len(expired) != 1 || expired[0].MaxAge >= 0 {
		t.Fatalf("flash not expired: %+v", expired)
	}

	got = "unchanged"
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/take", nil))
	if got != "" {
		t.Fatalf("expected empty flash, got %q", got)
	}
	if len(w.Result().Cookies()) != 0 {
		t.Fatalf("no cookie should be written without a pending flash")
	}
}
