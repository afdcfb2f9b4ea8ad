// Package handlers defines HTTP-layer error codes and the mapping from
// service error kinds to HTTP status codes.
//
// Every error response carries one of the codes below so clients can branch
// on it without parsing messages:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "validation_failed",
//	  "message": "idempotency key too short"
//	}
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-newsletter-backend/internal/services"
)

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeUnauthorized     = "unauthorized"
	ErrCodeNotFound         = "not_found"
	ErrCodeConflict         = "conflict"
	ErrCodeRateLimited      = "too_many_requests"
	ErrCodeInternal         = "internal_error"
	ErrCodeMethodNotAllowed = "method_not_allowed"

	// Domain-specific:
	ErrCodeValidation  = "validation_failed"
	ErrCodePublishFail = "publish_failed"
	ErrCodeListFailed  = "list_failed"
)

// StatusFor maps a service error kind to its HTTP status.
func StatusFor(k services.Kind) int {
	switch k {
	case services.KindValidation:
		return http.StatusBadRequest
	case services.KindInvalidCredentials, services.KindUnauthenticated:
		return http.StatusUnauthorized
	case services.KindNotFound:
		return http.StatusNotFound
	case services.KindConflict:
		return http.StatusConflict
	case services.KindInfrastructure, services.KindInvariant:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// codeFor returns the envelope code for k.
func codeFor(k services.Kind) string {
	switch k {
	case services.KindValidation:
		return ErrCodeValidation
	case services.KindInvalidCredentials, services.KindUnauthenticated:
		return ErrCodeUnauthorized
	case services.KindNotFound:
		return ErrCodeNotFound
	case services.KindConflict:
		return ErrCodeConflict
	default:
		return ErrCodeInternal
	}
}

// failErr writes the envelope for a service error. Messages of 5xx errors
// are not shown to clients; the full error is logged instead.
func failErr(c *gin.Context, err error) {
	kind := services.KindOf(err)
	status := StatusFor(kind)

	msg := "internal server error"
	var se *services.Error
	if status < http.StatusInternalServerError && errors.As(err, &se) {
		msg = se.Msg
	}
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	fail(c, status, codeFor(kind), msg)
}
