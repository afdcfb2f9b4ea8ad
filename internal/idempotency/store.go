// Package idempotency persists the response of a publish request keyed by
// (user, idempotency key) so that retries and concurrent duplicates are
// answered with the original response instead of being processed again.
//
// A request goes through two phases inside one database transaction:
//
//  1. TryProcessing inserts a placeholder row if none exists. The caller that
//     inserts it receives the open transaction and does the work; any other
//     caller receives the saved response of the first one.
//  2. Complete writes the response into the placeholder and commits.
//
// If the transaction is rolled back the placeholder disappears with it, so a
// retry with the same key starts over.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-newsletter-backend/internal/domain"
	"github.com/tbourn/go-newsletter-backend/internal/repo"
)

// ErrSavedResponseMissing means a record exists for the key but carries no
// response. Only possible if a key was resolved without ever being completed.
var ErrSavedResponseMissing = errors.New("idempotency: record has no saved response")

// Response is a saved HTTP response.
type Response struct {
	StatusCode int
	Headers    domain.HeaderPairs
	Body       []byte
}

// Write replays the response on w: headers in saved order, then status and
// body.
func (r *Response) Write(w http.ResponseWriter) error {
	h := w.Header()
	for _, p := range r.Headers {
		h.Add(p.Name, string(p.Value))
	}
	w.WriteHeader(r.StatusCode)
	_, err := w.Write(r.Body)
	return err
}

// HeaderPairsFrom flattens h into pairs sorted by header name, keeping the
// order of repeated values.
func HeaderPairsFrom(h http.Header) domain.HeaderPairs {
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}
	sort.Strings(names)

	out := domain.HeaderPairs{}
	for _, name := range names {
		for _, v := range h[name] {
			out = append(out, domain.HeaderPair{Name: name, Value: []byte(v)})
		}
	}
	return out
}

// NextAction is the outcome of TryProcessing. Exactly one field is set.
type NextAction struct {
	// Tx is the open transaction holding the new placeholder. The caller must
	// finish it with Complete or Abort.
	Tx *gorm.DB
	// Saved is the response recorded by an earlier request with the same key.
	Saved *Response
}

// Store reads and writes idempotency records.
type Store struct {
	DB *gorm.DB
}

// NewStore returns a Store on db.
func NewStore(db *gorm.DB) *Store { return &Store{DB: db} }

// TryProcessing opens a transaction and tries to insert a placeholder for
// (userID, key). On success the transaction is returned open in NextAction.Tx.
// On conflict the transaction is discarded and the saved response is
// returned instead.
func (s *Store) TryProcessing(ctx context.Context, userID string, key domain.IdempotencyKey) (NextAction, error) {
	tr := otel.Tracer("idempotency/Store")
	ctx, span := tr.Start(ctx, "TryProcessing",
		trace.WithAttributes(attribute.String("user.id", userID)),
	)
	defer span.End()

	tx := s.DB.WithContext(ctx).Begin()
	if tx.Error != nil {
		return NextAction{}, fmt.Errorf("begin transaction: %w", tx.Error)
	}

	inserted, err := repo.InsertIdempotencyPlaceholder(ctx, tx, userID, key.String())
	if err != nil {
		tx.Rollback()
		return NextAction{}, fmt.Errorf("insert placeholder: %w", err)
	}
	if inserted {
		span.SetAttributes(attribute.Bool("idempotency.replay", false))
		return NextAction{Tx: tx}, nil
	}

	saved, err := savedResponse(ctx, tx, userID, key)
	tx.Rollback()
	if err != nil {
		return NextAction{}, err
	}
	span.SetAttributes(attribute.Bool("idempotency.replay", true))
	return NextAction{Saved: saved}, nil
}

// SavedResponse returns the completed response for (userID, key), if any.
// It reports (nil, nil) when no record exists.
func (s *Store) SavedResponse(ctx context.Context, userID string, key domain.IdempotencyKey) (*Response, error) {
	r, err := savedResponse(ctx, s.DB, userID, key)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil
	}
	return r, err
}

func savedResponse(ctx context.Context, db *gorm.DB, userID string, key domain.IdempotencyKey) (*Response, error) {
	rec, err := repo.GetIdempotency(ctx, db, userID, key.String())
	if errors.Is(err, repo.ErrNotFound) {
		return nil, fmt.Errorf("%w: %w", ErrSavedResponseMissing, err)
	}
	if err != nil {
		return nil, fmt.Errorf("read saved response: %w", err)
	}
	if !rec.Completed() {
		return nil, ErrSavedResponseMissing
	}
	body := rec.ResponseBody
	if body == nil {
		body = []byte{}
	}
	return &Response{
		StatusCode: *rec.ResponseStatusCode,
		Headers:    rec.ResponseHeaders,
		Body:       body,
	}, nil
}

// Complete reads body to the end, stores the response in the placeholder
// owned by tx and commits. On any error tx is rolled back.
func (s *Store) Complete(ctx context.Context, tx *gorm.DB, userID string, key domain.IdempotencyKey, status int, headers domain.HeaderPairs, body io.Reader) (*Response, error) {
	tr := otel.Tracer("idempotency/Store")
	ctx, span := tr.Start(ctx, "Complete",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.Int("http.status_code", status),
		),
	)
	defer span.End()

	buf := []byte{}
	if body != nil {
		b, err := io.ReadAll(body)
		if err != nil {
			tx.Rollback()
			return nil, fmt.Errorf("read response body: %w", err)
		}
		buf = b
	}
	if headers == nil {
		headers = domain.HeaderPairs{}
	}

	if err := repo.SaveIdempotencyResponse(ctx, tx, userID, key.String(), status, headers, buf); err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("save response: %w", err)
	}
	if err := tx.Commit().Error; err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return &Response{StatusCode: status, Headers: headers, Body: buf}, nil
}

// Abort rolls back a transaction returned by TryProcessing.
func (s *Store) Abort(tx *gorm.DB) {
	if tx != nil {
		tx.Rollback()
	}
}

// PurgeExpired deletes completed records older than ttl.
func (s *Store) PurgeExpired(ctx context.Context, ttl time.Duration) (int64, error) {
	return repo.PurgeIdempotency(ctx, s.DB, time.Now().UTC().Add(-ttl))
}
