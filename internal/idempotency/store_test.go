package idempotency

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbourn/go-newsletter-backend/internal/domain"
	"github.com/tbourn/go-newsletter-backend/internal/repo"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	db, err := repo.OpenSQLite(filepath.Join(t.TempDir(), "idem.db"), 10)
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	require.NoError(t, repo.AutoMigrate(db))
	return NewStore(db)
}

func mustKey(t *testing.T, s string) domain.IdempotencyKey {
	t.Helper()
	k, err := domain.ParseIdempotencyKey(s)
	require.NoError(t, err)
	return k
}

func TestTryProcessing_FirstCallStarts_SecondReturnsSaved(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	key := mustKey(t, "abc1234567")

	next, err := s.TryProcessing(ctx, "u1", key)
	require.NoError(t, err)
	require.NotNil(t, next.Tx)
	require.Nil(t, next.Saved)

	headers := domain.HeaderPairs{
		{Name: "Location", Value: []byte("/admin/newsletters")},
		{Name: "Set-Cookie", Value: []byte("flash=a")},
		{Name: "Set-Cookie", Value: []byte("other=b")},
	}
	body := []byte{0xde, 0xad, 0xbe, 0xef}
	first, err := s.Complete(ctx, next.Tx, "u1", key, http.StatusSeeOther, headers, bytes.NewReader(body))
	require.NoError(t, err)

	again, err := s.TryProcessing(ctx, "u1", key)
	require.NoError(t, err)
	require.Nil(t, again.Tx)
	require.NotNil(t, again.Saved)
	assert.Equal(t, first.StatusCode, again.Saved.StatusCode)
	assert.Equal(t, first.Headers, again.Saved.Headers)
	assert.Equal(t, first.Body, again.Saved.Body)

	// Keys are scoped per user.
	other, err := s.TryProcessing(ctx, "u2", key)
	require.NoError(t, err)
	require.NotNil(t, other.Tx)
	s.Abort(other.Tx)
}

func TestSavedResponse_EmptyBodyMatchesComplete(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	key := mustKey(t, "empty-body-1")

	next, err := s.TryProcessing(ctx, "u1", key)
	require.NoError(t, err)
	first, err := s.Complete(ctx, next.Tx, "u1", key, http.StatusSeeOther, nil, bytes.NewReader(nil))
	require.NoError(t, err)
	require.Equal(t, []byte{}, first.Body)

	saved, err := s.SavedResponse(ctx, "u1", key)
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.Equal(t, first.Body, saved.Body)
	assert.NotNil(t, saved.Body)
}

func TestTryProcessing_AbortLetsRetryStartOver(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	key := mustKey(t, "retry-key-0001")

	next, err := s.TryProcessing(ctx, "u1", key)
	require.NoError(t, err)
	s.Abort(next.Tx)

	saved, err := s.SavedResponse(ctx, "u1", key)
	require.NoError(t, err)
	assert.Nil(t, saved, "rolled back placeholder must not be visible")

	retry, err := s.TryProcessing(ctx, "u1", key)
	require.NoError(t, err)
	require.NotNil(t, retry.Tx)
	_, err = s.Complete(ctx, retry.Tx, "u1", key, http.StatusOK, nil, strings.NewReader("ok"))
	require.NoError(t, err)

	saved, err = s.SavedResponse(ctx, "u1", key)
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.Equal(t, "ok", string(saved.Body))
	assert.NotNil(t, saved.Headers)
}

func TestTryProcessing_PlaceholderWithoutResponse(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	key := mustKey(t, "broken-key-01")

	// A committed placeholder can only come from code that bypasses Complete.
	require.NoError(t, s.DB.Create(&domain.Idempotency{UserID: "u1", IdempotencyKey: key.String()}).Error)

	_, err := s.TryProcessing(ctx, "u1", key)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSavedResponseMissing))
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("stream broke") }

func TestComplete_BodyErrorRollsBack(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	key := mustKey(t, "body-error-01")

	next, err := s.TryProcessing(ctx, "u1", key)
	require.NoError(t, err)
	_, err = s.Complete(ctx, next.Tx, "u1", key, http.StatusOK, nil, failingReader{})
	require.Error(t, err)

	saved, err := s.SavedResponse(ctx, "u1", key)
	require.NoError(t, err)
	assert.Nil(t, saved)
}

func TestTryProcessing_ConcurrentDuplicatesRunOnce(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	key := mustKey(t, "concurrent-01")

	const callers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
		replays []*Response
		errs    []error
	)
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			next, err := s.TryProcessing(ctx, "u1", key)
			if err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
				return
			}
			if next.Tx != nil {
				time.Sleep(50 * time.Millisecond)
				_, err := s.Complete(ctx, next.Tx, "u1", key, http.StatusSeeOther, nil, strings.NewReader("done"))
				mu.Lock()
				winners++
				if err != nil {
					errs = append(errs, err)
				}
				mu.Unlock()
				return
			}
			mu.Lock()
			replays = append(replays, next.Saved)
			mu.Unlock()
		}()
	}
	close(start)
	wg.Wait()

	require.Empty(t, errs)
	assert.Equal(t, 1, winners)
	require.Len(t, replays, callers-1)
	for _, r := range replays {
		assert.Equal(t, http.StatusSeeOther, r.StatusCode)
		assert.Equal(t, "done", string(r.Body))
	}
}

func TestResponseWrite_ReplaysHeadersInOrder(t *testing.T) {
	r := &Response{
		StatusCode: http.StatusSeeOther,
		Headers: domain.HeaderPairs{
			{Name: "Location", Value: []byte("/admin/newsletters")},
			{Name: "Set-Cookie", Value: []byte("a=1")},
			{Name: "Set-Cookie", Value: []byte("b=2")},
		},
		Body: []byte("x"),
	}
	w := httptest.NewRecorder()
	require.NoError(t, r.Write(w))
	assert.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, "/admin/newsletters", w.Header().Get("Location"))
	assert.Equal(t, []string{"a=1", "b=2"}, w.Header().Values("Set-Cookie"))
	assert.Equal(t, "x", w.Body.String())
}

func TestHeaderPairsFrom_SortedAndOrdered(t *testing.T) {
	h := http.Header{}
	h.Add("Set-Cookie", "a=1")
	h.Add("Location", "/x")
	h.Add("Set-Cookie", "b=2")

	got := HeaderPairsFrom(h)
	require.Len(t, got, 3)
	assert.Equal(t, "Location", got[0].Name)
	assert.Equal(t, "a=1", string(got[1].Value))
	assert.Equal(t, "b=2", string(got[2].Value))
}

func TestPurgeExpired(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	status := 303
	old := &domain.Idempotency{UserID: "u1", IdempotencyKey: "old-key-0001", ResponseStatusCode: &status,
		ResponseHeaders: domain.HeaderPairs{}, ResponseBody: []byte{}, CreatedAt: time.Now().UTC().Add(-96 * time.Hour)}
	require.NoError(t, s.DB.Create(old).Error)

	n, err := s.PurgeExpired(ctx, 48*time.Hour)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

