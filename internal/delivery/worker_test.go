package delivery

import (
	"context"
	"errors"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbourn/go-newsletter-backend/internal/domain"
	"github.com/tbourn/go-newsletter-backend/internal/idempotency"
	"github.com/tbourn/go-newsletter-backend/internal/repo"
	"github.com/tbourn/go-newsletter-backend/internal/services"
)

// drain runs TryExecuteTask until the queue is empty and returns the number
// of completed tasks.
func drain(ctx context.Context, w *Worker) (int, error) {
	n := 0
	for {
		out, err := w.TryExecuteTask(ctx)
		if err != nil {
			return n, err
		}
		if out == EmptyQueue {
			return n, nil
		}
		n++
	}
}

func TestTryExecuteTask_EmptyQueue(t *testing.T) {
	db := newQueueDB(t)
	sender := &fakeSender{}
	before := testutil.ToFloat64(claims.WithLabelValues(ClaimEmpty))

	out, err := quietWorker(NewQueue(db), sender).TryExecuteTask(context.Background())
	require.NoError(t, err)
	assert.Equal(t, EmptyQueue, out)
	assert.Zero(t, sender.calls)
	assert.Equal(t, before+1, testutil.ToFloat64(claims.WithLabelValues(ClaimEmpty)))
}

func TestTryExecuteTask_SendsIssueAndReleases(t *testing.T) {
	db := newQueueDB(t)
	is := seedTask(t, db, "a@x.com")
	sender := &fakeSender{}
	before := testutil.ToFloat64(deliveries.WithLabelValues(OutcomeSent))

	out, err := quietWorker(NewQueue(db), sender).TryExecuteTask(context.Background())
	require.NoError(t, err)
	assert.Equal(t, TaskCompleted, out)

	require.Len(t, sender.sent, 1)
	assert.Equal(t, sent{To: "a@x.com", Subject: is.Title, HTML: is.HTMLContent, Text: is.TextContent}, sender.sent[0])
	assert.EqualValues(t, 0, queueLen(t, db))
	assert.Equal(t, before+1, testutil.ToFloat64(deliveries.WithLabelValues(OutcomeSent)))
}

func TestTryExecuteTask_InvalidAddressIsSkipped(t *testing.T) {
	db := newQueueDB(t)
	seedTask(t, db, "definitely-not-an-email")
	sender := &fakeSender{}
	before := testutil.ToFloat64(deliveries.WithLabelValues(OutcomeSkipped))

	out, err := quietWorker(NewQueue(db), sender).TryExecuteTask(context.Background())
	require.NoError(t, err)
	assert.Equal(t, TaskCompleted, out)
	assert.Zero(t, sender.calls)
	assert.EqualValues(t, 0, queueLen(t, db))
	assert.Equal(t, before+1, testutil.ToFloat64(deliveries.WithLabelValues(OutcomeSkipped)))
}

func TestTryExecuteTask_SendFailureStillReleases(t *testing.T) {
	db := newQueueDB(t)
	seedTask(t, db, "a@x.com")
	sender := &fakeSender{err: errors.New("smtp down")}
	before := testutil.ToFloat64(deliveries.WithLabelValues(OutcomeFailed))

	out, err := quietWorker(NewQueue(db), sender).TryExecuteTask(context.Background())
	require.NoError(t, err)
	assert.Equal(t, TaskCompleted, out)
	assert.Equal(t, 1, sender.calls)
	assert.EqualValues(t, 0, queueLen(t, db))
	assert.Equal(t, before+1, testutil.ToFloat64(deliveries.WithLabelValues(OutcomeFailed)))
}

type panicSender struct{}

func (panicSender) Send(context.Context, domain.SubscriberEmail, string, string, string) error {
	panic("boom")
}

func TestIterate_PanicLeavesTaskQueued(t *testing.T) {
	db := newQueueDB(t)
	seedTask(t, db, "a@x.com")

	_, err := quietWorker(NewQueue(db), panicSender{}).iterate(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.EqualValues(t, 1, queueLen(t, db))
}

func TestPublishThenDrain_DeliversOncePerSubscriber(t *testing.T) {
	db := newQueueDB(t)
	ctx := context.Background()
	for _, e := range []string{"a@x.com", "b@x.com"} {
		ns, err := domain.ParseNewSubscriber("Reader", e)
		require.NoError(t, err)
		s, err := repo.CreateSubscriber(ctx, db, ns)
		require.NoError(t, err)
		require.NoError(t, repo.ConfirmSubscriber(ctx, db, s.ID))
	}

	svc := services.NewNewsletterService(db, idempotency.NewStore(db))
	in := services.PublishInput{
		Title:          "Issue #1",
		TextContent:    "plain",
		HTMLContent:    "<p>html</p>",
		IdempotencyKey: "abc1234567",
	}
	_, err := svc.Publish(ctx, "admin-1", in)
	require.NoError(t, err)
	assert.EqualValues(t, 2, queueLen(t, db))

	sender := &fakeSender{}
	w := quietWorker(NewQueue(db), sender)
	n, err := drain(ctx, w)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.ElementsMatch(t, []string{"a@x.com", "b@x.com"}, sender.recipients())
	assert.EqualValues(t, 0, queueLen(t, db))

	// Replaying the publish enqueues nothing.
	_, err = svc.Publish(ctx, "admin-1", in)
	require.NoError(t, err)
	assert.EqualValues(t, 0, queueLen(t, db))
	n, err = drain(ctx, w)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, sender.sent, 2)
}

func TestRun_StopsOnCancel(t *testing.T) {
	db := newQueueDB(t)
	seedTask(t, db, "a@x.com")
	sender := &fakeSender{}
	w := quietWorker(NewQueue(db), sender)
	w.IdleInterval = 5 * time.Millisecond
	w.ErrorBackoff = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool { return queueLen(t, db) == 0 }, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after cancel")
	}
	assert.Equal(t, []string{"a@x.com"}, sender.recipients())
}

func TestRedactEmail(t *testing.T) {
	assert.Equal(t, "a***@x.com", redactEmail("alice@x.com"))
	assert.Equal(t, "***", redactEmail("no-at-sign"))
	assert.Equal(t, "***", redactEmail("@x.com"))
	assert.Equal(t, "é***@x.com", redactEmail("élodie@x.com"))
	assert.True(t, utf8.ValidString(redactEmail("日本@x.jp")))
}
