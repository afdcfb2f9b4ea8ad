package delivery

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/tbourn/go-newsletter-backend/internal/domain"
	"github.com/tbourn/go-newsletter-backend/internal/repo"
)

// Default loop intervals.
const (
	DefaultIdleInterval = 10 * time.Second
	DefaultErrorBackoff = time.Second
)

// Sender delivers one email. *email.Client implements it.
type Sender interface {
	Send(ctx context.Context, recipient domain.SubscriberEmail, subject, html, text string) error
}

// Outcome is the result of one worker iteration.
type Outcome int

const (
	// EmptyQueue means there was nothing to claim.
	EmptyQueue Outcome = iota
	// TaskCompleted means a task was claimed, attempted and released.
	TaskCompleted
)

func (o Outcome) String() string {
	if o == TaskCompleted {
		return "task_completed"
	}
	return "empty_queue"
}

// Worker drains the delivery queue.
//
// Each task gets exactly one send attempt per claim. A send failure is
// logged and the task is still released, so it is not retried. A stored
// address that no longer validates is skipped without sending. Only a
// claimant that dies before releasing causes a task to be delivered again.
type Worker struct {
	Queue        *Queue
	Sender       Sender
	IdleInterval time.Duration
	ErrorBackoff time.Duration
	Logger       zerolog.Logger
}

// NewWorker returns a Worker with the default intervals.
func NewWorker(q *Queue, s Sender) *Worker {
	return &Worker{
		Queue:        q,
		Sender:       s,
		IdleInterval: DefaultIdleInterval,
		ErrorBackoff: DefaultErrorBackoff,
		Logger:       log.With().Str("component", "delivery_worker").Logger(),
	}
}

// Run loops until ctx is cancelled and then returns ctx.Err(). It sleeps
// IdleInterval when the queue is empty and ErrorBackoff after an error.
func (w *Worker) Run(ctx context.Context) error {
	w.Logger.Info().Msg("delivery worker started")
	for {
		outcome, err := w.iterate(ctx)
		if ctx.Err() != nil {
			w.Logger.Info().Msg("delivery worker stopped")
			return ctx.Err()
		}

		var wait time.Duration
		switch {
		case err != nil:
			w.Logger.Error().Err(err).Msg("delivery iteration failed")
			wait = w.ErrorBackoff
		case outcome == EmptyQueue:
			wait = w.IdleInterval
		}
		if wait <= 0 {
			continue
		}

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			w.Logger.Info().Msg("delivery worker stopped")
			return ctx.Err()
		case <-t.C:
		}
	}
}

// iterate runs one TryExecuteTask, turning a panic into an error so the
// loop keeps going.
func (w *Worker) iterate(ctx context.Context) (out Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in delivery iteration: %v", r)
		}
	}()
	return w.TryExecuteTask(ctx)
}

// TryExecuteTask claims at most one task, attempts its delivery and
// releases it.
func (w *Worker) TryExecuteTask(ctx context.Context) (Outcome, error) {
	ctx, span := otel.Tracer("delivery/Worker").Start(ctx, "TryExecuteTask")
	defer span.End()

	claim, err := w.Queue.Claim(ctx)
	if err != nil {
		claims.WithLabelValues(ClaimError).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "claim failed")
		return EmptyQueue, err
	}
	if claim == nil {
		claims.WithLabelValues(ClaimEmpty).Inc()
		return EmptyQueue, nil
	}
	claims.WithLabelValues(ClaimTask).Inc()
	defer claim.Abandon()

	task := claim.Task
	span.SetAttributes(attribute.String("issue.id", task.IssueID))
	logger := w.Logger.With().
		Str("issue_id", task.IssueID).
		Str("subscriber_email", redactEmail(task.SubscriberEmail)).
		Logger()

	issue, err := repo.GetIssue(ctx, claim.Tx(), task.IssueID)
	if err != nil {
		span.RecordError(err)
		return EmptyQueue, fmt.Errorf("load issue %s: %w", task.IssueID, err)
	}

	outcome := OutcomeSent
	addr, err := domain.ParseSubscriberEmail(task.SubscriberEmail)
	if err != nil {
		outcome = OutcomeSkipped
		logger.Warn().Err(err).Msg("skipping a confirmed subscriber, their stored contact details are invalid")
	} else if err := w.Sender.Send(ctx, addr, issue.Title, issue.HTMLContent, issue.TextContent); err != nil {
		outcome = OutcomeFailed
		logger.Error().Err(err).Msg("failed to deliver issue to a confirmed subscriber, skipping")
	}

	if err := claim.Release(ctx); err != nil {
		span.RecordError(err)
		return EmptyQueue, fmt.Errorf("release task: %w", err)
	}
	deliveries.WithLabelValues(outcome).Inc()
	span.SetAttributes(attribute.String("delivery.outcome", outcome))
	logger.Debug().Str("outcome", outcome).Msg("delivery task released")
	return TaskCompleted, nil
}

// redactEmail keeps the first character of the local part and the domain.
func redactEmail(s string) string {
	at := strings.LastIndexByte(s, '@')
	if at <= 0 {
		return "***"
	}
	_, n := utf8.DecodeRuneInString(s)
	return s[:n] + "***" + s[at:]
}

