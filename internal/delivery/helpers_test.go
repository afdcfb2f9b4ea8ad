package delivery

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/tbourn/go-newsletter-backend/internal/domain"
	"github.com/tbourn/go-newsletter-backend/internal/repo"
)

func newQueueDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := repo.OpenSQLite(filepath.Join(t.TempDir(), "queue.db"), 8)
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	require.NoError(t, repo.AutoMigrate(db))
	return db
}

// seedTask inserts an issue and a queue row for email directly, bypassing
// subscriber validation.
func seedTask(t *testing.T, db *gorm.DB, email string) *domain.NewsletterIssue {
	t.Helper()
	is, err := repo.CreateIssue(context.Background(), db, "Weekly", "plain body", "<p>html body</p>")
	require.NoError(t, err)
	require.NoError(t, db.Create(&domain.DeliveryTask{IssueID: is.IssueID, SubscriberEmail: email}).Error)
	return is
}

func queueLen(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(&domain.DeliveryTask{}).Count(&n).Error)
	return n
}

func quietWorker(q *Queue, s Sender) *Worker {
	w := NewWorker(q, s)
	w.Logger = zerolog.Nop()
	return w
}

type sent struct {
	To, Subject, HTML, Text string
}

type fakeSender struct {
	mu    sync.Mutex
	sent  []sent
	err   error
	calls int
}

func (f *fakeSender) Send(_ context.Context, to domain.SubscriberEmail, subject, html, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sent{To: to.String(), Subject: subject, HTML: html, Text: text})
	return nil
}

func (f *fakeSender) recipients() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent))
	for _, s := range f.sent {
		out = append(out, s.To)
	}
	return out
}
