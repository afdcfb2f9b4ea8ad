package services

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/tbourn/go-newsletter-backend/internal/domain"
	"github.com/tbourn/go-newsletter-backend/internal/repo"
)

func newServiceDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := repo.OpenSQLite(filepath.Join(t.TempDir(), "svc.db"), 4)
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	require.NoError(t, repo.AutoMigrate(db))
	return db
}

func addConfirmed(t *testing.T, db *gorm.DB, emails ...string) {
	t.Helper()
	for _, e := range emails {
		ns, err := domain.ParseNewSubscriber("Reader", e)
		require.NoError(t, err)
		s, err := repo.CreateSubscriber(context.Background(), db, ns)
		require.NoError(t, err)
		require.NoError(t, repo.ConfirmSubscriber(context.Background(), db, s.ID))
	}
}

func countRows(t *testing.T, db *gorm.DB, model any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(model).Count(&n).Error)
	return n
}

type sentMail struct {
	To, Subject, HTML, Text string
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (f *fakeSender) Send(_ context.Context, to domain.SubscriberEmail, subject, html, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentMail{To: to.String(), Subject: subject, HTML: html, Text: text})
	return nil
}
