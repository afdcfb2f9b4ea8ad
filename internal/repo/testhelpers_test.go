package repo

import (
	"context"
	"testing"

	"gorm.io/gorm"

	"github.com/tbourn/go-newsletter-backend/internal/domain"
)

// seedSubscriber inserts a subscriber with the given status.
func seedSubscriber(t *testing.T, db *gorm.DB, email, status string) *domain.Subscriber {
	t.Helper()
	ns, err := domain.ParseNewSubscriber("Reader", email)
	if err != nil {
		t.Fatalf("parse subscriber %s: %v", email, err)
	}
	s, err := CreateSubscriber(context.Background(), db, ns)
	if err != nil {
		t.Fatalf("create subscriber %s: %v", email, err)
	}
	if status == domain.StatusConfirmed {
		if err := ConfirmSubscriber(context.Background(), db, s.ID); err != nil {
			t.Fatalf("confirm %s: %v", email, err)
		}
		s.Status = domain.StatusConfirmed
	}
	return s
}
