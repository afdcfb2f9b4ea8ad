package repo

import (
	"context"
	"errors"
	"testing"
)

func TestUserRepo_CRUD(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()

	u, err := CreateUser(ctx, db, "admin", "hash-1")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if _, err := CreateUser(ctx, db, "admin", "hash-2"); err == nil {
		t.Fatalf("expected unique violation on username")
	}

	byName, err := GetUserByUsername(ctx, db, "admin")
	if err != nil || byName.UserID != u.UserID {
		t.Fatalf("GetUserByUsername = %+v, %v", byName, err)
	}
	if _, err := GetUserByUsername(ctx, db, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := UpdatePasswordHash(ctx, db, u.UserID, "hash-3"); err != nil {
		t.Fatalf("UpdatePasswordHash: %v", err)
	}
	byID, err := GetUserByID(ctx, db, u.UserID)
	if err != nil || byID.PasswordHash != "hash-3" {
		t.Fatalf("GetUserByID = %+v, %v", byID, err)
	}
	if err := UpdatePasswordHash(ctx, db, "missing", "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
