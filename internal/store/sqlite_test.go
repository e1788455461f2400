package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
)

func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedUser(t *testing.T, s *SQLiteStore, nickname string) *User {
	t.Helper()
	u := &User{
		ID:           uuid.New().String(),
		Nickname:     nickname,
		PasswordHash: "$2a$10$fakehashfortesting",
		CreatedAt:    time.Now(),
	}
	if err := s.CreateUser(context.Background(), u); err != nil {
		t.Fatal(err)
	}
	return u
}

func TestCreateAndGetUser(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	seeded := seedUser(t, s, "alice")

	got, err := s.GetUser(ctx, "alice")
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected user, got nil")
	}
	if got.ID != seeded.ID {
		t.Errorf("expected id %q, got %q", seeded.ID, got.ID)
	}
	if got.PasswordHash != seeded.PasswordHash {
		t.Error("password hash mismatch")
	}
}

func TestGetUserNotFound(t *testing.T) {
	s := setupTestStore(t)

	got, err := s.GetUser(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for missing user, got %+v", got)
	}
}

func TestCreateUserDuplicateNickname(t *testing.T) {
	s := setupTestStore(t)

	seedUser(t, s, "bob")

	dup := &User{
		ID:           uuid.New().String(),
		Nickname:     "bob",
		PasswordHash: "x",
		CreatedAt:    time.Now(),
	}
	if err := s.CreateUser(context.Background(), dup); err == nil {
		t.Error("expected unique constraint violation for duplicate nickname")
	}
}

func TestNicknameIsCaseSensitive(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	seedUser(t, s, "Carol")

	got, err := s.GetUser(ctx, "carol")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Error("expected lookup to be case-sensitive")
	}
}

func TestListUsers(t *testing.T) {
	s := setupTestStore(t)

	seedUser(t, s, "bob")
	seedUser(t, s, "alice")

	users, err := s.ListUsers(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(users) != 2 {
		t.Fatalf("expected 2 users, got %d", len(users))
	}
	if users[0].Nickname != "alice" || users[1].Nickname != "bob" {
		t.Errorf("expected users ordered by nickname, got %q, %q", users[0].Nickname, users[1].Nickname)
	}
}

func TestRenameUser(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	seedUser(t, s, "dave")

	if err := s.RenameUser(ctx, "dave", "david"); err != nil {
		t.Fatalf("RenameUser failed: %v", err)
	}

	old, err := s.GetUser(ctx, "dave")
	if err != nil {
		t.Fatal(err)
	}
	if old != nil {
		t.Error("expected old nickname to be gone")
	}

	renamed, err := s.GetUser(ctx, "david")
	if err != nil {
		t.Fatal(err)
	}
	if renamed == nil {
		t.Fatal("expected renamed user to exist")
	}
}

func TestRenameUserMissing(t *testing.T) {
	s := setupTestStore(t)
	if err := s.RenameUser(context.Background(), "ghost", "spirit"); err == nil {
		t.Error("expected error renaming a missing user")
	}
}

func TestSetAvatar(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	seedUser(t, s, "eve")

	if err := s.SetAvatar(ctx, "eve", "/avatars/eve.png"); err != nil {
		t.Fatalf("SetAvatar failed: %v", err)
	}

	got, err := s.GetUser(ctx, "eve")
	if err != nil {
		t.Fatal(err)
	}
	if got.Avatar != "/avatars/eve.png" {
		t.Errorf("expected avatar to be set, got %q", got.Avatar)
	}
}
