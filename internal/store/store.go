// Package store defines the identity storage interface for the relay and
// provides SQLite and PostgreSQL implementations.
package store

import (
	"context"
	"time"
)

// Store is the persistence interface for identity records. The relay core
// never touches it directly; it is consumed by the auth service and the API.
type Store interface {
	CreateUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, nickname string) (*User, error)
	ListUsers(ctx context.Context) ([]User, error)
	RenameUser(ctx context.Context, oldNick, newNick string) error
	SetAvatar(ctx context.Context, nickname, avatar string) error

	// Health
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// User is a registered identity.
type User struct {
	ID           string    `json:"id"`
	Nickname     string    `json:"nickname"`
	PasswordHash string    `json:"-"`
	Avatar       string    `json:"avatar,omitempty"` // stored filename, served under /avatars/
	CreatedAt    time.Time `json:"created_at"`
}
