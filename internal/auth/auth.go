// Package auth provides identity registration, login and rename on top of the
// identity store. It owns the contracts the relay core depends on: an
// identity gets its empty offline queue at registration, and a rename moves
// the queue, the presence entry and every issued token as one step.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/parley-im/parley/internal/router"
	"github.com/parley-im/parley/internal/session"
	"github.com/parley-im/parley/internal/store"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserExists         = errors.New("user already exists")
)

// Service handles authentication and identity lifecycle operations.
type Service struct {
	store    store.Store
	sessions *session.Store
	router   *router.Router
}

// NewService creates a new auth service.
func NewService(s store.Store, sessions *session.Store, rt *router.Router) *Service {
	return &Service{store: s, sessions: sessions, router: rt}
}

// Register creates a new identity and its empty offline queue.
func (s *Service) Register(ctx context.Context, nickname, password string) (*store.User, error) {
	existing, err := s.store.GetUser(ctx, nickname)
	if err != nil {
		return nil, fmt.Errorf("check existing: %w", err)
	}
	if existing != nil {
		return nil, ErrUserExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &store.User{
		ID:           uuid.New().String(),
		Nickname:     nickname,
		PasswordHash: string(hash),
		CreatedAt:    time.Now(),
	}

	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	// Messages may target this identity from now on.
	s.router.RegisterIdentity(nickname)

	return user, nil
}

// Login authenticates an identity and issues a fresh session token. Earlier
// tokens for the same identity stay valid.
func (s *Service) Login(ctx context.Context, nickname, password string) (string, *store.User, error) {
	user, err := s.verify(ctx, nickname, password)
	if err != nil {
		return "", nil, err
	}
	return s.sessions.Issue(nickname), user, nil
}

// Rename moves an identity to a new nickname. The offline queue, the presence
// entry and all previously issued tokens follow; from the core's perspective
// the move is atomic.
func (s *Service) Rename(ctx context.Context, oldNick, newNick, password string) error {
	if _, err := s.verify(ctx, oldNick, password); err != nil {
		return err
	}

	existing, err := s.store.GetUser(ctx, newNick)
	if err != nil {
		return fmt.Errorf("check existing: %w", err)
	}
	if existing != nil {
		return ErrUserExists
	}

	if err := s.store.RenameUser(ctx, oldNick, newNick); err != nil {
		return fmt.Errorf("rename user: %w", err)
	}
	if err := s.router.Rename(oldNick, newNick); err != nil {
		return fmt.Errorf("rename identity: %w", err)
	}
	s.sessions.Repoint(oldNick, newNick)
	return nil
}

// verify checks a nickname/password pair against the store. Missing user and
// wrong password collapse into the same error on purpose.
func (s *Service) verify(ctx context.Context, nickname, password string) (*store.User, error) {
	user, err := s.store.GetUser(ctx, nickname)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if user == nil {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}
