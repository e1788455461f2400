// Package session maps opaque session tokens to identities. Tokens are issued
// at login and are never expired or revoked; a fresh login simply issues
// another token for the same identity.
package session

import (
	"sync"

	"github.com/google/uuid"
)

// Store holds the token → identity mapping. Safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	tokens map[string]string
}

// NewStore creates an empty session store.
func NewStore() *Store {
	return &Store{tokens: make(map[string]string)}
}

// Issue generates a fresh random token bound to identity and records it.
func (s *Store) Issue(identity string) string {
	token := uuid.New().String()
	s.mu.Lock()
	s.tokens[token] = identity
	s.mu.Unlock()
	return token
}

// Resolve returns the identity a token was issued for, or ok=false if the
// token was never issued.
func (s *Store) Resolve(token string) (identity string, ok bool) {
	s.mu.RLock()
	identity, ok = s.tokens[token]
	s.mu.RUnlock()
	return identity, ok
}

// Repoint rebinds every token that mapped to oldIdentity onto newIdentity.
// Used when an identity is renamed so existing logins keep working.
func (s *Store) Repoint(oldIdentity, newIdentity string) {
	s.mu.Lock()
	for token, identity := range s.tokens {
		if identity == oldIdentity {
			s.tokens[token] = newIdentity
		}
	}
	s.mu.Unlock()
}
