package v1

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// sessionStore is an in-memory token table for the userpass auth mode.
// Tokens are opaque UUIDs with a fixed TTL; there is no refresh.
type sessionStore struct {
	ttl time.Duration

	mu     sync.Mutex
	tokens map[string]time.Time
}

func newSessionStore(ttl time.Duration) *sessionStore {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &sessionStore{
		ttl:    ttl,
		tokens: make(map[string]time.Time),
	}
}

func (s *sessionStore) issue() AuthResponse {
	token := uuid.NewString()
	expiresAt := time.Now().Add(s.ttl)

	s.mu.Lock()
	s.tokens[token] = expiresAt
	s.mu.Unlock()

	return AuthResponse{Token: token, ExpiresAt: expiresAt}
}

func (s *sessionStore) valid(token string) bool {
	if token == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	expiresAt, ok := s.tokens[token]
	if !ok {
		return false
	}
	if time.Now().After(expiresAt) {
		delete(s.tokens, token)
		return false
	}
	return true
}
