// Package access gates the bot behind invite activation. A user redeems a
// single-use invite once via /start; afterwards they stay activated and the
// invite is spent.
package access

import (
	"context"
	"strings"
	"sync"
)

// Verifier answers activation questions and redeems invites.
type Verifier interface {
	// Verified reports whether the user has completed activation.
	Verified(ctx context.Context, userID int64) (bool, error)
	// Redeem consumes the invite for the user. It returns false when the
	// invite is unknown or already spent; redeeming is idempotent for a user
	// who is already activated.
	Redeem(ctx context.Context, token string, userID int64) (bool, error)
}

// Static is an in-memory Verifier backed by a fixed invite list, used with
// the memory storage backend.
type Static struct {
	mu        sync.Mutex
	tokens    map[string]bool
	activated map[int64]bool
}

// NewStatic builds a Static verifier from configured invite tokens.
func NewStatic(tokens []string) *Static {
	s := &Static{
		tokens:    make(map[string]bool, len(tokens)),
		activated: make(map[int64]bool),
	}
	for _, t := range tokens {
		t = strings.TrimSpace(t)
		if t != "" {
			s.tokens[t] = true
		}
	}
	return s
}

// Verified reports whether the user redeemed an invite earlier.
func (s *Static) Verified(_ context.Context, userID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activated[userID], nil
}

// Redeem spends the invite and marks the user activated.
func (s *Static) Redeem(_ context.Context, token string, userID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activated[userID] {
		return true, nil
	}
	if !s.tokens[strings.TrimSpace(token)] {
		return false, nil
	}
	delete(s.tokens, strings.TrimSpace(token))
	s.activated[userID] = true
	return true, nil
}
