package session

import "context"

// Store is the ephemeral keyed session storage. Every operation is
// idempotent; Put resets the TTL countdown on each write. Expired entries
// behave exactly like absent ones.
//
// Get returns (nil, nil) for an absent or expired session; an error means the
// store itself failed and callers should degrade to "absent" for reads while
// propagating write failures.
type Store interface {
	Get(ctx context.Context, userID int64) (*Session, error)
	Put(ctx context.Context, userID int64, s *Session) error
	Delete(ctx context.Context, userID int64) error
}
