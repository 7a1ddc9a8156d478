package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/whisperlane/whisperbot/core/logger"
)

// PostgresStore keeps sessions in a single table with a sliding expiry
// column. Reads filter on expires_at so an expired row is indistinguishable
// from an absent one; a background cleaner removes dead rows eventually.
type PostgresStore struct {
	db  *sqlx.DB
	ttl time.Duration
}

// NewPostgresStore constructs a PostgresStore with the given TTL.
func NewPostgresStore(db *sqlx.DB, ttl time.Duration) *PostgresStore {
	return &PostgresStore{db: db, ttl: ttl}
}

// Get loads the session for a user, or (nil, nil) when absent or expired.
func (p *PostgresStore) Get(ctx context.Context, userID int64) (*Session, error) {
	var payload []byte
	err := p.db.GetContext(ctx, &payload,
		`SELECT payload FROM sessions WHERE user_id = $1 AND expires_at > now()`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session get: %w", err)
	}
	var s Session
	if err := json.Unmarshal(payload, &s); err != nil {
		return nil, fmt.Errorf("session decode: %w", err)
	}
	return &s, nil
}

// Put upserts the session and resets its expiry window.
func (p *PostgresStore) Put(ctx context.Context, userID int64, s *Session) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("session encode: %w", err)
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO sessions (user_id, payload, created_at, expires_at)
		VALUES ($1, $2, now(), now() + make_interval(secs => $3))
		ON CONFLICT (user_id)
		DO UPDATE SET payload = EXCLUDED.payload, expires_at = EXCLUDED.expires_at`,
		userID, payload, p.ttl.Seconds())
	if err != nil {
		return fmt.Errorf("session put: %w", err)
	}
	return nil
}

// Delete removes the session row; absent rows are a no-op.
func (p *PostgresStore) Delete(ctx context.Context, userID int64) error {
	if _, err := p.db.ExecContext(ctx, `DELETE FROM sessions WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("session delete: %w", err)
	}
	return nil
}

// StartCleaner periodically removes expired rows until ctx is done.
func (p *PostgresStore) StartCleaner(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = 10 * time.Minute
	}
	go func() {
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				res, err := p.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= now()`)
				if err != nil {
					logger.Warn(ctx, "session", "cleanup.fail", slog.String("err", err.Error()))
					continue
				}
				if n, _ := res.RowsAffected(); n > 0 {
					logger.Debug(ctx, "session", "cleanup", slog.Int64("removed", n))
				}
			}
		}
	}()
}
