package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/whisperlane/whisperbot/core/logger"
)

// Postgres stores audit records with database-enforced expiry.
type Postgres struct {
	db  *sqlx.DB
	ttl time.Duration
}

// NewPostgres constructs a Postgres recorder with the given retention.
func NewPostgres(db *sqlx.DB, ttl time.Duration) *Postgres {
	if ttl <= 0 {
		ttl = 720 * time.Hour
	}
	return &Postgres{db: db, ttl: ttl}
}

// Append inserts the record with its expiry stamped at write time.
func (p *Postgres) Append(ctx context.Context, rec Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("audit: marshal record: %w", err)
	}
	const q = `
		INSERT INTO audit_records (id, payload, created_at, expires_at)
		VALUES ($1, $2, now(), now() + make_interval(secs => $3))`
	if _, err := p.db.ExecContext(ctx, q, rec.ID, payload, p.ttl.Seconds()); err != nil {
		return fmt.Errorf("audit: insert record: %w", err)
	}
	return nil
}

// StartCleaner removes expired records periodically until ctx is cancelled.
func (p *Postgres) StartCleaner(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				res, err := p.db.ExecContext(ctx, `DELETE FROM audit_records WHERE expires_at <= now()`)
				if err != nil {
					logger.Warn(ctx, "audit", "cleaner.fail", slog.String("err", err.Error()))
					continue
				}
				if n, _ := res.RowsAffected(); n > 0 {
					logger.Debug(ctx, "audit", "cleaner.purged", slog.Int64("records", n))
				}
			}
		}
	}()
}
