package access

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
)

// Postgres is the durable Verifier backed by the invites and activations
// tables.
type Postgres struct {
	db *sqlx.DB
}

// NewPostgres constructs a Postgres verifier.
func NewPostgres(db *sqlx.DB) *Postgres {
	return &Postgres{db: db}
}

// Verified reports whether an activation row exists for the user.
func (p *Postgres) Verified(ctx context.Context, userID int64) (bool, error) {
	var ok bool
	const q = `SELECT EXISTS (SELECT 1 FROM activations WHERE user_id = $1)`
	if err := p.db.GetContext(ctx, &ok, q, userID); err != nil {
		return false, fmt.Errorf("access: check activation: %w", err)
	}
	return ok, nil
}

// Redeem spends the invite and records the activation in one transaction.
func (p *Postgres) Redeem(ctx context.Context, token string, userID int64) (bool, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return false, nil
	}

	active, err := p.Verified(ctx, userID)
	if err != nil {
		return false, err
	}
	if active {
		return true, nil
	}

	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("access: begin redeem: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE invites SET redeemed_by = $2, redeemed_at = now()
		 WHERE token = $1 AND redeemed_by IS NULL`,
		token, userID)
	if err != nil {
		return false, fmt.Errorf("access: spend invite: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("access: spend invite: %w", err)
	}
	if n == 0 {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO activations (user_id, activated_at) VALUES ($1, now())
		 ON CONFLICT (user_id) DO NOTHING`,
		userID); err != nil {
		return false, fmt.Errorf("access: record activation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("access: commit redeem: %w", err)
	}
	return true, nil
}
