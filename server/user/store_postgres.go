package user

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Directory and Blocks over a pgx pool.
//
// Expected schema:
//
//	CREATE TABLE users (
//	    id           TEXT PRIMARY KEY,
//	    display_name TEXT NOT NULL,
//	    suspended    BOOLEAN NOT NULL DEFAULT FALSE,
//	    created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
//	);
//
//	CREATE TABLE user_blocks (
//	    blocker_id TEXT NOT NULL REFERENCES users(id),
//	    blocked_id TEXT NOT NULL REFERENCES users(id),
//	    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
//	    PRIMARY KEY (blocker_id, blocked_id)
//	);
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps an existing pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Lookup implements Directory.
func (s *PostgresStore) Lookup(ctx context.Context, id string) (User, bool, error) {
	const q = `SELECT id, display_name, suspended, created_at FROM users WHERE id = $1`

	var u User
	err := s.pool.QueryRow(ctx, q, id).Scan(&u.ID, &u.DisplayName, &u.Suspended, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, false, nil
	}
	if err != nil {
		return User{}, false, fmt.Errorf("%w: lookup user: %v", ErrLookup, err)
	}
	return u, true, nil
}

// Blocked implements Blocks. One round trip covers both directions.
func (s *PostgresStore) Blocked(ctx context.Context, a, b string) (bool, error) {
	const q = `SELECT EXISTS (
		SELECT 1 FROM user_blocks
		WHERE (blocker_id = $1 AND blocked_id = $2)
		   OR (blocker_id = $2 AND blocked_id = $1)
	)`

	var blocked bool
	if err := s.pool.QueryRow(ctx, q, a, b).Scan(&blocked); err != nil {
		return false, fmt.Errorf("%w: block check: %v", ErrLookup, err)
	}
	return blocked, nil
}
