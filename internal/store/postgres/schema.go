package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// EnsureSchema creates the relay's tables if they do not exist. The server is
// deployed as a single binary owning its database, so idempotent DDL at
// startup stands in for a migration tool.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	const ddl = `
	CREATE TABLE IF NOT EXISTS identities (
		external_id BIGINT PRIMARY KEY,
		username    TEXT NOT NULL,
		avatar_url  TEXT NOT NULL DEFAULT '',
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	CREATE UNIQUE INDEX IF NOT EXISTS identities_username_lower_uq
		ON identities (LOWER(username));

	CREATE TABLE IF NOT EXISTS relationships (
		external_id BIGINT NOT NULL,
		related_id  BIGINT NOT NULL,
		kind        TEXT NOT NULL CHECK (kind IN ('follower', 'following')),
		PRIMARY KEY (external_id, related_id, kind)
	);

	CREATE TABLE IF NOT EXISTS manual_connections (
		user_a     TEXT NOT NULL,
		user_b     TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (user_a, user_b),
		CHECK (user_a <> user_b)
	);

	CREATE TABLE IF NOT EXISTS invite_codes (
		code       TEXT PRIMARY KEY,
		creator    TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		expires_at TIMESTAMPTZ NOT NULL,
		used_by    TEXT,
		used_at    TIMESTAMPTZ
	);

	CREATE TABLE IF NOT EXISTS preferences (
		external_id    BIGINT PRIMARY KEY,
		visibility     TEXT NOT NULL DEFAULT 'everyone',
		share_project  BOOLEAN NOT NULL DEFAULT TRUE,
		share_language BOOLEAN NOT NULL DEFAULT TRUE,
		share_activity BOOLEAN NOT NULL DEFAULT TRUE
	);

	CREATE TABLE IF NOT EXISTS aliases (
		github_username TEXT PRIMARY KEY,
		guest_username  TEXT NOT NULL UNIQUE,
		external_id     BIGINT NOT NULL
	);`

	if _, err := pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
