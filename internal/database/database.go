// Package database opens the Postgres pool behind the secret store and keeps
// its schema current.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Connect opens a pool for url and pings it.
func Connect(ctx context.Context, url string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("database: parse url: %w", err)
	}
	cfg.MaxConnIdleTime = 5 * time.Minute
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("database: open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database: ping: %w", err)
	}
	return pool, nil
}

// schema is applied in order; every statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS rooms (
		id           TEXT PRIMARY KEY,
		host_id      TEXT NOT NULL,
		public_state JSONB,
		deal_count   INTEGER NOT NULL DEFAULT 0,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS members (
		room_id      TEXT NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
		user_id      TEXT NOT NULL,
		display_name TEXT NOT NULL,
		credits      BIGINT NOT NULL DEFAULT 0,
		joined_at    TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp(),
		PRIMARY KEY (room_id, user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS roles (
		room_id TEXT NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
		user_id TEXT NOT NULL,
		role    TEXT NOT NULL,
		PRIMARY KEY (room_id, user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS votes (
		room_id      TEXT NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
		round_number INTEGER NOT NULL,
		user_id      TEXT NOT NULL,
		approve      BOOLEAN NOT NULL,
		PRIMARY KEY (room_id, round_number, user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS mission_cards (
		room_id      TEXT NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
		round_number INTEGER NOT NULL,
		user_id      TEXT NOT NULL,
		card         TEXT NOT NULL,
		PRIMARY KEY (room_id, round_number, user_id)
	)`,
}

// Migrate creates any missing tables.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for i, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("database: migrate step %d: %w", i, err)
		}
	}
	return nil
}
