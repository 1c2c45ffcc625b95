// Package database owns the Postgres connection pool and schema for the
// distributed deployment.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Connect opens a pgx pool against databaseURL and verifies connectivity.
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = 8
	cfg.MaxConnLifetime = time.Hour

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// EnsureSchema creates the tables the search service needs. Results and the
// per-platform breakdown are stored as JSONB so completed jobs round-trip
// without a join. account_credits is a single-row ledger seeded on first run.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool, creditBudget int) error {
	const schema = `
CREATE TABLE IF NOT EXISTS search_jobs (
	id          BIGSERIAL PRIMARY KEY,
	keywords    TEXT[] NOT NULL,
	sources     TEXT[] NOT NULL,
	competitors TEXT[] NOT NULL DEFAULT '{}',
	status      TEXT NOT NULL DEFAULT 'queued',
	message     TEXT NOT NULL DEFAULT '',
	results     JSONB,
	breakdown   JSONB,
	archive_key TEXT NOT NULL DEFAULT '',
	started_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_search_jobs_status ON search_jobs (status, updated_at);

CREATE TABLE IF NOT EXISTS account_credits (
	id      INT PRIMARY KEY DEFAULT 1,
	balance INT NOT NULL,
	CONSTRAINT account_credits_single_row CHECK (id = 1)
);
`
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	_, err := pool.Exec(ctx,
		`INSERT INTO account_credits (id, balance) VALUES (1, $1) ON CONFLICT (id) DO NOTHING`,
		creditBudget)
	if err != nil {
		return fmt.Errorf("seed credits: %w", err)
	}
	return nil
}
