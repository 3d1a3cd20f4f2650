// Package db owns the Postgres connection pool and the embedded schema.
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Connect opens a pgx pool from the DSN.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.MaxConns = 8
	cfg.MaxConnIdleTime = 5 * time.Minute
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return pool, nil
}

// EnsureSchema creates the pipeline tables if needed. Keeping the migration
// in code keeps single-node deployments self-contained.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	const stmt = `
CREATE TABLE IF NOT EXISTS recordings (
	id UUID PRIMARY KEY,
	owner_id UUID NOT NULL,
	context_kind TEXT NOT NULL,
	patient_id UUID,
	audio_ref TEXT NOT NULL,
	filename TEXT NOT NULL,
	duration_seconds DOUBLE PRECISION NOT NULL DEFAULT 0,
	processing_status TEXT NOT NULL,
	processing_started_at TIMESTAMPTZ,
	processing_completed_at TIMESTAMPTZ,
	processing_error TEXT,
	processing_error_kind TEXT,
	transcript TEXT,
	transcript_language TEXT,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_recordings_owner ON recordings(owner_id);
CREATE INDEX IF NOT EXISTS idx_recordings_status ON recordings(processing_status);

CREATE TABLE IF NOT EXISTS review_items (
	id UUID PRIMARY KEY,
	recording_id UUID NOT NULL UNIQUE,
	owner_id UUID NOT NULL,
	context_kind TEXT NOT NULL,
	patient_id UUID,
	transcript TEXT NOT NULL,
	transcript_language TEXT NOT NULL,
	categories JSONB NOT NULL,
	overall_confidence DOUBLE PRECISION NOT NULL,
	status TEXT NOT NULL,
	reanalysis_count INT NOT NULL DEFAULT 0,
	model_version TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	confirmed_at TIMESTAMPTZ,
	discarded_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_review_items_owner ON review_items(owner_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_review_items_status ON review_items(status);`
	if _, err := pool.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
