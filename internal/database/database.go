package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Connect opens a pgx connection pool using the provided DSN.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.MaxConns = 8
	cfg.MaxConnIdleTime = 5 * time.Minute
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// Schema creates the upload and product tables. The unique constraints carry
// the dedup guarantees: one file row per content hash and one product per
// natural key, regardless of how many processes ingest concurrently.
const Schema = `
CREATE TABLE IF NOT EXISTS file_uploads (
	id TEXT PRIMARY KEY,
	original_name TEXT NOT NULL,
	object_key TEXT NOT NULL,
	size BIGINT NOT NULL,
	media_type TEXT NOT NULL DEFAULT '',
	extension TEXT NOT NULL DEFAULT '',
	content_hash CHAR(64) NOT NULL,
	metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
	processed BOOLEAN NOT NULL DEFAULT FALSE,
	job JSONB NOT NULL DEFAULT '{}'::jsonb,
	uploaded_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	CONSTRAINT file_uploads_content_hash_key UNIQUE (content_hash)
);
CREATE INDEX IF NOT EXISTS idx_file_uploads_uploaded_at ON file_uploads(uploaded_at DESC);

CREATE TABLE IF NOT EXISTS products (
	unique_key TEXT PRIMARY KEY,
	product_title TEXT NOT NULL,
	product_description TEXT,
	style_number TEXT,
	sanmar_mainframe_color TEXT,
	size TEXT,
	color_name TEXT,
	piece_price NUMERIC(10,2),
	original_filename TEXT,
	last_imported_at TIMESTAMPTZ NOT NULL,
	import_metadata JSONB
);
CREATE INDEX IF NOT EXISTS idx_products_style_number ON products(style_number);
CREATE INDEX IF NOT EXISTS idx_products_last_imported_at ON products(last_imported_at);`

// EnsureSchema applies Schema. Keeping the migration in code lets the compose
// stack bootstrap itself.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
