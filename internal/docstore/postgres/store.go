// Package postgres persists document metadata rows.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/civicdocs/ingestor/internal/pipeline"
)

// Schema creates the documents table.
const Schema = `
CREATE TABLE IF NOT EXISTS documents (
	package_id      TEXT PRIMARY KEY,
	title           TEXT NOT NULL DEFAULT '',
	collection      TEXT NOT NULL DEFAULT '',
	published_at    TIMESTAMPTZ,
	source_url      TEXT NOT NULL,
	raw_content_ref TEXT NOT NULL,
	content_hash    TEXT NOT NULL,
	extract_method  TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS documents_content_hash_idx ON documents (content_hash);
`

// ErrNotFound is returned when no document matches the lookup key.
var ErrNotFound = pipeline.ErrDocumentNotFound

// Config controls the Postgres connection pool used by the store.
type Config struct {
	DSN      string
	MaxConns int32
}

type querier interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// Store writes document metadata rows into Postgres.
type Store struct {
	pool querier
}

// New creates a Postgres-backed document store using the provided config.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(pool querier) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: pool}, nil
}

// Init applies the documents schema.
func (s *Store) Init(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply documents schema: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// UpsertDocument inserts or updates the metadata row for one document.
// Reprocessing the same package id overwrites mutable fields in place.
func (s *Store) UpsertDocument(ctx context.Context, doc pipeline.DocumentRecord) error {
	if doc.PackageID == "" {
		return fmt.Errorf("package id is required")
	}
	query := `
INSERT INTO documents (
	package_id, title, collection, published_at, source_url,
	raw_content_ref, content_hash, extract_method
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (package_id) DO UPDATE SET
	title = EXCLUDED.title,
	collection = EXCLUDED.collection,
	published_at = EXCLUDED.published_at,
	source_url = EXCLUDED.source_url,
	raw_content_ref = EXCLUDED.raw_content_ref,
	content_hash = EXCLUDED.content_hash,
	extract_method = EXCLUDED.extract_method,
	updated_at = now()`
	args := []any{
		doc.PackageID, doc.Title, doc.Collection, doc.PublishedAt,
		doc.SourceURL, doc.RawContentRef, doc.ContentHash, doc.ExtractMethod,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert document %s: %w", doc.PackageID, err)
	}
	return nil
}

// GetByHash fetches the document row with the given content hash.
func (s *Store) GetByHash(ctx context.Context, contentHash string) (pipeline.DocumentRecord, error) {
	query := selectColumns + ` FROM documents WHERE content_hash = $1 LIMIT 1`
	return s.get(ctx, query, contentHash)
}

// GetByPackageID fetches the document row for one package id.
func (s *Store) GetByPackageID(ctx context.Context, packageID string) (pipeline.DocumentRecord, error) {
	query := selectColumns + ` FROM documents WHERE package_id = $1`
	return s.get(ctx, query, packageID)
}

const selectColumns = `
SELECT package_id, title, collection, published_at, source_url,
	raw_content_ref, content_hash, extract_method, created_at, updated_at`

func (s *Store) get(ctx context.Context, query string, arg any) (pipeline.DocumentRecord, error) {
	var doc pipeline.DocumentRecord
	err := s.pool.QueryRow(ctx, query, arg).Scan(
		&doc.PackageID, &doc.Title, &doc.Collection, &doc.PublishedAt,
		&doc.SourceURL, &doc.RawContentRef, &doc.ContentHash,
		&doc.ExtractMethod, &doc.CreatedAt, &doc.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return pipeline.DocumentRecord{}, ErrNotFound
	}
	if err != nil {
		return pipeline.DocumentRecord{}, fmt.Errorf("query document: %w", err)
	}
	return doc, nil
}
