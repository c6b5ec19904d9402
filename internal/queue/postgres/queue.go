// Package postgres provides the Postgres-backed document queue.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/civicdocs/ingestor/internal/pipeline"
)

// Schema creates the queue table. Applied at startup when migrations are
// managed by the service itself.
const Schema = `
CREATE TABLE IF NOT EXISTS document_queue (
	package_id   TEXT PRIMARY KEY,
	source_url   TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'pending',
	priority     INT  NOT NULL DEFAULT 0,
	retry_count  INT  NOT NULL DEFAULT 0,
	last_error   TEXT NOT NULL DEFAULT '',
	worker_id    TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	started_at   TIMESTAMPTZ,
	completed_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS document_queue_claim_idx
	ON document_queue (status, priority DESC, created_at ASC);
`

// Config controls the Postgres connection pool used by the queue.
type Config struct {
	DSN        string
	MaxConns   int32
	MaxRetries int
}

type querier interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// Queue is the durable Postgres work list of documents to ingest.
type Queue struct {
	pool       querier
	maxRetries int
}

// New creates a Postgres-backed Queue using the provided config.
func New(ctx context.Context, cfg Config) (*Queue, error) {
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
	return newWithPool(pool, cfg.MaxRetries), nil
}

// NewWithPool constructs a queue from an existing pool (primarily for testing).
func NewWithPool(pool querier, maxRetries int) (*Queue, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return newWithPool(pool, maxRetries), nil
}

func newWithPool(pool querier, maxRetries int) *Queue {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Queue{pool: pool, maxRetries: maxRetries}
}

// Init applies the queue schema.
func (q *Queue) Init(ctx context.Context) error {
	if _, err := q.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply queue schema: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (q *Queue) Close() {
	if q == nil || q.pool == nil {
		return
	}
	q.pool.Close()
}

// Enqueue registers a document for processing. Completed entries are left
// alone unless force is set, in which case the entry resets to pending with
// a fresh retry budget.
func (q *Queue) Enqueue(ctx context.Context, packageID, sourceURL string, priority int, force bool) error {
	if packageID == "" {
		return fmt.Errorf("package id is required")
	}
	query := `
INSERT INTO document_queue (package_id, source_url, priority)
VALUES ($1, $2, $3)
ON CONFLICT (package_id) DO UPDATE SET
	source_url = EXCLUDED.source_url,
	priority   = EXCLUDED.priority,
	status     = 'pending',
	retry_count = 0,
	last_error = '',
	worker_id  = '',
	started_at = NULL,
	completed_at = NULL,
	updated_at = now()
WHERE document_queue.status = 'failed'
	OR ($4 AND document_queue.status IN ('completed', 'failed'))`
	if _, err := q.pool.Exec(ctx, query, packageID, sourceURL, priority, force); err != nil {
		return fmt.Errorf("enqueue %s: %w", packageID, err)
	}
	return nil
}

// ClaimBatch atomically moves up to max pending entries to downloading,
// stamping the worker id and start time. FOR UPDATE SKIP LOCKED guarantees
// two concurrent claimers never receive the same entry.
func (q *Queue) ClaimBatch(ctx context.Context, max int, workerID string) ([]pipeline.QueueEntry, error) {
	if max <= 0 {
		return nil, nil
	}
	query := `
UPDATE document_queue SET
	status = 'downloading',
	worker_id = $2,
	started_at = now(),
	updated_at = now()
WHERE package_id IN (
	SELECT package_id FROM document_queue
	WHERE status = 'pending'
	ORDER BY priority DESC, created_at ASC
	LIMIT $1
	FOR UPDATE SKIP LOCKED
)
RETURNING package_id, source_url, status, priority, retry_count, last_error,
	worker_id, created_at, updated_at, started_at, completed_at`
	rows, err := q.pool.Query(ctx, query, max, workerID)
	if err != nil {
		return nil, fmt.Errorf("claim batch: %w", err)
	}
	defer rows.Close()

	var entries []pipeline.QueueEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan claimed entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("claim batch rows: %w", err)
	}
	return entries, nil
}

// MarkProcessing advances a claimed entry from downloading to processing.
func (q *Queue) MarkProcessing(ctx context.Context, packageID string) error {
	query := `
UPDATE document_queue SET status = 'processing', updated_at = now()
WHERE package_id = $1 AND status = 'downloading'`
	tag, err := q.pool.Exec(ctx, query, packageID)
	if err != nil {
		return fmt.Errorf("mark processing %s: %w", packageID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("mark processing %s: entry not in downloading state", packageID)
	}
	return nil
}

// MarkResult records the outcome of one document. Success completes the
// entry. A retryable failure with budget remaining resets the entry to
// pending and increments retry_count; any other failure is terminal and
// leaves retry_count untouched, so a permanent failure keeps retry_count 0
// and retry_count never exceeds the budget.
func (q *Queue) MarkResult(ctx context.Context, packageID string, outcome pipeline.Outcome) error {
	if outcome.Succeeded() {
		query := `
UPDATE document_queue SET
	status = 'completed', completed_at = now(), updated_at = now(), last_error = ''
WHERE package_id = $1 AND status IN ('downloading', 'processing')`
		tag, err := q.pool.Exec(ctx, query, packageID)
		if err != nil {
			return fmt.Errorf("mark completed %s: %w", packageID, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("mark completed %s: entry not claimed", packageID)
		}
		return nil
	}

	query := `
UPDATE document_queue SET
	retry_count = CASE WHEN $3 AND retry_count < $4 THEN retry_count + 1 ELSE retry_count END,
	last_error = $2,
	status = CASE WHEN $3 AND retry_count < $4 THEN 'pending' ELSE 'failed' END,
	worker_id = '',
	started_at = NULL,
	updated_at = now()
WHERE package_id = $1 AND status IN ('downloading', 'processing')`
	tag, err := q.pool.Exec(ctx, query, packageID, outcome.Err.Error(), outcome.Class.Retryable(), q.maxRetries)
	if err != nil {
		return fmt.Errorf("mark failed %s: %w", packageID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("mark failed %s: entry not claimed", packageID)
	}
	return nil
}

// Requeue resets a failed entry to pending with a fresh retry budget.
// Operator action only.
func (q *Queue) Requeue(ctx context.Context, packageID string) error {
	query := `
UPDATE document_queue SET
	status = 'pending', retry_count = 0, last_error = '', worker_id = '',
	started_at = NULL, completed_at = NULL, updated_at = now()
WHERE package_id = $1 AND status = 'failed'`
	tag, err := q.pool.Exec(ctx, query, packageID)
	if err != nil {
		return fmt.Errorf("requeue %s: %w", packageID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("requeue %s: entry not in failed state", packageID)
	}
	return nil
}

// SweepStale resets downloading/processing entries whose lease expired back
// to pending so another worker can claim them.
func (q *Queue) SweepStale(ctx context.Context, leaseTimeout time.Duration) (int, error) {
	query := `
UPDATE document_queue SET
	status = 'pending', worker_id = '', started_at = NULL, updated_at = now()
WHERE status IN ('downloading', 'processing')
	AND started_at < now() - $1::interval`
	tag, err := q.pool.Exec(ctx, query, leaseTimeout.String())
	if err != nil {
		return 0, fmt.Errorf("sweep stale leases: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// Depth counts entries per lifecycle state.
func (q *Queue) Depth(ctx context.Context) (pipeline.QueueDepth, error) {
	query := `SELECT status, count(*) FROM document_queue GROUP BY status`
	rows, err := q.pool.Query(ctx, query)
	if err != nil {
		return pipeline.QueueDepth{}, fmt.Errorf("queue depth: %w", err)
	}
	defer rows.Close()

	var depth pipeline.QueueDepth
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return pipeline.QueueDepth{}, fmt.Errorf("scan depth row: %w", err)
		}
		switch pipeline.Status(status) {
		case pipeline.StatusPending:
			depth.Pending = count
		case pipeline.StatusDownloading:
			depth.Downloading = count
		case pipeline.StatusProcessing:
			depth.Processing = count
		case pipeline.StatusCompleted:
			depth.Completed = count
		case pipeline.StatusFailed:
			depth.Failed = count
		}
	}
	if err := rows.Err(); err != nil {
		return pipeline.QueueDepth{}, fmt.Errorf("depth rows: %w", err)
	}
	return depth, nil
}

// Get fetches one entry by package id.
func (q *Queue) Get(ctx context.Context, packageID string) (pipeline.QueueEntry, error) {
	query := `
SELECT package_id, source_url, status, priority, retry_count, last_error,
	worker_id, created_at, updated_at, started_at, completed_at
FROM document_queue WHERE package_id = $1`
	row := q.pool.QueryRow(ctx, query, packageID)
	entry, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return pipeline.QueueEntry{}, fmt.Errorf("entry %s not found: %w", packageID, err)
	}
	if err != nil {
		return pipeline.QueueEntry{}, fmt.Errorf("get entry %s: %w", packageID, err)
	}
	return entry, nil
}

// Ping verifies database connectivity for readiness checks.
func (q *Queue) Ping(ctx context.Context) error {
	var one int
	if err := q.pool.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (pipeline.QueueEntry, error) {
	var e pipeline.QueueEntry
	var status string
	if err := row.Scan(
		&e.PackageID, &e.SourceURL, &status, &e.Priority, &e.RetryCount,
		&e.LastError, &e.WorkerID, &e.CreatedAt, &e.UpdatedAt,
		&e.StartedAt, &e.CompletedAt,
	); err != nil {
		return pipeline.QueueEntry{}, err
	}
	e.Status = pipeline.Status(status)
	return e, nil
}
