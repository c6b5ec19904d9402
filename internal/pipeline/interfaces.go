package pipeline

import (
	"context"
	"time"
)

// Queue is the durable, status-tracked work list of documents to process.
// Claiming must be atomic: two concurrent callers never receive the same
// entry.
type Queue interface {
	// Enqueue registers a document for processing. Re-enqueueing a completed
	// entry is a no-op unless force is set.
	Enqueue(ctx context.Context, packageID, sourceURL string, priority int, force bool) error
	// ClaimBatch atomically transitions up to max pending entries to
	// downloading, ordered by priority desc then creation time asc, stamping
	// started_at and the worker id.
	ClaimBatch(ctx context.Context, max int, workerID string) ([]QueueEntry, error)
	// MarkProcessing advances a claimed entry from downloading to processing.
	MarkProcessing(ctx context.Context, packageID string) error
	// MarkResult records the terminal outcome of one document. A failure
	// with a retryable class increments retry_count and resets the entry to
	// pending while budget remains.
	MarkResult(ctx context.Context, packageID string, outcome Outcome) error
	// Requeue resets a failed entry to pending. Operator action only.
	Requeue(ctx context.Context, packageID string) error
	// SweepStale resets downloading/processing entries whose lease expired
	// back to pending, returning how many were recovered.
	SweepStale(ctx context.Context, leaseTimeout time.Duration) (int, error)
	// Depth counts entries per lifecycle state.
	Depth(ctx context.Context) (QueueDepth, error)
}

// Outcome is the per-document result reported back to the queue.
type Outcome struct {
	Err   error
	Class FailureClass
}

// Succeeded reports whether the document completed without error.
func (o Outcome) Succeeded() bool { return o.Err == nil }

// DocumentStore persists document metadata in the relational store.
type DocumentStore interface {
	UpsertDocument(ctx context.Context, doc DocumentRecord) error
	GetByHash(ctx context.Context, contentHash string) (DocumentRecord, error)
	GetByPackageID(ctx context.Context, packageID string) (DocumentRecord, error)
}

// GraphStore persists entities and their relationships.
type GraphStore interface {
	UpsertEntities(ctx context.Context, docID, runID string, entities []Entity) error
	UpsertRelationships(ctx context.Context, docID string, rels []Relationship) error
}

// VectorStore persists embeddings and answers similarity queries. Callers
// must not depend on which implementation is active.
type VectorStore interface {
	Upsert(ctx context.Context, records []EmbeddingRecord) error
	Search(ctx context.Context, vector []float32, topK int) ([]SearchMatch, error)
}

// Downloader fetches the raw document named by a queue entry.
type Downloader interface {
	Download(ctx context.Context, entry QueueEntry) (DownloadResult, error)
}

// Extractor converts a downloaded binary into plain text, reporting which
// strategy produced the accepted output.
type Extractor interface {
	Extract(ctx context.Context, body []byte, contentType string) (text string, method string, err error)
}

// EntityExtractor runs named-entity and relationship extraction over text.
type EntityExtractor interface {
	ExtractEntities(text string) []Entity
	FindRelationships(entities []Entity, text string) []Relationship
}

// Embedder produces vector representations of text.
type Embedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
}

// BlobStore writes raw artifacts and returns a stable reference.
type BlobStore interface {
	Put(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes document-completed events to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes content digests for deduplication and idempotence.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (swappable for testing).
type Clock interface {
	Now() time.Time
}
