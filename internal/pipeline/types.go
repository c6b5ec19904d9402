// Package pipeline defines core types shared across the ingestion subsystems.
package pipeline

import (
	"time"
)

// Status represents the lifecycle state of a queue entry.
type Status string

// Queue entry status values persisted in the queue table.
const (
	StatusPending     Status = "pending"
	StatusDownloading Status = "downloading"
	StatusProcessing  Status = "processing"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
)

// CanTransition reports whether moving from s to next is a legal lifecycle
// transition. Any non-terminal state may fall back to pending (retry) or
// failed (retry budget exhausted); failed returns to pending only via an
// explicit operator requeue, which is modeled as a legal transition here and
// gated at the queue API instead.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusDownloading || next == StatusFailed
	case StatusDownloading:
		return next == StatusProcessing || next == StatusPending || next == StatusFailed
	case StatusProcessing:
		return next == StatusCompleted || next == StatusPending || next == StatusFailed
	case StatusFailed:
		return next == StatusPending
	case StatusCompleted:
		return false
	default:
		return false
	}
}

// Terminal reports whether the status is a terminal lifecycle state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// QueueEntry is a unit of work representing one document to ingest.
type QueueEntry struct {
	PackageID   string     `json:"package_id"`
	Status      Status     `json:"status"`
	Priority    int        `json:"priority"`
	RetryCount  int        `json:"retry_count"`
	LastError   string     `json:"last_error,omitempty"`
	WorkerID    string     `json:"worker_id,omitempty"`
	SourceURL   string     `json:"source_url"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// DocumentRecord is the relational row persisted for each ingested document.
type DocumentRecord struct {
	PackageID     string     `json:"package_id"`
	Title         string     `json:"title"`
	Collection    string     `json:"collection"`
	PublishedAt   *time.Time `json:"published_at,omitempty"`
	SourceURL     string     `json:"source_url"`
	RawContentRef string     `json:"raw_content_ref"`
	ContentHash   string     `json:"content_hash"`
	ExtractMethod string     `json:"extract_method"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Span locates an entity inside extracted text by byte offsets.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Overlaps reports whether two spans share any offsets.
func (s Span) Overlaps(other Span) bool {
	return s.Start < other.End && other.Start < s.End
}

// Entity is a named entity extracted from document text. Entities are
// immutable once written; reprocessing produces a new set under a new RunID.
type Entity struct {
	Text             string  `json:"text"`
	Type             string  `json:"type"`
	Confidence       float64 `json:"confidence"`
	Span             Span    `json:"span"`
	SourceDocumentID string  `json:"source_document_id"`
	RunID            string  `json:"run_id"`
}

// Relationship links two entities extracted from the same document.
type Relationship struct {
	EntityA          string  `json:"entity_a"`
	RelationType     string  `json:"relation_type"`
	EntityB          string  `json:"entity_b"`
	Confidence       float64 `json:"confidence"`
	SourceDocumentID string  `json:"source_document_id"`
}

// EmbeddingRecord is one vector stored for a document chunk. The ID is
// derived from (content_hash, chunk_index, model) so repeated runs upsert
// the same key.
type EmbeddingRecord struct {
	ID       string            `json:"id"`
	Vector   []float32         `json:"vector"`
	Metadata EmbeddingMetadata `json:"metadata"`
}

// EmbeddingMetadata describes the provenance of a stored vector.
type EmbeddingMetadata struct {
	DocumentID  string `json:"document_id"`
	ContentHash string `json:"content_hash"`
	ChunkIndex  int    `json:"chunk_index"`
	Model       string `json:"model"`
	Dimension   int    `json:"dimension"`
}

// SearchMatch is one result of a similarity query.
type SearchMatch struct {
	ID         string  `json:"id"`
	DocumentID string  `json:"document_id"`
	Score      float64 `json:"score"`
}

// DownloadResult is returned by the Downloader for one queue entry.
type DownloadResult struct {
	Body        []byte
	ContentType string
	ContentHash string
	BlobRef     string
	StatusCode  int
	Cached      bool
	Duration    time.Duration
}

// BatchStats aggregates the outcome of one supervisor batch.
type BatchStats struct {
	TotalProcessed      int           `json:"total_processed"`
	SuccessfulDownloads int           `json:"successful_downloads"`
	Completed           int           `json:"completed"`
	Failed              int           `json:"failed"`
	Elapsed             time.Duration `json:"elapsed"`
	StartedAt           time.Time     `json:"started_at"`
}

// QueueDepth reports how many entries sit in each lifecycle state.
type QueueDepth struct {
	Pending     int `json:"pending"`
	Downloading int `json:"downloading"`
	Processing  int `json:"processing"`
	Completed   int `json:"completed"`
	Failed      int `json:"failed"`
}
