package surreal

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/civicdocs/ingestor/internal/pipeline"
)

type queryRunner interface {
	Query(ctx context.Context, sql string, vars map[string]any) error
}

// Store implements pipeline.GraphStore on SurrealDB.
type Store struct {
	runner queryRunner
	logger *zap.Logger
}

// NewStore wraps a connected client.
func NewStore(client *Client, log *zap.Logger) *Store {
	return &Store{runner: client, logger: log}
}

// NewStoreWithRunner constructs a store from any query runner (for testing).
func NewStoreWithRunner(runner queryRunner, log *zap.Logger) *Store {
	return &Store{runner: runner, logger: log}
}

const upsertEntitySQL = `
UPSERT type::thing('entity', $id) CONTENT {
	text: $text,
	type: $type,
	confidence: $confidence,
	span_start: $span_start,
	span_end: $span_end,
	document_id: $document_id,
	run_id: $run_id
}`

// UpsertEntities writes one generation of entities for a document. Entity
// record IDs embed the run id, so a reprocessing run creates a new
// generation instead of mutating the previous one.
func (s *Store) UpsertEntities(ctx context.Context, docID, runID string, entities []pipeline.Entity) error {
	for i, ent := range entities {
		vars := map[string]any{
			"id":          fmt.Sprintf("%s:%s:%d", docID, runID, i),
			"text":        ent.Text,
			"type":        ent.Type,
			"confidence":  ent.Confidence,
			"span_start":  ent.Span.Start,
			"span_end":    ent.Span.End,
			"document_id": docID,
			"run_id":      runID,
		}
		if err := s.runner.Query(ctx, upsertEntitySQL, vars); err != nil {
			return fmt.Errorf("upsert entity %d for %s: %w", i, docID, err)
		}
	}
	s.logger.Debug("entities written to graph",
		zap.String("document_id", docID),
		zap.String("run_id", runID),
		zap.Int("count", len(entities)))
	return nil
}

const relateSQL = `
LET $a = (SELECT VALUE id FROM entity WHERE text = $entity_a AND document_id = $document_id ORDER BY confidence DESC LIMIT 1)[0];
LET $b = (SELECT VALUE id FROM entity WHERE text = $entity_b AND document_id = $document_id ORDER BY confidence DESC LIMIT 1)[0];
IF $a != NONE AND $b != NONE THEN
	RELATE $a->relates->$b SET relation_type = $relation_type, confidence = $confidence, document_id = $document_id
END`

// UpsertRelationships writes typed edges between previously written
// entities of the same document.
func (s *Store) UpsertRelationships(ctx context.Context, docID string, rels []pipeline.Relationship) error {
	for i, rel := range rels {
		vars := map[string]any{
			"entity_a":      rel.EntityA,
			"entity_b":      rel.EntityB,
			"relation_type": rel.RelationType,
			"confidence":    rel.Confidence,
			"document_id":   docID,
		}
		if err := s.runner.Query(ctx, relateSQL, vars); err != nil {
			return fmt.Errorf("relate %d for %s: %w", i, docID, err)
		}
	}
	return nil
}
