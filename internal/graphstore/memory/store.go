// Package memory provides an in-process graph store for tests and
// single-node development.
package memory

import (
	"context"
	"sync"

	"github.com/civicdocs/ingestor/internal/pipeline"
)

// Store keeps entities and relationships in memory keyed by document.
type Store struct {
	mu       sync.RWMutex
	entities map[string]map[string][]pipeline.Entity // docID -> runID -> entities
	rels     map[string][]pipeline.Relationship
}

// New creates an empty graph store.
func New() *Store {
	return &Store{
		entities: make(map[string]map[string][]pipeline.Entity),
		rels:     make(map[string][]pipeline.Relationship),
	}
}

// UpsertEntities stores one run generation of entities for a document.
// Earlier generations are kept untouched.
func (s *Store) UpsertEntities(_ context.Context, docID, runID string, entities []pipeline.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entities[docID] == nil {
		s.entities[docID] = make(map[string][]pipeline.Entity)
	}
	stamped := make([]pipeline.Entity, len(entities))
	copy(stamped, entities)
	for i := range stamped {
		stamped[i].SourceDocumentID = docID
		stamped[i].RunID = runID
	}
	s.entities[docID][runID] = stamped
	return nil
}

// UpsertRelationships appends typed edges for a document.
func (s *Store) UpsertRelationships(_ context.Context, docID string, rels []pipeline.Relationship) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stamped := make([]pipeline.Relationship, len(rels))
	copy(stamped, rels)
	for i := range stamped {
		stamped[i].SourceDocumentID = docID
	}
	s.rels[docID] = append(s.rels[docID], stamped...)
	return nil
}

// EntitiesFor returns the entities of one run generation.
func (s *Store) EntitiesFor(docID, runID string) []pipeline.Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entities[docID][runID]
}

// Runs returns how many generations exist for a document.
func (s *Store) Runs(docID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entities[docID])
}

// RelationshipsFor returns the edges recorded for a document.
func (s *Store) RelationshipsFor(docID string) []pipeline.Relationship {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rels[docID]
}
