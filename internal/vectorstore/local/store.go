// Package local provides an in-process vector index with cosine scoring.
// It serves single-node deployments and tests; the interface matches the
// qdrant-backed store so callers never branch on the backend.
package local

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/civicdocs/ingestor/internal/pipeline"
)

type indexed struct {
	record pipeline.EmbeddingRecord
	unit   []float32
}

// Store holds normalized vectors in memory keyed by record ID.
type Store struct {
	mu      sync.RWMutex
	entries map[string]indexed
}

// New creates an empty index.
func New() *Store {
	return &Store{entries: make(map[string]indexed)}
}

// Upsert stores records by ID. Re-upserting an existing ID replaces the
// vector, which makes reprocessing idempotent.
func (s *Store) Upsert(_ context.Context, records []pipeline.EmbeddingRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range records {
		s.entries[rec.ID] = indexed{record: rec, unit: normalize(rec.Vector)}
	}
	return nil
}

// Search returns the topK records ranked by cosine similarity.
func (s *Store) Search(_ context.Context, vector []float32, topK int) ([]pipeline.SearchMatch, error) {
	if topK <= 0 || len(vector) == 0 {
		return nil, nil
	}
	query := normalize(vector)

	s.mu.RLock()
	matches := make([]pipeline.SearchMatch, 0, len(s.entries))
	for id, entry := range s.entries {
		if len(entry.unit) != len(query) {
			continue
		}
		matches = append(matches, pipeline.SearchMatch{
			ID:         id,
			DocumentID: entry.record.Metadata.DocumentID,
			Score:      dot(query, entry.unit),
		})
	}
	s.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// Len reports how many records are indexed.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// normalize returns the unit-length copy of v. Zero vectors normalize to
// zero so they never rank above real content.
func normalize(v []float32) []float32 {
	var magnitude float32
	for _, val := range v {
		magnitude += val * val
	}
	magnitude = float32(math.Sqrt(float64(magnitude)))

	result := make([]float32, len(v))
	if magnitude == 0 {
		return result
	}
	for i, val := range v {
		result[i] = val / magnitude
	}
	return result
}

func dot(a, b []float32) float64 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return float64(sum)
}
