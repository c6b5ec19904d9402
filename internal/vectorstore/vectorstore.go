// Package vectorstore selects the configured vector search backend.
// Semantic search is optional: deployments choose local, qdrant, or none,
// and the rest of the pipeline never branches on the choice.
package vectorstore

import (
	"context"
	"fmt"
	"time"

	"github.com/civicdocs/ingestor/internal/pipeline"
	"github.com/civicdocs/ingestor/internal/vectorstore/local"
	"github.com/civicdocs/ingestor/internal/vectorstore/qdrant"
)

// Config selects and tunes the backend.
type Config struct {
	// Kind is one of "local", "qdrant", "none".
	Kind       string
	QdrantURL  string
	Collection string
	Timeout    time.Duration
}

// New builds the configured pipeline.VectorStore.
func New(cfg Config) (pipeline.VectorStore, error) {
	switch cfg.Kind {
	case "", "local":
		return local.New(), nil
	case "qdrant":
		return qdrant.New(qdrant.Config{
			BaseURL:    cfg.QdrantURL,
			Collection: cfg.Collection,
			Timeout:    cfg.Timeout,
		})
	case "none":
		return Disabled{}, nil
	default:
		return nil, fmt.Errorf("unknown vector store kind %q", cfg.Kind)
	}
}

// Disabled turns semantic search off. Upserts are dropped and searches
// return no matches.
type Disabled struct{}

// Upsert implements pipeline.VectorStore.
func (Disabled) Upsert(context.Context, []pipeline.EmbeddingRecord) error { return nil }

// Search implements pipeline.VectorStore.
func (Disabled) Search(context.Context, []float32, int) ([]pipeline.SearchMatch, error) {
	return nil, nil
}
