package embedding

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/civicdocs/ingestor/internal/pipeline"
)

// Generator chunks document text, embeds the chunks, and keys the resulting
// records so reruns over unchanged content upsert the same IDs.
type Generator struct {
	embedder pipeline.Embedder
	vectors  pipeline.VectorStore
	chunks   ChunkConfig
	logger   *zap.Logger
}

// NewGenerator wires the embedder to the vector store.
func NewGenerator(embedder pipeline.Embedder, vectors pipeline.VectorStore, chunks ChunkConfig, logger *zap.Logger) *Generator {
	return &Generator{embedder: embedder, vectors: vectors, chunks: chunks, logger: logger}
}

// RecordID derives the stable embedding key for one chunk. Identical content
// embedded with the same model always maps to the same ID.
func RecordID(contentHash string, chunkIndex int, model string) string {
	return fmt.Sprintf("%s:%d:%s", contentHash, chunkIndex, model)
}

// Generate chunks text, embeds every chunk, and upserts the records into
// the vector store. It returns the records written.
func (g *Generator) Generate(ctx context.Context, docID, contentHash, text string) ([]pipeline.EmbeddingRecord, error) {
	chunks := ChunkText(text, g.chunks)
	if len(chunks) == 0 {
		return nil, nil
	}

	vectors, err := g.embedder.EmbedTexts(ctx, chunks)
	if err != nil {
		return nil, pipeline.NewError(pipeline.FailureProcessing, "embed", err)
	}
	if len(vectors) != len(chunks) {
		return nil, pipeline.NewError(pipeline.FailureProcessing, "embed",
			fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(chunks)))
	}

	model := g.embedder.Model()
	records := make([]pipeline.EmbeddingRecord, 0, len(chunks))
	for i, vec := range vectors {
		records = append(records, pipeline.EmbeddingRecord{
			ID:     RecordID(contentHash, i, model),
			Vector: vec,
			Metadata: pipeline.EmbeddingMetadata{
				DocumentID:  docID,
				ContentHash: contentHash,
				ChunkIndex:  i,
				Model:       model,
				Dimension:   len(vec),
			},
		})
	}

	if err := pipeline.RetryStoreWrite(ctx, func() error {
		return g.vectors.Upsert(ctx, records)
	}); err != nil {
		return nil, pipeline.NewError(pipeline.FailureStorage, "embed",
			fmt.Errorf("upsert %d embedding records: %w", len(records), err))
	}
	g.logger.Debug("embeddings stored",
		zap.String("document_id", docID),
		zap.Int("chunks", len(records)),
		zap.String("model", model))
	return records, nil
}

// Search embeds the query and defers to the vector store.
func (g *Generator) Search(ctx context.Context, query string, topK int) ([]pipeline.SearchMatch, error) {
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}
	if topK <= 0 {
		topK = 10
	}
	vectors, err := g.embedder.EmbedTexts(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("embedder returned no vector for query")
	}
	return g.vectors.Search(ctx, vectors[0], topK)
}
