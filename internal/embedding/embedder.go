// Package embedding turns extracted document text into vector records via
// an OpenAI-compatible embedding endpoint.
package embedding

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"
)

// EmbedderConfig names the embedding model and its serving endpoint.
type EmbedderConfig struct {
	Endpoint string
	Model    string
	APIKey   string
}

// OpenAIEmbedder implements pipeline.Embedder against any OpenAI-compatible
// embeddings API, including locally served models.
type OpenAIEmbedder struct {
	embedder embeddings.Embedder
	model    string
	logger   *zap.Logger
}

// NewOpenAIEmbedder builds the embedder client. Local serving endpoints
// that skip authentication accept any token.
func NewOpenAIEmbedder(cfg EmbedderConfig, logger *zap.Logger) (*OpenAIEmbedder, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("embedding endpoint is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("embedding model is required")
	}
	token := cfg.APIKey
	if token == "" {
		token = "none"
	}

	client, err := openai.New(
		openai.WithBaseURL(cfg.Endpoint),
		openai.WithToken(token),
		openai.WithEmbeddingModel(cfg.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("build embedding client: %w", err)
	}
	embedder, err := embeddings.NewEmbedder(client, embeddings.WithStripNewLines(true))
	if err != nil {
		return nil, fmt.Errorf("wrap embedder: %w", err)
	}
	return &OpenAIEmbedder{embedder: embedder, model: cfg.Model, logger: logger}, nil
}

// EmbedTexts generates vectors for a batch of chunks.
func (e *OpenAIEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vectors, err := e.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		e.logger.Error("embedding batch failed", zap.Int("count", len(texts)), zap.Error(err))
		return nil, fmt.Errorf("embed %d texts: %w", len(texts), err)
	}
	return vectors, nil
}

// Model returns the configured model name, recorded in vector metadata.
func (e *OpenAIEmbedder) Model() string { return e.model }
