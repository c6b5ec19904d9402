// Package qdrant provides a vector store backed by Qdrant's REST API.
package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/civicdocs/ingestor/internal/pipeline"
)

// Config names the Qdrant endpoint and collection.
type Config struct {
	BaseURL    string
	Collection string
	Timeout    time.Duration
}

// Store talks to a Qdrant collection over HTTP.
type Store struct {
	baseURL    string
	collection string
	client     *http.Client
}

// New builds a Qdrant-backed store.
func New(cfg Config) (*Store, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("qdrant base url is required")
	}
	collection := cfg.Collection
	if collection == "" {
		collection = "documents"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Store{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		collection: collection,
		client:     &http.Client{Timeout: timeout},
	}, nil
}

// pointID maps a record key to a deterministic UUID, since Qdrant point IDs
// must be integers or UUIDs. The same key always yields the same point.
func pointID(recordID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(recordID)).String()
}

type point struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

type upsertRequest struct {
	Points []point `json:"points"`
}

// Upsert writes records as Qdrant points with deterministic IDs.
func (s *Store) Upsert(ctx context.Context, records []pipeline.EmbeddingRecord) error {
	if len(records) == 0 {
		return nil
	}
	points := make([]point, 0, len(records))
	for _, rec := range records {
		points = append(points, point{
			ID:     pointID(rec.ID),
			Vector: rec.Vector,
			Payload: map[string]any{
				"record_id":    rec.ID,
				"document_id":  rec.Metadata.DocumentID,
				"content_hash": rec.Metadata.ContentHash,
				"chunk_index":  rec.Metadata.ChunkIndex,
				"model":        rec.Metadata.Model,
			},
		})
	}

	url := fmt.Sprintf("%s/collections/%s/points?wait=true", s.baseURL, s.collection)
	if err := s.do(ctx, http.MethodPut, url, upsertRequest{Points: points}, nil); err != nil {
		return fmt.Errorf("upsert %d points: %w", len(points), err)
	}
	return nil
}

type searchRequest struct {
	Vector      []float32 `json:"vector"`
	Limit       int       `json:"limit"`
	WithPayload bool      `json:"with_payload"`
}

type searchResponse struct {
	Result []struct {
		ID      string         `json:"id"`
		Score   float64        `json:"score"`
		Payload map[string]any `json:"payload"`
	} `json:"result"`
}

// Search runs a similarity query against the collection.
func (s *Store) Search(ctx context.Context, vector []float32, topK int) ([]pipeline.SearchMatch, error) {
	if topK <= 0 {
		topK = 10
	}
	url := fmt.Sprintf("%s/collections/%s/points/search", s.baseURL, s.collection)

	var resp searchResponse
	if err := s.do(ctx, http.MethodPost, url, searchRequest{
		Vector:      vector,
		Limit:       topK,
		WithPayload: true,
	}, &resp); err != nil {
		return nil, fmt.Errorf("search points: %w", err)
	}

	matches := make([]pipeline.SearchMatch, 0, len(resp.Result))
	for _, hit := range resp.Result {
		match := pipeline.SearchMatch{ID: hit.ID, Score: hit.Score}
		if rid, ok := hit.Payload["record_id"].(string); ok {
			match.ID = rid
		}
		if docID, ok := hit.Payload["document_id"].(string); ok {
			match.DocumentID = docID
		}
		matches = append(matches, match)
	}
	return matches, nil
}

// EnsureCollection creates the collection if it does not exist.
func (s *Store) EnsureCollection(ctx context.Context, dimension int) error {
	url := fmt.Sprintf("%s/collections/%s", s.baseURL, s.collection)
	body := map[string]any{
		"vectors": map[string]any{"size": dimension, "distance": "Cosine"},
	}
	err := s.do(ctx, http.MethodPut, url, body, nil)
	if err != nil && strings.Contains(err.Error(), "already exists") {
		return nil
	}
	return err
}

func (s *Store) do(ctx context.Context, method, url string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("call qdrant: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("qdrant returned %d: %s", resp.StatusCode, snippet)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
