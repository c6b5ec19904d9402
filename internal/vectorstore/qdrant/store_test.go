package qdrant

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civicdocs/ingestor/internal/pipeline"
)

func TestUpsertSendsDeterministicPointIDs(t *testing.T) {
	t.Parallel()

	var captured upsertRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/collections/documents/points", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	store, err := New(Config{BaseURL: srv.URL})
	require.NoError(t, err)

	rec := pipeline.EmbeddingRecord{
		ID:     "hash123:0:test-model",
		Vector: []float32{0.1, 0.2},
		Metadata: pipeline.EmbeddingMetadata{
			DocumentID: "GAO-25-1001", ContentHash: "hash123", Model: "test-model",
		},
	}
	require.NoError(t, store.Upsert(context.Background(), []pipeline.EmbeddingRecord{rec}))

	require.Len(t, captured.Points, 1)
	assert.Equal(t, pointID("hash123:0:test-model"), captured.Points[0].ID)
	assert.Equal(t, "GAO-25-1001", captured.Points[0].Payload["document_id"])
	assert.Equal(t, pointID(rec.ID), pointID(rec.ID), "same record key maps to the same point")
}

func TestSearchParsesMatches(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/collections/documents/points/search", r.URL.Path)
		var req searchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, 3, req.Limit)
		assert.True(t, req.WithPayload)

		_, _ = w.Write([]byte(`{"result":[
			{"id":"uuid-1","score":0.93,"payload":{"record_id":"hash:0:m","document_id":"doc-1"}},
			{"id":"uuid-2","score":0.71,"payload":{"record_id":"hash:1:m","document_id":"doc-2"}}
		]}`))
	}))
	defer srv.Close()

	store, err := New(Config{BaseURL: srv.URL})
	require.NoError(t, err)

	matches, err := store.Search(context.Background(), []float32{1, 0}, 3)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "hash:0:m", matches[0].ID)
	assert.Equal(t, "doc-1", matches[0].DocumentID)
	assert.Equal(t, 0.93, matches[0].Score)
}

func TestSearchServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "collection missing", http.StatusNotFound)
	}))
	defer srv.Close()

	store, err := New(Config{BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = store.Search(context.Background(), []float32{1}, 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestNewRequiresBaseURL(t *testing.T) {
	t.Parallel()

	_, err := New(Config{})
	assert.Error(t, err)
}
