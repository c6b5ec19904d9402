package surreal

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/civicdocs/ingestor/internal/pipeline"
)

type recordedQuery struct {
	sql  string
	vars map[string]any
}

type fakeRunner struct {
	queries []recordedQuery
	err     error
}

func (f *fakeRunner) Query(_ context.Context, sql string, vars map[string]any) error {
	if f.err != nil {
		return f.err
	}
	f.queries = append(f.queries, recordedQuery{sql: sql, vars: vars})
	return nil
}

func TestUpsertEntitiesKeyedByRun(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	store := NewStoreWithRunner(runner, zap.NewNop())

	ents := []pipeline.Entity{
		{Text: "Government Accountability Office", Type: "AGENCY", Confidence: 0.95, Span: pipeline.Span{Start: 0, End: 32}},
		{Text: "H.R. 3076", Type: "BILL", Confidence: 0.98, Span: pipeline.Span{Start: 40, End: 49}},
	}
	require.NoError(t, store.UpsertEntities(context.Background(), "GAO-25-1001", "run-7", ents))

	require.Len(t, runner.queries, 2)
	assert.Equal(t, "GAO-25-1001:run-7:0", runner.queries[0].vars["id"])
	assert.Equal(t, "GAO-25-1001:run-7:1", runner.queries[1].vars["id"])
	assert.Equal(t, "run-7", runner.queries[0].vars["run_id"])
	assert.Equal(t, "AGENCY", runner.queries[0].vars["type"])
	assert.Equal(t, 0.95, runner.queries[0].vars["confidence"])
}

func TestUpsertEntitiesNewRunNewGeneration(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	store := NewStoreWithRunner(runner, zap.NewNop())
	ent := []pipeline.Entity{{Text: "EPA", Type: "AGENCY", Confidence: 0.95}}

	require.NoError(t, store.UpsertEntities(context.Background(), "doc", "run-1", ent))
	require.NoError(t, store.UpsertEntities(context.Background(), "doc", "run-2", ent))

	require.Len(t, runner.queries, 2)
	assert.NotEqual(t, runner.queries[0].vars["id"], runner.queries[1].vars["id"],
		"reprocessing must create a new generation, not overwrite the old one")
}

func TestUpsertRelationships(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	store := NewStoreWithRunner(runner, zap.NewNop())

	rels := []pipeline.Relationship{
		{EntityA: "Senator Ron Wyden", RelationType: "sponsored_by", EntityB: "H.R. 3076", Confidence: 0.83},
	}
	require.NoError(t, store.UpsertRelationships(context.Background(), "GAO-25-1001", rels))

	require.Len(t, runner.queries, 1)
	assert.Contains(t, runner.queries[0].sql, "RELATE")
	assert.Equal(t, "sponsored_by", runner.queries[0].vars["relation_type"])
	assert.Equal(t, "GAO-25-1001", runner.queries[0].vars["document_id"])
}

func TestUpsertEntitiesPropagatesError(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{err: errors.New("connection lost")}
	store := NewStoreWithRunner(runner, zap.NewNop())

	err := store.UpsertEntities(context.Background(), "doc", "run", []pipeline.Entity{{Text: "x"}})
	assert.ErrorContains(t, err, "connection lost")
}
