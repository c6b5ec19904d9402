package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civicdocs/ingestor/internal/pipeline"
	"github.com/civicdocs/ingestor/internal/progress"
)

func newSink(t *testing.T) *PrometheusSink {
	t.Helper()
	sink, err := NewPrometheusSink(prometheus.NewRegistry())
	require.NoError(t, err)
	return sink
}

func event(stage progress.Stage, packageID string) progress.Event {
	return progress.Event{PackageID: packageID, TS: time.Now().UTC(), Stage: stage}
}

func TestDocumentOutcomeCounters(t *testing.T) {
	t.Parallel()

	sink := newSink(t)
	failed := event(progress.StageDocFailed, "b")
	failed.Class = "extraction"
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		event(progress.StageDocCompleted, "a"),
		event(progress.StageDocCompleted, "c"),
		failed,
	}))

	assert.Equal(t, float64(2), testutil.ToFloat64(sink.docsProcessed.WithLabelValues("completed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(sink.docsProcessed.WithLabelValues("failed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(sink.docFailures.WithLabelValues("extraction")))
}

func TestInFlightGaugeTracksClaims(t *testing.T) {
	t.Parallel()

	sink := newSink(t)
	ctx := context.Background()

	require.NoError(t, sink.Consume(ctx, []progress.Event{
		event(progress.StageDocClaimed, "a"),
		event(progress.StageDocClaimed, "b"),
		event(progress.StageDocClaimed, "a"), // duplicate claim does not double count
	}))
	assert.Equal(t, float64(2), testutil.ToFloat64(sink.docsInFlight))

	require.NoError(t, sink.Consume(ctx, []progress.Event{event(progress.StageDocCompleted, "a")}))
	assert.Equal(t, float64(1), testutil.ToFloat64(sink.docsInFlight))

	// Completion without a matching claim leaves the gauge alone.
	require.NoError(t, sink.Consume(ctx, []progress.Event{event(progress.StageDocCompleted, "zzz")}))
	assert.Equal(t, float64(1), testutil.ToFloat64(sink.docsInFlight))
}

func TestExtractionMethodCounter(t *testing.T) {
	t.Parallel()

	sink := newSink(t)
	extract := event(progress.StageExtractDone, "a")
	extract.Method = "pdf-layout"
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{extract, extract}))

	assert.Equal(t, float64(2), testutil.ToFloat64(sink.extractions.WithLabelValues("pdf-layout")))
}

func TestVolumeCounters(t *testing.T) {
	t.Parallel()

	sink := newSink(t)
	download := event(progress.StageDownloadDone, "a")
	download.Bytes = 2048
	entities := event(progress.StageEntitiesDone, "a")
	entities.Count = 7
	chunks := event(progress.StageEmbedDone, "a")
	chunks.Count = 3
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{download, entities, chunks}))

	assert.Equal(t, float64(2048), testutil.ToFloat64(sink.downloadBytes))
	assert.Equal(t, float64(7), testutil.ToFloat64(sink.entitiesFound))
	assert.Equal(t, float64(3), testutil.ToFloat64(sink.chunksStored))
}

func TestRetryCounterOnlyCountsRetryableClasses(t *testing.T) {
	t.Parallel()

	sink := newSink(t)
	transient := event(progress.StageDocFailed, "a")
	transient.Class = "transient"
	permanent := event(progress.StageDocFailed, "b")
	permanent.Class = "permanent"
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{transient, permanent}))

	assert.Equal(t, float64(1), testutil.ToFloat64(sink.retries))
}

type fakeDepther struct {
	depth pipeline.QueueDepth
}

func (f *fakeDepther) Depth(context.Context) (pipeline.QueueDepth, error) {
	return f.depth, nil
}

func TestQueueDepthCollector(t *testing.T) {
	t.Parallel()

	collector := NewQueueDepthCollector(&fakeDepther{
		depth: pipeline.QueueDepth{Pending: 7, Processing: 2, Failed: 1},
	})
	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(collector))

	families, err := reg.Gather()
	require.NoError(t, err)
	require.Len(t, families, 1)
	assert.Equal(t, "ingestor_queue_depth", families[0].GetName())
	assert.Len(t, families[0].GetMetric(), 5, "one sample per lifecycle status")

	byStatus := map[string]float64{}
	for _, m := range families[0].GetMetric() {
		byStatus[m.GetLabel()[0].GetValue()] = m.GetGauge().GetValue()
	}
	assert.Equal(t, float64(7), byStatus["pending"])
	assert.Equal(t, float64(2), byStatus["processing"])
	assert.Equal(t, float64(1), byStatus["failed"])
}

func TestBatchCounter(t *testing.T) {
	t.Parallel()

	sink := newSink(t)
	done := progress.Event{TS: time.Now().UTC(), Stage: progress.StageBatchDone, Dur: 3 * time.Second}
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{done}))

	assert.Equal(t, float64(1), testutil.ToFloat64(sink.batches))
}
