package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/civicdocs/ingestor/internal/pipeline"
	"github.com/civicdocs/ingestor/internal/progress"
)

// PrometheusSink exports pipeline progress metrics. It owns all collectors
// for document outcomes, per-stage latency, and extraction methods.
type PrometheusSink struct {
	docsProcessed *prometheus.CounterVec
	docFailures   *prometheus.CounterVec
	retries       prometheus.Counter
	docsInFlight  prometheus.Gauge
	stageDuration *prometheus.HistogramVec
	extractions   *prometheus.CounterVec
	downloadBytes prometheus.Counter
	entitiesFound prometheus.Counter
	chunksStored  prometheus.Counter
	batches       prometheus.Counter
	batchDuration prometheus.Histogram

	tracker *docTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		docsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingestor_documents_processed_total",
			Help: "Documents that finished the pipeline partitioned by outcome.",
		}, []string{"outcome"}),
		docFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingestor_document_failures_total",
			Help: "Document failures partitioned by failure class.",
		}, []string{"class"}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingestor_document_retries_total",
			Help: "Failures with a retryable class, returned to the queue.",
		}),
		docsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ingestor_documents_in_flight",
			Help: "Documents currently claimed and being processed.",
		}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ingestor_stage_duration_seconds",
			Help:    "Latency per pipeline stage.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 15, 30, 60, 120},
		}, []string{"stage"}),
		extractions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingestor_extractions_total",
			Help: "Successful text extractions partitioned by method.",
		}, []string{"method"}),
		downloadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingestor_download_bytes_total",
			Help: "Bytes downloaded across all documents.",
		}),
		entitiesFound: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingestor_entities_found_total",
			Help: "Entities extracted across all documents.",
		}),
		chunksStored: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingestor_embedding_chunks_total",
			Help: "Embedding chunks written to the vector store.",
		}),
		batches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingestor_batches_total",
			Help: "Supervisor batches completed.",
		}),
		batchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ingestor_batch_duration_seconds",
			Help:    "Wall time per supervisor batch.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
		tracker: newDocTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.docsProcessed,
		s.docFailures,
		s.retries,
		s.docsInFlight,
		s.stageDuration,
		s.extractions,
		s.downloadBytes,
		s.entitiesFound,
		s.chunksStored,
		s.batches,
		s.batchDuration,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors using the provided batch. It is safe for
// concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	if evt.Dur > 0 {
		s.stageDuration.WithLabelValues(string(evt.Stage)).Observe(evt.Dur.Seconds())
	}
	switch evt.Stage {
	case progress.StageDocClaimed:
		if s.tracker.start(evt.PackageID) {
			s.docsInFlight.Inc()
		}
	case progress.StageDownloadDone:
		if evt.Bytes > 0 {
			s.downloadBytes.Add(float64(evt.Bytes))
		}
	case progress.StageExtractDone:
		s.extractions.WithLabelValues(evt.Method).Inc()
	case progress.StageEntitiesDone:
		s.entitiesFound.Add(float64(evt.Count))
	case progress.StageEmbedDone:
		s.chunksStored.Add(float64(evt.Count))
	case progress.StageDocCompleted:
		s.docsProcessed.WithLabelValues("completed").Inc()
		if s.tracker.complete(evt.PackageID) {
			s.docsInFlight.Dec()
		}
	case progress.StageDocFailed:
		s.docsProcessed.WithLabelValues("failed").Inc()
		s.docFailures.WithLabelValues(evt.Class).Inc()
		if pipeline.FailureClass(evt.Class).Retryable() {
			s.retries.Inc()
		}
		if s.tracker.complete(evt.PackageID) {
			s.docsInFlight.Dec()
		}
	case progress.StageBatchDone:
		s.batches.Inc()
		if evt.Dur > 0 {
			s.batchDuration.Observe(evt.Dur.Seconds())
		}
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type docTracker struct {
	mu      sync.Mutex
	running map[string]struct{}
}

func newDocTracker() *docTracker {
	return &docTracker{running: make(map[string]struct{})}
}

func (t *docTracker) start(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *docTracker) complete(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
