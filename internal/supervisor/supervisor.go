// Package supervisor drives the ingestion pipeline: it claims batches
// from the queue, runs each document through download, extraction,
// enrichment, and storage, and records the outcome.
package supervisor

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/civicdocs/ingestor/internal/entities"
	"github.com/civicdocs/ingestor/internal/pipeline"
	"github.com/civicdocs/ingestor/internal/progress"
)

// embeddingGenerator is the slice of embedding.Generator the supervisor
// needs, kept as an interface so tests can fake it.
type embeddingGenerator interface {
	Generate(ctx context.Context, docID, contentHash, text string) ([]pipeline.EmbeddingRecord, error)
}

// idGenerator mints run and worker identifiers.
type idGenerator interface {
	NewID() (string, error)
}

// Config controls batch sizing and loop cadence.
type Config struct {
	// BatchSize is the maximum documents claimed per cycle (default 20).
	BatchSize int
	// Workers bounds concurrent document processing (default 4).
	Workers int
	// LeaseTimeout is how long a claim may sit before the sweeper
	// returns it to pending (default 10m).
	LeaseTimeout time.Duration
	// SweepInterval is how often stale claims are swept (default 1m).
	SweepInterval time.Duration
	// PollInterval is the idle wait when the queue is empty (default 5s).
	PollInterval time.Duration
	// CompletedTopic names the publish topic for finished documents.
	// Empty disables publishing.
	CompletedTopic string
}

// Deps collects the pipeline components the supervisor orchestrates.
// Graph and Publisher may be nil; those steps are skipped.
type Deps struct {
	Queue      pipeline.Queue
	Downloader pipeline.Downloader
	Extractor  pipeline.Extractor
	Entities   pipeline.EntityExtractor
	Embeddings embeddingGenerator
	Documents  pipeline.DocumentStore
	Graph      pipeline.GraphStore
	Publisher  pipeline.Publisher
	IDs        idGenerator
	Clock      pipeline.Clock
	Progress   progress.Emitter
	Logger     *zap.Logger
}

// Supervisor runs the batch loop.
type Supervisor struct {
	deps     Deps
	cfg      Config
	pool     *ants.Pool
	workerID string

	mu        sync.Mutex
	lastBatch *pipeline.BatchStats
}

// New validates dependencies and builds the worker pool.
func New(deps Deps, cfg Config) (*Supervisor, error) {
	if deps.Queue == nil || deps.Downloader == nil || deps.Extractor == nil || deps.Documents == nil {
		return nil, fmt.Errorf("queue, downloader, extractor, and document store are required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Progress == nil {
		deps.Progress = progress.Nop{}
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.LeaseTimeout <= 0 {
		cfg.LeaseTimeout = 10 * time.Minute
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}

	workerID := "supervisor"
	if deps.IDs != nil {
		if id, err := deps.IDs.NewID(); err == nil {
			workerID = id
		}
	}

	pool, err := ants.NewPool(cfg.Workers)
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}
	return &Supervisor{deps: deps, cfg: cfg, pool: pool, workerID: workerID}, nil
}

// Close releases the worker pool.
func (s *Supervisor) Close() {
	s.pool.Release()
}

// Run processes batches until the context is canceled. A background
// ticker sweeps stale claims back to pending.
func (s *Supervisor) Run(ctx context.Context) {
	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		s.sweepLoop(ctx)
	}()

	for {
		if ctx.Err() != nil {
			break
		}
		stats, err := s.RunBatch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			s.deps.Logger.Error("batch failed", zap.Error(err))
		}
		if stats.TotalProcessed == 0 {
			select {
			case <-ctx.Done():
			case <-time.After(s.cfg.PollInterval):
			}
			continue
		}
	}
	<-sweepDone
}

func (s *Supervisor) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			swept, err := s.deps.Queue.SweepStale(ctx, s.cfg.LeaseTimeout)
			if err != nil {
				s.deps.Logger.Error("stale claim sweep failed", zap.Error(err))
				continue
			}
			if swept > 0 {
				s.deps.Logger.Warn("reclaimed stale documents", zap.Int("count", swept))
			}
		}
	}
}

// RunBatch claims and processes one batch of documents, blocking until
// every claimed document reaches a terminal outcome.
func (s *Supervisor) RunBatch(ctx context.Context) (pipeline.BatchStats, error) {
	started := s.now()
	entries, err := s.deps.Queue.ClaimBatch(ctx, s.cfg.BatchSize, s.workerID)
	if err != nil {
		return pipeline.BatchStats{}, fmt.Errorf("claim batch: %w", err)
	}
	if len(entries) == 0 {
		return pipeline.BatchStats{StartedAt: started}, nil
	}

	s.deps.Progress.Emit(progress.Event{
		TS:    s.now(),
		Stage: progress.StageBatchStart,
		Count: len(entries),
	})

	var (
		mu    sync.Mutex
		stats = pipeline.BatchStats{TotalProcessed: len(entries), StartedAt: started}
		wg    sync.WaitGroup
	)
	for _, entry := range entries {
		wg.Add(1)
		submitErr := s.pool.Submit(func() {
			defer wg.Done()
			downloaded, completed := s.processDocument(ctx, entry)
			mu.Lock()
			if downloaded {
				stats.SuccessfulDownloads++
			}
			if completed {
				stats.Completed++
			} else {
				stats.Failed++
			}
			mu.Unlock()
		})
		if submitErr != nil {
			wg.Done()
			s.failDocument(ctx, entry, pipeline.NewError(pipeline.FailureTransient, "claim",
				fmt.Errorf("submit to pool: %w", submitErr)))
			mu.Lock()
			stats.Failed++
			mu.Unlock()
		}
	}
	wg.Wait()

	stats.Elapsed = s.now().Sub(started)
	s.deps.Progress.Emit(progress.Event{
		TS:    s.now(),
		Stage: progress.StageBatchDone,
		Count: len(entries),
		Dur:   stats.Elapsed,
	})
	s.mu.Lock()
	s.lastBatch = &stats
	s.mu.Unlock()

	s.deps.Logger.Info("batch finished",
		zap.Int("total", stats.TotalProcessed),
		zap.Int("completed", stats.Completed),
		zap.Int("failed", stats.Failed),
		zap.Duration("elapsed", stats.Elapsed))
	return stats, nil
}

// LastBatch reports the most recent batch outcome.
func (s *Supervisor) LastBatch() (pipeline.BatchStats, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastBatch == nil {
		return pipeline.BatchStats{}, false
	}
	return *s.lastBatch, true
}

// processDocument runs one document end to end. It reports whether the
// download succeeded and whether the document completed.
func (s *Supervisor) processDocument(ctx context.Context, entry pipeline.QueueEntry) (downloaded, completed bool) {
	log := s.deps.Logger.With(zap.String("package_id", entry.PackageID))
	docStart := s.now()
	s.emit(progress.Event{PackageID: entry.PackageID, Stage: progress.StageDocClaimed})

	result, err := s.deps.Downloader.Download(ctx, entry)
	if err != nil {
		log.Warn("download failed", zap.Error(err))
		s.failDocument(ctx, entry, err)
		return false, false
	}
	downloaded = true
	s.emit(progress.Event{
		PackageID: entry.PackageID,
		Stage:     progress.StageDownloadDone,
		Bytes:     int64(len(result.Body)),
		Dur:       result.Duration,
	})

	if err := s.deps.Queue.MarkProcessing(ctx, entry.PackageID); err != nil {
		log.Error("mark processing failed", zap.Error(err))
		s.failDocument(ctx, entry, pipeline.NewError(pipeline.FailureStorage, "claim", err))
		return downloaded, false
	}

	extractStart := s.now()
	text, method, err := s.deps.Extractor.Extract(ctx, result.Body, result.ContentType)
	if err != nil {
		log.Warn("extraction failed", zap.Error(err))
		s.failDocument(ctx, entry, err)
		return downloaded, false
	}
	s.emit(progress.Event{
		PackageID: entry.PackageID,
		Stage:     progress.StageExtractDone,
		Method:    method,
		Dur:       s.now().Sub(extractStart),
	})

	doc := pipeline.DocumentRecord{
		PackageID:     entry.PackageID,
		Title:         deriveTitle(text),
		SourceURL:     entry.SourceURL,
		RawContentRef: result.BlobRef,
		ContentHash:   result.ContentHash,
		ExtractMethod: method,
	}
	if err := pipeline.RetryStoreWrite(ctx, func() error {
		return s.deps.Documents.UpsertDocument(ctx, doc)
	}); err != nil {
		log.Error("document upsert failed", zap.Error(err))
		s.failDocument(ctx, entry, pipeline.NewError(pipeline.FailureStorage, "persist", err))
		return downloaded, false
	}

	if err := s.enrich(ctx, entry, text, result.ContentHash); err != nil {
		log.Warn("enrichment failed", zap.Error(err))
		s.failDocument(ctx, entry, err)
		return downloaded, false
	}

	if err := s.deps.Queue.MarkResult(ctx, entry.PackageID, pipeline.Outcome{}); err != nil {
		log.Error("mark completed failed", zap.Error(err))
		return downloaded, false
	}
	s.emit(progress.Event{
		PackageID: entry.PackageID,
		Stage:     progress.StageDocCompleted,
		Dur:       s.now().Sub(docStart),
	})
	s.publishCompleted(ctx, entry, doc)
	log.Info("document completed", zap.String("method", method))
	return downloaded, true
}

// enrich runs entity extraction, graph writes, and embeddings for text
// that survived extraction.
func (s *Supervisor) enrich(ctx context.Context, entry pipeline.QueueEntry, text, contentHash string) error {
	if s.deps.Entities != nil {
		ents := s.deps.Entities.ExtractEntities(text)
		rels := s.deps.Entities.FindRelationships(ents, text)
		if s.deps.Graph != nil {
			runID, err := s.runID()
			if err != nil {
				return pipeline.NewError(pipeline.FailureProcessing, "entities", err)
			}
			if err := pipeline.RetryStoreWrite(ctx, func() error {
				return s.deps.Graph.UpsertEntities(ctx, entry.PackageID, runID, ents)
			}); err != nil {
				return pipeline.NewError(pipeline.FailureStorage, "entities", err)
			}
			if err := pipeline.RetryStoreWrite(ctx, func() error {
				return s.deps.Graph.UpsertRelationships(ctx, entry.PackageID, rels)
			}); err != nil {
				return pipeline.NewError(pipeline.FailureStorage, "entities", err)
			}
		}
		s.emit(progress.Event{
			PackageID: entry.PackageID,
			Stage:     progress.StageEntitiesDone,
			Count:     len(ents),
			Note:      formatEntityCounts(entities.Stats(ents)),
		})
	}

	if s.deps.Embeddings != nil {
		records, err := s.deps.Embeddings.Generate(ctx, entry.PackageID, contentHash, text)
		if err != nil {
			return err
		}
		s.emit(progress.Event{
			PackageID: entry.PackageID,
			Stage:     progress.StageEmbedDone,
			Count:     len(records),
		})
	}
	return nil
}

// failDocument records a failure outcome and emits the failure event.
// The queue decides between a retry and a terminal failed status.
func (s *Supervisor) failDocument(ctx context.Context, entry pipeline.QueueEntry, cause error) {
	class := pipeline.ClassOf(cause)
	markCtx := ctx
	if ctx.Err() != nil {
		// Shutdown interrupted this document. Hand the claim back as a
		// transient failure on a detached context so it is not stranded.
		class = pipeline.FailureTransient
		var cancel context.CancelFunc
		markCtx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}
	outcome := pipeline.Outcome{Err: cause, Class: class}
	if err := s.deps.Queue.MarkResult(markCtx, entry.PackageID, outcome); err != nil {
		s.deps.Logger.Error("mark failure failed",
			zap.String("package_id", entry.PackageID),
			zap.Error(err))
	}
	s.emit(progress.Event{
		PackageID: entry.PackageID,
		Stage:     progress.StageDocFailed,
		Class:     string(class),
		Note:      cause.Error(),
	})
}

func (s *Supervisor) publishCompleted(ctx context.Context, entry pipeline.QueueEntry, doc pipeline.DocumentRecord) {
	if s.deps.Publisher == nil || s.cfg.CompletedTopic == "" {
		return
	}
	payload := map[string]any{
		"package_id":     entry.PackageID,
		"source_url":     entry.SourceURL,
		"content_hash":   doc.ContentHash,
		"raw_ref":        doc.RawContentRef,
		"extract_method": doc.ExtractMethod,
		"timestamp":      s.now().Format(time.RFC3339),
	}
	if _, err := s.deps.Publisher.Publish(ctx, s.cfg.CompletedTopic, payload); err != nil {
		s.deps.Logger.Warn("completion publish failed",
			zap.String("package_id", entry.PackageID),
			zap.Error(err))
	}
}

func (s *Supervisor) emit(evt progress.Event) {
	if evt.TS.IsZero() {
		evt.TS = s.now()
	}
	s.deps.Progress.Emit(evt)
}

func (s *Supervisor) runID() (string, error) {
	if s.deps.IDs == nil {
		return fmt.Sprintf("run-%d", s.now().UnixNano()), nil
	}
	return s.deps.IDs.NewID()
}

func (s *Supervisor) now() time.Time {
	if s.deps.Clock != nil {
		return s.deps.Clock.Now()
	}
	return time.Now().UTC()
}

// formatEntityCounts renders per-type entity counts for the progress
// note, e.g. "AGENCY=2 BILL=1".
func formatEntityCounts(counts map[string]int) string {
	if len(counts) == 0 {
		return ""
	}
	types := make([]string, 0, len(counts))
	for t := range counts {
		types = append(types, t)
	}
	sort.Strings(types)
	parts := make([]string, 0, len(types))
	for _, t := range types {
		parts = append(parts, fmt.Sprintf("%s=%d", t, counts[t]))
	}
	return strings.Join(parts, " ")
}

// deriveTitle takes the first non-blank line of extracted text, capped
// for storage.
func deriveTitle(text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if len(line) > 200 {
			return line[:200]
		}
		return line
	}
	return ""
}
