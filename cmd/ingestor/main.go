// Package main wires together the document ingestion service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	pubsubv2 "cloud.google.com/go/pubsub/v2"
	gcstorage "cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/civicdocs/ingestor/internal/api"
	gcsblob "github.com/civicdocs/ingestor/internal/blob/gcs"
	localblob "github.com/civicdocs/ingestor/internal/blob/local"
	"github.com/civicdocs/ingestor/internal/clock/system"
	"github.com/civicdocs/ingestor/internal/config"
	docpostgres "github.com/civicdocs/ingestor/internal/docstore/postgres"
	"github.com/civicdocs/ingestor/internal/downloader"
	"github.com/civicdocs/ingestor/internal/embedding"
	"github.com/civicdocs/ingestor/internal/entities"
	"github.com/civicdocs/ingestor/internal/extractor"
	"github.com/civicdocs/ingestor/internal/governor"
	graphsurreal "github.com/civicdocs/ingestor/internal/graphstore/surreal"
	"github.com/civicdocs/ingestor/internal/hash/sha256"
	"github.com/civicdocs/ingestor/internal/id/uuid"
	"github.com/civicdocs/ingestor/internal/logging"
	"github.com/civicdocs/ingestor/internal/pipeline"
	"github.com/civicdocs/ingestor/internal/progress"
	"github.com/civicdocs/ingestor/internal/progress/sinks"
	pubsubpublisher "github.com/civicdocs/ingestor/internal/publisher/pubsub"
	queuepostgres "github.com/civicdocs/ingestor/internal/queue/postgres"
	"github.com/civicdocs/ingestor/internal/supervisor"
	"github.com/civicdocs/ingestor/internal/vectorstore"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("ingestor exited with error", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	if cfg.DB.DSN == "" {
		return fmt.Errorf("db.dsn is required")
	}

	queue, err := queuepostgres.New(ctx, queuepostgres.Config{
		DSN:        cfg.DB.DSN,
		MaxConns:   int32(cfg.DB.MaxOpenConns),
		MaxRetries: cfg.Download.MaxRetries,
	})
	if err != nil {
		return fmt.Errorf("connect queue: %w", err)
	}
	defer queue.Close()
	if err := queue.Init(ctx); err != nil {
		return fmt.Errorf("init queue schema: %w", err)
	}

	docs, err := docpostgres.New(ctx, docpostgres.Config{
		DSN:      cfg.DB.DSN,
		MaxConns: int32(cfg.DB.MaxOpenConns),
	})
	if err != nil {
		return fmt.Errorf("connect document store: %w", err)
	}
	defer docs.Close()
	if err := docs.Init(ctx); err != nil {
		return fmt.Errorf("init document schema: %w", err)
	}

	blobs, err := buildBlobStore(ctx, cfg, logger)
	if err != nil {
		return err
	}

	hasher := sha256.New()
	clock := system.New()
	idGen := uuid.NewUUIDGenerator()

	gov := governor.New(governor.Config{
		RateLimitRPM:  cfg.Download.RateLimitRPM,
		MaxConcurrent: cfg.Download.MaxConcurrent,
	})
	dl := downloader.New(downloader.Config{
		Timeout:    cfg.DownloadTimeout(),
		MaxRetries: cfg.Download.MaxRetries,
		BackoffMin: cfg.BackoffInitial(),
		BackoffMax: cfg.BackoffMax(),
		UserAgent:  cfg.Download.UserAgent,
	}, gov, hasher, blobs, docs, logger.Named("downloader"))

	chain := extractor.NewChain(
		extractor.Config{MinPrintableRatio: cfg.Extract.MinPrintableRatio},
		logger.Named("extract"),
		extractor.DefaultStages(extractor.OCRConfig{
			Endpoint: cfg.Extract.OCREndpoint,
			Timeout:  time.Duration(cfg.Extract.OCRTimeoutSeconds) * time.Second,
		})...,
	)

	entityExtractor := entities.New(entities.Config{
		ConfidenceThreshold: cfg.Entities.ConfidenceThreshold,
		CooccurrenceWindow:  cfg.Entities.CooccurrenceWindow,
	})

	embedder, err := embedding.NewOpenAIEmbedder(embedding.EmbedderConfig{
		Endpoint: cfg.Embedding.Endpoint,
		Model:    cfg.Embedding.Model,
		APIKey:   cfg.Embedding.APIKey,
	}, logger.Named("embedder"))
	if err != nil {
		return fmt.Errorf("init embedder: %w", err)
	}
	vectors, err := vectorstore.New(vectorstore.Config{
		Kind:       cfg.Vector.Kind,
		QdrantURL:  cfg.Vector.QdrantURL,
		Collection: cfg.Vector.Collection,
		Timeout:    time.Duration(cfg.Vector.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		return fmt.Errorf("init vector store: %w", err)
	}
	generator := embedding.NewGenerator(embedder, vectors, embedding.ChunkConfig{
		MaxSize: cfg.Embedding.ChunkSize,
		Overlap: cfg.Embedding.Overlap,
	}, logger.Named("embedding"))

	var graph pipeline.GraphStore
	if cfg.Graph.URL != "" {
		client, err := graphsurreal.NewClient(ctx, graphsurreal.Config{
			URL:       cfg.Graph.URL,
			Namespace: cfg.Graph.Namespace,
			Database:  cfg.Graph.Database,
			Username:  cfg.Graph.User,
			Password:  cfg.Graph.Password,
		}, logger.Named("graph"))
		if err != nil {
			return fmt.Errorf("connect graph store: %w", err)
		}
		defer func() { _ = client.Close(context.Background()) }()
		if err := client.InitSchema(ctx); err != nil {
			return fmt.Errorf("init graph schema: %w", err)
		}
		graph = graphsurreal.NewStore(client, logger.Named("graph"))
	}

	publisher, err := buildPublisher(ctx, cfg, logger)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	promSink, err := sinks.NewPrometheusSink(registry)
	if err != nil {
		return fmt.Errorf("init metrics sink: %w", err)
	}
	if err := registry.Register(sinks.NewQueueDepthCollector(queue)); err != nil {
		return fmt.Errorf("register queue depth collector: %w", err)
	}
	hub := progress.NewHub(progress.Config{Logger: logger.Named("progress")},
		sinks.NewLogSink(logger.Named("events")), promSink)

	sup, err := supervisor.New(supervisor.Deps{
		Queue:      queue,
		Downloader: dl,
		Extractor:  chain,
		Entities:   entityExtractor,
		Embeddings: generator,
		Documents:  docs,
		Graph:      graph,
		Publisher:  publisher,
		IDs:        idGen,
		Clock:      clock,
		Progress:   hub,
		Logger:     logger.Named("supervisor"),
	}, supervisor.Config{
		BatchSize:      cfg.Queue.BatchSize,
		Workers:        cfg.Pipeline.ProcessWorkers,
		LeaseTimeout:   cfg.LeaseTimeout(),
		SweepInterval:  time.Duration(cfg.Queue.SweepIntervalSec) * time.Second,
		CompletedTopic: cfg.PubSub.TopicName,
	})
	if err != nil {
		return fmt.Errorf("init supervisor: %w", err)
	}
	defer sup.Close()

	apiServer := api.NewServer(api.Deps{
		Queue:    queue,
		Docs:     docs,
		Search:   generator,
		Stats:    sup,
		Pinger:   queue,
		Rate:     gov,
		Gatherer: registry,
		Logger:   logger.Named("api"),
	})
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	supDone := make(chan struct{})
	go func() {
		defer close(supDone)
		logger.Info("supervisor started",
			zap.Int("batch_size", cfg.Queue.BatchSize),
			zap.Int("workers", cfg.Pipeline.ProcessWorkers))
		sup.Run(ctx)
	}()

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	<-supDone
	if err := hub.Close(shutdownCtx); err != nil {
		logger.Error("progress hub close error", zap.Error(err))
	}
	logger.Info("shutdown complete")
	return nil
}

func buildBlobStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (pipeline.BlobStore, error) {
	if cfg.Storage.GCSBucket != "" {
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("init gcs client: %w", err)
		}
		logger.Info("using gcs blob store", zap.String("bucket", cfg.Storage.GCSBucket))
		return gcsblob.New(client, gcsblob.Config{
			Bucket: cfg.Storage.GCSBucket,
			Prefix: cfg.Storage.Prefix,
		})
	}
	logger.Info("using local blob store", zap.String("dir", cfg.Storage.TempDir))
	return localblob.New(localblob.Config{BaseDir: cfg.Storage.TempDir})
}

func buildPublisher(ctx context.Context, cfg config.Config, logger *zap.Logger) (pipeline.Publisher, error) {
	if cfg.PubSub.ProjectID == "" || cfg.PubSub.TopicName == "" {
		logger.Info("pubsub not configured, completion events disabled")
		return nil, nil
	}
	client, err := pubsubv2.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("init pubsub client: %w", err)
	}
	logger.Info("publishing completion events",
		zap.String("project", cfg.PubSub.ProjectID),
		zap.String("topic", cfg.PubSub.TopicName))
	return pubsubpublisher.New(client.Publisher(cfg.PubSub.TopicName)), nil
}
