// Package config loads and validates ingestor configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Download  DownloadConfig  `mapstructure:"download"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Extract   ExtractConfig   `mapstructure:"extract"`
	Entities  EntitiesConfig  `mapstructure:"entities"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Vector    VectorConfig    `mapstructure:"vector"`
	Graph     GraphConfig     `mapstructure:"graph"`
	Storage   StorageConfig   `mapstructure:"storage"`
	DB        DBConfig        `mapstructure:"db"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// QueueConfig governs claim batching and lease recovery.
type QueueConfig struct {
	BatchSize           int `mapstructure:"batch_size"`
	LeaseTimeoutSeconds int `mapstructure:"lease_timeout_seconds"`
	SweepIntervalSec    int `mapstructure:"sweep_interval_seconds"`
}

// DownloadConfig governs rate limiting and HTTP retry behavior for source
// document fetches.
type DownloadConfig struct {
	MaxConcurrent    int    `mapstructure:"max_concurrent"`
	TimeoutSeconds   int    `mapstructure:"timeout_seconds"`
	MaxRetries       int    `mapstructure:"max_retries"`
	RateLimitRPM     int    `mapstructure:"rate_limit_rpm"`
	BackoffInitialMs int    `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int    `mapstructure:"backoff_max_ms"`
	UserAgent        string `mapstructure:"user_agent"`
}

// PipelineConfig sizes the CPU-bound stage worker pool.
type PipelineConfig struct {
	ProcessWorkers int `mapstructure:"process_workers"`
}

// ExtractConfig tunes the text extraction chain.
type ExtractConfig struct {
	MinPrintableRatio float64 `mapstructure:"min_printable_ratio"`
	OCREndpoint       string  `mapstructure:"ocr_endpoint"`
	OCRTimeoutSeconds int     `mapstructure:"ocr_timeout_seconds"`
}

// EntitiesConfig tunes entity and relationship extraction.
type EntitiesConfig struct {
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold"`
	CooccurrenceWindow  int     `mapstructure:"cooccurrence_window"`
}

// EmbeddingConfig names the embedding model and its serving endpoint.
type EmbeddingConfig struct {
	Model     string `mapstructure:"model"`
	Endpoint  string `mapstructure:"endpoint"`
	APIKey    string `mapstructure:"api_key"`
	ChunkSize int    `mapstructure:"chunk_size"`
	Overlap   int    `mapstructure:"overlap"`
}

// VectorConfig selects the vector store backend.
type VectorConfig struct {
	Kind           string `mapstructure:"kind"`
	QdrantURL      string `mapstructure:"qdrant_url"`
	Collection     string `mapstructure:"collection"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// GraphConfig controls access to the graph database.
type GraphConfig struct {
	URL       string `mapstructure:"url"`
	Namespace string `mapstructure:"namespace"`
	Database  string `mapstructure:"database"`
	User      string `mapstructure:"user"`
	Password  string `mapstructure:"password"`
}

// StorageConfig sets paths for raw blob persistence.
type StorageConfig struct {
	TempDir   string `mapstructure:"temp_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

// PubSubConfig holds metadata for completion-event notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("INGESTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("queue.batch_size", 20)
	v.SetDefault("queue.lease_timeout_seconds", 600)
	v.SetDefault("queue.sweep_interval_seconds", 60)
	v.SetDefault("download.max_concurrent", 5)
	v.SetDefault("download.timeout_seconds", 30)
	v.SetDefault("download.max_retries", 3)
	v.SetDefault("download.rate_limit_rpm", 60)
	v.SetDefault("download.backoff_initial_ms", 500)
	v.SetDefault("download.backoff_max_ms", 30000)
	v.SetDefault("download.user_agent", "civicdocs-ingestor/0.1")
	v.SetDefault("pipeline.process_workers", 4)
	v.SetDefault("extract.min_printable_ratio", 0.85)
	v.SetDefault("extract.ocr_timeout_seconds", 120)
	v.SetDefault("entities.confidence_threshold", 0.7)
	v.SetDefault("entities.cooccurrence_window", 300)
	v.SetDefault("embedding.model", "nomic-embed-text")
	v.SetDefault("embedding.chunk_size", 1600)
	v.SetDefault("embedding.overlap", 200)
	v.SetDefault("vector.kind", "local")
	v.SetDefault("vector.collection", "documents")
	v.SetDefault("vector.timeout_seconds", 15)
	v.SetDefault("graph.namespace", "civicdocs")
	v.SetDefault("graph.database", "ingestor")
	v.SetDefault("storage.temp_dir", "/tmp/ingestor")
	v.SetDefault("storage.prefix", "raw")
	v.SetDefault("db.max_open_conns", 10)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Queue.BatchSize <= 0 {
		return fmt.Errorf("queue.batch_size must be > 0")
	}
	if c.Download.MaxConcurrent <= 0 {
		return fmt.Errorf("download.max_concurrent must be > 0")
	}
	if c.Download.RateLimitRPM <= 0 {
		return fmt.Errorf("download.rate_limit_rpm must be > 0")
	}
	if c.Download.TimeoutSeconds <= 0 {
		return fmt.Errorf("download.timeout_seconds must be > 0")
	}
	if c.Pipeline.ProcessWorkers <= 0 {
		return fmt.Errorf("pipeline.process_workers must be > 0")
	}
	if c.Entities.ConfidenceThreshold < 0 || c.Entities.ConfidenceThreshold > 1 {
		return fmt.Errorf("entities.confidence_threshold must be in [0,1]")
	}
	switch c.Vector.Kind {
	case "local", "none":
	case "qdrant":
		if c.Vector.QdrantURL == "" {
			return fmt.Errorf("vector.qdrant_url must be set when vector.kind is qdrant")
		}
	default:
		return fmt.Errorf("vector.kind must be one of local, qdrant, none")
	}
	return nil
}

// DownloadTimeout converts the configured seconds into a duration.
func (c Config) DownloadTimeout() time.Duration {
	return time.Duration(c.Download.TimeoutSeconds) * time.Second
}

// LeaseTimeout converts the configured seconds into a duration.
func (c Config) LeaseTimeout() time.Duration {
	return time.Duration(c.Queue.LeaseTimeoutSeconds) * time.Second
}

// BackoffInitial converts the configured milliseconds into a duration.
func (c Config) BackoffInitial() time.Duration {
	return time.Duration(c.Download.BackoffInitialMs) * time.Millisecond
}

// BackoffMax converts the configured milliseconds into a duration.
func (c Config) BackoffMax() time.Duration {
	return time.Duration(c.Download.BackoffMaxMs) * time.Millisecond
}
