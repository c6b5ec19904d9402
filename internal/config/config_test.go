package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
queue:
  batch_size: 50
  lease_timeout_seconds: 300
download:
  max_concurrent: 8
  timeout_seconds: 45
  max_retries: 5
  rate_limit_rpm: 120
  backoff_initial_ms: 100
  backoff_max_ms: 5000
pipeline:
  process_workers: 6
extract:
  min_printable_ratio: 0.9
  ocr_endpoint: http://ocr.internal:9000/v1/ocr
entities:
  confidence_threshold: 0.8
  cooccurrence_window: 200
embedding:
  model: nomic-embed-text
  endpoint: http://embed.internal:8081/v1
vector:
  kind: qdrant
  qdrant_url: http://qdrant.internal:6333
graph:
  url: ws://surreal.internal:8000/rpc
  user: root
  password: secret
storage:
  temp_dir: /var/lib/ingestor
db:
  dsn: postgres://localhost/ingestor
logging:
  development: false
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Queue.BatchSize != 50 {
		t.Fatalf("expected batch size 50, got %d", cfg.Queue.BatchSize)
	}
	if cfg.Download.MaxConcurrent != 8 || cfg.Download.RateLimitRPM != 120 {
		t.Fatalf("expected download overrides to apply: %+v", cfg.Download)
	}
	if cfg.Vector.Kind != "qdrant" || cfg.Vector.QdrantURL == "" {
		t.Fatalf("expected qdrant vector config: %+v", cfg.Vector)
	}
	if cfg.Entities.CooccurrenceWindow != 200 {
		t.Fatalf("expected cooccurrence window 200, got %d", cfg.Entities.CooccurrenceWindow)
	}
	if got := cfg.DownloadTimeout(); got != 45*time.Second {
		t.Fatalf("expected download timeout 45s, got %v", got)
	}
	if got := cfg.LeaseTimeout(); got != 300*time.Second {
		t.Fatalf("expected lease timeout 300s, got %v", got)
	}
	if got := cfg.BackoffInitial(); got != 100*time.Millisecond {
		t.Fatalf("expected backoff initial 100ms, got %v", got)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Download.MaxConcurrent != 5 {
		t.Fatalf("expected default max_concurrent 5, got %d", cfg.Download.MaxConcurrent)
	}
	if cfg.Download.RateLimitRPM != 60 {
		t.Fatalf("expected default rate_limit_rpm 60, got %d", cfg.Download.RateLimitRPM)
	}
	if cfg.Entities.ConfidenceThreshold != 0.7 {
		t.Fatalf("expected default confidence threshold 0.7, got %f", cfg.Entities.ConfidenceThreshold)
	}
	if cfg.Vector.Kind != "local" {
		t.Fatalf("expected default vector kind local, got %q", cfg.Vector.Kind)
	}
	if cfg.Extract.MinPrintableRatio != 0.85 {
		t.Fatalf("expected default printable ratio 0.85, got %f", cfg.Extract.MinPrintableRatio)
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server:   ServerConfig{Port: 8080},
		Queue:    QueueConfig{BatchSize: 10},
		Download: DownloadConfig{MaxConcurrent: 5, TimeoutSeconds: 30, RateLimitRPM: 60},
		Pipeline: PipelineConfig{ProcessWorkers: 4},
		Entities: EntitiesConfig{ConfidenceThreshold: 0.7},
		Vector:   VectorConfig{Kind: "local"},
	}

	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "invalid port",
			cfg: func() Config {
				c := base
				c.Server.Port = 0
				return c
			}(),
			want: "server.port",
		},
		{
			name: "invalid batch size",
			cfg: func() Config {
				c := base
				c.Queue.BatchSize = 0
				return c
			}(),
			want: "queue.batch_size",
		},
		{
			name: "invalid concurrency",
			cfg: func() Config {
				c := base
				c.Download.MaxConcurrent = 0
				return c
			}(),
			want: "download.max_concurrent",
		},
		{
			name: "invalid rate limit",
			cfg: func() Config {
				c := base
				c.Download.RateLimitRPM = 0
				return c
			}(),
			want: "download.rate_limit_rpm",
		},
		{
			name: "confidence threshold out of range",
			cfg: func() Config {
				c := base
				c.Entities.ConfidenceThreshold = 1.5
				return c
			}(),
			want: "entities.confidence_threshold",
		},
		{
			name: "unknown vector kind",
			cfg: func() Config {
				c := base
				c.Vector.Kind = "pinecone"
				return c
			}(),
			want: "vector.kind",
		},
		{
			name: "qdrant missing url",
			cfg: func() Config {
				c := base
				c.Vector.Kind = "qdrant"
				c.Vector.QdrantURL = ""
				return c
			}(),
			want: "vector.qdrant_url",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
