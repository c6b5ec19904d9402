// Package surreal persists the entity/relationship graph in SurrealDB over
// an auto-reconnecting WebSocket connection.
package surreal

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/surrealdb/surrealdb.go"
	"github.com/surrealdb/surrealdb.go/contrib/rews"
	"github.com/surrealdb/surrealdb.go/pkg/connection"
	"github.com/surrealdb/surrealdb.go/pkg/connection/gorillaws"
	"github.com/surrealdb/surrealdb.go/pkg/logger"
	"github.com/surrealdb/surrealdb.go/surrealcbor"
	"go.uber.org/zap"
)

func init() {
	// WebSocket upgrade requires HTTP/1.1 semantics, which fail when TLS
	// negotiates HTTP/2 via ALPN.
	gorillaws.DefaultDialer.TLSClientConfig = &tls.Config{
		NextProtos: []string{"http/1.1"},
	}
}

// Config holds SurrealDB connection configuration.
type Config struct {
	URL       string
	Namespace string
	Database  string
	Username  string
	Password  string
}

// Client wraps the SurrealDB connection with auto-reconnect.
type Client struct {
	conn   *rews.Connection[*gorillaws.Connection]
	db     *surrealdb.DB
	logger *zap.Logger
}

// NewClient connects, authenticates, and selects the namespace/database.
func NewClient(ctx context.Context, cfg Config, log *zap.Logger) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("graph.url is required")
	}

	sdkLogger := logger.New(slog.Default().Handler())
	codec := surrealcbor.New()

	// gorillaws appends /rpc itself.
	baseURL := strings.TrimSuffix(cfg.URL, "/rpc")

	conn := rews.New(
		func(ctx context.Context) (*gorillaws.Connection, error) {
			return gorillaws.New(&connection.Config{
				BaseURL:     baseURL,
				Marshaler:   codec,
				Unmarshaler: codec,
				Logger:      sdkLogger,
			}), nil
		},
		5*time.Second,
		codec,
		sdkLogger,
	)

	retryer := rews.NewExponentialBackoffRetryer()
	retryer.InitialDelay = time.Second
	retryer.MaxDelay = 30 * time.Second
	retryer.Multiplier = 2.0
	retryer.MaxRetries = 10
	conn.Retryer = retryer

	log.Info("connecting to surrealdb", zap.String("url", cfg.URL))
	if err := conn.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect surrealdb: %w", err)
	}

	db, err := surrealdb.FromConnection(ctx, conn)
	if err != nil {
		_ = conn.Close(ctx)
		return nil, fmt.Errorf("from connection: %w", err)
	}

	if _, err := db.SignIn(ctx, surrealdb.Auth{
		Username: cfg.Username,
		Password: cfg.Password,
	}); err != nil {
		_ = conn.Close(ctx)
		return nil, fmt.Errorf("signin: %w", err)
	}

	if err := db.Use(ctx, cfg.Namespace, cfg.Database); err != nil {
		_ = conn.Close(ctx)
		return nil, fmt.Errorf("use %s/%s: %w", cfg.Namespace, cfg.Database, err)
	}

	log.Info("surrealdb connection established",
		zap.String("namespace", cfg.Namespace),
		zap.String("database", cfg.Database))
	return &Client{conn: conn, db: db, logger: log}, nil
}

// Close closes the SurrealDB connection.
func (c *Client) Close(ctx context.Context) error {
	return c.conn.Close(ctx)
}

// Query executes a SurrealQL statement with parameters.
func (c *Client) Query(ctx context.Context, sql string, vars map[string]any) error {
	if _, err := surrealdb.Query[any](ctx, c.db, sql, vars); err != nil {
		return fmt.Errorf("surreal query: %w", err)
	}
	return nil
}

// SchemaSQL defines the graph tables. Entities are immutable per run;
// reprocessing writes a new run_id generation.
const SchemaSQL = `
DEFINE TABLE IF NOT EXISTS entity SCHEMALESS;
DEFINE INDEX IF NOT EXISTS entity_doc_idx ON entity FIELDS document_id;
DEFINE INDEX IF NOT EXISTS entity_doc_run_idx ON entity FIELDS document_id, run_id;
DEFINE TABLE IF NOT EXISTS relates SCHEMALESS TYPE RELATION;
`

// InitSchema applies the graph schema.
func (c *Client) InitSchema(ctx context.Context) error {
	if err := c.Query(ctx, SchemaSQL, nil); err != nil {
		return fmt.Errorf("init graph schema: %w", err)
	}
	return nil
}
