// Package downloader fetches raw source documents under rate and
// concurrency limits, with retry and content-hash deduplication.
package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/civicdocs/ingestor/internal/governor"
	"github.com/civicdocs/ingestor/internal/pipeline"
)

// maxBodyBytes caps document downloads at 512 MiB.
const maxBodyBytes = 512 << 20

// Config tunes the HTTP client and retry behavior. MaxRetries counts
// retries after the initial attempt, so 3 allows four fetches in total.
type Config struct {
	Timeout    time.Duration
	MaxRetries int
	BackoffMin time.Duration
	BackoffMax time.Duration
	UserAgent  string
}

// Downloader fetches documents named by queue entries.
type Downloader struct {
	client    *http.Client
	governor  *governor.Governor
	policy    *pipeline.RetryPolicy
	hasher    pipeline.Hasher
	blobs     pipeline.BlobStore
	docs      pipeline.DocumentStore
	seen      *gocache.Cache
	userAgent string
	logger    *zap.Logger
}

// New builds a Downloader. The document store may be nil, in which case
// deduplication relies on the in-process cache alone.
func New(cfg Config, gov *governor.Governor, hasher pipeline.Hasher, blobs pipeline.BlobStore, docs pipeline.DocumentStore, logger *zap.Logger) *Downloader {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = "civicdocs-ingestor/0.1"
	}
	return &Downloader{
		client:    &http.Client{Timeout: timeout},
		governor:  gov,
		policy:    pipeline.NewRetryPolicy(cfg.MaxRetries, cfg.BackoffMin, cfg.BackoffMax),
		hasher:    hasher,
		blobs:     blobs,
		docs:      docs,
		seen:      gocache.New(time.Hour, 10*time.Minute),
		userAgent: ua,
		logger:    logger,
	}
}

// Download fetches the document for one queue entry, hashes it, and writes
// the raw bytes to the blob store unless the same content was seen before.
func (d *Downloader) Download(ctx context.Context, entry pipeline.QueueEntry) (pipeline.DownloadResult, error) {
	if entry.SourceURL == "" {
		return pipeline.DownloadResult{}, pipeline.NewError(pipeline.FailurePermanent, "download",
			fmt.Errorf("entry %s has no source url", entry.PackageID))
	}

	release, err := d.governor.AcquireDownload(ctx)
	if err != nil {
		return pipeline.DownloadResult{}, fmt.Errorf("acquire download: %w", err)
	}
	defer release()

	start := time.Now()
	body, contentType, statusCode, err := d.fetchWithRetry(ctx, entry)
	if err != nil {
		return pipeline.DownloadResult{}, err
	}

	hash, err := d.hasher.Hash(body)
	if err != nil {
		return pipeline.DownloadResult{}, pipeline.NewError(pipeline.FailureProcessing, "download",
			fmt.Errorf("hash body: %w", err))
	}

	result := pipeline.DownloadResult{
		Body:        body,
		ContentType: contentType,
		ContentHash: hash,
		StatusCode:  statusCode,
		Duration:    time.Since(start),
	}

	if ref, ok := d.knownRef(ctx, hash); ok {
		result.BlobRef = ref
		result.Cached = true
		d.logger.Debug("content hash already stored, skipping blob write",
			zap.String("package_id", entry.PackageID),
			zap.String("content_hash", hash))
		return result, nil
	}

	var ref string
	if err := pipeline.RetryStoreWrite(ctx, func() error {
		var putErr error
		ref, putErr = d.blobs.Put(ctx, contentPath(hash), contentType, body)
		return putErr
	}); err != nil {
		return pipeline.DownloadResult{}, pipeline.NewError(pipeline.FailureStorage, "download",
			fmt.Errorf("store raw blob: %w", err))
	}
	result.BlobRef = ref
	d.seen.Set(hash, ref, gocache.DefaultExpiration)
	return result, nil
}

func (d *Downloader) fetchWithRetry(ctx context.Context, entry pipeline.QueueEntry) ([]byte, string, int, error) {
	var lastErr error
	for attempt := 0; attempt < d.policy.MaxAttempts(); attempt++ {
		if attempt > 0 {
			wait := d.policy.Backoff(attempt - 1)
			d.logger.Info("retrying download",
				zap.String("package_id", entry.PackageID),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", wait))
			select {
			case <-ctx.Done():
				return nil, "", 0, fmt.Errorf("download canceled: %w", ctx.Err())
			case <-time.After(wait):
			}
		}

		body, contentType, statusCode, err := d.fetchOnce(ctx, entry.SourceURL)
		if err == nil {
			return body, contentType, statusCode, nil
		}
		lastErr = err
		if !d.policy.ShouldRetry(pipeline.ClassOf(err), attempt+1) {
			return nil, "", statusCode, err
		}
	}
	return nil, "", 0, lastErr
}

func (d *Downloader) fetchOnce(ctx context.Context, url string) ([]byte, string, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", 0, pipeline.NewError(pipeline.FailurePermanent, "download",
			fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("User-Agent", d.userAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		class := pipeline.ClassifyNetworkError(err)
		if class == "" {
			return nil, "", 0, fmt.Errorf("download canceled: %w", err)
		}
		return nil, "", 0, pipeline.NewError(class, "download", fmt.Errorf("fetch %s: %w", url, err))
	}
	defer func() { _ = resp.Body.Close() }()

	if class := pipeline.ClassifyHTTPStatus(resp.StatusCode); class != "" {
		return nil, "", resp.StatusCode, pipeline.NewError(class, "download",
			fmt.Errorf("fetch %s: unexpected status %d", url, resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return nil, "", resp.StatusCode, pipeline.NewError(pipeline.FailureTransient, "download",
			fmt.Errorf("read body: %w", err))
	}
	if len(body) > maxBodyBytes {
		return nil, "", resp.StatusCode, pipeline.NewError(pipeline.FailurePermanent, "download",
			fmt.Errorf("body exceeds %d bytes", maxBodyBytes))
	}
	return body, resp.Header.Get("Content-Type"), resp.StatusCode, nil
}

// knownRef checks the in-process cache and then the document store for an
// existing blob holding the same content hash.
func (d *Downloader) knownRef(ctx context.Context, hash string) (string, bool) {
	if ref, ok := d.seen.Get(hash); ok {
		if s, ok := ref.(string); ok && s != "" {
			return s, true
		}
	}
	if d.docs == nil {
		return "", false
	}
	doc, err := d.docs.GetByHash(ctx, hash)
	if errors.Is(err, pipeline.ErrDocumentNotFound) {
		return "", false
	}
	if err != nil {
		d.logger.Warn("dedup lookup failed, storing anyway", zap.Error(err))
		return "", false
	}
	d.seen.Set(hash, doc.RawContentRef, gocache.DefaultExpiration)
	return doc.RawContentRef, true
}

func contentPath(hash string) string {
	if len(hash) < 2 {
		return hash + ".bin"
	}
	return hash[:2] + "/" + hash + ".bin"
}
