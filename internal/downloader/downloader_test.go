package downloader

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/civicdocs/ingestor/internal/governor"
	"github.com/civicdocs/ingestor/internal/hash/sha256"
	"github.com/civicdocs/ingestor/internal/pipeline"
)

type fakeBlobStore struct {
	puts     int32
	failPuts int32
	paths    []string
}

func (f *fakeBlobStore) Put(_ context.Context, path string, _ string, _ []byte) (string, error) {
	if atomic.AddInt32(&f.puts, 1) <= f.failPuts {
		return "", errors.New("blob store unavailable")
	}
	f.paths = append(f.paths, path)
	return "file:///blobs/" + path, nil
}

type fakeDocStore struct {
	byHash map[string]pipeline.DocumentRecord
}

func (f *fakeDocStore) UpsertDocument(context.Context, pipeline.DocumentRecord) error { return nil }

func (f *fakeDocStore) GetByHash(_ context.Context, hash string) (pipeline.DocumentRecord, error) {
	doc, ok := f.byHash[hash]
	if !ok {
		return pipeline.DocumentRecord{}, pipeline.ErrDocumentNotFound
	}
	return doc, nil
}

func (f *fakeDocStore) GetByPackageID(context.Context, string) (pipeline.DocumentRecord, error) {
	return pipeline.DocumentRecord{}, pipeline.ErrDocumentNotFound
}

func newTestDownloader(t *testing.T, cfg Config, blobs pipeline.BlobStore, docs pipeline.DocumentStore) *Downloader {
	t.Helper()
	gov := governor.New(governor.Config{RateLimitRPM: 60000, MaxConcurrent: 4})
	return New(cfg, gov, sha256.New(), blobs, docs, zap.NewNop())
}

func TestDownloadStoresBlobAndHash(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte("%PDF-1.7 fake body"))
	}))
	defer srv.Close()

	blobs := &fakeBlobStore{}
	d := newTestDownloader(t, Config{MaxRetries: 3}, blobs, nil)

	res, err := d.Download(context.Background(), pipeline.QueueEntry{
		PackageID: "GAO-25-1001",
		SourceURL: srv.URL,
	})
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", res.ContentType)
	assert.NotEmpty(t, res.ContentHash)
	assert.Contains(t, res.BlobRef, res.ContentHash)
	assert.False(t, res.Cached)
	assert.Equal(t, int32(1), blobs.puts)
	require.Len(t, blobs.paths, 1)
	assert.Equal(t, res.ContentHash[:2]+"/"+res.ContentHash+".bin", blobs.paths[0])
}

func TestDownloadRetriesTransientThenSucceeds(t *testing.T) {
	t.Parallel()

	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) <= 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("eventually available"))
	}))
	defer srv.Close()

	blobs := &fakeBlobStore{}
	d := newTestDownloader(t, Config{
		MaxRetries: 3,
		BackoffMin: time.Millisecond,
		BackoffMax: 5 * time.Millisecond,
	}, blobs, nil)

	res, err := d.Download(context.Background(), pipeline.QueueEntry{
		PackageID: "pkg",
		SourceURL: srv.URL,
	})
	require.NoError(t, err)
	assert.Equal(t, int32(4), atomic.LoadInt32(&calls), "three 503s then success within a budget of three retries")
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, int32(1), blobs.puts)
}

func TestDownloadNotFoundFailsImmediately(t *testing.T) {
	t.Parallel()

	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	d := newTestDownloader(t, Config{
		MaxRetries: 4,
		BackoffMin: time.Millisecond,
	}, &fakeBlobStore{}, nil)

	_, err := d.Download(context.Background(), pipeline.QueueEntry{
		PackageID: "pkg",
		SourceURL: srv.URL,
	})
	require.Error(t, err)
	assert.Equal(t, pipeline.FailurePermanent, pipeline.ClassOf(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "permanent failures are not retried")
}

func TestDownloadTransientBudgetExhausted(t *testing.T) {
	t.Parallel()

	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	d := newTestDownloader(t, Config{
		MaxRetries: 3,
		BackoffMin: time.Millisecond,
		BackoffMax: 5 * time.Millisecond,
	}, &fakeBlobStore{}, nil)

	_, err := d.Download(context.Background(), pipeline.QueueEntry{
		PackageID: "pkg",
		SourceURL: srv.URL,
	})
	require.Error(t, err)
	assert.Equal(t, pipeline.FailureTransient, pipeline.ClassOf(err))
	assert.Equal(t, int32(4), atomic.LoadInt32(&calls), "initial attempt plus three retries")
}

func TestDownloadBlobWriteBlipIsRetriedInline(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("stored on the second try"))
	}))
	defer srv.Close()

	blobs := &fakeBlobStore{failPuts: 1}
	d := newTestDownloader(t, Config{MaxRetries: 3}, blobs, nil)

	res, err := d.Download(context.Background(), pipeline.QueueEntry{
		PackageID: "pkg",
		SourceURL: srv.URL,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, res.BlobRef)
	assert.Equal(t, int32(2), atomic.LoadInt32(&blobs.puts), "first write failed, second succeeded")
}

func TestDownloadBlobWritePersistentFailureIsStorageClass(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("never stored"))
	}))
	defer srv.Close()

	blobs := &fakeBlobStore{failPuts: 100}
	d := newTestDownloader(t, Config{MaxRetries: 3}, blobs, nil)

	_, err := d.Download(context.Background(), pipeline.QueueEntry{
		PackageID: "pkg",
		SourceURL: srv.URL,
	})
	require.Error(t, err)
	assert.Equal(t, pipeline.FailureStorage, pipeline.ClassOf(err))
	assert.Equal(t, int32(3), atomic.LoadInt32(&blobs.puts), "inline retries are bounded")
}

func TestDownloadDeduplicatesByContentHash(t *testing.T) {
	t.Parallel()

	body := []byte("identical bytes in two packages")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	hash, err := sha256.New().Hash(body)
	require.NoError(t, err)

	docs := &fakeDocStore{byHash: map[string]pipeline.DocumentRecord{
		hash: {PackageID: "earlier", RawContentRef: "file:///blobs/existing.bin", ContentHash: hash},
	}}
	blobs := &fakeBlobStore{}
	d := newTestDownloader(t, Config{MaxRetries: 3}, blobs, docs)

	res, err := d.Download(context.Background(), pipeline.QueueEntry{
		PackageID: "later",
		SourceURL: srv.URL,
	})
	require.NoError(t, err)
	assert.True(t, res.Cached)
	assert.Equal(t, "file:///blobs/existing.bin", res.BlobRef)
	assert.Equal(t, int32(0), blobs.puts, "no duplicate blob write for known hash")
}

func TestDownloadRequiresSourceURL(t *testing.T) {
	t.Parallel()

	d := newTestDownloader(t, Config{}, &fakeBlobStore{}, nil)
	_, err := d.Download(context.Background(), pipeline.QueueEntry{PackageID: "pkg"})
	require.Error(t, err)
	assert.Equal(t, pipeline.FailurePermanent, pipeline.ClassOf(err))
}
