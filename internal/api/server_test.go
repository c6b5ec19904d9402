package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/civicdocs/ingestor/internal/clock/system"
	"github.com/civicdocs/ingestor/internal/pipeline"
	queuemem "github.com/civicdocs/ingestor/internal/queue/memory"
)

type fakeSearcher struct {
	matches []pipeline.SearchMatch
	err     error
	lastK   int
}

func (f *fakeSearcher) Search(_ context.Context, _ string, topK int) ([]pipeline.SearchMatch, error) {
	f.lastK = topK
	return f.matches, f.err
}

type fakeReporter struct {
	stats pipeline.BatchStats
	ok    bool
}

func (f *fakeReporter) LastBatch() (pipeline.BatchStats, bool) {
	return f.stats, f.ok
}

type fakePinger struct{ err error }

func (f *fakePinger) Ping(context.Context) error { return f.err }

type fakeRate struct{ wait time.Duration }

func (f *fakeRate) Reserve() time.Duration { return f.wait }

func newTestServer(t *testing.T, mutate func(*Deps)) (*httptest.Server, *queuemem.Queue) {
	t.Helper()
	queue := queuemem.NewQueue(3, system.New())
	deps := Deps{
		Queue:    queue,
		Search:   &fakeSearcher{},
		Stats:    &fakeReporter{},
		Gatherer: prometheus.NewRegistry(),
		Logger:   zap.NewNop(),
	}
	if mutate != nil {
		mutate(&deps)
	}
	srv := httptest.NewServer(NewServer(deps).Handler())
	t.Cleanup(srv.Close)
	return srv, queue
}

func postJSON(t *testing.T, url string, payload any) *http.Response {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, nil)
	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
	assert.Equal(t, "ok", decodeBody(t, resp)["status"])
}

func TestReadyzReportsDatabaseFailure(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, func(d *Deps) {
		d.Pinger = &fakePinger{err: fmt.Errorf("connection refused")}
	})
	resp, err := http.Get(srv.URL + "/readyz")
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Contains(t, decodeBody(t, resp)["error"], "database")
}

func TestSubmitDocument(t *testing.T) {
	t.Parallel()

	srv, queue := newTestServer(t, nil)
	resp := postJSON(t, srv.URL+"/v1/documents", submitRequest{
		PackageID: "GAO-25-1001",
		SourceURL: "https://example.gov/GAO-25-1001.pdf",
		Priority:  5,
	})
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "GAO-25-1001", body["package_id"])
	assert.Equal(t, "pending", body["status"])

	entry, err := queue.Get(context.Background(), "GAO-25-1001")
	require.NoError(t, err)
	assert.Equal(t, pipeline.StatusPending, entry.Status)
	assert.Equal(t, 5, entry.Priority)
}

func TestSubmitDocumentValidation(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, nil)
	cases := []struct {
		name string
		req  submitRequest
	}{
		{"missing package id", submitRequest{SourceURL: "https://example.gov/x"}},
		{"missing source url", submitRequest{PackageID: "x"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := postJSON(t, srv.URL+"/v1/documents", tc.req)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			_ = resp.Body.Close()
		})
	}
}

func TestGetDocument(t *testing.T) {
	t.Parallel()

	srv, queue := newTestServer(t, nil)
	require.NoError(t, queue.Enqueue(context.Background(), "pkg", "https://example.gov/pkg", 0, false))

	resp, err := http.Get(srv.URL + "/v1/documents/pkg")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	require.Contains(t, body, "queue")

	resp, err = http.Get(srv.URL + "/v1/documents/missing")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestRequeueDocument(t *testing.T) {
	t.Parallel()

	srv, queue := newTestServer(t, nil)
	ctx := context.Background()
	require.NoError(t, queue.Enqueue(ctx, "pkg", "https://example.gov/pkg", 0, false))
	_, err := queue.ClaimBatch(ctx, 1, "worker")
	require.NoError(t, err)
	require.NoError(t, queue.MarkResult(ctx, "pkg", pipeline.Outcome{
		Err:   fmt.Errorf("not found"),
		Class: pipeline.FailurePermanent,
	}))

	resp := postJSON(t, srv.URL+"/v1/documents/pkg/requeue", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()

	entry, err := queue.Get(ctx, "pkg")
	require.NoError(t, err)
	assert.Equal(t, pipeline.StatusPending, entry.Status)
	assert.Zero(t, entry.RetryCount)
}

func TestRequeueRejectsNonFailed(t *testing.T) {
	t.Parallel()

	srv, queue := newTestServer(t, nil)
	require.NoError(t, queue.Enqueue(context.Background(), "pkg", "https://example.gov/pkg", 0, false))

	resp := postJSON(t, srv.URL+"/v1/documents/pkg/requeue", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestGetStats(t *testing.T) {
	t.Parallel()

	srv, queue := newTestServer(t, func(d *Deps) {
		d.Stats = &fakeReporter{
			stats: pipeline.BatchStats{TotalProcessed: 4, Completed: 3, Failed: 1, Elapsed: time.Second},
			ok:    true,
		}
		d.Rate = &fakeRate{wait: 250 * time.Millisecond}
	})
	require.NoError(t, queue.Enqueue(context.Background(), "pkg", "https://example.gov/pkg", 0, false))

	resp, err := http.Get(srv.URL + "/v1/stats")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	require.Contains(t, body, "queue")
	require.Contains(t, body, "last_batch")
	require.Contains(t, body, "download")
	download, ok := body["download"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(250), download["next_token_wait_ms"])
}

func TestSearch(t *testing.T) {
	t.Parallel()

	searcher := &fakeSearcher{matches: []pipeline.SearchMatch{
		{ID: "abc:0:model", DocumentID: "GAO-25-1001", Score: 0.92},
	}}
	srv, _ := newTestServer(t, func(d *Deps) { d.Search = searcher })

	resp, err := http.Get(srv.URL + "/v1/search?q=budget+oversight&k=5")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "budget oversight", body["query"])
	assert.Len(t, body["matches"], 1)
	assert.Equal(t, 5, searcher.lastK)
}

func TestSearchValidation(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, nil)

	resp, err := http.Get(srv.URL + "/v1/search")
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	_ = resp.Body.Close()

	resp, err = http.Get(srv.URL + "/v1/search?q=x&k=0")
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "ingestor_test_total", Help: "test"})
	require.NoError(t, reg.Register(counter))
	counter.Inc()

	srv, _ := newTestServer(t, func(d *Deps) { d.Gatherer = reg })
	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	buf := new(bytes.Buffer)
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "ingestor_test_total 1")
}
