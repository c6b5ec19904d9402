// Package api exposes the HTTP interface for the ingestion service.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/civicdocs/ingestor/internal/pipeline"
)

// Queue is the slice of the queue contract the API needs.
type Queue interface {
	Enqueue(ctx context.Context, packageID, sourceURL string, priority int, force bool) error
	Requeue(ctx context.Context, packageID string) error
	Depth(ctx context.Context) (pipeline.QueueDepth, error)
	Get(ctx context.Context, packageID string) (pipeline.QueueEntry, error)
}

// Searcher answers semantic queries over stored embeddings.
type Searcher interface {
	Search(ctx context.Context, query string, topK int) ([]pipeline.SearchMatch, error)
}

// BatchReporter exposes the supervisor's most recent batch outcome.
type BatchReporter interface {
	LastBatch() (pipeline.BatchStats, bool)
}

// Pinger reports backing store health for readiness checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RateReporter exposes the download governor's wait for the next token.
type RateReporter interface {
	Reserve() time.Duration
}

// Server wires HTTP handlers to the queue, stores, and supervisor.
type Server struct {
	router   chi.Router
	queue    Queue
	docs     pipeline.DocumentStore
	search   Searcher
	stats    BatchReporter
	pinger   Pinger
	rate     RateReporter
	gatherer prometheus.Gatherer
	logger   *zap.Logger
}

// Deps collects the handler dependencies. Search, stats, pinger, rate,
// and gatherer are optional; missing pieces degrade the matching
// endpoints.
type Deps struct {
	Queue    Queue
	Docs     pipeline.DocumentStore
	Search   Searcher
	Stats    BatchReporter
	Pinger   Pinger
	Rate     RateReporter
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		queue:    deps.Queue,
		docs:     deps.Docs,
		search:   deps.Search,
		stats:    deps.Stats,
		pinger:   deps.Pinger,
		rate:     deps.Rate,
		gatherer: deps.Gatherer,
		logger:   logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", s.metricsHandler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/documents", func(r chi.Router) {
			r.Post("/", s.submitDocument)
			r.Route("/{package_id}", func(r chi.Router) {
				r.Get("/", s.getDocument)
				r.Post("/requeue", s.requeueDocument)
			})
		})
		r.Get("/stats", s.getStats)
		r.Get("/search", s.searchDocuments)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) metricsHandler() http.Handler {
	gatherer := s.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.pinger != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := s.pinger.Ping(ctx); err != nil {
			s.writeError(w, http.StatusServiceUnavailable, "database unreachable")
			return
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type submitRequest struct {
	PackageID string `json:"package_id"`
	SourceURL string `json:"source_url"`
	Priority  int    `json:"priority"`
	Force     bool   `json:"force"`
}

func (s *Server) submitDocument(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.PackageID == "" || req.SourceURL == "" {
		s.writeError(w, http.StatusBadRequest, "package_id and source_url are required")
		return
	}
	if err := s.queue.Enqueue(r.Context(), req.PackageID, req.SourceURL, req.Priority, req.Force); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{
		"package_id": req.PackageID,
		"status":     string(pipeline.StatusPending),
	})
}

func (s *Server) getDocument(w http.ResponseWriter, r *http.Request) {
	packageID := chi.URLParam(r, "package_id")
	entry, err := s.queue.Get(r.Context(), packageID)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "document not found")
		return
	}
	payload := map[string]any{"queue": entry}
	if s.docs != nil {
		if doc, err := s.docs.GetByPackageID(r.Context(), packageID); err == nil {
			payload["document"] = doc
		}
	}
	s.writeJSON(w, http.StatusOK, payload)
}

func (s *Server) requeueDocument(w http.ResponseWriter, r *http.Request) {
	packageID := chi.URLParam(r, "package_id")
	if err := s.queue.Requeue(r.Context(), packageID); err != nil {
		s.writeError(w, http.StatusConflict, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"package_id": packageID,
		"status":     string(pipeline.StatusPending),
	})
}

func (s *Server) getStats(w http.ResponseWriter, r *http.Request) {
	depth, err := s.queue.Depth(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "queue depth unavailable")
		return
	}
	payload := map[string]any{"queue": depth}
	if s.stats != nil {
		if batch, ok := s.stats.LastBatch(); ok {
			payload["last_batch"] = batch
		}
	}
	if s.rate != nil {
		payload["download"] = map[string]any{
			"next_token_wait_ms": s.rate.Reserve().Milliseconds(),
		}
	}
	s.writeJSON(w, http.StatusOK, payload)
}

func (s *Server) searchDocuments(w http.ResponseWriter, r *http.Request) {
	if s.search == nil {
		s.writeError(w, http.StatusNotImplemented, "search is not configured")
		return
	}
	query := r.URL.Query().Get("q")
	if query == "" {
		s.writeError(w, http.StatusBadRequest, "query parameter q is required")
		return
	}
	topK := 10
	if raw := r.URL.Query().Get("k"); raw != "" {
		k, err := strconv.Atoi(raw)
		if err != nil || k <= 0 || k > 100 {
			s.writeError(w, http.StatusBadRequest, "k must be between 1 and 100")
			return
		}
		topK = k
	}
	matches, err := s.search.Search(r.Context(), query, topK)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "search failed")
		return
	}
	if matches == nil {
		matches = []pipeline.SearchMatch{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"query": query, "matches": matches})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()))
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("panic", rec))
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type requestIDKey struct{}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
