// Package server implements the HTTP server that exposes the note retrieval
// engine via a REST/SSE API.
// The server is started by the `noteai serve` CLI command.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/54b3r/noteai-go/internal/agent"
	"github.com/54b3r/noteai-go/internal/logging"
	"github.com/54b3r/noteai-go/internal/rag"
)

// maxBodyBytes caps JSON request bodies. Notes pushed through
// POST /api/documents are the largest payloads.
const maxBodyBytes = 8 << 20

// New constructs a Server from the provided engine and config.
func New(eng Engine, cfg *Config) (*Server, error) {
	if eng == nil {
		return nil, fmt.Errorf("server: engine must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		// WriteTimeout must be long enough for streaming responses.
		cfg.WriteTimeout = 5 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.ChatTimeout == 0 {
		cfg.ChatTimeout = 5 * time.Minute
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = defaultRateBurst
	}
	if cfg.MetricsRegistry == nil {
		cfg.MetricsRegistry = prometheus.DefaultRegisterer
	}
	if cfg.MetricsGatherer == nil {
		cfg.MetricsGatherer = prometheus.DefaultGatherer
	}
	log := cfg.Logger
	if log == nil {
		log = logging.New()
	}

	pingers := append([]Pinger(nil), cfg.Pingers...)
	pingers = append(pingers, NewIndexPinger(eng))

	s := &Server{
		engine:  eng,
		cfg:     cfg,
		log:     log,
		pingers: pingers,
		metrics: newServerMetrics(cfg.MetricsRegistry),
	}
	s.metrics.registerIndexSize(cfg.MetricsRegistry, eng.Len)

	rl, stopRL := newRateLimiter(cfg.RateLimit, cfg.RateBurst, log)
	s.stopRL = stopRL

	authFailed := func(reason string) { s.metrics.authFailuresTotal.WithLabelValues(reason).Inc() }

	// protect applies auth then the route's rate-limit cost to a handler.
	protect := func(name string, h http.HandlerFunc) http.Handler {
		limited := func() { s.metrics.rateLimitedTotal.WithLabelValues(name).Inc() }
		return s.instrument(name, authMiddleware(cfg.APIKey, authFailed, rl.middleware(name, limited, h)))
	}

	mux := http.NewServeMux()
	mux.Handle("POST /api/search", protect("search", s.handleSearch))
	mux.Handle("POST /api/context", protect("context", s.handleContext))
	mux.Handle("POST /api/chat", protect("chat", s.handleChat))
	mux.Handle("POST /api/chat/reset", protect("chat_reset", s.handleChatReset))
	mux.Handle("GET /api/documents", protect("documents", s.handleDocuments))
	mux.Handle("POST /api/documents", protect("documents_upsert", s.handleDocumentUpsert))
	mux.Handle("DELETE /api/documents", protect("documents_delete", s.handleDocumentDelete))
	mux.Handle("GET /api/documents/embedding", protect("documents_embedding", s.handleDocumentEmbedding))
	mux.Handle("POST /api/reindex", protect("reindex", s.handleReindex))
	mux.Handle("GET /api/health", s.instrument("health", http.HandlerFunc(s.handleHealth)))
	mux.Handle("GET /api/ready", s.instrument("ready", http.HandlerFunc(s.handleReady)))
	mux.Handle("GET /metrics", promhttp.HandlerFor(cfg.MetricsGatherer, promhttp.HandlerOpts{}))

	if cfg.APIKey == "" {
		log.Warn("server: NOTEAI_API_KEY not set, API authentication disabled")
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      requestLogger(log, mux),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s, nil
}

// Handler returns the fully wrapped root handler. Used by tests that drive
// the routing table end to end.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.log.Info("server listening", slog.String("addr", "http://"+s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	defer func() {
		if s.stopRL != nil {
			s.stopRL()
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		s.log.Info("server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		return nil
	}
}

// handleSearch handles POST /api/search. It returns the best matching chunks,
// each with its note's full content and chunk index.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req rag.SearchRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeJSONError(w, "query is required", http.StatusBadRequest)
		return
	}

	start := time.Now()
	results, err := s.engine.Search(r.Context(), req)
	s.metrics.searchDurationSeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		s.writeEngineError(w, r, "search", err)
		return
	}
	s.metrics.searchResults.Observe(float64(len(results)))

	if results == nil {
		results = []rag.NoteWithContent{}
	}
	writeJSON(w, r, http.StatusOK, searchResponse{Results: results})
}

// handleContext handles POST /api/context. Agentic refinement is used unless
// the request explicitly opts out.
func (s *Server) handleContext(w http.ResponseWriter, r *http.Request) {
	var req contextRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeJSONError(w, "query is required", http.StatusBadRequest)
		return
	}

	var (
		text string
		err  error
	)
	if req.Agentic != nil && !*req.Agentic {
		text, err = s.engine.Context(r.Context(), rag.SearchRequest{Query: req.Query, ActivePath: req.ActivePath})
	} else {
		text, err = s.engine.BuildAgenticContext(r.Context(), agent.Request{
			Session:    req.Session,
			Query:      req.Query,
			ActivePath: req.ActivePath,
		})
	}
	if err != nil {
		s.writeEngineError(w, r, "context", err)
		return
	}
	writeJSON(w, r, http.StatusOK, contextResponse{Context: text})
}

// handleChat handles POST /api/chat requests. It streams the answer using
// Server-Sent Events (SSE) so the client can render tokens as they arrive.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	var req chatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeJSONError(w, "message is required", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSONError(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	// Set SSE headers so the client receives a streaming response.
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	timeout := s.cfg.ChatTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	s.metrics.chatActiveStreams.Inc()
	defer s.metrics.chatActiveStreams.Dec()
	start := time.Now()

	sw := &sseWriter{w: w, flusher: flusher}
	err := s.engine.Ask(ctx, agent.Request{
		Session:    req.Session,
		Query:      req.Message,
		ActivePath: req.ActivePath,
	}, sw)

	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded):
		outcome = "timeout"
	default:
		outcome = "error"
	}
	s.metrics.chatRequestsTotal.WithLabelValues(outcome).Inc()
	s.metrics.chatDurationSeconds.WithLabelValues(outcome).Observe(time.Since(start).Seconds())

	if err != nil {
		log.Error("chat failed", slog.String("outcome", outcome), slog.Any("error", err))
		fmt.Fprintf(w, "event: error\ndata: %s\n\n", strings.ReplaceAll(err.Error(), "\n", " "))
		flusher.Flush()
		return
	}

	// Signal stream completion.
	fmt.Fprintf(w, "event: done\ndata: [DONE]\n\n")
	flusher.Flush()
}

// handleChatReset handles POST /api/chat/reset.
func (s *Server) handleChatReset(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.engine.ResetConversation(r.Context(), req.Session); err != nil {
		s.writeEngineError(w, r, "chat reset", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleDocuments handles GET /api/documents.
func (s *Server) handleDocuments(w http.ResponseWriter, r *http.Request) {
	paths := s.engine.IndexedPaths()
	if paths == nil {
		paths = []string{}
	}
	writeJSON(w, r, http.StatusOK, documentsResponse{Count: len(paths), Paths: paths})
}

// handleDocumentUpsert handles POST /api/documents. A body with content is
// embedded immediately; a body without content schedules a debounced reindex
// from the notes directory.
func (s *Server) handleDocumentUpsert(w http.ResponseWriter, r *http.Request) {
	var req documentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Path) == "" {
		writeJSONError(w, "path is required", http.StatusBadRequest)
		return
	}

	if req.Content == "" {
		s.engine.Touch(req.Path)
		w.WriteHeader(http.StatusAccepted)
		return
	}

	if err := s.engine.AddDocument(r.Context(), req.Path, req.Content); err != nil {
		s.writeEngineError(w, r, "add document", err)
		return
	}
	if err := s.engine.Save(r.Context()); err != nil {
		logging.FromContext(r.Context()).Warn("index save failed", slog.Any("error", err))
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleDocumentDelete handles DELETE /api/documents?path=.
func (s *Server) handleDocumentDelete(w http.ResponseWriter, r *http.Request) {
	p := r.URL.Query().Get("path")
	if p == "" {
		writeJSONError(w, "path query parameter is required", http.StatusBadRequest)
		return
	}
	s.engine.RemoveDocument(p)
	if err := s.engine.Save(r.Context()); err != nil {
		logging.FromContext(r.Context()).Warn("index save failed", slog.Any("error", err))
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleDocumentEmbedding handles GET /api/documents/embedding?path=.
func (s *Server) handleDocumentEmbedding(w http.ResponseWriter, r *http.Request) {
	p := r.URL.Query().Get("path")
	if p == "" {
		writeJSONError(w, "path query parameter is required", http.StatusBadRequest)
		return
	}
	doc, ok := s.engine.DocumentEmbedding(p)
	if !ok {
		writeJSONError(w, "document not indexed", http.StatusNotFound)
		return
	}

	resp := embeddingResponse{Path: doc.Path, Dimension: doc.Dimension(), Chunks: make([]chunkView, len(doc.Chunks))}
	for i, c := range doc.Chunks {
		resp.Chunks[i] = chunkView{
			Index:     i,
			Position:  c.Position,
			IsHeader:  c.IsHeader(),
			Content:   c.Content,
			Embedding: c.Embedding,
		}
	}
	writeJSON(w, r, http.StatusOK, resp)
}

// handleReindex handles POST /api/reindex. The body is optional.
func (s *Server) handleReindex(w http.ResponseWriter, r *http.Request) {
	var req reindexRequest
	if r.ContentLength != 0 {
		if !decodeJSON(w, r, &req) {
			return
		}
	}

	log := logging.FromContext(r.Context())
	res, err := s.engine.Sync(r.Context(), req.Full, func(msg string) {
		log.Debug("reindex", slog.String("progress", msg))
	})
	if err != nil && res.Indexed+res.Unchanged+res.Removed+res.Failed == 0 {
		s.writeEngineError(w, r, "reindex", err)
		return
	}
	if err != nil {
		log.Warn("reindex completed with failures", slog.Int("failed", res.Failed), slog.Any("error", err))
	}
	if err := s.engine.Save(r.Context()); err != nil {
		log.Warn("index save failed", slog.Any("error", err))
	}
	writeJSON(w, r, http.StatusOK, res)
}

// handleHealth handles GET /api/health for liveness checks.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

// writeEngineError maps an engine error to an HTTP status and logs it.
func (s *Server) writeEngineError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	case errors.Is(err, rag.ErrConfiguration):
		status = http.StatusServiceUnavailable
	case errors.Is(err, rag.ErrEmbeddingUnavailable), errors.Is(err, rag.ErrProviderResponse):
		status = http.StatusBadGateway
	case errors.Is(err, rag.ErrDimensionMismatch), errors.Is(err, rag.ErrParseFailure):
		status = http.StatusUnprocessableEntity
	}
	logging.FromContext(r.Context()).Error(op+" failed", slog.Int("status", status), slog.Any("error", err))
	writeJSONError(w, err.Error(), status)
}

// decodeJSON decodes the request body into v, writing a 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

// writeJSON encodes v with the given status code.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.FromContext(r.Context()).Error("response encode error", slog.Any("error", err))
	}
}

// writeJSONError writes a JSON-formatted error response with the given status code.
func writeJSONError(w http.ResponseWriter, msg string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// sseWriter wraps an http.ResponseWriter to emit Server-Sent Event data frames.
type sseWriter struct {
	// w is the underlying response writer.
	w http.ResponseWriter

	// flusher flushes buffered data to the client after each write.
	flusher http.Flusher
}

// Write formats p as one or more SSE data lines and flushes to the client.
// Each newline in p is prefixed with "data: " so multi-line chunks never
// break the SSE frame boundary.
func (s *sseWriter) Write(p []byte) (n int, err error) {
	chunk := strings.TrimRight(string(bytes.Clone(p)), "\n")
	lines := strings.Split(chunk, "\n")
	var buf strings.Builder
	for _, line := range lines {
		buf.WriteString("data: ")
		buf.WriteString(line)
		buf.WriteString("\n")
	}
	buf.WriteString("\n")
	if _, err = fmt.Fprint(s.w, buf.String()); err != nil {
		return 0, err
	}
	s.flusher.Flush()
	return len(p), nil
}
