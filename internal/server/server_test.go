package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/noteai-go/internal/agent"
	"github.com/54b3r/noteai-go/internal/ingestion"
	"github.com/54b3r/noteai-go/internal/logging"
	"github.com/54b3r/noteai-go/internal/rag"
)

// ---------------------------------------------------------------------------
// Fake engine for handler tests
// ---------------------------------------------------------------------------

// fakeEngine implements Engine in memory and records the calls it receives.
type fakeEngine struct {
	mu sync.Mutex

	// results is returned by Search.
	results []rag.NoteWithContent
	// ctxText is returned by Context and BuildAgenticContext.
	ctxText string
	// answer is written to the writer on each Ask call.
	answer string
	// err is returned by every fallible method when set.
	err error
	// syncResult is returned by Sync.
	syncResult ingestion.Result

	docs      map[string]*rag.DocumentEmbedding
	ready     bool
	agentic   int
	plain     int
	touched   []string
	removed   []string
	saved     int
	resets    []string
	lastAsk   agent.Request
	lastFull  bool
	lastQuery rag.SearchRequest
}

func (f *fakeEngine) Search(_ context.Context, req rag.SearchRequest) ([]rag.NoteWithContent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastQuery = req
	return f.results, f.err
}

func (f *fakeEngine) Context(context.Context, rag.SearchRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.plain++
	return f.ctxText, f.err
}

func (f *fakeEngine) BuildAgenticContext(context.Context, agent.Request) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.agentic++
	return "agentic: " + f.ctxText, f.err
}

func (f *fakeEngine) Ask(_ context.Context, req agent.Request, w io.Writer) error {
	f.mu.Lock()
	f.lastAsk = req
	f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	_, _ = fmt.Fprint(w, f.answer)
	return nil
}

func (f *fakeEngine) ResetConversation(_ context.Context, session string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets = append(f.resets, session)
	return f.err
}

func (f *fakeEngine) IndexedPaths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	paths := make([]string, 0, len(f.docs))
	for p := range f.docs {
		paths = append(paths, p)
	}
	return paths
}

func (f *fakeEngine) DocumentEmbedding(path string) (*rag.DocumentEmbedding, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[path]
	return d, ok
}

func (f *fakeEngine) AddDocument(_ context.Context, path, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if f.docs == nil {
		f.docs = make(map[string]*rag.DocumentEmbedding)
	}
	f.docs[path] = &rag.DocumentEmbedding{Path: path, Chunks: []rag.Chunk{{Content: content, Embedding: []float32{1, 0}}}}
	return nil
}

func (f *fakeEngine) RemoveDocument(path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.docs, path)
	f.removed = append(f.removed, path)
}

func (f *fakeEngine) Touch(paths ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touched = append(f.touched, paths...)
}

func (f *fakeEngine) Sync(_ context.Context, full bool, progress func(string)) (ingestion.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastFull = full
	if progress != nil {
		progress("indexing a.md (1/1)")
	}
	return f.syncResult, f.err
}

func (f *fakeEngine) Save(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved++
	return nil
}

func (f *fakeEngine) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.docs)
}

func (f *fakeEngine) Ready() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ready
}

// newTestServer builds a minimal *Server for handler tests that call the
// handler methods directly.
func newTestServer() *Server {
	reg := prometheus.NewRegistry()
	return &Server{
		engine:  &fakeEngine{},
		cfg:     &Config{},
		log:     slog.Default(),
		metrics: newServerMetrics(reg),
	}
}

// newEngineTestServer builds a Server through New so requests travel the
// full middleware chain and routing table.
func newEngineTestServer(t *testing.T, eng *fakeEngine, apiKey string) (http.Handler, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	s, err := New(eng, &Config{
		Logger:          logging.Discard(),
		APIKey:          apiKey,
		RateLimit:       1000,
		RateBurst:       1000,
		MetricsRegistry: reg,
		MetricsGatherer: reg,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(s.stopRL)
	return s.Handler(), reg
}

func do(h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestNew_RequiresEngine(t *testing.T) {
	t.Parallel()

	if _, err := New(nil, nil); err == nil {
		t.Error("New(nil) succeeded, want error")
	}
}

// ---------------------------------------------------------------------------
// POST /api/chat
// ---------------------------------------------------------------------------

func TestHandleChat_MissingMessage(t *testing.T) {
	t.Parallel()

	s := newTestServer()
	w := httptest.NewRecorder()
	s.handleChat(w, httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"session":"a"}`)))

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestHandleChat_InvalidJSON(t *testing.T) {
	t.Parallel()

	s := newTestServer()
	w := httptest.NewRecorder()
	s.handleChat(w, httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`not-json`)))

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

// TestHandleChat_Success verifies that a valid request produces an SSE stream
// with the answer as data frames followed by a "done" event.
func TestHandleChat_Success(t *testing.T) {
	t.Parallel()

	eng := &fakeEngine{answer: "You need eggs\nand milk."}
	h, _ := newEngineTestServer(t, eng, "")

	w := do(h, http.MethodPost, "/api/chat", `{"message":"what groceries?","session":"s1","activePath":"groceries.md"}`)

	body := w.Body.String()
	if !strings.Contains(body, "data: You need eggs\ndata: and milk.\n\n") {
		t.Errorf("expected multi-line data frame, got: %q", body)
	}
	if !strings.Contains(body, "event: done\ndata: [DONE]") {
		t.Errorf("expected SSE done event in body, got: %s", body)
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}
	if eng.lastAsk.Session != "s1" || eng.lastAsk.ActivePath != "groceries.md" || eng.lastAsk.Query != "what groceries?" {
		t.Errorf("Ask request = %+v", eng.lastAsk)
	}
}

// TestHandleChat_EngineError verifies that failures are delivered in-band as
// an SSE "error" event and counted by outcome.
func TestHandleChat_EngineError(t *testing.T) {
	t.Parallel()

	eng := &fakeEngine{err: rag.Errorf(rag.KindConfiguration, "engine: ask", "no chat model configured")}
	h, reg := newEngineTestServer(t, eng, "")

	w := do(h, http.MethodPost, "/api/chat", `{"message":"hello"}`)

	body := w.Body.String()
	if !strings.Contains(body, "event: error") {
		t.Errorf("expected error event in body, got: %s", body)
	}
	if !strings.Contains(body, "no chat model configured") {
		t.Errorf("expected error message in body, got: %s", body)
	}
	if got := counterValue(t, reg, "noteai_chat_requests_total", "outcome", "error"); got != 1 {
		t.Errorf("noteai_chat_requests_total{outcome=error} = %v, want 1", got)
	}
}

func TestHandleChatReset(t *testing.T) {
	t.Parallel()

	eng := &fakeEngine{}
	h, _ := newEngineTestServer(t, eng, "")

	w := do(h, http.MethodPost, "/api/chat/reset", `{"session":"s1"}`)
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	if len(eng.resets) != 1 || eng.resets[0] != "s1" {
		t.Errorf("resets = %v, want [s1]", eng.resets)
	}
}

// ---------------------------------------------------------------------------
// POST /api/search and /api/context
// ---------------------------------------------------------------------------

func TestHandleSearch(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		eng        *fakeEngine
		body       string
		wantStatus int
		wantCount  int
	}{
		{
			name: "results",
			eng: &fakeEngine{results: []rag.NoteWithContent{
				{Path: "a.md", Title: "a", Content: "alpha", Relevance: 0.9},
				{Path: "b.md", Title: "b", Content: "beta", Relevance: 0.5},
			}},
			body:       `{"query":"alpha","limit":5}`,
			wantStatus: http.StatusOK,
			wantCount:  2,
		},
		{
			name:       "no results encodes empty array",
			eng:        &fakeEngine{},
			body:       `{"query":"nothing"}`,
			wantStatus: http.StatusOK,
		},
		{
			name:       "blank query",
			eng:        &fakeEngine{},
			body:       `{"query":"   "}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "invalid json",
			eng:        &fakeEngine{},
			body:       `{`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "dimension mismatch",
			eng:        &fakeEngine{err: rag.NewError(rag.KindDimensionMismatch, "vector store: search", nil)},
			body:       `{"query":"alpha"}`,
			wantStatus: http.StatusUnprocessableEntity,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			h, _ := newEngineTestServer(t, tc.eng, "")

			w := do(h, http.MethodPost, "/api/search", tc.body)
			if w.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d, body: %s", w.Code, tc.wantStatus, w.Body.String())
			}
			if tc.wantStatus != http.StatusOK {
				return
			}
			var resp searchResponse
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Results == nil {
				t.Error("results decoded as null, want array")
			}
			if len(resp.Results) != tc.wantCount {
				t.Errorf("len(results) = %d, want %d", len(resp.Results), tc.wantCount)
			}
		})
	}
}

func TestHandleSearch_PassesRequestThrough(t *testing.T) {
	t.Parallel()

	eng := &fakeEngine{}
	h, reg := newEngineTestServer(t, eng, "")

	do(h, http.MethodPost, "/api/search", `{"query":"japan trip","limit":3,"activePath":"travel/japan.md"}`)

	want := rag.SearchRequest{Query: "japan trip", Limit: 3, ActivePath: "travel/japan.md"}
	if eng.lastQuery != want {
		t.Errorf("Search request = %+v, want %+v", eng.lastQuery, want)
	}
	if got := counterValue(t, reg, "noteai_http_requests_total", labelHandler, "search"); got != 1 {
		t.Errorf("noteai_http_requests_total{handler=search} = %v, want 1", got)
	}
}

func TestHandleContext_AgenticSelection(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		body        string
		wantPrefix  string
		wantAgentic int
	}{
		{name: "default agentic", body: `{"query":"q"}`, wantPrefix: "agentic: ", wantAgentic: 1},
		{name: "explicit agentic", body: `{"query":"q","agentic":true}`, wantPrefix: "agentic: ", wantAgentic: 1},
		{name: "opt out", body: `{"query":"q","agentic":false}`, wantPrefix: "ctx"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			eng := &fakeEngine{ctxText: "ctx"}
			h, _ := newEngineTestServer(t, eng, "")

			w := do(h, http.MethodPost, "/api/context", tc.body)
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, body: %s", w.Code, w.Body.String())
			}
			var resp contextResponse
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if !strings.HasPrefix(resp.Context, tc.wantPrefix) {
				t.Errorf("context = %q, want prefix %q", resp.Context, tc.wantPrefix)
			}
			if eng.agentic != tc.wantAgentic {
				t.Errorf("agentic calls = %d, want %d", eng.agentic, tc.wantAgentic)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// /api/documents and /api/reindex
// ---------------------------------------------------------------------------

func TestHandleDocuments_Lifecycle(t *testing.T) {
	t.Parallel()

	eng := &fakeEngine{}
	h, _ := newEngineTestServer(t, eng, "")

	if w := do(h, http.MethodPost, "/api/documents", `{"path":"a.md","content":"# Alpha\nbody"}`); w.Code != http.StatusNoContent {
		t.Fatalf("upsert status = %d, body: %s", w.Code, w.Body.String())
	}

	w := do(h, http.MethodGet, "/api/documents", "")
	var list documentsResponse
	if err := json.NewDecoder(w.Body).Decode(&list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if list.Count != 1 || list.Paths[0] != "a.md" {
		t.Errorf("documents = %+v, want [a.md]", list)
	}

	w = do(h, http.MethodGet, "/api/documents/embedding?path=a.md", "")
	var emb embeddingResponse
	if err := json.NewDecoder(w.Body).Decode(&emb); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if emb.Dimension != 2 || len(emb.Chunks) != 1 || !emb.Chunks[0].IsHeader {
		t.Errorf("embedding = %+v", emb)
	}

	if w := do(h, http.MethodGet, "/api/documents/embedding?path=missing.md", ""); w.Code != http.StatusNotFound {
		t.Errorf("missing embedding status = %d, want 404", w.Code)
	}

	if w := do(h, http.MethodDelete, "/api/documents?path=a.md", ""); w.Code != http.StatusNoContent {
		t.Errorf("delete status = %d, want 204", w.Code)
	}
	if eng.Len() != 0 {
		t.Errorf("Len() = %d after delete, want 0", eng.Len())
	}
	if eng.saved != 2 {
		t.Errorf("Save calls = %d, want 2", eng.saved)
	}
}

func TestHandleDocumentUpsert_WithoutContentSchedules(t *testing.T) {
	t.Parallel()

	eng := &fakeEngine{}
	h, _ := newEngineTestServer(t, eng, "")

	w := do(h, http.MethodPost, "/api/documents", `{"path":"edited.md"}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", w.Code)
	}
	if len(eng.touched) != 1 || eng.touched[0] != "edited.md" {
		t.Errorf("touched = %v, want [edited.md]", eng.touched)
	}
	if w := do(h, http.MethodPost, "/api/documents", `{"content":"x"}`); w.Code != http.StatusBadRequest {
		t.Errorf("missing path status = %d, want 400", w.Code)
	}
}

func TestHandleReindex(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		eng        *fakeEngine
		body       string
		wantStatus int
		wantFull   bool
	}{
		{
			name:       "incremental without body",
			eng:        &fakeEngine{syncResult: ingestion.Result{Indexed: 1}},
			wantStatus: http.StatusOK,
		},
		{
			name:       "full",
			eng:        &fakeEngine{syncResult: ingestion.Result{Indexed: 3}},
			body:       `{"full":true}`,
			wantStatus: http.StatusOK,
			wantFull:   true,
		},
		{
			name:       "partial failure still reports counts",
			eng:        &fakeEngine{syncResult: ingestion.Result{Indexed: 1, Failed: 1}, err: errors.New("b.md: permission denied")},
			wantStatus: http.StatusOK,
		},
		{
			name:       "embedding backend down",
			eng:        &fakeEngine{err: rag.NewError(rag.KindEmbeddingUnavailable, "embedding store: add", nil)},
			wantStatus: http.StatusBadGateway,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			h, _ := newEngineTestServer(t, tc.eng, "")

			w := do(h, http.MethodPost, "/api/reindex", tc.body)
			if w.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d, body: %s", w.Code, tc.wantStatus, w.Body.String())
			}
			if tc.eng.lastFull != tc.wantFull {
				t.Errorf("full = %v, want %v", tc.eng.lastFull, tc.wantFull)
			}
			if tc.wantStatus != http.StatusOK {
				return
			}
			var got ingestion.Result
			if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if got != tc.eng.syncResult {
				t.Errorf("result = %+v, want %+v", got, tc.eng.syncResult)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Routing, auth and readiness through New
// ---------------------------------------------------------------------------

func TestServer_AuthProtectsAPIButNotHealth(t *testing.T) {
	t.Parallel()

	h, _ := newEngineTestServer(t, &fakeEngine{ready: true}, "secret")

	if w := do(h, http.MethodGet, "/api/documents", ""); w.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated /api/documents = %d, want 401", w.Code)
	}
	if w := do(h, http.MethodGet, "/api/health", ""); w.Code != http.StatusOK {
		t.Errorf("/api/health = %d, want 200", w.Code)
	}
	if w := do(h, http.MethodGet, "/api/ready", ""); w.Code != http.StatusOK {
		t.Errorf("/api/ready = %d, want 200", w.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/documents", nil)
	req.Header.Set("Authorization", "Bearer secret")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("authenticated /api/documents = %d, want 200", w.Code)
	}
}

func TestServer_ReadyWaitsForIndex(t *testing.T) {
	t.Parallel()

	h, _ := newEngineTestServer(t, &fakeEngine{}, "")

	w := do(h, http.MethodGet, "/api/ready", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("/api/ready = %d, want 503 while indexing", w.Code)
	}
	var resp readyResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Checks) != 1 || resp.Checks[0].Name != "index" {
		t.Errorf("checks = %+v, want single index check", resp.Checks)
	}
}

func TestServer_MetricsEndpoint(t *testing.T) {
	t.Parallel()

	eng := &fakeEngine{}
	_ = eng.AddDocument(context.Background(), "a.md", "alpha")
	h, _ := newEngineTestServer(t, eng, "")

	w := do(h, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("/metrics = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "noteai_index_documents 1") {
		t.Errorf("index gauge missing from /metrics:\n%s", w.Body.String())
	}
}

// counterValue returns the value of the counter series name{label=value}.
func counterValue(t *testing.T, reg *prometheus.Registry, name, label, value string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	var total float64
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == label && lp.GetValue() == value {
					total += m.GetCounter().GetValue()
				}
			}
		}
	}
	return total
}
