package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/noteai-go/internal/agent"
	"github.com/54b3r/noteai-go/internal/logging"
	"github.com/54b3r/noteai-go/internal/rag"
)

// histogram returns the sample count and sum of the unlabelled histogram
// name, or zeros when it has not been observed.
func histogram(t *testing.T, reg *prometheus.Registry, name string) (uint64, float64) {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() != name || len(mf.GetMetric()) == 0 {
			continue
		}
		h := mf.GetMetric()[0].GetHistogram()
		return h.GetSampleCount(), h.GetSampleSum()
	}
	return 0, 0
}

// gaugeValue returns the value of the unlabelled gauge name.
func gaugeValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() == name && len(mf.GetMetric()) > 0 {
			return mf.GetMetric()[0].GetGauge().GetValue()
		}
	}
	t.Fatalf("%s not gathered", name)
	return 0
}

func Test_Metrics_EndpointServesNoteaiFamilies(t *testing.T) {
	t.Parallel()

	eng := &fakeEngine{ready: true, docs: map[string]*rag.DocumentEmbedding{
		"trip.md":    {Path: "trip.md"},
		"budget.md":  {Path: "budget.md"},
		"recipes.md": {Path: "recipes.md"},
	}}
	h, _ := newEngineTestServer(t, eng, "")
	do(h, http.MethodGet, "/api/documents", "")

	w := do(h, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("/metrics = %d, want 200", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("Content-Type = %q, want text/plain", ct)
	}
	body := w.Body.String()
	for _, want := range []string{
		"noteai_index_documents 3",
		`noteai_http_requests_total{code="200",handler="documents",method="GET"} 1`,
		"noteai_chat_active_streams 0",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("/metrics missing %q", want)
		}
	}
}

func Test_Metrics_SearchObservesResultCount(t *testing.T) {
	t.Parallel()

	eng := &fakeEngine{ready: true, results: []rag.NoteWithContent{
		{Path: "trip.md", Title: "trip", Content: "# Day one", ChunkIndex: 0},
		{Path: "trip.md", Title: "trip", Content: "# Day one", ChunkIndex: 2},
		{Path: "budget.md", Title: "budget", Content: "Flights", ChunkIndex: 0},
	}}
	h, reg := newEngineTestServer(t, eng, "")

	if w := do(h, http.MethodPost, "/api/search", `{"query":"day one flights"}`); w.Code != http.StatusOK {
		t.Fatalf("search = %d: %s", w.Code, w.Body.String())
	}
	// A rejected query is neither timed nor counted.
	do(h, http.MethodPost, "/api/search", `{"query":"  "}`)

	if n, sum := histogram(t, reg, "noteai_search_results"); n != 1 || sum != 3 {
		t.Errorf("search_results count=%d sum=%v, want 1 and 3", n, sum)
	}
	if n, _ := histogram(t, reg, "noteai_search_duration_seconds"); n != 1 {
		t.Errorf("search_duration_seconds count = %d, want 1", n)
	}
	if got := counterValue(t, reg, "noteai_http_requests_total", "code", "400"); got != 1 {
		t.Errorf("http_requests_total{code=400} = %v, want 1", got)
	}
}

func Test_Metrics_ChatOutcomes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		err     error
		outcome string
	}{
		{name: "answered", outcome: "ok"},
		{name: "deadline", err: fmt.Errorf("ask: %w", context.DeadlineExceeded), outcome: "timeout"},
		{name: "model failure", err: rag.Errorf(rag.KindProviderResponse, "ask", "empty completion"), outcome: "error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h, reg := newEngineTestServer(t, &fakeEngine{ready: true, answer: "Pack the charger.", err: tt.err}, "")
			do(h, http.MethodPost, "/api/chat", `{"message":"what should I pack?"}`)

			if got := counterValue(t, reg, "noteai_chat_requests_total", "outcome", tt.outcome); got != 1 {
				t.Errorf("chat_requests_total{outcome=%s} = %v, want 1", tt.outcome, got)
			}
			if got := gaugeValue(t, reg, "noteai_chat_active_streams"); got != 0 {
				t.Errorf("active_streams after the stream closed = %v, want 0", got)
			}
		})
	}
}

// blockingEngine holds Ask open until release is closed.
type blockingEngine struct {
	*fakeEngine
	started chan struct{}
	release chan struct{}
}

func (b *blockingEngine) Ask(ctx context.Context, req agent.Request, w io.Writer) error {
	close(b.started)
	select {
	case <-b.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	return b.fakeEngine.Ask(ctx, req, w)
}

func Test_Metrics_ActiveStreamsGauge(t *testing.T) {
	t.Parallel()

	eng := &blockingEngine{
		fakeEngine: &fakeEngine{ready: true, answer: "Passport is in the drawer."},
		started:    make(chan struct{}),
		release:    make(chan struct{}),
	}
	reg := prometheus.NewRegistry()
	s, err := New(eng, &Config{
		Logger:          logging.Discard(),
		RateLimit:       1000,
		RateBurst:       1000,
		MetricsRegistry: reg,
		MetricsGatherer: reg,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(s.stopRL)
	h := s.Handler()

	done := make(chan struct{})
	go func() {
		defer close(done)
		do(h, http.MethodPost, "/api/chat", `{"message":"where is my passport?"}`)
	}()

	<-eng.started
	if got := gaugeValue(t, reg, "noteai_chat_active_streams"); got != 1 {
		t.Errorf("active_streams during chat = %v, want 1", got)
	}
	close(eng.release)
	<-done
	if got := gaugeValue(t, reg, "noteai_chat_active_streams"); got != 0 {
		t.Errorf("active_streams after chat = %v, want 0", got)
	}
	if n, _ := histogram(t, reg, "noteai_chat_duration_seconds"); n != 1 {
		t.Errorf("chat_duration_seconds count = %d, want 1", n)
	}
}
