package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/noteai-go/internal/agent"
	"github.com/54b3r/noteai-go/internal/ingestion"
	"github.com/54b3r/noteai-go/internal/rag"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// ChatTimeout bounds a single /api/chat stream. Defaults to 5 minutes.
	ChatTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [logging.New] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency checks run by GET /api/ready.
	// The index readiness check is always appended.
	Pingers []Pinger
	// RateLimit is the token refill rate per client on /api/* routes, in
	// tokens per second. Searches cost one token, chat and reindex more.
	// Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the bucket size per client. Defaults to 20 if zero.
	RateBurst int
	// APIKey is required on all protected /api/* routes, as a Bearer token or
	// X-API-Key header. If empty, authentication is disabled.
	APIKey string
	// MetricsRegistry receives the server's metrics. Defaults to
	// prometheus.DefaultRegisterer.
	MetricsRegistry prometheus.Registerer
	// MetricsGatherer serves GET /metrics. Defaults to
	// prometheus.DefaultGatherer.
	MetricsGatherer prometheus.Gatherer
}

// Engine is the retrieval surface the handlers call.
// *engine.Engine satisfies it; tests inject a fake.
type Engine interface {
	// Search returns the notes best matching req, one per note.
	Search(ctx context.Context, req rag.SearchRequest) ([]rag.NoteWithContent, error)
	// Context assembles search hits into a bounded context string.
	Context(ctx context.Context, req rag.SearchRequest) (string, error)
	// BuildAgenticContext assembles context through the refinement loop.
	BuildAgenticContext(ctx context.Context, req agent.Request) (string, error)
	// Ask streams an answer for req to w.
	Ask(ctx context.Context, req agent.Request, w io.Writer) error
	// ResetConversation forgets a chat session.
	ResetConversation(ctx context.Context, session string) error
	// IndexedPaths lists the indexed notes.
	IndexedPaths() []string
	// DocumentEmbedding returns the stored chunks of a note.
	DocumentEmbedding(path string) (*rag.DocumentEmbedding, bool)
	// AddDocument indexes content under path.
	AddDocument(ctx context.Context, path, content string) error
	// RemoveDocument drops path from the index.
	RemoveDocument(path string)
	// Touch schedules paths for reindexing from the document store.
	Touch(paths ...string)
	// Sync reconciles the index with the document store.
	Sync(ctx context.Context, full bool, progress func(string)) (ingestion.Result, error)
	// Save persists the index.
	Save(ctx context.Context) error
	// Len returns the number of indexed notes.
	Len() int
	// Ready reports whether initial indexing has completed.
	Ready() bool
}

// Server is the HTTP server that exposes the retrieval engine.
type Server struct {
	// engine serves every retrieval request.
	engine Engine
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency checks for GET /api/ready.
	pingers []Pinger
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
	// metrics holds the Prometheus collectors owned by this server.
	metrics *serverMetrics
}

// searchResponse is the JSON response for POST /api/search.
type searchResponse struct {
	// Results are the matching notes, best first.
	Results []rag.NoteWithContent `json:"results"`
}

// contextRequest is the JSON body for POST /api/context.
type contextRequest struct {
	// Query is the user's question.
	Query string `json:"query"`
	// ActivePath is the note the user has open, if any.
	ActivePath string `json:"activePath,omitempty"`
	// Session keys conversation memory for agentic context.
	Session string `json:"session,omitempty"`
	// Agentic selects the refinement loop. Defaults to true.
	Agentic *bool `json:"agentic,omitempty"`
}

// contextResponse is the JSON response for POST /api/context.
type contextResponse struct {
	// Context is the assembled note context.
	Context string `json:"context"`
}

// chatRequest is the JSON body for POST /api/chat.
type chatRequest struct {
	// Message is the user's question.
	Message string `json:"message"`
	// Session keys conversation memory and history.
	Session string `json:"session,omitempty"`
	// ActivePath is the note the user has open, if any.
	ActivePath string `json:"activePath,omitempty"`
}

// resetRequest is the JSON body for POST /api/chat/reset.
type resetRequest struct {
	// Session is the conversation to forget.
	Session string `json:"session"`
}

// documentsResponse is the JSON response for GET /api/documents.
type documentsResponse struct {
	// Count is the number of indexed notes.
	Count int `json:"count"`
	// Paths lists the indexed notes in lexical order.
	Paths []string `json:"paths"`
}

// documentRequest is the JSON body for POST /api/documents.
type documentRequest struct {
	// Path identifies the note.
	Path string `json:"path"`
	// Content is the note text. When empty the note is re-read from the
	// notes directory on the next reindex instead.
	Content string `json:"content,omitempty"`
}

// chunkView is one chunk in the GET /api/documents/embedding response.
type chunkView struct {
	// Index is the chunk's position in the document.
	Index int `json:"index"`
	// Position is the chunk's byte offset in the note.
	Position int `json:"position"`
	// IsHeader is true when the chunk opens with a markdown header.
	IsHeader bool `json:"isHeader"`
	// Content is the chunk text.
	Content string `json:"content"`
	// Embedding is the chunk vector.
	Embedding []float32 `json:"embedding"`
}

// embeddingResponse is the JSON response for GET /api/documents/embedding.
type embeddingResponse struct {
	// Path identifies the note.
	Path string `json:"path"`
	// Dimension is the embedding length.
	Dimension int `json:"dimension"`
	// Chunks are the note's chunks in order.
	Chunks []chunkView `json:"chunks"`
}

// reindexRequest is the optional JSON body for POST /api/reindex.
type reindexRequest struct {
	// Full re-embeds every note instead of only modified ones.
	Full bool `json:"full"`
}
