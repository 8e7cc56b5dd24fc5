// Package engine assembles the retrieval core into one owned object. An
// Engine holds the embedding store, the similarity index, the context
// assembler, the optional agentic refiner and the debounced reindex
// scheduler, and exposes the operations the CLI and HTTP server call.
//
// Construct one Engine per process with New and call Initialize before
// serving queries. Initialize is single-flight: concurrent callers share
// one load-and-sync run, and a successful run is never repeated.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cloudwego/eino/components/model"
	"golang.org/x/sync/singleflight"

	"github.com/54b3r/noteai-go/internal/agent"
	"github.com/54b3r/noteai-go/internal/assembler"
	"github.com/54b3r/noteai-go/internal/budget"
	"github.com/54b3r/noteai-go/internal/ingestion"
	"github.com/54b3r/noteai-go/internal/logging"
	"github.com/54b3r/noteai-go/internal/rag"
	"github.com/54b3r/noteai-go/internal/scheduler"
	"github.com/54b3r/noteai-go/internal/store"
	"github.com/54b3r/noteai-go/internal/textmatch"
)

// Config holds the collaborators and tunables of an Engine. Tunables left at
// zero take the defaults from ConfigFromEnv.
type Config struct {
	// Documents is the note source. Required.
	Documents rag.DocumentStore

	// Embedder produces chunk and query vectors. When nil the engine still
	// serves a restored index to vector searches, but text queries and
	// indexing fail with rag.ErrEmbeddingUnavailable.
	Embedder rag.Embedder

	// Persistence loads and saves index snapshots. Nil keeps the index in
	// memory only.
	Persistence rag.Persistence

	// ChatModel enables agentic context building and Ask. Optional.
	ChatModel model.BaseChatModel

	// History persists chat turns for Ask. Optional.
	History store.ConversationStore

	// Weights overrides the ranking boosts. Nil uses rag.DefaultWeights.
	Weights *rag.ScoreWeights

	// Logger is used by background work that has no request context.
	Logger *slog.Logger

	// ChunkSize is the chunker size limit in characters.
	ChunkSize int
	// ChunkOverlap is the chunker overlap in characters.
	ChunkOverlap int
	// Dimensions is the expected embedding length. Zero adopts the first seen.
	Dimensions int
	// EmbedConcurrency bounds parallel embedding calls per document.
	EmbedConcurrency int
	// Threshold is the minimum combined score of a search hit.
	Threshold float64
	// SearchLimit caps chunks returned by a search.
	SearchLimit int
	// FollowUpLimit caps chunks returned by each agentic follow-up search.
	FollowUpLimit int
	// MaxContextTokens bounds assembled context.
	MaxContextTokens int
	// Agentic enables the refinement loop when a ChatModel is configured.
	Agentic bool
	// ReindexDelay is the quiet period before touched notes are reindexed.
	ReindexDelay time.Duration
}

// Engine is the retrieval engine. Safe for concurrent use.
type Engine struct {
	docs     rag.DocumentStore
	persist  rag.Persistence
	index    *rag.VectorStore
	store    *rag.EmbeddingStore
	asm      *assembler.Assembler
	pipeline *ingestion.Pipeline
	refiner  *agent.Refiner
	sched    *scheduler.Debouncer

	threshold   float64
	searchLimit int
	budgetChars int
	agentic     bool

	// initGroup collapses concurrent Initialize calls into one run.
	initGroup singleflight.Group
	// ready is set once Initialize has succeeded.
	ready atomic.Bool
	// dirty is set when the index differs from the last saved snapshot.
	dirty atomic.Bool

	// mu guards syncedAt.
	mu sync.Mutex
	// syncedAt is the timestamp of the last loaded or saved snapshot.
	syncedAt time.Time
}

// New constructs an Engine from cfg. It performs no I/O; call Initialize to
// load the snapshot and sync with the document store.
func New(cfg *Config) (*Engine, error) {
	if cfg == nil || cfg.Documents == nil {
		return nil, fmt.Errorf("engine: Documents must not be nil")
	}
	d := ConfigFromEnv()
	withDefaults(cfg, &d)

	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	weights := rag.DefaultWeights()
	if cfg.Weights != nil {
		weights = *cfg.Weights
	}

	index := rag.NewVectorStore(cfg.Documents, weights)
	embStore, err := rag.NewEmbeddingStore(&rag.EmbeddingStoreConfig{
		Embedder:     cfg.Embedder,
		Index:        index,
		ChunkSize:    cfg.ChunkSize,
		ChunkOverlap: cfg.ChunkOverlap,
		Dimensions:   cfg.Dimensions,
		Concurrency:  cfg.EmbedConcurrency,
	})
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	pipeline, err := ingestion.NewPipeline(cfg.Documents, embStore)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	e := &Engine{
		docs:        cfg.Documents,
		persist:     cfg.Persistence,
		index:       index,
		store:       embStore,
		asm:         assembler.New(embStore),
		pipeline:    pipeline,
		threshold:   cfg.Threshold,
		searchLimit: cfg.SearchLimit,
		budgetChars: budget.CharsForTokens(cfg.MaxContextTokens),
		agentic:     cfg.Agentic,
	}

	if cfg.ChatModel != nil {
		e.refiner, err = agent.New(&agent.Config{
			ChatModel:        cfg.ChatModel,
			Retriever:        e,
			SearchLimit:      cfg.SearchLimit,
			FollowUpLimit:    cfg.FollowUpLimit,
			MaxContextTokens: cfg.MaxContextTokens,
			History:          cfg.History,
		})
		if err != nil {
			return nil, fmt.Errorf("engine: %w", err)
		}
	}

	e.sched = scheduler.New(cfg.ReindexDelay, e.reindexBatch, log)
	return e, nil
}

// Initialize loads the persisted snapshot, publishes it to the index, then
// indexes notes modified since the snapshot and drops notes that no longer
// exist. Concurrent callers share one run; after success it is a no-op.
// A failed run may be retried.
func (e *Engine) Initialize(ctx context.Context) error {
	if e.ready.Load() {
		return nil
	}
	_, err, shared := e.initGroup.Do("init", func() (any, error) {
		if e.ready.Load() {
			return nil, nil
		}
		if err := e.initialize(ctx); err != nil {
			return nil, err
		}
		e.ready.Store(true)
		return nil, nil
	})
	if shared {
		logging.FromContext(ctx).Debug("engine: joined in-flight initialisation")
	}
	return err
}

// Ready reports whether Initialize has completed successfully.
func (e *Engine) Ready() bool {
	return e.ready.Load()
}

func (e *Engine) initialize(ctx context.Context) error {
	log := logging.FromContext(ctx)
	start := time.Now()

	if err := e.Restore(ctx); err != nil {
		return err
	}

	if !e.store.Available() {
		log.Warn("engine: no embedding provider configured, skipping sync")
		return nil
	}

	syncStart := time.Now()
	res, err := e.pipeline.Sync(ctx, e.syncedAtTime(), nil)
	if res.Indexed > 0 || res.Removed > 0 {
		e.dirty.Store(true)
	}
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, rag.ErrConfiguration) || errors.Is(err, rag.ErrEmbeddingUnavailable) {
			return fmt.Errorf("engine: initial sync: %w", err)
		}
		log.Warn("engine: initial sync finished with errors", slog.Any("error", err))
	}
	if err := e.saveAt(ctx, syncStart); err != nil {
		log.Warn("engine: failed to save snapshot after sync", slog.Any("error", err))
	}

	log.Info("engine: initialised",
		slog.Int("documents", e.store.Len()),
		slog.Duration("elapsed", time.Since(start)),
	)
	return nil
}

// Restore loads the persisted snapshot into the index without syncing it
// against the document store. It is a no-op without persistence.
func (e *Engine) Restore(ctx context.Context) error {
	if e.persist == nil {
		return nil
	}
	snap, err := e.persist.Load(ctx)
	if err != nil {
		return fmt.Errorf("engine: load snapshot: %w", err)
	}
	e.store.Restore(snap)
	e.setSyncedAt(snap.UpdatedAt)
	logging.FromContext(ctx).Info("engine: snapshot restored",
		slog.Int("documents", len(snap.Documents)),
		slog.Time("updated_at", snap.UpdatedAt),
	)
	return nil
}

// AddDocument indexes content under path, replacing any previous version.
// The change is persisted by the next Save, Flush or Close.
func (e *Engine) AddDocument(ctx context.Context, path, content string) error {
	if err := e.store.AddDocument(ctx, path, content); err != nil {
		return fmt.Errorf("engine: add %s: %w", path, err)
	}
	e.dirty.Store(true)
	return nil
}

// RemoveDocument drops path from the index. Unknown paths are a no-op.
func (e *Engine) RemoveDocument(path string) {
	e.store.RemoveDocument(path)
	e.dirty.Store(true)
}

// Clear drops every document from the index.
func (e *Engine) Clear() {
	e.store.Clear()
	e.dirty.Store(true)
}

// Sync reconciles the index with the document store and saves the snapshot.
// With full set every note is re-embedded; otherwise only notes modified
// since the last snapshot are.
func (e *Engine) Sync(ctx context.Context, full bool, progress func(string)) (ingestion.Result, error) {
	since := e.syncedAtTime()
	if full {
		since = time.Time{}
	}
	start := time.Now()
	res, err := e.pipeline.Sync(ctx, since, progress)
	if res.Indexed > 0 || res.Removed > 0 {
		e.dirty.Store(true)
	}
	if saveErr := e.saveAt(ctx, start); saveErr != nil && err == nil {
		err = saveErr
	}
	if err != nil {
		return res, fmt.Errorf("engine: sync: %w", err)
	}
	return res, nil
}

// Search embeds req.Query and returns every chunk clearing the threshold,
// joined with its note's current content, best first. A note may appear once
// per qualifying chunk. A failure to embed the query
// degrades to no results; only cancellation is returned as an error.
func (e *Engine) Search(ctx context.Context, req rag.SearchRequest) ([]rag.NoteWithContent, error) {
	log := logging.FromContext(ctx)
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return []rag.NoteWithContent{}, nil
	}
	limit := req.Limit
	if limit <= 0 {
		limit = e.searchLimit
	}

	vec, err := e.store.EmbedQuery(ctx, query)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("engine: search: %w", ctx.Err())
		}
		log.Warn("engine: query embedding failed, returning no results", slog.Any("error", err))
		return []rag.NoteWithContent{}, nil
	}

	hits, err := e.index.Search(ctx, vec, rag.SearchOptions{
		Threshold:  e.threshold,
		Query:      textmatch.Parse(query),
		ActivePath: req.ActivePath,
	})
	if err != nil {
		return nil, fmt.Errorf("engine: search: %w", err)
	}
	return e.withContent(ctx, hits, limit), nil
}

// withContent joins every qualifying chunk with its note's current text and
// stops at limit chunks. Each note is read once and its content shared by all
// of its chunks. Notes that can no longer be read are scheduled for
// reindexing, which removes them.
func (e *Engine) withContent(ctx context.Context, hits []rag.SearchResult, limit int) []rag.NoteWithContent {
	contents := make(map[string]string)
	unreadable := make(map[string]bool)
	out := make([]rag.NoteWithContent, 0, len(hits))
	for _, h := range hits {
		if limit > 0 && len(out) == limit {
			break
		}
		if unreadable[h.Path] {
			continue
		}
		content, ok := contents[h.Path]
		if !ok {
			var err error
			content, err = e.docs.Read(ctx, h.Path)
			if err != nil {
				logging.FromContext(ctx).Debug("engine: dropping unreadable hit",
					slog.String("path", h.Path),
					slog.Any("error", err),
				)
				unreadable[h.Path] = true
				e.Touch(h.Path)
				continue
			}
			contents[h.Path] = content
		}
		out = append(out, rag.NoteWithContent{
			Path:       h.Path,
			Title:      rag.Title(h.Path),
			Content:    content,
			Relevance:  h.Score,
			ChunkIndex: h.ChunkIndex,
		})
	}
	return out
}

// SearchVector ranks every indexed chunk against vec.
func (e *Engine) SearchVector(ctx context.Context, vec []float32, opts rag.SearchOptions) ([]rag.SearchResult, error) {
	res, err := e.index.Search(ctx, vec, opts)
	if err != nil {
		return nil, fmt.Errorf("engine: search vector: %w", err)
	}
	return res, nil
}

// BuildContext assembles notes into at most budget characters.
func (e *Engine) BuildContext(query string, notes []rag.NoteWithContent, budget int) string {
	return e.asm.Build(query, notes, budget)
}

// Excerpt returns the part of note most relevant to query.
func (e *Engine) Excerpt(query string, note rag.NoteWithContent) string {
	return e.asm.Excerpt(textmatch.Parse(query), note)
}

// Context searches for req.Query and assembles the hits within the
// configured token budget.
func (e *Engine) Context(ctx context.Context, req rag.SearchRequest) (string, error) {
	notes, err := e.Search(ctx, req)
	if err != nil {
		return "", err
	}
	return e.BuildContext(req.Query, notes, e.budgetChars), nil
}

// BuildAgenticContext builds context through the refinement loop when a chat
// model is configured and agentic mode is on, and falls back to Context
// otherwise.
func (e *Engine) BuildAgenticContext(ctx context.Context, req agent.Request) (string, error) {
	if e.refiner == nil || !e.agentic {
		return e.Context(ctx, rag.SearchRequest{Query: req.Query, ActivePath: req.ActivePath})
	}
	text := e.refiner.BuildContext(ctx, req)
	if err := ctx.Err(); err != nil {
		return text, fmt.Errorf("engine: agentic context: %w", err)
	}
	return text, nil
}

// Ask answers a question from the notes and streams the answer to w.
func (e *Engine) Ask(ctx context.Context, req agent.Request, w io.Writer) error {
	if e.refiner == nil {
		return rag.Errorf(rag.KindConfiguration, "engine: ask", "no chat model configured")
	}
	return e.refiner.Ask(ctx, req, w) //nolint:wrapcheck // agent errors are already prefixed
}

// ResetConversation forgets a chat session's memory and history.
func (e *Engine) ResetConversation(ctx context.Context, session string) error {
	if e.refiner == nil {
		return nil
	}
	return e.refiner.Reset(ctx, session) //nolint:wrapcheck // agent errors are already prefixed
}

// EmbedQuery embeds text with the document embedding provider.
func (e *Engine) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return e.store.EmbedQuery(ctx, text) //nolint:wrapcheck // rag errors are already prefixed
}

// IndexedPaths returns every indexed note path in lexical order.
func (e *Engine) IndexedPaths() []string {
	return e.store.Paths()
}

// DocumentEmbedding returns the stored chunks and vectors of path.
func (e *Engine) DocumentEmbedding(path string) (*rag.DocumentEmbedding, bool) {
	return e.store.Document(path)
}

// Len returns the number of indexed notes.
func (e *Engine) Len() int {
	return e.store.Len()
}

// Touch schedules paths for reindexing after the quiet period. A path whose
// note has been deleted is removed from the index.
func (e *Engine) Touch(paths ...string) {
	e.sched.Schedule(paths...)
}

// Pending returns the paths waiting to be reindexed.
func (e *Engine) Pending() []string {
	return e.sched.Pending()
}

// Flush reindexes every touched path now and saves the snapshot.
func (e *Engine) Flush(ctx context.Context) error {
	if err := e.sched.Flush(ctx); err != nil {
		return fmt.Errorf("engine: flush: %w", err)
	}
	return e.Save(ctx)
}

// Save persists the index if it changed since the last save.
func (e *Engine) Save(ctx context.Context) error {
	return e.saveAt(ctx, time.Now())
}

// Close flushes pending reindex work, saves the index and closes the
// persistence backend.
func (e *Engine) Close(ctx context.Context) error {
	err := e.sched.Stop(ctx)
	if saveErr := e.Save(ctx); saveErr != nil && err == nil {
		err = saveErr
	}
	if e.persist != nil {
		if closeErr := e.persist.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}
	if err != nil {
		return fmt.Errorf("engine: close: %w", err)
	}
	return nil
}

func (e *Engine) reindexBatch(ctx context.Context, paths []string) error {
	ctx, log := logging.Component(ctx, "reindex")
	res, err := e.pipeline.Reindex(ctx, paths)
	if res.Indexed > 0 || res.Removed > 0 {
		e.dirty.Store(true)
	}
	log.Debug("engine: reindexed batch",
		slog.Int("paths", len(paths)),
		slog.Int("indexed", res.Indexed),
		slog.Int("removed", res.Removed),
	)
	if saveErr := e.Save(ctx); saveErr != nil && err == nil {
		err = saveErr
	}
	return err //nolint:wrapcheck // ingestion errors are already prefixed
}

// saveAt persists the index stamped with at, which should not be later than
// the start of the work being saved so edits made meanwhile are picked up by
// the next incremental sync.
func (e *Engine) saveAt(ctx context.Context, at time.Time) error {
	if e.persist == nil || !e.dirty.Swap(false) {
		return nil
	}
	snap := e.store.Snapshot()
	snap.UpdatedAt = at
	if err := e.persist.Save(ctx, snap); err != nil {
		e.dirty.Store(true)
		return fmt.Errorf("engine: save snapshot: %w", err)
	}
	e.setSyncedAt(at)
	logging.FromContext(ctx).Debug("engine: snapshot saved", slog.Int("documents", len(snap.Documents)))
	return nil
}

func (e *Engine) setSyncedAt(t time.Time) {
	e.mu.Lock()
	e.syncedAt = t
	e.mu.Unlock()
}

func (e *Engine) syncedAtTime() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.syncedAt
}
