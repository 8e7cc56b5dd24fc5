package rag

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/54b3r/noteai-go/internal/chunker"
	"github.com/54b3r/noteai-go/internal/logging"
)

// MinContentLength is the trimmed length below which documents are not indexed.
const MinContentLength = 50

// defaultEmbedConcurrency bounds in-flight embedding calls per document.
const defaultEmbedConcurrency = 4

// EmbeddingStoreConfig holds the dependencies of an EmbeddingStore.
type EmbeddingStoreConfig struct {
	// Embedder produces chunk and query vectors. Nil means embedding is
	// unavailable: adds and query embeddings fail with ErrEmbeddingUnavailable.
	Embedder Embedder
	// Index receives every published document. Required.
	Index *VectorStore
	// ChunkSize is the chunker size limit. Defaults to chunker.DefaultSize.
	ChunkSize int
	// ChunkOverlap is the chunker overlap. Defaults to chunker.DefaultOverlap.
	ChunkOverlap int
	// Dimensions is the expected vector length. Zero adopts the first seen.
	Dimensions int
	// Concurrency bounds parallel embedding calls per document.
	Concurrency int
}

// EmbeddingStore owns the path → DocumentEmbedding map. It chunks and embeds
// documents and publishes each one to the similarity index only after every
// chunk has an embedding, so the index never holds a partial document.
// Writers are serialised; readers are not blocked by in-flight embedding.
type EmbeddingStore struct {
	// writeMu serialises AddDocument, RemoveDocument, Restore and Clear.
	writeMu sync.Mutex
	// mu guards docs and dimension.
	mu sync.RWMutex
	// docs holds every published document.
	docs map[string]*DocumentEmbedding
	// dimension is the current embedding length, zero until known.
	dimension int

	embedder     Embedder
	index        *VectorStore
	chunkSize    int
	chunkOverlap int
	concurrency  int
}

// NewEmbeddingStore constructs an EmbeddingStore from cfg.
func NewEmbeddingStore(cfg *EmbeddingStoreConfig) (*EmbeddingStore, error) {
	if cfg.Index == nil {
		return nil, fmt.Errorf("rag: index must not be nil")
	}
	size := cfg.ChunkSize
	if size <= 0 {
		size = chunker.DefaultSize
	}
	overlap := cfg.ChunkOverlap
	if overlap <= 0 {
		overlap = chunker.DefaultOverlap
	}
	conc := cfg.Concurrency
	if conc <= 0 {
		conc = defaultEmbedConcurrency
	}
	return &EmbeddingStore{
		docs:         make(map[string]*DocumentEmbedding),
		dimension:    cfg.Dimensions,
		embedder:     cfg.Embedder,
		index:        cfg.Index,
		chunkSize:    size,
		chunkOverlap: overlap,
		concurrency:  conc,
	}, nil
}

// Available reports whether an embedding provider is configured.
func (s *EmbeddingStore) Available() bool {
	return s.embedder != nil
}

// AddDocument chunks and embeds content and replaces any previous version of
// path. Content shorter than MinContentLength after trimming, or content that
// chunks to nothing, is not indexed and drops any previous version of path.
// On any embedding failure nothing is published.
func (s *EmbeddingStore) AddDocument(ctx context.Context, path, content string) error {
	log := logging.FromContext(ctx)

	if n := len(strings.TrimSpace(content)); n < MinContentLength {
		log.Debug("embedding store: skipping short document",
			slog.String("path", path),
			slog.Int("length", n),
		)
		s.RemoveDocument(path)
		return nil
	}
	if s.embedder == nil {
		return NewError(KindEmbeddingUnavailable, "embedding store: add "+path, nil)
	}

	pieces := chunker.Chunk(content, s.chunkSize, s.chunkOverlap)
	if len(pieces) == 0 {
		s.RemoveDocument(path)
		return nil
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	vectors := make([][]float32, len(pieces))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, p := range pieces {
		g.Go(func() error {
			v, err := s.embedder.Embed(gctx, p.Content)
			if err != nil {
				return fmt.Errorf("chunk %d: %w", i, err)
			}
			if len(v) == 0 {
				return Errorf(KindProviderResponse, "embed", "empty vector for chunk %d", i)
			}
			vectors[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("rag: embed %s: %w", path, err)
	}

	dim := len(vectors[0])
	for i, v := range vectors {
		if len(v) != dim {
			return Errorf(KindDimensionMismatch, "embedding store: add "+path,
				"chunk %d has %d dimensions, chunk 0 has %d", i, len(v), dim)
		}
	}

	doc := &DocumentEmbedding{Path: path, Chunks: make([]Chunk, len(pieces))}
	for i, p := range pieces {
		doc.Chunks[i] = Chunk{Content: p.Content, Position: p.Position, Embedding: vectors[i]}
	}

	s.mu.Lock()
	if s.dimension != 0 && s.dimension != dim {
		log.Warn("embedding store: embedding dimension changed, adopting new size",
			slog.Int("previous", s.dimension),
			slog.Int("current", dim),
			slog.String("path", path),
		)
	}
	s.dimension = dim
	s.docs[path] = doc
	s.index.Upsert(doc)
	s.mu.Unlock()

	log.Debug("embedding store: indexed document",
		slog.String("path", path),
		slog.Int("chunks", len(doc.Chunks)),
	)
	return nil
}

// RemoveDocument drops path from the store and the index. Idempotent.
func (s *EmbeddingStore) RemoveDocument(path string) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	delete(s.docs, path)
	s.index.Remove(path)
	s.mu.Unlock()
}

// Clear drops every document.
func (s *EmbeddingStore) Clear() {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	s.docs = make(map[string]*DocumentEmbedding)
	s.index.Clear()
	s.mu.Unlock()
}

// EmbedQuery embeds free text for a similarity search.
func (s *EmbeddingStore) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if s.embedder == nil {
		return nil, NewError(KindEmbeddingUnavailable, "embedding store: embed query", nil)
	}
	v, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("rag: embed query: %w", err)
	}
	return v, nil
}

// Document returns the stored embedding for path.
func (s *EmbeddingStore) Document(path string) (*DocumentEmbedding, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[path]
	return doc, ok
}

// Paths returns every indexed path in lexical order.
func (s *EmbeddingStore) Paths() []string {
	s.mu.RLock()
	paths := make([]string, 0, len(s.docs))
	for p := range s.docs {
		paths = append(paths, p)
	}
	s.mu.RUnlock()
	sort.Strings(paths)
	return paths
}

// Len returns the number of indexed documents.
func (s *EmbeddingStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

// Dimension returns the current embedding length, zero until known.
func (s *EmbeddingStore) Dimension() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dimension
}

// Snapshot returns the current contents for persistence. Documents are
// shared, not copied; published documents are never mutated.
func (s *EmbeddingStore) Snapshot() *Snapshot {
	snap := NewSnapshot()
	s.mu.RLock()
	for p, d := range s.docs {
		snap.Documents[p] = d
	}
	s.mu.RUnlock()
	return snap
}

// Restore replaces the store contents with snap and republishes every
// document to the index in path order.
func (s *EmbeddingStore) Restore(snap *Snapshot) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	paths := make([]string, 0, len(snap.Documents))
	for p := range snap.Documents {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs = make(map[string]*DocumentEmbedding, len(paths))
	s.index.Clear()
	for _, p := range paths {
		doc := snap.Documents[p]
		if doc == nil || len(doc.Chunks) == 0 {
			continue
		}
		s.docs[p] = doc
		s.index.Upsert(doc)
		if s.dimension == 0 {
			s.dimension = doc.Dimension()
		}
	}
}
