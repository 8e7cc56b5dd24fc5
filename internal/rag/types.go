package rag

import (
	"path"
	"strings"
	"time"

	"github.com/54b3r/noteai-go/internal/chunker"
)

// SnapshotVersion is the schema version written into every saved snapshot.
const SnapshotVersion = 1

// NoChunk marks a NoteWithContent that is not tied to a specific chunk.
const NoChunk = -1

// Chunk is a contiguous excerpt of a document together with its embedding.
type Chunk struct {
	// Content is the chunk text, including any overlap prefix carried over
	// from the preceding chunk.
	Content string `json:"content"`

	// Position is the offset in the source document where this chunk's
	// content begins, shifted back by the overlap length.
	Position int `json:"position"`

	// Embedding is the dense vector for Content.
	Embedding []float32 `json:"embedding"`
}

// IsHeader reports whether the chunk begins with a markdown header line.
func (c Chunk) IsHeader() bool {
	return chunker.IsHeaderLine(c.Content)
}

// DocumentEmbedding is the full indexed form of one document. Chunks are
// ordered by Position and share one embedding dimensionality.
type DocumentEmbedding struct {
	// Path identifies the document in the DocumentStore.
	Path string `json:"path"`

	// Chunks is the ordered chunk list.
	Chunks []Chunk `json:"chunks"`
}

// Dimension returns the embedding length of the document's chunks, or zero
// when the document has no chunks.
func (d *DocumentEmbedding) Dimension() int {
	if d == nil || len(d.Chunks) == 0 {
		return 0
	}
	return len(d.Chunks[0].Embedding)
}

// SearchResult is one scored chunk returned by the similarity index.
type SearchResult struct {
	// Path identifies the document the chunk belongs to.
	Path string `json:"path"`

	// ChunkIndex is the index of the matched chunk within the document.
	ChunkIndex int `json:"chunkIndex"`

	// Score is the combined relevance score used for ranking.
	Score float64 `json:"score"`

	// SemanticScore is the cosine similarity between query and chunk.
	SemanticScore float64 `json:"semanticScore"`

	// TitleScore is the boost earned by query terms matching the filename.
	TitleScore float64 `json:"titleScore"`

	// RecencyScore is the boost earned by recent modification.
	RecencyScore float64 `json:"recencyScore"`
}

// NoteWithContent is a search result joined with the document's current text.
type NoteWithContent struct {
	// Path identifies the document.
	Path string `json:"path"`

	// Title is the display title derived from the path.
	Title string `json:"title"`

	// Content is the full document text as read at search time.
	Content string `json:"content"`

	// Relevance is the combined score of the originating search result.
	Relevance float64 `json:"relevance"`

	// ChunkIndex is the matched chunk, or NoChunk.
	ChunkIndex int `json:"chunkIndex"`
}

// SearchRequest is a free-text search against the index.
type SearchRequest struct {
	// Query is the user's text.
	Query string `json:"query"`

	// Limit caps the number of results. Zero uses the engine default.
	Limit int `json:"limit,omitempty"`

	// ActivePath is the document the user currently has open, if any.
	ActivePath string `json:"activePath,omitempty"`
}

// Snapshot is the persisted form of the index.
type Snapshot struct {
	// Version is the snapshot schema version.
	Version int

	// UpdatedAt is when the snapshot was last saved.
	UpdatedAt time.Time

	// Documents holds every indexed document keyed by path.
	Documents map[string]*DocumentEmbedding
}

// NewSnapshot returns an empty snapshot at the current schema version.
func NewSnapshot() *Snapshot {
	return &Snapshot{
		Version:   SnapshotVersion,
		Documents: make(map[string]*DocumentEmbedding),
	}
}

// Title derives a display title from a document path: the base name without
// its extension.
func Title(p string) string {
	base := path.Base(strings.ReplaceAll(p, "\\", "/"))
	if ext := path.Ext(base); ext != "" && ext != base {
		base = strings.TrimSuffix(base, ext)
	}
	return base
}
