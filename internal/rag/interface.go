// Package rag defines the note retrieval data model, the collaborator
// interfaces the retrieval core depends on (embedding provider, document
// store, persistence), and the in-memory Embedding Store and Similarity Index.
// Concrete collaborators (Ollama, OpenAI, SQLite, Qdrant, the notes directory)
// satisfy these interfaces so the core never depends on a specific backend.
package rag

import (
	"context"
	"time"
)

// Embedder is the interface for converting text into dense vector embeddings.
// Implementations must be safe to call from multiple goroutines.
type Embedder interface {
	// Embed converts one text into its embedding vector. Implementations
	// return ErrConfiguration when the endpoint or credentials are missing and
	// ErrProviderResponse when the backend answers with a malformed payload.
	Embed(ctx context.Context, text string) ([]float32, error)
}

// DocumentStore is the read-only view of the user's notes that the
// retrieval core indexes. Paths are opaque, stable identifiers.
// Implementations must be safe to call from multiple goroutines.
type DocumentStore interface {
	// List returns the paths of every indexable document.
	List(ctx context.Context) ([]string, error)

	// Read returns the current content of the document at path.
	Read(ctx context.Context, path string) (string, error)

	// ModifiedTime returns the last modification time of the document at path.
	ModifiedTime(ctx context.Context, path string) (time.Time, error)
}

// Persistence loads and saves index snapshots.
type Persistence interface {
	// Load returns the stored snapshot. A store that has never been saved
	// returns an empty snapshot and a nil error.
	Load(ctx context.Context) (*Snapshot, error)

	// Save replaces the stored snapshot.
	Save(ctx context.Context, snap *Snapshot) error

	// Close releases any resources held by the backend.
	Close() error
}
