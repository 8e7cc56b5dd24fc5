// Package ingestion keeps the embedding index in step with the document
// store. Sync walks every note, embeds the ones that are new or modified
// since the last snapshot and drops indexed paths that no longer exist.
// Reindex handles a batch of individual paths and is driven by the debounced
// scheduler when notes change while the server runs.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/54b3r/noteai-go/internal/logging"
	"github.com/54b3r/noteai-go/internal/rag"
)

// Indexer is the write surface of the embedding index.
// rag.EmbeddingStore satisfies it.
type Indexer interface {
	// AddDocument chunks, embeds and publishes content under path.
	AddDocument(ctx context.Context, path, content string) error
	// RemoveDocument drops path. Removing an unknown path is a no-op.
	RemoveDocument(path string)
	// Paths returns every indexed path.
	Paths() []string
}

// Result summarises one sync or reindex run.
type Result struct {
	// Indexed is the number of documents (re)embedded.
	Indexed int `json:"indexed"`
	// Unchanged is the number of documents skipped because they were not
	// modified since the previous snapshot.
	Unchanged int `json:"unchanged"`
	// Removed is the number of indexed paths dropped because the note is gone.
	Removed int `json:"removed"`
	// Failed is the number of documents that could not be read or embedded.
	Failed int `json:"failed"`
}

// Pipeline orchestrates the list → read → embed → publish flow between a
// document store and an index.
type Pipeline struct {
	// docs is the source of note content and modification times.
	docs rag.DocumentStore

	// index receives the embedded documents.
	index Indexer
}

// NewPipeline constructs a Pipeline from the provided dependencies.
func NewPipeline(docs rag.DocumentStore, index Indexer) (*Pipeline, error) {
	if docs == nil {
		return nil, fmt.Errorf("ingestion: document store must not be nil")
	}
	if index == nil {
		return nil, fmt.Errorf("ingestion: index must not be nil")
	}
	return &Pipeline{docs: docs, index: index}, nil
}

// Sync reconciles the index with the document store. Documents already
// indexed and not modified after since are left alone; a zero since
// re-embeds everything. Per-document failures are collected and the sync
// continues, except for configuration failures and cancellation, which abort
// immediately because every later document would fail the same way.
// Progress is reported via the optional progress callback.
func (p *Pipeline) Sync(ctx context.Context, since time.Time, progress func(msg string)) (Result, error) {
	if progress == nil {
		progress = func(string) {}
	}
	ctx, log := logging.Component(ctx, "sync")

	listed, err := p.docs.List(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("ingestion: list documents: %w", err)
	}

	indexed := make(map[string]bool)
	for _, path := range p.index.Paths() {
		indexed[path] = true
	}
	present := make(map[string]bool, len(listed))

	var res Result
	var errs []error
	for i, path := range listed {
		present[path] = true
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("ingestion: sync cancelled: %w", err)
		}

		if indexed[path] && !since.IsZero() {
			mod, err := p.docs.ModifiedTime(ctx, path)
			if err == nil && !mod.After(since) {
				res.Unchanged++
				continue
			}
		}

		progress(fmt.Sprintf("indexing %s (%d/%d)", path, i+1, len(listed)))
		if err := p.index1(ctx, path); err != nil {
			if fatal(err) {
				return res, fmt.Errorf("ingestion: sync aborted at %s: %w", path, err)
			}
			log.Warn("ingestion: failed to index document", slog.String("path", path), slog.Any("error", err))
			res.Failed++
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
			continue
		}
		res.Indexed++
	}

	for path := range indexed {
		if !present[path] {
			p.index.RemoveDocument(path)
			res.Removed++
			progress(fmt.Sprintf("removed %s", path))
		}
	}

	log.Info("ingestion: sync complete",
		slog.Int("indexed", res.Indexed),
		slog.Int("unchanged", res.Unchanged),
		slog.Int("removed", res.Removed),
		slog.Int("failed", res.Failed),
	)
	if len(errs) > 0 {
		return res, fmt.Errorf("ingestion: %d document(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return res, nil
}

// Reindex re-embeds each path, removing it from the index when the note no
// longer exists. It stops at the first error other than a missing note.
func (p *Pipeline) Reindex(ctx context.Context, paths []string) (Result, error) {
	var res Result
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("ingestion: reindex cancelled: %w", err)
		}
		err := p.index1(ctx, path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			p.index.RemoveDocument(path)
			res.Removed++
		case err != nil:
			res.Failed++
			return res, fmt.Errorf("ingestion: reindex %s: %w", path, err)
		default:
			res.Indexed++
		}
	}
	return res, nil
}

func (p *Pipeline) index1(ctx context.Context, path string) error {
	content, err := p.docs.Read(ctx, path)
	if err != nil {
		return err
	}
	return p.index.AddDocument(ctx, path, content)
}

// fatal reports whether err will recur for every document.
func fatal(err error) bool {
	return errors.Is(err, rag.ErrConfiguration) ||
		errors.Is(err, rag.ErrEmbeddingUnavailable) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
