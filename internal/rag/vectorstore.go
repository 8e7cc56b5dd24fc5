package rag

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/54b3r/noteai-go/internal/logging"
	"github.com/54b3r/noteai-go/internal/textmatch"
)

// ScoreWeights holds the additive boosts combined with cosine similarity.
type ScoreWeights struct {
	// TitleSubstring is added per query term found inside the filename.
	TitleSubstring float64
	// TitleWord replaces TitleSubstring when the term is a whole word of the filename.
	TitleWord float64
	// TitlePhrase is added per query phrase found in the filename.
	TitlePhrase float64
	// RecencyMax is the recency boost for a document modified just now.
	RecencyMax float64
	// RecencyDecayDays is the e-folding time of the recency boost.
	RecencyDecayDays float64
	// BodyPhrase is added per query phrase found verbatim in the chunk.
	BodyPhrase float64
	// BodyTerm is added per expanded query term found as a whole word in the chunk.
	BodyTerm float64
	// Header is added when the chunk opens with a markdown header.
	Header float64
	// ActiveDocument is added to chunks of the document the user has open.
	ActiveDocument float64
}

// DefaultWeights returns the boosts used when no override is configured.
func DefaultWeights() ScoreWeights {
	return ScoreWeights{
		TitleSubstring:   0.1,
		TitleWord:        0.2,
		TitlePhrase:      0.3,
		RecencyMax:       0.1,
		RecencyDecayDays: 30,
		BodyPhrase:       0.15,
		BodyTerm:         0.05,
		Header:           0.05,
		ActiveDocument:   0.05,
	}
}

// SearchOptions controls a similarity search.
type SearchOptions struct {
	// Threshold is the minimum combined score a chunk needs to be returned.
	Threshold float64
	// Limit caps the number of results. Zero or negative means no cap.
	Limit int
	// Query carries the lexical terms and phrases for the title and body boosts.
	Query textmatch.Query
	// ActivePath is the document the user currently has open, if any.
	ActivePath string
}

// indexEntry is an immutable published document plus its chunk norms.
type indexEntry struct {
	doc   *DocumentEmbedding
	norms []float64
}

// VectorStore is the in-memory similarity index. It scores every chunk of
// every document against a query vector with an exhaustive scan. Entries are
// replaced wholesale, so a concurrent search sees either the old or the new
// version of a document. Safe for concurrent use.
type VectorStore struct {
	// mu guards entries and order.
	mu sync.RWMutex
	// entries maps path to the published entry.
	entries map[string]*indexEntry
	// order lists paths in insertion order for stable tie-breaking.
	order []string
	// docs supplies modification times for the recency boost. May be nil.
	docs DocumentStore
	// weights are the additive boosts.
	weights ScoreWeights
	// now returns the current time; replaced in tests.
	now func() time.Time
}

// NewVectorStore constructs an empty index. docs may be nil, in which case
// the recency boost is always zero.
func NewVectorStore(docs DocumentStore, weights ScoreWeights) *VectorStore {
	return &VectorStore{
		entries: make(map[string]*indexEntry),
		docs:    docs,
		weights: weights,
		now:     time.Now,
	}
}

// Upsert publishes doc, replacing any previous version at the same path.
// The replaced document moves to the end of the insertion order.
func (s *VectorStore) Upsert(doc *DocumentEmbedding) {
	e := &indexEntry{doc: doc, norms: make([]float64, len(doc.Chunks))}
	for i, c := range doc.Chunks {
		e.norms[i] = norm(c.Embedding)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[doc.Path]; ok {
		s.removeLocked(doc.Path)
	}
	s.entries[doc.Path] = e
	s.order = append(s.order, doc.Path)
}

// Remove drops the document at path. Removing an unknown path is a no-op.
func (s *VectorStore) Remove(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(path)
}

func (s *VectorStore) removeLocked(path string) {
	if _, ok := s.entries[path]; !ok {
		return
	}
	delete(s.entries, path)
	for i, p := range s.order {
		if p == path {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// Clear drops every document.
func (s *VectorStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]*indexEntry)
	s.order = nil
}

// Len returns the number of indexed documents.
func (s *VectorStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Search scores every chunk against query and returns those whose combined
// score reaches opts.Threshold, best first. Ties keep insertion order.
// Chunks whose dimensionality differs from the query are skipped.
func (s *VectorStore) Search(ctx context.Context, query []float32, opts SearchOptions) ([]SearchResult, error) {
	s.mu.RLock()
	snapshot := make([]*indexEntry, 0, len(s.order))
	for _, p := range s.order {
		snapshot = append(snapshot, s.entries[p])
	}
	s.mu.RUnlock()

	if len(snapshot) == 0 {
		return []SearchResult{}, nil
	}

	log := logging.FromContext(ctx)
	qNorm := norm(query)
	now := s.now()
	results := make([]SearchResult, 0)

	for _, e := range snapshot {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		path := e.doc.Path
		title := s.titleScore(path, opts.Query)
		recency := s.recencyScore(ctx, path, now)
		active := 0.0
		if opts.ActivePath != "" && opts.ActivePath == path {
			active = s.weights.ActiveDocument
		}

		skipped := 0
		for i, c := range e.doc.Chunks {
			if len(c.Embedding) != len(query) {
				skipped++
				continue
			}
			semantic := cosine(query, c.Embedding, qNorm, e.norms[i])
			m := textmatch.Match(c.Content, opts.Query.Expanded, opts.Query.Phrases)
			score := semantic + title + recency + active +
				float64(m.Phrases)*s.weights.BodyPhrase +
				float64(m.Words)*s.weights.BodyTerm
			if c.IsHeader() {
				score += s.weights.Header
			}
			if score < opts.Threshold {
				continue
			}
			results = append(results, SearchResult{
				Path:          path,
				ChunkIndex:    i,
				Score:         score,
				SemanticScore: semantic,
				TitleScore:    title,
				RecencyScore:  recency,
			})
		}
		if skipped > 0 {
			log.Debug("index: skipped chunks with mismatched dimension",
				slog.String("path", path),
				slog.Int("skipped", skipped),
				slog.Int("query_dim", len(query)),
				slog.Int("chunk_dim", e.doc.Dimension()),
			)
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if opts.Limit > 0 && len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

// titleScore boosts query terms and phrases found in the document's filename.
func (s *VectorStore) titleScore(path string, q textmatch.Query) float64 {
	if q.Empty() {
		return 0
	}
	title := strings.ToLower(Title(path))
	spaced := strings.Map(func(r rune) rune {
		switch r {
		case '-', '_', '.':
			return ' '
		}
		return r
	}, title)

	score := 0.0
	for _, t := range q.Terms {
		switch {
		case textmatch.ContainsWord(title, t):
			score += s.weights.TitleWord
		case strings.Contains(title, t):
			score += s.weights.TitleSubstring
		}
	}
	for _, p := range q.Phrases {
		if strings.Contains(spaced, p) {
			score += s.weights.TitlePhrase
		}
	}
	return score
}

// recencyScore decays exponentially with days since the last modification.
func (s *VectorStore) recencyScore(ctx context.Context, path string, now time.Time) float64 {
	if s.docs == nil || s.weights.RecencyMax == 0 {
		return 0
	}
	mod, err := s.docs.ModifiedTime(ctx, path)
	if err != nil || mod.IsZero() {
		return 0
	}
	days := now.Sub(mod).Hours() / 24
	if days < 0 {
		days = 0
	}
	decay := s.weights.RecencyDecayDays
	if decay <= 0 {
		decay = 30
	}
	return s.weights.RecencyMax * math.Exp(-days/decay)
}

// cosine returns the cosine similarity of a and b given their norms.
// A zero-magnitude vector scores 0.
func cosine(a, b []float32, na, nb float64) float64 {
	if na == 0 || nb == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot / (na * nb)
}

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// CosineSimilarity returns the cosine similarity of a and b, or 0 when their
// lengths differ or either has zero magnitude.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	return cosine(a, b, norm(a), norm(b))
}
