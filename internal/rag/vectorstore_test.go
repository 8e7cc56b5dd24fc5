package rag

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/54b3r/noteai-go/internal/textmatch"
)

// fakeDocs is an in-memory DocumentStore.
type fakeDocs struct {
	content map[string]string
	mod     map[string]time.Time
}

func (f *fakeDocs) List(_ context.Context) ([]string, error) {
	out := make([]string, 0, len(f.content))
	for p := range f.content {
		out = append(out, p)
	}
	return out, nil
}

func (f *fakeDocs) Read(_ context.Context, path string) (string, error) {
	c, ok := f.content[path]
	if !ok {
		return "", errors.New("not found")
	}
	return c, nil
}

func (f *fakeDocs) ModifiedTime(_ context.Context, path string) (time.Time, error) {
	t, ok := f.mod[path]
	if !ok {
		return time.Time{}, errors.New("not found")
	}
	return t, nil
}

func doc(path string, vecs ...[]float32) *DocumentEmbedding {
	d := &DocumentEmbedding{Path: path}
	for i, v := range vecs {
		d.Chunks = append(d.Chunks, Chunk{Content: "chunk body", Position: i * 10, Embedding: v})
	}
	return d
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func Test_VectorStore_EmptyIndexReturnsEmptySlice(t *testing.T) {
	t.Parallel()

	s := NewVectorStore(nil, DefaultWeights())
	got, err := s.Search(context.Background(), []float32{1, 0}, SearchOptions{})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("Search() = %#v, want empty non-nil slice", got)
	}
}

func Test_VectorStore_IdenticalVectorScoresOne(t *testing.T) {
	t.Parallel()

	s := NewVectorStore(nil, DefaultWeights())
	s.Upsert(doc("a.md", []float32{0.6, 0.8}))

	got, err := s.Search(context.Background(), []float32{0.6, 0.8}, SearchOptions{Threshold: 0.999})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("Search() = %d results, want 1", len(got))
	}
	if !approx(got[0].SemanticScore, 1) {
		t.Errorf("SemanticScore = %v, want 1", got[0].SemanticScore)
	}
}

func Test_VectorStore_SkipsMismatchedDimension(t *testing.T) {
	t.Parallel()

	s := NewVectorStore(nil, DefaultWeights())
	s.Upsert(doc("mixed.md", []float32{1, 0, 0}, []float32{1, 0}))

	got, err := s.Search(context.Background(), []float32{1, 0}, SearchOptions{})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(got) != 1 || got[0].ChunkIndex != 1 {
		t.Errorf("Search() = %+v, want only chunk 1", got)
	}
}

func Test_VectorStore_ZeroVectorScoresZero(t *testing.T) {
	t.Parallel()

	s := NewVectorStore(nil, DefaultWeights())
	s.Upsert(doc("zero.md", []float32{0, 0}))

	got, err := s.Search(context.Background(), []float32{1, 1}, SearchOptions{Threshold: -1})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(got) != 1 || got[0].SemanticScore != 0 {
		t.Errorf("Search() = %+v, want one result with semantic score 0", got)
	}
}

func Test_VectorStore_TitleMatchSurfacesLowSemanticDocument(t *testing.T) {
	t.Parallel()

	s := NewVectorStore(nil, DefaultWeights())
	s.Upsert(doc("notes/keyword.md", []float32{0, 1}))
	s.Upsert(doc("notes/other.md", []float32{0, 1}))

	got, err := s.Search(context.Background(), []float32{1, 0}, SearchOptions{
		Threshold: 0.15,
		Query:     textmatch.Parse("keyword"),
	})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(got) != 1 || got[0].Path != "notes/keyword.md" {
		t.Fatalf("Search() = %+v, want only keyword.md", got)
	}
	if !approx(got[0].TitleScore, 0.2) {
		t.Errorf("TitleScore = %v, want whole-word boost 0.2", got[0].TitleScore)
	}
}

func Test_VectorStore_TitleSubstringIsSmallerThanWholeWord(t *testing.T) {
	t.Parallel()

	s := NewVectorStore(nil, DefaultWeights())
	q := textmatch.Parse("plan")
	whole := s.titleScore("plan.md", q)
	partial := s.titleScore("planning.md", q)
	if !(whole > partial && partial > 0) {
		t.Errorf("titleScore whole=%v partial=%v, want whole > partial > 0", whole, partial)
	}
}

func Test_VectorStore_RecencyOrdersIdenticalDocuments(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	docs := &fakeDocs{mod: map[string]time.Time{
		"old.md": now.Add(-90 * 24 * time.Hour),
		"new.md": now,
	}}
	s := NewVectorStore(docs, DefaultWeights())
	s.now = func() time.Time { return now }
	s.Upsert(doc("old.md", []float32{1, 0}))
	s.Upsert(doc("new.md", []float32{1, 0}))

	got, err := s.Search(context.Background(), []float32{1, 0}, SearchOptions{})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(got) != 2 || got[0].Path != "new.md" {
		t.Fatalf("Search() = %+v, want new.md first", got)
	}
	if !approx(got[0].RecencyScore, 0.1) {
		t.Errorf("recent RecencyScore = %v, want 0.1", got[0].RecencyScore)
	}
	if !approx(got[1].RecencyScore, 0.1*math.Exp(-3)) {
		t.Errorf("old RecencyScore = %v, want %v", got[1].RecencyScore, 0.1*math.Exp(-3))
	}
}

func Test_VectorStore_TiesKeepInsertionOrderAndReplaceMovesToEnd(t *testing.T) {
	t.Parallel()

	s := NewVectorStore(nil, DefaultWeights())
	s.Upsert(doc("a.md", []float32{1, 0}))
	s.Upsert(doc("b.md", []float32{1, 0}))
	s.Upsert(doc("c.md", []float32{1, 0}))

	paths := func() []string {
		got, err := s.Search(context.Background(), []float32{1, 0}, SearchOptions{})
		if err != nil {
			t.Fatalf("Search() error = %v", err)
		}
		var out []string
		for _, r := range got {
			out = append(out, r.Path)
		}
		return out
	}

	if got := paths(); len(got) != 3 || got[0] != "a.md" || got[1] != "b.md" || got[2] != "c.md" {
		t.Errorf("order = %v, want [a.md b.md c.md]", got)
	}

	s.Upsert(doc("a.md", []float32{1, 0}))
	if got := paths(); len(got) != 3 || got[2] != "a.md" {
		t.Errorf("order after replace = %v, want a.md last", got)
	}
	if s.Len() != 3 {
		t.Errorf("Len() = %d, want 3", s.Len())
	}
}

func Test_VectorStore_LimitAndRemove(t *testing.T) {
	t.Parallel()

	s := NewVectorStore(nil, DefaultWeights())
	s.Upsert(doc("a.md", []float32{1, 0}, []float32{0.9, 0.1}, []float32{0.8, 0.2}))
	s.Upsert(doc("b.md", []float32{0.7, 0.3}))

	got, err := s.Search(context.Background(), []float32{1, 0}, SearchOptions{Limit: 2})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Search() = %d results, want 2", len(got))
	}
	if got[0].Score < got[1].Score {
		t.Errorf("results not sorted descending: %+v", got)
	}

	s.Remove("a.md")
	s.Remove("a.md")
	got, _ = s.Search(context.Background(), []float32{1, 0}, SearchOptions{})
	if len(got) != 1 || got[0].Path != "b.md" {
		t.Errorf("Search() after Remove = %+v, want only b.md", got)
	}
}

func Test_VectorStore_ActiveDocumentAndHeaderBoosts(t *testing.T) {
	t.Parallel()

	w := DefaultWeights()
	s := NewVectorStore(nil, w)
	d := &DocumentEmbedding{Path: "open.md", Chunks: []Chunk{
		{Content: "# Heading\nbody", Embedding: []float32{1, 0}},
		{Content: "plain body", Embedding: []float32{1, 0}},
	}}
	s.Upsert(d)

	got, err := s.Search(context.Background(), []float32{1, 0}, SearchOptions{ActivePath: "open.md"})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Search() = %d results, want 2", len(got))
	}
	if got[0].ChunkIndex != 0 || !approx(got[0].Score, 1+w.ActiveDocument+w.Header) {
		t.Errorf("header chunk = %+v, want score %v", got[0], 1+w.ActiveDocument+w.Header)
	}
	if !approx(got[1].Score, 1+w.ActiveDocument) {
		t.Errorf("plain chunk score = %v, want %v", got[1].Score, 1+w.ActiveDocument)
	}
}

func Test_VectorStore_CanceledContext(t *testing.T) {
	t.Parallel()

	s := NewVectorStore(nil, DefaultWeights())
	s.Upsert(doc("a.md", []float32{1, 0}))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := s.Search(ctx, []float32{1, 0}, SearchOptions{}); !errors.Is(err, context.Canceled) {
		t.Errorf("Search() error = %v, want context.Canceled", err)
	}
}

func TestCosineSimilarity(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"length mismatch", []float32{1, 0}, []float32{1, 0, 0}, 0},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 0},
	}
	for _, tt := range tests {
		if got := CosineSimilarity(tt.a, tt.b); !approx(got, tt.want) {
			t.Errorf("%s: CosineSimilarity() = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func Test_VectorStore_NoResultBelowThreshold(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(7, 11))
	vec := func() []float32 {
		v := make([]float32, 4)
		for i := range v {
			v[i] = rng.Float32()*2 - 1
		}
		return v
	}

	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	docs := &fakeDocs{content: map[string]string{}, mod: map[string]time.Time{}}
	s := NewVectorStore(docs, DefaultWeights())
	s.now = func() time.Time { return now }

	bodies := []string{"# Launch plan", "budget review for the launch", "grocery list", "launch plan budget"}
	for d := 0; d < 12; d++ {
		path := fmt.Sprintf("notes/launch-%d.md", d)
		if d%2 == 1 {
			path = fmt.Sprintf("notes/misc-%d.md", d)
		}
		docs.mod[path] = now.Add(-time.Duration(d) * 24 * time.Hour)
		de := &DocumentEmbedding{Path: path}
		for c := 0; c < 3; c++ {
			de.Chunks = append(de.Chunks, Chunk{Content: bodies[(d+c)%len(bodies)], Position: c * 40, Embedding: vec()})
		}
		s.Upsert(de)
	}

	queries := []string{"", "launch plan", `"launch plan" budget`}
	for _, threshold := range []float64{-0.5, 0, 0.2, 0.3, 0.6, 1.1} {
		for _, q := range queries {
			for round := 0; round < 5; round++ {
				got, err := s.Search(context.Background(), vec(), SearchOptions{
					Threshold:  threshold,
					Query:      textmatch.Parse(q),
					ActivePath: "notes/launch-2.md",
				})
				if err != nil {
					t.Fatalf("Search() error = %v", err)
				}
				for i, r := range got {
					if r.Score < threshold {
						t.Errorf("threshold %v query %q: result %s#%d score %v below threshold", threshold, q, r.Path, r.ChunkIndex, r.Score)
					}
					if i > 0 && r.Score > got[i-1].Score {
						t.Errorf("threshold %v query %q: results not sorted at %d", threshold, q, i)
					}
				}
			}
		}
	}
}
