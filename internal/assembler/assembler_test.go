package assembler

import (
	"fmt"
	"strings"
	"testing"

	"github.com/54b3r/noteai-go/internal/rag"
	"github.com/54b3r/noteai-go/internal/textmatch"
)

type fakeChunks map[string]*rag.DocumentEmbedding

func (f fakeChunks) Document(path string) (*rag.DocumentEmbedding, bool) {
	d, ok := f[path]
	return d, ok
}

var filler = strings.Repeat("lorem ipsum dolor sit amet ", 7)

// longDoc returns n filler paragraphs tagged P00..Pnn, with extra appended to
// paragraph hit.
func longDoc(n, hit int, extra string) string {
	paras := make([]string, n)
	for i := range paras {
		paras[i] = fmt.Sprintf("P%02d %s", i, filler)
		if i == hit {
			paras[i] += extra
		}
	}
	return strings.Join(paras, "\n\n")
}

func TestBuild_NoNotesReturnsSentinel(t *testing.T) {
	t.Parallel()

	a := New(nil)
	if got := a.Build("anything", nil, 1000); got != NoNotesMessage {
		t.Errorf("Build() = %q, want %q", got, NoNotesMessage)
	}
}

func TestBuild_NoNotesMessageRespectsTinyBudget(t *testing.T) {
	t.Parallel()

	a := New(nil)
	tests := []struct {
		budget int
		want   string
	}{
		{budget: 10, want: NoNotesMessage[:10]},
		{budget: len(NoNotesMessage), want: NoNotesMessage},
		{budget: 0, want: ""},
		{budget: -5, want: ""},
	}
	for _, tt := range tests {
		if got := a.Build("anything", nil, tt.budget); got != tt.want {
			t.Errorf("Build(budget=%d) = %q, want %q", tt.budget, got, tt.want)
		}
	}
}

func TestBuild_NeverExceedsBudget(t *testing.T) {
	t.Parallel()

	a := New(nil)
	notes := []rag.NoteWithContent{
		{Path: "a.md", Content: longDoc(10, 2, "budget"), Relevance: 0.8, ChunkIndex: rag.NoChunk},
		{Path: "b.md", Content: "short note about the budget", Relevance: 0.6, ChunkIndex: rag.NoChunk},
		{Path: "c.md", Content: "ünïcödé " + filler, Relevance: 0.4, ChunkIndex: rag.NoChunk},
	}
	for _, budget := range []int{0, 1, 37, 250, 1200, 100000} {
		if got := a.Build("budget", notes, budget); len(got) > budget {
			t.Errorf("Build(budget=%d) = %d bytes", budget, len(got))
		}
	}
}

func TestBuild_BestFirstAndTruncatesOverflowingNote(t *testing.T) {
	t.Parallel()

	a := New(nil)
	low := rag.NoteWithContent{Path: "low.md", Title: "low", Content: "beta content", Relevance: 0.5, ChunkIndex: rag.NoChunk}
	high := rag.NoteWithContent{Path: "high.md", Title: "high", Content: "alpha content", Relevance: 0.9, ChunkIndex: rag.NoChunk}
	first := formatBlock(high, high.Content)

	budget := len(first) + 10
	got := a.Build("content", []rag.NoteWithContent{low, high}, budget)

	if !strings.HasPrefix(got, first) {
		t.Errorf("Build() should start with the most relevant note, got %q", got)
	}
	if len(got) != budget {
		t.Errorf("Build() = %d bytes, want exactly %d", len(got), budget)
	}
	if !strings.Contains(first, "Relevance: 0.90") || !strings.Contains(first, "Path: high.md") {
		t.Errorf("block is missing labels: %q", first)
	}
}

func TestExcerpt_ShortNoteIsWhole(t *testing.T) {
	t.Parallel()

	a := New(fakeChunks{})
	n := rag.NoteWithContent{Path: "a.md", Content: "tiny", ChunkIndex: 0}
	if got := a.Excerpt(textmatch.Parse("x"), n); got != "tiny" {
		t.Errorf("Excerpt() = %q", got)
	}
}

func TestExcerpt_PrefersMatchedChunk(t *testing.T) {
	t.Parallel()

	a := New(fakeChunks{"a.md": {Path: "a.md", Chunks: []rag.Chunk{{Content: "zero"}, {Content: "one"}}}})
	n := rag.NoteWithContent{Path: "a.md", Content: longDoc(10, -1, ""), ChunkIndex: 1}
	if got := a.Excerpt(textmatch.Parse("zero"), n); got != "one" {
		t.Errorf("Excerpt() = %q, want the referenced chunk", got)
	}
}

func TestExcerpt_RanksStoredChunks(t *testing.T) {
	t.Parallel()

	a := New(fakeChunks{"a.md": {Path: "a.md", Chunks: []rag.Chunk{
		{Content: "substring: budgeting"},
		{Content: "nothing relevant"},
		{Content: "the budget review"},
		{Content: "whole word budget"},
	}}})
	n := rag.NoteWithContent{Path: "a.md", Content: longDoc(10, -1, ""), ChunkIndex: rag.NoChunk}

	got := a.Excerpt(textmatch.Parse("budget review"), n)
	want := strings.Join([]string{"the budget review", "whole word budget", "substring: budgeting"}, excerptGap)
	if got != want {
		t.Errorf("Excerpt() = %q, want %q", got, want)
	}
}

func TestExcerpt_ParagraphHeuristicKeepsNeighbours(t *testing.T) {
	t.Parallel()

	content := longDoc(25, 7, "The zebra migration happens every spring.")
	if len(content) < 4000 {
		t.Fatalf("test document too short: %d", len(content))
	}
	a := New(nil)
	n := rag.NoteWithContent{Path: "animals.md", Content: content, ChunkIndex: rag.NoChunk}

	got := a.Excerpt(textmatch.Parse("zebra migration"), n)
	for _, want := range []string{"P06", "P07", "P08", "zebra migration"} {
		if !strings.Contains(got, want) {
			t.Errorf("Excerpt() missing %q", want)
		}
	}
	for _, unwanted := range []string{"P05", "P09", "P00"} {
		if strings.Contains(got, unwanted) {
			t.Errorf("Excerpt() unexpectedly contains %q", unwanted)
		}
	}
}

func TestExcerpt_FallsBackToLeadingText(t *testing.T) {
	t.Parallel()

	content := longDoc(25, -1, "")
	a := New(nil)
	n := rag.NoteWithContent{Path: "a.md", Content: content, ChunkIndex: rag.NoChunk}

	got := a.Excerpt(textmatch.Parse("nonexistent"), n)
	if got != content[:leadingExcerptLength] {
		t.Errorf("Excerpt() = %d bytes, want the first %d bytes of the note", len(got), leadingExcerptLength)
	}
}

func TestTruncate_RespectsRuneBoundaries(t *testing.T) {
	t.Parallel()

	got := truncate("aé", 2)
	if got != "a" {
		t.Errorf("truncate() = %q, want %q", got, "a")
	}
}
