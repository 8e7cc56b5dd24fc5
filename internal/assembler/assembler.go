// Package assembler turns ranked notes into a bounded context string for a
// language model, picking the most relevant excerpt of each note.
package assembler

import (
	"fmt"
	"regexp"
	"slices"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/54b3r/noteai-go/internal/rag"
	"github.com/54b3r/noteai-go/internal/textmatch"
)

// NoNotesMessage is returned verbatim when there are no notes to assemble.
const NoNotesMessage = "I couldn't find any notes relevant to your question."

const (
	// fullDocumentLimit is the length below which a note is used whole.
	fullDocumentLimit = 1000
	// minExcerptLength is the shortest acceptable paragraph excerpt.
	minExcerptLength = 500
	// leadingExcerptLength is how much of the note is used when no
	// acceptable excerpt is found.
	leadingExcerptLength = 1000
	// maxExcerptParagraphs is how many matching paragraphs are kept.
	maxExcerptParagraphs = 3

	phraseWeight  = 5.0
	wordWeight    = 2.0
	partialWeight = 0.5

	excerptGap = "\n\n...\n\n"
)

// positionBonus favours the opening paragraphs of a note.
var positionBonus = [...]float64{0.3, 0.2, 0.1}

var blankLine = regexp.MustCompile(`\n[ \t]*\n`)

// ChunkSource looks up the stored chunks of a document.
type ChunkSource interface {
	Document(path string) (*rag.DocumentEmbedding, bool)
}

// Assembler builds LLM context from notes.
type Assembler struct {
	chunks ChunkSource
}

// New returns an Assembler. chunks may be nil, in which case excerpts are
// always taken from the raw note text.
func New(chunks ChunkSource) *Assembler {
	return &Assembler{chunks: chunks}
}

// Build formats notes best-first as labelled blocks until budget bytes are
// used. The block that would overflow is cut to fit exactly and nothing
// after it is included. With no notes, NoNotesMessage is returned, cut to
// budget when the budget is smaller than the message.
func (a *Assembler) Build(query string, notes []rag.NoteWithContent, budget int) string {
	if len(notes) == 0 {
		return truncate(NoNotesMessage, max(budget, 0))
	}

	ranked := slices.Clone(notes)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Relevance > ranked[j].Relevance
	})

	q := textmatch.Parse(query)
	var sb strings.Builder
	for _, n := range ranked {
		remaining := budget - sb.Len()
		if remaining <= 0 {
			break
		}
		block := formatBlock(n, a.Excerpt(q, n))
		if len(block) > remaining {
			sb.WriteString(truncate(block, remaining))
			break
		}
		sb.WriteString(block)
	}
	return sb.String()
}

func formatBlock(n rag.NoteWithContent, excerpt string) string {
	title := n.Title
	if title == "" {
		title = rag.Title(n.Path)
	}
	return fmt.Sprintf("## %s\nPath: %s\nRelevance: %.2f\n\n%s\n\n---\n\n", title, n.Path, n.Relevance, excerpt)
}

// Excerpt picks the part of a note to show. Short notes are used whole.
// Otherwise the matched chunk is preferred, then the stored chunks that
// match the query, then the best-matching paragraphs of the raw text.
func (a *Assembler) Excerpt(q textmatch.Query, n rag.NoteWithContent) string {
	if len(n.Content) < fullDocumentLimit {
		return n.Content
	}

	var doc *rag.DocumentEmbedding
	if a.chunks != nil {
		doc, _ = a.chunks.Document(n.Path)
	}
	if doc != nil {
		if n.ChunkIndex >= 0 && n.ChunkIndex < len(doc.Chunks) {
			return doc.Chunks[n.ChunkIndex].Content
		}
		if ex := matchingChunks(q, doc.Chunks); ex != "" {
			return ex
		}
	}
	return paragraphExcerpt(q, n.Content)
}

func matchScore(q textmatch.Query, text string) float64 {
	m := q.Match(text)
	return float64(m.Phrases)*phraseWeight + float64(m.Words)*wordWeight + float64(m.Partials)*partialWeight
}

// matchingChunks concatenates every chunk with a positive match score,
// best first.
func matchingChunks(q textmatch.Query, chunks []rag.Chunk) string {
	type scored struct {
		text  string
		score float64
	}
	var hits []scored
	for _, c := range chunks {
		if s := matchScore(q, c.Content); s > 0 {
			hits = append(hits, scored{c.Content, s})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })

	texts := make([]string, len(hits))
	for i, h := range hits {
		texts[i] = h.text
	}
	return strings.Join(texts, excerptGap)
}

// paragraphExcerpt keeps up to three matching paragraphs in document order
// with one paragraph of context before the first and after the last.
// Falls back to the opening of the note when the result is too short.
func paragraphExcerpt(q textmatch.Query, content string) string {
	var paras []string
	for _, p := range blankLine.Split(content, -1) {
		if p = strings.TrimSpace(p); p != "" {
			paras = append(paras, p)
		}
	}

	type scored struct {
		idx   int
		score float64
	}
	var hits []scored
	for i, p := range paras {
		s := matchScore(q, p)
		if s <= 0 {
			continue
		}
		if i < len(positionBonus) {
			s += positionBonus[i]
		}
		hits = append(hits, scored{i, s})
	}
	if len(hits) == 0 {
		return leading(content)
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	if len(hits) > maxExcerptParagraphs {
		hits = hits[:maxExcerptParagraphs]
	}

	keep := make(map[int]bool, len(hits)+2)
	first, last := hits[0].idx, hits[0].idx
	for _, h := range hits {
		keep[h.idx] = true
		first = min(first, h.idx)
		last = max(last, h.idx)
	}
	if first > 0 {
		keep[first-1] = true
	}
	if last+1 < len(paras) {
		keep[last+1] = true
	}

	var sb strings.Builder
	prev := -1
	for i := range paras {
		if !keep[i] {
			continue
		}
		switch {
		case prev < 0:
		case i == prev+1:
			sb.WriteString("\n\n")
		default:
			sb.WriteString(excerptGap)
		}
		sb.WriteString(paras[i])
		prev = i
	}

	if sb.Len() < minExcerptLength {
		return leading(content)
	}
	return sb.String()
}

func leading(content string) string {
	return truncate(content, leadingExcerptLength)
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
