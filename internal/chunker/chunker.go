// Package chunker splits markdown notes into overlapping, header-aware chunks
// suitable for embedding.
//
// A note is first divided into sections at header lines, then into
// blank-line-delimited paragraphs. Paragraphs accumulate into a chunk until
// the next one would exceed the size limit. A chunk closed for size seeds the
// next chunk with a tail of its own text (whole sentences first, then whole
// paragraphs, then a raw suffix); a chunk closed at a header does not.
// A final pass merges adjacent undersized chunks.
package chunker

import (
	"regexp"
	"slices"
	"strings"
	"unicode/utf8"
)

const (
	// DefaultSize is the default maximum chunk length in bytes.
	DefaultSize = 1000
	// DefaultOverlap is the default overlap length in bytes.
	DefaultOverlap = 200

	// separator joins paragraphs inside a chunk.
	separator = "\n\n"
)

// sentenceEnd matches terminal punctuation followed by whitespace.
var sentenceEnd = regexp.MustCompile(`[.!?]\s+`)

// Piece is one chunk of a document.
type Piece struct {
	// Content is the chunk text, overlap prefix included.
	Content string

	// Position is the byte offset in the source where the chunk's own
	// paragraphs begin, moved back by Overlap and clamped to the previous
	// piece's Position.
	Position int

	// Overlap is the number of leading bytes of Content that repeat the end
	// of the previous chunk, separator included. Zero when not seeded.
	Overlap int
}

// Body returns the chunk text without its overlap prefix.
func (p Piece) Body() string {
	return p.Content[p.Overlap:]
}

// IsHeaderLine reports whether s begins with a markdown header: one to six
// '#' characters followed by whitespace.
func IsHeaderLine(s string) bool {
	n := 0
	for n < len(s) && s[n] == '#' {
		n++
	}
	if n == 0 || n > 6 || n >= len(s) {
		return false
	}
	switch s[n] {
	case ' ', '\t', '\n', '\r':
		return true
	}
	return false
}

type paragraph struct {
	text   string
	pos    int
	header bool
}

type draft struct {
	overlap string
	paras   []paragraph
}

func (d draft) body() string {
	texts := make([]string, len(d.paras))
	for i, p := range d.paras {
		texts[i] = p.text
	}
	return strings.Join(texts, separator)
}

func (d draft) content() string {
	if d.overlap == "" {
		return d.body()
	}
	return d.overlap + separator + d.body()
}

func (d draft) length() int {
	n := 0
	if d.overlap != "" {
		n += len(d.overlap) + len(separator)
	}
	for i, p := range d.paras {
		if i > 0 {
			n += len(separator)
		}
		n += len(p.text)
	}
	return n
}

func (d draft) startsWithHeader() bool {
	return len(d.paras) > 0 && d.paras[0].header
}

// Chunk splits content into pieces of at most size bytes, each seeded with up
// to overlap bytes from its predecessor. A single paragraph longer than size
// becomes its own oversized piece. Whitespace-only content yields nil.
func Chunk(content string, size, overlap int) []Piece {
	if strings.TrimSpace(content) == "" {
		return nil
	}
	if size <= 0 {
		size = DefaultSize
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size / 5
	}

	var drafts []draft
	for _, section := range sections(paragraphs(content)) {
		var cur draft
		for _, p := range section {
			if len(cur.paras) > 0 && cur.length()+len(separator)+len(p.text) > size {
				drafts = append(drafts, cur)
				cur = draft{overlap: overlapTail(cur.body(), overlap)}
			}
			cur.paras = append(cur.paras, p)
		}
		if len(cur.paras) > 0 {
			drafts = append(drafts, cur)
		}
	}

	drafts = consolidate(drafts, size, overlap)

	pieces := make([]Piece, 0, len(drafts))
	last := 0
	for _, d := range drafts {
		p := Piece{Content: d.content()}
		if d.overlap != "" {
			p.Overlap = len(d.overlap) + len(separator)
		}
		p.Position = max(d.paras[0].pos-p.Overlap, last)
		last = p.Position
		pieces = append(pieces, p)
	}
	return pieces
}

// consolidate merges adjacent drafts while the merged text fits in size.
// A draft that cannot be merged is re-seeded from the group before it unless
// it opens with a header.
func consolidate(drafts []draft, size, overlap int) []draft {
	if len(drafts) < 2 {
		return drafts
	}
	out := []draft{drafts[0]}
	for _, d := range drafts[1:] {
		last := &out[len(out)-1]
		merged := draft{overlap: last.overlap, paras: slices.Concat(last.paras, d.paras)}
		if merged.length() <= size {
			*last = merged
			continue
		}
		next := draft{paras: d.paras}
		if !d.startsWithHeader() {
			next.overlap = overlapTail(last.body(), overlap)
		}
		out = append(out, next)
	}
	return out
}

// paragraphs splits content into blank-line-delimited paragraphs. A header
// line always opens a new paragraph.
func paragraphs(content string) []paragraph {
	var (
		out   []paragraph
		lines []string
		start int
	)
	flush := func() {
		if len(lines) == 0 {
			return
		}
		out = append(out, paragraph{
			text:   strings.Join(lines, "\n"),
			pos:    start,
			header: IsHeaderLine(lines[0]),
		})
		lines = nil
	}

	offset := 0
	for _, raw := range strings.SplitAfter(content, "\n") {
		lineStart := offset
		offset += len(raw)
		line := strings.TrimRight(raw, "\r\n")
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		if IsHeaderLine(line) {
			flush()
		}
		if len(lines) == 0 {
			start = lineStart
		}
		lines = append(lines, line)
	}
	flush()
	return out
}

// sections groups paragraphs so that every header paragraph starts a group.
func sections(paras []paragraph) [][]paragraph {
	var out [][]paragraph
	for _, p := range paras {
		if p.header || len(out) == 0 {
			out = append(out, nil)
		}
		out[len(out)-1] = append(out[len(out)-1], p)
	}
	return out
}

// overlapTail picks the text that seeds the next chunk: the longest run of
// trailing sentences within n bytes, else trailing paragraphs, else a raw
// n-byte suffix. The sentence and paragraph runs are rejected when shorter
// than n/2.
func overlapTail(text string, n int) string {
	if n <= 0 || text == "" {
		return ""
	}

	var sentenceStarts []int
	sentenceStarts = append(sentenceStarts, 0)
	for _, m := range sentenceEnd.FindAllStringIndex(text, -1) {
		if m[1] < len(text) {
			sentenceStarts = append(sentenceStarts, m[1])
		}
	}
	if tail := trailingWithin(text, sentenceStarts, n); len(tail) >= n/2 && tail != "" {
		return tail
	}

	paraStarts := []int{0}
	for i := 0; ; {
		j := strings.Index(text[i:], separator)
		if j < 0 {
			break
		}
		i += j + len(separator)
		paraStarts = append(paraStarts, i)
	}
	if tail := trailingWithin(text, paraStarts, n); len(tail) >= n/2 && tail != "" {
		return tail
	}

	if len(text) <= n {
		return strings.TrimSpace(text)
	}
	i := len(text) - n
	for i < len(text) && !utf8.RuneStart(text[i]) {
		i++
	}
	return strings.TrimSpace(text[i:])
}

// trailingWithin walks unit boundaries from the end of text and returns the
// longest suffix starting at a boundary whose trimmed length is at most n.
func trailingWithin(text string, starts []int, n int) string {
	best := ""
	for i := len(starts) - 1; i >= 0; i-- {
		candidate := strings.TrimSpace(text[starts[i]:])
		if len(candidate) > n {
			break
		}
		best = candidate
	}
	return best
}
