// Package textmatch extracts search terms and phrases from a free-text query
// and counts how they occur in a piece of text. The similarity index uses it
// for its lexical boosts and the context assembler uses it to rank excerpts.
package textmatch

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Query is a parsed free-text query.
type Query struct {
	// Terms are the lowercased content words of the query in first-seen order.
	Terms []string

	// Expanded is Terms plus synonyms and singular/plural variants.
	Expanded []string

	// Phrases are lowercased multi-word sequences that should match verbatim:
	// quoted segments, or adjacent content-word pairs when nothing is quoted.
	Phrases []string
}

// Stats counts the distinct query elements found in a piece of text.
type Stats struct {
	// Phrases is the number of distinct phrases found verbatim.
	Phrases int
	// Words is the number of distinct terms found as whole words.
	Words int
	// Partials is the number of distinct terms found only inside longer words.
	Partials int
}

// Empty reports whether nothing matched.
func (s Stats) Empty() bool {
	return s.Phrases == 0 && s.Words == 0 && s.Partials == 0
}

// Parse splits a query into terms, expanded terms and phrases.
func Parse(query string) Query {
	q := Query{
		Terms:   Terms(query),
		Phrases: Phrases(query),
	}
	q.Expanded = Expand(q.Terms)
	return q
}

// Empty reports whether the query has nothing to match.
func (q Query) Empty() bool {
	return len(q.Terms) == 0 && len(q.Phrases) == 0
}

// Match counts the query's expanded terms and phrases in text.
func (q Query) Match(text string) Stats {
	return Match(text, q.Expanded, q.Phrases)
}

// Match counts terms and phrases in text. Matching is case-insensitive.
// A term found as a whole word counts toward Words; a term found only inside
// a longer word counts toward Partials.
func Match(text string, terms, phrases []string) Stats {
	var s Stats
	if text == "" {
		return s
	}
	lower := strings.ToLower(text)
	for _, p := range phrases {
		if p != "" && strings.Contains(lower, p) {
			s.Phrases++
		}
	}
	for _, t := range terms {
		switch {
		case t == "":
		case ContainsWord(lower, t):
			s.Words++
		case strings.Contains(lower, t):
			s.Partials++
		}
	}
	return s
}

// Terms returns the lowercased content words of query with stopwords and
// single characters removed, deduplicated in first-seen order.
func Terms(query string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, w := range words(query) {
		if len([]rune(w)) < 2 || isStopword(w) {
			continue
		}
		if _, ok := seen[w]; ok {
			continue
		}
		seen[w] = struct{}{}
		out = append(out, w)
	}
	return out
}

// Phrases returns the quoted segments of query. When the query quotes
// nothing, adjacent pairs of content words are returned instead.
func Phrases(query string) []string {
	var out []string
	seen := make(map[string]struct{})
	add := func(p string) {
		p = strings.Join(strings.Fields(strings.ToLower(p)), " ")
		if p == "" {
			return
		}
		if _, ok := seen[p]; ok {
			return
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}

	parts := strings.Split(query, `"`)
	for i := 1; i < len(parts); i += 2 {
		if i == len(parts)-1 {
			break // unterminated quote
		}
		add(parts[i])
	}
	if len(out) > 0 {
		return out
	}

	ws := words(query)
	for i := 0; i+1 < len(ws); i++ {
		a, b := ws[i], ws[i+1]
		if isStopword(a) || isStopword(b) || len([]rune(a)) < 2 || len([]rune(b)) < 2 {
			continue
		}
		add(a + " " + b)
	}
	return out
}

// Expand returns terms followed by their synonyms and singular/plural
// variants, deduplicated.
func Expand(terms []string) []string {
	out := make([]string, 0, len(terms)*2)
	seen := make(map[string]struct{}, len(terms)*2)
	add := func(t string) {
		if _, ok := seen[t]; ok || t == "" {
			return
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	for _, t := range terms {
		add(t)
	}
	for _, t := range terms {
		for _, v := range variants(t) {
			add(v)
		}
		for _, syn := range synonyms[t] {
			add(syn)
		}
	}
	return out
}

// ContainsWord reports whether term occurs in text bounded by non-word
// characters on both sides. Both arguments must already be lowercased.
func ContainsWord(text, term string) bool {
	if term == "" {
		return false
	}
	from := 0
	for {
		i := strings.Index(text[from:], term)
		if i < 0 {
			return false
		}
		start := from + i
		end := start + len(term)
		if boundaryBefore(text, start) && boundaryAfter(text, end) {
			return true
		}
		from = start + 1
		if from >= len(text) {
			return false
		}
	}
}

func boundaryBefore(s string, i int) bool {
	if i == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(s[:i])
	return !isWordRune(r)
}

func boundaryAfter(s string, i int) bool {
	if i >= len(s) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(s[i:])
	return !isWordRune(r)
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// words splits s into lowercased runs of letters, digits and apostrophes.
func words(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !isWordRune(r) && r != '\''
	})
}

func variants(t string) []string {
	n := len(t)
	switch {
	case n > 4 && strings.HasSuffix(t, "ies"):
		return []string{t[:n-3] + "y"}
	case n > 3 && strings.HasSuffix(t, "s") && !strings.HasSuffix(t, "ss"):
		return []string{t[:n-1]}
	case n > 3 && strings.HasSuffix(t, "y") && !strings.ContainsRune("aeiou", rune(t[n-2])):
		return []string{t[:n-1] + "ies"}
	default:
		return []string{t + "s"}
	}
}
