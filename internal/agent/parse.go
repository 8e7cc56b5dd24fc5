package agent

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

// maxFollowUps caps the follow-up queries taken from one evaluation.
const maxFollowUps = 2

// Parsed is the outcome of decoding a model reply. OK is false when every
// strategy failed; Record is then the zero value and must not be used.
type Parsed[T any] struct {
	// Record is the decoded value.
	Record T
	// OK reports whether a strategy succeeded.
	OK bool
	// Strategy names the strategy that produced Record.
	Strategy string
}

// Strategy names, in the order they are attempted.
const (
	StrategyStrict = "strict"
	StrategyFence  = "fence"
	StrategyLabel  = "label"
	StrategyBraces = "braces"
	StrategyRegex  = "regex"
)

var (
	fenceRe = regexp.MustCompile("(?s)^\\s*```[a-zA-Z0-9_-]*\\s*\\n?(.*?)\\n?\\s*```\\s*$")
	labelRe = regexp.MustCompile(`^\s*[A-Za-z][A-Za-z _-]{0,39}:?\s*$`)

	sufficientRe = regexp.MustCompile(`(?i)"?sufficient"?\s*[:=]\s*"?(true|false|yes|no)\b`)
	followUpsRe  = regexp.MustCompile(`(?is)"?follow[_ ]?up[_ ]?queries"?\s*[:=]\s*\[(.*?)\]`)
	quotedRe     = regexp.MustCompile(`"((?:[^"\\]|\\.)*)"`)
	relevantRe   = regexp.MustCompile(`(?is)"?relevant"?\s*[:=]\s*\[([^\]]*)\]`)
	digitsRe     = regexp.MustCompile(`\d+`)
	continuesRe  = regexp.MustCompile(`(?i)"?continuation"?\s*[:=]\s*"?(true|false|yes|no)\b`)
	needsMoreRe  = regexp.MustCompile(`(?i)"?needs[_ ]?more[_ ]?info"?\s*[:=]\s*"?(true|false|yes|no)\b`)
	searchQRe    = regexp.MustCompile(`(?i)"?search[_ ]?query"?\s*[:=]\s*"((?:[^"\\]|\\.)*)"`)
)

// parseReply runs the ordered strategies: strict JSON, fenced code block,
// leading bare label, outermost braces, then field-level regex extraction.
func parseReply[T any](reply string, decode func([]byte) (T, bool), extract func(string) (T, bool)) Parsed[T] {
	text := strings.TrimSpace(reply)
	if text == "" {
		return Parsed[T]{}
	}

	if v, ok := decode([]byte(text)); ok {
		return Parsed[T]{Record: v, OK: true, Strategy: StrategyStrict}
	}

	unfenced := text
	if m := fenceRe.FindStringSubmatch(text); m != nil {
		unfenced = strings.TrimSpace(m[1])
		if v, ok := decode([]byte(unfenced)); ok {
			return Parsed[T]{Record: v, OK: true, Strategy: StrategyFence}
		}
	}

	if i := strings.IndexByte(unfenced, '{'); i > 0 && labelRe.MatchString(unfenced[:i]) {
		if v, ok := decode([]byte(unfenced[i:])); ok {
			return Parsed[T]{Record: v, OK: true, Strategy: StrategyLabel}
		}
	}

	if i, j := strings.IndexByte(text, '{'), strings.LastIndexByte(text, '}'); i >= 0 && j > i {
		if v, ok := decode([]byte(text[i : j+1])); ok {
			return Parsed[T]{Record: v, OK: true, Strategy: StrategyBraces}
		}
	}

	if v, ok := extract(text); ok {
		return Parsed[T]{Record: v, OK: true, Strategy: StrategyRegex}
	}
	return Parsed[T]{}
}

// ParseEvaluation decodes a sufficiency judgement.
func ParseEvaluation(reply string) Parsed[Evaluation] {
	return parseReply(reply, decodeEvaluation, extractEvaluation)
}

// ParseRelevance decodes a relevance classification.
func ParseRelevance(reply string) Parsed[Relevance] {
	return parseReply(reply, decodeRelevance, extractRelevance)
}

// ParseContinuity decodes a continuity judgement.
func ParseContinuity(reply string) Parsed[Continuity] {
	return parseReply(reply, decodeContinuity, extractContinuity)
}

func decodeEvaluation(b []byte) (Evaluation, bool) {
	var w evaluationWire
	if err := json.Unmarshal(b, &w); err != nil || w.Sufficient == nil {
		return Evaluation{}, false
	}
	return Evaluation{Sufficient: *w.Sufficient, FollowUps: cleanQueries(w.FollowUps)}, true
}

func extractEvaluation(s string) (Evaluation, bool) {
	m := sufficientRe.FindStringSubmatch(s)
	if m == nil {
		return Evaluation{}, false
	}
	ev := Evaluation{Sufficient: truthy(m[1])}
	if fm := followUpsRe.FindStringSubmatch(s); fm != nil {
		var qs []string
		for _, q := range quotedRe.FindAllStringSubmatch(fm[1], -1) {
			qs = append(qs, unescape(q[1]))
		}
		ev.FollowUps = cleanQueries(qs)
	}
	return ev, true
}

func decodeRelevance(b []byte) (Relevance, bool) {
	var w relevanceWire
	if err := json.Unmarshal(b, &w); err != nil || w.Relevant == nil {
		return Relevance{}, false
	}
	return Relevance{Relevant: *w.Relevant}, true
}

func extractRelevance(s string) (Relevance, bool) {
	m := relevantRe.FindStringSubmatch(s)
	if m == nil {
		return Relevance{}, false
	}
	r := Relevance{Relevant: []int{}}
	for _, d := range digitsRe.FindAllString(m[1], -1) {
		if n, err := strconv.Atoi(d); err == nil {
			r.Relevant = append(r.Relevant, n)
		}
	}
	return r, true
}

func decodeContinuity(b []byte) (Continuity, bool) {
	var w continuityWire
	if err := json.Unmarshal(b, &w); err != nil || w.Continuation == nil {
		return Continuity{}, false
	}
	c := Continuity{Continuation: *w.Continuation, Query: strings.TrimSpace(w.Query)}
	if w.NeedsMoreInfo != nil {
		c.NeedsMoreInfo = *w.NeedsMoreInfo
	}
	return c, true
}

func extractContinuity(s string) (Continuity, bool) {
	m := continuesRe.FindStringSubmatch(s)
	if m == nil {
		return Continuity{}, false
	}
	c := Continuity{Continuation: truthy(m[1])}
	if nm := needsMoreRe.FindStringSubmatch(s); nm != nil {
		c.NeedsMoreInfo = truthy(nm[1])
	}
	if qm := searchQRe.FindStringSubmatch(s); qm != nil {
		c.Query = strings.TrimSpace(unescape(qm[1]))
	}
	return c, true
}

// cleanQueries trims, drops blanks and case-insensitive duplicates, and caps
// the list at maxFollowUps.
func cleanQueries(qs []string) []string {
	seen := make(map[string]bool, len(qs))
	var out []string
	for _, q := range qs {
		q = strings.TrimSpace(q)
		key := strings.ToLower(q)
		if q == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, q)
		if len(out) == maxFollowUps {
			break
		}
	}
	return out
}

func truthy(s string) bool {
	switch strings.ToLower(s) {
	case "true", "yes":
		return true
	}
	return false
}

// unescape decodes a JSON string body, returning it raw if it is not valid.
func unescape(s string) string {
	var out string
	if err := json.Unmarshal([]byte(`"`+s+`"`), &out); err != nil {
		return s
	}
	return out
}
