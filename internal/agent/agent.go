// Package agent implements the agentic refinement loop that sits between note
// retrieval and the language model. It filters search hits for relevance,
// asks the model whether the assembled context is enough, runs bounded
// follow-up searches when it is not, reuses the previous turn's notes when a
// question continues the conversation, and streams the final answer.
//
// Every model call is fail-open: errors and unparseable replies are logged and
// the loop continues with the context it already has.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/noteai-go/internal/budget"
	"github.com/54b3r/noteai-go/internal/logging"
	"github.com/54b3r/noteai-go/internal/rag"
	"github.com/54b3r/noteai-go/internal/store"
)

const (
	// maxRounds caps the evaluate/follow-up cycles per question.
	maxRounds = 2
	// fallbackScore is the relevance a hit needs to survive a failed
	// relevance classification.
	fallbackScore = 0.75
	// candidateExcerptLen caps each excerpt shown to the relevance filter.
	candidateExcerptLen = 400
	// DefaultSession names the conversation used when a request has none.
	DefaultSession = "default"
)

// Retriever is the retrieval surface the loop drives. engine.Engine
// satisfies it.
type Retriever interface {
	// Search returns notes ranked best-first. Failures degrade to no results.
	Search(ctx context.Context, req rag.SearchRequest) ([]rag.NoteWithContent, error)
	// BuildContext assembles notes into a context of at most budget characters.
	BuildContext(query string, notes []rag.NoteWithContent, budget int) string
	// Excerpt returns the part of a note most relevant to query.
	Excerpt(query string, note rag.NoteWithContent) string
}

// Config holds the dependencies required to construct a Refiner.
type Config struct {
	// ChatModel evaluates context and writes answers. Required.
	ChatModel model.BaseChatModel

	// Retriever runs searches and assembles context. Required.
	Retriever Retriever

	// SearchLimit caps hits for the primary search. Defaults to 10.
	SearchLimit int

	// FollowUpLimit caps hits for each follow-up search. Defaults to 3.
	FollowUpLimit int

	// MaxContextTokens is the token budget for assembled note context.
	// Defaults to budget.DefaultMaxContextTokens.
	MaxContextTokens int

	// History optionally persists chat turns so Ask can replay them.
	History store.ConversationStore

	// HistoryDepth is the number of prior turns (user+assistant pairs) to
	// inject per question. Defaults to 10.
	HistoryDepth int

	// HistoryTokens is the token allowance for replayed history on top of
	// MaxContextTokens. Defaults to 2000.
	HistoryTokens int
}

// Request identifies one question in one conversation.
type Request struct {
	// Session keys conversation memory and history. Empty means DefaultSession.
	Session string
	// Query is the user's question.
	Query string
	// ActivePath is the note the user has open, if any.
	ActivePath string
}

// Memory records which notes answered the previous question of a session.
type Memory struct {
	// Notes are the notes used for the last answer.
	Notes []rag.NoteWithContent
	// LastQuery is the previous question.
	LastQuery string
}

// Refiner runs the agentic refinement loop. Safe for concurrent use; memory
// is kept per session.
type Refiner struct {
	model     model.BaseChatModel
	retriever Retriever

	searchLimit   int
	followUpLimit int
	budgetChars   int
	maxTokens     int

	history       store.ConversationStore
	historyDepth  int
	historyTokens int

	// mu guards memory.
	mu     sync.Mutex
	memory map[string]Memory
}

// New constructs a Refiner from cfg.
func New(cfg *Config) (*Refiner, error) {
	if cfg.ChatModel == nil {
		return nil, fmt.Errorf("agent: ChatModel must not be nil")
	}
	if cfg.Retriever == nil {
		return nil, fmt.Errorf("agent: Retriever must not be nil")
	}

	limit := cfg.SearchLimit
	if limit <= 0 {
		limit = 10
	}
	followUp := cfg.FollowUpLimit
	if followUp <= 0 {
		followUp = 3
	}
	maxTokens := cfg.MaxContextTokens
	if maxTokens <= 0 {
		maxTokens = budget.DefaultMaxContextTokens
	}
	depth := cfg.HistoryDepth
	if depth <= 0 {
		depth = 10
	}
	historyTokens := cfg.HistoryTokens
	if historyTokens <= 0 {
		historyTokens = 2000
	}

	return &Refiner{
		model:         cfg.ChatModel,
		retriever:     cfg.Retriever,
		searchLimit:   limit,
		followUpLimit: followUp,
		budgetChars:   budget.CharsForTokens(maxTokens),
		maxTokens:     maxTokens,
		history:       cfg.History,
		historyDepth:  depth,
		historyTokens: historyTokens,
		memory:        make(map[string]Memory),
	}, nil
}

// Memory returns a copy of the session's conversation memory.
func (r *Refiner) Memory(session string) Memory {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := r.memory[sessionKey(session)]
	m.Notes = append([]rag.NoteWithContent(nil), m.Notes...)
	return m
}

// Reset forgets the session's memory and deletes its stored history.
func (r *Refiner) Reset(ctx context.Context, session string) error {
	key := sessionKey(session)
	r.mu.Lock()
	delete(r.memory, key)
	r.mu.Unlock()

	if r.history != nil {
		if err := r.history.Reset(ctx, key); err != nil {
			return fmt.Errorf("agent: reset history: %w", err)
		}
	}
	return nil
}

// BuildContext returns note context for req.Query, refined by the model.
// The result never exceeds the configured budget except for the fixed
// no-notes message. Cancellation stops further rounds; whatever context has
// been assembled so far is returned.
func (r *Refiner) BuildContext(ctx context.Context, req Request) string {
	ctx, log := logging.Component(ctx, "refiner")
	key := sessionKey(req.Session)

	notes, reused := r.continuation(ctx, key, req)
	if !reused {
		hits := r.search(ctx, req.Query, r.searchLimit, req.ActivePath)
		notes = r.filterRelevant(ctx, req.Query, hits)
	}

	text := r.retriever.BuildContext(req.Query, notes, r.budgetChars)
	if len(notes) == 0 {
		r.remember(key, nil, req.Query)
		return text
	}

	used := make(map[string]bool, len(notes))
	for _, n := range notes {
		used[n.Path] = true
	}
	asked := map[string]bool{normalizeQuery(req.Query): true}

	for round := 0; round < maxRounds; round++ {
		if ctx.Err() != nil {
			log.Debug("refiner: cancelled, returning partial context", slog.Int("round", round))
			break
		}
		eval, ok := r.evaluate(ctx, req.Query, text)
		if !ok || eval.Sufficient || len(eval.FollowUps) == 0 {
			break
		}

		added := false
		for _, fq := range eval.FollowUps {
			if ctx.Err() != nil {
				break
			}
			k := normalizeQuery(fq)
			if asked[k] {
				continue
			}
			asked[k] = true

			header := "\n\n## Additional information: " + fq + "\n\n"
			remaining := budget.Remaining(r.budgetChars, text) - len(header)
			if remaining <= 0 {
				log.Debug("refiner: context budget exhausted", slog.String("follow_up", fq))
				break
			}

			var fresh []rag.NoteWithContent
			for _, h := range r.search(ctx, fq, r.followUpLimit, req.ActivePath) {
				if !used[h.Path] {
					fresh = append(fresh, h)
				}
			}
			fresh = r.filterRelevant(ctx, fq, fresh)
			if len(fresh) == 0 {
				continue
			}

			text += header + r.retriever.BuildContext(fq, fresh, remaining)
			for _, n := range fresh {
				used[n.Path] = true
			}
			notes = append(notes, fresh...)
			added = true
			log.Debug("refiner: added follow-up context",
				slog.Int("round", round),
				slog.String("follow_up", fq),
				slog.Int("notes", len(fresh)),
			)
		}
		if !added {
			break
		}
	}

	r.remember(key, notes, req.Query)
	return text
}

// continuation reuses the previous turn's notes when the model judges the
// question a follow-on. It reports false when a fresh search is needed.
func (r *Refiner) continuation(ctx context.Context, key string, req Request) ([]rag.NoteWithContent, bool) {
	r.mu.Lock()
	prev := r.memory[key]
	r.mu.Unlock()
	if prev.LastQuery == "" || len(prev.Notes) == 0 {
		return nil, false
	}

	var titles []string
	listed := make(map[string]bool, len(prev.Notes))
	for _, n := range prev.Notes {
		if !listed[n.Path] {
			listed[n.Path] = true
			titles = append(titles, "- "+n.Title)
		}
	}
	prompt := fmt.Sprintf("Previous question: %s\n\nNotes used:\n%s\n\nNew question: %s",
		prev.LastQuery, strings.Join(titles, "\n"), req.Query)

	log := logging.FromContext(ctx)
	reply, err := r.complete(ctx, continuityPrompt, prompt)
	if err != nil {
		log.Warn("refiner: continuity check failed", slog.Any("error", err))
		return nil, false
	}
	parsed := ParseContinuity(reply)
	if !parsed.OK {
		log.Debug("refiner: continuity reply unparseable, searching afresh")
		return nil, false
	}
	if !parsed.Record.Continuation {
		return nil, false
	}

	notes := r.filterRelevant(ctx, req.Query, prev.Notes)
	if parsed.Record.NeedsMoreInfo {
		q := parsed.Record.Query
		if q == "" {
			q = req.Query
		}
		have := make(map[string]bool, len(notes))
		for _, n := range notes {
			have[n.Path] = true
		}
		var fresh []rag.NoteWithContent
		for _, h := range r.search(ctx, q, r.followUpLimit, req.ActivePath) {
			if !have[h.Path] {
				fresh = append(fresh, h)
			}
		}
		notes = append(notes, r.filterRelevant(ctx, req.Query, fresh)...)
	}
	if len(notes) == 0 {
		return nil, false
	}
	log.Debug("refiner: continuing previous turn", slog.Int("notes", len(notes)))
	return notes, true
}

// filterRelevant keeps the candidates the model classifies as relevant. When
// classification fails it keeps candidates scoring above fallbackScore, or
// the single best candidate if none do.
func (r *Refiner) filterRelevant(ctx context.Context, query string, candidates []rag.NoteWithContent) []rag.NoteWithContent {
	if len(candidates) == 0 {
		return nil
	}
	log := logging.FromContext(ctx)

	var sb strings.Builder
	fmt.Fprintf(&sb, "Question: %s\n\nCandidates:\n", query)
	for i, c := range candidates {
		fmt.Fprintf(&sb, "\n[%d] %s\n%s\n", i, c.Title, clip(r.retriever.Excerpt(query, c), candidateExcerptLen))
	}

	reply, err := r.complete(ctx, relevancePrompt, sb.String())
	if err != nil {
		log.Warn("refiner: relevance check failed, using score fallback", slog.Any("error", err))
		return scoreFallback(candidates)
	}
	parsed := ParseRelevance(reply)
	if !parsed.OK {
		log.Debug("refiner: relevance reply unparseable, using score fallback")
		return scoreFallback(candidates)
	}

	keep := make(map[int]bool, len(parsed.Record.Relevant))
	for _, i := range parsed.Record.Relevant {
		if i >= 0 && i < len(candidates) {
			keep[i] = true
		}
	}
	out := make([]rag.NoteWithContent, 0, len(keep))
	for i, c := range candidates {
		if keep[i] {
			out = append(out, c)
		}
	}
	return out
}

// evaluate asks whether context answers query. ok is false when the model
// could not be consulted; an unparseable reply counts as sufficient.
func (r *Refiner) evaluate(ctx context.Context, query, assembled string) (Evaluation, bool) {
	log := logging.FromContext(ctx)
	reply, err := r.complete(ctx, evaluatePrompt, "Question: "+query+"\n\nContext:\n"+assembled)
	if err != nil {
		log.Warn("refiner: evaluation failed", slog.Any("error", err))
		return Evaluation{}, false
	}
	parsed := ParseEvaluation(reply)
	if !parsed.OK {
		log.Debug("refiner: evaluation reply unparseable, treating context as sufficient")
		return Evaluation{Sufficient: true}, true
	}
	log.Debug("refiner: evaluated context",
		slog.Bool("sufficient", parsed.Record.Sufficient),
		slog.Int("follow_ups", len(parsed.Record.FollowUps)),
		slog.String("strategy", parsed.Strategy),
	)
	return parsed.Record, true
}

func (r *Refiner) search(ctx context.Context, query string, limit int, active string) []rag.NoteWithContent {
	hits, err := r.retriever.Search(ctx, rag.SearchRequest{Query: query, Limit: limit, ActivePath: active})
	if err != nil {
		logging.FromContext(ctx).Warn("refiner: search failed", slog.String("query", query), slog.Any("error", err))
		return nil
	}
	return hits
}

func (r *Refiner) complete(ctx context.Context, system, user string) (string, error) {
	msg, err := r.model.Generate(ctx, []*schema.Message{
		schema.SystemMessage(system),
		schema.UserMessage(user),
	})
	if err != nil {
		return "", fmt.Errorf("agent: generate: %w", err)
	}
	if msg == nil {
		return "", rag.Errorf(rag.KindProviderResponse, "agent: generate", "nil message")
	}
	return msg.Content, nil
}

func (r *Refiner) remember(key string, notes []rag.NoteWithContent, query string) {
	r.mu.Lock()
	r.memory[key] = Memory{Notes: notes, LastQuery: query}
	r.mu.Unlock()
}

// scoreFallback keeps candidates above fallbackScore, or the best one.
func scoreFallback(candidates []rag.NoteWithContent) []rag.NoteWithContent {
	var out []rag.NoteWithContent
	for _, c := range candidates {
		if c.Relevance > fallbackScore {
			out = append(out, c)
		}
	}
	if len(out) > 0 {
		return out
	}
	best := make([]rag.NoteWithContent, len(candidates))
	copy(best, candidates)
	sort.SliceStable(best, func(i, j int) bool { return best[i].Relevance > best[j].Relevance })
	return best[:1]
}

func sessionKey(s string) string {
	if s == "" {
		return DefaultSession
	}
	return s
}

func normalizeQuery(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}

// clip truncates s to at most n bytes without splitting a rune.
func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
