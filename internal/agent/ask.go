package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/noteai-go/internal/budget"
	"github.com/54b3r/noteai-go/internal/logging"
	"github.com/54b3r/noteai-go/internal/store"
)

// Ask answers req.Query from the user's notes and streams the answer to w as
// it is generated. Prior turns of the session are replayed when a history
// store is configured, and the new turn is persisted afterwards.
func (r *Refiner) Ask(ctx context.Context, req Request, w io.Writer) error {
	key := sessionKey(req.Session)
	req.Session = key

	noteContext := r.BuildContext(ctx, req)
	messages := r.buildMessages(ctx, key, req.Query, noteContext)

	sr, err := r.model.Stream(ctx, messages)
	if err != nil {
		return fmt.Errorf("agent: stream failed: %w", err)
	}
	defer sr.Close()

	var answer strings.Builder
	for {
		msg, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("agent: stream receive error: %w", err)
		}
		if msg == nil || msg.Content == "" {
			continue
		}
		answer.WriteString(msg.Content)
		if _, err := io.WriteString(w, msg.Content); err != nil {
			return fmt.Errorf("agent: write error: %w", err)
		}
	}

	// Persist the turn to the conversation store (non-fatal on error).
	if r.history != nil {
		log := logging.FromContext(ctx)
		if err := r.history.Append(ctx, key, store.RoleUser, req.Query); err != nil {
			log.Warn("history: failed to persist user message", slog.Any("error", err))
		}
		if err := r.history.Append(ctx, key, store.RoleAssistant, answer.String()); err != nil {
			log.Warn("history: failed to persist assistant message", slog.Any("error", err))
		}
	}
	return nil
}

// buildMessages returns [system, ...history, notes, user], with history
// trimmed oldest-first to fit the token budget.
func (r *Refiner) buildMessages(ctx context.Context, session, question, noteContext string) []*schema.Message {
	log := logging.FromContext(ctx)
	system := schema.SystemMessage(answerPrompt)
	notes := schema.SystemMessage("## Relevant notes\n\n" + noteContext)
	user := schema.UserMessage(question)

	var historyMsgs []*schema.Message
	if r.history != nil {
		prior, err := r.history.Recent(ctx, session, r.historyDepth*2)
		if err != nil {
			log.Warn("history: failed to load prior messages", slog.Any("error", err))
		}
		for _, m := range prior {
			switch m.Role {
			case store.RoleUser:
				historyMsgs = append(historyMsgs, schema.UserMessage(m.Content))
			case store.RoleAssistant:
				historyMsgs = append(historyMsgs, schema.AssistantMessage(m.Content, nil))
			}
		}
	}

	limit := r.maxTokens + r.historyTokens
	before := len(historyMsgs)
	historyMsgs = budget.TrimHistory([]*schema.Message{system, notes, user}, historyMsgs, limit)
	if dropped := before - len(historyMsgs); dropped > 0 {
		log.Warn("budget: dropped history messages to fit context window",
			slog.Int("dropped", dropped),
			slog.Int("retained", len(historyMsgs)),
			slog.Int("max_tokens", limit),
		)
	}

	out := make([]*schema.Message, 0, len(historyMsgs)+3)
	out = append(out, system)
	out = append(out, historyMsgs...)
	return append(out, notes, user)
}
