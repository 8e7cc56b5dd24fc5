package commands

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/54b3r/noteai-go/internal/agent"
	"github.com/54b3r/noteai-go/internal/logging"
	"github.com/54b3r/noteai-go/internal/rag"
)

// NewContextCmd constructs the `noteai context` command, which prints the
// note context that would be handed to a chat model for a question.
func NewContextCmd() *cobra.Command {
	var agentic bool
	var active string
	var session string

	cmd := &cobra.Command{
		Use:   "context [question]",
		Short: "Print the note context assembled for a question",
		Long: `Search the notes for a question and print the assembled context block.

With --agentic (the default when a chat model is configured) the model
judges relevance and may run follow-up searches before the context is
returned. Use --agentic=false for plain search-based assembly.

Examples:
  noteai context "what did we decide about the release date?"
  noteai context --agentic=false "japan itinerary"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.New()
			ctx := logging.WithLogger(cmd.Context(), log)

			rt, err := buildRuntime(ctx, log, runtimeOptions{withChat: agentic})
			if err != nil {
				return fmt.Errorf("context: %w", err)
			}
			defer func() {
				if err := rt.Close(context.WithoutCancel(ctx)); err != nil {
					log.Error("context: close", slog.Any("error", err))
				}
			}()
			if err := initialise(ctx, log, rt.engine); err != nil {
				return fmt.Errorf("context: %w", err)
			}

			query := strings.Join(args, " ")
			var text string
			if agentic {
				text, err = rt.engine.BuildAgenticContext(ctx, agent.Request{Session: session, Query: query, ActivePath: active})
			} else {
				text, err = rt.engine.Context(ctx, rag.SearchRequest{Query: query, ActivePath: active})
			}
			if err != nil {
				return fmt.Errorf("context: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), text)
			return nil
		},
	}

	cmd.Flags().BoolVar(&agentic, "agentic", true, "Refine the context with the chat model")
	cmd.Flags().StringVar(&active, "active", "", "Path of the note currently open, ranked higher")
	cmd.Flags().StringVar(&session, "session", agent.DefaultSession, "Conversation session for follow-up questions")

	return cmd
}

// NewAskCmd constructs the `noteai ask` command, which answers a question
// from the notes and streams the answer to stdout.
func NewAskCmd() *cobra.Command {
	var active string
	var session string
	var reset bool

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a question answered from your notes",
		Long: `Ask a natural language question. The answer is generated by the chat model
from the most relevant notes and streamed to stdout.

Questions in the same --session share history, so a follow-up such as
"and what about the hotel?" reuses the notes found for the previous one.

Examples:
  noteai ask "when is the dentist appointment?"
  noteai ask --session trip "what should I pack?"
  noteai ask --session trip --reset "start over: where are we staying?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.New()
			ctx := logging.WithLogger(cmd.Context(), log)

			rt, err := buildRuntime(ctx, log, runtimeOptions{withChat: true, withHistory: true})
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			defer func() {
				if err := rt.Close(context.WithoutCancel(ctx)); err != nil {
					log.Error("ask: close", slog.Any("error", err))
				}
			}()
			if err := initialise(ctx, log, rt.engine); err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			if reset {
				if err := rt.engine.ResetConversation(ctx, session); err != nil {
					return fmt.Errorf("ask: %w", err)
				}
			}

			out := cmd.OutOrStdout()
			err = rt.engine.Ask(ctx, agent.Request{Session: session, Query: strings.Join(args, " "), ActivePath: active}, out)
			fmt.Fprintln(out)
			return err //nolint:wrapcheck // CLI entry point, error goes directly to cobra
		},
	}

	cmd.Flags().StringVar(&active, "active", "", "Path of the note currently open, ranked higher")
	cmd.Flags().StringVar(&session, "session", agent.DefaultSession, "Conversation session")
	cmd.Flags().BoolVar(&reset, "reset", false, "Forget the session history before asking")

	return cmd
}
