package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/54b3r/noteai-go/internal/logging"
	"github.com/54b3r/noteai-go/internal/rag"
)

// NewSearchCmd constructs the `noteai search` command, which prints the
// notes best matching a query.
func NewSearchCmd() *cobra.Command {
	var limit int
	var active string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search notes by meaning",
		Long: `Search the indexed notes and print the best matching excerpts.
A long note can appear more than once, once per matching chunk.

Scores combine embedding similarity with boosts for title, header and
phrase matches and for the note passed with --active.

Examples:
  noteai search "packing list for japan"
  noteai search --limit 3 --json "standup notes"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.New()
			ctx := logging.WithLogger(cmd.Context(), log)

			rt, err := buildRuntime(ctx, log, runtimeOptions{})
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}
			defer func() {
				if err := rt.Close(context.WithoutCancel(ctx)); err != nil {
					log.Error("search: close", slog.Any("error", err))
				}
			}()
			if err := initialise(ctx, log, rt.engine); err != nil {
				return fmt.Errorf("search: %w", err)
			}

			results, err := rt.engine.Search(ctx, rag.SearchRequest{
				Query:      strings.Join(args, " "),
				Limit:      limit,
				ActivePath: active,
			})
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(results) //nolint:wrapcheck // CLI entry point, error goes directly to cobra
			}
			if len(results) == 0 {
				fmt.Fprintln(out, "no matching notes")
				return nil
			}
			for i, r := range results {
				fmt.Fprintf(out, "%2d. %.3f  %s#%d\n", i+1, r.Relevance, r.Path, r.ChunkIndex)
				if excerpt := rt.engine.Excerpt(strings.Join(args, " "), r); excerpt != "" {
					fmt.Fprintf(out, "    %s\n", oneLine(excerpt, 160))
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum excerpts to return (default: $RAG_SEARCH_LIMIT or 10)")
	cmd.Flags().StringVar(&active, "active", "", "Path of the note currently open, ranked higher")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print results as JSON")

	return cmd
}

// oneLine collapses whitespace in s and truncates it to n runes.
func oneLine(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > n {
		return string(r[:n]) + "…"
	}
	return s
}
