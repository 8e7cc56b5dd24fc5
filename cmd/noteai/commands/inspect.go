package commands

import (
	"context"
	"fmt"
	"log/slog"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/54b3r/noteai-go/internal/logging"
)

// NewInspectCmd constructs the `noteai inspect` command, which lists the
// persisted index or shows the chunks stored for one note.
func NewInspectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect [path]",
		Short: "Show what is stored in the index",
		Long: `Without arguments, list every indexed note. With a path, print the note's
chunks with their offsets and embedding size.

The persisted snapshot is read as is; no embedding calls are made.

Examples:
  noteai inspect
  noteai inspect travel/japan.md`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.New()
			ctx := logging.WithLogger(cmd.Context(), log)

			rt, err := buildRuntime(ctx, log, runtimeOptions{})
			if err != nil {
				return fmt.Errorf("inspect: %w", err)
			}
			defer func() {
				if err := rt.Close(context.WithoutCancel(ctx)); err != nil {
					log.Error("inspect: close", slog.Any("error", err))
				}
			}()
			if err := rt.engine.Restore(ctx); err != nil {
				return fmt.Errorf("inspect: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(args) == 0 {
				for _, p := range rt.engine.IndexedPaths() {
					fmt.Fprintln(out, p)
				}
				fmt.Fprintf(out, "%d notes indexed\n", rt.engine.Len())
				return nil
			}

			doc, ok := rt.engine.DocumentEmbedding(args[0])
			if !ok {
				return fmt.Errorf("inspect: %s is not indexed", args[0])
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintf(tw, "CHUNK\tOFFSET\tHEADER\tLENGTH\tPREVIEW\n")
			for i, c := range doc.Chunks {
				fmt.Fprintf(tw, "%d\t%d\t%t\t%d\t%s\n", i, c.Position, c.IsHeader(), len(c.Content), oneLine(c.Content, 60))
			}
			if err := tw.Flush(); err != nil {
				return fmt.Errorf("inspect: %w", err)
			}
			fmt.Fprintf(out, "%d chunks, %d dimensions\n", len(doc.Chunks), doc.Dimension())
			return nil
		},
	}

	return cmd
}
