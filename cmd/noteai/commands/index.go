package commands

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/54b3r/noteai-go/internal/logging"
)

// NewIndexCmd constructs the `noteai index` command, which brings the
// persisted embedding index up to date with the notes directory.
func NewIndexCmd() *cobra.Command {
	var full bool

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Index the notes directory",
		Long: `Embed notes that changed since the last run and drop notes that were deleted.

The index is persisted to the backend selected by NOTEAI_PERSISTENCE
(sqlite, qdrant or none). With --full every note is re-embedded, which is
needed after switching embedding models.

Examples:
  noteai index --dir ~/notes
  noteai index --full`,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.New()
			ctx := logging.WithLogger(cmd.Context(), log)

			rt, err := buildRuntime(ctx, log, runtimeOptions{})
			if err != nil {
				return fmt.Errorf("index: %w", err)
			}
			defer func() {
				if err := rt.Close(context.WithoutCancel(ctx)); err != nil {
					log.Error("index: close", slog.Any("error", err))
				}
			}()

			if !full {
				if err := rt.engine.Restore(ctx); err != nil {
					return fmt.Errorf("index: %w", err)
				}
			}

			start := time.Now()
			res, err := rt.engine.Sync(ctx, full, func(msg string) { log.Info(msg) })
			fmt.Fprintf(cmd.OutOrStdout(), "indexed %d, unchanged %d, removed %d, failed %d (%d notes, %s)\n",
				res.Indexed, res.Unchanged, res.Removed, res.Failed, rt.engine.Len(), time.Since(start).Round(time.Millisecond))
			if err != nil {
				return fmt.Errorf("index: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&full, "full", false, "Re-embed every note instead of only changed ones")

	return cmd
}
