// Package commands defines all Cobra CLI commands for the noteai binary.
package commands

import (
	"errors"
	"io/fs"
	"log/slog"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/54b3r/noteai-go/internal/audit"
	"github.com/54b3r/noteai-go/internal/config"
	"github.com/54b3r/noteai-go/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// notesDir holds the --dir flag value overriding NOTES_DIR.
var notesDir string

// loadedConfigPath stores the resolved config file path for audit logging.
var loadedConfigPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "noteai",
		Short: "noteai: semantic search and question answering over your notes",
		Long: `noteai indexes a directory of markdown and text notes with embeddings and
answers searches and questions from them.

Searches combine vector similarity with filename, header and phrase matches.
Questions are answered by an LLM that can refine its own context with
follow-up searches before responding.

The notes directory is set with --dir, NOTES_DIR, or a YAML config file
(~/.noteai/config.yaml). Providers are selected with MODEL_PROVIDER and
EMBEDDING_PROVIDER. A .env file in the working directory is loaded first.
See 'noteai --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New()

			// .env values sit below real env vars and above the YAML file.
			if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
				log.Warn("config: failed to load .env", slog.Any("error", err))
			}

			// Load YAML config (env vars always override YAML values).
			path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}
			loadedConfigPath = path

			// Emit structured audit log for every command invocation.
			audit.LogCommandStart(log, cmd.Name(), loadedConfigPath)

			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.noteai/config.yaml)")
	root.PersistentFlags().StringVarP(&notesDir, "dir", "d", "", "Notes directory (default: $NOTES_DIR)")

	root.AddCommand(
		NewServeCmd(),
		NewIndexCmd(),
		NewSearchCmd(),
		NewContextCmd(),
		NewAskCmd(),
		NewInspectCmd(),
		NewVersionCmd(),
	)

	return root
}
