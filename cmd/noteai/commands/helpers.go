package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/cloudwego/eino/components/model"

	"github.com/54b3r/noteai-go/internal/embedder"
	"github.com/54b3r/noteai-go/internal/engine"
	"github.com/54b3r/noteai-go/internal/notes"
	"github.com/54b3r/noteai-go/internal/provider"
	"github.com/54b3r/noteai-go/internal/rag"
	"github.com/54b3r/noteai-go/internal/server"
	"github.com/54b3r/noteai-go/internal/store"
)

// runtimeOptions selects which optional collaborators buildRuntime wires.
type runtimeOptions struct {
	// withChat constructs the chat model provider. Failures are fatal.
	withChat bool
	// withHistory opens the conversation history store.
	withHistory bool
}

// runtime is a fully wired engine plus the handles the commands need to
// report on and release it.
type runtime struct {
	// engine is the constructed retrieval engine. Not yet initialised.
	engine *engine.Engine
	// notes is the notes directory store.
	notes *notes.Store
	// embedder is the embedding backend, nil when it failed to initialise.
	embedder rag.Embedder
	// chatModel is the chat model, nil unless requested.
	chatModel model.ToolCallingChatModel
	// providerCfg is the resolved chat provider config, nil unless requested.
	providerCfg *provider.Config
	// qdrant is set when the index persists to Qdrant.
	qdrant *store.QdrantSnapshotStore
	// closers release resources in reverse order.
	closers []func() error
}

// Close saves the index and releases every resource.
func (r *runtime) Close(ctx context.Context) error {
	errs := []error{r.engine.Close(ctx)}
	for i := len(r.closers) - 1; i >= 0; i-- {
		errs = append(errs, r.closers[i]())
	}
	return errors.Join(errs...)
}

// pingers returns the readiness checks for the wired dependencies.
func (r *runtime) pingers() []server.Pinger {
	var ps []server.Pinger
	if r.embedder != nil {
		ps = append(ps, server.NewEmbedderPinger(r.embedder, embedder.Backend()))
	}
	if r.chatModel != nil && r.providerCfg != nil {
		if r.providerCfg.Backend == provider.BackendOllama {
			ps = append(ps, server.NewOllamaPinger(r.providerCfg.Ollama.Host))
		} else {
			ps = append(ps, server.NewLLMPinger(r.chatModel, string(r.providerCfg.Backend)))
		}
	}
	if r.qdrant != nil {
		ps = append(ps, server.NewQdrantPinger(r.qdrant.Client()))
	}
	return ps
}

// buildRuntime resolves every collaborator from the environment and
// constructs the engine. An unusable embedding backend is logged and
// tolerated so a restored index can still be inspected.
func buildRuntime(ctx context.Context, log *slog.Logger, opts runtimeOptions) (*runtime, error) {
	dir := notesDir
	if dir == "" {
		dir = os.Getenv("NOTES_DIR")
	}
	if dir == "" {
		return nil, fmt.Errorf("notes directory not set: use --dir or NOTES_DIR")
	}
	ns, err := notes.New(dir, splitList(os.Getenv("NOTES_EXTENSIONS")))
	if err != nil {
		return nil, err
	}
	rt := &runtime{notes: ns}

	if err := embedder.ValidateForRAG(log); err != nil {
		log.Warn("embedder: configuration looks wrong", slog.Any("error", err))
	}
	emb, err := embedder.NewFromEnv(ctx)
	if err != nil {
		log.Warn("embedder: unavailable, searches will return no results", slog.Any("error", err))
	} else {
		rt.embedder = emb
		log.Info("embedder initialised", slog.String("provider", embedder.Backend()))
	}

	// sqliteStore is shared by the snapshot and the history when both use
	// the same database file.
	var sqliteStore *store.SQLiteStore
	var sqlitePath string
	openSQLite := func(path string) (*store.SQLiteStore, error) {
		if sqliteStore != nil && path == sqlitePath {
			return sqliteStore, nil
		}
		s, err := store.Open(path)
		if err != nil {
			return nil, err
		}
		if sqliteStore == nil {
			sqliteStore, sqlitePath = s, path
		}
		return s, nil
	}

	var persist rag.Persistence
	var persistSQLite *store.SQLiteStore
	switch backend := strings.ToLower(getEnvOrDefault("NOTEAI_PERSISTENCE", "sqlite")); backend {
	case "sqlite":
		path, err := dbPath("NOTEAI_INDEX_DB")
		if err != nil {
			return nil, err
		}
		s, err := openSQLite(path)
		if err != nil {
			return nil, fmt.Errorf("index: %w", err)
		}
		persist, persistSQLite = s, s
		log.Info("index: sqlite snapshot store opened", slog.String("path", path))
	case "qdrant":
		q, err := store.NewQdrantSnapshotStore(&store.QdrantConfig{
			Host:       getEnvOrDefault("QDRANT_HOST", "localhost"),
			Port:       getEnvInt("QDRANT_PORT", 6334),
			Collection: getEnvOrDefault("QDRANT_COLLECTION", "noteai"),
			APIKey:     os.Getenv("QDRANT_API_KEY"),
			UseTLS:     os.Getenv("QDRANT_TLS") == "true",
		})
		if err != nil {
			return nil, fmt.Errorf("index: %w", err)
		}
		persist = q
		rt.qdrant = q
		log.Info("index: qdrant snapshot store ready", slog.String("collection", getEnvOrDefault("QDRANT_COLLECTION", "noteai")))
	case "none", "memory":
		log.Info("index: persistence disabled, index is rebuilt on every start")
	default:
		return nil, rag.Errorf(rag.KindConfiguration, "index", "unknown NOTEAI_PERSISTENCE %q: valid values: sqlite, qdrant, none", backend)
	}

	var history store.ConversationStore
	if opts.withHistory {
		history = openHistory(log, openSQLite, func(s *store.SQLiteStore) {
			if s != persistSQLite {
				rt.closers = append(rt.closers, s.Close)
			}
		})
	}

	cfg := engine.ConfigFromEnv()
	cfg.Documents = ns
	cfg.Embedder = rt.embedder
	cfg.Persistence = persist
	cfg.History = history
	cfg.Logger = log

	if opts.withChat {
		pc := provider.ConfigFromEnv()
		cm, err := provider.New(ctx, pc)
		if err != nil {
			if persist != nil {
				_ = persist.Close()
			}
			return nil, fmt.Errorf("failed to initialise model provider: %w", err)
		}
		rt.chatModel, rt.providerCfg = cm, pc
		cfg.ChatModel = cm
		log.Info("provider initialised", slog.String("provider", string(pc.Backend)))
	}

	eng, err := engine.New(&cfg)
	if err != nil {
		if persist != nil {
			_ = persist.Close()
		}
		for _, c := range rt.closers {
			_ = c()
		}
		return nil, err
	}
	rt.engine = eng
	return rt, nil
}

// openHistory opens the conversation history store. NOTEAI_HISTORY_DB
// overrides the default path (~/.noteai/index.db); "disabled" turns it off.
// Failures are logged and history is disabled.
func openHistory(log *slog.Logger, open func(string) (*store.SQLiteStore, error), opened func(*store.SQLiteStore)) store.ConversationStore {
	if os.Getenv("NOTEAI_HISTORY_DB") == "disabled" {
		log.Info("history: disabled via NOTEAI_HISTORY_DB=disabled")
		return nil
	}
	path, err := dbPath("NOTEAI_HISTORY_DB")
	if err != nil {
		log.Warn("history: could not resolve default DB path, disabling", slog.Any("error", err))
		return nil
	}
	hs, err := open(path)
	if err != nil {
		log.Warn("history: failed to open store, disabling", slog.Any("error", err))
		return nil
	}
	opened(hs)
	log.Info("history: store opened", slog.String("path", path))
	return hs
}

// dbPath returns the SQLite path from key, or the default database path.
func dbPath(key string) (string, error) {
	if p := os.Getenv(key); p != "" {
		return p, nil
	}
	return store.DefaultDBPath() //nolint:wrapcheck // store errors are already prefixed
}

// initialise loads and syncs the index, logging progress.
func initialise(ctx context.Context, log *slog.Logger, eng *engine.Engine) error {
	log.Info("index: loading and syncing")
	if err := eng.Initialize(ctx); err != nil {
		return fmt.Errorf("index: %w", err)
	}
	log.Info("index: ready", slog.Int("documents", eng.Len()))
	return nil
}

// splitList splits a comma separated list, dropping empty entries.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getEnvOrDefault returns the value of the environment variable key, or
// fallback if the variable is unset or empty.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt returns the integer value of key, or fallback when unset or invalid.
func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
