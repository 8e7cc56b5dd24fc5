package engine

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/54b3r/noteai-go/internal/budget"
	"github.com/54b3r/noteai-go/internal/chunker"
)

// Retrieval defaults used when neither the config file nor the environment
// sets a value.
const (
	DefaultThreshold        = 0.3
	DefaultSearchLimit      = 10
	DefaultFollowUpLimit    = 3
	DefaultEmbedConcurrency = 4
	DefaultReindexDelay     = 2 * time.Second
)

// ConfigFromEnv reads the retrieval tunables from RAG_* environment variables.
// Collaborators (Documents, Embedder, Persistence, ChatModel, History) are
// left nil for the caller to fill in.
//
// Recognised variables:
//
//	RAG_CHUNK_SIZE            chunk size in characters (default 1000)
//	RAG_CHUNK_OVERLAP         chunk overlap in characters (default 200)
//	RAG_SIMILARITY_THRESHOLD  minimum combined score (default 0.3)
//	RAG_SEARCH_LIMIT          notes per search (default 10)
//	RAG_FOLLOWUP_LIMIT        notes per follow-up search (default 3)
//	RAG_MAX_CONTEXT_TOKENS    context budget in tokens (default 6000)
//	RAG_AGENTIC               enable the refinement loop (default true)
//	RAG_REINDEX_DELAY         quiet period before reindexing (default 2s)
//	RAG_EMBED_CONCURRENCY     parallel embedding calls per note (default 4)
//	EMBEDDING_DIMENSIONS      expected vector length (default: adopt first seen)
func ConfigFromEnv() Config {
	return Config{
		ChunkSize:        getEnvInt("RAG_CHUNK_SIZE", chunker.DefaultSize),
		ChunkOverlap:     getEnvInt("RAG_CHUNK_OVERLAP", chunker.DefaultOverlap),
		Dimensions:       getEnvInt("EMBEDDING_DIMENSIONS", 0),
		EmbedConcurrency: getEnvInt("RAG_EMBED_CONCURRENCY", DefaultEmbedConcurrency),
		Threshold:        getEnvFloat("RAG_SIMILARITY_THRESHOLD", DefaultThreshold),
		SearchLimit:      getEnvInt("RAG_SEARCH_LIMIT", DefaultSearchLimit),
		FollowUpLimit:    getEnvInt("RAG_FOLLOWUP_LIMIT", DefaultFollowUpLimit),
		MaxContextTokens: getEnvInt("RAG_MAX_CONTEXT_TOKENS", budget.DefaultMaxContextTokens),
		Agentic:          getEnvBool("RAG_AGENTIC", true),
		ReindexDelay:     getEnvDuration("RAG_REINDEX_DELAY", DefaultReindexDelay),
	}
}

// withDefaults fills zero tunables in cfg from d. Agentic is taken as given.
func withDefaults(cfg, d *Config) {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = d.ChunkSize
	}
	if cfg.ChunkOverlap <= 0 {
		cfg.ChunkOverlap = d.ChunkOverlap
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = d.Dimensions
	}
	if cfg.EmbedConcurrency <= 0 {
		cfg.EmbedConcurrency = d.EmbedConcurrency
	}
	if cfg.Threshold == 0 {
		cfg.Threshold = d.Threshold
	}
	if cfg.SearchLimit <= 0 {
		cfg.SearchLimit = d.SearchLimit
	}
	if cfg.FollowUpLimit <= 0 {
		cfg.FollowUpLimit = d.FollowUpLimit
	}
	if cfg.MaxContextTokens <= 0 {
		cfg.MaxContextTokens = d.MaxContextTokens
	}
	if cfg.ReindexDelay <= 0 {
		cfg.ReindexDelay = d.ReindexDelay
	}
}

func getEnvInt(key string, fallback int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
