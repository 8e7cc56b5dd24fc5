//go:build integration

package embedder

import (
	"context"
	"os"
	"testing"
	"time"
)

// TestOllamaEmbedder_Integration performs a real HTTP call to a locally running
// Ollama instance to validate the embedder end-to-end.
//
// Prerequisites:
//
//	ollama pull nomic-embed-text
//	ollama serve   (or it must already be running)
//
// Run with:
//
//	go test -tags=integration -run TestOllamaEmbedder_Integration ./internal/embedder/
//
// In CI, set OLLAMA_HOST if Ollama is not on localhost:11434.
func TestOllamaEmbedder_Integration(t *testing.T) {
	host := os.Getenv("OLLAMA_HOST")
	if host == "" {
		host = "http://localhost:11434"
	}
	model := os.Getenv("EMBEDDING_MODEL")
	if model == "" {
		model = "nomic-embed-text"
	}

	emb := NewOllamaEmbedder(&OllamaConfig{Host: host, Model: model})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	first, err := emb.Embed(ctx, "Weekly review: ship the sync pipeline and fix the flaky reindex test.")
	if err != nil {
		t.Fatalf("Embed() failed: %v\n\nEnsure Ollama is running and %q is pulled:\n  ollama pull %s", err, model, model)
	}
	second, err := emb.Embed(ctx, "Sourdough starter: feed twice a day, keep at room temperature.")
	if err != nil {
		t.Fatalf("Embed() failed: %v", err)
	}

	if len(first) == 0 || len(first) != len(second) {
		t.Fatalf("dimensions differ or empty: %d vs %d", len(first), len(second))
	}

	identical := true
	for j := range first {
		if first[j] != second[j] {
			identical = false
			break
		}
	}
	if identical {
		t.Error("two unrelated notes produced identical vectors — model may not be working correctly")
	}

	t.Logf("model=%s dim=%d (set EMBEDDING_DIMENSIONS=%d to pin it)", model, len(first), len(first))
}
