package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/qdrant/go-client/qdrant"

	"github.com/54b3r/noteai-go/internal/rag"
)

// LLMPinger checks a chat backend for readiness. When an HTTP health URL is
// configured (Ollama's /api/tags) it is used exclusively; otherwise a
// single-token Generate call is sent.
type LLMPinger struct {
	// model is the chat model to ping when no health URL is set.
	model model.BaseChatModel
	// healthURL is a zero-cost GET endpoint. Empty means use Generate.
	healthURL string
	// client issues health URL requests.
	client *http.Client
	// name identifies the backend in readiness responses (e.g. "ollama").
	name string
}

// NewLLMPinger constructs an LLMPinger that pings m with a Generate call.
func NewLLMPinger(m model.BaseChatModel, name string) *LLMPinger {
	return &LLMPinger{model: m, name: name}
}

// NewOllamaPinger constructs an LLMPinger that lists the tags of the Ollama
// instance at host instead of generating tokens.
func NewOllamaPinger(host string) *LLMPinger {
	return &LLMPinger{
		healthURL: strings.TrimRight(host, "/") + "/api/tags",
		client:    http.DefaultClient,
		name:      "ollama",
	}
}

// Name returns the backend label used in readiness responses.
func (p *LLMPinger) Name() string { return p.name }

// Ping checks the LLM backend for readiness.
func (p *LLMPinger) Ping(ctx context.Context) error {
	if p.healthURL != "" {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.healthURL, nil)
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		resp, err := p.client.Do(req)
		if err != nil {
			return fmt.Errorf("%s health check failed: %w", p.name, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("%s health check returned HTTP %d", p.name, resp.StatusCode)
		}
		return nil
	}

	slog.Debug("pinger: Generate-based health check, tokens will be consumed",
		slog.String("backend", p.name),
	)
	resp, err := p.model.Generate(ctx, []*schema.Message{schema.UserMessage("ping")})
	if err != nil {
		return fmt.Errorf("generate failed: %w", err)
	}
	if resp == nil {
		return errors.New("generate returned nil response")
	}
	return nil
}

// EmbedderPinger checks the embedding backend by embedding a short text.
type EmbedderPinger struct {
	// embedder is the backend to ping.
	embedder rag.Embedder
	// name identifies the backend in readiness responses.
	name string
}

// NewEmbedderPinger constructs an EmbedderPinger labelled "embeddings:<backend>".
func NewEmbedderPinger(e rag.Embedder, backend string) *EmbedderPinger {
	return &EmbedderPinger{embedder: e, name: "embeddings:" + backend}
}

// Name returns the backend label used in readiness responses.
func (p *EmbedderPinger) Name() string { return p.name }

// Ping embeds "ping" and requires a non-empty vector back.
func (p *EmbedderPinger) Ping(ctx context.Context) error {
	vec, err := p.embedder.Embed(ctx, "ping")
	if err != nil {
		return fmt.Errorf("embed failed: %w", err)
	}
	if len(vec) == 0 {
		return errors.New("embed returned an empty vector")
	}
	return nil
}

// indexPinger reports whether the engine has finished its initial sync.
type indexPinger struct {
	// engine is queried for readiness.
	engine interface{ Ready() bool }
}

// NewIndexPinger constructs a Pinger that fails until initial indexing is done.
func NewIndexPinger(e interface{ Ready() bool }) Pinger {
	return &indexPinger{engine: e}
}

// Name returns the dependency label used in readiness responses.
func (p *indexPinger) Name() string { return "index" }

// Ping returns an error while the index is still being built.
func (p *indexPinger) Ping(context.Context) error {
	if !p.engine.Ready() {
		return errors.New("initial indexing in progress")
	}
	return nil
}

// QdrantPinger checks a Qdrant instance using its native HealthCheck RPC.
// It satisfies the Pinger interface and is used by GET /api/ready.
type QdrantPinger struct {
	// client is the Qdrant gRPC client to ping.
	client *qdrant.Client
}

// NewQdrantPinger constructs a QdrantPinger for the given Qdrant client.
func NewQdrantPinger(client *qdrant.Client) *QdrantPinger {
	return &QdrantPinger{client: client}
}

// Name returns the dependency label used in readiness responses.
func (p *QdrantPinger) Name() string { return "qdrant" }

// Ping calls the Qdrant HealthCheck RPC.
// Returns nil if Qdrant is reachable, or a descriptive error otherwise.
func (p *QdrantPinger) Ping(ctx context.Context) error {
	_, err := p.client.HealthCheck(ctx)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}
