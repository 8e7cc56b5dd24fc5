// Package embedder provides implementations of the rag.Embedder interface for
// converting text into dense vector embeddings. Ollama is reached over plain
// HTTP, OpenAI and Azure OpenAI through the go-openai SDK, and Gemini through
// the genai SDK the chat provider already uses.
package embedder

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	openai "github.com/sashabaranov/go-openai"

	"github.com/54b3r/noteai-go/internal/rag"
)

// OpenAIEmbedder implements rag.Embedder using the OpenAI (or Azure OpenAI)
// embeddings API. It is safe for concurrent use.
type OpenAIEmbedder struct {
	// client is the go-openai client configured for OpenAI or Azure.
	client *openai.Client
	// model is the embedding model name, or the deployment name on Azure.
	model string
	// dimensions is the desired embedding vector length (0 = model default).
	dimensions int
	// op labels errors with the backend in use.
	op string
}

// OpenAIConfig holds the settings for constructing an OpenAIEmbedder.
type OpenAIConfig struct {
	// BaseURL is the API base URL. For OpenAI: "https://api.openai.com/v1".
	// For Azure: "https://<resource>.openai.azure.com".
	BaseURL string
	// APIKey is the authentication key.
	APIKey string
	// Model is the embedding model name (e.g. "text-embedding-3-small").
	Model string
	// Dimensions is the desired vector length (0 = model default).
	Dimensions int
	// Azure enables Azure OpenAI mode (api-key header + api-version param).
	Azure bool
	// APIVersion is the Azure OpenAI API version (e.g. "2025-04-01-preview").
	// Ignored when Azure is false.
	APIVersion string
	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client
}

// NewOpenAIEmbedder constructs an OpenAIEmbedder from the given config. It
// returns rag.ErrConfiguration when the key or (for Azure) endpoint is missing.
func NewOpenAIEmbedder(cfg *OpenAIConfig) (*OpenAIEmbedder, error) {
	op := "openai embed"
	if cfg.Azure {
		op = "azure embed"
	}
	if cfg.APIKey == "" {
		return nil, rag.Errorf(rag.KindConfiguration, op, "API key is not set")
	}
	if cfg.Model == "" {
		return nil, rag.Errorf(rag.KindConfiguration, op, "model is not set")
	}

	var clientCfg openai.ClientConfig
	if cfg.Azure {
		if cfg.BaseURL == "" {
			return nil, rag.Errorf(rag.KindConfiguration, op, "endpoint is not set")
		}
		clientCfg = openai.DefaultAzureConfig(cfg.APIKey, cfg.BaseURL)
		if cfg.APIVersion != "" {
			clientCfg.APIVersion = cfg.APIVersion
		}
		// Deployment names like "text-embedding-3.small" must pass through untouched.
		clientCfg.AzureModelMapperFunc = func(model string) string { return model }
	} else {
		clientCfg = openai.DefaultConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			clientCfg.BaseURL = cfg.BaseURL
		}
	}
	if cfg.HTTPClient != nil {
		clientCfg.HTTPClient = cfg.HTTPClient
	}

	return &OpenAIEmbedder{
		client:     openai.NewClientWithConfig(clientCfg),
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		op:         op,
	}, nil
}

// Embed converts one text into its embedding vector.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model:      openai.EmbeddingModel(e.model),
		Input:      []string{text},
		Dimensions: e.dimensions,
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			switch apiErr.HTTPStatusCode {
			case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
				return nil, rag.NewError(rag.KindConfiguration, e.op, err)
			}
		}
		return nil, fmt.Errorf("%s: %w", e.op, err)
	}

	if len(resp.Data) != 1 || len(resp.Data[0].Embedding) == 0 {
		return nil, rag.Errorf(rag.KindProviderResponse, e.op, "expected 1 non-empty embedding, got %d", len(resp.Data))
	}

	src := resp.Data[0].Embedding
	vec := make([]float32, len(src))
	for i := range src {
		vec[i] = float32(src[i])
	}
	return vec, nil
}
