package embedder

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/54b3r/noteai-go/internal/rag"
)

// GeminiEmbedder implements rag.Embedder using the Gemini EmbedContent API.
type GeminiEmbedder struct {
	// client is the genai client bound to the Gemini API backend.
	client *genai.Client
	// model is the embedding model name (e.g. "text-embedding-004").
	model string
	// dimensions is the requested output length (0 = model default).
	dimensions int
}

// GeminiConfig holds the settings for constructing a GeminiEmbedder.
type GeminiConfig struct {
	// APIKey is the Google AI Studio key.
	APIKey string
	// Model is the embedding model name.
	Model string
	// Dimensions is the requested output length (0 = model default).
	Dimensions int
}

// NewGeminiEmbedder constructs a GeminiEmbedder.
func NewGeminiEmbedder(ctx context.Context, cfg *GeminiConfig) (*GeminiEmbedder, error) {
	const op = "gemini embed"
	if cfg.APIKey == "" {
		return nil, rag.Errorf(rag.KindConfiguration, op, "API key is not set")
	}
	if cfg.Model == "" {
		return nil, rag.Errorf(rag.KindConfiguration, op, "model is not set")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, rag.NewError(rag.KindConfiguration, op, err)
	}
	return &GeminiEmbedder{client: client, model: cfg.Model, dimensions: cfg.Dimensions}, nil
}

// Embed converts one text into its embedding vector.
func (e *GeminiEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	const op = "gemini embed"

	var cfg *genai.EmbedContentConfig
	if e.dimensions > 0 {
		dim := int32(e.dimensions)
		cfg = &genai.EmbedContentConfig{OutputDimensionality: &dim}
	}
	resp, err := e.client.Models.EmbedContent(ctx, e.model, genai.Text(text), cfg)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if resp == nil || len(resp.Embeddings) != 1 || len(resp.Embeddings[0].Values) == 0 {
		return nil, rag.Errorf(rag.KindProviderResponse, op, "expected 1 non-empty embedding")
	}
	return resp.Embeddings[0].Values, nil
}
