// Package tracing wires optional Langfuse tracing into eino's global
// callback chain so every chat model call made while refining context or
// answering a question is recorded.
package tracing

import (
	"os"

	"github.com/cloudwego/eino-ext/callbacks/langfuse"
	"github.com/cloudwego/eino/callbacks"

	"github.com/54b3r/noteai-go/internal/version"
)

// defaultHost is the Langfuse endpoint used when LANGFUSE_HOST is unset.
const defaultHost = "http://localhost:3000"

// ConfigFromEnv builds the Langfuse configuration from LANGFUSE_HOST,
// LANGFUSE_PUBLIC_KEY and LANGFUSE_SECRET_KEY. It reports false when either
// key is missing.
func ConfigFromEnv() (*langfuse.Config, bool) {
	publicKey := os.Getenv("LANGFUSE_PUBLIC_KEY")
	secretKey := os.Getenv("LANGFUSE_SECRET_KEY")
	if publicKey == "" || secretKey == "" {
		return nil, false
	}
	host := os.Getenv("LANGFUSE_HOST")
	if host == "" {
		host = defaultHost
	}
	return &langfuse.Config{
		Host:      host,
		PublicKey: publicKey,
		SecretKey: secretKey,
		Name:      "noteai",
		Release:   version.Version,
	}, true
}

// Setup initialises the Langfuse callback handler if LANGFUSE_PUBLIC_KEY and
// LANGFUSE_SECRET_KEY are set. Returns a flush function that must be called
// before process exit to ensure all traces are sent. If Langfuse is not
// configured, both return values are nil and tracing is silently disabled.
func Setup() (callbacks.Handler, func(), bool) {
	cfg, ok := ConfigFromEnv()
	if !ok {
		return nil, nil, false
	}
	handler, flusher := langfuse.NewLangfuseHandler(cfg)
	return handler, flusher, true
}
