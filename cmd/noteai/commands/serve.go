package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudwego/eino/callbacks"
	"github.com/spf13/cobra"

	"github.com/54b3r/noteai-go/internal/logging"
	"github.com/54b3r/noteai-go/internal/server"
	"github.com/54b3r/noteai-go/internal/tracing"
)

// NewServeCmd constructs the `noteai serve` command, which indexes the notes
// directory in the background and starts the HTTP API.
func NewServeCmd() *cobra.Command {
	var host string
	var port int
	var noChat bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the noteai HTTP server",
		Long: `Start the noteai HTTP server on localhost.

The server exposes search, context assembly, streaming chat and index
management over a REST/SSE API. Initial indexing runs in the background;
GET /api/ready reports 503 until it completes.

Examples:
  noteai serve --dir ~/notes
  noteai serve --port 9090
  MODEL_PROVIDER=openai noteai serve --dir ~/notes`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			log.Info("serve starting", slog.String("provider", os.Getenv("MODEL_PROVIDER")))

			// Setup Langfuse tracing, opt-in and a no-op if keys are absent.
			handler, flush, ok := tracing.Setup()
			if ok {
				callbacks.AppendGlobalHandlers(handler)
				defer flush()
				log.Info("langfuse tracing enabled")
			} else {
				log.Info("langfuse tracing disabled", slog.String("reason", "LANGFUSE_PUBLIC_KEY not set"))
			}

			rt, err := buildRuntime(ctx, log, runtimeOptions{withChat: !noChat, withHistory: !noChat})
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer func() {
				closeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				if err := rt.Close(closeCtx); err != nil {
					log.Error("serve: shutdown", slog.Any("error", err))
				}
			}()

			go func() {
				if err := initialise(ctx, log, rt.engine); err != nil {
					log.Error("serve: initial indexing failed", slog.Any("error", err))
				}
			}()

			if host == "" {
				host = getEnvOrDefault("NOTEAI_HOST", "127.0.0.1")
			}
			if port == 0 {
				port = getEnvInt("NOTEAI_PORT", 8080)
			}

			srv, err := server.New(rt.engine, &server.Config{
				Host:    host,
				Port:    port,
				Logger:  log,
				Pingers: rt.pingers(),
				APIKey:  os.Getenv("NOTEAI_API_KEY"),
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "Host address to bind to (default: $NOTEAI_HOST or 127.0.0.1)")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "TCP port to listen on (default: $NOTEAI_PORT or 8080)")
	cmd.Flags().BoolVar(&noChat, "no-chat", false, "Serve search only, without a chat model")

	return cmd
}
