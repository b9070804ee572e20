// Reviewd is the code review assistant daemon.
//
// It serves an HTTP API that accepts diffs, retrieves related code from an
// embedding index, fans the review out to configured LLM providers and
// returns a merged, normalized review.
//
// Usage:
//
//	# Start with the default config (~/.config/reviewd/config.yaml)
//	reviewd
//
//	# Start with an explicit config file
//	reviewd -config /etc/reviewd/config.yaml
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/konradekk14/llm-code-review-assistant/internal/config"
	"github.com/konradekk14/llm-code-review-assistant/internal/coordinator"
	"github.com/konradekk14/llm-code-review-assistant/internal/embeddings"
	"github.com/konradekk14/llm-code-review-assistant/internal/ghpost"
	"github.com/konradekk14/llm-code-review-assistant/internal/httpapi"
	"github.com/konradekk14/llm-code-review-assistant/internal/index"
	"github.com/konradekk14/llm-code-review-assistant/internal/logging"
	"github.com/konradekk14/llm-code-review-assistant/internal/provider"
	"github.com/konradekk14/llm-code-review-assistant/internal/retrieval"
	"github.com/konradekk14/llm-code-review-assistant/internal/reviewer"
	"github.com/konradekk14/llm-code-review-assistant/internal/vectorstore"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("reviewd %s (%s)\n", version, gitCommit)
		os.Exit(0)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("server error: %v", err)
	}

	log.Println("server shutdown complete")
}

// run wires the full pipeline and blocks until the context is cancelled.
func run(ctx context.Context, configPath string) error {
	if err := config.EnsureConfigDir(); err != nil {
		return err
	}

	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer logger.Sync()

	// Embedding index. Retrieval is optional at runtime: a broken store
	// degrades reviews to run without context, but a broken config is
	// still a startup error.
	store, err := vectorstore.NewStore(cfg.VectorStore, logger)
	if err != nil {
		return fmt.Errorf("initializing vector store: %w", err)
	}
	defer store.Close()

	embedder, err := embeddings.NewService(cfg.Embeddings)
	if err != nil {
		return fmt.Errorf("initializing embeddings: %w", err)
	}

	indexer := index.New(store, embedder, logger)

	retriever, err := retrieval.New(store, embedder, cfg.Retrieval, logger)
	if err != nil {
		return fmt.Errorf("initializing retrieval: %w", err)
	}

	// Providers and dispatch.
	registry := provider.NewRegistry(logger)
	for _, pc := range cfg.Providers {
		p, err := provider.New(pc, logger)
		if err != nil {
			return fmt.Errorf("initializing provider %q: %w", pc.Name, err)
		}
		if err := registry.Register(p, pc.Role); err != nil {
			return err
		}
	}
	registry.CheckAll(ctx)

	coord, err := coordinator.New(registry, cfg.Coordinator, logger)
	if err != nil {
		return fmt.Errorf("initializing coordinator: %w", err)
	}

	svc, err := reviewer.New(retriever, coord, logger)
	if err != nil {
		return fmt.Errorf("initializing reviewer: %w", err)
	}

	server, err := httpapi.NewServer(svc, indexer, registry, logger, &httpapi.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	})
	if err != nil {
		return fmt.Errorf("initializing http server: %w", err)
	}

	if cfg.GitHub.AutoPost {
		poster, err := ghpost.New(ctx, cfg.GitHub.Token, cfg.GitHub.BaseURL, logger)
		if err != nil {
			return fmt.Errorf("initializing github poster: %w", err)
		}
		server.WithPoster(poster)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	logger.Info("reviewd started",
		zap.String("version", version),
		zap.Int("providers", len(cfg.Providers)),
		zap.String("dispatch_mode", cfg.Coordinator.Mode),
	)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
