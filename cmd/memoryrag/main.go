// cmd/memoryrag is the command-line entry point for the MemoryRAG engine.
// The core is an in-process library; this binary wires the configured
// storage backend, embedding provider, and engines together and exposes
// maintenance operations:
//
//	memoryrag stats              print store statistics
//	memoryrag store              store a memory read from stdin
//	memoryrag search <query>     filtered search over stored memories
//	memoryrag query <query>      RAG query across memories and documents
//	memoryrag compress <file>    run the compression pipeline on a file
//	memoryrag export <file>      write a gzip JSON snapshot
//	memoryrag import <file>      load a gzip JSON snapshot
//
// All logging goes to stderr; command output goes to stdout.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/scrypster/memoryrag/internal/compression"
	"github.com/scrypster/memoryrag/internal/config"
	"github.com/scrypster/memoryrag/internal/engine"
	"github.com/scrypster/memoryrag/internal/llm"
	"github.com/scrypster/memoryrag/internal/rag"
	"github.com/scrypster/memoryrag/internal/storage"
	"github.com/scrypster/memoryrag/internal/storage/postgres"
	"github.com/scrypster/memoryrag/internal/storage/sqlite"
	"github.com/scrypster/memoryrag/pkg/types"
)

func main() {
	log.SetOutput(os.Stderr)
	log.SetPrefix("memoryrag: ")
	log.SetFlags(log.LstdFlags)

	configPath := flag.String("config", os.Getenv("MEMORYRAG_CONFIG"), "path to YAML config file")
	kind := flag.String("kind", "semantic", "memory kind for the store command")
	contentType := flag.String("type", "conversation", "content type for the compress command")
	tags := flag.String("tags", "", "comma-separated tags for the store command")
	topK := flag.Int("k", 0, "result count for search and query commands")
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := buildApp(cfg)
	if err != nil {
		log.Fatalf("startup failed: %v", err)
	}
	defer app.close()

	if err := run(ctx, app, cfg, flag.Args(), *kind, *contentType, *tags, *topK); err != nil {
		log.Fatalf("%s: %v", flag.Arg(0), err)
	}
}

// app bundles the wired subsystems.
type app struct {
	store    storage.MemoryStore
	engine   *engine.MemoryEngine
	pipeline *compression.Pipeline
	queries  *rag.QueryEngine
}

func (a *app) close() {
	a.engine.Close()
	if err := a.store.Close(); err != nil {
		log.Printf("failed to close store: %v", err)
	}
}

// buildApp wires storage, embedding, and the three engines from config.
func buildApp(cfg *config.Config) (*app, error) {
	var store storage.MemoryStore
	var semantic storage.SemanticSearcher

	switch cfg.Storage.Engine {
	case "postgres":
		pg, err := postgres.NewMemoryStore(cfg.Storage.PostgresDSN, cfg.LLM.EmbeddingDimension)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres store: %w", err)
		}
		store, semantic = pg, pg
	default:
		if err := os.MkdirAll(cfg.Storage.DataPath, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create data directory %q: %w", cfg.Storage.DataPath, err)
		}
		sq, err := sqlite.NewMemoryStore(filepath.Join(cfg.Storage.DataPath, "memoryrag.db"))
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		store, semantic = sq, sq
	}

	var embedder llm.EmbeddingGenerator
	switch cfg.LLM.Provider {
	case "local":
		embedder = llm.NewLocalEmbedder(cfg.LLM.EmbeddingDimension)
	default:
		embedder = llm.NewOllamaClient(llm.OllamaConfig{
			BaseURL:           cfg.LLM.OllamaURL,
			Model:             cfg.LLM.EmbeddingModel,
			Timeout:           cfg.LLM.Timeout,
			RequestsPerSecond: cfg.LLM.RequestsPerSecond,
		})
	}

	eng, err := engine.NewMemoryEngine(store, semantic, embedder, engine.Options{
		MaxMemories:    cfg.Engine.MaxMemories,
		EvictionMargin: cfg.Engine.EvictionMargin,
		WorkingSetSize: cfg.Engine.WorkingSetSize,
	}, log.Default())
	if err != nil {
		return nil, err
	}

	queries := rag.NewQueryEngine(eng, rag.NewDocumentIndex(embedder), cfg.RAG.TopK, log.Default())

	return &app{
		store:    store,
		engine:   eng,
		pipeline: compression.NewPipeline(cfg.Compression.TargetRatio, log.Default()),
		queries:  queries,
	}, nil
}

func run(ctx context.Context, a *app, cfg *config.Config, args []string, kind, contentType, tags string, topK int) error {
	command := args[0]
	out := json.NewEncoder(os.Stdout)
	out.SetIndent("", "  ")

	switch command {
	case "stats":
		stats, err := a.engine.Stats(ctx)
		if err != nil {
			return err
		}
		return out.Encode(stats)

	case "store":
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return err
		}
		content := string(data)
		memory, err := a.engine.Store(ctx, types.MemoryKind(kind), content, nil, splitTags(tags))
		if err != nil {
			return err
		}
		return out.Encode(memory)

	case "search":
		if len(args) < 2 {
			return fmt.Errorf("usage: memoryrag search <query>")
		}
		results, err := a.engine.Search(ctx, storage.SearchFilters{
			Query: strings.Join(args[1:], " "),
			Limit: topK,
		})
		if err != nil {
			return err
		}
		return out.Encode(results)

	case "query":
		if len(args) < 2 {
			return fmt.Errorf("usage: memoryrag query <query>")
		}
		results, err := a.queries.Query(ctx, strings.Join(args[1:], " "), rag.QueryContext{
			TechStack:   cfg.RAG.TechStack,
			ProjectType: cfg.RAG.ProjectType,
			UserRole:    cfg.RAG.UserRole,
		}, topK)
		if err != nil {
			return err
		}
		return out.Encode(results)

	case "compress":
		if len(args) < 2 {
			return fmt.Errorf("usage: memoryrag compress <file>")
		}
		data, err := os.ReadFile(args[1])
		if err != nil {
			return err
		}
		result, err := a.pipeline.Compress(ctx, string(data), types.ContentType(contentType))
		if err != nil {
			return err
		}
		return out.Encode(result)

	case "export":
		if len(args) < 2 {
			return fmt.Errorf("usage: memoryrag export <file>")
		}
		f, err := os.Create(args[1])
		if err != nil {
			return err
		}
		if err := a.engine.Export(ctx, f); err != nil {
			_ = f.Close()
			return err
		}
		return f.Close()

	case "import":
		if len(args) < 2 {
			return fmt.Errorf("usage: memoryrag import <file>")
		}
		f, err := os.Open(args[1])
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()
		imported, err := a.engine.Import(ctx, f)
		if err != nil {
			return err
		}
		log.Printf("imported %d memories", imported)
		return nil

	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

func splitTags(tags string) []string {
	if tags == "" {
		return nil
	}
	parts := strings.Split(tags, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
