package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"

	"github.com/hubenschmidt/twilio-realtime-relay/internal/env"
	"github.com/hubenschmidt/twilio-realtime-relay/internal/rag"
)

func main() {
	_ = godotenv.Load()

	dir := flag.String("dir", "", "directory containing .txt files to seed")
	apiKey := flag.String("api-key", env.Str("OPENAI_API_KEY", ""), "embedding API key")
	baseURL := flag.String("embedding-url", env.Str("EMBEDDING_BASE_URL", ""), "OpenAI-compatible embedding base URL")
	model := flag.String("model", env.Str("EMBEDDING_MODEL", rag.DefaultEmbeddingModel), "embedding model")
	qdrantURL := flag.String("qdrant-url", env.Str("QDRANT_URL", "http://localhost:6333"), "Qdrant URL")
	collection := flag.String("collection", env.Str("QDRANT_COLLECTION", "knowledge_base"), "Qdrant collection name")
	vectorSize := flag.Int("vector-size", env.Int("VECTOR_SIZE", 3072), "embedding vector dimension")
	chunkSize := flag.Int("chunk-size", 500, "max characters per chunk")
	force := flag.Bool("force", false, "seed even if the collection already has points")
	flag.Parse()

	if *dir == "" {
		fmt.Fprintln(os.Stderr, "usage: seed --dir ./samples/knowledge/")
		os.Exit(1)
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	qdrant := rag.NewQdrantClient(*qdrantURL, nil)
	retriever := rag.NewRetriever(rag.Config{
		Embedder:   rag.NewEmbedder(*apiKey, *baseURL, *model, nil),
		Qdrant:     qdrant,
		Collection: *collection,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if err := qdrant.EnsureCollection(ctx, *collection, *vectorSize); err != nil {
		slog.Error("ensure collection", "error", err)
		os.Exit(1)
	}

	count, err := qdrant.PointCount(ctx, *collection)
	if err == nil && count > 0 && !*force {
		slog.Info("collection already seeded, skipping", "collection", *collection, "points", count)
		return
	}

	files, err := filepath.Glob(filepath.Join(*dir, "*.txt"))
	if err != nil {
		slog.Error("glob files", "error", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "no .txt files found in", *dir)
		os.Exit(1)
	}

	var total int
	for _, f := range files {
		data, readErr := os.ReadFile(f)
		if readErr != nil {
			slog.Error("read file", "file", f, "error", readErr)
			continue
		}
		chunks := rag.Chunk(string(data), *chunkSize)
		if seedErr := retriever.Index(ctx, f, chunks); seedErr != nil {
			slog.Error("seed file", "file", f, "error", seedErr)
			continue
		}
		total += len(chunks)
		slog.Info("seeded", "file", f, "chunks", len(chunks))
	}

	slog.Info("done", "total_chunks", total, "files", len(files))
}
