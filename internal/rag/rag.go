// Package rag retrieves knowledge base context from a Qdrant collection.
package rag

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"

	"github.com/hubenschmidt/twilio-realtime-relay/internal/metrics"
)

// ContextHeader starts every retrieved context block.
const ContextHeader = "CONTEXT\n"

type Config struct {
	Embedder       *Embedder
	Qdrant         *QdrantClient
	Collection     string
	TopK           int
	ScoreThreshold float64
}

// Retriever embeds a query and returns the matching knowledge base text.
type Retriever struct {
	cfg Config
}

func NewRetriever(cfg Config) *Retriever {
	if cfg.TopK <= 0 {
		cfg.TopK = 3
	}
	return &Retriever{cfg: cfg}
}

// Retrieve returns a context block for query, or "" when nothing relevant
// is stored.
func (r *Retriever) Retrieve(ctx context.Context, query string) (string, error) {
	start := time.Now()
	defer func() { metrics.RAGDuration.Observe(time.Since(start).Seconds()) }()

	vectors, err := r.cfg.Embedder.Embed(ctx, []string{query})
	if err != nil {
		return "", goerr.Wrap(err, "embed query")
	}
	hits, err := r.cfg.Qdrant.Search(ctx, r.cfg.Collection, vectors[0], r.cfg.TopK, r.cfg.ScoreThreshold)
	if err != nil {
		return "", goerr.Wrap(err, "search knowledge base")
	}
	if len(hits) == 0 {
		return "", nil
	}
	return formatHits(hits), nil
}

func formatHits(hits []Hit) string {
	parts := make([]string, 0, len(hits))
	for _, h := range hits {
		text, ok := h.Payload["text"].(string)
		if !ok {
			text = fmt.Sprint(h.Payload["text"])
		}
		parts = append(parts, text)
	}
	return ContextHeader + strings.Join(parts, "\n---\n")
}

// Index embeds each chunk and upserts it with its source file name.
func (r *Retriever) Index(ctx context.Context, source string, chunks []string) error {
	if len(chunks) == 0 {
		return nil
	}
	vectors, err := r.cfg.Embedder.Embed(ctx, chunks)
	if err != nil {
		return goerr.Wrap(err, "embed chunks", goerr.V("source", source))
	}
	points := make([]Point, len(chunks))
	for i, chunk := range chunks {
		points[i] = Point{
			ID:     uuid.NewString(),
			Vector: vectors[i],
			Payload: map[string]any{
				"text":   chunk,
				"source": filepath.Base(source),
			},
		}
	}
	return r.cfg.Qdrant.Upsert(ctx, r.cfg.Collection, points)
}

// Chunk splits text at paragraph breaks into pieces of at most maxChars,
// unless a single paragraph is longer.
func Chunk(text string, maxChars int) []string {
	var chunks []string
	var current strings.Builder

	for _, p := range strings.Split(text, "\n\n") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if current.Len() > 0 && current.Len()+len(p) > maxChars {
			chunks = append(chunks, current.String())
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(p)
	}
	if current.Len() > 0 {
		chunks = append(chunks, current.String())
	}
	return chunks
}
