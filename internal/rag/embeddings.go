package rag

import (
	"context"
	"net/http"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/sashabaranov/go-openai"

	"github.com/hubenschmidt/twilio-realtime-relay/internal/metrics"
)

// DefaultEmbeddingModel matches the model the knowledge base is seeded with.
const DefaultEmbeddingModel = "text-embedding-3-large"

// Embedder generates vector embeddings through an OpenAI-compatible
// /embeddings endpoint.
type Embedder struct {
	client *openai.Client
	model  openai.EmbeddingModel
}

// NewEmbedder creates an embedder. An empty baseURL uses the OpenAI API.
func NewEmbedder(apiKey, baseURL, model string, httpClient *http.Client) *Embedder {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if httpClient != nil {
		cfg.HTTPClient = httpClient
	}
	if model == "" {
		model = DefaultEmbeddingModel
	}
	return &Embedder{client: openai.NewClientWithConfig(cfg), model: openai.EmbeddingModel(model)}
}

// Embed returns one vector per input, in input order.
func (e *Embedder) Embed(ctx context.Context, input []string) ([][]float32, error) {
	start := time.Now()
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: input,
		Model: e.model,
	})
	if err != nil {
		metrics.Errors.WithLabelValues("embed", "http").Inc()
		return nil, goerr.Wrap(err, "create embeddings", goerr.V("model", e.model))
	}
	if len(resp.Data) != len(input) {
		return nil, goerr.New("embedding count mismatch", goerr.V("want", len(input)), goerr.V("got", len(resp.Data)))
	}

	vectors := make([][]float32, len(input))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, goerr.New("embedding index out of range", goerr.V("index", d.Index))
		}
		vectors[d.Index] = d.Embedding
	}
	metrics.StageDuration.WithLabelValues("embed").Observe(time.Since(start).Seconds())
	return vectors, nil
}
